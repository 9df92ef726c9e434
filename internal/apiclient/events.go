// ABOUTME: SSE event streaming from GET /events with reconnection and resumption.
// ABOUTME: A per-connection watchdog detects silent streams; a reorder buffer restores ID order.

package apiclient

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/2389/agentapi-bridge/internal/config"
)

// StreamEvent is one delivery on an event stream channel: either an event
// or an error, never both.
type StreamEvent struct {
	Event *Event
	Err   error
}

// StreamTerminalError reports that the stream exhausted its reconnect
// budget. It is the final delivery before the channel closes.
type StreamTerminalError struct {
	Attempts int
	LastErr  error
}

func (e *StreamTerminalError) Error() string {
	return fmt.Sprintf("event stream gave up after %d reconnect attempts: %v", e.Attempts, e.LastErr)
}

func (e *StreamTerminalError) Unwrap() error { return e.LastErr }

// Events opens a server-sent event stream against GET /events and returns
// a channel of deliveries. The stream reconnects on failure, resuming from
// the last observed event ID, until the consecutive-failure budget is
// exhausted or ctx is cancelled. The channel is always closed when the
// stream ends; cancellation closes it without an error delivery.
func (c *Client) Events(ctx context.Context, cfg config.StreamConfig) <-chan StreamEvent {
	ch := make(chan StreamEvent)
	go c.streamLoop(ctx, cfg, ch, "/events", true)
	return ch
}

// ScreenEvents streams terminal screen updates from GET /internal/screen.
// Screen frames carry no event IDs, so reconnection starts fresh instead
// of resuming.
func (c *Client) ScreenEvents(ctx context.Context, cfg config.StreamConfig) <-chan StreamEvent {
	ch := make(chan StreamEvent)
	go c.streamLoop(ctx, cfg, ch, "/internal/screen", false)
	return ch
}

func (c *Client) streamLoop(ctx context.Context, cfg config.StreamConfig, ch chan<- StreamEvent, endpoint string, resume bool) {
	defer close(ch)

	var lastID int64 = -1
	failures := 0
	buf := newReorderBuffer(cfg.BufferWindow)

	for {
		received, err := c.streamOnce(ctx, endpoint, lastID, cfg.Watchdog, func(ev *Event) bool {
			// Resume from the highest ID observed, not the latest
			// arrival: out-of-order delivery must not rewind the
			// cursor or the server would replay already-seen events.
			if resume && ev.ID > lastID {
				lastID = ev.ID
			}
			for _, ready := range buf.add(ev) {
				select {
				case ch <- StreamEvent{Event: ready}:
				case <-ctx.Done():
					return false
				}
			}
			return true
		})

		if ctx.Err() != nil {
			return
		}

		// A gap held when the connection dropped will never be filled:
		// resumption continues past the highest observed ID. Deliver
		// what is buffered rather than stalling until the window fills.
		for _, ready := range buf.flush() {
			select {
			case ch <- StreamEvent{Event: ready}:
			case <-ctx.Done():
				return
			}
		}

		if received {
			// The connection made progress before dropping; a healthy
			// server that restarts should not eat into the budget.
			failures = 0
		}
		failures++
		if failures > cfg.MaxReconnects {
			select {
			case ch <- StreamEvent{Err: &StreamTerminalError{Attempts: failures - 1, LastErr: err}}:
			case <-ctx.Done():
			}
			return
		}

		c.logger.Warn("event stream disconnected, reconnecting",
			"endpoint", endpoint,
			"failures", failures,
			"budget", cfg.MaxReconnects,
			"last_event_id", lastID,
			"error", err,
		)

		select {
		case <-time.After(cfg.ReconnectDelay):
		case <-ctx.Done():
			return
		}
	}
}

// streamOnce holds a single SSE connection open, invoking emit for each
// parsed event until the connection drops, the watchdog fires, or emit
// returns false. It reports whether any event arrived.
func (c *Client) streamOnce(ctx context.Context, endpoint string, lastID int64, watchdog time.Duration, emit func(*Event) bool) (bool, error) {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if lastID >= 0 {
		endpoint += "?lastEventId=" + url.QueryEscape(strconv.FormatInt(lastID, 10))
	}

	req, err := http.NewRequestWithContext(connCtx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return false, fmt.Errorf("building stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if lastID >= 0 {
		req.Header.Set("Last-Event-ID", strconv.FormatInt(lastID, 10))
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return false, fmt.Errorf("opening event stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, &APIError{StatusCode: resp.StatusCode, Method: http.MethodGet, Endpoint: endpoint}
	}

	// The watchdog aborts a connection that goes silent. Real agentapi
	// servers send periodic heartbeat comments, so silence means the
	// connection is dead even when TCP has not noticed.
	guard := time.AfterFunc(watchdog, cancel)
	defer guard.Stop()

	received := false
	var evType, evID string
	var data []string

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		guard.Reset(watchdog)
		line := scanner.Text()

		switch {
		case line == "":
			if len(data) > 0 {
				received = true
				if !emit(buildEvent(evType, evID, data)) {
					return received, nil
				}
			}
			evType, evID, data = "", "", nil
		case strings.HasPrefix(line, ":"):
			// heartbeat comment
		case strings.HasPrefix(line, "event:"):
			evType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "id:"):
			evID = strings.TrimSpace(strings.TrimPrefix(line, "id:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}

	if err := scanner.Err(); err != nil {
		return received, fmt.Errorf("reading event stream: %w", err)
	}
	return received, fmt.Errorf("event stream closed by server")
}

func buildEvent(evType, evID string, data []string) *Event {
	id := int64(-1)
	if evID != "" {
		if parsed, err := strconv.ParseInt(evID, 10, 64); err == nil {
			id = parsed
		}
	}
	if evType == "" {
		evType = "message"
	}
	return &Event{
		ID:         id,
		Type:       evType,
		Data:       json.RawMessage(strings.Join(data, "\n")),
		ReceivedAt: time.Now(),
	}
}

// reorderBuffer restores ascending ID order across a bounded window.
// Events without IDs pass straight through. When the window fills while a
// gap is outstanding, the gap is abandoned and everything buffered is
// flushed in order.
type reorderBuffer struct {
	next    int64
	started bool
	pending map[int64]*Event
	window  int
}

func newReorderBuffer(window int) *reorderBuffer {
	if window < 1 {
		window = 1
	}
	return &reorderBuffer{pending: make(map[int64]*Event), window: window}
}

// add accepts one event and returns the events now ready to deliver, in
// ascending ID order.
func (b *reorderBuffer) add(ev *Event) []*Event {
	if ev.ID < 0 {
		return []*Event{ev}
	}

	if !b.started {
		b.started = true
		b.next = ev.ID + 1
		return []*Event{ev}
	}

	if ev.ID < b.next {
		// Regression: the server restarted its ID sequence after a
		// reconnect. Adopt the new baseline rather than dropping events.
		out := b.flush()
		b.next = ev.ID + 1
		return append(out, ev)
	}

	if ev.ID == b.next {
		out := []*Event{ev}
		b.next++
		for {
			queued, ok := b.pending[b.next]
			if !ok {
				break
			}
			delete(b.pending, b.next)
			out = append(out, queued)
			b.next++
		}
		return out
	}

	// Gap: hold until the missing ID arrives or the window fills.
	b.pending[ev.ID] = ev
	if len(b.pending) >= b.window {
		return b.flush()
	}
	return nil
}

// flush drains everything pending in ascending order and advances the
// expected ID past the highest drained event. The pending map is left
// empty.
func (b *reorderBuffer) flush() []*Event {
	if len(b.pending) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(b.pending))
	for id := range b.pending {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]*Event, 0, len(ids))
	for _, id := range ids {
		out = append(out, b.pending[id])
	}
	b.pending = make(map[int64]*Event)
	b.next = ids[len(ids)-1] + 1
	return out
}
