// ABOUTME: Entry point for the agentapi-bridge CLI.
// ABOUTME: Serves the bridge or runs one-shot status, agent, and message commands.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/agentapi-bridge/internal/apiclient"
	"github.com/2389/agentapi-bridge/internal/bridge"
	"github.com/2389/agentapi-bridge/internal/config"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                         _               _ _          _     _
  __ _  __ _  ___ _ __  | |_ __ _ _ __ (_) |__  _ __(_) __| | __ _  ___
 / _' |/ _' |/ _ \ '_ \ | __/ _' | '_ \| | '_ \| '__| |/ _' |/ _' |/ _ \
| (_| | (_| |  __/ | | || || (_| | |_) | | |_) | |  | | (_| | (_| |  __/
 \__,_|\__, |\___|_| |_| \__\__,_| .__/|_|_.__/|_|  |_|\__,_|\__, |\___|
       |___/                     |_|                         |___/
`

// defaultConfigPath resolves the bridge config file.
// Priority: BRIDGE_CONFIG env var > XDG_CONFIG_HOME/agentapi-bridge/bridge.yaml
// > ~/.config/agentapi-bridge/bridge.yaml
func defaultConfigPath() string {
	if envPath := os.Getenv("BRIDGE_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "bridge.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "agentapi-bridge", "bridge.yaml")
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config.Default(), nil
	}
	return config.Load(path)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var configPath string

	root := &cobra.Command{
		Use:           "agentapi-bridge",
		Short:         "Bridge between local coding agents and the Agent API",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "config file path")

	root.AddCommand(
		serveCmd(ctx, &configPath),
		statusCmd(ctx, &configPath),
		agentsCmd(ctx, &configPath),
		sendCmd(ctx, &configPath),
		historyCmd(ctx, &configPath),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func serveCmd(ctx context.Context, configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bridge until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			cyan := color.New(color.FgCyan)
			gray := color.New(color.FgHiBlack)
			green := color.New(color.FgGreen)

			cyan.Print(banner)
			gray.Printf("    version: %s\n\n", version)
			green.Print("    ▶ ")
			fmt.Printf("Config: %s\n", *configPath)
			green.Print("    ▶ ")
			fmt.Printf("Server: %s\n", cfg.AgentAPIURL)
			green.Print("    ▶ ")
			fmt.Printf("Agent:  %s\n\n", cfg.Agent.Active)

			logger := setupLogger(cfg.Logging)
			b, err := bridge.New(cfg, logger)
			if err != nil {
				return err
			}
			return b.Run(ctx)
		},
	}
}

func statusCmd(ctx context.Context, configPath *string) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Check bridge and agent health",
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := oneShot(*configPath)
			if err != nil {
				return err
			}

			snap := b.Monitor().Check(ctx)
			if asJSON {
				return json.NewEncoder(os.Stdout).Encode(snap)
			}

			fmt.Printf("overall: %s\n", colorStatus(string(snap.Overall)))
			fmt.Printf("  api:   %s", colorStatus(string(snap.API.Status)))
			if snap.API.Detail != "" {
				fmt.Printf("  (%s)", snap.API.Detail)
			}
			fmt.Println()
			fmt.Printf("  agent: %s", colorStatus(string(snap.Agent.Status)))
			if snap.Agent.RawStatus != "" {
				fmt.Printf("  (reports %q)", snap.Agent.RawStatus)
			}
			fmt.Println()
			fmt.Printf("  self:  %s  (up %s)\n", colorStatus(string(snap.Self.Status)), snap.Stats.Uptime.Round(time.Second))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the snapshot as JSON")
	return cmd
}

func agentsCmd(ctx context.Context, configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "agents",
		Short: "List agent variants and their state",
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := oneShot(*configPath)
			if err != nil {
				return err
			}

			records := b.Manager().Detect(ctx)

			ws := b.Manager().Wrapper()
			if ws.Installed {
				line := "agentapi: installed"
				if ws.Version != "" {
					line += "  " + color.HiBlackString(ws.Version)
				}
				fmt.Println(line)
			} else {
				fmt.Println("agentapi: " + color.RedString("not found on PATH"))
			}
			fmt.Println()

			for _, rec := range records {
				marker := "  "
				if rec.Variant == b.Manager().Active() {
					marker = color.GreenString("* ")
				}
				line := fmt.Sprintf("%s%-8s install=%s run=%s", marker, rec.Variant, rec.Install, rec.Run)
				if rec.Version != "" {
					line += "  " + color.HiBlackString(rec.Version)
				}
				if !rec.CredentialPresent {
					line += "  " + color.YellowString("[no credential]")
				} else if !rec.CredentialValid {
					line += "  " + color.YellowString("[credential malformed]")
				}
				fmt.Println(line)
			}
			return nil
		},
	}
}

func sendCmd(ctx context.Context, configPath *string) *cobra.Command {
	var raw bool

	cmd := &cobra.Command{
		Use:   "send <message>",
		Short: "Send a message to the running agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := oneShot(*configPath)
			if err != nil {
				return err
			}

			typ := apiclient.MessageTypeUser
			if raw {
				typ = apiclient.MessageTypeRaw
			}
			resp, err := b.Client().SendMessage(ctx, args[0], typ)
			if err != nil {
				return err
			}
			if !resp.OK {
				return fmt.Errorf("agent rejected the message")
			}
			color.Green("sent")
			return nil
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "send as raw terminal input")
	return cmd
}

func historyCmd(ctx context.Context, configPath *string) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent lifecycle transitions from the ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := oneShot(*configPath)
			if err != nil {
				return err
			}
			if b.Ledger() == nil {
				return fmt.Errorf("no ledger configured (set ledger.path in the config)")
			}
			defer b.Ledger().Close()

			transitions, err := b.Ledger().RecentTransitions(ctx, limit)
			if err != nil {
				return err
			}
			for _, tr := range transitions {
				fmt.Printf("%s  %-8s %s -> %s  (%s)\n",
					color.HiBlackString(tr.CreatedAt.Local().Format(time.RFC3339)),
					tr.Variant, tr.From, tr.To, tr.Operation)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of transitions to show")
	return cmd
}

// oneShot builds a Bridge for a single command, logging at warn to keep
// command output clean.
func oneShot(configPath string) (*bridge.Bridge, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	logging := cfg.Logging
	if logging.Level == "" || logging.Level == "info" {
		logging.Level = "warn"
	}
	return bridge.New(cfg, setupLogger(logging))
}

func colorStatus(s string) string {
	switch s {
	case "healthy":
		return color.GreenString(s)
	case "degraded", "unknown":
		return color.YellowString(s)
	case "unhealthy":
		return color.RedString(s)
	default:
		return s
	}
}
