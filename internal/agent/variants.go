// ABOUTME: Agent variant definitions and the per-variant dispatch table.
// ABOUTME: Adding a variant means adding one entry here, nothing else.

package agent

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strings"

	"github.com/2389/agentapi-bridge/internal/config"
)

// Variant identifies a supported coding agent.
type Variant string

const (
	VariantClaude Variant = "claude"
	VariantGoose  Variant = "goose"
	VariantAider  Variant = "aider"
	VariantCodex  Variant = "codex"
	VariantCustom Variant = "custom"
)

// ErrUnknownVariant indicates a variant name outside the supported set.
var ErrUnknownVariant = errors.New("unknown agent variant")

// Variants lists every supported variant in stable order.
func Variants() []Variant {
	return []Variant{VariantClaude, VariantGoose, VariantAider, VariantCodex, VariantCustom}
}

// ParseVariant validates a variant name.
func ParseVariant(name string) (Variant, error) {
	v := Variant(strings.ToLower(strings.TrimSpace(name)))
	switch v {
	case VariantClaude, VariantGoose, VariantAider, VariantCodex, VariantCustom:
		return v, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownVariant, name)
	}
}

// runner abstracts process execution so tests can intercept installs and
// binary lookups.
type runner interface {
	Run(ctx context.Context, name string, args ...string) error
	LookPath(name string) (string, error)
	Output(ctx context.Context, name string, args ...string) (string, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) error {
	return exec.CommandContext(ctx, name, args...).Run()
}

func (execRunner) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}

func (execRunner) Output(ctx context.Context, name string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, name, args...).Output()
	return strings.TrimSpace(string(out)), err
}

// variantSpec is the dispatch entry for one variant: how to find it,
// launch it, install it, and recognize its output.
type variantSpec struct {
	// binary is the executable probed during detection.
	binary string
	// buildCommand assembles the launch argv. A nil install or empty
	// buildCommand marks the capability unsupported for the variant.
	buildCommand func(cfg config.AgentConfig) []string
	install      func(ctx context.Context, r runner) error
	// credentialEnv is the environment variable holding the API key.
	// Empty means the variant needs no credential.
	credentialEnv string
	// patterns match the variant's distinctive output in message history,
	// used to infer which agent is behind a running server.
	patterns []*regexp.Regexp
}

// wrapperBinary is the agentapi server executable that fronts every
// built-in variant's launch command.
const wrapperBinary = "agentapi"

// launchArgs builds the agentapi invocation for a variant: the server
// wraps the agent binary and exposes it over HTTP.
func launchArgs(agent string, cfg config.AgentConfig) []string {
	args := []string{"server", "--", agent}
	if cfg.Model != "" {
		args = append(args, "--model", cfg.Model)
	}
	args = append(args, cfg.Args...)
	return args
}

var specs = map[Variant]variantSpec{
	VariantClaude: {
		binary: "claude",
		buildCommand: func(cfg config.AgentConfig) []string {
			return launchArgs("claude", cfg)
		},
		install: func(ctx context.Context, r runner) error {
			return r.Run(ctx, "npm", "install", "-g", "@anthropic-ai/claude-code")
		},
		credentialEnv: "ANTHROPIC_API_KEY",
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)claude`),
			regexp.MustCompile(`(?i)anthropic`),
		},
	},
	VariantGoose: {
		binary: "goose",
		buildCommand: func(cfg config.AgentConfig) []string {
			return launchArgs("goose", cfg)
		},
		install: func(ctx context.Context, r runner) error {
			return r.Run(ctx, "sh", "-c",
				"curl -fsSL https://github.com/block/goose/releases/download/stable/download_cli.sh | bash")
		},
		credentialEnv: "GOOGLE_API_KEY",
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)goose`),
		},
	},
	VariantAider: {
		binary: "aider",
		buildCommand: func(cfg config.AgentConfig) []string {
			return launchArgs("aider", cfg)
		},
		install: func(ctx context.Context, r runner) error {
			return r.Run(ctx, "pip", "install", "aider-chat")
		},
		credentialEnv: "OPENAI_API_KEY",
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)aider`),
		},
	},
	VariantCodex: {
		binary: "codex",
		buildCommand: func(cfg config.AgentConfig) []string {
			return launchArgs("codex", cfg)
		},
		install: func(ctx context.Context, r runner) error {
			return r.Run(ctx, "npm", "install", "-g", "@openai/codex")
		},
		credentialEnv: "OPENAI_API_KEY",
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)codex`),
		},
	},
	VariantCustom: {
		// Custom agents supply their own binary and command via config;
		// install and inference are unsupported.
		buildCommand: nil,
		install:      nil,
	},
}

// spec returns the dispatch entry for v. The variant set is closed, so a
// miss is a programming error.
func spec(v Variant) variantSpec {
	s, ok := specs[v]
	if !ok {
		panic(fmt.Sprintf("no spec for variant %q", v))
	}
	return s
}

// commandFor resolves the launch argv for a variant, honoring config
// overrides. Custom variants require an explicit command.
func commandFor(v Variant, cfg config.AgentConfig) ([]string, error) {
	if cfg.Command != "" {
		return append([]string{cfg.Command}, cfg.Args...), nil
	}
	s := spec(v)
	if s.buildCommand == nil {
		return nil, fmt.Errorf("variant %q requires an explicit command in config", v)
	}
	return append([]string{wrapperBinary}, s.buildCommand(cfg)...), nil
}

// InferVariant guesses which agent produced the given message contents by
// matching per-variant output patterns. Returns false when nothing matches
// or the match is ambiguous.
func InferVariant(contents []string) (Variant, bool) {
	scores := make(map[Variant]int)
	for _, content := range contents {
		for v, s := range specs {
			for _, re := range s.patterns {
				if re.MatchString(content) {
					scores[v]++
				}
			}
		}
	}

	var best Variant
	bestScore := 0
	tied := false
	for v, score := range scores {
		switch {
		case score > bestScore:
			best, bestScore, tied = v, score, false
		case score == bestScore && score > 0:
			tied = true
		}
	}
	if bestScore == 0 || tied {
		return "", false
	}
	return best, true
}
