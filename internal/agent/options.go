package agent

import (
	"log/slog"
	"time"

	"github.com/nexusruntime/agentrt/internal/contextmgr"
	"github.com/nexusruntime/agentrt/internal/tracing"
)

// PermissionConfig is a template's permission section (spec §3 Template,
// §6.5 enumerated options).
type PermissionConfig struct {
	Mode                 string
	RequireApprovalTools []string
}

// TodoConfig is a template's runtime.todo section.
type TodoConfig struct {
	Enabled             bool
	RemindIntervalSteps int
	ReminderOnStart     bool
}

// SubagentConfig is a template's runtime.subagents section.
type SubagentConfig struct {
	Templates []string
	Depth     int
}

// Template describes how an Agent is constructed: system prompt, the tool
// names it is allowed to use, permission policy, and ambient runtime
// behavior, matching spec §3's Template data model.
type Template struct {
	ID           string
	SystemPrompt string
	Tools        []string
	Permission   PermissionConfig
	Todo         TodoConfig
	Subagents    SubagentConfig
	Hooks        HookSet
}

// RuntimeOptions configures a single Agent's loop behavior, generalized
// from the teacher's RuntimeOptions/LoopConfig pair down to the options
// spec §6.5 actually enumerates.
type RuntimeOptions struct {
	// MaxToolRounds bounds how many model-turn/tool-batch round trips a
	// single chat() call may take before returning status:'error'.
	MaxToolRounds int

	// TurnTimeoutMs bounds an entire chat turn; zero means no bound.
	TurnTimeoutMs int

	// ExposeThinking controls whether reasoning blocks are forwarded to
	// progress subscribers at all.
	ExposeThinking bool

	// RetainThinking controls whether reasoning blocks persist in the
	// durable message log once a turn completes.
	RetainThinking bool

	// ReasoningTransport picks how thinking blocks reach the provider on
	// the next turn: "provider" (native), "internal" (stripped before
	// the wire call but kept in the log), or "none".
	ReasoningTransport string

	// Logger receives orchestrator diagnostics.
	Logger *slog.Logger

	// Context configures history compaction and reminder injection (the
	// "Context manager" row of the component table). Nil disables
	// compaction entirely; the message log then grows unbounded.
	Context *contextmgr.Manager

	// Tracer opens spans around each model turn and tool-call lifecycle.
	// Nil is sanitized to a Noop Tracer, so callers never need a nil check.
	Tracer *tracing.Tracer
}

// DefaultRuntimeOptions returns the baseline runtime options.
func DefaultRuntimeOptions() RuntimeOptions {
	return RuntimeOptions{
		MaxToolRounds:      10,
		TurnTimeoutMs:      0,
		ExposeThinking:     true,
		RetainThinking:     false,
		ReasoningTransport: "provider",
		Logger:             slog.Default(),
	}
}

func sanitizeRuntimeOptions(opts RuntimeOptions) RuntimeOptions {
	defaults := DefaultRuntimeOptions()
	if opts.MaxToolRounds <= 0 {
		opts.MaxToolRounds = defaults.MaxToolRounds
	}
	if opts.TurnTimeoutMs < 0 {
		opts.TurnTimeoutMs = 0
	}
	if opts.ReasoningTransport == "" {
		opts.ReasoningTransport = defaults.ReasoningTransport
	}
	if opts.Logger == nil {
		opts.Logger = defaults.Logger
	}
	if opts.Tracer == nil {
		opts.Tracer = tracing.Noop()
	}
	return opts
}

func (o RuntimeOptions) turnTimeout() time.Duration {
	if o.TurnTimeoutMs <= 0 {
		return 0
	}
	return time.Duration(o.TurnTimeoutMs) * time.Millisecond
}
