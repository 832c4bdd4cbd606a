package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/nexusruntime/agentrt/internal/agent"
	"github.com/nexusruntime/agentrt/internal/contextmgr"
	"github.com/nexusruntime/agentrt/internal/eventbus"
	"github.com/nexusruntime/agentrt/internal/permission"
	"github.com/nexusruntime/agentrt/internal/store"
	"github.com/nexusruntime/agentrt/internal/toolregistry"
	"github.com/nexusruntime/agentrt/pkg/provider"
	"github.com/nexusruntime/agentrt/pkg/sandbox"
)

// openStore builds the Store named by the --store flag: "memory" for an
// in-process, non-durable store, or any other value as a SQLite file path.
func openStore() (store.Store, error) {
	if flags.storePath == "" || flags.storePath == "memory" {
		return store.NewMemory(), nil
	}
	return store.NewSQLite(flags.storePath)
}

// buildProvider constructs the ModelProvider named by the --provider
// flag, resolving its API key from the conventional environment variable.
func buildProvider() (provider.ModelProvider, error) {
	switch flags.providerName {
	case "openai":
		key := os.Getenv("OPENAI_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("agentctl: OPENAI_API_KEY is not set")
		}
		return provider.NewOpenAI(provider.OpenAIConfig{APIKey: key, DefaultModel: flags.model})
	case "anthropic", "":
		key := os.Getenv("ANTHROPIC_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("agentctl: ANTHROPIC_API_KEY is not set")
		}
		return provider.NewAnthropic(provider.AnthropicConfig{APIKey: key, DefaultModel: flags.model})
	default:
		return nil, fmt.Errorf("agentctl: unknown provider %q", flags.providerName)
	}
}

// buildDeps assembles Deps shared by every subcommand: a store, event
// bus, permission engine seeded from --permission-mode, the builtin
// sandbox-backed tool set, and a local sandbox rooted at the current
// working directory.
func buildDeps() (agent.Deps, error) {
	s, err := openStore()
	if err != nil {
		return agent.Deps{}, fmt.Errorf("agentctl: open store: %w", err)
	}

	p, err := buildProvider()
	if err != nil {
		return agent.Deps{}, err
	}

	cwd, err := os.Getwd()
	if err != nil {
		return agent.Deps{}, fmt.Errorf("agentctl: getwd: %w", err)
	}
	fs, err := sandbox.NewLocal(cwd)
	if err != nil {
		return agent.Deps{}, fmt.Errorf("agentctl: open sandbox: %w", err)
	}

	tools := toolregistry.New()
	if err := tools.Register(readFileTool{fs: fs}); err != nil {
		return agent.Deps{}, err
	}
	if err := tools.Register(writeFileTool{fs: fs}); err != nil {
		return agent.Deps{}, err
	}

	mode, err := parsePermissionMode(flags.permissionMode)
	if err != nil {
		return agent.Deps{}, err
	}
	engine := permission.NewEngine(mode, permission.DefaultPolicy(), permission.NewMemoryStore())

	bus := eventbus.New(s, eventbus.Config{})

	return agent.Deps{
		Provider:    p,
		Store:       s,
		Bus:         bus,
		Permissions: engine,
		Tools:       tools,
		Sandbox:     fs,
	}, nil
}

func parsePermissionMode(raw string) (permission.Mode, error) {
	switch permission.Mode(raw) {
	case permission.ModeAuto, permission.ModeReadOnly, permission.ModeApproval, permission.ModePlan:
		return permission.Mode(raw), nil
	default:
		return "", fmt.Errorf("agentctl: unknown permission mode %q", raw)
	}
}

// defaultTemplate builds the Template newly created agents run under.
func defaultTemplate() agent.Template {
	return agent.Template{
		ID:           "agentctl-default",
		SystemPrompt: flags.systemPrompt,
		Tools:        []string{"read_file", "write_file"},
		Permission:   agent.PermissionConfig{Mode: flags.permissionMode},
	}
}

// defaultRuntimeOptions returns RuntimeOptions with a context manager
// wired in so long sessions compact instead of growing unbounded.
func defaultRuntimeOptions() agent.RuntimeOptions {
	opts := agent.DefaultRuntimeOptions()
	opts.Context = &contextmgr.Manager{
		ContextWindow:    contextmgr.DefaultContextWindow,
		ThresholdPercent: 0,
		KeepFirst:        2,
		KeepLast:         10,
	}
	opts.Logger = slog.Default()
	return opts
}
