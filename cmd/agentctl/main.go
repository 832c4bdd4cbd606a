// Command agentctl is the reference CLI for the agent runtime: create or
// resume a durable agent, send it a message, watch its event stream, and
// inspect its snapshots and todos from the shell.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	root := buildRootCmd()
	if err := root.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "agentctl",
		Short:        "Drive a durable, event-driven agent from the command line",
		Version:      fmt.Sprintf("%s (commit %s)", version, commit),
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if flags.configPath == "" {
				return nil
			}
			cfg, err := loadFileConfig(flags.configPath)
			if err != nil {
				return err
			}
			applyFileConfig(cmd, cfg)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "YAML file supplying defaults for the flags below")
	root.PersistentFlags().StringVar(&flags.storePath, "store", "memory", `durable store: "memory" or a SQLite file path`)
	root.PersistentFlags().StringVar(&flags.providerName, "provider", "anthropic", `model provider: "anthropic" or "openai"`)
	root.PersistentFlags().StringVar(&flags.model, "model", "", "override the provider's default model")
	root.PersistentFlags().StringVar(&flags.systemPrompt, "system", "You are a helpful agent.", "system prompt for newly created agents")
	root.PersistentFlags().StringVar(&flags.permissionMode, "permission-mode", "auto", `permission mode: "auto", "readOnly", "approval", or "plan"`)

	root.AddCommand(newSendCmd())
	root.AddCommand(newResumeCmd())
	root.AddCommand(newSnapshotCmd())
	root.AddCommand(newTodoCmd())
	root.AddCommand(newDecideCmd())
	root.AddCommand(newTailCmd())
	return root
}

// cliFlags holds the persistent flag values shared by every subcommand.
type cliFlags struct {
	configPath     string
	storePath      string
	providerName   string
	model          string
	systemPrompt   string
	permissionMode string
}

var flags cliFlags
