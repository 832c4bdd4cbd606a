package main

import (
	"context"
	"fmt"

	"github.com/nexusruntime/agentrt/internal/agent"
	"github.com/nexusruntime/agentrt/pkg/model"
	"github.com/spf13/cobra"
)

// openAgent resumes agentID from durable state, creating it implicitly if
// nothing durable exists yet — Resume's manual strategy already handles
// an empty store by replaying from the beginning, so there is no
// separate "first run" code path to maintain.
func openAgent(ctx context.Context, deps agent.Deps, agentID string) (*agent.Agent, error) {
	return agent.Resume(ctx, model.AgentID(agentID), defaultTemplate(), defaultRuntimeOptions(), deps, agent.ResumeManual)
}

func newSendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send <agent-id> <message>",
		Short: "Send a message to an agent, printing its reply and taking a snapshot",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			deps, err := buildDeps()
			if err != nil {
				return err
			}
			defer deps.Store.Close()

			a, err := openAgent(ctx, deps, args[0])
			if err != nil {
				return fmt.Errorf("agentctl: open agent: %w", err)
			}

			result := a.Chat(ctx, args[1])
			switch result.Status {
			case agent.ChatOK:
				fmt.Println(result.Text)
			case agent.ChatPaused:
				fmt.Printf("paused: awaiting permission decisions %v\n", result.PermissionIDs)
			case agent.ChatError:
				return fmt.Errorf("agentctl: chat turn failed: %w", result.Err)
			}

			snapID, err := a.Snapshot(ctx)
			if err != nil {
				return fmt.Errorf("agentctl: snapshot: %w", err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "snapshot %s saved\n", snapID)
			return nil
		},
	}
	return cmd
}

func newResumeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resume <agent-id>",
		Short: "Resume an agent from durable state and print its status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			deps, err := buildDeps()
			if err != nil {
				return err
			}
			defer deps.Store.Close()

			a, err := openAgent(ctx, deps, args[0])
			if err != nil {
				return fmt.Errorf("agentctl: resume: %w", err)
			}
			status := a.Status()
			fmt.Printf("last bookmarks: %v\n", status.LastBookmark)
			if len(status.InFlight) > 0 {
				fmt.Printf("in-flight tool calls: %v\n", status.InFlight)
			}
			return nil
		},
	}
	return cmd
}

func newDecideCmd() *cobra.Command {
	var allow bool
	var note string
	cmd := &cobra.Command{
		Use:   "decide <agent-id> <call-id>",
		Short: "Resolve a pending tool-call permission request",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			deps, err := buildDeps()
			if err != nil {
				return err
			}
			defer deps.Store.Close()

			a, err := openAgent(ctx, deps, args[0])
			if err != nil {
				return fmt.Errorf("agentctl: decide: %w", err)
			}
			return a.Decide(ctx, args[1], allow, note)
		},
	}
	cmd.Flags().BoolVar(&allow, "allow", false, "allow the pending tool call instead of denying it")
	cmd.Flags().StringVar(&note, "note", "", "optional note attached to the decision")
	return cmd
}
