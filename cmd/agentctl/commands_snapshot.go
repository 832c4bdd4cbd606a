package main

import (
	"encoding/json"
	"fmt"

	"github.com/nexusruntime/agentrt/pkg/model"
	"github.com/spf13/cobra"
)

func newSnapshotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot <agent-id>",
		Short: "Print an agent's latest durable snapshot as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := buildDeps()
			if err != nil {
				return err
			}
			defer deps.Store.Close()

			snap, err := deps.Store.LatestSnapshot(cmd.Context(), model.AgentID(args[0]))
			if err != nil {
				return fmt.Errorf("agentctl: load snapshot: %w", err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(snap)
		},
	}
	return cmd
}
