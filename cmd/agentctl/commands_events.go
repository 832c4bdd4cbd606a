package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newTailCmd() *cobra.Command {
	var sinceSeq uint64
	cmd := &cobra.Command{
		Use:   "tail <agent-id>",
		Short: "Stream an agent's event log to stdout as newline-delimited JSON",
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
				return fmt.Errorf("agentctl: tail: %w", err)
			}

			var since *uint64
			if cmd.Flags().Changed("since-seq") {
				since = &sinceSeq
			}
			subID, events, err := a.Subscribe(ctx, since)
			if err != nil {
				return fmt.Errorf("agentctl: subscribe: %w", err)
			}
			defer a.Unsubscribe(subID)

			enc := json.NewEncoder(cmd.OutOrStdout())
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case env, ok := <-events:
					if !ok {
						return nil
					}
					if err := enc.Encode(env); err != nil {
						return err
					}
				}
			}
		},
	}
	cmd.Flags().Uint64Var(&sinceSeq, "since-seq", 0, "replay events after this sequence number before tailing (default: tail only future events)")
	return cmd
}
