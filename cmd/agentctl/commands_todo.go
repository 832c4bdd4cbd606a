package main

import (
	"fmt"

	"github.com/nexusruntime/agentrt/pkg/model"
	"github.com/spf13/cobra"
)

func newTodoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "todo",
		Short: "Inspect or mutate an agent's todo list",
	}
	cmd.AddCommand(newTodoListCmd())
	cmd.AddCommand(newTodoAddCmd())
	cmd.AddCommand(newTodoDoneCmd())
	return cmd
}

func newTodoListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <agent-id>",
		Short: "Print an agent's current todo list",
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
				return fmt.Errorf("agentctl: todo list: %w", err)
			}
			for _, t := range a.GetTodos() {
				fmt.Printf("%s [%s] %s\n", t.ID, t.Status, t.Title)
			}
			return nil
		},
	}
}

func newTodoAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <agent-id> <title>",
		Short: "Append a pending todo to an agent's list",
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
				return fmt.Errorf("agentctl: todo add: %w", err)
			}
			todos := append(a.GetTodos(), model.Todo{ID: model.NewID(), Title: args[1], Status: model.TodoPending})
			return a.SetTodos(ctx, todos)
		},
	}
}

func newTodoDoneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "done <agent-id> <todo-id>",
		Short: "Mark a todo completed",
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
				return fmt.Errorf("agentctl: todo done: %w", err)
			}
			return a.UpdateTodo(ctx, args[1], func(t *model.Todo) {
				t.Status = model.TodoCompleted
			})
		},
	}
}
