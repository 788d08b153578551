package main

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/warp/task-ledger/engine"
)

func init() {
	rootCmd.AddCommand(tasksCmd)
	tasksCmd.AddCommand(tasksListCmd)
	tasksCmd.AddCommand(tasksAddCmd)
	tasksCmd.AddCommand(tasksEditCmd)
	tasksCmd.AddCommand(tasksDeleteCmd)

	for _, c := range []*cobra.Command{tasksAddCmd, tasksEditCmd} {
		c.Flags().String("reward", "", "reward paid on completion, e.g. 2.50")
		c.Flags().Int("duration", 0, "seconds the task must stay open")
	}
	tasksEditCmd.Flags().String("url", "", "new task URL")
}

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Manage the task catalog",
}

var tasksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all tasks",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-36s  %8s  %8s  %s\n", "ID", "REWARD", "SECONDS", "URL")
			for _, t := range a.store.ListTasks() {
				fmt.Fprintf(out, "%-36s  %8s  %8d  %s\n",
					t.ID, t.Reward.StringFixed(engine.MinorUnitPlaces), t.DurationSeconds, t.URL)
			}
			return nil
		})
	},
}

var tasksAddCmd = &cobra.Command{
	Use:   "add URL",
	Short: "Add a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		draft, err := draftFromFlags(cmd, engine.TaskDraft{URL: args[0]})
		if err != nil {
			return err
		}
		return withApp(func(ctx context.Context, a *app) error {
			t, err := a.handler.Moderation.CreateTask(ctx, a.admin, draft)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created task %s\n", t.ID)
			return nil
		})
	},
}

var tasksEditCmd = &cobra.Command{
	Use:   "edit ID",
	Short: "Change a task; unset flags keep their current value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			id := engine.TaskID(args[0])
			current, err := a.store.Task(id)
			if err != nil {
				return err
			}
			draft := engine.TaskDraft{URL: current.URL, Reward: current.Reward, DurationSeconds: current.DurationSeconds}
			if u, _ := cmd.Flags().GetString("url"); u != "" {
				draft.URL = u
			}
			draft, err = draftFromFlags(cmd, draft)
			if err != nil {
				return err
			}
			if _, err := a.handler.Moderation.EditTask(ctx, a.admin, id, draft); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Updated task %s\n", id)
			return nil
		})
	},
}

var tasksDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete a task (completions keep their recorded reward)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			if err := a.handler.Moderation.DeleteTask(ctx, a.admin, engine.TaskID(args[0])); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted task %s\n", args[0])
			return nil
		})
	},
}

func draftFromFlags(cmd *cobra.Command, draft engine.TaskDraft) (engine.TaskDraft, error) {
	if cmd.Flags().Changed("reward") {
		s, _ := cmd.Flags().GetString("reward")
		reward, err := decimal.NewFromString(s)
		if err != nil {
			return draft, fmt.Errorf("--reward: %w", err)
		}
		draft.Reward = reward
	}
	if cmd.Flags().Changed("duration") {
		draft.DurationSeconds, _ = cmd.Flags().GetInt("duration")
	}
	return draft, nil
}
