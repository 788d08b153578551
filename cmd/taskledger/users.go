package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/warp/task-ledger/engine"
)

func init() {
	rootCmd.AddCommand(usersCmd)
	usersCmd.AddCommand(usersListCmd)
	usersCmd.AddCommand(usersAddCmd)
	usersCmd.AddCommand(usersApproveCmd)
	usersCmd.AddCommand(usersBlockCmd)
	usersCmd.AddCommand(usersDeleteCmd)
	usersCmd.AddCommand(usersPasswdCmd)
	usersCmd.AddCommand(usersReconcileCmd)

	usersAddCmd.Flags().Bool("admin", false, "create an administrator")
}

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Manage participants and administrators",
}

// ─── users list ─────────────────────────────────────────────────────────────

var usersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all users with their balance",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-36s  %-16s  %-5s  %-8s  %10s\n", "ID", "USERNAME", "ROLE", "STATUS", "BALANCE")
			for _, u := range a.store.ListUsers() {
				fmt.Fprintf(out, "%-36s  %-16s  %-5s  %-8s  %10s\n",
					u.ID, u.Username, u.Role, u.Status, u.Balance.StringFixed(engine.MinorUnitPlaces))
			}
			return nil
		})
	},
}

// ─── users add ──────────────────────────────────────────────────────────────

var usersAddCmd = &cobra.Command{
	Use:   "add USERNAME PASSWORD",
	Short: "Create an approved account",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		role := engine.RoleUser
		if admin, _ := cmd.Flags().GetBool("admin"); admin {
			role = engine.RoleAdmin
		}
		return withApp(func(ctx context.Context, a *app) error {
			u, err := a.ident.CreateUser(ctx, a.admin, args[0], args[1], role)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created %s %q (%s)\n", u.Role, u.Username, u.ID)
			return nil
		})
	},
}

// ─── users approve / block / delete ─────────────────────────────────────────

var usersApproveCmd = &cobra.Command{
	Use:   "approve USERNAME",
	Short: "Let a pending user sign in",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return moderateByName(cmd, args[0], "approved", func(ctx context.Context, a *app, id engine.UserID) error {
			return a.handler.Moderation.ApproveUser(ctx, a.admin, id)
		})
	},
}

var usersBlockCmd = &cobra.Command{
	Use:   "block USERNAME",
	Short: "Return a user to pending",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return moderateByName(cmd, args[0], "blocked", func(ctx context.Context, a *app, id engine.UserID) error {
			return a.handler.Moderation.BlockUser(ctx, a.admin, id)
		})
	},
}

var usersDeleteCmd = &cobra.Command{
	Use:   "delete USERNAME",
	Short: "Delete a user (history is kept)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return moderateByName(cmd, args[0], "deleted", func(ctx context.Context, a *app, id engine.UserID) error {
			_, err := a.handler.Moderation.DeleteUser(ctx, a.admin, id)
			return err
		})
	},
}

var usersPasswdCmd = &cobra.Command{
	Use:   "passwd USERNAME PASSWORD",
	Short: "Set a user's password",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return moderateByName(cmd, args[0], "updated", func(ctx context.Context, a *app, id engine.UserID) error {
			return a.ident.ChangePassword(ctx, a.admin, id, args[1])
		})
	},
}

func moderateByName(cmd *cobra.Command, username, verb string,
	action func(ctx context.Context, a *app, id engine.UserID) error) error {
	return withApp(func(ctx context.Context, a *app) error {
		u, err := a.store.UserByUsername(username)
		if err != nil {
			return err
		}
		if err := action(ctx, a, u.ID); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "User %q %s\n", username, verb)
		return nil
	})
}

// ─── users reconcile ────────────────────────────────────────────────────────

var usersReconcileCmd = &cobra.Command{
	Use:   "reconcile USERNAME",
	Short: "Replay a user's ledger entries against the balance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			u, err := a.store.UserByUsername(args[0])
			if err != nil {
				return err
			}
			rec, err := a.handler.Ledger.Reconcile(ctx, u.ID)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "credits  %10s\n", rec.Credits.StringFixed(engine.MinorUnitPlaces))
			fmt.Fprintf(out, "debits   %10s\n", rec.Debits.StringFixed(engine.MinorUnitPlaces))
			fmt.Fprintf(out, "refunds  %10s\n", rec.Refunds.StringFixed(engine.MinorUnitPlaces))
			fmt.Fprintf(out, "replayed %10s\n", rec.Replayed.StringFixed(engine.MinorUnitPlaces))
			fmt.Fprintf(out, "balance  %10s\n", rec.Balance.StringFixed(engine.MinorUnitPlaces))
			if !rec.Balanced() {
				return fmt.Errorf("user %q is out of balance", args[0])
			}
			fmt.Fprintln(out, "balanced")
			return nil
		})
	},
}
