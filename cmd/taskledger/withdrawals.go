package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/warp/task-ledger/engine"
)

func init() {
	rootCmd.AddCommand(withdrawalsCmd)
	withdrawalsCmd.AddCommand(withdrawalsListCmd)
	withdrawalsCmd.AddCommand(withdrawalsApproveCmd)
	withdrawalsCmd.AddCommand(withdrawalsRejectCmd)

	withdrawalsListCmd.Flags().String("status", "", "filter by status: pending, completed, rejected")
	withdrawalsListCmd.Flags().String("user", "", "filter by username")
}

var withdrawalsCmd = &cobra.Command{
	Use:   "withdrawals",
	Short: "Review withdrawal requests",
}

var withdrawalsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List withdrawal requests, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		username, _ := cmd.Flags().GetString("user")
		return withApp(func(ctx context.Context, a *app) error {
			filter := engine.WithdrawalFilter{Status: engine.WithdrawalStatus(status)}
			if username != "" {
				u, err := a.store.UserByUsername(username)
				if err != nil {
					return err
				}
				filter.UserID = u.ID
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-36s  %-36s  %10s  %-9s  %s\n", "ID", "USER", "AMOUNT", "STATUS", "DESTINATION")
			for _, w := range a.store.ListWithdrawals(filter) {
				fmt.Fprintf(out, "%-36s  %-36s  %10s  %-9s  %s %s\n",
					w.ID, w.UserID, w.Amount.StringFixed(engine.MinorUnitPlaces), w.Status, w.Method, w.DestinationAccount)
			}
			return nil
		})
	},
}

var withdrawalsApproveCmd = &cobra.Command{
	Use:   "approve ID",
	Short: "Mark a pending withdrawal as paid out",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return decide(cmd, args[0], engine.DecisionApprove)
	},
}

var withdrawalsRejectCmd = &cobra.Command{
	Use:   "reject ID",
	Short: "Reject a pending withdrawal and refund the user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return decide(cmd, args[0], engine.DecisionReject)
	},
}

func decide(cmd *cobra.Command, id string, decision engine.Decision) error {
	return withApp(func(ctx context.Context, a *app) error {
		w, err := a.handler.Withdrawals.Decide(ctx, a.admin, engine.WithdrawalID(id), decision)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Withdrawal %s %s (%s)\n", w.ID, w.Status, w.Amount.StringFixed(engine.MinorUnitPlaces))
		return nil
	})
}
