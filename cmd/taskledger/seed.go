package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(seedCmd)
}

var seedCmd = &cobra.Command{
	Use:       "seed SCENARIO",
	Short:     "Load sample data (sample-catalog, sample-participants)",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"sample-catalog", "sample-participants"},
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			if err := a.handler.LoadScenarioByID(ctx, a.admin, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Loaded scenario %s\n", args[0])
			return nil
		})
	},
}
