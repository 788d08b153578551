package main

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/warp/task-ledger/engine"
)

func init() {
	rootCmd.AddCommand(settingsCmd)
	settingsCmd.AddCommand(settingsShowCmd)
	settingsCmd.AddCommand(settingsSetCmd)

	settingsSetCmd.Flags().String("min", "", "minimum withdrawal")
	settingsSetCmd.Flags().String("max", "", "maximum withdrawal")
	settingsSetCmd.Flags().String("app-name", "", "application name")
	settingsSetCmd.Flags().String("logo-url", "", "logo URL")
}

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show or change withdrawal limits and branding",
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the current settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			printSettings(cmd, a.store.Settings())
			return nil
		})
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Change settings; unset flags keep their current value",
	Long: `Change settings. A minimum larger than the maximum is swapped, the same
as the admin settings form does.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			s := a.store.Settings()
			for flag, dst := range map[string]*decimal.Decimal{"min": &s.MinWithdrawal, "max": &s.MaxWithdrawal} {
				if !cmd.Flags().Changed(flag) {
					continue
				}
				v, _ := cmd.Flags().GetString(flag)
				d, err := decimal.NewFromString(v)
				if err != nil {
					return fmt.Errorf("--%s: %w", flag, err)
				}
				*dst = d
			}
			if cmd.Flags().Changed("app-name") {
				s.AppName, _ = cmd.Flags().GetString("app-name")
			}
			if cmd.Flags().Changed("logo-url") {
				s.LogoURL, _ = cmd.Flags().GetString("logo-url")
			}

			saved, err := a.handler.Moderation.UpdateSettings(ctx, a.admin, s)
			if err != nil {
				return err
			}
			printSettings(cmd, saved)
			return nil
		})
	},
}

func printSettings(cmd *cobra.Command, s engine.Settings) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "min_withdrawal  %s\n", s.MinWithdrawal.StringFixed(engine.MinorUnitPlaces))
	fmt.Fprintf(out, "max_withdrawal  %s\n", s.MaxWithdrawal.StringFixed(engine.MinorUnitPlaces))
	fmt.Fprintf(out, "app_name        %s\n", s.AppName)
	fmt.Fprintf(out, "logo_url        %s\n", s.LogoURL)
}
