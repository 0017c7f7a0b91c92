package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ledgerbase/posloader/pkg/reconcile"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Run day-over-day position reconciliation",
}

var reconcileAccountCmd = &cobra.Command{
	Use:   "account ACCOUNT_ID",
	Short: "Reconcile one account's active positions against the previous calendar day",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Root().PersistentFlags().GetString("config")
		date, _ := cmd.Flags().GetString("date")
		businessDate, err := parseBusinessDate(date)
		if err != nil {
			return err
		}

		ctx := context.Background()
		a, err := newApp(ctx, configPath)
		if err != nil {
			return err
		}
		defer a.Close()

		diffs, err := a.reconciler.ReconcileAccount(ctx, args[0], businessDate)
		if err != nil {
			return err
		}
		printDiffs(diffs)
		return nil
	},
}

var reconcileAllCmd = &cobra.Command{
	Use:   "all",
	Short: "Reconcile every account that has an EOD status for the business date",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Root().PersistentFlags().GetString("config")
		date, _ := cmd.Flags().GetString("date")
		businessDate, err := parseBusinessDate(date)
		if err != nil {
			return err
		}

		ctx := context.Background()
		a, err := newApp(ctx, configPath)
		if err != nil {
			return err
		}
		defer a.Close()

		diffs, err := a.reconciler.ReconcileAll(ctx, businessDate)
		if err != nil {
			return err
		}
		printDiffs(diffs)
		return nil
	},
}

func printDiffs(diffs []reconcile.Diff) {
	if len(diffs) == 0 {
		fmt.Println("no discrepancies found")
		return
	}
	fmt.Printf("%-15s %-12s %-10s %-12s %s\n", "ACCOUNT", "PRODUCT", "SEVERITY", "PREV_VALUE", "NEW_VALUE")
	for _, d := range diffs {
		fmt.Printf("%-15s %-12s %-10s %-12.2f %-12.2f %s\n", d.AccountID, d.ProductID, d.Severity, d.PrevValue, d.NewValue, d.Description)
	}
}

func init() {
	reconcileCmd.AddCommand(reconcileAccountCmd, reconcileAllCmd)
	reconcileAccountCmd.Flags().String("date", "", "Business date (YYYY-MM-DD), defaults to today")
	reconcileAllCmd.Flags().String("date", "", "Business date (YYYY-MM-DD), defaults to today")
}
