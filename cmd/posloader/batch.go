package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ledgerbase/posloader/pkg/types"
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Inspect and adjust position batches",
}

var batchListCmd = &cobra.Command{
	Use:   "list ACCOUNT_ID",
	Short: "List batches for an account/business date",
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

		batches, err := a.store.ListBatches(ctx, args[0], businessDate)
		if err != nil {
			return err
		}
		fmt.Printf("%-10s %-12s %-20s %s\n", "BATCH_ID", "STATUS", "CREATED_AT", "POSITIONS")
		for _, b := range batches {
			fmt.Printf("%-10d %-12s %-20s %d\n", b.BatchID, b.Status, b.CreatedAt.Format(time.RFC3339), b.PositionCount)
		}
		return nil
	},
}

var batchAdjustCmd = &cobra.Command{
	Use:   "adjust ACCOUNT_ID PRODUCT_ID QUANTITY PRICE CURRENCY",
	Short: "Insert a manual adjustment position on top of an account's active batch",
	Args:  cobra.ExactArgs(5),
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Root().PersistentFlags().GetString("config")
		date, _ := cmd.Flags().GetString("date")
		businessDate, err := parseBusinessDate(date)
		if err != nil {
			return err
		}

		var quantity, price float64
		if _, err := fmt.Sscanf(args[2], "%f", &quantity); err != nil {
			return fmt.Errorf("invalid quantity %q: %w", args[2], err)
		}
		if _, err := fmt.Sscanf(args[3], "%f", &price); err != nil {
			return fmt.Errorf("invalid price %q: %w", args[3], err)
		}

		ctx := context.Background()
		a, err := newApp(ctx, configPath)
		if err != nil {
			return err
		}
		defer a.Close()

		p := types.Position{
			AccountID:    args[0],
			ProductID:    args[1],
			BusinessDate: businessDate,
			Quantity:     quantity,
			Price:        price,
			Currency:     args[4],
			MarketValue:  quantity * price,
			Source:       types.SourceManualUpload,
		}
		if err := a.store.AdjustPosition(ctx, args[0], p); err != nil {
			return err
		}
		fmt.Println("position adjusted")
		return nil
	},
}

func init() {
	batchCmd.AddCommand(batchListCmd, batchAdjustCmd)
	batchListCmd.Flags().String("date", "", "Business date (YYYY-MM-DD), defaults to today")
	batchAdjustCmd.Flags().String("date", "", "Business date (YYYY-MM-DD), defaults to today")
}
