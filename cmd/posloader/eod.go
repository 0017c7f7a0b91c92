package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/AlecAivazis/survey/v2"
	"github.com/cheggaaa/pb/v3"
	"github.com/spf13/cobra"

	"github.com/ledgerbase/posloader/pkg/orchestrator"
	"github.com/ledgerbase/posloader/pkg/types"
)

var eodCmd = &cobra.Command{
	Use:   "eod",
	Short: "Trigger and inspect end-of-day position loads",
}

var eodTriggerCmd = &cobra.Command{
	Use:   "trigger ACCOUNT_ID...",
	Short: "Run the EOD pipeline for one or more accounts",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Root().PersistentFlags().GetString("config")
		date, _ := cmd.Flags().GetString("date")
		concurrency, _ := cmd.Flags().GetInt("concurrency")

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

		if concurrency > 0 {
			a.orchestrator = orchestrator.New(a.engine, int64(concurrency), a.cfg.RetryFailed)
		}

		bar := pb.StartNew(len(args))
		defer bar.Finish()

		runCtx, cancel := context.WithTimeout(ctx, a.cfg.OrchestratorTimeout)
		defer cancel()
		a.orchestrator.Run(runCtx, args, businessDate, a.cfg.PerAccountTimeout)

		for range args {
			bar.Increment()
		}

		summary := a.orchestrator.Summary()
		fmt.Printf("\nSucceeded: %d  Failed: %d\n", summary[orchestrator.AccountSucceeded], summary[orchestrator.AccountFailed])
		for _, p := range a.orchestrator.Snapshot() {
			if p.Err != nil {
				fmt.Printf("  %s: %s (%v)\n", p.AccountID, p.State, p.Err)
			} else {
				fmt.Printf("  %s: %s\n", p.AccountID, p.State)
			}
		}
		return nil
	},
}

var eodStatusCmd = &cobra.Command{
	Use:   "status ACCOUNT_ID",
	Short: "Show the EOD status for an account/business date",
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

		status, err := a.store.GetEodStatus(ctx, args[0], businessDate)
		if err != nil {
			return err
		}
		fmt.Printf("Account:        %s\n", status.AccountID)
		fmt.Printf("Business date:  %s\n", status.BusinessDate.Format("2006-01-02"))
		fmt.Printf("Status:         %s\n", status.Status)
		fmt.Printf("Positions:      %d\n", status.PositionCount)
		if status.SkipReason != "" {
			fmt.Printf("Skip reason:    %s\n", status.SkipReason)
		}
		if status.LastError != "" {
			fmt.Printf("Last error:     %s\n", status.LastError)
		}
		return nil
	},
}

var eodRollbackCmd = &cobra.Command{
	Use:   "rollback ACCOUNT_ID",
	Short: "Roll an account's active batch back to the previously active batch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")
		date, _ := cmd.Flags().GetString("date")
		businessDate, err := parseBusinessDate(date)
		if err != nil {
			return err
		}

		if !yes {
			confirmed := false
			prompt := &survey.Confirm{Message: fmt.Sprintf("Roll back account %s for %s?", args[0], businessDate.Format("2006-01-02"))}
			if err := survey.AskOne(prompt, &confirmed); err != nil {
				return err
			}
			if !confirmed {
				fmt.Println("aborted")
				return nil
			}
		}

		configPath, _ := cmd.Root().PersistentFlags().GetString("config")
		ctx := context.Background()
		a, err := newApp(ctx, configPath)
		if err != nil {
			return err
		}
		defer a.Close()

		batch, err := a.engine.RollbackEod(ctx, args[0], businessDate)
		if err != nil {
			return err
		}
		fmt.Printf("rolled back to batch %d (status=%s)\n", batch.BatchID, batch.Status)
		return nil
	},
}

var eodResetCmd = &cobra.Command{
	Use:   "reset ACCOUNT_ID",
	Short: "Reset an account's EOD status so the pipeline can be re-run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")
		date, _ := cmd.Flags().GetString("date")
		businessDate, err := parseBusinessDate(date)
		if err != nil {
			return err
		}

		if !yes {
			confirmed := false
			prompt := &survey.Confirm{Message: fmt.Sprintf("Reset EOD status for %s on %s?", args[0], businessDate.Format("2006-01-02"))}
			if err := survey.AskOne(prompt, &confirmed); err != nil {
				return err
			}
			if !confirmed {
				fmt.Println("aborted")
				return nil
			}
		}

		configPath, _ := cmd.Root().PersistentFlags().GetString("config")
		ctx := context.Background()
		a, err := newApp(ctx, configPath)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.engine.ResetEodStatus(ctx, args[0], businessDate); err != nil {
			return err
		}
		fmt.Println("eod status reset")
		return nil
	},
}

var eodUploadCmd = &cobra.Command{
	Use:   "upload ACCOUNT_ID FILE",
	Short: "Load a manual JSON position file for an account (manual-upload path, not MSPM_EOD)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Root().PersistentFlags().GetString("config")
		date, _ := cmd.Flags().GetString("date")
		businessDate, err := parseBusinessDate(date)
		if err != nil {
			return err
		}

		data, err := os.ReadFile(args[1])
		if err != nil {
			return fmt.Errorf("read upload file: %w", err)
		}

		var positions []types.RawPosition
		if err := json.Unmarshal(data, &positions); err != nil {
			return fmt.Errorf("parse upload file: %w", err)
		}

		ctx := context.Background()
		a, err := newApp(ctx, configPath)
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.engine.UploadPositions(ctx, args[0], businessDate, positions)
		if err != nil {
			return fmt.Errorf("upload positions: %w", err)
		}
		fmt.Printf("loaded %d positions for %s into batch %d\n", result.PositionCount, args[0], result.BatchID)
		return nil
	},
}

func init() {
	eodCmd.AddCommand(eodTriggerCmd, eodStatusCmd, eodRollbackCmd, eodResetCmd, eodUploadCmd)

	eodTriggerCmd.Flags().String("date", "", "Business date (YYYY-MM-DD), defaults to today")
	eodTriggerCmd.Flags().Int("concurrency", 0, "Override maxConcurrency from config")

	eodStatusCmd.Flags().String("date", "", "Business date (YYYY-MM-DD), defaults to today")

	eodRollbackCmd.Flags().String("date", "", "Business date (YYYY-MM-DD), defaults to today")
	eodRollbackCmd.Flags().Bool("yes", false, "Skip confirmation prompt")

	eodResetCmd.Flags().String("date", "", "Business date (YYYY-MM-DD), defaults to today")
	eodResetCmd.Flags().Bool("yes", false, "Skip confirmation prompt")

	eodUploadCmd.Flags().String("date", "", "Business date (YYYY-MM-DD), defaults to today")
}

func parseBusinessDate(date string) (time.Time, error) {
	if date == "" {
		return time.Now(), nil
	}
	t, err := time.Parse("2006-01-02", date)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --date %q: %w", date, err)
	}
	return t, nil
}

