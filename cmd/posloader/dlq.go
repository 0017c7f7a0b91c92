package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ledgerbase/posloader/pkg/dlqreplay"
)

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Replay dead-lettered events",
}

var dlqReplayCmd = &cobra.Command{
	Use:   "replay TOPIC",
	Short: "Replay up to the configured batch size of dead-lettered messages for a topic",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Root().PersistentFlags().GetString("config")
		ctx := context.Background()
		a, err := newApp(ctx, configPath)
		if err != nil {
			return err
		}
		defer a.Close()

		replayer := dlqreplay.New(a.msgBus, a.cfg.Bus.DLQMaxReplayBatch)
		result, err := replayer.ReplayTopic(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("topic=%s attempted=%d succeeded=%d\n", result.Topic, result.Attempted, result.Succeeded)
		return nil
	},
}

func init() {
	dlqCmd.AddCommand(dlqReplayCmd)
}
