// Command posloader is the operator CLI and long-running server for the
// trading back-office position loader: it triggers and inspects EOD runs,
// manages batch rollback, replays dead letters, runs reconciliation, and
// serves the scheduled-job daemon that runs all of this unattended.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ledgerbase/posloader/pkg/log"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "posloader",
	Short:   "Trading back-office position loader",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("posloader version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime))

	rootCmd.PersistentFlags().String("config", "config.yaml", "Path to config file")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(eodCmd)
	rootCmd.AddCommand(batchCmd)
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(dlqCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})
}
