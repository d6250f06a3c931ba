package cmd

import (
	"fmt"
	"os"

	"remote-cache/core/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:   "remote-cache",
	Short: "Remote Cache Server",
	Long: `Remote Cache serves a durable index over a shared backing store.
Peers can check key existence, fetch and store content, and trigger
reconciliation scans that keep the index consistent with the store.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() {
	if err := RootCmd.Execute(); err != nil {
		// Console format at debug level gives readable ISO8601 output for a
		// CLI tool
		cfg := &logger.Config{
			Level:  "debug",
			Format: "console",
		}

		l, logErr := logger.New(cfg)
		if logErr == nil {
			l.Error("command failed", zap.Error(err))
			_ = l.Sync()
		} else {
			fmt.Println(err)
		}
		os.Exit(1)
	}
}
