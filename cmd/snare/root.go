package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/oobits/snare/internal/logging"
)

var logger *zap.Logger

var rootCmd = &cobra.Command{
	Use:   "snare",
	Short: "Out-of-band interaction capture engine",
	Long: `snare captures out-of-band interactions during security testing.
It runs a wildcard DNS listener, an HTTP capture listener, and a
management API, recording every lookup and request that reaches a
registered subdomain.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		logger, err = logging.New(logging.FromEnv())
		if err != nil {
			return fmt.Errorf("initializing logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			logging.Sync(logger)
		}
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
