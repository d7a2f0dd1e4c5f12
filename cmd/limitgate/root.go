package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"mercator-hq/limitgate/pkg/cli"
	"mercator-hq/limitgate/pkg/config"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "limitgate",
	Short: "limitgate - pattern-based admission control for HTTP services",
	Long: `limitgate puts an admission-control layer in front of an HTTP service.

Each request is matched against an ordered list of regular-expression rules.
The first matching rule admits the request while it has permits left in its
current window and rejects it otherwise. Requests no rule matches always pass.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "limitgate.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

// loadConfig reads cfgFile with environment overrides applied.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return nil, cli.NewConfigError(cfgFile, err)
	}
	return cfg, nil
}
