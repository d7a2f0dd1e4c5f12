package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"mercator-hq/limitgate/pkg/cli"
	"mercator-hq/limitgate/pkg/config"
	"mercator-hq/limitgate/pkg/server"
	"mercator-hq/limitgate/pkg/telemetry/logging"
	"mercator-hq/limitgate/pkg/telemetry/metrics"
)

var runFlags struct {
	listenAddress string
	logLevel      string
	dryRun        bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the limitgate gateway",
	Long: `Start the gateway with the specified configuration.

The gateway listens on the configured address, admits requests against the
configured rules and forwards admitted requests to the upstream service.

Examples:
  # Start with default config
  limitgate run

  # Start with custom config
  limitgate run --config /etc/limitgate/limitgate.yaml

  # Override listen address
  limitgate run --listen 0.0.0.0:8080

  # Build everything without listening
  limitgate run --dry-run`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override listen address")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config and connect backends without serving")
}

func runServer(cmd *cobra.Command, args []string) error {
	if err := config.Initialize(cfgFile); err != nil {
		return cli.NewConfigError(cfgFile, err)
	}
	cfg := config.GetConfig()

	if runFlags.listenAddress != "" {
		cfg.Proxy.ListenAddress = runFlags.listenAddress
	}
	if runFlags.logLevel != "" {
		cfg.Telemetry.Logging.Level = runFlags.logLevel
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}

	logger, err := logging.New(logging.Config{
		Level:     cfg.Telemetry.Logging.Level,
		Format:    cfg.Telemetry.Logging.Format,
		AddSource: cfg.Telemetry.Logging.AddSource,
		Writer:    os.Stdout,
	})
	if err != nil {
		return cli.NewConfigError(cfgFile, err)
	}
	slog.SetDefault(logger)

	ctx, stop := cli.SetupSignalHandler(context.Background())
	defer stop()

	srv, err := server.New(ctx, cfg, server.Options{
		ConfigPath: cfgFile,
		Version:    Version,
		Commit:     GitCommit,
		BuildTime:  BuildDate,
		Logger:     logger,
		Collector:  metrics.NewCollector(nil),
		OnReload:   config.SetConfig,
	})
	if err != nil {
		return cli.NewCommandError("run", err)
	}

	out := cmd.OutOrStdout()
	if runFlags.dryRun {
		if err := srv.Shutdown(context.Background()); err != nil {
			return cli.NewCommandError("run", err)
		}
		fmt.Fprintln(out, "✓ Configuration valid")
		fmt.Fprintf(out, "✓ %d rules in table %q\n", len(cfg.Limits.Rules), cfg.Limits.Name)
		return nil
	}

	fmt.Fprintf(out, "limitgate v%s\n", Version)
	fmt.Fprintf(out, "✓ Forwarding %s -> %s\n", cfg.Proxy.ListenAddress, cfg.Proxy.UpstreamURL)
	if cfg.Limits.Enabled {
		fmt.Fprintf(out, "✓ Admission control: %d rules, expiry %s\n", len(cfg.Limits.Rules), cfg.Limits.ExpiryPolicy)
	} else {
		fmt.Fprintln(out, "! Admission control disabled")
	}
	fmt.Fprintln(out, "\nPress Ctrl+C to stop")

	if err := srv.Start(ctx); err != nil {
		return cli.NewCommandError("run", err)
	}

	fmt.Fprintln(out, "✓ Server stopped")
	return nil
}
