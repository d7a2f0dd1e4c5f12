package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/limitgate/pkg/cli"
	"mercator-hq/limitgate/pkg/limits/storage"
	"mercator-hq/limitgate/pkg/server"
)

var stateFlags struct {
	table  string
	format string
}

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "List persisted rule snapshots",
	Long: `Read the rule snapshots the gateway recorded in the configured snapshot
backend and print them. Only the sqlite backend outlives the gateway process.

Examples:
  limitgate state
  limitgate state --table gateway --format json`,
	RunE: showState,
}

func init() {
	rootCmd.AddCommand(stateCmd)

	stateCmd.Flags().StringVar(&stateFlags.table, "table", "", "table name (default: limits.name from config)")
	stateCmd.Flags().StringVar(&stateFlags.format, "format", "text", "output format: text, json, csv")
}

type stateRows []*storage.RuleState

func (r stateRows) Header() []string {
	return []string{"RULE", "PATTERN", "AVAILABLE", "WINDOW", "WINDOW START", "ADMITTED", "REJECTED", "FREE PASSES", "RELEASED", "UPDATED"}
}

func (r stateRows) Rows() [][]string {
	rows := make([][]string, len(r))
	for i, s := range r {
		windowStart := "-"
		if !s.WindowStart.IsZero() {
			windowStart = s.WindowStart.Format(time.RFC3339)
		}
		rows[i] = []string{
			strconv.Itoa(s.Rule),
			s.Pattern,
			fmt.Sprintf("%d/%d", s.Available, s.Capacity),
			s.Window.String(),
			windowStart,
			strconv.FormatUint(s.Counters.Admitted, 10),
			strconv.FormatUint(s.Counters.Rejected, 10),
			strconv.FormatUint(s.Counters.FreePasses, 10),
			strconv.FormatUint(s.Counters.Released, 10),
			s.LastUpdated.Format(time.RFC3339),
		}
	}
	return rows
}

func showState(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseFormat(stateFlags.format)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	snaps := cfg.Limits.Snapshots
	if !snaps.Enabled {
		fmt.Fprintln(cmd.ErrOrStderr(), "! snapshots are disabled in the configuration; showing stored data only")
	}
	if snaps.Backend == "memory" {
		return cli.NewCommandError("state", fmt.Errorf("the memory snapshot backend is not readable from another process"))
	}

	backend, err := server.OpenSnapshotBackend(snaps)
	if err != nil {
		return cli.NewCommandError("state", err)
	}
	defer backend.Close()

	table := stateFlags.table
	if table == "" {
		table = cfg.Limits.Name
	}

	states, err := backend.List(context.Background(), table)
	if err != nil {
		return cli.NewCommandError("state", err)
	}

	if format == cli.FormatText && len(states) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "no snapshots for table %q\n", table)
		return nil
	}
	return cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), stateRows(states))
}
