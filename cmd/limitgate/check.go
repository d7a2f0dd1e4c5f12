package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/limitgate/pkg/cli"
	"mercator-hq/limitgate/pkg/limits"
	"mercator-hq/limitgate/pkg/telemetry/logging"
)

var checkFlags struct {
	timed   bool
	release bool
	format  string
}

var checkCmd = &cobra.Command{
	Use:   "check [file]",
	Short: "Replay request lines through the configured rules",
	Long: `Evaluate each line of input against a fresh table built from the configured
rules and print the decision. Input is read from file, or stdin when no file
is given. Empty lines and lines starting with # are skipped.

With --timed every line starts with an offset from the first request, which
drives the table's clock, so window expiry can be replayed:

  0s    GET /reports
  500ms GET /reports
  1.2s  GET /reports

With --release every admitted request returns its permit before the next
line, as if it completed successfully.

Examples:
  printf 'GET /reports\nGET /health\n' | limitgate check
  limitgate check --timed requests.txt --format json`,
	Args: cobra.MaximumNArgs(1),
	RunE: checkLines,
}

func init() {
	rootCmd.AddCommand(checkCmd)

	checkCmd.Flags().BoolVar(&checkFlags.timed, "timed", false, "lines start with a time offset")
	checkCmd.Flags().BoolVar(&checkFlags.release, "release", false, "release each admitted permit before the next line")
	checkCmd.Flags().StringVar(&checkFlags.format, "format", "text", "output format: text, json, csv")
}

type checkRow struct {
	Line       int    `json:"line"`
	At         string `json:"at,omitempty"`
	Text       string `json:"text"`
	Outcome    string `json:"outcome"`
	Rule       int    `json:"rule"`
	Available  *int64 `json:"available,omitempty"`
	RetryAfter string `json:"retry_after,omitempty"`
}

type checkRows []checkRow

func (r checkRows) Header() []string {
	return []string{"LINE", "AT", "TEXT", "OUTCOME", "RULE", "AVAILABLE", "RETRY AFTER"}
}

func (r checkRows) Rows() [][]string {
	rows := make([][]string, len(r))
	for i, row := range r {
		rule, available := "-", "-"
		if row.Rule != limits.NoRule {
			rule = strconv.Itoa(row.Rule)
		}
		if row.Available != nil {
			available = strconv.FormatInt(*row.Available, 10)
		}
		at := row.At
		if at == "" {
			at = "-"
		}
		retry := row.RetryAfter
		if retry == "" {
			retry = "-"
		}
		rows[i] = []string{strconv.Itoa(row.Line), at, row.Text, row.Outcome, rule, available, retry}
	}
	return rows
}

func checkLines(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseFormat(checkFlags.format)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var in io.Reader = cmd.InOrStdin()
	if len(args) == 1 {
		f, err := os.Open(args[0])
		if err != nil {
			return cli.NewCommandError("check", err)
		}
		defer f.Close()
		in = f
	}

	level := "warn"
	if verbose {
		level = "debug"
	}
	logger, err := logging.New(logging.Config{Level: level, Format: "console", Writer: cmd.ErrOrStderr()})
	if err != nil {
		return err
	}

	expiry, err := limits.ParseExpiryPolicy(cfg.Limits.ExpiryPolicy)
	if err != nil {
		return cli.NewConfigError(cfgFile, err)
	}

	start := time.Now()
	clock := start
	table, err := limits.NewTable(cfg.Limits.LimitRules(), limits.Options{
		Name:   cfg.Limits.Name,
		Expiry: expiry,
		Now:    func() time.Time { return clock },
		Logger: logger,
	})
	if err != nil {
		return cli.NewConfigError(cfgFile, err)
	}

	rows, err := replay(table, in, start, func(t time.Time) { clock = t })
	if err != nil {
		return cli.NewCommandError("check", err)
	}
	return cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), rows)
}

// replay evaluates every input line against table. setClock moves the
// table's clock for timed input.
func replay(table *limits.Table, in io.Reader, start time.Time, setClock func(time.Time)) (checkRows, error) {
	var rows checkRows

	scanner := bufio.NewScanner(in)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		row := checkRow{Line: lineNo, Text: line}
		if checkFlags.timed {
			offset, text, _ := strings.Cut(line, " ")
			at, err := time.ParseDuration(offset)
			if err != nil {
				return nil, fmt.Errorf("line %d: invalid time offset %q: %w", lineNo, offset, err)
			}
			setClock(start.Add(at))
			row.At = at.String()
			row.Text = strings.TrimSpace(text)
		}

		d := table.Evaluate(row.Text)
		row.Outcome = d.Outcome()
		row.Rule = d.Rule
		if d.RetryAfter > 0 {
			row.RetryAfter = d.RetryAfter.String()
		}

		if d.Rule != limits.NoRule {
			if checkFlags.release && d.Allowed {
				if err := table.Release(d.Rule); err != nil {
					return nil, fmt.Errorf("line %d: %w", lineNo, err)
				}
			}
			available := table.Snapshot()[d.Rule].Available
			row.Available = &available
		}

		rows = append(rows, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}
	return rows, nil
}
