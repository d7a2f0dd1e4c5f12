package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"mercator-hq/limitgate/pkg/cli"
	"mercator-hq/limitgate/pkg/config"
)

var validateFlags struct {
	format string
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration and list the rules",
	Long: `Load the configuration file with environment overrides, validate it and
print the rule table it defines.

Every rule pattern is compiled during validation, so a bad regular expression
is reported with its position in the list.

Examples:
  limitgate validate --config limitgate.yaml
  limitgate validate --format json`,
	RunE: validateConfig,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringVar(&validateFlags.format, "format", "text", "output format: text, json, csv")
}

type ruleRow struct {
	Index    int    `json:"index"`
	Pattern  string `json:"pattern"`
	Limit    uint   `json:"limit"`
	Duration string `json:"duration"`
}

type ruleRows []ruleRow

func (r ruleRows) Header() []string {
	return []string{"RULE", "PATTERN", "LIMIT", "DURATION"}
}

func (r ruleRows) Rows() [][]string {
	rows := make([][]string, len(r))
	for i, row := range r {
		rows[i] = []string{strconv.Itoa(row.Index), row.Pattern, strconv.FormatUint(uint64(row.Limit), 10), row.Duration}
	}
	return rows
}

func validateConfig(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseFormat(validateFlags.format)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		var verr config.ValidationError
		if errors.As(err, &verr) {
			out := cmd.ErrOrStderr()
			fmt.Fprintf(out, "✗ %s: %d problems\n", cfgFile, len(verr.Errors))
			for _, fe := range verr.Errors {
				fmt.Fprintf(out, "  - %s\n", fe.Error())
			}
		}
		return err
	}

	rows := make(ruleRows, len(cfg.Limits.Rules))
	for i, r := range cfg.Limits.Rules {
		rows[i] = ruleRow{Index: i, Pattern: r.Pattern, Limit: r.Limit, Duration: r.Duration.String()}
	}

	out := cmd.OutOrStdout()
	if format == cli.FormatText {
		fmt.Fprintf(out, "✓ %s is valid\n", cfgFile)
		fmt.Fprintf(out, "table %q, match on %s, expiry %s, auto release %t\n\n",
			cfg.Limits.Name, cfg.Limits.MatchOn, cfg.Limits.ExpiryPolicy, cfg.Limits.AutoRelease)
	}
	return cli.NewFormatter(format).FormatTo(out, rows)
}
