/*
Package cli provides command-line helpers shared by the limitgate commands.

Output Formatting:

Commands print results as text, JSON or CSV. Tabular results implement
Table so every format can render them:

	formatter := cli.NewFormatter(cli.FormatText)
	if err := formatter.FormatTo(cmd.OutOrStdout(), rows); err != nil {
		return err
	}

Text output aligns table columns with text/tabwriter; JSON output encodes
the value itself.

Signal Handling:

SetupSignalHandler returns a context cancelled on SIGINT or SIGTERM, which
the run command passes to the gateway for graceful shutdown.

Errors:

ConfigError and CommandError give commands a uniform error shape; the root
command prints them and exits non-zero.
*/
package cli
