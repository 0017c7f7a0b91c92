/*
Package log provides structured logging for the position loader using
zerolog.

It wraps zerolog to give every component JSON or console-formatted logs
with a consistent set of context fields: component, account_id, client_id,
batch_id, and business_date. Logs are console-formatted unless JSONOutput
is set (the CLI's --log-json flag); JSON output is for shipping to a log
aggregator.

# Usage

Initializing the logger:

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

Component loggers carry a "component" field through every subsequent call:

	logger := log.WithComponent("eodengine")
	logger.Info().Msg("starting eod run")

Domain-scoped loggers attach the account/client/batch identifier a
component is already working with, so every log line from that point on
carries it without repeating the field at each call site:

	logger := log.WithAccountID(accountID)
	logger.Warn().Str("rule", finding.Rule).Msg("validation finding")

Package-level helpers (Info, Debug, Warn, Error, Fatal) write through the
global Logger for one-off messages outside any component's scope; Fatal
exits the process after logging, for unrecoverable startup failures.

# Log levels

Debug is for local troubleshooting only. Info is the default production
level. Warn marks a condition an operator should review (a validation
finding, a stale-cache fallback) without failing the run. Error marks an
operation that failed. Fatal is reserved for conditions the process cannot
continue past, such as a failed database connection at startup.
*/
package log
