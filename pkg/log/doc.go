/*
Package log provides structured logging for the Zoneweaver agent using zerolog.

The log package wraps zerolog to provide JSON-structured logging with
component-scoped child loggers, configurable log levels, and helper functions
for common logging patterns. All logs include timestamps and support filtering
by severity level.

# Usage

Initialize once at startup, then derive component loggers:

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})

	logger := log.WithComponent("taskengine")
	logger.Info().Str("task_id", id).Msg("task claimed")

Child helpers exist for the two identifiers that appear throughout the
agent: zone names (log.WithZone) and task ids (log.WithTaskID).

# Levels

  - debug: parser rejections, per-sample collector detail, console chunk flow
  - info: lifecycle events (task started/completed, collector enabled, PTY spawned)
  - warn: recoverable anomalies (retryable handler errors, dropped subscriber output)
  - error: handler failures, store errors, collector failures
*/
package log
