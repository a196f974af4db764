// Package logging provides structured logging for blutter.
//
// This package wraps a process-wide zap logger. The CLI is silent by default;
// operators opt into diagnostic output with BLUTTER_LOG_LEVEL or --log-level.
// User-facing progress and results are rendered by package ui, not here.
//
// # Log Levels
//
//   - Debug: rendered commands, scan results, cache paths
//   - Info: state transitions, builds, fetches, executions
//   - Warn: forced policy decisions, non-fatal cleanup failures
//   - Error: fatal failures before the process exits
//
// # Usage
//
// Components take a *zap.Logger in their constructors and never reach for the
// global instance themselves:
//
//	if err := logging.Initialize(level); err != nil {
//	    return err
//	}
//	defer logging.Sync()
//
//	driver := build.NewDriver(layout, runner, toolchain, logging.Named("build"))
//
// Logs go to stderr so they never interleave with the analyzer's stdout.
package logging
