// Package ui renders the blutter command line output.
//
// The components follow a "run once and exit" pattern: a Header banner when
// a run starts, a Steps list of the pipeline states that were visited, and
// a Result box when it ends. Failure boxes carry troubleshooting tips chosen
// by the caller.
//
// # Logging Integration
//
// This package expects logging to be controlled via the BLUTTER_LOG_LEVEL
// environment variable. When unset or empty, zap logging is silent, allowing
// the curated UI output to be displayed cleanly. Set BLUTTER_LOG_LEVEL to
// "debug", "info", "warn", or "error" to enable logging output.
package ui
