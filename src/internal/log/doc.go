// Package log provides simple leveled logging for keen-dnsfilter.
//
// This package implements a lightweight logging system with colored output
// and support for different log levels: DEBUG, INFO, WARN, and ERROR.
// It provides global logging functions that can be used throughout the application.
//
// # Log Levels
//
//   - DEBUG: Per-packet tracing and rule expansion details (only shown in verbose mode)
//   - INFO: Service lifecycle and rule updates
//   - WARN: Non-fatal failures such as rule store write errors
//   - ERROR: Failures that stop a component
//
// # Warning hook
//
// Warnings are also the way non-fatal failures reach the status API. The
// filter service registers a hook that records the last warning:
//
//	log.SetWarnHook(func(msg string) { lastWarning.Store(msg) })
//	log.Warnf("Failed to persist rules: %v", err)
//
// # Example Usage
//
//	log.Infof("Filter service started on %s", tunName)
//	log.Errorf("Tunnel read failed: %v", err)
//
// Enabling verbose mode for debug output:
//
//	log.SetVerbose(true)
//	log.Debugf("[%04x] %s -> blocked by %s", id, domain, rule)
//
// Output control:
//
//	log.SetForceStdErr(true) // Send all logs to stderr
package log
