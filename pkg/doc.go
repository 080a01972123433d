// Package pkg provides shared utilities for the usbcore device stack,
// its controller models and the virtual host.
//
// This package contains:
//
//   - Structured logging via Go's standard [log/slog] package
//   - Sentinel errors for USB protocol and resource failures
//   - [XferResult], the normalized outcome of a controller transfer
//
// # Logging
//
// The logging subsystem wraps [log/slog] with component tags:
//
//	pkg.SetLogLevel(slog.LevelDebug)
//	pkg.LogInfo(pkg.ComponentStack, "device mounted", "config", 1)
//
// # Errors
//
// Failures are sentinel values tested with [errors.Is]:
//
//	if errors.Is(err, pkg.ErrBusy) {
//	    // a transfer is already queued on the endpoint
//	}
package pkg
