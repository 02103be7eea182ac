// Copyright (C) 2025 AlphaBytez
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package util provides foundational utilities for the STING CLI.
//
// This is a leaf package: it depends only on the Go standard library
// and has no dependencies on other internal packages.
//
// # Overview
//
// Four categories of utilities:
//
//   - Timeout Management: floor and default helpers plus the shared
//     timeout constants used across probes, compose runs, and sagas
//   - Environment Variables: generated env bundle parsing with
//     validation and sensitivity-aware redaction
//   - Command Errors: typed wrapping for subprocess failures, carrying
//     exit code and captured stderr
//   - Ring Buffer: bounded transition log for long-running sessions
//
// # Thread Safety
//
// [RingBuffer] is safe for concurrent use. Everything else is
// immutable or plain functions.
//
// # Key Types
//
// Timeouts:
//
//	timeout := util.EnforceMinTimeout(requested, util.MinProbeTimeout)
//
// Env bundles:
//
//	vars, err := util.ParseEnvBundle(data)
//	logger.Debug("bundle contents", "vars", util.RedactedBundle(vars))
//
// Command errors:
//
//	var cmdErr *util.CommandError
//	if errors.As(err, &cmdErr) {
//	    fmt.Fprintln(os.Stderr, cmdErr.Stderr)
//	}
//
// Ring buffer:
//
//	log := util.NewRingBuffer[ServiceTransition](256)
//	log.Push(transition)
//	recent := log.ToSlice()
//
// # Security Considerations
//
//   - [EnvVar] carries a Sensitive flag; [RedactedBundle] masks those
//     values for logging
//   - [CommandError] keeps stderr attached to the error so callers
//     decide what reaches the terminal
package util
