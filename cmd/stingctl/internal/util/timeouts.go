// Copyright (C) 2025 AlphaBytez
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package util

import "time"

// Timeout floors and defaults shared across the orchestrator. A zero or
// negative timeout in config would otherwise hang an operation forever.
const (
	// MinProbeTimeout is the floor for a single health probe attempt.
	MinProbeTimeout = 500 * time.Millisecond

	// DefaultProbeTimeout bounds one probe attempt when neither the
	// descriptor nor the checker config sets one.
	DefaultProbeTimeout = 5 * time.Second

	// DefaultGeneratorTimeout bounds one config generator run.
	DefaultGeneratorTimeout = 60 * time.Second

	// DefaultComposeTimeout bounds one compose operation. Builds
	// override this with a larger budget.
	DefaultComposeTimeout = 5 * time.Minute

	// DefaultSagaStepTimeout bounds one saga step.
	DefaultSagaStepTimeout = 60 * time.Second

	// DefaultCompensationTimeout bounds one saga compensation.
	DefaultCompensationTimeout = 30 * time.Second
)

// EnforceMinTimeout returns at least the minimum timeout.
//
// Zero, negative, and sub-minimum values all come back as the minimum.
func EnforceMinTimeout(requested, minimum time.Duration) time.Duration {
	if requested <= 0 || requested < minimum {
		return minimum
	}
	return requested
}

// EnforceDefaultTimeout returns the default when requested is zero or
// negative, and the requested value otherwise. Unlike EnforceMinTimeout
// any positive value is accepted as-is.
func EnforceDefaultTimeout(requested, defaultVal time.Duration) time.Duration {
	if requested <= 0 {
		return defaultVal
	}
	return requested
}
