// Copyright (C) 2025 AlphaBytez
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//

package util

import (
	"testing"
	"time"
)

func TestEnforceMinTimeout(t *testing.T) {
	tests := []struct {
		name      string
		requested time.Duration
		minimum   time.Duration
		want      time.Duration
	}{
		{"above minimum", 10 * time.Second, time.Second, 10 * time.Second},
		{"exactly minimum", time.Second, time.Second, time.Second},
		{"below minimum", 100 * time.Millisecond, time.Second, time.Second},
		{"zero", 0, time.Second, time.Second},
		{"negative", -time.Second, time.Second, time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EnforceMinTimeout(tt.requested, tt.minimum); got != tt.want {
				t.Errorf("EnforceMinTimeout(%v, %v) = %v, want %v",
					tt.requested, tt.minimum, got, tt.want)
			}
		})
	}
}

func TestEnforceDefaultTimeout(t *testing.T) {
	tests := []struct {
		name      string
		requested time.Duration
		def       time.Duration
		want      time.Duration
	}{
		{"positive keeps requested", 2 * time.Second, time.Minute, 2 * time.Second},
		// Below-default positive values are accepted, unlike EnforceMinTimeout
		{"small positive kept", time.Millisecond, time.Minute, time.Millisecond},
		{"zero uses default", 0, time.Minute, time.Minute},
		{"negative uses default", -5 * time.Second, time.Minute, time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EnforceDefaultTimeout(tt.requested, tt.def); got != tt.want {
				t.Errorf("EnforceDefaultTimeout(%v, %v) = %v, want %v",
					tt.requested, tt.def, got, tt.want)
			}
		})
	}
}

func TestTimeoutConstants_Positive(t *testing.T) {
	constants := map[string]time.Duration{
		"MinProbeTimeout":            MinProbeTimeout,
		"DefaultProbeTimeout":        DefaultProbeTimeout,
		"DefaultGeneratorTimeout":    DefaultGeneratorTimeout,
		"DefaultComposeTimeout":      DefaultComposeTimeout,
		"DefaultSagaStepTimeout":     DefaultSagaStepTimeout,
		"DefaultCompensationTimeout": DefaultCompensationTimeout,
	}
	for name, d := range constants {
		if d <= 0 {
			t.Errorf("%s = %v, want positive", name, d)
		}
	}
	if DefaultProbeTimeout < MinProbeTimeout {
		t.Error("DefaultProbeTimeout should be at least MinProbeTimeout")
	}
}
