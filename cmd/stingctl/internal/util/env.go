// Copyright (C) 2025 AlphaBytez
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package util

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// envVarKeyPattern follows POSIX naming: a key starts with a letter or
// underscore and contains only alphanumerics and underscores. Anything
// else risks shell metacharacter injection when the bundle is sourced.
var envVarKeyPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ErrInvalidEnvVarKey is returned when an environment variable key is invalid.
var ErrInvalidEnvVarKey = errors.New("invalid environment variable key")

// ErrMalformedEnvBundle is returned when a generated bundle fails to parse.
var ErrMalformedEnvBundle = errors.New("malformed env bundle")

// EnvVar is one entry of a generated service env bundle.
//
// # Description
//
// Bundles are written by the config generator and handed to compose;
// the orchestrator never edits them, it only validates and logs them.
// Sensitive entries redact their value in any log output.
type EnvVar struct {
	// Key is the variable name. Must match envVarKeyPattern.
	Key string

	// Value may be empty (valid in POSIX).
	Value string

	// Sensitive marks the value for redaction in logs.
	Sensitive bool
}

// String returns the KEY=VALUE form used by exec.Cmd.Env.
func (e EnvVar) String() string {
	return fmt.Sprintf("%s=%s", e.Key, e.Value)
}

// Redacted returns KEY=[REDACTED] for sensitive vars, otherwise String().
func (e EnvVar) Redacted() string {
	if e.Sensitive {
		return fmt.Sprintf("%s=[REDACTED]", e.Key)
	}
	return e.String()
}

// Validate checks the key against POSIX naming conventions.
func (e EnvVar) Validate() error {
	if !envVarKeyPattern.MatchString(e.Key) {
		return fmt.Errorf("%w: %q must match pattern [a-zA-Z_][a-zA-Z0-9_]*", ErrInvalidEnvVarKey, e.Key)
	}
	return nil
}

// ParseEnvBundle parses the contents of a generated env bundle.
//
// # Description
//
// Bundles are plain KEY=VALUE lines; blank lines and # comments are
// skipped. A line without '=' or with an invalid key fails the whole
// bundle: a generator that wrote garbage must not feed the stack.
// Keys matching common secret patterns come back marked Sensitive so
// callers can log the parsed set safely.
//
// # Outputs
//
//   - []EnvVar: Parsed entries in file order
//   - error: ErrMalformedEnvBundle wrapped with the offending line number
func ParseEnvBundle(data []byte) ([]EnvVar, error) {
	var vars []EnvVar
	scanner := bufio.NewScanner(bytes.NewReader(data))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, found := strings.Cut(line, "=")
		if !found {
			return nil, fmt.Errorf("%w: line %d has no '='", ErrMalformedEnvBundle, lineNo)
		}
		ev := EnvVar{
			Key:       strings.TrimSpace(key),
			Value:     value,
			Sensitive: isSensitiveKey(key),
		}
		if err := ev.Validate(); err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrMalformedEnvBundle, lineNo, err)
		}
		vars = append(vars, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvBundle, err)
	}
	return vars, nil
}

// RedactedBundle returns the log-safe KEY=VALUE lines of a parsed bundle.
func RedactedBundle(vars []EnvVar) []string {
	out := make([]string, len(vars))
	for i, v := range vars {
		out[i] = v.Redacted()
	}
	return out
}

// isSensitiveKey detects common secret naming patterns.
func isSensitiveKey(key string) bool {
	upper := strings.ToUpper(key)
	return strings.Contains(upper, "TOKEN") ||
		strings.Contains(upper, "SECRET") ||
		strings.Contains(upper, "KEY") ||
		strings.Contains(upper, "PASSWORD") ||
		strings.Contains(upper, "CREDENTIAL") ||
		strings.Contains(upper, "AUTH")
}
