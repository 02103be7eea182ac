// Copyright (C) 2025 AlphaBytez
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AlphaBytez/STING-CE-sub009/cmd/stingctl/internal/util"
)

func TestDefaultManager_Run(t *testing.T) {
	t.Run("captures stdout", func(t *testing.T) {
		m := NewDefaultManager()
		out, err := m.Run(context.Background(), "echo", "hello")
		require.NoError(t, err)
		assert.Equal(t, "hello\n", string(out))
	})

	t.Run("returns error for missing binary", func(t *testing.T) {
		m := NewDefaultManager()
		_, err := m.Run(context.Background(), "definitely-not-a-real-binary-xyz")
		require.Error(t, err)
	})

	t.Run("includes stderr in error", func(t *testing.T) {
		m := NewDefaultManager()
		_, err := m.Run(context.Background(), "sh", "-c", "echo boom >&2; exit 1")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "boom")
	})
}

func TestDefaultManager_RunInDir(t *testing.T) {
	t.Run("runs in working directory", func(t *testing.T) {
		dir := t.TempDir()
		m := NewDefaultManager()
		stdout, _, code, err := m.RunInDir(context.Background(), dir, nil, "pwd")
		require.NoError(t, err)
		assert.Equal(t, 0, code)
		assert.Contains(t, strings.TrimSpace(stdout), dir)
	})

	t.Run("appends extra environment", func(t *testing.T) {
		m := NewDefaultManager()
		stdout, _, _, err := m.RunInDir(context.Background(), "", []string{"STING_TEST_VAR=42"},
			"sh", "-c", "echo $STING_TEST_VAR")
		require.NoError(t, err)
		assert.Equal(t, "42", strings.TrimSpace(stdout))
	})

	t.Run("returns exit code and stderr on failure", func(t *testing.T) {
		m := NewDefaultManager()
		_, stderr, code, err := m.RunInDir(context.Background(), "", nil,
			"sh", "-c", "echo nope >&2; exit 3")
		require.Error(t, err)
		assert.Equal(t, 3, code)
		assert.Equal(t, "nope", strings.TrimSpace(stderr))
	})

	t.Run("failure is a typed command error", func(t *testing.T) {
		m := NewDefaultManager()
		_, _, _, err := m.RunInDir(context.Background(), "", nil,
			"sh", "-c", "echo nope >&2; exit 3")
		require.Error(t, err)

		var cmdErr *util.CommandError
		require.True(t, errors.As(err, &cmdErr))
		assert.Equal(t, 3, cmdErr.ExitCode)
		assert.Equal(t, "nope", cmdErr.Stderr)
		assert.Contains(t, cmdErr.Command, "sh")
	})

	t.Run("spawn failure is a typed command error", func(t *testing.T) {
		m := NewDefaultManager()
		_, _, code, err := m.RunInDir(context.Background(), "", nil,
			"definitely-not-a-real-binary-xyz")
		require.Error(t, err)
		assert.Equal(t, -1, code)

		var cmdErr *util.CommandError
		require.True(t, errors.As(err, &cmdErr))
		assert.Equal(t, -1, cmdErr.ExitCode)
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		m := NewDefaultManager()
		_, _, _, err := m.RunInDir(ctx, "", nil, "sleep", "10")
		require.Error(t, err)
	})
}

func TestDefaultManager_RunWithInput(t *testing.T) {
	m := NewDefaultManager()
	out, err := m.RunWithInput(context.Background(), "cat", []byte("piped"))
	require.NoError(t, err)
	assert.Equal(t, "piped", string(out))
}

func TestDefaultManager_RunStreaming(t *testing.T) {
	t.Run("streams combined output", func(t *testing.T) {
		var buf bytes.Buffer
		m := NewDefaultManager()
		err := m.RunStreaming(context.Background(), "", &buf,
			"sh", "-c", "echo out; echo err >&2")
		require.NoError(t, err)
		assert.Contains(t, buf.String(), "out")
		assert.Contains(t, buf.String(), "err")
	})

	t.Run("cancellation ends stream without error", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		m := NewDefaultManager()
		err := m.RunStreaming(ctx, "", io.Discard, "sleep", "10")
		assert.NoError(t, err)
	})
}

func TestMockManager_RecordsCalls(t *testing.T) {
	mock := &MockManager{
		RunInDirFunc: func(ctx context.Context, dir string, env []string, name string, args ...string) (string, string, int, error) {
			return "ok", "", 0, nil
		},
	}

	_, _ = mock.Run(context.Background(), "docker", "ps")
	stdout, _, code, err := mock.RunInDir(context.Background(), "/stack", nil, "docker", "compose", "up")
	require.NoError(t, err)
	assert.Equal(t, "ok", stdout)
	assert.Equal(t, 0, code)

	calls := mock.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "Run", calls[0].Method)
	assert.Equal(t, []string{"ps"}, calls[0].Args)
	assert.Equal(t, "RunInDir", calls[1].Method)
	assert.Equal(t, "/stack", calls[1].Dir)

	docker := mock.CallsFor("docker")
	assert.Len(t, docker, 2)

	mock.Reset()
	assert.Empty(t, mock.Calls())
}

func TestMockManager_DefaultsToSuccess(t *testing.T) {
	mock := &MockManager{}

	out, err := mock.Run(context.Background(), "docker")
	require.NoError(t, err)
	assert.Nil(t, out)

	_, _, code, err := mock.RunInDir(context.Background(), "", nil, "docker")
	require.NoError(t, err)
	assert.Equal(t, 0, code)
}

func TestMockManager_ErrorPropagation(t *testing.T) {
	mock := &MockManager{
		RunFunc: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return nil, fmt.Errorf("simulated failure")
		},
	}
	_, err := mock.Run(context.Background(), "docker")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "simulated failure")
}
