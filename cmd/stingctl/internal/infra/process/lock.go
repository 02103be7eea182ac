// Copyright (C) 2025 AlphaBytez
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package process

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// ProcessLocker serializes mutating stingctl invocations. Without it,
// `stack start` in one terminal can race `stack stop` in another and
// leave the compose project half-converged.
//
// The lock is inter-process; implementations are meant for use from a
// single goroutine (main).
type ProcessLocker interface {
	// Acquire takes the exclusive lock. Returns *ErrLockHeld when
	// another instance holds it.
	Acquire() error

	// Release drops the lock. Safe to call repeatedly or when the
	// lock was never acquired.
	Release() error

	// IsHeld reports whether this instance holds the lock.
	IsHeld() bool

	// HolderPID returns the PID recorded by the current holder, or 0
	// when unknown.
	HolderPID() int
}

// ErrLockHeld is returned by Acquire when another instance already
// holds the single-instance lock.
type ErrLockHeld struct {
	HolderPID int
	LockPath  string
}

func (e *ErrLockHeld) Error() string {
	if e.HolderPID > 0 {
		return fmt.Sprintf("another stingctl instance is running (PID %d)", e.HolderPID)
	}
	return fmt.Sprintf("another stingctl instance is running (check: lsof %s)", e.LockPath)
}

// ProcessLockConfig configures the lock file location.
type ProcessLockConfig struct {
	// LockDir is the directory for the lock and PID files.
	// Default: the system temp directory.
	LockDir string

	// LockName is the base name for both files. Default: "stingctl".
	LockName string
}

// DefaultProcessLockConfig uses the system temp directory, which is
// writable on every platform stingctl supports.
func DefaultProcessLockConfig() ProcessLockConfig {
	return ProcessLockConfig{
		LockDir:  os.TempDir(),
		LockName: "stingctl",
	}
}

// ProcessLock implements ProcessLocker with flock(2) on
// {LockDir}/{LockName}.lock, writing the holder's PID to a sibling
// .pid file so a blocked invocation can name the holder.
//
// The lock is advisory. If the process dies without Release, the OS
// drops the flock; only the stale PID file lingers.
type ProcessLock struct {
	config   ProcessLockConfig
	lockPath string
	pidPath  string
	lockFile *os.File
	held     bool
}

var _ ProcessLocker = (*ProcessLock)(nil)

// NewProcessLock creates an unacquired lock.
func NewProcessLock(config ProcessLockConfig) *ProcessLock {
	if config.LockDir == "" {
		config.LockDir = os.TempDir()
	}
	if config.LockName == "" {
		config.LockName = "stingctl"
	}

	return &ProcessLock{
		config:   config,
		lockPath: filepath.Join(config.LockDir, config.LockName+".lock"),
		pidPath:  filepath.Join(config.LockDir, config.LockName+".pid"),
	}
}

// Acquire takes a non-blocking exclusive flock. When another instance
// holds it, the returned *ErrLockHeld carries that instance's PID if
// its PID file is readable.
func (p *ProcessLock) Acquire() error {
	if p.held {
		return nil
	}

	f, err := os.OpenFile(p.lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("create lock file %s: %w", p.lockPath, err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()

		if err == syscall.EWOULDBLOCK {
			return &ErrLockHeld{
				HolderPID: p.readHolderPID(),
				LockPath:  p.lockPath,
			}
		}

		return fmt.Errorf("acquire lock: %w", err)
	}

	p.lockFile = f
	p.held = true

	// PID file is best effort; the flock is what actually excludes.
	p.writePID()

	return nil
}

// Release drops the flock and removes the PID file. The lock file
// itself is left behind for the next invocation.
func (p *ProcessLock) Release() error {
	if !p.held || p.lockFile == nil {
		return nil
	}

	os.Remove(p.pidPath)

	err := syscall.Flock(int(p.lockFile.Fd()), syscall.LOCK_UN)

	// Closing releases the lock even if the explicit unlock failed.
	p.lockFile.Close()
	p.lockFile = nil
	p.held = false

	if err != nil {
		return fmt.Errorf("release lock: %w", err)
	}

	return nil
}

// IsHeld checks local state only; it does not re-verify the flock.
func (p *ProcessLock) IsHeld() bool {
	return p.held
}

// HolderPID reads the sibling PID file. A crashed holder can leave a
// stale PID behind.
func (p *ProcessLock) HolderPID() int {
	return p.readHolderPID()
}

// LockPath returns the lock file path, for error messages.
func (p *ProcessLock) LockPath() string {
	return p.lockPath
}

// PIDPath returns the PID file path, for error messages.
func (p *ProcessLock) PIDPath() string {
	return p.pidPath
}

func (p *ProcessLock) writePID() error {
	return os.WriteFile(p.pidPath, []byte(strconv.Itoa(os.Getpid())+"\n"), 0644)
}

func (p *ProcessLock) readHolderPID() int {
	data, err := os.ReadFile(p.pidPath)
	if err != nil {
		return 0
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}
