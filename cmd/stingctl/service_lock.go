// Copyright (C) 2025 AlphaBytez
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"errors"
	"fmt"
	"sync"
)

// ErrServiceBusy indicates another lifecycle operation holds the service.
var ErrServiceBusy = errors.New("service busy")

// ServiceLockRegistry hands out per-service non-blocking locks.
//
// # Description
//
// The sequencer and the reinstall manager must not operate on the same
// service at once: a restart during a reinstall's rebuild window would
// race the saga's compensation. Acquire is a try-lock; a held service
// fails immediately with ErrServiceBusy rather than queueing, so the
// caller can tell the operator what is in flight.
//
// Locks on different services are independent: reinstalling "app" does
// not block a restart of "redis".
//
// # Examples
//
//	release, err := locks.Acquire("app")
//	if errors.Is(err, ErrServiceBusy) {
//	    return fmt.Errorf("app has a lifecycle operation in progress")
//	}
//	defer release()
//
// # Limitations
//
//   - In-process only; two stingctl processes are serialized by the
//     flock-based ProcessLock instead
type ServiceLockRegistry struct {
	mu   sync.Mutex
	held map[string]bool
}

// NewServiceLockRegistry creates an empty registry.
func NewServiceLockRegistry() *ServiceLockRegistry {
	return &ServiceLockRegistry{held: make(map[string]bool)}
}

// Acquire try-locks a service and returns its release function.
//
// # Outputs
//
//   - func(): Releases the lock; safe to call exactly once
//   - error: ErrServiceBusy wrapped with the service name when held
func (r *ServiceLockRegistry) Acquire(service string) (func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.held[service] {
		return nil, fmt.Errorf("%w: %s", ErrServiceBusy, service)
	}
	r.held[service] = true

	var once sync.Once
	release := func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.held, service)
			r.mu.Unlock()
		})
	}
	return release, nil
}

// IsHeld reports whether a service lock is currently held.
func (r *ServiceLockRegistry) IsHeld(service string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.held[service]
}

// HeldServices returns the names of currently held services.
func (r *ServiceLockRegistry) HeldServices() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.held))
	for name := range r.held {
		out = append(out, name)
	}
	return out
}
