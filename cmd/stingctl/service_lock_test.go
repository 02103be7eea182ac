package main

import (
	"errors"
	"strings"
	"sync"
	"testing"
)

func TestServiceLockRegistry_AcquireRelease(t *testing.T) {
	locks := NewServiceLockRegistry()

	release, err := locks.Acquire("app")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if !locks.IsHeld("app") {
		t.Error("app should be held after Acquire")
	}

	release()
	if locks.IsHeld("app") {
		t.Error("app should be free after release")
	}

	// Reacquirable after release
	release2, err := locks.Acquire("app")
	if err != nil {
		t.Fatalf("reacquire failed: %v", err)
	}
	release2()
}

func TestServiceLockRegistry_HeldServiceRejected(t *testing.T) {
	locks := NewServiceLockRegistry()

	release, err := locks.Acquire("app")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer release()

	_, err = locks.Acquire("app")
	if !errors.Is(err, ErrServiceBusy) {
		t.Fatalf("error = %v, want ErrServiceBusy", err)
	}
	if !strings.Contains(err.Error(), "app") {
		t.Errorf("error %q should name the held service", err.Error())
	}
}

func TestServiceLockRegistry_ServicesIndependent(t *testing.T) {
	locks := NewServiceLockRegistry()

	releaseApp, err := locks.Acquire("app")
	if err != nil {
		t.Fatalf("Acquire(app) failed: %v", err)
	}
	defer releaseApp()

	releaseRedis, err := locks.Acquire("redis")
	if err != nil {
		t.Fatalf("Acquire(redis) failed while app held: %v", err)
	}
	releaseRedis()
}

func TestServiceLockRegistry_ReleaseIdempotent(t *testing.T) {
	locks := NewServiceLockRegistry()

	release, err := locks.Acquire("app")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	release()

	// A second acquisition by someone else must survive a stale
	// double release from the first holder.
	release2, err := locks.Acquire("app")
	if err != nil {
		t.Fatalf("reacquire failed: %v", err)
	}
	release()
	if !locks.IsHeld("app") {
		t.Error("stale double release freed another holder's lock")
	}
	release2()
}

func TestServiceLockRegistry_HeldServices(t *testing.T) {
	locks := NewServiceLockRegistry()

	r1, _ := locks.Acquire("app")
	r2, _ := locks.Acquire("postgres")
	defer r1()
	defer r2()

	held := locks.HeldServices()
	if len(held) != 2 {
		t.Fatalf("HeldServices = %v, want 2 entries", held)
	}
}

func TestServiceLockRegistry_ConcurrentAcquire(t *testing.T) {
	locks := NewServiceLockRegistry()

	const goroutines = 50
	var wg sync.WaitGroup
	acquired := make(chan func(), goroutines)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if release, err := locks.Acquire("contested"); err == nil {
				acquired <- release
			}
		}()
	}
	wg.Wait()
	close(acquired)

	var releases []func()
	for release := range acquired {
		releases = append(releases, release)
	}
	if len(releases) != 1 {
		t.Fatalf("%d goroutines acquired the same lock, want exactly 1", len(releases))
	}
	releases[0]()
	if locks.IsHeld("contested") {
		t.Error("lock still held after release")
	}
}
