// Package sleeplock implements the long-held-lock primitive (spec.md §4.3):
// a lock that, instead of busy-waiting, puts the calling process to sleep
// until the holder releases it. Buffer cache I/O and inode operations hold
// these across disk waits, where spinning would waste the hart for the
// whole transfer.
//
// Grounded on original_source/kernel/sleeplock.c's acquire/release pair,
// which itself relies on the kernel never being preempted inside a system
// call (spec.md's single-hart, non-preemptible-kernel-code model) to treat
// the `locked` flag as safe to test and set without a spinlock guarding it.
package sleeplock

import "github.com/coursekernel/riscvkernel/internal/kpanic"

// Waiter is the subset of the scheduler a sleeplock needs: sleep on an
// opaque channel and wake whoever is sleeping on one. Declared as an
// interface, rather than importing internal/proc directly, to avoid a
// package cycle (internal/proc will itself use sleeplock-guarded
// structures internally).
type Waiter interface {
	Sleep(chan any)
	Wakeup(chan any)
	CurrentPID() int
}

// Lock is a sleep lock, identified by its own address used as the sleep
// channel (the "chan" other processes wait on), mirroring
// original_source's sleeplock_acquire(lk) sleeping on lk itself.
type Lock struct {
	locked bool
	pid    int
	name   string
	chan_  chan any
}

// New creates a named, unlocked sleep lock.
func New(name string) *Lock {
	return &Lock{name: name, chan_: make(chan any)}
}

// Acquire blocks the calling process until the lock is free, then takes it.
// Kernel code is never preempted mid-syscall (spec.md's non-preemptible
// -kernel-code non-goal), so no spinlock is needed to protect the locked
// flag itself — only the sleep/wakeup rendezvous needs w to serialize
// waiters.
func (l *Lock) Acquire(w Waiter) {
	for l.locked {
		w.Sleep(l.chan_)
	}

	l.locked = true
	l.pid = w.CurrentPID()
}

// Release frees the lock and wakes every process sleeping on it.
func (l *Lock) Release(w Waiter) {
	kpanic.Assert(l.locked, "sleeplock %q: release of unlocked lock", l.name)

	l.locked = false
	l.pid = 0
	w.Wakeup(l.chan_)
}

// Holding reports whether the lock is held by the given process, used
// before operations that require the caller already hold the lock (spec.md
// §4.7, "reading or writing a buffer's data without holding its sleep lock
// is a bug").
func (l *Lock) Holding(pid int) bool {
	return l.locked && l.pid == pid
}

// Name returns the lock's diagnostic name.
func (l *Lock) Name() string { return l.name }
