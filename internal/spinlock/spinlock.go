// Package spinlock implements the kernel's mutual-exclusion primitive for
// short critical sections (spec.md §4.3): busy-wait acquire built on the
// hart's interrupt-disable nesting, so a lock held by the only hart can
// never be preempted out from under its holder.
//
// Grounded on original_source/kernel/spinlock.c's acquire/release pair
// (test-and-set plus push_off/pop_off), expressed in the teacher's
// device-state idiom: a small struct with a name and owner field for
// debugging, the way internal/vm/vm.go tags its registers and status word
// with descriptive names rather than leaving bare state.
package spinlock

import (
	"sync/atomic"

	"github.com/coursekernel/riscvkernel/internal/kpanic"
)

// Nester is the subset of *hart.Hart a spinlock needs: the interrupt-disable
// nesting stack. Declared as an interface here, rather than importing
// internal/hart directly, so spinlock has no dependency on the hart package
// (a spinlock is conceptually hart-independent state; only acquire/release
// touch a particular hart).
type Nester interface {
	PushOff()
	PopOff()
}

// Lock is a spinlock. The zero value is not usable; construct with New.
type Lock struct {
	locked atomic.Bool
	name   string

	// owner names the calling hart at the moment of acquisition, for the
	// reentrant-acquire panic message. It is not used for correctness.
	owner atomic.Int64
}

// New creates a named, unlocked spinlock. The name is carried only for
// diagnostics, matching original_source's struct spinlock.name.
func New(name string) *Lock {
	l := &Lock{name: name}
	l.owner.Store(-1)

	return l
}

// Acquire disables interrupts on h and busy-waits for the lock. Acquiring a
// lock already held by the calling hart is a fatal invariant violation
// (spec.md §4.3, "a single hart re-acquiring a lock it already holds... is
// a bug to be caught, not silently allowed to deadlock"), detected before
// spinning rather than left to hang forever.
func (l *Lock) Acquire(h Nester, id int64) {
	h.PushOff()

	if l.locked.Load() && l.owner.Load() == id {
		kpanic.Panic("spinlock %q: reacquire by hart %d", l.name, id)
	}

	for !l.locked.CompareAndSwap(false, true) {
		// Spin. A real hart would pause or yield to a hardware thread
		// here; single-hart means the holder always runs this lock's
		// critical section to completion before the next PopOff, so a
		// tight spin never outlives a context switch.
	}

	l.owner.Store(id)
}

// Release clears the lock and restores the hart's interrupt state.
func (l *Lock) Release(h Nester) {
	l.owner.Store(-1)
	l.locked.Store(false)
	h.PopOff()
}

// Held reports whether the lock is currently held, used by assertions that
// a caller holds (or does not hold) a particular lock before touching
// shared state.
func (l *Lock) Held() bool { return l.locked.Load() }

// Name returns the lock's diagnostic name.
func (l *Lock) Name() string { return l.name }
