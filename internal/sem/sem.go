// Package sem implements the counting semaphores spec.md §4.14 exposes to
// user processes through sem_open/sem_wait/sem_signal: a fixed-size table
// of nonnegative counters, each identified by its table index.
//
// Grounded on original_source/include/sem.h's struct semaphore (used flag
// plus value) and original_source/kernel/sem.c's sem_open/sem_wait/
// sem_signal: sem_wait loops on sleep(sem) while the value is zero (never
// a single sleep, since wakeup over-notifies every waiter) and decrements
// only after waking to find the value nonzero; sem_signal increments then
// wakes everyone parked on this semaphore.
package sem

import (
	"errors"
	"sync"

	"github.com/coursekernel/riscvkernel/internal/config"
	"github.com/coursekernel/riscvkernel/internal/sleeplock"
)

var ErrInvalidHandle = errors.New("sem: invalid or unopened handle")

type semaphore struct {
	used  bool
	value int
	gate  chan any // this semaphore's own identity as a sleep address.
}

// Table is the system-wide semaphore array, config.NSEM slots, matching
// original_source's fixed sems[MAX_SEMS] array.
type Table struct {
	mu   sync.Mutex
	sems [config.NSEM]semaphore
}

// New creates an empty semaphore table.
func New() *Table { return &Table{} }

// Open finds an unused slot, initializes it to initVal, and returns its
// handle (original_source's sem_open). Returns ErrInvalidHandle if every
// slot is in use.
func (t *Table) Open(initVal int) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.sems {
		if !t.sems[i].used {
			t.sems[i] = semaphore{used: true, value: initVal, gate: make(chan any)}
			return i, nil
		}
	}

	return 0, ErrInvalidHandle
}

func (t *Table) valid(handle int) bool {
	return handle >= 0 && handle < config.NSEM && t.sems[handle].used
}

// Wait blocks until the semaphore's value is nonzero, then decrements it
// (original_source's sem_wait): the while-loop-around-sleep shape guards
// against wakeup's over-notification waking more than one waiter for a
// single unit of value.
func (t *Table) Wait(w sleeplock.Waiter, handle int) error {
	t.mu.Lock()
	if !t.valid(handle) {
		t.mu.Unlock()
		return ErrInvalidHandle
	}
	gate := t.sems[handle].gate
	t.mu.Unlock()

	for {
		t.mu.Lock()
		if t.sems[handle].value > 0 {
			t.sems[handle].value--
			t.mu.Unlock()
			return nil
		}
		t.mu.Unlock()

		w.Sleep(gate)
	}
}

// Signal increments the semaphore's value and wakes every process sleeping
// on it (original_source's sem_signal).
func (t *Table) Signal(w sleeplock.Waiter, handle int) error {
	t.mu.Lock()
	if !t.valid(handle) {
		t.mu.Unlock()
		return ErrInvalidHandle
	}
	t.sems[handle].value++
	gate := t.sems[handle].gate
	t.mu.Unlock()

	w.Wakeup(gate)

	return nil
}
