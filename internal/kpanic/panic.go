// Package kpanic implements the kernel's fatal-error path (spec.md §7.1):
// flush the console, disable interrupts, print the cause, and halt forever.
// It is the generalization of the single panic call the teacher makes at
// vm.New when device mapping fails, turned into the one helper every
// subsystem calls for an invariant violation.
package kpanic

import (
	"fmt"
	"os"

	"github.com/coursekernel/riscvkernel/internal/log"
)

// Halter disables interrupts on the hart. Implemented by internal/hart; kept
// as an interface here so kpanic has no dependency on hart.
type Halter interface {
	DisableInterrupts()
}

var hart Halter

// Bind registers the hart whose interrupts are disabled on panic. Called
// once during boot.
func Bind(h Halter) { hart = h }

// Panic reports a fatal internal invariant violation and halts the
// simulated machine. It never returns.
func Panic(cause string, args ...any) {
	logger := log.DefaultLogger()
	msg := fmt.Sprintf(cause, args...)

	logger.Error("PANIC", "cause", msg)
	_ = os.Stderr.Sync()

	if hart != nil {
		hart.DisableInterrupts()
	}

	panic("kernel panic: " + msg)
}

// Assert panics with cause if cond is false. It mirrors the many "fatal if"
// invariant checks spec.md names (double-free, remap, sleep lock release by
// non-owner, log overflow, ...).
func Assert(cond bool, cause string, args ...any) {
	if !cond {
		Panic(cause, args...)
	}
}
