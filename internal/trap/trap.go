// Package trap implements the trap dispatcher (spec.md §4.10): the ecall
// path that hands control to the syscall table, the timer-interrupt path
// that advances the simulated clock and wakes tick-based sleepers, the
// external-interrupt path that delegates to the interrupt controller, and
// the page-fault/unknown-exception path that panics.
//
// Grounded on original_source/kernel/trap.c's usertrap/kerneltrap dispatch:
// the same cause-code switch, just reached by a direct call rather than a
// trampoline. There is no real trap entry in this simulation (SPEC_FULL.md's
// REDESIGN section): a process's Body closure calls Ecall wherever it would
// otherwise execute an ecall instruction, the same "a Go function call
// stands in for an instruction" move internal/hart makes for CSR access,
// and the scheduler's timer hook calls Timer once per dispatch pass instead
// of a hardware timer firing mid-instruction.
package trap

import (
	"github.com/coursekernel/riscvkernel/internal/config"
	"github.com/coursekernel/riscvkernel/internal/hart"
	"github.com/coursekernel/riscvkernel/internal/kpanic"
	"github.com/coursekernel/riscvkernel/internal/log"
	"github.com/coursekernel/riscvkernel/internal/plic"
	"github.com/coursekernel/riscvkernel/internal/proc"
	"github.com/coursekernel/riscvkernel/internal/syscall"
)

// Dispatcher wires the hart, the scheduler, the interrupt controller, and
// the syscall table together, exposing one method per trap cause spec.md
// §4.10 names.
type Dispatcher struct {
	hart  *hart.Hart
	sched *proc.Scheduler
	sys   *syscall.Table
	plic  *plic.PLIC
	log   *log.Logger

	ticks uint64
}

// New builds a trap dispatcher bound to the given kernel subsystems.
func New(h *hart.Hart, sched *proc.Scheduler, sys *syscall.Table, pl *plic.PLIC) *Dispatcher {
	return &Dispatcher{hart: h, sched: sched, sys: sys, plic: pl, log: log.DefaultLogger()}
}

// Handle reads the hart's pending cause and routes it to the matching path
// (spec.md §4.10's "the dispatcher distinguishes interrupts ... from
// exceptions"). p is the process the trap occurred in; it may be nil for a
// timer or external interrupt the scheduler drives between processes,
// since those two paths do not touch a trap frame.
func (d *Dispatcher) Handle(p *proc.Proc) {
	cause := d.hart.Scause

	switch {
	case cause == hart.InterruptSupervisorTimer:
		d.Timer()

		if p != nil {
			p.Yield()
		}
	case cause == hart.InterruptSupervisorExternal:
		d.ExternalInterrupt()
	case cause == hart.ExceptionEnvCallFromUMode:
		d.Ecall(p)
	case cause == hart.ExceptionInstructionPageFault,
		cause == hart.ExceptionLoadPageFault,
		cause == hart.ExceptionStorePageFault:
		d.PageFault(p, cause)
	default:
		kpanic.Panic("trap: unhandled cause %s", cause)
	}
}

// Ecall handles cause=8, environment call from U-mode (spec.md §4.10's "On
// ecall (cause=8), advance the saved PC by 4, re-enable interrupts, and
// dispatch a system call."). A process's Body calls this directly wherever
// it would otherwise trap via an ecall instruction.
func (d *Dispatcher) Ecall(p *proc.Proc) {
	p.TrapFrame.Epc += 4
	d.hart.EnableInterrupts()
	d.sys.Dispatch(p)
}

// Timer handles a timer interrupt: sets the next deadline, increments the
// shared tick counter, and wakes every process sleeping on the syscall
// table's Ticks channel (spec.md §4.10's "for timer interrupts, set the
// next deadline, increment a global tick counter, wake everyone sleeping on
// the tick counter's address, and yield").
//
// Wired as the scheduler's timer hook (proc.Scheduler.SetTimerHook), so it
// fires once per pass of Run's dispatch loop rather than waiting for a
// hardware timer to interrupt a specific instruction. The caller is
// responsible for the "and yield" half: Handle calls p.Yield after Timer
// when a process is in context, matching spec.md's "timer interrupts
// arriving in user mode cause the kernel to yield after handling the trap".
func (d *Dispatcher) Timer() {
	if !d.hart.Tick() {
		return
	}

	d.hart.SetNextTimer(config.TimerQuantum)
	d.ticks++

	d.sched.Wakeup(d.sys.Ticks)
}

// Ticks returns the number of timer interrupts serviced so far.
func (d *Dispatcher) Ticks() uint64 { return d.ticks }

// ExternalInterrupt handles a device interrupt: claim the pending IRQ from
// the interrupt controller and dispatch it to its registered handler
// (spec.md §4.10's "for external device interrupts, claim an IRQ ...,
// dispatch to the matching registered handler ..., and complete the
// claim"). plic.PLIC.Dispatch already folds claim/complete together.
func (d *Dispatcher) ExternalInterrupt() {
	d.plic.Dispatch()
}

// PageFault handles an instruction/load/store page fault by panicking with
// the cause and faulting program counter (spec.md §4.10's "for page faults,
// panic with cause and faulting program counter"). Real hardware has no
// demand paging or copy-on-write in this kernel, so every page fault is
// fatal.
func (d *Dispatcher) PageFault(p *proc.Proc, cause hart.Scause) {
	epc := uintptr(0)
	if p != nil && p.TrapFrame != nil {
		epc = p.TrapFrame.Epc
	}

	kpanic.Panic("trap: %s at pc=%#x", cause, epc)
}
