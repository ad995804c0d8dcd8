// Package plic models the platform-level interrupt controller: external
// devices raise interrupt requests by IRQ number; the trap dispatcher claims
// the highest-priority pending IRQ, dispatches it to the registered
// handler, and completes the claim (spec.md §4.10, "claim an IRQ from the
// interrupt controller, dispatch to the matching registered handler ...,
// and complete the claim").
//
// This is the RISC-V analogue of the teacher's vm.Interrupt interrupt
// descriptor table (internal/vm/intr.go in the teacher): a small table
// indexed by an integer priority/IRQ number, each entry naming a driver to
// notify. The PLIC's claim/complete protocol replaces the teacher's
// priority-comparison polling because that is how a real PLIC behaves, but
// the "flat table of driver handles keyed by a small integer" shape is
// carried over directly (spec.md §9, "Dynamic dispatch").
package plic

import (
	"sort"
	"sync"

	"github.com/coursekernel/riscvkernel/internal/kpanic"
)

// Handler services an interrupt request. Implemented by the UART and
// virtio-blk drivers.
type Handler interface {
	HandleIRQ()
}

// PLIC is the interrupt controller. Devices raise requests with Raise; the
// trap dispatcher calls Claim/Complete once per external interrupt trap.
type PLIC struct {
	mu       sync.Mutex
	handlers map[uint32]Handler
	pending  map[uint32]bool
	priority map[uint32]uint32
}

// New creates an empty interrupt controller.
func New() *PLIC {
	return &PLIC{
		handlers: make(map[uint32]Handler),
		pending:  make(map[uint32]bool),
		priority: make(map[uint32]uint32),
	}
}

// Register assigns a handler and priority to an IRQ number. Registering the
// same IRQ twice is a configuration bug (the teacher's vm.Interrupt.Register
// logs and ignores a conflict; here static wiring is the only caller, so a
// conflict is a programmer error worth panicking on).
func (p *PLIC) Register(irq uint32, priority uint32, h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.handlers[irq]; ok {
		kpanic.Panic("plic: irq %d already registered", irq)
	}

	p.handlers[irq] = h
	p.priority[irq] = priority
}

// Raise marks an IRQ pending. Called by a device's simulated hardware side
// (e.g. the UART model's byte-arrival timer, the virtqueue's completion
// callback) rather than by kernel code.
func (p *PLIC) Raise(irq uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.pending[irq] = true
}

// Claim returns the highest-priority pending IRQ and clears its pending bit,
// or ok=false if nothing is pending. The trap dispatcher calls this once per
// external-interrupt trap.
func (p *PLIC) Claim() (irq uint32, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var candidates []uint32

	for id, isPending := range p.pending {
		if isPending {
			candidates = append(candidates, id)
		}
	}

	if len(candidates) == 0 {
		return 0, false
	}

	sort.Slice(candidates, func(i, j int) bool {
		return p.priority[candidates[i]] > p.priority[candidates[j]]
	})

	irq = candidates[0]
	delete(p.pending, irq)

	return irq, true
}

// Dispatch claims the pending IRQ, if any, and calls its handler. It
// returns false if nothing was pending.
func (p *PLIC) Dispatch() bool {
	irq, ok := p.Claim()
	if !ok {
		return false
	}

	p.mu.Lock()
	h := p.handlers[irq]
	p.mu.Unlock()

	if h != nil {
		h.HandleIRQ()
	}

	p.Complete(irq)

	return true
}

// Complete acknowledges that the handler has finished servicing the IRQ.
// On real hardware this is a register write; in simulation it is a no-op
// kept for symmetry with the claim/complete protocol spec.md describes.
func (p *PLIC) Complete(irq uint32) {}
