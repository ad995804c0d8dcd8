// Package uart models the memory-mapped UART (spec.md §2.2, §4.1): polled
// byte output for early boot console printing, and interrupt-driven byte
// input delivered to a registered receiver (the console line editor, §4.8).
//
// Grounded on the teacher's device idiom in internal/vm/kbd.go (a
// self-contained device struct guarded by a mutex, with a status/data
// register pair and an Update method the "hardware" side calls to deliver
// new input) generalized from LC-3's word-wide registers to the UART's
// byte-wide ones, and on internal/vm/io.go's driver-interface shape for
// wiring into an interrupt controller.
package uart

import (
	"io"
	"os"
	"sync"

	"github.com/coursekernel/riscvkernel/internal/plic"
)

// UART is a single memory-mapped 16550-style serial port reduced to what
// this kernel needs: synchronous transmit and interrupt-driven receive.
type UART struct {
	mu sync.Mutex

	out io.Writer

	rxReady bool
	rxByte  byte

	irq     uint32
	ctrl    *plic.PLIC
	onInput func(byte)
}

// New creates a UART that writes polled output to out (os.Stdout if nil).
func New(out io.Writer) *UART {
	if out == nil {
		out = os.Stdout
	}

	return &UART{out: out}
}

// Init registers the UART with the interrupt controller under irq.
func (u *UART) Init(ctrl *plic.PLIC, irq uint32) {
	u.ctrl = ctrl
	u.irq = irq
	ctrl.Register(irq, 5, u)
}

// OnInput registers the callback invoked with each received byte from
// interrupt context. The console driver installs its line editor here.
func (u *UART) OnInput(fn func(byte)) {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.onInput = fn
}

// PutcSync writes one byte synchronously: the polled path used during early
// boot before interrupts are configured, and by the console's write path
// (spec.md §4.8, "Writes copy bytes from the user buffer to the UART, one
// at a time").
func (u *UART) PutcSync(b byte) {
	u.mu.Lock()
	defer u.mu.Unlock()

	_, _ = u.out.Write([]byte{b})
}

// Puts writes a string synchronously, used for boot progress lines
// (spec.md §6, "Boot output").
func (u *UART) Puts(s string) {
	for i := 0; i < len(s); i++ {
		u.PutcSync(s[i])
	}
}

// Inject delivers one byte from the outside world (the host terminal, in
// cmd/internal/tty, or a test) and raises the UART's interrupt. It is the
// hardware-side counterpart to HandleIRQ, analogous to the teacher's
// Keyboard.Update.
func (u *UART) Inject(b byte) {
	u.mu.Lock()
	u.rxByte = b
	u.rxReady = true
	ctrl := u.ctrl
	irq := u.irq
	u.mu.Unlock()

	if ctrl != nil {
		ctrl.Raise(irq)
	} else {
		// No controller wired (e.g. unit test): deliver synchronously.
		u.HandleIRQ()
	}
}

// HandleIRQ implements plic.Handler: it reads the pending received byte and
// forwards it to the registered input callback, clearing the ready flag.
func (u *UART) HandleIRQ() {
	u.mu.Lock()
	if !u.rxReady {
		u.mu.Unlock()
		return
	}

	b := u.rxByte
	u.rxReady = false
	fn := u.onInput
	u.mu.Unlock()

	if fn != nil {
		fn(b)
	}
}
