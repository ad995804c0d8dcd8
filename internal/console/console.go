// Package console wires the UART into the file layer as the major=1
// character device (spec.md §4.8): a line-edited input queue with three
// cursors, and unbuffered output: each written byte goes to the UART as it
// comes, with no line buffering.
//
// Grounded on original_source/kernel/console.c's three-cursor input
// buffer (r/w/e: read, write-commit, edit) and its consoleintr/
// consoleread/consolewrite split, wired to internal/uart the way
// internal/vm/kbd.go's device feeds its controller through a callback.
package console

import (
	"github.com/coursekernel/riscvkernel/internal/file"
	"github.com/coursekernel/riscvkernel/internal/spinlock"
	"github.com/coursekernel/riscvkernel/internal/uart"
)

// BufSize is the capacity of the input ring (original_source's INPUT_BUF).
const BufSize = 128

const (
	backspace = 0x08
	del       = 0x7f
	ctrlD     = 0x04 // EOF
	newline   = '\n'
	carriage  = '\r'
)

// consoleMajor is the device-switch major number the console registers
// under (spec.md §4.8, "Console driver (major=1)").
const consoleMajor = 1

// Console is the console device: an input ring fed by UART interrupts and
// an output path that writes straight through to the UART.
type Console struct {
	u *uart.UART

	buf [BufSize]byte
	r   uint32 // next byte a reader consumes.
	w   uint32 // next byte made visible to readers (write-commit).
	e   uint32 // next byte a new keystroke is stored at (edit cursor).

	lock     *spinlock.Lock
	readGate chan any

	// wake fires readGate for whichever process is sleeping on it. Console
	// runs inside an interrupt handler, which has no process context of its
	// own, so it cannot call sleeplock.Waiter.Wakeup directly; Bind supplies
	// that capability once a scheduler exists, the same indirection
	// kpanic.Bind uses for internal/hart.
	wake func(chan any)
}

// New creates a console over u and registers its interrupt handler so
// every received byte reaches interrupt.
func New(u *uart.UART) *Console {
	c := &Console{
		u:        u,
		lock:     spinlock.New("console"),
		readGate: make(chan any),
	}

	u.OnInput(c.interrupt)

	return c
}

// Bind supplies the wakeup callback used to release blocked readers once a
// line is committed. Called once during boot after the scheduler exists.
func (c *Console) Bind(wake func(chan any)) { c.wake = wake }

// interrupt implements line editing over one incoming byte (spec.md
// §4.8's Console driver paragraph): backspace rewinds the edit cursor,
// newline/EOF/buffer-full commits the line and wakes readers, anything
// else is echoed and stored. It does not take c.lock: a real handler runs
// with this hart's interrupts masked, the same non-preemption guarantee
// c.lock's PushOff/PopOff would otherwise provide, so a second entry to
// interrupt can never interleave with a Read holding the lock.
func (c *Console) interrupt(b byte) {
	switch b {
	case backspace, del:
		if c.e != c.w {
			c.e--
			c.u.Puts("\b \b")
		}

	default:
		if b != 0 && c.e-c.r < BufSize {
			if b == carriage {
				b = newline
			}

			c.echo(b)

			c.buf[c.e%BufSize] = b
			c.e++

			if b == newline || b == ctrlD || c.e-c.r == BufSize {
				c.w = c.e

				if c.wake != nil {
					c.wake(c.readGate)
				}
			}
		}
	}
}

func (c *Console) echo(b byte) {
	if b == newline {
		c.u.PutcSync('\r')
		c.u.PutcSync('\n')

		return
	}

	c.u.PutcSync(b)
}

// Read copies bytes from the input ring into dst, blocking until at least
// one line (or EOF) has been committed, then stopping at the first
// newline or EOF byte it copies (spec.md §4.8's Console driver paragraph).
func (c *Console) Read(w file.PipeWaiter, dst []byte) (int, error) {
	c.lock.Acquire(w, int64(w.CurrentPID()))
	defer c.lock.Release(w)

	for c.r == c.w {
		c.lock.Release(w)
		w.Sleep(c.readGate)
		c.lock.Acquire(w, int64(w.CurrentPID()))
	}

	n := 0
	for n < len(dst) && c.r != c.w {
		b := c.buf[c.r%BufSize]
		c.r++

		dst[n] = b
		n++

		if b == newline || b == ctrlD {
			break
		}
	}

	return n, nil
}

// Write sends src to the UART one byte at a time, each byte as it comes.
// Output is not buffered by line or batched.
func (c *Console) Write(_ file.PipeWaiter, src []byte) (int, error) {
	for _, b := range src {
		c.u.PutcSync(b)
	}

	return len(src), nil
}

// Install registers c as the device-switch entry for major=1, so opening
// the console device file dispatches reads and writes through it.
func Install(c *Console) {
	file.DevSW[consoleMajor] = file.Device{
		Read:  c.Read,
		Write: c.Write,
	}
}
