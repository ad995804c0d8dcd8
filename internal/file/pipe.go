package file

import (
	"errors"

	"github.com/coursekernel/riscvkernel/internal/sleeplock"
	"github.com/coursekernel/riscvkernel/internal/spinlock"
)

// PipeWaiter is what a pipe needs from the calling process: the sleep
// lock's Sleep/Wakeup rendezvous to block on an empty or full buffer, and
// the spinlock interrupt-disable nesting to guard cursor updates.
type PipeWaiter interface {
	sleeplock.Waiter
	spinlock.Nester
}

// PipeSize is the fixed capacity of a pipe's circular buffer (spec.md
// §4.8, "The buffer is a fixed capacity of 512 bytes").
const PipeSize = 512

// ErrPipeClosed reports a write to a pipe whose read end has already
// closed (spec.md §4.8, "on read-end closed, returns -1 and wakes
// waiters").
var ErrPipeClosed = errors.New("file: write on closed pipe")

// Pipe is a fixed-size circular byte buffer shared between a read end and
// a write end, with independent monotonically increasing cursors
// (spec.md §3's Pipe type).
type Pipe struct {
	buf [PipeSize]byte

	nread  uint32 // bytes consumed so far.
	nwrite uint32 // bytes produced so far.

	readOpen  bool
	writeOpen bool

	lock      *spinlock.Lock
	readGate  chan any // woken when data is written or the write end closes.
	writeGate chan any // woken when data is read or the read end closes.
}

// NewPipe creates a pipe with both ends open.
func NewPipe() *Pipe {
	return &Pipe{
		readOpen:  true,
		writeOpen: true,
		lock:      spinlock.New("pipe"),
		readGate:  make(chan any),
		writeGate: make(chan any),
	}
}

// OpenPipe creates a pipe and wraps its two ends in file-table entries,
// ready to be installed as file descriptors by a syscall handler.
func OpenPipe(t *Table) (readEnd, writeEnd *File, err error) {
	p := NewPipe()

	rf, err := t.Alloc()
	if err != nil {
		return nil, nil, err
	}

	rf.Kind, rf.Readable, rf.Writable, rf.Pipe = KindPipe, true, false, p

	wf, err := t.Alloc()
	if err != nil {
		rf.ref = 0
		return nil, nil, err
	}

	wf.Kind, wf.Readable, wf.Writable, wf.Pipe = KindPipe, false, true, p

	return rf, wf, nil
}

// Close marks one end of the pipe closed and wakes whichever side might be
// blocked waiting on the other.
func (p *Pipe) Close(w PipeWaiter, isWriteEnd bool) {
	p.lock.Acquire(w, int64(w.CurrentPID()))
	defer p.lock.Release(w)

	if isWriteEnd {
		p.writeOpen = false
		w.Wakeup(p.readGate)
	} else {
		p.readOpen = false
		w.Wakeup(p.writeGate)
	}
}

// Read blocks while the buffer is empty and the write end is open; once
// the write end closes, an empty buffer reads as EOF (0, nil) rather than
// blocking forever (spec.md §4.8's Pipe semantics).
func (p *Pipe) Read(w PipeWaiter, dst []byte) (int, error) {
	p.lock.Acquire(w, int64(w.CurrentPID()))
	defer p.lock.Release(w)

	for p.nread == p.nwrite && p.writeOpen {
		p.lock.Release(w)
		w.Sleep(p.readGate)
		p.lock.Acquire(w, int64(w.CurrentPID()))
	}

	i := 0
	for i < len(dst) && p.nread < p.nwrite {
		dst[i] = p.buf[p.nread%PipeSize]
		p.nread++
		i++
	}

	w.Wakeup(p.writeGate)

	return i, nil
}

// Write blocks while the buffer is full and the read end is open; once
// the read end closes, Write stops accepting bytes and reports
// ErrPipeClosed (spec.md §4.8, "on read-end closed, returns -1").
func (p *Pipe) Write(w PipeWaiter, src []byte) (int, error) {
	p.lock.Acquire(w, int64(w.CurrentPID()))
	defer p.lock.Release(w)

	i := 0
	for i < len(src) {
		if !p.readOpen {
			w.Wakeup(p.readGate)
			return i, ErrPipeClosed
		}

		if p.nwrite-p.nread == PipeSize {
			p.lock.Release(w)
			w.Sleep(p.writeGate)
			p.lock.Acquire(w, int64(w.CurrentPID()))

			continue
		}

		p.buf[p.nwrite%PipeSize] = src[i]
		p.nwrite++
		i++
	}

	w.Wakeup(p.readGate)

	return i, nil
}
