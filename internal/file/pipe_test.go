package file_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coursekernel/riscvkernel/internal/file"
)

// registry lets independent fakeProc instances rendezvous on the same
// sleep channel, mirroring internal/sleeplock's test fakes.
type registry struct {
	mu   sync.Mutex
	wake map[chan any]chan struct{}
}

func newRegistry() *registry { return &registry{wake: make(map[chan any]chan struct{})} }

func (r *registry) gate(ch chan any) chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.wake[ch]
	if !ok {
		g = make(chan struct{})
		r.wake[ch] = g
	}

	return g
}

type fakeProc struct {
	*registry
	pid   int
	depth int
}

func newFakeProc(r *registry, pid int) *fakeProc { return &fakeProc{registry: r, pid: pid} }

func (p *fakeProc) Sleep(ch chan any) {
	<-p.gate(ch)
}

func (p *fakeProc) Wakeup(ch chan any) {
	p.mu.Lock()
	g, ok := p.wake[ch]
	if ok {
		delete(p.wake, ch)
	}
	p.mu.Unlock()

	if ok {
		close(g)
	}
}

func (p *fakeProc) CurrentPID() int { return p.pid }
func (p *fakeProc) PushOff()        { p.depth++ }
func (p *fakeProc) PopOff()         { p.depth-- }

var _ file.PipeWaiter = (*fakeProc)(nil)

func TestPipeWriteThenReadRoundTrip(t *testing.T) {
	reg := newRegistry()
	reader := newFakeProc(reg, 1)
	writer := newFakeProc(reg, 2)

	p := file.NewPipe()

	n, err := p.Write(writer, []byte("Hello World\x00"))
	require.NoError(t, err)
	assert.Equal(t, 12, n)

	dst := make([]byte, 100)
	n, err = p.Read(reader, dst)
	require.NoError(t, err)
	assert.Equal(t, 12, n)
	assert.Equal(t, "Hello World\x00", string(dst[:n]))
}

func TestPipeReadBlocksUntilWriteEndCloses(t *testing.T) {
	reg := newRegistry()
	reader := newFakeProc(reg, 1)
	writer := newFakeProc(reg, 2)

	p := file.NewPipe()

	done := make(chan struct{})

	go func() {
		dst := make([]byte, 10)
		n, err := p.Read(reader, dst)
		assert.NoError(t, err)
		assert.Equal(t, 0, n)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("read returned before write end closed")
	case <-time.After(30 * time.Millisecond):
	}

	p.Close(writer, true)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("read never unblocked after write end closed")
	}
}

func TestPipeWriteAfterReadEndClosedFails(t *testing.T) {
	reg := newRegistry()
	reader := newFakeProc(reg, 1)
	writer := newFakeProc(reg, 2)

	p := file.NewPipe()
	p.Close(reader, false)

	_, err := p.Write(writer, []byte("x"))
	assert.ErrorIs(t, err, file.ErrPipeClosed)
}

func TestOpenPipeInstallsReadAndWriteEnds(t *testing.T) {
	tbl := file.NewTable()

	rf, wf, err := file.OpenPipe(tbl)
	require.NoError(t, err)
	assert.True(t, rf.Readable)
	assert.False(t, rf.Writable)
	assert.True(t, wf.Writable)
	assert.False(t, wf.Readable)
	assert.Same(t, rf.Pipe, wf.Pipe)
}

func TestTableAllocExhaustionReturnsError(t *testing.T) {
	tbl := file.NewTable()

	var err error
	for i := 0; i < 1000; i++ {
		if _, err = tbl.Alloc(); err != nil {
			break
		}
	}

	assert.ErrorIs(t, err, file.ErrTableFull)
}

func TestDupIncrementsRefcountCloseIsIdempotentUntilZero(t *testing.T) {
	reg := newRegistry()
	w := newFakeProc(reg, 1)

	tbl := file.NewTable()
	rf, wf, err := file.OpenPipe(tbl)
	require.NoError(t, err)

	dup := tbl.Dup(wf)
	assert.Same(t, wf, dup)

	// Closing once (of two refs) must not close the underlying pipe yet:
	// a blocked reader should still see the write end open.
	tbl.Close(w, nil, nil, wf)

	done := make(chan struct{})
	go func() {
		dst := make([]byte, 1)
		_, _ = rf.Pipe.Read(w, dst)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("reader unblocked after only one of two write refs closed")
	case <-time.After(30 * time.Millisecond):
	}

	tbl.Close(w, nil, nil, dup)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reader never unblocked after last write ref closed")
	}
}
