package sem_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coursekernel/riscvkernel/internal/sem"
)

// fakeWaiter is a minimal sleeplock.Waiter good enough to exercise Table
// directly, without pulling in a whole proc.Scheduler: Sleep/Wakeup here
// are plain condition-variable-style rendezvous on the channel identity
// sem.Table hands them, which is all Table actually depends on.
type fakeWaiter struct {
	mu   sync.Mutex
	cond map[chan any]chan struct{}
	pid  int
}

func newFakeWaiter(pid int) *fakeWaiter {
	return &fakeWaiter{cond: make(map[chan any]chan struct{}), pid: pid}
}

func (w *fakeWaiter) register(ch chan any) chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()

	if c, ok := w.cond[ch]; ok {
		return c
	}

	c := make(chan struct{})
	w.cond[ch] = c

	return c
}

func (w *fakeWaiter) Sleep(ch chan any) { <-w.register(ch) }

func (w *fakeWaiter) Wakeup(ch chan any) {
	w.mu.Lock()
	c, ok := w.cond[ch]
	delete(w.cond, ch)
	w.mu.Unlock()

	if ok {
		close(c)
	}
}

func (w *fakeWaiter) CurrentPID() int { return w.pid }

func TestOpenAssignsDistinctHandles(t *testing.T) {
	table := sem.New()

	h1, err := table.Open(1)
	require.NoError(t, err)

	h2, err := table.Open(0)
	require.NoError(t, err)

	assert.NotEqual(t, h1, h2)
}

func TestWaitConsumesAvailableValueWithoutBlocking(t *testing.T) {
	table := sem.New()
	h, err := table.Open(1)
	require.NoError(t, err)

	w := newFakeWaiter(1)

	done := make(chan error, 1)
	go func() { done <- table.Wait(w, h) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("wait on available semaphore blocked")
	}
}

func TestWaitBlocksUntilSignal(t *testing.T) {
	table := sem.New()
	h, err := table.Open(0)
	require.NoError(t, err)

	w := newFakeWaiter(1)
	done := make(chan error, 1)

	go func() { done <- table.Wait(w, h) }()

	select {
	case <-done:
		t.Fatal("wait returned before signal")
	case <-time.After(30 * time.Millisecond):
	}

	signaler := newFakeWaiter(2)
	require.NoError(t, table.Signal(signaler, h))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("wait never woke after signal")
	}
}

func TestWaitOnInvalidHandleReturnsError(t *testing.T) {
	table := sem.New()
	w := newFakeWaiter(1)
	assert.ErrorIs(t, table.Wait(w, 7), sem.ErrInvalidHandle)
}

func TestSignalOnInvalidHandleReturnsError(t *testing.T) {
	table := sem.New()
	w := newFakeWaiter(1)
	assert.ErrorIs(t, table.Signal(w, 7), sem.ErrInvalidHandle)
}
