package spinlock_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/coursekernel/riscvkernel/internal/spinlock"
)

// fakeNester counts push/pop calls without any real interrupt state, since
// spinlock only needs the nesting protocol, not a real hart.
type fakeNester struct {
	depth int
}

func (f *fakeNester) PushOff() { f.depth++ }
func (f *fakeNester) PopOff()  { f.depth-- }

func TestAcquireReleaseRoundTrip(t *testing.T) {
	l := spinlock.New("test")
	n := &fakeNester{}

	l.Acquire(n, 1)
	assert.True(t, l.Held())
	assert.Equal(t, 1, n.depth)

	l.Release(n)
	assert.False(t, l.Held())
	assert.Equal(t, 0, n.depth)
}

func TestReacquireBySameHartPanics(t *testing.T) {
	l := spinlock.New("test")
	n := &fakeNester{}

	l.Acquire(n, 7)

	assert.Panics(t, func() {
		l.Acquire(n, 7)
	})
}

func TestNameReturnsConstructorArg(t *testing.T) {
	l := spinlock.New("bcache")
	assert.Equal(t, "bcache", l.Name())
}
