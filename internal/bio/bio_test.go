package bio_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coursekernel/riscvkernel/internal/bio"
	"github.com/coursekernel/riscvkernel/internal/config"
)

type fakeNester struct{}

func (fakeNester) PushOff() {}
func (fakeNester) PopOff()  {}

type fakeWaiter struct{ pid int }

func (fakeWaiter) Sleep(chan any)   { panic("unexpected sleep in uncontended test") }
func (fakeWaiter) Wakeup(chan any)  {}
func (w fakeWaiter) CurrentPID() int { return w.pid }

type fakeDevice struct {
	blocks map[uint32][config.BlockSize]byte
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{blocks: make(map[uint32][config.BlockSize]byte)}
}

func (d *fakeDevice) ReadBlock(blockno uint32, dst []byte) error {
	b := d.blocks[blockno]
	copy(dst, b[:])

	return nil
}

func (d *fakeDevice) WriteBlock(blockno uint32, src []byte) error {
	var b [config.BlockSize]byte
	copy(b[:], src)
	d.blocks[blockno] = b

	return nil
}

func TestReadMissLoadsFromDevice(t *testing.T) {
	dev := newFakeDevice()
	var data [config.BlockSize]byte
	data[0] = 0x42
	dev.blocks[5] = data

	c := bio.New(dev, fakeNester{})
	w := fakeWaiter{pid: 1}

	buf := c.Read(w, 1, 5)
	assert.True(t, buf.Valid)
	assert.Equal(t, byte(0x42), buf.Data[0])

	c.Release(w, buf)
}

func TestReadHitDoesNotReReadDevice(t *testing.T) {
	dev := newFakeDevice()
	c := bio.New(dev, fakeNester{})
	w := fakeWaiter{pid: 1}

	b1 := c.Read(w, 1, 9)
	b1.Data[0] = 0x99
	c.Release(w, b1)

	b2 := c.Read(w, 1, 9)
	assert.Equal(t, byte(0x99), b2.Data[0])
	c.Release(w, b2)
}

func TestWritePersistsToDevice(t *testing.T) {
	dev := newFakeDevice()
	c := bio.New(dev, fakeNester{})
	w := fakeWaiter{pid: 1}

	buf := c.Read(w, 1, 2)
	buf.Data[10] = 0x7

	require.NoError(t, c.Write(buf))
	c.Release(w, buf)

	assert.Equal(t, byte(0x7), dev.blocks[2][10])
}

func TestSameBlockReturnsSameBufferAcrossHolders(t *testing.T) {
	dev := newFakeDevice()
	c := bio.New(dev, fakeNester{})
	w := fakeWaiter{pid: 1}

	b1 := c.Read(w, 1, 4)
	c.Release(w, b1)

	b2 := c.Read(w, 1, 4)
	assert.Same(t, b1, b2)
	c.Release(w, b2)
}

func TestExhaustionPanics(t *testing.T) {
	dev := newFakeDevice()
	c := bio.New(dev, fakeNester{})
	w := fakeWaiter{pid: 1}

	held := make([]*bio.Buf, 0, config.NBUF)
	for i := uint32(0); i < config.NBUF; i++ {
		held = append(held, c.Read(w, 1, i))
	}

	assert.Panics(t, func() {
		c.Read(w, 1, config.NBUF+1)
	})

	for _, b := range held {
		c.Release(w, b)
	}
}
