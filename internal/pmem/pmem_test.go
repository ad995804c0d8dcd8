package pmem_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coursekernel/riscvkernel/internal/config"
	"github.com/coursekernel/riscvkernel/internal/pmem"
)

const (
	testBase  = 0x8800_0000
	testPages = 8
	testLimit = testBase + testPages*config.PageSize
)

func TestNewFreesWholeRange(t *testing.T) {
	a := pmem.New(testBase, testLimit)

	require.Equal(t, testPages, a.NumFree())
}

func TestAllocReturnsZeroedPage(t *testing.T) {
	a := pmem.New(testBase, testLimit)

	pa := a.Alloc()
	require.NotZero(t, pa)

	frame := a.Frame(pa)
	for i, b := range frame {
		require.Zerof(t, b, "frame byte %d not zeroed", i)
	}
}

func TestAllocDecrementsFreeCount(t *testing.T) {
	a := pmem.New(testBase, testLimit)

	before := a.NumFree()
	pa := a.Alloc()
	require.NotZero(t, pa)
	assert.Equal(t, before-1, a.NumFree())
}

func TestAllocExhaustionReturnsZero(t *testing.T) {
	a := pmem.New(testBase, testLimit)

	for i := 0; i < testPages; i++ {
		require.NotZero(t, a.Alloc())
	}

	assert.Zero(t, a.Alloc())
}

func TestFreeReturnsFrameToPool(t *testing.T) {
	a := pmem.New(testBase, testLimit)

	pa := a.Alloc()
	require.NotZero(t, pa)

	before := a.NumFree()
	a.Free(pa)
	assert.Equal(t, before+1, a.NumFree())
}

func TestAllocIsLIFO(t *testing.T) {
	a := pmem.New(testBase, testLimit)

	first := a.Alloc()
	second := a.Alloc()
	require.NotZero(t, first)
	require.NotZero(t, second)

	a.Free(first)
	a.Free(second)

	// second was freed last, so it is the top of the LIFO free list.
	assert.Equal(t, second, a.Alloc())
	assert.Equal(t, first, a.Alloc())
}

func TestFreeOutOfRangePanics(t *testing.T) {
	a := pmem.New(testBase, testLimit)

	assert.Panics(t, func() {
		a.Free(testLimit + config.PageSize)
	})
}

func TestFreeMisalignedPanics(t *testing.T) {
	a := pmem.New(testBase, testLimit)

	pa := a.Alloc()
	require.NotZero(t, pa)

	assert.Panics(t, func() {
		a.Free(pa + 1)
	})
}

func TestFreeDoubleFreePanics(t *testing.T) {
	a := pmem.New(testBase, testLimit)

	pa := a.Alloc()
	require.NotZero(t, pa)

	a.Free(pa)

	assert.Panics(t, func() {
		a.Free(pa)
	})
}

func TestNewRejectsMisalignedBounds(t *testing.T) {
	assert.Panics(t, func() {
		pmem.New(testBase+1, testLimit)
	})
}

func TestBaseAndLimit(t *testing.T) {
	a := pmem.New(testBase, testLimit)

	assert.Equal(t, uintptr(testBase), a.Base())
	assert.Equal(t, uintptr(testLimit), a.Limit())
}
