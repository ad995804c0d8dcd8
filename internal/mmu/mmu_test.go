package mmu_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coursekernel/riscvkernel/internal/config"
	"github.com/coursekernel/riscvkernel/internal/mmu"
	"github.com/coursekernel/riscvkernel/internal/pmem"
)

const (
	testBase  = 0x8800_0000
	testPages = 64
	testLimit = testBase + testPages*config.PageSize
)

func newTable(t *testing.T) (*mmu.PageTable, *pmem.Allocator) {
	t.Helper()

	frame := pmem.New(testBase, testLimit)
	pt, err := mmu.New(frame)
	require.NoError(t, err)

	return pt, frame
}

func TestMapAndTranslate(t *testing.T) {
	pt, frame := newTable(t)

	pa := frame.Alloc()
	require.NotZero(t, pa)

	const va = uintptr(0x1000)
	require.NoError(t, pt.Map(va, pa, mmu.PTER|mmu.PTEW|mmu.PTEU))

	got, err := pt.Translate(va + 10)
	require.NoError(t, err)
	assert.Equal(t, pa+10, got)
}

func TestTranslateUnmappedFails(t *testing.T) {
	pt, _ := newTable(t)

	_, err := pt.Translate(0x4000)
	assert.ErrorIs(t, err, mmu.ErrNotMapped)
}

func TestRemapPanics(t *testing.T) {
	pt, frame := newTable(t)

	pa := frame.Alloc()
	require.NotZero(t, pa)

	const va = uintptr(0x2000)
	require.NoError(t, pt.Map(va, pa, mmu.PTER|mmu.PTEW))

	assert.Panics(t, func() {
		_ = pt.Map(va, pa, mmu.PTER)
	})
}

func TestUnmapThenTranslateFails(t *testing.T) {
	pt, frame := newTable(t)

	pa := frame.Alloc()
	require.NotZero(t, pa)

	const va = uintptr(0x3000)
	require.NoError(t, pt.Map(va, pa, mmu.PTER))

	require.NoError(t, pt.Unmap(va, false))

	_, err := pt.Translate(va)
	assert.ErrorIs(t, err, mmu.ErrNotMapped)
}

func TestCopyOutAndCopyInRoundTrip(t *testing.T) {
	pt, frame := newTable(t)

	pa := frame.Alloc()
	require.NotZero(t, pa)

	const va = uintptr(0x5000)
	require.NoError(t, pt.Map(va, pa, mmu.PTER|mmu.PTEW))

	want := []byte("hello kernel")
	require.NoError(t, pt.CopyOut(va+100, want))

	got := make([]byte, len(want))
	require.NoError(t, pt.CopyIn(got, va+100))
	assert.Equal(t, want, got)
}

func TestCopyInStringStopsAtNUL(t *testing.T) {
	pt, frame := newTable(t)

	pa := frame.Alloc()
	require.NotZero(t, pa)

	const va = uintptr(0x6000)
	require.NoError(t, pt.Map(va, pa, mmu.PTER|mmu.PTEW))

	require.NoError(t, pt.CopyOut(va, []byte("/bin/sh\x00garbage")))

	s, err := pt.CopyInString(va)
	require.NoError(t, err)
	assert.Equal(t, "/bin/sh", s)
}

func TestCopyInStringUnterminatedFails(t *testing.T) {
	pt, frame := newTable(t)

	pa := frame.Alloc()
	require.NotZero(t, pa)

	const va = uintptr(0x7000)
	require.NoError(t, pt.Map(va, pa, mmu.PTER|mmu.PTEW))

	filler := make([]byte, config.PageSize)
	for i := range filler {
		filler[i] = 'x'
	}

	require.NoError(t, pt.CopyOut(va, filler))

	_, err := pt.CopyInString(va)
	assert.Error(t, err)
}

func TestMapRangeRollsBackOnExhaustion(t *testing.T) {
	// One frame for the root table, one for va0's leaf page, two for va0's
	// new level-1 and level-0 interior tables: enough to map va0 but
	// nothing left over for the second level-0 table va1 requires.
	frame := pmem.New(testBase, testBase+4*config.PageSize)
	pt, err := mmu.New(frame)
	require.NoError(t, err)

	pa := frame.Alloc()
	require.NotZero(t, pa)

	// va0 is the last page indexed by its level-0 table (PX(0)==511); va1
	// is the first page of the next level-0 table, forcing a fresh
	// interior-table allocation that the tiny pool cannot satisfy.
	va0 := uintptr(511) << config.PageOffsetBits
	va1 := va0 + config.PageSize

	err = pt.MapRange(va0, pa, 2*config.PageSize, mmu.PTER|mmu.PTEW)
	assert.Error(t, err)

	_, err = pt.Translate(va0)
	assert.ErrorIsf(t, err, mmu.ErrNotMapped, "partially mapped page at %#x must be rolled back", va0)

	_, err = pt.Translate(va1)
	assert.ErrorIs(t, err, mmu.ErrNotMapped)
}

func TestFreeReturnsAllFrames(t *testing.T) {
	frame := pmem.New(testBase, testLimit)
	before := frame.NumFree()

	pt, err := mmu.New(frame)
	require.NoError(t, err)

	pa := frame.Alloc()
	require.NotZero(t, pa)

	require.NoError(t, pt.Map(0x1000, pa, mmu.PTER|mmu.PTEW|mmu.PTEU))
	require.NoError(t, pt.Map(0x40_0000, frame.Alloc(), mmu.PTER)) // crosses into a new level-0 table

	pt.Free(true)

	assert.Equal(t, before, frame.NumFree())
}
