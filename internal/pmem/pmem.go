// Package pmem implements the physical frame allocator (spec.md §4.1):
// page-granular alloc/free over the RAM left after the kernel image, with a
// LIFO free list threaded through the free frames themselves, and the
// backing store other subsystems read and write physical pages through.
//
// Grounded on original_source/kernel/kalloc.c's run-list-in-freed-memory
// design, expressed in the teacher's device-controller idiom: a struct
// guarded by a mutex wrapping a fixed byte array, the way internal/vm/mem.go's
// Memory wraps a fixed array of words. Real kernels address physical RAM
// directly through the hart's MMU; since this kernel simulates the hart
// rather than running on one (SPEC_FULL.md's REDESIGN section), physical
// memory itself is simulated as a single backing slice indexed by physical
// address, the same way vm.Memory backs LC-3's address space with a Go
// array instead of real silicon.
package pmem

import (
	"encoding/binary"
	"sync"

	"github.com/coursekernel/riscvkernel/internal/config"
	"github.com/coursekernel/riscvkernel/internal/kpanic"
	"github.com/coursekernel/riscvkernel/internal/log"
)

// Allocator owns the simulated physical RAM in [base, limit) and hands out
// page frames within it.
type Allocator struct {
	mu   sync.Mutex
	ram  []byte  // len == limit-base; ram[pa-base] is byte pa of physical memory.
	free uintptr // physical address of the head of the free list, or 0.
	// onFreeList tracks, per frame index, whether the frame is currently on
	// the free list. The link-in-freed-memory design alone cannot detect a
	// double free (the second free would just corrupt the list by pointing
	// two link cells at the same next frame), so this bitmap makes the
	// check eager rather than latent.
	onFreeList  []bool
	base, limit uintptr
	nfree       int
	log         *log.Logger
}

// New allocates the simulated RAM backing [base, limit) and frees every
// page in it, mirroring kalloc.c's kinit → freerange sequence. base and
// limit must be page aligned; New panics otherwise, a misaligned boundary
// being a boot-time configuration bug rather than a runtime condition.
func New(base, limit uintptr) *Allocator {
	kpanic.Assert(base%config.PageSize == 0, "pmem: base %#x not page aligned", base)
	kpanic.Assert(limit%config.PageSize == 0, "pmem: limit %#x not page aligned", limit)
	kpanic.Assert(base < limit, "pmem: empty or inverted range [%#x, %#x)", base, limit)

	a := &Allocator{
		base:       base,
		limit:      limit,
		ram:        make([]byte, limit-base),
		onFreeList: make([]bool, (limit-base)/config.PageSize),
		log:        log.DefaultLogger(),
	}

	for pa := base; pa < limit; pa += config.PageSize {
		a.freeLocked(pa)
	}

	a.log.Info("pmem initialized", "base", base, "limit", limit, "frames", a.nfree)

	return a
}

// contains reports whether pa is a page-aligned address within the managed
// range.
func (a *Allocator) contains(pa uintptr) bool {
	return pa%config.PageSize == 0 && pa >= a.base && pa < a.limit
}

// Frame returns the byte slice backing the physical page at pa, for callers
// that read or write physical memory directly: the mmu package walking and
// installing page table entries, and the elf and proc loaders copying
// program bytes into fresh frames. pa must fall within a page this
// allocator owns.
func (a *Allocator) Frame(pa uintptr) []byte {
	kpanic.Assert(pa >= a.base && pa < a.limit, "pmem: frame access out of range %#x", pa)

	off := pa - a.base
	return a.ram[off : off+config.PageSize]
}

// Alloc removes a frame from the free list, zeroes it (spec.md §4.1:
// "returned frames are always zero-filled, so stale kernel data is never
// exposed to a new owner"), and returns its physical address, or zero if
// the pool is exhausted.
func (a *Allocator) Alloc() uintptr {
	a.mu.Lock()
	defer a.mu.Unlock()

	pa := a.free
	if pa == 0 {
		return 0
	}

	frame := a.rawFrameLocked(pa)
	a.free = uintptr(binary.LittleEndian.Uint64(frame[:8]))
	a.onFreeList[(pa-a.base)/config.PageSize] = false
	a.nfree--

	for i := range frame {
		frame[i] = 0
	}

	return pa
}

// Free returns a previously allocated frame to the pool. pa must be page
// aligned and within the managed range; freeing an address twice or one
// pmem never allocated corrupts the free list, so both are treated as fatal
// (spec.md §4.1, "double-free or freeing an address outside the managed
// range is a fatal kernel error, detected eagerly rather than left to
// corrupt the free list").
func (a *Allocator) Free(pa uintptr) {
	kpanic.Assert(a.contains(pa), "pmem: free of out-of-range or misaligned address %#x", pa)

	a.mu.Lock()
	defer a.mu.Unlock()

	idx := (pa - a.base) / config.PageSize
	kpanic.Assert(!a.onFreeList[idx], "pmem: double free of %#x", pa)

	a.freeLocked(pa)
}

// freeLocked poisons the frame and pushes it onto the free list. The
// poison fill makes use-after-free reads visibly wrong rather than
// silently stale, the same diagnostic the original allocator gets by
// filling freed memory with 1s; the list link itself is then written into
// the first 8 poisoned bytes, exactly as kalloc.c threads its run list
// through freed memory.
func (a *Allocator) freeLocked(pa uintptr) {
	frame := a.rawFrameLocked(pa)

	for i := range frame {
		frame[i] = 0x01
	}

	binary.LittleEndian.PutUint64(frame[:8], uint64(a.free))
	a.free = pa
	a.onFreeList[(pa-a.base)/config.PageSize] = true
	a.nfree++
}

// rawFrameLocked is Frame without the public bounds-check panic message,
// used internally where contains() has already been checked by the caller
// (or is being established by New's freerange loop).
func (a *Allocator) rawFrameLocked(pa uintptr) []byte {
	off := pa - a.base
	return a.ram[off : off+config.PageSize]
}

// NumFree reports the number of frames currently on the free list.
func (a *Allocator) NumFree() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.nfree
}

// Base and Limit report the managed physical address range.
func (a *Allocator) Base() uintptr  { return a.base }
func (a *Allocator) Limit() uintptr { return a.limit }
