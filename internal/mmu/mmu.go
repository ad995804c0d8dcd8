// Package mmu implements Sv39 three-level paging (spec.md §4.2): page table
// allocation, mapping and unmapping, and the copyin/copyout/copyinstr
// primitives the syscall boundary uses to cross address spaces safely.
//
// Grounded on original_source/include/riscv.h's PA2PTE/PTE2PA/PX macros and
// walk()-style page table traversal (kernel/vm.c), expressed in the
// teacher's device-controller idiom: PageTable wraps the physical frames it
// owns the way internal/vm/mem.go's Memory wraps PhysicalMemory, delegating
// actual byte access to internal/pmem rather than touching real hardware
// page tables (SPEC_FULL.md's REDESIGN section).
package mmu

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/coursekernel/riscvkernel/internal/config"
	"github.com/coursekernel/riscvkernel/internal/kpanic"
	"github.com/coursekernel/riscvkernel/internal/pmem"
)

// PTE is a single Sv39 page table entry.
type PTE uint64

// Permission and validity bits (original_source/include/riscv.h's PTE_V/R/W/X/U).
const (
	PTEV PTE = 1 << 0 // Valid.
	PTER PTE = 1 << 1 // Readable.
	PTEW PTE = 1 << 2 // Writable.
	PTEX PTE = 1 << 3 // Executable.
	PTEU PTE = 1 << 4 // Accessible in user mode.
)

func (pte PTE) Valid() bool { return pte&PTEV != 0 }
func (pte PTE) Leaf() bool  { return pte.Valid() && pte&(PTER|PTEW|PTEX) != 0 }
func (pte PTE) PA() uintptr { return uintptr((pte >> 10) << 12) }
func pa2pte(pa uintptr) PTE { return PTE((uint64(pa) >> 12) << 10) }

// PX extracts the level-th VPN field (0, 1, or 2) from a virtual address,
// mirroring riscv.h's PX(level, va) macro.
func PX(level int, va uintptr) uintptr {
	shift := config.PageOffsetBits + level*config.PTEIndexBits
	return (va >> shift) & (config.PTEsPerTable - 1)
}

var (
	// ErrNoMemory is returned when walking a page table cannot allocate a
	// new interior level.
	ErrNoMemory = errors.New("mmu: out of memory")
	// ErrNotMapped is returned when a virtual address has no mapping.
	ErrNotMapped = errors.New("mmu: address not mapped")
	// ErrRemap is returned when mapping a virtual page that is already
	// mapped (spec.md §4.2, "mapping an already-mapped page ... is a fatal
	// kernel invariant violation").
	ErrRemap = errors.New("mmu: remap of already-mapped page")
)

// PageTable is the root of a three-level Sv39 page table, backed by frames
// drawn from a pmem.Allocator.
type PageTable struct {
	root  uintptr
	frame *pmem.Allocator
}

// New allocates a zeroed root page table.
func New(frame *pmem.Allocator) (*PageTable, error) {
	root := frame.Alloc()
	if root == 0 {
		return nil, ErrNoMemory
	}

	return &PageTable{root: root, frame: frame}, nil
}

// Root returns the physical address of the root table, for building the
// SATP token at context switch.
func (pt *PageTable) Root() uintptr { return pt.root }

// entries views a page-table page as 512 little-endian PTEs, the layout
// original_source's walk() assumes of every interior and leaf level.
func (pt *PageTable) entries(pa uintptr) []PTE {
	raw := pt.frame.Frame(pa)
	out := make([]PTE, config.PTEsPerTable)

	for i := range out {
		out[i] = PTE(binary.LittleEndian.Uint64(raw[i*8 : i*8+8]))
	}

	return out
}

func (pt *PageTable) readPTE(pa uintptr, idx uintptr) PTE {
	raw := pt.frame.Frame(pa)
	return PTE(binary.LittleEndian.Uint64(raw[idx*8 : idx*8+8]))
}

func (pt *PageTable) writePTE(pa uintptr, idx uintptr, v PTE) {
	raw := pt.frame.Frame(pa)
	binary.LittleEndian.PutUint64(raw[idx*8:idx*8+8], uint64(v))
}

// walk returns the address of the level-0 PTE for va, allocating
// intermediate levels as needed when alloc is true (spec.md §4.2, "walking
// and extending the 3-level radix tree to map a new page"). It mirrors
// original_source/kernel/vm.c's walk().
func (pt *PageTable) walk(va uintptr, alloc bool) (pa uintptr, idx uintptr, err error) {
	table := pt.root

	for level := 2; level > 0; level-- {
		idx = PX(level, va)
		pte := pt.readPTE(table, idx)

		if pte.Valid() {
			table = pte.PA()
			continue
		}

		if !alloc {
			return 0, 0, ErrNotMapped
		}

		next := pt.frame.Alloc()
		if next == 0 {
			return 0, 0, ErrNoMemory
		}

		pt.writePTE(table, idx, pa2pte(next)|PTEV)
		table = next
	}

	return table, PX(0, va), nil
}

// Map installs a single-page mapping from va to pa with the given
// permission bits, allocating any missing interior page-table levels.
// Mapping an already-valid leaf is a fatal invariant violation (spec.md
// §4.2).
func (pt *PageTable) Map(va, pa uintptr, perm PTE) error {
	kpanic.Assert(va%config.PageSize == 0, "mmu: map of unaligned va %#x", va)
	kpanic.Assert(pa%config.PageSize == 0, "mmu: map of unaligned pa %#x", pa)

	table, idx, err := pt.walk(va, true)
	if err != nil {
		return err
	}

	if pt.readPTE(table, idx).Valid() {
		kpanic.Panic("mmu: remap of va %#x", va)
	}

	pt.writePTE(table, idx, pa2pte(pa)|perm|PTEV)

	return nil
}

// MapRange maps a contiguous run of pages, unmapping everything it mapped
// so far if an allocation fails partway through (SPEC_FULL.md's resolution
// of the "does a failed uvm_alloc leave partial mappings" open question:
// partial state is always rolled back).
func (pt *PageTable) MapRange(va, pa uintptr, size uintptr, perm PTE) error {
	mapped := uintptr(0)

	for off := uintptr(0); off < size; off += config.PageSize {
		if err := pt.Map(va+off, pa+off, perm); err != nil {
			pt.UnmapRange(va, mapped, true)
			return err
		}

		mapped += config.PageSize
	}

	return nil
}

// Unmap clears a single leaf mapping. If freePhysical is set, the
// underlying frame is returned to the allocator (used when tearing down a
// process's address space, not when removing a mapping into memory owned
// elsewhere, like the trampoline).
func (pt *PageTable) Unmap(va uintptr, freePhysical bool) error {
	table, idx, err := pt.walk(va, false)
	if err != nil {
		return err
	}

	pte := pt.readPTE(table, idx)
	if !pte.Valid() {
		return ErrNotMapped
	}

	if freePhysical {
		pt.frame.Free(pte.PA())
	}

	pt.writePTE(table, idx, 0)

	return nil
}

// UnmapRange unmaps a contiguous run of pages. Missing mappings within the
// range are skipped rather than treated as an error, so it can safely be
// used to roll back a partially-completed MapRange.
func (pt *PageTable) UnmapRange(va, size uintptr, freePhysical bool) {
	for off := uintptr(0); off < size; off += config.PageSize {
		if err := pt.Unmap(va+off, freePhysical); err != nil && !errors.Is(err, ErrNotMapped) {
			kpanic.Panic("mmu: unmap range: %v", err)
		}
	}
}

// Translate resolves va to its mapped physical address plus the page
// offset, or ErrNotMapped.
func (pt *PageTable) Translate(va uintptr) (uintptr, error) {
	table, idx, err := pt.walk(va, false)
	if err != nil {
		return 0, err
	}

	pte := pt.readPTE(table, idx)
	if !pte.Valid() {
		return 0, ErrNotMapped
	}

	return pte.PA() + (va & (config.PageSize - 1)), nil
}

// CopyOut copies len(src) bytes from kernel memory src into the address
// space dst at virtual address va, crossing page boundaries as needed
// (spec.md §4.11, "copy from a kernel buffer to a range of user virtual
// addresses, splitting the copy at page boundaries").
func (pt *PageTable) CopyOut(va uintptr, src []byte) error {
	for len(src) > 0 {
		pageBase := va &^ (config.PageSize - 1)

		pa, err := pt.Translate(pageBase)
		if err != nil {
			return err
		}

		offset := va - pageBase
		n := config.PageSize - offset
		if uintptr(len(src)) < n {
			n = uintptr(len(src))
		}

		frame := pt.frame.Frame(pa)
		copy(frame[offset:offset+n], src[:n])

		src = src[n:]
		va += n
	}

	return nil
}

// CopyIn copies len(dst) bytes from the address space at virtual address va
// into kernel buffer dst.
func (pt *PageTable) CopyIn(dst []byte, va uintptr) error {
	for len(dst) > 0 {
		pageBase := va &^ (config.PageSize - 1)

		pa, err := pt.Translate(pageBase)
		if err != nil {
			return err
		}

		offset := va - pageBase
		n := config.PageSize - offset
		if uintptr(len(dst)) < n {
			n = uintptr(len(dst))
		}

		frame := pt.frame.Frame(pa)
		copy(dst[:n], frame[offset:offset+n])

		dst = dst[n:]
		va += n
	}

	return nil
}

// MaxCopyInString bounds CopyInString so a missing NUL terminator cannot
// loop forever across the address space.
const MaxCopyInString = config.MaxPath

// CopyInString copies a NUL-terminated string from user virtual address va,
// stopping at the first NUL byte or after MaxCopyInString bytes, whichever
// comes first (spec.md §4.11's copyinstr).
func (pt *PageTable) CopyInString(va uintptr) (string, error) {
	buf := make([]byte, 0, 64)
	one := make([]byte, 1)

	for len(buf) < MaxCopyInString {
		if err := pt.CopyIn(one, va); err != nil {
			return "", err
		}

		if one[0] == 0 {
			return string(buf), nil
		}

		buf = append(buf, one[0])
		va++
	}

	return "", fmt.Errorf("mmu: string at %#x exceeds %d bytes without NUL", va, MaxCopyInString)
}

// CopyUVM duplicates every mapped page in [0, sz) from src into dst,
// allocating a fresh frame per page and copying its bytes rather than
// sharing the underlying frame, so writes in the parent or child after
// fork never cross address spaces (spec.md §4.9's fork, "the child's
// address space is a full copy, not a shared mapping"). Permissions are
// carried over unchanged from each source leaf.
func CopyUVM(dst, src *PageTable, sz uintptr, frame *pmem.Allocator) error {
	for va := uintptr(0); va < sz; va += config.PageSize {
		table, idx, err := src.walk(va, false)
		if err != nil {
			return err
		}

		pte := src.readPTE(table, idx)
		if !pte.Valid() {
			return ErrNotMapped
		}

		pa := frame.Alloc()
		if pa == 0 {
			dst.UnmapRange(0, va, true)
			return ErrNoMemory
		}

		copy(frame.Frame(pa), frame.Frame(pte.PA()))

		perm := pte & (PTER | PTEW | PTEX | PTEU)
		if err := dst.Map(va, pa, perm); err != nil {
			frame.Free(pa)
			dst.UnmapRange(0, va, true)
			return err
		}
	}

	return nil
}

// Free tears down every leaf mapping and interior page-table page owned by
// this table, used when a process exits (spec.md §4.6, "the last step of
// process teardown: every user mapping is removed and its frame freed").
// Leaf frames are freed only when freeLeaves is true; interior table pages,
// the root included, are always freed.
func (pt *PageTable) Free(freeLeaves bool) {
	pt.freeLevel(pt.root, 2, freeLeaves)
}

func (pt *PageTable) freeLevel(tablePA uintptr, level int, freeLeaves bool) {
	entries := pt.entries(tablePA)

	for _, pte := range entries {
		if !pte.Valid() {
			continue
		}

		if level > 0 && !pte.Leaf() {
			pt.freeLevel(pte.PA(), level-1, freeLeaves)
		} else if freeLeaves {
			pt.frame.Free(pte.PA())
		}
	}

	pt.frame.Free(tablePA)
}
