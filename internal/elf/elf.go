// Package elf implements the minimal ELF64 loader exec needs (spec.md
// §4.9's Exec): parse the file header and program headers, map one
// PT_LOAD segment per page into a fresh address space, and report the
// entry point and memory high-water mark.
//
// Grounded on original_source/include/elf.h's elfhdr/proghdr layout and
// original_source/kernel/exec.c's load_elf_from_inode: read the header,
// walk phnum program headers, skip anything that isn't PT_LOAD, allocate
// and zero a frame per page of the segment (so .bss reads as zero), copy
// in only the filesz prefix, and map the rest with permissions translated
// from the segment's ELF flags.
package elf

import (
	"encoding/binary"
	"errors"

	"github.com/coursekernel/riscvkernel/internal/config"
	"github.com/coursekernel/riscvkernel/internal/mmu"
	"github.com/coursekernel/riscvkernel/internal/pmem"
)

// Magic is the four-byte ELF identifier (elfhdr.magic in elf.h).
const Magic = 0x464C457F

// ProgLoad is the only program header type this loader installs; every
// other type is skipped (original_source's "if (ph.type != ELF_PROG_LOAD)
// continue").
const ProgLoad = 1

// Segment permission bits, as stored in proghdr.flags.
const (
	ProgFlagExec  = 1 << 0
	ProgFlagWrite = 1 << 1
	ProgFlagRead  = 1 << 2
)

var (
	ErrBadMagic     = errors.New("elf: bad magic")
	ErrMisaligned   = errors.New("elf: segment vaddr not page aligned")
	ErrTruncated    = errors.New("elf: file too short")
	ErrBadSegment   = errors.New("elf: memsz smaller than filesz")
)

const headerSize = 64
const progHeaderSize = 56

// header mirrors elf.h's struct elfhdr, the fields this loader needs.
type header struct {
	magic   uint32
	class   [12]byte
	typ     uint16
	machine uint16
	version uint32
	entry   uint64
	phoff   uint64
	shoff   uint64
	flags   uint32
	ehsize  uint16
	phentsz uint16
	phnum   uint16
	shentsz uint16
	shnum   uint16
	shstrndx uint16
}

func decodeHeader(b []byte) (header, error) {
	var h header

	if len(b) < headerSize {
		return h, ErrTruncated
	}

	h.magic = binary.LittleEndian.Uint32(b[0:4])
	copy(h.class[:], b[4:16])
	h.typ = binary.LittleEndian.Uint16(b[16:18])
	h.machine = binary.LittleEndian.Uint16(b[18:20])
	h.version = binary.LittleEndian.Uint32(b[20:24])
	h.entry = binary.LittleEndian.Uint64(b[24:32])
	h.phoff = binary.LittleEndian.Uint64(b[32:40])
	h.shoff = binary.LittleEndian.Uint64(b[40:48])
	h.flags = binary.LittleEndian.Uint32(b[48:52])
	h.ehsize = binary.LittleEndian.Uint16(b[52:54])
	h.phentsz = binary.LittleEndian.Uint16(b[54:56])
	h.phnum = binary.LittleEndian.Uint16(b[56:58])
	h.shentsz = binary.LittleEndian.Uint16(b[58:60])
	h.shnum = binary.LittleEndian.Uint16(b[60:62])
	h.shstrndx = binary.LittleEndian.Uint16(b[62:64])

	if h.magic != Magic {
		return h, ErrBadMagic
	}

	return h, nil
}

// progHeader mirrors elf.h's struct proghdr.
type progHeader struct {
	typ    uint32
	flags  uint32
	off    uint64
	vaddr  uint64
	paddr  uint64
	filesz uint64
	memsz  uint64
	align  uint64
}

func decodeProgHeader(b []byte) progHeader {
	return progHeader{
		typ:    binary.LittleEndian.Uint32(b[0:4]),
		flags:  binary.LittleEndian.Uint32(b[4:8]),
		off:    binary.LittleEndian.Uint64(b[8:16]),
		vaddr:  binary.LittleEndian.Uint64(b[16:24]),
		paddr:  binary.LittleEndian.Uint64(b[24:32]),
		filesz: binary.LittleEndian.Uint64(b[32:40]),
		memsz:  binary.LittleEndian.Uint64(b[40:48]),
		align:  binary.LittleEndian.Uint64(b[48:56]),
	}
}

// Reader is the file access exec provides: a seekable-by-offset read, the
// way original_source's fs_inode_read_data takes an explicit offset rather
// than tracking a cursor (the file is read through internal/fs.Readi
// directly, with no open *file.File needed).
type Reader func(dst []byte, off uint32) (int, error)

// Loaded reports what a successful Load produced: the entry point to jump
// to and the size of the mapped address space, both of which become the
// exec'd process's new trapframe.Epc and Proc.Size.
type Loaded struct {
	Entry uintptr
	Size  uintptr
}

func permToPTE(flags uint32) mmu.PTE {
	perm := mmu.PTEU

	if flags&ProgFlagRead != 0 {
		perm |= mmu.PTER
	}

	if flags&ProgFlagWrite != 0 {
		perm |= mmu.PTEW
	}

	if flags&ProgFlagExec != 0 {
		perm |= mmu.PTEX
	}

	return perm
}

func pageUp(n uint64) uintptr {
	return uintptr((n + config.PageSize - 1) &^ (config.PageSize - 1))
}

// Load reads the ELF header and program headers through read, allocating
// and mapping one frame per page of every PT_LOAD segment into pt. On any
// error it unmaps and frees whatever it had already mapped, mirroring
// load_elf_from_inode's "bad:" cleanup path, so a half-loaded binary never
// survives a failed exec.
func Load(read Reader, pt *mmu.PageTable, frame *pmem.Allocator) (Loaded, error) {
	var hdrBuf [headerSize]byte

	if n, err := read(hdrBuf[:], 0); err != nil || n != headerSize {
		return Loaded{}, ErrTruncated
	}

	hdr, err := decodeHeader(hdrBuf[:])
	if err != nil {
		return Loaded{}, err
	}

	var maxVA uintptr

	for i := 0; i < int(hdr.phnum); i++ {
		var phBuf [progHeaderSize]byte

		off := uint32(hdr.phoff) + uint32(i)*progHeaderSize
		if n, err := read(phBuf[:], off); err != nil || n != progHeaderSize {
			pt.UnmapRange(0, maxVA, true)
			return Loaded{}, ErrTruncated
		}

		ph := decodeProgHeader(phBuf[:])

		if ph.typ != ProgLoad {
			continue
		}

		if ph.memsz < ph.filesz {
			pt.UnmapRange(0, maxVA, true)
			return Loaded{}, ErrBadSegment
		}

		if ph.vaddr%config.PageSize != 0 {
			pt.UnmapRange(0, maxVA, true)
			return Loaded{}, ErrMisaligned
		}

		perm := permToPTE(uint32(ph.flags))

		// Widen the rollback range before mapping, so a failure partway
		// through this segment also unmaps the pages it already mapped.
		if end := pageUp(ph.vaddr + ph.memsz); end > maxVA {
			maxVA = end
		}

		for va := uintptr(ph.vaddr); va < uintptr(ph.vaddr+ph.memsz); va += config.PageSize {
			pa := frame.Alloc()
			if pa == 0 {
				pt.UnmapRange(0, maxVA, true)
				return Loaded{}, mmu.ErrNoMemory
			}

			// frame.Alloc zero-fills, so bytes beyond filesz already read
			// as zero (.bss) without any extra work here.
			page := frame.Frame(pa)

			offInSegment := uint64(va) - ph.vaddr
			if offInSegment < ph.filesz {
				toRead := ph.filesz - offInSegment
				if toRead > config.PageSize {
					toRead = config.PageSize
				}

				n, err := read(page[:toRead], uint32(ph.off+offInSegment))
				if err != nil || uint64(n) != toRead {
					frame.Free(pa)
					pt.UnmapRange(0, maxVA, true)
					return Loaded{}, ErrTruncated
				}
			}

			if err := pt.Map(va, pa, perm); err != nil {
				frame.Free(pa)
				pt.UnmapRange(0, maxVA, true)
				return Loaded{}, err
			}
		}
	}

	return Loaded{Entry: uintptr(hdr.entry), Size: maxVA}, nil
}
