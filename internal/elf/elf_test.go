package elf_test

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coursekernel/riscvkernel/internal/config"
	"github.com/coursekernel/riscvkernel/internal/elf"
	"github.com/coursekernel/riscvkernel/internal/mmu"
	"github.com/coursekernel/riscvkernel/internal/pmem"
)

// buildImage assembles a minimal one-segment ELF64 image: a header, one
// PT_LOAD program header, and the segment's file content. memsz may exceed
// len(data) to exercise the bss-zeroing path.
func buildImage(entry uint64, vaddr uint64, memsz uint64, flags uint32, data []byte) []byte {
	const hdrSize = 64
	const phSize = 56

	phoff := uint64(hdrSize)
	dataOff := phoff + phSize

	buf := make([]byte, dataOff+uint64(len(data)))

	binary.LittleEndian.PutUint32(buf[0:4], elf.Magic)
	binary.LittleEndian.PutUint64(buf[24:32], entry)
	binary.LittleEndian.PutUint64(buf[32:40], phoff)
	binary.LittleEndian.PutUint16(buf[54:56], phSize)
	binary.LittleEndian.PutUint16(buf[56:58], 1) // phnum

	ph := buf[phoff : phoff+phSize]
	binary.LittleEndian.PutUint32(ph[0:4], elf.ProgLoad)
	binary.LittleEndian.PutUint32(ph[4:8], flags)
	binary.LittleEndian.PutUint64(ph[8:16], dataOff)
	binary.LittleEndian.PutUint64(ph[16:24], vaddr)
	binary.LittleEndian.PutUint64(ph[32:40], uint64(len(data)))
	binary.LittleEndian.PutUint64(ph[40:48], memsz)

	copy(buf[dataOff:], data)

	return buf
}

func readerOver(image []byte) elf.Reader {
	return func(dst []byte, off uint32) (int, error) {
		n := copy(dst, image[off:])
		return n, nil
	}
}

func TestLoadMapsSegmentAndReportsEntryAndSize(t *testing.T) {
	frame := pmem.New(0x1000, 0x1000+64*config.PageSize)
	pt, err := mmu.New(frame)
	require.NoError(t, err)

	text := append([]byte("\x13\x00\x00\x00"), make([]byte, config.PageSize-4)...) // one page of "code"
	image := buildImage(0x1000, 0, uint64(len(text)), elf.ProgFlagRead|elf.ProgFlagExec, text)

	loaded, err := elf.Load(readerOver(image), pt, frame)
	require.NoError(t, err)
	assert.EqualValues(t, 0x1000, loaded.Entry)
	assert.EqualValues(t, config.PageSize, loaded.Size)

	pa, err := pt.Translate(0)
	require.NoError(t, err)
	assert.Equal(t, byte(0x13), frame.Frame(pa)[0])
}

func TestLoadZeroFillsBSSBeyondFilesz(t *testing.T) {
	frame := pmem.New(0x1000, 0x1000+64*config.PageSize)
	pt, err := mmu.New(frame)
	require.NoError(t, err)

	data := []byte{0xAA, 0xBB, 0xCC, 0xDD}
	image := buildImage(0, 0, 2*config.PageSize, elf.ProgFlagRead|elf.ProgFlagWrite, data)

	loaded, err := elf.Load(readerOver(image), pt, frame)
	require.NoError(t, err)
	assert.EqualValues(t, 2*config.PageSize, loaded.Size)

	pa0, err := pt.Translate(0)
	require.NoError(t, err)
	assert.Equal(t, data, frame.Frame(pa0)[:len(data)])
	assert.Equal(t, byte(0), frame.Frame(pa0)[len(data)])

	pa1, err := pt.Translate(config.PageSize)
	require.NoError(t, err)
	assert.Equal(t, byte(0), frame.Frame(pa1)[0])
}

func TestLoadRejectsBadMagic(t *testing.T) {
	frame := pmem.New(0x1000, 0x1000+16*config.PageSize)
	pt, err := mmu.New(frame)
	require.NoError(t, err)

	image := buildImage(0, 0, 4, elf.ProgFlagRead, []byte{1, 2, 3, 4})
	binary.LittleEndian.PutUint32(image[0:4], 0xDEADBEEF)

	_, err = elf.Load(readerOver(image), pt, frame)
	assert.ErrorIs(t, err, elf.ErrBadMagic)
}

func TestLoadRejectsUnalignedSegment(t *testing.T) {
	frame := pmem.New(0x1000, 0x1000+16*config.PageSize)
	pt, err := mmu.New(frame)
	require.NoError(t, err)

	image := buildImage(0, 7, 4, elf.ProgFlagRead, []byte{1, 2, 3, 4})

	_, err = elf.Load(readerOver(image), pt, frame)
	assert.ErrorIs(t, err, elf.ErrMisaligned)
}

func TestLoadRejectsMemszSmallerThanFilesz(t *testing.T) {
	frame := pmem.New(0x1000, 0x1000+16*config.PageSize)
	pt, err := mmu.New(frame)
	require.NoError(t, err)

	data := make([]byte, 16)
	image := buildImage(0, 0, 4, elf.ProgFlagRead, data)

	_, err = elf.Load(readerOver(image), pt, frame)
	assert.ErrorIs(t, err, elf.ErrBadSegment)
}
