// Package mkfs formats a fresh block device with an empty filesystem:
// superblock, log region, inode blocks, bitmap, and a root directory
// inode containing "." and "..". internal/fs.Mount can then mount it.
//
// Grounded on original_source/mkfs.c, a host-side tool that lays out the
// same [boot|super|log|inode|bitmap|data] block order internal/fs.Mount
// expects — original_source's copy is left an empty stub with nothing but
// its header includes, so the layout here is derived from fs.h's struct
// superblock field order and the BPB/IPB arithmetic internal/fs itself
// already implements for balloc/IAlloc, not copied from any original
// function body.
package mkfs

import (
	"encoding/binary"

	"github.com/coursekernel/riscvkernel/internal/bio"
	"github.com/coursekernel/riscvkernel/internal/config"
	"github.com/coursekernel/riscvkernel/internal/fs"
	"github.com/coursekernel/riscvkernel/internal/sleeplock"
)

// dinodeSize matches internal/fs's on-disk inode encoding: type(2) +
// major(2) + minor(2) + nlink(2) + size(4) + (NDirect+1) addrs(4 each).
const dinodeSize = 2 + 2 + 2 + 2 + 4 + (config.NDirect+1)*4

const dinodesPerBlock = config.BlockSize / dinodeSize

// bitsPerBlock is how many allocation-bitmap bits fit in one block.
const bitsPerBlock = config.BlockSize * 8

// Format lays out an empty filesystem of totalBlocks blocks with nInodes
// inode slots on dev, via cache. Block 0 is left as the reserved boot
// block; block 1 gets the superblock; the log, inode, and bitmap regions
// follow per internal/fs's expected layout; a root directory inode (inum
// fs.RootInode, set up in original_source/fs.h's convention) is allocated
// and linked to itself and its own parent.
func Format(w sleeplock.Waiter, cache *bio.Cache, dev int, totalBlocks, nInodes uint32) error {
	logStart := uint32(2)
	logSize := uint32(1 + config.LogBlocks)
	inodeStart := logStart + logSize
	inodeBlocks := (nInodes + dinodesPerBlock - 1) / dinodesPerBlock
	bmapStart := inodeStart + inodeBlocks
	bmapBlocks := (totalBlocks + bitsPerBlock - 1) / bitsPerBlock

	sbBuf := make([]byte, 32)
	binary.LittleEndian.PutUint32(sbBuf[0:4], config.FSMagic)
	binary.LittleEndian.PutUint32(sbBuf[4:8], totalBlocks)
	binary.LittleEndian.PutUint32(sbBuf[8:12], totalBlocks)
	binary.LittleEndian.PutUint32(sbBuf[12:16], nInodes)
	binary.LittleEndian.PutUint32(sbBuf[16:20], logSize)
	binary.LittleEndian.PutUint32(sbBuf[20:24], logStart)
	binary.LittleEndian.PutUint32(sbBuf[24:28], inodeStart)
	binary.LittleEndian.PutUint32(sbBuf[28:32], bmapStart)

	buf := cache.Read(w, dev, 1)
	copy(buf.Data[:32], sbBuf)

	if err := cache.Write(buf); err != nil {
		cache.Release(w, buf)
		return err
	}

	cache.Release(w, buf)

	// The root directory's own data occupies the first data block, so it
	// is reserved in the bitmap right alongside the boot/super/log/inode/
	// bitmap blocks that precede it.
	rootDataBlock := bmapStart + bmapBlocks
	reserved := rootDataBlock + 1

	for bmapBlock := uint32(0); bmapBlock < bmapBlocks; bmapBlock++ {
		bmapBuf := cache.Read(w, dev, bmapStart+bmapBlock)

		base := bmapBlock * bitsPerBlock
		for bit := uint32(0); bit < bitsPerBlock && base+bit < reserved; bit++ {
			byteIdx, bitIdx := bit/8, bit%8
			bmapBuf.Data[byteIdx] |= 1 << bitIdx
		}

		if err := cache.Write(bmapBuf); err != nil {
			cache.Release(w, bmapBuf)
			return err
		}

		cache.Release(w, bmapBuf)
	}

	if err := writeRootData(w, cache, dev, rootDataBlock); err != nil {
		return err
	}

	return writeRootInode(w, cache, dev, inodeStart, rootDataBlock)
}

// writeRootData writes the root directory's "." and ".." entries, both
// pointing back at the root inode, the same degenerate-root convention
// original_source's own root directory uses.
func writeRootData(w sleeplock.Waiter, cache *bio.Cache, dev int, dataBlock uint32) error {
	buf := cache.Read(w, dev, dataBlock)

	writeDirEnt(buf.Data[0*fs.DirEntSize:], config.RootInode, ".")
	writeDirEnt(buf.Data[1*fs.DirEntSize:], config.RootInode, "..")

	if err := cache.Write(buf); err != nil {
		cache.Release(w, buf)
		return err
	}

	cache.Release(w, buf)

	return nil
}

func writeDirEnt(b []byte, inum uint32, name string) {
	binary.LittleEndian.PutUint16(b[0:2], uint16(inum))
	copy(b[2:fs.DirEntSize], name)
}

// writeRootInode allocates inum config.RootInode as a directory whose sole
// data block is dataBlock.
func writeRootInode(w sleeplock.Waiter, cache *bio.Cache, dev int, inodeStart, dataBlock uint32) error {
	blockno := inodeStart + (config.RootInode*dinodeSize)/config.BlockSize
	offset := (config.RootInode * dinodeSize) % config.BlockSize

	inodeBuf := cache.Read(w, dev, blockno)
	d := inodeBuf.Data[offset : offset+dinodeSize]

	binary.LittleEndian.PutUint16(d[0:2], fs.TypeDir)
	binary.LittleEndian.PutUint16(d[6:8], 1)                        // nlink
	binary.LittleEndian.PutUint32(d[8:12], uint32(2*fs.DirEntSize)) // size
	binary.LittleEndian.PutUint32(d[12:16], dataBlock)              // addrs[0]

	if err := cache.Write(inodeBuf); err != nil {
		cache.Release(w, inodeBuf)
		return err
	}

	cache.Release(w, inodeBuf)

	return nil
}
