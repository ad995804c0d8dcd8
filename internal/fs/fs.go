// Package fs implements the on-disk filesystem layer (spec.md §4.7):
// superblock layout, the block bitmap allocator, the in-memory inode cache,
// directory entries, and path resolution.
//
// Grounded on original_source/include/fs.h's on-disk layout (superblock,
// dinode, dirent) and the classic [boot|super|log|inode|bitmap|data] block
// order, expressed through internal/bio and internal/fslog rather than raw
// device access, and internal/sleeplock for per-inode locking the same way
// original_source's struct inode embeds a sleeplock.
package fs

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/coursekernel/riscvkernel/internal/bio"
	"github.com/coursekernel/riscvkernel/internal/config"
	"github.com/coursekernel/riscvkernel/internal/fslog"
	"github.com/coursekernel/riscvkernel/internal/kpanic"
	"github.com/coursekernel/riscvkernel/internal/sleeplock"
)

// On-disk inode types (original_source/include/fs.h).
const (
	TypeFree   = 0
	TypeDir    = 1
	TypeFile   = 2
	TypeDevice = 3
)

// NIndirect is how many block pointers fit in one indirect block.
const NIndirect = config.BlockSize / 4

// MaxFileBlocks is the largest file size expressible with 12 direct blocks
// plus one singly-indirect block.
const MaxFileBlocks = config.NDirect + NIndirect

var (
	ErrNotFound  = errors.New("fs: no such file or directory")
	ErrExists    = errors.New("fs: file exists")
	ErrNotDir    = errors.New("fs: not a directory")
	ErrIsDir     = errors.New("fs: is a directory")
	ErrNoInodes  = errors.New("fs: no free inodes")
	ErrNoSpace   = errors.New("fs: out of disk space")
	ErrBadMagic  = errors.New("fs: bad superblock magic")
	ErrDirNotEmpty = errors.New("fs: directory not empty")
)

// Superblock describes the static layout of the filesystem on disk,
// mirroring original_source's struct superblock.
type Superblock struct {
	Magic      uint32
	Size       uint32
	NBlocks    uint32
	NInodes    uint32
	NLog       uint32
	LogStart   uint32
	InodeStart uint32
	BmapStart  uint32
}

func (sb *Superblock) decode(b []byte) {
	sb.Magic = binary.LittleEndian.Uint32(b[0:4])
	sb.Size = binary.LittleEndian.Uint32(b[4:8])
	sb.NBlocks = binary.LittleEndian.Uint32(b[8:12])
	sb.NInodes = binary.LittleEndian.Uint32(b[12:16])
	sb.NLog = binary.LittleEndian.Uint32(b[16:20])
	sb.LogStart = binary.LittleEndian.Uint32(b[20:24])
	sb.InodeStart = binary.LittleEndian.Uint32(b[24:28])
	sb.BmapStart = binary.LittleEndian.Uint32(b[28:32])
}

func (sb *Superblock) encode(b []byte) {
	binary.LittleEndian.PutUint32(b[0:4], sb.Magic)
	binary.LittleEndian.PutUint32(b[4:8], sb.Size)
	binary.LittleEndian.PutUint32(b[8:12], sb.NBlocks)
	binary.LittleEndian.PutUint32(b[12:16], sb.NInodes)
	binary.LittleEndian.PutUint32(b[16:20], sb.NLog)
	binary.LittleEndian.PutUint32(b[20:24], sb.LogStart)
	binary.LittleEndian.PutUint32(b[24:28], sb.InodeStart)
	binary.LittleEndian.PutUint32(b[28:32], sb.BmapStart)
}

// dinodesPerBlock is how many on-disk inodes fit in one block: type(2) +
// major(2) + minor(2) + nlink(2) + size(4) + 13 addrs(4 each) = 64 bytes.
const dinodeSize = 2 + 2 + 2 + 2 + 4 + (config.NDirect+1)*4
const dinodesPerBlock = config.BlockSize / dinodeSize

// Inode is the in-memory copy of an on-disk inode plus cache bookkeeping.
type Inode struct {
	Dev   int
	Inum  uint32
	ref   int
	valid bool

	Type  int16
	Major int16
	Minor int16
	NLink int16
	Size  uint32
	Addrs [config.NDirect + 1]uint32

	lock *sleeplock.Lock
}

// FS is a mounted filesystem instance: the superblock, the inode cache, and
// the log/cache it reads and writes through.
type FS struct {
	Dev   int
	SB    Superblock
	cache *bio.Cache
	log   *fslog.Log

	icache []*Inode
}

// Mount reads the superblock at block 1 (block 0 is reserved for a boot
// block, per the [boot|super|log|inode|bitmap|data] layout) and opens the
// write-ahead log, performing recovery if needed.
func Mount(w sleeplock.Waiter, cache *bio.Cache, dev int) (*FS, error) {
	buf := cache.Read(w, dev, 1)
	var sb Superblock
	sb.decode(buf.Data[:32])
	cache.Release(w, buf)

	if sb.Magic != config.FSMagic {
		return nil, ErrBadMagic
	}

	fsys := &FS{
		Dev:    dev,
		SB:     sb,
		cache:  cache,
		icache: make([]*Inode, config.NINODE),
	}

	for i := range fsys.icache {
		fsys.icache[i] = &Inode{lock: sleeplock.New(fmt.Sprintf("inode%d", i))}
	}

	fsys.log = fslog.Open(w, cache, dev, sb.LogStart, sb.NLog)

	return fsys, nil
}

// Log returns the filesystem's write-ahead log, so callers can bracket
// their own multi-call transactions with BeginOp/EndOp.
func (fsys *FS) Log() *fslog.Log { return fsys.log }

// Iget returns the cached in-memory inode for (dev, inum) without locking
// or loading it from disk, incrementing its refcount (spec.md §4.7's
// iget).
func (fsys *FS) Iget(dev int, inum uint32) *Inode { return fsys.iget(dev, inum) }

// --- block allocator (balloc/bfree) ---

// balloc scans the bitmap for the first free block, marks it used, zeroes
// it, and returns its block number (spec.md §4.7's Block allocator).
func (fsys *FS) balloc(w sleeplock.Waiter, txn *fslog.Txn) (uint32, error) {
	for b := uint32(0); b < fsys.SB.Size; b += config.BlockSize * 8 {
		bitBlock := fsys.SB.BmapStart + b/(config.BlockSize*8)
		buf := fsys.cache.Read(w, fsys.Dev, bitBlock)

		for bi := uint32(0); bi < config.BlockSize*8 && b+bi < fsys.SB.Size; bi++ {
			byteIdx, bitIdx := bi/8, bi%8
			mask := byte(1 << bitIdx)

			if buf.Data[byteIdx]&mask == 0 {
				buf.Data[byteIdx] |= mask
				txn.Write(buf)
				fsys.cache.Release(w, buf)

				blockno := b + bi
				fsys.zeroBlock(w, txn, blockno)

				return blockno, nil
			}
		}

		fsys.cache.Release(w, buf)
	}

	return 0, ErrNoSpace
}

func (fsys *FS) zeroBlock(w sleeplock.Waiter, txn *fslog.Txn, blockno uint32) {
	buf := fsys.cache.Read(w, fsys.Dev, blockno)
	for i := range buf.Data {
		buf.Data[i] = 0
	}
	txn.Write(buf)
	fsys.cache.Release(w, buf)
}

// bfree clears a block's bitmap bit. Freeing an already-free block is fatal
// (spec.md §7.1's "freeing an already-free block" invariant).
func (fsys *FS) bfree(w sleeplock.Waiter, txn *fslog.Txn, blockno uint32) {
	bitBlock := fsys.SB.BmapStart + blockno/(config.BlockSize*8)
	buf := fsys.cache.Read(w, fsys.Dev, bitBlock)

	bi := blockno % (config.BlockSize * 8)
	byteIdx, bitIdx := bi/8, bi%8
	mask := byte(1 << bitIdx)

	kpanic.Assert(buf.Data[byteIdx]&mask != 0, "fs: double-free of block %d", blockno)
	buf.Data[byteIdx] &^= mask

	txn.Write(buf)
	fsys.cache.Release(w, buf)
}

// --- inode cache (iget/ilock/iunlock/iput) ---

// iget returns the cached in-memory inode for (dev, inum), incrementing its
// refcount, allocating an empty cache slot on a miss. It never touches
// disk (spec.md §4.7's iget).
func (fsys *FS) iget(dev int, inum uint32) *Inode {
	var empty *Inode

	for _, ip := range fsys.icache {
		if ip.ref > 0 && ip.Dev == dev && ip.Inum == inum {
			ip.ref++
			return ip
		}

		if empty == nil && ip.ref == 0 {
			empty = ip
		}
	}

	kpanic.Assert(empty != nil, "fs: inode cache exhausted")

	empty.Dev = dev
	empty.Inum = inum
	empty.ref = 1
	empty.valid = false

	return empty
}

func (fsys *FS) inodeBlockAndOffset(inum uint32) (uint32, int) {
	block := fsys.SB.InodeStart + inum/dinodesPerBlock
	offset := int(inum%dinodesPerBlock) * dinodeSize

	return block, offset
}

// Ilock acquires ip's sleep lock and loads it from disk if not yet valid.
func (fsys *FS) Ilock(w sleeplock.Waiter, ip *Inode) {
	ip.lock.Acquire(w)

	if !ip.valid {
		block, off := fsys.inodeBlockAndOffset(ip.Inum)
		buf := fsys.cache.Read(w, fsys.Dev, block)

		d := buf.Data[off : off+dinodeSize]
		ip.Type = int16(binary.LittleEndian.Uint16(d[0:2]))
		ip.Major = int16(binary.LittleEndian.Uint16(d[2:4]))
		ip.Minor = int16(binary.LittleEndian.Uint16(d[4:6]))
		ip.NLink = int16(binary.LittleEndian.Uint16(d[6:8]))
		ip.Size = binary.LittleEndian.Uint32(d[8:12])

		for i := range ip.Addrs {
			ip.Addrs[i] = binary.LittleEndian.Uint32(d[12+4*i : 16+4*i])
		}

		fsys.cache.Release(w, buf)

		ip.valid = true

		kpanic.Assert(ip.Type != TypeFree, "fs: ilock of unallocated inode %d", ip.Inum)
	}
}

// Iunlock releases ip's sleep lock.
func (fsys *FS) Iunlock(w sleeplock.Waiter, ip *Inode) {
	ip.lock.Release(w)
}

// Iupdate writes ip's in-memory fields (Type, Major, Minor, NLink, Size,
// Addrs) back to its on-disk block, for callers outside this package that
// mutate those fields directly — internal/syscall's mkdir/link/create
// paths setting NLink the way original_source's sysfile.c calls iupdate
// straight after touching a field, with no setter indirection.
func (fsys *FS) Iupdate(w sleeplock.Waiter, txn *fslog.Txn, ip *Inode) { fsys.iupdate(w, txn, ip) }

// iupdate writes ip's in-memory fields back to its on-disk block within
// the given transaction.
func (fsys *FS) iupdate(w sleeplock.Waiter, txn *fslog.Txn, ip *Inode) {
	block, off := fsys.inodeBlockAndOffset(ip.Inum)
	buf := fsys.cache.Read(w, fsys.Dev, block)

	d := buf.Data[off : off+dinodeSize]
	binary.LittleEndian.PutUint16(d[0:2], uint16(ip.Type))
	binary.LittleEndian.PutUint16(d[2:4], uint16(ip.Major))
	binary.LittleEndian.PutUint16(d[4:6], uint16(ip.Minor))
	binary.LittleEndian.PutUint16(d[6:8], uint16(ip.NLink))
	binary.LittleEndian.PutUint32(d[8:12], ip.Size)

	for i, a := range ip.Addrs {
		binary.LittleEndian.PutUint32(d[12+4*i:16+4*i], a)
	}

	txn.Write(buf)
	fsys.cache.Release(w, buf)
}

// Iput decrements ip's refcount; at 0 with NLink==0 and valid, truncates
// its storage and frees the on-disk inode (spec.md §3's in-memory inode
// invariant).
func (fsys *FS) Iput(w sleeplock.Waiter, txn *fslog.Txn, ip *Inode) {
	ip.lock.Acquire(w)

	if ip.ref == 1 && ip.valid && ip.NLink == 0 {
		fsys.itrunc(w, txn, ip)
		ip.Type = TypeFree
		fsys.iupdate(w, txn, ip)
		ip.valid = false
	}

	ip.lock.Release(w)

	ip.ref--
}

// IAlloc scans the inode region for a free (type==0) slot, marks it with
// the given type, and returns the in-memory inode (spec.md's ialloc).
func (fsys *FS) IAlloc(w sleeplock.Waiter, txn *fslog.Txn, typ int16) (*Inode, error) {
	for inum := uint32(1); inum < fsys.SB.NInodes; inum++ {
		block, off := fsys.inodeBlockAndOffset(inum)
		buf := fsys.cache.Read(w, fsys.Dev, block)

		d := buf.Data[off : off+dinodeSize]
		if binary.LittleEndian.Uint16(d[0:2]) == TypeFree {
			for i := range d {
				d[i] = 0
			}
			binary.LittleEndian.PutUint16(d[0:2], uint16(typ))
			txn.Write(buf)
			fsys.cache.Release(w, buf)

			ip := fsys.iget(fsys.Dev, inum)
			fsys.Ilock(w, ip)
			ip.NLink = 0

			return ip, nil
		}

		fsys.cache.Release(w, buf)
	}

	return nil, ErrNoInodes
}

// Sysinfo reports the filesystem's total and free block and inode counts
// (restored from `original_source/include/sysinfo.h`'s struct sysinfo,
// dropped by the distillation but left with no other caller): it scans the
// bitmap the same way balloc does and the on-disk inode array the same way
// IAlloc does, just counting instead of claiming the first free one.
func (fsys *FS) Sysinfo(w sleeplock.Waiter) (totalBlocks, freeBlocks, totalInodes, freeInodes uint64) {
	totalBlocks = uint64(fsys.SB.Size)

	for b := uint32(0); b < fsys.SB.Size; b += config.BlockSize * 8 {
		bitBlock := fsys.SB.BmapStart + b/(config.BlockSize*8)
		buf := fsys.cache.Read(w, fsys.Dev, bitBlock)

		for bi := uint32(0); bi < config.BlockSize*8 && b+bi < fsys.SB.Size; bi++ {
			byteIdx, bitIdx := bi/8, bi%8
			if buf.Data[byteIdx]&(1<<bitIdx) == 0 {
				freeBlocks++
			}
		}

		fsys.cache.Release(w, buf)
	}

	totalInodes = uint64(fsys.SB.NInodes)

	for inum := uint32(1); inum < fsys.SB.NInodes; inum++ {
		block, off := fsys.inodeBlockAndOffset(inum)
		buf := fsys.cache.Read(w, fsys.Dev, block)

		if binary.LittleEndian.Uint16(buf.Data[off:off+2]) == TypeFree {
			freeInodes++
		}

		fsys.cache.Release(w, buf)
	}

	return totalBlocks, freeBlocks, totalInodes, freeInodes
}

// --- block map: translate a logical file block index to a physical block,
// allocating on demand ---

func (fsys *FS) blockMap(w sleeplock.Waiter, txn *fslog.Txn, ip *Inode, idx uint32) (uint32, error) {
	if idx < config.NDirect {
		if ip.Addrs[idx] == 0 {
			bn, err := fsys.balloc(w, txn)
			if err != nil {
				return 0, err
			}

			ip.Addrs[idx] = bn
		}

		return ip.Addrs[idx], nil
	}

	idx -= config.NDirect
	if idx >= NIndirect {
		return 0, fmt.Errorf("fs: block index %d exceeds max file size", idx+config.NDirect)
	}

	if ip.Addrs[config.NDirect] == 0 {
		bn, err := fsys.balloc(w, txn)
		if err != nil {
			return 0, err
		}

		ip.Addrs[config.NDirect] = bn
	}

	indBuf := fsys.cache.Read(w, fsys.Dev, ip.Addrs[config.NDirect])
	bn := binary.LittleEndian.Uint32(indBuf.Data[4*idx : 4*idx+4])

	if bn == 0 {
		var err error

		bn, err = fsys.balloc(w, txn)
		if err != nil {
			fsys.cache.Release(w, indBuf)
			return 0, err
		}

		binary.LittleEndian.PutUint32(indBuf.Data[4*idx:4*idx+4], bn)
		txn.Write(indBuf)
	}

	fsys.cache.Release(w, indBuf)

	return bn, nil
}

// itrunc frees every data block (direct and indirect) an inode owns and
// resets its size to zero.
func (fsys *FS) itrunc(w sleeplock.Waiter, txn *fslog.Txn, ip *Inode) {
	for i := 0; i < config.NDirect; i++ {
		if ip.Addrs[i] != 0 {
			fsys.bfree(w, txn, ip.Addrs[i])
			ip.Addrs[i] = 0
		}
	}

	if ip.Addrs[config.NDirect] != 0 {
		indBuf := fsys.cache.Read(w, fsys.Dev, ip.Addrs[config.NDirect])

		for i := 0; i < NIndirect; i++ {
			bn := binary.LittleEndian.Uint32(indBuf.Data[4*i : 4*i+4])
			if bn != 0 {
				fsys.bfree(w, txn, bn)
			}
		}

		fsys.cache.Release(w, indBuf)
		fsys.bfree(w, txn, ip.Addrs[config.NDirect])
		ip.Addrs[config.NDirect] = 0
	}

	ip.Size = 0
	fsys.iupdate(w, txn, ip)
}

// --- read/write ---

// Readi copies up to len(dst) bytes from ip starting at off into dst,
// bounded by the inode's size; reads through unallocated blocks (holes)
// yield zero bytes (spec.md §4.7's Read/write).
func (fsys *FS) Readi(w sleeplock.Waiter, ip *Inode, dst []byte, off uint32) (int, error) {
	if off > ip.Size {
		return 0, nil
	}

	if uint32(len(dst)) > ip.Size-off {
		dst = dst[:ip.Size-off]
	}

	n := 0
	for n < len(dst) {
		blockIdx := (off + uint32(n)) / config.BlockSize
		blockOff := (off + uint32(n)) % config.BlockSize

		var bn uint32
		if blockIdx < config.NDirect {
			bn = ip.Addrs[blockIdx]
		} else if blockIdx-config.NDirect < NIndirect && ip.Addrs[config.NDirect] != 0 {
			indBuf := fsys.cache.Read(w, fsys.Dev, ip.Addrs[config.NDirect])
			bn = binary.LittleEndian.Uint32(indBuf.Data[4*(blockIdx-config.NDirect) : 4*(blockIdx-config.NDirect)+4])
			fsys.cache.Release(w, indBuf)
		}

		chunk := config.BlockSize - blockOff
		if uint32(len(dst)-n) < chunk {
			chunk = uint32(len(dst) - n)
		}

		if bn == 0 {
			// Hole: leave the destination zeroed.
			n += int(chunk)
			continue
		}

		buf := fsys.cache.Read(w, fsys.Dev, bn)
		copy(dst[n:n+int(chunk)], buf.Data[blockOff:blockOff+chunk])
		fsys.cache.Release(w, buf)

		n += int(chunk)
	}

	return n, nil
}

// Writei copies src into ip starting at off, allocating blocks as needed
// and growing ip.Size monotonically, log-writing each touched block
// (spec.md §4.7's Read/write).
func (fsys *FS) Writei(w sleeplock.Waiter, txn *fslog.Txn, ip *Inode, src []byte, off uint32) (int, error) {
	if off+uint32(len(src)) < off {
		return 0, fmt.Errorf("fs: write offset overflow")
	}

	n := 0
	for n < len(src) {
		blockIdx := (off + uint32(n)) / config.BlockSize
		blockOff := (off + uint32(n)) % config.BlockSize

		bn, err := fsys.blockMap(w, txn, ip, blockIdx)
		if err != nil {
			break
		}

		chunk := config.BlockSize - blockOff
		if uint32(len(src)-n) < chunk {
			chunk = uint32(len(src) - n)
		}

		buf := fsys.cache.Read(w, fsys.Dev, bn)
		copy(buf.Data[blockOff:blockOff+chunk], src[n:n+int(chunk)])
		txn.Write(buf)
		fsys.cache.Release(w, buf)

		n += int(chunk)
	}

	if off+uint32(n) > ip.Size {
		ip.Size = off + uint32(n)
	}

	fsys.iupdate(w, txn, ip)

	return n, nil
}

// --- directories ---

// DirEntSize is the on-disk size of one directory entry: a 16-bit inode
// number plus a fixed-length name (original_source's struct dirent).
const DirEntSize = 2 + config.DirNameLen

func decodeDirEnt(b []byte) (inum uint16, name string) {
	inum = binary.LittleEndian.Uint16(b[0:2])

	end := 2
	for end < DirEntSize && b[end] != 0 {
		end++
	}

	return inum, string(b[2:end])
}

func encodeDirEnt(b []byte, inum uint16, name string) {
	binary.LittleEndian.PutUint16(b[0:2], inum)

	copy(b[2:2+config.DirNameLen], name)
	for i := len(name); i < config.DirNameLen; i++ {
		b[2+i] = 0
	}
}

// DirLookup scans directory inode dp for name, returning the child inode
// (not locked) and its byte offset within dp, or ErrNotFound.
func (fsys *FS) DirLookup(w sleeplock.Waiter, dp *Inode, name string) (*Inode, uint32, error) {
	kpanic.Assert(dp.Type == TypeDir, "fs: dirlookup on non-directory inode %d", dp.Inum)

	buf := make([]byte, DirEntSize)

	for off := uint32(0); off < dp.Size; off += DirEntSize {
		if _, err := fsys.Readi(w, dp, buf, off); err != nil {
			return nil, 0, err
		}

		inum, entName := decodeDirEnt(buf)
		if inum != 0 && entName == name {
			return fsys.iget(fsys.Dev, uint32(inum)), off, nil
		}
	}

	return nil, 0, ErrNotFound
}

// DirLink adds an entry (name -> childInum) to directory dp, failing if
// name already exists.
func (fsys *FS) DirLink(w sleeplock.Waiter, txn *fslog.Txn, dp *Inode, name string, childInum uint32) error {
	if _, _, err := fsys.DirLookup(w, dp, name); err == nil {
		return ErrExists
	}

	buf := make([]byte, DirEntSize)

	var off uint32
	for off = 0; off < dp.Size; off += DirEntSize {
		if _, err := fsys.Readi(w, dp, buf, off); err != nil {
			return err
		}

		inum, _ := decodeDirEnt(buf)
		if inum == 0 {
			break
		}
	}

	encodeDirEnt(buf, uint16(childInum), name)

	_, err := fsys.Writei(w, txn, dp, buf, off)

	return err
}

// DirUnlink clears the directory entry at byte offset off (found via a
// prior DirLookup), leaving a hole future DirLink calls may reuse.
func (fsys *FS) DirUnlink(w sleeplock.Waiter, txn *fslog.Txn, dp *Inode, off uint32) error {
	buf := make([]byte, DirEntSize)
	_, err := fsys.Writei(w, txn, dp, buf, off)

	return err
}

// --- path resolution ---

// splitPath returns the first path element and the remainder, skipping
// leading slashes.
func splitPath(path string) (elem, rest string) {
	i := 0
	for i < len(path) && path[i] == '/' {
		i++
	}

	path = path[i:]

	j := 0
	for j < len(path) && path[j] != '/' {
		j++
	}

	elem = path[:j]

	k := j
	for k < len(path) && path[k] == '/' {
		k++
	}

	return elem, path[k:]
}

// Namei resolves path to its inode (not locked), starting from root for
// absolute paths or cwd for relative ones (spec.md §4.7's Path
// resolution).
func (fsys *FS) Namei(w sleeplock.Waiter, cwd *Inode, path string) (*Inode, error) {
	ip, err := fsys.namex(w, cwd, path, false)
	return ip, err
}

// NameiParent resolves all but the last element of path, returning the
// containing directory (not locked) and the final element name. It fails
// if path has no components.
func (fsys *FS) NameiParent(w sleeplock.Waiter, cwd *Inode, path string) (*Inode, string, error) {
	dp, err := fsys.namex(w, cwd, path, true)
	if err != nil {
		return nil, "", err
	}

	_, last := lastElem(path)

	return dp, last, nil
}

func lastElem(path string) (parent, elem string) {
	end := len(path)
	for end > 0 && path[end-1] == '/' {
		end--
	}

	start := end
	for start > 0 && path[start-1] != '/' {
		start--
	}

	return path[:start], path[start:end]
}

func (fsys *FS) namex(w sleeplock.Waiter, cwd *Inode, path string, parentMode bool) (*Inode, error) {
	var ip *Inode

	if len(path) > 0 && path[0] == '/' {
		ip = fsys.iget(fsys.Dev, config.RootInode)
	} else {
		kpanic.Assert(cwd != nil, "fs: relative path with no current directory")
		ip = cwd
		ip.ref++
	}

	elem, rest := splitPath(path)

	if parentMode && elem == "" {
		return nil, fmt.Errorf("fs: %w: empty path", ErrNotFound)
	}

	for elem != "" {
		fsys.Ilock(w, ip)

		if ip.Type != TypeDir {
			fsys.Iunlock(w, ip)
			return nil, ErrNotDir
		}

		if parentMode && rest == "" {
			fsys.Iunlock(w, ip)
			return ip, nil
		}

		next, _, err := fsys.DirLookup(w, ip, elem)
		fsys.Iunlock(w, ip)

		if err != nil {
			return nil, err
		}

		ip = next
		elem, rest = splitPath(rest)
	}

	if parentMode {
		return nil, fmt.Errorf("fs: %w: path has no parent", ErrNotFound)
	}

	return ip, nil
}
