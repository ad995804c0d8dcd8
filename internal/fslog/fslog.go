// Package fslog implements the write-ahead log (spec.md §4.6):
// begin_op/end_op transaction brackets, log_write enrollment of modified
// buffers, and crash recovery by at-most-once replay of a committed
// transaction.
//
// Grounded on xv6's log.c design (the header block holding a count and
// block-number array, the staging→commit→install→clear sequence), guarded
// by a sleep lock the way original_source guards its own single-writer
// resources, and expressed through internal/bio's buffer cache rather than
// raw disk blocks.
package fslog

import (
	"encoding/binary"

	"github.com/coursekernel/riscvkernel/internal/bio"
	"github.com/coursekernel/riscvkernel/internal/config"
	"github.com/coursekernel/riscvkernel/internal/kpanic"
	"github.com/coursekernel/riscvkernel/internal/sleeplock"
)

// header is the on-disk and in-memory log header: how many blocks are
// staged, and which block numbers they belong to.
type header struct {
	count  int
	blocks [config.LogBlocks]uint32
}

// Log is the filesystem's write-ahead log for one device.
type Log struct {
	dev    int
	start  uint32 // first block of the log region.
	size   uint32 // number of blocks in the log region, including the header.
	hdr    header
	lock   *sleeplock.Lock
	cache  *bio.Cache

	crashAt int // test-only crash injection point; see SetCrashPoint.
}

// Crash injection points for the fslog_crash test syscall (spec.md's E4/E5
// testable properties): CrashAfterStage simulates a crash after the staged
// data blocks are written but before the header commits, so count stays 0
// on disk and the transaction is lost; CrashAfterCommit simulates a crash
// after the header commits but before install, so recovery replays it on
// the next mount.
const (
	CrashNone        = 0
	CrashAfterStage  = 1
	CrashAfterCommit = 2
)

// SetCrashPoint arms (or, with CrashNone, disarms) a crash injection point
// for the next EndOp that stages at least one block. It exists purely to
// let the fslog_crash syscall exercise the recovery paths Open's recover
// already implements; production code never calls it.
func (l *Log) SetCrashPoint(point int) { l.crashAt = point }

// Open mounts the log region [start, start+size) on dev and recovers any
// committed-but-not-installed transaction (spec.md §4.6's Recovery).
func Open(w sleeplock.Waiter, cache *bio.Cache, dev int, start, size uint32) *Log {
	l := &Log{
		dev:   dev,
		start: start,
		size:  size,
		lock:  sleeplock.New("log"),
		cache: cache,
	}

	l.readHead(w)
	l.recover(w)

	return l
}

func (l *Log) headerBlockNo() uint32 { return l.start }
func (l *Log) dataBlockNo(i int) uint32 { return l.start + 1 + uint32(i) }

func (l *Log) readHead(w sleeplock.Waiter) {
	buf := l.cache.Read(w, l.dev, l.headerBlockNo())
	defer l.cache.Release(w, buf)

	l.hdr.count = int(binary.LittleEndian.Uint32(buf.Data[0:4]))

	for i := 0; i < l.hdr.count; i++ {
		l.hdr.blocks[i] = binary.LittleEndian.Uint32(buf.Data[4+4*i : 8+4*i])
	}
}

func (l *Log) writeHead(w sleeplock.Waiter) {
	buf := l.cache.Read(w, l.dev, l.headerBlockNo())
	defer l.cache.Release(w, buf)

	binary.LittleEndian.PutUint32(buf.Data[0:4], uint32(l.hdr.count))

	for i := 0; i < l.hdr.count; i++ {
		binary.LittleEndian.PutUint32(buf.Data[4+4*i:8+4*i], l.hdr.blocks[i])
	}

	kpanic.Assert(l.cache.Write(buf) == nil, "fslog: header write failed")
}

// recover performs install+clear without replaying staging, per spec.md
// §4.6: "if count>0, perform install+clear without replaying the staging
// phase" (a crash before commit left count==0; a crash after commit means
// the staged data is already durable in the log region, not lost).
func (l *Log) recover(w sleeplock.Waiter) {
	if l.hdr.count == 0 {
		return
	}

	l.installFromLog(w)
	l.hdr.count = 0
	l.writeHead(w)
}

func (l *Log) installFromLog(w sleeplock.Waiter) {
	for i := 0; i < l.hdr.count; i++ {
		logBuf := l.cache.Read(w, l.dev, l.dataBlockNo(i))
		homeBuf := l.cache.Read(w, l.dev, l.hdr.blocks[i])

		homeBuf.Data = logBuf.Data
		kpanic.Assert(l.cache.Write(homeBuf) == nil, "fslog: install write failed")

		l.cache.Release(w, homeBuf)
		l.cache.Release(w, logBuf)
	}
}

// Txn is a handle on one open transaction, returned by BeginOp and passed
// to Write/EndOp. Tracking it explicitly (rather than global mutable
// state alone) makes "at most one transaction is active" a type-level fact
// once a Log only ever hands out one live Txn at a time.
type Txn struct {
	log     *Log
	touched map[uint32]*bio.Buf
	order   []uint32
}

// BeginOp brackets the start of a filesystem operation (spec.md §4.6). Only
// one transaction may be active at a time; the log's sleep lock enforces
// this.
func (l *Log) BeginOp(w sleeplock.Waiter) *Txn {
	l.lock.Acquire(w)

	return &Txn{log: l, touched: make(map[uint32]*bio.Buf)}
}

// Write enrolls buf into the current transaction instead of writing it to
// disk immediately (spec.md's log_write). Enrolling the same block twice
// within one transaction keeps only the latest contents.
func (t *Txn) Write(buf *bio.Buf) {
	kpanic.Assert(len(t.order) < config.LogBlocks || t.touched[buf.BlockNo] != nil,
		"fslog: transaction exceeds %d blocks", config.LogBlocks)

	if _, ok := t.touched[buf.BlockNo]; !ok {
		t.order = append(t.order, buf.BlockNo)
	}

	buf.Pinned = true
	t.touched[buf.BlockNo] = buf
}

// EndOp commits the transaction if it touched any blocks, then releases
// the log's sleep lock (spec.md's end_op / Commit sequence: stage, write
// header, install, clear).
func (t *Txn) EndOp(w sleeplock.Waiter) {
	defer t.log.lock.Release(w)

	if len(t.order) == 0 {
		return
	}

	l := t.log

	l.hdr.count = len(t.order)
	copy(l.hdr.blocks[:], t.order)

	for i, blockno := range t.order {
		logBuf := l.cache.Read(w, l.dev, l.dataBlockNo(i))
		logBuf.Data = t.touched[blockno].Data
		kpanic.Assert(l.cache.Write(logBuf) == nil, "fslog: stage write failed")
		l.cache.Release(w, logBuf)
	}

	if l.crashAt == CrashAfterStage {
		l.crashAt = CrashNone
		kpanic.Panic("fslog: injected crash after staging, before header commit")
	}

	l.writeHead(w)

	if l.crashAt == CrashAfterCommit {
		l.crashAt = CrashNone
		kpanic.Panic("fslog: injected crash after header commit, before install")
	}

	for _, blockno := range t.order {
		homeBuf := l.cache.Read(w, l.dev, blockno)
		homeBuf.Data = t.touched[blockno].Data
		kpanic.Assert(l.cache.Write(homeBuf) == nil, "fslog: install write failed")
		homeBuf.Pinned = false
		l.cache.Release(w, homeBuf)
	}

	l.hdr.count = 0
	l.writeHead(w)
}
