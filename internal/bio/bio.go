// Package bio implements the block buffer cache (spec.md §4.4): a bounded
// pool of fixed-size block buffers, each guarded by its own sleep lock, with
// least-recently-used reclamation on a cache miss.
//
// Grounded on original_source's buffer-cache contract (bread/bwrite/brelse)
// and on xv6's classic intrusive-doubly-linked-list-over-a-fixed-array
// design for LRU order, expressed through the teacher's device-controller
// idiom: a struct wrapping a fixed array with its own mutation discipline,
// the way internal/vm/mem.go's Memory wraps PhysicalMemory.
package bio

import (
	"fmt"

	"github.com/coursekernel/riscvkernel/internal/config"
	"github.com/coursekernel/riscvkernel/internal/kpanic"
	"github.com/coursekernel/riscvkernel/internal/sleeplock"
)

// BlockDevice is the subset of the block driver the cache needs, so bio has
// no direct dependency on internal/virtio.
type BlockDevice interface {
	ReadBlock(blockno uint32, dst []byte) error
	WriteBlock(blockno uint32, src []byte) error
}

// Nester disables/restores interrupts around LRU list manipulation (spec.md
// §4.4, "The LRU list structure is manipulated only with interrupts off").
type Nester interface {
	PushOff()
	PopOff()
}

// Buf is one cached block. Data is exactly BlockSize bytes. Pinned is set
// while the write-ahead log holds a reference to keep this buffer from
// being evicted mid-transaction (spec.md §4.6's "pins the buffer").
type Buf struct {
	Dev     int
	BlockNo uint32
	Valid   bool
	Pinned  bool
	Data    [config.BlockSize]byte

	refcount int
	lock     *sleeplock.Lock

	prev, next int // LRU list links, indices into Cache.bufs.
}

// Cache is the fixed-size buffer pool.
type Cache struct {
	bufs []Buf
	dev  BlockDevice
	nest Nester

	// head/tail form a doubly linked list over indices into bufs, ordered
	// least-recently-used (head) to most-recently-used (tail), mirroring
	// the classic xv6 bcache ring.
	head, tail int
}

// New creates a cache of NBUF buffers over dev.
func New(dev BlockDevice, nest Nester) *Cache {
	c := &Cache{
		bufs: make([]Buf, config.NBUF),
		dev:  dev,
		nest: nest,
	}

	for i := range c.bufs {
		c.bufs[i].lock = sleeplock.New(fmt.Sprintf("buf%d", i))
		c.bufs[i].prev = i - 1
		c.bufs[i].next = i + 1
	}

	c.bufs[0].prev = -1
	c.bufs[len(c.bufs)-1].next = -1
	c.head = 0
	c.tail = len(c.bufs) - 1

	return c
}

func (c *Cache) unlink(i int) {
	b := &c.bufs[i]

	if b.prev >= 0 {
		c.bufs[b.prev].next = b.next
	} else {
		c.head = b.next
	}

	if b.next >= 0 {
		c.bufs[b.next].prev = b.prev
	} else {
		c.tail = b.prev
	}
}

func (c *Cache) pushTail(i int) {
	b := &c.bufs[i]
	b.prev = c.tail
	b.next = -1

	if c.tail >= 0 {
		c.bufs[c.tail].next = i
	} else {
		c.head = i
	}

	c.tail = i
}

// getBuf returns the cached buffer for (dev, blockno), incrementing its
// refcount: either an existing cache hit, or the least-recently-used
// buffer with refcount 0 reclaimed for this block (spec.md §4.4's Policy).
func (c *Cache) getBuf(dev int, blockno uint32) *Buf {
	c.nest.PushOff()
	defer c.nest.PopOff()

	for i := range c.bufs {
		if c.bufs[i].Dev == dev && c.bufs[i].BlockNo == blockno {
			c.bufs[i].refcount++
			return &c.bufs[i]
		}
	}

	for i := c.head; i != -1; i = c.bufs[i].next {
		if c.bufs[i].refcount == 0 && !c.bufs[i].Pinned {
			c.bufs[i].Dev = dev
			c.bufs[i].BlockNo = blockno
			c.bufs[i].Valid = false
			c.bufs[i].Pinned = false
			c.bufs[i].refcount = 1

			return &c.bufs[i]
		}
	}

	kpanic.Panic("bio: no free buffers")

	return nil
}

// Read returns a locked, valid buffer for (dev, blockno), reading it from
// the device on first access (spec.md §4.4's bread).
func (c *Cache) Read(w sleeplock.Waiter, dev int, blockno uint32) *Buf {
	b := c.getBuf(dev, blockno)
	b.lock.Acquire(w)

	if !b.Valid {
		if err := c.dev.ReadBlock(blockno, b.Data[:]); err != nil {
			kpanic.Panic("bio: read block %d: %v", blockno, err)
		}

		b.Valid = true
	}

	return b
}

// Write writes buf back to disk immediately (spec.md's bwrite). Callers
// inside a filesystem transaction use the log's Txn.Write instead, which
// defers the actual device write to commit time.
func (c *Cache) Write(buf *Buf) error {
	return c.dev.WriteBlock(buf.BlockNo, buf.Data[:])
}

// Release releases buf's sleep lock and, if its refcount drops to zero,
// moves it to the most-recently-used end of the LRU list (spec.md's
// brelse).
func (c *Cache) Release(w sleeplock.Waiter, buf *Buf) {
	kpanic.Assert(buf.lock.Holding(w.CurrentPID()), "bio: release of buffer not held by caller")

	buf.lock.Release(w)

	c.nest.PushOff()
	defer c.nest.PopOff()

	buf.refcount--

	if buf.refcount == 0 {
		idx := c.indexOf(buf)
		c.unlink(idx)
		c.pushTail(idx)
	}
}

func (c *Cache) indexOf(buf *Buf) int {
	for i := range c.bufs {
		if &c.bufs[i] == buf {
			return i
		}
	}

	kpanic.Panic("bio: buffer not owned by this cache")

	return -1
}
