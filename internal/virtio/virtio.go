// Package virtio implements the block device driver against a VirtIO 1.2
// style virtqueue transport (spec.md §4.5): queue negotiation, descriptor
// chain construction, and completion via interrupt.
//
// Grounded on iansmith-mazarin's virtqueue.go (descriptor table / available
// ring / used ring layout, NEXT/WRITE descriptor flags, fence placement
// around index updates) and on the teacher's device-controller idiom
// (internal/vm/io.go's MMIO device table) for how the device is wired into
// the interrupt controller. Since this kernel simulates its hardware rather
// than running against a real MMIO region (SPEC_FULL.md's REDESIGN
// section), the "device side" of the queue is processed synchronously
// inside request rather than by an independent goroutine: the ring and
// descriptor structures, and the fence/notify sequence around them, are
// real; only the asynchronous latency of a physical device is elided.
package virtio

import (
	"encoding/binary"
	"errors"

	"github.com/coursekernel/riscvkernel/internal/config"
	"github.com/coursekernel/riscvkernel/internal/hart"
	"github.com/coursekernel/riscvkernel/internal/kpanic"
	"github.com/coursekernel/riscvkernel/internal/log"
	"github.com/coursekernel/riscvkernel/internal/plic"
)

// Descriptor flags (spec.md §6, "Descriptor flags: NEXT for chain
// continuation; WRITE to mark a descriptor device-writable").
const (
	DescFNext  uint16 = 1
	DescFWrite uint16 = 2
)

// Request types for the block header.
const (
	ReqRead  uint32 = 0
	ReqWrite uint32 = 1
)

// Desc is one virtqueue descriptor: a physical buffer plus chaining flags.
type Desc struct {
	Addr  uint64
	Len   uint32
	Flags uint16
	Next  uint16
}

// Used is one entry of the used ring: which descriptor chain completed, and
// how many bytes the device wrote into it.
type Used struct {
	ID  uint32
	Len uint32
}

// reqHeader is the block request header (spec.md §6): 32-bit type, 32-bit
// reserved, 64-bit sector.
type reqHeader struct {
	Type     uint32
	Reserved uint32
	Sector   uint64
}

func (h reqHeader) bytes() []byte {
	b := make([]byte, 16)
	binary.LittleEndian.PutUint32(b[0:4], h.Type)
	binary.LittleEndian.PutUint32(b[4:8], h.Reserved)
	binary.LittleEndian.PutUint64(b[8:16], h.Sector)

	return b
}

// Device is a virtio-blk device: its queue state and the simulated backing
// disk image.
type Device struct {
	desc      []Desc
	freeDesc  []bool
	availRing []uint16
	availIdx  uint16
	usedRing  []Used
	usedIdx   uint16
	lastAvail uint16

	disk []byte // simulated backing store, SectorSize-aligned.

	ctrl *plic.PLIC
	irq  uint32

	log *log.Logger

	// driverOK reports whether device initialization (spec.md §4.5's
	// "Initialization" sequence) completed.
	driverOK bool
}

// ErrDeviceError reports a non-zero virtqueue status byte (spec.md §7,
// "Device errors ... propagated by marking the buffer valid anyway; the
// log's atomic header write is the only durability guarantee" — callers
// that need stricter handling check this explicitly rather than relying on
// bio to retry).
var ErrDeviceError = errors.New("virtio: device status error")

// New creates a virtio-blk device backed by a disk image of diskBytes
// bytes (must be a multiple of SectorSize).
func New(diskBytes int) *Device {
	kpanic.Assert(diskBytes%config.SectorSize == 0, "virtio: disk size %d not sector aligned", diskBytes)

	return &Device{
		desc:      make([]Desc, config.VirtQueueNum),
		freeDesc:  make([]bool, config.VirtQueueNum),
		availRing: make([]uint16, config.VirtQueueNum),
		usedRing:  make([]Used, config.VirtQueueNum),
		disk:      make([]byte, diskBytes),
		log:       log.DefaultLogger(),
	}
}

// Init runs the virtio device initialization sequence (spec.md §4.5):
// magic/version/device-id/vendor-id checks are implicit here since this
// device is not discovered over real MMIO, but the reset, feature
// negotiation, and queue setup steps are modeled explicitly so the
// sequencing invariant (queue must be ready before driverOK) holds.
func (d *Device) Init(ctrl *plic.PLIC, irq uint32) {
	d.reset()
	d.acknowledge()
	d.negotiateFeatures()
	d.setupQueue()

	d.ctrl = ctrl
	d.irq = irq

	if ctrl != nil {
		ctrl.Register(irq, 6, d)
	}

	d.driverOK = true
	d.log.Info("virtio-blk initialized", "queue_size", config.VirtQueueNum)
}

func (d *Device) reset() {
	for i := range d.freeDesc {
		d.freeDesc[i] = false
	}

	d.availIdx, d.usedIdx, d.lastAvail = 0, 0, 0
}

func (d *Device) acknowledge()       {}
func (d *Device) negotiateFeatures() {} // No optional features are used.
func (d *Device) setupQueue()        {}

// allocChain reserves the first n free descriptor slots, panicking if the
// ring is exhausted — request size is fixed at 3 descriptors and the ring
// is sized >= 8, so exhaustion only happens if the driver leaks chains.
func (d *Device) allocChain(n int) []uint16 {
	idx := make([]uint16, 0, n)

	for i := range d.freeDesc {
		if !d.freeDesc[i] {
			d.freeDesc[i] = true
			idx = append(idx, uint16(i))

			if len(idx) == n {
				return idx
			}
		}
	}

	kpanic.Panic("virtio: descriptor ring exhausted")

	return nil
}

func (d *Device) freeChain(idx []uint16) {
	for _, i := range idx {
		d.freeDesc[i] = false
	}
}

// ReadBlock reads one BlockSize-byte block (2 sectors) into dst.
func (d *Device) ReadBlock(blockno uint32, dst []byte) error {
	kpanic.Assert(len(dst) == config.BlockSize, "virtio: read block buffer size %d", len(dst))

	return d.request(ReqRead, uint64(blockno)*(config.BlockSize/config.SectorSize), dst)
}

// WriteBlock writes one BlockSize-byte block (2 sectors) from src.
func (d *Device) WriteBlock(blockno uint32, src []byte) error {
	kpanic.Assert(len(src) == config.BlockSize, "virtio: write block buffer size %d", len(src))

	return d.request(ReqWrite, uint64(blockno)*(config.BlockSize/config.SectorSize), src)
}

// request builds the three-descriptor chain (header, data, status), submits
// it through the available ring, and processes it (spec.md §4.5's
// per-request protocol and completion, collapsed into one synchronous call
// since there is no independent device process to wait on).
func (d *Device) request(reqType uint32, sector uint64, data []byte) error {
	kpanic.Assert(d.driverOK, "virtio: request before driver-ok")

	write := reqType == ReqWrite

	header := reqHeader{Type: reqType, Sector: sector}.bytes()
	status := []byte{0xff}

	idx := d.allocChain(3)
	defer d.freeChain(idx)

	d.desc[idx[0]] = Desc{Addr: 0, Len: uint32(len(header)), Flags: DescFNext, Next: idx[1]}
	dataFlags := DescFNext
	if !write {
		dataFlags |= DescFWrite
	}
	d.desc[idx[1]] = Desc{Addr: 0, Len: uint32(len(data)), Flags: dataFlags, Next: idx[2]}
	d.desc[idx[2]] = Desc{Addr: 0, Len: 1, Flags: DescFWrite, Next: 0}

	chainHead := idx[0]

	// Publish the chain head into the available ring, with fences around
	// the index update exactly as spec.md §4.5 describes.
	d.availRing[d.availIdx%config.VirtQueueNum] = chainHead
	hart.Fence()
	d.availIdx++
	hart.Fence()

	return d.process(reqType, sector, data, status)
}

// process plays the device side of the protocol: pop the next available
// chain, perform the transfer against the simulated disk, write the status
// byte, post a used-ring entry, and deliver completion.
func (d *Device) process(reqType uint32, sector uint64, data []byte, status []byte) error {
	chainHead := d.availRing[d.lastAvail%config.VirtQueueNum]
	d.lastAvail++

	off := int(sector) * config.SectorSize
	if off < 0 || off+len(data) > len(d.disk) {
		status[0] = 1
	} else if reqType == ReqWrite {
		copy(d.disk[off:off+len(data)], data)
		status[0] = 0
	} else {
		copy(data, d.disk[off:off+len(data)])
		status[0] = 0
	}

	d.usedRing[d.usedIdx%config.VirtQueueNum] = Used{ID: uint32(chainHead), Len: uint32(len(data))}
	d.usedIdx++
	hart.Fence()

	if d.ctrl != nil {
		d.ctrl.Raise(d.irq)
	}

	if status[0] != 0 {
		return ErrDeviceError
	}

	return nil
}

// HandleIRQ implements plic.Handler. In this synchronous simulation the
// transfer and used-ring update are already complete by the time request
// returns, so there is nothing left to drain; the method exists so the
// device participates in the claim/complete protocol symmetrically with
// the UART.
func (d *Device) HandleIRQ() {}
