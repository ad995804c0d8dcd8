// Package config collects the build-time tunables of the kernel. A real
// kernel has no config file to parse at boot; these are the idiomatic
// analogue, named constants gathered in one place the way the teacher
// gathers its memory map and device addresses in vm/mem.go and vm/io.go.
package config

// PageSize is the size, in bytes, of a physical frame and a leaf mapping.
const PageSize = 4096

// Sv39 page table geometry: three levels of 512 nine-bit indexed entries,
// each covering a 12-bit page offset.
const (
	PTEsPerTable = 512
	PTEIndexBits = 9
	PageOffsetBits = 12
	PTLevels       = 3
)

// Address space regions, identity-mapped by the kernel page table (§4.2).
const (
	UARTBase  = uintptr(0x1000_0000)
	UARTSize  = uintptr(0x100)
	PLICBase  = uintptr(0x0c00_0000)
	PLICSize  = uintptr(0x0040_0000)
	VirtIOBase = uintptr(0x1000_1000)
	VirtIOSize = uintptr(0x1000)
	CLINTBase = uintptr(0x0200_0000)
	CLINTSize = uintptr(0x0001_0000)

	KernelBase = uintptr(0x8000_0000)
	TrampolineVA = ^uintptr(0) - PageSize + 1 // Top page of the 39-bit VA space.

	// TrapframeVA is the second-from-top page, one per process, holding the
	// user trap frame, mirroring spec.md §4.2's "trampoline page at the top
	// ... and each process's kernel-stack page at a per-slot virtual
	// address with a guard page below" by reserving the symmetric slot for
	// the user trap frame below the trampoline.
	TrapframeVA = TrampolineVA - PageSize
)

// PLIC interrupt sources.
const (
	UARTIRQ   = 10
	VirtIOIRQ = 1
)

// Timer quantum: number of simulated timer ticks between preemptions.
const TimerQuantum = 1_000_000

// Process and resource limits (mirrors original_source/include/param.h:
// MAX_PROCESS, NOFILE, NFILE, NINODE, MAXOPBLOCKS/LOGBLOCKS, MAXPATH,
// MAXARG).
const (
	NPROC     = 64
	NOFILE    = 16 // open files per process
	NFILE     = 100 // open files system-wide
	NINODE    = 50 // cached in-memory inodes
	NBUF      = 30 // buffer cache slots
	MaxOpBlocks = 10
	LogBlocks = MaxOpBlocks * 3
	MaxPath   = 128
	MaxArg    = 32
	NSEM      = 32 // semaphore table slots
	NDEV      = 10 // device-switch table slots
)

// Filesystem layout constants (mirrors original_source/include/fs.h).
const (
	BlockSize  = 1024
	FSMagic    = 0x88888888
	RootDev    = 1
	RootInode  = 1
	NDirect    = 12
	DirNameLen = 14

	ConsoleMajor = 1
)

// Virtqueue geometry (§6 "Virtqueue MMIO protocol").
const (
	VirtQueueNum = 8
	SectorSize   = 512
)
