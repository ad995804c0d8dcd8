// Package proc implements the process abstraction and cooperative
// scheduler (spec.md §4.9): the process control block, the fixed-size
// process table, alloc/fork/exec/exit/wait, and the sleep/wakeup
// rendezvous the rest of the kernel's blocking primitives build on.
//
// Grounded on original_source/include/proc.h's struct proc (state, pid,
// parent, kstack, pagetable, trapframe, context, sz, exit_status, killed,
// chan, name) and original_source/kernel/proc.c's scheduler/sched/yield/
// sleep/wakeup. There is no real hart to preempt a process out from under
// it (SPEC_FULL.md's REDESIGN section): each process's kernel-mode
// execution runs on its own goroutine, parked on an unbuffered channel
// until the scheduler hands it the baton, the way internal/fslog.Txn
// replaces xv6's implicit single-writer assumption with an explicit Go
// value. Sched's "switch back to the scheduler" is this goroutine handing
// the baton back and blocking on its resume channel, the Go-idiomatic
// stand-in for swtch's register save/restore.
package proc

import (
	"encoding/binary"
	"errors"
	"runtime"
	"sync"

	"github.com/coursekernel/riscvkernel/internal/config"
	"github.com/coursekernel/riscvkernel/internal/elf"
	"github.com/coursekernel/riscvkernel/internal/file"
	"github.com/coursekernel/riscvkernel/internal/fs"
	"github.com/coursekernel/riscvkernel/internal/hart"
	"github.com/coursekernel/riscvkernel/internal/kpanic"
	"github.com/coursekernel/riscvkernel/internal/log"
	"github.com/coursekernel/riscvkernel/internal/mmu"
	"github.com/coursekernel/riscvkernel/internal/pmem"
	"github.com/coursekernel/riscvkernel/internal/sleeplock"
	"github.com/coursekernel/riscvkernel/internal/spinlock"
)

// State is a process's lifecycle stage (proc.h's enum procstate, plus the
// UNUSED/USED split spec.md §4.9 calls for: a slot reserved by AllocProc
// but not yet schedulable).
type State int

const (
	Unused State = iota
	Used
	Sleeping
	Runnable
	Running
	Zombie
)

func (s State) String() string {
	switch s {
	case Unused:
		return "unused"
	case Used:
		return "used"
	case Sleeping:
		return "sleeping"
	case Runnable:
		return "runnable"
	case Running:
		return "running"
	case Zombie:
		return "zombie"
	default:
		return "invalid"
	}
}

var (
	ErrNoFreeSlot   = errors.New("proc: process table full")
	ErrNoChildren   = errors.New("proc: no children to wait for")
	ErrExecFailed   = errors.New("proc: exec failed to load image")
	ErrArgsTooLarge = errors.New("proc: argv does not fit in the initial user stack page")
	ErrNotFound     = errors.New("proc: no such process")
	ErrBadSize      = errors.New("proc: sbrk would shrink address space below zero")
)

// TrapFrame holds the user-mode register file saved on kernel entry and
// restored on return, spec.md §4.10's per-process save area. Only the
// fields the scheduler and syscall layer touch directly are named; the
// rest of the general-purpose register file is opaque to this package.
type TrapFrame struct {
	Epc uintptr // sepc at the moment of the trap; also the exec entry point.
	Sp  uintptr // user stack pointer.
	A0  uintptr // argument/return register 0 (syscall arg 0 in, return value out; argc after exec).
	A1  uintptr // argument register 1 (syscall arg 1; argv's virtual address after exec).
	A2  uintptr // argument register 2.
	A3  uintptr // argument register 3.
	A4  uintptr // argument register 4.
	A5  uintptr // argument register 5.
	A7  uintptr // syscall number.
}

// Proc is one process control block (original_source's struct proc).
type Proc struct {
	PID        int
	State      State
	Parent     *Proc
	KStackVA   uintptr
	PageTable  *mmu.PageTable
	TrapFrame  *TrapFrame
	Size       uintptr // highest mapped user address.
	ExitStatus int
	Killed     bool
	Name       string

	Files [config.NOFILE]*file.File
	Cwd   *fs.Inode

	// Body is the Go-level stand-in for this process's user-mode program:
	// since this kernel simulates the hart rather than running on one, there
	// is no instruction stream for fork to copy, so sys_fork reuses the
	// parent's own Body as the child's, the same program re-entering it once
	// more with a different trapframe to branch on (spec.md §4.9's fork,
	// "duplicates the caller": in Go terms that means running the caller's
	// own continuation again, not a fresh one).
	Body func(*Proc)

	sleepChan chan any // the channel this proc is parked on while Sleeping.
	waitChan  chan any // this proc's own identity as a wait() rendezvous.

	resume  chan struct{} // scheduler -> proc: you have the baton.
	yielded chan struct{} // proc -> scheduler: I've given up the baton.

	sched *Scheduler
}

// Sleep implements sleeplock.Waiter: park on ch until Wakeup(ch) is called,
// by handing the scheduler baton back and blocking for its return (spec.md
// §4.9's sleep, "atomically releases the caller's hold and parks until
// woken, with no guarantee against spurious wakeup").
func (p *Proc) Sleep(ch chan any) {
	s := p.sched

	s.mu.Lock()
	p.sleepChan = ch
	p.State = Sleeping
	s.mu.Unlock()

	p.parkSelf()

	s.mu.Lock()
	p.sleepChan = nil
	s.mu.Unlock()
}

// Wakeup implements sleeplock.Waiter by delegating to the scheduler: mark
// every process sleeping on ch Runnable (spec.md §4.9's wakeup, "scans the
// whole table; callers must recheck their condition after waking, since
// wakeup over-notifies by design rather than targeting one sleeper").
func (p *Proc) Wakeup(ch chan any) { p.sched.Wakeup(ch) }

// Wakeup marks every process sleeping on ch Runnable. Exported on the
// scheduler (not just Proc) so callers with no process of their own — the
// timer tick, a device interrupt handler — can wake sleepers too.
func (s *Scheduler) Wakeup(ch chan any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, q := range s.table {
		if q != nil && q.State == Sleeping && q.sleepChan == ch {
			q.State = Runnable
		}
	}
}

// CurrentPID implements sleeplock.Waiter and the spinlock owner-id
// argument.
func (p *Proc) CurrentPID() int { return p.PID }

// PushOff and PopOff implement spinlock.Nester by delegating to the single
// shared hart: correct because exactly one process ever runs at a time
// (spec.md's single-hart model), so there is no need for the nesting
// count to be per-process state distinct from the hart's own.
func (p *Proc) PushOff() { p.sched.hart.PushOff() }
func (p *Proc) PopOff()  { p.sched.hart.PopOff() }

var (
	_ sleeplock.Waiter = (*Proc)(nil)
	_ spinlock.Nester  = (*Proc)(nil)
	_ file.PipeWaiter  = (*Proc)(nil)
)

// Yield gives up the remainder of the current quantum voluntarily (spec.md
// §4.9's yield: mark Runnable, then sched), used by the trap path on a
// timer interrupt.
func (p *Proc) Yield() {
	s := p.sched

	s.mu.Lock()
	kpanic.Assert(p.State == Running, "proc: yield of non-running process %d", p.PID)
	p.State = Runnable
	s.mu.Unlock()

	p.parkSelf()
}

// parkSelf hands the baton back to the scheduler loop and blocks until the
// scheduler resumes this process, the baton-pass that stands in for
// sched()'s call to swtch (spec.md §4.9, "asserts interrupts are off and
// the process is not Running before switching away").
func (p *Proc) parkSelf() {
	p.yielded <- struct{}{}
	<-p.resume
}

// Scheduler owns the process table and the run loop that dispatches
// Runnable processes onto the single simulated hart (original_source's
// scheduler() in proc.c).
type Scheduler struct {
	mu      sync.Mutex
	table   [config.NPROC]*Proc
	nextPID int
	frame   *pmem.Allocator
	fsys    *fs.FS
	files   *file.Table
	hart    *hart.Hart
	init    *Proc
	log     *log.Logger
	onTick  func()
}

// SetTimerHook installs a callback Run invokes at the top of every
// dispatch-loop pass, the Go stand-in for spec.md §4.9's "enable then
// disable interrupts to accept any pending timer tick into the trap frame
// count". internal/trap wires itself in here; nil (the default) means no
// timer is modeled, which is fine for tests that never call it.
func (s *Scheduler) SetTimerHook(f func()) { s.onTick = f }

// New creates an empty scheduler bound to the given frame allocator,
// filesystem, file table, and hart.
func New(frame *pmem.Allocator, fsys *fs.FS, files *file.Table, h *hart.Hart) *Scheduler {
	return &Scheduler{
		frame: frame,
		fsys:  fsys,
		files: files,
		hart:  h,
		log:   log.DefaultLogger(),
	}
}

// allocProc reserves a Used slot with a fresh pid, trapframe, page table,
// and kernel stack address (original_source's allocproc). It does not start
// the process's goroutine; UserInit and Fork do that.
func (s *Scheduler) allocProc(name string) (*Proc, error) {
	s.mu.Lock()

	var slot int = -1
	for i, q := range s.table {
		if q == nil {
			slot = i
			break
		}
	}

	if slot < 0 {
		s.mu.Unlock()
		return nil, ErrNoFreeSlot
	}

	s.nextPID++
	pid := s.nextPID

	pt, err := mmu.New(s.frame)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}

	p := &Proc{
		PID:       pid,
		State:     Used,
		Name:      name,
		PageTable: pt,
		TrapFrame: &TrapFrame{},
		// KStackVA records the PCB field original_source maps a guarded
		// kernel stack at; this simulation runs each process's kernel-mode
		// code on its own goroutine; the goroutine's own call stack is the
		// kernel stack, so there is no corresponding mapping to install.
		KStackVA: config.TrapframeVA - uintptr(slot+1)*2*config.PageSize,
		waitChan: make(chan any),
		resume:    make(chan struct{}),
		yielded:   make(chan struct{}),
		sched:     s,
	}

	s.table[slot] = p
	s.mu.Unlock()

	return p, nil
}

// freeProcLocked tears a zombie process down to Unused, releasing its page
// table and clearing its PCB fields (original_source's freeproc). Callers
// must hold s.mu.
func (s *Scheduler) freeProcLocked(p *Proc) {
	for i := range s.table {
		if s.table[i] == p {
			s.table[i] = nil
			break
		}
	}

	if p.PageTable != nil {
		p.PageTable.Free(true)
	}

	p.State = Unused
}

// run is the goroutine body every process executes: wait for the first
// dispatch, run body, then exit with 0 if body returns without calling
// Exit itself.
func (s *Scheduler) run(p *Proc, body func(*Proc)) {
	<-p.resume

	body(p)

	if p.State != Zombie {
		p.Exit(0)
	}
}

// UserInit creates the first process (original_source's userinit): maps a
// copy of initBinary as its entire text at virtual address 0, points the
// user stack pointer at the top of that same page (no separate stack page
// is mapped), and makes it Runnable. initBinary is the raw
// bytes of the tiny init program spec.md §4.9 describes opening the
// console and forking a shell; the caller supplies it already assembled,
// the same way original_source embeds initcode as a byte array rather
// than loading it from the filesystem.
func (s *Scheduler) UserInit(initBinary []byte, cwd *fs.Inode, body func(*Proc)) (*Proc, error) {
	p, err := s.allocProc("init")
	if err != nil {
		return nil, err
	}

	base := uintptr(0)

	pa := s.frame.Alloc()
	if pa == 0 {
		return nil, mmu.ErrNoMemory
	}

	img := s.frame.Frame(pa)
	copy(img, initBinary)

	if err := p.PageTable.Map(base, pa, mmu.PTER|mmu.PTEW|mmu.PTEX|mmu.PTEU); err != nil {
		s.frame.Free(pa)
		return nil, err
	}

	p.Size = config.PageSize
	p.TrapFrame.Epc = 0
	p.TrapFrame.Sp = config.PageSize
	p.Cwd = cwd

	p.Body = body

	s.mu.Lock()
	p.State = Runnable
	s.init = p
	s.mu.Unlock()

	s.log.Info("init process created", "pid", p.PID)

	go s.run(p, body)

	return p, nil
}

// Fork duplicates parent into a new process with a copied address space,
// duplicated open files, and the same current directory (original_source's
// fork). The child's trapframe is a copy of the parent's with A0 zeroed, so
// it "returns" 0 from the system call that invoked fork.
func (s *Scheduler) Fork(parent *Proc, body func(*Proc)) (*Proc, error) {
	child, err := s.allocProc(parent.Name)
	if err != nil {
		return nil, err
	}

	if err := mmu.CopyUVM(child.PageTable, parent.PageTable, parent.Size, s.frame); err != nil {
		s.mu.Lock()
		s.freeProcLocked(child)
		s.mu.Unlock()

		return nil, err
	}

	child.Size = parent.Size
	*child.TrapFrame = *parent.TrapFrame
	child.TrapFrame.A0 = 0

	for i, f := range parent.Files {
		if f != nil {
			child.Files[i] = s.files.Dup(f)
		}
	}

	if parent.Cwd != nil {
		child.Cwd = s.fsys.Iget(config.RootDev, parent.Cwd.Inum)
	}

	child.Body = body

	s.mu.Lock()
	child.Parent = parent
	child.State = Runnable
	s.mu.Unlock()

	s.log.Info("forked process", "parent", parent.PID, "child", child.PID)

	go s.run(child, body)

	return child, nil
}

// execReader adapts an inode to elf.Reader by dispatching through Readi
// under the inode's own sleep lock, mirroring load_elf_from_inode's direct
// fs_inode_read_data calls.
func execReader(w sleeplock.Waiter, fsys *fs.FS, ip *fs.Inode) elf.Reader {
	return func(dst []byte, off uint32) (int, error) {
		fsys.Ilock(w, ip)
		n, err := fsys.Readi(w, ip, dst, off)
		fsys.Iunlock(w, ip)

		return n, err
	}
}

// Exec replaces p's address space with the program found at path (spec.md
// §4.9's exec): loads the ELF image into a freshly built page table, maps
// a one-page user stack immediately above it, and only swaps the new
// address space in once loading has fully succeeded, so a failed exec
// leaves the caller's old image intact and running (original_source's
// exec, "the new page table is built completely separately, and only
// installed on success").
func (s *Scheduler) Exec(p *Proc, path string, argv []string) error {
	ip, err := s.fsys.Namei(p, p.Cwd, path)
	if err != nil {
		return err
	}

	pt, err := mmu.New(s.frame)
	if err != nil {
		return err
	}

	loaded, err := elf.Load(execReader(p, s.fsys, ip), pt, s.frame)
	if err != nil {
		pt.Free(true)
		return ErrExecFailed
	}

	stackBase := loaded.Size
	stackPA := s.frame.Alloc()

	if stackPA == 0 {
		pt.Free(true)
		return mmu.ErrNoMemory
	}

	if err := pt.Map(stackBase, stackPA, mmu.PTER|mmu.PTEW|mmu.PTEU); err != nil {
		s.frame.Free(stackPA)
		pt.Free(true)
		return err
	}

	argc, argvVA, sp, err := pushArgs(pt, stackBase, argv)
	if err != nil {
		pt.Free(true)
		return err
	}

	old := p.PageTable

	p.PageTable = pt
	p.Size = stackBase + config.PageSize
	p.TrapFrame.Epc = loaded.Entry
	p.TrapFrame.Sp = sp
	p.TrapFrame.A0 = uintptr(argc)
	p.TrapFrame.A1 = argvVA
	p.Name = path

	old.Free(true)

	s.log.Info("exec", "pid", p.PID, "path", path, "argc", argc)

	return nil
}

// pageRoundUp rounds a up to the next page boundary.
func pageRoundUp(a uintptr) uintptr {
	return (a + config.PageSize - 1) &^ (config.PageSize - 1)
}

// Sbrk grows or shrinks p's address space by n bytes (n may be negative),
// returning the size before the change (original_source's sys_sbrk, left
// unimplemented in sysproc.c; restored here grounded on the standard
// growproc/uvmalloc/uvmdealloc idiom of page-at-a-time mapping its own
// internal/mmu.New/Map/UnmapRange already implement).
func (s *Scheduler) Sbrk(p *Proc, n int) (uintptr, error) {
	old := p.Size

	if n == 0 {
		return old, nil
	}

	newSizeI := int64(old) + int64(n)
	if newSizeI < 0 {
		return 0, ErrBadSize
	}

	newSize := uintptr(newSizeI)

	if n > 0 {
		for va := pageRoundUp(old); va < newSize; va += config.PageSize {
			pa := s.frame.Alloc()
			if pa == 0 {
				p.PageTable.UnmapRange(pageRoundUp(old), va-pageRoundUp(old), true)
				return 0, mmu.ErrNoMemory
			}

			if err := p.PageTable.Map(va, pa, mmu.PTER|mmu.PTEW|mmu.PTEU); err != nil {
				s.frame.Free(pa)
				p.PageTable.UnmapRange(pageRoundUp(old), va-pageRoundUp(old), true)
				return 0, err
			}
		}
	} else if pageRoundUp(newSize) < pageRoundUp(old) {
		p.PageTable.UnmapRange(pageRoundUp(newSize), pageRoundUp(old)-pageRoundUp(newSize), true)
	}

	p.Size = newSize

	return old, nil
}

// pushArgs copies argv onto the fresh user stack at the top of the page
// based at stackBase, string bytes first (highest addresses), then the
// NUL-terminated pointer array below them, 8-byte aligned, per spec.md
// §4.11's Process ABI ("argc in a0, argv virtual address in a1 ... user
// stack grows downward from near the top of the user address space").
func pushArgs(pt *mmu.PageTable, stackBase uintptr, argv []string) (argc int, argvVA, sp uintptr, err error) {
	top := stackBase + config.PageSize
	bottom := stackBase
	sp = top

	strVAs := make([]uintptr, len(argv))

	for i := len(argv) - 1; i >= 0; i-- {
		bytes := append([]byte(argv[i]), 0)

		if sp < bottom+uintptr(len(bytes)) {
			return 0, 0, 0, ErrArgsTooLarge
		}

		sp -= uintptr(len(bytes))

		if err := pt.CopyOut(sp, bytes); err != nil {
			return 0, 0, 0, err
		}

		strVAs[i] = sp
	}

	sp &^= 7

	ptrBytes := uintptr(len(argv)+1) * 8
	if sp < bottom+ptrBytes {
		return 0, 0, 0, ErrArgsTooLarge
	}

	sp -= ptrBytes
	argvVA = sp

	var word [8]byte

	for i, va := range strVAs {
		binary.LittleEndian.PutUint64(word[:], uint64(va))

		if err := pt.CopyOut(argvVA+uintptr(i)*8, word[:]); err != nil {
			return 0, 0, 0, err
		}
	}

	binary.LittleEndian.PutUint64(word[:], 0)

	if err := pt.CopyOut(argvVA+uintptr(len(argv))*8, word[:]); err != nil {
		return 0, 0, 0, err
	}

	return len(argv), argvVA, sp, nil
}

// Exit tears a process down to Zombie (spec.md §4.9's exit): init may
// never exit, every child is reparented to init, and the parent (if
// sleeping in Wait) is woken.
func (p *Proc) Exit(status int) {
	s := p.sched

	kpanic.Assert(p != s.init, "proc: init exited")

	s.mu.Lock()

	p.ExitStatus = status
	p.State = Zombie

	for _, q := range s.table {
		if q != nil && q.Parent == p {
			q.Parent = s.init
		}
	}

	parent := p.Parent
	s.mu.Unlock()

	if parent != nil {
		parent.Wakeup(parent.waitChan)
	}

	s.log.Info("process exited", "pid", p.PID, "status", status)

	p.yielded <- struct{}{}
}

// Wait blocks until a child exits, reaps it, and returns its pid and exit
// status (original_source's wait). ErrNoChildren is returned immediately
// if the caller has no children at all, matching "a process with no
// children calling wait returns an error rather than blocking forever".
func (p *Proc) Wait() (pid int, status int, err error) {
	s := p.sched

	for {
		s.mu.Lock()

		hasChildren := false

		for _, q := range s.table {
			if q != nil && q.Parent == p {
				hasChildren = true

				if q.State == Zombie {
					pid = q.PID
					status = q.ExitStatus
					s.freeProcLocked(q)
					s.mu.Unlock()

					return pid, status, nil
				}
			}
		}

		if !hasChildren {
			s.mu.Unlock()
			return 0, 0, ErrNoChildren
		}

		s.mu.Unlock()
		p.Sleep(p.waitChan)
	}
}

// Kill marks the process with the given pid for termination: spec.md
// §4.9 only requires the flag be observed and acted on at the next
// convenient point (a syscall return or the scheduler finding it
// Sleeping), not synchronous termination (original_source's kill is the
// same best-effort request).
func (s *Scheduler) Kill(pid int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, q := range s.table {
		if q != nil && q.PID == pid {
			q.Killed = true

			if q.State == Sleeping {
				q.State = Runnable
			}

			return nil
		}
	}

	return ErrNotFound
}

// Run is the scheduler's main dispatch loop (original_source's
// scheduler()): repeatedly scan the table for a Runnable process, hand it
// the baton, and wait for it to give the baton back. It returns once no
// process is Runnable or Sleeping (every slot Unused or Zombie), rather
// than spinning forever on real hardware's wait-for-interrupt, since a
// simulated single pass has nothing left to wait for.
func (s *Scheduler) Run() {
	for {
		if s.onTick != nil {
			s.onTick()
		}

		s.mu.Lock()

		var next *Proc
		live := false

		for _, q := range s.table {
			if q == nil {
				continue
			}

			if q.State == Runnable {
				next = q
				break
			}

			if q.State != Zombie {
				live = true
			}
		}

		if next == nil {
			s.mu.Unlock()

			if !live {
				return
			}

			// Every live process is Sleeping: the real scheduler would
			// execute "wfi" here and let a hardware interrupt resume it.
			// Gosched yields this goroutine so whatever will call Wakeup
			// (a UART interrupt, a timer) gets a chance to run.
			runtime.Gosched()

			continue
		}

		next.State = Running
		s.mu.Unlock()

		next.resume <- struct{}{}
		<-next.yielded

		s.mu.Lock()
		if next.State == Running {
			next.State = Runnable
		}
		s.mu.Unlock()
	}
}

// Table exposes a snapshot of live process pointers, for diagnostics
// (a ps-style listing) and tests.
func (s *Scheduler) Table() []*Proc {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Proc, 0, config.NPROC)
	for _, q := range s.table {
		if q != nil {
			out = append(out, q)
		}
	}

	return out
}
