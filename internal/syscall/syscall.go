// Package syscall implements the system-call boundary (spec.md §4.12): a
// dispatch table keyed by syscall number, handlers that read their
// arguments from the trap frame's a0..a5 and write a single 64-bit return
// value back into a0, and the cross-address-space copies (copyin/copyout/
// copyinstr) those handlers need to reach user memory.
//
// Grounded on original_source/include/syscall.h's SYS_* numbering (kept
// verbatim for the calls it defines) and original_source/kernel/sysproc.c's
// per-call argument conventions, extended with the filesystem, semaphore,
// and test calls spec.md §4.12 lists that original_source's sysproc.c left
// as "暂未实现" (not yet implemented) stubs or omitted outright; those are
// built fresh against internal/fs, internal/file, and internal/sem, the
// same packages a complete sysproc.c would have called into.
package syscall

import (
	"encoding/binary"
	"errors"

	"github.com/coursekernel/riscvkernel/internal/config"
	"github.com/coursekernel/riscvkernel/internal/file"
	"github.com/coursekernel/riscvkernel/internal/fs"
	"github.com/coursekernel/riscvkernel/internal/fslog"
	"github.com/coursekernel/riscvkernel/internal/hart"
	"github.com/coursekernel/riscvkernel/internal/log"
	"github.com/coursekernel/riscvkernel/internal/proc"
	"github.com/coursekernel/riscvkernel/internal/sem"
)

// Syscall numbers. 1-10 are original_source/include/syscall.h's SYS_exit
// through SYS_sbrk, kept at their original values; SysFslogCrash reuses
// slot 11, original_source's generic SYS_test, for spec.md's fslog_crash
// test hook, and the rest are appended contiguously starting at 12 for the
// filesystem, scheduling, and synchronization calls the distillation adds.
const (
	SysExit   = 1
	SysFork   = 2
	SysWait   = 3
	SysKill   = 4
	SysGetpid = 5
	SysOpen   = 6
	SysClose  = 7
	SysRead   = 8
	SysWrite  = 9
	SysSbrk   = 10

	SysFslogCrash = 11

	SysExec      = 12
	SysSleep     = 13
	SysUptime    = 14
	SysFstat     = 15
	SysMkdir     = 16
	SysLink      = 17
	SysUnlink    = 18
	SysChdir     = 19
	SysPipe      = 20
	SysSysinfo   = 21
	SysSemOpen   = 22
	SysSemWait   = 23
	SysSemSignal = 24
)

var (
	ErrUnknownSyscall   = errors.New("syscall: unknown syscall number")
	ErrTooManyArgs      = errors.New("syscall: argv exceeds the maximum argument count")
	ErrInterrupted      = errors.New("syscall: interrupted by kill while sleeping")
	ErrInvalidArgument  = errors.New("syscall: invalid argument")
	ErrTooManyOpenFiles = errors.New("syscall: process file descriptor table full")
)

// errReturn is the value the dispatcher writes into a0 for any failed
// syscall (spec.md §4.12: "unknown numbers return −1", generalized to
// every error return, matching original_source's uniform −1 convention).
const errReturn = ^uintptr(0)

// Table holds every reference a syscall handler needs to reach the rest of
// the kernel: the scheduler (for fork/exec/exit/wait/kill/sbrk), the
// mounted filesystem and system-wide file table (for the filesystem
// calls), the semaphore table, and the hart (for sleep/uptime's tick
// count).
type Table struct {
	sched *proc.Scheduler
	fsys  *fs.FS
	files *file.Table
	sems  *sem.Table
	hart  *hart.Hart
	log   *log.Logger

	// Ticks is the sleep address every tick-based wait parks on:
	// internal/trap's timer handler calls Scheduler.Wakeup(Ticks) once per
	// simulated tick, and sys_sleep wakes up to recheck the hart's
	// clock against their target, the same over-notify-then-recheck shape
	// sleep/wakeup uses everywhere else in this kernel.
	Ticks chan any
}

// New builds a syscall table bound to the given kernel subsystems.
func New(sched *proc.Scheduler, fsys *fs.FS, files *file.Table, sems *sem.Table, h *hart.Hart) *Table {
	return &Table{
		sched: sched,
		fsys:  fsys,
		files: files,
		sems:  sems,
		hart:  h,
		log:   log.DefaultLogger(),
		Ticks: make(chan any),
	}
}

// Dispatch looks up and runs the handler for p.TrapFrame.A7, writing its
// return value back into a0 (spec.md §4.12). exec is the one handler that
// may already have rewritten the entire trap frame on success, in which
// case Dispatch leaves a0 alone rather than clobbering the fresh argc.
func (t *Table) Dispatch(p *proc.Proc) {
	num := p.TrapFrame.A7

	var ret int64
	var err error

	switch num {
	case SysFork:
		ret, err = t.sysFork(p)
	case SysExit:
		t.sysExit(p)
		return
	case SysWait:
		ret, err = t.sysWait(p)
	case SysKill:
		ret, err = t.sysKill(p)
	case SysGetpid:
		ret = int64(p.PID)
	case SysExec:
		if err = t.sysExec(p); err == nil {
			return
		}
	case SysSbrk:
		var old uintptr
		old, err = t.sched.Sbrk(p, int(argInt(p, 0)))
		ret = int64(old)
	case SysSleep:
		err = t.sysSleep(p)
	case SysUptime:
		ret = int64(t.hart.Time)
	case SysOpen:
		ret, err = t.sysOpen(p)
	case SysClose:
		err = t.sysClose(p)
	case SysRead:
		ret, err = t.sysRead(p)
	case SysWrite:
		ret, err = t.sysWrite(p)
	case SysFstat:
		err = t.sysFstat(p)
	case SysMkdir:
		err = t.sysMkdir(p)
	case SysLink:
		err = t.sysLink(p)
	case SysUnlink:
		err = t.sysUnlink(p)
	case SysChdir:
		err = t.sysChdir(p)
	case SysPipe:
		err = t.sysPipe(p)
	case SysSysinfo:
		err = t.sysSysinfo(p)
	case SysSemOpen:
		ret, err = t.sysSemOpen(p)
	case SysSemWait:
		err = t.sysSemWait(p)
	case SysSemSignal:
		err = t.sysSemSignal(p)
	case SysFslogCrash:
		err = t.sysFslogCrash(p)
	default:
		err = ErrUnknownSyscall
	}

	if err != nil {
		t.log.Info("syscall failed", "pid", p.PID, "num", num, "err", err)
		p.TrapFrame.A0 = errReturn
		return
	}

	p.TrapFrame.A0 = uintptr(ret)
}

// --- argument access: spec.md §4.12's "retrieves arguments from saved
// registers in the trap frame by index (a0..a5)" ---

func argRaw(p *proc.Proc, n int) uintptr {
	switch n {
	case 0:
		return p.TrapFrame.A0
	case 1:
		return p.TrapFrame.A1
	case 2:
		return p.TrapFrame.A2
	case 3:
		return p.TrapFrame.A3
	case 4:
		return p.TrapFrame.A4
	case 5:
		return p.TrapFrame.A5
	default:
		panic("syscall: argument index out of range")
	}
}

func argInt(p *proc.Proc, n int) int64    { return int64(argRaw(p, n)) }
func argUint(p *proc.Proc, n int) uintptr { return argRaw(p, n) }

func argStr(p *proc.Proc, n int) (string, error) {
	return p.PageTable.CopyInString(argRaw(p, n))
}

func fdFile(p *proc.Proc, fd int) (*file.File, error) {
	if fd < 0 || fd >= config.NOFILE || p.Files[fd] == nil {
		return nil, file.ErrBadFD
	}

	return p.Files[fd], nil
}

func allocFD(p *proc.Proc, f *file.File) (int, error) {
	for i, pf := range p.Files {
		if pf == nil {
			p.Files[i] = f
			return i, nil
		}
	}

	return 0, ErrTooManyOpenFiles
}

// --- process syscalls ---

func (t *Table) sysFork(p *proc.Proc) (int64, error) {
	child, err := t.sched.Fork(p, p.Body)
	if err != nil {
		return 0, err
	}

	return int64(child.PID), nil
}

func (t *Table) sysExit(p *proc.Proc) {
	p.Exit(int(argInt(p, 0)))
}

func (t *Table) sysWait(p *proc.Proc) (int64, error) {
	statusVA := argUint(p, 0)

	pid, status, err := p.Wait()
	if err != nil {
		return 0, err
	}

	if statusVA != 0 {
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], uint32(int32(status)))

		if err := p.PageTable.CopyOut(statusVA, buf[:]); err != nil {
			return 0, err
		}
	}

	return int64(pid), nil
}

func (t *Table) sysKill(p *proc.Proc) (int64, error) {
	if err := t.sched.Kill(int(argInt(p, 0))); err != nil {
		return 0, err
	}

	return 0, nil
}

func (t *Table) sysExec(p *proc.Proc) error {
	path, err := argStr(p, 0)
	if err != nil {
		return err
	}

	argv, err := t.readArgv(p, argUint(p, 1))
	if err != nil {
		return err
	}

	return t.sched.Exec(p, path, argv)
}

// readArgv reads a NUL-terminated array of user string pointers starting
// at va, copying each pointed-to string in (spec.md §4.11's "copy
// arguments onto it in the target address space" run in reverse at the
// syscall boundary: here they are read out of the *caller's* space before
// Exec builds the callee's).
func (t *Table) readArgv(p *proc.Proc, va uintptr) ([]string, error) {
	var argv []string

	for i := 0; i < config.MaxArg; i++ {
		var word [8]byte

		if err := p.PageTable.CopyIn(word[:], va+uintptr(i)*8); err != nil {
			return nil, err
		}

		ptr := uintptr(binary.LittleEndian.Uint64(word[:]))
		if ptr == 0 {
			return argv, nil
		}

		s, err := p.PageTable.CopyInString(ptr)
		if err != nil {
			return nil, err
		}

		argv = append(argv, s)
	}

	return nil, ErrTooManyArgs
}

func (t *Table) sysSleep(p *proc.Proc) error {
	target := t.hart.Time + uint64(argInt(p, 0))

	for t.hart.Time < target {
		if p.Killed {
			return ErrInterrupted
		}

		p.Sleep(t.Ticks)
	}

	return nil
}

// --- filesystem syscalls ---

// Open flags, original_source/include/file.h's O_RDONLY/O_WRONLY/O_RDWR/
// O_CREATE.
const (
	OpenRDOnly = 0x000
	OpenWROnly = 0x001
	OpenRDWR   = 0x002
	OpenCreate = 0x200
)

func (t *Table) sysOpen(p *proc.Proc) (int64, error) {
	path, err := argStr(p, 0)
	if err != nil {
		return 0, err
	}

	flags := int(argInt(p, 1))

	txn := t.fsys.Log().BeginOp(p)

	ip, err := t.openOrCreate(p, txn, path, flags)
	if err != nil {
		txn.EndOp(p)
		return 0, err
	}

	f, err := t.files.Alloc()
	if err != nil {
		t.fsys.Iunlock(p, ip)
		t.fsys.Iput(p, txn, ip)
		txn.EndOp(p)

		return 0, err
	}

	if ip.Type == fs.TypeDevice {
		f.Kind, f.Major = file.KindDevice, ip.Major
	} else {
		f.Kind, f.Inode = file.KindInode, ip
	}

	mode := flags & 0x3
	f.Readable = mode != OpenWROnly
	f.Writable = mode == OpenWROnly || mode == OpenRDWR

	t.fsys.Iunlock(p, ip)

	if ip.Type == fs.TypeDevice {
		t.fsys.Iput(p, txn, ip) // DEVICE files dispatch through DevSW, not the inode.
	}

	fd, err := allocFD(p, f)
	if err != nil {
		t.files.Close(p, t.fsys, txn, f)
		txn.EndOp(p)

		return 0, err
	}

	txn.EndOp(p)

	return int64(fd), nil
}

// openOrCreate resolves path, optionally creating a new file when
// OpenCreate is set and no entry exists yet, and returns the target inode
// locked (original_source's sys_open/sysfile.c create path, restored here
// since sysproc.c left sys_open unimplemented).
func (t *Table) openOrCreate(p *proc.Proc, txn *fslog.Txn, path string, flags int) (*fs.Inode, error) {
	if flags&OpenCreate == 0 {
		ip, err := t.fsys.Namei(p, p.Cwd, path)
		if err != nil {
			return nil, err
		}

		t.fsys.Ilock(p, ip)

		return ip, nil
	}

	dp, name, err := t.fsys.NameiParent(p, p.Cwd, path)
	if err != nil {
		return nil, err
	}

	t.fsys.Ilock(p, dp)

	if existing, _, err := t.fsys.DirLookup(p, dp, name); err == nil {
		t.fsys.Iunlock(p, dp)
		t.fsys.Iput(p, txn, dp)
		t.fsys.Ilock(p, existing)

		return existing, nil
	}

	ip, err := t.fsys.IAlloc(p, txn, fs.TypeFile)
	if err != nil {
		t.fsys.Iunlock(p, dp)
		t.fsys.Iput(p, txn, dp)

		return nil, err
	}

	ip.NLink = 1
	t.fsys.Iupdate(p, txn, ip)

	if err := t.fsys.DirLink(p, txn, dp, name, ip.Inum); err != nil {
		t.fsys.Iunlock(p, ip)
		t.fsys.Iput(p, txn, ip)
		t.fsys.Iunlock(p, dp)
		t.fsys.Iput(p, txn, dp)

		return nil, err
	}

	t.fsys.Iunlock(p, dp)
	t.fsys.Iput(p, txn, dp)

	return ip, nil
}

func (t *Table) sysClose(p *proc.Proc) error {
	fd := int(argInt(p, 0))

	f, err := fdFile(p, fd)
	if err != nil {
		return err
	}

	txn := t.fsys.Log().BeginOp(p)
	t.files.Close(p, t.fsys, txn, f)
	txn.EndOp(p)

	p.Files[fd] = nil

	return nil
}

func (t *Table) sysRead(p *proc.Proc) (int64, error) {
	f, err := fdFile(p, int(argInt(p, 0)))
	if err != nil {
		return 0, err
	}

	n := int(argInt(p, 2))
	if n < 0 {
		return 0, ErrInvalidArgument
	}

	buf := make([]byte, n)

	got, err := t.files.Read(p, t.fsys, f, buf)
	if err != nil {
		return 0, err
	}

	if err := p.PageTable.CopyOut(argUint(p, 1), buf[:got]); err != nil {
		return 0, err
	}

	return int64(got), nil
}

func (t *Table) sysWrite(p *proc.Proc) (int64, error) {
	f, err := fdFile(p, int(argInt(p, 0)))
	if err != nil {
		return 0, err
	}

	n := int(argInt(p, 2))
	if n < 0 {
		return 0, ErrInvalidArgument
	}

	buf := make([]byte, n)
	if err := p.PageTable.CopyIn(buf, argUint(p, 1)); err != nil {
		return 0, err
	}

	txn := t.fsys.Log().BeginOp(p)
	written, err := t.files.Write(p, t.fsys, txn, f, buf)
	txn.EndOp(p)

	if err != nil {
		return 0, err
	}

	return int64(written), nil
}

// sysFstat copies a {device, inode, type, nlink, size} record to the user
// address (spec.md §4.8's Stat).
func (t *Table) sysFstat(p *proc.Proc) error {
	f, err := fdFile(p, int(argInt(p, 0)))
	if err != nil {
		return err
	}

	typ, size, ok := t.files.Stat(f)
	if !ok {
		return file.ErrBadFD
	}

	var buf [24]byte
	binary.LittleEndian.PutUint32(buf[0:4], uint32(f.Inode.Dev))
	binary.LittleEndian.PutUint32(buf[4:8], f.Inode.Inum)
	binary.LittleEndian.PutUint16(buf[8:10], uint16(typ))
	binary.LittleEndian.PutUint16(buf[10:12], uint16(f.Inode.NLink))
	binary.LittleEndian.PutUint64(buf[16:24], uint64(size))

	return p.PageTable.CopyOut(argUint(p, 1), buf[:])
}

func (t *Table) sysMkdir(p *proc.Proc) error {
	path, err := argStr(p, 0)
	if err != nil {
		return err
	}

	txn := t.fsys.Log().BeginOp(p)
	defer txn.EndOp(p)

	dp, name, err := t.fsys.NameiParent(p, p.Cwd, path)
	if err != nil {
		return err
	}

	t.fsys.Ilock(p, dp)

	if _, _, err := t.fsys.DirLookup(p, dp, name); err == nil {
		t.fsys.Iunlock(p, dp)
		t.fsys.Iput(p, txn, dp)

		return fs.ErrExists
	}

	ip, err := t.fsys.IAlloc(p, txn, fs.TypeDir)
	if err != nil {
		t.fsys.Iunlock(p, dp)
		t.fsys.Iput(p, txn, dp)

		return err
	}

	ip.NLink = 1
	t.fsys.Iupdate(p, txn, ip)

	if err := t.fsys.DirLink(p, txn, ip, ".", ip.Inum); err != nil {
		t.fsys.Iunlock(p, ip)
		t.fsys.Iput(p, txn, ip)
		t.fsys.Iunlock(p, dp)
		t.fsys.Iput(p, txn, dp)

		return err
	}

	if err := t.fsys.DirLink(p, txn, ip, "..", dp.Inum); err != nil {
		t.fsys.Iunlock(p, ip)
		t.fsys.Iput(p, txn, ip)
		t.fsys.Iunlock(p, dp)
		t.fsys.Iput(p, txn, dp)

		return err
	}

	if err := t.fsys.DirLink(p, txn, dp, name, ip.Inum); err != nil {
		t.fsys.Iunlock(p, ip)
		t.fsys.Iput(p, txn, ip)
		t.fsys.Iunlock(p, dp)
		t.fsys.Iput(p, txn, dp)

		return err
	}

	dp.NLink++
	t.fsys.Iupdate(p, txn, dp)

	t.fsys.Iunlock(p, ip)
	t.fsys.Iput(p, txn, ip)
	t.fsys.Iunlock(p, dp)
	t.fsys.Iput(p, txn, dp)

	return nil
}

func (t *Table) sysLink(p *proc.Proc) error {
	oldPath, err := argStr(p, 0)
	if err != nil {
		return err
	}

	newPath, err := argStr(p, 1)
	if err != nil {
		return err
	}

	txn := t.fsys.Log().BeginOp(p)
	defer txn.EndOp(p)

	ip, err := t.fsys.Namei(p, p.Cwd, oldPath)
	if err != nil {
		return err
	}

	t.fsys.Ilock(p, ip)

	if ip.Type == fs.TypeDir {
		t.fsys.Iunlock(p, ip)
		t.fsys.Iput(p, txn, ip)

		return fs.ErrIsDir
	}

	ip.NLink++
	t.fsys.Iupdate(p, txn, ip)
	t.fsys.Iunlock(p, ip)

	dp, name, err := t.fsys.NameiParent(p, p.Cwd, newPath)
	if err != nil {
		t.rollbackLink(p, txn, ip)
		return err
	}

	t.fsys.Ilock(p, dp)
	linkErr := t.fsys.DirLink(p, txn, dp, name, ip.Inum)
	t.fsys.Iunlock(p, dp)
	t.fsys.Iput(p, txn, dp)

	if linkErr != nil {
		t.rollbackLink(p, txn, ip)
		return linkErr
	}

	t.fsys.Iput(p, txn, ip)

	return nil
}

func (t *Table) rollbackLink(p *proc.Proc, txn *fslog.Txn, ip *fs.Inode) {
	t.fsys.Ilock(p, ip)
	ip.NLink--
	t.fsys.Iupdate(p, txn, ip)
	t.fsys.Iunlock(p, ip)
	t.fsys.Iput(p, txn, ip)
}

func (t *Table) sysUnlink(p *proc.Proc) error {
	path, err := argStr(p, 0)
	if err != nil {
		return err
	}

	txn := t.fsys.Log().BeginOp(p)
	defer txn.EndOp(p)

	dp, name, err := t.fsys.NameiParent(p, p.Cwd, path)
	if err != nil {
		return err
	}

	if name == "." || name == ".." {
		t.fsys.Iput(p, txn, dp)
		return ErrInvalidArgument
	}

	t.fsys.Ilock(p, dp)

	ip, off, err := t.fsys.DirLookup(p, dp, name)
	if err != nil {
		t.fsys.Iunlock(p, dp)
		t.fsys.Iput(p, txn, dp)

		return err
	}

	t.fsys.Ilock(p, ip)

	if ip.Type == fs.TypeDir && !t.dirEmpty(p, ip) {
		t.fsys.Iunlock(p, ip)
		t.fsys.Iput(p, txn, ip)
		t.fsys.Iunlock(p, dp)
		t.fsys.Iput(p, txn, dp)

		return fs.ErrDirNotEmpty
	}

	if err := t.fsys.DirUnlink(p, txn, dp, off); err != nil {
		t.fsys.Iunlock(p, ip)
		t.fsys.Iput(p, txn, ip)
		t.fsys.Iunlock(p, dp)
		t.fsys.Iput(p, txn, dp)

		return err
	}

	if ip.Type == fs.TypeDir {
		dp.NLink--
		t.fsys.Iupdate(p, txn, dp)
	}

	t.fsys.Iunlock(p, dp)
	t.fsys.Iput(p, txn, dp)

	ip.NLink--
	t.fsys.Iupdate(p, txn, ip)
	t.fsys.Iunlock(p, ip)
	t.fsys.Iput(p, txn, ip)

	return nil
}

// dirEmpty reports whether directory inode ip (already locked by the
// caller) has any entries besides "." and "..".
func (t *Table) dirEmpty(w *proc.Proc, ip *fs.Inode) bool {
	buf := make([]byte, fs.DirEntSize)

	for off := uint32(2 * fs.DirEntSize); off < ip.Size; off += uint32(fs.DirEntSize) {
		if _, err := t.fsys.Readi(w, ip, buf, off); err != nil {
			return false
		}

		if binary.LittleEndian.Uint16(buf[0:2]) != 0 {
			return false
		}
	}

	return true
}

func (t *Table) sysChdir(p *proc.Proc) error {
	path, err := argStr(p, 0)
	if err != nil {
		return err
	}

	txn := t.fsys.Log().BeginOp(p)
	defer txn.EndOp(p)

	ip, err := t.fsys.Namei(p, p.Cwd, path)
	if err != nil {
		return err
	}

	t.fsys.Ilock(p, ip)

	if ip.Type != fs.TypeDir {
		t.fsys.Iunlock(p, ip)
		t.fsys.Iput(p, txn, ip)

		return fs.ErrNotDir
	}

	t.fsys.Iunlock(p, ip)

	old := p.Cwd
	p.Cwd = ip

	if old != nil {
		t.fsys.Iput(p, txn, old)
	}

	return nil
}

func (t *Table) sysPipe(p *proc.Proc) error {
	rf, wf, err := file.OpenPipe(t.files)
	if err != nil {
		return err
	}

	rfd, err := allocFD(p, rf)
	if err != nil {
		t.files.Close(p, t.fsys, nil, rf)
		t.files.Close(p, t.fsys, nil, wf)

		return err
	}

	wfd, err := allocFD(p, wf)
	if err != nil {
		p.Files[rfd] = nil
		t.files.Close(p, t.fsys, nil, rf)
		t.files.Close(p, t.fsys, nil, wf)

		return err
	}

	var buf [8]byte
	binary.LittleEndian.PutUint32(buf[0:4], uint32(rfd))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(wfd))

	if err := p.PageTable.CopyOut(argUint(p, 0), buf[:]); err != nil {
		p.Files[rfd], p.Files[wfd] = nil, nil
		t.files.Close(p, t.fsys, nil, rf)
		t.files.Close(p, t.fsys, nil, wf)

		return err
	}

	return nil
}

// sysSysinfo restores original_source/include/sysinfo.h's struct sysinfo,
// dropped by the distillation but left with no other caller: total and
// free block and inode counts, copied to the user address as four
// little-endian uint64s.
func (t *Table) sysSysinfo(p *proc.Proc) error {
	totalBlocks, freeBlocks, totalInodes, freeInodes := t.fsys.Sysinfo(p)

	var buf [32]byte
	binary.LittleEndian.PutUint64(buf[0:8], totalBlocks)
	binary.LittleEndian.PutUint64(buf[8:16], freeBlocks)
	binary.LittleEndian.PutUint64(buf[16:24], totalInodes)
	binary.LittleEndian.PutUint64(buf[24:32], freeInodes)

	return p.PageTable.CopyOut(argUint(p, 0), buf[:])
}

// --- synchronization syscalls ---

func (t *Table) sysSemOpen(p *proc.Proc) (int64, error) {
	h, err := t.sems.Open(int(argInt(p, 0)))
	if err != nil {
		return 0, err
	}

	return int64(h), nil
}

func (t *Table) sysSemWait(p *proc.Proc) error {
	return t.sems.Wait(p, int(argInt(p, 0)))
}

func (t *Table) sysSemSignal(p *proc.Proc) error {
	return t.sems.Signal(p, int(argInt(p, 0)))
}

// --- test syscall ---

// sysFslogCrash arms the write-ahead log's next transaction commit to
// panic at the requested point (spec.md's "fslog_crash (injects a crash
// point into the log commit)"), exercising the recovery paths internal/
// fslog.Open's recover already implements.
func (t *Table) sysFslogCrash(p *proc.Proc) error {
	t.fsys.Log().SetCrashPoint(int(argInt(p, 0)))
	return nil
}
