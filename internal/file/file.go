// Package file implements the open-file abstraction (spec.md §4.8): a
// uniform read/write/stat surface over on-disk inodes, character devices,
// and pipes, plus the system-wide open-file table processes share
// reference-counted entries from.
//
// Grounded on original_source/include/file.h's struct file (the
// FD_NONE/PIPE/INODE/DEVICE kind tag, the readable/writable flags, and the
// devsw device-switch table keyed by major number) and
// original_source/kernel/file.c's fileread/filewrite dispatch.
package file

import (
	"errors"

	"github.com/coursekernel/riscvkernel/internal/config"
	"github.com/coursekernel/riscvkernel/internal/fs"
	"github.com/coursekernel/riscvkernel/internal/fslog"
	"github.com/coursekernel/riscvkernel/internal/kpanic"
)

// Kind distinguishes what a File dispatches reads/writes to.
type Kind int

const (
	KindNone Kind = iota
	KindPipe
	KindInode
	KindDevice
)

var (
	ErrNotReadable = errors.New("file: not open for reading")
	ErrNotWritable = errors.New("file: not open for writing")
	ErrNoDevice    = errors.New("file: no such device")
	ErrTableFull   = errors.New("file: system file table full")
	ErrBadFD       = errors.New("file: bad file descriptor")
)

// Device is one entry of the device-switch table: a character device's
// read/write handlers, keyed by major number (original_source's devsw).
type Device struct {
	Read  func(w PipeWaiter, dst []byte) (int, error)
	Write func(w PipeWaiter, src []byte) (int, error)
}

// DevSW is the system-wide device-switch table, NDEV slots, indexed by
// major number (CONSOLE is major 1, per config.ConsoleMajor).
var DevSW [config.NDEV]Device

// File is one open-file-table entry. Multiple descriptors (in possibly
// different processes) can share one *File via its refcount.
type File struct {
	Kind     Kind
	Readable bool
	Writable bool

	Pipe  *Pipe
	Inode *fs.Inode
	Off   uint32 // INODE kind only; each open file has its own cursor.
	Major int16  // DEVICE kind only.

	ref int
}

// Table is the system-wide open-file table (original_source's ftable),
// bounded to config.NFILE live files.
type Table struct {
	files [config.NFILE]File
}

// NewTable creates an empty system-wide file table.
func NewTable() *Table { return &Table{} }

// Alloc reserves an unused File slot with refcount 1, or ErrTableFull.
func (t *Table) Alloc() (*File, error) {
	for i := range t.files {
		if t.files[i].ref == 0 {
			t.files[i] = File{ref: 1}
			return &t.files[i], nil
		}
	}

	return nil, ErrTableFull
}

// Dup increments f's refcount and returns it, mirroring original_source's
// filedup (used when a descriptor is inherited across fork).
func (t *Table) Dup(f *File) *File {
	kpanic.Assert(f.ref > 0, "file: dup of closed file")
	f.ref++

	return f
}

// Close decrements f's refcount, releasing the underlying resource when it
// drops to zero (original_source's fileclose): closes the pipe end or
// drops the inode reference.
func (t *Table) Close(w PipeWaiter, fsys *fs.FS, txn *fslog.Txn, f *File) {
	kpanic.Assert(f.ref > 0, "file: close of already-closed file")
	f.ref--

	if f.ref > 0 {
		return
	}

	switch f.Kind {
	case KindPipe:
		f.Pipe.Close(w, f.Writable)
	case KindInode:
		fsys.Iput(w, txn, f.Inode)
	}

	f.Kind = KindNone
}

// Read dispatches to the pipe, inode, or device behind f, per spec.md
// §4.8's "uniform read/write/stat over inode, device, and pipe kinds".
func (t *Table) Read(w PipeWaiter, fsys *fs.FS, f *File, dst []byte) (int, error) {
	if !f.Readable {
		return 0, ErrNotReadable
	}

	switch f.Kind {
	case KindPipe:
		return f.Pipe.Read(w, dst)

	case KindInode:
		fsys.Ilock(w, f.Inode)
		n, err := fsys.Readi(w, f.Inode, dst, f.Off)
		fsys.Iunlock(w, f.Inode)

		if err == nil {
			f.Off += uint32(n)
		}

		return n, err

	case KindDevice:
		if f.Major < 0 || int(f.Major) >= config.NDEV || DevSW[f.Major].Read == nil {
			return 0, ErrNoDevice
		}

		return DevSW[f.Major].Read(w, dst)

	default:
		return 0, ErrBadFD
	}
}

// Write dispatches to the pipe, inode, or device behind f.
func (t *Table) Write(w PipeWaiter, fsys *fs.FS, txn *fslog.Txn, f *File, src []byte) (int, error) {
	if !f.Writable {
		return 0, ErrNotWritable
	}

	switch f.Kind {
	case KindPipe:
		return f.Pipe.Write(w, src)

	case KindInode:
		fsys.Ilock(w, f.Inode)
		n, err := fsys.Writei(w, txn, f.Inode, src, f.Off)
		fsys.Iunlock(w, f.Inode)

		if err == nil {
			f.Off += uint32(n)
		}

		return n, err

	case KindDevice:
		if f.Major < 0 || int(f.Major) >= config.NDEV || DevSW[f.Major].Write == nil {
			return 0, ErrNoDevice
		}

		return DevSW[f.Major].Write(w, src)

	default:
		return 0, ErrBadFD
	}
}

// Stat reports an inode-backed file's type and size; non-inode kinds
// report zero values, matching original_source's filestat restricting
// itself to T_DIR/T_FILE/T_DEVICE inodes.
func (t *Table) Stat(f *File) (typ int16, size uint32, ok bool) {
	if f.Kind != KindInode {
		return 0, 0, false
	}

	return f.Inode.Type, f.Inode.Size, true
}
