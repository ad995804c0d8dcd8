package cmd

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coursekernel/riscvkernel/internal/bio"
	"github.com/coursekernel/riscvkernel/internal/config"
	"github.com/coursekernel/riscvkernel/internal/encoding"
	"github.com/coursekernel/riscvkernel/internal/file"
	"github.com/coursekernel/riscvkernel/internal/fs"
	"github.com/coursekernel/riscvkernel/internal/hart"
	"github.com/coursekernel/riscvkernel/internal/kpanic"
	"github.com/coursekernel/riscvkernel/internal/log"
	"github.com/coursekernel/riscvkernel/internal/mkfs"
	"github.com/coursekernel/riscvkernel/internal/plic"
	"github.com/coursekernel/riscvkernel/internal/pmem"
	"github.com/coursekernel/riscvkernel/internal/proc"
	"github.com/coursekernel/riscvkernel/internal/sem"
	"github.com/coursekernel/riscvkernel/internal/syscall"
	"github.com/coursekernel/riscvkernel/internal/trap"
	"github.com/coursekernel/riscvkernel/internal/virtio"
)

func TestLoadImageFallsBackToBuiltinNop(t *testing.T) {
	img, err := loadImage("")
	require.NoError(t, err)
	assert.Equal(t, initBinary, img)
}

func TestLoadImageDecodesIntelHexFile(t *testing.T) {
	enc := encoding.ImageEncoding{
		Segments: []encoding.Segment{{Addr: 0, Data: []byte{0xde, 0xad, 0xbe, 0xef}}},
	}
	text, err := enc.MarshalText()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "init.hex")
	require.NoError(t, os.WriteFile(path, text, 0o644))

	img, err := loadImage(path)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, img)
}

func TestLoadImageReturnsErrorForMissingFile(t *testing.T) {
	_, err := loadImage(filepath.Join(t.TempDir(), "missing.hex"))
	assert.Error(t, err)
}

// bootWaiter must never be asked to actually sleep: mkfs.Format and fs.Mount
// run before any process exists to be woken later.
func TestBootWaiterPanicsOnSleep(t *testing.T) {
	assert.Panics(t, func() {
		bootWaiter{}.Sleep(make(chan any))
	})
}

func TestBootWaiterCurrentPIDIsSentinel(t *testing.T) {
	assert.Equal(t, -1, bootWaiter{}.CurrentPID())
}

// bootKernel wires every subsystem the way boot.Run does, without going
// through the cli.Command flag-parsing machinery, so tests can drive the
// scheduler directly.
func bootKernel(t *testing.T) (*proc.Scheduler, *trap.Dispatcher, *fs.Inode) {
	t.Helper()

	h := hart.New(0)
	kpanic.Bind(h)

	frame := pmem.New(config.KernelBase, config.KernelBase+256*config.PageSize)
	pl := plic.New()

	dev := virtio.New(512 * config.SectorSize * 2)
	dev.Init(pl, config.VirtIOIRQ)

	cache := bio.New(dev, h)
	bw := bootWaiter{}

	require.NoError(t, mkfs.Format(bw, cache, config.RootDev, 512, 32))

	fsys, err := fs.Mount(bw, cache, config.RootDev)
	require.NoError(t, err)

	files := file.NewTable()
	sems := sem.New()

	sched := proc.New(frame, fsys, files, h)
	sys := syscall.New(sched, fsys, files, sems, h)
	dispatcher := trap.New(h, sched, sys, pl)
	sched.SetTimerHook(dispatcher.Timer)

	root := fsys.Iget(config.RootDev, config.RootInode)

	return sched, dispatcher, root
}

// TestInitForksReapsShellAndIdles drives init's real body through the
// scheduler: the forked "shell" child must run and exit, init must reap it,
// and init must then park forever rather than returning (a returning init
// body would hit Scheduler.run's fallback p.Exit(0), which panics because
// init may never exit).
func TestInitForksReapsShellAndIdles(t *testing.T) {
	sched, dispatcher, root := bootKernel(t)

	logger := log.NewFormattedLogger(newTestWriter(t))

	_, err := sched.UserInit(initBinary, root, initBody(dispatcher, logger))
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		sched.Run()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("scheduler returned: init must never exit")
	case <-time.After(200 * time.Millisecond):
		// Run is still spinning on init's permanent idle sleep, which is
		// exactly the expected steady state once the shell has exited.
	}
}

type testWriter struct{ t *testing.T }

func newTestWriter(t *testing.T) testWriter { return testWriter{t} }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Logf("%s", p)
	return len(p), nil
}
