package mkfs_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coursekernel/riscvkernel/internal/bio"
	"github.com/coursekernel/riscvkernel/internal/config"
	"github.com/coursekernel/riscvkernel/internal/fs"
	"github.com/coursekernel/riscvkernel/internal/mkfs"
	"github.com/coursekernel/riscvkernel/internal/virtio"
)

type fakeNester struct{}

func (fakeNester) PushOff() {}
func (fakeNester) PopOff()  {}

type fakeWaiter struct{ pid int }

func (fakeWaiter) Sleep(chan any)     {}
func (fakeWaiter) Wakeup(chan any)    {}
func (w fakeWaiter) CurrentPID() int { return w.pid }

const (
	totalBlocks = 512
	nInodes     = 32
)

func formatAndMount(t *testing.T) (*fs.FS, fakeWaiter) {
	t.Helper()

	w := fakeWaiter{pid: 1}
	dev := virtio.New(totalBlocks * config.SectorSize * 2)
	dev.Init(nil, 0)
	c := bio.New(dev, fakeNester{})

	require.NoError(t, mkfs.Format(w, c, config.RootDev, totalBlocks, nInodes))

	fsys, err := fs.Mount(w, c, config.RootDev)
	require.NoError(t, err)

	return fsys, w
}

func TestFormatProducesMountableSuperblock(t *testing.T) {
	fsys, _ := formatAndMount(t)

	assert.EqualValues(t, config.FSMagic, fsys.SB.Magic)
	assert.EqualValues(t, totalBlocks, fsys.SB.NBlocks)
	assert.EqualValues(t, nInodes, fsys.SB.NInodes)
}

func TestFormatWritesRootDirectoryWithDotEntries(t *testing.T) {
	fsys, w := formatAndMount(t)

	root := fsys.Iget(config.RootDev, config.RootInode)
	fsys.Ilock(w, root)
	defer fsys.Iunlock(w, root)

	assert.Equal(t, fs.TypeDir, root.Type)
	assert.EqualValues(t, 1, root.NLink)

	self, _, err := fsys.DirLookup(w, root, ".")
	require.NoError(t, err)
	assert.EqualValues(t, config.RootInode, self.Inum)

	parent, _, err := fsys.DirLookup(w, root, "..")
	require.NoError(t, err)
	assert.EqualValues(t, config.RootInode, parent.Inum)
}

func TestFormatLeavesDataRegionFreeForAllocation(t *testing.T) {
	fsys, w := formatAndMount(t)

	txn := fsys.Log().BeginOp(w)
	ip, err := fsys.IAlloc(w, txn, fs.TypeFile)
	require.NoError(t, err)
	ip.NLink = 1

	payload := []byte("mkfs leaves room to grow")
	n, err := fsys.Writei(w, txn, ip, payload, 0)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)

	fsys.Iunlock(w, ip)
	txn.EndOp(w)
}
