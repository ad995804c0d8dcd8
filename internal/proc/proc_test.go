package proc_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coursekernel/riscvkernel/internal/config"
	"github.com/coursekernel/riscvkernel/internal/file"
	"github.com/coursekernel/riscvkernel/internal/hart"
	"github.com/coursekernel/riscvkernel/internal/pmem"
	"github.com/coursekernel/riscvkernel/internal/proc"
)

func newScheduler(t *testing.T) *proc.Scheduler {
	t.Helper()

	frame := pmem.New(0x1000, 0x1000+256*config.PageSize)
	files := file.NewTable()
	h := hart.New(0)

	return proc.New(frame, nil, files, h)
}

// runInBackground drives the scheduler's dispatch loop on its own goroutine.
// Every test here keeps its init-equivalent process parked forever (init may
// never exit), so Run never returns on its own; tests observe results
// through channels a forked child or the init body writes to instead of
// waiting for the loop to finish.
func runInBackground(s *proc.Scheduler) {
	go s.Run()
}

func TestUserInitCreatesRunnableProcess(t *testing.T) {
	s := newScheduler(t)

	started := make(chan struct{})
	forever := make(chan any)

	p, err := s.UserInit([]byte{0x13, 0x00, 0x00, 0x00}, nil, func(p *proc.Proc) {
		close(started)
		p.Sleep(forever)
	})
	require.NoError(t, err)
	assert.Equal(t, proc.Runnable, p.State)

	runInBackground(s)

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("init body never ran")
	}
}

func TestForkCopiesAddressSpaceAndReturnsZeroToChild(t *testing.T) {
	s := newScheduler(t)

	childA0 := make(chan uintptr, 1)
	childText := make(chan []byte, 1)
	waitResult := make(chan [2]int, 1)
	forever := make(chan any)

	_, err := s.UserInit([]byte{1, 2, 3, 4}, nil, func(p *proc.Proc) {
		child, err := s.Fork(p, func(c *proc.Proc) {
			text := make([]byte, 4)
			_ = c.PageTable.CopyIn(text, 0)
			childText <- text
			childA0 <- c.TrapFrame.A0
		})
		require.NoError(t, err)

		pid, status, err := p.Wait()
		require.NoError(t, err)
		waitResult <- [2]int{pid, status}
		_ = child

		p.Sleep(forever)
	})
	require.NoError(t, err)

	runInBackground(s)

	select {
	case a0 := <-childA0:
		assert.EqualValues(t, 0, a0)
		assert.Equal(t, []byte{1, 2, 3, 4}, <-childText)
	case <-time.After(time.Second):
		t.Fatal("forked child never ran")
	}

	select {
	case res := <-waitResult:
		assert.Equal(t, 0, res[1])
	case <-time.After(time.Second):
		t.Fatal("wait on forked child never returned")
	}
}

func TestWaitWithNoChildrenReturnsError(t *testing.T) {
	s := newScheduler(t)

	waitErr := make(chan error, 1)
	forever := make(chan any)

	_, err := s.UserInit([]byte{0}, nil, func(p *proc.Proc) {
		_, _, err := p.Wait()
		waitErr <- err
		p.Sleep(forever)
	})
	require.NoError(t, err)

	runInBackground(s)

	select {
	case err := <-waitErr:
		assert.ErrorIs(t, err, proc.ErrNoChildren)
	case <-time.After(time.Second):
		t.Fatal("wait never returned")
	}
}

func TestSleepBlocksUntilWakeup(t *testing.T) {
	s := newScheduler(t)

	gate := make(chan any)
	woke := make(chan struct{})
	forever := make(chan any)

	p, err := s.UserInit([]byte{0}, nil, func(p *proc.Proc) {
		p.Sleep(gate)
		close(woke)
		p.Sleep(forever)
	})
	require.NoError(t, err)

	runInBackground(s)

	select {
	case <-woke:
		t.Fatal("process woke before Wakeup was called")
	case <-time.After(30 * time.Millisecond):
	}

	// Wakeup only touches scheduler-table state; it needs no process of
	// its own currently running, so the test can call it directly.
	p.Wakeup(gate)

	select {
	case <-woke:
	case <-time.After(time.Second):
		t.Fatal("sleeper never woke")
	}
}

func TestKillMarksSleepingProcessRunnable(t *testing.T) {
	s := newScheduler(t)

	gate := make(chan any)
	ran := make(chan bool, 1)
	forever := make(chan any)

	p, err := s.UserInit([]byte{0}, nil, func(p *proc.Proc) {
		p.Sleep(gate)
		ran <- p.Killed
		p.Sleep(forever)
	})
	require.NoError(t, err)

	runInBackground(s)

	select {
	case <-ran:
		t.Fatal("process ran before being killed")
	case <-time.After(30 * time.Millisecond):
	}

	require.NoError(t, s.Kill(p.PID))

	select {
	case killed := <-ran:
		assert.True(t, killed)
	case <-time.After(time.Second):
		t.Fatal("killed process never resumed")
	}
}

func TestKillOfUnknownPIDReturnsError(t *testing.T) {
	s := newScheduler(t)
	assert.ErrorIs(t, s.Kill(99999), proc.ErrNotFound)
}

func TestSchedulerDispatchesParentThenForkedChild(t *testing.T) {
	s := newScheduler(t)

	order := make(chan int, 2)
	forever := make(chan any)

	p, err := s.UserInit([]byte{0}, nil, func(p *proc.Proc) {
		order <- p.PID

		_, err := s.Fork(p, func(c *proc.Proc) { order <- c.PID })
		require.NoError(t, err)

		p.Sleep(forever)
	})
	require.NoError(t, err)

	runInBackground(s)

	var got []int
	for i := 0; i < 2; i++ {
		select {
		case pid := <-order:
			got = append(got, pid)
		case <-time.After(time.Second):
			t.Fatal("not every process ran")
		}
	}

	assert.Equal(t, p.PID, got[0])
	assert.NotEqual(t, got[0], got[1])
}
