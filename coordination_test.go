package singleton

import (
	"context"
	"io"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"k8s.io/utils/clock"
	fakeclock "k8s.io/utils/clock/testing"
)

func testAddress(t *testing.T, dir string) Address {
	addr, err := ResolveAddress(dir, "svc")
	require.NoError(t, err)
	return addr
}

// TestConnectOwner is a happy-path test of using the coordinator
func TestConnectOwner(t *testing.T) {
	ctx := testCtx(t)
	addr := testAddress(t, tmpDir(t))

	coord1 := newCoordinator(clock.RealClock{}, mockOS{pid: 1}, l, addr, DetectPIDFile)
	coord2 := newCoordinator(clock.RealClock{}, mockOS{pid: 2}, l, addr, DetectPIDFile)

	coord1l, err := coord1.Listen(ctx)
	require.NoError(t, err)
	defer coord1l.Close()
	require.NoError(t, coord1.BecomeOwner())

	pid, err := coord2.GetOwnerPID()
	require.NoError(t, err)
	require.Equal(t, 1, pid)

	connw, err := coord2.ConnectOwner(ctx)
	require.NoError(t, err)

	go func() {
		connw.Write([]byte("hello world"))
		connw.Close()
	}()

	connr, err := coord1l.Accept()
	require.NoError(t, err)
	data, err := io.ReadAll(connr)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(data))
}

func TestConnectOwnerNoOwner(t *testing.T) {
	ctx := testCtx(t)
	addr := testAddress(t, tmpDir(t))

	// nothing in the directory
	coord := newCoordinator(clock.RealClock{}, mockOS{pid: 2, dead: map[int]bool{1: true}}, l, addr, DetectPIDFile)
	_, err := coord.ConnectOwner(ctx)
	require.Equal(t, errNoOwner, err)

	// pid file naming a dead process
	require.NoError(t, os.WriteFile(addr.PIDFile, []byte("1"), 0644))
	_, err = coord.ConnectOwner(ctx)
	require.Equal(t, errNoOwner, err)

	// pid file naming a live process that isn't listening
	require.NoError(t, os.WriteFile(addr.PIDFile, []byte("3"), 0644))
	_, err = coord.ConnectOwner(ctx)
	require.Equal(t, errNoOwner, err)
}

func TestConnectOwnerSocketDetection(t *testing.T) {
	ctx := testCtx(t)
	addr := testAddress(t, tmpDir(t))
	coord := newCoordinator(clock.RealClock{}, mockOS{pid: 2}, l, addr, DetectSocketFile)

	_, err := coord.ConnectOwner(ctx)
	require.Equal(t, errNoOwner, err)

	// a leftover regular file where the socket should be
	require.NoError(t, os.WriteFile(addr.Socket, nil, 0644))
	exists, err := coord.ownerExists()
	require.NoError(t, err)
	require.True(t, exists)
	_, err = coord.ConnectOwner(ctx)
	require.Equal(t, errNoOwner, err)

	// Listen replaces the stale artifact
	ln, err := coord.Listen(ctx)
	require.NoError(t, err)
	defer ln.Close()
	conn, err := coord.ConnectOwner(ctx)
	require.NoError(t, err)
	conn.Close()
}

func TestGetOwnerPID(t *testing.T) {
	addr := testAddress(t, tmpDir(t))
	coord := newCoordinator(clock.RealClock{}, mockOS{pid: 7}, l, addr, DetectPIDFile)

	for _, tc := range []struct {
		data    string
		pid     int
		wantErr bool
	}{
		{data: "", pid: 0},
		{data: "123", pid: 123},
		{data: " 456\n", pid: 456},
		{data: "not a pid", wantErr: true},
	} {
		require.NoError(t, os.WriteFile(addr.PIDFile, []byte(tc.data), 0644))
		pid, err := coord.GetOwnerPID()
		if tc.wantErr {
			require.Error(t, err, "data %q", tc.data)
			continue
		}
		require.NoError(t, err, "data %q", tc.data)
		require.Equal(t, tc.pid, pid, "data %q", tc.data)
	}
}

func TestReleaseOwnership(t *testing.T) {
	addr := testAddress(t, tmpDir(t))
	coord := newCoordinator(clock.RealClock{}, mockOS{pid: 7}, l, addr, DetectPIDFile)

	require.NoError(t, coord.BecomeOwner())
	data, err := os.ReadFile(addr.PIDFile)
	require.NoError(t, err)
	require.Equal(t, "7", string(data))

	require.NoError(t, coord.ReleaseOwnership())
	_, err = os.Stat(addr.PIDFile)
	require.True(t, os.IsNotExist(err))

	// another process took over; its pid file must survive us
	require.NoError(t, os.WriteFile(addr.PIDFile, []byte(strconv.Itoa(8)), 0644))
	require.NoError(t, coord.ReleaseOwnership())
	pid, err := coord.GetOwnerPID()
	require.NoError(t, err)
	require.Equal(t, 8, pid)
}

// TestLockCtxCancel tests that a call to `Lock` can be canceled by canceling
// the passed in context.
func TestLockCtxCancel(t *testing.T) {
	ctx := testCtx(t)
	addr := testAddress(t, tmpDir(t))
	clk := fakeclock.NewFakeClock(time.Now())
	coord1 := newCoordinator(clk, mockOS{pid: 1}, l, addr, DetectPIDFile)
	coord2 := newCoordinator(clk, mockOS{pid: 2}, l, addr, DetectPIDFile)

	require.NoError(t, coord1.Lock(ctx))
	defer coord1.Unlock()

	ctx2, cancel := context.WithCancel(ctx)
	coordErr := make(chan error)
	go func() {
		coordErr <- coord2.Lock(ctx2)
	}()

	select {
	case err := <-coordErr:
		t.Fatalf("expected no coord error, should be blocked: %v", err)
	default:
	}
	cancel()
	err := <-coordErr
	if err != context.Canceled {
		t.Errorf("expected context cancel, got %v", err)
	}
}

// TestLockPollsUntilReleased verifies a waiting Lock picks the lock up on its
// next poll after the holder releases it.
func TestLockPollsUntilReleased(t *testing.T) {
	ctx := testCtx(t)
	addr := testAddress(t, tmpDir(t))
	clk := fakeclock.NewFakeClock(time.Now())
	coord1 := newCoordinator(clk, mockOS{pid: 1}, l, addr, DetectPIDFile)
	coord2 := newCoordinator(clk, mockOS{pid: 2}, l, addr, DetectPIDFile)

	require.NoError(t, coord1.Lock(ctx))

	coordErr := make(chan error)
	go func() {
		coordErr <- coord2.Lock(ctx)
	}()
	for !clk.HasWaiters() {
		time.Sleep(1 * time.Millisecond)
	}
	require.NoError(t, coord1.Unlock())
	clk.Step(DefaultLockPollInterval)

	select {
	case err := <-coordErr:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatalf("lock was not taken after release")
	}
	require.NoError(t, coord2.Unlock())
	// unlocking twice is harmless
	require.NoError(t, coord2.Unlock())
}

// TestLockCreatesLockFile verifies Lock works without a pre-existing lock file
// and that releasing the lock lets another coordinator take it right away.
func TestLockCreatesLockFile(t *testing.T) {
	ctx := testCtx(t)
	addr := testAddress(t, tmpDir(t))
	coord1 := newCoordinator(clock.RealClock{}, mockOS{pid: 1}, l, addr, DetectPIDFile)
	coord2 := newCoordinator(clock.RealClock{}, mockOS{pid: 2}, l, addr, DetectPIDFile)

	require.NoError(t, coord1.Unlock(), "unlocking without a lock is a no-op")
	require.NoError(t, coord1.Lock(ctx))
	_, err := os.Stat(addr.LockFile)
	require.NoError(t, err)

	held, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	require.Equal(t, context.DeadlineExceeded, coord2.Lock(held))

	require.NoError(t, coord1.Unlock())
	require.NoError(t, coord1.Unlock())
	require.NoError(t, coord2.Lock(ctx))
	require.NoError(t, coord2.Unlock())
}
