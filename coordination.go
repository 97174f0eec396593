package singleton

import (
	"context"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/inconshreveable/log15"
	"github.com/pkg/errors"
	"github.com/rkt/rkt/pkg/lock"
	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
	"k8s.io/utils/clock"
)

// errNoOwner indicates that either no process is currently marked as the
// master (e.g. initial startup), or a process is supposed to be the master
// but is dead or not listening (e.g. it crashed).
var errNoOwner = errors.New("no master process exists")

// Detection selects how a process decides whether a live master already
// exists for a name.
type Detection string

const (
	// DetectPIDFile trusts the master's pid file: a master exists if the file
	// names a process that is still alive. A dead pid is reclaimed.
	DetectPIDFile Detection = "pid"
	// DetectSocketFile treats any artifact at the socket path as a master.
	DetectSocketFile Detection = "socket"
)

// coordinator is used to coordinate between N processes sharing a name, one
// of which is the master.
// It can find the current master, connect to it, and take over the address
// when there is none. Optionally it holds a unix lock on a file for the
// duration of that decision.
type coordinator struct {
	clock        clock.Clock
	os           osIface
	env          *env
	l            log15.Logger
	addr         Address
	detection    Detection
	pollInterval time.Duration

	lock *lock.FileLock
}

func newCoordinator(clk clock.Clock, osi osIface, l log15.Logger, addr Address, detection Detection) *coordinator {
	return &coordinator{
		clock:        clk,
		os:           osi,
		env:          stdEnv,
		l:            l,
		addr:         addr,
		detection:    detection,
		pollInterval: DefaultLockPollInterval,
	}
}

func touchFile(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, 0600)
	if err != nil {
		return err
	}
	return f.Close()
}

// Lock takes an exclusive lock on the address's lock file. If the file is
// already locked, Lock polls until it can be acquired or ctx is done, in which
// case the context's error is returned unwrapped.
func (c *coordinator) Lock(ctx context.Context) error {
	if err := touchFile(c.addr.LockFile); err != nil {
		return errors.Wrap(err, "could not create lock file")
	}
	c.l.Debug("taking startup lock", "path", c.addr.LockFile)
	for {
		fl, err := lock.TryExclusiveLock(c.addr.LockFile, lock.RegFile)
		if err == nil {
			c.l.Debug("took startup lock", "path", c.addr.LockFile)
			c.lock = fl
			return nil
		}
		if err != lock.ErrLocked {
			return errors.Wrap(err, "could not lock lock file")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.clock.After(c.pollInterval):
		}
	}
}

// Unlock releases a lock taken by Lock. It is a no-op if no lock is held.
func (c *coordinator) Unlock() error {
	if c.lock == nil {
		return nil
	}
	c.l.Debug("releasing startup lock", "path", c.addr.LockFile)
	fl := c.lock
	c.lock = nil
	return multierr.Append(fl.Unlock(), fl.Close())
}

// GetOwnerPID returns the pid recorded as the current master.
// It will return '0' as the pid if there is no master.
func (c *coordinator) GetOwnerPID() (int, error) {
	data, err := os.ReadFile(c.addr.PIDFile)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, "could not read pid file")
	}
	raw := strings.TrimSpace(string(data))
	if raw == "" {
		// empty file, that means no master
		return 0, nil
	}
	pid, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.Errorf("unable to parse pid out of data %q: %v", raw, err)
	}
	return pid, nil
}

// BecomeOwner records this process as the master.
func (c *coordinator) BecomeOwner() error {
	c.l.Debug("writing pid to become master", "pid", c.os.Getpid())
	return os.WriteFile(c.addr.PIDFile, []byte(strconv.Itoa(c.os.Getpid())), 0644)
}

// ReleaseOwnership removes the pid file if it still names this process.
func (c *coordinator) ReleaseOwnership() error {
	pid, err := c.GetOwnerPID()
	if err != nil {
		return err
	}
	if pid != c.os.Getpid() {
		c.l.Debug("pid file names another process, leaving it", "owner", pid)
		return nil
	}
	if err := c.env.removeFile(c.addr.PIDFile); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "could not remove pid file")
	}
	return nil
}

func (c *coordinator) ownerExists() (bool, error) {
	switch c.detection {
	case DetectSocketFile:
		_, err := os.Lstat(c.addr.Socket)
		if os.IsNotExist(err) {
			return false, nil
		}
		if err != nil {
			return false, errors.Wrap(err, "could not stat socket")
		}
		return true, nil
	default:
		pid, err := c.GetOwnerPID()
		if err != nil {
			return false, err
		}
		if pid == 0 || !pidIsAlive(c.os, pid) {
			c.l.Debug("master does not exist or is dead", "master", pid)
			return false, nil
		}
		c.l.Debug("found master", "master", pid)
		return true, nil
	}
}

// ConnectOwner connects to the current master, or returns errNoOwner.
func (c *coordinator) ConnectOwner(ctx context.Context) (*net.UnixConn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	exists, err := c.ownerExists()
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, errNoOwner
	}
	conn, err := c.env.dialUnix(c.addr.Socket)
	if err != nil {
		// Assume this is ECONNREFUSED or ENOENT: the artifacts say there is a
		// master, but nothing is listening. Either the master crashed without
		// cleaning up, or its pid was reused by an unrelated process. Our best
		// bet is to assume nothing about that process and take over.
		c.l.Warn("found a master, but it wasn't listening for us", "socket", c.addr.Socket, "dialErr", err)
		return nil, errNoOwner
	}
	return conn, nil
}

// Listen removes any stale socket and listens on the address.
func (c *coordinator) Listen(ctx context.Context) (*net.UnixListener, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := c.env.removeFile(c.addr.Socket); err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "could not remove stale socket")
	}
	l, err := c.env.listenUnix(c.addr.Socket)
	if err != nil {
		if errors.Is(err, unix.EADDRINUSE) {
			return nil, errors.Wrap(ErrAddressInUse, err.Error())
		}
		return nil, errors.Wrap(err, "error listening on socket")
	}
	return l, nil
}

// resolution is the outcome of role resolution. Exactly one of listener and
// conn is set, depending on role.
type resolution struct {
	role     Role
	listener *net.UnixListener
	conn     *net.UnixConn
}

// resolveRole connects to the current master if there is one, and otherwise
// makes this process the master.
//
// Without the startup lock, the check and the bind below are not atomic: two
// processes starting at the same moment may both find no master. The loser of
// the bind gets ErrAddressInUse, but if the stale socket removal of one
// interleaves with the listen of the other, both can end up listening.
func (c *coordinator) resolveRole(ctx context.Context, withLock bool) (res *resolution, err error) {
	if withLock {
		if err := c.Lock(ctx); err != nil {
			return nil, err
		}
		defer func() {
			if uerr := c.Unlock(); uerr != nil {
				c.l.Warn("could not release startup lock", "err", uerr)
			}
		}()
	}

	conn, err := c.ConnectOwner(ctx)
	if err == nil {
		c.l.Info("connected to master", "socket", c.addr.Socket)
		return &resolution{role: RoleClient, conn: conn}, nil
	}
	if err != errNoOwner {
		return nil, err
	}

	c.l.Info("no master found, becoming master", "socket", c.addr.Socket)
	l, err := c.Listen(ctx)
	if err != nil {
		return nil, err
	}
	if c.detection == DetectPIDFile {
		if err := c.BecomeOwner(); err != nil {
			l.Close()
			return nil, errors.Wrap(err, "could not write pid file")
		}
	}
	return &resolution{role: RoleMaster, listener: l}, nil
}
