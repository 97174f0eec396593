package singleton

import (
	"os"
	"syscall"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

type osIface interface {
	Getpid() int
	Kill(pid int, sig syscall.Signal) error
}

type realOS struct{}

func (realOS) Getpid() int {
	return os.Getpid()
}

func (realOS) Kill(pid int, sig syscall.Signal) error {
	return unix.Kill(pid, sig)
}

// pidIsAlive reports whether a process with the given pid exists. A process
// we aren't permitted to signal still counts as alive.
func pidIsAlive(osi osIface, pid int) bool {
	if pid <= 0 {
		return false
	}
	err := osi.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
