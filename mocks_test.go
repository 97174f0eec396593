package singleton

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// mockOS pretends to be the process with the given pid. Every other pid is
// alive unless listed in dead.
type mockOS struct {
	pid  int
	dead map[int]bool
}

func (m mockOS) Getpid() int {
	return m.pid
}

func (m mockOS) Kill(pid int, sig syscall.Signal) error {
	if m.dead[pid] {
		return unix.ESRCH
	}
	return nil
}
