package singleton

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// Address holds the filesystem artifacts that identify a singleton on this
// machine. It is derived purely from the directory and name, so every process
// using the same name finds the same address.
type Address struct {
	// Socket is the unix socket the master listens on.
	Socket string
	// PIDFile holds the decimal pid of the current master.
	PIDFile string
	// LockFile is locked around role resolution when the startup lock is
	// enabled.
	LockFile string
}

// ResolveAddress returns the address of the singleton called name, rooted at
// dir. An empty dir means os.TempDir().
func ResolveAddress(dir, name string) (Address, error) {
	if name == "" {
		return Address{}, errors.Wrap(ErrInvalidName, "name must not be empty")
	}
	if dir == "" {
		dir = os.TempDir()
	}
	return Address{
		Socket:   filepath.Join(dir, name+".sock"),
		PIDFile:  filepath.Join(dir, name+".pid"),
		LockFile: filepath.Join(dir, name+".lock"),
	}, nil
}
