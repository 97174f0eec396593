package singleton

import (
	"io"
	"net"
	"os"

	"github.com/ngrok/singleton/internal/proto"
)

var stdEnv = &env{
	listenUnix: func(path string) (*net.UnixListener, error) {
		return net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	},
	dialUnix: func(path string) (*net.UnixConn, error) {
		return net.DialUnix("unix", nil, &net.UnixAddr{Name: path, Net: "unix"})
	},
	removeFile: os.Remove,
	writeFrame: proto.WriteFrame,
}

// env holds the socket and filesystem operations role resolution and
// connections depend on, so tests can interpose on them.
type env struct {
	listenUnix func(path string) (*net.UnixListener, error)
	dialUnix   func(path string) (*net.UnixConn, error)
	removeFile func(path string) error
	writeFrame func(w io.Writer, payload []byte, max uint32) error
}
