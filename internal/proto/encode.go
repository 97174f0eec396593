package proto

import (
	"encoding/binary"
	"io"
	"net"

	"github.com/pkg/errors"
)

// ErrFrameTooLarge is returned when a payload does not fit the configured
// frame limit, either while writing or when a peer announces one.
var ErrFrameTooLarge = errors.New("frame too large")

func checkLen(n int, max uint32) error {
	if uint64(n) > uint64(max) {
		return errors.Wrapf(ErrFrameTooLarge, "payload is %d bytes, limit is %d", n, max)
	}
	return nil
}

func header(n int) [HeaderLen]byte {
	var hdr [HeaderLen]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(n))
	return hdr
}

// WriteFrame writes a length-prefixed payload to dst. The header and payload
// are handed to the writer together so a net.Conn sees a single writev.
func WriteFrame(dst io.Writer, payload []byte, max uint32) error {
	if err := checkLen(len(payload), max); err != nil {
		return err
	}
	hdr := header(len(payload))
	b := net.Buffers{hdr[:], payload}
	if _, err := b.WriteTo(dst); err != nil {
		return errors.Wrap(err, "could not write frame")
	}
	return nil
}
