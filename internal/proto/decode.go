package proto

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Decoder reassembles frames from a byte stream that arrives in arbitrary
// chunks. It is not safe for concurrent use; each connection owns one.
type Decoder struct {
	max uint32
	buf []byte
	// expected is the payload length announced by the current frame's
	// header, or -1 when the header has not been consumed yet.
	expected int64
}

// NewDecoder returns a Decoder that rejects frames larger than max.
func NewDecoder(max uint32) *Decoder {
	return &Decoder{max: max, expected: -1}
}

// Feed appends newly arrived bytes and returns the payloads of every frame
// they complete, in order. Bytes belonging to an incomplete frame stay
// buffered until the next call.
//
// The only error is ErrFrameTooLarge, after which the stream can't be
// resynchronized and the decoder must be discarded.
func (d *Decoder) Feed(p []byte) ([][]byte, error) {
	d.buf = append(d.buf, p...)

	var payloads [][]byte
	for {
		if d.expected < 0 {
			if len(d.buf) < HeaderLen {
				break
			}
			n := binary.BigEndian.Uint32(d.buf[:HeaderLen])
			if n > d.max {
				return payloads, errors.Wrapf(ErrFrameTooLarge, "peer announced %d bytes, limit is %d", n, d.max)
			}
			d.expected = int64(n)
			d.buf = d.buf[HeaderLen:]
		}
		if int64(len(d.buf)) < d.expected {
			break
		}
		payload := make([]byte, d.expected)
		copy(payload, d.buf[:d.expected])
		d.buf = d.buf[d.expected:]
		d.expected = -1
		payloads = append(payloads, payload)
	}

	if len(d.buf) == 0 {
		// drop the backing array so a large frame isn't pinned forever
		d.buf = nil
	}
	return payloads, nil
}

// Buffered returns the number of bytes held for an incomplete frame,
// including a consumed header.
func (d *Decoder) Buffered() int {
	n := len(d.buf)
	if d.expected >= 0 {
		n += HeaderLen
	}
	return n
}

// Reset abandons any partially reassembled frame.
func (d *Decoder) Reset() {
	d.buf = nil
	d.expected = -1
}
