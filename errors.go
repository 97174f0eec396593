package singleton

import "github.com/pkg/errors"

var (
	// ErrInvalidName is returned when an instance name can't be turned into
	// an address.
	ErrInvalidName = errors.New("invalid singleton name")
	// ErrAddressInUse indicates another process bound the socket between our
	// check for a master and our attempt to listen. Resolving again will
	// usually find that process as the master.
	ErrAddressInUse = errors.New("singleton address already in use")
	// ErrNotConnected is returned when sending over a connection that is not
	// open, e.g. after the master went away.
	ErrNotConnected = errors.New("not connected")
	// ErrNotMaster is returned by master-only operations called on a client.
	ErrNotMaster = errors.New("operation requires the master role")
	// ErrMessageTooLarge indicates a serialized message does not fit in a
	// single frame.
	ErrMessageTooLarge = errors.New("message too large")
	// ErrSerialization indicates the codec could not serialize a message.
	ErrSerialization = errors.New("message serialization failed")
	// ErrFrameDecode is reported in an EventError when a complete frame could
	// not be decoded into a message. The connection stays open.
	ErrFrameDecode = errors.New("frame decode failed")
	// ErrConnectionFault is reported when I/O on a single connection fails.
	// Only that connection is closed.
	ErrConnectionFault = errors.New("connection fault")
)
