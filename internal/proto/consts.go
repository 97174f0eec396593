package proto

const (
	// HeaderLen is the size of the length prefix that precedes every payload.
	HeaderLen = 4
	// MaxFrameLen is the largest payload a 4 byte length prefix can describe.
	MaxFrameLen = 1<<32 - 1
)
