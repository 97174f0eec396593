// Package proto implements the wire framing used between the master of a
// singleton and its clients, as well as the incremental decoder used to turn
// a byte stream back into discrete payloads.
//
// Every frame on the wire is a 4 byte unsigned big-endian length L followed
// by exactly L bytes of payload:
//
//	+----------------+---------------------+
//	| L (uint32, BE) | payload (L bytes)   |
//	+----------------+---------------------+
//
// There is no version byte, checksum or other header field. The payload is
// opaque to this package; the singleton package serializes messages into it.
//
// The stream is a unix stream socket, so a single read may contain part of a
// frame, exactly one frame, or several frames. The Decoder handles all of
// these: it keeps a reassembly buffer per connection and returns every
// complete payload available after each read.
package proto
