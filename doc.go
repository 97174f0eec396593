// Package singleton lets independent processes that share a name behave as
// one logical instance.
//
// The first process to join a name becomes the master: it listens on a unix
// socket derived from the name (by default in os.TempDir()) and records its
// pid next to it. Processes joining later find the live master and connect to
// it as clients. The role of a process never changes; if the master goes away
// its clients are told they were disconnected and may join again, at which
// point one of them will become the new master.
//
// Messages are arbitrary values serialized by a Codec (JSON by default) and
// carried in length-prefixed frames. Clients send to the master. The master
// can broadcast to every client or reply to a single one.
//
// Role resolution checks for a master and then binds the socket; without
// WithStartupLock those two steps are not atomic, so processes starting at the
// same moment may race. The process that loses the bind gets
// ErrAddressInUse, and New can retry on its own with WithResolveRetries.
package singleton
