package singleton

import "fmt"

// connState represents a small finite state machine. It has the following transitions:
// Connecting → Open
// Connecting → Closing
// Open       → Closing
// Closing    → Closed
//
// The meaning of each state is described above the state's definition below.
type connState string

const (
	// Connecting is the initial state, before the connection has been handed
	// to its session.
	connStateConnecting connState = "connecting"
	// Open connections can be written to, and their reads are decoded.
	connStateOpen connState = "open"
	// Closing is entered on an explicit close, a peer EOF or an I/O error.
	// Writes fail and buffered partial frames are abandoned.
	connStateClosing connState = "closing"
	// Closed is entered once the read loop has released the socket. It is
	// terminal.
	connStateClosed connState = "closed"
)

var validConnTransitions = map[connState][]connState{
	connStateConnecting: {
		connStateOpen,
		connStateClosing,
	},
	connStateOpen: {
		connStateClosing,
	},
	connStateClosing: {
		connStateClosed,
	},
	connStateClosed: {},
}

func (s *connState) canTransitionTo(state connState) error {
	for _, target := range validConnTransitions[*s] {
		if target == state {
			return nil
		}
	}
	return fmt.Errorf("unable to transition from %s to %s", *s, state)
}

func (s *connState) transitionTo(state connState) error {
	if err := s.canTransitionTo(state); err != nil {
		return err
	}
	*s = state
	return nil
}
