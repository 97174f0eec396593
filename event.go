package singleton

import "fmt"

// EventType identifies what an Event reports.
type EventType string

const (
	// EventListening is emitted once when this process became the master.
	EventListening EventType = "listening"
	// EventConnected is emitted once when this process became a client.
	EventConnected EventType = "connected"
	// EventConnectionOpened is emitted by a master for every accepted client.
	EventConnectionOpened EventType = "connection-opened"
	// EventConnectionClosed is emitted by a master when a client connection
	// is gone, whether the peer or this process closed it.
	EventConnectionClosed EventType = "connection-closed"
	// EventDisconnected is emitted by a client when its connection to the
	// master is gone. The client does not reconnect on its own.
	EventDisconnected EventType = "disconnected"
	// EventMessage carries a decoded message.
	EventMessage EventType = "message"
	// EventError reports a fault local to one connection, such as an
	// undecodable frame or a failed write.
	EventError EventType = "error"
)

// Event is delivered to the handler configured with WithEventHandler.
type Event struct {
	Type EventType
	// ConnID identifies the connection the event concerns. For a client it
	// is the id of its connection to the master; it is empty for
	// EventListening.
	ConnID string
	// Message is set for EventMessage.
	Message interface{}
	// Err is set for EventError.
	Err error
}

func (e Event) String() string {
	switch e.Type {
	case EventMessage:
		return fmt.Sprintf("%s(%s): %v", e.Type, e.ConnID, e.Message)
	case EventError:
		return fmt.Sprintf("%s(%s): %v", e.Type, e.ConnID, e.Err)
	default:
		return fmt.Sprintf("%s(%s)", e.Type, e.ConnID)
	}
}

// EventHandler receives events. It is called from the goroutines that accept
// and read connections, so it must be safe for concurrent use and should not
// block for long. Events for a single connection are delivered in order.
// Close waits for the read loops, so a handler must not call Close
// synchronously.
type EventHandler func(Event)

func discardEvents(Event) {}
