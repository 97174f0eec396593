package singleton

import (
	"net"
	"sort"
	"sync"
	"time"

	"github.com/inconshreveable/log15"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"
)

const (
	// acceptRetryDelay throttles the accept loop after an unexpected error.
	acceptRetryDelay = 10 * time.Millisecond
	// maxParallelWrites bounds the goroutines a single broadcast uses.
	maxParallelWrites = 64
)

// transport is the role specific half of an Instance.
type transport interface {
	// send delivers a serialized message: to the master for a client, to
	// every client for a master.
	send(payload []byte) error
	// sendTo delivers a serialized message to one connection.
	sendTo(id string, payload []byte) error
	// connections returns the ids of the open connections, sorted.
	connections() []string
	// close closes every socket and waits for the read loops to finish.
	close() error
}

// masterSession owns the listening socket and the roster of accepted
// connections.
type masterSession struct {
	listener *net.UnixListener
	newConn  func(*net.UnixConn) *conn
	clock    clock.Clock
	l        log15.Logger
	emit     EventHandler
	m        *instanceMetrics

	// mu guards roster and closed. Broadcasts take a snapshot of the roster
	// under the read lock, so they see it either before or after any add or
	// remove.
	mu     sync.RWMutex
	roster map[string]*conn
	closed bool

	// wg tracks the accept loop and every read loop.
	wg sync.WaitGroup
}

func (s *masterSession) start() {
	s.wg.Add(1)
	go s.serve()
}

func (s *masterSession) serve() {
	defer s.wg.Done()
	for {
		c, err := s.listener.AcceptUnix()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				s.l.Info("socket closed, no longer accepting connections")
				return
			}
			s.l.Error("error accepting connection", "err", err)
			s.clock.Sleep(acceptRetryDelay)
			continue
		}
		s.add(c)
	}
}

func (s *masterSession) add(uc *net.UnixConn) {
	c := s.newConn(uc)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		c.close()
		return
	}
	if err := c.open(); err != nil {
		s.mu.Unlock()
		panic(errors.Errorf("BUG: fresh connection could not open: %v", err))
	}
	s.roster[c.id] = c
	s.wg.Add(1)
	s.mu.Unlock()

	s.m.connectionsOpened.Inc()
	c.l.Info("client connected")
	s.emit(Event{Type: EventConnectionOpened, ConnID: c.id})
	go func() {
		defer s.wg.Done()
		c.readLoop(s.remove)
	}()
}

func (s *masterSession) remove(c *conn) {
	s.mu.Lock()
	delete(s.roster, c.id)
	s.mu.Unlock()

	s.m.connectionsClosed.Inc()
	c.l.Info("client disconnected")
	s.emit(Event{Type: EventConnectionClosed, ConnID: c.id})
}

func (s *masterSession) snapshot() []*conn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conns := make([]*conn, 0, len(s.roster))
	for _, c := range s.roster {
		conns = append(conns, c)
	}
	return conns
}

// send broadcasts payload to every connection in the roster. A connection
// that fails is closed and reported with an EventError; the others are
// unaffected.
func (s *masterSession) send(payload []byte) error {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return errors.Wrap(ErrNotConnected, "master is shut down")
	}

	conns := s.snapshot()
	var g errgroup.Group
	g.SetLimit(maxParallelWrites)
	for _, c := range conns {
		c := c
		g.Go(func() error {
			err := c.write(payload)
			if err != nil && errors.Cause(err) == ErrConnectionFault {
				s.emit(Event{Type: EventError, ConnID: c.id, Err: err})
			}
			return nil
		})
	}
	_ = g.Wait()
	s.m.broadcasts.Inc()
	s.l.Debug("broadcast message", "conns", len(conns), "len", len(payload))
	return nil
}

func (s *masterSession) sendTo(id string, payload []byte) error {
	s.mu.RLock()
	c, ok := s.roster[id]
	s.mu.RUnlock()
	if !ok {
		return errors.Wrapf(ErrNotConnected, "no connection %q", id)
	}
	return c.write(payload)
}

func (s *masterSession) connections() []string {
	conns := s.snapshot()
	ids := make([]string, 0, len(conns))
	for _, c := range conns {
		ids = append(ids, c.id)
	}
	sort.Strings(ids)
	return ids
}

func (s *masterSession) close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	// Closing the listener also unlinks the socket file.
	err := s.listener.Close()
	for _, c := range s.snapshot() {
		err = multierr.Append(err, c.close())
	}
	s.wg.Wait()
	return err
}

// clientSession owns a client's single connection to the master.
type clientSession struct {
	c    *conn
	emit EventHandler
	wg   sync.WaitGroup
}

func (s *clientSession) start() error {
	if err := s.c.open(); err != nil {
		return err
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.c.readLoop(func(c *conn) {
			c.m.connectionsClosed.Inc()
			c.l.Info("disconnected from master")
			s.emit(Event{Type: EventDisconnected, ConnID: c.id})
		})
	}()
	return nil
}

func (s *clientSession) send(payload []byte) error {
	return s.c.write(payload)
}

func (s *clientSession) sendTo(string, []byte) error {
	return errors.Wrap(ErrNotMaster, "clients can only send to the master")
}

func (s *clientSession) connections() []string {
	if !s.c.isOpen() {
		return nil
	}
	return []string{s.c.id}
}

func (s *clientSession) close() error {
	err := s.c.close()
	s.wg.Wait()
	return err
}
