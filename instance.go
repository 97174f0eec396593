package singleton

import (
	"context"
	"sync"
	"time"

	"github.com/inconshreveable/log15"
	"github.com/ngrok/singleton/internal/proto"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"k8s.io/utils/clock"
)

// DefaultLockPollInterval is how often a process waiting for the startup lock
// retries taking it.
const DefaultLockPollInterval = 10 * time.Millisecond

// Role is the part a process plays for a name. It is decided once, when the
// Instance is created.
type Role string

const (
	// RoleMaster owns the socket and every connection to it.
	RoleMaster Role = "master"
	// RoleClient is connected to the master.
	RoleClient Role = "client"
)

// Instance is this process's membership in the singleton of a name.
type Instance struct {
	name      string
	addr      Address
	role      Role
	detection Detection
	codec     Codec
	maxFrame  uint32
	emit      EventHandler

	coord     *coordinator
	transport transport
	m         *instanceMetrics
	l         log15.Logger

	closeOnce sync.Once
	doneC     chan struct{}
}

type config struct {
	dir          string
	l            log15.Logger
	codec        Codec
	handler      EventHandler
	detection    Detection
	maxFrame     uint32
	startupLock  bool
	pollInterval time.Duration
	retries      int
	retryBackoff time.Duration
}

// Option is an option function for New.
// See Rob Pike's post on the topic for more information on this pattern:
// https://commandcenter.blogspot.com/2014/01/self-referential-functions-and-design.html
type Option func(c *config)

// WithLogger configures the logger to use for singleton operations.
// By default, nothing will be logged.
func WithLogger(l log15.Logger) Option {
	return func(c *config) {
		c.l = l
	}
}

// WithDir sets the directory the socket and pid file are created in. All
// processes sharing a name must use the same directory. The default is
// os.TempDir().
func WithDir(dir string) Option {
	return func(c *config) {
		c.dir = dir
	}
}

// WithCodec sets the codec used to serialize messages. The default is
// JSONCodec. Every process sharing a name must use compatible codecs.
func WithCodec(codec Codec) Option {
	return func(c *config) {
		c.codec = codec
	}
}

// WithEventHandler sets the function events are delivered to. By default
// events are dropped.
func WithEventHandler(h EventHandler) Option {
	return func(c *config) {
		c.handler = h
	}
}

// WithDetection selects how an existing master is detected. The default is
// DetectPIDFile.
func WithDetection(d Detection) Option {
	return func(c *config) {
		c.detection = d
	}
}

// WithMaxFrameSize limits the size of a serialized message, both sent and
// received. A peer announcing a larger frame is disconnected. A size of 0
// means the largest size the wire format allows.
func WithMaxFrameSize(n uint32) Option {
	return func(c *config) {
		c.maxFrame = n
		if c.maxFrame == 0 {
			c.maxFrame = proto.MaxFrameLen
		}
	}
}

// WithStartupLock holds an exclusive lock on the address's lock file while
// deciding the role, so two processes starting at once can't both become
// master. Without it the check for a master and the bind are not atomic.
func WithStartupLock() Option {
	return func(c *config) {
		c.startupLock = true
	}
}

// WithLockPollInterval sets how often the startup lock is retried while
// another process holds it. If a time of 0 is specified, the default will be
// used.
func WithLockPollInterval(d time.Duration) Option {
	return func(c *config) {
		c.pollInterval = d
		if c.pollInterval <= 0 {
			c.pollInterval = DefaultLockPollInterval
		}
	}
}

// WithResolveRetries makes New resolve the role again, up to n more times,
// when another process bound the socket first. Attempts are spaced by
// backoff. By default ErrAddressInUse is returned right away.
func WithResolveRetries(n int, backoff time.Duration) Option {
	return func(c *config) {
		c.retries = n
		c.retryBackoff = backoff
	}
}

// New joins the singleton called name. If no live master exists this process
// becomes the master and listens for clients; otherwise it connects to the
// master as a client. The role is fixed for the lifetime of the Instance.
//
// The context only bounds role resolution. Close must be called to release
// the socket and connections.
func New(ctx context.Context, name string, opts ...Option) (*Instance, error) {
	return newInstance(ctx, clock.RealClock{}, realOS{}, stdEnv, name, opts...)
}

func newInstance(ctx context.Context, clk clock.Clock, osi osIface, e *env, name string, opts ...Option) (*Instance, error) {
	noopLogger := log15.New()
	noopLogger.SetHandler(log15.DiscardHandler())
	cfg := &config{
		l:            noopLogger,
		codec:        JSONCodec{},
		handler:      discardEvents,
		detection:    DetectPIDFile,
		maxFrame:     proto.MaxFrameLen,
		pollInterval: DefaultLockPollInterval,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	addr, err := ResolveAddress(cfg.dir, name)
	if err != nil {
		return nil, err
	}
	l := cfg.l.New("name", name)

	coord := newCoordinator(clk, osi, l, addr, cfg.detection)
	coord.env = e
	coord.pollInterval = cfg.pollInterval

	var res *resolution
	for attempt := 0; ; attempt++ {
		res, err = coord.resolveRole(ctx, cfg.startupLock)
		if err == nil {
			break
		}
		if errors.Cause(err) != ErrAddressInUse || attempt >= cfg.retries {
			return nil, err
		}
		l.Warn("socket was bound by another process, resolving again", "attempt", attempt+1, "backoff", cfg.retryBackoff)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-clk.After(cfg.retryBackoff):
		}
	}

	i := &Instance{
		name:      name,
		addr:      addr,
		role:      res.role,
		detection: cfg.detection,
		codec:     cfg.codec,
		maxFrame:  cfg.maxFrame,
		emit:      cfg.handler,
		coord:     coord,
		m:         newInstanceMetrics(name),
		l:         l.New("role", res.role),
		doneC:     make(chan struct{}),
	}

	switch res.role {
	case RoleMaster:
		s := &masterSession{
			listener: res.listener,
			newConn:  i.newConn,
			clock:    clk,
			l:        i.l,
			emit:     i.emit,
			m:        i.m,
			roster:   make(map[string]*conn),
		}
		i.transport = s
		i.l.Info("listening", "socket", addr.Socket)
		i.emit(Event{Type: EventListening})
		s.start()
	case RoleClient:
		c := i.newConn(res.conn)
		s := &clientSession{c: c, emit: i.emit}
		i.transport = s
		i.m.connectionsOpened.Inc()
		i.emit(Event{Type: EventConnected, ConnID: c.id})
		if err := s.start(); err != nil {
			c.close()
			return nil, err
		}
	}
	return i, nil
}

// Name returns the name the instance was created with.
func (i *Instance) Name() string {
	return i.name
}

// Address returns the resolved address of the singleton.
func (i *Instance) Address() Address {
	return i.addr
}

// Role returns whether this process is the master or a client.
func (i *Instance) Role() Role {
	return i.role
}

// IsMaster reports whether this process is the master.
func (i *Instance) IsMaster() bool {
	return i.role == RoleMaster
}

func (i *Instance) encode(msg interface{}) ([]byte, error) {
	payload, err := i.codec.Marshal(msg)
	if err != nil {
		return nil, errors.Wrap(ErrSerialization, err.Error())
	}
	if uint64(len(payload)) > uint64(i.maxFrame) {
		return nil, errors.Wrapf(ErrMessageTooLarge, "serialized message is %d bytes, limit is %d", len(payload), i.maxFrame)
	}
	return payload, nil
}

// Send delivers msg to the other side. A client sends it to the master and
// fails with ErrNotConnected once the master is gone. A master broadcasts it
// to every client, like Broadcast.
func (i *Instance) Send(msg interface{}) error {
	payload, err := i.encode(msg)
	if err != nil {
		return err
	}
	return i.transport.send(payload)
}

// Broadcast delivers msg to every connected client. The message is
// serialized once. A client that can't be written to is disconnected and
// reported with an EventError, without affecting delivery to the others.
// Broadcasting with no clients connected does nothing.
// Only the master may broadcast; clients get ErrNotMaster.
func (i *Instance) Broadcast(msg interface{}) error {
	if i.role != RoleMaster {
		return errors.Wrap(ErrNotMaster, "clients can't broadcast")
	}
	return i.Send(msg)
}

// SendTo delivers msg to the client connection with the given id, as found
// in Event.ConnID. Only the master may address connections.
func (i *Instance) SendTo(connID string, msg interface{}) error {
	if i.role != RoleMaster {
		return errors.Wrap(ErrNotMaster, "clients can only send to the master")
	}
	payload, err := i.encode(msg)
	if err != nil {
		return err
	}
	return i.transport.sendTo(connID, payload)
}

// Connections returns the ids of the open connections: every connected
// client for a master, the connection to the master for a client.
func (i *Instance) Connections() []string {
	return i.transport.connections()
}

// Done returns a channel which is closed once Close has completed.
func (i *Instance) Done() <-chan struct{} {
	return i.doneC
}

// Close shuts the instance down. A master stops listening, closes every
// client connection and removes its pid file; a client closes its connection
// to the master. Every step runs even if an earlier one fails, and their
// errors are combined.
// Close is idempotent: later calls do nothing and return nil.
func (i *Instance) Close() error {
	var err error
	i.closeOnce.Do(func() {
		i.l.Info("shutting down")
		if i.transport != nil {
			err = multierr.Append(err, i.transport.close())
		}
		if i.role == RoleMaster && i.detection == DetectPIDFile {
			err = multierr.Append(err, i.coord.ReleaseOwnership())
		}
		close(i.doneC)
	})
	return err
}
