package singleton

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/inconshreveable/log15"
	"k8s.io/utils/clock"
)

var l = log15.New()

func init() {
	l.SetHandler(log15.LvlFilterHandler(log15.LvlWarn, log15.StderrHandler))
}

func tmpDir(t *testing.T) string {
	dir, err := os.MkdirTemp("", "singleton_test")
	if err != nil {
		panic(err)
	}
	t.Cleanup(func() {
		os.RemoveAll(dir)
	})
	return dir
}

func testCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}

// eventRecorder buffers events per type so tests can wait for the ones they
// care about without losing the others.
type eventRecorder struct {
	mu     sync.Mutex
	byType map[EventType]chan Event
}

func newEventRecorder() *eventRecorder {
	return &eventRecorder{byType: make(map[EventType]chan Event)}
}

func (r *eventRecorder) ch(typ EventType) chan Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byType[typ]
	if !ok {
		c = make(chan Event, 1024)
		r.byType[typ] = c
	}
	return c
}

// handle never blocks, so a slow test can't stall a read loop. Events past
// the buffer are dropped.
func (r *eventRecorder) handle(e Event) {
	select {
	case r.ch(e.Type) <- e:
	default:
	}
}

func (r *eventRecorder) wait(t *testing.T, typ EventType) Event {
	t.Helper()
	select {
	case e := <-r.ch(typ):
		return e
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s event", typ)
		return Event{}
	}
}

func (r *eventRecorder) expectNone(t *testing.T, typ EventType, d time.Duration) {
	t.Helper()
	select {
	case e := <-r.ch(typ):
		t.Fatalf("unexpected event: %v", e)
	case <-time.After(d):
	}
}

// startInstance joins name in dir as a process with the given pid, recording
// its events. The instance is closed when the test ends.
func startInstance(t *testing.T, dir, name string, pid int, opts ...Option) (*Instance, *eventRecorder) {
	t.Helper()
	rec := newEventRecorder()
	opts = append([]Option{WithDir(dir), WithLogger(l.New("pid", pid)), WithEventHandler(rec.handle)}, opts...)
	inst, err := newInstance(testCtx(t), clock.RealClock{}, mockOS{pid: pid}, stdEnv, name, opts...)
	if err != nil {
		t.Fatalf("error creating instance: %v", err)
	}
	t.Cleanup(func() {
		inst.Close()
	})
	return inst, rec
}
