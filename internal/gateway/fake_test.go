package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/comanda/chatsync/internal/pubsub"
)

var errConnClosed = errors.New("fake: connection closed")

// fakeConn is an in-memory Conn. Tests push inbound frames with deliver and
// read what the manager wrote from out.
type fakeConn struct {
	in     chan []byte
	out    chan frame
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 16),
		out:    make(chan frame, 64),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case data := <-c.in:
		return data, nil
	case <-c.closed:
		return nil, errConnClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) Write(ctx context.Context, data []byte) error {
	select {
	case <-c.closed:
		return errConnClosed
	default:
	}
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	select {
	case c.out <- f:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) deliver(t *testing.T, event string, payload any) {
	t.Helper()
	data, err := encodeFrame(event, payload)
	if err != nil {
		t.Fatalf("encode %s: %v", event, err)
	}
	c.in <- data
}

func (c *fakeConn) expect(t *testing.T, event string) frame {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case f := <-c.out:
			if f.Event == event {
				return f
			}
		case <-timeout:
			t.Fatalf("timed out waiting for outbound %s", event)
			return frame{}
		}
	}
}

// fakeDialer hands out fresh fakeConns, or fails while fail is set.
type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	fail  bool
	dials chan *fakeConn
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{dials: make(chan *fakeConn, 16)}
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail {
		return nil, errors.New("fake: dial refused")
	}
	c := newFakeConn()
	d.conns = append(d.conns, c)
	d.dials <- c
	return c, nil
}

func (d *fakeDialer) setFail(fail bool) {
	d.mu.Lock()
	d.fail = fail
	d.mu.Unlock()
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

func (d *fakeDialer) next(t *testing.T) *fakeConn {
	t.Helper()
	select {
	case c := <-d.dials:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dial")
		return nil
	}
}

// waitEvent drains sub until an event of type T arrives.
func waitEvent[T Event](t *testing.T, sub *pubsub.Subscription[Event]) T {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-sub.C:
			if !ok {
				t.Fatal("subscription closed")
			}
			if v, ok := ev.(T); ok {
				return v
			}
		case <-timeout:
			var zero T
			t.Fatalf("timed out waiting for %T", zero)
			return zero
		}
	}
}

func waitState(t *testing.T, m *Manager, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state = %v, want %v", m.State(), want)
}
