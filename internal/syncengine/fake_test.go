package syncengine

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/comanda/chatsync/internal/cache"
	"github.com/comanda/chatsync/internal/chat"
	"github.com/comanda/chatsync/internal/gateway"
	"github.com/comanda/chatsync/internal/pubsub"
)

type sentFrame struct {
	event   string
	payload any
}

// fakeGateway records outbound requests and lets tests publish inbound
// events the way the connection manager would.
type fakeGateway struct {
	bus       *pubsub.Bus[gateway.Event]
	sent      chan sentFrame
	connected atomic.Bool

	mu      sync.Mutex
	sendErr error
}

func newFakeGateway() *fakeGateway {
	g := &fakeGateway{bus: pubsub.New[gateway.Event](), sent: make(chan sentFrame, 64)}
	g.connected.Store(true)
	return g
}

func (g *fakeGateway) Send(ctx context.Context, event string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.mu.Lock()
	err := g.sendErr
	g.mu.Unlock()
	if err != nil {
		return err
	}
	g.sent <- sentFrame{event: event, payload: payload}
	return nil
}

func (g *fakeGateway) Subscribe(buffer int, dropWhenFull bool) *pubsub.Subscription[gateway.Event] {
	return g.bus.Subscribe(buffer, dropWhenFull)
}

func (g *fakeGateway) IsConnected() bool {
	return g.connected.Load()
}

func (g *fakeGateway) failSends(err error) {
	g.mu.Lock()
	g.sendErr = err
	g.mu.Unlock()
}

func (g *fakeGateway) push(t *testing.T, ev gateway.Event) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, g.bus.Publish(ctx, ev))
}

// expect waits for the next outbound request and checks its event name.
func (g *fakeGateway) expect(t *testing.T, event string) sentFrame {
	t.Helper()
	select {
	case f := <-g.sent:
		require.Equal(t, event, f.event)
		return f
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for outbound %s", event)
		return sentFrame{}
	}
}

func (g *fakeGateway) expectNone(t *testing.T, within time.Duration) {
	t.Helper()
	select {
	case f := <-g.sent:
		t.Fatalf("unexpected outbound %s", f.event)
	case <-time.After(within):
	}
}

func (g *fakeGateway) drain() {
	for {
		select {
		case <-g.sent:
		default:
			return
		}
	}
}

type recordingBot struct {
	calls chan string
}

func (b *recordingBot) Dispatch(ctx context.Context, conversationID string, msg chat.Message) (string, error) {
	b.calls <- conversationID + "/" + msg.ID
	return "ok", nil
}

type testEnv struct {
	engine *Engine
	gw     *fakeGateway
	store  *cache.Store
}

func newTestEnv(t *testing.T, tweak func(*Config)) *testEnv {
	t.Helper()
	gw := newFakeGateway()
	store := cache.New(cache.NewFileBackend(t.TempDir()), cache.Options{Namespace: "test", Logger: zerolog.Nop()})
	cfg := Config{
		PageSize:       50,
		PollInterval:   -1,
		RequestTimeout: time.Second,
		SendTimeout:    time.Second,
		Logger:         zerolog.Nop(),
	}
	if tweak != nil {
		tweak(&cfg)
	}
	e := New(gw, store, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = e.Run(ctx)
	}()
	t.Cleanup(func() {
		_ = e.Close()
		cancel()
		<-done
	})
	return &testEnv{engine: e, gw: gw, store: store}
}

func msg(id string, ts int64, fromMe bool) chat.Message {
	return chat.Message{ID: id, Body: "body " + id, Timestamp: ts, FromMe: fromMe, Kind: chat.KindText}
}

func ids(msgs []chat.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func findConversation(convs []chat.Conversation, id string) (chat.Conversation, bool) {
	for _, c := range convs {
		if c.ID == id {
			return c, true
		}
	}
	return chat.Conversation{}, false
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	t.Cleanup(cancel)
	return ctx
}
