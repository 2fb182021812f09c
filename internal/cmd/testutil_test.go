package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/comanda/chatsync/internal/chat"
	"github.com/comanda/chatsync/internal/iocontext"
)

// setupTestEnv isolates a test from the user's config, keyring and cache
// and returns the temp dir everything lives under.
func setupTestEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))
	t.Setenv("XDG_CACHE_HOME", filepath.Join(dir, "cache"))
	t.Setenv("CHATSYNC_CONFIG", filepath.Join(dir, "chatsync.yaml"))
	t.Setenv("CHATSYNC_CACHE_DIR", filepath.Join(dir, "cache", "chatsync"))
	t.Setenv("CHATSYNC_KEYRING_BACKEND", "file")
	t.Setenv("CHATSYNC_CREDENTIALS_DIR", filepath.Join(dir, "credentials"))
	t.Setenv("CHATSYNC_KEYRING_PASSWORD", "test-password")
	t.Setenv("CHATSYNC_OUTPUT", "text")
	for _, k := range []string{
		"CHATSYNC_GATEWAY_URL", "CHATSYNC_TOKEN", "CHATSYNC_PROFILE", "CHATSYNC_NO_CACHE",
		"CHATSYNC_CACHE_BACKEND", "CHATSYNC_REDIS_URL", "CHATSYNC_BOT_ENABLED", "CHATSYNC_POLL_INTERVAL",
	} {
		t.Setenv(k, "")
	}
	return dir
}

// execute runs the CLI with in-memory streams.
func execute(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	var out, errOut bytes.Buffer
	ctx := iocontext.WithIO(context.Background(), &iocontext.IO{
		In:     strings.NewReader(""),
		Out:    &out,
		ErrOut: &errOut,
	})
	err = Execute(ctx, args)
	return out.String(), errOut.String(), err
}

type wireFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// fakeGateway speaks the gateway protocol over a real WebSocket.
type fakeGateway struct {
	t      *testing.T
	server *httptest.Server
	token  string

	mu            sync.Mutex
	unpaired      bool
	conversations []chat.Conversation
	messages      map[string][]chat.Message
	sent          []map[string]any
	nextID        int
	conns         []*websocket.Conn
}

func newFakeGateway(t *testing.T) *fakeGateway {
	t.Helper()
	g := &fakeGateway{
		t:     t,
		token: "test-token",
		conversations: []chat.Conversation{
			{ID: "5511999990001@c.us", DisplayName: "Mesa 4", UnreadCount: 2, LastMessageSummary: "Una pizza más", UpdatedAt: 1_700_000_300_000},
			{ID: "5511999990002@c.us", DisplayName: "Delivery Centro", UpdatedAt: 1_700_000_200_000},
			{ID: "120363000000000001@g.us", DisplayName: "Cocina", IsGroup: true, UpdatedAt: 1_700_000_100_000},
		},
		messages: map[string][]chat.Message{
			"5511999990001@c.us": {
				{ID: "m1", Body: "Hola, ¿tienen mesa?", Timestamp: 1_700_000_000_000, Kind: chat.KindText},
				{ID: "m2", Body: "Sí, pase", Timestamp: 1_700_000_100_000, FromMe: true, Kind: chat.KindText},
				{ID: "m3", Body: "Una pizza más", Timestamp: 1_700_000_300_000, Kind: chat.KindText},
			},
		},
	}
	g.server = httptest.NewServer(http.HandlerFunc(g.serve))
	t.Cleanup(g.server.Close)
	return g
}

func (g *fakeGateway) url() string {
	return "ws" + strings.TrimPrefix(g.server.URL, "http")
}

// useEnv points the CLI at the fake gateway through the environment.
func (g *fakeGateway) useEnv(t *testing.T) {
	t.Helper()
	t.Setenv("CHATSYNC_GATEWAY_URL", g.url())
	t.Setenv("CHATSYNC_TOKEN", g.token)
}

func (g *fakeGateway) sentMessages() []map[string]any {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]map[string]any(nil), g.sent...)
}

// push delivers an unsolicited message-pushed to every open connection.
func (g *fakeGateway) push(t *testing.T, conversationID string, msg chat.Message) {
	t.Helper()
	g.mu.Lock()
	g.messages[conversationID] = append(g.messages[conversationID], msg)
	conns := append([]*websocket.Conn(nil), g.conns...)
	g.mu.Unlock()

	raw, err := json.Marshal(map[string]any{
		"event": "message-pushed",
		"data":  map[string]any{"conversationId": conversationID, "message": msg},
	})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for _, c := range conns {
		_ = c.Write(ctx, websocket.MessageText, raw)
	}
}

// syncBuffer is a bytes.Buffer safe for a writer goroutine and a reader.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func (g *fakeGateway) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		g.t.Errorf("accept: %v", err)
		return
	}
	defer func() { _ = conn.CloseNow() }()
	ctx := r.Context()

	g.mu.Lock()
	g.conns = append(g.conns, conn)
	g.mu.Unlock()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var f wireFrame
		if err := json.Unmarshal(data, &f); err != nil {
			g.t.Errorf("bad frame %q: %v", data, err)
			return
		}
		for _, reply := range g.respond(f) {
			raw, err := json.Marshal(reply)
			if err != nil {
				g.t.Errorf("marshal reply: %v", err)
				return
			}
			if err := conn.Write(ctx, websocket.MessageText, raw); err != nil {
				return
			}
		}
	}
}

func (g *fakeGateway) respond(f wireFrame) []map[string]any {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch f.Event {
	case "connect-session":
		var req struct {
			Token string `json:"token"`
		}
		_ = json.Unmarshal(f.Data, &req)
		if req.Token != g.token {
			return []map[string]any{{"event": "session-status", "data": map[string]any{"connected": false}}}
		}
		if g.unpaired {
			return []map[string]any{{"event": "pairing-code", "data": "2@ABCDEF"}}
		}
		return []map[string]any{{"event": "session-status", "data": map[string]any{
			"connected":  true,
			"clientInfo": map[string]any{"name": "Cantina Comanda", "phone": "5511999990000", "gatewayVersion": "1.6.0"},
		}}}

	case "get-conversations":
		return []map[string]any{{"event": "conversations-data", "data": map[string]any{
			"success": true, "conversations": g.conversations,
		}}}

	case "get-messages":
		var req struct {
			ConversationID string `json:"conversationId"`
		}
		_ = json.Unmarshal(f.Data, &req)
		msgs := g.messages[req.ConversationID]
		if msgs == nil {
			msgs = []chat.Message{}
		}
		return []map[string]any{{"event": "messages-data", "data": map[string]any{
			"success": true, "conversationId": req.ConversationID, "messages": msgs,
		}}}

	case "send-message":
		var req map[string]any
		_ = json.Unmarshal(f.Data, &req)
		g.sent = append(g.sent, req)
		id, _ := req["conversationId"].(string)
		body, _ := req["body"].(string)
		g.nextID++
		msgID := "srv-" + strconv.Itoa(g.nextID)
		g.messages[id] = append(g.messages[id], chat.Message{
			ID: msgID, Body: body, Timestamp: time.Now().UnixMilli(), FromMe: true, Kind: chat.KindText,
		})
		return []map[string]any{{"event": "message-send-ack", "data": map[string]any{
			"success": true, "conversationId": id, "messageId": msgID, "clientRef": req["clientRef"],
		}}}
	}
	return nil
}
