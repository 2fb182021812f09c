package cmd

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/comanda/chatsync/internal/chat"
	"github.com/comanda/chatsync/internal/iocontext"
)

// startRun runs `chatsync run` with args until the returned stop is called.
func startRun(t *testing.T, args ...string) (out *syncBuffer, stop func() error) {
	t.Helper()
	out = &syncBuffer{}
	errOut := &syncBuffer{}
	ctx, cancel := context.WithCancel(context.Background())
	ctx = iocontext.WithIO(ctx, &iocontext.IO{In: strings.NewReader(""), Out: out, ErrOut: errOut})

	done := make(chan error, 1)
	go func() { done <- Execute(ctx, append([]string{"run"}, args...)) }()

	stopped := false
	stop = func() error {
		if stopped {
			return nil
		}
		stopped = true
		cancel()
		select {
		case err := <-done:
			return err
		case <-time.After(5 * time.Second):
			t.Fatalf("run did not stop; stderr: %s", errOut.String())
			return nil
		}
	}
	t.Cleanup(func() { _ = stop() })
	return out, stop
}

func TestRun_StreamsEventsAsJSONL(t *testing.T) {
	setupTestEnv(t)
	gw := newFakeGateway(t)
	gw.useEnv(t)

	out, stop := startRun(t, "-o", "jsonl", "--no-bot", "--open", "Mesa 4")

	waitFor(t, "connected event", func() bool { return strings.Contains(out.String(), `"type":"connected"`) })
	waitFor(t, "history", func() bool { return strings.Contains(out.String(), "Una pizza más") })

	gw.push(t, "5511999990001@c.us", chat.Message{ID: "m4", Body: "¿Me traen la cuenta?", Timestamp: time.Now().UnixMilli(), Kind: chat.KindText})
	waitFor(t, "pushed message", func() bool { return strings.Contains(out.String(), "¿Me traen la cuenta?") })

	gw.push(t, "5511999990002@c.us", chat.Message{ID: "d1", Body: "Quiero pedir", Timestamp: time.Now().UnixMilli(), Kind: chat.KindText})
	waitFor(t, "unread notice", func() bool {
		return strings.Contains(out.String(), `"type":"unread"`) && strings.Contains(out.String(), "Quiero pedir")
	})

	if err := stop(); err != nil {
		t.Fatalf("run returned %v, want nil on cancel", err)
	}
	if n := strings.Count(out.String(), "¿Me traen la cuenta?"); n != 1 {
		t.Errorf("pushed message printed %d times, want 1", n)
	}
}

func TestRun_ShowsPairingCode(t *testing.T) {
	setupTestEnv(t)
	gw := newFakeGateway(t)
	gw.unpaired = true
	gw.useEnv(t)

	out, stop := startRun(t, "--no-bot")
	waitFor(t, "pairing code", func() bool { return strings.Contains(out.String(), "Pairing code: 2@ABCDEF") })
	if err := stop(); err != nil {
		t.Fatalf("run returned %v", err)
	}
}

func TestRun_BotAnswersOptedInConversation(t *testing.T) {
	dir := setupTestEnv(t)
	writeSettings(t, dir, `
bot:
  enabled: true
  opt_in: ["5511999990002@c.us"]
  min_delay: 1ms
  max_delay: 2ms
`)
	gw := newFakeGateway(t)
	gw.useEnv(t)

	out, stop := startRun(t, "-o", "jsonl")
	waitFor(t, "connected event", func() bool { return strings.Contains(out.String(), `"type":"connected"`) })

	gw.push(t, "5511999990002@c.us", chat.Message{ID: "d2", Body: "¿Tienen MENÚ del día?", Timestamp: time.Now().UnixMilli(), Kind: chat.KindText})
	gw.push(t, "5511999990001@c.us", chat.Message{ID: "m5", Body: "¿Tienen menú?", Timestamp: time.Now().UnixMilli(), Kind: chat.KindText})

	waitFor(t, "auto reply", func() bool { return len(gw.sentMessages()) > 0 })
	// Give a wrongly-gated reply to the other conversation time to show up.
	time.Sleep(100 * time.Millisecond)

	sent := gw.sentMessages()
	if len(sent) != 1 {
		t.Fatalf("gateway received %d sends, want 1: %v", len(sent), sent)
	}
	if sent[0]["conversationId"] != "5511999990002@c.us" {
		t.Errorf("reply went to %v", sent[0]["conversationId"])
	}
	if body, _ := sent[0]["body"].(string); !strings.Contains(body, "carta") {
		t.Errorf("reply body = %q, want the menu rule", body)
	}
	if err := stop(); err != nil {
		t.Fatalf("run returned %v", err)
	}
}
