package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/mdp/qrterminal/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/comanda/chatsync/internal/bot"
	"github.com/comanda/chatsync/internal/chat"
	"github.com/comanda/chatsync/internal/gateway"
	"github.com/comanda/chatsync/internal/iocontext"
	"github.com/comanda/chatsync/internal/outfmt"
	"github.com/comanda/chatsync/internal/pubsub"
	"github.com/comanda/chatsync/internal/syncengine"
)

func newRunCmd() *cobra.Command {
	var (
		noConsole bool
		noBot     bool
		open      string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Stay connected: show pairing, new messages and run the auto-reply bot",
		Long: strings.TrimSpace(`
Connect to the gateway and keep the back office in sync until interrupted.

Pairing codes are printed (with a QR code on a terminal) when the phone
session needs pairing. New messages in the open conversation are printed
as they arrive; other conversations report unread counts. On an
interactive terminal a console accepts commands (type /help).

With -o jsonl every event is written as one JSON object per line.
`),
		Example: `  chatsync run
  chatsync run --open "Mesa 4"
  chatsync run -o jsonl --no-console`,
		Args: cobra.NoArgs,
		RunE: RunE(func(cmd *cobra.Command, _ []string) error {
			settings, err := loadSettings()
			if err != nil {
				return err
			}
			log := logger(cmd)
			s, err := openSession(settings, log, sessionOptions{withBot: !noBot})
			if err != nil {
				return err
			}
			defer s.close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			ios := iocontext.GetIO(ctx)
			r := &reporter{
				out:     cmd.OutOrStdout(),
				errOut:  cmd.ErrOrStderr(),
				jsonl:   outfmt.IsJSON(ctx),
				qr:      ios.IsTerminal() && !outfmt.IsJSON(ctx),
				engine:  s.engine,
				printed: make(map[string]struct{}),
				seeded:  make(map[string]bool),
				unread:  make(map[string]int),
			}
			interactive := !noConsole && !r.jsonl && ios.InteractiveInput()

			// Subscribe before Initialize so the first events are not missed.
			gwEvents := s.gw.Subscribe(32, true)
			defer gwEvents.Close()
			updates := s.engine.Subscribe(64)
			defer updates.Close()

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				if err := s.engine.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
					return err
				}
				return nil
			})
			g.Go(func() error { return r.watchGateway(gctx, gwEvents, !interactive) })
			g.Go(func() error { return r.watchUpdates(gctx, updates) })
			if s.responder != nil && settings.Bot.RulesFile != "" {
				g.Go(func() error { return bot.WatchRules(gctx, settings.Bot.RulesFile, s.responder, log) })
			}
			if interactive {
				c := newConsole(s, r, ios.In)
				g.Go(func() error { return c.run(gctx) })
			}
			g.Go(func() error {
				if err := s.gw.Initialize(gctx); err != nil {
					return fmt.Errorf("connect to %s: %w", s.creds.GatewayURL, err)
				}
				if open == "" {
					return nil
				}
				if err := s.gw.WaitConnected(gctx); err != nil {
					return nil // reported by watchGateway
				}
				if err := openConversation(gctx, s, r, open); err != nil {
					r.reportError(err)
				}
				return nil
			})

			err = g.Wait()
			if errors.Is(err, errQuit) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}),
	}
	cmd.Flags().BoolVar(&noConsole, "no-console", false, "Do not read commands from stdin")
	cmd.Flags().BoolVar(&noBot, "no-bot", false, "Do not run the auto-reply bot")
	cmd.Flags().StringVar(&open, "open", "", "Conversation to open once connected")
	return cmd
}

// reporter prints gateway and engine events for the operator. Writes from
// the console and the watchers are serialized through mu.
type reporter struct {
	mu     sync.Mutex
	out    io.Writer
	errOut io.Writer
	jsonl  bool
	qr     bool
	engine *syncengine.Engine

	printed map[string]struct{}
	seeded  map[string]bool
	unread  map[string]int
	lastErr string
}

func (r *reporter) printf(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, _ = fmt.Fprintf(r.out, format, args...)
}

func (r *reporter) emit(v map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_ = outfmt.WriteJSONLine(r.out, v)
}

// watchGateway reports connection events. When exitOnExhausted is set the
// run ends once reconnects are exhausted; with a console the operator can
// reconnect by hand instead.
func (r *reporter) watchGateway(ctx context.Context, sub *pubsub.Subscription[gateway.Event], exitOnExhausted bool) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sub.C:
			if !ok {
				return nil
			}
			switch ev := ev.(type) {
			case gateway.PairingCodeAvailable:
				r.pairing(ev.Code)
			case gateway.Connected:
				if r.jsonl {
					r.emit(map[string]any{"type": "connected", "name": ev.Info.Name, "phone": ev.Info.Phone, "platform": ev.Info.Platform})
				} else {
					r.printf("Connected as %s (%s)\n", orDash(ev.Info.Name), orDash(ev.Info.Phone))
				}
			case gateway.Disconnected:
				if r.jsonl {
					r.emit(map[string]any{"type": "disconnected", "reason": ev.Reason})
				} else {
					r.printf("Disconnected: %s\n", orDash(ev.Reason))
				}
			case gateway.Reconnecting:
				if r.jsonl {
					r.emit(map[string]any{"type": "reconnecting", "attempt": ev.Attempt, "delayMs": ev.Delay.Milliseconds()})
				} else {
					r.printf("Reconnecting (attempt %d in %s)\n", ev.Attempt, ev.Delay)
				}
			case gateway.ReconnectExhausted:
				if r.jsonl {
					r.emit(map[string]any{"type": "reconnect_exhausted", "attempts": ev.Attempts})
				} else {
					r.printf("Gave up reconnecting after %d attempts\n", ev.Attempts)
				}
				if exitOnExhausted {
					return fmt.Errorf("%w after %d attempts", gateway.ErrReconnectExhausted, ev.Attempts)
				}
			}
		}
	}
}

func (r *reporter) pairing(code string) {
	if r.jsonl {
		r.emit(map[string]any{"type": "pairing", "code": code})
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, _ = fmt.Fprintf(r.out, "Pairing code: %s\n", code)
	if r.qr {
		qrterminal.GenerateHalfBlock(code, qrterminal.L, r.out)
	}
	_, _ = fmt.Fprintln(r.out, "Scan or enter the code on the restaurant phone to pair.")
}

func (r *reporter) watchUpdates(ctx context.Context, sub *pubsub.Subscription[syncengine.Update]) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case u, ok := <-sub.C:
			if !ok {
				return nil
			}
			switch u.Kind {
			case syncengine.MessagesChanged:
				if u.ConversationID == r.engine.ActiveConversation() {
					r.newMessages(u.ConversationID)
				}
			case syncengine.ConversationsChanged:
				r.unreadChanges()
			case syncengine.StatusUpdated:
				r.statusError()
			}
		}
	}
}

// newMessages prints confirmed messages of id not printed yet. The first
// delivery for a conversation only records what is there; history is shown
// by openConversation.
func (r *reporter) newMessages(id string) {
	msgs := r.engine.Messages(id)
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.seeded[id] {
		r.seeded[id] = true
		for _, m := range msgs {
			if !m.Provisional() {
				r.printed[m.ID] = struct{}{}
			}
		}
		return
	}
	for _, m := range msgs {
		if m.Provisional() {
			continue
		}
		if _, done := r.printed[m.ID]; done {
			continue
		}
		r.printed[m.ID] = struct{}{}
		r.writeMessageLocked(id, m)
	}
}

func (r *reporter) writeMessageLocked(id string, m chat.Message) {
	if r.jsonl {
		_ = outfmt.WriteJSONLine(r.out, map[string]any{"type": "message", "conversationId": id, "message": m})
		return
	}
	_, _ = fmt.Fprintf(r.out, "[%s] %s: %s\n", formatMillis(m.Timestamp), sender(m), m.Summary())
}

// showHistory prints the last n messages of id and marks the window seen.
func (r *reporter) showHistory(id string, n int) {
	msgs := r.engine.Messages(id)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seeded[id] = true
	start := 0
	if n > 0 && len(msgs) > n {
		start = len(msgs) - n
	}
	for i, m := range msgs {
		if !m.Provisional() {
			r.printed[m.ID] = struct{}{}
		}
		if i >= start {
			r.writeMessageLocked(id, m)
		}
	}
}

// unreadChanges reports conversations whose unread count went up.
func (r *reporter) unreadChanges() {
	snap := r.engine.Snapshot()
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range snap.Conversations {
		prev, known := r.unread[c.ID]
		r.unread[c.ID] = c.UnreadCount
		if !known || c.UnreadCount <= prev || c.ID == snap.ActiveID {
			continue
		}
		if r.jsonl {
			_ = outfmt.WriteJSONLine(r.out, map[string]any{"type": "unread", "conversationId": c.ID, "name": c.DisplayName, "unread": c.UnreadCount, "last": c.LastMessageSummary})
			continue
		}
		_, _ = fmt.Fprintf(r.out, "* %s (%d unread): %s\n", conversationName(c), c.UnreadCount, truncate(c.LastMessageSummary, 60))
	}
}

func (r *reporter) statusError() {
	snap := r.engine.Snapshot()
	msg := ""
	if snap.Err != nil {
		msg = snap.Err.Error()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if msg == r.lastErr {
		return
	}
	r.lastErr = msg
	if msg == "" {
		return
	}
	if r.jsonl {
		_ = outfmt.WriteJSONLine(r.out, map[string]any{"type": "error", "error": msg})
		return
	}
	_, _ = fmt.Fprintf(r.errOut, "Error: %s\n", msg)
}

func conversationName(c chat.Conversation) string {
	if strings.TrimSpace(c.DisplayName) != "" {
		return c.DisplayName
	}
	return c.ID
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

// openConversation resolves query, selects it and prints its recent history.
func openConversation(ctx context.Context, s *session, r *reporter, query string) error {
	opCtx, cancel := context.WithTimeout(ctx, flags.Timeout)
	defer cancel()
	id, err := resolveConversation(opCtx, s, query)
	if err != nil {
		return err
	}
	if err := s.engine.SelectConversation(opCtx, id); err != nil {
		return err
	}
	name := id
	for _, c := range s.engine.Snapshot().Conversations {
		if c.ID == id {
			name = conversationName(c)
			break
		}
	}
	if !r.jsonl {
		r.printf("== %s ==\n", name)
	}
	r.showHistory(id, historyLines)
	return nil
}

const historyLines = 20
