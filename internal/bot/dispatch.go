package bot

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/comanda/chatsync/internal/chat"
	"github.com/comanda/chatsync/internal/gateway"
)

const (
	DefaultMinDelay = 2 * time.Second
	DefaultMaxDelay = 6 * time.Second
)

// ClientRefPrefix marks sends made by the bot so their acknowledgements are
// not mistaken for the operator's.
const ClientRefPrefix = "bot-"

// Sender writes the reply. The sync engine's ReplySender also waits for
// the gateway's acknowledgement.
type Sender interface {
	Send(ctx context.Context, event string, payload any) error
}

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	// MinDelay and MaxDelay bound the pause before replying, so replies do
	// not look instantaneous.
	MinDelay time.Duration
	MaxDelay time.Duration
	Logger   zerolog.Logger
	// Sleep waits for d or until ctx ends; overridable in tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Dispatcher sends automatic replies.
type Dispatcher struct {
	gate      *Gate
	responder *Responder
	sender    Sender
	minDelay  time.Duration
	maxDelay  time.Duration
	sleep     func(ctx context.Context, d time.Duration) error
	log       zerolog.Logger
}

// NewDispatcher wires a gate, a responder and a sender.
func NewDispatcher(gate *Gate, responder *Responder, sender Sender, cfg DispatcherConfig) *Dispatcher {
	if cfg.MinDelay < 0 {
		cfg.MinDelay = 0
	}
	if cfg.MaxDelay < cfg.MinDelay {
		cfg.MaxDelay = cfg.MinDelay
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleep
	}
	return &Dispatcher{
		gate:      gate,
		responder: responder,
		sender:    sender,
		minDelay:  cfg.MinDelay,
		maxDelay:  cfg.MaxDelay,
		sleep:     cfg.Sleep,
		log:       cfg.Logger.With().Str("component", "bot").Logger(),
	}
}

// Dispatch waits a random delay, re-checks the gate and sends the generated
// reply. It returns the text sent, or "" when the gate closed during the
// delay or no reply applies.
func (d *Dispatcher) Dispatch(ctx context.Context, conversationID string, msg chat.Message) (string, error) {
	reply, rule := d.responder.Match(msg.Body)
	if reply == "" {
		return "", nil
	}
	if err := d.sleep(ctx, d.delay()); err != nil {
		return "", err
	}
	if !d.gate.IsEligible(conversationID, msg) {
		d.log.Debug().Str("conversation", conversationID).Msg("no longer eligible, skipping reply")
		return "", nil
	}

	req := gateway.SendMessageRequest{
		ConversationID: conversationID,
		Body:           reply,
		ClientRef:      ClientRefPrefix + uuid.NewString(),
	}
	if err := d.sender.Send(ctx, gateway.EventSendMessage, req); err != nil {
		return "", fmt.Errorf("auto-reply to %s: %w", conversationID, err)
	}
	d.log.Info().Str("conversation", conversationID).Str("rule", rule).Msg("auto-reply sent")
	return reply, nil
}

func (d *Dispatcher) delay() time.Duration {
	span := d.maxDelay - d.minDelay
	if span <= 0 {
		return d.minDelay
	}
	return d.minDelay + rand.N(span+1)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
