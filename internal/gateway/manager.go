// Package gateway owns the single duplex connection to the messaging
// gateway: it drives the session state machine, publishes pairing codes and
// inbound domain events, and reconnects with bounded exponential backoff.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/comanda/chatsync/internal/pubsub"
	"github.com/comanda/chatsync/internal/update"
)

const (
	DefaultMaxReconnectAttempts = 5
	DefaultReconnectBaseDelay   = time.Second
	DefaultReconnectMaxDelay    = 30 * time.Second
	DefaultDisconnectDebounce   = 2 * time.Second
)

var (
	// ErrNotConnected is returned by Send when no session is live.
	ErrNotConnected = errors.New("gateway: not connected")
	// ErrReconnectExhausted is reported by Err after every reconnect attempt
	// failed. It clears on the next Initialize.
	ErrReconnectExhausted = errors.New("gateway: reconnect attempts exhausted")
	// ErrClosed is returned once the manager has been closed.
	ErrClosed = errors.New("gateway: manager closed")
)

// Config configures a Manager. Zero durations and counts take the defaults
// above.
type Config struct {
	URL    string
	Token  string
	Client string

	// MaxReconnectAttempts bounds automatic reconnects; negative means
	// unbounded.
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	// DisconnectDebounce delays the observable connected flag going false.
	DisconnectDebounce time.Duration
	// MinGatewayVersion is the oldest gateway this build is tested against.
	// Older gateways are logged, not rejected.
	MinGatewayVersion string

	Dialer Dialer
	Logger zerolog.Logger
}

func (c *Config) applyDefaults() {
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.ReconnectBaseDelay <= 0 {
		c.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.ReconnectMaxDelay <= 0 {
		c.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.DisconnectDebounce <= 0 {
		c.DisconnectDebounce = DefaultDisconnectDebounce
	}
	if c.Dialer == nil {
		c.Dialer = &WebSocketDialer{}
	}
}

// Manager owns the gateway connection. No other component mutates its state;
// they observe it through State, IsConnected and Subscribe.
type Manager struct {
	cfg Config
	log zerolog.Logger
	bus *pubsub.Bus[Event]

	// life bounds publishes made from timers and the read loop.
	life       context.Context
	lifeCancel context.CancelFunc

	writeMu sync.Mutex

	mu          sync.Mutex
	state       State
	conn        Conn
	online      bool // debounced view of state == StateConnected
	offline     *time.Timer
	pairingCode string
	info        *ClientInfo
	err         error
	loopCancel  context.CancelFunc
	loopDone    chan struct{}
	changed     chan struct{}
	recon       *reconnector
	closed      bool
}

// New returns a disconnected Manager. Call Initialize to connect.
func New(cfg Config) *Manager {
	cfg.applyDefaults()
	life, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:        cfg,
		log:        cfg.Logger.With().Str("component", "gateway").Logger(),
		bus:        pubsub.New[Event](),
		life:       life,
		lifeCancel: cancel,
		changed:    make(chan struct{}),
		recon:      newReconnector(cfg.ReconnectBaseDelay, cfg.ReconnectMaxDelay, cfg.MaxReconnectAttempts),
	}
}

// Subscribe returns a subscription to every event the manager publishes.
// A blocking subscriber (dropWhenFull false) must keep draining C or it
// stalls the read loop.
func (m *Manager) Subscribe(buffer int, dropWhenFull bool) *pubsub.Subscription[Event] {
	return m.bus.Subscribe(buffer, dropWhenFull)
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsConnected returns the debounced connected flag.
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// PairingCode returns the pending pairing code, or "" when none is pending.
func (m *Manager) PairingCode() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pairingCode
}

// ClientInfo returns the paired account info, or nil before pairing.
func (m *Manager) ClientInfo() *ClientInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.info == nil {
		return nil
	}
	info := *m.info
	return &info
}

// Err returns ErrReconnectExhausted after reconnects ran out, else nil.
func (m *Manager) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// Initialize dials the gateway and opens a session. It is a no-op while the
// manager is connecting, awaiting pairing or connected, and while a
// reconnect is pending: the running loop owns the connection until it
// succeeds, gives up or is torn down. A failed first dial is returned to the
// caller and does not trigger automatic reconnects.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.state.active() || m.loopCancel != nil {
		m.mu.Unlock()
		return nil
	}
	m.err = nil
	m.recon.reset()
	events := m.setStateLocked(StateConnecting)
	m.mu.Unlock()
	m.publish(events...)

	conn, err := m.open(ctx)
	if err != nil {
		m.mu.Lock()
		events := m.setStateLocked(StateDisconnected)
		m.mu.Unlock()
		m.publish(events...)
		return err
	}

	loopCtx, cancel := context.WithCancel(m.life)
	done := make(chan struct{})

	m.mu.Lock()
	m.conn = conn
	m.loopCancel = cancel
	m.loopDone = done
	m.mu.Unlock()

	go m.loop(loopCtx, conn, done)
	return nil
}

// open dials and sends connect-session.
func (m *Manager) open(ctx context.Context) (Conn, error) {
	conn, err := m.cfg.Dialer.Dial(ctx, m.cfg.URL)
	if err != nil {
		return nil, err
	}
	req := ConnectSessionRequest{Token: m.cfg.Token, Client: m.cfg.Client}
	if err := m.write(ctx, conn, EventConnectSession, req); err != nil {
		_ = conn.Close()
		return nil, err
	}
	m.log.Debug().Str("url", m.cfg.URL).Msg("session requested")
	return conn, nil
}

// Teardown ends the session: it sends disconnect-session, stops the read
// loop and reconnects, clears pairing state and drops the connected flag
// without debounce.
func (m *Manager) Teardown(ctx context.Context) error {
	m.mu.Lock()
	conn := m.conn
	cancel := m.loopCancel
	done := m.loopDone
	wasActive := m.state.active()
	m.mu.Unlock()

	if conn != nil {
		if err := m.write(ctx, conn, EventDisconnectSession, nil); err != nil {
			m.log.Debug().Err(err).Msg("disconnect-session not delivered")
		}
	}
	if cancel != nil {
		cancel()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if conn != nil {
		_ = conn.Close()
	}

	m.mu.Lock()
	m.conn = nil
	m.loopCancel = nil
	m.loopDone = nil
	m.pairingCode = ""
	m.info = nil
	events := m.setStateLocked(StateDisconnected)
	if ev, ok := m.setOnlineLocked(false); ok {
		events = append(events, ev)
	}
	m.mu.Unlock()

	if wasActive {
		events = append([]Event{Disconnected{Reason: "teardown"}}, events...)
	}
	m.publishCtx(ctx, events...)
	return nil
}

// Send writes one event to the gateway. It fails with ErrNotConnected
// unless the session is live.
func (m *Manager) Send(ctx context.Context, event string, payload any) error {
	m.mu.Lock()
	conn := m.conn
	live := m.state == StateConnected
	m.mu.Unlock()
	if !live || conn == nil {
		return ErrNotConnected
	}
	if err := m.write(ctx, conn, event, payload); err != nil {
		return fmt.Errorf("send %s: %w", event, err)
	}
	return nil
}

// WaitConnected blocks until the session is live, reconnects are exhausted,
// or ctx ends.
func (m *Manager) WaitConnected(ctx context.Context) error {
	for {
		m.mu.Lock()
		state, err, changed := m.state, m.err, m.changed
		closed := m.closed
		m.mu.Unlock()

		switch {
		case state == StateConnected:
			return nil
		case err != nil:
			return err
		case closed:
			return ErrClosed
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close tears the session down and ends every subscription.
func (m *Manager) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := m.Teardown(ctx)

	m.mu.Lock()
	m.closed = true
	if m.offline != nil {
		m.offline.Stop()
		m.offline = nil
	}
	close(m.changed)
	m.changed = make(chan struct{})
	m.mu.Unlock()

	m.lifeCancel()
	m.bus.Close()
	return err
}

func (m *Manager) write(ctx context.Context, conn Conn, event string, payload any) error {
	data, err := encodeFrame(event, payload)
	if err != nil {
		return err
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return conn.Write(ctx, data)
}

// loop reads until the transport drops, then reconnects. It exits when ctx
// is cancelled or reconnects run out.
func (m *Manager) loop(ctx context.Context, conn Conn, done chan struct{}) {
	defer close(done)
	for {
		err := m.readLoop(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return
		}
		m.lost(ctx, err)

		conn, err = m.reconnect(ctx)
		if err != nil {
			return
		}
	}
}

func (m *Manager) readLoop(ctx context.Context, conn Conn) error {
	for {
		data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			m.log.Debug().Err(err).Msg("skipping malformed frame")
			continue
		}
		m.handle(ctx, f)
	}
}

func (m *Manager) lost(ctx context.Context, err error) {
	reason := "transport closed"
	if err != nil {
		reason = err.Error()
	}
	m.log.Warn().Str("reason", reason).Msg("gateway connection lost")

	m.mu.Lock()
	m.conn = nil
	m.pairingCode = ""
	events := m.setStateLocked(StateDisconnected)
	m.scheduleOfflineLocked()
	m.mu.Unlock()

	m.publishCtx(ctx, append([]Event{Disconnected{Reason: reason}}, events...)...)
}

// reconnect redials with backoff until a dial succeeds, attempts run out or
// ctx ends.
func (m *Manager) reconnect(ctx context.Context) (Conn, error) {
	var lastErr error
	for {
		m.mu.Lock()
		if !m.recon.shouldReconnect() {
			attempts := m.recon.attempt
			cancel := m.loopCancel
			m.err = ErrReconnectExhausted
			m.conn = nil
			m.loopCancel = nil
			m.loopDone = nil
			m.notifyLocked()
			m.mu.Unlock()

			m.log.Error().Err(lastErr).Int("attempts", attempts).Msg("giving up on gateway")
			m.publishCtx(ctx, ReconnectExhausted{Attempts: attempts, Err: lastErr})
			if cancel != nil {
				cancel()
			}
			return nil, ErrReconnectExhausted
		}
		delay := m.recon.nextDelay()
		attempt := m.recon.attempt
		m.mu.Unlock()

		m.log.Info().Int("attempt", attempt).Dur("delay", delay).Msg("reconnecting")
		m.publishCtx(ctx, Reconnecting{Attempt: attempt, Delay: delay})

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}

		m.mu.Lock()
		events := m.setStateLocked(StateConnecting)
		m.mu.Unlock()
		m.publishCtx(ctx, events...)

		conn, err := m.open(ctx)
		if err != nil {
			lastErr = err
			m.log.Debug().Err(err).Int("attempt", attempt).Msg("reconnect failed")
			m.mu.Lock()
			events := m.setStateLocked(StateDisconnected)
			m.mu.Unlock()
			m.publishCtx(ctx, events...)
			continue
		}

		m.mu.Lock()
		if ctx.Err() != nil {
			m.mu.Unlock()
			_ = conn.Close()
			return nil, ctx.Err()
		}
		m.conn = conn
		m.mu.Unlock()
		return conn, nil
	}
}

func (m *Manager) handle(ctx context.Context, f frame) {
	switch f.Event {
	case EventPairingCode:
		code, err := decodePairingCode(f.Data)
		if err != nil || code == "" {
			m.log.Debug().Err(err).Msg("ignoring empty pairing code")
			return
		}
		m.mu.Lock()
		m.pairingCode = code
		var events []Event
		if m.state != StateConnected {
			events = m.setStateLocked(StateAwaitingPairing)
		}
		m.mu.Unlock()
		m.publishCtx(ctx, append([]Event{PairingCodeAvailable{Code: code}}, events...)...)

	case EventSessionStatus:
		var st sessionStatus
		if err := json.Unmarshal(f.Data, &st); err != nil {
			m.log.Debug().Err(err).Msg("bad session-status payload")
			return
		}
		m.handleSessionStatus(ctx, st)

	case EventConversationsData:
		var p conversationsData
		if err := json.Unmarshal(f.Data, &p); err != nil {
			m.publishCtx(ctx, ConversationsData{Error: fmt.Sprintf("decode conversations: %v", err)})
			return
		}
		m.publishCtx(ctx, ConversationsData(p))

	case EventMessagesData:
		var p messagesData
		if err := json.Unmarshal(f.Data, &p); err != nil {
			m.log.Debug().Err(err).Msg("bad messages-data payload")
			// The conversation id may still be recoverable for the waiter.
			var idOnly struct {
				ConversationID string `json:"conversationId"`
			}
			_ = json.Unmarshal(f.Data, &idOnly)
			m.publishCtx(ctx, MessagesData{ConversationID: idOnly.ConversationID, Error: fmt.Sprintf("decode messages: %v", err)})
			return
		}
		m.publishCtx(ctx, MessagesData(p))

	case EventMessagePushed:
		var p messagePushed
		if err := json.Unmarshal(f.Data, &p); err != nil || p.ConversationID == "" || p.Message.ID == "" {
			m.log.Debug().Err(err).Msg("ignoring malformed push")
			return
		}
		m.publishCtx(ctx, MessagePushed(p))

	case EventMessageSendAck:
		var p sendAck
		if err := json.Unmarshal(f.Data, &p); err != nil {
			m.log.Debug().Err(err).Msg("bad message-send-ack payload")
			return
		}
		m.publishCtx(ctx, SendAck(p))

	default:
		m.log.Debug().Str("event", f.Event).Msg("ignoring unknown event")
	}
}

func (m *Manager) handleSessionStatus(ctx context.Context, st sessionStatus) {
	if st.Connected {
		var info ClientInfo
		if st.ClientInfo != nil {
			info = *st.ClientInfo
		}
		m.checkVersion(info.GatewayVersion)

		m.mu.Lock()
		m.pairingCode = ""
		m.info = &info
		m.err = nil
		m.recon.reset()
		events := m.setStateLocked(StateConnected)
		if ev, ok := m.setOnlineLocked(true); ok {
			events = append(events, ev)
		}
		m.mu.Unlock()

		m.log.Info().Str("name", info.Name).Msg("gateway session connected")
		m.publishCtx(ctx, append([]Event{Connected{Info: info}}, events...)...)
		return
	}

	// The gateway ended the session but kept the transport; it will send a
	// fresh pairing code.
	m.mu.Lock()
	was := m.state
	m.info = nil
	events := m.setStateLocked(StateConnecting)
	m.scheduleOfflineLocked()
	m.mu.Unlock()

	if was == StateConnected {
		events = append([]Event{Disconnected{Reason: "session ended by gateway"}}, events...)
	}
	m.publishCtx(ctx, events...)
}

func (m *Manager) checkVersion(v string) {
	if m.cfg.MinGatewayVersion == "" {
		return
	}
	switch update.CheckGateway(v, m.cfg.MinGatewayVersion) {
	case update.TooOld:
		m.log.Warn().Str("gateway_version", v).Str("minimum", m.cfg.MinGatewayVersion).
			Msg("gateway is older than the supported minimum; some events may be missing")
	case update.Unknown:
		m.log.Debug().Str("gateway_version", v).Msg("gateway version not reported")
	}
}

// setStateLocked records a transition and returns the event to publish once
// the lock is released.
func (m *Manager) setStateLocked(s State) []Event {
	if m.state == s {
		return nil
	}
	m.log.Debug().Stringer("from", m.state).Stringer("to", s).Msg("state change")
	m.state = s
	m.notifyLocked()
	return []Event{StatusChanged{State: s}}
}

func (m *Manager) notifyLocked() {
	close(m.changed)
	m.changed = make(chan struct{})
}

// setOnlineLocked applies the connected flag immediately, cancelling any
// pending debounce.
func (m *Manager) setOnlineLocked(online bool) (Event, bool) {
	if m.offline != nil {
		m.offline.Stop()
		m.offline = nil
	}
	if m.online == online {
		return nil, false
	}
	m.online = online
	return ConnectivityChanged{Connected: online}, true
}

// scheduleOfflineLocked drops the connected flag after DisconnectDebounce,
// unless the session came back in the meantime.
func (m *Manager) scheduleOfflineLocked() {
	if !m.online || m.offline != nil {
		return
	}
	m.offline = time.AfterFunc(m.cfg.DisconnectDebounce, func() {
		m.mu.Lock()
		m.offline = nil
		if m.state == StateConnected || !m.online {
			m.mu.Unlock()
			return
		}
		m.online = false
		m.mu.Unlock()
		m.publish(ConnectivityChanged{Connected: false})
	})
}

func (m *Manager) publish(events ...Event) {
	m.publishCtx(m.life, events...)
}

func (m *Manager) publishCtx(ctx context.Context, events ...Event) {
	for _, ev := range events {
		if err := m.bus.Publish(ctx, ev); err != nil {
			return
		}
	}
}
