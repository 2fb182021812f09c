// Package syncengine keeps the local view of conversations and message
// windows in step with the gateway. It serves reads from the cache, merges
// pushed messages with ordering and deduplication, reconciles optimistic
// sends against acknowledgements, polls the active conversation and hands
// eligible inbound messages to the auto-reply bot.
package syncengine

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/comanda/chatsync/internal/chat"
	"github.com/comanda/chatsync/internal/gateway"
	"github.com/comanda/chatsync/internal/pubsub"
	"github.com/comanda/chatsync/internal/validation"
)

const (
	DefaultPageSize         = 50
	DefaultMaxWindow        = 200
	DefaultPollInterval     = 30 * time.Second
	DefaultRequestTimeout   = 5 * time.Second
	DefaultSendTimeout      = 10 * time.Second
	DefaultConversationsTTL = 10 * time.Minute
	DefaultMessagesTTL      = 10 * time.Minute
	DefaultRecentIDs        = 256

	// LocalIDPrefix marks provisional messages created by SendMessage.
	LocalIDPrefix = "local-"

	conversationsKey = "conversations"
)

func messagesKey(conversationID string) string {
	return "messages:" + conversationID
}

// Gateway is the part of the connection manager the engine uses.
type Gateway interface {
	Send(ctx context.Context, event string, payload any) error
	Subscribe(buffer int, dropWhenFull bool) *pubsub.Subscription[gateway.Event]
	IsConnected() bool
}

// Store is the cache. Failures never surface; a failed read is a miss.
type Store interface {
	Get(key string, dst any) bool
	Set(key string, value any, ttl time.Duration)
	Update(key string, value any) bool
}

// Gate decides whether an inbound message gets an automatic reply.
type Gate interface {
	IsEligible(conversationID string, msg chat.Message) bool
}

// Dispatcher sends automatic replies. It may block for its reply delay.
type Dispatcher interface {
	Dispatch(ctx context.Context, conversationID string, msg chat.Message) (string, error)
}

// Config tunes the engine. Zero values take the defaults above; a negative
// PollInterval disables polling.
type Config struct {
	PageSize         int
	MaxWindow        int
	PollInterval     time.Duration
	RequestTimeout   time.Duration
	SendTimeout      time.Duration
	ConversationsTTL time.Duration
	MessagesTTL      time.Duration
	RecentIDs        int

	// Gate and Bot are optional; without both no automatic replies go out.
	Gate Gate
	Bot  Dispatcher

	Logger zerolog.Logger
	Now    func() time.Time
}

func (c *Config) applyDefaults() {
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	if c.MaxWindow <= 0 {
		c.MaxWindow = DefaultMaxWindow
	}
	if c.MaxWindow < c.PageSize {
		c.MaxWindow = c.PageSize
	}
	if c.PollInterval == 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = DefaultSendTimeout
	}
	if c.ConversationsTTL <= 0 {
		c.ConversationsTTL = DefaultConversationsTTL
	}
	if c.MessagesTTL <= 0 {
		c.MessagesTTL = DefaultMessagesTTL
	}
	if c.RecentIDs <= 0 {
		c.RecentIDs = DefaultRecentIDs
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

type ackWaiter struct {
	conversationID string
	clientRef      string
	ch             chan gateway.SendAck
}

// reconcileMark names the pending messages that the answer to the seq-th
// get-messages request of a conversation replaces.
type reconcileMark struct {
	seq uint64
	ids map[string]struct{}
}

// Engine is the sync orchestrator. It is the only writer of the cache and
// of its own view; all of its methods are safe for concurrent use.
type Engine struct {
	cfg   Config
	gw    Gateway
	store Store
	log   zerolog.Logger

	sub     *pubsub.Subscription[gateway.Event]
	updates *pubsub.Bus[Update]
	flight  singleflight.Group

	bg       context.Context
	bgCancel context.CancelFunc
	wg       sync.WaitGroup
	sendMu   sync.Mutex // orders ack waiters the way requests hit the wire
	fetchMu  sync.Mutex // numbers get-messages requests in wire order

	mu              sync.Mutex
	conversations   []chat.Conversation
	active          string
	messages        []chat.Message
	provisional     map[string][]chat.Message
	reconcile       map[string][]reconcileMark
	fetchSent       map[string]uint64
	fetchSeen       map[string]uint64
	recent          map[string]*idRing
	selectSeq       uint64
	poll            *poller
	loadingConvs    bool
	loadingMessages bool
	sending         int
	connected       bool
	lastErr         error
	connErr         error
	closed          bool

	convWaiters []chan gateway.ConversationsData
	msgWaiters  map[string][]chan gateway.MessagesData
	ackWaiters  []*ackWaiter
}

// New builds an engine and subscribes it to gw. Call Run to start
// consuming gateway events.
func New(gw Gateway, store Store, cfg Config) *Engine {
	cfg.applyDefaults()
	bg, cancel := context.WithCancel(context.Background())
	return &Engine{
		cfg:         cfg,
		gw:          gw,
		store:       store,
		log:         cfg.Logger.With().Str("component", "sync").Logger(),
		sub:         gw.Subscribe(64, false),
		updates:     pubsub.New[Update](),
		bg:          bg,
		bgCancel:    cancel,
		provisional: make(map[string][]chat.Message),
		reconcile:   make(map[string][]reconcileMark),
		fetchSent:   make(map[string]uint64),
		fetchSeen:   make(map[string]uint64),
		recent:      make(map[string]*idRing),
		msgWaiters:  make(map[string][]chan gateway.MessagesData),
		connected:   gw.IsConnected(),
	}
}

// Run consumes gateway events until ctx ends or the gateway closes the
// subscription.
func (e *Engine) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-e.sub.C:
			if !ok {
				return nil
			}
			e.handle(ev)
		}
	}
}

// Close stops polling and background work and ends every subscription.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.stopPollLocked()
	e.mu.Unlock()

	e.bgCancel()
	e.wg.Wait()
	e.sub.Close()
	e.updates.Close()
	return nil
}

// Subscribe returns view updates. Slow subscribers lose updates rather than
// stall the engine; Snapshot always has the current state.
func (e *Engine) Subscribe(buffer int) *pubsub.Subscription[Update] {
	return e.updates.Subscribe(buffer, true)
}

func (e *Engine) notify(kind UpdateKind, conversationID string) {
	_ = e.updates.Publish(e.bg, Update{Kind: kind, ConversationID: conversationID})
}

// LoadConversations returns the cached list when it is live and non-empty,
// otherwise requests it. Concurrent calls share one request. On failure the
// previous list stays in place and an *OpError is returned.
func (e *Engine) LoadConversations(ctx context.Context) ([]chat.Conversation, error) {
	var cached []chat.Conversation
	if e.store.Get(conversationsKey, &cached) && len(cached) > 0 {
		chat.SortConversations(cached)
		e.mu.Lock()
		e.conversations = cached
		e.mu.Unlock()
		e.notify(ConversationsChanged, "")
		return slices.Clone(cached), nil
	}
	return e.RefreshConversations(ctx)
}

// RefreshConversations always asks the gateway, sharing an in-flight
// request when there is one.
func (e *Engine) RefreshConversations(ctx context.Context) ([]chat.Conversation, error) {
	ch := e.flight.DoChan(conversationsKey, func() (any, error) {
		return e.fetchConversations()
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return slices.Clone(res.Val.([]chat.Conversation)), nil
	case <-ctx.Done():
		return nil, opError("load conversations", "", ctx.Err())
	}
}

func (e *Engine) fetchConversations() ([]chat.Conversation, error) {
	ch := make(chan gateway.ConversationsData, 1)
	e.mu.Lock()
	e.convWaiters = append(e.convWaiters, ch)
	e.loadingConvs = true
	e.mu.Unlock()
	e.notify(StatusUpdated, "")

	finish := func(err error) error {
		e.mu.Lock()
		e.convWaiters = slices.DeleteFunc(e.convWaiters, func(c chan gateway.ConversationsData) bool { return c == ch })
		e.loadingConvs = false
		if err != nil {
			e.lastErr = err
		}
		e.mu.Unlock()
		e.notify(StatusUpdated, "")
		return err
	}

	ctx, cancel := context.WithTimeout(e.bg, e.cfg.RequestTimeout)
	defer cancel()

	if err := e.gw.Send(ctx, gateway.EventGetConversations, nil); err != nil {
		return nil, finish(opError("load conversations", "", err))
	}
	select {
	case data := <-ch:
		if !data.Success {
			return nil, finish(opError("load conversations", "", &GatewayError{Reason: data.Error}))
		}
		_ = finish(nil)
		e.mu.Lock()
		list := slices.Clone(e.conversations)
		e.mu.Unlock()
		return list, nil
	case <-ctx.Done():
		return nil, finish(opError("load conversations", "", ErrTimeout))
	}
}

// SelectConversation makes id the active conversation. A live cached window
// is shown at once; otherwise the newest page is fetched and this call
// blocks until it arrives. Either way the active conversation is then
// polled. If another selection replaces this one first, the result is
// ErrSelectionChanged and the late page never touches the new view.
func (e *Engine) SelectConversation(ctx context.Context, id string) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	e.stopPollLocked()
	e.selectSeq++
	seq := e.selectSeq
	e.active = id
	e.resetUnreadLocked(id)

	var cached []chat.Message
	if e.store.Get(messagesKey(id), &cached) {
		e.messages = chat.Trim(chat.Normalize(cached), e.cfg.MaxWindow)
		e.loadingMessages = false
		e.startPollLocked(id)
		e.mu.Unlock()
		e.notify(MessagesChanged, id)
		return nil
	}
	e.messages = nil
	e.loadingMessages = true
	e.mu.Unlock()
	e.notify(MessagesChanged, id)

	err := e.requestMessages(ctx, id)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.selectSeq != seq {
		return opError("select conversation", id, ErrSelectionChanged)
	}
	e.loadingMessages = false
	if err != nil {
		e.lastErr = err
		e.notifyLocked(StatusUpdated, id)
		return err
	}
	e.startPollLocked(id)
	e.notifyLocked(StatusUpdated, id)
	return nil
}

// ActiveConversation returns the selected conversation id.
func (e *Engine) ActiveConversation() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// requestMessages sends get-messages for id and waits for the answer. The
// answer itself is applied by the event handler.
func (e *Engine) requestMessages(ctx context.Context, id string) error {
	return e.fetchMessages(ctx, id, nil)
}

// fetchMessages is requestMessages with the pending messages that this
// request's answer replaces. The gateway answers a conversation's requests
// in order, so the answer is the fetchSent-th messages-data for id. A
// request that is never written gives its number to the next one.
func (e *Engine) fetchMessages(ctx context.Context, id string, replaces map[string]struct{}) error {
	ch := make(chan gateway.MessagesData, 1)
	req := gateway.GetMessagesRequest{ConversationID: id, Limit: e.cfg.PageSize}

	e.fetchMu.Lock()
	e.mu.Lock()
	e.msgWaiters[id] = append(e.msgWaiters[id], ch)
	e.fetchSent[id]++
	if len(replaces) > 0 {
		e.reconcile[id] = append(e.reconcile[id], reconcileMark{seq: e.fetchSent[id], ids: replaces})
	}
	e.mu.Unlock()
	err := e.gw.Send(ctx, gateway.EventGetMessages, req)
	if err != nil {
		e.mu.Lock()
		e.fetchSent[id]--
		e.fetchSeen[id] = min(e.fetchSeen[id], e.fetchSent[id])
		e.mu.Unlock()
	}
	e.fetchMu.Unlock()

	defer func() {
		e.mu.Lock()
		e.msgWaiters[id] = slices.DeleteFunc(e.msgWaiters[id], func(c chan gateway.MessagesData) bool { return c == ch })
		if len(e.msgWaiters[id]) == 0 {
			delete(e.msgWaiters, id)
		}
		e.mu.Unlock()
	}()

	if err != nil {
		return opError("load messages", id, err)
	}
	timer := time.NewTimer(e.cfg.RequestTimeout)
	defer timer.Stop()
	select {
	case data := <-ch:
		if !data.Success {
			return opError("load messages", id, &GatewayError{Reason: data.Error})
		}
		return nil
	case <-timer.C:
		return opError("load messages", id, ErrTimeout)
	case <-ctx.Done():
		return opError("load messages", id, ctx.Err())
	}
}

// SendMessage shows text in conversation id as a pending provisional
// message and sends it. A successful acknowledgement triggers one
// reconciliation fetch that replaces every pending provisional message of
// the conversation; a failure or timeout marks the message failed and is
// returned. The returned message reflects its final local state.
func (e *Engine) SendMessage(ctx context.Context, id, text string) (chat.Message, error) {
	if strings.TrimSpace(text) == "" {
		return chat.Message{}, opError("send", id, ErrEmptyMessage)
	}
	if err := validation.ValidateMessageText(text); err != nil {
		return chat.Message{}, opError("send", id, err)
	}

	localID := LocalIDPrefix + uuid.NewString()
	msg := chat.Message{
		ID:        localID,
		Body:      text,
		Timestamp: e.cfg.Now().UnixMilli(),
		FromMe:    true,
		Kind:      chat.KindText,
		Pending:   true,
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return chat.Message{}, ErrClosed
	}
	e.provisional[id] = append(e.provisional[id], msg)
	e.sending++
	e.mu.Unlock()
	e.notify(MessagesChanged, id)

	err := e.awaitAck(ctx, gateway.SendMessageRequest{ConversationID: id, Body: text, ClientRef: localID})

	e.mu.Lock()
	e.sending--
	if err != nil {
		msg = e.markFailedLocked(id, localID)
		e.mu.Unlock()
		e.notify(MessagesChanged, id)
		return msg, err
	}
	replaces := e.pendingIDsLocked(id)
	if e.closed {
		e.mu.Unlock()
		return msg, nil
	}
	e.wg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.wg.Done()
		if err := e.fetchMessages(e.bg, id, replaces); err != nil {
			e.log.Warn().Err(err).Str("conversation", id).Msg("reconciliation fetch failed; next poll will retry")
		}
	}()
	return msg, nil
}

// awaitAck writes a send-message request and waits for its acknowledgement.
// The waiter is queued and the request written under sendMu, so waiters of
// one conversation sit in wire order for acks that carry no client ref.
func (e *Engine) awaitAck(ctx context.Context, req gateway.SendMessageRequest) error {
	id := req.ConversationID
	w := &ackWaiter{conversationID: id, clientRef: req.ClientRef, ch: make(chan gateway.SendAck, 1)}
	timer := time.NewTimer(e.cfg.SendTimeout)
	defer timer.Stop()

	e.sendMu.Lock()
	e.mu.Lock()
	e.ackWaiters = append(e.ackWaiters, w)
	e.mu.Unlock()
	err := e.gw.Send(ctx, gateway.EventSendMessage, req)
	e.sendMu.Unlock()
	defer func() {
		e.mu.Lock()
		e.ackWaiters = slices.DeleteFunc(e.ackWaiters, func(x *ackWaiter) bool { return x == w })
		e.mu.Unlock()
	}()
	if err != nil {
		return opError("send", id, err)
	}
	select {
	case ack := <-w.ch:
		if !ack.Success {
			return opError("send", id, &GatewayError{Reason: ack.Error})
		}
		return nil
	case <-timer.C:
		return opError("send", id, ErrTimeout)
	case <-ctx.Done():
		return opError("send", id, ctx.Err())
	}
}

// ReplySender sends automatic replies through the engine, so their
// acknowledgements are matched like the operator's sends. Send blocks until
// the gateway acknowledges a send-message request.
type ReplySender struct {
	e *Engine
}

// ReplySender returns the sender automatic replies should use.
func (e *Engine) ReplySender() *ReplySender {
	return &ReplySender{e: e}
}

// Send implements bot.Sender.
func (s *ReplySender) Send(ctx context.Context, event string, payload any) error {
	req, ok := payload.(gateway.SendMessageRequest)
	if event != gateway.EventSendMessage || !ok {
		return s.e.gw.Send(ctx, event, payload)
	}
	return s.e.awaitAck(ctx, req)
}

// EnableAutoReply installs a gate and a dispatcher after New, for
// dispatchers built on ReplySender.
func (e *Engine) EnableAutoReply(gate Gate, d Dispatcher) {
	e.mu.Lock()
	e.cfg.Gate = gate
	e.cfg.Bot = d
	e.mu.Unlock()
}

// RetryFailed drops the failed provisional message localID and sends its
// body again as a new message.
func (e *Engine) RetryFailed(ctx context.Context, id, localID string) (chat.Message, error) {
	e.mu.Lock()
	var body string
	found := false
	e.provisional[id] = slices.DeleteFunc(e.provisional[id], func(m chat.Message) bool {
		if m.ID == localID && m.Failed {
			body, found = m.Body, true
			return true
		}
		return false
	})
	e.mu.Unlock()
	if !found {
		return chat.Message{}, opError("retry", id, ErrUnknownMessage)
	}
	return e.SendMessage(ctx, id, body)
}

func (e *Engine) markFailedLocked(id, localID string) chat.Message {
	list := e.provisional[id]
	for i := range list {
		if list[i].ID == localID {
			list[i].Pending = false
			list[i].Failed = true
			return list[i]
		}
	}
	return chat.Message{}
}

// pendingIDsLocked returns the ids of id's pending provisional messages.
func (e *Engine) pendingIDsLocked(id string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, m := range e.provisional[id] {
		if m.Pending {
			set[m.ID] = struct{}{}
		}
	}
	return set
}

func (e *Engine) resetUnreadLocked(id string) {
	for i := range e.conversations {
		if e.conversations[i].ID == id {
			if e.conversations[i].UnreadCount == 0 {
				return
			}
			e.conversations[i].UnreadCount = 0
			e.store.Update(conversationsKey, e.conversations)
			e.notifyLocked(ConversationsChanged, id)
			return
		}
	}
}

func (e *Engine) notifyLocked(kind UpdateKind, conversationID string) {
	// Subscriptions never block, so publishing under the lock is safe.
	e.notify(kind, conversationID)
}

func (e *Engine) recentLocked(id string) *idRing {
	r := e.recent[id]
	if r == nil {
		r = newIDRing(e.cfg.RecentIDs)
		e.recent[id] = r
	}
	return r
}
