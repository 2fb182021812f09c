package syncengine

import (
	"fmt"
	"slices"

	"github.com/comanda/chatsync/internal/chat"
	"github.com/comanda/chatsync/internal/gateway"
)

// handle applies one gateway event. Run calls it serially.
func (e *Engine) handle(ev gateway.Event) {
	switch ev := ev.(type) {
	case gateway.ConversationsData:
		e.handleConversations(ev)
	case gateway.MessagesData:
		e.handleMessages(ev)
	case gateway.MessagePushed:
		e.handlePush(ev)
	case gateway.SendAck:
		e.handleAck(ev)
	case gateway.Connected:
		e.handleConnected()
	case gateway.ConnectivityChanged:
		e.mu.Lock()
		e.connected = ev.Connected
		e.mu.Unlock()
		e.notify(StatusUpdated, "")
	case gateway.ReconnectExhausted:
		e.mu.Lock()
		e.connected = false
		e.connErr = fmt.Errorf("%w after %d attempts: %w", gateway.ErrReconnectExhausted, ev.Attempts, ev.Err)
		e.mu.Unlock()
		e.log.Error().Err(ev.Err).Int("attempts", ev.Attempts).Msg("gateway unreachable; reconnect manually")
		e.notify(StatusUpdated, "")
	case gateway.Disconnected, gateway.StatusChanged:
		e.notify(StatusUpdated, "")
	}
}

func (e *Engine) handleConversations(data gateway.ConversationsData) {
	e.mu.Lock()
	if data.Success {
		list := slices.Clone(data.Conversations)
		chat.SortConversations(list)
		e.conversations = list
		e.store.Set(conversationsKey, list, e.cfg.ConversationsTTL)
	}
	for _, ch := range e.convWaiters {
		select {
		case ch <- data:
		default:
		}
	}
	e.mu.Unlock()

	if data.Success {
		e.notify(ConversationsChanged, "")
	} else {
		e.log.Warn().Str("error", data.Error).Msg("conversation list request failed")
	}
}

// handleMessages caches a fetched window and shows it only if its
// conversation is still the active one. The answer to a reconciliation
// fetch, or any later answer, replaces the pending provisional messages
// acknowledged before that fetch went out.
func (e *Engine) handleMessages(data gateway.MessagesData) {
	id := data.ConversationID
	e.mu.Lock()
	if e.fetchSeen[id] < e.fetchSent[id] {
		e.fetchSeen[id]++
	}
	if !data.Success {
		e.deliverMessagesLocked(id, data)
		e.mu.Unlock()
		e.log.Warn().Str("conversation", id).Str("error", data.Error).Msg("message window request failed")
		return
	}

	window := chat.Trim(chat.Normalize(data.Messages), e.cfg.MaxWindow)
	if !e.reconcileLocked(id) {
		var cached []chat.Message
		if e.store.Get(messagesKey(id), &cached) {
			window = chat.Merge(cached, window, e.cfg.MaxWindow)
		}
	}
	e.store.Set(messagesKey(id), window, e.cfg.MessagesTTL)

	ring := e.recentLocked(id)
	for _, m := range window {
		ring.add(m.ID)
	}
	active := id == e.active
	if active {
		e.messages = window
	}
	e.deliverMessagesLocked(id, data)
	e.mu.Unlock()

	if active {
		e.notify(MessagesChanged, id)
	} else {
		e.log.Debug().Str("conversation", id).Msg("cached window for inactive conversation")
	}
}

// reconcileLocked drops the provisional messages of every mark whose fetch
// has been answered. It reports whether any mark applied.
func (e *Engine) reconcileLocked(id string) bool {
	seen := e.fetchSeen[id]
	applied := false
	e.reconcile[id] = slices.DeleteFunc(e.reconcile[id], func(mark reconcileMark) bool {
		if mark.seq > seen {
			return false
		}
		e.provisional[id] = slices.DeleteFunc(e.provisional[id], func(m chat.Message) bool {
			_, done := mark.ids[m.ID]
			return done
		})
		applied = true
		return true
	})
	if len(e.reconcile[id]) == 0 {
		delete(e.reconcile, id)
	}
	if len(e.provisional[id]) == 0 {
		delete(e.provisional, id)
	}
	return applied
}

func (e *Engine) deliverMessagesLocked(id string, data gateway.MessagesData) {
	for _, ch := range e.msgWaiters[id] {
		select {
		case ch <- data:
		default:
		}
	}
}

func (e *Engine) handlePush(p gateway.MessagePushed) {
	id, msg := p.ConversationID, p.Message

	e.mu.Lock()
	ring := e.recentLocked(id)
	if ring.has(msg.ID) || (id == e.active && chat.ContainsID(e.messages, msg.ID)) {
		e.mu.Unlock()
		e.log.Debug().Str("conversation", id).Str("message", msg.ID).Msg("duplicate push dropped")
		return
	}
	var window []chat.Message
	cached := e.store.Get(messagesKey(id), &window)
	if cached && chat.ContainsID(window, msg.ID) {
		ring.add(msg.ID)
		e.mu.Unlock()
		return
	}
	ring.add(msg.ID)

	active := id == e.active
	if active {
		e.messages, _ = chat.Insert(e.messages, msg)
		e.messages = chat.Trim(e.messages, e.cfg.MaxWindow)
	}
	if cached {
		window, _ = chat.Insert(window, msg)
		e.store.Update(messagesKey(id), chat.Trim(window, e.cfg.MaxWindow))
	}
	e.touchConversationLocked(id, msg)

	dispatcher := e.cfg.Bot
	reply := !e.closed && !msg.FromMe && e.cfg.Gate != nil && dispatcher != nil && e.cfg.Gate.IsEligible(id, msg)
	if reply {
		e.wg.Add(1)
	}
	e.mu.Unlock()

	if active {
		e.notify(MessagesChanged, id)
	}
	e.notify(ConversationsChanged, id)

	if reply {
		go e.autoReply(dispatcher, id, msg)
	}
}

// touchConversationLocked updates the list-level summary of id for msg,
// creating the conversation if the list has not seen it yet.
func (e *Engine) touchConversationLocked(id string, msg chat.Message) {
	i := slices.IndexFunc(e.conversations, func(c chat.Conversation) bool { return c.ID == id })
	if i < 0 {
		e.conversations = append(e.conversations, chat.Conversation{ID: id, DisplayName: id})
		i = len(e.conversations) - 1
	}
	c := &e.conversations[i]
	if msg.Timestamp >= c.UpdatedAt {
		c.LastMessageSummary = msg.Summary()
		c.UpdatedAt = msg.Timestamp
	}
	if !msg.FromMe {
		c.UnreadCount++
	}
	chat.SortConversations(e.conversations)
	if !e.store.Update(conversationsKey, e.conversations) {
		e.log.Debug().Msg("conversation list not cached; push kept in memory only")
	}
}

func (e *Engine) autoReply(d Dispatcher, id string, msg chat.Message) {
	defer e.wg.Done()
	reply, err := d.Dispatch(e.bg, id, msg)
	if err != nil {
		e.log.Warn().Err(err).Str("conversation", id).Msg("auto-reply failed")
		return
	}
	if reply != "" {
		e.log.Info().Str("conversation", id).Msg("auto-reply sent")
	}
}

// handleAck hands an acknowledgement to the send waiting for it, matched by
// client ref or else by conversation in send order. Automatic replies sent
// through ReplySender queue with the operator's sends, so an ack without a
// ref resolves the oldest send of the conversation whoever made it. A send
// that timed out no longer waits; a late ref-less ack for it lands on the
// next send, which is why gateways should echo clientRef.
func (e *Engine) handleAck(ack gateway.SendAck) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var i int
	if ack.ClientRef != "" {
		i = slices.IndexFunc(e.ackWaiters, func(w *ackWaiter) bool { return w.clientRef == ack.ClientRef })
	} else {
		i = slices.IndexFunc(e.ackWaiters, func(w *ackWaiter) bool { return w.conversationID == ack.ConversationID })
	}
	if i < 0 {
		e.log.Debug().
			Str("conversation", ack.ConversationID).
			Str("client_ref", ack.ClientRef).
			Bool("success", ack.Success).
			Msg("acknowledgement without a waiting send")
		return
	}
	w := e.ackWaiters[i]
	e.ackWaiters = slices.Delete(e.ackWaiters, i, i+1)
	select {
	case w.ch <- ack:
	default:
	}
}

// handleConnected clears a previous connection error and refreshes what the
// view shows: the conversation list if it is empty, and the active window.
func (e *Engine) handleConnected() {
	e.mu.Lock()
	// Requests written to the previous connection are never answered.
	for id, n := range e.fetchSent {
		e.fetchSeen[id] = n
	}
	e.connErr = nil
	e.connected = true
	needList := !e.closed && len(e.conversations) == 0
	active := e.active
	if e.closed {
		active = ""
	}
	if needList {
		e.wg.Add(1)
	}
	if active != "" {
		e.wg.Add(1)
	}
	e.mu.Unlock()
	e.notify(StatusUpdated, "")

	if needList {
		go func() {
			defer e.wg.Done()
			if _, err := e.LoadConversations(e.bg); err != nil {
				e.log.Warn().Err(err).Msg("conversation list refresh after connect failed")
			}
		}()
	}
	if active != "" {
		go func() {
			defer e.wg.Done()
			if err := e.requestMessages(e.bg, active); err != nil {
				e.log.Warn().Err(err).Str("conversation", active).Msg("window refresh after connect failed")
			}
		}()
	}
}
