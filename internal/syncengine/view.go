package syncengine

import (
	"errors"
	"slices"

	"github.com/comanda/chatsync/internal/chat"
	"github.com/comanda/chatsync/internal/gateway"
)

// UpdateKind says which part of the snapshot changed.
type UpdateKind int

const (
	ConversationsChanged UpdateKind = iota
	MessagesChanged
	StatusUpdated
)

func (k UpdateKind) String() string {
	switch k {
	case ConversationsChanged:
		return "conversations"
	case MessagesChanged:
		return "messages"
	case StatusUpdated:
		return "status"
	default:
		return "unknown"
	}
}

// Update tells observers to re-read the snapshot.
type Update struct {
	Kind           UpdateKind
	ConversationID string
}

// Snapshot is the observable state of the engine at one instant. Slices
// are copies owned by the caller.
type Snapshot struct {
	Conversations        []chat.Conversation
	ActiveID             string
	Messages             []chat.Message
	LoadingConversations bool
	LoadingMessages      bool
	Sending              int
	Connected            bool
	// Err is the persistent connection error if there is one, else the
	// last recoverable operation error.
	Err error
}

// Snapshot returns the current state. Messages holds the active window with
// the conversation's provisional messages merged in by timestamp.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := Snapshot{
		Conversations:        slices.Clone(e.conversations),
		ActiveID:             e.active,
		Messages:             e.viewLocked(e.active),
		LoadingConversations: e.loadingConvs,
		LoadingMessages:      e.loadingMessages,
		Sending:              e.sending,
		Connected:            e.connected,
		Err:                  e.lastErr,
	}
	if e.connErr != nil {
		s.Err = e.connErr
	}
	return s
}

// Messages returns what the active view shows for id: the window plus
// provisional messages. For an inactive conversation only provisional
// messages and the cached window are considered.
func (e *Engine) Messages(id string) []chat.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.viewLocked(id)
}

func (e *Engine) viewLocked(id string) []chat.Message {
	if id == "" {
		return nil
	}
	var window []chat.Message
	if id == e.active {
		window = e.messages
	} else {
		e.store.Get(messagesKey(id), &window)
	}
	out := make([]chat.Message, 0, len(window)+len(e.provisional[id]))
	out = append(out, window...)
	out = append(out, e.provisional[id]...)
	chat.SortMessages(out)
	return out
}

// Provisional returns the local messages of id that the gateway has not
// confirmed yet, including failed ones.
func (e *Engine) Provisional(id string) []chat.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.provisional[id])
}

// ClearError drops the last recoverable error. The persistent connection
// error is cleared only by a new connection.
func (e *Engine) ClearError() {
	e.mu.Lock()
	e.lastErr = nil
	e.mu.Unlock()
	e.notify(StatusUpdated, "")
}

// IsRecoverable reports whether err leaves the engine usable as is. Only an
// exhausted reconnect needs the operator to reconnect.
func IsRecoverable(err error) bool {
	return err != nil && !errors.Is(err, ErrClosed) && !errors.Is(err, gateway.ErrReconnectExhausted)
}
