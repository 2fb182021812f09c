package gateway

import (
	"time"

	"github.com/comanda/chatsync/internal/chat"
)

// Event is anything published on the manager's bus. Consumers switch on the
// concrete type.
type Event interface {
	gatewayEvent()
}

// PairingCodeAvailable carries a code the operator must scan or type into
// the phone to pair the session.
type PairingCodeAvailable struct {
	Code string
}

// Connected is published when the gateway reports a paired, live session.
type Connected struct {
	Info ClientInfo
}

// Disconnected is published when the session or the transport ends.
type Disconnected struct {
	Reason string
}

// StatusChanged is published on every state transition.
type StatusChanged struct {
	State State
}

// ConnectivityChanged reports the debounced connected flag.
type ConnectivityChanged struct {
	Connected bool
}

// Reconnecting is published before each reconnect attempt.
type Reconnecting struct {
	Attempt int
	Delay   time.Duration
}

// ReconnectExhausted is published once every reconnect attempt has failed.
type ReconnectExhausted struct {
	Attempts int
	Err      error
}

// ConversationsData answers get-conversations.
type ConversationsData struct {
	Success       bool
	Conversations []chat.Conversation
	Error         string
}

// MessagesData answers get-messages.
type MessagesData struct {
	Success        bool
	ConversationID string
	Messages       []chat.Message
	Error          string
}

// MessagePushed is a new message delivered by the gateway.
type MessagePushed struct {
	ConversationID string
	Message        chat.Message
}

// SendAck acknowledges a send-message.
type SendAck struct {
	Success        bool
	ConversationID string
	MessageID      string
	ClientRef      string
	Error          string
}

func (PairingCodeAvailable) gatewayEvent() {}
func (Connected) gatewayEvent()            {}
func (Disconnected) gatewayEvent()         {}
func (StatusChanged) gatewayEvent()        {}
func (ConnectivityChanged) gatewayEvent()  {}
func (Reconnecting) gatewayEvent()         {}
func (ReconnectExhausted) gatewayEvent()   {}
func (ConversationsData) gatewayEvent()    {}
func (MessagesData) gatewayEvent()         {}
func (MessagePushed) gatewayEvent()        {}
func (SendAck) gatewayEvent()              {}
