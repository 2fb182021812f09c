package gateway

import (
	"encoding/json"
	"fmt"

	"github.com/comanda/chatsync/internal/chat"
)

// Outbound event names.
const (
	EventConnectSession    = "connect-session"
	EventDisconnectSession = "disconnect-session"
	EventGetConversations  = "get-conversations"
	EventGetMessages       = "get-messages"
	EventSendMessage       = "send-message"
)

// Inbound event names.
const (
	EventPairingCode       = "pairing-code"
	EventSessionStatus     = "session-status"
	EventConversationsData = "conversations-data"
	EventMessagesData      = "messages-data"
	EventMessagePushed     = "message-pushed"
	EventMessageSendAck    = "message-send-ack"
)

// frame is the envelope of every message on the wire in both directions.
type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func encodeFrame(event string, payload any) ([]byte, error) {
	f := frame{Event: event}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", event, err)
		}
		f.Data = raw
	}
	return json.Marshal(f)
}

// ConnectSessionRequest opens (or resumes) a gateway session.
type ConnectSessionRequest struct {
	Token  string `json:"token,omitempty"`
	Client string `json:"client,omitempty"`
}

// GetMessagesRequest asks for the newest Limit messages of a conversation.
type GetMessagesRequest struct {
	ConversationID string `json:"conversationId"`
	Limit          int    `json:"limit"`
}

// SendMessageRequest sends a text message. ClientRef is echoed back in the
// matching acknowledgement when the gateway supports it.
type SendMessageRequest struct {
	ConversationID string `json:"conversationId"`
	Body           string `json:"body"`
	ClientRef      string `json:"clientRef,omitempty"`
}

// ClientInfo describes the paired account, as reported by session-status.
type ClientInfo struct {
	Name           string `json:"name,omitempty"`
	Phone          string `json:"phone,omitempty"`
	Platform       string `json:"platform,omitempty"`
	GatewayVersion string `json:"gatewayVersion,omitempty"`
}

type sessionStatus struct {
	Connected  bool        `json:"connected"`
	ClientInfo *ClientInfo `json:"clientInfo,omitempty"`
}

type conversationsData struct {
	Success       bool                `json:"success"`
	Conversations []chat.Conversation `json:"conversations"`
	Error         string              `json:"error,omitempty"`
}

type messagesData struct {
	Success        bool           `json:"success"`
	ConversationID string         `json:"conversationId"`
	Messages       []chat.Message `json:"messages"`
	Error          string         `json:"error,omitempty"`
}

type messagePushed struct {
	ConversationID string       `json:"conversationId"`
	Message        chat.Message `json:"message"`
}

type sendAck struct {
	Success        bool   `json:"success"`
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId,omitempty"`
	ClientRef      string `json:"clientRef,omitempty"`
	Error          string `json:"error,omitempty"`
}

// decodePairingCode accepts both a bare JSON string and {"code": "..."}.
func decodePairingCode(data json.RawMessage) (string, error) {
	var code string
	if err := json.Unmarshal(data, &code); err == nil {
		return code, nil
	}
	var obj struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return "", err
	}
	return obj.Code, nil
}
