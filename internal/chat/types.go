// Package chat holds the data model shared by the gateway, the cache and the
// sync engine: conversations, messages and the per-kind message content.
package chat

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind tags the content variant carried by a Message.
type Kind string

const (
	KindText     Kind = "text"
	KindImage    Kind = "image"
	KindAudio    Kind = "audio"
	KindVideo    Kind = "video"
	KindDocument Kind = "document"
	KindSticker  Kind = "sticker"
	KindLocation Kind = "location"
	KindContact  Kind = "contact"
	KindUnknown  Kind = "unknown"
)

// IsMedia reports whether the kind carries a Media payload.
func (k Kind) IsMedia() bool {
	switch k {
	case KindImage, KindAudio, KindVideo, KindDocument, KindSticker:
		return true
	}
	return false
}

// Content is the kind-specific payload of a message. Text messages have none.
type Content interface {
	contentKind() Kind
}

// Media references a binary attachment held by the gateway.
type Media struct {
	Ref         string `json:"ref"`
	MimeType    string `json:"mimeType,omitempty"`
	Caption     string `json:"caption,omitempty"`
	FileName    string `json:"fileName,omitempty"`
	DurationSec int    `json:"durationSec,omitempty"`

	kind Kind
}

func (m *Media) contentKind() Kind { return m.kind }

// Location is a shared map position.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"name,omitempty"`
	Address   string  `json:"address,omitempty"`
}

func (*Location) contentKind() Kind { return KindLocation }

// Contact is a shared contact card.
type Contact struct {
	Name  string `json:"name"`
	Phone string `json:"phone,omitempty"`
}

func (*Contact) contentKind() Kind { return KindContact }

// NewMedia builds a Media payload for one of the media kinds.
func NewMedia(kind Kind, ref string) *Media {
	return &Media{Ref: ref, kind: kind}
}

// Conversation is the list-level view of one chat.
type Conversation struct {
	ID                 string `json:"id"`
	DisplayName        string `json:"displayName"`
	IsGroup            bool   `json:"isGroup"`
	UnreadCount        int    `json:"unreadCount"`
	LastMessageSummary string `json:"lastMessageSummary,omitempty"`
	UpdatedAt          int64  `json:"updatedAt"`
	AvatarRef          string `json:"avatarRef,omitempty"`
}

// UpdatedAtTime returns UpdatedAt (unix milliseconds) as time.Time.
func (c *Conversation) UpdatedAtTime() time.Time {
	return time.UnixMilli(c.UpdatedAt)
}

// Message is one entry of a conversation's history. Pending and Failed are
// local-only flags of provisional messages and never come from the gateway.
type Message struct {
	ID        string
	Body      string
	Timestamp int64 // unix milliseconds
	FromMe    bool
	Kind      Kind
	Content   Content
	Pending   bool
	Failed    bool
}

// Time returns Timestamp as time.Time.
func (m *Message) Time() time.Time {
	return time.UnixMilli(m.Timestamp)
}

// Media returns the media payload, or nil for non-media kinds.
func (m *Message) Media() *Media {
	media, _ := m.Content.(*Media)
	return media
}

// Provisional reports whether the message was synthesized locally.
func (m *Message) Provisional() bool {
	return m.Pending || m.Failed
}

// Summary is the one-line preview shown in the conversation list.
func (m *Message) Summary() string {
	if m.Body != "" {
		return m.Body
	}
	switch c := m.Content.(type) {
	case *Media:
		if c.Caption != "" {
			return fmt.Sprintf("[%s] %s", m.Kind, c.Caption)
		}
	case *Location:
		if c.Name != "" {
			return fmt.Sprintf("[location] %s", c.Name)
		}
	case *Contact:
		return fmt.Sprintf("[contact] %s", c.Name)
	}
	if m.Kind == "" || m.Kind == KindText {
		return ""
	}
	return fmt.Sprintf("[%s]", m.Kind)
}

type wireMessage struct {
	ID        string          `json:"id"`
	Body      string          `json:"body"`
	Timestamp int64           `json:"timestamp"`
	FromMe    bool            `json:"fromMe"`
	Kind      Kind            `json:"kind"`
	Content   json.RawMessage `json:"content,omitempty"`
	Pending   bool            `json:"pending,omitempty"`
	Failed    bool            `json:"failed,omitempty"`
}

// MarshalJSON encodes the message with its content keyed by kind.
func (m Message) MarshalJSON() ([]byte, error) {
	w := wireMessage{
		ID:        m.ID,
		Body:      m.Body,
		Timestamp: m.Timestamp,
		FromMe:    m.FromMe,
		Kind:      m.Kind,
		Pending:   m.Pending,
		Failed:    m.Failed,
	}
	if w.Kind == "" {
		w.Kind = KindText
	}
	if m.Content != nil {
		raw, err := json.Marshal(m.Content)
		if err != nil {
			return nil, fmt.Errorf("marshal %s content: %w", w.Kind, err)
		}
		w.Content = raw
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes the content variant selected by kind. Kinds this
// build does not know decode as KindUnknown with no content.
func (m *Message) UnmarshalJSON(data []byte) error {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*m = Message{
		ID:        w.ID,
		Body:      w.Body,
		Timestamp: w.Timestamp,
		FromMe:    w.FromMe,
		Kind:      w.Kind,
		Pending:   w.Pending,
		Failed:    w.Failed,
	}
	if m.Kind == "" {
		m.Kind = KindText
	}

	hasContent := len(w.Content) > 0 && string(w.Content) != "null"
	switch {
	case m.Kind == KindText:
		return nil
	case m.Kind.IsMedia():
		media := &Media{kind: m.Kind}
		if hasContent {
			if err := json.Unmarshal(w.Content, media); err != nil {
				return fmt.Errorf("decode %s content: %w", m.Kind, err)
			}
		}
		m.Content = media
	case m.Kind == KindLocation:
		loc := &Location{}
		if hasContent {
			if err := json.Unmarshal(w.Content, loc); err != nil {
				return fmt.Errorf("decode location content: %w", err)
			}
		}
		m.Content = loc
	case m.Kind == KindContact:
		contact := &Contact{}
		if hasContent {
			if err := json.Unmarshal(w.Content, contact); err != nil {
				return fmt.Errorf("decode contact content: %w", err)
			}
		}
		m.Content = contact
	default:
		m.Kind = KindUnknown
	}
	return nil
}
