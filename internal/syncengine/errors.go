package syncengine

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout is returned when the gateway does not answer a request in
	// time. Cached data is kept and nothing is retried.
	ErrTimeout = errors.New("request timed out")
	// ErrSelectionChanged is returned to a SelectConversation caller whose
	// selection was replaced before its history arrived.
	ErrSelectionChanged = errors.New("selection changed before history arrived")
	// ErrEmptyMessage rejects blank sends.
	ErrEmptyMessage = errors.New("message body is empty")
	// ErrUnknownMessage is returned by RetryFailed for an id that is not a
	// failed provisional message.
	ErrUnknownMessage = errors.New("no failed message with that id")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("engine closed")
)

// OpError wraps a failure of a public engine operation with the context a
// user-facing message needs.
type OpError struct {
	Op             string
	ConversationID string
	Err            error
}

func (e *OpError) Error() string {
	if e.ConversationID == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.ConversationID, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// GatewayError is a failure the gateway reported in a response payload.
type GatewayError struct {
	Reason string
}

func (e *GatewayError) Error() string {
	if e.Reason == "" {
		return "gateway reported a failure"
	}
	return fmt.Sprintf("gateway: %s", e.Reason)
}

// IsTimeout reports whether err is a request timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsGatewayError reports whether err was reported by the gateway.
func IsGatewayError(err error) bool {
	var e *GatewayError
	return errors.As(err, &e)
}

func opError(op, conversationID string, err error) error {
	if err == nil {
		return nil
	}
	var existing *OpError
	if errors.As(err, &existing) {
		return err
	}
	return &OpError{Op: op, ConversationID: conversationID, Err: err}
}
