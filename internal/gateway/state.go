package gateway

// State is the connection state owned by the Manager.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateAwaitingPairing
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAwaitingPairing:
		return "awaiting_pairing"
	case StateConnected:
		return "connected"
	}
	return "unknown"
}

// active reports whether Initialize should treat the manager as already
// started.
func (s State) active() bool {
	return s != StateDisconnected
}
