// Package bot decides which inbound messages get an automatic reply and
// produces that reply from keyword rules.
package bot

import (
	"slices"
	"sync"
	"time"

	"github.com/comanda/chatsync/internal/chat"
)

// GateConfig is the explicit startup state of a Gate.
type GateConfig struct {
	Enabled bool
	// OptIn lists conversations that start opted in.
	OptIn []string
	// Hours, when set, limits eligibility to business hours.
	Hours *BusinessHours
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Gate holds the global enable flag and the per-conversation opt-in set.
// It is safe for concurrent use and has no side effects beyond its own state.
type Gate struct {
	mu      sync.RWMutex
	enabled bool
	optIn   map[string]struct{}
	hours   *window
	now     func() time.Time
}

// NewGate builds a Gate. It fails only on malformed business hours.
func NewGate(cfg GateConfig) (*Gate, error) {
	g := &Gate{
		enabled: cfg.Enabled,
		optIn:   make(map[string]struct{}, len(cfg.OptIn)),
		now:     cfg.Now,
	}
	if g.now == nil {
		g.now = time.Now
	}
	for _, id := range cfg.OptIn {
		g.optIn[id] = struct{}{}
	}
	if cfg.Hours != nil {
		w, err := cfg.Hours.compile()
		if err != nil {
			return nil, err
		}
		g.hours = w
	}
	return g, nil
}

// IsEligible reports whether msg in conversationID should get an automatic
// reply: the bot is enabled, the conversation opted in, the message came
// from the other party and the clock is inside business hours.
func (g *Gate) IsEligible(conversationID string, msg chat.Message) bool {
	if msg.FromMe {
		return false
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	if !g.enabled {
		return false
	}
	if _, ok := g.optIn[conversationID]; !ok {
		return false
	}
	return g.hours == nil || g.hours.contains(g.now())
}

// ToggleForConversation flips the opt-in for id and returns the new state.
func (g *Gate) ToggleForConversation(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.optIn[id]; ok {
		delete(g.optIn, id)
		return false
	}
	g.optIn[id] = struct{}{}
	return true
}

func (g *Gate) SetEnabled(enabled bool) {
	g.mu.Lock()
	g.enabled = enabled
	g.mu.Unlock()
}

func (g *Gate) Enabled() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.enabled
}

func (g *Gate) OptedIn(id string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.optIn[id]
	return ok
}

// OptInList returns the opted-in conversation ids, sorted.
func (g *Gate) OptInList() []string {
	g.mu.RLock()
	ids := make([]string, 0, len(g.optIn))
	for id := range g.optIn {
		ids = append(ids, id)
	}
	g.mu.RUnlock()
	slices.Sort(ids)
	return ids
}

// InBusinessHours reports whether now falls inside the configured window.
// Without a window it is always true.
func (g *Gate) InBusinessHours() bool {
	return g.hours == nil || g.hours.contains(g.now())
}
