package bot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/comanda/chatsync/internal/chat"
)

func at(t *testing.T, s string) func() time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err)
	return func() time.Time { return ts }
}

func TestGate_IsEligible(t *testing.T) {
	inbound := chat.Message{ID: "m1", Body: "hola"}

	tests := []struct {
		name string
		cfg  GateConfig
		conv string
		msg  chat.Message
		want bool
	}{
		{"disabled", GateConfig{Enabled: false, OptIn: []string{"a"}}, "a", inbound, false},
		{"not opted in", GateConfig{Enabled: true}, "a", inbound, false},
		{"from me", GateConfig{Enabled: true, OptIn: []string{"a"}}, "a", chat.Message{ID: "m2", FromMe: true}, false},
		{"eligible", GateConfig{Enabled: true, OptIn: []string{"a"}}, "a", inbound, true},
		{"other conversation", GateConfig{Enabled: true, OptIn: []string{"a"}}, "b", inbound, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := NewGate(tt.cfg)
			require.NoError(t, err)
			assert.Equal(t, tt.want, g.IsEligible(tt.conv, tt.msg))
		})
	}
}

func TestGate_ToggleForConversation(t *testing.T) {
	g, err := NewGate(GateConfig{Enabled: true})
	require.NoError(t, err)

	assert.False(t, g.OptedIn("a"))
	assert.True(t, g.ToggleForConversation("a"))
	assert.True(t, g.OptedIn("a"))
	assert.True(t, g.IsEligible("a", chat.Message{ID: "1"}))

	assert.False(t, g.ToggleForConversation("a"))
	assert.False(t, g.IsEligible("a", chat.Message{ID: "1"}))

	g.ToggleForConversation("z")
	g.ToggleForConversation("b")
	assert.Equal(t, []string{"b", "z"}, g.OptInList())
}

func TestGate_GlobalFlagOverridesOptIn(t *testing.T) {
	g, err := NewGate(GateConfig{Enabled: true, OptIn: []string{"a", "b"}})
	require.NoError(t, err)

	g.SetEnabled(false)
	assert.False(t, g.Enabled())
	assert.False(t, g.IsEligible("a", chat.Message{ID: "1"}))
	assert.False(t, g.IsEligible("b", chat.Message{ID: "1"}))
	assert.True(t, g.OptedIn("a"), "disabling keeps the opt-in set")
}

func TestGate_BusinessHours(t *testing.T) {
	hours := &BusinessHours{Start: "12:00", End: "23:00", TimeZone: "UTC"}

	tests := []struct {
		now  string
		want bool
	}{
		{"2026-03-10T11:59:00Z", false},
		{"2026-03-10T12:00:00Z", true},
		{"2026-03-10T22:59:00Z", true},
		{"2026-03-10T23:00:00Z", false},
	}
	for _, tt := range tests {
		t.Run(tt.now, func(t *testing.T) {
			g, err := NewGate(GateConfig{Enabled: true, OptIn: []string{"a"}, Hours: hours, Now: at(t, tt.now)})
			require.NoError(t, err)
			assert.Equal(t, tt.want, g.IsEligible("a", chat.Message{ID: "1"}))
			assert.Equal(t, tt.want, g.InBusinessHours())
		})
	}
}

func TestBusinessHours_CrossesMidnight(t *testing.T) {
	// Friday and Saturday nights only. 2026-03-13 is a Friday.
	w, err := BusinessHours{Start: "19:00", End: "02:00", Days: []string{"fri", "Saturday"}, TimeZone: "UTC"}.compile()
	require.NoError(t, err)

	tests := []struct {
		now  string
		want bool
	}{
		{"2026-03-13T18:59:00Z", false}, // Fri before opening
		{"2026-03-13T20:00:00Z", true},  // Fri evening
		{"2026-03-14T01:30:00Z", true},  // Sat early morning belongs to Friday
		{"2026-03-14T02:00:00Z", false},
		{"2026-03-15T01:00:00Z", true},  // Sun early morning belongs to Saturday
		{"2026-03-15T20:00:00Z", false}, // Sunday evening closed
		{"2026-03-13T01:00:00Z", false}, // Fri early morning belongs to Thursday
	}
	for _, tt := range tests {
		ts, err := time.Parse(time.RFC3339, tt.now)
		require.NoError(t, err)
		assert.Equal(t, tt.want, w.contains(ts), tt.now)
	}
}

func TestBusinessHours_TimeZone(t *testing.T) {
	w, err := BusinessHours{Start: "09:00", End: "18:00", TimeZone: "America/Sao_Paulo"}.compile()
	require.NoError(t, err)

	// 11:00 UTC is 08:00 in Sao Paulo (UTC-3).
	ts, _ := time.Parse(time.RFC3339, "2026-03-10T11:00:00Z")
	assert.False(t, w.contains(ts))
	ts, _ = time.Parse(time.RFC3339, "2026-03-10T12:30:00Z")
	assert.True(t, w.contains(ts))
}

func TestBusinessHours_Invalid(t *testing.T) {
	bad := []BusinessHours{
		{Start: "9", End: "18:00"},
		{Start: "09:00", End: "24:00"},
		{Start: "09:00", End: "18:61"},
		{Start: "09:00", End: "18:00", Days: []string{"funday"}},
		{Start: "09:00", End: "18:00", TimeZone: "Mars/Olympus"},
	}
	for _, h := range bad {
		_, err := NewGate(GateConfig{Hours: &h})
		assert.Error(t, err, "%+v", h)
	}
}
