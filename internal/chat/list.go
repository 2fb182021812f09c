package chat

import (
	"cmp"
	"slices"
)

// compareMessages orders by timestamp, then id, so that messages sharing a
// timestamp still sort deterministically.
func compareMessages(a, b Message) int {
	if c := cmp.Compare(a.Timestamp, b.Timestamp); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// SortMessages sorts in place, ascending by timestamp.
func SortMessages(msgs []Message) {
	slices.SortStableFunc(msgs, compareMessages)
}

// Normalize returns a copy of msgs with duplicate ids dropped (first
// occurrence wins) and sorted ascending by timestamp.
func Normalize(msgs []Message) []Message {
	out := make([]Message, 0, len(msgs))
	seen := make(map[string]struct{}, len(msgs))
	for _, m := range msgs {
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}
		out = append(out, m)
	}
	SortMessages(out)
	return out
}

// Merge unions existing and incoming by id. On id collision the incoming
// copy wins. The result is sorted and trimmed to the newest max entries
// when max > 0.
func Merge(existing, incoming []Message, max int) []Message {
	byID := make(map[string]int, len(existing)+len(incoming))
	out := make([]Message, 0, len(existing)+len(incoming))
	for _, m := range existing {
		if _, dup := byID[m.ID]; dup {
			continue
		}
		byID[m.ID] = len(out)
		out = append(out, m)
	}
	for _, m := range incoming {
		if i, ok := byID[m.ID]; ok {
			out[i] = m
			continue
		}
		byID[m.ID] = len(out)
		out = append(out, m)
	}
	SortMessages(out)
	return Trim(out, max)
}

// Insert adds m to a sorted list unless its id is already present. It
// reports whether the list changed.
func Insert(msgs []Message, m Message) ([]Message, bool) {
	if ContainsID(msgs, m.ID) {
		return msgs, false
	}
	i, _ := slices.BinarySearchFunc(msgs, m, compareMessages)
	return slices.Insert(msgs, i, m), true
}

// ContainsID reports whether any message has the given id.
func ContainsID(msgs []Message, id string) bool {
	return slices.ContainsFunc(msgs, func(m Message) bool { return m.ID == id })
}

// Trim keeps the newest max messages of a sorted list.
func Trim(msgs []Message, max int) []Message {
	if max <= 0 || len(msgs) <= max {
		return msgs
	}
	return slices.Clone(msgs[len(msgs)-max:])
}

// SortConversations orders most recently updated first.
func SortConversations(convs []Conversation) {
	slices.SortStableFunc(convs, func(a, b Conversation) int {
		return cmp.Compare(b.UpdatedAt, a.UpdatedAt)
	})
}
