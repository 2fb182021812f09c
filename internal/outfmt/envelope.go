package outfmt

import (
	"encoding/json"
	"reflect"

	"github.com/comanda/chatsync/internal/chat"
)

// envelope wraps list output as {"items": [...], "count": n} so jq and
// templates address every list the same way. Message and conversation
// lists also carry the totals the text tables show: pending and failed
// local sends, and unread messages.
func envelope(v any) any {
	switch list := v.(type) {
	case nil, []byte, json.RawMessage:
		return v
	case []chat.Message:
		out := listEnvelope(list, len(list))
		pending, failed := 0, 0
		for _, m := range list {
			if m.Pending {
				pending++
			}
			if m.Failed {
				failed++
			}
		}
		out["pending"], out["failed"] = pending, failed
		return out
	case []chat.Conversation:
		out := listEnvelope(list, len(list))
		unread := 0
		for _, c := range list {
			unread += c.UnreadCount
		}
		out["unread"] = unread
		return out
	}

	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return v
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return v
	}
	if rv.Type().Elem().Kind() == reflect.Uint8 {
		return v
	}
	switch inner := rv.Interface().(type) {
	case []chat.Message, []chat.Conversation:
		return envelope(inner)
	}
	return listEnvelope(rv.Interface(), rv.Len())
}

// listEnvelope never emits "items": null, which breaks .items[].
func listEnvelope(items any, n int) map[string]any {
	if n == 0 {
		items = []any{}
	}
	return map[string]any{"items": items, "count": n}
}
