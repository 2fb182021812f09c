package syncengine

// idRing remembers the last N message ids seen for a conversation.
type idRing struct {
	ids  []string
	next int
	set  map[string]struct{}
}

func newIDRing(size int) *idRing {
	return &idRing{ids: make([]string, 0, size), set: make(map[string]struct{}, size)}
}

func (r *idRing) has(id string) bool {
	_, ok := r.set[id]
	return ok
}

func (r *idRing) add(id string) {
	if r.has(id) {
		return
	}
	if len(r.ids) < cap(r.ids) {
		r.ids = append(r.ids, id)
	} else {
		delete(r.set, r.ids[r.next])
		r.ids[r.next] = id
		r.next = (r.next + 1) % len(r.ids)
	}
	r.set[id] = struct{}{}
}
