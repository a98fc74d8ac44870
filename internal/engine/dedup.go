package engine

// ringSet remembers the most recent n ids. Push transports deliver
// at-least-once, so the same event id can arrive twice; a bounded window is
// enough because duplicates cluster around the original delivery.
type ringSet struct {
	ids  []string
	pos  int
	seen map[string]struct{}
}

func newRingSet(n int) *ringSet {
	if n <= 0 {
		n = 1
	}
	return &ringSet{
		ids:  make([]string, n),
		seen: make(map[string]struct{}, n),
	}
}

// add records id and reports whether it was new. The oldest remembered id is
// evicted once the window is full.
func (r *ringSet) add(id string) bool {
	if _, dup := r.seen[id]; dup {
		return false
	}
	if old := r.ids[r.pos]; old != "" {
		delete(r.seen, old)
	}
	r.ids[r.pos] = id
	r.seen[id] = struct{}{}
	r.pos = (r.pos + 1) % len(r.ids)
	return true
}
