package activity

// dedupCapacity bounds the FIFO of emitted event ids each stream keeps, per
// the specification's "no event id appears twice" property.
const dedupCapacity = 2000

// dedupFIFO is a bounded set: Seen reports (and records) whether an id has
// already been emitted on this stream, evicting the oldest id once full.
type dedupFIFO struct {
	seen  map[string]struct{}
	order []string
}

func newDedupFIFO() *dedupFIFO {
	return &dedupFIFO{seen: make(map[string]struct{}, dedupCapacity)}
}

// Seen reports whether id has already passed through this FIFO. If not, it
// records id (evicting the oldest entry if at capacity) and returns false.
func (d *dedupFIFO) Seen(id string) bool {
	if _, ok := d.seen[id]; ok {
		return true
	}
	if len(d.order) >= dedupCapacity {
		oldest := d.order[0]
		d.order = d.order[1:]
		delete(d.seen, oldest)
	}
	d.seen[id] = struct{}{}
	d.order = append(d.order, id)
	return false
}
