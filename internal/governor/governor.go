// Package governor bounds the number of active downloads and holds overflow in FIFO order.
package governor

// Governor tracks active slots and the overflow queue. It is not safe for
// concurrent use; the engine loop owns it.
type Governor struct {
	limit  int
	active int
	queue  []string
}

// New creates a Governor with the given concurrency limit (minimum 1).
func New(limit int) *Governor {
	g := &Governor{}
	g.SetLimit(limit)
	return g
}

// TryAcquire takes a slot if one is free.
func (g *Governor) TryAcquire() bool {
	if g.active >= g.limit {
		return false
	}
	g.active++
	return true
}

// Release frees exactly one slot.
func (g *Governor) Release() {
	if g.active > 0 {
		g.active--
	}
}

// Enqueue appends id to the tail of the overflow queue.
func (g *Governor) Enqueue(id string) {
	g.queue = append(g.queue, id)
}

// Next pops the oldest queued id while capacity is available. It does not take
// the slot; the caller admits the id, which acquires it.
func (g *Governor) Next() (string, bool) {
	if len(g.queue) == 0 || g.active >= g.limit {
		return "", false
	}
	id := g.queue[0]
	g.queue[0] = ""
	g.queue = g.queue[1:]
	if len(g.queue) == 0 {
		g.queue = nil
	}
	return id, true
}

// SetLimit replaces the concurrency limit. Lowering it never evicts active work.
func (g *Governor) SetLimit(limit int) {
	if limit < 1 {
		limit = 1
	}
	g.limit = limit
}

// Limit returns the configured concurrency limit.
func (g *Governor) Limit() int { return g.limit }

// Active returns the number of occupied slots.
func (g *Governor) Active() int { return g.active }

// Queued returns the number of ids waiting for a slot.
func (g *Governor) Queued() int { return len(g.queue) }

// Pending returns a copy of the queued ids in admission order.
func (g *Governor) Pending() []string {
	out := make([]string, len(g.queue))
	copy(out, g.queue)
	return out
}
