package audit

import (
	"context"
	"sync"
)

// defaultMemoryLimit bounds the events kept when STORE_DRIVER=mongo routes
// audit records to memory in a long-running process.
const defaultMemoryLimit = 10000

// MemoryRepo keeps the most recent audit events in process. Used by tests,
// STORE_DRIVER=memory and STORE_DRIVER=mongo.
type MemoryRepo struct {
	mu      sync.Mutex
	limit   int
	dropped int
	events  []Event
}

func NewMemoryRepo() *MemoryRepo { return NewMemoryRepoWithLimit(defaultMemoryLimit) }

// NewMemoryRepoWithLimit keeps at most limit events; older ones are dropped
// first. A limit <= 0 keeps everything.
func NewMemoryRepoWithLimit(limit int) *MemoryRepo {
	return &MemoryRepo{limit: limit}
}

func (r *MemoryRepo) Append(ctx context.Context, e Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	if r.limit > 0 && len(r.events) > r.limit {
		n := len(r.events) - r.limit
		r.events = append(r.events[:0:0], r.events[n:]...)
		r.dropped += n
	}
	return nil
}

// Events returns a copy of the retained events, oldest first.
func (r *MemoryRepo) Events() []Event {
	return r.filter(func(Event) bool { return true })
}

// EventsForLead returns the retained events that reference leadID.
func (r *MemoryRepo) EventsForLead(leadID string) []Event {
	return r.filter(func(e Event) bool { return e.LeadID == leadID })
}

// Dropped reports how many events were evicted by the limit.
func (r *MemoryRepo) Dropped() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

func (r *MemoryRepo) filter(keep func(Event) bool) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, 0, len(r.events))
	for _, e := range r.events {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}
