package leads

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepo keeps leads in process. One mutex serializes all writes, which
// trivially satisfies per-entry atomicity. Used by tests and STORE_DRIVER=memory.
type MemoryRepo struct {
	mu    sync.Mutex
	leads map[string]*Lead
	clock func() time.Time
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{leads: map[string]*Lead{}, clock: time.Now}
}

func (r *MemoryRepo) ValidID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func (r *MemoryRepo) CreateLead(ctx context.Context, l Lead) (Lead, error) {
	if strings.TrimSpace(l.Name) == "" {
		return Lead{}, ErrInvalidLead
	}
	l.Email = strings.ToLower(strings.TrimSpace(l.Email))

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.leads {
		if l.Email != "" && existing.Email == l.Email {
			return Lead{}, ErrDuplicateEmail
		}
	}
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.Status == "" {
		l.Status = LeadStatusUntouched
	}
	now := r.clock().UTC()
	if l.CreatedAt.IsZero() {
		l.CreatedAt = now
	}
	l.UpdatedAt = now
	if l.CallLogs == nil {
		l.CallLogs = []CallLogEntry{}
	}
	stored := l.Clone()
	r.leads[l.ID] = &stored
	return l.Clone(), nil
}

func (r *MemoryRepo) GetLead(ctx context.Context, id string) (Lead, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.leads[id]
	if !ok {
		return Lead{}, ErrLeadNotFound
	}
	return l.Clone(), nil
}

func (r *MemoryRepo) SetLeadStatus(ctx context.Context, leadID string, status LeadStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.leads[leadID]
	if !ok {
		return ErrLeadNotFound
	}
	l.Status = status
	l.UpdatedAt = r.clock().UTC()
	return nil
}

func (r *MemoryRepo) AppendCallLog(ctx context.Context, leadID string, entry CallLogEntry, status LeadStatus, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.leads[leadID]
	if !ok {
		return ErrLeadNotFound
	}
	if l.FindCallLog(entry.CallID) >= 0 {
		return ErrDuplicateCallID
	}
	l.CallLogs = append(l.CallLogs, entry.Clone())
	if status != "" {
		l.Status = status
	}
	t := at
	l.LastCallAt = &t
	l.TotalCalls++
	l.UpdatedAt = r.clock().UTC()
	return nil
}

func (r *MemoryRepo) UpdateCallLog(ctx context.Context, leadID, callID string, fn MutateFunc) (Lead, CallLogEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.leads[leadID]
	if !ok {
		return Lead{}, CallLogEntry{}, ErrLeadNotFound
	}
	idx := l.FindCallLog(callID)
	if idx < 0 {
		return Lead{}, CallLogEntry{}, ErrCallNotFound
	}

	entry := l.CallLogs[idx].Clone()
	change, err := fn(l.Clone(), &entry)
	if err != nil {
		return Lead{}, CallLogEntry{}, err
	}
	if entry.CallID != callID {
		if other := l.FindCallLog(entry.CallID); other >= 0 && other != idx {
			return Lead{}, CallLogEntry{}, ErrDuplicateCallID
		}
	}

	entry.Version++
	l.CallLogs[idx] = entry
	if change.LeadStatus != "" {
		l.Status = change.LeadStatus
	}
	l.UpdatedAt = r.clock().UTC()
	return l.Clone(), entry.Clone(), nil
}

func (r *MemoryRepo) FindLeadByCallID(ctx context.Context, callID string) (Lead, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.leads {
		if l.FindCallLog(callID) >= 0 {
			return l.Clone(), nil
		}
	}
	return Lead{}, ErrCallNotFound
}

func (r *MemoryRepo) ListCallLogs(ctx context.Context, ownerID string) ([]CallLogView, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]CallLogView, 0)
	for _, l := range r.leads {
		if l.OwnerID != ownerID || len(l.CallLogs) == 0 {
			continue
		}
		out = append(out, Views(l.Clone())...)
	}
	SortNewestFirst(out)
	return out, nil
}

func (r *MemoryRepo) ForEachLeadWithCallLogs(ctx context.Context, fn func(Lead) error) error {
	r.mu.Lock()
	snapshot := make([]Lead, 0, len(r.leads))
	for _, l := range r.leads {
		if len(l.CallLogs) > 0 {
			snapshot = append(snapshot, l.Clone())
		}
	}
	r.mu.Unlock()

	for _, l := range snapshot {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(l); err != nil {
			return err
		}
	}
	return nil
}

func (r *MemoryRepo) RewriteCallLogs(ctx context.Context, leadID string, fn RewriteFunc) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.leads[leadID]
	if !ok {
		return false, ErrLeadNotFound
	}
	rw, ok := fn(l.Clone())
	if !ok {
		return false, nil
	}
	if err := CheckRewrite(*l, rw); err != nil {
		return false, err
	}
	entries := make([]CallLogEntry, len(rw.Entries))
	for i, e := range rw.Entries {
		entries[i] = e.Clone()
		entries[i].Version = l.CallLogs[i].Version + 1
	}
	l.CallLogs = entries
	l.TotalCalls = rw.TotalCalls
	l.LastCallAt = cloneTime(rw.LastCallAt)
	l.UpdatedAt = r.clock().UTC()
	return true, nil
}
