package leads

import (
	"context"
	"errors"
	"sort"
	"time"
)

var (
	ErrLeadNotFound     = errors.New("leads: lead not found")
	ErrCallNotFound     = errors.New("leads: call log entry not found")
	ErrDuplicateEmail   = errors.New("leads: email already exists")
	ErrDuplicateCallID  = errors.New("leads: call id already exists for lead")
	ErrConcurrentUpdate = errors.New("leads: concurrent update, retries exhausted")
	ErrInvalidLead      = errors.New("leads: invalid lead")
	ErrRewriteShape     = errors.New("leads: rewrite must keep the lead's call ids in order")
)

// Change is what a MutateFunc asks the store to write besides the entry.
type Change struct {
	// LeadStatus, when non-empty, is written to the lead in the same unit of work.
	LeadStatus LeadStatus
}

// MutateFunc edits one call log entry in place. It runs while the store holds
// that entry exclusively and may run more than once. Returning an error
// discards the edit.
type MutateFunc func(lead Lead, entry *CallLogEntry) (Change, error)

// CallLogRewrite replaces a lead's entries and call counters. Entries must
// carry the same call ids, in the same order, as the lead it was computed from.
type CallLogRewrite struct {
	Entries    []CallLogEntry
	TotalCalls int
	LastCallAt *time.Time
}

// RewriteFunc computes a rewrite from the lead as currently stored. ok=false
// leaves the lead untouched. It may run more than once.
type RewriteFunc func(lead Lead) (rw CallLogRewrite, ok bool)

// CheckRewrite reports ErrRewriteShape unless rw keeps l's call ids in order.
func CheckRewrite(l Lead, rw CallLogRewrite) error {
	if len(rw.Entries) != len(l.CallLogs) {
		return ErrRewriteShape
	}
	for i, e := range rw.Entries {
		if e.CallID != l.CallLogs[i].CallID {
			return ErrRewriteShape
		}
	}
	return nil
}

// Repository is the persistence contract for leads and their call logs.
// Implementations must make UpdateCallLog atomic per entry: concurrent updates
// to different entries of one lead never lose each other's writes.
type Repository interface {
	// ValidID reports whether id is well-formed for this store.
	ValidID(id string) bool

	CreateLead(ctx context.Context, l Lead) (Lead, error)
	GetLead(ctx context.Context, id string) (Lead, error)
	SetLeadStatus(ctx context.Context, leadID string, status LeadStatus) error

	// AppendCallLog adds entry to the lead, sets its status and lastCallAt to
	// at, and increments totalCalls.
	AppendCallLog(ctx context.Context, leadID string, entry CallLogEntry, status LeadStatus, at time.Time) error

	// UpdateCallLog applies fn to the entry of leadID whose callId is callID and
	// returns the lead and entry as written.
	UpdateCallLog(ctx context.Context, leadID, callID string, fn MutateFunc) (Lead, CallLogEntry, error)

	// FindLeadByCallID returns the lead owning an entry with callID.
	FindLeadByCallID(ctx context.Context, callID string) (Lead, error)

	// ListCallLogs returns every entry of the owner's leads, newest first.
	ListCallLogs(ctx context.Context, ownerID string) ([]CallLogView, error)

	// ForEachLeadWithCallLogs calls fn for every lead with at least one entry.
	ForEachLeadWithCallLogs(ctx context.Context, fn func(Lead) error) error

	// RewriteCallLogs runs fn on the lead as stored at write time and writes
	// its result. Entries appended or updated concurrently are either seen by
	// fn or make the store run fn again; they are never overwritten. wrote is
	// false when fn declined.
	RewriteCallLogs(ctx context.Context, leadID string, fn RewriteFunc) (wrote bool, err error)
}

// SortNewestFirst orders views by entry timestamp, newest first.
func SortNewestFirst(views []CallLogView) {
	sort.SliceStable(views, func(i, j int) bool {
		return views[i].Timestamp.After(views[j].Timestamp)
	})
}

// Views flattens a lead's entries with its identity merged in.
func Views(l Lead) []CallLogView {
	out := make([]CallLogView, 0, len(l.CallLogs))
	for _, e := range l.CallLogs {
		out = append(out, CallLogView{
			CallLogEntry:  e,
			CustomerID:    l.ID,
			CustomerName:  l.Name,
			CustomerPhone: l.Phone,
			CustomerEmail: l.Email,
		})
	}
	return out
}
