// Package backfill rewrites call log entries written before the lifecycle
// fields existed so they read like entries produced by the current code.
package backfill

import (
	"context"
	"fmt"
	"time"

	"crm-calls/internal/audit"
	"crm-calls/internal/leads"
	"crm-calls/pkg/logger"
)

const (
	defaultEventType  = "call.initiated"
	defaultHistory    = "Call Logged"
	defaultHistoryMsg = "Call log migrated from previous version"
)

type Options struct {
	DryRun bool
	Actor  audit.Actor
}

type Report struct {
	LeadsScanned      int  `json:"leadsScanned"`
	LeadsUpdated      int  `json:"leadsUpdated"`
	EntriesNormalized int  `json:"entriesNormalized"`
	DryRun            bool `json:"dryRun"`
}

type Runner struct {
	repo  leads.Repository
	audit *audit.Service
	clock func() time.Time
}

// NewRunner builds a Runner. auditSvc may be nil.
func NewRunner(repo leads.Repository, auditSvc *audit.Service) *Runner {
	return &Runner{repo: repo, audit: auditSvc, clock: time.Now}
}

// Run normalizes every lead that has call logs. Leads already in shape are
// left untouched, so running twice writes nothing the second time.
func (r *Runner) Run(ctx context.Context, opts Options) (Report, error) {
	log := logger.From(ctx)
	rep := Report{DryRun: opts.DryRun}
	now := r.clock().UTC()

	err := r.repo.ForEachLeadWithCallLogs(ctx, func(l leads.Lead) error {
		rep.LeadsScanned++

		// The scan copy only decides whether the lead needs work; the write
		// recomputes from the lead as stored so concurrent calls survive.
		rw, normalized, needed := plan(l, now)
		if !needed {
			return nil
		}
		if opts.DryRun {
			rep.LeadsUpdated++
			rep.EntriesNormalized += normalized
			log.Info("backfill: lead needs rewrite",
				"lead_id", l.ID, "entries", len(rw.Entries), "normalized", normalized, "dry_run", true)
			return nil
		}

		wrote, err := r.repo.RewriteCallLogs(ctx, l.ID, func(cur leads.Lead) (leads.CallLogRewrite, bool) {
			var ok bool
			rw, normalized, ok = plan(cur, now)
			return rw, ok
		})
		if err != nil {
			return fmt.Errorf("backfill: rewrite lead %s: %w", l.ID, err)
		}
		if !wrote {
			return nil
		}
		rep.LeadsUpdated++
		rep.EntriesNormalized += normalized
		log.Info("backfill: lead rewritten", "lead_id", l.ID, "entries", len(rw.Entries), "normalized", normalized)

		if r.audit != nil {
			if err := r.audit.LogBackfill(ctx, opts.Actor, l.ID, map[string]any{
				"entries":    len(rw.Entries),
				"normalized": normalized,
			}); err != nil {
				log.Warn("backfill: audit failed", "lead_id", l.ID, "err", err)
			}
		}
		return nil
	})
	if err != nil {
		return rep, err
	}
	log.Info("backfill: done",
		"scanned", rep.LeadsScanned, "updated", rep.LeadsUpdated, "normalized", rep.EntriesNormalized, "dry_run", opts.DryRun)
	return rep, nil
}

// plan computes the rewrite for l and how many entries it normalizes. needed
// is false when l is already in shape.
func plan(l leads.Lead, now time.Time) (rw leads.CallLogRewrite, normalized int, needed bool) {
	entries, normalized := NormalizeEntries(l.CallLogs, now)
	total, last := counters(entries)
	rw = leads.CallLogRewrite{Entries: entries, TotalCalls: total, LastCallAt: last}
	needed = normalized > 0 || total != l.TotalCalls || !sameTime(last, l.LastCallAt)
	return rw, normalized, needed
}

// NormalizeEntries returns normalized copies of entries and how many of them
// changed.
func NormalizeEntries(entries []leads.CallLogEntry, now time.Time) ([]leads.CallLogEntry, int) {
	out := make([]leads.CallLogEntry, len(entries))
	changed := 0
	for i, e := range entries {
		var ok bool
		out[i], ok = NormalizeEntry(e, now)
		if ok {
			changed++
		}
	}
	return out, changed
}

// NormalizeEntry fills the fields a legacy entry lacks. It reports whether
// anything was filled.
func NormalizeEntry(e leads.CallLogEntry, now time.Time) (leads.CallLogEntry, bool) {
	e = e.Clone()
	changed := false

	if e.Timestamp.IsZero() {
		e.Timestamp = now
		changed = true
	}
	if e.Status == "" {
		e.Status = leads.CallStatusCompleted
		changed = true
	}
	if e.Direction == "" {
		e.Direction = leads.DirectionOutbound
		changed = true
	}
	if e.StartTime == nil {
		t := e.Timestamp
		e.StartTime = &t
		changed = true
	}
	if len(e.Events) == 0 {
		eventType := e.Event
		if eventType == "" {
			eventType = defaultEventType
		}
		var data map[string]any
		if e.Notes != "" {
			data = map[string]any{"notes": e.Notes}
		}
		e.Events = []leads.RawEvent{{Type: eventType, Timestamp: e.Timestamp, Data: data}}
		changed = true
	}
	if len(e.CallHistory) == 0 {
		label := e.Event
		if label == "" {
			label = defaultHistory
		}
		details := e.Notes
		if details == "" {
			details = defaultHistoryMsg
		}
		e.CallHistory = []leads.HistoryEntry{{Event: label, Timestamp: e.Timestamp, Details: details}}
		changed = true
	}
	if changed && e.LastUpdated.IsZero() {
		e.LastUpdated = now
	}
	return e, changed
}

// counters derives totalCalls and lastCallAt from the entries.
func counters(entries []leads.CallLogEntry) (int, *time.Time) {
	var last *time.Time
	for _, e := range entries {
		if last == nil || e.Timestamp.After(*last) {
			t := e.Timestamp
			last = &t
		}
	}
	return len(entries), last
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
