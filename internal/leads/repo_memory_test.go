package leads

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func seedLead(t *testing.T, r *MemoryRepo, owner, email string) Lead {
	t.Helper()
	l, err := r.CreateLead(context.Background(), Lead{OwnerID: owner, Name: "Ada", Email: email, Phone: "+14155550123"})
	if err != nil {
		t.Fatalf("create lead: %v", err)
	}
	return l
}

func TestMemoryRepo_CreateLeadRejectsDuplicateEmail(t *testing.T) {
	r := NewMemoryRepo()
	seedLead(t, r, "u1", "ada@example.com")
	_, err := r.CreateLead(context.Background(), Lead{Name: "Other", Email: "ADA@example.com"})
	if !errors.Is(err, ErrDuplicateEmail) {
		t.Fatalf("expected duplicate email, got %v", err)
	}
}

func TestMemoryRepo_AppendCallLogUpdatesCounters(t *testing.T) {
	r := NewMemoryRepo()
	l := seedLead(t, r, "u1", "ada@example.com")
	now := time.Unix(1700000000, 0).UTC()

	err := r.AppendCallLog(context.Background(), l.ID, CallLogEntry{CallID: "temp-1", Status: CallStatusInitiated, Timestamp: now}, LeadStatusHPL, now)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	got, _ := r.GetLead(context.Background(), l.ID)
	if got.TotalCalls != 1 || got.Status != LeadStatusHPL || got.LastCallAt == nil || !got.LastCallAt.Equal(now) {
		t.Fatalf("unexpected lead: %+v", got)
	}

	err = r.AppendCallLog(context.Background(), l.ID, CallLogEntry{CallID: "temp-1"}, "", now)
	if !errors.Is(err, ErrDuplicateCallID) {
		t.Fatalf("expected duplicate call id, got %v", err)
	}
}

func TestMemoryRepo_UpdateCallLogIsolatesEntries(t *testing.T) {
	r := NewMemoryRepo()
	l := seedLead(t, r, "u1", "ada@example.com")
	now := time.Unix(1700000000, 0).UTC()
	ctx := context.Background()
	for _, id := range []string{"a", "b"} {
		if err := r.AppendCallLog(ctx, l.ID, CallLogEntry{CallID: id, Status: CallStatusInProgress, Timestamp: now}, "", now); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		for _, id := range []string{"a", "b"} {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				_, _, err := r.UpdateCallLog(ctx, l.ID, id, func(_ Lead, e *CallLogEntry) (Change, error) {
					e.AppendEvent("call.tick", now, nil)
					return Change{}, nil
				})
				if err != nil {
					t.Errorf("update: %v", err)
				}
			}(id)
		}
	}
	wg.Wait()

	got, _ := r.GetLead(ctx, l.ID)
	for _, e := range got.CallLogs {
		if len(e.Events) != 50 {
			t.Fatalf("entry %s: expected 50 events, got %d", e.CallID, len(e.Events))
		}
	}
}

func TestMemoryRepo_UpdateCallLogDiscardsOnError(t *testing.T) {
	r := NewMemoryRepo()
	l := seedLead(t, r, "u1", "ada@example.com")
	now := time.Unix(1700000000, 0).UTC()
	ctx := context.Background()
	_ = r.AppendCallLog(ctx, l.ID, CallLogEntry{CallID: "a", Status: CallStatusInitiated}, "", now)

	boom := errors.New("boom")
	_, _, err := r.UpdateCallLog(ctx, l.ID, "a", func(_ Lead, e *CallLogEntry) (Change, error) {
		e.Status = CallStatusFailed
		return Change{}, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	got, _ := r.GetLead(ctx, l.ID)
	if got.CallLogs[0].Status != CallStatusInitiated {
		t.Fatalf("expected edit discarded, got %s", got.CallLogs[0].Status)
	}

	if _, _, err := r.UpdateCallLog(ctx, l.ID, "missing", nil); !errors.Is(err, ErrCallNotFound) {
		t.Fatalf("expected call not found, got %v", err)
	}
}

func TestMemoryRepo_ListCallLogsNewestFirstPerOwner(t *testing.T) {
	r := NewMemoryRepo()
	ctx := context.Background()
	a := seedLead(t, r, "u1", "a@example.com")
	b := seedLead(t, r, "u1", "b@example.com")
	c := seedLead(t, r, "u2", "c@example.com")
	seedLead(t, r, "u1", "nocalls@example.com")

	base := time.Unix(1700000000, 0).UTC()
	_ = r.AppendCallLog(ctx, a.ID, CallLogEntry{CallID: "a1", Timestamp: base}, "", base)
	_ = r.AppendCallLog(ctx, b.ID, CallLogEntry{CallID: "b1", Timestamp: base.Add(2 * time.Minute)}, "", base)
	_ = r.AppendCallLog(ctx, a.ID, CallLogEntry{CallID: "a2", Timestamp: base.Add(time.Minute)}, "", base)
	_ = r.AppendCallLog(ctx, c.ID, CallLogEntry{CallID: "c1", Timestamp: base.Add(time.Hour)}, "", base)

	views, err := r.ListCallLogs(ctx, "u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(views) != 3 {
		t.Fatalf("expected 3 views, got %d", len(views))
	}
	order := []string{views[0].CallID, views[1].CallID, views[2].CallID}
	if order[0] != "b1" || order[1] != "a2" || order[2] != "a1" {
		t.Fatalf("unexpected order: %v", order)
	}
	if views[0].CustomerEmail != "b@example.com" || views[0].CustomerID != b.ID {
		t.Fatalf("expected lead identity merged, got %+v", views[0])
	}
}

func TestCallStatus_Terminal(t *testing.T) {
	if CallStatusInProgress.Terminal() || CallStatusInitiated.Terminal() {
		t.Fatalf("non-terminal statuses reported terminal")
	}
	if !CallStatusCompleted.Terminal() || !CallStatusFailed.Terminal() {
		t.Fatalf("terminal statuses not reported")
	}
}

func TestMemoryRepo_RewriteCallLogs(t *testing.T) {
	r := NewMemoryRepo()
	l := seedLead(t, r, "u1", "ada@example.com")
	ctx := context.Background()
	now := time.Unix(1700000000, 0).UTC()
	for _, id := range []string{"c1", "c2"} {
		if err := r.AppendCallLog(ctx, l.ID, CallLogEntry{CallID: id, Timestamp: now}, "", now); err != nil {
			t.Fatalf("append %s: %v", id, err)
		}
	}

	wrote, err := r.RewriteCallLogs(ctx, l.ID, func(cur Lead) (CallLogRewrite, bool) {
		entries := make([]CallLogEntry, len(cur.CallLogs))
		for i, e := range cur.CallLogs {
			e.Status = CallStatusCompleted
			entries[i] = e
		}
		return CallLogRewrite{Entries: entries, TotalCalls: 2}, true
	})
	if err != nil || !wrote {
		t.Fatalf("rewrite: wrote=%v err=%v", wrote, err)
	}
	got, _ := r.GetLead(ctx, l.ID)
	if got.CallLogs[0].Status != CallStatusCompleted || got.CallLogs[1].Version != 1 || got.LastCallAt != nil {
		t.Fatalf("unexpected lead after rewrite: %+v", got)
	}

	wrote, err = r.RewriteCallLogs(ctx, l.ID, func(Lead) (CallLogRewrite, bool) { return CallLogRewrite{}, false })
	if err != nil || wrote {
		t.Fatalf("declined rewrite must not write: wrote=%v err=%v", wrote, err)
	}

	_, err = r.RewriteCallLogs(ctx, l.ID, func(cur Lead) (CallLogRewrite, bool) {
		return CallLogRewrite{Entries: cur.CallLogs[:1]}, true
	})
	if !errors.Is(err, ErrRewriteShape) {
		t.Fatalf("expected ErrRewriteShape for a dropped entry, got %v", err)
	}
	got, _ = r.GetLead(ctx, l.ID)
	if len(got.CallLogs) != 2 {
		t.Fatalf("rejected rewrite changed the lead: %+v", got.CallLogs)
	}

	if _, err := r.RewriteCallLogs(ctx, "missing", func(Lead) (CallLogRewrite, bool) { return CallLogRewrite{}, true }); !errors.Is(err, ErrLeadNotFound) {
		t.Fatalf("expected ErrLeadNotFound, got %v", err)
	}
}
