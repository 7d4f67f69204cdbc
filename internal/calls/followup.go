package calls

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"crm-calls/internal/leads"
	"crm-calls/internal/metrics"
	"crm-calls/pkg/logger"
)

// FollowUp is the post-initiation bookkeeping for a placed call.
type FollowUp struct {
	LeadID      string    `json:"leadId"`
	CallID      string    `json:"callId"`
	InitiatedBy string    `json:"initiatedBy,omitempty"`
	At          time.Time `json:"at"`
}

// FollowUpDispatcher hands a follow-up to background execution. Dispatch must
// not wait for the follow-up to run.
type FollowUpDispatcher interface {
	Dispatch(ctx context.Context, f FollowUp) error
}

// FollowUpHandler applies follow-ups to the store. It is shared by the inline
// dispatcher and the queue worker.
type FollowUpHandler struct {
	leads leads.Repository
	clock func() time.Time
}

func NewFollowUpHandler(repo leads.Repository) *FollowUpHandler {
	return &FollowUpHandler{leads: repo, clock: time.Now}
}

// Apply records the initiation on the reconciled entry and marks the lead
// "In Call". A call that already reached a terminal status keeps the lead's
// status as the webhook left it.
func (h *FollowUpHandler) Apply(ctx context.Context, f FollowUp) error {
	if f.LeadID == "" || f.CallID == "" {
		return errors.New("calls: follow-up requires lead and call id")
	}
	at := f.At
	if at.IsZero() {
		at = h.clock().UTC()
	}

	_, _, err := h.leads.UpdateCallLog(ctx, f.LeadID, f.CallID, func(_ leads.Lead, e *leads.CallLogEntry) (leads.Change, error) {
		e.CallHistory = append(e.CallHistory, leads.HistoryEntry{
			Event:     "Call Initiated",
			Timestamp: at,
			Details:   "Call initiated via Retell",
			Metadata:  map[string]any{"initiatedBy": f.InitiatedBy},
		})
		e.LastUpdated = h.clock().UTC()
		if e.Status.Terminal() {
			return leads.Change{}, nil
		}
		return leads.Change{LeadStatus: leads.LeadStatusInCall}, nil
	})
	if err != nil {
		return fmt.Errorf("calls: apply follow-up for %s: %w", f.CallID, err)
	}
	return nil
}

// InlineDispatcher runs follow-ups on goroutines in this process.
type InlineDispatcher struct {
	handler *FollowUpHandler
	timeout time.Duration
	wg      sync.WaitGroup
}

func NewInlineDispatcher(h *FollowUpHandler, timeout time.Duration) *InlineDispatcher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &InlineDispatcher{handler: h, timeout: timeout}
}

// Dispatch starts the follow-up and returns immediately. The goroutine keeps
// ctx's values but not its cancellation.
func (d *InlineDispatcher) Dispatch(ctx context.Context, f FollowUp) error {
	ctx = logger.Detached(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(ctx, d.timeout)
		defer cancel()

		if err := d.handler.Apply(ctx, f); err != nil {
			logger.From(ctx).Error("calls: follow-up failed", "lead_id", f.LeadID, "call_id", f.CallID, "err", err)
			metrics.RecordFollowUp(ctx, "failed")
			return
		}
		metrics.RecordFollowUp(ctx, "success")
	}()
	return nil
}

// Wait blocks until every dispatched follow-up has finished.
func (d *InlineDispatcher) Wait() { d.wg.Wait() }
