package calls

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"crm-calls/internal/leads"
	"crm-calls/internal/metrics"
	"crm-calls/internal/realtime"
	"crm-calls/internal/telephony"
	"crm-calls/pkg/logger"

	"github.com/google/uuid"
)

// StatusProcessed is reported when an event changed no call status.
const StatusProcessed = "processed"

type ReconciliationResult struct {
	Success bool   `json:"success"`
	EventID string `json:"eventId"`
	CallID  string `json:"callId"`
	LeadID  string `json:"leadId"`
	Status  string `json:"status"`
}

// Reconciler applies provider webhook events to call log entries.
type Reconciler struct {
	leads       leads.Repository
	broadcaster realtime.Broadcaster
	clock       func() time.Time
	newID       func() string
}

func NewReconciler(repo leads.Repository, b realtime.Broadcaster) *Reconciler {
	if b == nil {
		b = realtime.Nop{}
	}
	return &Reconciler{leads: repo, broadcaster: b, clock: time.Now, newID: uuid.NewString}
}

// EventID returns the event's own id or a generated one.
func (r *Reconciler) EventID(ev telephony.CallEvent) string {
	if ev.EventID != "" {
		return ev.EventID
	}
	return r.newID()
}

// HandleCallEvent applies ev to the entry whose callId matches. It is safe to
// call repeatedly with the same event: state fields are only written by a
// transition out of a non-terminal status, while events and callHistory grow
// on every delivery.
func (r *Reconciler) HandleCallEvent(ctx context.Context, ev telephony.CallEvent) (ReconciliationResult, error) {
	eventID := r.EventID(ev)
	log := logger.From(ctx).With("event_id", eventID, "event", ev.Type, "call_id", ev.CallID)

	if ev.CallID == "" {
		metrics.RecordWebhookEvent(ctx, ev.Type, "missing_call_id")
		return ReconciliationResult{}, errMissingCallID()
	}

	lead, err := r.leads.FindLeadByCallID(ctx, ev.CallID)
	if errors.Is(err, leads.ErrCallNotFound) {
		log.Info("calls: webhook for unknown call")
		metrics.RecordWebhookEvent(ctx, ev.Type, "not_found")
		return ReconciliationResult{}, errCallNotFound()
	}
	if err != nil {
		metrics.RecordWebhookEvent(ctx, ev.Type, "error")
		return ReconciliationResult{}, fmt.Errorf("calls: find lead for call %s: %w", ev.CallID, err)
	}

	now := r.clock().UTC()
	var statusSet leads.CallStatus
	updated, entry, err := r.leads.UpdateCallLog(ctx, lead.ID, ev.CallID, func(l leads.Lead, e *leads.CallLogEntry) (leads.Change, error) {
		var change leads.Change
		statusSet, change = applyEvent(ev, now, l, e)
		return change, nil
	})
	if errors.Is(err, leads.ErrCallNotFound) || errors.Is(err, leads.ErrLeadNotFound) {
		metrics.RecordWebhookEvent(ctx, ev.Type, "not_found")
		return ReconciliationResult{}, errCallNotFound()
	}
	if err != nil {
		metrics.RecordWebhookEvent(ctx, ev.Type, "error")
		return ReconciliationResult{}, fmt.Errorf("calls: apply %s to %s: %w", ev.Type, ev.CallID, err)
	}

	status := StatusProcessed
	if statusSet != "" {
		status = string(statusSet)
	}
	log.Info("calls: webhook applied", "lead_id", updated.ID, "status", entry.Status, "status_set", status)
	metrics.RecordWebhookEvent(ctx, ev.Type, "processed")

	if err := r.broadcaster.Broadcast(ctx, realtime.CallUpdate{
		LeadID:    updated.ID,
		CallID:    ev.CallID,
		Event:     ev.Type,
		Timestamp: now,
		Data:      ev.Payload,
		OwnerID:   updated.OwnerID,
	}); err != nil {
		log.Warn("calls: broadcast failed", "err", err)
	}

	return ReconciliationResult{
		Success: true,
		EventID: eventID,
		CallID:  ev.CallID,
		LeadID:  updated.ID,
		Status:  status,
	}, nil
}

// applyEvent mutates e for one event and returns the status it set, if any,
// and the lead change to write alongside. A terminal entry never changes
// status again.
func applyEvent(ev telephony.CallEvent, now time.Time, lead leads.Lead, e *leads.CallLogEntry) (leads.CallStatus, leads.Change) {
	e.AppendEvent(ev.Type, now, ev.Payload)
	e.LastUpdated = now

	terminal := e.Status.Terminal()
	var (
		set    leads.CallStatus
		change leads.Change
	)

	switch ev.Type {
	case telephony.EventCallAnswered:
		e.AppendHistory("Call Answered", now, "The call was answered by the recipient.")
		if terminal {
			break
		}
		set = leads.CallStatusInProgress
		e.Status = set
		e.Event = "Call Answered"
		if e.StartTime == nil {
			t := now
			e.StartTime = &t
		}

	case telephony.EventCallEnded:
		if terminal {
			e.AppendHistory("Call Ended", now, "Duplicate end event, call already "+string(e.Status))
			break
		}
		set = leads.CallStatusCompleted
		e.Status = set
		e.Event = "Call Ended"
		end := now
		e.EndTime = &end
		e.Duration = callDuration(ev.Duration, e.StartTime, end)
		if ev.RecordingURL != "" {
			e.RecordingURL = ev.RecordingURL
		}
		if ev.Outcome != "" {
			e.Outcome = normalizeOutcome(ev.Outcome)
		}
		e.CallHistory = append(e.CallHistory, leads.HistoryEntry{
			Event:     "Call Ended",
			Timestamp: now,
			Details:   fmt.Sprintf("Call completed after %d seconds", e.Duration),
			Duration:  e.Duration,
		})
		change.LeadStatus = leadStatusAfterCall(lead.Status, e.Outcome)

	case telephony.EventCallFailed:
		msg := ev.ErrorMessage
		if msg == "" {
			msg = "Unknown error"
		}
		e.AppendHistory("Call Failed", now, "Call failed: "+msg)
		if terminal {
			break
		}
		set = leads.CallStatusFailed
		e.Status = set
		e.Event = "Call Failed"
		end := now
		e.EndTime = &end
		e.Error = &leads.CallError{Message: msg}
		change.LeadStatus = leadStatusAfterCall(lead.Status, "")

	case telephony.EventRecordingCompleted:
		if ev.RecordingURL != "" {
			e.RecordingURL = ev.RecordingURL
		}
		e.AppendHistory("Recording Available", now, "Call recording is now available")

	case telephony.EventTransferStarted:
		to := ev.TransferTo
		if to == "" {
			to = "another agent"
		}
		e.AppendHistory("Call Transfer Started", now, "Transferring call to "+to)

	case telephony.EventTransferCompleted:
		e.AppendHistory("Call Transfer Completed", now, "Call was successfully transferred")
	}

	return set, change
}

// callDuration prefers the provider's value, then the measured span.
func callDuration(provider *int, start *time.Time, end time.Time) int {
	if provider != nil {
		return *provider
	}
	if start != nil && !end.Before(*start) {
		return int(end.Sub(*start) / time.Second)
	}
	return 0
}

// leadStatusAfterCall derives the lead status written when a call ends.
// Interest outcomes win; otherwise a lead still marked "In Call" goes back to
// HPL.
func leadStatusAfterCall(current leads.LeadStatus, outcome leads.CallOutcome) leads.LeadStatus {
	switch outcome {
	case leads.OutcomeInterested:
		return leads.LeadStatusHPL
	case leads.OutcomeNotInterested:
		return leads.LeadStatusNPL
	}
	if current == leads.LeadStatusInCall {
		return leads.LeadStatusHPL
	}
	return ""
}

var outcomeLabels = map[string]leads.CallOutcome{
	"interested":      leads.OutcomeInterested,
	"not_interested":  leads.OutcomeNotInterested,
	"call_back_later": leads.OutcomeCallBackLater,
	"callback":        leads.OutcomeCallBackLater,
	"do_not_call":     leads.OutcomeDoNotCall,
	"wrong_number":    leads.OutcomeWrongNumber,
	"voicemail":       leads.OutcomeVoicemail,
	"no_answer":       leads.OutcomeNoAnswer,
}

// normalizeOutcome maps provider classifications such as "not_interested" or
// "Not Interested" to CallOutcome labels. Unknown values are kept as sent.
func normalizeOutcome(raw string) leads.CallOutcome {
	key := strings.ToLower(strings.TrimSpace(raw))
	key = strings.NewReplacer(" ", "_", "-", "_").Replace(key)
	if o, ok := outcomeLabels[key]; ok {
		return o
	}
	return leads.CallOutcome(strings.TrimSpace(raw))
}
