// Package calls places outbound lead calls and reconciles provider webhook
// events into the lead's call log.
package calls

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"crm-calls/internal/audit"
	"crm-calls/internal/auth"
	"crm-calls/internal/leads"
	"crm-calls/internal/metrics"
	"crm-calls/internal/telephony"
	"crm-calls/pkg/apperr"
	"crm-calls/pkg/logger"
	"crm-calls/pkg/phone"
	"crm-calls/pkg/validate"
)

// PlaceholderPrefix marks call ids that have not been reconciled with the
// provider yet.
const PlaceholderPrefix = "temp-"

const initiatedStatus = "initiated"

type InitiateRequest struct {
	LeadID            string
	DestinationNumber string
	Principal         auth.Principal
	ClientIP          string
}

// InitiationResult is returned once the provider accepted the call.
type InitiationResult struct {
	CallID    string    `json:"id"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// OrchestratorDeps wires the orchestrator. Leads and Provider are required.
type OrchestratorDeps struct {
	Leads     leads.Repository
	Provider  telephony.Provider
	Validator *validate.Validator
	FollowUps FollowUpDispatcher
	Audit     *audit.Service
	InFlight  InFlightLimiter
	// FromNumber is recorded on entries; the provider dials from its own config.
	FromNumber string
	Clock      func() time.Time
}

type Orchestrator struct {
	leads      leads.Repository
	provider   telephony.Provider
	validator  *validate.Validator
	followUps  FollowUpDispatcher
	audit      *audit.Service
	inFlight   InFlightLimiter
	fromNumber string
	clock      func() time.Time
}

func NewOrchestrator(d OrchestratorDeps) (*Orchestrator, error) {
	if d.Leads == nil {
		return nil, errors.New("calls: lead repository is required")
	}
	if d.Provider == nil {
		return nil, errors.New("calls: call provider is required")
	}
	if d.Validator == nil {
		d.Validator = validate.New(phone.DefaultRegion)
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}
	return &Orchestrator{
		leads:      d.Leads,
		provider:   d.Provider,
		validator:  d.Validator,
		followUps:  d.FollowUps,
		audit:      d.Audit,
		inFlight:   d.InFlight,
		fromNumber: d.FromNumber,
		clock:      d.Clock,
	}, nil
}

// InitiateCall validates the request, persists a provisional call log entry,
// asks the provider to dial, and reconciles the entry with the provider's
// call id. A provider failure leaves the entry marked Failed.
func (o *Orchestrator) InitiateCall(ctx context.Context, req InitiateRequest) (InitiationResult, error) {
	dest := strings.TrimSpace(req.DestinationNumber)
	leadID := strings.TrimSpace(req.LeadID)

	if err := o.validator.Var(dest, "required"); err != nil {
		return o.rejected(ctx, errMissingDestination())
	}
	if err := o.validator.Var(leadID, "required"); err != nil {
		return o.rejected(ctx, errMissingLeadID())
	}
	if !o.leads.ValidID(leadID) {
		return o.rejected(ctx, errInvalidLeadID())
	}
	lead, err := o.leads.GetLead(ctx, leadID)
	if errors.Is(err, leads.ErrLeadNotFound) {
		return o.rejected(ctx, errLeadNotFound())
	}
	if err != nil {
		return InitiationResult{}, fmt.Errorf("calls: load lead %s: %w", leadID, err)
	}
	if err := o.validator.Var(dest, validate.TagPhoneE164); err != nil {
		return o.rejected(ctx, errInvalidPhone())
	}

	if o.inFlight != nil && req.Principal.UserID != "" {
		release, err := o.inFlight.Acquire(ctx, req.Principal.UserID)
		switch {
		case errors.Is(err, ErrTooManyInFlight):
			return o.rejected(ctx, errTooManyCalls())
		case err != nil:
			logger.From(ctx).Warn("calls: in-flight cap unavailable, continuing", "err", err)
		default:
			defer release()
		}
	}

	// From here on the entry must end up reconciled or failed even if the
	// caller goes away.
	ctx = logger.Detached(ctx)
	log := logger.From(ctx).With("lead_id", lead.ID)

	now := o.clock().UTC()
	placeholder := PlaceholderPrefix + strconv.FormatInt(now.UnixNano(), 10)
	entry := o.provisionalEntry(lead, placeholder, dest, req.Principal.UserID, now)
	if err := o.leads.AppendCallLog(ctx, lead.ID, entry, leads.LeadStatusHPL, now); err != nil {
		return InitiationResult{}, fmt.Errorf("calls: persist provisional entry: %w", err)
	}
	log.Info("calls: provisional entry created", "call_id", placeholder)

	started := time.Now()
	res, perr := o.provider.CreatePhoneCall(ctx, telephony.OutboundCallRequest{
		ToNumber: dest,
		LeadID:   lead.ID,
		LeadName: lead.Name,
		Metadata: map[string]string{
			"leadId":      lead.ID,
			"leadName":    lead.Name,
			"callLogId":   placeholder,
			"initiatedBy": req.Principal.UserID,
		},
		Recording: telephony.DefaultRecording(lead.Name),
	})
	metrics.RecordProviderRequest(ctx, o.provider.Name(), time.Since(started), perr == nil)
	if perr != nil {
		return o.fail(ctx, lead, placeholder, req, perr)
	}

	at := o.clock().UTC()
	if err := o.reconcile(ctx, lead.ID, placeholder, res, at); err != nil {
		// The phone is already ringing, so the caller still gets the call id.
		// Webhooks for it will miss until the entry is repaired by hand.
		log.Error("calls: provisional entry left unreconciled",
			"call_id", placeholder, "provider_call_id", res.CallID, "attempts", reconcileAttempts, "err", err)
	}
	log.Info("calls: call initiated", "call_id", res.CallID, "to", logger.MaskPhone(dest))

	if o.audit != nil {
		if err := o.audit.LogCallInitiated(ctx, actorOf(req), lead.ID, res.CallID, map[string]any{"to": dest, "placeholder": placeholder}); err != nil {
			log.Warn("calls: audit write failed", "err", err)
		}
	}
	if o.followUps != nil {
		f := FollowUp{LeadID: lead.ID, CallID: res.CallID, InitiatedBy: req.Principal.UserID, At: at}
		if err := o.followUps.Dispatch(ctx, f); err != nil {
			log.Error("calls: follow-up dispatch failed", "call_id", res.CallID, "err", err)
		}
	}
	metrics.RecordInitiation(ctx, "success")

	return InitiationResult{CallID: res.CallID, Status: initiatedStatus, Timestamp: now}, nil
}

// reconcileAttempts bounds how often the placeholder is retried against the
// provider call id after the provider accepted the call.
const reconcileAttempts = 3

// reconcile swaps the placeholder id for the provider's and marks the entry
// In Progress. A retry that finds the placeholder gone checks whether an
// earlier attempt landed after all.
func (o *Orchestrator) reconcile(ctx context.Context, leadID, placeholder string, res telephony.OutboundCallResult, at time.Time) error {
	var err error
	for attempt := 1; attempt <= reconcileAttempts; attempt++ {
		_, _, err = o.leads.UpdateCallLog(ctx, leadID, placeholder, func(_ leads.Lead, e *leads.CallLogEntry) (leads.Change, error) {
			e.CallID = res.CallID
			e.Status = leads.CallStatusInProgress
			e.Event = "Call Connected"
			e.LastUpdated = at
			if e.Metadata == nil {
				e.Metadata = map[string]any{}
			}
			e.Metadata["provider"] = o.provider.Name()
			if res.Status != "" {
				e.Metadata["providerStatus"] = res.Status
			}
			e.AppendHistory("Call Connected", at, fmt.Sprintf("Call placed with %s, call id %s", o.provider.Name(), res.CallID))
			return leads.Change{}, nil
		})
		if err == nil {
			return nil
		}
		if attempt > 1 && errors.Is(err, leads.ErrCallNotFound) {
			if l, ferr := o.leads.FindLeadByCallID(ctx, res.CallID); ferr == nil && l.ID == leadID {
				return nil
			}
		}
		logger.From(ctx).Warn("calls: reconcile provisional entry failed", "call_id", placeholder, "attempt", attempt, "err", err)
	}
	return err
}

func (o *Orchestrator) provisionalEntry(lead leads.Lead, callID, dest, userID string, now time.Time) leads.CallLogEntry {
	return leads.CallLogEntry{
		CallID:     callID,
		Status:     leads.CallStatusInitiated,
		Event:      "Call Initiated",
		Direction:  leads.DirectionOutbound,
		FromNumber: o.fromNumber,
		ToNumber:   dest,
		Notes:      "Call initiation in progress",
		Metadata: map[string]any{
			"leadId":      lead.ID,
			"leadName":    lead.Name,
			"initiatedBy": userID,
		},
		Events: []leads.RawEvent{},
		CallHistory: []leads.HistoryEntry{{
			Event:     "Call Initiated",
			Timestamp: now,
			Details:   "Outbound call requested to " + dest,
		}},
		Timestamp:   now,
		LastUpdated: now,
	}
}

// fail marks the provisional entry Failed and converts perr into the client
// error. Store errors here are logged; the provider failure is what the
// caller sees.
func (o *Orchestrator) fail(ctx context.Context, lead leads.Lead, placeholder string, req InitiateRequest, perr error) (InitiationResult, error) {
	log := logger.From(ctx).With("lead_id", lead.ID, "call_id", placeholder)

	details := perr.Error()
	status := 0
	var pe *telephony.ProviderError
	if errors.As(perr, &pe) {
		details = pe.Details()
		status = pe.StatusCode
	}

	at := o.clock().UTC()
	_, _, err := o.leads.UpdateCallLog(ctx, lead.ID, placeholder, func(_ leads.Lead, e *leads.CallLogEntry) (leads.Change, error) {
		e.Status = leads.CallStatusFailed
		e.Event = "Call Failed"
		e.Notes = "Call failed to initiate: " + details
		e.LastUpdated = at
		e.Error = &leads.CallError{
			Message:    "Failed to initiate call",
			Code:       CodeCallInitiationFailed,
			StatusCode: status,
			Details:    details,
		}
		e.AppendHistory("Call Failed", at, details)
		return leads.Change{}, nil
	})
	if err != nil {
		log.Error("calls: mark provisional entry failed", "err", err)
	}
	log.Warn("calls: provider request failed", "status_code", status, "err", perr)

	if o.audit != nil {
		if err := o.audit.LogCallInitiationFailed(ctx, actorOf(req), lead.ID, placeholder, details, map[string]any{"statusCode": status}); err != nil {
			log.Warn("calls: audit write failed", "err", err)
		}
	}
	metrics.RecordInitiation(ctx, "failed")

	return InitiationResult{}, apperr.Wrap(apperr.KindUpstream, "Failed to initiate call", perr).
		WithCode(CodeCallInitiationFailed).
		WithStatus(clientStatus(status)).
		WithDetails(details)
}

// clientStatus passes a provider error status through and maps everything
// else, including a missing status or a 2xx without a call id, to 500.
func clientStatus(providerStatus int) int {
	if providerStatus >= 400 && providerStatus <= 599 {
		return providerStatus
	}
	return http.StatusInternalServerError
}

func (o *Orchestrator) rejected(ctx context.Context, e *apperr.Error) (InitiationResult, error) {
	metrics.RecordInitiation(ctx, strings.ToLower(e.Code))
	return InitiationResult{}, e.WithOp("calls.InitiateCall")
}

func actorOf(req InitiateRequest) audit.Actor {
	return audit.Actor{UserID: req.Principal.UserID, Role: req.Principal.Role, IP: req.ClientIP}
}
