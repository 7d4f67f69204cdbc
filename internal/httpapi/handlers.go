package httpapi

import (
	"context"
	"net/http"

	"crm-calls/internal/calls"
	"crm-calls/internal/leads"
	"crm-calls/internal/reporting"
	"crm-calls/internal/telephony"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse input, call internal services, return JSON.
type Handlers struct {
	Calls     CallInitiator
	Events    EventReconciler
	Logs      CallLogLister
	Reporting SummaryReader

	// WebhookSecret enables X-Retell-Signature verification when non-empty.
	WebhookSecret string
	// ExposeDetails returns error details to clients. Off in production.
	ExposeDetails bool
}

type CallInitiator interface {
	InitiateCall(ctx context.Context, req calls.InitiateRequest) (calls.InitiationResult, error)
}

type EventReconciler interface {
	EventID(ev telephony.CallEvent) string
	HandleCallEvent(ctx context.Context, ev telephony.CallEvent) (calls.ReconciliationResult, error)
}

type CallLogLister interface {
	ListCallLogs(ctx context.Context, ownerID string) ([]leads.CallLogView, error)
}

type SummaryReader interface {
	CallsSummary(ctx context.Context, req reporting.CallsSummaryRequest) (reporting.CallsSummary, error)
}

func Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func notConfigured(c *gin.Context, what string) {
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"success": false, "error": what + " not configured"})
}
