package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"crm-calls/internal/auth"
	"crm-calls/internal/calls"
	"crm-calls/internal/reporting"
	"crm-calls/pkg/httpkit"

	"github.com/gin-gonic/gin"
)

type initiateCallRequest struct {
	PhoneNumber string `json:"phoneNumber"`
	LeadID      string `json:"leadId"`
}

// InitiateCall handles POST /api/customers/:id/call.
func (h Handlers) InitiateCall(c *gin.Context) {
	if h.Calls == nil {
		notConfigured(c, "call orchestrator")
		return
	}
	p, err := auth.PrincipalFrom(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "unauthorized"})
		return
	}

	var req initiateCallRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid request body"})
		return
	}
	leadID := strings.TrimSpace(c.Param("id"))
	if leadID == "" {
		leadID = req.LeadID
	}

	res, err := h.Calls.InitiateCall(c.Request.Context(), calls.InitiateRequest{
		LeadID:            leadID,
		DestinationNumber: req.PhoneNumber,
		Principal:         p,
		ClientIP:          c.ClientIP(),
	})
	if err != nil {
		httpkit.WriteError(c, err, h.ExposeDetails)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "call": res})
}

// ListCallLogs handles GET /api/customers/calls/logs.
func (h Handlers) ListCallLogs(c *gin.Context) {
	if h.Logs == nil {
		notConfigured(c, "call logs")
		return
	}
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "unauthorized"})
		return
	}
	views, err := h.Logs.ListCallLogs(c.Request.Context(), userID)
	if err != nil {
		httpkit.WriteError(c, err, h.ExposeDetails)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": views})
}

// CallsSummary handles GET /api/customers/calls/summary?from=&to= (RFC 3339).
func (h Handlers) CallsSummary(c *gin.Context) {
	if h.Reporting == nil {
		notConfigured(c, "reporting")
		return
	}
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "unauthorized"})
		return
	}

	var rng reporting.TimeRange
	for _, q := range []struct {
		name string
		dst  *time.Time
	}{{"from", &rng.From}, {"to", &rng.To}} {
		raw := c.Query(q.name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"success": false, "error": q.name + " must be an RFC 3339 timestamp"})
			return
		}
		*q.dst = t.UTC()
	}

	sum, err := h.Reporting.CallsSummary(c.Request.Context(), reporting.CallsSummaryRequest{OwnerID: userID, Range: rng})
	if errors.Is(err, reporting.ErrInvalidRequest) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid time range"})
		return
	}
	if err != nil {
		httpkit.WriteError(c, err, h.ExposeDetails)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": sum})
}
