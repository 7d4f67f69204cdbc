package httpapi

import (
	"errors"
	"io"
	"net/http"

	"crm-calls/internal/telephony"
	"crm-calls/pkg/apperr"
	"crm-calls/pkg/httpkit"
	"crm-calls/pkg/logger"

	"github.com/gin-gonic/gin"
)

const maxWebhookBody = 1 << 20

// CallWebhook handles POST /api/customers/webhook/call from the provider.
func (h Handlers) CallWebhook(c *gin.Context) {
	if h.Events == nil {
		notConfigured(c, "webhook reconciler")
		return
	}
	log := logger.FromGin(c)

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid webhook payload"})
		return
	}
	if h.WebhookSecret != "" && !telephony.VerifySignature(h.WebhookSecret, body, c.GetHeader(telephony.SignatureHeader)) {
		log.Warn("webhook signature rejected", "ip", c.ClientIP())
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "Invalid signature"})
		return
	}

	ev, err := telephony.ParseCallEvent(body)
	if errors.Is(err, telephony.ErrMalformedPayload) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid webhook payload"})
		return
	}
	// A missing call id is reported by the reconciler.

	res, err := h.Events.HandleCallEvent(c.Request.Context(), ev)
	if err == nil {
		c.JSON(http.StatusOK, res)
		return
	}
	if e, ok := apperr.As(err); ok && e.Kind != apperr.KindInternal && e.Kind != apperr.KindUnknown {
		httpkit.WriteError(c, err, h.ExposeDetails)
		return
	}

	eventID := ev.EventID
	if eventID == "" {
		eventID = h.Events.EventID(ev)
	}
	log.Error("webhook processing failed", "event", ev.Type, "call_id", ev.CallID, "event_id", eventID, "err", err)
	_ = c.Error(err)
	out := gin.H{"success": false, "error": "Failed to process webhook event", "eventId": eventID}
	if h.ExposeDetails {
		out["details"] = err.Error()
	}
	c.AbortWithStatusJSON(http.StatusInternalServerError, out)
}
