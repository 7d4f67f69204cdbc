// Package httpkit holds gin helpers shared by handlers.
package httpkit

import (
	"net/http"

	"crm-calls/pkg/apperr"
	"crm-calls/pkg/logger"

	"github.com/gin-gonic/gin"
)

// ErrorBody is the JSON error envelope used by the call endpoints.
type ErrorBody struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	Details   any    `json:"details,omitempty"`
	Code      string `json:"code,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

// WriteError renders err. *apperr.Error values keep their message and status;
// anything else becomes a generic 500 carrying the request id.
// exposeDetails controls whether Details reach the client.
func WriteError(c *gin.Context, err error, exposeDetails bool) {
	if e, ok := apperr.As(err); ok && e.Kind != apperr.KindInternal && e.Kind != apperr.KindUnknown {
		body := ErrorBody{Error: e.Message, Code: e.Code}
		if exposeDetails || e.Kind == apperr.KindUpstream {
			body.Details = e.Details
		}
		c.AbortWithStatusJSON(e.HTTPStatus(), body)
		return
	}

	logger.FromGin(c).Error("unexpected error", "err", err)
	_ = c.Error(err)
	body := ErrorBody{Error: "An unexpected error occurred", RequestID: RequestID(c)}
	if exposeDetails {
		body.Details = err.Error()
	}
	c.AbortWithStatusJSON(http.StatusInternalServerError, body)
}

// RequestID returns the id set by logger.Middleware.
func RequestID(c *gin.Context) string {
	return c.Writer.Header().Get(logger.HeaderRequestID)
}
