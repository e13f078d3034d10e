package handlers

import (
	"errors"
	"net/http"
	"time"

	"equityjournal/internal/apperr"
	"equityjournal/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const requestIDHeader = "X-Request-ID"

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Status    int                    `json:"status"`
	ErrorCode string                 `json:"error_code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	RequestID string                 `json:"request_id"`
	Timestamp time.Time              `json:"timestamp"`
}

// RequestID tags each request with an id, reusing the caller's when given.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func statusOf(kind apperr.Kind) int {
	switch kind {
	case apperr.KindInvalidArgument, apperr.KindUnsupportedEntryKind:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindInsufficientHoldings, apperr.KindInsufficientAvailableCapital, apperr.KindInsufficientCash:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	status := statusOf(kind)
	resp := ErrorResponse{
		Status:    status,
		ErrorCode: kind.String(),
		Message:   err.Error(),
		RequestID: c.GetString("request_id"),
		Timestamp: time.Now().UTC(),
	}

	var ae *apperr.Error
	if errors.As(err, &ae) {
		resp.Message = ae.Message
		if len(ae.Details) > 0 {
			resp.Details = map[string]interface{}{}
			for k, v := range ae.Details {
				resp.Details[k] = v
			}
		}
	}
	if sf, ok := apperr.ShortfallOf(err); ok {
		if resp.Details == nil {
			resp.Details = map[string]interface{}{}
		}
		resp.Details["available"] = sf.Available.StringFixed(2)
		resp.Details["required"] = sf.Required.StringFixed(2)
		resp.Details["shortfall"] = sf.Shortfall.StringFixed(2)
		resp.Details["shortfall_display"] = models.FormatMoney(sf.Shortfall, h.currency)
	}

	if status == http.StatusInternalServerError {
		h.log.Errorf("%s %s failed: %v", c.Request.Method, c.FullPath(), err)
		resp.Message = "internal error"
	} else {
		h.log.Warnf("%s %s rejected: %v", c.Request.Method, c.FullPath(), err)
	}
	if h.metrics != nil {
		h.metrics.ObserveError(resp.ErrorCode)
	}
	c.AbortWithStatusJSON(status, resp)
}

func (h *Handler) badRequest(c *gin.Context, format string, args ...interface{}) {
	h.fail(c, apperr.InvalidArgument(format, args...))
}
