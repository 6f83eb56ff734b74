package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/MarcoPoloResearchLab/drive-lifecycle/internal/lifecycle"
	"github.com/MarcoPoloResearchLab/drive-lifecycle/internal/reclamation"
	"github.com/MarcoPoloResearchLab/drive-lifecycle/internal/svcerr"
	"github.com/MarcoPoloResearchLab/drive-lifecycle/internal/usage"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const reasonInternal = "internal_error"

type errorPayload struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// statusFor maps a service error onto an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, lifecycle.ErrInvalidTransition),
		errors.Is(err, lifecycle.ErrAlreadyRemoved):
		return http.StatusConflict
	case errors.Is(err, lifecycle.ErrNotFound),
		errors.Is(err, reclamation.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, lifecycle.ErrInvalidInput),
		errors.Is(err, lifecycle.ErrInvalidID),
		errors.Is(err, lifecycle.ErrInvalidStatus),
		errors.Is(err, lifecycle.ErrInvalidMove),
		errors.Is(err, reclamation.ErrUnknownKind),
		errors.Is(err, reclamation.ErrInvalidEntityID),
		errors.Is(err, usage.ErrInvalidUserID),
		errors.Is(err, usage.ErrOpenPeriod):
		return http.StatusBadRequest
	case errors.Is(err, lifecycle.ErrCascadeLimitExceeded):
		return http.StatusUnprocessableEntity
	case errors.Is(err, usage.ErrIncompleteRollupWindow):
		return http.StatusPreconditionFailed
	case svcerr.IsRetryable(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// reasonOf returns the trailing segment of the error code.
func reasonOf(code string) string {
	if index := strings.LastIndex(code, "."); index >= 0 && index < len(code)-1 {
		return code[index+1:]
	}
	if code == "" {
		return reasonInternal
	}
	return code
}

func (h *httpHandler) respondError(c *gin.Context, err error) {
	status := statusFor(err)
	code := svcerr.CodeOf(err)
	reason := reasonOf(code)
	if code == "" && status == http.StatusBadRequest {
		reason = "invalid_request"
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.String("caller", c.GetString(callerContextKey)),
			zap.String("code", code),
			zap.Error(err))
	}
	c.JSON(status, errorPayload{Error: reason, Code: code})
}

func badRequest(c *gin.Context, reason string) {
	c.JSON(http.StatusBadRequest, errorPayload{Error: reason})
}
