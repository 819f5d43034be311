package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/square-key-labs/omni-ai/src/services"
	"github.com/square-key-labs/omni-ai/src/store"
)

// validationError is a client mistake reported verbatim with 400.
type validationError struct {
	msg string
}

func (e *validationError) Error() string { return e.msg }

func invalid(msg string) error {
	return &validationError{msg: msg}
}

// statusFor maps an error onto the HTTP status and the one-line message sent
// to the client.
func statusFor(err error) (int, string) {
	var (
		verr   *validationError
		apiErr *services.APIError
	)
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, verr.msg
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, store.ErrDuplicate):
		return http.StatusConflict, "already exists"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "Request timeout"
	case errors.As(err, &apiErr):
		return apiErr.Status, apiErr.Message
	default:
		return http.StatusInternalServerError, err.Error()
	}
}

func (s *Server) fail(c *gin.Context, err error) {
	status, msg := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.With("request_id", c.GetString(requestIDKey)).Error("%s %s: %v", c.Request.Method, c.Request.URL.Path, err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}
