package homeassistant

import (
	"errors"
	"fmt"
	"net/http"
)

// HAError represents a Home Assistant-specific error
type HAError struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *HAError) Error() string {
	if e.Details != nil {
		return fmt.Sprintf("HA Error %d: %s (details: %v)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("HA Error %d: %s", e.Code, e.Message)
}

// NewHAError creates a new HAError with custom details
func NewHAError(code int, message string, details map[string]any) *HAError {
	return &HAError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// REST error sentinels.
var (
	ErrUnauthorized = &HAError{
		Code:    http.StatusUnauthorized,
		Message: "Unauthorized access to Home Assistant",
	}
	ErrEntityNotFound = &HAError{
		Code:    http.StatusNotFound,
		Message: "Entity not found",
	}
	ErrInvalidURL = &HAError{
		Code:    0,
		Message: "Invalid Home Assistant URL",
	}
	ErrMissingToken = &HAError{
		Code:    0,
		Message: "Home Assistant access token not configured",
	}
)

// Protocol error sentinels. Timeout and connection-closed are distinct so
// callers can tell a slow hub from a dropped socket; both are retryable,
// an auth rejection is not.
var (
	ErrNotConnected      = errors.New("websocket not connected")
	ErrRequestTimeout    = errors.New("request timed out waiting for reply")
	ErrConnectionClosed  = errors.New("websocket connection closed")
	ErrAuthInvalid       = errors.New("authentication rejected by Home Assistant")
	ErrHandlerRegistered = errors.New("event handler already registered for this event type")
)

// IsTimeout reports whether the error is a request timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrRequestTimeout)
}

// IsConnectionError reports whether the error indicates a lost or absent
// connection.
func IsConnectionError(err error) bool {
	return errors.Is(err, ErrNotConnected) || errors.Is(err, ErrConnectionClosed)
}

// IsAuthError reports whether the error is an authentication failure.
func IsAuthError(err error) bool {
	if errors.Is(err, ErrAuthInvalid) {
		return true
	}
	var haErr *HAError
	if errors.As(err, &haErr) {
		return haErr.Code == http.StatusUnauthorized
	}
	return false
}
