package domain

import (
	"errors"
	"fmt"
)

// ErrContextBlocked marks a context submission the backend rejected during
// sanitization. The controller surfaces it distinctly and falls back to a
// single plain generation.
var ErrContextBlocked = errors.New("user context rejected by backend")

// ErrOperationInFlight is returned when a second generate or delete intent
// arrives while one is already running for the same key.
var ErrOperationInFlight = errors.New("operation already in flight for this insight")

// GatewayError carries the backend's status code and message through the
// controller boundary.
type GatewayError struct {
	StatusCode int
	Message    string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("backend returned %d: %s", e.StatusCode, e.Message)
}
