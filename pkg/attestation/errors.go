package attestation

import (
	"errors"
	"fmt"
)

var (
	// ErrServiceError covers non-2xx responses other than 404, malformed payloads and transport failures
	ErrServiceError = errors.New("attestation service error")
	// ErrTimeout means the attempt budget ran out while the attestation was still pending
	ErrTimeout = errors.New("attestation not ready before polling budget ran out")
	// ErrNotReady is returned per attempt while the attestation is pending or not indexed yet
	ErrNotReady = errors.New("attestation not ready")
)

// ServiceError describes an unexpected response from the attestation service
type ServiceError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *ServiceError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("attestation API error [%d]: %s", e.StatusCode, truncate(e.Body, 200))
	case e.Err != nil:
		return fmt.Sprintf("attestation API error: %v", e.Err)
	default:
		return "attestation API error"
	}
}

func (e *ServiceError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrServiceError, e.Err}
	}
	return []error{ErrServiceError}
}

// IsRateLimited reports whether the service throttled the request
func (e *ServiceError) IsRateLimited() bool {
	return e.StatusCode == 429
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
