// Package transport defines the sync kernel's outbound boundary: the
// narrow interface the orchestrator depends on (domain.Transport) plus
// shared helpers for classifying a transport adapter's raw error into the
// taxonomy the rest of the kernel branches on (spec.md §7).
package transport

import (
	"errors"
	"net/http"

	"github.com/fitloop/syncd/internal/domain"
)

// ClassifyHTTPStatus maps a response status code to the kernel's error
// taxonomy, the same boundary-classification job done for any upstream
// HTTP error.
func ClassifyHTTPStatus(status int) error {
	switch {
	case status == http.StatusOK || status == http.StatusCreated || status == http.StatusNoContent:
		return nil
	case status == http.StatusConflict:
		return domain.ErrConflict
	case status == http.StatusTooManyRequests || status >= 500:
		return domain.ErrTransientTransport
	case status >= 400:
		return domain.ErrPermanentTransport
	default:
		return domain.ErrTransientTransport
	}
}

// IsRetryable reports whether a transport adapter should retry the request,
// rather than give up on it as permanently failed, on the given error.
func IsRetryable(err error) bool {
	return errors.Is(err, domain.ErrTransientTransport) || errors.Is(err, domain.ErrNetworkUnavailable)
}
