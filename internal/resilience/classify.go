package resilience

import (
	"context"
	"errors"
	"net"

	"github.com/prumolabs/prumo/internal/semantic"
)

// ExternalCall classifies errors from outbound HTTP calls. Rate limits,
// server-side failures and transport errors are retryable; context
// cancellation is terminal and not held against the breaker.
func ExternalCall(err error) Classification {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Classification{Retryable: false, RecordFailure: false}
	}

	var httpErr *semantic.HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.StatusCode == 429:
			return Classification{Retryable: true, RecordFailure: true}
		case httpErr.StatusCode >= 500:
			return Classification{Retryable: true, RecordFailure: true}
		default:
			// 4xx other than 429 is a caller bug, retrying won't help.
			return Classification{Retryable: false, RecordFailure: false}
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return Classification{Retryable: true, RecordFailure: true}
	}

	return Classification{Retryable: false, RecordFailure: true}
}
