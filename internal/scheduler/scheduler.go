// Package scheduler implements the stateless exponential-backoff readiness
// predicate described in spec.md §4.3. It holds no state of its own: every
// call is a pure function of its inputs, so the store's retryable query
// (the only caller) is free to persist whatever it needs.
package scheduler

import "github.com/fitloop/syncd/internal/domain"

// InitialBackoffMS is the delay at retry_count == 0; after the first failure
// (retry_count == 1) the delay is already twice this.
const InitialBackoffMS int64 = 1000

// MaxBackoffMS is the backoff ceiling regardless of retry count.
const MaxBackoffMS int64 = 60000

// Backoff returns the delay, in milliseconds, before a retry at the given
// retry count is eligible: min(1000 * 2^retry, 60000). It is monotonically
// non-decreasing in retryCount.
func Backoff(retryCount int) int64 {
	if retryCount < 0 {
		retryCount = 0
	}
	delay := InitialBackoffMS
	for i := 0; i < retryCount; i++ {
		delay *= 2
		if delay >= MaxBackoffMS {
			return MaxBackoffMS
		}
	}
	if delay > MaxBackoffMS {
		delay = MaxBackoffMS
	}
	return delay
}

// Ready reports whether an item with the given retry count and last-update
// timestamp (ms since epoch) is eligible for a retry at now (ms since
// epoch). force bypasses the backoff window for a manually-triggered sync
// (spec.md §9 Open Question) but never bypasses the MaxRetries ceiling.
func Ready(retryCount int, updatedAtMS, nowMS int64, force bool) bool {
	if retryCount >= domain.MaxRetries {
		return false
	}
	if force {
		return true
	}
	return nowMS >= updatedAtMS+Backoff(retryCount)
}
