package domain

import "errors"

// Error taxonomy (sentinels), grouped the way spec.md §7 classifies failures.
var (
	// ErrNetworkUnavailable means no connectivity or policy forbids sync; the
	// drain is a no-op and should be retried later.
	ErrNetworkUnavailable = errors.New("network unavailable")
	// ErrTransientTransport covers timeouts, 5xx, and TLS churn: retryable
	// with exponential backoff.
	ErrTransientTransport = errors.New("transient transport error")
	// ErrPermanentTransport covers 4xx validation failures: retries will not
	// help, the item escalates to failed after the ceiling.
	ErrPermanentTransport = errors.New("permanent transport error")
	// ErrConflict means the server reports diverging state; the conflict
	// detector must run before the item can be resolved.
	ErrConflict = errors.New("conflict")
	// ErrStoreError means local persistence failed; the drain aborts without
	// advancing any retry counts.
	ErrStoreError = errors.New("store error")
	// ErrPrecondition is returned at the enqueue boundary when a producer
	// violates an invariant (e.g. valid_reps > total_reps); the record is
	// rejected, never queued.
	ErrPrecondition = errors.New("producer precondition violation")
	// ErrNotFound means the referenced entity does not exist locally.
	ErrNotFound = errors.New("not found")
	// ErrSyncInProgress is returned by ops that cannot run while a drain holds
	// the single-flight lease.
	ErrSyncInProgress = errors.New("sync already in progress")
)
