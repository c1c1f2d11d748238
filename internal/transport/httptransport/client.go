// Package httptransport adapts the sync kernel's domain.Transport port to a
// plain JSON-over-HTTP upload endpoint, retrying transient failures with
// github.com/cenkalti/backoff/v4 — a retry curve distinct from (and wired
// independently of) the queue scheduler's own backoff.
package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/fitloop/syncd/internal/domain"
	"github.com/fitloop/syncd/internal/transport"
)

// Config tunes the HTTP client's timeout and its retry curve.
type Config struct {
	Timeout          time.Duration
	BackoffMaxElapsed time.Duration
	BackoffInitial   time.Duration
	BackoffMax       time.Duration
	BackoffMultiplier float64
}

// Client uploads queue items to a remote endpoint over HTTP, one item per
// request. It implements domain.Transport.
type Client struct {
	baseURL string
	http    *http.Client
	cfg     Config
}

// New builds a Client targeting baseURL (e.g. "https://api.example.com/sync").
func New(baseURL string, cfg Config) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: cfg.Timeout},
		cfg:     cfg,
	}
}

type uploadResponse struct {
	Status string         `json:"status"` // "ack" | "conflict"
	Server map[string]any `json:"server,omitempty"`
}

// Upload POSTs the item's opaque payload and retries transient failures
// (network errors, 5xx, 429) per the client's backoff curve. Permanent
// failures (4xx other than 409) and conflicts (409) return immediately
// without retrying — retrying either would never succeed.
func (c *Client) Upload(ctx domain.Context, item domain.SyncQueueItem) (domain.UploadOutcome, error) {
	var outcome domain.UploadOutcome

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.cfg.BackoffInitial
	policy.MaxInterval = c.cfg.BackoffMax
	policy.MaxElapsedTime = c.cfg.BackoffMaxElapsed
	policy.Multiplier = c.cfg.BackoffMultiplier
	if policy.Multiplier == 0 {
		policy.Multiplier = backoff.DefaultMultiplier
	}

	operation := func() error {
		o, err := c.doOnce(ctx, item)
		outcome = o
		if err != nil && transport.IsRetryable(err) {
			return err // retried by backoff.Retry
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		var perm *backoff.PermanentError
		if ok := asPermanent(err, &perm); ok {
			return outcome, perm.Err
		}
		return outcome, fmt.Errorf("op=httptransport.upload: %w", domain.ErrTransientTransport)
	}
	return outcome, nil
}

func (c *Client) doOnce(ctx context.Context, item domain.SyncQueueItem) (domain.UploadOutcome, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(item.Payload))
	if err != nil {
		return domain.UploadOutcome{}, fmt.Errorf("op=httptransport.do.new_request: %w", domain.ErrPermanentTransport)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Entity-Kind", string(item.EntityKind))
	req.Header.Set("X-Operation", string(item.Operation))

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.UploadOutcome{Kind: domain.OutcomeTransientError, Err: err},
			fmt.Errorf("op=httptransport.do.request: %w", domain.ErrTransientTransport)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if clsErr := transport.ClassifyHTTPStatus(resp.StatusCode); clsErr != nil {
		switch {
		case clsErr == domain.ErrConflict:
			var ur uploadResponse
			_ = json.Unmarshal(body, &ur)
			return domain.UploadOutcome{Kind: domain.OutcomeConflict, ServerRecord: ur.Server}, clsErr
		case clsErr == domain.ErrTransientTransport:
			return domain.UploadOutcome{Kind: domain.OutcomeTransientError, Err: clsErr}, clsErr
		default:
			return domain.UploadOutcome{Kind: domain.OutcomePermanentError, Err: clsErr}, clsErr
		}
	}

	return domain.UploadOutcome{Kind: domain.OutcomeAck}, nil
}

func asPermanent(err error, target **backoff.PermanentError) bool {
	pe, ok := err.(*backoff.PermanentError)
	if ok {
		*target = pe
	}
	return ok
}
