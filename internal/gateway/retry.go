package gateway

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/agentboard/controlplane/internal/metrics"
)

// DefaultCallDeadline is the per-call deadline for long syncs — retries
// stop once this much wall time has elapsed since the first attempt.
const DefaultCallDeadline = 10 * time.Minute

// backoffPolicy returns the exponential backoff schedule the specification
// calls for: base 0.75s, x2 multiplier, 30s cap, +-20% jitter.
func backoffPolicy() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 750 * time.Millisecond
	b.Multiplier = 2
	b.MaxInterval = 30 * time.Second
	b.RandomizationFactor = 0.2
	return b
}

// CallWithRetry issues method with params, retrying transient failures
// (per IsTransient) with exponential backoff until deadline elapses or a
// non-transient error is hit. A zero deadline uses DefaultCallDeadline.
func (c *Client) CallWithRetry(ctx context.Context, method string, params any, deadline time.Duration) (json.RawMessage, error) {
	if deadline <= 0 {
		deadline = DefaultCallDeadline
	}
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	operation := func() (json.RawMessage, error) {
		result, err := c.CallRaw(ctx, method, params)
		if err != nil && IsTransient(err) {
			metrics.RPCRetries.WithLabelValues(method).Inc()
			return nil, err
		}
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		return result, nil
	}

	return backoff.Retry(ctx, operation, backoff.WithBackOff(backoffPolicy()))
}
