// Package retry wraps cenkalti/backoff/v4 with the two fixed backoff
// policies ChainSync needs: a constant 1s retry for refreshing the
// stored tip after an outer-loop failure, and a constant 5s retry for
// the mempool reconciliation inner loop, per spec §4.7/§7.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Until retries op with a constant interval, notifying onError after
// every failed attempt, until op succeeds or ctx is done. An error op
// returns, including a context error, is retried like any other.
func Until(ctx context.Context, interval time.Duration, op func() error, onError func(err error)) error {
	policy := backoff.WithContext(backoff.NewConstantBackOff(interval), ctx)

	return backoff.RetryNotify(op, policy, func(err error, _ time.Duration) {
		if onError != nil {
			onError(err)
		}
	})
}

// Attempt retries op at most maxRetries times with a constant
// interval, returning the last error if every attempt fails.
func Attempt(ctx context.Context, interval time.Duration, maxRetries uint64, op func() error) error {
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(interval), maxRetries), ctx)
	return backoff.Retry(op, policy)
}
