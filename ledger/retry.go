package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// DefaultMaxAttempts bounds how often a conflicting transaction is tried.
const DefaultMaxAttempts = 5

func defaultBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 20 * time.Millisecond
	b.MaxInterval = 500 * time.Millisecond
	b.MaxElapsedTime = 0 // bounded by attempts instead
	return b
}

// inTx runs fn in a store transaction, retrying ErrConcurrentModification
// with backoff. Any other error stops immediately. When attempts run out a
// *ConflictError is returned.
func (s *Service) inTx(ctx context.Context, op string, fn func(ctx context.Context, tx Tx) error) error {
	attempts := 0
	operation := func() error {
		attempts++
		err := s.store.WithTx(ctx, fn)
		if err == nil {
			return nil
		}
		if IsRetryable(err) {
			return err
		}
		return backoff.Permanent(err)
	}
	notify := func(err error, wait time.Duration) {
		s.observer.ObserveRetry(op)
		s.log.Warn().Err(err).
			Str("op", op).
			Int("attempt", attempts).
			Dur("backoff", wait).
			Msg("transaction conflict, retrying")
	}

	b := backoff.WithContext(backoff.WithMaxRetries(s.newBackoff(), uint64(s.maxAttempts-1)), ctx)
	err := backoff.RetryNotify(operation, b, notify)
	if err == nil {
		return nil
	}
	if IsRetryable(err) && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return &ConflictError{Op: op, Attempts: attempts, Err: err}
	}
	return err
}
