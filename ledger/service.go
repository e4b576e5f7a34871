/*
service.go - Entry point for every ledger operation

PURPOSE:
  Service owns the consistency rules. Callers never touch balances or
  ledger entries directly; they call a lifecycle operation and the
  service writes the procurement, the supplier balance(s) and the
  ledger entries in one transaction.

EXECUTION MODEL:
  1. Validate input (no writes on failure)
  2. Take per-supplier locks (no-op unless a Locker is configured)
  3. Run the mutation in Store.WithTx, retrying on conflict
  4. Report outcome to the Observer and the log

FILES:
  - supplier.go:    supplier CRUD
  - procurement.go: create/update/delete/mark-paid/delivery
  - report.go:      ledger read path, summary, recalculate, reconcile

SEE ALSO:
  - retry.go:  conflict retry with backoff
  - lock/:     Redis-backed Locker
  - metrics/:  Prometheus-backed Observer
*/
package ledger

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Locker serializes lifecycle operations across processes. Lock must take
// every key or none; release frees all of them.
type Locker interface {
	Lock(ctx context.Context, keys ...string) (release func(), err error)
}

// Observer receives operation outcomes. Implementations must be safe for
// concurrent use.
type Observer interface {
	ObserveOperation(op string, elapsed time.Duration, err error)
	ObserveRetry(op string)
	ObserveReconcile(supplierID SupplierID, entriesUpdated int)
}

type noopLocker struct{}

func (noopLocker) Lock(context.Context, ...string) (func(), error) { return func() {}, nil }

type noopObserver struct{}

func (noopObserver) ObserveOperation(string, time.Duration, error) {}
func (noopObserver) ObserveRetry(string)                           {}
func (noopObserver) ObserveReconcile(SupplierID, int)              {}

// Service implements the supplier ledger operations on top of a Store.
type Service struct {
	store       Store
	locker      Locker
	observer    Observer
	log         zerolog.Logger
	refs        *ReferenceGenerator
	now         func() time.Time
	newID       func() string
	maxAttempts int
	newBackoff  func() backoff.BackOff
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the wall clock used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithLocker(l Locker) Option {
	return func(s *Service) { s.locker = l }
}

func WithObserver(o Observer) Option {
	return func(s *Service) { s.observer = o }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.log = l }
}

// WithMaxAttempts bounds transaction attempts on conflict. Values below 1 are ignored.
func WithMaxAttempts(n int) Option {
	return func(s *Service) {
		if n >= 1 {
			s.maxAttempts = n
		}
	}
}

// WithIDGenerator overrides uuid generation for records.
func WithIDGenerator(gen func() string) Option {
	return func(s *Service) { s.newID = gen }
}

func WithReferenceGenerator(g *ReferenceGenerator) Option {
	return func(s *Service) { s.refs = g }
}

// WithRetryBackoff overrides the wait policy between conflicting attempts.
func WithRetryBackoff(newBackoff func() backoff.BackOff) Option {
	return func(s *Service) { s.newBackoff = newBackoff }
}

// NewService creates a Service over store.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:       store,
		locker:      noopLocker{},
		observer:    noopObserver{},
		log:         zerolog.Nop(),
		refs:        NewReferenceGenerator(),
		now:         time.Now,
		newID:       uuid.NewString,
		maxAttempts: DefaultMaxAttempts,
		newBackoff:  defaultBackoff,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SupplierLockKey is the lock key guarding one supplier's balance.
func SupplierLockKey(id SupplierID) string {
	return "ledger:supplier:" + string(id)
}

// run is the shared lifecycle wrapper: lock, transact with retry, observe.
func (s *Service) run(ctx context.Context, op string, suppliers []SupplierID, fn func(ctx context.Context, tx Tx) error) error {
	start := time.Now()
	err := s.runLocked(ctx, op, suppliers, fn)
	s.observer.ObserveOperation(op, time.Since(start), err)
	if err != nil {
		s.log.Error().Err(err).Str("op", op).Msg("ledger operation failed")
	}
	return err
}

func (s *Service) runLocked(ctx context.Context, op string, suppliers []SupplierID, fn func(ctx context.Context, tx Tx) error) error {
	keys := lockKeys(suppliers)
	release, err := s.locker.Lock(ctx, keys...)
	if err != nil {
		return fmt.Errorf("%s: lock suppliers: %w", op, err)
	}
	defer release()
	return s.inTx(ctx, op, fn)
}

// lockKeys returns sorted, de-duplicated keys so transfers between the same
// two suppliers always lock in the same order.
func lockKeys(ids []SupplierID) []string {
	seen := make(map[string]bool, len(ids))
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		k := SupplierLockKey(id)
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}
