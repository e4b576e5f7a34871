package ledger_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/supplier-ledger/ledger"
	"github.com/warp/supplier-ledger/ledger/store"
)

// =============================================================================
// TEST HARNESS
// =============================================================================

// stepClock advances one second per reading so CreatedAt values are
// strictly increasing and references never collide.
type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

type harness struct {
	t     *testing.T
	ctx   context.Context
	svc   *ledger.Service
	store ledger.Store
	clock *stepClock
}

func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("id-%03d", n)
	}
}

func newHarness(t *testing.T, opts ...ledger.Option) *harness {
	return newHarnessWithStore(t, store.NewMemory(), opts...)
}

func newHarnessWithStore(t *testing.T, s ledger.Store, opts ...ledger.Option) *harness {
	t.Helper()
	clock := &stepClock{t: time.Date(2025, 1, 6, 8, 0, 0, 0, time.UTC)}
	base := []ledger.Option{
		ledger.WithClock(clock.Now),
		ledger.WithIDGenerator(sequentialIDs()),
		ledger.WithReferenceGenerator(&ledger.ReferenceGenerator{Now: clock.Now, IntN: func(int) int { return 7 }}),
		ledger.WithRetryBackoff(func() backoff.BackOff { return &backoff.ZeroBackOff{} }),
	}
	return &harness{
		t:     t,
		ctx:   context.Background(),
		svc:   ledger.NewService(s, append(base, opts...)...),
		store: s,
		clock: clock,
	}
}

func (h *harness) supplier(name string) ledger.Supplier {
	h.t.Helper()
	s, err := h.svc.CreateSupplier(h.ctx, ledger.CreateSupplierInput{Name: name})
	require.NoError(h.t, err)
	return s
}

// items builds one line item per price, each with quantity 1.
func items(prices ...int64) []ledger.LineItem {
	out := make([]ledger.LineItem, len(prices))
	for i, p := range prices {
		out[i] = ledger.LineItem{
			Manufacturer: "Samsung",
			Model:        fmt.Sprintf("Galaxy A%d", 10+i),
			Quantity:     1,
			UnitPrice:    decimal.NewFromInt(p),
		}
	}
	return out
}

func (h *harness) procure(supplierID ledger.SupplierID, prices ...int64) ledger.CreateProcurementResult {
	h.t.Helper()
	res, err := h.svc.CreateProcurement(h.ctx, supplierID, ledger.ProcurementInput{
		PurchaseDate: h.clock.Now(),
		Items:        items(prices...),
	})
	require.NoError(h.t, err)
	return res
}

func (h *harness) pay(id ledger.ProcurementID) ledger.MarkPaidResult {
	h.t.Helper()
	res, err := h.svc.MarkProcurementPaid(h.ctx, id, ledger.PaymentInput{Method: "cash"})
	require.NoError(h.t, err)
	return res
}

func (h *harness) balance(id ledger.SupplierID) decimal.Decimal {
	h.t.Helper()
	s, err := h.svc.GetSupplier(h.ctx, id)
	require.NoError(h.t, err)
	return s.TotalOutstanding
}

func (h *harness) entries(id ledger.SupplierID) []ledger.Entry {
	h.t.Helper()
	e, _, err := h.svc.SupplierLedger(h.ctx, id)
	require.NoError(h.t, err)
	return e
}

// assertConsistent checks the stored balance against the reconstructed ledger.
func (h *harness) assertConsistent(ids ...ledger.SupplierID) {
	h.t.Helper()
	for _, id := range ids {
		summary, err := h.svc.SupplierLedgerSummary(h.ctx, id)
		require.NoError(h.t, err)
		assert.Truef(h.t, summary.InSync(),
			"supplier %s: stored %s, reconstructed %s", id, summary.StoredBalance, summary.OutstandingBalance)
		assert.False(h.t, summary.StoredBalance.IsNegative(), "balance must never go negative")
	}
}

func assertAmount(t *testing.T, want int64, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.Truef(t, decimal.NewFromInt(want).Equal(got), "want %d, got %s %v", want, got, msgAndArgs)
}

// =============================================================================
// STORE AND LOCK DOUBLES
// =============================================================================

// flakyStore fails the first n transactions with a conflict.
type flakyStore struct {
	ledger.Store
	mu       sync.Mutex
	failures int
	calls    int
}

func (f *flakyStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx ledger.Tx) error) error {
	f.mu.Lock()
	f.calls++
	fail := f.failures > 0
	if fail {
		f.failures--
	}
	f.mu.Unlock()
	if fail {
		return fmt.Errorf("sqlite: %w", ledger.ErrConcurrentModification)
	}
	return f.Store.WithTx(ctx, fn)
}

func (f *flakyStore) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recordingLocker struct {
	mu       sync.Mutex
	calls    [][]string
	released int
}

func (l *recordingLocker) Lock(_ context.Context, keys ...string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, append([]string(nil), keys...))
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.released++
	}, nil
}
