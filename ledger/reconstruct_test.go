package ledger_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/supplier-ledger/ledger"
)

var base = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func purchaseAt(id, proc, ref string, amount int64, created time.Time) ledger.Entry {
	return ledger.Entry{
		ID: ledger.EntryID(id), ProcurementID: ledger.ProcurementID(proc), Type: ledger.EntryPurchase,
		AmountDue: decimal.NewFromInt(amount), Reference: ref, SortOrder: ledger.SortOrderPurchase, CreatedAt: created,
	}
}

func paymentAt(id, proc, ref string, amount int64, created time.Time) ledger.Entry {
	return ledger.Entry{
		ID: ledger.EntryID(id), ProcurementID: ledger.ProcurementID(proc), Type: ledger.EntryPayment,
		AmountPaid: decimal.NewFromInt(amount), Reference: ref, SortOrder: ledger.SortOrderPayment, CreatedAt: created,
	}
}

func ids(entries []ledger.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = string(e.ID)
	}
	return out
}

func TestReconstruct_PurchaseBeforePaymentAndOldestGroupFirst(t *testing.T) {
	// GIVEN: entries stored in arbitrary order, with a payment whose
	// CreatedAt is earlier than its own purchase (clock skew)
	entries := []ledger.Entry{
		paymentAt("p2-pay", "p2", "PAY-3", 400, base.Add(5*time.Minute)),
		purchaseAt("p1-buy", "p1", "PROC-1", 1000, base.Add(time.Minute)),
		purchaseAt("p2-buy", "p2", "PROC-2", 400, base.Add(6*time.Minute)),
		paymentAt("p1-pay", "p1", "PAY-1", 1000, base.Add(2*time.Minute)),
	}

	// WHEN
	ordered, totals := ledger.Reconstruct(entries)

	// THEN: p1 group first (earliest 1m), then p2 (earliest 5m); purchase before payment
	assert.Equal(t, []string{"p1-buy", "p1-pay", "p2-buy", "p2-pay"}, ids(ordered))
	assert.True(t, totals.Due.Equal(decimal.NewFromInt(1400)))
	assert.True(t, totals.Paid.Equal(decimal.NewFromInt(1400)))
	assert.True(t, totals.Balance.IsZero())

	want := []int64{1000, 0, 400, 0}
	for i, e := range ordered {
		assertAmount(t, want[i], e.RunningBalance, e.ID)
	}
}

func TestReconstruct_ReferenceBreaksTies(t *testing.T) {
	// GIVEN: two groups created at the same instant, and one with no timestamp
	entries := []ledger.Entry{
		purchaseAt("b", "pb", "PROC-200", 10, base),
		purchaseAt("a", "pa", "PROC-100", 10, base),
		purchaseAt("z", "pz", "PROC-050", 10, time.Time{}),
	}

	ordered, _ := ledger.Reconstruct(entries)

	// THEN: equal timestamps fall back to reference; untimed groups go last
	require.Len(t, ordered, 3)
	assert.Equal(t, []string{"a", "b", "z"}, ids(ordered))
}

func TestReconstruct_UntimedGroupsOrderIsStable(t *testing.T) {
	// GIVEN: timed and untimed groups whose references interleave with their times
	late := purchaseAt("late", "p1", "PROC-A", 10, base.Add(2*time.Hour))
	untimedB := purchaseAt("untimed-b", "p2", "PROC-B", 10, time.Time{})
	early := purchaseAt("early", "p3", "PROC-C", 10, base.Add(time.Hour))
	untimedA := purchaseAt("untimed-a", "p4", "PROC-0", 10, time.Time{})

	want := []string{"early", "late", "untimed-a", "untimed-b"}
	for _, in := range [][]ledger.Entry{
		{late, untimedB, early, untimedA},
		{untimedA, early, untimedB, late},
		{untimedB, untimedA, late, early},
		{early, late, untimedA, untimedB},
	} {
		// WHEN
		ordered, _ := ledger.Reconstruct(in)

		// THEN: timed groups by time, then untimed groups by reference, whatever the input order
		assert.Equal(t, want, ids(ordered))
	}
}

func TestReconstruct_StandaloneEntriesLast(t *testing.T) {
	entries := []ledger.Entry{
		{ID: "adj-2", Type: ledger.EntryPayment, AmountPaid: decimal.NewFromInt(50), Reference: "ADJ-2", CreatedAt: base.Add(3 * time.Hour)},
		purchaseAt("late", "p9", "PROC-9", 300, base.Add(4*time.Hour)),
		{ID: "adj-1", Type: ledger.EntryPurchase, AmountDue: decimal.NewFromInt(20), Reference: "ADJ-1", CreatedAt: base},
	}

	ordered, totals := ledger.Reconstruct(entries)

	assert.Equal(t, []string{"late", "adj-1", "adj-2"}, ids(ordered))
	assertAmount(t, 270, totals.Balance)
}

func TestReconstruct_ClampsAtZeroAndSkipsDeleted(t *testing.T) {
	deletedAt := base.Add(time.Hour)
	deleted := purchaseAt("gone", "p1", "PROC-1", 0, base)
	deleted.IsDeleted = true
	deleted.DeletedAt = &deletedAt
	deleted.OriginalAmount = decimal.NewFromInt(900)

	entries := []ledger.Entry{
		deleted,
		paymentAt("over", "p2", "PAY-2", 500, base.Add(time.Minute)),
		purchaseAt("buy", "p3", "PROC-3", 200, base.Add(2*time.Minute)),
	}

	ordered, totals := ledger.Reconstruct(entries)

	assert.Equal(t, []string{"gone", "over", "buy"}, ids(ordered))
	for _, e := range ordered {
		assert.False(t, e.RunningBalance.IsNegative())
	}
	assertAmount(t, 0, ordered[1].RunningBalance)
	assertAmount(t, 200, totals.Balance)
	assertAmount(t, 200, totals.Due)
}

func TestReconstruct_DoesNotMutateInput(t *testing.T) {
	entries := []ledger.Entry{
		purchaseAt("b", "p2", "PROC-2", 10, base.Add(time.Minute)),
		purchaseAt("a", "p1", "PROC-1", 10, base),
	}
	entries[0].RunningBalance = decimal.NewFromInt(999)

	ledger.Reconstruct(entries)

	assert.Equal(t, "b", string(entries[0].ID))
	assertAmount(t, 999, entries[0].RunningBalance)
}

func TestReconstruct_Empty(t *testing.T) {
	ordered, totals := ledger.Reconstruct(nil)
	assert.Empty(t, ordered)
	assert.True(t, totals.Balance.IsZero())
}
