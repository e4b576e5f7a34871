package ledger_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/supplier-ledger/ledger"
	"github.com/warp/supplier-ledger/ledger/store"
)

// =============================================================================
// SUPPLIERS
// =============================================================================

func TestCreateSupplier(t *testing.T) {
	h := newHarness(t)

	s, err := h.svc.CreateSupplier(h.ctx, ledger.CreateSupplierInput{
		Name:        "  Acme Mobile  ",
		BankName:    "BDO",
		BankAccount: "0012-3456-78",
	})
	require.NoError(t, err)
	assert.Equal(t, "Acme Mobile", s.Name)
	assert.True(t, s.TotalOutstanding.IsZero())
	assert.False(t, s.CreatedAt.IsZero())

	got, err := h.svc.GetSupplier(h.ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "BDO", got.BankName)
}

func TestCreateSupplier_NameRequired(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.CreateSupplier(h.ctx, ledger.CreateSupplierInput{Name: "   "})
	require.Error(t, err)
	assert.True(t, ledger.IsClientError(err))

	list, err := h.svc.ListSuppliers(h.ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestUpdateSupplier_PartialAndSnapshotsUntouched(t *testing.T) {
	// GIVEN: a supplier with one procurement
	h := newHarness(t)
	acme := h.supplier("Acme Mobile")
	created := h.procure(acme.ID, 500)

	// WHEN: only the name changes
	name := "Acme Mobile Trading"
	updated, err := h.svc.UpdateSupplier(h.ctx, acme.ID, ledger.UpdateSupplierInput{Name: &name})
	require.NoError(t, err)

	// THEN: other fields and the balance are untouched
	assert.Equal(t, "Acme Mobile Trading", updated.Name)
	assert.Equal(t, acme.BankName, updated.BankName)
	assertAmount(t, 500, updated.TotalOutstanding)

	// AND: existing records keep the name they were written with
	p, err := h.svc.GetProcurement(h.ctx, created.ProcurementID)
	require.NoError(t, err)
	assert.Equal(t, "Acme Mobile", p.SupplierName)
	assert.Equal(t, "Acme Mobile", h.entries(acme.ID)[0].SupplierName)
}

func TestUpdateSupplier_NotFound(t *testing.T) {
	h := newHarness(t)
	notes := "x"
	_, err := h.svc.UpdateSupplier(h.ctx, "missing", ledger.UpdateSupplierInput{Notes: &notes})
	assert.True(t, ledger.IsNotFound(err))
}

func TestListSuppliers_OrderedByName(t *testing.T) {
	h := newHarness(t)
	h.supplier("Zenith Phones")
	h.supplier("Acme Mobile")
	h.supplier("Mega Cell")

	list, err := h.svc.ListSuppliers(h.ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "Acme Mobile", list[0].Name)
	assert.Equal(t, "Mega Cell", list[1].Name)
	assert.Equal(t, "Zenith Phones", list[2].Name)
}

// =============================================================================
// LEDGER READS
// =============================================================================

func TestSupplierLedgerSummary(t *testing.T) {
	h := newHarness(t)
	acme := h.supplier("Acme Mobile")
	first := h.procure(acme.ID, 1000)
	h.procure(acme.ID, 400)
	payDate := time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)
	_, err := h.svc.MarkProcurementPaid(h.ctx, first.ProcurementID, ledger.PaymentInput{Date: payDate})
	require.NoError(t, err)

	summary, err := h.svc.SupplierLedgerSummary(h.ctx, acme.ID)
	require.NoError(t, err)

	assertAmount(t, 1400, summary.TotalDue)
	assertAmount(t, 1000, summary.TotalPayments)
	assertAmount(t, 400, summary.OutstandingBalance)
	assertAmount(t, 400, summary.StoredBalance)
	assert.Equal(t, 3, summary.TotalTransactions)
	require.NotNil(t, summary.LastPaymentDate)
	assert.True(t, payDate.Equal(*summary.LastPaymentDate))
	require.NotNil(t, summary.LastPurchaseDate)

	second, err := h.svc.ListProcurements(h.ctx, ledger.ProcurementFilter{SupplierID: acme.ID})
	require.NoError(t, err)
	assert.True(t, second[0].PurchaseDate.Equal(*summary.LastPurchaseDate), "newest purchase date")
}

func TestSupplierLedgerSummary_EmptySupplier(t *testing.T) {
	h := newHarness(t)
	acme := h.supplier("Acme Mobile")

	summary, err := h.svc.SupplierLedgerSummary(h.ctx, acme.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.TotalTransactions)
	assert.Nil(t, summary.LastPurchaseDate)
	assert.Nil(t, summary.LastPaymentDate)
	assert.True(t, summary.InSync())
}

func TestSupplierLedger_ReturnsTotals(t *testing.T) {
	// GIVEN one paid and one unpaid procurement
	h := newHarness(t)
	acme := h.supplier("Acme Mobile")
	first := h.procure(acme.ID, 1000)
	h.procure(acme.ID, 400)
	h.pay(first.ProcurementID)

	// WHEN reading the ledger
	entries, totals, err := h.svc.SupplierLedger(h.ctx, acme.ID)
	require.NoError(t, err)

	// THEN totals come from the same pass as the entries
	require.Len(t, entries, 3)
	assertAmount(t, 1400, totals.Due)
	assertAmount(t, 1000, totals.Paid)
	assertAmount(t, 400, totals.Balance)
	assert.True(t, totals.Balance.Equal(entries[len(entries)-1].RunningBalance))
}

func TestSupplierLedger_UnknownSupplier(t *testing.T) {
	h := newHarness(t)
	_, _, err := h.svc.SupplierLedger(h.ctx, "missing")
	assert.True(t, ledger.IsNotFound(err))
}

// =============================================================================
// RECALCULATE AND RECONCILE
// =============================================================================

// corrupt overwrites the stored balance and one entry's running balance.
func corrupt(t *testing.T, s ledger.Store, id ledger.SupplierID, balance int64) {
	t.Helper()
	require.NoError(t, s.WithTx(context.Background(), func(ctx context.Context, tx ledger.Tx) error {
		sup, err := tx.GetSupplier(ctx, id)
		if err != nil {
			return err
		}
		sup.TotalOutstanding = decimal.NewFromInt(balance)
		if err := tx.SaveSupplier(ctx, sup); err != nil {
			return err
		}
		entries, err := tx.EntriesBySupplier(ctx, id)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return errors.New("no entries to corrupt")
		}
		entries[0].RunningBalance = decimal.NewFromInt(balance)
		return tx.SaveEntry(ctx, entries[0])
	}))
}

func TestRecalculateSupplierBalance_RepairsDrift(t *testing.T) {
	// GIVEN: Acme owed 1,000 + 400, then corrupted to 9,999
	h := newHarness(t)
	acme := h.supplier("Acme Mobile")
	h.procure(acme.ID, 1000)
	h.procure(acme.ID, 400)
	corrupt(t, h.store, acme.ID, 9999)

	summary, err := h.svc.SupplierLedgerSummary(h.ctx, acme.ID)
	require.NoError(t, err)
	assert.False(t, summary.InSync(), "drift must be visible before repair")

	// WHEN
	res, err := h.svc.RecalculateSupplierBalance(h.ctx, acme.ID)
	require.NoError(t, err)

	// THEN
	assertAmount(t, 9999, res.PreviousBalance)
	assertAmount(t, 1400, res.FinalBalance)
	assertAmount(t, 1400, res.TotalDue)
	assert.True(t, res.TotalPaid.IsZero())
	assert.Equal(t, 1, res.EntriesUpdated)
	assert.True(t, res.Repaired())
	assertAmount(t, 1400, h.balance(acme.ID))
	h.assertConsistent(acme.ID)

	// AND: a second run finds nothing to do
	again, err := h.svc.RecalculateSupplierBalance(h.ctx, acme.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, again.EntriesUpdated)
	assert.False(t, again.Repaired())
}

func TestReconcileAll_CountsRepairedAndConsistent(t *testing.T) {
	h := newHarness(t)
	acme := h.supplier("Acme Mobile")
	beta := h.supplier("Beta Gadgets")
	h.procure(acme.ID, 100)
	h.procure(beta.ID, 200)
	corrupt(t, h.store, beta.ID, 5)

	res, err := h.svc.ReconcileAll(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Checked)
	assert.Equal(t, 1, res.Repaired)
	assert.Equal(t, 1, res.Consistent)
	assert.Equal(t, 0, res.Failed)
	assertAmount(t, 200, h.balance(beta.ID))
}

func TestReconciler_DisabledWithZeroInterval(t *testing.T) {
	h := newHarness(t)
	r := ledger.NewReconciler(h.svc, 0, zerolog.Nop())

	assert.False(t, r.Enabled())
	r.Start()
	r.Stop()
	assert.Equal(t, 0, r.LastRun().Checked)
}

func TestReconciler_RunsOnStart(t *testing.T) {
	h := newHarness(t)
	acme := h.supplier("Acme Mobile")
	h.procure(acme.ID, 300)
	corrupt(t, h.store, acme.ID, 1)

	r := ledger.NewReconciler(h.svc, time.Hour, zerolog.Nop())
	r.Start()
	defer r.Stop()

	assert.Eventually(t, func() bool { return r.LastRun().Checked == 1 }, 2*time.Second, 10*time.Millisecond)
	assertAmount(t, 300, h.balance(acme.ID))
}

// =============================================================================
// RETRY AND LOCKING
// =============================================================================

func TestRetry_ConflictThenSuccess(t *testing.T) {
	flaky := &flakyStore{Store: store.NewMemory(), failures: 2}
	h := newHarnessWithStore(t, flaky)

	_, err := h.svc.CreateSupplier(h.ctx, ledger.CreateSupplierInput{Name: "Acme Mobile"})
	require.NoError(t, err)
	assert.Equal(t, 3, flaky.Calls())
}

func TestRetry_ExhaustedReturnsConflictError(t *testing.T) {
	flaky := &flakyStore{Store: store.NewMemory(), failures: 100}
	h := newHarnessWithStore(t, flaky, ledger.WithMaxAttempts(3))

	_, err := h.svc.CreateSupplier(h.ctx, ledger.CreateSupplierInput{Name: "Acme Mobile"})
	require.Error(t, err)

	var conflict *ledger.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, 3, conflict.Attempts)
	assert.Equal(t, "create_supplier", conflict.Op)
	assert.True(t, ledger.IsConflict(err))
	assert.False(t, ledger.IsRetryable(err))
	assert.Equal(t, 3, flaky.Calls())
}

func TestRetry_NonConflictErrorsAreNotRetried(t *testing.T) {
	flaky := &flakyStore{Store: store.NewMemory()}
	h := newHarnessWithStore(t, flaky)
	acme := h.supplier("Acme Mobile")
	created := h.procure(acme.ID, 100)
	before := flaky.Calls()

	wrong := decimal.NewFromInt(1)
	_, err := h.svc.UpdateProcurement(h.ctx, created.ProcurementID, ledger.UpdateProcurementInput{GrandTotal: &wrong})
	require.Error(t, err)
	assert.True(t, ledger.IsClientError(err))
	assert.Equal(t, before+1, flaky.Calls())
}

func TestLocker_TransferLocksBothSuppliersInOrder(t *testing.T) {
	locker := &recordingLocker{}
	h := newHarness(t, ledger.WithLocker(locker))
	acme := h.supplier("Acme Mobile")
	beta := h.supplier("Beta Gadgets")
	created := h.procure(beta.ID, 100)

	_, err := h.svc.UpdateProcurement(h.ctx, created.ProcurementID, ledger.UpdateProcurementInput{SupplierID: acme.ID})
	require.NoError(t, err)

	locker.mu.Lock()
	defer locker.mu.Unlock()
	last := locker.calls[len(locker.calls)-1]
	assert.Equal(t, []string{ledger.SupplierLockKey(acme.ID), ledger.SupplierLockKey(beta.ID)}, last)
	assert.Equal(t, len(locker.calls), locker.released)
}

type failingLocker struct{}

func (failingLocker) Lock(context.Context, ...string) (func(), error) {
	return nil, ledger.ErrConcurrentModification
}

func TestLocker_FailureAbortsBeforeWriting(t *testing.T) {
	mem := store.NewMemory()
	h := newHarnessWithStore(t, mem)
	acme := h.supplier("Acme Mobile")

	locked := ledger.NewService(mem, ledger.WithLocker(failingLocker{}))
	_, err := locked.CreateProcurement(h.ctx, acme.ID, ledger.ProcurementInput{PurchaseDate: time.Now(), Items: items(100)})
	require.Error(t, err)
	assert.True(t, ledger.IsConflict(err))
	assert.True(t, h.balance(acme.ID).IsZero())
}
