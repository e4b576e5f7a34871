/*
scenarios_test.go - Tests for demo scenarios

Each scenario must leave every supplier's stored balance equal to its
reconstructed ledger, with the amounts listed per case.
*/
package api

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/supplier-ledger/ledger"
	"github.com/warp/supplier-ledger/store/sqlite"
)

func newScenarioService(t *testing.T) *ledger.Service {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return ledger.NewService(store)
}

func balanceOf(t *testing.T, svc *ledger.Service, id ledger.SupplierID) decimal.Decimal {
	t.Helper()
	s, err := svc.GetSupplier(context.Background(), id)
	require.NoError(t, err)
	return s.TotalOutstanding
}

func assertInSync(t *testing.T, svc *ledger.Service, ids []ledger.SupplierID) {
	t.Helper()
	for _, id := range ids {
		summary, err := svc.SupplierLedgerSummary(context.Background(), id)
		require.NoError(t, err)
		assert.True(t, summary.InSync(), "supplier %s: stored %s, ledger %s", id, summary.StoredBalance, summary.OutstandingBalance)
	}
}

func TestScenario_SingleSupplier(t *testing.T) {
	svc := newScenarioService(t)

	res, err := LoadScenario(context.Background(), svc, "single-supplier")
	require.NoError(t, err)
	require.Len(t, res.Suppliers, 1)
	assert.Len(t, res.Procurements, 3)

	// 137,395 + 99,980 + 59,992 - 137,395 paid
	assert.Equal(t, "159972", balanceOf(t, svc, res.Suppliers[0]).String())
	assertInSync(t, svc, res.Suppliers)
}

func TestScenario_SupplierTransfer(t *testing.T) {
	svc := newScenarioService(t)
	ctx := context.Background()

	res, err := LoadScenario(ctx, svc, "supplier-transfer")
	require.NoError(t, err)
	require.Len(t, res.Suppliers, 2)
	wrong, right := res.Suppliers[0], res.Suppliers[1]

	assert.True(t, balanceOf(t, svc, wrong).IsZero())
	assert.Equal(t, "53994", balanceOf(t, svc, right).String())

	// The old supplier keeps both rows, zeroed and voided as transferred.
	entries, _, err := svc.SupplierLedger(ctx, wrong)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.False(t, e.IsDeleted, "transferred rows stay visible")
		assert.Equal(t, ledger.VoidTransferred, e.VoidReason)
		assert.Equal(t, right, e.TransferredTo)
		assert.True(t, e.AmountDue.IsZero())
		assert.True(t, e.AmountPaid.IsZero())
		assert.False(t, e.OriginalAmount.IsZero())
	}
	assertInSync(t, svc, res.Suppliers)
}

func TestScenario_Corrections(t *testing.T) {
	svc := newScenarioService(t)
	ctx := context.Background()

	res, err := LoadScenario(ctx, svc, "corrections")
	require.NoError(t, err)
	sup := res.Suppliers[0]

	assert.Equal(t, "105980", balanceOf(t, svc, sup).String())

	repriced, err := svc.GetProcurement(ctx, res.Procurements[0])
	require.NoError(t, err)
	assert.True(t, repriced.IsDelivered)
	assert.Equal(t, "105980", repriced.GrandTotal.String())

	_, err = svc.GetProcurement(ctx, res.Procurements[1])
	assert.True(t, ledger.IsNotFound(err))
	assertInSync(t, svc, res.Suppliers)
}

func TestScenario_Unknown(t *testing.T) {
	_, err := LoadScenario(context.Background(), newScenarioService(t), "nope")
	require.Error(t, err)
	assert.True(t, ledger.IsClientError(err))
}

func TestScenarios_AllLoadTogether(t *testing.T) {
	svc := newScenarioService(t)
	for _, sc := range Scenarios() {
		t.Run(sc.ID, func(t *testing.T) {
			res, err := LoadScenario(context.Background(), svc, sc.ID)
			require.NoError(t, err)
			assertInSync(t, svc, res.Suppliers)
		})
	}

	sweep, err := svc.ReconcileAll(context.Background())
	require.NoError(t, err)
	// single-supplier 1, supplier-transfer 2, corrections 1
	assert.Equal(t, 4, sweep.Checked)
	assert.Zero(t, sweep.Failed)
	// Running balances may be renumbered into ledger order; totals never move.
	for _, res := range sweep.Results {
		assert.True(t, res.FinalBalance.Equal(res.PreviousBalance), "supplier %s", res.SupplierID)
	}
}
