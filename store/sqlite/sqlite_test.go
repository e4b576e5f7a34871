package sqlite

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/supplier-ledger/ledger"
	"github.com/warp/supplier-ledger/ledger/storetest"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLite_Contract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) ledger.Store { return newTestStore(t) })
}

func TestSQLite_MigrateIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Migrate(context.Background()))
	require.NoError(t, s.Migrate(context.Background()))
}

func TestSQLite_PersistsAcrossReopen(t *testing.T) {
	// GIVEN: a file-backed store with one supplier and a procurement
	path := filepath.Join(t.TempDir(), "ledger.db")
	s, err := New(path)
	require.NoError(t, err)

	svc := ledger.NewService(s)
	sup, err := svc.CreateSupplier(context.Background(), ledger.CreateSupplierInput{Name: "Acme Mobile"})
	require.NoError(t, err)
	_, err = svc.CreateProcurement(context.Background(), sup.ID, ledger.ProcurementInput{
		PurchaseDate: time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
		Items: []ledger.LineItem{
			{Manufacturer: "Realme", Model: "C67", Quantity: 4, UnitPrice: decimal.RequireFromString("7499.75")},
		},
	})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// WHEN: reopened
	reopened, err := New(path)
	require.NoError(t, err)
	defer reopened.Close()

	// THEN: balance and ledger survive with exact decimals
	got, err := reopened.GetSupplier(context.Background(), sup.ID)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("29999").Equal(got.TotalOutstanding), got.TotalOutstanding.String())

	entries, err := reopened.EntriesBySupplier(context.Background(), sup.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, got.TotalOutstanding.Equal(entries[0].RunningBalance))
}

func TestSQLite_ServiceScenario(t *testing.T) {
	// Create 1,000, pay it, delete it: balance ends at zero and both rows remain.
	ctx := context.Background()
	svc := ledger.NewService(newTestStore(t))

	sup, err := svc.CreateSupplier(ctx, ledger.CreateSupplierInput{Name: "Acme Mobile"})
	require.NoError(t, err)
	created, err := svc.CreateProcurement(ctx, sup.ID, ledger.ProcurementInput{
		PurchaseDate: time.Now(),
		Items:        []ledger.LineItem{{Manufacturer: "Apple", Model: "iPhone 15", Quantity: 1, UnitPrice: decimal.NewFromInt(1000)}},
	})
	require.NoError(t, err)
	_, err = svc.MarkProcurementPaid(ctx, created.ProcurementID, ledger.PaymentInput{})
	require.NoError(t, err)

	res, err := svc.DeleteProcurement(ctx, created.ProcurementID)
	require.NoError(t, err)
	assert.True(t, res.WasPaid)
	assert.True(t, res.FinalBalance.IsZero())

	entries, _, err := svc.SupplierLedger(ctx, sup.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.True(t, e.IsDeleted)
		assert.Equal(t, ledger.VoidDeleted, e.VoidReason)
		assert.True(t, decimal.NewFromInt(1000).Equal(e.OriginalAmount))
	}

	summary, err := svc.SupplierLedgerSummary(ctx, sup.ID)
	require.NoError(t, err)
	assert.True(t, summary.InSync())
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		conflict bool
	}{
		{"busy", sqlite3.Error{Code: sqlite3.ErrBusy}, true},
		{"locked", sqlite3.Error{Code: sqlite3.ErrLocked}, true},
		{"unique", sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintUnique}, true},
		{"foreign key", sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintForeignKey}, false},
		{"other", errors.New("disk on fire"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := mapError(fmt.Errorf("wrapped: %w", tt.err))
			assert.Equal(t, tt.conflict, ledger.IsRetryable(err))
		})
	}
}
