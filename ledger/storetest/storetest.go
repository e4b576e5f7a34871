// Package storetest is the contract every ledger.Store implementation must
// satisfy. Store packages call Run from their own tests.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/supplier-ledger/ledger"
)

// Run executes the contract suite. newStore must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) ledger.Store) {
	t.Run("supplier round trip", func(t *testing.T) { testSupplierRoundTrip(t, newStore(t)) })
	t.Run("supplier not found", func(t *testing.T) { testSupplierNotFound(t, newStore(t)) })
	t.Run("suppliers ordered by name", func(t *testing.T) { testListSuppliers(t, newStore(t)) })
	t.Run("procurement round trip", func(t *testing.T) { testProcurementRoundTrip(t, newStore(t)) })
	t.Run("procurement list and filter", func(t *testing.T) { testListProcurements(t, newStore(t)) })
	t.Run("procurement delete", func(t *testing.T) { testDeleteProcurement(t, newStore(t)) })
	t.Run("entries round trip", func(t *testing.T) { testEntries(t, newStore(t)) })
	t.Run("rollback on error", func(t *testing.T) { testRollback(t, newStore(t)) })
	t.Run("reads see own writes", func(t *testing.T) { testReadYourWrites(t, newStore(t)) })
}

var (
	t0 = time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)
	t1 = t0.Add(24 * time.Hour)
	t2 = t1.Add(24 * time.Hour)
)

func mustSave(t *testing.T, s ledger.Store, fn func(ctx context.Context, tx ledger.Tx) error) {
	t.Helper()
	require.NoError(t, s.WithTx(context.Background(), fn))
}

func supplier(id, name string) ledger.Supplier {
	return ledger.Supplier{
		ID:               ledger.SupplierID(id),
		Name:             name,
		BankName:         "BDO",
		BankAccount:      "0012-3456",
		Notes:            "net 30",
		TotalOutstanding: decimal.RequireFromString("1250.50"),
		CreatedAt:        t0,
		UpdatedAt:        t1,
	}
}

func procurement(id, supplierID string, purchased time.Time) ledger.Procurement {
	items := []ledger.LineItem{
		{Manufacturer: "Samsung", Model: "Galaxy A15", Variant: "128GB", Quantity: 3, UnitPrice: decimal.RequireFromString("8999.00")},
		{Manufacturer: "Xiaomi", Model: "Redmi 13C", Quantity: 2, UnitPrice: decimal.RequireFromString("5499.50")},
	}
	return ledger.Procurement{
		ID:           ledger.ProcurementID(id),
		Reference:    "PROC-1740821400000-" + id,
		SupplierID:   ledger.SupplierID(supplierID),
		SupplierName: "Acme Mobile",
		PurchaseDate: purchased,
		Items:        items,
		GrandTotal:   ledger.ItemsTotal(items),
		CreatedAt:    t0,
		UpdatedAt:    t0,
	}
}

func testSupplierRoundTrip(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	want := supplier("s-1", "Acme Mobile")
	mustSave(t, s, func(ctx context.Context, tx ledger.Tx) error { return tx.SaveSupplier(ctx, want) })

	got, err := s.GetSupplier(ctx, want.ID)
	require.NoError(t, err)
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.Name, got.Name)
	assert.Equal(t, want.BankName, got.BankName)
	assert.Equal(t, want.BankAccount, got.BankAccount)
	assert.Equal(t, want.Notes, got.Notes)
	assert.True(t, want.TotalOutstanding.Equal(got.TotalOutstanding), "outstanding %s", got.TotalOutstanding)
	assert.True(t, want.CreatedAt.Equal(got.CreatedAt))
	assert.True(t, want.UpdatedAt.Equal(got.UpdatedAt))

	// Upsert replaces.
	want.TotalOutstanding = decimal.Zero
	want.Name = "Acme Mobile Trading"
	mustSave(t, s, func(ctx context.Context, tx ledger.Tx) error { return tx.SaveSupplier(ctx, want) })
	got, err = s.GetSupplier(ctx, want.ID)
	require.NoError(t, err)
	assert.Equal(t, "Acme Mobile Trading", got.Name)
	assert.True(t, got.TotalOutstanding.IsZero())
}

func testSupplierNotFound(t *testing.T, s ledger.Store) {
	_, err := s.GetSupplier(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, ledger.IsNotFound(err))

	_, err = s.GetProcurement(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, ledger.IsNotFound(err))
}

func testListSuppliers(t *testing.T, s ledger.Store) {
	mustSave(t, s, func(ctx context.Context, tx ledger.Tx) error {
		for _, sup := range []ledger.Supplier{supplier("s-2", "Zenith"), supplier("s-1", "Beta"), supplier("s-3", "Alpha")} {
			if err := tx.SaveSupplier(ctx, sup); err != nil {
				return err
			}
		}
		return nil
	})

	list, err := s.ListSuppliers(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []string{"Alpha", "Beta", "Zenith"}, []string{list[0].Name, list[1].Name, list[2].Name})
}

func testProcurementRoundTrip(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	want := procurement("p-1", "s-1", t1)
	want.IsPaid = true
	want.Payment = &ledger.PaymentInfo{Date: t2, Reference: "PAY-1740907800000-007", Method: "bank transfer", Notes: "full"}
	want.IsDelivered = true
	want.Delivery = &ledger.DeliveryInfo{Date: t2, ReceivedBy: "Rico"}

	mustSave(t, s, func(ctx context.Context, tx ledger.Tx) error {
		if err := tx.SaveSupplier(ctx, supplier("s-1", "Acme Mobile")); err != nil {
			return err
		}
		return tx.SaveProcurement(ctx, want)
	})

	got, err := s.GetProcurement(ctx, want.ID)
	require.NoError(t, err)
	assert.Equal(t, want.Reference, got.Reference)
	assert.Equal(t, want.SupplierID, got.SupplierID)
	assert.Equal(t, want.SupplierName, got.SupplierName)
	assert.True(t, want.PurchaseDate.Equal(got.PurchaseDate))
	assert.True(t, want.GrandTotal.Equal(got.GrandTotal), "grand total %s", got.GrandTotal)
	require.Len(t, got.Items, 2)
	assert.Equal(t, "Galaxy A15", got.Items[0].Model)
	assert.Equal(t, "128GB", got.Items[0].Variant)
	assert.Equal(t, int64(3), got.Items[0].Quantity)
	assert.True(t, want.Items[1].UnitPrice.Equal(got.Items[1].UnitPrice))

	assert.True(t, got.IsPaid)
	require.NotNil(t, got.Payment)
	assert.Equal(t, "PAY-1740907800000-007", got.Payment.Reference)
	assert.Equal(t, "bank transfer", got.Payment.Method)
	assert.True(t, t2.Equal(got.Payment.Date))

	assert.True(t, got.IsDelivered)
	require.NotNil(t, got.Delivery)
	assert.Equal(t, "Rico", got.Delivery.ReceivedBy)
}

func testListProcurements(t *testing.T, s ledger.Store) {
	mustSave(t, s, func(ctx context.Context, tx ledger.Tx) error {
		for _, sup := range []ledger.Supplier{supplier("s-1", "Acme"), supplier("s-2", "Beta")} {
			if err := tx.SaveSupplier(ctx, sup); err != nil {
				return err
			}
		}
		for _, p := range []ledger.Procurement{
			procurement("p-old", "s-1", t0),
			procurement("p-new", "s-1", t2),
			procurement("p-other", "s-2", t1),
		} {
			if err := tx.SaveProcurement(ctx, p); err != nil {
				return err
			}
		}
		return nil
	})

	all, err := s.ListProcurements(context.Background(), ledger.ProcurementFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, ledger.ProcurementID("p-new"), all[0].ID)
	assert.Equal(t, ledger.ProcurementID("p-other"), all[1].ID)
	assert.Equal(t, ledger.ProcurementID("p-old"), all[2].ID)

	mine, err := s.ListProcurements(context.Background(), ledger.ProcurementFilter{SupplierID: "s-1"})
	require.NoError(t, err)
	require.Len(t, mine, 2)
	for _, p := range mine {
		assert.Equal(t, ledger.SupplierID("s-1"), p.SupplierID)
	}
}

func testDeleteProcurement(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	mustSave(t, s, func(ctx context.Context, tx ledger.Tx) error {
		if err := tx.SaveSupplier(ctx, supplier("s-1", "Acme")); err != nil {
			return err
		}
		return tx.SaveProcurement(ctx, procurement("p-1", "s-1", t0))
	})
	mustSave(t, s, func(ctx context.Context, tx ledger.Tx) error { return tx.DeleteProcurement(ctx, "p-1") })

	_, err := s.GetProcurement(ctx, "p-1")
	assert.True(t, ledger.IsNotFound(err))
}

func testEntries(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	deletedAt := t2
	purchase := ledger.Entry{
		ID: "e-1", SupplierID: "s-1", SupplierName: "Acme", ProcurementID: "p-1",
		Type: ledger.EntryPurchase, AmountDue: decimal.Zero, AmountPaid: decimal.Zero,
		RunningBalance: decimal.Zero, Reference: "PROC-1-001",
		Description: "Purchase PROC-1-001 - DELETED (Original: ₱1,000.00)",
		SortOrder:   ledger.SortOrderPurchase, IsDeleted: true, DeletedAt: &deletedAt,
		OriginalAmount: decimal.NewFromInt(1000), VoidReason: ledger.VoidDeleted,
		EntryDate: t0, CreatedAt: t0,
	}
	payment := ledger.Entry{
		ID: "e-2", SupplierID: "s-1", SupplierName: "Acme", ProcurementID: "p-1",
		Type: ledger.EntryPayment, AmountDue: decimal.Zero, AmountPaid: decimal.RequireFromString("250.75"),
		RunningBalance: decimal.Zero, Reference: "PAY-1-002", SortOrder: ledger.SortOrderPayment,
		EntryDate: t1, CreatedAt: t1,
	}
	moved := ledger.Entry{
		ID: "e-3", SupplierID: "s-2", SupplierName: "Beta", ProcurementID: "p-2",
		Type: ledger.EntryPurchase, AmountDue: decimal.Zero, AmountPaid: decimal.Zero,
		RunningBalance: decimal.Zero, Reference: "PROC-2-003", SortOrder: ledger.SortOrderPurchase,
		OriginalAmount: decimal.NewFromInt(500), VoidReason: ledger.VoidTransferred, TransferredTo: "s-1",
		EntryDate: t0, CreatedAt: t0,
	}
	mustSave(t, s, func(ctx context.Context, tx ledger.Tx) error {
		for _, sup := range []ledger.Supplier{supplier("s-1", "Acme"), supplier("s-2", "Beta")} {
			if err := tx.SaveSupplier(ctx, sup); err != nil {
				return err
			}
		}
		for _, e := range []ledger.Entry{purchase, payment, moved} {
			if err := tx.SaveEntry(ctx, e); err != nil {
				return err
			}
		}
		return nil
	})

	bySupplier, err := s.EntriesBySupplier(ctx, "s-1")
	require.NoError(t, err)
	require.Len(t, bySupplier, 2)
	got := map[ledger.EntryID]ledger.Entry{}
	for _, e := range bySupplier {
		got[e.ID] = e
	}

	p := got["e-1"]
	assert.Equal(t, ledger.EntryPurchase, p.Type)
	assert.True(t, p.IsDeleted)
	require.NotNil(t, p.DeletedAt)
	assert.True(t, deletedAt.Equal(*p.DeletedAt))
	assert.Equal(t, ledger.VoidDeleted, p.VoidReason)
	assert.True(t, p.OriginalAmount.Equal(decimal.NewFromInt(1000)))
	assert.Equal(t, purchase.Description, p.Description)
	assert.Equal(t, ledger.SortOrderPurchase, p.SortOrder)
	assert.True(t, t0.Equal(p.EntryDate))

	pay := got["e-2"]
	assert.True(t, pay.AmountPaid.Equal(decimal.RequireFromString("250.75")))
	assert.False(t, pay.IsDeleted)
	assert.Nil(t, pay.DeletedAt)
	assert.Equal(t, ledger.VoidNone, pay.VoidReason)

	byProcurement, err := s.EntriesByProcurement(ctx, "p-2")
	require.NoError(t, err)
	require.Len(t, byProcurement, 1)
	assert.Equal(t, ledger.VoidTransferred, byProcurement[0].VoidReason)
	assert.Equal(t, ledger.SupplierID("s-1"), byProcurement[0].TransferredTo)

	// Upsert replaces in place.
	payment.RunningBalance = decimal.NewFromInt(42)
	mustSave(t, s, func(ctx context.Context, tx ledger.Tx) error { return tx.SaveEntry(ctx, payment) })
	byProcurement, err = s.EntriesByProcurement(ctx, "p-1")
	require.NoError(t, err)
	require.Len(t, byProcurement, 2)
	for _, e := range byProcurement {
		if e.ID == "e-2" {
			assert.True(t, e.RunningBalance.Equal(decimal.NewFromInt(42)))
		}
	}
}

func testRollback(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		if err := tx.SaveSupplier(ctx, supplier("s-1", "Acme")); err != nil {
			return err
		}
		if err := tx.SaveProcurement(ctx, procurement("p-1", "s-1", t0)); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.GetSupplier(ctx, "s-1")
	assert.True(t, ledger.IsNotFound(err), "supplier write must be rolled back")
	_, err = s.GetProcurement(ctx, "p-1")
	assert.True(t, ledger.IsNotFound(err), "procurement write must be rolled back")
}

func testReadYourWrites(t *testing.T, s ledger.Store) {
	mustSave(t, s, func(ctx context.Context, tx ledger.Tx) error {
		if err := tx.SaveSupplier(ctx, supplier("s-1", "Acme")); err != nil {
			return err
		}
		got, err := tx.GetSupplier(ctx, "s-1")
		if err != nil {
			return err
		}
		if got.Name != "Acme" {
			return errors.New("tx read missed own write")
		}
		if err := tx.SaveEntry(ctx, ledger.Entry{
			ID: "e-1", SupplierID: "s-1", ProcurementID: "p-1", Type: ledger.EntryPurchase,
			AmountDue: decimal.NewFromInt(10), AmountPaid: decimal.Zero, RunningBalance: decimal.NewFromInt(10),
			Reference: "PROC-1-001", SortOrder: ledger.SortOrderPurchase, EntryDate: t0, CreatedAt: t0,
		}); err != nil {
			return err
		}
		entries, err := tx.EntriesByProcurement(ctx, "p-1")
		if err != nil {
			return err
		}
		if len(entries) != 1 {
			return errors.New("tx entries query missed own write")
		}
		return nil
	})
}
