package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// adjustBalance moves a supplier's outstanding balance by delta, clamped at
// zero, and returns the updated supplier. It must only be called with the
// Tx of the lifecycle operation whose ledger writes it accompanies.
func adjustBalance(ctx context.Context, tx Tx, id SupplierID, delta decimal.Decimal, now time.Time) (Supplier, error) {
	supplier, err := tx.GetSupplier(ctx, id)
	if err != nil {
		return Supplier{}, err
	}
	supplier.TotalOutstanding = clampZero(supplier.TotalOutstanding.Add(delta))
	supplier.UpdatedAt = now
	if err := tx.SaveSupplier(ctx, supplier); err != nil {
		return Supplier{}, err
	}
	return supplier, nil
}
