package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// LedgerSummary aggregates a supplier's ledger. OutstandingBalance is
// recomputed from the log; StoredBalance is the supplier's persisted
// total. They differ only when the two have drifted.
type LedgerSummary struct {
	SupplierID         SupplierID
	TotalDue           decimal.Decimal
	TotalPayments      decimal.Decimal
	OutstandingBalance decimal.Decimal
	StoredBalance      decimal.Decimal
	TotalTransactions  int
	LastPurchaseDate   *time.Time
	LastPaymentDate    *time.Time
}

// InSync reports whether stored and reconstructed balances agree.
func (s LedgerSummary) InSync() bool {
	return s.OutstandingBalance.Equal(s.StoredBalance)
}

type RecalculateResult struct {
	SupplierID      SupplierID
	TotalDue        decimal.Decimal
	TotalPaid       decimal.Decimal
	FinalBalance    decimal.Decimal
	PreviousBalance decimal.Decimal
	EntriesUpdated  int
}

// Repaired reports whether recalculation changed anything.
func (r RecalculateResult) Repaired() bool {
	return r.EntriesUpdated > 0 || !r.FinalBalance.Equal(r.PreviousBalance)
}

type ReconcileAllResult struct {
	Checked    int
	Repaired   int
	Consistent int
	Failed     int
	Results    []RecalculateResult
}

// SupplierLedger returns the supplier's entries in chronological order with
// freshly computed running balances, and the totals of that pass.
func (s *Service) SupplierLedger(ctx context.Context, supplierID SupplierID) ([]Entry, Totals, error) {
	if _, err := s.store.GetSupplier(ctx, supplierID); err != nil {
		return nil, Totals{}, err
	}
	entries, err := s.store.EntriesBySupplier(ctx, supplierID)
	if err != nil {
		return nil, Totals{}, fmt.Errorf("load ledger: %w", err)
	}
	ordered, totals := Reconstruct(entries)
	return ordered, totals, nil
}

// SupplierLedgerSummary aggregates the supplier's ledger.
func (s *Service) SupplierLedgerSummary(ctx context.Context, supplierID SupplierID) (LedgerSummary, error) {
	supplier, err := s.store.GetSupplier(ctx, supplierID)
	if err != nil {
		return LedgerSummary{}, err
	}
	entries, err := s.store.EntriesBySupplier(ctx, supplierID)
	if err != nil {
		return LedgerSummary{}, fmt.Errorf("load ledger: %w", err)
	}

	ordered, totals := Reconstruct(entries)
	summary := LedgerSummary{
		SupplierID:         supplierID,
		TotalDue:           totals.Due,
		TotalPayments:      totals.Paid,
		OutstandingBalance: totals.Balance,
		StoredBalance:      supplier.TotalOutstanding,
	}
	for _, e := range ordered {
		if !e.Active() {
			continue
		}
		summary.TotalTransactions++
		date := e.EntryDate
		switch e.Type {
		case EntryPurchase:
			if summary.LastPurchaseDate == nil || date.After(*summary.LastPurchaseDate) {
				summary.LastPurchaseDate = &date
			}
		case EntryPayment:
			if summary.LastPaymentDate == nil || date.After(*summary.LastPaymentDate) {
				summary.LastPaymentDate = &date
			}
		}
	}
	return summary, nil
}

// RecalculateSupplierBalance rebuilds running balances from the log and
// writes them, together with the final balance, in one transaction.
func (s *Service) RecalculateSupplierBalance(ctx context.Context, supplierID SupplierID) (RecalculateResult, error) {
	var result RecalculateResult
	err := s.run(ctx, "recalculate_balance", []SupplierID{supplierID}, func(ctx context.Context, tx Tx) error {
		supplier, err := tx.GetSupplier(ctx, supplierID)
		if err != nil {
			return err
		}
		entries, err := tx.EntriesBySupplier(ctx, supplierID)
		if err != nil {
			return fmt.Errorf("load ledger: %w", err)
		}

		persisted := make(map[EntryID]decimal.Decimal, len(entries))
		for _, e := range entries {
			persisted[e.ID] = e.RunningBalance
		}

		ordered, totals := Reconstruct(entries)
		updated := 0
		for _, e := range ordered {
			if persisted[e.ID].Equal(e.RunningBalance) {
				continue
			}
			if err := tx.SaveEntry(ctx, e); err != nil {
				return fmt.Errorf("save entry %s: %w", e.ID, err)
			}
			updated++
		}

		result = RecalculateResult{
			SupplierID:      supplierID,
			TotalDue:        totals.Due,
			TotalPaid:       totals.Paid,
			FinalBalance:    totals.Balance,
			PreviousBalance: supplier.TotalOutstanding,
			EntriesUpdated:  updated,
		}
		if supplier.TotalOutstanding.Equal(totals.Balance) {
			return nil
		}
		supplier.TotalOutstanding = totals.Balance
		supplier.UpdatedAt = s.now()
		return tx.SaveSupplier(ctx, supplier)
	})
	if err != nil {
		return RecalculateResult{}, err
	}

	s.observer.ObserveReconcile(supplierID, result.EntriesUpdated)
	event := s.log.Debug()
	if result.Repaired() {
		event = s.log.Info()
	}
	event.
		Str("supplier_id", string(supplierID)).
		Str("previous_balance", result.PreviousBalance.StringFixed(2)).
		Str("final_balance", result.FinalBalance.StringFixed(2)).
		Int("entries_updated", result.EntriesUpdated).
		Msg("supplier balance recalculated")
	return result, nil
}

// ReconcileAll recalculates every supplier. A failure on one supplier is
// counted and logged; the sweep continues with the next.
func (s *Service) ReconcileAll(ctx context.Context) (ReconcileAllResult, error) {
	suppliers, err := s.store.ListSuppliers(ctx)
	if err != nil {
		return ReconcileAllResult{}, fmt.Errorf("list suppliers: %w", err)
	}

	var out ReconcileAllResult
	for _, supplier := range suppliers {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		out.Checked++
		res, err := s.RecalculateSupplierBalance(ctx, supplier.ID)
		if err != nil {
			out.Failed++
			s.log.Error().Err(err).Str("supplier_id", string(supplier.ID)).Msg("reconcile failed")
			continue
		}
		if res.Repaired() {
			out.Repaired++
		} else {
			out.Consistent++
		}
		out.Results = append(out.Results, res)
	}
	return out, nil
}
