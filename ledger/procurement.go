/*
procurement.go - Procurement lifecycle operations

Every operation here changes money and therefore writes, in ONE
transaction:
  - the procurement row
  - the supplier balance(s) via adjustBalance
  - the ledger entries of the procurement

BALANCE EFFECTS:
  Create          +grandTotal
  Update (same)   +(new - original)
  Update (move)   old: -original + paid    new: +new - paid
  Delete          -purchase + paid         (zero for a settled procurement)
  Mark paid       -grandTotal              (no-op when already paid)
  Delivery        none

Entries are never removed. Deleted and transferred entries are zeroed,
keep their original amount in OriginalAmount and get a text annotation
appended to their description.
*/
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// INPUTS AND RESULTS
// =============================================================================

// ProcurementInput describes a new procurement.
// GrandTotal is optional; when given it must equal the items total.
type ProcurementInput struct {
	PurchaseDate time.Time        `json:"purchaseDate" validate:"required"`
	Items        []LineItem       `json:"items" validate:"required,min=1,dive"`
	GrandTotal   *decimal.Decimal `json:"grandTotal,omitempty" validate:"-"`
}

// UpdateProcurementInput changes a procurement. Zero fields keep the
// current value; a SupplierID different from the current one transfers the
// procurement to that supplier.
type UpdateProcurementInput struct {
	SupplierID   SupplierID       `json:"supplierId,omitempty"`
	PurchaseDate *time.Time       `json:"purchaseDate,omitempty"`
	Items        []LineItem       `json:"items,omitempty" validate:"omitempty,min=1,dive"`
	GrandTotal   *decimal.Decimal `json:"grandTotal,omitempty" validate:"-"`
}

// PaymentInput is the settlement data for MarkProcurementPaid.
// A zero Date means now; an empty Reference gets a PAY- reference.
type PaymentInput struct {
	Date      time.Time `json:"date"`
	Reference string    `json:"reference" validate:"max=100"`
	Method    string    `json:"method" validate:"max=50"`
	Notes     string    `json:"notes" validate:"max=2000"`
}

// DeliveryInput is the receiving data for UpdateProcurementDelivery.
type DeliveryInput struct {
	Date       time.Time `json:"date"`
	ReceivedBy string    `json:"receivedBy" validate:"max=200"`
	Notes      string    `json:"notes" validate:"max=2000"`
}

type CreateProcurementResult struct {
	ProcurementID ProcurementID
	Reference     string
	GrandTotal    decimal.Decimal
	Balance       decimal.Decimal // supplier balance after the purchase
}

type UpdateProcurementResult struct {
	OriginalGrandTotal   decimal.Decimal
	NewGrandTotal        decimal.Decimal
	GrandTotalDifference decimal.Decimal
	SupplierChanged      bool
}

type DeleteProcurementResult struct {
	GrandTotal   decimal.Decimal
	SupplierID   SupplierID
	SupplierName string
	Reference    string
	WasPaid      bool
	FinalBalance decimal.Decimal
}

type MarkPaidResult struct {
	ProcurementID ProcurementID
	Reference     string // payment reference
	AlreadyPaid   bool
}

// =============================================================================
// CREATE
// =============================================================================

// CreateProcurement records a purchase from supplierID and raises the
// supplier's outstanding balance by its grand total.
func (s *Service) CreateProcurement(ctx context.Context, supplierID SupplierID, in ProcurementInput) (CreateProcurementResult, error) {
	if err := validateInput(in); err != nil {
		return CreateProcurementResult{}, err
	}
	total, err := resolveGrandTotal(in.Items, in.GrandTotal)
	if err != nil {
		return CreateProcurementResult{}, err
	}

	var result CreateProcurementResult
	err = s.run(ctx, "create_procurement", []SupplierID{supplierID}, func(ctx context.Context, tx Tx) error {
		supplier, err := tx.GetSupplier(ctx, supplierID)
		if err != nil {
			return err
		}

		now := s.now()
		p := Procurement{
			ID:           ProcurementID(s.newID()),
			Reference:    s.refs.Procurement(),
			SupplierID:   supplier.ID,
			SupplierName: supplier.Name,
			PurchaseDate: in.PurchaseDate,
			Items:        in.Items,
			GrandTotal:   total,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := tx.SaveProcurement(ctx, p); err != nil {
			return fmt.Errorf("save procurement: %w", err)
		}

		supplier, err = adjustBalance(ctx, tx, supplier.ID, total, now)
		if err != nil {
			return err
		}
		if err := tx.SaveEntry(ctx, s.purchaseEntry(p, supplier, now)); err != nil {
			return fmt.Errorf("save purchase entry: %w", err)
		}

		result = CreateProcurementResult{
			ProcurementID: p.ID,
			Reference:     p.Reference,
			GrandTotal:    total,
			Balance:       supplier.TotalOutstanding,
		}
		return nil
	})
	if err != nil {
		return CreateProcurementResult{}, err
	}

	s.log.Info().
		Str("supplier_id", string(supplierID)).
		Str("procurement_id", string(result.ProcurementID)).
		Str("reference", result.Reference).
		Str("grand_total", result.GrandTotal.StringFixed(2)).
		Msg("procurement created")
	return result, nil
}

// =============================================================================
// UPDATE
// =============================================================================

// UpdateProcurement changes items, purchase date and/or supplier. On a
// supplier change both balances move and the procurement's entries are
// re-created under the new supplier.
func (s *Service) UpdateProcurement(ctx context.Context, id ProcurementID, in UpdateProcurementInput) (UpdateProcurementResult, error) {
	if in.Items != nil && len(in.Items) == 0 {
		return UpdateProcurementResult{}, invalid("items", "must have at least 1 item(s)")
	}
	if err := validateInput(in); err != nil {
		return UpdateProcurementResult{}, err
	}

	current, err := s.store.GetProcurement(ctx, id)
	if err != nil {
		return UpdateProcurementResult{}, err
	}

	var result UpdateProcurementResult
	err = s.run(ctx, "update_procurement", []SupplierID{current.SupplierID, in.SupplierID}, func(ctx context.Context, tx Tx) error {
		p, err := tx.GetProcurement(ctx, id)
		if err != nil {
			return err
		}
		entries, err := tx.EntriesByProcurement(ctx, id)
		if err != nil {
			return fmt.Errorf("load procurement entries: %w", err)
		}

		items := p.Items
		if in.Items != nil {
			items = in.Items
		}
		newTotal, err := resolveGrandTotal(items, in.GrandTotal)
		if err != nil {
			return err
		}

		original := p.GrandTotal
		p.Items = items
		p.GrandTotal = newTotal
		if in.PurchaseDate != nil {
			p.PurchaseDate = *in.PurchaseDate
		}
		p.UpdatedAt = s.now()

		target := in.SupplierID
		if target == "" {
			target = p.SupplierID
		}
		result = UpdateProcurementResult{
			OriginalGrandTotal:   original,
			NewGrandTotal:        newTotal,
			GrandTotalDifference: newTotal.Sub(original),
			SupplierChanged:      target != p.SupplierID,
		}

		if !result.SupplierChanged {
			return s.updateInPlace(ctx, tx, p, entries, result.GrandTotalDifference)
		}
		return s.transfer(ctx, tx, p, original, entries, target)
	})
	if err != nil {
		return UpdateProcurementResult{}, err
	}

	s.log.Info().
		Str("procurement_id", string(id)).
		Str("original_total", result.OriginalGrandTotal.StringFixed(2)).
		Str("new_total", result.NewGrandTotal.StringFixed(2)).
		Bool("supplier_changed", result.SupplierChanged).
		Msg("procurement updated")
	return result, nil
}

// updateInPlace applies the difference to the same supplier and rewrites the
// existing purchase entry. No new entry is created.
func (s *Service) updateInPlace(ctx context.Context, tx Tx, p Procurement, entries []Entry, diff decimal.Decimal) error {
	supplier, err := adjustBalance(ctx, tx, p.SupplierID, diff, p.UpdatedAt)
	if err != nil {
		return err
	}
	if err := tx.SaveProcurement(ctx, p); err != nil {
		return fmt.Errorf("save procurement: %w", err)
	}

	purchase, ok := activeEntry(entries, p.SupplierID, EntryPurchase)
	if !ok {
		s.log.Warn().
			Str("procurement_id", string(p.ID)).
			Msg("purchase entry missing, recreating")
		return tx.SaveEntry(ctx, s.purchaseEntry(p, supplier, p.UpdatedAt))
	}
	purchase.AmountDue = p.GrandTotal
	purchase.RunningBalance = supplier.TotalOutstanding
	purchase.Description = purchaseDescription(p)
	purchase.EntryDate = p.PurchaseDate
	return tx.SaveEntry(ctx, purchase)
}

// transfer moves p from its current supplier to target. The old entries are
// zeroed and annotated; equivalent entries are written under target with the
// same procurement id, so each supplier's ledger still sums to its balance.
func (s *Service) transfer(ctx context.Context, tx Tx, p Procurement, original decimal.Decimal, entries []Entry, target SupplierID) error {
	now := p.UpdatedAt
	newSupplier, err := tx.GetSupplier(ctx, target)
	if err != nil {
		return err
	}

	oldPurchase, hasPurchase := activeEntry(entries, p.SupplierID, EntryPurchase)
	oldPayment, hasPayment := activeEntry(entries, p.SupplierID, EntryPayment)
	paid := decimal.Zero
	if hasPayment {
		paid = oldPayment.AmountPaid
	}

	oldSupplier, err := adjustBalance(ctx, tx, p.SupplierID, original.Neg().Add(paid), now)
	if err != nil {
		return err
	}
	if hasPurchase {
		voidEntry(&oldPurchase, VoidTransferred, now, oldSupplier.TotalOutstanding)
		oldPurchase.TransferredTo = target
		oldPurchase.Description += transferredSuffix(newSupplier.Name)
		if err := tx.SaveEntry(ctx, oldPurchase); err != nil {
			return fmt.Errorf("void purchase entry: %w", err)
		}
	}
	if hasPayment {
		voidEntry(&oldPayment, VoidTransferred, now, oldSupplier.TotalOutstanding)
		oldPayment.TransferredTo = target
		oldPayment.Description += transferredSuffix(newSupplier.Name)
		if err := tx.SaveEntry(ctx, oldPayment); err != nil {
			return fmt.Errorf("void payment entry: %w", err)
		}
	}

	p.SupplierID = newSupplier.ID
	p.SupplierName = newSupplier.Name
	if err := tx.SaveProcurement(ctx, p); err != nil {
		return fmt.Errorf("save procurement: %w", err)
	}

	newSupplier, err = adjustBalance(ctx, tx, target, p.GrandTotal, now)
	if err != nil {
		return err
	}
	if err := tx.SaveEntry(ctx, s.purchaseEntry(p, newSupplier, now)); err != nil {
		return fmt.Errorf("save purchase entry: %w", err)
	}

	if hasPayment {
		newSupplier, err = adjustBalance(ctx, tx, target, paid.Neg(), now)
		if err != nil {
			return err
		}
		moved := s.paymentEntry(p, newSupplier, oldPayment.Reference, paid, oldPayment.EntryDate, now)
		if err := tx.SaveEntry(ctx, moved); err != nil {
			return fmt.Errorf("save payment entry: %w", err)
		}
	}
	return nil
}

// =============================================================================
// DELETE
// =============================================================================

// DeleteProcurement removes a procurement, reverses its effect on the
// supplier balance and soft-deletes its ledger entries.
func (s *Service) DeleteProcurement(ctx context.Context, id ProcurementID) (DeleteProcurementResult, error) {
	current, err := s.store.GetProcurement(ctx, id)
	if err != nil {
		return DeleteProcurementResult{}, err
	}

	var result DeleteProcurementResult
	err = s.run(ctx, "delete_procurement", []SupplierID{current.SupplierID}, func(ctx context.Context, tx Tx) error {
		p, err := tx.GetProcurement(ctx, id)
		if err != nil {
			return err
		}
		entries, err := tx.EntriesByProcurement(ctx, id)
		if err != nil {
			return fmt.Errorf("load procurement entries: %w", err)
		}

		purchase, hasPurchase := activeEntry(entries, p.SupplierID, EntryPurchase)
		payment, hasPayment := activeEntry(entries, p.SupplierID, EntryPayment)

		// Reverse exactly what the ledger recorded: unpaid gives -grandTotal,
		// settled at the current total gives zero.
		due := p.GrandTotal
		if hasPurchase {
			due = purchase.AmountDue
		}
		paid := decimal.Zero
		if hasPayment {
			paid = payment.AmountPaid
		}

		if err := tx.DeleteProcurement(ctx, p.ID); err != nil {
			return fmt.Errorf("delete procurement: %w", err)
		}
		now := s.now()
		supplier, err := adjustBalance(ctx, tx, p.SupplierID, due.Neg().Add(paid), now)
		if err != nil {
			return err
		}

		if hasPurchase {
			voidEntry(&purchase, VoidDeleted, now, supplier.TotalOutstanding)
			purchase.Description += deletedSuffix(purchase)
			if err := tx.SaveEntry(ctx, purchase); err != nil {
				return fmt.Errorf("void purchase entry: %w", err)
			}
		}
		if hasPayment {
			voidEntry(&payment, VoidDeleted, now, supplier.TotalOutstanding)
			payment.Description += deletedSuffix(payment)
			if err := tx.SaveEntry(ctx, payment); err != nil {
				return fmt.Errorf("void payment entry: %w", err)
			}
		}

		result = DeleteProcurementResult{
			GrandTotal:   p.GrandTotal,
			SupplierID:   p.SupplierID,
			SupplierName: supplier.Name,
			Reference:    p.Reference,
			WasPaid:      p.IsPaid,
			FinalBalance: supplier.TotalOutstanding,
		}
		return nil
	})
	if err != nil {
		return DeleteProcurementResult{}, err
	}

	s.log.Info().
		Str("procurement_id", string(id)).
		Str("supplier_id", string(result.SupplierID)).
		Bool("was_paid", result.WasPaid).
		Str("final_balance", result.FinalBalance.StringFixed(2)).
		Msg("procurement deleted")
	return result, nil
}

// =============================================================================
// PAYMENT AND DELIVERY
// =============================================================================

// MarkProcurementPaid settles a procurement in full. Calling it again on a
// paid procurement changes nothing and reports AlreadyPaid.
func (s *Service) MarkProcurementPaid(ctx context.Context, id ProcurementID, in PaymentInput) (MarkPaidResult, error) {
	if err := validateInput(in); err != nil {
		return MarkPaidResult{}, err
	}
	current, err := s.store.GetProcurement(ctx, id)
	if err != nil {
		return MarkPaidResult{}, err
	}

	var result MarkPaidResult
	err = s.run(ctx, "mark_paid", []SupplierID{current.SupplierID}, func(ctx context.Context, tx Tx) error {
		p, err := tx.GetProcurement(ctx, id)
		if err != nil {
			return err
		}
		if p.IsPaid {
			result = MarkPaidResult{ProcurementID: p.ID, AlreadyPaid: true}
			if p.Payment != nil {
				result.Reference = p.Payment.Reference
			}
			return nil
		}

		now := s.now()
		date := in.Date
		if date.IsZero() {
			date = now
		}
		ref := in.Reference
		if ref == "" {
			ref = s.refs.Payment()
		}

		supplier, err := adjustBalance(ctx, tx, p.SupplierID, p.GrandTotal.Neg(), now)
		if err != nil {
			return err
		}

		p.IsPaid = true
		p.Payment = &PaymentInfo{Date: date, Reference: ref, Method: in.Method, Notes: in.Notes}
		p.UpdatedAt = now
		if err := tx.SaveProcurement(ctx, p); err != nil {
			return fmt.Errorf("save procurement: %w", err)
		}
		if err := tx.SaveEntry(ctx, s.paymentEntry(p, supplier, ref, p.GrandTotal, date, now)); err != nil {
			return fmt.Errorf("save payment entry: %w", err)
		}

		result = MarkPaidResult{ProcurementID: p.ID, Reference: ref}
		return nil
	})
	if err != nil {
		return MarkPaidResult{}, err
	}

	if result.AlreadyPaid {
		s.log.Debug().Str("procurement_id", string(id)).Msg("procurement already paid")
	} else {
		s.log.Info().
			Str("procurement_id", string(id)).
			Str("reference", result.Reference).
			Msg("procurement paid")
	}
	return result, nil
}

// UpdateProcurementDelivery records receipt of the goods. It has no ledger effect.
func (s *Service) UpdateProcurementDelivery(ctx context.Context, id ProcurementID, in DeliveryInput) (Procurement, error) {
	if err := validateInput(in); err != nil {
		return Procurement{}, err
	}

	var updated Procurement
	err := s.run(ctx, "update_delivery", nil, func(ctx context.Context, tx Tx) error {
		p, err := tx.GetProcurement(ctx, id)
		if err != nil {
			return err
		}
		now := s.now()
		date := in.Date
		if date.IsZero() {
			date = now
		}
		p.IsDelivered = true
		p.Delivery = &DeliveryInfo{Date: date, ReceivedBy: in.ReceivedBy, Notes: in.Notes}
		p.UpdatedAt = now
		updated = p
		return tx.SaveProcurement(ctx, p)
	})
	if err != nil {
		return Procurement{}, err
	}
	return updated, nil
}

// =============================================================================
// READS
// =============================================================================

func (s *Service) GetProcurement(ctx context.Context, id ProcurementID) (Procurement, error) {
	return s.store.GetProcurement(ctx, id)
}

// ListProcurements returns procurements newest purchase date first.
func (s *Service) ListProcurements(ctx context.Context, filter ProcurementFilter) ([]Procurement, error) {
	return s.store.ListProcurements(ctx, filter)
}

// =============================================================================
// HELPERS
// =============================================================================

// resolveGrandTotal derives the total from items and rejects a caller total
// that disagrees with it.
func resolveGrandTotal(items []LineItem, given *decimal.Decimal) (decimal.Decimal, error) {
	total := ItemsTotal(items)
	if given != nil && !given.Equal(total) {
		return decimal.Zero, invalid("grandTotal",
			fmt.Sprintf("%s does not match items total %s", given.StringFixed(2), total.StringFixed(2)))
	}
	return total, nil
}

// activeEntry finds the entry of the given type that still carries an amount
// for supplierID.
func activeEntry(entries []Entry, supplierID SupplierID, typ EntryType) (Entry, bool) {
	for _, e := range entries {
		if e.SupplierID == supplierID && e.Type == typ && e.Active() {
			return e, true
		}
	}
	return Entry{}, false
}

// voidEntry zeroes an entry's amount and records why.
func voidEntry(e *Entry, reason VoidReason, now time.Time, balance decimal.Decimal) {
	switch e.Type {
	case EntryPurchase:
		e.OriginalAmount = e.AmountDue
		e.AmountDue = decimal.Zero
	case EntryPayment:
		e.OriginalAmount = e.AmountPaid
		e.AmountPaid = decimal.Zero
	}
	e.VoidReason = reason
	e.RunningBalance = balance
	if reason == VoidDeleted {
		e.IsDeleted = true
		deletedAt := now
		e.DeletedAt = &deletedAt
	}
}

func (s *Service) purchaseEntry(p Procurement, supplier Supplier, now time.Time) Entry {
	return Entry{
		ID:             EntryID(s.newID()),
		SupplierID:     supplier.ID,
		SupplierName:   supplier.Name,
		ProcurementID:  p.ID,
		Type:           EntryPurchase,
		AmountDue:      p.GrandTotal,
		AmountPaid:     decimal.Zero,
		RunningBalance: supplier.TotalOutstanding,
		Reference:      p.Reference,
		Description:    purchaseDescription(p),
		SortOrder:      SortOrderPurchase,
		EntryDate:      p.PurchaseDate,
		CreatedAt:      now,
	}
}

func (s *Service) paymentEntry(p Procurement, supplier Supplier, ref string, amount decimal.Decimal, date, now time.Time) Entry {
	return Entry{
		ID:             EntryID(s.newID()),
		SupplierID:     supplier.ID,
		SupplierName:   supplier.Name,
		ProcurementID:  p.ID,
		Type:           EntryPayment,
		AmountDue:      decimal.Zero,
		AmountPaid:     amount,
		RunningBalance: supplier.TotalOutstanding,
		Reference:      ref,
		Description:    paymentDescription(p, ref),
		SortOrder:      SortOrderPayment,
		EntryDate:      date,
		CreatedAt:      now,
	}
}
