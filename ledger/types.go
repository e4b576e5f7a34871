/*
Package ledger provides the supplier ledger consistency engine.

PURPOSE:
  Tracks what the business owes each supplier. Every procurement adds a
  purchase entry to the supplier's ledger and raises the supplier's
  outstanding balance; every payment adds a payment entry and lowers it.
  Balance and ledger are always written together in one storage
  transaction, so the two can never be observed out of step.

KEY CONCEPTS IN THIS FILE (types.go):
  - Supplier:    Owner of a running balance (TotalOutstanding)
  - Procurement: A purchase of stock, made of line items
  - Entry:       One row of the supplier ledger (purchase or payment)
  - IDs:         Type-safe identifiers for the three records

DESIGN PRINCIPLES:
  1. Precision: all money is decimal.Decimal, never float64
  2. Audit: ledger entries are zeroed and annotated, never removed
  3. Snapshots: supplier names are copied onto procurements and entries
     at write time and never rewritten afterwards
  4. Clamping: balances never go below zero

SEE ALSO:
  - store.go:       Persistence interfaces
  - service.go:     Lifecycle operations (create/update/delete/pay)
  - reconstruct.go: Chronological read path and running balances
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type SupplierID string
type ProcurementID string
type EntryID string

// =============================================================================
// SUPPLIER
// =============================================================================

// Supplier is a vendor the business buys stock from.
// TotalOutstanding is only ever changed by lifecycle operations.
type Supplier struct {
	ID               SupplierID
	Name             string
	BankName         string
	BankAccount      string
	Notes            string
	TotalOutstanding decimal.Decimal
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// =============================================================================
// PROCUREMENT
// =============================================================================

// LineItem is one phone model line on a procurement.
type LineItem struct {
	Manufacturer string          `json:"manufacturer" validate:"required,max=100"`
	Model        string          `json:"model" validate:"required,max=100"`
	Variant      string          `json:"variant,omitempty" validate:"max=100"`
	Quantity     int64           `json:"quantity" validate:"gt=0"`
	UnitPrice    decimal.Decimal `json:"unitPrice" validate:"gte=0"`
}

// Total returns quantity × unit price.
func (li LineItem) Total() decimal.Decimal {
	return li.UnitPrice.Mul(decimal.NewFromInt(li.Quantity))
}

// ItemsTotal sums the line totals. This is the only way a grand total is derived.
func ItemsTotal(items []LineItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Total())
	}
	return total
}

// PaymentInfo records how a procurement was settled.
type PaymentInfo struct {
	Date      time.Time `json:"date"`
	Reference string    `json:"reference"`
	Method    string    `json:"method,omitempty"`
	Notes     string    `json:"notes,omitempty"`
}

// DeliveryInfo records how a procurement was received.
type DeliveryInfo struct {
	Date       time.Time `json:"date"`
	ReceivedBy string    `json:"receivedBy,omitempty"`
	Notes      string    `json:"notes,omitempty"`
}

// Procurement is a purchase from a single supplier.
//
// INVARIANT: GrandTotal == ItemsTotal(Items).
type Procurement struct {
	ID           ProcurementID
	Reference    string
	SupplierID   SupplierID
	SupplierName string // snapshot at write time
	PurchaseDate time.Time
	Items        []LineItem
	GrandTotal   decimal.Decimal
	IsPaid       bool
	Payment      *PaymentInfo
	IsDelivered  bool
	Delivery     *DeliveryInfo
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// =============================================================================
// LEDGER ENTRY
// =============================================================================

type EntryType string

const (
	EntryPurchase EntryType = "purchase"
	EntryPayment  EntryType = "payment"
)

// Sort orders keep a payment after its purchase within one procurement.
const (
	SortOrderPurchase = 1
	SortOrderPayment  = 2
)

// VoidReason says why an entry's amount was zeroed.
type VoidReason string

const (
	VoidNone        VoidReason = ""
	VoidDeleted     VoidReason = "deleted"
	VoidTransferred VoidReason = "transferred"
)

// Entry is one row of a supplier's ledger.
//
// Purchase entries carry AmountDue, payment entries carry AmountPaid.
// RunningBalance is a snapshot taken at write time; the read path always
// recomputes it (see Reconstruct).
type Entry struct {
	ID             EntryID
	SupplierID     SupplierID
	SupplierName   string        // snapshot at write time
	ProcurementID  ProcurementID // empty for standalone entries
	Type           EntryType
	AmountDue      decimal.Decimal
	AmountPaid     decimal.Decimal
	RunningBalance decimal.Decimal
	Reference      string
	Description    string
	SortOrder      int
	IsDeleted      bool
	DeletedAt      *time.Time

	// Set when the amount is zeroed by a delete or a supplier transfer.
	OriginalAmount decimal.Decimal
	VoidReason     VoidReason
	TransferredTo  SupplierID

	EntryDate time.Time
	CreatedAt time.Time
}

// Active reports whether the entry still carries its amount.
func (e Entry) Active() bool {
	return !e.IsDeleted && e.VoidReason == VoidNone
}

// Delta is the entry's signed effect on the supplier balance.
func (e Entry) Delta() decimal.Decimal {
	switch e.Type {
	case EntryPurchase:
		if e.IsDeleted {
			return decimal.Zero
		}
		return e.AmountDue
	case EntryPayment:
		return e.AmountPaid.Neg()
	default:
		return decimal.Zero
	}
}

func clampZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
