/*
dto.go - Request and response bodies for the HTTP API

NAMING CONVENTION:
  - *DTO:      Response types returned to clients
  - *Request:  Request body types from clients

FIELDS:
  JSON keys are camelCase, matching the stored line item shape and the
  field names reported in validation errors. Amounts are decimal strings
  on output; input accepts numbers or strings. Dates accept YYYY-MM-DD or
  RFC 3339.

SEE ALSO:
  - handlers.go: Uses these types
  - ledger/types.go: Domain types
*/
package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/supplier-ledger/ledger"
)

const dateLayout = "2006-01-02"

// Date is a time that also accepts a bare YYYY-MM-DD in JSON.
type Date struct {
	time.Time
}

func (d *Date) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("date must be a string: %w", err)
	}
	if s == "" {
		return nil
	}
	if t, err := time.Parse(dateLayout, s); err == nil {
		d.Time = t
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return fmt.Errorf("date %q: want YYYY-MM-DD or RFC 3339", s)
	}
	d.Time = t
	return nil
}

func datePtr(d *Date) *time.Time {
	if d == nil || d.IsZero() {
		return nil
	}
	t := d.Time
	return &t
}

// =============================================================================
// ENVELOPE
// =============================================================================

type ErrorResponse struct {
	Success bool                `json:"success"`
	Error   string              `json:"error"`
	Fields  []ledger.FieldError `json:"fields,omitempty"`
}

// =============================================================================
// SUPPLIERS
// =============================================================================

type SupplierDTO struct {
	ID               string          `json:"id"`
	Name             string          `json:"supplierName"`
	BankName         string          `json:"bankName,omitempty"`
	BankAccount      string          `json:"bankAccount,omitempty"`
	Notes            string          `json:"notes,omitempty"`
	TotalOutstanding decimal.Decimal `json:"totalOutstanding"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

func toSupplierDTO(s ledger.Supplier) SupplierDTO {
	return SupplierDTO{
		ID:               string(s.ID),
		Name:             s.Name,
		BankName:         s.BankName,
		BankAccount:      s.BankAccount,
		Notes:            s.Notes,
		TotalOutstanding: s.TotalOutstanding,
		CreatedAt:        s.CreatedAt,
		UpdatedAt:        s.UpdatedAt,
	}
}

type LedgerSummaryDTO struct {
	SupplierID         string          `json:"supplierId"`
	TotalDue           decimal.Decimal `json:"totalDue"`
	TotalPayments      decimal.Decimal `json:"totalPayments"`
	OutstandingBalance decimal.Decimal `json:"outstandingBalance"`
	StoredBalance      decimal.Decimal `json:"storedBalance"`
	InSync             bool            `json:"inSync"`
	TotalTransactions  int             `json:"totalTransactions"`
	LastPurchaseDate   *time.Time      `json:"lastPurchaseDate,omitempty"`
	LastPaymentDate    *time.Time      `json:"lastPaymentDate,omitempty"`
}

func toSummaryDTO(s ledger.LedgerSummary) LedgerSummaryDTO {
	return LedgerSummaryDTO{
		SupplierID:         string(s.SupplierID),
		TotalDue:           s.TotalDue,
		TotalPayments:      s.TotalPayments,
		OutstandingBalance: s.OutstandingBalance,
		StoredBalance:      s.StoredBalance,
		InSync:             s.InSync(),
		TotalTransactions:  s.TotalTransactions,
		LastPurchaseDate:   s.LastPurchaseDate,
		LastPaymentDate:    s.LastPaymentDate,
	}
}

type RecalculateDTO struct {
	SupplierID      string          `json:"supplierId"`
	TotalDue        decimal.Decimal `json:"totalDue"`
	TotalPaid       decimal.Decimal `json:"totalPaid"`
	FinalBalance    decimal.Decimal `json:"finalBalance"`
	PreviousBalance decimal.Decimal `json:"previousBalance"`
	EntriesUpdated  int             `json:"entriesUpdated"`
	Repaired        bool            `json:"repaired"`
}

// recalculateResponse flattens the result into the success envelope.
type recalculateResponse struct {
	Success bool `json:"success"`
	RecalculateDTO
}

func toRecalculateDTO(r ledger.RecalculateResult) RecalculateDTO {
	return RecalculateDTO{
		SupplierID:      string(r.SupplierID),
		TotalDue:        r.TotalDue,
		TotalPaid:       r.TotalPaid,
		FinalBalance:    r.FinalBalance,
		PreviousBalance: r.PreviousBalance,
		EntriesUpdated:  r.EntriesUpdated,
		Repaired:        r.Repaired(),
	}
}

// =============================================================================
// LEDGER
// =============================================================================

type EntryDTO struct {
	ID             string           `json:"id"`
	SupplierID     string           `json:"supplierId"`
	SupplierName   string           `json:"supplierName"`
	ProcurementID  string           `json:"procurementId,omitempty"`
	EntryType      string           `json:"entryType"`
	AmountDue      decimal.Decimal  `json:"amountDue"`
	AmountPaid     decimal.Decimal  `json:"amountPaid"`
	RunningBalance decimal.Decimal  `json:"runningBalance"`
	Reference      string           `json:"reference"`
	Description    string           `json:"description"`
	SortOrder      int              `json:"sortOrder"`
	IsDeleted      bool             `json:"isDeleted"`
	DeletedDate    *time.Time       `json:"deletedDate,omitempty"`
	OriginalAmount *decimal.Decimal `json:"originalAmount,omitempty"`
	VoidReason     string           `json:"voidReason,omitempty"`
	TransferredTo  string           `json:"transferredTo,omitempty"`
	EntryDate      time.Time        `json:"entryDate"`
	CreatedAt      time.Time        `json:"createdAt"`
}

func toEntryDTO(e ledger.Entry) EntryDTO {
	dto := EntryDTO{
		ID:             string(e.ID),
		SupplierID:     string(e.SupplierID),
		SupplierName:   e.SupplierName,
		ProcurementID:  string(e.ProcurementID),
		EntryType:      string(e.Type),
		AmountDue:      e.AmountDue,
		AmountPaid:     e.AmountPaid,
		RunningBalance: e.RunningBalance,
		Reference:      e.Reference,
		Description:    e.Description,
		SortOrder:      e.SortOrder,
		IsDeleted:      e.IsDeleted,
		DeletedDate:    e.DeletedAt,
		VoidReason:     string(e.VoidReason),
		TransferredTo:  string(e.TransferredTo),
		EntryDate:      e.EntryDate,
		CreatedAt:      e.CreatedAt,
	}
	if e.IsDeleted {
		amount := e.OriginalAmount
		dto.OriginalAmount = &amount
	}
	return dto
}

type TotalsDTO struct {
	Due     decimal.Decimal `json:"due"`
	Paid    decimal.Decimal `json:"paid"`
	Balance decimal.Decimal `json:"balance"`
}

// =============================================================================
// PROCUREMENTS
// =============================================================================

type ProcurementDTO struct {
	ID           string               `json:"id"`
	Reference    string               `json:"reference"`
	SupplierID   string               `json:"supplierId"`
	SupplierName string               `json:"supplierName"`
	PurchaseDate time.Time            `json:"purchaseDate"`
	Items        []ledger.LineItem    `json:"items"`
	GrandTotal   decimal.Decimal      `json:"grandTotal"`
	IsPaid       bool                 `json:"isPaid"`
	Payment      *ledger.PaymentInfo  `json:"payment,omitempty"`
	IsDelivered  bool                 `json:"isDelivered"`
	Delivery     *ledger.DeliveryInfo `json:"delivery,omitempty"`
	CreatedAt    time.Time            `json:"createdAt"`
	UpdatedAt    time.Time            `json:"updatedAt"`
}

func toProcurementDTO(p ledger.Procurement) ProcurementDTO {
	return ProcurementDTO{
		ID:           string(p.ID),
		Reference:    p.Reference,
		SupplierID:   string(p.SupplierID),
		SupplierName: p.SupplierName,
		PurchaseDate: p.PurchaseDate,
		Items:        p.Items,
		GrandTotal:   p.GrandTotal,
		IsPaid:       p.IsPaid,
		Payment:      p.Payment,
		IsDelivered:  p.IsDelivered,
		Delivery:     p.Delivery,
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    p.UpdatedAt,
	}
}

type CreateProcurementRequest struct {
	SupplierID   string            `json:"supplierId"`
	PurchaseDate Date              `json:"purchaseDate"`
	Items        []ledger.LineItem `json:"items"`
	GrandTotal   *decimal.Decimal  `json:"grandTotal"`
}

func (req CreateProcurementRequest) input() ledger.ProcurementInput {
	return ledger.ProcurementInput{
		PurchaseDate: req.PurchaseDate.Time,
		Items:        req.Items,
		GrandTotal:   req.GrandTotal,
	}
}

type UpdateProcurementRequest struct {
	SupplierID   string            `json:"supplierId"`
	PurchaseDate *Date             `json:"purchaseDate"`
	Items        []ledger.LineItem `json:"items"`
	GrandTotal   *decimal.Decimal  `json:"grandTotal"`
}

func (req UpdateProcurementRequest) input() ledger.UpdateProcurementInput {
	return ledger.UpdateProcurementInput{
		SupplierID:   ledger.SupplierID(req.SupplierID),
		PurchaseDate: datePtr(req.PurchaseDate),
		Items:        req.Items,
		GrandTotal:   req.GrandTotal,
	}
}

type PaymentRequest struct {
	Date      Date   `json:"date"`
	Reference string `json:"reference"`
	Method    string `json:"method"`
	Notes     string `json:"notes"`
}

type DeliveryRequest struct {
	Date       Date   `json:"date"`
	ReceivedBy string `json:"receivedBy"`
	Notes      string `json:"notes"`
}

// =============================================================================
// ADMIN
// =============================================================================

type ReconcileAllDTO struct {
	Checked    int              `json:"checked"`
	Repaired   int              `json:"repaired"`
	Consistent int              `json:"consistent"`
	Failed     int              `json:"failed"`
	Results    []RecalculateDTO `json:"results"`
}

func toReconcileAllDTO(r ledger.ReconcileAllResult) ReconcileAllDTO {
	results := make([]RecalculateDTO, len(r.Results))
	for i, res := range r.Results {
		results[i] = toRecalculateDTO(res)
	}
	return ReconcileAllDTO{
		Checked:    r.Checked,
		Repaired:   r.Repaired,
		Consistent: r.Consistent,
		Failed:     r.Failed,
		Results:    results,
	}
}
