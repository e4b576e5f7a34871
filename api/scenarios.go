/*
scenarios.go - Demo scenario loaders for local runs and demonstrations

PURPOSE:
  Populates the store with realistic suppliers and procurements through the
  ledger service, so every balance and ledger row is produced by the same
  code paths as production traffic.

AVAILABLE SCENARIOS:
  single-supplier:   One supplier, three purchases, one paid
  supplier-transfer: A paid purchase moved to another supplier
  corrections:       Re-priced and deleted purchases leaving voided rows

USAGE:
  POST /api/scenarios/load  {"scenarioId": "supplier-transfer"}
  ledgerd seed supplier-transfer

NOTE:
  Scenarios add data; they never clear the store.
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/supplier-ledger/ledger"
)

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenarioId"`
}

// ScenarioResult lists what a scenario created.
type ScenarioResult struct {
	Suppliers    []ledger.SupplierID    `json:"suppliers"`
	Procurements []ledger.ProcurementID `json:"procurements"`
}

var scenarios = []ScenarioDTO{
	{
		ID:          "single-supplier",
		Name:        "Single Supplier",
		Description: "Three purchases from one supplier, the first one paid",
	},
	{
		ID:          "supplier-transfer",
		Name:        "Supplier Transfer",
		Description: "A paid purchase recorded under the wrong supplier and moved",
	},
	{
		ID:          "corrections",
		Name:        "Corrections",
		Description: "A purchase re-priced after delivery and another deleted after payment",
	},
}

// Scenarios returns the available scenario descriptors.
func Scenarios() []ScenarioDTO {
	out := make([]ScenarioDTO, len(scenarios))
	copy(out, scenarios)
	return out
}

// LoadScenario runs the named scenario against svc.
func LoadScenario(ctx context.Context, svc *ledger.Service, id string) (ScenarioResult, error) {
	l := &scenarioLoader{svc: svc, day: time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)}
	var err error
	switch id {
	case "single-supplier":
		err = l.singleSupplier(ctx)
	case "supplier-transfer":
		err = l.supplierTransfer(ctx)
	case "corrections":
		err = l.corrections(ctx)
	default:
		return ScenarioResult{}, &ledger.ValidationError{Fields: []ledger.FieldError{{Field: "scenarioId", Message: fmt.Sprintf("unknown scenario %q", id)}}}
	}
	if err != nil {
		return ScenarioResult{}, fmt.Errorf("scenario %s: %w", id, err)
	}
	return l.result, nil
}

// =============================================================================
// HANDLERS
// =============================================================================

func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, http.StatusOK, map[string]any{"scenarios": Scenarios()})
}

func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !decodeBody(w, r, &req) {
		return
	}
	result, err := LoadScenario(r.Context(), h.Service, req.ScenarioID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusCreated, map[string]any{"scenario": req.ScenarioID, "created": result})
}

// =============================================================================
// LOADERS
// =============================================================================

type scenarioLoader struct {
	svc    *ledger.Service
	day    time.Time
	result ScenarioResult
}

func (l *scenarioLoader) supplier(ctx context.Context, name, bank string) (ledger.SupplierID, error) {
	s, err := l.svc.CreateSupplier(ctx, ledger.CreateSupplierInput{Name: name, BankName: bank})
	if err != nil {
		return "", err
	}
	l.result.Suppliers = append(l.result.Suppliers, s.ID)
	return s.ID, nil
}

func (l *scenarioLoader) purchase(ctx context.Context, supplierID ledger.SupplierID, daysIn int, items ...ledger.LineItem) (ledger.ProcurementID, error) {
	res, err := l.svc.CreateProcurement(ctx, supplierID, ledger.ProcurementInput{
		PurchaseDate: l.day.AddDate(0, 0, daysIn),
		Items:        items,
	})
	if err != nil {
		return "", err
	}
	l.result.Procurements = append(l.result.Procurements, res.ProcurementID)
	return res.ProcurementID, nil
}

func (l *scenarioLoader) pay(ctx context.Context, id ledger.ProcurementID, daysIn int, method string) error {
	_, err := l.svc.MarkProcurementPaid(ctx, id, ledger.PaymentInput{
		Date:   l.day.AddDate(0, 0, daysIn),
		Method: method,
	})
	return err
}

func phone(manufacturer, model string, qty int64, price string) ledger.LineItem {
	return ledger.LineItem{
		Manufacturer: manufacturer,
		Model:        model,
		Quantity:     qty,
		UnitPrice:    decimal.RequireFromString(price),
	}
}

func (l *scenarioLoader) singleSupplier(ctx context.Context) error {
	acme, err := l.supplier(ctx, "Acme Mobile Distribution", "BDO")
	if err != nil {
		return err
	}
	first, err := l.purchase(ctx, acme, 0,
		phone("Samsung", "Galaxy A15", 10, "8990"),
		phone("Xiaomi", "Redmi Note 13", 5, "9499"),
	)
	if err != nil {
		return err
	}
	if _, err := l.purchase(ctx, acme, 7, phone("Apple", "iPhone 15", 2, "49990")); err != nil {
		return err
	}
	if _, err := l.purchase(ctx, acme, 14, phone("Realme", "C67", 8, "7499")); err != nil {
		return err
	}
	return l.pay(ctx, first, 10, "bank transfer")
}

func (l *scenarioLoader) supplierTransfer(ctx context.Context) error {
	wrong, err := l.supplier(ctx, "Metro Gadgets", "BPI")
	if err != nil {
		return err
	}
	right, err := l.supplier(ctx, "Island Phones Trading", "Metrobank")
	if err != nil {
		return err
	}
	if _, err := l.purchase(ctx, right, 0, phone("Oppo", "A58", 6, "8999")); err != nil {
		return err
	}
	misfiled, err := l.purchase(ctx, wrong, 2, phone("Vivo", "Y36", 4, "10999"))
	if err != nil {
		return err
	}
	if err := l.pay(ctx, misfiled, 5, "cash"); err != nil {
		return err
	}
	_, err = l.svc.UpdateProcurement(ctx, misfiled, ledger.UpdateProcurementInput{SupplierID: right})
	return err
}

func (l *scenarioLoader) corrections(ctx context.Context) error {
	sup, err := l.supplier(ctx, "Northpoint Cellular Supply", "UnionBank")
	if err != nil {
		return err
	}
	repriced, err := l.purchase(ctx, sup, 0, phone("Samsung", "Galaxy S24", 3, "52990"))
	if err != nil {
		return err
	}
	if _, err := l.svc.UpdateProcurementDelivery(ctx, repriced, ledger.DeliveryInput{
		Date:       l.day.AddDate(0, 0, 3),
		ReceivedBy: "warehouse",
	}); err != nil {
		return err
	}
	if _, err := l.svc.UpdateProcurement(ctx, repriced, ledger.UpdateProcurementInput{
		Items: []ledger.LineItem{phone("Samsung", "Galaxy S24", 2, "52990")},
	}); err != nil {
		return err
	}

	cancelled, err := l.purchase(ctx, sup, 5, phone("Honor", "X8b", 5, "12999"))
	if err != nil {
		return err
	}
	if err := l.pay(ctx, cancelled, 6, "gcash"); err != nil {
		return err
	}
	_, err = l.svc.DeleteProcurement(ctx, cancelled)
	return err
}
