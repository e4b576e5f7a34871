/*
handlers.go - HTTP handlers for the supplier ledger

PURPOSE:
  Exposes the ledger service over REST. Handles request decoding, response
  encoding and error mapping; every balance rule lives in package ledger.

ENDPOINTS:
  Suppliers:
    GET    /api/suppliers                       List suppliers
    POST   /api/suppliers                       Create supplier
    GET    /api/suppliers/{id}                  Get supplier
    PATCH  /api/suppliers/{id}                  Update supplier details
    GET    /api/suppliers/{id}/ledger           Ordered ledger with running balances
    GET    /api/suppliers/{id}/ledger/summary   Aggregates plus stored balance
    POST   /api/suppliers/{id}/recalculate      Repair balance from the ledger

  Procurements:
    GET    /api/procurements?supplier_id=       List, optionally by supplier
    POST   /api/procurements                    Create
    GET    /api/procurements/{id}               Get
    PUT    /api/procurements/{id}               Re-price, re-date or transfer
    DELETE /api/procurements/{id}               Delete, voiding its entries
    POST   /api/procurements/{id}/payment       Mark paid (idempotent)
    POST   /api/procurements/{id}/delivery      Record delivery

  Admin:
    POST   /api/admin/reconcile                 Sweep every supplier

  Scenarios:
    GET    /api/scenarios                       List demo scenarios
    POST   /api/scenarios/load                  Load a demo scenario

RESPONSES:
  Success: {"success": true, ...payload}
  Failure: {"success": false, "error": "..."} with
    - 400: Validation errors, malformed body
    - 404: Supplier or procurement not found
    - 409: Conflict persisted after retries
    - 500: Anything else (details logged, not returned)

SEE ALSO:
  - dto.go: Request/response bodies
  - scenarios.go: Demo scenario loaders
  - server.go: Router and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"

	"github.com/warp/supplier-ledger/ledger"
)

const maxBodyBytes = 1 << 20

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds the dependencies for HTTP handlers.
type Handler struct {
	Service    *ledger.Service
	Reconciler *ledger.Reconciler

	// Health reports store reachability for /healthz. Optional.
	Health func(ctx context.Context) error
}

func NewHandler(svc *ledger.Service, reconciler *ledger.Reconciler) *Handler {
	return &Handler{Service: svc, Reconciler: reconciler}
}

// =============================================================================
// SUPPLIER HANDLERS
// =============================================================================

func (h *Handler) ListSuppliers(w http.ResponseWriter, r *http.Request) {
	suppliers, err := h.Service.ListSuppliers(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	dtos := make([]SupplierDTO, len(suppliers))
	for i, s := range suppliers {
		dtos[i] = toSupplierDTO(s)
	}
	writeSuccess(w, http.StatusOK, map[string]any{"suppliers": dtos})
}

func (h *Handler) CreateSupplier(w http.ResponseWriter, r *http.Request) {
	var req ledger.CreateSupplierInput
	if !decodeBody(w, r, &req) {
		return
	}
	supplier, err := h.Service.CreateSupplier(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusCreated, map[string]any{
		"id":       string(supplier.ID),
		"supplier": toSupplierDTO(supplier),
	})
}

func (h *Handler) GetSupplier(w http.ResponseWriter, r *http.Request) {
	supplier, err := h.Service.GetSupplier(r.Context(), supplierParam(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"supplier": toSupplierDTO(supplier)})
}

func (h *Handler) UpdateSupplier(w http.ResponseWriter, r *http.Request) {
	var req ledger.UpdateSupplierInput
	if !decodeBody(w, r, &req) {
		return
	}
	supplier, err := h.Service.UpdateSupplier(r.Context(), supplierParam(r), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"supplier": toSupplierDTO(supplier)})
}

// GetSupplierLedger returns entries in reconstruction order, deleted ones
// included, with running balances computed on read.
func (h *Handler) GetSupplierLedger(w http.ResponseWriter, r *http.Request) {
	entries, totals, err := h.Service.SupplierLedger(r.Context(), supplierParam(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	dtos := make([]EntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toEntryDTO(e)
	}
	writeSuccess(w, http.StatusOK, map[string]any{
		"ledgerEntries": dtos,
		"totals":        TotalsDTO{Due: totals.Due, Paid: totals.Paid, Balance: totals.Balance},
	})
}

func (h *Handler) GetLedgerSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.Service.SupplierLedgerSummary(r.Context(), supplierParam(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"summary": toSummaryDTO(summary)})
}

func (h *Handler) RecalculateBalance(w http.ResponseWriter, r *http.Request) {
	result, err := h.Service.RecalculateSupplierBalance(r.Context(), supplierParam(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recalculateResponse{Success: true, RecalculateDTO: toRecalculateDTO(result)})
}

// =============================================================================
// PROCUREMENT HANDLERS
// =============================================================================

func (h *Handler) ListProcurements(w http.ResponseWriter, r *http.Request) {
	supplierID := r.URL.Query().Get("supplier_id")
	if supplierID == "" {
		supplierID = r.URL.Query().Get("supplierId")
	}
	procurements, err := h.Service.ListProcurements(r.Context(), ledger.ProcurementFilter{SupplierID: ledger.SupplierID(supplierID)})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	dtos := make([]ProcurementDTO, len(procurements))
	for i, p := range procurements {
		dtos[i] = toProcurementDTO(p)
	}
	writeSuccess(w, http.StatusOK, map[string]any{"procurements": dtos})
}

func (h *Handler) CreateProcurement(w http.ResponseWriter, r *http.Request) {
	var req CreateProcurementRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.SupplierID == "" {
		writeServiceError(w, r, &ledger.ValidationError{Fields: []ledger.FieldError{{Field: "supplierId", Message: "is required"}}})
		return
	}

	result, err := h.Service.CreateProcurement(r.Context(), ledger.SupplierID(req.SupplierID), req.input())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusCreated, map[string]any{
		"procurementId": string(result.ProcurementID),
		"reference":     result.Reference,
		"grandTotal":    result.GrandTotal,
		"balance":       result.Balance,
	})
}

func (h *Handler) GetProcurement(w http.ResponseWriter, r *http.Request) {
	p, err := h.Service.GetProcurement(r.Context(), procurementParam(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"procurement": toProcurementDTO(p)})
}

func (h *Handler) UpdateProcurement(w http.ResponseWriter, r *http.Request) {
	var req UpdateProcurementRequest
	if !decodeBody(w, r, &req) {
		return
	}
	result, err := h.Service.UpdateProcurement(r.Context(), procurementParam(r), req.input())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{
		"originalGrandTotal":   result.OriginalGrandTotal,
		"newGrandTotal":        result.NewGrandTotal,
		"grandTotalDifference": result.GrandTotalDifference,
		"supplierChanged":      result.SupplierChanged,
	})
}

func (h *Handler) DeleteProcurement(w http.ResponseWriter, r *http.Request) {
	result, err := h.Service.DeleteProcurement(r.Context(), procurementParam(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{
		"grandTotal":   result.GrandTotal,
		"supplierId":   string(result.SupplierID),
		"supplierName": result.SupplierName,
		"reference":    result.Reference,
		"wasPaid":      result.WasPaid,
		"finalBalance": result.FinalBalance,
	})
}

func (h *Handler) MarkPaid(w http.ResponseWriter, r *http.Request) {
	var req PaymentRequest
	if !decodeOptionalBody(w, r, &req) {
		return
	}
	result, err := h.Service.MarkProcurementPaid(r.Context(), procurementParam(r), ledger.PaymentInput{
		Date:      req.Date.Time,
		Reference: req.Reference,
		Method:    req.Method,
		Notes:     req.Notes,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{
		"procurementId": string(result.ProcurementID),
		"reference":     result.Reference,
		"alreadyPaid":   result.AlreadyPaid,
	})
}

func (h *Handler) UpdateDelivery(w http.ResponseWriter, r *http.Request) {
	var req DeliveryRequest
	if !decodeOptionalBody(w, r, &req) {
		return
	}
	p, err := h.Service.UpdateProcurementDelivery(r.Context(), procurementParam(r), ledger.DeliveryInput{
		Date:       req.Date.Time,
		ReceivedBy: req.ReceivedBy,
		Notes:      req.Notes,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"procurement": toProcurementDTO(p)})
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// ReconcileAll runs one sweep synchronously. Per-supplier failures are
// reported in the body, not as an error status.
func (h *Handler) ReconcileAll(w http.ResponseWriter, r *http.Request) {
	var (
		result ledger.ReconcileAllResult
		err    error
	)
	if h.Reconciler != nil {
		result, err = h.Reconciler.RunNow(r.Context())
	} else {
		result, err = h.Service.ReconcileAll(r.Context())
	}
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"result": toReconcileAllDTO(result)})
}

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if h.Health != nil {
		if err := h.Health(r.Context()); err != nil {
			hlog.FromRequest(r).Error().Err(err).Msg("health check failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"success": false, "status": "unavailable"})
			return
		}
	}
	writeSuccess(w, http.StatusOK, map[string]any{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func supplierParam(r *http.Request) ledger.SupplierID {
	return ledger.SupplierID(chi.URLParam(r, "id"))
}

func procurementParam(r *http.Request) ledger.ProcurementID {
	return ledger.ProcurementID(chi.URLParam(r, "id"))
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	return decode(w, r, dst, false)
}

// decodeOptionalBody accepts an empty body and leaves dst zero.
func decodeOptionalBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	return decode(w, r, dst, true)
}

func decode(w http.ResponseWriter, r *http.Request, dst any, optional bool) bool {
	if r.Body == nil || r.Body == http.NoBody {
		if optional {
			return true
		}
		writeError(w, http.StatusBadRequest, "request body is required", nil)
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	err := json.NewDecoder(r.Body).Decode(dst)
	if optional && errors.Is(err, io.EOF) {
		return true
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err), nil)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeSuccess(w http.ResponseWriter, status int, payload map[string]any) {
	payload["success"] = true
	writeJSON(w, status, payload)
}

func writeError(w http.ResponseWriter, status int, message string, fields []ledger.FieldError) {
	writeJSON(w, status, ErrorResponse{Success: false, Error: message, Fields: fields})
}

// writeServiceError maps ledger errors onto status codes.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *ledger.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, err.Error(), verr.Fields)
	case ledger.IsClientError(err):
		writeError(w, http.StatusBadRequest, err.Error(), nil)
	case ledger.IsNotFound(err):
		writeError(w, http.StatusNotFound, err.Error(), nil)
	case ledger.IsConflict(err):
		writeError(w, http.StatusConflict, err.Error(), nil)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "request cancelled", nil)
	default:
		hlog.FromRequest(r).Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal error", nil)
	}
}
