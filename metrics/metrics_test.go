package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/supplier-ledger/ledger"
	"github.com/warp/supplier-ledger/ledger/store"
)

func TestOutcome(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, "ok"},
		{"not found", ledger.SupplierNotFound("s-1"), "not_found"},
		{"validation", &ledger.ValidationError{Fields: []ledger.FieldError{{Field: "items", Message: "is required"}}}, "invalid"},
		{"retryable", ledger.ErrConcurrentModification, "conflict"},
		{"exhausted", &ledger.ConflictError{Op: "mark_paid", Attempts: 5, Err: ledger.ErrConcurrentModification}, "conflict"},
		{"other", errors.New("disk full"), "error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Outcome(tt.err))
		})
	}
}

func TestMetrics_Observer(t *testing.T) {
	m := New()

	m.ObserveOperation("create_procurement", 10*time.Millisecond, nil)
	m.ObserveOperation("create_procurement", 10*time.Millisecond, ledger.SupplierNotFound("s-1"))
	m.ObserveRetry("mark_paid")
	m.ObserveRetry("mark_paid")
	m.ObserveReconcile("s-1", 0)
	m.ObserveReconcile("s-2", 3)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.operationsTotal.WithLabelValues("create_procurement", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operationsTotal.WithLabelValues("create_procurement", "not_found")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.retriesTotal.WithLabelValues("mark_paid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reconcileTotal.WithLabelValues("consistent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reconcileTotal.WithLabelValues("repaired")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.entriesRewritten))
}

func TestMetrics_WiredIntoService(t *testing.T) {
	m := New()
	svc := ledger.NewService(store.NewMemory(), ledger.WithObserver(m))

	_, err := svc.CreateSupplier(context.Background(), ledger.CreateSupplierInput{Name: "Acme Mobile"})
	require.NoError(t, err)
	_, err = svc.CreateProcurement(context.Background(), "missing", ledger.ProcurementInput{
		PurchaseDate: time.Now(),
		Items:        []ledger.LineItem{{Manufacturer: "Apple", Model: "iPhone 15", Quantity: 1, UnitPrice: decimal.NewFromInt(1000)}},
	})
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.operationsTotal.WithLabelValues("create_supplier", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operationsTotal.WithLabelValues("create_procurement", "not_found")))
}

func TestMetrics_Middleware(t *testing.T) {
	m := New()
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/suppliers/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	r.Handle("/metrics", m.Handler())

	req := httptest.NewRequest(http.MethodGet, "/suppliers/abc", nil)
	r.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("/suppliers/{id}", "404")))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "supplier_ledger_http_requests_total"))
}

func TestMetrics_NilHandler(t *testing.T) {
	var m *Metrics
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
