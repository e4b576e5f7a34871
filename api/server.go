/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the chi router, middleware stack and route table. This is
  the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RealIP, RequestID:  Client address and a per-request id
  2. hlog:               zerolog logger in the request context, access log
  3. Recoverer:          Panic recovery (500 instead of crash)
  4. Metrics:            Prometheus request count and latency per route
  5. CORS:               Cross-origin requests for the frontend
  6. httprate:           Per-IP rate limit on /api

SECURITY NOTE:
  No authentication middleware. Deploy behind an authenticating proxy.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/ledgerd: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/warp/supplier-ledger/metrics"
)

// RouterConfig carries the cross-cutting settings for NewRouter.
type RouterConfig struct {
	Logger             zerolog.Logger
	Metrics            *metrics.Metrics // nil disables /metrics
	CORSOrigins        []string
	RateLimitPerMinute int // 0 disables rate limiting
}

// NewRouter creates a router with all routes configured.
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(hlog.NewHandler(cfg.Logger))
	r.Use(requestIDField)
	r.Use(hlog.AccessHandler(accessLog))
	r.Use(middleware.Recoverer)
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware)
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", h.Healthz)
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		if cfg.RateLimitPerMinute > 0 {
			r.Use(httprate.Limit(cfg.RateLimitPerMinute, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)))
		}

		r.Route("/suppliers", func(r chi.Router) {
			r.Get("/", h.ListSuppliers)
			r.Post("/", h.CreateSupplier)
			r.Get("/{id}", h.GetSupplier)
			r.Patch("/{id}", h.UpdateSupplier)
			r.Get("/{id}/ledger", h.GetSupplierLedger)
			r.Get("/{id}/ledger/summary", h.GetLedgerSummary)
			r.Post("/{id}/recalculate", h.RecalculateBalance)
		})

		r.Route("/procurements", func(r chi.Router) {
			r.Get("/", h.ListProcurements)
			r.Post("/", h.CreateProcurement)
			r.Get("/{id}", h.GetProcurement)
			r.Put("/{id}", h.UpdateProcurement)
			r.Delete("/{id}", h.DeleteProcurement)
			r.Post("/{id}/payment", h.MarkPaid)
			r.Post("/{id}/delivery", h.UpdateDelivery)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Post("/reconcile", h.ReconcileAll)
		})

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}

// requestIDField copies chi's request id onto the request logger.
func requestIDField(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := middleware.GetReqID(r.Context()); id != "" {
			zerolog.Ctx(r.Context()).UpdateContext(func(c zerolog.Context) zerolog.Context {
				return c.Str("request_id", id)
			})
		}
		next.ServeHTTP(w, r)
	})
}

func accessLog(r *http.Request, status, size int, elapsed time.Duration) {
	event := hlog.FromRequest(r).Info()
	if status >= http.StatusInternalServerError {
		event = hlog.FromRequest(r).Error()
	}
	event.
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Int("status", status).
		Int("size", size).
		Dur("elapsed", elapsed).
		Msg("request")
}
