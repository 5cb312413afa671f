/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address behind the gateway
  3. zapLogger:  Structured request logging
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. CORS:       Cross-origin requests for the staff portal

ROUTE GROUPS:
  /health               Liveness
  /api/windows          Billing window calculator
  /api/billing/*        Generation, listing, period deletion
  /api/assignments/*    Assignment read model
  /api/deposits/*       Deposits, installments, eligibility, assessments
  /api/decisions/*      Refund decisions and audit trail
  /api/program          Active program configuration

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(zapLogger(h.Logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		AllowCredentials: true,
	}))

	r.Get("/health", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Get("/windows", h.GetWindows)
		r.Get("/program", h.GetProgram)

		// Billing routes
		r.Route("/billing", func(r chi.Router) {
			r.Post("/generate", h.GenerateBilling)
			r.Get("/records", h.ListBilling)
			r.Post("/delete-period", h.DeletePeriod)
		})

		// Assignment routes
		r.Route("/assignments", func(r chi.Router) {
			r.Get("/", h.ListAssignments)
			r.Post("/", h.SaveAssignment)
			r.Get("/{id}", h.GetAssignment)
		})

		// Deposit routes
		r.Route("/deposits", func(r chi.Router) {
			r.Get("/", h.ListDeposits)
			r.Post("/", h.CreateDeposit)
			r.Get("/{id}", h.GetDeposit)
			r.Put("/{id}", h.ReviseDeposit)
			r.Get("/{id}/queue", h.ListQueue)
			r.Post("/{id}/installments/{seq}/confirm", h.ConfirmInstallment)
			r.Post("/{id}/installments/{seq}/skip", h.SkipInstallment)
			r.Post("/{id}/paid", h.MarkDepositPaid)
			r.Post("/{id}/eligibility", h.PreviewEligibility)
			r.Post("/{id}/assessments", h.AssessDeposit)
		})

		// Decision routes
		r.Route("/decisions", func(r chi.Router) {
			r.Get("/{id}", h.GetDecision)
			r.Post("/{id}/audit", h.AppendAudit)
		})
	})

	return r
}

// zapLogger logs one line per request.
func zapLogger(log *zap.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				log.Info("http request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("duration", time.Since(start)),
					zap.String("request_id", middleware.GetReqID(r.Context())))
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
