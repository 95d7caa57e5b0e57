/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:       Request logging
  2. Recoverer:    Panic recovery (500 instead of crash)
  3. RequestID:    Unique ID per request for tracing
  4. CORS:         Cross-origin requests for the web client
  5. authenticate: Bearer token → Principal (all routes but /healthz)

SEE ALSO:
  - handlers.go: Handler implementations
  - auth/auth.go: Token verification
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/warp/enrollment-engine/auth"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Healthz)

	r.Group(func(r chi.Router) {
		r.Use(h.authenticate)

		r.Route("/classes/{classId}", func(r chi.Router) {
			r.Post("/select", h.SelectClass)
			r.Delete("/select", h.DeselectClass)
		})

		r.Route("/students/{email}", func(r chi.Router) {
			r.Get("/selected", h.ListSelected)
			r.Get("/enrolled", h.ListEnrolled)
			r.Get("/enrolled/{classId}", h.CheckEnrolled)
		})

		r.Post("/payment-intents", h.CreatePaymentIntent)
		r.Route("/payments", func(r chi.Router) {
			r.Post("/", h.ReconcilePayment)
			r.Get("/history/{email}", h.PaymentHistory)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Post("/sweep", h.TriggerSweep)
		})

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}

// authenticate verifies the bearer token and stores the Principal on the
// request context.
func (h *Handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := h.Auth.Verify(r.Context(), auth.BearerToken(r.Header.Get("Authorization")))
		if err != nil {
			h.fail(w, "Unauthorized", err)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), p)))
	})
}
