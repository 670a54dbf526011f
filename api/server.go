/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     zap request logging with the request ID (logging.Middleware)
  3. Metrics:    Prometheus request counters, labeled by route pattern
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. CORS:       Cross-origin requests for the front end

ROUTE GROUPS:
  /api/policies, /api/policy/{id}/*   Policy billing
  /api/contacts                       Contacts
  /api/admin/*                        Sweeps and demo fixture
  /metrics                            Prometheus exposition
  /                                   Landing page

SECURITY NOTE:
  No authentication middleware. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/warp/policy-billing/logging"
	"github.com/warp/policy-billing/metrics"
)

// DefaultCORSOrigins are the local front end dev servers.
var DefaultCORSOrigins = []string{"http://localhost:5173", "http://localhost:8080"}

// NewRouter creates a new router with all routes configured. With no
// origins, DefaultCORSOrigins are allowed.
func NewRouter(h *Handler, corsOrigins ...string) *chi.Mux {
	if len(corsOrigins) == 0 {
		corsOrigins = DefaultCORSOrigins
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(logging.Middleware(h.Logger))
	r.Use(metrics.InstrumentHandler)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", IdempotencyKeyHeader},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Route("/policies", func(r chi.Router) {
			r.Get("/", h.ListPolicies)
			r.Post("/", h.CreatePolicy)
		})

		r.Route("/policy/{id}", func(r chi.Router) {
			r.Get("/", h.GetPolicy)
			r.Put("/schedule", h.ChangeSchedule)
			r.Post("/payments", h.MakePayment)
			r.Get("/cancellation", h.GetCancellation)
			r.Post("/cancel", h.CancelPolicy)
		})

		r.Route("/contacts", func(r chi.Router) {
			r.Get("/", h.ListContacts)
			r.Post("/", h.CreateContact)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Post("/sweep", h.RunSweep)
			r.Get("/sweeps", h.ListSweepRuns)
			r.Post("/seed", h.SeedDemo)
		})
	})

	r.Handle("/metrics", metrics.Handler())
	r.Get("/", landingPage)

	return r
}

func landingPage(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	w.Write([]byte(`<!DOCTYPE html>
<html>
<head><title>Policy Billing</title></head>
<body style="font-family: system-ui; max-width: 800px; margin: 50px auto; padding: 20px;">
<h1>Policy Billing API</h1>
<p>Look up a policy as of a date:</p>
<form onsubmit="location.href='/api/policy/'+encodeURIComponent(this.id.value)+'?date='+this.date.value; return false;">
<input name="id" placeholder="policy id">
<input name="date" type="date" value="2015-02-01">
<button type="submit">Show</button>
</form>
<h2>API Endpoints</h2>
<ul>
<li><a href="/api/policies">/api/policies</a> - List policies</li>
<li><a href="/api/contacts">/api/contacts</a> - List contacts</li>
<li><a href="/api/admin/sweeps">/api/admin/sweeps</a> - Recent cancellation sweeps</li>
<li><a href="/metrics">/metrics</a> - Prometheus metrics</li>
</ul>
<p>Load the demo policies with <code>curl -X POST localhost:8080/api/admin/seed</code>.</p>
</body>
</html>`))
}
