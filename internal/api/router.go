package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MikeSquared-Agency/scribematch/internal/store"
)

type RouterConfig struct {
	AdminToken         string
	RateLimitPerMinute int
}

func NewRouter(s store.Store, m Matcher, wl WaitlistReader, cfg RouterConfig, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.RequestID)
	r.Use(RequestLogger(logger))
	r.Use(RateLimitMiddleware(cfg.RateLimitPerMinute))

	matches := NewMatchesHandler(s, m)
	admin := NewAdminHandler(s, wl)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(ClientIDMiddleware)

		r.Post("/matches", matches.Create)
		r.Post("/matches/emergency", matches.Emergency)
		r.Post("/matches/bulk", matches.Bulk)
		r.Get("/matches", matches.List)
		r.Get("/matches/{id}", matches.Get)
		r.Post("/matches/{id}/accept", matches.Accept)
		r.Post("/matches/{id}/decline", matches.Decline)

		r.Route("/admin", func(r chi.Router) {
			r.Use(AdminAuthMiddleware(cfg.AdminToken))
			r.Put("/students/{id}", admin.PutStudent)
			r.Put("/scribes/{id}", admin.PutScribe)
			r.Put("/exams/{id}", admin.PutExam)
			r.Get("/stats", admin.Stats)
			r.Get("/waitlist", admin.Waitlist)
			r.Get("/waitlist/{student_id}/{exam_id}", admin.WaitlistPosition)
		})
	})

	return r
}

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// NewMetricsRouter serves /health and /metrics. Named checks are run on
// /health; any failure turns it into a 503.
func NewMetricsRouter(gatherer prometheus.Gatherer, checks map[string]HealthCheck) http.Handler {
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		body := map[string]string{"status": "ok"}
		for name, check := range checks {
			if err := check(ctx); err != nil {
				status = http.StatusServiceUnavailable
				body["status"] = "degraded"
				body[name] = err.Error()
			}
		}
		writeJSON(w, status, body)
	})
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return r
}
