package main

import (
	"context"
	"net/http"

	analyticsapi "ms-registration/internal/analytics/api"
	"ms-registration/internal/auth"
	"ms-registration/internal/config"
	"ms-registration/internal/logger"
	"ms-registration/internal/metrics"
	handlers "ms-registration/internal/payment/handler"
	"ms-registration/internal/registration/registration_api"
	"ms-registration/internal/utils"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

type routerDeps struct {
	cfg           *config.Config
	log           *logger.Logger
	verifier      auth.Verifier
	registrations *registration_api.Handler
	payments      *handlers.PaymentHandler
	analytics     *analyticsapi.Handler
	health        func(ctx context.Context) error
}

func newRouter(d routerDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// --- Public Routes ---
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := d.health(r.Context()); err != nil {
			utils.WriteError(w, http.StatusServiceUnavailable, "unhealthy", err)
			return
		}
		utils.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", metrics.Handler())

	// --- Payments: the gateway callback and receipt lookup are public ---
	r.Route("/api/payments", func(r chi.Router) {
		d.payments.PublicRoutes(r)
		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware(d.verifier, d.log))
			d.payments.Routes(r)
		})
	})
	d.log.Info("ROUTER", "Payment routes registered under /api/payments")

	// --- Protected Routes ---
	r.Route("/api/events", func(r chi.Router) {
		r.Use(auth.Middleware(d.verifier, d.log))
		d.registrations.Routes(r)
		d.analytics.Routes(r)
	})
	d.log.Info("ROUTER", "Registration and analytics routes registered under /api/events")

	return r
}
