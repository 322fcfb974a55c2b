package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/milad7akbari/sysense/internal/auth"
	"github.com/milad7akbari/sysense/internal/http/handlers"
	"github.com/milad7akbari/sysense/internal/metrics"
	"github.com/milad7akbari/sysense/internal/middleware"
)

// RouterDeps are the collaborators the router mounts.
type RouterDeps struct {
	Service *auth.Service
	Health  handlers.Pinger
	Metrics *metrics.Metrics
	// Gatherer backs /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer
	// IPLimit throttles the unauthenticated auth endpoints. Nil disables it.
	IPLimit func(http.Handler) http.Handler
	Logger  *zap.Logger
}

// NewRouter creates a new HTTP router with all routes configured
func NewRouter(d RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(d.Logger))
	r.Use(chimw.Recoverer)
	if d.Metrics != nil {
		r.Use(d.Metrics.Middleware)
	}

	healthHandler := handlers.NewHealthHandler(d.Health, d.Logger)
	r.Get("/health", healthHandler.ServeHTTP)
	if d.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}

	authHandler := handlers.NewAuthHandler(d.Service, d.Logger)
	userHandler := handlers.NewUserHandler(d.Service, d.Logger)
	requireUser := middleware.Authenticate(d.Service, d.Logger)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				if d.IPLimit != nil {
					r.Use(d.IPLimit)
				}
				r.Post("/send-otp", authHandler.HandleSendOTP)
				r.Post("/verify-otp", authHandler.HandleVerifyOTP)
				r.Post("/login", authHandler.HandleLogin)
				r.Post("/refresh", authHandler.HandleRefresh)
			})
			r.Post("/logout", authHandler.HandleLogout)
			r.With(requireUser).Post("/logout-all", authHandler.HandleLogoutAll)
		})

		// Protected routes (require valid access token)
		r.Route("/users/me", func(r chi.Router) {
			r.Use(requireUser)
			r.Get("/", userHandler.HandleMe)
			r.Patch("/", userHandler.HandleUpdateMe)
			r.Put("/password", userHandler.HandleSetPassword)
		})
	})

	return r
}
