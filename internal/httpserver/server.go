package httpserver

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server is the dashboard/health application server. It is mounted on
// the "application" listener (default :8080); metrics are served on a
// separate listener (default :9090) so that scraping never competes
// with dashboard traffic.
type Server struct {
	Router    *chi.Mux
	Logger    *slog.Logger
	startedAt time.Time

	// ShuttingDown is polled by /live and /ready to drain traffic
	// cooperatively during shutdown.
	ShuttingDown func() bool
}

// NewServer creates the dashboard HTTP server with standard middleware.
// Domain routes are mounted by the caller on Router after construction.
func NewServer(logger *slog.Logger, corsOrigins []string, shuttingDown func() bool) *Server {
	s := &Server{
		Router:       chi.NewRouter(),
		Logger:       logger,
		startedAt:    time.Now(),
		ShuttingDown: shuttingDown,
	}

	s.Router.Use(RequestID)
	s.Router.Use(Logger(logger))
	s.Router.Use(Metrics)
	s.Router.Use(Recoverer(logger))
	s.Router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Dashboard-Token", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}

// Uptime returns how long the server has been running.
func (s *Server) Uptime() time.Duration { return time.Since(s.startedAt) }

// NewMetricsServer builds the standalone metrics-only HTTP handler.
func NewMetricsServer(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return mux
}
