package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"norelock.dev/rpcdispatch/internal/utils"
)

// RouterConfig describes the endpoints mounted by NewRouter. Nil handlers are
// not mounted.
type RouterConfig struct {
	// RPCPath serves RPC.
	RPCPath string
	RPC     http.Handler

	// WSPath serves WS.
	WSPath string
	WS     http.Handler

	// MetricsPath serves Metrics without authentication.
	MetricsPath string
	Metrics     http.Handler

	// HealthPath serves Health without authentication.
	HealthPath string
	Health     http.Handler

	// Auth guards the RPC and WebSocket endpoints when set.
	Auth func(http.Handler) http.Handler

	// CORS enables cross-origin access when set.
	CORS *CORSConfig

	// Recorder receives the status of every response.
	Recorder StatusRecorder
}

// NewRouter creates the HTTP router.
func NewRouter(cfg RouterConfig, logger *utils.Logger) *chi.Mux {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(Recovery(logger))
	r.Use(RequestLogger(logger, cfg.Recorder))
	if cfg.CORS != nil {
		r.Use(CORS(*cfg.CORS))
	}
	r.Use(middleware.Heartbeat("/ping"))

	// Public routes
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, cfg.MetricsPath, cfg.Metrics)
	}
	if cfg.Health != nil {
		r.Method(http.MethodGet, cfg.HealthPath, cfg.Health)
	}

	// Protected routes
	r.Group(func(r chi.Router) {
		if cfg.Auth != nil {
			r.Use(cfg.Auth)
		}
		if cfg.RPC != nil {
			r.Handle(cfg.RPCPath, cfg.RPC)
		}
		if cfg.WS != nil {
			r.Handle(cfg.WSPath, cfg.WS)
		}
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		utils.RespondWithError(w, http.StatusNotFound, "Not found")
	})

	return r
}
