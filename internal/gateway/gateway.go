package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/visgate/control-plane/internal/config"
	"github.com/visgate/control-plane/internal/orchestrator"
	"github.com/visgate/control-plane/internal/store"
)

// Gateway is the HTTP surface: the public deployment API, the SSE streams,
// and the secret-guarded worker/internal routes.
type Gateway struct {
	engine   *orchestrator.Engine
	store    store.Store
	logRing  *store.LogRing
	cfg      *config.Config
	limiter  *Limiter
	validate *validator.Validate
	logger   *zap.Logger
}

func New(engine *orchestrator.Engine, st store.Store, logRing *store.LogRing, cfg *config.Config, logger *zap.Logger) *Gateway {
	return &Gateway{
		engine:   engine,
		store:    st,
		logRing:  logRing,
		cfg:      cfg,
		limiter:  NewLimiter(cfg.RateLimit.Window),
		validate: validator.New(),
		logger:   logger,
	}
}

// Router assembles the chi route tree.
func (g *Gateway) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(g.observe)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", g.handleHealth)
	r.Get("/readiness", g.handleReadiness)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(g.authenticate)
		r.Use(g.rateLimit)
		r.Post("/deployments", g.handleCreate)
		r.Get("/deployments/{id}", g.handleGet)
		r.Delete("/deployments/{id}", g.handleDelete)
		r.Get("/deployments/{id}/stream", g.handleStatusStream)
		r.Get("/deployments/{id}/logs/stream", g.handleLogStream)
	})

	r.Route("/internal", func(r chi.Router) {
		r.Use(g.internalSecret)
		r.Post("/deployment-ready/{id}", g.handleWorkerCallback)
		r.Post("/logs/{id}", g.handleWorkerLogs)
		r.Post("/cleanup/{id}", g.handleWorkerCleanup)
		r.Post("/tasks/orchestrate-deployment", g.handleOrchestrateTask)
	})

	return r
}

func (g *Gateway) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (g *Gateway) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if err := g.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
			"store":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
