// Package api serves the admin surface over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"storypool/internal/admin"
	"storypool/internal/config"
	"storypool/internal/notify"
	"storypool/internal/store"
)

// Events is the live event source behind GET /api/events.
type Events interface {
	Subscribe(buffer int) (<-chan notify.Event, func())
}

type Server struct {
	router    chi.Router
	admin     *admin.Service
	events    Events
	gatherer  prometheus.Gatherer
	logger    *zap.Logger
	keepalive time.Duration
}

func NewServer(svc *admin.Service, events Events, gatherer prometheus.Gatherer, cfg config.ServerConfig, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		router:    chi.NewRouter(),
		admin:     svc,
		events:    events,
		gatherer:  gatherer,
		logger:    logger,
		keepalive: 15 * time.Second,
	}
	s.setupRoutes(newRateLimiter(cfg.RequestsPerSecond, cfg.Burst))
	return s
}

func (s *Server) setupRoutes(limiter *rateLimiter) {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestLogger(s.logger))
	s.router.Use(middleware.Recoverer)

	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.gatherer != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/events", s.streamEvents)

		r.Group(func(r chi.Router) {
			r.Use(limiter.Middleware)
			r.Use(middleware.AllowContentType("application/json"))
			r.Use(middleware.RequestSize(1 << 20))

			r.Get("/stories", s.listStories)
			r.Post("/stories", s.spawnStory)
			r.Get("/stories/{id}", s.getStory)
			r.Delete("/stories/{id}", s.deleteStory)
			r.Post("/stories/{id}/kill", s.killStory)
			r.Post("/stories/{id}/chapters", s.generateChapter)
			r.Post("/reset", s.resetPool)
			r.Get("/config", s.getConfig)
			r.Patch("/config", s.patchConfig)
			r.Get("/stats", s.stats)
			r.Get("/entities", s.listEntities)
			r.Post("/entities/merge", s.mergeEntities)
			r.Post("/entities/suppress", s.suppressEntity)
		})
	})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError maps domain errors onto status codes. Server errors are logged
// and reported without detail.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, admin.ErrInvalid):
		status = http.StatusBadRequest
	}
	message := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		message = "internal error"
	}
	writeJSON(w, status, errorResponse{Error: message})
}
