package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/zhouzirui/socratic-spark/backend/internal/config"
	"github.com/zhouzirui/socratic-spark/backend/internal/handler/lesson"
	"github.com/zhouzirui/socratic-spark/backend/internal/handler/live"
	"github.com/zhouzirui/socratic-spark/backend/internal/handler/stream"
	"github.com/zhouzirui/socratic-spark/backend/internal/metrics"
	middlewarePkg "github.com/zhouzirui/socratic-spark/backend/internal/middleware"
	lessonService "github.com/zhouzirui/socratic-spark/backend/internal/service/lesson"
	"github.com/zhouzirui/socratic-spark/backend/pkg/utils"
)

// NewRouter wires HTTP routes to core services.
func NewRouter(cfg config.ServerConfig, lessons *lessonService.Service, m *metrics.Collector, log *zap.Logger) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.Logger(log, m))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(cfg.AllowedOrigins))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if m != nil {
		r.Method(http.MethodGet, "/metrics", m.Handler())
	}

	lessonHandler := lesson.New(lessons, log)
	streamHandler := stream.New(lessons, log)
	wsHandler := live.NewWebSocketHandler(lessons, cfg.AllowedOrigins, log)

	r.Route("/api", func(api chi.Router) {
		lessonHandler.RegisterRoutes(api)
		streamHandler.RegisterRoutes(api)
		wsHandler.RegisterWebSocketRoutes(api)
	})

	return r
}
