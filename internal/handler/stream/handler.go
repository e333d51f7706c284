package stream

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	lessonService "github.com/zhouzirui/socratic-spark/backend/internal/service/lesson"
	"github.com/zhouzirui/socratic-spark/backend/pkg/utils"
)

const defaultHeartbeat = 15 * time.Second

// Handler pushes lesson events to the browser via Server-Sent Events.
type Handler struct {
	lessons   *lessonService.Service
	log       *zap.Logger
	heartbeat time.Duration
}

// New creates a new stream handler
func New(lessons *lessonService.Service, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		lessons:   lessons,
		log:       log.With(zap.String("component", "sse")),
		heartbeat: defaultHeartbeat,
	}
}

// RegisterRoutes mounts the event stream next to the lesson routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/lessons/{lessonID}/events", h.HandleEvents)
}

// HandleEvents sends a snapshot first, then every lesson event until the
// client goes away or the lesson is deleted.
func (h *Handler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	lessonID := chi.URLParam(r, "lessonID")
	l, err := h.lessons.Get(r.Context(), lessonID)
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, "lesson not found")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	events, unsubscribe := l.Subscribe()
	defer unsubscribe()

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	if err := utils.SendSSEEvent(w, flusher, "snapshot", l.Snapshot()); err != nil {
		return
	}

	h.log.Debug("event stream opened", zap.String("lesson_id", lessonID))
	defer h.log.Debug("event stream closed", zap.String("lesson_id", lessonID))

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				_ = utils.SendSSEEvent(w, flusher, "closed", map[string]string{"lessonId": lessonID})
				return
			}
			if err := utils.SendSSEEvent(w, flusher, string(ev.Type), ev); err != nil {
				return
			}
		case <-ticker.C:
			if err := utils.SendSSEComment(w, flusher, "heartbeat"); err != nil {
				return
			}
		}
	}
}
