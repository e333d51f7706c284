package lesson

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	lessonModel "github.com/zhouzirui/socratic-spark/backend/internal/model/lesson"
	lessonService "github.com/zhouzirui/socratic-spark/backend/internal/service/lesson"
	"github.com/zhouzirui/socratic-spark/backend/internal/service/tutor"
	"github.com/zhouzirui/socratic-spark/backend/pkg/utils"
)

// Handler 课程的HTTP处理器
type Handler struct {
	lessons *lessonService.Service
	log     *zap.Logger
}

// New 创建课程处理器
func New(lessons *lessonService.Service, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		lessons: lessons,
		log:     log.With(zap.String("component", "lesson_handler")),
	}
}

// StartRequest 开始课程的请求体
type StartRequest struct {
	Concept string `json:"concept" validate:"required,max=200"`
}

// CreateRequest 创建课程的请求体，concept 可选
type CreateRequest struct {
	Concept string `json:"concept" validate:"omitempty,max=200"`
}

// MessageRequest 发送消息的请求体
type MessageRequest struct {
	Content string `json:"content" validate:"required,max=4000"`
}

// MessageResponse 发送消息后的响应
type MessageResponse struct {
	Reply    lessonModel.Message  `json:"reply"`
	Snapshot lessonModel.Snapshot `json:"snapshot"`
}

// RegisterRoutes 注册课程相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/lessons", h.handleCreate)
	r.Get("/lessons/{lessonID}", h.handleGet)
	r.Delete("/lessons/{lessonID}", h.handleDelete)
	r.Post("/lessons/{lessonID}/start", h.handleStart)
	r.Post("/lessons/{lessonID}/messages", h.handleSend)
	r.Post("/lessons/{lessonID}/reset", h.handleReset)
}

// handleCreate 创建课程；带 concept 时立即开始
func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var payload CreateRequest
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	payload.Concept = strings.TrimSpace(payload.Concept)
	if err := utils.ValidateStruct(payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	l, err := h.lessons.Create(r.Context())
	if err != nil {
		h.respondFailure(w, err)
		return
	}

	if payload.Concept != "" {
		if _, err := l.Start(r.Context(), payload.Concept); err != nil {
			// 未能开始的课程不保留
			_ = h.lessons.Delete(context.WithoutCancel(r.Context()), l.ID())
			h.respondFailure(w, err)
			return
		}
	}

	utils.RespondJSON(w, http.StatusCreated, l.Snapshot())
}

// handleGet 查询课程快照
func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	l, ok := h.lookup(w, r)
	if !ok {
		return
	}
	utils.RespondJSON(w, http.StatusOK, l.Snapshot())
}

// handleDelete 删除课程
func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.lessons.Delete(r.Context(), chi.URLParam(r, "lessonID")); err != nil {
		h.respondFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleStart 开始苏格拉底式对话
func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	l, ok := h.lookup(w, r)
	if !ok {
		return
	}

	var payload StartRequest
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	payload.Concept = strings.TrimSpace(payload.Concept)
	if err := utils.ValidateStruct(payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if _, err := l.Start(r.Context(), payload.Concept); err != nil {
		h.respondFailure(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, l.Snapshot())
}

// handleSend 发送学习者的回答
func (h *Handler) handleSend(w http.ResponseWriter, r *http.Request) {
	l, ok := h.lookup(w, r)
	if !ok {
		return
	}

	var payload MessageRequest
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	payload.Content = strings.TrimSpace(payload.Content)
	if err := utils.ValidateStruct(payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	reply, err := l.Send(r.Context(), payload.Content)
	if err != nil {
		h.respondFailure(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, MessageResponse{Reply: reply, Snapshot: l.Snapshot()})
}

// handleReset 重置课程
func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	l, ok := h.lookup(w, r)
	if !ok {
		return
	}
	l.Reset()
	utils.RespondJSON(w, http.StatusOK, l.Snapshot())
}

func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) (*lessonService.Lesson, bool) {
	l, err := h.lessons.Get(r.Context(), chi.URLParam(r, "lessonID"))
	if err != nil {
		h.respondFailure(w, err)
		return nil, false
	}
	return l, true
}

func (h *Handler) respondFailure(w http.ResponseWriter, err error) {
	status, message := ErrorStatus(err)
	if status >= http.StatusInternalServerError {
		h.log.Warn("lesson request failed", zap.Int("status", status), zap.Error(err))
	}
	utils.RespondError(w, status, message)
}

// ErrorStatus 将业务错误映射为HTTP状态码和可展示的提示，不暴露远程调用的原始错误。
func ErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, lessonService.ErrConceptRequired):
		return http.StatusBadRequest, "concept is required"
	case errors.Is(err, lessonService.ErrMessageRequired):
		return http.StatusBadRequest, "content is required"
	case errors.Is(err, lessonService.ErrLessonNotFound):
		return http.StatusNotFound, "lesson not found"
	case errors.Is(err, lessonService.ErrAlreadyStarted):
		return http.StatusConflict, "lesson already started"
	case errors.Is(err, lessonService.ErrBusy):
		return http.StatusConflict, "the tutor is still answering"
	case errors.Is(err, tutor.ErrNotInitialized):
		return http.StatusConflict, "lesson has not been started"
	case errors.Is(err, lessonService.ErrInterrupted):
		return http.StatusConflict, "lesson was reset"
	case errors.Is(err, lessonService.ErrShuttingDown):
		return http.StatusServiceUnavailable, "service is shutting down"
	case errors.Is(err, tutor.ErrSessionInit):
		return http.StatusBadGateway, "The tutor could not start this lesson. Please try again."
	case errors.Is(err, tutor.ErrRemoteCall):
		return http.StatusBadGateway, "The tutor could not answer. Please try again."
	default:
		return http.StatusInternalServerError, "internal error"
	}
}
