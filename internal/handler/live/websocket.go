package live

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	lessonHandler "github.com/zhouzirui/socratic-spark/backend/internal/handler/lesson"
	lessonModel "github.com/zhouzirui/socratic-spark/backend/internal/model/lesson"
	lessonService "github.com/zhouzirui/socratic-spark/backend/internal/service/lesson"
	"github.com/zhouzirui/socratic-spark/backend/pkg/utils"
)

const (
	readTimeout  = 60 * time.Second
	pingInterval = 54 * time.Second
	writeTimeout = 10 * time.Second
)

// WebSocketHandler 课程的WebSocket实时通道
type WebSocketHandler struct {
	lessons  *lessonService.Service
	log      *zap.Logger
	upgrader websocket.Upgrader
}

// NewWebSocketHandler 创建WebSocket处理器，来源校验与 CORS 使用同一份白名单
func NewWebSocketHandler(lessons *lessonService.Service, allowedOrigins []string, log *zap.Logger) *WebSocketHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &WebSocketHandler{
		lessons: lessons,
		log:     log.With(zap.String("component", "websocket")),
		upgrader: websocket.Upgrader{
			CheckOrigin:     originChecker(allowedOrigins),
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// originChecker 空白名单或包含 "*" 时放行所有来源；没有 Origin 头的非浏览器客户端总是放行
func originChecker(allowed []string) func(r *http.Request) bool {
	for _, origin := range allowed {
		if strings.TrimSpace(origin) == "*" {
			return func(*http.Request) bool { return true }
		}
	}
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if strings.EqualFold(strings.TrimSpace(a), origin) {
				return true
			}
		}
		return false
	}
}

// RegisterWebSocketRoutes 注册WebSocket路由
func (h *WebSocketHandler) RegisterWebSocketRoutes(r chi.Router) {
	r.Get("/ws/{lessonID}", h.handleWebSocket)
}

type inboundMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type outgoingMessage struct {
	Type      string      `json:"type"`
	LessonID  string      `json:"lessonId,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// conn 串行化写操作，gorilla 连接只允许一个并发写者。
type conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *conn) writeJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteJSON(v)
}

func (c *conn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
}

// handleWebSocket 处理WebSocket连接
func (h *WebSocketHandler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	lessonID := chi.URLParam(r, "lessonID")
	l, err := h.lessons.Get(r.Context(), lessonID)
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, "lesson not found")
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.String("lesson_id", lessonID), zap.Error(err))
		return
	}
	defer ws.Close()
	c := &conn{ws: ws}

	h.log.Info("websocket connected", zap.String("lesson_id", lessonID))

	// 对话调用在独立 goroutine 中执行，连接关闭时先取消再等待它们结束
	var calls sync.WaitGroup
	defer calls.Wait()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events, unsubscribe := l.Subscribe()
	defer unsubscribe()

	if err := c.writeJSON(outgoingMessage{Type: "snapshot", LessonID: lessonID, Data: l.Snapshot(), Timestamp: time.Now().Unix()}); err != nil {
		return
	}

	go h.writeLoop(ctx, cancel, c, events)

	_ = ws.SetReadDeadline(time.Now().Add(readTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for {
		var msg inboundMessage
		if err := ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Warn("websocket read error", zap.String("lesson_id", lessonID), zap.Error(err))
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(readTimeout))

		h.handleMessage(ctx, &calls, c, l, &msg)
	}
}

// handleMessage 立即处理 reset；start 和 message 异步调用导师，读循环因此可以随时收到 reset。
// 同一课程的并发调用由课程的 typing 状态拒绝为 ErrBusy。
func (h *WebSocketHandler) handleMessage(ctx context.Context, calls *sync.WaitGroup, c *conn, l *lessonService.Lesson, msg *inboundMessage) {
	switch msg.Type {
	case "start":
		var payload lessonHandler.StartRequest
		if !h.decode(c, msg.Data, &payload) {
			return
		}
		payload.Concept = strings.TrimSpace(payload.Concept)
		if err := utils.ValidateStruct(payload); err != nil {
			h.sendError(c, err.Error())
			return
		}
		h.dispatch(calls, c, func() error {
			_, err := l.Start(ctx, payload.Concept)
			return err
		})
	case "message":
		var payload lessonHandler.MessageRequest
		if !h.decode(c, msg.Data, &payload) {
			return
		}
		payload.Content = strings.TrimSpace(payload.Content)
		if err := utils.ValidateStruct(payload); err != nil {
			h.sendError(c, err.Error())
			return
		}
		h.dispatch(calls, c, func() error {
			_, err := l.Send(ctx, payload.Content)
			return err
		})
	case "reset":
		l.Reset()
	default:
		h.sendError(c, "unsupported message type: "+msg.Type)
	}
}

func (h *WebSocketHandler) dispatch(calls *sync.WaitGroup, c *conn, call func() error) {
	calls.Add(1)
	go func() {
		defer calls.Done()
		err := call()
		switch {
		case err == nil:
		case errors.Is(err, lessonService.ErrInterrupted):
			// the client already received the reset event
		default:
			h.sendFailure(c, err)
		}
	}()
}

func (h *WebSocketHandler) decode(c *conn, raw json.RawMessage, dst interface{}) bool {
	if len(raw) == 0 {
		return true
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		h.sendError(c, "invalid message data")
		return false
	}
	return true
}

// writeLoop 转发课程事件并定期发送ping。
func (h *WebSocketHandler) writeLoop(ctx context.Context, cancel context.CancelFunc, c *conn, events <-chan lessonModel.Event) {
	defer func() {
		cancel()
		// unblocks the read loop
		_ = c.ws.Close()
	}()
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				_ = c.writeJSON(outgoingMessage{Type: "closed", Timestamp: time.Now().Unix()})
				return
			}
			if err := c.writeJSON(outgoingMessage{
				Type:      string(ev.Type),
				LessonID:  ev.LessonID,
				Data:      ev,
				Timestamp: ev.Timestamp.Unix(),
			}); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.ping(); err != nil {
				return
			}
		}
	}
}

func (h *WebSocketHandler) sendFailure(c *conn, err error) {
	_, message := lessonHandler.ErrorStatus(err)
	h.sendError(c, message)
}

func (h *WebSocketHandler) sendError(c *conn, message string) {
	msg := outgoingMessage{
		Type:      "error",
		Data:      map[string]string{"message": message},
		Timestamp: time.Now().Unix(),
	}
	if err := c.writeJSON(msg); err != nil {
		h.log.Debug("websocket write error failed", zap.Error(err))
	}
}
