package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/socratic-spark/backend/internal/config"
	"github.com/zhouzirui/socratic-spark/backend/internal/metrics"
	"github.com/zhouzirui/socratic-spark/backend/internal/service/ai/aitest"
	lessonService "github.com/zhouzirui/socratic-spark/backend/internal/service/lesson"
	"github.com/zhouzirui/socratic-spark/backend/internal/service/tutor"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	tu, err := tutor.New(context.Background(), aitest.Text("Hello?"))
	require.NoError(t, err)
	svc := lessonService.NewService(tu, nil)
	return NewRouter(config.ServerConfig{AllowedOrigins: []string{"*"}}, svc, metrics.New(), nil)
}

func TestHealthz(t *testing.T) {
	r := newTestRouter(t)

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, resp.Code)
	assert.JSONEq(t, `{"status":"ok"}`, resp.Body.String())
}

func TestMetricsExposesRequestCounter(t *testing.T) {
	r := newTestRouter(t)

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/lessons", nil))

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `socratic_http_requests_total{method="POST",route="/api/lessons",status="201"} 1`)
}

func TestUnknownLessonIs404(t *testing.T) {
	r := newTestRouter(t)

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/lessons/nope", nil))
	assert.Equal(t, http.StatusNotFound, resp.Code)
}
