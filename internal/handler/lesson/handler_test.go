package lesson

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lessonModel "github.com/zhouzirui/socratic-spark/backend/internal/model/lesson"
	"github.com/zhouzirui/socratic-spark/backend/internal/service/ai/aitest"
	lessonService "github.com/zhouzirui/socratic-spark/backend/internal/service/lesson"
	"github.com/zhouzirui/socratic-spark/backend/internal/service/tutor"
)

type constScorer int

func (c constScorer) Score(context.Context, string, string) int { return int(c) }

func setupRouter(t *testing.T, fake *aitest.Model) (*chi.Mux, *lessonService.Service) {
	t.Helper()
	tu, err := tutor.New(context.Background(), fake)
	require.NoError(t, err)
	svc := lessonService.NewService(tu, constScorer(14))

	r := chi.NewRouter()
	New(svc, nil).RegisterRoutes(r)
	return r, svc
}

func do(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		require.NoError(t, err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func decodeSnapshot(t *testing.T, resp *httptest.ResponseRecorder) lessonModel.Snapshot {
	t.Helper()
	var snap lessonModel.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	return snap
}

func createLesson(t *testing.T, r http.Handler) string {
	t.Helper()
	resp := do(t, r, http.MethodPost, "/lessons", nil)
	require.Equal(t, http.StatusCreated, resp.Code)
	return decodeSnapshot(t, resp).ID
}

func TestCreateLessonWithoutConcept(t *testing.T) {
	r, svc := setupRouter(t, aitest.Text())

	resp := do(t, r, http.MethodPost, "/lessons", nil)
	require.Equal(t, http.StatusCreated, resp.Code)

	snap := decodeSnapshot(t, resp)
	assert.NotEmpty(t, snap.ID)
	assert.False(t, snap.Started)
	assert.Equal(t, lessonModel.InitialCharge, snap.Charge)
	assert.Equal(t, 1, svc.Len())
}

func TestCreateLessonWithConceptStartsIt(t *testing.T) {
	r, _ := setupRouter(t, aitest.Text("What do you already know about functions calling themselves?"))

	resp := do(t, r, http.MethodPost, "/lessons", map[string]string{"concept": "Recursion"})
	require.Equal(t, http.StatusCreated, resp.Code)

	snap := decodeSnapshot(t, resp)
	assert.True(t, snap.Started)
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, "What do you already know about functions calling themselves?", snap.Messages[0].Content)
}

func TestCreateLessonStartFailureDropsLesson(t *testing.T) {
	r, svc := setupRouter(t, aitest.New(aitest.Reply{Err: errors.New("api key invalid")}))

	resp := do(t, r, http.MethodPost, "/lessons", map[string]string{"concept": "Recursion"})
	assert.Equal(t, http.StatusBadGateway, resp.Code)
	assert.NotContains(t, resp.Body.String(), "api key invalid")
	assert.Zero(t, svc.Len())
}

func TestStartLessonStatusMapping(t *testing.T) {
	r, _ := setupRouter(t, aitest.Text("First question?"))
	id := createLesson(t, r)

	resp := do(t, r, http.MethodPost, "/lessons/"+id+"/start", map[string]string{"concept": "   "})
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Contains(t, resp.Body.String(), "concept is required")

	resp = do(t, r, http.MethodPost, "/lessons/"+id+"/start", map[string]string{"concept": "Recursion"})
	require.Equal(t, http.StatusOK, resp.Code)
	assert.True(t, decodeSnapshot(t, resp).Started)

	resp = do(t, r, http.MethodPost, "/lessons/"+id+"/start", map[string]string{"concept": "Recursion"})
	assert.Equal(t, http.StatusConflict, resp.Code)

	resp = do(t, r, http.MethodPost, "/lessons/missing/start", map[string]string{"concept": "Recursion"})
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestStartLessonRemoteFailure(t *testing.T) {
	r, _ := setupRouter(t, aitest.New(aitest.Reply{Err: errors.New("503")}))
	id := createLesson(t, r)

	resp := do(t, r, http.MethodPost, "/lessons/"+id+"/start", map[string]string{"concept": "Recursion"})
	assert.Equal(t, http.StatusBadGateway, resp.Code)

	resp = do(t, r, http.MethodGet, "/lessons/"+id, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	snap := decodeSnapshot(t, resp)
	assert.False(t, snap.Started)
	assert.Empty(t, snap.Messages)
}

func TestSendMessage(t *testing.T) {
	r, svc := setupRouter(t, aitest.Text("First question?", "Second question?"))
	id := createLesson(t, r)

	resp := do(t, r, http.MethodPost, "/lessons/"+id+"/messages", map[string]string{"content": "too early"})
	assert.Equal(t, http.StatusConflict, resp.Code)

	require.Equal(t, http.StatusOK, do(t, r, http.MethodPost, "/lessons/"+id+"/start", map[string]string{"concept": "Recursion"}).Code)

	resp = do(t, r, http.MethodPost, "/lessons/"+id+"/messages", map[string]string{"content": ""})
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = do(t, r, http.MethodPost, "/lessons/"+id+"/messages", map[string]string{"content": "It calls itself"})
	require.Equal(t, http.StatusOK, resp.Code)

	var body MessageResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "Second question?", body.Reply.Content)
	assert.Len(t, body.Snapshot.Messages, 3)

	l, err := svc.Get(context.Background(), id)
	require.NoError(t, err)
	l.Wait()
	assert.Equal(t, lessonModel.InitialCharge+14, l.Snapshot().Charge)
}

func TestSendMessageRemoteFailure(t *testing.T) {
	r, _ := setupRouter(t, aitest.New(
		aitest.Reply{Content: "First question?"},
		aitest.Reply{Err: errors.New("connection refused")},
	))
	id := createLesson(t, r)
	require.Equal(t, http.StatusOK, do(t, r, http.MethodPost, "/lessons/"+id+"/start", map[string]string{"concept": "Recursion"}).Code)

	resp := do(t, r, http.MethodPost, "/lessons/"+id+"/messages", map[string]string{"content": "answer"})
	assert.Equal(t, http.StatusBadGateway, resp.Code)
	assert.NotContains(t, resp.Body.String(), "connection refused")
}

func TestResetAndDelete(t *testing.T) {
	r, _ := setupRouter(t, aitest.Text("First question?"))
	id := createLesson(t, r)
	require.Equal(t, http.StatusOK, do(t, r, http.MethodPost, "/lessons/"+id+"/start", map[string]string{"concept": "Recursion"}).Code)

	resp := do(t, r, http.MethodPost, "/lessons/"+id+"/reset", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	snap := decodeSnapshot(t, resp)
	assert.False(t, snap.Started)
	assert.Empty(t, snap.Messages)
	assert.Equal(t, lessonModel.InitialCharge, snap.Charge)

	assert.Equal(t, http.StatusNoContent, do(t, r, http.MethodDelete, "/lessons/"+id, nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, r, http.MethodGet, "/lessons/"+id, nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, r, http.MethodDelete, "/lessons/"+id, nil).Code)
}

func TestInvalidBody(t *testing.T) {
	r, _ := setupRouter(t, aitest.Text())
	id := createLesson(t, r)

	req := httptest.NewRequest(http.MethodPost, "/lessons/"+id+"/start", bytes.NewBufferString("{not json"))
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestCreateLessonAfterShutdown(t *testing.T) {
	r, svc := setupRouter(t, aitest.Text())
	svc.Shutdown()

	resp := do(t, r, http.MethodPost, "/lessons", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
}
