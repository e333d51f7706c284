package utils

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateStructFormatsFieldErrors(t *testing.T) {
	var payload struct {
		Concept string `json:"concept" validate:"required,max=5"`
		Kind    string `json:"kind" validate:"omitempty,oneof=a b"`
	}

	err := ValidateStruct(payload)
	require.EqualError(t, err, "concept is required")

	payload.Concept = "too long"
	payload.Kind = "c"
	err = ValidateStruct(payload)
	require.EqualError(t, err, "concept must be at most 5 characters; kind must be one of: a b")
}

func TestDecodeJSONAcceptsEmptyBody(t *testing.T) {
	var payload struct {
		Concept string `json:"concept"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
	require.NoError(t, DecodeJSON(req, &payload))
	assert.Empty(t, payload.Concept)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{"))
	require.Error(t, DecodeJSON(req, &payload))
}

func TestSendSSEEvent(t *testing.T) {
	rec := httptest.NewRecorder()
	SetupSSEHeaders(rec)
	require.NoError(t, SendSSEEvent(rec, rec, "charge", map[string]int{"charge": 24}))

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "event: charge\ndata: {\"charge\":24}\n\n", rec.Body.String())
	assert.True(t, rec.Flushed)
}
