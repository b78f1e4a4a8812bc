package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aescanero/taskmesh/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const messageResponse = `{
  "id": "msg_01",
  "type": "message",
  "role": "assistant",
  "model": "claude-sonnet-4-20250514",
  "content": [{"type": "text", "text": "# Overview\nGenerated docs."}],
  "stop_reason": "end_turn",
  "stop_sequence": null,
  "usage": {"input_tokens": 42, "output_tokens": 7}
}`

func newTestCapability(t *testing.T, handler http.HandlerFunc) *Capability {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	c, err := NewCapability(Config{APIKey: "test-key", BaseURL: server.URL}, zaptest.NewLogger(t))
	require.NoError(t, err)
	return c
}

func TestCapability_Invoke(t *testing.T) {
	var body map[string]any
	c := newTestCapability(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &body))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(messageResponse))
	})

	out, err := c.Invoke(context.Background(), domain.Input{
		Payload: map[string]any{"title": "Core", "prompt": "Document the service."},
		Upstream: map[string]json.RawMessage{
			"analyze": json.RawMessage(`{"modules":3}`),
			"render":  json.RawMessage(`"diagram.svg"`),
		},
	})
	require.NoError(t, err)

	output, ok := out.(Output)
	require.True(t, ok)
	assert.Equal(t, "# Overview\nGenerated docs.", output.Text)
	assert.Equal(t, int64(42), output.InputTokens)
	assert.Equal(t, int64(7), output.OutputTokens)
	assert.Equal(t, "end_turn", output.StopReason)

	assert.Equal(t, defaultModel, body["model"])
	messages := body["messages"].([]any)
	require.Len(t, messages, 1)
	content := messages[0].(map[string]any)["content"].([]any)
	text := content[0].(map[string]any)["text"].(string)
	assert.Contains(t, text, "Title: Core")
	assert.Contains(t, text, "Document the service.")
	assert.Contains(t, text, "## Material from analyze")
	assert.Contains(t, text, "diagram.svg")
	assert.Less(t, strings.Index(text, "from analyze"), strings.Index(text, "from render"))
}

func TestCapability_ErrorClassification(t *testing.T) {
	tests := []struct {
		status int
		want   domain.FailureKind
	}{
		{http.StatusTooManyRequests, domain.FailureKindBusy},
		{529, domain.FailureKindBusy},
		{http.StatusInternalServerError, domain.FailureKindBusy},
		{http.StatusRequestTimeout, domain.FailureKindTimeout},
		{http.StatusBadRequest, domain.FailureKindInvalidInput},
		{http.StatusUnauthorized, domain.FailureKindPermanent},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			calls := 0
			c := newTestCapability(t, func(w http.ResponseWriter, r *http.Request) {
				calls++
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"type":"error","error":{"type":"api_error","message":"nope"}}`))
			})

			_, err := c.Invoke(context.Background(), domain.Input{Payload: map[string]any{"prompt": "hi"}})
			require.Error(t, err)
			assert.Equal(t, tt.want, domain.ClassifyError(err))
			assert.Equal(t, 1, calls, "the SDK must not retry on its own")
		})
	}
}

func TestCapability_InvalidInput(t *testing.T) {
	c := newTestCapability(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})

	_, err := c.Invoke(context.Background(), domain.Input{})
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
}

func TestNewCapability_RequiresKey(t *testing.T) {
	_, err := NewCapability(Config{}, zaptest.NewLogger(t))
	assert.Error(t, err)
}
