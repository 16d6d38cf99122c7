package genai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replyflow/replyflow/internal/config"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(nil, config.GenAIConfig{
		BaseURL:         srv.URL,
		APIKey:          "test-key",
		ChatModel:       "test-chat",
		TranscribeModel: "test-whisper",
		EmbeddingModel:  "test-embed",
		TimeoutSeconds:  5,
	})
}

func TestChatSendsSystemHistoryAndUser(t *testing.T) {
	var got completionRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"model": "test-chat",
			"choices": []map[string]any{
				{"message": map[string]any{"content": "  generated reply  "}, "finish_reason": "stop"},
			},
			"usage": map[string]int{"prompt_tokens": 12, "completion_tokens": 5, "total_tokens": 17},
		})
	})

	result, err := client.Chat(context.Background(), ChatRequest{
		System:   "persona block",
		History:  []Message{{Role: "user", Content: "earlier"}, {Role: "assistant", Content: "earlier reply"}},
		UserText: "current question",
	})
	require.NoError(t, err)
	assert.Equal(t, "generated reply", result.Text)
	assert.Equal(t, 17, result.Usage.TotalTokens)

	require.Len(t, got.Messages, 4)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "user", got.Messages[3].Role)
	assert.Equal(t, "test-chat", got.Model)
}

func TestChatErrorStatusSurfaced(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"rate limited"}}`, http.StatusTooManyRequests)
	})
	_, err := client.Chat(context.Background(), ChatRequest{UserText: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestTranscribe(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/audio/transcriptions", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "test-whisper", r.FormValue("model"))
		_, _, err := r.FormFile("file")
		require.NoError(t, err)
		_ = json.NewEncoder(w).Encode(map[string]string{"text": "hello from audio"})
	})

	text, err := client.Transcribe(context.Background(), []byte("fake-ogg-bytes"), "note.ogg")
	require.NoError(t, err)
	assert.Equal(t, "hello from audio", text)
}

func TestEmbed(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/embeddings", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"embedding": []float32{0.1, 0.2, 0.3}}},
		})
	})

	vec, err := client.Embed(context.Background(), "some knowledge")
	require.NoError(t, err)
	assert.Len(t, vec, 3)
}
