package editor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rbright/dictum/internal/config"
	"github.com/stretchr/testify/require"
)

type chatRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func newChatServer(t *testing.T, reply string, got *chatRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		if got != nil {
			require.NoError(t, json.NewDecoder(r.Body).Decode(got))
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "gpt-4o-mini",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": reply},
			}},
			"usage": map[string]any{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testEditor(t *testing.T, baseURL string) *Editor {
	t.Helper()
	t.Setenv("DICTUM_TEST_KEY", "test-key")
	cfg := config.Default().AIEditor
	cfg.APIKeyEnv = "DICTUM_TEST_KEY"
	cfg.BaseURL = baseURL
	ed, err := New(cfg, nil)
	require.NoError(t, err)
	return ed
}

func TestEditSendsPresetPromptAndReturnsReply(t *testing.T) {
	var got chatRequest
	srv := newChatServer(t, "  Hi Sam,\n\nSee you at noon.  ", &got)

	edited, err := testEditor(t, srv.URL).Edit(context.Background(), "hi sam see you at noon", "email")
	require.NoError(t, err)
	require.Equal(t, "Hi Sam,\n\nSee you at noon.", edited)

	require.Equal(t, "gpt-4o-mini", got.Model)
	require.Len(t, got.Messages, 2)
	require.Equal(t, "system", got.Messages[0].Role)
	require.Equal(t, SystemPrompt("email"), got.Messages[0].Content)
	require.Equal(t, "user", got.Messages[1].Role)
	require.Equal(t, "hi sam see you at noon", got.Messages[1].Content)
}

func TestEditEmptyReplyKeepsInput(t *testing.T) {
	srv := newChatServer(t, "   ", nil)

	edited, err := testEditor(t, srv.URL).Edit(context.Background(), "keep me", "default")
	require.NoError(t, err)
	require.Equal(t, "keep me", edited)
}

func TestEditBlankInputSkipsRequest(t *testing.T) {
	edited, err := testEditor(t, "http://127.0.0.1:1").Edit(context.Background(), "  ", "default")
	require.NoError(t, err)
	require.Equal(t, "  ", edited)
}

func TestEditServerErrorIsReturned(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"bad key"}}`, http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	_, err := testEditor(t, srv.URL).Edit(context.Background(), "text", "default")
	require.Error(t, err)
	require.Contains(t, err.Error(), "chat completion")
}

func TestNewRequiresKeyWithoutBaseURL(t *testing.T) {
	t.Setenv("DICTUM_MISSING_KEY", "")
	cfg := config.Default().AIEditor
	cfg.APIKeyEnv = "DICTUM_MISSING_KEY"

	_, err := New(cfg, nil)
	require.ErrorIs(t, err, ErrMissingAPIKey)
}

func TestSystemPromptFallsBackToDefault(t *testing.T) {
	require.Equal(t, basePrompt, SystemPrompt("default"))
	require.Equal(t, basePrompt, SystemPrompt("unknown"))
	require.Contains(t, SystemPrompt("commit"), "commit message")
	for _, preset := range config.Presets {
		_, ok := presetPrompts[preset]
		require.True(t, ok, "preset %q has no prompt", preset)
	}
}
