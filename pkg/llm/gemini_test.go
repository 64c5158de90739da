package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeminiGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/gemini-2.0-flash:generateContent", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))

		var req geminiRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Contents, 1)
		assert.Equal(t, "hello", req.Contents[0].Parts[0].Text)

		_ = json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{{
				"content": map[string]any{
					"parts": []map[string]any{{"text": "wor"}, {"text": "ld"}},
				},
			}},
		})
	}))
	defer srv.Close()

	c := NewGeminiClient("test-key", "gemini-2.0-flash", WithBaseURL(srv.URL))
	out, err := c.Generate(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "world", out)
}

func TestGeminiGenerateHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "quota"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewGeminiClient("k", "m", WithBaseURL(srv.URL))
	_, err := c.Generate(context.Background(), "hello")
	assert.ErrorContains(t, err, "429")
}

func TestGeminiGenerateEmptyCandidates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"candidates": []}`))
	}))
	defer srv.Close()

	c := NewGeminiClient("k", "m", WithBaseURL(srv.URL))
	_, err := c.Generate(context.Background(), "hello")
	assert.ErrorContains(t, err, "empty candidates")
}

func TestGeminiGenerateContextCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewGeminiClient("k", "m", WithBaseURL(srv.URL))
	_, err := c.Generate(ctx, "hello")
	assert.Error(t, err)
}
