package gemini

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxlate/voxlate/internal/provider"
)

func staticKey(key string) func(context.Context) (string, error) {
	return func(context.Context) (string, error) { return key, nil }
}

func candidateResponse(text string) map[string]any {
	return map[string]any{
		"candidates": []any{
			map[string]any{
				"content": map[string]any{
					"role":  "model",
					"parts": []any{map[string]any{"text": text}},
				},
			},
		},
	}
}

func TestTranslator_Translate(t *testing.T) {
	var gotReq geminiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.URL.Query().Get("key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		require.NoError(t, json.NewEncoder(w).Encode(candidateResponse("  hola mundo\n")))
	}))
	defer srv.Close()

	tr := New(staticKey("test-key"), WithBaseURL(srv.URL))
	out, err := tr.Translate(context.Background(), provider.TranslateInput{
		Text:       "hello world",
		SourceLang: "en",
		TargetLang: "es",
	})
	require.NoError(t, err)
	assert.Equal(t, "hola mundo", out.TranslatedText)
	assert.InDelta(t, 0.95, out.Confidence, 0.001)

	require.Len(t, gotReq.Contents, 1)
	assert.Contains(t, gotReq.Contents[0].Parts[0].Text, "from en to es")
	assert.Contains(t, gotReq.Contents[0].Parts[0].Text, "hello world")
}

func TestTranslator_ServerErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	tr := New(staticKey("k"), WithBaseURL(srv.URL))
	_, err := tr.Translate(context.Background(), provider.TranslateInput{Text: "hi", SourceLang: "en", TargetLang: "es"})
	assert.ErrorIs(t, err, provider.ErrUnavailable)
}

func TestTranslator_BadRequestIsInvalidInput(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad prompt", http.StatusBadRequest)
	}))
	defer srv.Close()

	tr := New(staticKey("k"), WithBaseURL(srv.URL))
	_, err := tr.Translate(context.Background(), provider.TranslateInput{Text: "hi", SourceLang: "en", TargetLang: "es"})
	assert.ErrorIs(t, err, provider.ErrInvalidInput)
}

func TestTranslator_EmptyCandidates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"candidates":[]}`))
	}))
	defer srv.Close()

	tr := New(staticKey("k"), WithBaseURL(srv.URL))
	_, err := tr.Translate(context.Background(), provider.TranslateInput{Text: "hi", SourceLang: "en", TargetLang: "es"})
	assert.ErrorIs(t, err, provider.ErrUnavailable)
}

func TestScoreConfidence(t *testing.T) {
	tests := []struct {
		name       string
		original   string
		translated string
		want       float64
	}{
		{"empty translation", "hello", "", 0.0},
		{"comparable length", "hello world", "hola mundo", 0.95},
		{"much shorter", "a long sentence that goes on and on", "ok", 0.75},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, scoreConfidence(tt.original, tt.translated), 0.001)
		})
	}
}
