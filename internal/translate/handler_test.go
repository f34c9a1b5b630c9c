package translate

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxlate/voxlate/internal/credit"
	"github.com/voxlate/voxlate/internal/entitlement"
	"github.com/voxlate/voxlate/internal/orchestrator"
	"github.com/voxlate/voxlate/internal/provider"
)

const testSalt = "test-salt"

func workingChains() orchestrator.Chains {
	return orchestrator.Chains{
		STT: provider.NewChain("speech_to_text", provider.Step[provider.RecognizeInput, provider.Transcript]{
			Name:    "stt",
			Timeout: time.Second,
			Call: func(_ context.Context, _ provider.RecognizeInput) (provider.Transcript, error) {
				return provider.Transcript{Text: "hello", Confidence: 0.9}, nil
			},
		}),
		Translate: provider.NewChain("translate", provider.Step[provider.TranslateInput, provider.Translation]{
			Name:    "translator",
			Timeout: time.Second,
			Call: func(_ context.Context, _ provider.TranslateInput) (provider.Translation, error) {
				return provider.Translation{TranslatedText: "hola", Confidence: 0.95}, nil
			},
		}),
		TTS: provider.NewChain("text_to_speech", provider.Step[provider.SynthesizeInput, provider.Audio]{
			Name:    "tts",
			Timeout: time.Second,
			Call: func(_ context.Context, _ provider.SynthesizeInput) (provider.Audio, error) {
				return provider.Audio{Data: []byte("mp3-bytes"), MIMEType: "audio/mpeg"}, nil
			},
		}),
	}
}

func failingChains() orchestrator.Chains {
	c := workingChains()
	c.Translate = provider.NewChain("translate", provider.Step[provider.TranslateInput, provider.Translation]{
		Name:    "translator",
		Timeout: time.Second,
		Call: func(_ context.Context, _ provider.TranslateInput) (provider.Translation, error) {
			return provider.Translation{}, provider.ErrUnavailable
		},
	})
	return c
}

func newTestHandler(t *testing.T, chains orchestrator.Chains, allowance int64) (*Handler, *credit.Ledger) {
	t.Helper()
	ledger := credit.NewLedger(credit.NewMemoryStore(), allowance)
	gate := entitlement.NewGate(ledger, 60, nil, nil)
	orch := orchestrator.New(chains, 0)
	return NewHandler(orch, gate, testSalt), ledger
}

func postJSON(t *testing.T, h http.HandlerFunc, body any, deviceID string) *httptest.ResponseRecorder {
	t.Helper()
	buf, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(buf))
	if deviceID != "" {
		req.Header.Set("X-Device-ID", deviceID)
	}
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func TestTranslateAudio_Success(t *testing.T) {
	h, ledger := newTestHandler(t, workingChains(), 1800)

	rec := postJSON(t, h.TranslateAudio, TranslateAudioRequest{
		Text:           "hello",
		SourceLanguage: "en",
		TargetLanguage: "es",
	}, "device-1")

	require.Equal(t, http.StatusOK, rec.Code)

	var resp TranslateAudioResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "hola", resp.TranslatedText)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("mp3-bytes")), resp.AudioBase64)
	assert.Equal(t, "audio/mpeg", resp.AudioMIMEType)
	assert.False(t, resp.Degraded)

	// The pre-debit was reconciled down to the actual cost.
	id := credit.Anonymous(credit.HashDeviceID("device-1", testSalt))
	bal, err := ledger.Balance(context.Background(), id)
	require.NoError(t, err)
	assert.Less(t, bal.RemainingSeconds, int64(1800))
	assert.Greater(t, bal.RemainingSeconds, int64(1800-60))
}

func TestTranslateAudio_InsufficientCredit(t *testing.T) {
	h, _ := newTestHandler(t, workingChains(), 10)

	rec := postJSON(t, h.TranslateAudio, TranslateAudioRequest{
		Text:           "hello",
		SourceLanguage: "en",
		TargetLanguage: "es",
	}, "broke-device")

	require.Equal(t, http.StatusPaymentRequired, rec.Code)

	var body struct {
		Error   string         `json:"error"`
		Details map[string]any `json:"details"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "insufficient translation credit", body.Error)
	assert.EqualValues(t, 10, body.Details["remaining_seconds"])
	assert.EqualValues(t, 60, body.Details["required_seconds"])
}

func TestTranslateAudio_PipelineFailureRefundsDebit(t *testing.T) {
	h, ledger := newTestHandler(t, failingChains(), 1800)

	rec := postJSON(t, h.TranslateAudio, TranslateAudioRequest{
		Text:           "hello",
		SourceLanguage: "en",
		TargetLanguage: "es",
	}, "device-2")

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	id := credit.Anonymous(credit.HashDeviceID("device-2", testSalt))
	bal, err := ledger.Balance(context.Background(), id)
	require.NoError(t, err)
	assert.EqualValues(t, 1800, bal.RemainingSeconds)
}

func TestTranslateAudio_MissingIdentity(t *testing.T) {
	h, _ := newTestHandler(t, workingChains(), 1800)

	rec := postJSON(t, h.TranslateAudio, TranslateAudioRequest{
		Text:           "hello",
		SourceLanguage: "en",
		TargetLanguage: "es",
	}, "")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "X-Device-ID")
}

func TestTranslateAudio_InvalidBase64(t *testing.T) {
	h, _ := newTestHandler(t, workingChains(), 1800)

	rec := postJSON(t, h.TranslateAudio, TranslateAudioRequest{
		AudioBase64:    "!!! not base64 !!!",
		SourceLanguage: "en",
		TargetLanguage: "es",
	}, "device-3")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTranslateAudio_ValidationRejectsBadGender(t *testing.T) {
	h, _ := newTestHandler(t, workingChains(), 1800)

	rec := postJSON(t, h.TranslateAudio, TranslateAudioRequest{
		Text:           "hello",
		SourceLanguage: "en",
		TargetLanguage: "es",
		VoiceGender:    "robot",
	}, "device-4")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTranslate_TextOnlyIsUnmetered(t *testing.T) {
	h, ledger := newTestHandler(t, workingChains(), 1800)

	// No device header at all: text translation needs no identity.
	rec := postJSON(t, h.Translate, TranslateAudioRequest{
		Text:           "hello",
		SourceLanguage: "en",
		TargetLanguage: "es",
	}, "")

	require.Equal(t, http.StatusOK, rec.Code)

	var resp TranslateAudioResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "hola", resp.TranslatedText)
	assert.Empty(t, resp.AudioBase64)

	id := credit.Anonymous(credit.HashDeviceID("device", testSalt))
	_, err := ledger.Balance(context.Background(), id)
	require.NoError(t, err) // Balance materializes a fresh allowance
}

func TestSpeechToText(t *testing.T) {
	h, _ := newTestHandler(t, workingChains(), 1800)

	rec := postJSON(t, h.SpeechToText, SpeechToTextRequest{
		AudioBase64: base64.StdEncoding.EncodeToString([]byte("pcm")),
		Language:    "en",
		Encoding:    "MP3",
	}, "")

	require.Equal(t, http.StatusOK, rec.Code)

	var resp SpeechToTextResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "hello", resp.Text)
	assert.InDelta(t, 0.9, resp.Confidence, 0.001)
}

func TestTextToSpeech_ReturnsRawAudio(t *testing.T) {
	h, _ := newTestHandler(t, workingChains(), 1800)

	rec := postJSON(t, h.TextToSpeech, TextToSpeechRequest{
		Text:     "hola",
		Language: "es",
	}, "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "audio/mpeg", rec.Header().Get("Content-Type"))
	assert.Equal(t, []byte("mp3-bytes"), rec.Body.Bytes())
}

func TestLanguages(t *testing.T) {
	h, _ := newTestHandler(t, workingChains(), 1800)

	req := httptest.NewRequest(http.MethodGet, "/v1/languages", nil)
	rec := httptest.NewRecorder()
	h.Languages(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Languages []orchestrator.Language `json:"languages"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Languages, len(orchestrator.SupportedLanguages))
	assert.Equal(t, "en", body.Languages[0].Code)
}
