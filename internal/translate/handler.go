// Package translate exposes the translation pipeline over HTTP.
package translate

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/voxlate/voxlate/internal/api"
	"github.com/voxlate/voxlate/internal/auth"
	"github.com/voxlate/voxlate/internal/credit"
	"github.com/voxlate/voxlate/internal/entitlement"
	"github.com/voxlate/voxlate/internal/orchestrator"
	"github.com/voxlate/voxlate/internal/provider"
)

type Handler struct {
	orch       *orchestrator.Orchestrator
	gate       *entitlement.Gate
	deviceSalt string
	validate   *validator.Validate
}

func NewHandler(orch *orchestrator.Orchestrator, gate *entitlement.Gate, deviceSalt string) *Handler {
	return &Handler{
		orch:       orch,
		gate:       gate,
		deviceSalt: deviceSalt,
		validate:   validator.New(),
	}
}

type TranslateAudioRequest struct {
	Text           string  `json:"text"`
	AudioBase64    string  `json:"audio_base64"`
	AudioEncoding  string  `json:"audio_encoding"`
	SampleRate     int     `json:"sample_rate"`
	SourceLanguage string  `json:"source_language" validate:"required"`
	TargetLanguage string  `json:"target_language" validate:"required"`
	VoiceGender    string  `json:"voice_gender" validate:"omitempty,oneof=male female neutral"`
	SpeakingRate   float64 `json:"speaking_rate" validate:"omitempty,gte=0.5,lte=2.0"`
	ReturnAudio    *bool   `json:"return_audio"`
}

type TranslateAudioResponse struct {
	SourceText       string  `json:"source_text,omitempty"`
	TranslatedText   string  `json:"translated_text"`
	AudioBase64      string  `json:"audio_base64,omitempty"`
	AudioMIMEType    string  `json:"audio_mime_type,omitempty"`
	Confidence       float64 `json:"confidence"`
	ProcessingTimeMs int64   `json:"processing_time_ms"`
	Degraded         bool    `json:"degraded,omitempty"`
	DegradedReason   string  `json:"degraded_reason,omitempty"`
}

// TranslateAudio handles POST /v1/translate/audio: the full metered
// pipeline with optional speech input and audio output.
func (h *Handler) TranslateAudio(w http.ResponseWriter, r *http.Request) {
	var req TranslateAudioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, api.ErrBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.WriteError(w, api.NewValidationError(err.Error()))
		return
	}

	id, ok := h.identity(w, r)
	if !ok {
		return
	}

	audio, err := decodeAudio(req.AudioBase64)
	if err != nil {
		api.WriteError(w, api.NewBadRequestError("audio_base64 is not valid base64"))
		return
	}

	orchReq := orchestrator.Request{
		Audio:         audio,
		AudioEncoding: req.AudioEncoding,
		SampleRate:    req.SampleRate,
		Text:          req.Text,
		SourceLang:    req.SourceLanguage,
		TargetLang:    req.TargetLanguage,
		VoiceGender:   req.VoiceGender,
		SpeakingRate:  req.SpeakingRate,
		ReturnAudio:   req.ReturnAudio == nil || *req.ReturnAudio,
	}

	adm, err := h.gate.Admit(r.Context(), id, estimateSeconds(audio))
	if err != nil {
		api.WriteError(w, mapError(err))
		return
	}

	resp, err := h.orch.TranslateAudio(r.Context(), orchReq)
	if err != nil {
		// Nothing was delivered: the whole pre-debit comes back.
		if recErr := h.gate.Reconcile(r.Context(), adm, 0); recErr != nil {
			slog.Error("reconciling failed request", "error", recErr, "identity", id.Key())
		}
		api.WriteError(w, mapError(err))
		return
	}

	if err := h.gate.Reconcile(r.Context(), adm, int64(resp.ConsumedSeconds)); err != nil {
		slog.Error("reconciling request cost", "error", err, "identity", id.Key())
	}

	api.JSON(w, http.StatusOK, toAudioResponse(resp))
}

// Translate handles POST /v1/translate: text-only translation.
func (h *Handler) Translate(w http.ResponseWriter, r *http.Request) {
	var req TranslateAudioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, api.ErrBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.WriteError(w, api.NewValidationError(err.Error()))
		return
	}

	resp, err := h.orch.TranslateText(r.Context(), orchestrator.Request{
		Text:       req.Text,
		SourceLang: req.SourceLanguage,
		TargetLang: req.TargetLanguage,
	})
	if err != nil {
		api.WriteError(w, mapError(err))
		return
	}

	api.JSON(w, http.StatusOK, toAudioResponse(resp))
}

type SpeechToTextRequest struct {
	AudioBase64 string `json:"audio_base64" validate:"required"`
	Language    string `json:"language" validate:"required"`
	Encoding    string `json:"encoding"`
	SampleRate  int    `json:"sample_rate"`
}

type SpeechToTextResponse struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// SpeechToText handles POST /v1/speech-to-text.
func (h *Handler) SpeechToText(w http.ResponseWriter, r *http.Request) {
	var req SpeechToTextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, api.ErrBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.WriteError(w, api.NewValidationError(err.Error()))
		return
	}

	audio, err := decodeAudio(req.AudioBase64)
	if err != nil {
		api.WriteError(w, api.NewBadRequestError("audio_base64 is not valid base64"))
		return
	}

	transcript, err := h.orch.SpeechToText(r.Context(), provider.RecognizeInput{
		Audio:      audio,
		Lang:       req.Language,
		Encoding:   req.Encoding,
		SampleRate: req.SampleRate,
	})
	if err != nil {
		api.WriteError(w, mapError(err))
		return
	}

	api.JSON(w, http.StatusOK, SpeechToTextResponse{
		Text:       transcript.Text,
		Confidence: transcript.Confidence,
	})
}

type TextToSpeechRequest struct {
	Text         string  `json:"text" validate:"required"`
	Language     string  `json:"language" validate:"required"`
	VoiceGender  string  `json:"voice_gender" validate:"omitempty,oneof=male female neutral"`
	SpeakingRate float64 `json:"speaking_rate" validate:"omitempty,gte=0.5,lte=2.0"`
}

// TextToSpeech handles POST /v1/text-to-speech and responds with raw audio.
func (h *Handler) TextToSpeech(w http.ResponseWriter, r *http.Request) {
	var req TextToSpeechRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, api.ErrBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.WriteError(w, api.NewValidationError(err.Error()))
		return
	}

	audio, err := h.orch.TextToSpeech(r.Context(), provider.SynthesizeInput{
		Text:         req.Text,
		Lang:         req.Language,
		VoiceGender:  req.VoiceGender,
		SpeakingRate: req.SpeakingRate,
	})
	if err != nil {
		api.WriteError(w, mapError(err))
		return
	}

	w.Header().Set("Content-Type", audio.MIMEType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(audio.Data)
}

// Languages handles GET /v1/languages.
func (h *Handler) Languages(w http.ResponseWriter, r *http.Request) {
	api.JSON(w, http.StatusOK, map[string]any{
		"languages": orchestrator.SupportedLanguages,
	})
}

// identity resolves the caller: authenticated account first, then the
// salted device hash. Requests carrying neither cannot be metered.
func (h *Handler) identity(w http.ResponseWriter, r *http.Request) (credit.Identity, bool) {
	if claims := auth.GetUserClaims(r.Context()); claims != nil {
		return credit.Account(claims.UserID), true
	}
	if deviceID := r.Header.Get("X-Device-ID"); deviceID != "" {
		return credit.Anonymous(credit.HashDeviceID(deviceID, h.deviceSalt)), true
	}
	api.WriteError(w, api.NewBadRequestError("missing X-Device-ID header or bearer token"))
	return credit.Identity{}, false
}

func decodeAudio(b64 string) ([]byte, error) {
	if b64 == "" {
		return nil, nil
	}
	return base64.StdEncoding.DecodeString(b64)
}

// estimateSeconds guesses the audio duration for the pre-debit. Zero means
// unknown; the gate then debits its session ceiling.
func estimateSeconds(audio []byte) int64 {
	if len(audio) == 0 {
		return 0
	}
	return int64((len(audio) + 16383) / 16384)
}

func toAudioResponse(resp orchestrator.Response) TranslateAudioResponse {
	out := TranslateAudioResponse{
		SourceText:       resp.SourceText,
		TranslatedText:   resp.TranslatedText,
		Confidence:       resp.Confidence,
		ProcessingTimeMs: resp.ProcessingTimeMs,
		Degraded:         resp.Degraded,
		DegradedReason:   resp.DegradedReason,
	}
	if len(resp.AudioBytes) > 0 {
		out.AudioBase64 = base64.StdEncoding.EncodeToString(resp.AudioBytes)
		out.AudioMIMEType = resp.AudioMIMEType
	}
	return out
}

// mapError translates pipeline errors into the HTTP error taxonomy.
func mapError(err error) error {
	var insErr *credit.InsufficientBalanceError
	switch {
	case errors.As(err, &insErr):
		return api.NewInsufficientCreditError(insErr.RemainingSeconds, insErr.RequiredSeconds)
	case errors.Is(err, provider.ErrInvalidInput):
		return api.NewBadRequestError(err.Error())
	case errors.Is(err, provider.ErrExhausted):
		return api.ErrProviderUnavailable
	case errors.Is(err, entitlement.ErrVerificationFailed):
		return api.NewPurchaseVerificationError(err.Error())
	default:
		slog.Error("translation pipeline failure", "error", err)
		return api.ErrInternalServer
	}
}
