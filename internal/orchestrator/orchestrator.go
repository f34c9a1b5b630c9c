// Package orchestrator composes speech recognition, text translation and
// speech synthesis into one logical operation with a single deadline budget.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/voxlate/voxlate/internal/metrics"
	"github.com/voxlate/voxlate/internal/provider"
)

const (
	// DefaultBudget bounds one whole orchestration including every provider
	// fallback attempt.
	DefaultBudget = 15 * time.Second

	// maxTextLen matches the provider-side request ceiling.
	maxTextLen = 10000

	// audioBytesPerSecond approximates 128kbps MP3 for duration estimates.
	audioBytesPerSecond = 16384
)

// Request is one translation job. Audio is transcribed first when Text is
// empty; otherwise Text feeds the translation step directly.
type Request struct {
	Audio         []byte
	AudioEncoding string
	SampleRate    int
	Text          string
	SourceLang    string
	TargetLang    string
	VoiceGender   string
	SpeakingRate  float64
	ReturnAudio   bool
}

// Response is the outcome of a translation job. Degraded marks a text-only
// result where synthesis was unavailable; the job itself still succeeded.
type Response struct {
	SourceText       string
	TranslatedText   string
	Confidence       float64
	AudioBytes       []byte
	AudioMIMEType    string
	Degraded         bool
	DegradedReason   string
	ProcessingTimeMs int64
	ConsumedSeconds  int
}

// Chains holds the per-operation provider fallback chains.
type Chains struct {
	STT       *provider.Chain[provider.RecognizeInput, provider.Transcript]
	Translate *provider.Chain[provider.TranslateInput, provider.Translation]
	TTS       *provider.Chain[provider.SynthesizeInput, provider.Audio]
}

// Orchestrator runs translation jobs against the configured chains.
type Orchestrator struct {
	chains Chains
	budget time.Duration
	now    func() time.Time
}

// New creates an orchestrator. A zero budget falls back to DefaultBudget.
func New(chains Chains, budget time.Duration) *Orchestrator {
	if budget <= 0 {
		budget = DefaultBudget
	}
	return &Orchestrator{chains: chains, budget: budget, now: time.Now}
}

// TranslateAudio runs the full pipeline: optional speech-to-text, then
// translation, then optional synthesis. Translation failure fails the whole
// request; synthesis failure degrades it to a text-only success.
func (o *Orchestrator) TranslateAudio(ctx context.Context, req Request) (Response, error) {
	start := o.now()
	ctx, cancel := context.WithTimeout(ctx, o.budget)
	defer cancel()

	if err := o.validate(req); err != nil {
		metrics.TranslationsTotal.WithLabelValues("error").Inc()
		return Response{}, err
	}

	resp := Response{SourceText: req.Text}

	if resp.SourceText == "" {
		transcript, _, err := o.chains.STT.Execute(ctx, provider.RecognizeInput{
			Audio:      req.Audio,
			Lang:       req.SourceLang,
			Encoding:   req.AudioEncoding,
			SampleRate: req.SampleRate,
		})
		if err != nil {
			metrics.TranslationsTotal.WithLabelValues("error").Inc()
			return Response{}, fmt.Errorf("speech to text: %w", err)
		}
		resp.SourceText = transcript.Text
	}

	translation, _, err := o.chains.Translate.Execute(ctx, provider.TranslateInput{
		Text:       resp.SourceText,
		SourceLang: req.SourceLang,
		TargetLang: req.TargetLang,
	})
	if err != nil {
		metrics.TranslationsTotal.WithLabelValues("error").Inc()
		return Response{}, fmt.Errorf("translate: %w", err)
	}
	resp.TranslatedText = translation.TranslatedText
	resp.Confidence = translation.Confidence

	status := "success"
	if req.ReturnAudio {
		audio, attempts, err := o.chains.TTS.Execute(ctx, provider.SynthesizeInput{
			Text:         resp.TranslatedText,
			Lang:         req.TargetLang,
			VoiceGender:  req.VoiceGender,
			SpeakingRate: req.SpeakingRate,
		})
		if err != nil {
			// Text-only degradation: the translation is still delivered.
			resp.Degraded = true
			resp.DegradedReason = "text_to_speech_unavailable"
			status = "partial"
			slog.Warn("synthesis unavailable, degrading to text only",
				"target_lang", req.TargetLang,
				"attempts", len(attempts),
				"error", err,
			)
		} else {
			resp.AudioBytes = audio.Data
			resp.AudioMIMEType = audio.MIMEType
		}
	}

	resp.ProcessingTimeMs = o.now().Sub(start).Milliseconds()
	resp.ConsumedSeconds = consumedSeconds(req, resp)
	metrics.TranslationsTotal.WithLabelValues(status).Inc()
	return resp, nil
}

// TranslateText runs only the translation step for the text endpoint.
func (o *Orchestrator) TranslateText(ctx context.Context, req Request) (Response, error) {
	req.ReturnAudio = false
	req.Audio = nil
	return o.TranslateAudio(ctx, req)
}

// SpeechToText runs only the recognition chain.
func (o *Orchestrator) SpeechToText(ctx context.Context, in provider.RecognizeInput) (provider.Transcript, error) {
	ctx, cancel := context.WithTimeout(ctx, o.budget)
	defer cancel()

	if len(in.Audio) == 0 {
		return provider.Transcript{}, fmt.Errorf("%w: empty audio", provider.ErrInvalidInput)
	}
	if !IsSupported(in.Lang) {
		return provider.Transcript{}, fmt.Errorf("%w: unsupported language %q", provider.ErrInvalidInput, in.Lang)
	}

	transcript, _, err := o.chains.STT.Execute(ctx, in)
	return transcript, err
}

// TextToSpeech runs only the synthesis chain.
func (o *Orchestrator) TextToSpeech(ctx context.Context, in provider.SynthesizeInput) (provider.Audio, error) {
	ctx, cancel := context.WithTimeout(ctx, o.budget)
	defer cancel()

	if strings.TrimSpace(in.Text) == "" {
		return provider.Audio{}, fmt.Errorf("%w: empty text", provider.ErrInvalidInput)
	}
	if !IsSupported(in.Lang) {
		return provider.Audio{}, fmt.Errorf("%w: unsupported language %q", provider.ErrInvalidInput, in.Lang)
	}

	audio, _, err := o.chains.TTS.Execute(ctx, in)
	return audio, err
}

func (o *Orchestrator) validate(req Request) error {
	if strings.TrimSpace(req.Text) == "" && len(req.Audio) == 0 {
		return fmt.Errorf("%w: empty text", provider.ErrInvalidInput)
	}
	if len(req.Text) > maxTextLen {
		return fmt.Errorf("%w: text too long (max %d characters)", provider.ErrInvalidInput, maxTextLen)
	}
	if !IsSupported(req.SourceLang) {
		return fmt.Errorf("%w: unsupported source language %q", provider.ErrInvalidInput, req.SourceLang)
	}
	if !IsSupported(req.TargetLang) {
		return fmt.Errorf("%w: unsupported target language %q", provider.ErrInvalidInput, req.TargetLang)
	}
	return nil
}

// consumedSeconds estimates the speech seconds a job consumed, for ledger
// reconciliation. Input audio length wins when present; otherwise the
// synthesized audio, otherwise a words-per-second estimate of the text.
func consumedSeconds(req Request, resp Response) int {
	if n := len(req.Audio); n > 0 {
		return ceilDiv(n, audioBytesPerSecond)
	}
	if n := len(resp.AudioBytes); n > 0 {
		return ceilDiv(n, audioBytesPerSecond)
	}
	words := len(strings.Fields(resp.SourceText))
	if words == 0 {
		return 1
	}
	// Conversational speech runs about 2.5 words per second.
	return max(ceilDiv(words*2, 5), 1)
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
