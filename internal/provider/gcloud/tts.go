// Package gcloud adapts the Google Cloud Text-to-Speech and Speech-to-Text
// REST APIs.
package gcloud

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/voxlate/voxlate/internal/provider"
	"github.com/voxlate/voxlate/internal/secrets"
)

const defaultTTSBaseURL = "https://texttospeech.googleapis.com/v1"

// Synthesizer calls the Cloud TTS text:synthesize endpoint.
type Synthesizer struct {
	baseURL    string
	key        secrets.Source
	httpClient *http.Client
}

var _ provider.Synthesizer = (*Synthesizer)(nil)

// NewSynthesizer creates a Cloud TTS adapter.
func NewSynthesizer(key secrets.Source, baseURL string) *Synthesizer {
	if baseURL == "" {
		baseURL = defaultTTSBaseURL
	}
	return &Synthesizer{
		baseURL:    strings.TrimRight(baseURL, "/"),
		key:        key,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (s *Synthesizer) Name() string { return "gcloud-tts" }

type synthesizeRequest struct {
	Input struct {
		Text string `json:"text"`
	} `json:"input"`
	Voice struct {
		LanguageCode string `json:"languageCode"`
		SSMLGender   string `json:"ssmlGender"`
	} `json:"voice"`
	AudioConfig struct {
		AudioEncoding string  `json:"audioEncoding"`
		SpeakingRate  float64 `json:"speakingRate"`
	} `json:"audioConfig"`
}

type synthesizeResponse struct {
	AudioContent string `json:"audioContent"`
}

// Synthesize renders text to MP3 audio.
func (s *Synthesizer) Synthesize(ctx context.Context, in provider.SynthesizeInput) (provider.Audio, error) {
	apiKey, err := s.key(ctx)
	if err != nil {
		return provider.Audio{}, fmt.Errorf("gcloud tts: resolve api key: %w", err)
	}

	var body synthesizeRequest
	body.Input.Text = in.Text
	body.Voice.LanguageCode = LanguageCode(in.Lang)
	body.Voice.SSMLGender = ssmlGender(in.VoiceGender)
	body.AudioConfig.AudioEncoding = "MP3"
	body.AudioConfig.SpeakingRate = in.SpeakingRate
	if body.AudioConfig.SpeakingRate == 0 {
		body.AudioConfig.SpeakingRate = 1.0
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return provider.Audio{}, fmt.Errorf("gcloud tts: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/text:synthesize?key=%s", s.baseURL, apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return provider.Audio{}, fmt.Errorf("gcloud tts: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return provider.Audio{}, fmt.Errorf("gcloud tts: %w: %v", provider.ErrUnavailable, err)
	}
	defer httpResp.Body.Close()

	if err := mapStatus("gcloud tts", httpResp); err != nil {
		return provider.Audio{}, err
	}

	var resp synthesizeResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return provider.Audio{}, fmt.Errorf("gcloud tts: decode response: %w", err)
	}

	audio, err := base64.StdEncoding.DecodeString(resp.AudioContent)
	if err != nil {
		return provider.Audio{}, fmt.Errorf("gcloud tts: decode audio content: %w", err)
	}
	if len(audio) == 0 {
		return provider.Audio{}, fmt.Errorf("gcloud tts: %w: empty audio", provider.ErrUnavailable)
	}

	return provider.Audio{Data: audio, MIMEType: "audio/mpeg"}, nil
}

func ssmlGender(gender string) string {
	switch strings.ToLower(gender) {
	case "male":
		return "MALE"
	case "female":
		return "FEMALE"
	default:
		return "NEUTRAL"
	}
}

func mapStatus(op string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	if resp.StatusCode == http.StatusBadRequest {
		return fmt.Errorf("%s: %w: %s", op, provider.ErrInvalidInput, string(body))
	}
	return fmt.Errorf("%s: %w: status %d: %s", op, provider.ErrUnavailable, resp.StatusCode, string(body))
}
