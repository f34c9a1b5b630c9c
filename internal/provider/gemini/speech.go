package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/voxlate/voxlate/internal/provider"
	"github.com/voxlate/voxlate/internal/secrets"
)

const defaultSpeechModel = "gemini-2.5-flash-preview-tts"

// Synthesizer generates speech through the Gemini TTS-capable models. It is
// the primary TTS path; its timeout is tuned tighter than the dedicated
// cloud fallback.
type Synthesizer struct {
	baseURL    string
	model      string
	key        secrets.Source
	httpClient *http.Client
}

var _ provider.Synthesizer = (*Synthesizer)(nil)

// NewSynthesizer creates a Gemini speech synthesizer sharing the
// translator's transport settings.
func NewSynthesizer(key secrets.Source, opts ...Option) *Synthesizer {
	t := New(key, opts...)
	return &Synthesizer{
		baseURL:    t.baseURL,
		model:      defaultSpeechModel,
		key:        t.key,
		httpClient: t.httpClient,
	}
}

func (s *Synthesizer) Name() string { return "gemini-tts" }

type speechRequest struct {
	Contents         []geminiContent `json:"contents"`
	GenerationConfig struct {
		ResponseModalities []string `json:"responseModalities"`
		SpeechConfig       struct {
			VoiceConfig struct {
				PrebuiltVoiceConfig struct {
					VoiceName string `json:"voiceName"`
				} `json:"prebuiltVoiceConfig"`
			} `json:"voiceConfig"`
		} `json:"speechConfig"`
	} `json:"generationConfig"`
}

type speechResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				InlineData struct {
					MIMEType string `json:"mimeType"`
					Data     string `json:"data"`
				} `json:"inlineData"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// Synthesize renders text as speech audio.
func (s *Synthesizer) Synthesize(ctx context.Context, in provider.SynthesizeInput) (provider.Audio, error) {
	apiKey, err := s.key(ctx)
	if err != nil {
		return provider.Audio{}, fmt.Errorf("gemini tts: resolve api key: %w", err)
	}

	var body speechRequest
	body.Contents = []geminiContent{{Role: "user", Parts: []geminiPart{{Text: in.Text}}}}
	body.GenerationConfig.ResponseModalities = []string{"AUDIO"}
	body.GenerationConfig.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName = voiceName(in.VoiceGender)

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return provider.Audio{}, fmt.Errorf("gemini tts: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", s.baseURL, s.model, apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return provider.Audio{}, fmt.Errorf("gemini tts: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return provider.Audio{}, fmt.Errorf("gemini tts: %w: %v", provider.ErrUnavailable, err)
	}
	defer httpResp.Body.Close()

	if err := mapHTTPError(httpResp); err != nil {
		return provider.Audio{}, err
	}

	var resp speechResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return provider.Audio{}, fmt.Errorf("gemini tts: decode response: %w", err)
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return provider.Audio{}, fmt.Errorf("gemini tts: %w: empty candidates", provider.ErrUnavailable)
	}

	part := resp.Candidates[0].Content.Parts[0].InlineData
	audio, err := base64.StdEncoding.DecodeString(part.Data)
	if err != nil {
		return provider.Audio{}, fmt.Errorf("gemini tts: decode audio content: %w", err)
	}
	if len(audio) == 0 {
		return provider.Audio{}, fmt.Errorf("gemini tts: %w: empty audio", provider.ErrUnavailable)
	}

	mime := part.MIMEType
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}
	if mime == "" {
		mime = "audio/L16"
	}

	return provider.Audio{Data: audio, MIMEType: mime}, nil
}

func voiceName(gender string) string {
	switch strings.ToLower(gender) {
	case "male":
		return "Charon"
	case "female":
		return "Kore"
	default:
		return "Puck"
	}
}
