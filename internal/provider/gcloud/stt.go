package gcloud

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/voxlate/voxlate/internal/provider"
	"github.com/voxlate/voxlate/internal/secrets"
)

const defaultSTTBaseURL = "https://speech.googleapis.com/v1"

// Recognizer calls the Cloud STT speech:recognize endpoint.
type Recognizer struct {
	baseURL    string
	key        secrets.Source
	httpClient *http.Client
}

var _ provider.Recognizer = (*Recognizer)(nil)

// NewRecognizer creates a Cloud STT adapter.
func NewRecognizer(key secrets.Source, baseURL string) *Recognizer {
	if baseURL == "" {
		baseURL = defaultSTTBaseURL
	}
	return &Recognizer{
		baseURL:    strings.TrimRight(baseURL, "/"),
		key:        key,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (r *Recognizer) Name() string { return "gcloud-stt" }

type recognizeRequest struct {
	Config struct {
		Encoding          string `json:"encoding"`
		SampleRateHertz   int    `json:"sampleRateHertz"`
		LanguageCode      string `json:"languageCode"`
		EnablePunctuation bool   `json:"enableAutomaticPunctuation"`
	} `json:"config"`
	Audio struct {
		Content string `json:"content"`
	} `json:"audio"`
}

type recognizeResponse struct {
	Results []struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"results"`
}

// Recognize transcribes audio, joining the top alternative of each result.
func (r *Recognizer) Recognize(ctx context.Context, in provider.RecognizeInput) (provider.Transcript, error) {
	apiKey, err := r.key(ctx)
	if err != nil {
		return provider.Transcript{}, fmt.Errorf("gcloud stt: resolve api key: %w", err)
	}

	var body recognizeRequest
	body.Config.Encoding = audioEncoding(in.Encoding)
	body.Config.SampleRateHertz = in.SampleRate
	if body.Config.SampleRateHertz == 0 {
		body.Config.SampleRateHertz = 44100
	}
	body.Config.LanguageCode = LanguageCode(in.Lang)
	body.Config.EnablePunctuation = true
	body.Audio.Content = base64.StdEncoding.EncodeToString(in.Audio)

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return provider.Transcript{}, fmt.Errorf("gcloud stt: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/speech:recognize?key=%s", r.baseURL, apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return provider.Transcript{}, fmt.Errorf("gcloud stt: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := r.httpClient.Do(httpReq)
	if err != nil {
		return provider.Transcript{}, fmt.Errorf("gcloud stt: %w: %v", provider.ErrUnavailable, err)
	}
	defer httpResp.Body.Close()

	if err := mapStatus("gcloud stt", httpResp); err != nil {
		return provider.Transcript{}, err
	}

	var resp recognizeResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return provider.Transcript{}, fmt.Errorf("gcloud stt: decode response: %w", err)
	}

	var parts []string
	confidence := 0.0
	for _, res := range resp.Results {
		if len(res.Alternatives) == 0 {
			continue
		}
		parts = append(parts, res.Alternatives[0].Transcript)
		if res.Alternatives[0].Confidence > confidence {
			confidence = res.Alternatives[0].Confidence
		}
	}
	if len(parts) == 0 {
		return provider.Transcript{}, fmt.Errorf("gcloud stt: %w: no speech recognized", provider.ErrInvalidInput)
	}

	return provider.Transcript{
		Text:       strings.TrimSpace(strings.Join(parts, " ")),
		Confidence: confidence,
	}, nil
}

// audioEncoding maps client encodings to the recognition API values. M4A
// decodes through the MP3 path.
func audioEncoding(enc string) string {
	switch strings.ToUpper(enc) {
	case "WAV":
		return "LINEAR16"
	case "MP3", "M4A", "":
		return "MP3"
	default:
		return "MP3"
	}
}
