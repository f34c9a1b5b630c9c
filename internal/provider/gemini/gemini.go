// Package gemini translates text through the Gemini generateContent API.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/voxlate/voxlate/internal/provider"
	"github.com/voxlate/voxlate/internal/secrets"
)

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	defaultModel   = "gemini-1.5-flash"
)

// Translator calls the Gemini REST API.
type Translator struct {
	baseURL    string
	model      string
	key        secrets.Source
	httpClient *http.Client
}

var _ provider.Translator = (*Translator)(nil)

// Option configures the translator.
type Option func(*Translator)

// WithBaseURL sets a custom base URL.
func WithBaseURL(url string) Option {
	return func(t *Translator) {
		if url != "" {
			t.baseURL = strings.TrimRight(url, "/")
		}
	}
}

// WithModel sets the model used for translation.
func WithModel(model string) Option {
	return func(t *Translator) { t.model = model }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(t *Translator) { t.httpClient = c }
}

// New creates a Gemini translator. The API key is resolved through key on
// every request so rotations take effect without a restart.
func New(key secrets.Source, opts ...Option) *Translator {
	t := &Translator{
		baseURL:    defaultBaseURL,
		model:      defaultModel,
		key:        key,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Translator) Name() string { return "gemini" }

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
}

// Translate sends a single-turn prompt and returns the trimmed candidate
// text with a length-ratio confidence score.
func (t *Translator) Translate(ctx context.Context, in provider.TranslateInput) (provider.Translation, error) {
	apiKey, err := t.key(ctx)
	if err != nil {
		return provider.Translation{}, fmt.Errorf("gemini: resolve api key: %w", err)
	}

	prompt := fmt.Sprintf(
		"Translate the following text from %s to %s.\n"+
			"Return ONLY the translated text, no explanations or additional text.\n"+
			"Make the translation natural and conversational for spoken language.\n\n"+
			"Text to translate: %s",
		in.SourceLang, in.TargetLang, in.Text,
	)

	body := geminiRequest{
		Contents: []geminiContent{{Role: "user", Parts: []geminiPart{{Text: prompt}}}},
	}
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return provider.Translation{}, fmt.Errorf("gemini: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", t.baseURL, t.model, apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return provider.Translation{}, fmt.Errorf("gemini: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return provider.Translation{}, fmt.Errorf("gemini: %w: %v", provider.ErrUnavailable, err)
	}
	defer httpResp.Body.Close()

	if err := mapHTTPError(httpResp); err != nil {
		return provider.Translation{}, err
	}

	var resp geminiResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return provider.Translation{}, fmt.Errorf("gemini: decode response: %w", err)
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return provider.Translation{}, fmt.Errorf("gemini: %w: empty candidates", provider.ErrUnavailable)
	}

	translated := strings.TrimSpace(resp.Candidates[0].Content.Parts[0].Text)
	return provider.Translation{
		TranslatedText: translated,
		Confidence:     scoreConfidence(in.Text, translated),
	}, nil
}

func mapHTTPError(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	switch resp.StatusCode {
	case http.StatusBadRequest:
		return fmt.Errorf("gemini: %w: %s", provider.ErrInvalidInput, string(body))
	default:
		return fmt.Errorf("gemini: %w: status %d: %s", provider.ErrUnavailable, resp.StatusCode, string(body))
	}
}

// scoreConfidence is a length-ratio heuristic: a translation whose length is
// wildly off the original is suspect.
func scoreConfidence(original, translated string) float64 {
	if translated == "" {
		return 0.0
	}
	ratio := 0.0
	if original != "" {
		ratio = min(float64(len(translated))/float64(len(original)), 1.0)
	}

	const base = 0.85
	confidence := base - 0.1
	if ratio >= 0.5 && ratio <= 2.0 {
		confidence = base + 0.1
	}
	return min(max(confidence, 0.0), 1.0)
}
