// Package gtts is a last-resort speech synthesizer built on the
// unauthenticated Google Translate TTS endpoint. It needs no API key and
// only serves when the paid TTS chain is down.
package gtts

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/voxlate/voxlate/internal/provider"
)

const defaultBaseURL = "https://translate.google.com/translate_tts"

// maxTextLen is the endpoint's practical per-request text length. Longer
// text is truncated rather than chunked; this adapter only serves short
// conversational utterances.
const maxTextLen = 200

// Synthesizer fetches MP3 audio from the translate TTS endpoint.
type Synthesizer struct {
	baseURL    string
	httpClient *http.Client
}

var _ provider.Synthesizer = (*Synthesizer)(nil)

// New creates the fallback synthesizer.
func New(baseURL string) *Synthesizer {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Synthesizer{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

func (s *Synthesizer) Name() string { return "gtts" }

// Synthesize fetches spoken audio for the text. Voice gender and speaking
// rate are not supported by this endpoint and are ignored.
func (s *Synthesizer) Synthesize(ctx context.Context, in provider.SynthesizeInput) (provider.Audio, error) {
	text := truncate(in.Text, maxTextLen)

	q := url.Values{}
	q.Set("ie", "UTF-8")
	q.Set("client", "tw-ob")
	q.Set("tl", in.Lang)
	q.Set("q", text)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return provider.Audio{}, fmt.Errorf("gtts: create request: %w", err)
	}

	httpResp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return provider.Audio{}, fmt.Errorf("gtts: %w: %v", provider.ErrUnavailable, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return provider.Audio{}, fmt.Errorf("gtts: %w: status %d", provider.ErrUnavailable, httpResp.StatusCode)
	}
	if ct := httpResp.Header.Get("Content-Type"); !strings.Contains(ct, "audio") {
		return provider.Audio{}, fmt.Errorf("gtts: %w: unexpected content type %q", provider.ErrUnavailable, ct)
	}

	audio, err := io.ReadAll(io.LimitReader(httpResp.Body, 10<<20))
	if err != nil {
		return provider.Audio{}, fmt.Errorf("gtts: read audio: %w", err)
	}
	if len(audio) == 0 {
		return provider.Audio{}, fmt.Errorf("gtts: %w: empty audio", provider.ErrUnavailable)
	}

	return provider.Audio{Data: audio, MIMEType: "audio/mpeg"}, nil
}

// truncate cuts text to at most n bytes without splitting a UTF-8 rune.
func truncate(text string, n int) string {
	if len(text) <= n {
		return text
	}
	for n > 0 && !utf8.RuneStart(text[n]) {
		n--
	}
	return text[:n]
}
