package gtts

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxlate/voxlate/internal/provider"
)

func TestSynthesize(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Write([]byte("mp3"))
	}))
	defer srv.Close()

	s := New(srv.URL)
	audio, err := s.Synthesize(context.Background(), provider.SynthesizeInput{Text: "hola", Lang: "es"})
	require.NoError(t, err)
	assert.Equal(t, []byte("mp3"), audio.Data)
	assert.Equal(t, "audio/mpeg", audio.MIMEType)
	assert.Equal(t, "hola", gotQuery)
}

func TestSynthesize_NonAudioResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html>captcha</html>"))
	}))
	defer srv.Close()

	s := New(srv.URL)
	_, err := s.Synthesize(context.Background(), provider.SynthesizeInput{Text: "hola", Lang: "es"})
	assert.ErrorIs(t, err, provider.ErrUnavailable)
}

func TestTruncate_NeverSplitsRune(t *testing.T) {
	// Multi-byte text sized so a byte cut would land inside a rune.
	text := strings.Repeat("é", maxTextLen) // 2 bytes each, 400 bytes total

	got := truncate(text, maxTextLen)
	assert.LessOrEqual(t, len(got), maxTextLen)
	assert.True(t, utf8.ValidString(got), "truncation must end on a rune boundary")

	short := "hello"
	assert.Equal(t, short, truncate(short, maxTextLen))
}
