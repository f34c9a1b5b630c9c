package api

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRateLimitedError_ClampsSubSecondDelay(t *testing.T) {
	err := NewRateLimitedError(300 * time.Millisecond)
	assert.Equal(t, 1, err.Details["retry_after_seconds"])

	err = NewRateLimitedError(45 * time.Second)
	assert.Equal(t, 45, err.Details["retry_after_seconds"])
}

func TestWriteError_RateLimitedSetsRetryAfterHeader(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, NewRateLimitedError(200*time.Millisecond))

	assert.Equal(t, 429, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	var body struct {
		Error   string         `json:"error"`
		Details map[string]any `json:"details"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "rate limit exceeded", body.Error)
	assert.EqualValues(t, 1, body.Details["retry_after_seconds"])
}
