package auth

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRateLimitKey_AccountBeforeDeviceBeforeIP(t *testing.T) {
	req := httptest.NewRequest("POST", "/v1/translate", nil)
	req.RemoteAddr = "5.5.5.5:4100"
	req.Header.Set("X-Device-ID", "device-z")

	claims := &AccessClaims{UserID: "7f2f0f2e-1111-2222-3333-444455556666"}
	authed := req.WithContext(context.WithValue(req.Context(), UserClaimsKey, claims))
	assert.Equal(t, "acct:"+claims.UserID, RateLimitKey(authed))

	// No claims: device header wins over the address.
	assert.Equal(t, "dev:device-z", RateLimitKey(req))

	req.Header.Del("X-Device-ID")
	assert.Equal(t, "ip:5.5.5.5", RateLimitKey(req))
}

func TestRateLimitKey_AuthedUserBehindNATKeyedByAccount(t *testing.T) {
	// Two accounts on the same address must not share a window.
	a := httptest.NewRequest("POST", "/v1/translate", nil)
	a.RemoteAddr = "9.9.9.9:1000"
	a = a.WithContext(context.WithValue(a.Context(), UserClaimsKey, &AccessClaims{UserID: "user-a"}))

	b := httptest.NewRequest("POST", "/v1/translate", nil)
	b.RemoteAddr = "9.9.9.9:1001"
	b = b.WithContext(context.WithValue(b.Context(), UserClaimsKey, &AccessClaims{UserID: "user-b"}))

	assert.NotEqual(t, RateLimitKey(a), RateLimitKey(b))
}
