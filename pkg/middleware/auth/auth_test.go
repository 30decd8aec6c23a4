package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/joeydtaylor/composr/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func captureCaller(t *testing.T, m *Middleware, req *http.Request) (Caller, bool) {
	t.Helper()
	var (
		got Caller
		ok  bool
	)
	h := m.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok = CallerFrom(r.Context())
	}))
	h.ServeHTTP(httptest.NewRecorder(), req)
	return got, ok
}

func TestUnverifiedDomainClaim(t *testing.T) {
	m := New(config.Auth{DomainClaim: "domainId"}, nil, zaptest.NewLogger(t))

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"domainId": "acme",
		"sub":      "robot",
	})
	raw, err := tok.SignedString([]byte("irrelevant"))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/phrase", nil)
	req.Header.Set("Authorization", "Bearer "+raw)

	c, ok := captureCaller(t, m, req)
	require.True(t, ok)
	assert.Equal(t, "acme", c.Domain)
	assert.Equal(t, "robot", c.Subject)
	assert.Equal(t, raw, c.Token)
	assert.False(t, c.Verified)
}

func TestMissingOrGarbageTokenContinuesAnonymous(t *testing.T) {
	m := New(config.Auth{}, nil, zaptest.NewLogger(t))

	req := httptest.NewRequest(http.MethodGet, "/phrase", nil)
	_, ok := captureCaller(t, m, req)
	assert.False(t, ok)

	req.Header.Set("Authorization", "Bearer not-a-jwt")
	_, ok = captureCaller(t, m, req)
	assert.False(t, ok)
}

func TestVerifiedAssertionFromPEM(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-pem-file")
		_, _ = w.Write(pemBytes)
	}))
	defer srv.Close()

	m := New(config.Auth{KeyURL: srv.URL, Issuer: "iam", LeewaySec: 5}, srv.Client(), zaptest.NewLogger(t))
	require.NoError(t, m.refreshAssertionKey(context.Background()))

	sign := func(iss string) string {
		tok := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
			"domainId": "acme",
			"iss":      iss,
			"iat":      time.Now().Unix(),
			"exp":      time.Now().Add(time.Minute).Unix(),
		})
		raw, err := tok.SignedString(key)
		require.NoError(t, err)
		return raw
	}

	c, err := m.resolveCaller(sign("iam"))
	require.NoError(t, err)
	assert.True(t, c.Verified)
	assert.Equal(t, "acme", c.Domain)

	_, err = m.resolveCaller(sign("someone-else"))
	assert.Error(t, err)

	// unsigned HS256 tokens are refused once verification is on
	hs := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"domainId": "acme"})
	raw, err := hs.SignedString([]byte("k"))
	require.NoError(t, err)
	_, err = m.resolveCaller(raw)
	assert.Error(t, err)
}

func TestDevBypassHeaders(t *testing.T) {
	m := New(config.Auth{DevBypass: true}, nil, zaptest.NewLogger(t))
	req := httptest.NewRequest(http.MethodGet, "/snippet", nil)
	req.Header.Set("X-Dev-Domain", "local")

	c, ok := captureCaller(t, m, req)
	require.True(t, ok)
	assert.Equal(t, "local", c.Domain)
	assert.True(t, m.IsDomain(WithCaller(context.Background(), c), "local"))
}
