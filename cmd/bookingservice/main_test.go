package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/cors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func allowedOrigin(opts cors.Options, origin string) string {
	h := cors.Handler(opts)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodGet, "/v1/routes", nil)
	req.Header.Set("Origin", origin)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Header().Get("Access-Control-Allow-Origin")
}

func TestCORSDefaultsToMiniAppOrigin(t *testing.T) {
	opts := corsOptions(nil, "https://app.example.com/booking?start=1")
	require.Equal(t, []string{"https://app.example.com"}, opts.AllowedOrigins)

	assert.Equal(t, "https://app.example.com", allowedOrigin(opts, "https://app.example.com"))
	assert.Empty(t, allowedOrigin(opts, "https://evil.example"))
}

func TestCORSExplicitOriginsWin(t *testing.T) {
	opts := corsOptions([]string{"https://a.example"}, "https://app.example.com")
	assert.Equal(t, "https://a.example", allowedOrigin(opts, "https://a.example"))
	assert.Empty(t, allowedOrigin(opts, "https://app.example.com"))
}

func TestCORSWithoutOriginsRefusesEveryone(t *testing.T) {
	for _, mini := range []string{"", "not a url", "/relative"} {
		opts := corsOptions(nil, mini)
		assert.Empty(t, allowedOrigin(opts, "https://evil.example"), mini)
		assert.Empty(t, allowedOrigin(opts, "https://app.example.com"), mini)
	}
}
