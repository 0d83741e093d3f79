package router

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/solwatch/sentinel/internal/config"
	"github.com/solwatch/sentinel/internal/ingress"
)

type fakeStatusProvider struct{}

func (fakeStatusProvider) Status() ingress.StatusView {
	return ingress.StatusView{Active: 1}
}

func testSetup() http.Handler {
	cfg := &config.Config{
		Addr:             ":0",
		Env:              "test",
		RateLimitEnabled: false,
		APIKeyHeader:     "Authorization",
		MaxBodyBytes:     1 << 20,
		DefaultTimeout:   0,
	}
	log := zerolog.New(io.Discard).With().Timestamp().Logger()

	dispatched := make([]interface{}, 0)
	dispatch := func(r *http.Request, event interface{}) error {
		dispatched = append(dispatched, event)
		return nil
	}
	evidence := func(token string) (int, int) { return 0, 0 }
	handlers := ingress.New(dispatch, evidence, fakeStatusProvider{}, log)

	return NewRouter(cfg, log, handlers, nil)
}

func TestHealthEndpoints(t *testing.T) {
	r := testSetup()

	tests := []struct {
		name   string
		path   string
		status int
	}{
		{"healthz", "/healthz", http.StatusOK},
		{"ready", "/ready", http.StatusOK},
		{"status", "/status", http.StatusOK},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			rw := httptest.NewRecorder()
			r.ServeHTTP(rw, req)
			if rw.Result().StatusCode != tc.status {
				t.Fatalf("expected %d for %s, got %d", tc.status, tc.path, rw.Result().StatusCode)
			}
		})
	}
}

func TestKOLBuyWebhookAlwaysReturnsSuccess(t *testing.T) {
	r := testSetup()

	body, _ := json.Marshal([]map[string]interface{}{
		{"wallet": "not-a-real-wallet", "token": "not-a-valid-mint", "kind": "buy", "ts": 0},
	})
	req := httptest.NewRequest(http.MethodPost, "/webhooks/kol-buy", bytes.NewReader(body))
	rw := httptest.NewRecorder()
	r.ServeHTTP(rw, req)

	if rw.Result().StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for malformed kol-buy payload, got %d", rw.Result().StatusCode)
	}
}

func TestCORSPreflight(t *testing.T) {
	r := testSetup()

	req := httptest.NewRequest(http.MethodOptions, "/webhooks/kol-buy", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rw := httptest.NewRecorder()
	r.ServeHTTP(rw, req)

	if rw.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Fatal("expected CORS Allow-Origin header on preflight response")
	}
}

func TestSecurityHeaders(t *testing.T) {
	r := testSetup()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rw := httptest.NewRecorder()
	r.ServeHTTP(rw, req)

	headers := []string{
		"X-Content-Type-Options",
		"X-Frame-Options",
		"Strict-Transport-Security",
	}
	for _, h := range headers {
		if rw.Header().Get(h) == "" {
			t.Fatalf("expected security header %s to be set", h)
		}
	}
}
