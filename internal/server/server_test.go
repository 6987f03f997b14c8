package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/docmeter/internal/config"
	"github.com/sakif/docmeter/internal/model"
)

const testSecret = "test-secret-at-least-16-chars!!"

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.Config{
		Port:           8080,
		LogFormat:      "text",
		AdminEmail:     "ops@example.com",
		JWTSecret:      testSecret,
		TokenTTL:       time.Minute,
		LedgerDriver:   config.DriverSQLite,
		AuditDriver:    config.DriverSQLite,
		DBPath:         filepath.Join(t.TempDir(), "docmeter.db"),
		StorageTimeout: time.Second,
		AuditWorkers:   1,
		AuditQueueSize: 16,
	}
	require.NoError(t, cfg.Validate())

	s, err := New(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func (s *Server) tokenFor(t *testing.T, id, email string) string {
	t.Helper()
	token, err := s.tokens.Generate(model.NewPrincipal(id, email))
	require.NoError(t, err)
	return token
}

func do(s *Server, method, path, token, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, r)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	return rr
}

func TestServer_PublicEndpoints(t *testing.T) {
	s := newTestServer(t)

	assert.Equal(t, http.StatusOK, do(s, http.MethodGet, "/healthz", "", "").Code)

	rr := do(s, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "docmeter_http_requests_total")
}

func TestServer_GatesWithoutToken(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/me"},
		{http.MethodGet, "/api/credits"},
		{http.MethodPost, "/api/credits/debit"},
		{http.MethodPost, "/api/documents/extract"},
		{http.MethodGet, "/api/admin/credits/github:1"},
		{http.MethodPost, "/api/admin/credits/github:1/grant"},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			assert.Equal(t, http.StatusUnauthorized, do(s, tt.method, tt.path, "", "").Code)
		})
	}
}

// TestServer_GrantThenSpend walks the operator grant path and a user
// spending the credits down to a 402.
func TestServer_GrantThenSpend(t *testing.T) {
	s := newTestServer(t)
	operator := s.tokenFor(t, "github:100", "OPS@example.com")
	user := s.tokenFor(t, "github:200", "user@example.com")

	// Ordinary users cannot grant.
	rr := do(s, http.MethodPost, "/api/admin/credits/github:200/grant", user, `{"amount":2}`)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = do(s, http.MethodPost, "/api/admin/credits/github:200/grant", operator, `{"amount":2}`)
	require.Equal(t, http.StatusOK, rr.Code)

	assert.Equal(t, http.StatusAccepted, do(s, http.MethodPost, "/api/documents/extract", user, "").Code)
	assert.Equal(t, http.StatusOK, do(s, http.MethodPost, "/api/credits/debit", user, "").Code)

	rr = do(s, http.MethodPost, "/api/documents/extract", user, "")
	assert.Equal(t, http.StatusPaymentRequired, rr.Code)

	rr = do(s, http.MethodGet, "/api/credits", user, "")
	require.Equal(t, http.StatusOK, rr.Code)
	var balance struct {
		Credits int64 `json:"credits"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&balance))
	assert.Equal(t, int64(0), balance.Credits)

	rr = do(s, http.MethodGet, "/api/me", operator, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"isAdmin":true`)
}

func TestServer_NoAuthConfigured(t *testing.T) {
	cfg := config.Config{
		Port:           8080,
		LedgerDriver:   config.DriverSQLite,
		AuditDriver:    config.DriverNone,
		DBPath:         ":memory:",
		StorageTimeout: time.Second,
	}
	s, err := New(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(s.Close)

	assert.Equal(t, http.StatusNotFound, do(s, http.MethodGet, "/auth/github/login", "", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(s, http.MethodPost, "/api/documents/extract", "", "").Code)
}
