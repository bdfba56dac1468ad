package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tessen-ai/kanshi/internal/auth"
	"github.com/tessen-ai/kanshi/internal/ctxutil"
	"github.com/tessen-ai/kanshi/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func jsonBody(s string) io.Reader {
	return strings.NewReader(s)
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"ok": "yes"})
	})
}

func TestWriteJSONEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	writeJSON(rec, http.StatusCreated, map[string]int{"n": 3})

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp model.APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Nil(t, resp.Error)
	assert.Equal(t, map[string]any{"n": float64(3)}, resp.Data)
}

func TestWriteErrorEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, http.StatusNotFound, "not_found", "agent not found")

	assert.Equal(t, http.StatusNotFound, rec.Code)

	var resp model.APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, "not_found", resp.Error.Code)
	assert.Equal(t, "agent not found", resp.Error.Message)
}

func TestRequestIDMiddleware(t *testing.T) {
	var captured string
	handler := requestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = ctxutil.RequestIDFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.NotEmpty(t, captured)
	assert.Equal(t, captured, rec.Header().Get("X-Request-ID"))

	// A client-supplied ID is propagated untouched.
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "req-123")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "req-123", captured)
}

func TestOperatorAuthDisabled(t *testing.T) {
	handler := operatorAuth(nil)(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestOperatorAuthEnforced(t *testing.T) {
	mgr, err := auth.NewJWTManager("test-secret", "kanshi", "kanshi", time.Hour)
	require.NoError(t, err)
	handler := operatorAuth(mgr)(okHandler())

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"garbage token", "Bearer not-a-jwt", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/metrics", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}

	token, _, err := mgr.IssueToken("ops", "operator")
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/metrics", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPIKeyAuthRejectsBeforeLookup(t *testing.T) {
	// Missing and malformed keys are rejected before any DB roundtrip, so a
	// nil DB is safe here.
	handler := apiKeyAuth(nil)(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/monitor/ingest/sdk", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/monitor/ingest/sdk", nil)
	req.Header.Set("X-API-Key", "not-one-of-ours")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAPIKeyFunc(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	assert.Empty(t, apiKeyFunc(req))

	req.Header.Set("X-API-Key", "ak_sales_agent_0123456789abcdef0123456789abcdef")
	key := apiKeyFunc(req)
	assert.NotEmpty(t, key)
	assert.NotContains(t, key, "ak_", "rate-limit key must not leak the raw key")
}

func TestCORSMiddleware(t *testing.T) {
	handler := corsMiddleware("https://dash.example.com", okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/metrics", nil)
	req.Header.Set("Origin", "https://dash.example.com")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, "https://dash.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/v1/metrics", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	// Preflight answers 204 without reaching the handler.
	req = httptest.NewRequest(http.MethodOptions, "/api/v1/metrics", nil)
	req.Header.Set("Origin", "https://dash.example.com")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestSecurityHeaders(t *testing.T) {
	handler := securityHeadersMiddleware(okHandler())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}

func TestRecoveryMiddleware(t *testing.T) {
	handler := recoveryMiddleware(testLogger(), http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var resp model.APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, "internal_error", resp.Error.Code)
}

func TestMaxBodyMiddleware(t *testing.T) {
	handler := maxBodyMiddleware(8, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var target map[string]any
		if err := decodeJSON(r, &target); err != nil {
			writeError(w, http.StatusRequestEntityTooLarge, "too_large", "request body too large")
			return
		}
		writeJSON(w, http.StatusOK, target)
	}))

	req := httptest.NewRequest(http.MethodPost, "/", jsonBody(`{"query_text":"a long prompt that exceeds the cap"}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestIsReadOnlySQL(t *testing.T) {
	assert.True(t, isReadOnlySQL("SELECT 1"))
	assert.True(t, isReadOnlySQL("  with t as (select 1) select * from t"))
	assert.False(t, isReadOnlySQL("DELETE FROM orders"))
	assert.False(t, isReadOnlySQL("UPDATE orders SET total = 0"))
	assert.False(t, isReadOnlySQL(""))
}

func TestQueryInt(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/history?limit=25&days=junk", nil)
	assert.Equal(t, 25, queryInt(req, "limit", 50))
	assert.Equal(t, 30, queryInt(req, "days", 30))
	assert.Equal(t, 7, queryInt(req, "missing", 7))
}

func TestNormalizedQueryParam(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/metrics?agent_type=Sales%20Agent", nil)
	assert.Equal(t, "sales_agent", normalizedQueryParam(req, "agent_type"))
	assert.Empty(t, normalizedQueryParam(req, "category"))
}

func TestSDKSnippetCarriesKey(t *testing.T) {
	snippet := sdkSnippet("ak_orders_deadbeef")
	assert.Contains(t, snippet, `"ak_orders_deadbeef"`)
	assert.Contains(t, snippet, "kanshi.NewClient(")
}
