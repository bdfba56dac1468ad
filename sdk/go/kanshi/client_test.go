package kanshi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *Client) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(Config{
		BaseURL: srv.URL,
		APIKey:  "ak_orders_0123456789abcdef0123456789abcdef",
	})
	require.NoError(t, err)
	return srv, client
}

func TestNewClientValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing base URL", Config{APIKey: "ak_x_y"}},
		{"missing API key", Config{BaseURL: "http://localhost:8080"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewClient(tt.cfg)
			assert.Error(t, err)
		})
	}
}

func TestObserve(t *testing.T) {
	var gotKey string
	var gotBody Event
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/monitor/ingest/sdk", r.URL.Path)
		gotKey = r.Header.Get("X-API-Key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]string{
				"status":   "ingested",
				"query_id": "INGEST-ORDERS-1a2b3c4d",
			},
		})
	})

	result, err := client.Observe(context.Background(), Event{
		QueryText:       "how many orders shipped last week?",
		Status:          StatusSuccess,
		SQL:             String("SELECT COUNT(*) FROM orders WHERE shipped_at > now() - interval '7 days'"),
		ExecutionTimeMS: 42,
	})
	require.NoError(t, err)

	assert.Equal(t, "ak_orders_0123456789abcdef0123456789abcdef", gotKey)
	assert.Equal(t, "how many orders shipped last week?", gotBody.QueryText)
	assert.Equal(t, "ingested", result.Status)
	assert.Equal(t, "INGEST-ORDERS-1a2b3c4d", result.QueryID)
}

func TestObserveValidation(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected for invalid events")
	})

	_, err := client.Observe(context.Background(), Event{Status: StatusSuccess})
	assert.Error(t, err, "empty query text")

	_, err = client.Observe(context.Background(), Event{QueryText: "q", Status: "partial"})
	assert.Error(t, err, "bad status")
}

func TestObserveUnauthorized(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{"code": "unauthorized", "message": "invalid API key"},
		})
	})

	_, err := client.Observe(context.Background(), Event{
		QueryText: "anything",
		Status:    StatusError,
		Error:     String("agent exploded"),
	})
	require.Error(t, err)
	assert.True(t, IsUnauthorized(err))

	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "unauthorized", apiErr.Code)
	assert.Equal(t, "invalid API key", apiErr.Message)
}

func TestObserveRateLimited(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("slow down"))
	})

	_, err := client.ObserveSuccess(context.Background(), "q", "SELECT 1", 5*time.Millisecond)
	require.Error(t, err)
	assert.True(t, IsRateLimited(err))
	assert.False(t, IsUnauthorized(err))
}

func TestObserveHelpers(t *testing.T) {
	var gotBody Event
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]string{"status": "ingested", "query_id": "INGEST-ORDERS-deadbeef"},
		})
	})

	_, err := client.ObserveSuccess(context.Background(), "count orders", "SELECT COUNT(*) FROM orders", 120*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, gotBody.Status)
	require.NotNil(t, gotBody.SQL)
	assert.Equal(t, "SELECT COUNT(*) FROM orders", *gotBody.SQL)
	assert.Equal(t, float64(120), gotBody.ExecutionTimeMS)

	_, err = client.ObserveError(context.Background(), "count orders", "schema lookup failed")
	require.NoError(t, err)
	assert.Equal(t, StatusError, gotBody.Status)
	require.NotNil(t, gotBody.Error)
	assert.Equal(t, "schema lookup failed", *gotBody.Error)
}

func TestHealth(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		assert.Empty(t, r.Header.Get("X-API-Key"))
		w.WriteHeader(http.StatusOK)
	})
	assert.NoError(t, client.Health(context.Background()))
}
