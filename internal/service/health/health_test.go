package health

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tessen-ai/kanshi/internal/model"
)

func TestClassifyTelemetry(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	gap := 30 * time.Minute

	tests := []struct {
		name         string
		latest       time.Time
		hasTelemetry bool
		createdAt    time.Time
		want         model.HealthStatus
	}{
		{
			name:         "fresh telemetry",
			latest:       now.Add(-5 * time.Minute),
			hasTelemetry: true,
			want:         model.HealthHealthy,
		},
		{
			name:         "stale telemetry",
			latest:       now.Add(-2 * time.Hour),
			hasTelemetry: true,
			want:         model.HealthSDKIssue,
		},
		{
			name:      "never reported, inside grace window",
			createdAt: now.Add(-10 * time.Minute),
			want:      model.HealthHealthy,
		},
		{
			name:      "never reported, past grace window",
			createdAt: now.Add(-3 * time.Hour),
			want:      model.HealthSDKIssue,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, detail := classifyTelemetry(tt.latest, tt.hasTelemetry, tt.createdAt, gap, now)
			assert.Equal(t, tt.want, status)
			if status != model.HealthHealthy {
				assert.NotEmpty(t, detail)
			}
		})
	}
}

func TestProbeUnreachable(t *testing.T) {
	c := NewChecker(nil, nil, 30*time.Minute, slog.Default())
	agent := model.Agent{AgentName: "sales", DBURL: "redis://not-a-database:6379"}

	status, detail := c.probe(context.Background(), agent)
	assert.Equal(t, model.HealthUnhealthy, status)
	assert.Contains(t, detail, "unreachable")
}

func TestPingAgent(t *testing.T) {
	c := NewChecker(nil, nil, 30*time.Minute, slog.Default())

	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer ok.Close()
	assert.NoError(t, c.pingAgent(context.Background(), ok.URL))
	assert.NoError(t, c.pingAgent(context.Background(), ok.URL+"/"))

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()
	err := c.pingAgent(context.Background(), down.URL)
	assert.ErrorContains(t, err, "503")

	down.Close()
	assert.Error(t, c.pingAgent(context.Background(), down.URL))
}
