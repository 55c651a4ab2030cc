package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rayalaseema/regengine/notification"
)

func recordFailures(t *testing.T, api *testAPI, regions ...string) {
	t.Helper()
	for _, region := range regions {
		_, err := api.handler.Notifications.RecordFailure(context.Background(), notification.Message{
			To:       "someone@example.org",
			Region:   region,
			Template: notification.TemplatePaymentReceipt,
		}, "smtp timeout")
		require.NoError(t, err)
	}
}

func scrape(t *testing.T, api *testAPI) string {
	t.Helper()
	rec := httptest.NewRecorder()
	api.metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestFailureDigest_RunOnce(t *testing.T) {
	api := setupTestAPI(t)
	recordFailures(t, api, "east", "east", "west", "")
	s := NewFailureDigestScheduler(api.handler.Notifications, api.metrics, zap.NewNop(), "@every 1h")

	d, err := s.RunOnce(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 4, d.Total)
	assert.Equal(t, map[string]int{"east": 2, "west": 1, "unknown": 1}, d.ByRegion)
	assert.False(t, d.Oldest.IsZero())

	body := scrape(t, api)
	assert.Contains(t, body, `regengine_notification_failures_outstanding{region="east"} 2`)
	assert.Contains(t, body, `regengine_notification_failures_outstanding{region="west"} 1`)
}

func TestFailureDigest_ClearedRegionDropsFromGauge(t *testing.T) {
	api := setupTestAPI(t)
	recordFailures(t, api, "west")
	s := NewFailureDigestScheduler(api.handler.Notifications, api.metrics, nil, "@every 1h")

	_, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	require.Contains(t, scrape(t, api), `region="west"`)

	failures, err := api.handler.Notifications.ListFailures(context.Background(), notification.Filter{})
	require.NoError(t, err)
	require.NoError(t, api.handler.Notifications.ClearFailure(context.Background(), *admin, failures[0].ID))

	d, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, d.Total)
	assert.NotContains(t, scrape(t, api), `regengine_notification_failures_outstanding{region="west"}`)
}

func TestFailureDigest_StartStop(t *testing.T) {
	api := setupTestAPI(t)

	t.Run("invalid spec", func(t *testing.T) {
		s := NewFailureDigestScheduler(api.handler.Notifications, api.metrics, nil, "every tuesday")
		assert.Error(t, s.Start())
		s.Stop()
	})

	t.Run("disabled", func(t *testing.T) {
		s := NewFailureDigestScheduler(api.handler.Notifications, api.metrics, nil, "")
		assert.False(t, s.Enabled)
		assert.NoError(t, s.Start())
		s.Stop()
	})

	t.Run("idempotent", func(t *testing.T) {
		recordFailures(t, api, "east")
		s := NewFailureDigestScheduler(api.handler.Notifications, api.metrics, nil, "@every 1h")
		require.NoError(t, s.Start())
		require.NoError(t, s.Start())

		// Start runs the digest once immediately
		assert.Contains(t, scrape(t, api), `regengine_notification_failures_outstanding{region="east"} 1`)

		s.Stop()
		s.Stop()
	})
}
