package core_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	impression "github.com/oceanbase/impression-go/pkg/core"
)

func TestMetrics(t *testing.T) {
	ctx := context.Background()
	metrics := impression.NewMetrics()
	client := newTestClient(t, testConfig(t), newScriptedLLM(), impression.WithMetrics(metrics))

	msg := impression.Message{UserID: "u", MessageID: "m1", Text: "I love reading sci-fi novels"}
	_, err := client.Process(ctx, msg)
	require.NoError(t, err)
	_, err = client.Process(ctx, msg)
	require.NoError(t, err)
	_, err = client.Process(ctx, impression.Message{UserID: "u", MessageID: "m2", Text: "ok"})
	require.NoError(t, err)

	expected := `
# HELP impression_messages_total Total number of messages by pipeline outcome
# TYPE impression_messages_total counter
impression_messages_total{outcome="admitted"} 1
impression_messages_total{outcome="duplicate"} 1
impression_messages_total{outcome="not_admitted"} 1
# HELP impression_profile_updates_total Total number of successful profile merges
# TYPE impression_profile_updates_total counter
impression_profile_updates_total 1
# HELP impression_affection_updates_total Total number of successful affection updates
# TYPE impression_affection_updates_total counter
impression_affection_updates_total 2
`
	require.NoError(t, testutil.GatherAndCompare(metrics.Registry(), strings.NewReader(expected),
		"impression_messages_total", "impression_profile_updates_total", "impression_affection_updates_total"))

	// One latency series per purpose.
	count, err := testutil.GatherAndCount(metrics.Registry(), "impression_classifier_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Contains(t, rec.Body.String(), `impression_classifier_calls_total{purpose="weight",status="ok"} 2`)
}

func TestMetricsNilSafe(t *testing.T) {
	var metrics *impression.Metrics
	assert.NotPanics(t, func() {
		metrics.ObserveClassifier("weight", 0, nil)
	})
}
