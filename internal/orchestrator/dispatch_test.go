package orchestrator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestQueueDispatcherEnqueuesTask(t *testing.T) {
	var got queueTask
	queue := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer queue.Close()

	d := NewQueueDispatcher(queue.URL, "https://visgate.example.com", "internal-secret", nil, zap.NewNop())
	d.Dispatch(context.Background(), "dep_2026_q0000001")

	assert.Equal(t, "https://visgate.example.com/internal/tasks/orchestrate-deployment", got.TargetURL)
	assert.Equal(t, "internal-secret", got.Headers["X-Visgate-Internal-Secret"])

	var body map[string]string
	require.NoError(t, json.Unmarshal(got.Body, &body))
	assert.Equal(t, "dep_2026_q0000001", body["deployment_id"])
}

func TestQueueDispatcherFallsBackInProcess(t *testing.T) {
	queue := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer queue.Close()

	prov := &fakeProvider{}
	engine, _ := newTestEngine(t, prov)
	sink := newWebhookSink(t)
	ctx := context.Background()

	result, err := engine.Create(ctx, coldSpec(sink.server.URL))
	require.NoError(t, err)

	d := NewQueueDispatcher(queue.URL, "https://visgate.example.com", "", engine, zap.NewNop())
	// The enqueue fails, so the fallback orchestrates in process.
	d.Dispatch(ctx, result.Deployment.DeploymentID)

	assert.Eventually(t, func() bool {
		rec, err := engine.store.Get(ctx, result.Deployment.DeploymentID)
		return err == nil && rec.RunpodEndpointID == "ep-fake"
	}, 2*time.Second, 20*time.Millisecond)
}
