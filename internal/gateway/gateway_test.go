package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/visgate/control-plane/internal/config"
	"github.com/visgate/control-plane/internal/gpu"
	"github.com/visgate/control-plane/internal/hf"
	"github.com/visgate/control-plane/internal/orchestrator"
	"github.com/visgate/control-plane/internal/provider"
	"github.com/visgate/control-plane/internal/store"
	"github.com/visgate/control-plane/pkg/events"
	"github.com/visgate/control-plane/pkg/models"
)

type stubProvider struct {
	mu        sync.Mutex
	endpoints []provider.EndpointSummary
}

func (s *stubProvider) CreateEndpoint(_ context.Context, req provider.CreateRequest, _ string) (*provider.Endpoint, error) {
	return &provider.Endpoint{ID: "ep-stub", URL: "https://api.runpod.ai/v2/ep-stub/run"}, nil
}
func (s *stubProvider) DeleteEndpoint(context.Context, string, string) error { return nil }
func (s *stubProvider) ListEndpoints(context.Context, string) ([]provider.EndpointSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endpoints, nil
}
func (s *stubProvider) RunURL(id string) string { return "https://api.runpod.ai/v2/" + id + "/run" }

type noDispatch struct{}

func (noDispatch) Dispatch(context.Context, string) {}

type harness struct {
	gateway *Gateway
	engine  *orchestrator.Engine
	store   store.Store
	ring    *store.LogRing
	server  *httptest.Server
}

func newHarness(t *testing.T, mutate func(cfg *config.Config)) *harness {
	t.Helper()
	backend := "stub-" + strings.ToLower(strings.ReplaceAll(t.Name(), "/", "-"))
	provider.Register(backend, &stubProvider{})

	cfg := &config.Config{
		Provider: config.ProviderConfig{
			Default:     backend,
			TemplateID:  "tmpl-test",
			DockerImage: "visgate/inference:test",
			WorkersMax:  1,
			ScalerType:  "QUEUE_DELAY",
			ScalerValue: 4,
			Locations:   "US",
		},
		WarmPool:  config.WarmPoolConfig{Enabled: true},
		Internal:  config.InternalConfig{Secret: "internal-secret", BaseURL: "https://visgate.example.com"},
		Webhook:   config.WebhookConfig{Timeout: time.Second, MaxRetries: 1},
		RateLimit: config.RateLimitConfig{RequestsPerMinute: 100, Window: time.Minute},
		LogStream: config.LogStreamConfig{MaxEntries: 100, TTL: time.Minute},
	}
	if mutate != nil {
		mutate(cfg)
	}

	logger := zap.NewNop()
	st := store.NewMemory()
	ring := store.NewLogRing(cfg.LogStream.MaxEntries, cfg.LogStream.TTL)
	engine := orchestrator.NewEngine(orchestrator.Params{
		Store:    st,
		Secrets:  store.NewSecretCache(time.Hour),
		LogRing:  ring,
		Registry: gpu.NewLoader(nil, logger),
		Hub:      hf.NewClient(hf.Config{BaseURL: "http://127.0.0.1:1", Timeout: time.Second}, nil, logger),
		Notifier: orchestrator.NewNotifier(cfg.Webhook, logger),
		Pool:     orchestrator.NewPoolPolicy(cfg.WarmPool, logger),
		Bus:      events.NewBus(logger),
		Config:   cfg,
		Logger:   logger,
	})
	engine.SetDispatcher(noDispatch{})

	g := New(engine, st, ring, cfg, logger)
	server := httptest.NewServer(g.Router())
	t.Cleanup(server.Close)
	return &harness{gateway: g, engine: engine, store: st, ring: ring, server: server}
}

func (h *harness) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequest(method, h.server.URL+path, reader)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func validCreateBody() map[string]any {
	return map[string]any{
		"hf_model_id":      "black-forest-labs/FLUX.1-schnell",
		"gpu_tier":         "A40",
		"user_webhook_url": "https://example.com/hook",
	}
}

func TestCreateColdResponse(t *testing.T) {
	h := newHarness(t, nil)

	resp := h.do(t, http.MethodPost, "/v1/deployments", "rpa_TEST", validCreateBody())
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var body createResponse
	decodeBody(t, resp, &body)
	assert.Equal(t, "cold", body.Path)
	assert.Equal(t, "accepted_cold", body.Status)
	assert.Equal(t, 180, body.EstimatedReadySeconds)
	assert.Equal(t, 5, body.PollIntervalSeconds)
	assert.Equal(t, "black-forest-labs/FLUX.1-schnell", body.ModelID)
	assert.Equal(t, "/v1/deployments/"+body.DeploymentID+"/stream", body.StreamURL)
	assert.NotEmpty(t, body.EstimatedReadyAt)
}

func TestCreateRequiresAuth(t *testing.T) {
	h := newHarness(t, nil)
	resp := h.do(t, http.MethodPost, "/v1/deployments", "", validCreateBody())
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCreateRejectsUnknownAlias(t *testing.T) {
	h := newHarness(t, nil)
	resp := h.do(t, http.MethodPost, "/v1/deployments", "rpa_TEST", map[string]any{
		"model_name":       "nonexistent",
		"provider":         "fal",
		"user_webhook_url": "https://example.com/hook",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body errorBody
	decodeBody(t, resp, &body)
	assert.Equal(t, codeInvalidRequest, body.Error)
	assert.Equal(t, "nonexistent", body.Details["model_name"])
	assert.Equal(t, "fal", body.Details["provider"])
}

func TestCreateRejectsAmbiguousModel(t *testing.T) {
	h := newHarness(t, nil)
	body := validCreateBody()
	body["model_name"] = "flux-schnell"
	resp := h.do(t, http.MethodPost, "/v1/deployments", "rpa_TEST", body)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCreateRejectsPrivateFieldsWithoutScope(t *testing.T) {
	h := newHarness(t, nil)
	body := validCreateBody()
	body["user_s3_url"] = "s3://bucket/models"
	resp := h.do(t, http.MethodPost, "/v1/deployments", "rpa_TEST", body)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetTenancyMismatchReads404(t *testing.T) {
	h := newHarness(t, nil)

	resp := h.do(t, http.MethodPost, "/v1/deployments", "rpa_TEST", validCreateBody())
	var created createResponse
	decodeBody(t, resp, &created)

	other := h.do(t, http.MethodGet, "/v1/deployments/"+created.DeploymentID, "rpa_OTHER", nil)
	require.Equal(t, http.StatusNotFound, other.StatusCode)
	var body errorBody
	decodeBody(t, other, &body)
	assert.Equal(t, codeDeploymentNotFound, body.Error)

	owner := h.do(t, http.MethodGet, "/v1/deployments/"+created.DeploymentID, "rpa_TEST", nil)
	defer owner.Body.Close()
	assert.Equal(t, http.StatusOK, owner.StatusCode)
}

func TestDeleteIdempotent(t *testing.T) {
	h := newHarness(t, nil)

	resp := h.do(t, http.MethodPost, "/v1/deployments", "rpa_TEST", validCreateBody())
	var created createResponse
	decodeBody(t, resp, &created)

	first := h.do(t, http.MethodDelete, "/v1/deployments/"+created.DeploymentID, "rpa_TEST", nil)
	first.Body.Close()
	second := h.do(t, http.MethodDelete, "/v1/deployments/"+created.DeploymentID, "rpa_TEST", nil)
	second.Body.Close()
	assert.Equal(t, http.StatusNoContent, first.StatusCode)
	assert.Equal(t, http.StatusNoContent, second.StatusCode)

	d, err := h.store.Get(context.Background(), created.DeploymentID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDeleted, d.Status)
}

func TestRateLimitPerUser(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) {
		cfg.RateLimit.RequestsPerMinute = 2
	})

	for i := 0; i < 2; i++ {
		resp := h.do(t, http.MethodGet, "/v1/deployments/dep_2026_none0000", "rpa_TEST", nil)
		resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	}
	resp := h.do(t, http.MethodGet, "/v1/deployments/dep_2026_none0000", "rpa_TEST", nil)
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	var body errorBody
	decodeBody(t, resp, &body)
	assert.Equal(t, codeRateLimited, body.Error)
	assert.Greater(t, body.Details["retry_after_seconds"].(float64), 0.0)
}

func TestInternalSecretGuard(t *testing.T) {
	h := newHarness(t, nil)

	resp := h.do(t, http.MethodPost, "/v1/deployments", "rpa_TEST", validCreateBody())
	var created createResponse
	decodeBody(t, resp, &created)

	payload := map[string]string{"status": "ready", "endpoint_url": "https://api.runpod.ai/v2/abc/run"}

	// No secret.
	denied := h.do(t, http.MethodPost, "/internal/deployment-ready/"+created.DeploymentID, "", payload)
	denied.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, denied.StatusCode)

	// Secret via query parameter.
	allowed := h.do(t, http.MethodPost,
		"/internal/deployment-ready/"+created.DeploymentID+"?secret=internal-secret", "", payload)
	allowed.Body.Close()
	assert.Equal(t, http.StatusOK, allowed.StatusCode)

	d, err := h.store.Get(context.Background(), created.DeploymentID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusReady, d.Status)
	assert.Equal(t, "https://api.runpod.ai/v2/abc/run", d.EndpointURL)
}

func TestWorkerCallbackViaHeaderSecret(t *testing.T) {
	h := newHarness(t, nil)

	resp := h.do(t, http.MethodPost, "/v1/deployments", "rpa_TEST", validCreateBody())
	var created createResponse
	decodeBody(t, resp, &created)

	body, _ := json.Marshal(map[string]string{"status": "downloading_model", "message": "pulling weights"})
	req, err := http.NewRequest(http.MethodPost,
		h.server.URL+"/internal/deployment-ready/"+created.DeploymentID, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("X-Visgate-Internal-Secret", "internal-secret")
	req.Header.Set("Content-Type", "application/json")
	result, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	result.Body.Close()
	assert.Equal(t, http.StatusOK, result.StatusCode)

	d, err := h.store.Get(context.Background(), created.DeploymentID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDownloadingModel, d.Status)
}

func TestWorkerLogTunnel(t *testing.T) {
	h := newHarness(t, nil)

	resp := h.do(t, http.MethodPost, "/v1/deployments", "rpa_TEST", validCreateBody())
	var created createResponse
	decodeBody(t, resp, &created)

	logged := h.do(t, http.MethodPost,
		"/internal/logs/"+created.DeploymentID+"?secret=internal-secret", "",
		map[string]any{"logs": []map[string]string{
			{"level": "INFO", "message": "loading unet"},
		}})
	logged.Body.Close()
	assert.Equal(t, http.StatusOK, logged.StatusCode)

	entries := h.ring.Since(created.DeploymentID, time.Time{})
	var found bool
	for _, e := range entries {
		if e.Message == "loading unet" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestStatusStreamEndsAtTerminal(t *testing.T) {
	h := newHarness(t, nil)

	d := &models.Deployment{
		DeploymentID:   "dep_2026_sse00001",
		Status:         models.StatusFailed,
		HFModelID:      "stabilityai/sd-turbo",
		UserWebhookURL: "https://example.com/hook",
		CreatedAt:      models.NowISO(),
		UserHash:       HashToken("rpa_TEST"),
		Provider:       "stub",
		Error:          "boom",
		Logs:           []models.LogEntry{},
	}
	require.NoError(t, h.store.Put(context.Background(), d))

	resp := h.do(t, http.MethodGet, "/v1/deployments/"+d.DeploymentID+"/stream", "rpa_TEST", nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// Terminal record: one status event, then the stream closes.
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "event: status")
	assert.Contains(t, string(raw), `"status":"failed"`)
}

func TestHealthAndReadiness(t *testing.T) {
	h := newHarness(t, nil)

	health := h.do(t, http.MethodGet, "/health", "", nil)
	health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)

	ready := h.do(t, http.MethodGet, "/readiness", "", nil)
	ready.Body.Close()
	assert.Equal(t, http.StatusOK, ready.StatusCode)
}

func TestLimiterPrunesOldTimestamps(t *testing.T) {
	l := NewLimiter(time.Minute)
	base := time.Now()
	l.now = func() time.Time { return base }

	for i := 0; i < 3; i++ {
		ok, _ := l.Allow("subject", 3)
		require.True(t, ok)
	}
	ok, retryAfter := l.Allow("subject", 3)
	assert.False(t, ok)
	assert.Greater(t, retryAfter, 0)

	// After the window slides, the old calls are evicted.
	l.now = func() time.Time { return base.Add(61 * time.Second) }
	ok, _ = l.Allow("subject", 3)
	assert.True(t, ok)
	l.mu.Lock()
	assert.Len(t, l.windows["subject"], 1)
	l.mu.Unlock()
}
