package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/visgate/control-plane/internal/config"
	"go.uber.org/zap"
)

// UsageExample shows the caller how to invoke their new endpoint.
type UsageExample struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers"`
	Body    map[string]any    `json:"body"`
}

// ReadyPayload is the document POSTed to the caller's webhook when a
// deployment reaches ready.
type ReadyPayload struct {
	Event            string       `json:"event"`
	DeploymentID     string       `json:"deployment_id"`
	Status           string       `json:"status"`
	EndpointURL      string       `json:"endpoint_url"`
	RunpodEndpointID string       `json:"runpod_endpoint_id"`
	ModelID          string       `json:"model_id"`
	GPUAllocated     string       `json:"gpu_allocated"`
	CreatedAt        string       `json:"created_at"`
	ReadyAt          string       `json:"ready_at"`
	DurationSeconds  float64      `json:"duration_seconds"`
	UsageExample     UsageExample `json:"usage_example"`
}

func newUsageExample(endpointURL string) UsageExample {
	return UsageExample{
		Method:  http.MethodPost,
		URL:     endpointURL,
		Headers: map[string]string{"Authorization": "Bearer <YOUR_PROVIDER_API_KEY>"},
		Body: map[string]any{
			"input": map[string]any{
				"prompt":              "…",
				"num_inference_steps": 28,
				"guidance_scale":      3.5,
			},
		},
	}
}

// Notifier delivers user webhooks with bounded retries. Client errors
// (400/401/404) are not retried; everything else backs off 2^n seconds.
type Notifier struct {
	timeout    time.Duration
	maxRetries int
	httpClient *http.Client
	logger     *zap.Logger
}

func NewNotifier(cfg config.WebhookConfig, logger *zap.Logger) *Notifier {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	return &Notifier{
		timeout:    cfg.Timeout,
		maxRetries: cfg.MaxRetries,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

// Deliver POSTs the payload to url. Returns nil on the first 2xx.
func (n *Notifier) Deliver(ctx context.Context, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < n.maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("failed to build webhook request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := n.httpClient.Do(req)
		if err != nil {
			lastErr = err
		} else {
			io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return nil
			}
			lastErr = fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
			switch resp.StatusCode {
			case http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound:
				return lastErr
			}
		}

		if attempt < n.maxRetries-1 {
			n.logger.Warn("webhook delivery attempt failed, retrying",
				zap.Int("attempt", attempt+1),
				zap.Error(lastErr),
			)
			select {
			case <-time.After(time.Duration(1<<attempt) * time.Second):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return fmt.Errorf("webhook delivery failed after %d attempts: %w", n.maxRetries, lastErr)
}
