package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/visgate/control-plane/internal/store"
	"github.com/visgate/control-plane/pkg/events"
	"github.com/visgate/control-plane/pkg/metrics"
	"github.com/visgate/control-plane/pkg/models"
	"go.uber.org/zap"
)

// NormalizeRunURL canonicalizes an endpoint URL to its /run-suffixed form.
func NormalizeRunURL(url string) string {
	url = strings.TrimRight(strings.TrimSpace(url), "/")
	if url == "" {
		return ""
	}
	url = strings.TrimSuffix(url, "/runsync")
	if !strings.HasSuffix(url, "/run") {
		url += "/run"
	}
	return url
}

// MarkReadyAndNotify flips the deployment to ready and delivers the user
// webhook. A per-deployment lock serializes the worker callback against the
// probe fallback: whichever arrives second finds the record already ready
// with ready_at set and short-circuits to true. Returns false when the
// record is missing or the webhook could not be delivered; delivery failure
// never moves the record off ready.
func (e *Engine) MarkReadyAndNotify(ctx context.Context, deploymentID, endpointURL string) bool {
	lock, _ := e.readyLocks.LoadOrStore(deploymentID, &sync.Mutex{})
	mu := lock.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()

	d, err := e.store.Get(ctx, deploymentID)
	if err != nil {
		e.logger.Warn("ready notification for unknown deployment",
			zap.String("deployment_id", deploymentID), zap.Error(err))
		return false
	}
	if d.Status == models.StatusReady && d.ReadyAt != "" {
		return true
	}
	if d.Status == models.StatusDeleted {
		return false
	}

	resolved := NormalizeRunURL(endpointURL)
	if resolved == "" {
		resolved = NormalizeRunURL(d.EndpointURL)
	}
	readyAt := models.NowISO()

	if err := e.store.Update(ctx, deploymentID, store.Update{
		Status:      store.StrPtr(models.StatusReady),
		ReadyAt:     store.StrPtr(readyAt),
		EndpointURL: store.StrPtr(resolved),
	}); err != nil {
		e.logger.Error("failed to persist ready transition",
			zap.String("deployment_id", deploymentID), zap.Error(err))
		return false
	}
	e.appendLog(ctx, deploymentID, "INFO", "Deployment ready at "+resolved)

	duration := models.ParseISO(readyAt).Sub(models.ParseISO(d.CreatedAt)).Seconds()
	if duration < 0 {
		duration = 0
	}
	metrics.DeploymentsReady.Inc()
	metrics.DeploymentReadyDuration.Observe(duration)
	e.bus.Publish(ctx, events.Event{
		Type: events.DeploymentReady, DeploymentID: deploymentID, Status: models.StatusReady,
		Payload: map[string]any{"endpoint_url": resolved, "duration_seconds": duration},
	})

	payload := ReadyPayload{
		Event:            "deployment_ready",
		DeploymentID:     deploymentID,
		Status:           models.StatusReady,
		EndpointURL:      resolved,
		RunpodEndpointID: d.RunpodEndpointID,
		ModelID:          d.HFModelID,
		GPUAllocated:     d.GPUAllocated,
		CreatedAt:        d.CreatedAt,
		ReadyAt:          readyAt,
		DurationSeconds:  duration,
		UsageExample:     newUsageExample(resolved),
	}
	if err := e.notifier.Deliver(ctx, d.UserWebhookURL, payload); err != nil {
		e.logger.Warn("user webhook delivery failed, deployment stays ready",
			zap.String("deployment_id", deploymentID),
			zap.String("webhook_url", d.UserWebhookURL),
			zap.Error(err),
		)
		e.appendLog(ctx, deploymentID, "WARNING", "User webhook delivery failed after retries")
		metrics.WebhookDeliveryFailures.Inc()
		return false
	}
	e.appendLog(ctx, deploymentID, "INFO", "User webhook delivered")
	return true
}

// ApplyWorkerStatus processes a worker lifecycle callback. Unknown statuses
// are rejected; callbacks against terminal records are absorbed.
func (e *Engine) ApplyWorkerStatus(ctx context.Context, deploymentID, status, message, endpointURL string) error {
	d, err := e.store.Get(ctx, deploymentID)
	if err != nil {
		return err
	}

	switch status {
	case models.StatusReady:
		e.MarkReadyAndNotify(ctx, deploymentID, endpointURL)
		return nil
	case models.StatusDownloadingModel, models.StatusLoadingModel:
		if models.IsTerminal(d.Status) {
			return nil
		}
		e.setStatus(ctx, deploymentID, status)
		if message == "" {
			message = "Worker reported " + status
		}
		e.appendLog(ctx, deploymentID, "INFO", message)
		return nil
	case models.StatusFailed:
		if models.IsTerminal(d.Status) && d.Status != models.StatusReady {
			return nil
		}
		if message == "" {
			message = "Worker reported failure"
		}
		e.fail(ctx, deploymentID, message)
		return nil
	default:
		return fmt.Errorf("unsupported worker status %q", status)
	}
}
