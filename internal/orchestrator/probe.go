package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Readiness probe defaults: poll the worker's synchronous endpoint every 8s
// for up to 15 minutes. The probe backstops lost or delayed worker callbacks.
const (
	defaultProbeInterval = 8 * time.Second
	defaultProbeBudget   = 15 * time.Minute
)

var probeBody = []byte(`{"input":{"debug":true}}`)

// warming statuses reported by a worker that is still loading the pipeline.
var warmingStatuses = map[string]bool{
	"IN_QUEUE":    true,
	"IN_PROGRESS": true,
	"RUNNING":     true,
	"LOADING":     true,
}

// Prober polls an endpoint's /runsync route until the model pipeline reports
// loaded, the budget runs out, or the context is cancelled.
type Prober struct {
	interval   time.Duration
	budget     time.Duration
	httpClient *http.Client
	logger     *zap.Logger
}

func NewProber(logger *zap.Logger) *Prober {
	return &Prober{
		interval:   defaultProbeInterval,
		budget:     defaultProbeBudget,
		httpClient: &http.Client{Timeout: defaultProbeInterval},
		logger:     logger,
	}
}

// WaitReady blocks until the endpoint answers ready or the budget expires.
// Returns true only on a confirmed ready response. A FAILED status from the
// worker is reported through warn and probing continues; the worker callback
// remains the authority on failure. warn may be nil.
func (p *Prober) WaitReady(ctx context.Context, deploymentID, runURL, apiKey string, warn func(message string)) bool {
	syncURL := strings.TrimSuffix(strings.TrimRight(runURL, "/"), "/run") + "/runsync"
	deadline := time.Now().Add(p.budget)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if ready, done := p.probeOnce(ctx, deploymentID, syncURL, apiKey, warn); ready {
			return true
		} else if done {
			return false
		}
		if time.Now().After(deadline) {
			p.logger.Warn("readiness probe budget exhausted, deferring to worker callback",
				zap.String("deployment_id", deploymentID))
			return false
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return false
		}
	}
}

// probeOnce returns (ready, done). done means stop probing without success.
func (p *Prober) probeOnce(ctx context.Context, deploymentID, syncURL, apiKey string, warn func(string)) (bool, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, syncURL, bytes.NewReader(probeBody))
	if err != nil {
		return false, true
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return false, true
		}
		return false, false
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	resp.Body.Close()

	var parsed struct {
		Status         string `json:"status"`
		PipelineLoaded bool   `json:"pipeline_loaded"`
		Output         *struct {
			PipelineLoaded bool `json:"pipeline_loaded"`
		} `json:"output"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return false, false
	}

	status := strings.ToUpper(parsed.Status)
	loaded := parsed.PipelineLoaded || (parsed.Output != nil && parsed.Output.PipelineLoaded)

	switch {
	case (status == "OK" || status == "COMPLETED") && loaded:
		return true, false
	case warmingStatuses[status]:
		return false, false
	case status == "FAILED":
		p.logger.Warn("readiness probe saw a failed run",
			zap.String("deployment_id", deploymentID),
			zap.String("error", parsed.Error))
		if warn != nil {
			warn("Readiness probe saw a failed run: " + parsed.Error)
		}
		return false, false
	case strings.Contains(strings.ToLower(string(body)), "still loading"):
		return false, false
	}
	return false, false
}
