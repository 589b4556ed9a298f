package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Dispatcher hands a deployment's orchestration off to a background task.
// The in-process mode runs it in a goroutine; the queue mode POSTs a task
// that re-enters via the orchestrate-deployment trampoline route.
type Dispatcher interface {
	Dispatch(ctx context.Context, deploymentID string)
}

// InProcessDispatcher runs orchestration inside this replica. A fresh root
// context bounds the whole workflow so a closed client connection cannot
// cancel it.
type InProcessDispatcher struct {
	engine *Engine
	budget time.Duration
}

func NewInProcessDispatcher(engine *Engine) *InProcessDispatcher {
	return &InProcessDispatcher{engine: engine, budget: 30 * time.Minute}
}

func (d *InProcessDispatcher) Dispatch(_ context.Context, deploymentID string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), d.budget)
		defer cancel()
		d.engine.Orchestrate(ctx, deploymentID)
	}()
}

// QueueDispatcher enqueues an orchestration task on an external HTTP task
// queue. The queue later POSTs /internal/tasks/orchestrate-deployment on
// whichever replica it reaches. Enqueue failures fall back to in-process so
// a queue outage degrades availability of the queue, not of deployments.
type QueueDispatcher struct {
	queueURL   string
	targetURL  string
	secret     string
	httpClient *http.Client
	fallback   *InProcessDispatcher
	logger     *zap.Logger
}

func NewQueueDispatcher(queueURL, baseURL, secret string, engine *Engine, logger *zap.Logger) *QueueDispatcher {
	return &QueueDispatcher{
		queueURL:   queueURL,
		targetURL:  baseURL + "/internal/tasks/orchestrate-deployment",
		secret:     secret,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		fallback:   NewInProcessDispatcher(engine),
		logger:     logger,
	}
}

type queueTask struct {
	TargetURL string            `json:"target_url"`
	Headers   map[string]string `json:"headers,omitempty"`
	Body      json.RawMessage   `json:"body"`
}

func (d *QueueDispatcher) Dispatch(ctx context.Context, deploymentID string) {
	if err := d.enqueue(ctx, deploymentID); err != nil {
		d.logger.Warn("task enqueue failed, orchestrating in process",
			zap.String("deployment_id", deploymentID),
			zap.Error(err),
		)
		d.fallback.Dispatch(ctx, deploymentID)
	}
}

func (d *QueueDispatcher) enqueue(ctx context.Context, deploymentID string) error {
	inner, err := json.Marshal(map[string]string{"deployment_id": deploymentID})
	if err != nil {
		return err
	}
	task := queueTask{
		TargetURL: d.targetURL,
		Body:      inner,
	}
	if d.secret != "" {
		task.Headers = map[string]string{"X-Visgate-Internal-Secret": d.secret}
	}
	body, err := json.Marshal(task)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.queueURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode >= 300 {
		return fmt.Errorf("task queue returned HTTP %d", resp.StatusCode)
	}
	return nil
}
