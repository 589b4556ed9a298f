package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/visgate/control-plane/internal/config"
	"github.com/visgate/control-plane/internal/gpu"
	"github.com/visgate/control-plane/internal/hf"
	"github.com/visgate/control-plane/internal/provider"
	"github.com/visgate/control-plane/internal/store"
	"github.com/visgate/control-plane/pkg/events"
	"github.com/visgate/control-plane/pkg/logging"
	"github.com/visgate/control-plane/pkg/metrics"
	"github.com/visgate/control-plane/pkg/models"
	"go.uber.org/zap"
)

// ErrTaskUnsupported means the caller asked for a task the model's registry
// entry does not declare.
type ErrTaskUnsupported struct {
	ModelID string
	Task    string
}

func (e ErrTaskUnsupported) Error() string {
	return fmt.Sprintf("model %s does not support task %s", e.ModelID, e.Task)
}

// CreateSpec is a validated, auth-resolved deployment request.
type CreateSpec struct {
	HFModelID     string // set directly, or resolved from ModelName
	ModelName     string
	ModelProvider string // alias namespace for ModelName, e.g. "fal"

	UserWebhookURL string
	GPUTier        string
	Region         string
	Task           string
	CacheScope     string // "off", "shared", "private"

	ProviderAPIKey string
	HFToken        string
	UserHash       string
	Backend        string // GPU-serverless backend; default from config

	S3ModelURL         string
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	AWSEndpointURL     string
}

// CreateResult is what the API layer shapes into the 202 response.
type CreateResult struct {
	Deployment *models.Deployment
	Path       string // "warm" or "cold"
	Status     string // "warm_ready" or "accepted_cold"
}

// Engine drives deployment state from intake to ready (or failed). All
// state-advancing mutations for one deployment funnel through the single
// background task Dispatch hands it to; the worker-callback path can race
// the probe fallback into the ready transition, so MarkReadyAndNotify
// serializes per deployment with a keyed lock.
type Engine struct {
	store      store.Store
	secrets    *store.SecretCache
	logRing    *store.LogRing
	registry   *gpu.Loader
	hub        *hf.Client
	notifier   *Notifier
	prober     *Prober
	pool       *PoolPolicy
	bus        *events.Bus
	cfg        *config.Config
	dispatcher Dispatcher
	readyLocks sync.Map // deployment_id -> *sync.Mutex
	logger     *zap.Logger
}

// Params wires an Engine. Dispatcher may be nil; SetDispatcher installs it
// later (the queue dispatcher needs the engine for its fallback).
type Params struct {
	Store    store.Store
	Secrets  *store.SecretCache
	LogRing  *store.LogRing
	Registry *gpu.Loader
	Hub      *hf.Client
	Notifier *Notifier
	Prober   *Prober
	Pool     *PoolPolicy
	Bus      *events.Bus
	Config   *config.Config
	Logger   *zap.Logger
}

func NewEngine(p Params) *Engine {
	return &Engine{
		store:    p.Store,
		secrets:  p.Secrets,
		logRing:  p.LogRing,
		registry: p.Registry,
		hub:      p.Hub,
		notifier: p.Notifier,
		prober:   p.Prober,
		pool:     p.Pool,
		bus:      p.Bus,
		cfg:      p.Config,
		logger:   p.Logger,
	}
}

func (e *Engine) SetDispatcher(d Dispatcher) { e.dispatcher = d }

// Create validates the request, checks for a warm endpoint to reuse, and
// either finishes synchronously (warm) or hands the record to a background
// orchestration task (cold).
func (e *Engine) Create(ctx context.Context, spec CreateSpec) (*CreateResult, error) {
	modelID := strings.TrimSpace(spec.HFModelID)
	if modelID == "" {
		resolved, err := hf.ResolveAlias(spec.ModelName, spec.ModelProvider)
		if err != nil {
			return nil, err
		}
		modelID = resolved
	}

	if spec.Task != "" && !hf.SupportsTask(modelID, spec.Task) {
		return nil, ErrTaskUnsupported{ModelID: modelID, Task: spec.Task}
	}

	backend := spec.Backend
	if backend == "" {
		backend = e.cfg.Provider.Default
	}
	prov, err := provider.Get(backend)
	if err != nil {
		return nil, err
	}

	policy := e.pool.PolicyFor(modelID)
	endpointName := provider.UserEndpointName(spec.UserHash, modelID)
	if policy != "" {
		endpointName = provider.PoolEndpointName(modelID)
	}

	d := &models.Deployment{
		DeploymentID:   models.NewDeploymentID(),
		Status:         models.StatusValidating,
		HFModelID:      modelID,
		UserWebhookURL: spec.UserWebhookURL,
		GPUTier:        spec.GPUTier,
		Region:         spec.Region,
		CreatedAt:      models.NowISO(),
		UserHash:       spec.UserHash,
		Provider:       backend,
		EndpointName:   endpointName,
		PoolPolicy:     policy,
		Logs:           []models.LogEntry{},
	}

	if warm := e.findWarm(ctx, prov, spec, modelID); warm != nil {
		d.Status = models.StatusReady
		d.RunpodEndpointID = warm.ID
		d.EndpointURL = warm.URL
		d.EndpointName = warm.Name
		if err := e.store.Put(ctx, d); err != nil {
			return nil, fmt.Errorf("failed to persist deployment: %w", err)
		}
		e.appendLog(ctx, d.DeploymentID, "INFO",
			fmt.Sprintf("Reusing warm endpoint %s (%s)", warm.Name, warm.ID))
		metrics.DeploymentsCreated.WithLabelValues("warm").Inc()
		e.bus.Publish(ctx, events.Event{
			Type: events.DeploymentCreated, DeploymentID: d.DeploymentID, Status: d.Status,
			Payload: map[string]any{"path": "warm"},
		})
		e.MarkReadyAndNotify(ctx, d.DeploymentID, warm.URL)
		current, err := e.store.Get(ctx, d.DeploymentID)
		if err == nil {
			d = current
		}
		return &CreateResult{Deployment: d, Path: "warm", Status: "warm_ready"}, nil
	}

	if err := e.store.Put(ctx, d); err != nil {
		return nil, fmt.Errorf("failed to persist deployment: %w", err)
	}
	e.secrets.Put(d.DeploymentID, store.Credentials{
		ProviderAPIKey:     spec.ProviderAPIKey,
		HFToken:            spec.HFToken,
		AWSAccessKeyID:     e.pickS3(spec.CacheScope, spec.AWSAccessKeyID, e.cfg.S3.AccessKeyID),
		AWSSecretAccessKey: e.pickS3(spec.CacheScope, spec.AWSSecretAccessKey, e.cfg.S3.SecretAccessKey),
		S3ModelURL:         e.pickS3(spec.CacheScope, spec.S3ModelURL, e.cfg.S3.ModelURL),
	})
	e.appendLog(ctx, d.DeploymentID, "INFO", "Deployment accepted, validating model "+modelID)
	metrics.DeploymentsCreated.WithLabelValues("cold").Inc()
	e.bus.Publish(ctx, events.Event{
		Type: events.DeploymentCreated, DeploymentID: d.DeploymentID, Status: d.Status,
		Payload: map[string]any{"path": "cold"},
	})

	if e.dispatcher != nil {
		e.dispatcher.Dispatch(ctx, d.DeploymentID)
	} else {
		NewInProcessDispatcher(e).Dispatch(ctx, d.DeploymentID)
	}
	return &CreateResult{Deployment: d, Path: "cold", Status: "accepted_cold"}, nil
}

// pickS3 chooses between caller credentials (private cache scope) and the
// service defaults (shared). "off" disables the model cache entirely.
func (e *Engine) pickS3(scope, private, shared string) string {
	switch scope {
	case "private":
		return private
	case "off":
		return ""
	default:
		return shared
	}
}

func (e *Engine) findWarm(ctx context.Context, prov provider.Provider, spec CreateSpec, modelID string) *provider.EndpointSummary {
	if !e.cfg.WarmPool.Enabled || spec.ProviderAPIKey == "" {
		return nil
	}
	endpoints, err := prov.ListEndpoints(ctx, spec.ProviderAPIKey)
	if err != nil {
		e.logger.Warn("warm discovery failed, proceeding cold",
			zap.String("hf_model_id", modelID), zap.Error(err))
		return nil
	}
	return FindWarmEndpoint(endpoints, spec.UserHash, modelID)
}

// Orchestrate runs the cold-path state machine for one deployment. Errors
// are absorbed into the record; nothing propagates to a caller.
func (e *Engine) Orchestrate(ctx context.Context, deploymentID string) {
	logger := e.logger.With(zap.String("deployment_id", deploymentID))

	d, err := e.store.Get(ctx, deploymentID)
	if err != nil {
		logger.Error("orchestration aborted, record missing", zap.Error(err))
		return
	}
	if models.IsTerminal(d.Status) {
		logger.Info("orchestration skipped, deployment already terminal",
			zap.String("status", d.Status))
		return
	}

	creds, ok := e.secrets.Get(deploymentID)
	if !ok {
		e.fail(ctx, deploymentID, "deployment credentials expired before provisioning")
		return
	}
	prov, err := provider.Get(d.Provider)
	if err != nil {
		e.fail(ctx, deploymentID, err.Error())
		return
	}

	// validating -> selecting_gpu
	info, err := e.hub.Validate(ctx, d.HFModelID, creds.HFToken)
	if err != nil {
		e.fail(ctx, deploymentID, err.Error())
		return
	}
	if err := e.store.Update(ctx, deploymentID, store.Update{
		ModelVRAMGb: store.IntPtr(info.MinGPUMemoryGb),
	}); err != nil {
		logger.Warn("failed to persist VRAM estimate", zap.Error(err))
	}
	e.setStatus(ctx, deploymentID, models.StatusSelectingGPU)
	e.appendLog(ctx, deploymentID, "INFO",
		fmt.Sprintf("Model validated, requires %d GB VRAM", info.MinGPUMemoryGb))

	// selecting_gpu -> creating_endpoint
	registry := e.registry.Snapshot(ctx)
	candidates, err := registry.Candidates(info.MinGPUMemoryGb, d.GPUTier)
	if err != nil {
		e.fail(ctx, deploymentID, err.Error())
		return
	}
	e.setStatus(ctx, deploymentID, models.StatusCreatingEndpoint)

	// creating_endpoint -> loading_model, rotating on capacity errors
	env := e.buildWorkerEnv(d, creds)
	opts := e.endpointOptions(d)
	if opts.TemplateID == "" {
		if saver, ok := prov.(provider.TemplateSaver); ok {
			disk := e.cfg.Provider.VolumeSizeGb
			if disk == 0 {
				disk = 20
			}
			tmplID, err := saver.SaveTemplate(ctx, creds.ProviderAPIKey, d.EndpointName, e.cfg.Provider.DockerImage, disk, env)
			if err != nil {
				e.fail(ctx, deploymentID, err.Error())
				return
			}
			opts.TemplateID = tmplID
			e.appendLog(ctx, deploymentID, "INFO", "Created serverless template "+tmplID)
		}
	}
	var endpoint *provider.Endpoint
	var gpuID string
	var lastErr error
	for i, candidate := range candidates {
		if deleted := e.bailIfDeleted(ctx, deploymentID); deleted {
			return
		}
		endpoint, lastErr = prov.CreateEndpoint(ctx, provider.CreateRequest{
			Name:      d.EndpointName,
			GPUTypeID: candidate.ID,
			Image:     e.cfg.Provider.DockerImage,
			Env:       env,
			Opts:      opts,
		}, creds.ProviderAPIKey)
		if lastErr == nil {
			gpuID = candidate.ID
			break
		}
		if !provider.IsCapacityError(lastErr) {
			e.fail(ctx, deploymentID, lastErr.Error())
			return
		}
		e.appendLog(ctx, deploymentID, "WARNING",
			fmt.Sprintf("No capacity for %s (%s), trying next candidate", candidate.ID, registry.Display(candidate.ID)))
		logger.Warn("provider capacity exhausted for candidate",
			zap.String("gpu_id", candidate.ID),
			zap.Int("remaining_candidates", len(candidates)-i-1),
		)
	}
	if endpoint == nil {
		e.fail(ctx, deploymentID, "all GPU candidates exhausted: "+lastErr.Error())
		return
	}

	display := registry.Display(gpuID)
	if err := e.store.Update(ctx, deploymentID, store.Update{
		Status:           store.StrPtr(models.StatusLoadingModel),
		RunpodEndpointID: store.StrPtr(endpoint.ID),
		EndpointURL:      store.StrPtr(endpoint.URL),
		GPUAllocated:     store.StrPtr(display),
	}); err != nil {
		logger.Error("failed to persist endpoint allocation", zap.Error(err))
	}
	e.appendLog(ctx, deploymentID, "INFO",
		fmt.Sprintf("Endpoint %s created on %s, loading model", endpoint.ID, display))
	e.publishStatus(ctx, deploymentID, models.StatusLoadingModel)
	logger.Info("endpoint provisioned",
		zap.String("endpoint_id", endpoint.ID),
		zap.String("gpu_allocated", display),
		logging.Secret("provider_api_key", creds.ProviderAPIKey),
	)

	// loading_model -> ready, via probe fallback; the worker callback may
	// beat the probe, which is fine (MarkReadyAndNotify serializes and
	// short-circuits).
	warn := func(message string) {
		e.appendLog(ctx, deploymentID, "WARNING", message)
	}
	if e.prober != nil && e.prober.WaitReady(ctx, deploymentID, endpoint.URL, creds.ProviderAPIKey, warn) {
		e.MarkReadyAndNotify(ctx, deploymentID, endpoint.URL)
	}
}

func (e *Engine) bailIfDeleted(ctx context.Context, deploymentID string) bool {
	d, err := e.store.Get(ctx, deploymentID)
	if err != nil {
		return true
	}
	return d.Status == models.StatusDeleted
}

func (e *Engine) endpointOptions(d *models.Deployment) provider.Options {
	opts := provider.Options{
		TemplateID:  e.cfg.Provider.TemplateID,
		WorkersMin:  e.cfg.Provider.WorkersMin,
		WorkersMax:  e.cfg.Provider.WorkersMax,
		IdleTimeout: e.cfg.Provider.IdleTimeout,
		ScalerType:  e.cfg.Provider.ScalerType,
		ScalerValue: e.cfg.Provider.ScalerValue,
		VolumeInGb:  e.cfg.Provider.VolumeSizeGb,
		Locations:   e.cfg.Provider.Locations,
	}
	if d.Region != "" {
		opts.Locations = d.Region
	}
	// Pooled endpoints keep one worker pinned so the pool is actually warm.
	if d.PoolPolicy != "" && opts.WorkersMin < 1 {
		opts.WorkersMin = 1
	}
	return opts
}

// buildWorkerEnv assembles the environment handed to the inference worker.
func (e *Engine) buildWorkerEnv(d *models.Deployment, creds store.Credentials) map[string]string {
	base := e.cfg.Internal.BaseURL
	callback := base + "/internal/deployment-ready/" + d.DeploymentID
	if e.cfg.Internal.Secret != "" {
		callback += "?secret=" + e.cfg.Internal.Secret
	}
	env := map[string]string{
		"HF_MODEL_ID":                  d.HFModelID,
		"DEPLOYMENT_ID":                d.DeploymentID,
		"VISGATE_WEBHOOK":              callback,
		"VISGATE_INTERNAL_SECRET":      e.cfg.Internal.Secret,
		"VISGATE_LOG_TUNNEL":           base + "/internal/logs/" + d.DeploymentID,
		"CLEANUP_IDLE_SECONDS":         strconv.Itoa(e.cfg.Cleanup.IdleSeconds),
		"CLEANUP_MAX_LIFETIME_SECONDS": strconv.Itoa(e.cfg.Cleanup.MaxLifetimeSeconds),
	}
	if creds.HFToken != "" {
		env["HF_TOKEN"] = creds.HFToken
	}
	if creds.S3ModelURL != "" {
		env["S3_MODEL_URL"] = creds.S3ModelURL
		env["AWS_ACCESS_KEY_ID"] = creds.AWSAccessKeyID
		env["AWS_SECRET_ACCESS_KEY"] = creds.AWSSecretAccessKey
		if e.cfg.S3.EndpointURL != "" {
			env["AWS_ENDPOINT_URL"] = e.cfg.S3.EndpointURL
		}
	}
	e.logger.Debug("worker environment assembled",
		zap.String("deployment_id", d.DeploymentID),
		zap.Any("env", logging.SanitizeEnv(env)),
	)
	return env
}

// Delete tears the deployment down: best-effort provider delete, terminal
// status, secret eviction. Idempotent.
func (e *Engine) Delete(ctx context.Context, deploymentID, apiKey string) error {
	d, err := e.store.Get(ctx, deploymentID)
	if err != nil {
		return err
	}
	if d.Status == models.StatusDeleted {
		return nil
	}

	if d.RunpodEndpointID != "" {
		key := apiKey
		if key == "" {
			if creds, ok := e.secrets.Get(deploymentID); ok {
				key = creds.ProviderAPIKey
			}
		}
		if key != "" {
			if prov, err := provider.Get(d.Provider); err == nil {
				if err := prov.DeleteEndpoint(ctx, d.RunpodEndpointID, key); err != nil {
					e.logger.Warn("provider endpoint delete failed",
						zap.String("deployment_id", deploymentID),
						zap.String("endpoint_id", d.RunpodEndpointID),
						zap.Error(err),
					)
				}
			}
		}
	}

	if err := e.store.Update(ctx, deploymentID, store.Update{
		Status: store.StrPtr(models.StatusDeleted),
	}); err != nil {
		return err
	}
	e.appendLog(ctx, deploymentID, "INFO", "Deployment deleted")
	e.secrets.Delete(deploymentID)
	e.readyLocks.Delete(deploymentID)
	e.bus.Publish(ctx, events.Event{
		Type: events.DeploymentDeleted, DeploymentID: deploymentID, Status: models.StatusDeleted,
	})
	return nil
}

// Cleanup is the worker-initiated teardown (idle or fatal worker state).
// Best-effort: failures leave the record as-is.
func (e *Engine) Cleanup(ctx context.Context, deploymentID, reason string) {
	if reason != "" {
		e.appendLog(ctx, deploymentID, "INFO", "Worker requested cleanup: "+reason)
	}
	if err := e.Delete(ctx, deploymentID, ""); err != nil && !errors.Is(err, store.ErrNotFound) {
		e.logger.Warn("worker-initiated cleanup failed",
			zap.String("deployment_id", deploymentID), zap.Error(err))
	}
}

// AppendWorkerLogs feeds tunnelled worker log lines into the live ring and
// the durable record.
func (e *Engine) AppendWorkerLogs(ctx context.Context, deploymentID string, entries []models.LogEntry) error {
	if _, err := e.store.Get(ctx, deploymentID); err != nil {
		return err
	}
	for i := range entries {
		if entries[i].Timestamp == "" {
			entries[i].Timestamp = models.NowISO()
		}
		if entries[i].Level == "" {
			entries[i].Level = "INFO"
		}
	}
	e.logRing.Append(deploymentID, entries...)
	return e.store.AppendLog(ctx, deploymentID, entries...)
}

func (e *Engine) setStatus(ctx context.Context, deploymentID, status string) {
	if err := e.store.Update(ctx, deploymentID, store.Update{Status: store.StrPtr(status)}); err != nil {
		e.logger.Error("failed to persist status",
			zap.String("deployment_id", deploymentID),
			zap.String("status", status),
			zap.Error(err),
		)
		return
	}
	e.publishStatus(ctx, deploymentID, status)
}

func (e *Engine) publishStatus(ctx context.Context, deploymentID, status string) {
	e.bus.Publish(ctx, events.Event{
		Type: events.StatusChanged, DeploymentID: deploymentID, Status: status,
	})
}

func (e *Engine) appendLog(ctx context.Context, deploymentID, level, message string) {
	entry := models.LogEntry{Timestamp: models.NowISO(), Level: level, Message: message}
	e.logRing.Append(deploymentID, entry)
	if err := e.store.AppendLog(ctx, deploymentID, entry); err != nil && !errors.Is(err, store.ErrNotFound) {
		e.logger.Warn("failed to append deployment log",
			zap.String("deployment_id", deploymentID), zap.Error(err))
	}
}

func (e *Engine) fail(ctx context.Context, deploymentID, message string) {
	e.logger.Error("deployment failed",
		zap.String("deployment_id", deploymentID),
		zap.String("error", message),
	)
	if err := e.store.Update(ctx, deploymentID, store.Update{
		Status: store.StrPtr(models.StatusFailed),
		Error:  store.StrPtr(message),
	}); err != nil {
		e.logger.Error("failed to persist failure",
			zap.String("deployment_id", deploymentID), zap.Error(err))
	}
	e.appendLog(ctx, deploymentID, "ERROR", message)
	e.secrets.Delete(deploymentID)
	metrics.DeploymentsFailed.Inc()
	e.bus.Publish(ctx, events.Event{
		Type: events.DeploymentFailed, DeploymentID: deploymentID, Status: models.StatusFailed,
		Payload: map[string]any{"error": message},
	})
}
