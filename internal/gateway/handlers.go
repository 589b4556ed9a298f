package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/visgate/control-plane/internal/orchestrator"
	"github.com/visgate/control-plane/internal/store"
	"github.com/visgate/control-plane/pkg/models"
)

type createRequest struct {
	HFModelID string `json:"hf_model_id"`
	ModelName string `json:"model_name"`
	Provider  string `json:"provider"`

	UserWebhookURL string `json:"user_webhook_url" validate:"required,url"`
	UserRunpodKey  string `json:"user_runpod_key"`
	HFToken        string `json:"hf_token"`
	GPUTier        string `json:"gpu_tier"`
	Region         string `json:"region"`
	Task           string `json:"task" validate:"omitempty,oneof=text2img image2img text2video"`
	CacheScope     string `json:"cache_scope" validate:"omitempty,oneof=off shared private"`

	UserS3URL              string `json:"user_s3_url"`
	UserAWSAccessKeyID     string `json:"user_aws_access_key_id"`
	UserAWSSecretAccessKey string `json:"user_aws_secret_access_key"`
	UserAWSEndpointURL     string `json:"user_aws_endpoint_url"`
}

type createResponse struct {
	DeploymentID          string `json:"deployment_id"`
	Status                string `json:"status"`
	ModelID               string `json:"model_id"`
	EstimatedReadySeconds int    `json:"estimated_ready_seconds"`
	EstimatedReadyAt      string `json:"estimated_ready_at"`
	PollIntervalSeconds   int    `json:"poll_interval_seconds"`
	StreamURL             string `json:"stream_url"`
	WebhookURL            string `json:"webhook_url"`
	EndpointURL           string `json:"endpoint_url,omitempty"`
	Path                  string `json:"path"`
	CreatedAt             string `json:"created_at"`
}

func (g *Gateway) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeAPIError(w, http.StatusBadRequest, codeInvalidRequest, "invalid JSON body", nil)
		return
	}
	if err := g.validate.Struct(req); err != nil {
		writeAPIError(w, http.StatusBadRequest, codeInvalidRequest, err.Error(), nil)
		return
	}
	if (req.HFModelID == "") == (req.ModelName == "") {
		writeAPIError(w, http.StatusBadRequest, codeInvalidRequest,
			"exactly one of hf_model_id or model_name must be set", nil)
		return
	}
	if req.CacheScope != "private" &&
		(req.UserS3URL != "" || req.UserAWSAccessKeyID != "" || req.UserAWSSecretAccessKey != "" || req.UserAWSEndpointURL != "") {
		writeAPIError(w, http.StatusBadRequest, codeInvalidRequest,
			"private cache fields require cache_scope=private", nil)
		return
	}

	apiKey := apiKeyFrom(r.Context())
	if req.UserRunpodKey != "" {
		apiKey = req.UserRunpodKey
	}

	result, err := g.engine.Create(r.Context(), orchestrator.CreateSpec{
		HFModelID:          req.HFModelID,
		ModelName:          req.ModelName,
		ModelProvider:      req.Provider,
		UserWebhookURL:     req.UserWebhookURL,
		GPUTier:            req.GPUTier,
		Region:             req.Region,
		Task:               req.Task,
		CacheScope:         req.CacheScope,
		ProviderAPIKey:     apiKey,
		HFToken:            req.HFToken,
		UserHash:           userHashFrom(r.Context()),
		S3ModelURL:         req.UserS3URL,
		AWSAccessKeyID:     req.UserAWSAccessKeyID,
		AWSSecretAccessKey: req.UserAWSSecretAccessKey,
		AWSEndpointURL:     req.UserAWSEndpointURL,
	})
	if err != nil {
		g.writeError(w, r, err)
		return
	}

	d := result.Deployment
	estimate := orchestrator.CreateEstimateSeconds
	if result.Path == "warm" {
		estimate = 0
	}
	writeJSON(w, http.StatusAccepted, createResponse{
		DeploymentID:          d.DeploymentID,
		Status:                result.Status,
		ModelID:               d.HFModelID,
		EstimatedReadySeconds: estimate,
		EstimatedReadyAt:      time.Now().UTC().Add(time.Duration(estimate) * time.Second).Format(time.RFC3339),
		PollIntervalSeconds:   orchestrator.PollIntervalSeconds,
		StreamURL:             "/v1/deployments/" + d.DeploymentID + "/stream",
		WebhookURL:            d.UserWebhookURL,
		EndpointURL:           d.EndpointURL,
		Path:                  result.Path,
		CreatedAt:             d.CreatedAt,
	})
}

// loadOwned fetches a deployment and enforces tenancy. A hash mismatch reads
// exactly like a missing record.
func (g *Gateway) loadOwned(r *http.Request) (*models.Deployment, error) {
	d, err := g.store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		return nil, err
	}
	if d.UserHash != userHashFrom(r.Context()) {
		return nil, store.ErrNotFound
	}
	return d, nil
}

type statusProjection struct {
	DeploymentID          string            `json:"deployment_id"`
	Status                string            `json:"status"`
	ModelID               string            `json:"model_id"`
	GPUTier               string            `json:"gpu_tier,omitempty"`
	GPUAllocated          string            `json:"gpu_allocated,omitempty"`
	ModelVRAMGb           int               `json:"model_vram_gb,omitempty"`
	EndpointURL           string            `json:"endpoint_url,omitempty"`
	Error                 string            `json:"error,omitempty"`
	EstimatedReadySeconds int               `json:"estimated_ready_seconds"`
	CreatedAt             string            `json:"created_at"`
	ReadyAt               string            `json:"ready_at,omitempty"`
	Logs                  []models.LogEntry `json:"logs"`
}

func project(d *models.Deployment) statusProjection {
	return statusProjection{
		DeploymentID:          d.DeploymentID,
		Status:                d.Status,
		ModelID:               d.HFModelID,
		GPUTier:               d.GPUTier,
		GPUAllocated:          d.GPUAllocated,
		ModelVRAMGb:           d.ModelVRAMGb,
		EndpointURL:           d.EndpointURL,
		Error:                 d.Error,
		EstimatedReadySeconds: orchestrator.EstimateSeconds(d.Status),
		CreatedAt:             d.CreatedAt,
		ReadyAt:               d.ReadyAt,
		Logs:                  d.Logs,
	}
}

func (g *Gateway) handleGet(w http.ResponseWriter, r *http.Request) {
	d, err := g.loadOwned(r)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, project(d))
}

func (g *Gateway) handleDelete(w http.ResponseWriter, r *http.Request) {
	if _, err := g.loadOwned(r); err != nil {
		g.writeError(w, r, err)
		return
	}
	if err := g.engine.Delete(r.Context(), chi.URLParam(r, "id"), apiKeyFrom(r.Context())); err != nil {
		g.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
