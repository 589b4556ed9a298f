package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/visgate/control-plane/pkg/metrics"
	"go.uber.org/zap"
)

const mutationSaveEndpoint = `
mutation SaveEndpoint($input: EndpointInput!) {
  saveEndpoint(input: $input) {
    id
    name
    gpuIds
    templateId
    workersMin
    workersMax
  }
}`

const mutationDeleteEndpoint = `
mutation DeleteEndpoint($id: String!) {
  deleteEndpoint(id: $id)
}`

const queryMyselfEndpoints = `
query Endpoints {
  myself {
    endpoints {
      id
      name
      gpuIds
      templateId
      workersMax
      workersMin
    }
  }
}`

const mutationSaveTemplate = `
mutation SaveTemplate($input: SaveTemplateInput!) {
  saveTemplate(input: $input) {
    id
    name
    imageName
    isServerless
  }
}`

// RunpodConfig holds Runpod GraphQL client configuration.
type RunpodConfig struct {
	GraphQLURL string        // default https://api.runpod.io/graphql
	Timeout    time.Duration // per-request; default 30s
	MaxRetries int           // create retries; default 3
}

// Runpod provisions serverless endpoints through the Runpod GraphQL API.
// The caller's API key travels with every call; the adapter holds none.
type Runpod struct {
	graphqlURL string
	maxRetries int
	httpClient *http.Client
	logger     *zap.Logger
}

func NewRunpod(cfg RunpodConfig, logger *zap.Logger) *Runpod {
	if cfg.GraphQLURL == "" {
		cfg.GraphQLURL = "https://api.runpod.io/graphql"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:   true,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	return &Runpod{
		graphqlURL: cfg.GraphQLURL,
		maxRetries: cfg.MaxRetries,
		httpClient: &http.Client{Transport: transport, Timeout: cfg.Timeout},
		logger:     logger,
	}
}

type graphqlError struct {
	Message string `json:"message"`
}

type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphqlError  `json:"errors"`
}

// do posts one GraphQL operation and decodes data into out.
func (r *Runpod) do(ctx context.Context, apiKey, query string, variables map[string]any, out any) error {
	payload := map[string]any{"query": query}
	if variables != nil {
		payload["variables"] = variables
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal GraphQL payload: %w", err)
	}

	endpoint := r.graphqlURL + "?api_key=" + url.QueryEscape(apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build GraphQL request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		metrics.ProviderAPIErrors.WithLabelValues("runpod").Inc()
		return &APIError{Provider: "runpod", Message: err.Error(), Capacity: IsCapacity(err.Error())}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read GraphQL response: %w", err)
	}

	var decoded graphqlResponse
	if jsonErr := json.Unmarshal(raw, &decoded); jsonErr == nil && len(decoded.Errors) > 0 {
		msg := decoded.Errors[0].Message
		metrics.ProviderAPIErrors.WithLabelValues("runpod").Inc()
		return &APIError{Provider: "runpod", Message: msg, Capacity: IsCapacity(msg)}
	}
	if resp.StatusCode >= 400 {
		msg := fmt.Sprintf("HTTP %d: %s", resp.StatusCode, truncate(string(raw), 500))
		metrics.ProviderAPIErrors.WithLabelValues("runpod").Inc()
		return &APIError{Provider: "runpod", Message: msg, Capacity: IsCapacity(msg)}
	}
	if out != nil && len(decoded.Data) > 0 {
		if err := json.Unmarshal(decoded.Data, out); err != nil {
			return fmt.Errorf("failed to decode GraphQL data: %w", err)
		}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// CreateEndpoint provisions a serverless endpoint via saveEndpoint.
// Transient failures are retried with backoff; capacity errors are returned
// immediately so the engine can rotate to the next GPU candidate.
func (r *Runpod) CreateEndpoint(ctx context.Context, req CreateRequest, apiKey string) (*Endpoint, error) {
	input := map[string]any{
		"name":            req.Name,
		"templateId":      req.Opts.TemplateID,
		"gpuIds":          req.GPUTypeID,
		"idleTimeout":     req.Opts.IdleTimeout,
		"locations":       req.Opts.Locations,
		"scalerType":      req.Opts.ScalerType,
		"scalerValue":     req.Opts.ScalerValue,
		"workersMin":      req.Opts.WorkersMin,
		"workersMax":      req.Opts.WorkersMax,
		"networkVolumeId": "",
	}
	if req.Opts.VolumeInGb > 0 {
		input["volumeInGb"] = req.Opts.VolumeInGb
	}
	if len(req.Env) > 0 {
		env := make(map[string]string, len(req.Env))
		for k, v := range req.Env {
			if v != "" {
				env[k] = v
			}
		}
		input["env"] = env
	}

	var result struct {
		SaveEndpoint *struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"saveEndpoint"`
	}

	var lastErr error
	for attempt := 0; attempt < r.maxRetries; attempt++ {
		err := r.do(ctx, apiKey, mutationSaveEndpoint, map[string]any{"input": input}, &result)
		if err == nil {
			if result.SaveEndpoint == nil || result.SaveEndpoint.ID == "" {
				return nil, &APIError{Provider: "runpod", Message: "saveEndpoint returned no data"}
			}
			id := result.SaveEndpoint.ID
			r.logger.Info("runpod endpoint created",
				zap.String("endpoint_id", id),
				zap.String("endpoint_name", req.Name),
				zap.String("gpu_ids", req.GPUTypeID),
			)
			return &Endpoint{ID: id, URL: r.RunURL(id)}, nil
		}
		if IsCapacityError(err) || ctx.Err() != nil {
			return nil, err
		}
		lastErr = err
		if attempt < r.maxRetries-1 {
			select {
			case <-time.After(time.Duration(1<<attempt) * time.Second):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, fmt.Errorf("runpod create failed after %d attempts: %w", r.maxRetries, lastErr)
}

// DeleteEndpoint tears an endpoint down. Idempotent: "not found" responses
// are swallowed.
func (r *Runpod) DeleteEndpoint(ctx context.Context, endpointID, apiKey string) error {
	err := r.do(ctx, apiKey, mutationDeleteEndpoint, map[string]any{"id": endpointID}, nil)
	if err != nil {
		if apiErr, ok := err.(*APIError); ok && strings.Contains(strings.ToLower(apiErr.Message), "not found") {
			return nil
		}
		return err
	}
	r.logger.Info("runpod endpoint deleted", zap.String("endpoint_id", endpointID))
	return nil
}

// ListEndpoints returns the caller's endpoints for warm discovery.
func (r *Runpod) ListEndpoints(ctx context.Context, apiKey string) ([]EndpointSummary, error) {
	var result struct {
		Myself *struct {
			Endpoints []struct {
				ID     string `json:"id"`
				Name   string `json:"name"`
				Status string `json:"status"`
			} `json:"endpoints"`
		} `json:"myself"`
	}
	if err := r.do(ctx, apiKey, queryMyselfEndpoints, nil, &result); err != nil {
		return nil, err
	}
	if result.Myself == nil {
		return nil, nil
	}
	out := make([]EndpointSummary, 0, len(result.Myself.Endpoints))
	for _, ep := range result.Myself.Endpoints {
		out = append(out, EndpointSummary{
			ID:     ep.ID,
			Name:   ep.Name,
			Status: ep.Status,
			URL:    r.RunURL(ep.ID),
		})
	}
	return out, nil
}

// RunURL derives the serverless invocation URL from an endpoint ID.
func (r *Runpod) RunURL(endpointID string) string {
	return fmt.Sprintf("https://api.runpod.ai/v2/%s/run", endpointID)
}

// SaveTemplate creates a serverless template for the inference image. The
// engine seeds one per deployment when RUNPOD_TEMPLATE_ID is not configured.
func (r *Runpod) SaveTemplate(ctx context.Context, apiKey, name, imageName string, containerDiskInGb int, env map[string]string) (string, error) {
	envList := make([]map[string]string, 0, len(env))
	for k, v := range env {
		if v != "" {
			envList = append(envList, map[string]string{"key": k, "value": v})
		}
	}
	input := map[string]any{
		"name":              name,
		"imageName":         imageName,
		"isServerless":      true,
		"containerDiskInGb": containerDiskInGb,
		"volumeInGb":        0,
		"dockerArgs":        "",
		"env":               envList,
	}
	var result struct {
		SaveTemplate *struct {
			ID string `json:"id"`
		} `json:"saveTemplate"`
	}
	if err := r.do(ctx, apiKey, mutationSaveTemplate, map[string]any{"input": input}, &result); err != nil {
		return "", err
	}
	if result.SaveTemplate == nil || result.SaveTemplate.ID == "" {
		return "", &APIError{Provider: "runpod", Message: "saveTemplate returned no data"}
	}
	return result.SaveTemplate.ID, nil
}
