package hf

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/visgate/control-plane/pkg/cache"
	"go.uber.org/zap"
)

// ErrModelNotFound means the model does not exist on the HF Hub (or the
// token cannot see it, which is indistinguishable from the outside).
type ErrModelNotFound struct {
	ModelID string
	Reason  string
}

func (e ErrModelNotFound) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("Hugging Face model not found: %s (%s)", e.ModelID, e.Reason)
	}
	return fmt.Sprintf("Hugging Face model not found: %s", e.ModelID)
}

// ModelInfo is the outcome of validation: the canonical ID plus the minimum
// GPU memory the capability oracle settled on.
type ModelInfo struct {
	ModelID        string
	MinGPUMemoryGb int
}

// Config holds HF Hub client configuration.
type Config struct {
	BaseURL string        // default https://huggingface.co
	Timeout time.Duration // per-request timeout; overall budget is Timeout+2s
}

// Client validates models against the HF Hub and estimates their VRAM
// needs. A nil estimate cache disables cross-replica caching.
type Client struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
	estimates  *cache.Cache
	logger     *zap.Logger
}

const estimateCacheTTL = 24 * time.Hour

func NewClient(cfg Config, estimates *cache.Cache, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://huggingface.co"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		timeout:    cfg.Timeout,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		estimates:  estimates,
		logger:     logger,
	}
}

// hubModel is the slice of the Hub metadata response we care about.
type hubModel struct {
	ID          string `json:"id"`
	Safetensors *struct {
		Parameters map[string]int64 `json:"parameters"`
		Total      int64            `json:"total"`
	} `json:"safetensors"`
}

// Validate checks that the model exists and returns its VRAM requirement.
//
// Models in the curated registry short-circuit: the registry value is
// authoritative and the Hub round trip (and its rate limit) is skipped.
func (c *Client) Validate(ctx context.Context, modelID, token string) (*ModelInfo, error) {
	if spec, ok := Spec(modelID); ok {
		return &ModelInfo{ModelID: modelID, MinGPUMemoryGb: spec.GPUMemoryGb}, nil
	}

	if gb, ok := c.cachedEstimate(ctx, modelID); ok {
		return &ModelInfo{ModelID: modelID, MinGPUMemoryGb: gb}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout+2*time.Second)
	defer cancel()

	meta, err := c.fetchMetadata(ctx, modelID, token)
	if err != nil {
		return nil, err
	}

	var weightBytes, paramsMillions *int64
	if meta.Safetensors != nil {
		if total := WeightBytes(meta.Safetensors.Parameters); total > 0 {
			weightBytes = &total
		} else if meta.Safetensors.Total > 0 {
			millions := meta.Safetensors.Total / 1_000_000
			paramsMillions = &millions
		}
	}
	gb := MinGPUMemoryGb(modelID, weightBytes, paramsMillions)

	c.logger.Info("model VRAM estimated from HF metadata",
		zap.String("hf_model_id", modelID),
		zap.Int("min_gpu_memory_gb", gb),
	)
	c.storeEstimate(ctx, modelID, gb)

	return &ModelInfo{ModelID: modelID, MinGPUMemoryGb: gb}, nil
}

// fetchMetadata GETs the Hub model endpoint with up to 3 attempts and
// exponential backoff on 429.
func (c *Client) fetchMetadata(ctx context.Context, modelID, token string) (*hubModel, error) {
	url := fmt.Sprintf("%s/api/models/%s", c.baseURL, modelID)

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to build HF request: %w", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ErrModelNotFound{ModelID: modelID, Reason: "validation timed out"}
			}
			lastErr = err
			continue
		}
		body, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			continue
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			var meta hubModel
			if err := json.Unmarshal(body, &meta); err != nil {
				return nil, fmt.Errorf("invalid HF metadata for %s: %w", modelID, err)
			}
			return &meta, nil
		case resp.StatusCode == http.StatusNotFound:
			return nil, ErrModelNotFound{ModelID: modelID}
		case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
			return nil, ErrModelNotFound{ModelID: modelID, Reason: "gated or private"}
		case resp.StatusCode == http.StatusTooManyRequests:
			lastErr = fmt.Errorf("HF rate limited (429)")
			if attempt < 2 {
				select {
				case <-time.After(time.Duration(1<<attempt) * time.Second):
				case <-ctx.Done():
					return nil, ErrModelNotFound{ModelID: modelID, Reason: "validation timed out"}
				}
			}
		default:
			if strings.Contains(strings.ToLower(string(body)), "not found") {
				return nil, ErrModelNotFound{ModelID: modelID}
			}
			return nil, fmt.Errorf("HF returned HTTP %d for %s", resp.StatusCode, modelID)
		}
	}
	return nil, fmt.Errorf("failed to validate model %s: %w", modelID, lastErr)
}

func (c *Client) cachedEstimate(ctx context.Context, modelID string) (int, bool) {
	if c.estimates == nil {
		return 0, false
	}
	raw, err := c.estimates.Get(ctx, "hf:vram:"+modelID)
	if err != nil {
		return 0, false
	}
	gb, err := strconv.Atoi(raw)
	if err != nil || gb <= 0 {
		return 0, false
	}
	return gb, true
}

func (c *Client) storeEstimate(ctx context.Context, modelID string, gb int) {
	if c.estimates == nil {
		return
	}
	if err := c.estimates.Set(ctx, "hf:vram:"+modelID, strconv.Itoa(gb), estimateCacheTTL); err != nil {
		c.logger.Debug("failed to cache VRAM estimate", zap.Error(err))
	}
}
