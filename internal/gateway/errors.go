package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/visgate/control-plane/internal/gpu"
	"github.com/visgate/control-plane/internal/hf"
	"github.com/visgate/control-plane/internal/orchestrator"
	"github.com/visgate/control-plane/internal/provider"
	"github.com/visgate/control-plane/internal/store"
	"go.uber.org/zap"
)

// Error codes surfaced to API callers.
const (
	codeInvalidRequest     = "InvalidDeploymentRequest"
	codeUnauthorized       = "Unauthorized"
	codeRateLimited        = "RateLimited"
	codeHFModelNotFound    = "HFModelNotFound"
	codeDeploymentNotFound = "DeploymentNotFound"
	codeInsufficientGPU    = "InsufficientGPU"
	codeProviderAPIError   = "ProviderAPIError"
	codeInternal           = "Internal"
)

type errorBody struct {
	Error   string         `json:"error"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeAPIError(w http.ResponseWriter, status int, code, message string, details map[string]any) {
	writeJSON(w, status, errorBody{Error: code, Message: message, Details: details})
}

// writeError maps a domain error onto the API error taxonomy. Anything
// unrecognized becomes a 500 without leaking internals.
func (g *Gateway) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var unknownModel hf.ErrUnknownModel
	var taskUnsupported orchestrator.ErrTaskUnsupported
	var modelNotFound hf.ErrModelNotFound
	var insufficient gpu.ErrInsufficientGPU
	var providerErr *provider.APIError

	switch {
	case errors.As(err, &unknownModel):
		writeAPIError(w, http.StatusBadRequest, codeInvalidRequest, err.Error(), map[string]any{
			"model_name": unknownModel.ModelName,
			"provider":   unknownModel.Provider,
		})
	case errors.As(err, &taskUnsupported):
		writeAPIError(w, http.StatusBadRequest, codeInvalidRequest, err.Error(), map[string]any{
			"model_id": taskUnsupported.ModelID,
			"task":     taskUnsupported.Task,
		})
	case errors.As(err, &modelNotFound):
		writeAPIError(w, http.StatusNotFound, codeHFModelNotFound, err.Error(), map[string]any{
			"hf_model_id": modelNotFound.ModelID,
		})
	case errors.Is(err, store.ErrNotFound):
		writeAPIError(w, http.StatusNotFound, codeDeploymentNotFound, "deployment not found", nil)
	case errors.As(err, &insufficient):
		writeAPIError(w, http.StatusServiceUnavailable, codeInsufficientGPU, err.Error(), map[string]any{
			"required_vram_gb": insufficient.RequiredGb,
		})
	case errors.As(err, &providerErr):
		writeAPIError(w, http.StatusBadGateway, codeProviderAPIError, err.Error(), nil)
	default:
		g.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeAPIError(w, http.StatusInternalServerError, codeInternal, "internal error", nil)
	}
}
