package provider

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// ErrNotImplemented is returned by providers that are registered but not yet
// wired to a real backend.
var ErrNotImplemented = errors.New("provider not implemented")

// VastAI is a placeholder adapter registered behind ENABLE_VASTAI. It keeps
// the dispatch seam exercised until the Vast.ai integration lands.
//
// TODO: implement against the Vast.ai serverless API once it exposes
// endpoint-level create/delete.
type VastAI struct {
	logger *zap.Logger
}

func NewVastAI(logger *zap.Logger) *VastAI {
	return &VastAI{logger: logger}
}

func (v *VastAI) CreateEndpoint(ctx context.Context, req CreateRequest, apiKey string) (*Endpoint, error) {
	v.logger.Warn("vastai create requested but adapter is not implemented",
		zap.String("endpoint_name", req.Name))
	return nil, &APIError{Provider: "vastai", Message: ErrNotImplemented.Error()}
}

func (v *VastAI) DeleteEndpoint(ctx context.Context, endpointID, apiKey string) error {
	return &APIError{Provider: "vastai", Message: ErrNotImplemented.Error()}
}

func (v *VastAI) ListEndpoints(ctx context.Context, apiKey string) ([]EndpointSummary, error) {
	return nil, &APIError{Provider: "vastai", Message: ErrNotImplemented.Error()}
}

func (v *VastAI) RunURL(endpointID string) string {
	return ""
}
