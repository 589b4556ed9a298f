package provider

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Endpoint is the result of a successful create: provider ID plus the
// invocation URL derived from it.
type Endpoint struct {
	ID  string
	URL string
}

// EndpointSummary is one row from a list call, used for warm discovery.
type EndpointSummary struct {
	ID     string
	Name   string
	Status string
	URL    string
}

// Options carries provider-specific endpoint tuning.
type Options struct {
	TemplateID  string
	WorkersMin  int
	WorkersMax  int
	IdleTimeout int
	ScalerType  string
	ScalerValue int
	VolumeInGb  int
	Locations   string
}

// CreateRequest describes the endpoint to provision.
type CreateRequest struct {
	Name      string
	GPUTypeID string
	Image     string
	Env       map[string]string
	Opts      Options
}

// Provider abstracts a GPU-serverless backend. Implementations must treat
// DeleteEndpoint as best-effort and idempotent.
type Provider interface {
	CreateEndpoint(ctx context.Context, req CreateRequest, apiKey string) (*Endpoint, error)
	DeleteEndpoint(ctx context.Context, endpointID, apiKey string) error
	ListEndpoints(ctx context.Context, apiKey string) ([]EndpointSummary, error)
	RunURL(endpointID string) string
}

// TemplateSaver is implemented by providers whose endpoints are built from a
// serverless template. The engine seeds one per deployment when no template
// ID is configured.
type TemplateSaver interface {
	SaveTemplate(ctx context.Context, apiKey, name, imageName string, containerDiskInGb int, env map[string]string) (string, error)
}

// APIError is a failure reported by the provider API. Capacity errors are
// recoverable: the engine rotates to the next GPU candidate.
type APIError struct {
	Provider string
	Message  string
	Capacity bool
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error: %s", e.Provider, e.Message)
}

// Substrings that mark a create failure as a capacity problem rather than a
// hard error. Matched case-insensitively.
var capacityMarkers = []string{
	"insufficient",
	"no gpu",
	"no capacity",
	"out of capacity",
	"unavailable",
	"stock",
	"resource exhausted",
}

// IsCapacity reports whether a message describes a capacity shortage.
func IsCapacity(message string) bool {
	lower := strings.ToLower(message)
	for _, marker := range capacityMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// IsCapacityError reports whether err is a recoverable capacity APIError.
func IsCapacityError(err error) bool {
	apiErr, ok := err.(*APIError)
	return ok && apiErr.Capacity
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Provider)
)

// Register installs a provider implementation under a name. Called at
// startup; later registrations replace earlier ones.
func Register(name string, p Provider) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[strings.ToLower(name)] = p
}

// Get looks up a registered provider by name.
func Get(name string) (Provider, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	p, ok := registry[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("provider %q not registered", name)
	}
	return p, nil
}
