package orchestrator

import (
	"github.com/visgate/control-plane/internal/provider"
)

// FindWarmEndpoint scans a provider endpoint listing for a live endpoint this
// caller may reuse for the model: their own deterministic endpoint or the
// shared pool one. Returns nil when nothing qualifies.
func FindWarmEndpoint(endpoints []provider.EndpointSummary, userHash, modelID string) *provider.EndpointSummary {
	wanted := map[string]bool{
		provider.UserEndpointName(userHash, modelID): true,
		provider.PoolEndpointName(modelID):           true,
	}
	for i := range endpoints {
		ep := &endpoints[i]
		if wanted[ep.Name] && provider.IsLive(ep.Status) {
			return ep
		}
	}
	return nil
}
