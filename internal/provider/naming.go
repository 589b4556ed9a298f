package provider

import "strings"

// ModelSlug makes an HF model ID safe for endpoint names: "/" becomes "--",
// which is reversible against a known catalog.
func ModelSlug(modelID string) string {
	return strings.ReplaceAll(strings.TrimSpace(modelID), "/", "--")
}

// UserEndpointName is the deterministic per-caller endpoint name used for
// warm discovery: visgate-<hash10>-<slug>.
func UserEndpointName(userHash, modelID string) string {
	short := userHash
	if len(short) > 10 {
		short = short[:10]
	}
	return "visgate-" + short + "-" + ModelSlug(modelID)
}

// PoolEndpointName is the shared warm-pool endpoint name for a model.
func PoolEndpointName(modelID string) string {
	return "visgate-pool-" + ModelSlug(modelID)
}

// Endpoint statuses that disqualify a listed endpoint from warm reuse.
var deadStatuses = map[string]bool{
	"TERMINATED": true,
	"DELETED":    true,
	"FAILED":     true,
	"STOPPED":    true,
}

// IsLive reports whether a listed endpoint may serve traffic. Providers
// that return no status field are treated as live.
func IsLive(status string) bool {
	return !deadStatuses[strings.ToUpper(strings.TrimSpace(status))]
}
