package orchestrator

import "github.com/visgate/control-plane/pkg/models"

// Create responses always quote the full cold-path budget.
const (
	CreateEstimateSeconds = 180
	PollIntervalSeconds   = 5
)

// EstimateSeconds maps a status to the expected remaining seconds until
// ready, for status polls and SSE consumers.
func EstimateSeconds(status string) int {
	switch status {
	case models.StatusValidating:
		return 20
	case models.StatusSelectingGPU:
		return 15
	case models.StatusCreatingEndpoint:
		return 120
	case models.StatusDownloadingModel:
		return 90
	case models.StatusLoadingModel:
		return 45
	case models.StatusReady, models.StatusFailed, models.StatusWebhookFailed, models.StatusDeleted:
		return 0
	default:
		return 60
	}
}
