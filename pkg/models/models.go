package models

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// Deployment statuses. The happy path walks the first five in order; the
// rest are terminal except downloading_model, which the worker may report
// between creating_endpoint and loading_model.
const (
	StatusValidating       = "validating"
	StatusSelectingGPU     = "selecting_gpu"
	StatusCreatingEndpoint = "creating_endpoint"
	StatusDownloadingModel = "downloading_model"
	StatusLoadingModel     = "loading_model"
	StatusReady            = "ready"
	StatusFailed           = "failed"
	StatusWebhookFailed    = "webhook_failed"
	StatusDeleted          = "deleted"
)

// IsTerminal reports whether no further state work may happen for a
// deployment in the given status (delete excepted).
func IsTerminal(status string) bool {
	switch status {
	case StatusReady, StatusFailed, StatusWebhookFailed, StatusDeleted:
		return true
	}
	return false
}

// LogEntry is a single line in a deployment's append-only log.
type LogEntry struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Message   string `json:"message"`
}

// Deployment is the one durable entity: a user's request to serve a Hugging
// Face model on a provider endpoint, and everything learned on the way.
type Deployment struct {
	DeploymentID     string     `json:"deployment_id"`
	Status           string     `json:"status"`
	HFModelID        string     `json:"hf_model_id"`
	UserWebhookURL   string     `json:"user_webhook_url"`
	GPUTier          string     `json:"gpu_tier,omitempty"`
	Region           string     `json:"region,omitempty"`
	RunpodEndpointID string     `json:"runpod_endpoint_id,omitempty"`
	EndpointURL      string     `json:"endpoint_url,omitempty"`
	GPUAllocated     string     `json:"gpu_allocated,omitempty"`
	ModelVRAMGb      int        `json:"model_vram_gb,omitempty"`
	Logs             []LogEntry `json:"logs"`
	Error            string     `json:"error,omitempty"`
	CreatedAt        string     `json:"created_at"`
	ReadyAt          string     `json:"ready_at,omitempty"`
	UserHash         string     `json:"user_hash"`
	Provider         string     `json:"provider"`
	EndpointName     string     `json:"endpoint_name,omitempty"`
	PoolPolicy       string     `json:"pool_policy,omitempty"`
}

// NowISO returns the current UTC time in the ISO-8601 form stored on
// deployment documents (RFC 3339 with a Z suffix).
func NowISO() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// ParseISO parses a stored timestamp; returns the zero time on failure.
func ParseISO(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// NewDeploymentID generates an identifier shaped dep_<YYYY>_<8hex>.
func NewDeploymentID() string {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand failing means the process is in serious trouble;
		// fall back to a time-derived suffix rather than panicking.
		return fmt.Sprintf("dep_%s_%08x", time.Now().UTC().Format("2006"), time.Now().UnixNano()&0xffffffff)
	}
	return fmt.Sprintf("dep_%s_%s", time.Now().UTC().Format("2006"), hex.EncodeToString(b[:]))
}
