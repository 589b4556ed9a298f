package store

import (
	"context"
	"errors"

	"github.com/visgate/control-plane/pkg/models"
)

// ErrNotFound is returned when a deployment ID has no record.
var ErrNotFound = errors.New("deployment not found")

// Update is a partial deployment update: nil fields are left untouched.
type Update struct {
	Status           *string
	RunpodEndpointID *string
	EndpointURL      *string
	GPUAllocated     *string
	ModelVRAMGb      *int
	Error            *string
	ReadyAt          *string
	Provider         *string
	EndpointName     *string
	PoolPolicy       *string
}

// Store is the durable deployment document store.
type Store interface {
	Put(ctx context.Context, d *models.Deployment) error
	Get(ctx context.Context, deploymentID string) (*models.Deployment, error)
	Update(ctx context.Context, deploymentID string, u Update) error
	AppendLog(ctx context.Context, deploymentID string, entries ...models.LogEntry) error
	Ping(ctx context.Context) error
	Close()
}

// StrPtr and IntPtr build pointer fields for Update literals.
func StrPtr(s string) *string { return &s }
func IntPtr(i int) *int       { return &i }
