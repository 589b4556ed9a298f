package store

import (
	"context"
	"sync"

	"github.com/visgate/control-plane/pkg/models"
)

// Memory is an in-process Store for single-instance and test deployments.
type Memory struct {
	mu   sync.RWMutex
	docs map[string]*models.Deployment
}

func NewMemory() *Memory {
	return &Memory{docs: make(map[string]*models.Deployment)}
}

func cloneDeployment(d *models.Deployment) *models.Deployment {
	out := *d
	out.Logs = make([]models.LogEntry, len(d.Logs))
	copy(out.Logs, d.Logs)
	return &out
}

func (m *Memory) Put(ctx context.Context, d *models.Deployment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[d.DeploymentID] = cloneDeployment(d)
	return nil
}

func (m *Memory) Get(ctx context.Context, deploymentID string) (*models.Deployment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.docs[deploymentID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneDeployment(d), nil
}

func (m *Memory) Update(ctx context.Context, deploymentID string, u Update) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[deploymentID]
	if !ok {
		return ErrNotFound
	}
	applyUpdate(d, u)
	return nil
}

func applyUpdate(d *models.Deployment, u Update) {
	if u.Status != nil {
		d.Status = *u.Status
	}
	if u.RunpodEndpointID != nil {
		d.RunpodEndpointID = *u.RunpodEndpointID
	}
	if u.EndpointURL != nil {
		d.EndpointURL = *u.EndpointURL
	}
	if u.GPUAllocated != nil {
		d.GPUAllocated = *u.GPUAllocated
	}
	if u.ModelVRAMGb != nil {
		d.ModelVRAMGb = *u.ModelVRAMGb
	}
	if u.Error != nil {
		d.Error = *u.Error
	}
	if u.ReadyAt != nil {
		d.ReadyAt = *u.ReadyAt
	}
	if u.Provider != nil {
		d.Provider = *u.Provider
	}
	if u.EndpointName != nil {
		d.EndpointName = *u.EndpointName
	}
	if u.PoolPolicy != nil {
		d.PoolPolicy = *u.PoolPolicy
	}
}

func (m *Memory) AppendLog(ctx context.Context, deploymentID string, entries ...models.LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[deploymentID]
	if !ok {
		return ErrNotFound
	}
	d.Logs = append(d.Logs, entries...)
	return nil
}

func (m *Memory) Ping(ctx context.Context) error { return nil }

func (m *Memory) Close() {}
