package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/visgate/control-plane/pkg/models"
)

const deploymentsSchema = `
CREATE TABLE IF NOT EXISTS deployments (
    deployment_id      TEXT PRIMARY KEY,
    status             TEXT NOT NULL,
    hf_model_id        TEXT NOT NULL,
    user_webhook_url   TEXT NOT NULL,
    gpu_tier           TEXT NOT NULL DEFAULT '',
    region             TEXT NOT NULL DEFAULT '',
    runpod_endpoint_id TEXT NOT NULL DEFAULT '',
    endpoint_url       TEXT NOT NULL DEFAULT '',
    gpu_allocated      TEXT NOT NULL DEFAULT '',
    model_vram_gb      INTEGER NOT NULL DEFAULT 0,
    logs               JSONB NOT NULL DEFAULT '[]'::jsonb,
    error              TEXT NOT NULL DEFAULT '',
    created_at         TEXT NOT NULL,
    ready_at           TEXT NOT NULL DEFAULT '',
    user_hash          TEXT NOT NULL,
    provider           TEXT NOT NULL DEFAULT 'runpod',
    endpoint_name      TEXT NOT NULL DEFAULT '',
    pool_policy        TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_deployments_user_hash ON deployments (user_hash);
CREATE INDEX IF NOT EXISTS idx_deployments_status ON deployments (status);
`

// Postgres is the durable Store backed by a pgx pool.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// EnsureSchema creates the deployments table and indexes if missing.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, deploymentsSchema); err != nil {
		return fmt.Errorf("failed to ensure deployments schema: %w", err)
	}
	return nil
}

func (p *Postgres) Put(ctx context.Context, d *models.Deployment) error {
	logs := d.Logs
	if logs == nil {
		logs = []models.LogEntry{}
	}
	logsJSON, err := json.Marshal(logs)
	if err != nil {
		return fmt.Errorf("failed to marshal deployment logs: %w", err)
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO deployments (
			deployment_id, status, hf_model_id, user_webhook_url, gpu_tier,
			region, runpod_endpoint_id, endpoint_url, gpu_allocated,
			model_vram_gb, logs, error, created_at, ready_at, user_hash,
			provider, endpoint_name, pool_policy
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
		ON CONFLICT (deployment_id) DO UPDATE SET
			status = EXCLUDED.status,
			runpod_endpoint_id = EXCLUDED.runpod_endpoint_id,
			endpoint_url = EXCLUDED.endpoint_url,
			gpu_allocated = EXCLUDED.gpu_allocated,
			model_vram_gb = EXCLUDED.model_vram_gb,
			logs = EXCLUDED.logs,
			error = EXCLUDED.error,
			ready_at = EXCLUDED.ready_at,
			provider = EXCLUDED.provider,
			endpoint_name = EXCLUDED.endpoint_name,
			pool_policy = EXCLUDED.pool_policy`,
		d.DeploymentID, d.Status, d.HFModelID, d.UserWebhookURL, d.GPUTier,
		d.Region, d.RunpodEndpointID, d.EndpointURL, d.GPUAllocated,
		d.ModelVRAMGb, logsJSON, d.Error, d.CreatedAt, d.ReadyAt, d.UserHash,
		d.Provider, d.EndpointName, d.PoolPolicy,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert deployment %s: %w", d.DeploymentID, err)
	}
	return nil
}

func (p *Postgres) Get(ctx context.Context, deploymentID string) (*models.Deployment, error) {
	var d models.Deployment
	var logsJSON []byte
	err := p.pool.QueryRow(ctx, `
		SELECT deployment_id, status, hf_model_id, user_webhook_url, gpu_tier,
		       region, runpod_endpoint_id, endpoint_url, gpu_allocated,
		       model_vram_gb, logs, error, created_at, ready_at, user_hash,
		       provider, endpoint_name, pool_policy
		FROM deployments WHERE deployment_id = $1`, deploymentID,
	).Scan(
		&d.DeploymentID, &d.Status, &d.HFModelID, &d.UserWebhookURL, &d.GPUTier,
		&d.Region, &d.RunpodEndpointID, &d.EndpointURL, &d.GPUAllocated,
		&d.ModelVRAMGb, &logsJSON, &d.Error, &d.CreatedAt, &d.ReadyAt, &d.UserHash,
		&d.Provider, &d.EndpointName, &d.PoolPolicy,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load deployment %s: %w", deploymentID, err)
	}
	if len(logsJSON) > 0 {
		if err := json.Unmarshal(logsJSON, &d.Logs); err != nil {
			return nil, fmt.Errorf("failed to decode logs for %s: %w", deploymentID, err)
		}
	}
	if d.Logs == nil {
		d.Logs = []models.LogEntry{}
	}
	return &d, nil
}

// columnFor maps Update fields to their SET clauses in a fixed order so the
// statement is deterministic.
func (p *Postgres) Update(ctx context.Context, deploymentID string, u Update) error {
	sets := make([]string, 0, 10)
	args := make([]any, 0, 11)
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if u.Status != nil {
		add("status", *u.Status)
	}
	if u.RunpodEndpointID != nil {
		add("runpod_endpoint_id", *u.RunpodEndpointID)
	}
	if u.EndpointURL != nil {
		add("endpoint_url", *u.EndpointURL)
	}
	if u.GPUAllocated != nil {
		add("gpu_allocated", *u.GPUAllocated)
	}
	if u.ModelVRAMGb != nil {
		add("model_vram_gb", *u.ModelVRAMGb)
	}
	if u.Error != nil {
		add("error", *u.Error)
	}
	if u.ReadyAt != nil {
		add("ready_at", *u.ReadyAt)
	}
	if u.Provider != nil {
		add("provider", *u.Provider)
	}
	if u.EndpointName != nil {
		add("endpoint_name", *u.EndpointName)
	}
	if u.PoolPolicy != nil {
		add("pool_policy", *u.PoolPolicy)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, deploymentID)
	query := fmt.Sprintf("UPDATE deployments SET %s WHERE deployment_id = $%d",
		strings.Join(sets, ", "), len(args))
	tag, err := p.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update deployment %s: %w", deploymentID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendLog appends entries atomically with a jsonb concatenation so
// concurrent writers never clobber each other's lines.
func (p *Postgres) AppendLog(ctx context.Context, deploymentID string, entries ...models.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	entriesJSON, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to marshal log entries: %w", err)
	}
	tag, err := p.pool.Exec(ctx,
		`UPDATE deployments SET logs = logs || $1::jsonb WHERE deployment_id = $2`,
		entriesJSON, deploymentID)
	if err != nil {
		return fmt.Errorf("failed to append logs for %s: %w", deploymentID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *Postgres) Close() {
	p.pool.Close()
}
