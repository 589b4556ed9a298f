package gpu

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/visgate/control-plane/pkg/cache"
	"go.uber.org/zap"
)

const (
	registryKey = "gpu:registry"
	tiersKey    = "gpu:tiers"
)

// Loader serves registry snapshots, preferring rows published to Redis over
// the compiled-in defaults. Ops can retune the fleet (prices change weekly)
// without a redeploy by writing the two JSON keys.
type Loader struct {
	cache  *cache.Cache
	logger *zap.Logger
}

func NewLoader(c *cache.Cache, logger *zap.Logger) *Loader {
	return &Loader{cache: c, logger: logger}
}

// Snapshot returns the current registry. Any Redis failure degrades to the
// static defaults; selection must never block on the cache being healthy.
func (l *Loader) Snapshot(ctx context.Context) *Registry {
	if l == nil || l.cache == nil {
		return DefaultRegistry()
	}

	specs, err := l.loadSpecs(ctx)
	if err != nil {
		if !cache.IsMiss(err) {
			l.logger.Warn("gpu registry load failed, using defaults", zap.Error(err))
		}
		return DefaultRegistry()
	}
	tiers, err := l.loadTiers(ctx)
	if err != nil && !cache.IsMiss(err) {
		l.logger.Warn("gpu tier mapping load failed, using defaults", zap.Error(err))
	}
	return NewRegistry(specs, tiers)
}

func (l *Loader) loadSpecs(ctx context.Context) ([]Spec, error) {
	raw, err := l.cache.Get(ctx, registryKey)
	if err != nil {
		return nil, err
	}
	var specs []Spec
	if err := json.Unmarshal([]byte(raw), &specs); err != nil {
		return nil, fmt.Errorf("invalid gpu registry JSON: %w", err)
	}
	return specs, nil
}

func (l *Loader) loadTiers(ctx context.Context) (map[string][]string, error) {
	raw, err := l.cache.Get(ctx, tiersKey)
	if err != nil {
		return nil, err
	}
	var tiers map[string][]string
	if err := json.Unmarshal([]byte(raw), &tiers); err != nil {
		return nil, fmt.Errorf("invalid gpu tier mapping JSON: %w", err)
	}
	return tiers, nil
}
