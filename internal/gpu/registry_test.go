package gpu

import (
	"context"
	"strconv"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/visgate/control-plane/internal/config"
	"github.com/visgate/control-plane/pkg/cache"
	"go.uber.org/zap"
)

func TestCandidatesCheapestFirst(t *testing.T) {
	reg := DefaultRegistry()

	// 8 GB requirement: cheapest fitting card is AMPERE_24, then ADA_24.
	candidates, err := reg.Candidates(8, "")
	require.NoError(t, err)
	require.NotEmpty(t, candidates)
	assert.Equal(t, "AMPERE_24", candidates[0].ID)
	assert.Equal(t, "ADA_24", candidates[1].ID)
}

func TestCandidatesNeverBelowRequired(t *testing.T) {
	reg := DefaultRegistry()
	for _, required := range []int{6, 16, 24, 28, 48, 80} {
		candidates, err := reg.Candidates(required, "")
		require.NoError(t, err)
		for _, c := range candidates {
			assert.GreaterOrEqual(t, c.VRAMGb, required,
				"candidate %s cannot hold %d GB", c.ID, required)
		}
	}
}

func TestCandidatesTierBoundPassFirst(t *testing.T) {
	reg := DefaultRegistry()

	candidates, err := reg.Candidates(16, "A40")
	require.NoError(t, err)
	// The A40 tier entry leads even though cheaper cards fit.
	assert.Equal(t, "AMPERE_48", candidates[0].ID)
	// Fallback pass still appends the rest, cheapest first, no duplicates.
	ids := map[string]int{}
	for _, c := range candidates {
		ids[c.ID]++
	}
	assert.Equal(t, 1, ids["AMPERE_48"])
	assert.Contains(t, ids, "AMPERE_24")
}

func TestCandidatesUnknownTierFallsThrough(t *testing.T) {
	reg := DefaultRegistry()
	candidates, err := reg.Candidates(16, "NO_SUCH_TIER")
	require.NoError(t, err)
	assert.Equal(t, "AMPERE_24", candidates[0].ID)
}

func TestCandidatesTierCaseInsensitive(t *testing.T) {
	reg := DefaultRegistry()
	candidates, err := reg.Candidates(16, "a40")
	require.NoError(t, err)
	assert.Equal(t, "AMPERE_48", candidates[0].ID)
}

func TestCandidatesInsufficient(t *testing.T) {
	reg := DefaultRegistry()
	_, err := reg.Candidates(200, "")
	require.Error(t, err)
	var insufficient ErrInsufficientGPU
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, 200, insufficient.RequiredGb)
}

func TestVRAMOverrideSkipsTooSmallCard(t *testing.T) {
	// A 28 GB requirement must skip every 24 GB card entirely.
	reg := DefaultRegistry()
	candidates, err := reg.Candidates(28, "")
	require.NoError(t, err)
	assert.Equal(t, "AMPERE_48", candidates[0].ID)
}

func TestDisplayFallback(t *testing.T) {
	reg := DefaultRegistry()
	assert.Equal(t, "NVIDIA A40", reg.Display("AMPERE_48"))
	assert.Equal(t, "NVIDIA MYSTERY_GPU", reg.Display("MYSTERY_GPU"))
}

func setupCache(t *testing.T) (*cache.Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	port, _ := strconv.Atoi(mr.Port())
	c, err := cache.New(config.RedisConfig{Host: mr.Host(), Port: port, PoolSize: 2})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c, mr
}

func TestLoaderPrefersPublishedRegistry(t *testing.T) {
	c, mr := setupCache(t)
	mr.Set("gpu:registry", `[{"id":"TEST_8","display_name":"Test 8G","vram_gb":8,"cost_index":1}]`)
	mr.Set("gpu:tiers", `{"TEST":["TEST_8"]}`)

	loader := NewLoader(c, zap.NewNop())
	reg := loader.Snapshot(context.Background())

	candidates, err := reg.Candidates(8, "TEST")
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "TEST_8", candidates[0].ID)
}

func TestLoaderFallsBackWithoutKeys(t *testing.T) {
	c, _ := setupCache(t)
	loader := NewLoader(c, zap.NewNop())
	reg := loader.Snapshot(context.Background())

	candidates, err := reg.Candidates(16, "")
	require.NoError(t, err)
	assert.Equal(t, "AMPERE_24", candidates[0].ID)
}

func TestLoaderNilCacheUsesDefaults(t *testing.T) {
	loader := NewLoader(nil, zap.NewNop())
	reg := loader.Snapshot(context.Background())
	_, err := reg.Candidates(16, "")
	assert.NoError(t, err)
}
