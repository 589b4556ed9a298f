package hf

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func i64(v int64) *int64 { return &v }

func TestMinGPUMemoryRegistryWins(t *testing.T) {
	// Registry entries are authoritative: even wildly different metadata
	// must not change the answer.
	big := int64(200 << 30)
	assert.Equal(t, 16, MinGPUMemoryGb("black-forest-labs/FLUX.1-schnell", &big, nil))
	assert.Equal(t, 8, MinGPUMemoryGb("stabilityai/sd-turbo", &big, i64(70_000)))
	assert.Equal(t, 80, MinGPUMemoryGb("Wan-AI/Wan2.1-T2V-14B-Diffusers", nil, nil))
}

func TestMinGPUMemoryFromWeightBytes(t *testing.T) {
	// 12B BF16 params = 24 GB weights; ×1.35 ≈ 32.4 GB snaps up to 40.
	weights := WeightBytes(map[string]int64{"BF16": 12_000_000_000})
	assert.Equal(t, 40, MinGPUMemoryGb("someone/unknown-model", &weights, nil))

	// 2B F16 = 4 GB; ×1.35 = 5.4 GB snaps to the 6 GB tier.
	small := WeightBytes(map[string]int64{"F16": 2_000_000_000})
	assert.Equal(t, 6, MinGPUMemoryGb("someone/small-model", &small, nil))
}

func TestWeightBytesDtypeTable(t *testing.T) {
	params := map[string]int64{
		"BF16":    10,
		"F32":     10,
		"F64":     10,
		"I8":      10,
		"F8_E4M3": 10,
	}
	// 20 + 40 + 80 + 10 + 10
	assert.Equal(t, int64(160), WeightBytes(params))

	// Unknown dtypes fall back to 4 bytes.
	assert.Equal(t, int64(40), WeightBytes(map[string]int64{"MYSTERY": 10}))
}

func TestMinGPUMemoryFromParamCount(t *testing.T) {
	assert.Equal(t, 6, MinGPUMemoryGb("x/y", nil, i64(400)))
	assert.Equal(t, 16, MinGPUMemoryGb("x/y", nil, i64(7_000)))
	assert.Equal(t, 24, MinGPUMemoryGb("x/y", nil, i64(12_000)))
	assert.Equal(t, 80, MinGPUMemoryGb("x/y", nil, i64(100_000)))
}

func TestMinGPUMemoryDefault(t *testing.T) {
	assert.Equal(t, 16, MinGPUMemoryGb("someone/totally-unknown", nil, nil))
}

func TestSnapAlwaysCoversEstimate(t *testing.T) {
	// Snapping must round up, never down.
	weights := int64(17 << 30) // 17 GB weights -> 22.95 GB with headroom
	assert.Equal(t, 24, MinGPUMemoryGb("x/y", &weights, nil))
}

func TestSupportsTask(t *testing.T) {
	assert.True(t, SupportsTask("stabilityai/sdxl-turbo", "image2img"))
	assert.False(t, SupportsTask("black-forest-labs/FLUX.1-schnell", "text2video"))
	// Registry miss means "assume compatible".
	assert.True(t, SupportsTask("someone/unknown", "text2video"))
}
