package hf

// ModelSpec is a curated entry: minimum GPU memory to run the model without
// OOM (weights + activations + overhead), and the tasks it supports.
type ModelSpec struct {
	GPUMemoryGb int
	Tasks       []string
}

// Curated registry. These values are measured, not derived, so they always
// win over the dtype estimator.
var modelSpecs = map[string]ModelSpec{
	// Flux family
	"black-forest-labs/FLUX.1-schnell": {GPUMemoryGb: 16, Tasks: []string{"text2img"}},
	"black-forest-labs/FLUX.1-dev":     {GPUMemoryGb: 28, Tasks: []string{"text2img"}},

	// SDXL family
	"stabilityai/stable-diffusion-xl-base-1.0": {GPUMemoryGb: 12, Tasks: []string{"text2img", "image2img"}},
	"stabilityai/sdxl-turbo":                   {GPUMemoryGb: 10, Tasks: []string{"text2img", "image2img"}},

	// SD-Turbo / SD 2.x / SD 1.x
	"stabilityai/sd-turbo":              {GPUMemoryGb: 8, Tasks: []string{"text2img", "image2img"}},
	"stabilityai/stable-diffusion-2-1":  {GPUMemoryGb: 8, Tasks: []string{"text2img", "image2img"}},
	"runwayml/stable-diffusion-v1-5":    {GPUMemoryGb: 6, Tasks: []string{"text2img", "image2img"}},

	// SD 3.x
	"stabilityai/stable-diffusion-3-medium-diffusers": {GPUMemoryGb: 18, Tasks: []string{"text2img"}},
	"stabilityai/stable-diffusion-3.5-large":          {GPUMemoryGb: 40, Tasks: []string{"text2img"}},
	"stabilityai/stable-diffusion-3.5-large-turbo":    {GPUMemoryGb: 40, Tasks: []string{"text2img"}},
	"stabilityai/stable-diffusion-3.5-medium":         {GPUMemoryGb: 18, Tasks: []string{"text2img"}},

	// PixArt
	"PixArt-alpha/PixArt-Sigma-XL-2-1024-MS": {GPUMemoryGb: 18, Tasks: []string{"text2img"}},

	// Kandinsky
	"kandinsky-community/kandinsky-2-2-decoder": {GPUMemoryGb: 10, Tasks: []string{"text2img", "image2img"}},

	// IF (DeepFloyd)
	"DeepFloyd/IF-I-XL-v1.0": {GPUMemoryGb: 40, Tasks: []string{"text2img"}},

	// Wan video
	"Wan-AI/Wan2.1-T2V-14B-Diffusers":  {GPUMemoryGb: 80, Tasks: []string{"text2video"}},
	"Wan-AI/Wan2.1-T2V-1.3B-Diffusers": {GPUMemoryGb: 16, Tasks: []string{"text2video"}},

	// CogVideoX
	"THUDM/CogVideoX-5b": {GPUMemoryGb: 48, Tasks: []string{"text2video"}},
}

// bytesPerParam maps safetensors dtype names to bytes per parameter.
var bytesPerParam = map[string]int64{
	"BF16": 2, "F16": 2,
	"F32": 4, "F64": 8,
	"I8": 1, "U8": 1,
	"I16": 2, "U16": 2,
	"I32": 4, "U32": 4,
	"I64": 8, "U64": 8,
	"F8_E4M3": 1, "F8_E5M2": 1,
}

// GPU memory tiers VRAM estimates snap up to. Matches the card sizes the
// selector can actually allocate.
var memoryTiers = []int{6, 8, 10, 12, 16, 24, 28, 40, 48, 80}

// Activation and framework headroom on top of raw weight bytes.
const headroomFactor = 1.35

// Parameter-count → minimum GPU memory table, for models where HF metadata
// only exposes a total count.
var paramToVRAM = []struct {
	maxParamsMillions int64
	vramGb            int
}{
	{500, 6},
	{1_000, 8},
	{3_000, 12},
	{7_000, 16},
	{13_000, 24},
	{30_000, 40},
	{70_000, 80},
}

const defaultVRAMGb = 16 // safer than 12: avoids wasting a cold start on OOM

// Spec returns the curated entry for a model, if any.
func Spec(modelID string) (ModelSpec, bool) {
	spec, ok := modelSpecs[modelID]
	return spec, ok
}

// SupportsTask reports whether the model can serve the given task. Models
// outside the curated registry are assumed compatible.
func SupportsTask(modelID, task string) bool {
	spec, ok := modelSpecs[modelID]
	if !ok {
		return true
	}
	tasks := spec.Tasks
	if len(tasks) == 0 {
		tasks = []string{"text2img"}
	}
	for _, t := range tasks {
		if t == task {
			return true
		}
	}
	return false
}

func snapToTier(gb float64) int {
	for _, tier := range memoryTiers {
		if gb <= float64(tier) {
			return tier
		}
	}
	return memoryTiers[len(memoryTiers)-1]
}

// estimateFromWeightBytes converts dtype-aware weight bytes into a minimum
// GPU memory figure, with headroom, snapped up to the nearest card tier.
func estimateFromWeightBytes(totalBytes int64) int {
	gb := float64(totalBytes) * headroomFactor / (1 << 30)
	return snapToTier(gb)
}

// WeightBytes sums safetensors per-dtype parameter counts into total bytes.
// Unknown dtypes count 4 bytes, the conservative choice.
func WeightBytes(parameters map[string]int64) int64 {
	var total int64
	for dtype, count := range parameters {
		bytes, ok := bytesPerParam[dtype]
		if !ok {
			bytes = 4
		}
		total += count * bytes
	}
	return total
}

func estimateFromParams(paramsMillions int64) int {
	for _, row := range paramToVRAM {
		if paramsMillions <= row.maxParamsMillions {
			return row.vramGb
		}
	}
	return 80 // >70B parameters is H100 territory
}

// MinGPUMemoryGb computes minimum GPU memory for a model in GB.
//
// Priority: curated registry, then dtype-aware weight bytes, then raw
// parameter count, then a conservative default.
func MinGPUMemoryGb(modelID string, weightBytes, paramsMillions *int64) int {
	if spec, ok := modelSpecs[modelID]; ok {
		return spec.GPUMemoryGb
	}
	if weightBytes != nil && *weightBytes > 0 {
		return estimateFromWeightBytes(*weightBytes)
	}
	if paramsMillions != nil && *paramsMillions > 0 {
		return estimateFromParams(*paramsMillions)
	}
	return defaultVRAMGb
}
