package gpu

import (
	"fmt"
	"sort"
	"strings"
)

// Spec describes one provider GPU type.
type Spec struct {
	ID        string `json:"id"`
	Display   string `json:"display_name"`
	VRAMGb    int    `json:"vram_gb"`
	CostIndex int    `json:"cost_index"` // 1 (cheapest) to 10 (most expensive)
}

// ErrInsufficientGPU means no registry entry can fit the required VRAM.
type ErrInsufficientGPU struct {
	RequiredGb int
}

func (e ErrInsufficientGPU) Error() string {
	return fmt.Sprintf("no GPU with sufficient VRAM (required >= %d GB)", e.RequiredGb)
}

// Registry is an immutable snapshot of GPU types plus the tier-name mapping.
// Selection reads never mutate it, so a snapshot can be shared freely.
type Registry struct {
	specs []Spec
	tiers map[string][]string
}

// Default registry rows mirror the Runpod serverless pool. AMPERE_16 (A16)
// is gone from the serverless fleet, so the cheapest card is the 24 GB A10.
func defaultSpecs() []Spec {
	return []Spec{
		{ID: "AMPERE_24", Display: "NVIDIA A10 / A30", VRAMGb: 24, CostIndex: 2},
		{ID: "ADA_24", Display: "NVIDIA L40 / RTX 4090", VRAMGb: 24, CostIndex: 3},
		{ID: "AMPERE_48", Display: "NVIDIA A40", VRAMGb: 48, CostIndex: 5},
		{ID: "ADA_48_PRO", Display: "NVIDIA L40S", VRAMGb: 48, CostIndex: 6},
		{ID: "AMPERE_80", Display: "NVIDIA A100", VRAMGb: 80, CostIndex: 8},
		{ID: "ADA_80_PRO", Display: "NVIDIA H100", VRAMGb: 80, CostIndex: 10},
	}
}

func defaultTiers() map[string][]string {
	return map[string][]string{
		"ECONOMY":  {"AMPERE_24"},
		"STANDARD": {"ADA_24", "AMPERE_24"},
		"PRO":      {"AMPERE_48", "ADA_48_PRO"},
		"ULTIMATE": {"AMPERE_80", "ADA_80_PRO"},
		"A10":      {"AMPERE_24"},
		"A40":      {"AMPERE_48"},
		"A100":     {"AMPERE_80"},
		"H100":     {"ADA_80_PRO"},
		"4090":     {"ADA_24"},
	}
}

// NewRegistry builds a registry from explicit rows; empty inputs fall back
// to the compiled-in defaults.
func NewRegistry(specs []Spec, tiers map[string][]string) *Registry {
	if len(specs) == 0 {
		specs = defaultSpecs()
	}
	if len(tiers) == 0 {
		tiers = defaultTiers()
	}
	sorted := make([]Spec, len(specs))
	copy(sorted, specs)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].CostIndex != sorted[j].CostIndex {
			return sorted[i].CostIndex < sorted[j].CostIndex
		}
		return sorted[i].VRAMGb < sorted[j].VRAMGb
	})
	return &Registry{specs: sorted, tiers: tiers}
}

// DefaultRegistry returns the static registry.
func DefaultRegistry() *Registry {
	return NewRegistry(nil, nil)
}

// Candidates returns GPU types able to hold requiredGb, cheapest first.
// Entries matching the requested tier come before the tier-agnostic
// fallback pass; ties break on narrowest VRAM fit.
func (r *Registry) Candidates(requiredGb int, tier string) ([]Spec, error) {
	var tierIDs map[string]bool
	if tier != "" {
		normalized := strings.ToUpper(strings.TrimSpace(tier))
		if ids, ok := r.tiers[normalized]; ok {
			tierIDs = make(map[string]bool, len(ids))
			for _, id := range ids {
				tierIDs[id] = true
			}
		}
	}

	var out []Spec
	seen := make(map[string]bool)

	if len(tierIDs) > 0 {
		for _, spec := range r.specs {
			if tierIDs[spec.ID] && spec.VRAMGb >= requiredGb {
				out = append(out, spec)
				seen[spec.ID] = true
			}
		}
	}
	for _, spec := range r.specs {
		if !seen[spec.ID] && spec.VRAMGb >= requiredGb {
			out = append(out, spec)
		}
	}

	if len(out) == 0 {
		return nil, ErrInsufficientGPU{RequiredGb: requiredGb}
	}
	return out, nil
}

// Display resolves a GPU type ID to its display name.
func (r *Registry) Display(id string) string {
	for _, spec := range r.specs {
		if spec.ID == id {
			return spec.Display
		}
	}
	return "NVIDIA " + id
}
