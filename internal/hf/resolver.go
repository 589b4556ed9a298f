package hf

import (
	"fmt"
	"strings"
)

// ErrUnknownModel means a (provider, model_name) alias could not be resolved
// to a Hugging Face model ID.
type ErrUnknownModel struct {
	ModelName string
	Provider  string
}

func (e ErrUnknownModel) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("unknown model: %s.%s", e.Provider, e.ModelName)
	}
	return fmt.Sprintf("unknown model: %s", e.ModelName)
}

type aliasKey struct {
	provider string // empty string is the provider-agnostic fallback row
	name     string
}

// Alias table: short names handed out by external catalogs, mapped to the
// HF repository that actually serves them.
var aliasTable = map[aliasKey]string{
	{"fal", "veo3"}: "black-forest-labs/FLUX.1-schnell",
	{"fal", "veo2"}: "black-forest-labs/FLUX.1-schnell",

	{"", "veo3"}:         "black-forest-labs/FLUX.1-schnell",
	{"", "flux-schnell"}: "black-forest-labs/FLUX.1-schnell",
	{"", "flux-dev"}:     "black-forest-labs/FLUX.1-dev",
	{"", "sdxl-turbo"}:   "stabilityai/sdxl-turbo",
}

// ResolveAlias maps (model_name, provider) to an HF model ID. Lookup tries
// the provider-scoped row first, then the provider-agnostic one.
func ResolveAlias(modelName, provider string) (string, error) {
	name := strings.TrimSpace(modelName)
	if name == "" {
		return "", ErrUnknownModel{ModelName: modelName, Provider: provider}
	}
	prov := strings.ToLower(strings.TrimSpace(provider))
	for _, p := range []string{prov, ""} {
		if id, ok := aliasTable[aliasKey{p, name}]; ok {
			return id, nil
		}
	}
	return "", ErrUnknownModel{ModelName: name, Provider: provider}
}
