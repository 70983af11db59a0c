package params

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Registry resolves provider and model-family specs. It is populated once at
// process start and read-only afterwards; no locking is required.
type Registry struct {
	providers map[string]*ProviderSpec
}

// NewRegistry returns a registry seeded with the built-in provider specs.
func NewRegistry() *Registry {
	r := &Registry{providers: make(map[string]*ProviderSpec)}
	for _, spec := range builtinProviderSpecs() {
		r.Register(spec)
	}
	return r
}

// Register installs or replaces a provider spec. Later registrations for the
// same provider win, which is how YAML overlays override the built-ins.
func (r *Registry) Register(spec ProviderSpec) {
	name := normalizeProviderName(spec.ProviderName)
	if name == "" {
		return
	}
	copied := spec
	copied.ProviderName = name
	r.providers[name] = &copied
}

// Provider returns the spec registered for a provider.
func (r *Registry) Provider(providerID string) (*ProviderSpec, error) {
	spec, ok := r.providers[normalizeProviderName(providerID)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, providerID)
	}
	return spec, nil
}

// ResolveFamily scans the provider's ordered family list and returns the
// first family whose matcher claims the model name. The returned spec has
// the provider's base parameters merged in under the family's overrides.
func (r *Registry) ResolveFamily(providerID, modelID string) (*ModelFamilySpec, error) {
	provider, errProvider := r.Provider(providerID)
	if errProvider != nil {
		return nil, errProvider
	}
	for i := range provider.Families {
		family := &provider.Families[i]
		if family.Matches(modelID) {
			return mergeFamilySpec(provider, family), nil
		}
	}
	return nil, fmt.Errorf("%w: provider %s model %s", ErrUnknownModelFamily, providerID, modelID)
}

// BaseSpec returns a synthetic family spec holding only the provider's base
// parameters. Callers use it as the fallback when ResolveFamily reports
// ErrUnknownModelFamily.
func (r *Registry) BaseSpec(providerID string) (*ModelFamilySpec, error) {
	provider, errProvider := r.Provider(providerID)
	if errProvider != nil {
		return nil, errProvider
	}
	merged := make(map[string]Constraint, len(provider.BaseParameters))
	for name, constraint := range provider.BaseParameters {
		merged[name] = constraint
	}
	return &ModelFamilySpec{
		FamilyName: provider.ProviderName + "-base",
		Parameters: merged,
	}, nil
}

// LoadSpecsFile reads provider spec overlays from a YAML file and registers
// them over the built-ins.
func (r *Registry) LoadSpecsFile(path string) error {
	data, errRead := os.ReadFile(path)
	if errRead != nil {
		return fmt.Errorf("params: read specs file: %w", errRead)
	}
	var file struct {
		Providers []ProviderSpec `yaml:"providers"`
	}
	if errUnmarshal := yaml.Unmarshal(data, &file); errUnmarshal != nil {
		return fmt.Errorf("params: parse specs file: %w", errUnmarshal)
	}
	for _, spec := range file.Providers {
		r.Register(spec)
	}
	return nil
}

func mergeFamilySpec(provider *ProviderSpec, family *ModelFamilySpec) *ModelFamilySpec {
	merged := make(map[string]Constraint, len(provider.BaseParameters)+len(family.Parameters))
	for name, constraint := range provider.BaseParameters {
		merged[name] = constraint
	}
	for name, constraint := range family.Parameters {
		merged[name] = constraint
	}
	out := *family
	out.Parameters = merged
	return &out
}

func normalizeProviderName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func floatPtr(v float64) *float64 { return &v }

// builtinProviderSpecs returns the default provider parameter specs. The
// constraints mirror each vendor's published API limits.
func builtinProviderSpecs() []ProviderSpec {
	return []ProviderSpec{
		{
			ProviderName: "openai",
			BaseParameters: map[string]Constraint{
				"temperature": {Supported: true, Min: floatPtr(0), Max: floatPtr(2)},
				"top_p":       {Supported: true, Min: floatPtr(0), Max: floatPtr(1)},
				"max_tokens":  {Supported: true, Min: floatPtr(1)},
				"n":           {Supported: true, Min: floatPtr(1), Max: floatPtr(8), Default: 1},
			},
			Families: []ModelFamilySpec{
				{
					FamilyName: "openai-reasoning",
					Match:      []string{"o1*", "o3*", "o4*", "gpt-5*"},
					APIVersion: "2024-12-01",
					Parameters: map[string]Constraint{
						// Reasoning models pin sampling parameters server-side.
						"temperature": {
							Supported:     true,
							AllowedValues: []any{1.0},
							Reason:        "reasoning models only support the default temperature of 1",
						},
						"top_p": {
							Supported: false,
							Reason:    "reasoning models do not accept top_p",
						},
						"max_tokens": {
							Supported:       true,
							Min:             floatPtr(1),
							AlternativeName: "max_completion_tokens",
							Reason:          "reasoning models use max_completion_tokens on the wire",
						},
					},
				},
				{
					FamilyName: "openai-chat",
					Match:      []string{"gpt-4*", "gpt-3.5*", "chatgpt*"},
					Parameters: map[string]Constraint{
						"temperature": {Supported: true, Min: floatPtr(0), Max: floatPtr(2), Default: 1.0},
					},
				},
			},
		},
		{
			ProviderName: "anthropic",
			BaseParameters: map[string]Constraint{
				"temperature": {Supported: true, Min: floatPtr(0), Max: floatPtr(1)},
				"top_p":       {Supported: true, Min: floatPtr(0), Max: floatPtr(1)},
				"top_k":       {Supported: true, Min: floatPtr(0)},
				"max_tokens":  {Supported: true, Min: floatPtr(1), Default: 4096},
			},
			Families: []ModelFamilySpec{
				{
					FamilyName: "claude",
					Match:      []string{"claude-*"},
					APIVersion: "2023-06-01",
					Parameters: map[string]Constraint{
						"n": {
							Supported: false,
							Reason:    "the messages API returns a single completion",
						},
					},
				},
			},
		},
		{
			ProviderName: "gemini",
			BaseParameters: map[string]Constraint{
				"temperature":       {Supported: true, Min: floatPtr(0), Max: floatPtr(2), Default: 1.0},
				"top_p":             {Supported: true, Min: floatPtr(0), Max: floatPtr(1)},
				"top_k":             {Supported: true, Min: floatPtr(1)},
				"max_output_tokens": {Supported: true, Min: floatPtr(1)},
			},
			Families: []ModelFamilySpec{
				{
					FamilyName: "gemini-pro",
					Match:      []string{"gemini-*"},
					APIVersion: "v1beta",
					Parameters: map[string]Constraint{
						"max_tokens": {
							Supported:       true,
							Min:             floatPtr(1),
							AlternativeName: "max_output_tokens",
							Reason:          "gemini names the output cap max_output_tokens",
						},
					},
				},
			},
		},
	}
}
