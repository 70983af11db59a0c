// Package pricing turns normalized token usage into vendor cost and credit
// debits. Monetary amounts are int64 micro-USD and credits are int64
// micro-credits, with one credit equivalent to one USD; rate tables store
// micro-USD per one million tokens.
package pricing

import "strings"

// Category identifies a billable token category.
type Category string

// Billable token categories.
const (
	CategoryInput        Category = "input"
	CategoryOutput       Category = "output"
	CategoryImage        Category = "image"
	CategoryCacheWrite   Category = "cache_write"
	CategoryCacheRead    Category = "cache_read"
	CategoryCachedPrompt Category = "cached_prompt"
)

// RateTable holds one provider's unit prices in micro-USD per 1M tokens.
// Cache billing multipliers are baked into the table values: a provider that
// bills cache writes at 1.25x base input carries that as a literal rate, so
// the calculator never branches on provider identity.
type RateTable struct {
	ProviderID string
	Rates      map[Category]int64
}

// Rate returns the unit price for a category, 0 when the provider does not
// bill it.
func (t *RateTable) Rate(category Category) int64 {
	if t == nil {
		return 0
	}
	return t.Rates[category]
}

// RateRegistry resolves rate tables by provider identity, with optional
// per-model overrides. Loaded once at process start, read-only afterwards.
type RateRegistry struct {
	providers map[string]*RateTable
	models    map[string]*RateTable
}

// NewRateRegistry returns a registry seeded with the built-in tables.
func NewRateRegistry() *RateRegistry {
	r := &RateRegistry{
		providers: make(map[string]*RateTable),
		models:    make(map[string]*RateTable),
	}
	for _, table := range builtinRateTables() {
		r.Register(table)
	}
	return r
}

// Register installs a provider-wide rate table.
func (r *RateRegistry) Register(table RateTable) {
	name := normalizeKey(table.ProviderID)
	if name == "" {
		return
	}
	copied := table
	copied.ProviderID = name
	r.providers[name] = &copied
}

// RegisterModel installs a model-specific override for a provider.
func (r *RateRegistry) RegisterModel(providerID, modelID string, table RateTable) {
	provider := normalizeKey(providerID)
	model := strings.TrimSpace(modelID)
	if provider == "" || model == "" {
		return
	}
	copied := table
	copied.ProviderID = provider
	r.models[provider+"/"+model] = &copied
}

// Lookup resolves the rate table for a provider/model pair: a model override
// wins over the provider-wide table; nil when the provider is unknown.
func (r *RateRegistry) Lookup(providerID, modelID string) *RateTable {
	provider := normalizeKey(providerID)
	if model := strings.TrimSpace(modelID); model != "" {
		if table, ok := r.models[provider+"/"+model]; ok {
			return table
		}
	}
	return r.providers[provider]
}

func normalizeKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// builtinRateTables returns default per-provider pricing. Values are
// micro-USD per 1M tokens; cache multipliers follow each vendor's published
// discount structure (anthropic: cache write 1.25x and cache read 0.1x of
// base input; openai: cached prompt tokens at 0.5x; gemini: cached content
// at 0.25x).
func builtinRateTables() []RateTable {
	return []RateTable{
		{
			ProviderID: "anthropic",
			Rates: map[Category]int64{
				CategoryInput:      3_000_000,
				CategoryOutput:     15_000_000,
				CategoryCacheWrite: 3_750_000,
				CategoryCacheRead:  300_000,
			},
		},
		{
			ProviderID: "openai",
			Rates: map[Category]int64{
				CategoryInput:        2_500_000,
				CategoryOutput:       10_000_000,
				CategoryCachedPrompt: 1_250_000,
				CategoryImage:        2_500_000,
			},
		},
		{
			ProviderID: "gemini",
			Rates: map[Category]int64{
				CategoryInput:        1_250_000,
				CategoryOutput:       5_000_000,
				CategoryCachedPrompt: 312_500,
				CategoryImage:        1_250_000,
			},
		},
	}
}
