// Package tokenusage extracts normalized token counts from raw provider
// responses. Each provider registers an extraction strategy; adding a
// provider means registering an implementation, not editing a conditional.
package tokenusage

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupportedProvider reports that no extractor is registered for a
// provider identity.
var ErrUnsupportedProvider = errors.New("tokenusage: unsupported provider")

// Usage holds normalized token counts extracted from one provider response.
// Counts the provider did not report default to zero.
type Usage struct {
	InputTokens       int64
	OutputTokens      int64
	CachedInputTokens int64
	TotalTokens       int64

	// Provider-specific cache categories, nil when the provider has no such
	// concept. These feed the cache-discount pricing categories.
	CacheCreationTokens *int64
	CacheReadTokens     *int64
	CachedPromptTokens  *int64
}

// Extractor parses one provider's raw response shape into normalized usage.
// Implementations must be pure: no side effects, and identical input always
// yields identical output.
type Extractor interface {
	Extract(raw json.RawMessage) (Usage, error)
}

// ExtractorFunc adapts a function to the Extractor interface.
type ExtractorFunc func(raw json.RawMessage) (Usage, error)

// Extract implements Extractor.
func (f ExtractorFunc) Extract(raw json.RawMessage) (Usage, error) { return f(raw) }

// Parser dispatches raw responses to per-provider extraction strategies.
type Parser struct {
	extractors map[string]Extractor
}

// NewParser returns a parser with the built-in provider strategies
// registered.
func NewParser() *Parser {
	p := &Parser{extractors: make(map[string]Extractor)}
	p.Register("openai", ExtractorFunc(extractOpenAI))
	p.Register("anthropic", ExtractorFunc(extractAnthropic))
	p.Register("gemini", ExtractorFunc(extractGemini))
	return p
}

// Register installs an extraction strategy for a provider identity.
func (p *Parser) Register(providerID string, extractor Extractor) {
	name := strings.ToLower(strings.TrimSpace(providerID))
	if name == "" || extractor == nil {
		return
	}
	p.extractors[name] = extractor
}

// ParseTokenUsage extracts normalized token counts from a raw response.
// An unregistered provider fails with ErrUnsupportedProvider.
func (p *Parser) ParseTokenUsage(raw json.RawMessage, providerID string) (Usage, error) {
	extractor, ok := p.extractors[strings.ToLower(strings.TrimSpace(providerID))]
	if !ok {
		return Usage{}, fmt.Errorf("%w: %s", ErrUnsupportedProvider, providerID)
	}
	return extractor.Extract(raw)
}
