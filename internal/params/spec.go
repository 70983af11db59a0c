package params

import (
	"errors"
	"fmt"
)

// ErrUnknownModelFamily reports that no family matcher claimed a model name.
// Callers fall back to the provider's base parameters.
var ErrUnknownModelFamily = errors.New("params: unknown model family")

// ErrUnknownProvider reports that a provider has no registered spec.
var ErrUnknownProvider = errors.New("params: unknown provider")

// UnsupportedParameterError rejects a parameter the family spec marks as
// unsupported, carrying the spec's documented reason.
type UnsupportedParameterError struct {
	Parameter string
	Reason    string
}

func (e *UnsupportedParameterError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("params: parameter %q is not supported: %s", e.Parameter, e.Reason)
	}
	return fmt.Sprintf("params: parameter %q is not supported", e.Parameter)
}

// ValidationError rejects a parameter value that violates its constraint.
// Message cites the violated bound or allow-list.
type ValidationError struct {
	Parameter string
	Message   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("params: invalid value for %q: %s", e.Parameter, e.Message)
}

// Constraint describes one parameter's validation and transformation rules.
type Constraint struct {
	// Supported gates the parameter entirely; unsupported parameters are
	// rejected with Reason before any provider call.
	Supported bool `yaml:"supported"`

	Min *float64 `yaml:"min,omitempty"` // Inclusive lower bound for numeric values.
	Max *float64 `yaml:"max,omitempty"` // Inclusive upper bound for numeric values.

	// AllowedValues is a discrete allow-list. A non-member is rejected, never
	// silently clamped, so the caller sees the documented reason.
	AllowedValues []any `yaml:"allowedValues,omitempty"`

	// Default fills the parameter when the caller omits it.
	Default any `yaml:"default,omitempty"`

	// AlternativeName renames the parameter for wire compatibility.
	AlternativeName string `yaml:"alternativeName,omitempty"`

	Reason     string `yaml:"reason,omitempty"`     // Operator-facing constraint rationale.
	APIVersion string `yaml:"apiVersion,omitempty"` // API version the constraint applies to.
}

// ModelFamilySpec constrains the parameters of one model family. Matchers
// are evaluated in order against the model name; a trailing '*' matches any
// suffix, anything else is an exact match.
type ModelFamilySpec struct {
	FamilyName string                `yaml:"familyName"`
	Match      []string              `yaml:"match"`
	APIVersion string                `yaml:"apiVersion,omitempty"`
	Parameters map[string]Constraint `yaml:"parameters"`
}

// Matches reports whether the family claims the given model name.
func (s *ModelFamilySpec) Matches(modelID string) bool {
	if s == nil {
		return false
	}
	for _, pattern := range s.Match {
		if matchModelName(pattern, modelID) {
			return true
		}
	}
	return false
}

// ProviderSpec holds a provider's base parameters and its ordered family
// list. The order is significant: resolution returns the first match.
type ProviderSpec struct {
	ProviderName   string                `yaml:"providerName"`
	BaseParameters map[string]Constraint `yaml:"baseParameters"`
	Families       []ModelFamilySpec     `yaml:"families"`
}

func matchModelName(pattern, modelID string) bool {
	if pattern == "" {
		return false
	}
	if pattern == "*" {
		return true
	}
	if pattern[len(pattern)-1] == '*' {
		prefix := pattern[:len(pattern)-1]
		return len(modelID) >= len(prefix) && modelID[:len(prefix)] == prefix
	}
	return pattern == modelID
}
