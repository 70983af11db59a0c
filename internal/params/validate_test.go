package params

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateRejectsTemperatureAboveMax(t *testing.T) {
	registry := NewRegistry()
	spec, errResolve := registry.ResolveFamily("openai", "gpt-4o")
	require.NoError(t, errResolve)

	_, errValidate := ValidateAndTransform(map[string]any{"temperature": 3.0}, spec)

	var validationErr *ValidationError
	require.ErrorAs(t, errValidate, &validationErr)
	assert.Equal(t, "temperature", validationErr.Parameter)
	assert.Contains(t, validationErr.Message, "maximum of 2")
}

func TestValidateAllowListRejectsNonMember(t *testing.T) {
	registry := NewRegistry()
	spec, errResolve := registry.ResolveFamily("openai", "o1-preview")
	require.NoError(t, errResolve)

	_, errValidate := ValidateAndTransform(map[string]any{"temperature": 0.5}, spec)
	var validationErr *ValidationError
	require.ErrorAs(t, errValidate, &validationErr)
	assert.Contains(t, validationErr.Message, "allowed set")

	out, errAccept := ValidateAndTransform(map[string]any{"temperature": 1.0}, spec)
	require.NoError(t, errAccept)
	assert.Equal(t, 1.0, out["temperature"])
}

func TestValidateAllowListAcceptsIntegerForFloatMember(t *testing.T) {
	registry := NewRegistry()
	spec, errResolve := registry.ResolveFamily("openai", "gpt-5")
	require.NoError(t, errResolve)

	out, errValidate := ValidateAndTransform(map[string]any{"temperature": 1}, spec)
	require.NoError(t, errValidate)
	assert.Equal(t, 1, out["temperature"])
}

func TestValidateRejectsUnsupportedParameterWithReason(t *testing.T) {
	registry := NewRegistry()
	spec, errResolve := registry.ResolveFamily("anthropic", "claude-sonnet-4")
	require.NoError(t, errResolve)

	_, errValidate := ValidateAndTransform(map[string]any{"n": 2}, spec)

	var unsupportedErr *UnsupportedParameterError
	require.ErrorAs(t, errValidate, &unsupportedErr)
	assert.Equal(t, "n", unsupportedErr.Parameter)
	assert.Contains(t, unsupportedErr.Reason, "single completion")
}

func TestValidateAppliesAlternativeName(t *testing.T) {
	registry := NewRegistry()
	spec, errResolve := registry.ResolveFamily("openai", "o3-mini")
	require.NoError(t, errResolve)

	out, errValidate := ValidateAndTransform(map[string]any{"max_tokens": 1024}, spec)
	require.NoError(t, errValidate)

	assert.NotContains(t, out, "max_tokens")
	assert.Equal(t, 1024, out["max_completion_tokens"])
}

func TestValidateFillsDeclaredDefaults(t *testing.T) {
	registry := NewRegistry()
	spec, errResolve := registry.ResolveFamily("anthropic", "claude-opus-4")
	require.NoError(t, errResolve)

	out, errValidate := ValidateAndTransform(map[string]any{"temperature": 0.7}, spec)
	require.NoError(t, errValidate)

	assert.Equal(t, 0.7, out["temperature"])
	assert.Equal(t, 4096, out["max_tokens"])
}

func TestValidateDoesNotMutateInput(t *testing.T) {
	registry := NewRegistry()
	spec, errResolve := registry.ResolveFamily("openai", "o1-mini")
	require.NoError(t, errResolve)

	requested := map[string]any{"max_tokens": 256}
	_, errValidate := ValidateAndTransform(requested, spec)
	require.NoError(t, errValidate)

	assert.Equal(t, map[string]any{"max_tokens": 256}, requested)
}

func TestValidatePassesThroughUnconstrainedParameters(t *testing.T) {
	registry := NewRegistry()
	spec, errResolve := registry.ResolveFamily("openai", "gpt-4o-mini")
	require.NoError(t, errResolve)

	out, errValidate := ValidateAndTransform(map[string]any{"user": "acct-9"}, spec)
	require.NoError(t, errValidate)
	assert.Equal(t, "acct-9", out["user"])
}

func TestResolveFamilyUnknownModelFallsBackToBaseSpec(t *testing.T) {
	registry := NewRegistry()

	_, errResolve := registry.ResolveFamily("openai", "davinci-002")
	require.True(t, errors.Is(errResolve, ErrUnknownModelFamily))

	base, errBase := registry.BaseSpec("openai")
	require.NoError(t, errBase)

	_, errValidate := ValidateAndTransform(map[string]any{"temperature": 1.5}, base)
	assert.NoError(t, errValidate)
}

func TestResolveFamilyUnknownProvider(t *testing.T) {
	registry := NewRegistry()
	_, errResolve := registry.ResolveFamily("mistral", "mistral-large")
	assert.True(t, errors.Is(errResolve, ErrUnknownProvider))
}

func TestResolveFamilyFirstMatchWins(t *testing.T) {
	registry := NewRegistry()
	registry.Register(ProviderSpec{
		ProviderName: "openai",
		Families: []ModelFamilySpec{
			{FamilyName: "first", Match: []string{"gpt-4*"}},
			{FamilyName: "second", Match: []string{"gpt-4o*"}},
		},
	})

	// Both matchers claim gpt-4o; registration order decides.
	spec, errResolve := registry.ResolveFamily("openai", "gpt-4o")
	require.NoError(t, errResolve)
	assert.Equal(t, "first", spec.FamilyName)
}
