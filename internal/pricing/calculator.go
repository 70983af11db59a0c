package pricing

import (
	"errors"
	"fmt"

	"github.com/rephlo/token-ledger/internal/tokenusage"
)

// ErrInvalidUsage rejects usage with negative token counts.
var ErrInvalidUsage = errors.New("pricing: invalid usage")

// ErrInvalidPolicy rejects a policy with no rate table or a negative margin.
var ErrInvalidPolicy = errors.New("pricing: invalid policy")

// tokensPerRateUnit is the denominator of rate table values.
const tokensPerRateUnit = 1_000_000

// DefaultCreditUnitMicros is one hundredth of a credit, the smallest amount
// a user can be charged.
const DefaultCreditUnitMicros = 10_000

// Usage is the calculator's view of one request's billable token counts.
// CachedPromptTokens are a subset of InputTokens (openai reporting style);
// CacheCreationTokens and CacheReadTokens are separate categories on top of
// InputTokens (anthropic reporting style).
type Usage struct {
	InputTokens         int64
	OutputTokens        int64
	ImageTokens         int64
	CacheCreationTokens int64
	CacheReadTokens     int64
	CachedPromptTokens  int64
}

// FromParsed converts normalized parser output into calculator usage.
func FromParsed(u tokenusage.Usage) Usage {
	out := Usage{
		InputTokens:  u.InputTokens,
		OutputTokens: u.OutputTokens,
	}
	if u.CacheCreationTokens != nil {
		out.CacheCreationTokens = *u.CacheCreationTokens
	}
	if u.CacheReadTokens != nil {
		out.CacheReadTokens = *u.CacheReadTokens
	}
	if u.CachedPromptTokens != nil {
		out.CachedPromptTokens = *u.CachedPromptTokens
	}
	return out
}

// Policy combines a provider rate table with the credit conversion rules.
type Policy struct {
	Rates *RateTable

	// MarginMultiplier converts vendor cost into the credit amount charged.
	MarginMultiplier float64

	// CreditUnitMicros is the granularity the debit is rounded to,
	// round-half-up. Zero means DefaultCreditUnitMicros.
	CreditUnitMicros int64
}

// Cost is the full economic breakdown for one request.
type Cost struct {
	VendorCostMicros  int64   // Vendor cost in micro-USD.
	CreditsDeducted   int64   // Debit in micro-credits, rounded to the credit unit.
	MarginMultiplier  float64 // Factor used for the conversion.
	GrossMarginMicros int64   // CreditsDeducted minus the credit equivalent of vendor cost.

	InputCredits  int64 // Input-side share of the debit, by token proportion.
	OutputCredits int64 // Output-side share of the debit.

	CacheWriteCredits int64 // Credits attributable to cache-write tokens.
	CacheReadCredits  int64 // Credits attributable to cache-read and cached-prompt tokens.

	CacheHitRate       float64 // Cache-served fraction of prompt tokens.
	CostSavingsPercent float64 // Vendor cost saved by cache discounts, percent.
}

// ComputeCost prices normalized usage under a policy. It is a pure function:
// identical usage and policy always produce an identical breakdown. Zero
// usage yields a zero cost with no error; negative counts fail with
// ErrInvalidUsage.
func ComputeCost(usage Usage, policy Policy) (Cost, error) {
	if errValidate := validateUsage(usage); errValidate != nil {
		return Cost{}, errValidate
	}
	if policy.Rates == nil {
		return Cost{}, fmt.Errorf("%w: nil rate table", ErrInvalidPolicy)
	}
	if policy.MarginMultiplier < 0 {
		return Cost{}, fmt.Errorf("%w: negative margin multiplier", ErrInvalidPolicy)
	}
	creditUnit := policy.CreditUnitMicros
	if creditUnit <= 0 {
		creditUnit = DefaultCreditUnitMicros
	}

	// Cached prompt tokens are billed at the discounted rate, so they come
	// out of the full-price input count to avoid double billing.
	billableInput := usage.InputTokens
	if usage.CachedPromptTokens > 0 && usage.CachedPromptTokens <= billableInput {
		billableInput -= usage.CachedPromptTokens
	}

	inputCost := categoryCost(policy.Rates, CategoryInput, billableInput)
	outputCost := categoryCost(policy.Rates, CategoryOutput, usage.OutputTokens)
	imageCost := categoryCost(policy.Rates, CategoryImage, usage.ImageTokens)
	cacheWriteCost := categoryCost(policy.Rates, CategoryCacheWrite, usage.CacheCreationTokens)
	cacheReadCost := categoryCost(policy.Rates, CategoryCacheRead, usage.CacheReadTokens)
	cachedPromptCost := categoryCost(policy.Rates, CategoryCachedPrompt, usage.CachedPromptTokens)

	vendorCost := inputCost + outputCost + imageCost + cacheWriteCost + cacheReadCost + cachedPromptCost

	credits := roundHalfUpToUnit(applyMargin(vendorCost, policy.MarginMultiplier), creditUnit)

	out := Cost{
		VendorCostMicros:  vendorCost,
		CreditsDeducted:   credits,
		MarginMultiplier:  policy.MarginMultiplier,
		GrossMarginMicros: credits - vendorCost,
		CacheWriteCredits: roundHalfUpToUnit(applyMargin(cacheWriteCost, policy.MarginMultiplier), creditUnit),
		CacheReadCredits:  roundHalfUpToUnit(applyMargin(cacheReadCost+cachedPromptCost, policy.MarginMultiplier), creditUnit),
	}

	// Split the debit proportionally to each side's token share when both
	// sides are present; the remainder lands on the output side.
	if usage.InputTokens > 0 && usage.OutputTokens > 0 {
		totalSides := usage.InputTokens + usage.OutputTokens
		out.InputCredits = mulDiv(credits, usage.InputTokens, totalSides)
		out.OutputCredits = credits - out.InputCredits
	}

	out.CacheHitRate = cacheHitRate(usage)
	out.CostSavingsPercent = costSavingsPercent(policy.Rates, usage, vendorCost)

	return out, nil
}

func validateUsage(usage Usage) error {
	counts := []struct {
		name  string
		value int64
	}{
		{"input tokens", usage.InputTokens},
		{"output tokens", usage.OutputTokens},
		{"image tokens", usage.ImageTokens},
		{"cache creation tokens", usage.CacheCreationTokens},
		{"cache read tokens", usage.CacheReadTokens},
		{"cached prompt tokens", usage.CachedPromptTokens},
	}
	for _, c := range counts {
		if c.value < 0 {
			return fmt.Errorf("%w: negative %s (%d)", ErrInvalidUsage, c.name, c.value)
		}
	}
	return nil
}

// categoryCost bills tokens at the table rate, round-half-up to the micro.
func categoryCost(rates *RateTable, category Category, tokens int64) int64 {
	if tokens <= 0 {
		return 0
	}
	rate := rates.Rate(category)
	if rate <= 0 {
		return 0
	}
	return mulDivRoundHalfUp(rate, tokens, tokensPerRateUnit)
}

// applyMargin scales micros by the margin multiplier, round-half-up.
func applyMargin(micros int64, margin float64) int64 {
	if micros <= 0 {
		return 0
	}
	return int64(float64(micros)*margin + 0.5)
}

// roundHalfUpToUnit rounds micros to the nearest multiple of unit, half up.
func roundHalfUpToUnit(micros, unit int64) int64 {
	if unit <= 1 {
		return micros
	}
	return (micros + unit/2) / unit * unit
}

// mulDiv computes value*num/den in integer math, truncating.
func mulDiv(value, num, den int64) int64 {
	if den == 0 {
		return 0
	}
	return value * num / den
}

// mulDivRoundHalfUp computes a*b/den rounded half up.
func mulDivRoundHalfUp(a, b, den int64) int64 {
	if den == 0 {
		return 0
	}
	return (a*b + den/2) / den
}

// cacheHitRate is the cache-served fraction of all prompt-side tokens.
func cacheHitRate(usage Usage) float64 {
	cached := usage.CacheReadTokens + usage.CachedPromptTokens
	promptTotal := usage.InputTokens + usage.CacheReadTokens + usage.CacheCreationTokens
	if usage.CachedPromptTokens > 0 && usage.CachedPromptTokens <= usage.InputTokens {
		// openai style reports cached tokens inside InputTokens.
		promptTotal = usage.InputTokens
	}
	if promptTotal <= 0 || cached <= 0 {
		return 0
	}
	return float64(cached) / float64(promptTotal)
}

// costSavingsPercent compares the actual vendor cost against billing every
// cache-discounted token at the full input rate.
func costSavingsPercent(rates *RateTable, usage Usage, actualCost int64) float64 {
	discounted := usage.CacheReadTokens + usage.CachedPromptTokens
	if discounted <= 0 {
		return 0
	}
	fullPrice := actualCost -
		categoryCost(rates, CategoryCacheRead, usage.CacheReadTokens) -
		categoryCost(rates, CategoryCachedPrompt, usage.CachedPromptTokens) +
		categoryCost(rates, CategoryInput, discounted)
	if fullPrice <= 0 || fullPrice <= actualCost {
		return 0
	}
	return float64(fullPrice-actualCost) / float64(fullPrice) * 100
}
