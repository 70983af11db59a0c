package app

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rephlo/token-ledger/internal/credit"
	"github.com/rephlo/token-ledger/internal/ledger"
	"github.com/rephlo/token-ledger/internal/models"
	"github.com/rephlo/token-ledger/internal/params"
	"github.com/rephlo/token-ledger/internal/pricing"
	"github.com/rephlo/token-ledger/internal/proration"
	"github.com/rephlo/token-ledger/internal/settings"
	"github.com/rephlo/token-ledger/internal/streaming"
	"github.com/rephlo/token-ledger/internal/tokenusage"
)

// Engine composes the usage pipeline: parameter validation, usage parsing,
// pricing, and ledger persistence. One Engine serves all users; per-request
// state lives in the arguments.
type Engine struct {
	Params   *params.Registry
	Parser   *tokenusage.Parser
	Rates    *pricing.RateRegistry
	Writer   *ledger.Writer
	Recorder *proration.Recorder
	Credits  credit.Service
}

// ValidateParameters resolves the model family for a provider/model pair and
// validates and transforms the requested parameters against it. Callers use
// the returned map as the outbound provider payload.
func (e *Engine) ValidateParameters(providerID, modelID string, requested map[string]any) (map[string]any, error) {
	family, errResolve := e.Params.ResolveFamily(providerID, modelID)
	if errResolve != nil {
		// Unknown family: the provider's base parameters still apply.
		base, errBase := e.Params.BaseSpec(providerID)
		if errBase != nil {
			return nil, errResolve
		}
		family = base
	}
	return params.ValidateAndTransform(requested, family)
}

// CompletionInput describes one finished non-streaming request.
type CompletionInput struct {
	RequestID   string
	UserID      uint64
	ProviderID  string
	ModelID     string
	RawResponse json.RawMessage
	StartedAt   time.Time
	CompletedAt time.Time
	Status      models.RequestStatus
	ErrorMsg    string
}

// ProcessCompletion parses the provider response, prices it, and appends the
// ledger record with its debit. Failed requests are recorded at zero cost.
func (e *Engine) ProcessCompletion(ctx context.Context, input CompletionInput) (*models.TokenUsageRecord, error) {
	parsed, errParse := e.Parser.ParseTokenUsage(input.RawResponse, input.ProviderID)
	if errParse != nil {
		return nil, errParse
	}

	record, errBuild := e.buildRecord(parsed, recordMeta{
		RequestID:   input.RequestID,
		UserID:      input.UserID,
		ProviderID:  input.ProviderID,
		ModelID:     input.ModelID,
		RequestType: models.RequestTypeCompletion,
		StartedAt:   input.StartedAt,
		CompletedAt: input.CompletedAt,
		Status:      input.Status,
		ErrorMsg:    input.ErrorMsg,
		Complete:    true,
	})
	if errBuild != nil {
		return nil, errBuild
	}
	if errRecord := e.Writer.RecordToLedger(ctx, record); errRecord != nil {
		return nil, errRecord
	}
	return record, nil
}

// StreamInput describes one in-flight streaming request.
type StreamInput struct {
	RequestID  string
	UserID     uint64
	ProviderID string
	ModelID    string
	Chunks     <-chan streaming.Chunk
}

// ProcessStream consumes the chunk stream to completion or cancellation,
// then prices and records whatever was accumulated. Cancelled streams are
// billed for the tokens already generated.
func (e *Engine) ProcessStream(ctx context.Context, input StreamInput) (*models.TokenUsageRecord, error) {
	aggregator := streaming.NewAggregator(input.RequestID)
	result := aggregator.Consume(ctx, input.Chunks)

	record, errBuild := e.buildRecord(result.Usage, recordMeta{
		RequestID:   result.RequestID,
		UserID:      input.UserID,
		ProviderID:  input.ProviderID,
		ModelID:     input.ModelID,
		RequestType: models.RequestTypeStreaming,
		StartedAt:   result.StartedAt,
		CompletedAt: result.EndedAt,
		Status:      result.Status,
		Complete:    result.Complete,
		Segments:    result.Segments,
	})
	if errBuild != nil {
		return nil, errBuild
	}

	// The stream is already torn down; persistence must not be interrupted
	// by the same cancellation that ended it.
	recordCtx := context.WithoutCancel(ctx)
	if errRecord := e.Writer.RecordToLedger(recordCtx, record); errRecord != nil {
		return nil, errRecord
	}
	return record, nil
}

type recordMeta struct {
	RequestID   string
	UserID      uint64
	ProviderID  string
	ModelID     string
	RequestType models.RequestType
	StartedAt   time.Time
	CompletedAt time.Time
	Status      models.RequestStatus
	ErrorMsg    string
	Complete    bool
	Segments    int64
}

// buildRecord prices parsed usage and assembles the ledger row. Failed
// requests carry their counts but zero cost.
func (e *Engine) buildRecord(parsed tokenusage.Usage, meta recordMeta) (*models.TokenUsageRecord, error) {
	record := &models.TokenUsageRecord{
		RequestID:           meta.RequestID,
		UserID:              meta.UserID,
		ProviderID:          meta.ProviderID,
		ModelID:             meta.ModelID,
		InputTokens:         parsed.InputTokens,
		OutputTokens:        parsed.OutputTokens,
		CachedInputTokens:   parsed.CachedInputTokens,
		TotalTokens:         parsed.TotalTokens,
		RequestType:         meta.RequestType,
		StreamingSegments:   meta.Segments,
		RequestStartedAt:    meta.StartedAt.UTC(),
		RequestCompletedAt:  meta.CompletedAt.UTC(),
		Status:              meta.Status,
		ErrorMessage:        meta.ErrorMsg,
		IsStreamingComplete: meta.Complete,
		MarginMultiplier:    1,
	}
	if !meta.CompletedAt.IsZero() && meta.CompletedAt.After(meta.StartedAt) {
		record.ProcessingTimeMs = meta.CompletedAt.Sub(meta.StartedAt).Milliseconds()
	}
	record.CacheCreationTokens = parsed.CacheCreationTokens
	record.CacheReadTokens = parsed.CacheReadTokens
	record.CachedPromptTokens = parsed.CachedPromptTokens

	if meta.Status == models.StatusFailed {
		return record, nil
	}

	policy := e.policyFor(meta.ProviderID, meta.ModelID)
	cost, errCost := pricing.ComputeCost(pricing.FromParsed(parsed), policy)
	if errCost != nil {
		return nil, errCost
	}

	record.VendorCostMicros = cost.VendorCostMicros
	record.CreditsDeducted = cost.CreditsDeducted
	record.MarginMultiplier = cost.MarginMultiplier
	record.GrossMarginMicros = cost.GrossMarginMicros
	if parsed.InputTokens > 0 && parsed.OutputTokens > 0 {
		record.InputCredits = &cost.InputCredits
		record.OutputCredits = &cost.OutputCredits
	}
	if cost.CacheWriteCredits > 0 {
		record.CacheWriteCredits = &cost.CacheWriteCredits
	}
	if cost.CacheReadCredits > 0 {
		record.CacheReadCredits = &cost.CacheReadCredits
	}
	if cost.CacheHitRate > 0 {
		record.CacheHitRate = &cost.CacheHitRate
	}
	if cost.CostSavingsPercent > 0 {
		record.CostSavingsPercent = &cost.CostSavingsPercent
	}
	return record, nil
}

// policyFor resolves the pricing policy for one provider/model pair. Margin
// and credit granularity come from DB-backed settings so operators can tune
// them without a restart.
func (e *Engine) policyFor(providerID, modelID string) pricing.Policy {
	return pricing.Policy{
		Rates:            e.Rates.Lookup(providerID, modelID),
		MarginMultiplier: settings.DBConfigFloat(settings.DefaultMarginMultiplierKey, settings.DefaultMarginMultiplier),
		CreditUnitMicros: int64(settings.DBConfigInt(settings.CreditUnitMicrosKey, settings.DefaultCreditUnitMicros)),
	}
}
