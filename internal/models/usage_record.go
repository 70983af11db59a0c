package models

import "time"

// RequestType classifies how a request was served.
type RequestType string

// Request types.
const (
	RequestTypeCompletion RequestType = "completion"
	RequestTypeStreaming  RequestType = "streaming"
	RequestTypeBatch      RequestType = "batch"
)

// RequestStatus is the terminal outcome of a request.
type RequestStatus string

// Request statuses.
const (
	StatusSuccess     RequestStatus = "success"
	StatusFailed      RequestStatus = "failed"
	StatusCancelled   RequestStatus = "cancelled"
	StatusRateLimited RequestStatus = "rate_limited"
)

// DebitState tracks whether the credit debit for a record has been applied.
type DebitState string

// Debit states.
const (
	// DebitStateApplied means the debit committed against the credit account.
	DebitStateApplied DebitState = "applied"
	// DebitStatePending means the debit is deferred for later reconciliation.
	DebitStatePending DebitState = "pending"
	// DebitStateSkipped means no debit applies (no account, zero cost, or failure).
	DebitStateSkipped DebitState = "skipped"
)

// TokenUsageRecord is one append-only ledger entry for a billable request.
// Rows are immutable once written except for the debit state transition;
// corrections are new compensating entries.
type TokenUsageRecord struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	RequestID  string `gorm:"type:text;not null;uniqueIndex"` // Idempotency key.
	UserID     uint64 `gorm:"not null;index"`                 // Owning user ID.
	ProviderID string `gorm:"type:text;not null;index"`       // Provider name.
	ModelID    string `gorm:"type:text;not null;index"`       // Model name.

	InputTokens       int64 `gorm:"not null;default:0"` // Billable input token count.
	OutputTokens      int64 `gorm:"not null;default:0"` // Output token count.
	CachedInputTokens int64 `gorm:"not null;default:0"` // Cache-served input token count.
	TotalTokens       int64 `gorm:"not null;default:0"` // Provider-reported total.

	VendorCostMicros  int64   `gorm:"not null;default:0"` // Vendor cost in micro-USD.
	CreditsDeducted   int64   `gorm:"not null;default:0"` // Debit in micro-credits.
	MarginMultiplier  float64 `gorm:"not null;default:1"` // Vendor-cost-to-credits factor.
	GrossMarginMicros int64   `gorm:"not null;default:0"` // Margin in micro-credits.

	InputCredits  *int64 // Input share of the debit, when both sides present.
	OutputCredits *int64 // Output share of the debit.

	ImageCount  *int64 // Billed image count, when the provider reports images.
	ImageTokens *int64 // Image token count.

	CacheCreationTokens *int64   // Cache-write token count (anthropic style).
	CacheReadTokens     *int64   // Cache-read token count.
	CachedPromptTokens  *int64   // Cached prompt token count (openai style).
	CacheHitRate        *float64 // Cache-served fraction of input tokens.
	CostSavingsPercent  *float64 // Vendor cost saved by caching, percent.
	CacheWriteCredits   *int64   // Credits attributed to cache writes.
	CacheReadCredits    *int64   // Credits attributed to cache reads.

	RequestType       RequestType `gorm:"type:text;not null;default:'completion'"` // Serving mode.
	StreamingSegments int64       `gorm:"not null;default:0"`                      // Stream chunk count.

	RequestStartedAt   time.Time `gorm:"not null;index"` // Request start timestamp.
	RequestCompletedAt time.Time `gorm:"not null"`       // Request completion timestamp.
	ProcessingTimeMs   int64     `gorm:"not null;default:0"`

	Status              RequestStatus `gorm:"type:text;not null;index"` // Terminal outcome.
	ErrorMessage        string        `gorm:"type:text"`                // Failure detail, if any.
	IsStreamingComplete bool          `gorm:"not null;default:false"`   // Terminal chunk observed.

	DebitState DebitState `gorm:"type:text;not null;default:'skipped';index"` // Debit bookkeeping state.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Ledger append timestamp.
}

// TableName overrides the default table name.
func (TokenUsageRecord) TableName() string {
	return "token_usage_records"
}
