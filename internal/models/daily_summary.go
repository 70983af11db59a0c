package models

import "time"

// DailyTokenSummary aggregates one user's ledger entries for one calendar day.
// Sums are stored rather than rates so the row always reconciles exactly with
// the underlying records; rates are derived on read.
type DailyTokenSummary struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID uint64 `gorm:"not null;uniqueIndex:idx_daily_summary_user_day"` // Owning user ID.
	Day    string `gorm:"type:varchar(10);not null;uniqueIndex:idx_daily_summary_user_day"` // UTC day, YYYY-MM-DD.

	RequestCount int64 `gorm:"not null;default:0"` // Total requests that day.
	SuccessCount int64 `gorm:"not null;default:0"` // Requests with status=success.

	InputTokens       int64 `gorm:"not null;default:0"` // Summed input tokens.
	OutputTokens      int64 `gorm:"not null;default:0"` // Summed output tokens.
	CachedInputTokens int64 `gorm:"not null;default:0"` // Summed cache-served input tokens.
	TotalTokens       int64 `gorm:"not null;default:0"` // Summed totals.

	VendorCostMicros  int64 `gorm:"not null;default:0"` // Summed vendor cost, micro-USD.
	CreditsDeducted   int64 `gorm:"not null;default:0"` // Summed debits, micro-credits.
	GrossMarginMicros int64 `gorm:"not null;default:0"` // Summed margin, micro-credits.

	SuccessLatencyMs int64 `gorm:"not null;default:0"` // Summed latency over successful requests.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// TableName overrides the default table name.
func (DailyTokenSummary) TableName() string {
	return "daily_token_summaries"
}

// SuccessRate returns successful/total requests, 0 when the day is empty.
func (s *DailyTokenSummary) SuccessRate() float64 {
	if s == nil || s.RequestCount == 0 {
		return 0
	}
	return float64(s.SuccessCount) / float64(s.RequestCount)
}

// AvgRequestLatencyMs returns the mean latency over successful requests.
func (s *DailyTokenSummary) AvgRequestLatencyMs() float64 {
	if s == nil || s.SuccessCount == 0 {
		return 0
	}
	return float64(s.SuccessLatencyMs) / float64(s.SuccessCount)
}

// SummaryDay formats a timestamp as the UTC day key used by summaries.
func SummaryDay(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
