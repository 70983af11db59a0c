package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rephlo/token-ledger/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// dayBounds parses a YYYY-MM-DD day key into its UTC start instant.
func dayBounds(day string) (time.Time, error) {
	start, errParse := time.ParseInLocation("2006-01-02", day, time.UTC)
	if errParse != nil {
		return time.Time{}, fmt.Errorf("ledger: bad day %q: %w", day, errParse)
	}
	return start, nil
}

// applySummaryDelta folds one freshly inserted record into its user/day
// summary row. Runs inside the same transaction as the record insert so the
// summary never drifts from the ledger.
func applySummaryDelta(tx *gorm.DB, record *models.TokenUsageRecord) error {
	day := models.SummaryDay(record.RequestStartedAt)

	successInc := int64(0)
	latencyInc := int64(0)
	if record.Status == models.StatusSuccess {
		successInc = 1
		latencyInc = record.ProcessingTimeMs
	}

	summary := models.DailyTokenSummary{
		UserID:            record.UserID,
		Day:               day,
		RequestCount:      1,
		SuccessCount:      successInc,
		InputTokens:       record.InputTokens,
		OutputTokens:      record.OutputTokens,
		CachedInputTokens: record.CachedInputTokens,
		TotalTokens:       record.TotalTokens,
		VendorCostMicros:  record.VendorCostMicros,
		CreditsDeducted:   record.CreditsDeducted,
		GrossMarginMicros: record.GrossMarginMicros,
		SuccessLatencyMs:  latencyInc,
	}

	return tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "day"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"request_count":       gorm.Expr("request_count + ?", 1),
			"success_count":       gorm.Expr("success_count + ?", successInc),
			"input_tokens":        gorm.Expr("input_tokens + ?", record.InputTokens),
			"output_tokens":       gorm.Expr("output_tokens + ?", record.OutputTokens),
			"cached_input_tokens": gorm.Expr("cached_input_tokens + ?", record.CachedInputTokens),
			"total_tokens":        gorm.Expr("total_tokens + ?", record.TotalTokens),
			"vendor_cost_micros":  gorm.Expr("vendor_cost_micros + ?", record.VendorCostMicros),
			"credits_deducted":    gorm.Expr("credits_deducted + ?", record.CreditsDeducted),
			"gross_margin_micros": gorm.Expr("gross_margin_micros + ?", record.GrossMarginMicros),
			"success_latency_ms":  gorm.Expr("success_latency_ms + ?", latencyInc),
		}),
	}).Create(&summary).Error
}

// RebuildDailySummary recomputes one user/day summary from the underlying
// ledger rows and replaces the stored row. Used by the nightly reconcile
// job and after manual corrections.
func (w *Writer) RebuildDailySummary(ctx context.Context, userID uint64, day string) error {
	if w == nil || w.db == nil {
		return errors.New("ledger: nil writer")
	}
	return w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return rebuildSummaryTx(tx, userID, day)
	})
}

type summaryTotals struct {
	RequestCount      int64
	SuccessCount      int64
	InputTokens       int64
	OutputTokens      int64
	CachedInputTokens int64
	TotalTokens       int64
	VendorCostMicros  int64
	CreditsDeducted   int64
	GrossMarginMicros int64
	SuccessLatencyMs  int64
}

func rebuildSummaryTx(tx *gorm.DB, userID uint64, day string) error {
	dayStart, errDay := dayBounds(day)
	if errDay != nil {
		return errDay
	}
	dayEnd := dayStart.AddDate(0, 0, 1)

	var totals summaryTotals
	errScan := tx.Model(&models.TokenUsageRecord{}).
		Select(`COUNT(*) AS request_count,
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS success_count,
			COALESCE(SUM(input_tokens), 0) AS input_tokens,
			COALESCE(SUM(output_tokens), 0) AS output_tokens,
			COALESCE(SUM(cached_input_tokens), 0) AS cached_input_tokens,
			COALESCE(SUM(total_tokens), 0) AS total_tokens,
			COALESCE(SUM(vendor_cost_micros), 0) AS vendor_cost_micros,
			COALESCE(SUM(credits_deducted), 0) AS credits_deducted,
			COALESCE(SUM(gross_margin_micros), 0) AS gross_margin_micros,
			COALESCE(SUM(CASE WHEN status = ? THEN processing_time_ms ELSE 0 END), 0) AS success_latency_ms`,
			models.StatusSuccess, models.StatusSuccess).
		Where("user_id = ? AND request_started_at >= ? AND request_started_at < ?", userID, dayStart, dayEnd).
		Scan(&totals).Error
	if errScan != nil {
		return fmt.Errorf("ledger: sum records for %s/%d: %w", day, userID, errScan)
	}

	if totals.RequestCount == 0 {
		// No records left for the day: drop a stale summary if present.
		return tx.Where("user_id = ? AND day = ?", userID, day).
			Delete(&models.DailyTokenSummary{}).Error
	}

	summary := models.DailyTokenSummary{
		UserID:            userID,
		Day:               day,
		RequestCount:      totals.RequestCount,
		SuccessCount:      totals.SuccessCount,
		InputTokens:       totals.InputTokens,
		OutputTokens:      totals.OutputTokens,
		CachedInputTokens: totals.CachedInputTokens,
		TotalTokens:       totals.TotalTokens,
		VendorCostMicros:  totals.VendorCostMicros,
		CreditsDeducted:   totals.CreditsDeducted,
		GrossMarginMicros: totals.GrossMarginMicros,
		SuccessLatencyMs:  totals.SuccessLatencyMs,
	}
	return tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "day"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"request_count", "success_count",
			"input_tokens", "output_tokens", "cached_input_tokens", "total_tokens",
			"vendor_cost_micros", "credits_deducted", "gross_margin_micros",
			"success_latency_ms",
		}),
	}).Create(&summary).Error
}

// RebuildDaySummaries recomputes every user's summary for one day. The
// nightly cron job runs this for the previous UTC day.
func (w *Writer) RebuildDaySummaries(ctx context.Context, day string) error {
	if w == nil || w.db == nil {
		return errors.New("ledger: nil writer")
	}
	dayStart, errDay := dayBounds(day)
	if errDay != nil {
		return errDay
	}
	dayEnd := dayStart.AddDate(0, 0, 1)

	var userIDs []uint64
	errFind := w.db.WithContext(ctx).
		Model(&models.TokenUsageRecord{}).
		Distinct("user_id").
		Where("request_started_at >= ? AND request_started_at < ?", dayStart, dayEnd).
		Pluck("user_id", &userIDs).Error
	if errFind != nil {
		return fmt.Errorf("ledger: list users for %s: %w", day, errFind)
	}

	for _, userID := range userIDs {
		if errRebuild := w.RebuildDailySummary(ctx, userID, day); errRebuild != nil {
			return errRebuild
		}
	}
	return nil
}
