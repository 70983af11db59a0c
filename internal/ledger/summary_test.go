package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/rephlo/token-ledger/internal/credit"
	"github.com/rephlo/token-ledger/internal/models"
)

func TestSummaryAccumulatesAcrossRecords(t *testing.T) {
	conn := openTestDB(t)
	seedAccount(t, conn, 1, 1_000_000)
	writer := NewWriter(conn, credit.NewGormService(conn), nil, nil)

	first := testRecord("req-sum-1", 1)
	second := testRecord("req-sum-2", 1)
	second.InputTokens = 2000
	second.OutputTokens = 1000
	second.TotalTokens = 3000
	second.VendorCostMicros = 21_000
	second.CreditsDeducted = 40_000
	second.GrossMarginMicros = 19_000
	second.ProcessingTimeMs = 1200
	failed := testRecord("req-sum-3", 1)
	failed.Status = models.StatusFailed
	failed.VendorCostMicros = 0
	failed.CreditsDeducted = 0
	failed.GrossMarginMicros = 0

	for _, record := range []*models.TokenUsageRecord{first, second, failed} {
		if errRecord := writer.RecordToLedger(context.Background(), record); errRecord != nil {
			t.Fatalf("record %s: %v", record.RequestID, errRecord)
		}
	}

	summary, errSummary := writer.GetDailyTokenSummary(context.Background(), 1, "2026-03-14")
	if errSummary != nil {
		t.Fatalf("load summary: %v", errSummary)
	}
	if summary == nil {
		t.Fatal("expected summary row")
	}
	if summary.RequestCount != 3 || summary.SuccessCount != 2 {
		t.Fatalf("counts: requests=%d success=%d", summary.RequestCount, summary.SuccessCount)
	}
	if summary.InputTokens != 4000 || summary.OutputTokens != 2000 || summary.TotalTokens != 6000 {
		t.Fatalf("token sums: in=%d out=%d total=%d", summary.InputTokens, summary.OutputTokens, summary.TotalTokens)
	}
	if summary.VendorCostMicros != 31_500 || summary.CreditsDeducted != 60_000 {
		t.Fatalf("cost sums: vendor=%d credits=%d", summary.VendorCostMicros, summary.CreditsDeducted)
	}
	if got := summary.SuccessRate(); got < 0.66 || got > 0.67 {
		t.Fatalf("success rate: %f", got)
	}
	if got := summary.AvgRequestLatencyMs(); got != 1000 {
		t.Fatalf("avg latency over successes: %f", got)
	}
}

func TestRecordsLandOnTheirUTCDay(t *testing.T) {
	conn := openTestDB(t)
	seedAccount(t, conn, 1, 1_000_000)
	writer := NewWriter(conn, credit.NewGormService(conn), nil, nil)

	lateNight := testRecord("req-day-1", 1)
	lateNight.RequestStartedAt = time.Date(2026, 3, 14, 23, 59, 0, 0, time.UTC)
	earlyMorning := testRecord("req-day-2", 1)
	earlyMorning.RequestStartedAt = time.Date(2026, 3, 15, 0, 1, 0, 0, time.UTC)

	for _, record := range []*models.TokenUsageRecord{lateNight, earlyMorning} {
		if errRecord := writer.RecordToLedger(context.Background(), record); errRecord != nil {
			t.Fatalf("record %s: %v", record.RequestID, errRecord)
		}
	}

	for _, day := range []string{"2026-03-14", "2026-03-15"} {
		summary, errSummary := writer.GetDailyTokenSummary(context.Background(), 1, day)
		if errSummary != nil {
			t.Fatalf("load summary %s: %v", day, errSummary)
		}
		if summary == nil || summary.RequestCount != 1 {
			t.Fatalf("expected one request on %s", day)
		}
	}
}

func TestRebuildDailySummaryRepairsDrift(t *testing.T) {
	conn := openTestDB(t)
	seedAccount(t, conn, 1, 1_000_000)
	writer := NewWriter(conn, credit.NewGormService(conn), nil, nil)

	for _, requestID := range []string{"req-rb-1", "req-rb-2"} {
		if errRecord := writer.RecordToLedger(context.Background(), testRecord(requestID, 1)); errRecord != nil {
			t.Fatalf("record %s: %v", requestID, errRecord)
		}
	}

	// Corrupt the stored summary to simulate drift.
	if errCorrupt := conn.Model(&models.DailyTokenSummary{}).
		Where("user_id = ? AND day = ?", uint64(1), "2026-03-14").
		Updates(map[string]interface{}{"request_count": 99, "credits_deducted": 1}).Error; errCorrupt != nil {
		t.Fatalf("corrupt summary: %v", errCorrupt)
	}

	if errRebuild := writer.RebuildDailySummary(context.Background(), 1, "2026-03-14"); errRebuild != nil {
		t.Fatalf("rebuild: %v", errRebuild)
	}

	summary, errSummary := writer.GetDailyTokenSummary(context.Background(), 1, "2026-03-14")
	if errSummary != nil {
		t.Fatalf("load summary: %v", errSummary)
	}
	if summary.RequestCount != 2 {
		t.Fatalf("rebuild did not restore request count: %d", summary.RequestCount)
	}
	if summary.CreditsDeducted != 40_000 {
		t.Fatalf("rebuild did not restore credit sum: %d", summary.CreditsDeducted)
	}
}

func TestRebuildRemovesStaleSummary(t *testing.T) {
	conn := openTestDB(t)
	seedAccount(t, conn, 1, 1_000_000)
	writer := NewWriter(conn, credit.NewGormService(conn), nil, nil)

	if errRecord := writer.RecordToLedger(context.Background(), testRecord("req-stale", 1)); errRecord != nil {
		t.Fatalf("record: %v", errRecord)
	}
	if errDelete := conn.Where("request_id = ?", "req-stale").Delete(&models.TokenUsageRecord{}).Error; errDelete != nil {
		t.Fatalf("delete record: %v", errDelete)
	}

	if errRebuild := writer.RebuildDailySummary(context.Background(), 1, "2026-03-14"); errRebuild != nil {
		t.Fatalf("rebuild: %v", errRebuild)
	}

	summary, errSummary := writer.GetDailyTokenSummary(context.Background(), 1, "2026-03-14")
	if errSummary != nil {
		t.Fatalf("load summary: %v", errSummary)
	}
	if summary != nil {
		t.Fatal("expected stale summary to be removed")
	}
}

func TestRebuildDaySummariesCoversAllUsers(t *testing.T) {
	conn := openTestDB(t)
	seedAccount(t, conn, 1, 1_000_000)
	userTwo := models.User{Email: "second@example.com", Tier: models.TierFree, BillingCycle: models.BillingCycleMonthly}
	userTwo.ID = 2
	if errUser := conn.Create(&userTwo).Error; errUser != nil {
		t.Fatalf("seed user 2: %v", errUser)
	}
	writer := NewWriter(conn, credit.NewGormService(conn), nil, nil)

	if errRecord := writer.RecordToLedger(context.Background(), testRecord("req-u1", 1)); errRecord != nil {
		t.Fatalf("record u1: %v", errRecord)
	}
	if errRecord := writer.RecordToLedger(context.Background(), testRecord("req-u2", 2)); errRecord != nil {
		t.Fatalf("record u2: %v", errRecord)
	}

	// Wipe both summaries, then rebuild the whole day.
	if errDelete := conn.Where("day = ?", "2026-03-14").Delete(&models.DailyTokenSummary{}).Error; errDelete != nil {
		t.Fatalf("delete summaries: %v", errDelete)
	}
	if errRebuild := writer.RebuildDaySummaries(context.Background(), "2026-03-14"); errRebuild != nil {
		t.Fatalf("rebuild day: %v", errRebuild)
	}

	for _, userID := range []uint64{1, 2} {
		summary, errSummary := writer.GetDailyTokenSummary(context.Background(), userID, "2026-03-14")
		if errSummary != nil {
			t.Fatalf("load summary user %d: %v", userID, errSummary)
		}
		if summary == nil || summary.RequestCount != 1 {
			t.Fatalf("expected rebuilt summary for user %d", userID)
		}
	}
}
