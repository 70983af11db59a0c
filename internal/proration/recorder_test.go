package proration

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rephlo/token-ledger/internal/db"
	"github.com/rephlo/token-ledger/internal/models"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, errOpen := db.Open(":memory:")
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate db: %v", errMigrate)
	}
	return conn
}

func seedUser(t *testing.T, conn *gorm.DB, userID uint64, tier models.SubscriptionTier) {
	t.Helper()
	user := models.User{Email: "prorate@example.com", Tier: tier, BillingCycle: models.BillingCycleMonthly}
	user.ID = userID
	if errUser := conn.Create(&user).Error; errUser != nil {
		t.Fatalf("seed user: %v", errUser)
	}
}

func seedCoupon(t *testing.T, conn *gorm.DB, code string, valueMicros int64, tiers ...models.SubscriptionTier) {
	t.Helper()
	coupon := models.Coupon{Code: code, DiscountMicros: valueMicros, EligibleTiers: tiers, IsEnabled: true}
	if errCoupon := conn.Create(&coupon).Error; errCoupon != nil {
		t.Fatalf("seed coupon: %v", errCoupon)
	}
}

func tierPtr(t models.SubscriptionTier) *models.SubscriptionTier { return &t }
func cyclePtr(c models.BillingCycle) *models.BillingCycle        { return &c }
func int64Ptr(v int64) *int64                                    { return &v }

func TestRecordWithFullProrationContext(t *testing.T) {
	conn := openTestDB(t)
	seedUser(t, conn, 1, models.TierPro)
	seedCoupon(t, conn, "UPGRADE10", 10_000_000)
	account := models.CreditAccount{UserID: 1, BalanceMicros: 5_000_000, IsEnabled: true}
	if errAccount := conn.Create(&account).Error; errAccount != nil {
		t.Fatalf("seed account: %v", errAccount)
	}
	recorder := NewRecorder(conn)

	row, errRecord := recorder.Record(context.Background(), Redemption{
		UserID:                1,
		CouponCode:            "UPGRADE10",
		RedeemedAt:            time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC),
		ProrationAmountMicros: int64Ptr(2_500_000),
		TierBefore:            tierPtr(models.TierPro),
		TierAfter:             tierPtr(models.TierProMax),
		CycleBefore:           cyclePtr(models.BillingCycleMonthly),
		CycleAfter:            cyclePtr(models.BillingCycleAnnual),
	})
	if errRecord != nil {
		t.Fatalf("record: %v", errRecord)
	}
	if !row.IsProrationInvolved {
		t.Fatal("expected IsProrationInvolved to derive true")
	}
	if !row.HasProrationContext() {
		t.Fatal("expected a full proration context")
	}

	var user models.User
	if errFind := conn.Take(&user, uint64(1)).Error; errFind != nil {
		t.Fatalf("reload user: %v", errFind)
	}
	if user.Tier != models.TierProMax || user.BillingCycle != models.BillingCycleAnnual {
		t.Fatalf("tier change not applied: tier=%s cycle=%s", user.Tier, user.BillingCycle)
	}

	var reloaded models.CreditAccount
	if errFind := conn.Take(&reloaded, account.ID).Error; errFind != nil {
		t.Fatalf("reload account: %v", errFind)
	}
	if reloaded.BalanceMicros != 15_000_000 {
		t.Fatalf("coupon value not granted: balance=%d", reloaded.BalanceMicros)
	}
}

func TestPartialProrationContextNeverPersists(t *testing.T) {
	conn := openTestDB(t)
	seedUser(t, conn, 1, models.TierPro)
	seedCoupon(t, conn, "HALF", 1_000_000)

	// Bypass the recorder to hit the model invariant directly.
	row := models.CouponRedemption{
		CouponID:       1,
		UserID:         1,
		UserTierBefore: tierPtr(models.TierPro),
		RedeemedAt:     time.Now().UTC(),
	}
	errCreate := conn.Create(&row).Error
	if !errors.Is(errCreate, models.ErrPartialProrationContext) {
		t.Fatalf("expected ErrPartialProrationContext, got %v", errCreate)
	}

	var count int64
	if errCount := conn.Model(&models.CouponRedemption{}).Count(&count).Error; errCount != nil {
		t.Fatalf("count redemptions: %v", errCount)
	}
	if count != 0 {
		t.Fatalf("partial context persisted: %d rows", count)
	}
}

func TestRecordWithoutTransitionIsNotProration(t *testing.T) {
	conn := openTestDB(t)
	seedUser(t, conn, 1, models.TierFree)
	seedCoupon(t, conn, "PLAIN", 0)
	recorder := NewRecorder(conn)

	row, errRecord := recorder.Record(context.Background(), Redemption{
		UserID:     1,
		CouponCode: "PLAIN",
		RedeemedAt: time.Now().UTC(),
	})
	if errRecord != nil {
		t.Fatalf("record: %v", errRecord)
	}
	if row.IsProrationInvolved {
		t.Fatal("plain redemption must not be flagged as proration")
	}
}

func TestNonZeroAmountAloneFlagsProration(t *testing.T) {
	conn := openTestDB(t)
	seedUser(t, conn, 1, models.TierFree)
	seedCoupon(t, conn, "CREDITBACK", 0)
	recorder := NewRecorder(conn)

	row, errRecord := recorder.Record(context.Background(), Redemption{
		UserID:                1,
		CouponCode:            "CREDITBACK",
		ProrationAmountMicros: int64Ptr(1_250_000),
	})
	if errRecord != nil {
		t.Fatalf("record: %v", errRecord)
	}
	if !row.IsProrationInvolved {
		t.Fatal("non-zero proration amount must flag the redemption")
	}
	if row.HasProrationContext() {
		t.Fatal("no tier context was supplied")
	}
}

func TestIneligibleTierRejected(t *testing.T) {
	conn := openTestDB(t)
	seedUser(t, conn, 1, models.TierFree)
	seedCoupon(t, conn, "PROONLY", 1_000_000, models.TierPro, models.TierProMax)
	recorder := NewRecorder(conn)

	_, errRecord := recorder.Record(context.Background(), Redemption{
		UserID:     1,
		CouponCode: "PROONLY",
	})
	if !errors.Is(errRecord, ErrCouponNotEligible) {
		t.Fatalf("expected ErrCouponNotEligible, got %v", errRecord)
	}

	var count int64
	if errCount := conn.Model(&models.CouponRedemption{}).Count(&count).Error; errCount != nil {
		t.Fatalf("count redemptions: %v", errCount)
	}
	if count != 0 {
		t.Fatalf("rejected redemption persisted: %d rows", count)
	}
}

func TestClassifyTransition(t *testing.T) {
	cases := []struct {
		before, after models.SubscriptionTier
		want          Transition
	}{
		{models.TierFree, models.TierPro, TransitionUpgrade},
		{models.TierProMax, models.TierPro, TransitionDowngrade},
		{models.TierEnterprisePro, models.TierEnterprisePro, TransitionLateral},
		{models.TierEnterpriseMax, models.TierPerpetual, TransitionUpgrade},
	}
	for _, tc := range cases {
		got, errClassify := ClassifyTransition(tc.before, tc.after)
		if errClassify != nil {
			t.Fatalf("classify %s->%s: %v", tc.before, tc.after, errClassify)
		}
		if got != tc.want {
			t.Fatalf("classify %s->%s: got %s, want %s", tc.before, tc.after, got, tc.want)
		}
	}

	if _, errClassify := ClassifyTransition("premium", models.TierPro); !errors.Is(errClassify, ErrUnknownTier) {
		t.Fatalf("expected ErrUnknownTier, got %v", errClassify)
	}
}

func TestApplyTierMigrationRewritesAllReferences(t *testing.T) {
	conn := openTestDB(t)
	retired := models.SubscriptionTier("premium")

	seedUser(t, conn, 1, models.TierFree)
	if errUpdate := conn.Model(&models.User{}).Where("id = ?", uint64(1)).Update("tier", retired).Error; errUpdate != nil {
		t.Fatalf("seed retired tier: %v", errUpdate)
	}
	seedCoupon(t, conn, "LEGACY", 0, models.TierFree, retired)
	seedCoupon(t, conn, "UNTOUCHED", 0, models.TierPro)

	redemption := models.CouponRedemption{
		CouponID:           1,
		UserID:             1,
		UserTierBefore:     &retired,
		UserTierAfter:      tierPtr(models.TierPro),
		BillingCycleBefore: cyclePtr(models.BillingCycleMonthly),
		BillingCycleAfter:  cyclePtr(models.BillingCycleMonthly),
		RedeemedAt:         time.Now().UTC(),
	}
	if errCreate := conn.Create(&redemption).Error; errCreate != nil {
		t.Fatalf("seed redemption: %v", errCreate)
	}

	migration := TierMigration{
		Version: 2,
		Mapping: map[models.SubscriptionTier]models.SubscriptionTier{retired: models.TierPro},
	}
	if errApply := ApplyTierMigration(context.Background(), conn, migration); errApply != nil {
		t.Fatalf("apply migration: %v", errApply)
	}

	var user models.User
	if errFind := conn.Take(&user, uint64(1)).Error; errFind != nil {
		t.Fatalf("reload user: %v", errFind)
	}
	if user.Tier != models.TierPro {
		t.Fatalf("user tier not migrated: %s", user.Tier)
	}

	var legacy models.Coupon
	if errFind := conn.Where("code = ?", "LEGACY").Take(&legacy).Error; errFind != nil {
		t.Fatalf("reload coupon: %v", errFind)
	}
	want := []models.SubscriptionTier{models.TierFree, models.TierPro}
	if len(legacy.EligibleTiers) != len(want) {
		t.Fatalf("eligibility list length: %d", len(legacy.EligibleTiers))
	}
	for i, tier := range want {
		if legacy.EligibleTiers[i] != tier {
			t.Fatalf("eligibility[%d]: got %s, want %s", i, legacy.EligibleTiers[i], tier)
		}
	}

	var untouched models.Coupon
	if errFind := conn.Where("code = ?", "UNTOUCHED").Take(&untouched).Error; errFind != nil {
		t.Fatalf("reload coupon: %v", errFind)
	}
	if len(untouched.EligibleTiers) != 1 || untouched.EligibleTiers[0] != models.TierPro {
		t.Fatal("unrelated coupon was rewritten")
	}

	var reloaded models.CouponRedemption
	if errFind := conn.Take(&reloaded, redemption.ID).Error; errFind != nil {
		t.Fatalf("reload redemption: %v", errFind)
	}
	if *reloaded.UserTierBefore != models.TierPro {
		t.Fatalf("redemption before-tier not migrated: %s", *reloaded.UserTierBefore)
	}

	if errBad := ApplyTierMigration(context.Background(), conn, TierMigration{
		Version: 3,
		Mapping: map[models.SubscriptionTier]models.SubscriptionTier{models.TierPro: "nonsense"},
	}); !errors.Is(errBad, ErrBadMigration) {
		t.Fatalf("expected ErrBadMigration, got %v", errBad)
	}
}
