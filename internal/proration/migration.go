package proration

import (
	"context"
	"errors"
	"fmt"

	"github.com/rephlo/token-ledger/internal/db"
	"github.com/rephlo/token-ledger/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// TierMigration merges retired tier values into surviving ones. Applying a
// migration rewrites every stored reference to a retired tier, scalar
// columns and JSON eligibility arrays alike, in one transaction.
type TierMigration struct {
	// Version orders migrations; applied versions are tracked in settings
	// by the caller.
	Version int
	// Mapping is retired tier -> surviving tier. Surviving tiers must be
	// members of the current closed set.
	Mapping map[models.SubscriptionTier]models.SubscriptionTier
}

// ErrBadMigration rejects migrations mapping onto unknown tiers.
var ErrBadMigration = errors.New("proration: migration target tier unknown")

// ApplyTierMigration rewrites all references to the migration's retired
// tiers. Per retired tier it updates users.tier, the redemption
// before/after columns, and every coupon eligibility array containing the
// value. Runs in a single transaction; partial rewrites never commit.
func ApplyTierMigration(ctx context.Context, conn *gorm.DB, migration TierMigration) error {
	if conn == nil {
		return errors.New("proration: nil db")
	}
	for _, survivor := range migration.Mapping {
		if !survivor.Known() {
			return fmt.Errorf("%w: %s", ErrBadMigration, survivor)
		}
	}

	return conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for retired, survivor := range migration.Mapping {
			if errRewrite := rewriteTier(tx, retired, survivor); errRewrite != nil {
				return fmt.Errorf("proration: migration v%d (%s -> %s): %w", migration.Version, retired, survivor, errRewrite)
			}
		}
		return nil
	})
}

func rewriteTier(tx *gorm.DB, retired, survivor models.SubscriptionTier) error {
	res := tx.Model(&models.User{}).
		Where("tier = ?", retired).
		Update("tier", survivor)
	if res.Error != nil {
		return res.Error
	}
	usersMoved := res.RowsAffected

	for _, column := range []string{"user_tier_before", "user_tier_after"} {
		if errUpdate := tx.Model(&models.CouponRedemption{}).
			Where(column+" = ?", retired).
			Update(column, survivor).Error; errUpdate != nil {
			return errUpdate
		}
	}

	containsExpr := db.JSONArrayContainsExpr(tx, "eligible_tiers")
	containsValue := db.JSONArrayContainsValue(tx, string(retired))
	replaceExpr := db.JSONArrayReplaceExpr(tx, "eligible_tiers")
	res = tx.Model(&models.Coupon{}).
		Where(containsExpr, containsValue).
		Update("eligible_tiers", gorm.Expr(replaceExpr, string(retired), string(survivor)))
	if res.Error != nil {
		return res.Error
	}

	log.Infof("proration: tier %s merged into %s (users=%d coupons=%d)", retired, survivor, usersMoved, res.RowsAffected)
	return nil
}
