// Package proration records coupon redemptions together with the tier and
// billing-cycle transition they coincide with. The redemption row, its
// proration context, the user's tier change, and the credit grant commit in
// one transaction.
package proration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rephlo/token-ledger/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var (
	// ErrCouponNotFound reports an unknown or disabled coupon code.
	ErrCouponNotFound = errors.New("proration: coupon not found or disabled")
	// ErrCouponNotEligible reports a coupon whose tier allow-list excludes the user.
	ErrCouponNotEligible = errors.New("proration: coupon not eligible for user tier")
	// ErrUnknownTier rejects transitions naming a tier outside the closed set.
	ErrUnknownTier = errors.New("proration: unknown subscription tier")
)

// Transition classifies a tier change against the ordered tier set.
type Transition string

// Transition directions.
const (
	TransitionUpgrade   Transition = "upgrade"
	TransitionDowngrade Transition = "downgrade"
	TransitionLateral   Transition = "lateral"
)

// ClassifyTransition orders before/after against the closed tier ranking.
func ClassifyTransition(before, after models.SubscriptionTier) (Transition, error) {
	if !before.Known() || !after.Known() {
		return "", fmt.Errorf("%w: %s -> %s", ErrUnknownTier, before, after)
	}
	switch {
	case after.Rank() > before.Rank():
		return TransitionUpgrade, nil
	case after.Rank() < before.Rank():
		return TransitionDowngrade, nil
	default:
		return TransitionLateral, nil
	}
}

// Redemption describes one coupon redemption event. The four before/after
// fields are optional as a group: either the subscription collaborator
// supplies the full transition context or none of it.
type Redemption struct {
	UserID     uint64
	CouponCode string
	RedeemedAt time.Time

	ProrationAmountMicros *int64
	TierBefore            *models.SubscriptionTier
	TierAfter             *models.SubscriptionTier
	CycleBefore           *models.BillingCycle
	CycleAfter            *models.BillingCycle
}

// Recorder persists redemption events atomically.
type Recorder struct {
	db *gorm.DB
}

// NewRecorder builds a recorder over the given database.
func NewRecorder(db *gorm.DB) *Recorder { return &Recorder{db: db} }

// Record validates and persists one redemption in a single transaction:
// the redemption row with its proration context, the user's tier and cycle
// update when a transition is present, and the coupon's credit grant.
// IsProrationInvolved derives from the stored fields, never from the caller.
func (r *Recorder) Record(ctx context.Context, event Redemption) (*models.CouponRedemption, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("proration: nil recorder")
	}
	if errValidate := validateEvent(&event); errValidate != nil {
		return nil, errValidate
	}

	var row *models.CouponRedemption
	errTx := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var coupon models.Coupon
		errFind := tx.Where("code = ? AND is_enabled", event.CouponCode).Take(&coupon).Error
		if errFind != nil {
			if errors.Is(errFind, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %s", ErrCouponNotFound, event.CouponCode)
			}
			return errFind
		}

		var user models.User
		if errUser := tx.Take(&user, event.UserID).Error; errUser != nil {
			return fmt.Errorf("proration: load user %d: %w", event.UserID, errUser)
		}

		tierAtRedemption := user.Tier
		if event.TierBefore != nil {
			tierAtRedemption = *event.TierBefore
		}
		if !couponEligible(&coupon, tierAtRedemption) {
			return fmt.Errorf("%w: coupon %s, tier %s", ErrCouponNotEligible, coupon.Code, tierAtRedemption)
		}

		row = &models.CouponRedemption{
			CouponID:              coupon.ID,
			UserID:                event.UserID,
			ProrationAmountMicros: event.ProrationAmountMicros,
			UserTierBefore:        event.TierBefore,
			UserTierAfter:         event.TierAfter,
			BillingCycleBefore:    event.CycleBefore,
			BillingCycleAfter:     event.CycleAfter,
			RedeemedAt:            event.RedeemedAt.UTC(),
		}
		row.IsProrationInvolved = deriveProrationInvolved(row)
		if errCreate := tx.Create(row).Error; errCreate != nil {
			return fmt.Errorf("proration: persist redemption: %w", errCreate)
		}

		if row.HasProrationContext() {
			updates := map[string]interface{}{
				"tier":          *event.TierAfter,
				"billing_cycle": *event.CycleAfter,
			}
			if errUpdate := tx.Model(&models.User{}).Where("id = ?", user.ID).Updates(updates).Error; errUpdate != nil {
				return fmt.Errorf("proration: apply tier change: %w", errUpdate)
			}
		}

		if coupon.DiscountMicros > 0 {
			if errGrant := grantCredits(tx, event.UserID, coupon.DiscountMicros, "coupon:"+coupon.Code); errGrant != nil {
				return errGrant
			}
		}
		return nil
	})
	if errTx != nil {
		return nil, errTx
	}

	if row.IsProrationInvolved && row.HasProrationContext() {
		direction, _ := ClassifyTransition(*row.UserTierBefore, *row.UserTierAfter)
		log.Infof("proration: recorded %s for user %d (coupon=%s amount=%d)", direction, row.UserID, event.CouponCode, derefInt64(row.ProrationAmountMicros))
	}
	return row, nil
}

// grantCredits adds the coupon's face value to the user's credit account
// inside the redemption transaction. A user without an account is logged
// and skipped; the redemption itself still commits.
func grantCredits(tx *gorm.DB, userID uint64, amountMicros int64, note string) error {
	var account models.CreditAccount
	errFind := tx.Where("user_id = ? AND is_enabled", userID).Take(&account).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			log.Warnf("proration: user %d has no credit account, coupon value not granted", userID)
			return nil
		}
		return errFind
	}

	res := tx.Model(&models.CreditAccount{}).
		Where("id = ?", account.ID).
		Update("balance_micros", gorm.Expr("balance_micros + ?", amountMicros))
	if res.Error != nil {
		return fmt.Errorf("proration: grant credits: %w", res.Error)
	}

	txn := models.CreditTransaction{
		CreditAccountID: account.ID,
		Type:            models.TransactionCredit,
		AmountMicros:    amountMicros,
		BalanceAfter:    account.BalanceMicros + amountMicros,
		Note:            note,
	}
	return tx.Create(&txn).Error
}

func validateEvent(event *Redemption) error {
	if event.UserID == 0 {
		return errors.New("proration: empty user id")
	}
	if event.CouponCode == "" {
		return errors.New("proration: empty coupon code")
	}
	if event.RedeemedAt.IsZero() {
		event.RedeemedAt = time.Now().UTC()
	}
	if event.TierBefore != nil && event.TierAfter != nil {
		if _, errClassify := ClassifyTransition(*event.TierBefore, *event.TierAfter); errClassify != nil {
			return errClassify
		}
	}
	return nil
}

// deriveProrationInvolved is true iff a non-zero proration amount is present
// or the stored before/after tier or cycle actually differ.
func deriveProrationInvolved(row *models.CouponRedemption) bool {
	if row.ProrationAmountMicros != nil && *row.ProrationAmountMicros != 0 {
		return true
	}
	if !row.HasProrationContext() {
		return false
	}
	return *row.UserTierBefore != *row.UserTierAfter || *row.BillingCycleBefore != *row.BillingCycleAfter
}

func couponEligible(coupon *models.Coupon, tier models.SubscriptionTier) bool {
	if len(coupon.EligibleTiers) == 0 {
		return true
	}
	for _, eligible := range coupon.EligibleTiers {
		if eligible == tier {
			return true
		}
	}
	return false
}

func derefInt64(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}
