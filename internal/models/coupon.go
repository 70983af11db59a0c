package models

import (
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// TierList is a JSON array of tier values, used for coupon eligibility and
// allow-lists. Tier migrations must rewrite every stored TierList that
// references a retired tier in the same transaction as the tier change.
type TierList = datatypes.JSONSlice[SubscriptionTier]

// Coupon is a redeemable discount restricted to a set of tiers.
type Coupon struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Code           string   `gorm:"type:text;not null;uniqueIndex"` // Redemption code.
	DiscountMicros int64    `gorm:"not null;default:0"`             // Face value in micro-credits.
	EligibleTiers  TierList `gorm:"type:jsonb"`                     // Tiers allowed to redeem; empty means all.

	IsEnabled bool `gorm:"not null;default:true"` // Whether the coupon can be redeemed.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// ErrPartialProrationContext rejects redemption rows where only some of the
// tier/cycle before/after fields are set.
var ErrPartialProrationContext = errors.New("models: proration context must be fully populated or fully absent")

// CouponRedemption records one coupon redemption, together with the proration
// context when the redemption coincides with a tier or billing-cycle change.
// The four before/after fields are populated together or not at all.
type CouponRedemption struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	CouponID uint64  `gorm:"not null;index"`      // Redeemed coupon ID.
	Coupon   *Coupon `gorm:"foreignKey:CouponID"` // Redeemed coupon.

	UserID uint64 `gorm:"not null;index"`    // Redeeming user ID.
	User   *User  `gorm:"foreignKey:UserID"` // Redeeming user record.

	IsProrationInvolved   bool              `gorm:"not null;default:false"` // Derived proration flag.
	ProrationAmountMicros *int64            // Partial-period adjustment, micro-credits.
	UserTierBefore        *SubscriptionTier `gorm:"type:text"` // Tier at redemption time.
	UserTierAfter         *SubscriptionTier `gorm:"type:text"` // Tier after redemption.
	BillingCycleBefore    *BillingCycle     `gorm:"type:text"` // Cycle at redemption time.
	BillingCycleAfter     *BillingCycle     `gorm:"type:text"` // Cycle after redemption.

	RedeemedAt time.Time `gorm:"not null;index"`          // Redemption timestamp.
	CreatedAt  time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
}

// HasProrationContext reports whether all four before/after fields are set.
func (r *CouponRedemption) HasProrationContext() bool {
	return r.UserTierBefore != nil && r.UserTierAfter != nil &&
		r.BillingCycleBefore != nil && r.BillingCycleAfter != nil
}

// BeforeSave enforces the all-or-none invariant on the proration context.
func (r *CouponRedemption) BeforeSave(*gorm.DB) error {
	if r.HasProrationContext() {
		return nil
	}
	if r.UserTierBefore != nil || r.UserTierAfter != nil ||
		r.BillingCycleBefore != nil || r.BillingCycleAfter != nil {
		return ErrPartialProrationContext
	}
	return nil
}
