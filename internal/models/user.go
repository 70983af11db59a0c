package models

import "time"

// User is the minimal subscriber record the ledger engine needs: identity,
// current tier, and billing cycle. Profile and identity-provider data live
// outside this system.
type User struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Email string `gorm:"type:text;not null;uniqueIndex"` // Login identity.

	Tier         SubscriptionTier `gorm:"type:text;not null;default:'free';index"` // Current plan level.
	BillingCycle BillingCycle     `gorm:"type:text;not null;default:'monthly'"`    // Current renewal period.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
