package models

// SubscriptionTier is a closed, ordered plan level. Ordering determines
// whether a tier transition counts as an upgrade or a downgrade.
type SubscriptionTier string

// Subscription tiers, lowest to highest.
const (
	TierFree          SubscriptionTier = "free"
	TierPro           SubscriptionTier = "pro"
	TierProMax        SubscriptionTier = "pro_max"
	TierEnterprisePro SubscriptionTier = "enterprise_pro"
	TierEnterpriseMax SubscriptionTier = "enterprise_max"
	TierPerpetual     SubscriptionTier = "perpetual"
)

// tierRank orders the closed tier set. Unknown tiers rank below free.
var tierRank = map[SubscriptionTier]int{
	TierFree:          1,
	TierPro:           2,
	TierProMax:        3,
	TierEnterprisePro: 4,
	TierEnterpriseMax: 5,
	TierPerpetual:     6,
}

// Rank returns the tier's position in the ordered set, 0 for unknown values.
func (t SubscriptionTier) Rank() int {
	return tierRank[t]
}

// Known reports whether the tier belongs to the closed enumeration.
func (t SubscriptionTier) Known() bool {
	_, ok := tierRank[t]
	return ok
}

// AllTiers returns the closed tier set in ascending order.
func AllTiers() []SubscriptionTier {
	return []SubscriptionTier{
		TierFree,
		TierPro,
		TierProMax,
		TierEnterprisePro,
		TierEnterpriseMax,
		TierPerpetual,
	}
}

// BillingCycle identifies the subscription renewal period.
type BillingCycle string

// Billing cycles.
const (
	BillingCycleMonthly BillingCycle = "monthly"
	BillingCycleAnnual  BillingCycle = "annual"
)
