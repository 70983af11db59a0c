package settings

// DB config keys and defaults for settings.
const (
	// UsageRetentionDaysKey controls how long ledger records are kept.
	// Zero or negative disables retention cleanup.
	UsageRetentionDaysKey = "USAGE_RETENTION_DAYS"
	// DebitReconcileIntervalSecondsKey controls the pending-debit sweep interval.
	DebitReconcileIntervalSecondsKey = "DEBIT_RECONCILE_INTERVAL_SECONDS"
	// DefaultMarginMultiplierKey is the vendor-cost-to-credits factor applied
	// when a user has no tier-specific override.
	DefaultMarginMultiplierKey = "DEFAULT_MARGIN_MULTIPLIER"
	// CreditUnitMicrosKey is the smallest debitable credit increment in micro-credits.
	CreditUnitMicrosKey = "CREDIT_UNIT_MICROS"

	// DefaultUsageRetentionDays keeps ledger records indefinitely by default.
	DefaultUsageRetentionDays = 0
	// DefaultDebitReconcileIntervalSeconds is the fallback sweep interval.
	DefaultDebitReconcileIntervalSeconds = 300
	// DefaultMarginMultiplier is the fallback billing margin.
	DefaultMarginMultiplier = 1.5
	// DefaultCreditUnitMicros is the fallback credit rounding unit (0.01 credit).
	DefaultCreditUnitMicros = 10_000
)
