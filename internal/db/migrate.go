package db

import (
	"fmt"

	"github.com/rephlo/token-ledger/internal/models"
	"gorm.io/gorm"
)

// Migrate creates or updates the ledger schema.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}

	if errMigrate := conn.AutoMigrate(
		&models.User{},
		&models.CreditAccount{},
		&models.CreditTransaction{},
		&models.TokenUsageRecord{},
		&models.DailyTokenSummary{},
		&models.Coupon{},
		&models.CouponRedemption{},
		&models.Setting{},
	); errMigrate != nil {
		return fmt.Errorf("db: migrate: %w", errMigrate)
	}

	return backfillDebitState(conn)
}

// backfillDebitState marks pre-existing rows without a debit state as skipped
// so the reconciler never retries debits that predate debit tracking.
func backfillDebitState(conn *gorm.DB) error {
	return conn.Model(&models.TokenUsageRecord{}).
		Where("debit_state IS NULL OR debit_state = ''").
		Update("debit_state", models.DebitStateSkipped).Error
}
