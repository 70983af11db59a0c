// Package credit implements the credit balance collaborator: per-user
// spendable balances with linearizable debits and an append-only
// transaction trail.
package credit

import (
	"context"
	"errors"
	"fmt"

	"github.com/rephlo/token-ledger/internal/models"
	"gorm.io/gorm"
)

// ErrInsufficientCredits rejects a debit that would drive a balance
// negative. The balance is left untouched.
var ErrInsufficientCredits = errors.New("credit: insufficient credits")

// ErrNoAccount reports that a credit account does not exist or is disabled.
var ErrNoAccount = errors.New("credit: no active credit account")

// Service is the credit balance collaborator boundary. Implementations may
// be remote; callers must not hold database locks across these calls.
type Service interface {
	// GetCurrentCredits returns the user's active credit account, or nil
	// when the user has none.
	GetCurrentCredits(ctx context.Context, userID uint64) (*models.CreditAccount, error)
	// Debit removes amountMicros from the account, rejecting with
	// ErrInsufficientCredits rather than allowing a negative balance.
	Debit(ctx context.Context, creditID uint64, amountMicros int64, requestID string) error
}

// GormService is the database-backed credit service.
type GormService struct {
	db *gorm.DB
}

// NewGormService constructs a GormService.
func NewGormService(db *gorm.DB) *GormService { return &GormService{db: db} }

// GetCurrentCredits returns the user's enabled credit account, nil when the
// user has none.
func (s *GormService) GetCurrentCredits(ctx context.Context, userID uint64) (*models.CreditAccount, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("credit: nil db")
	}
	var account models.CreditAccount
	errFind := s.db.WithContext(ctx).
		Where("user_id = ? AND is_enabled = ?", userID, true).
		Take(&account).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, errFind
	}
	return &account, nil
}

// Debit removes amountMicros from the account using a guarded update:
// the balance predicate makes concurrent debits against the same account
// linearizable without a lost update, and the balance can never go negative.
// Each applied debit appends a CreditTransaction row in the same
// transaction.
func (s *GormService) Debit(ctx context.Context, creditID uint64, amountMicros int64, requestID string) error {
	if s == nil || s.db == nil {
		return errors.New("credit: nil db")
	}
	if amountMicros < 0 {
		return fmt.Errorf("credit: negative debit amount %d", amountMicros)
	}
	if amountMicros == 0 {
		return nil
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.CreditAccount{}).
			Where("id = ? AND is_enabled = ? AND balance_micros >= ?", creditID, true, amountMicros).
			Update("balance_micros", gorm.Expr("balance_micros - ?", amountMicros))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Distinguish a missing account from an underfunded one.
			var account models.CreditAccount
			errFind := tx.Where("id = ? AND is_enabled = ?", creditID, true).Take(&account).Error
			if errFind != nil {
				if errors.Is(errFind, gorm.ErrRecordNotFound) {
					return ErrNoAccount
				}
				return errFind
			}
			return ErrInsufficientCredits
		}

		var account models.CreditAccount
		if errReload := tx.Take(&account, creditID).Error; errReload != nil {
			return errReload
		}
		return tx.Create(&models.CreditTransaction{
			CreditAccountID: creditID,
			Type:            models.TransactionDebit,
			AmountMicros:    amountMicros,
			BalanceAfter:    account.BalanceMicros,
			RequestID:       requestID,
		}).Error
	})
}

// Grant adds credits to an account, appending the matching transaction row.
func (s *GormService) Grant(ctx context.Context, creditID uint64, amountMicros int64, note string) error {
	if s == nil || s.db == nil {
		return errors.New("credit: nil db")
	}
	if amountMicros <= 0 {
		return fmt.Errorf("credit: grant amount must be positive, got %d", amountMicros)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.CreditAccount{}).
			Where("id = ?", creditID).
			Update("balance_micros", gorm.Expr("balance_micros + ?", amountMicros))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNoAccount
		}
		var account models.CreditAccount
		if errReload := tx.Take(&account, creditID).Error; errReload != nil {
			return errReload
		}
		return tx.Create(&models.CreditTransaction{
			CreditAccountID: creditID,
			Type:            models.TransactionCredit,
			AmountMicros:    amountMicros,
			BalanceAfter:    account.BalanceMicros,
			Note:            note,
		}).Error
	})
}

// Ensure GormService implements Service.
var _ Service = (*GormService)(nil)
