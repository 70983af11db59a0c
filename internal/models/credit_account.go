package models

import "time"

// CreditAccount holds a user's spendable credit balance in micro-credits.
type CreditAccount struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID uint64 `gorm:"not null;uniqueIndex"` // Owning user ID.
	User   *User  `gorm:"foreignKey:UserID"`    // Owning user record.

	BalanceMicros int64 `gorm:"not null;default:0"` // Remaining balance, micro-credits.

	IsEnabled bool `gorm:"not null;default:true"` // Whether the account can be debited.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// TransactionType classifies a credit ledger movement.
type TransactionType string

// Transaction types.
const (
	TransactionDebit  TransactionType = "debit"
	TransactionCredit TransactionType = "credit"
)

// CreditTransaction is the append-only audit trail of balance movements.
// Every applied debit writes one row in the same transaction as the balance
// update.
type CreditTransaction struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	CreditAccountID uint64         `gorm:"not null;index"`              // Related account ID.
	CreditAccount   *CreditAccount `gorm:"foreignKey:CreditAccountID"` // Related account.

	Type         TransactionType `gorm:"type:text;not null"`  // Movement direction.
	AmountMicros int64           `gorm:"not null"`            // Movement size, always positive.
	BalanceAfter int64           `gorm:"not null"`            // Balance after the movement.
	RequestID    string          `gorm:"type:text;index"`     // Ledger request that caused a debit.
	Note         string          `gorm:"type:text"`           // Operator-facing context.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Movement timestamp.
}
