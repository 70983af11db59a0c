package credit

import (
	"context"
	"errors"
	"sync"
	"testing"

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

func seedAccount(t *testing.T, conn *gorm.DB, userID uint64, balance int64) *models.CreditAccount {
	t.Helper()
	user := models.User{Email: "user@example.com", Tier: models.TierPro, BillingCycle: models.BillingCycleMonthly}
	user.ID = userID
	if errUser := conn.Create(&user).Error; errUser != nil {
		t.Fatalf("seed user: %v", errUser)
	}
	account := models.CreditAccount{UserID: userID, BalanceMicros: balance, IsEnabled: true}
	if errAccount := conn.Create(&account).Error; errAccount != nil {
		t.Fatalf("seed account: %v", errAccount)
	}
	return &account
}

func TestDebitReducesBalanceAndAppendsTransaction(t *testing.T) {
	conn := openTestDB(t)
	account := seedAccount(t, conn, 1, 100_000)
	service := NewGormService(conn)

	if errDebit := service.Debit(context.Background(), account.ID, 30_000, "req-1"); errDebit != nil {
		t.Fatalf("debit: %v", errDebit)
	}

	var reloaded models.CreditAccount
	if errFind := conn.Take(&reloaded, account.ID).Error; errFind != nil {
		t.Fatalf("reload account: %v", errFind)
	}
	if reloaded.BalanceMicros != 70_000 {
		t.Fatalf("expected balance 70000, got %d", reloaded.BalanceMicros)
	}

	var txn models.CreditTransaction
	if errFind := conn.Where("request_id = ?", "req-1").Take(&txn).Error; errFind != nil {
		t.Fatalf("load transaction: %v", errFind)
	}
	if txn.Type != models.TransactionDebit || txn.AmountMicros != 30_000 || txn.BalanceAfter != 70_000 {
		t.Fatalf("unexpected transaction: %+v", txn)
	}
}

func TestDebitInsufficientBalanceRejectsWithoutChange(t *testing.T) {
	conn := openTestDB(t)
	account := seedAccount(t, conn, 2, 10_000)
	service := NewGormService(conn)

	errDebit := service.Debit(context.Background(), account.ID, 10_001, "req-2")
	if !errors.Is(errDebit, ErrInsufficientCredits) {
		t.Fatalf("expected ErrInsufficientCredits, got %v", errDebit)
	}

	var reloaded models.CreditAccount
	if errFind := conn.Take(&reloaded, account.ID).Error; errFind != nil {
		t.Fatalf("reload account: %v", errFind)
	}
	if reloaded.BalanceMicros != 10_000 {
		t.Fatalf("balance must be untouched, got %d", reloaded.BalanceMicros)
	}

	var count int64
	if errCount := conn.Model(&models.CreditTransaction{}).Count(&count).Error; errCount != nil {
		t.Fatalf("count transactions: %v", errCount)
	}
	if count != 0 {
		t.Fatalf("expected no transaction rows, got %d", count)
	}
}

func TestDebitUnknownAccount(t *testing.T) {
	conn := openTestDB(t)
	service := NewGormService(conn)

	errDebit := service.Debit(context.Background(), 999, 1_000, "req-3")
	if !errors.Is(errDebit, ErrNoAccount) {
		t.Fatalf("expected ErrNoAccount, got %v", errDebit)
	}
}

func TestGetCurrentCreditsMissingAccountReturnsNil(t *testing.T) {
	conn := openTestDB(t)
	service := NewGormService(conn)

	account, errGet := service.GetCurrentCredits(context.Background(), 42)
	if errGet != nil {
		t.Fatalf("get credits: %v", errGet)
	}
	if account != nil {
		t.Fatalf("expected nil account, got %+v", account)
	}
}

func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	conn := openTestDB(t)
	account := seedAccount(t, conn, 3, 50_000)
	service := NewGormService(conn)

	const workers = 10
	var wg sync.WaitGroup
	applied := make(chan struct{}, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if errDebit := service.Debit(context.Background(), account.ID, 10_000, ""); errDebit == nil {
				applied <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(applied)

	appliedCount := 0
	for range applied {
		appliedCount++
	}
	if appliedCount > 5 {
		t.Fatalf("at most 5 debits can fit the balance, got %d", appliedCount)
	}

	var reloaded models.CreditAccount
	if errFind := conn.Take(&reloaded, account.ID).Error; errFind != nil {
		t.Fatalf("reload account: %v", errFind)
	}
	if reloaded.BalanceMicros < 0 {
		t.Fatal("balance must never go negative")
	}
	if want := 50_000 - int64(appliedCount)*10_000; reloaded.BalanceMicros != want {
		t.Fatalf("lost update: %d debits applied but balance is %d", appliedCount, reloaded.BalanceMicros)
	}
}

func TestGrantIncreasesBalance(t *testing.T) {
	conn := openTestDB(t)
	account := seedAccount(t, conn, 4, 0)
	service := NewGormService(conn)

	if errGrant := service.Grant(context.Background(), account.ID, 25_000, "signup bonus"); errGrant != nil {
		t.Fatalf("grant: %v", errGrant)
	}

	var reloaded models.CreditAccount
	if errFind := conn.Take(&reloaded, account.ID).Error; errFind != nil {
		t.Fatalf("reload account: %v", errFind)
	}
	if reloaded.BalanceMicros != 25_000 {
		t.Fatalf("expected balance 25000, got %d", reloaded.BalanceMicros)
	}
}
