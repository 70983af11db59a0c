// Package ledger persists finished usage records idempotently, maintains
// derived daily summaries, and coordinates credit-balance debits. Records
// are append-only and billable: persistence failures are never swallowed,
// while debit failures degrade to deferred reconciliation.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rephlo/token-ledger/internal/credit"
	"github.com/rephlo/token-ledger/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrInvalidRecord rejects records that would corrupt the ledger: empty
// idempotency key or negative token/cost counts.
var ErrInvalidRecord = errors.New("ledger: invalid record")

// dedupKeyTTL bounds the redis fast-path cache of seen request ids. The
// database unique index stays authoritative.
const dedupKeyTTL = 24 * time.Hour

// Writer appends usage records and coordinates the matching credit debits.
type Writer struct {
	db      *gorm.DB
	credits credit.Service

	// dedup short-circuits duplicate requestIDs before touching the
	// database; optional, nil disables the fast path.
	dedup *redis.Client

	// queue receives deferred debit retries when the credit collaborator is
	// unreachable; optional, the reconciler sweep is the durable fallback.
	queue *DebitQueue
}

// NewWriter constructs a ledger writer. dedup and queue may be nil.
func NewWriter(db *gorm.DB, credits credit.Service, dedup *redis.Client, queue *DebitQueue) *Writer {
	return &Writer{db: db, credits: credits, dedup: dedup, queue: queue}
}

// RecordToLedger appends a usage record and applies its credit debit. The
// write is idempotent on RequestID: a duplicate call is a no-op with no
// second debit. The record insert and the daily summary increment commit in
// one transaction; the debit runs afterwards through the credit
// collaborator, so no database lock is held across that call.
//
// An unreachable credit service marks the record pending-debit for later
// reconciliation instead of failing the capture. A missing credit account is
// logged and skipped. Insufficient credits propagate to the caller; the
// record itself stays, since the vendor cost is already real.
func (w *Writer) RecordToLedger(ctx context.Context, record *models.TokenUsageRecord) error {
	if w == nil || w.db == nil {
		return errors.New("ledger: nil writer")
	}
	if errValidate := validateRecord(record); errValidate != nil {
		return errValidate
	}

	if w.seenRecently(ctx, record.RequestID) {
		return nil
	}

	inserted := false
	errTx := w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "request_id"}},
			DoNothing: true,
		}).Create(record)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Duplicate requestID: idempotent success, nothing to add.
			return nil
		}
		inserted = true
		return applySummaryDelta(tx, record)
	})
	if errTx != nil {
		return fmt.Errorf("ledger: persist record: %w", errTx)
	}

	w.markSeen(ctx, record.RequestID)
	if !inserted {
		return nil
	}

	return w.applyDebit(ctx, record)
}

// applyDebit charges the record's credits through the collaborator and
// updates the record's debit state.
func (w *Writer) applyDebit(ctx context.Context, record *models.TokenUsageRecord) error {
	if record.CreditsDeducted <= 0 || w.credits == nil {
		return nil
	}

	account, errGet := w.credits.GetCurrentCredits(ctx, record.UserID)
	if errGet != nil {
		w.deferDebit(ctx, record, errGet)
		return nil
	}
	if account == nil {
		log.Warnf("ledger: no active credit account for user %d, skipping debit (request_id=%s)", record.UserID, record.RequestID)
		return nil
	}

	errDebit := w.credits.Debit(ctx, account.ID, record.CreditsDeducted, record.RequestID)
	switch {
	case errDebit == nil:
		w.setDebitState(ctx, record, models.DebitStateApplied)
		return nil
	case errors.Is(errDebit, credit.ErrInsufficientCredits):
		return errDebit
	case errors.Is(errDebit, credit.ErrNoAccount):
		log.Warnf("ledger: credit account %d vanished before debit (request_id=%s)", account.ID, record.RequestID)
		return nil
	default:
		w.deferDebit(ctx, record, errDebit)
		return nil
	}
}

// deferDebit marks the record pending and schedules a retry. The pending
// mark is durable; the queue only accelerates the reconciler sweep.
func (w *Writer) deferDebit(ctx context.Context, record *models.TokenUsageRecord, cause error) {
	log.WithError(cause).Warnf("ledger: credit service unreachable, deferring debit (request_id=%s)", record.RequestID)
	w.setDebitState(ctx, record, models.DebitStatePending)
	if w.queue != nil {
		if errEnqueue := w.queue.EnqueueRetry(record.RequestID); errEnqueue != nil {
			log.WithError(errEnqueue).Warn("ledger: failed to enqueue debit retry, reconciler sweep will retry")
		}
	}
}

func (w *Writer) setDebitState(ctx context.Context, record *models.TokenUsageRecord, state models.DebitState) {
	record.DebitState = state
	if errUpdate := w.db.WithContext(ctx).
		Model(&models.TokenUsageRecord{}).
		Where("request_id = ?", record.RequestID).
		Update("debit_state", state).Error; errUpdate != nil {
		log.WithError(errUpdate).Warnf("ledger: failed to update debit state to %s (request_id=%s)", state, record.RequestID)
	}
}

// seenRecently consults the optional redis dedup cache. Cache errors are
// logged and treated as a miss; the unique index remains authoritative.
func (w *Writer) seenRecently(ctx context.Context, requestID string) bool {
	if w.dedup == nil {
		return false
	}
	n, errExists := w.dedup.Exists(ctx, dedupKey(requestID)).Result()
	if errExists != nil {
		log.WithError(errExists).Debug("ledger: dedup cache lookup failed")
		return false
	}
	return n > 0
}

func (w *Writer) markSeen(ctx context.Context, requestID string) {
	if w.dedup == nil {
		return
	}
	if errSet := w.dedup.Set(ctx, dedupKey(requestID), 1, dedupKeyTTL).Err(); errSet != nil {
		log.WithError(errSet).Debug("ledger: dedup cache store failed")
	}
}

func dedupKey(requestID string) string {
	return "ledger:seen:" + requestID
}

func validateRecord(record *models.TokenUsageRecord) error {
	if record == nil {
		return fmt.Errorf("%w: nil record", ErrInvalidRecord)
	}
	if record.RequestID == "" {
		return fmt.Errorf("%w: empty request id", ErrInvalidRecord)
	}
	if record.UserID == 0 {
		return fmt.Errorf("%w: empty user id", ErrInvalidRecord)
	}
	if record.InputTokens < 0 || record.OutputTokens < 0 || record.CachedInputTokens < 0 || record.TotalTokens < 0 {
		return fmt.Errorf("%w: negative token count (request_id=%s)", ErrInvalidRecord, record.RequestID)
	}
	if record.VendorCostMicros < 0 || record.CreditsDeducted < 0 {
		return fmt.Errorf("%w: negative cost (request_id=%s)", ErrInvalidRecord, record.RequestID)
	}
	return nil
}

// GetUserTokenUsage returns a user's ledger entries, newest first, within
// the optional [start, end) window.
func (w *Writer) GetUserTokenUsage(ctx context.Context, userID uint64, start, end *time.Time, limit int) ([]models.TokenUsageRecord, error) {
	if w == nil || w.db == nil {
		return nil, errors.New("ledger: nil writer")
	}
	q := w.db.WithContext(ctx).
		Model(&models.TokenUsageRecord{}).
		Where("user_id = ?", userID).
		Order("request_started_at DESC, id DESC")
	if start != nil {
		q = q.Where("request_started_at >= ?", start.UTC())
	}
	if end != nil {
		q = q.Where("request_started_at < ?", end.UTC())
	}
	if limit > 0 {
		q = q.Limit(limit)
	}

	var records []models.TokenUsageRecord
	if errFind := q.Find(&records).Error; errFind != nil {
		return nil, errFind
	}
	return records, nil
}

// GetDailyTokenSummary returns the derived summary for one user and day,
// nil when no requests landed that day.
func (w *Writer) GetDailyTokenSummary(ctx context.Context, userID uint64, day string) (*models.DailyTokenSummary, error) {
	if w == nil || w.db == nil {
		return nil, errors.New("ledger: nil writer")
	}
	var summary models.DailyTokenSummary
	errFind := w.db.WithContext(ctx).
		Where("user_id = ? AND day = ?", userID, day).
		Take(&summary).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, errFind
	}
	return &summary, nil
}
