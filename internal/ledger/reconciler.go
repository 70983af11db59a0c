package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/rephlo/token-ledger/internal/credit"
	"github.com/rephlo/token-ledger/internal/models"
	"github.com/rephlo/token-ledger/internal/settings"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	// pendingMinAge keeps the sweep from racing a queue retry that is
	// already in flight for a freshly deferred debit.
	pendingMinAge        = time.Minute
	pendingSweepBatch    = 200
	maxSweepRoundsPerRun = 50
)

// RetryPendingDebit replays the deferred debit for one record. A record
// that is no longer pending is a no-op. Insufficient credits at retry time
// mark the record skipped: there is no caller left to reject, so the miss
// is recorded rather than retried forever.
func (w *Writer) RetryPendingDebit(ctx context.Context, requestID string) error {
	if w == nil || w.db == nil {
		return errors.New("ledger: nil writer")
	}
	var record models.TokenUsageRecord
	errFind := w.db.WithContext(ctx).
		Where("request_id = ? AND debit_state = ?", requestID, models.DebitStatePending).
		Take(&record).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil
		}
		return errFind
	}
	if record.CreditsDeducted <= 0 || w.credits == nil {
		w.setDebitState(ctx, &record, models.DebitStateSkipped)
		return nil
	}

	account, errGet := w.credits.GetCurrentCredits(ctx, record.UserID)
	if errGet != nil {
		return errGet // stays pending, task/sweep retries
	}
	if account == nil {
		log.Warnf("ledger: no credit account at debit retry, skipping (request_id=%s user=%d)", requestID, record.UserID)
		w.setDebitState(ctx, &record, models.DebitStateSkipped)
		return nil
	}

	errDebit := w.credits.Debit(ctx, account.ID, record.CreditsDeducted, record.RequestID)
	switch {
	case errDebit == nil:
		w.setDebitState(ctx, &record, models.DebitStateApplied)
		return nil
	case errors.Is(errDebit, credit.ErrInsufficientCredits),
		errors.Is(errDebit, credit.ErrNoAccount):
		log.WithError(errDebit).Warnf("ledger: debit retry cannot apply, skipping (request_id=%s)", requestID)
		w.setDebitState(ctx, &record, models.DebitStateSkipped)
		return nil
	default:
		return errDebit
	}
}

// Reconciler periodically sweeps pending-debit records and replays their
// debits. It is the durable fallback behind the queue-based retries.
type Reconciler struct {
	writer *Writer
}

// NewReconciler builds a sweep loop over the given writer.
func NewReconciler(writer *Writer) *Reconciler {
	if writer == nil {
		return nil
	}
	return &Reconciler{writer: writer}
}

// Start launches the sweep loop in a background goroutine.
func (r *Reconciler) Start(ctx context.Context) {
	if r == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	go r.run(ctx)
	log.Info("ledger: debit reconciler started")
}

func (r *Reconciler) run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		r.SweepOnce(ctx)

		interval := time.Duration(settings.DBConfigInt(
			settings.DebitReconcileIntervalSecondsKey,
			settings.DefaultDebitReconcileIntervalSeconds)) * time.Second
		if interval <= 0 {
			interval = settings.DefaultDebitReconcileIntervalSeconds * time.Second
		}
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			if !timer.Stop() {
				<-timer.C
			}
			return
		case <-timer.C:
		}
	}
}

// SweepOnce replays pending debits older than pendingMinAge in bounded
// batches.
func (r *Reconciler) SweepOnce(ctx context.Context) {
	if r == nil || r.writer == nil || r.writer.db == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	cutoff := time.Now().UTC().Add(-pendingMinAge)

	stuck := 0
	for round := 0; round < maxSweepRoundsPerRun; round++ {
		if ctx.Err() != nil {
			return
		}
		var requestIDs []string
		errFind := r.writer.db.WithContext(ctx).
			Model(&models.TokenUsageRecord{}).
			Where("debit_state = ? AND created_at < ?", models.DebitStatePending, cutoff).
			Order("created_at ASC").
			Limit(pendingSweepBatch).
			Offset(stuck).
			Pluck("request_id", &requestIDs).Error
		if errFind != nil {
			log.WithError(errFind).Warn("ledger: pending debit sweep query failed")
			return
		}
		if len(requestIDs) == 0 {
			break
		}
		for _, requestID := range requestIDs {
			if errRetry := r.writer.RetryPendingDebit(ctx, requestID); errRetry != nil {
				log.WithError(errRetry).Warnf("ledger: pending debit retry failed (request_id=%s)", requestID)
				// Record stays pending; offset past it so the round advances.
				stuck++
			}
		}
		if len(requestIDs) < pendingSweepBatch {
			break
		}
	}
}
