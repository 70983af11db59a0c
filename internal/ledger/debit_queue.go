package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	log "github.com/sirupsen/logrus"
)

// TaskTypeDebitRetry identifies deferred debit retry tasks on the queue.
const TaskTypeDebitRetry = "ledger:debit_retry"

// debitRetryTask is the queue payload for a deferred debit.
type debitRetryTask struct {
	RequestID string `json:"request_id"`
}

// DebitQueue enqueues deferred debit retries onto a redis-backed asynq
// queue. The queue is an accelerator: the reconciler sweep remains the
// durable path, so enqueue failures are non-fatal.
type DebitQueue struct {
	client *asynq.Client
}

// NewDebitQueue builds a queue producer, verifying the redis connection
// before returning it.
func NewDebitQueue(redisOpt asynq.RedisClientOpt) (*DebitQueue, error) {
	client := asynq.NewClient(redisOpt)

	inspector := asynq.NewInspector(redisOpt)
	defer func() { _ = inspector.Close() }()
	if _, errPing := inspector.Queues(); errPing != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ledger: debit queue redis unavailable: %w", errPing)
	}

	return &DebitQueue{client: client}, nil
}

// EnqueueRetry schedules one debit retry for the given request.
func (q *DebitQueue) EnqueueRetry(requestID string) error {
	if q == nil || q.client == nil {
		return nil
	}
	payload, errMarshal := json.Marshal(debitRetryTask{RequestID: requestID})
	if errMarshal != nil {
		return errMarshal
	}

	info, errEnqueue := q.client.Enqueue(
		asynq.NewTask(TaskTypeDebitRetry, payload),
		asynq.Queue("default"),
		asynq.MaxRetry(5),
		asynq.ProcessIn(30*time.Second),
	)
	if errEnqueue != nil {
		return errEnqueue
	}
	log.Debugf("ledger: debit retry enqueued (task=%s request_id=%s)", info.ID, requestID)
	return nil
}

// Close shuts down the queue producer.
func (q *DebitQueue) Close() error {
	if q == nil || q.client == nil {
		return nil
	}
	return q.client.Close()
}

// DebitWorker consumes deferred debit retry tasks and replays the debit
// through the writer.
type DebitWorker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	writer *Writer
}

// NewDebitWorker builds a queue consumer bound to the given writer.
func NewDebitWorker(redisOpt asynq.RedisClientOpt, writer *Writer) *DebitWorker {
	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: 4,
			Queues:      map[string]int{"default": 1},
			ErrorHandler: asynq.ErrorHandlerFunc(func(_ context.Context, task *asynq.Task, err error) {
				log.WithError(err).Warnf("ledger: debit retry task %s failed", task.Type())
			}),
		},
	)
	return &DebitWorker{server: server, mux: asynq.NewServeMux(), writer: writer}
}

// Start begins consuming retry tasks in the background.
func (w *DebitWorker) Start() error {
	if w == nil || w.server == nil {
		return nil
	}
	w.mux.HandleFunc(TaskTypeDebitRetry, w.handleDebitRetry)
	go func() {
		if errRun := w.server.Run(w.mux); errRun != nil {
			log.WithError(errRun).Error("ledger: debit worker stopped")
		}
	}()
	return nil
}

// Stop drains and shuts down the consumer.
func (w *DebitWorker) Stop() {
	if w == nil || w.server == nil {
		return
	}
	w.server.Shutdown()
}

func (w *DebitWorker) handleDebitRetry(ctx context.Context, t *asynq.Task) error {
	var task debitRetryTask
	if errUnmarshal := json.Unmarshal(t.Payload(), &task); errUnmarshal != nil {
		return fmt.Errorf("ledger: bad debit retry payload: %w", errUnmarshal)
	}
	return w.writer.RetryPendingDebit(ctx, task.RequestID)
}
