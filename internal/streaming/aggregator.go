// Package streaming folds an ordered sequence of response chunks for one
// in-flight request into a single usage accumulator. Tokens already streamed
// represent real vendor cost, so cancellation flushes partial state instead
// of discarding it.
package streaming

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rephlo/token-ledger/internal/models"
	"github.com/rephlo/token-ledger/internal/tokenusage"
)

// Chunk carries the token deltas of one streamed response segment. Terminal
// marks the provider's final chunk, which may also carry the authoritative
// cumulative totals.
type Chunk struct {
	InputTokens         int64
	OutputTokens        int64
	CacheCreationTokens int64
	CacheReadTokens     int64
	CachedPromptTokens  int64

	Terminal bool
	// TotalTokens is the provider-reported cumulative total on a terminal
	// chunk, 0 when the provider does not report one.
	TotalTokens int64
}

// Result is the flushed outcome of one stream.
type Result struct {
	RequestID string
	Usage     tokenusage.Usage
	Segments  int64
	Complete  bool
	Status    models.RequestStatus
	StartedAt time.Time
	EndedAt   time.Time
}

// Aggregator owns exactly one stream for one request; it is not shared
// across requests and needs no locking.
type Aggregator struct {
	requestID string
	now       func() time.Time

	startedAt           time.Time
	segments            int64
	inputTokens         int64
	outputTokens        int64
	cacheCreationTokens int64
	cacheReadTokens     int64
	cachedPromptTokens  int64
	reportedTotal       int64
	complete            bool
}

// NewAggregator returns an aggregator for one request. An empty request id
// is backfilled with a UUID so the flushed record always has an idempotency
// key.
func NewAggregator(requestID string) *Aggregator {
	if requestID == "" {
		requestID = uuid.NewString()
	}
	return &Aggregator{requestID: requestID, now: time.Now}
}

// Consume reads chunks until the channel closes, a terminal chunk arrives,
// or ctx is cancelled, then flushes the accumulated usage. The only blocking
// point is the wait for the next chunk; on cancellation the partial
// accumulator is flushed with status cancelled before control returns, so
// stream resources are never released with unrecorded tokens.
func (a *Aggregator) Consume(ctx context.Context, chunks <-chan Chunk) Result {
	a.startedAt = a.now().UTC()
	for {
		select {
		case <-ctx.Done():
			return a.flush(models.StatusCancelled)
		case chunk, ok := <-chunks:
			if !ok {
				// Producer stopped without a terminal chunk: the stream was
				// aborted upstream. Bill what was generated.
				if a.complete {
					return a.flush(models.StatusSuccess)
				}
				return a.flush(models.StatusCancelled)
			}
			a.observe(chunk)
			if chunk.Terminal {
				return a.flush(models.StatusSuccess)
			}
		}
	}
}

func (a *Aggregator) observe(chunk Chunk) {
	a.segments++
	a.inputTokens += chunk.InputTokens
	a.outputTokens += chunk.OutputTokens
	a.cacheCreationTokens += chunk.CacheCreationTokens
	a.cacheReadTokens += chunk.CacheReadTokens
	a.cachedPromptTokens += chunk.CachedPromptTokens
	if chunk.Terminal {
		a.complete = true
		if chunk.TotalTokens > 0 {
			a.reportedTotal = chunk.TotalTokens
		}
	}
}

func (a *Aggregator) flush(status models.RequestStatus) Result {
	usage := tokenusage.Usage{
		InputTokens:       a.inputTokens,
		OutputTokens:      a.outputTokens,
		CachedInputTokens: a.cacheReadTokens + a.cachedPromptTokens,
		TotalTokens:       a.reportedTotal,
	}
	if usage.TotalTokens == 0 {
		usage.TotalTokens = a.inputTokens + a.outputTokens + a.cacheCreationTokens + a.cacheReadTokens
	}
	if a.cacheCreationTokens > 0 {
		created := a.cacheCreationTokens
		usage.CacheCreationTokens = &created
	}
	if a.cacheReadTokens > 0 {
		read := a.cacheReadTokens
		usage.CacheReadTokens = &read
	}
	if a.cachedPromptTokens > 0 {
		cached := a.cachedPromptTokens
		usage.CachedPromptTokens = &cached
	}

	return Result{
		RequestID: a.requestID,
		Usage:     usage,
		Segments:  a.segments,
		Complete:  a.complete,
		Status:    status,
		StartedAt: a.startedAt,
		EndedAt:   a.now().UTC(),
	}
}
