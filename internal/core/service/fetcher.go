package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/debookshq/statement-engine/internal/core/domain"
)

const (
	// bodyBatchSize bounds one getBodies request to the upstream maximum.
	bodyBatchSize = 250
	// bodyBatchRetries bounds retries for one failed batch before it is
	// logged and skipped.
	bodyBatchRetries = 3
	// maxSupportedVersion is passed through to the ledger RPC so versioned
	// transactions parse instead of erroring.
	maxSupportedVersion = 1
)

// BodyFetcher resolves transaction identifiers to full parsed bodies in
// bounded batches.
type BodyFetcher struct {
	rpc domain.LedgerRPC
	log *zap.Logger

	// OnProgress, when set, receives (batchesDone, batchesTotal) after each
	// batch resolves or is skipped.
	OnProgress func(done, total int)
}

// NewBodyFetcher builds a fetcher.
func NewBodyFetcher(rpc domain.LedgerRPC, log *zap.Logger) *BodyFetcher {
	return &BodyFetcher{rpc: rpc, log: log}
}

// Resolve fetches bodies for ids in order. Nil bodies (skipped or pruned
// ledger entries) are dropped. A batch that keeps failing after bounded
// retries is logged and skipped, so the result may be partial; that is
// graceful degradation, not an error.
func (f *BodyFetcher) Resolve(ctx context.Context, ids []string) ([]*domain.TransactionBody, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	totalBatches := (len(ids) + bodyBatchSize - 1) / bodyBatchSize
	out := make([]*domain.TransactionBody, 0, len(ids))

	for i, lo := 0, 0; lo < len(ids); i, lo = i+1, lo+bodyBatchSize {
		hi := lo + bodyBatchSize
		if hi > len(ids) {
			hi = len(ids)
		}

		bodies, err := f.resolveBatch(ctx, ids[lo:hi])
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			f.log.Warn("body batch failed after retries, skipping",
				zap.Int("batch", i+1),
				zap.Int("batch_size", hi-lo),
				zap.Error(err))
		}
		for _, b := range bodies {
			if b != nil {
				out = append(out, b)
			}
		}
		if f.OnProgress != nil {
			f.OnProgress(i+1, totalBatches)
		}
	}
	return out, nil
}

func (f *BodyFetcher) resolveBatch(ctx context.Context, batch []string) ([]*domain.TransactionBody, error) {
	var lastErr error
	for attempt := 1; attempt <= bodyBatchRetries; attempt++ {
		bodies, err := f.rpc.Bodies(ctx, batch, maxSupportedVersion)
		if err == nil {
			return bodies, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt < bodyBatchRetries {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}
	}
	return nil, lastErr
}
