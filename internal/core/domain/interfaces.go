package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// LedgerRPC defines the ledger operations the retrieval pipeline consumes.
type LedgerRPC interface {
	// LatestPosition returns the slot at the current tip of the ledger.
	LatestPosition(ctx context.Context) (uint64, error)

	// TimestampAt returns the committed block time of a slot. Slots with no
	// committed time (skipped or pruned) return an error; callers retry at a
	// nearby slot.
	TimestampAt(ctx context.Context, slot uint64) (time.Time, error)

	// IdentifiersAt returns the transaction signatures recorded at a slot.
	IdentifiersAt(ctx context.Context, slot uint64) ([]string, error)

	// IdentifiersForAccount returns one page of signatures for an account,
	// newest first, bounded by the query's cursors.
	IdentifiersForAccount(ctx context.Context, account string, q SignatureQuery) ([]SignatureInfo, error)

	// Bodies resolves signatures to parsed transactions. A nil entry marks a
	// skipped or pruned ledger entry, not an error.
	Bodies(ctx context.Context, ids []string, maxVersion int) ([]*TransactionBody, error)

	// TokenSubAccounts lists the token accounts owned by an account.
	TokenSubAccounts(ctx context.Context, owner string) ([]TokenAccount, error)
}

// TokenListSource provides the token metadata listing, refreshed once per
// retrieval session.
type TokenListSource interface {
	List(ctx context.Context) ([]TokenInfo, error)
}

// Classifier turns a parsed transaction into statement records. It is a
// pluggable strategy; a failure drops that transaction from the working set
// without aborting the session.
type Classifier interface {
	Classify(body *TransactionBody, owner string, tokens map[string]TokenInfo) ([]ClassifiedRecord, error)
}

// HistoricalPriceSource looks up the USD daily close for a price series.
// A rate-limited upstream surfaces ErrRateLimited.
type HistoricalPriceSource interface {
	HistoricalPrice(ctx context.Context, seriesID string, day time.Time) (decimal.Decimal, error)
}

// PriceCache stores historical prices keyed by (series id, calendar day).
// Concurrent writers for the same key are benign: values are identical
// regardless of which caller computed them, so last-write-wins.
type PriceCache interface {
	Get(ctx context.Context, seriesID string, day time.Time) (decimal.Decimal, bool, error)
	Put(ctx context.Context, seriesID string, day time.Time, usd decimal.Decimal) error
}
