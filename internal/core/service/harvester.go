package service

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/debookshq/statement-engine/internal/core/domain"
)

const (
	// pageLimit is the upstream page-size cap for signature listings.
	pageLimit = 250
	// accountBatchWidth bounds how many accounts harvest concurrently.
	// Unbounded fan-out across every token sub-account is disallowed.
	accountBatchWidth = 200
)

// Harvester produces the deduplicated set of transaction identifiers inside a
// calendar range for a set of related accounts.
type Harvester struct {
	rpc domain.LedgerRPC
	log *zap.Logger

	// OnProgress, when set, receives (accountsDone, accountsTotal) after each
	// account finishes.
	OnProgress func(done, total int)
}

// NewHarvester builds a harvester.
func NewHarvester(rpc domain.LedgerRPC, log *zap.Logger) *Harvester {
	return &Harvester{rpc: rpc, log: log}
}

// Harvest pages every account in the set backward through the bracket,
// deduplicates the results (keep first occurrence) and filters them to block
// times strictly inside the range. An empty result is not an error; it means
// no activity in the period. Per-account page failures are logged and that
// account's remaining pages are abandoned.
func (h *Harvester) Harvest(ctx context.Context, accounts domain.AccountSet, bracket domain.SignatureBracket, rng domain.DateRange) ([]domain.SignatureInfo, error) {
	if !bracket.Complete() {
		return nil, domain.ErrBracketNotFound
	}

	var (
		mu        sync.Mutex
		harvested []domain.SignatureInfo
		done      int
	)
	total := len(accounts.Accounts)

	for lo := 0; lo < total; lo += accountBatchWidth {
		hi := lo + accountBatchWidth
		if hi > total {
			hi = total
		}

		var g errgroup.Group
		for _, account := range accounts.Accounts[lo:hi] {
			g.Go(func() error {
				sigs := h.harvestAccount(ctx, account, bracket, rng)
				mu.Lock()
				harvested = append(harvested, sigs...)
				done++
				completed := done
				mu.Unlock()
				if h.OnProgress != nil {
					h.OnProgress(completed, total)
				}
				return nil
			})
		}
		// No batch proceeds until every account in it has resolved.
		if err := g.Wait(); err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	return reconcile(harvested, rng), nil
}

// harvestAccount fetches pages for one account, strictly sequentially: each
// page's cursor is the last signature of the previous one.
func (h *Harvester) harvestAccount(ctx context.Context, account string, bracket domain.SignatureBracket, rng domain.DateRange) []domain.SignatureInfo {
	page, err := h.rpc.IdentifiersForAccount(ctx, account, domain.SignatureQuery{
		Limit:  pageLimit,
		Before: bracket.Upper,
		Until:  bracket.Lower,
	})
	if err != nil {
		h.log.Warn("signature page fetch failed, accepting partial harvest",
			zap.String("account", account), zap.Error(err))
		return nil
	}
	if len(page) == 0 {
		return nil
	}

	out := page
	oldest := page[len(page)-1]

	// A full first page whose oldest entry is still newer than the range
	// start means there is more history behind it.
	if len(page) == pageLimit {
		for oldest.BlockTime.After(rng.Start) {
			next, err := h.rpc.IdentifiersForAccount(ctx, account, domain.SignatureQuery{
				Limit:  pageLimit,
				Before: oldest.Signature,
				Until:  bracket.Lower,
			})
			if err != nil {
				h.log.Warn("signature page fetch failed, accepting partial harvest",
					zap.String("account", account), zap.String("before", oldest.Signature), zap.Error(err))
				break
			}
			if len(next) == 0 {
				break
			}
			out = append(out, next...)
			oldest = next[len(next)-1]
		}
	}
	return out
}

// reconcile deduplicates harvested signatures keeping the first occurrence,
// then keeps only those strictly inside the range. This exact filter is what
// compensates for the locator's loose start tolerance.
func reconcile(harvested []domain.SignatureInfo, rng domain.DateRange) []domain.SignatureInfo {
	seen := make(map[string]struct{}, len(harvested))
	var out []domain.SignatureInfo
	for _, s := range harvested {
		if s.Signature == "" {
			continue
		}
		if _, dup := seen[s.Signature]; dup {
			continue
		}
		seen[s.Signature] = struct{}{}
		if rng.Contains(s.BlockTime) {
			out = append(out, s)
		}
	}
	return out
}
