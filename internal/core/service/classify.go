package service

import (
	"fmt"
	"sort"

	"github.com/debookshq/statement-engine/internal/core/domain"
)

const (
	lamportsPerSol = 1_000_000_000
	// nativeMint is the wrapped-SOL mint, used so native balance changes can
	// be priced through the same token metadata path as SPL tokens.
	nativeMint = "So11111111111111111111111111111111111111112"
)

// BalanceDeltaClassifier is the default Classifier strategy: it derives
// statement lines from the owner's native and token balance deltas. Program
// specific decoding (swaps, NFT marketplaces) belongs in a richer strategy
// plugged in behind the same interface.
type BalanceDeltaClassifier struct{}

// NewClassifier returns the default balance-delta classifier.
func NewClassifier() domain.Classifier {
	return &BalanceDeltaClassifier{}
}

// Classify turns one parsed transaction into zero or more records for the
// owner: a failed marker, a synthetic fee line-item when the owner paid the
// fee, and one line per native or token balance change.
func (c *BalanceDeltaClassifier) Classify(body *domain.TransactionBody, owner string, tokens map[string]domain.TokenInfo) ([]domain.ClassifiedRecord, error) {
	if body == nil {
		return nil, fmt.Errorf("nil transaction body")
	}
	if body.Signature == "" {
		return nil, fmt.Errorf("transaction body has no signature")
	}

	if !body.Success {
		return []domain.ClassifiedRecord{{
			Signature:   body.Signature,
			Timestamp:   body.BlockTime,
			Description: "Failed transaction",
			Success:     false,
			Mint:        nativeMint,
			TokenName:   "SOL",
		}}, nil
	}

	var out []domain.ClassifiedRecord

	feePaid := body.FeePayer == owner
	if feePaid {
		out = append(out, domain.ClassifiedRecord{
			Signature:   body.Signature,
			Timestamp:   body.BlockTime,
			Description: fmt.Sprintf("%s fee", domain.FeeDescriptionPrefix),
			Success:     true,
			Amount:      -float64(body.Fee) / lamportsPerSol,
			Mint:        nativeMint,
			TokenName:   "SOL",
		})
	}

	if sol := c.nativeDelta(body, owner, feePaid); sol != 0 {
		out = append(out, domain.ClassifiedRecord{
			Signature:   body.Signature,
			Timestamp:   body.BlockTime,
			Description: direction(sol) + " SOL",
			Success:     true,
			Amount:      sol,
			Mint:        nativeMint,
			TokenName:   "SOL",
		})
	}

	for _, d := range c.tokenDeltas(body, owner) {
		name := d.mint
		var logo string
		if info, ok := tokens[d.mint]; ok {
			if info.Symbol != "" {
				name = info.Symbol
			} else if info.Name != "" {
				name = info.Name
			}
			logo = info.LogoURI
		}
		out = append(out, domain.ClassifiedRecord{
			Signature:   body.Signature,
			Timestamp:   body.BlockTime,
			Description: direction(d.amount) + " " + name,
			Success:     true,
			Amount:      d.amount,
			Mint:        d.mint,
			TokenName:   name,
			LogoURI:     logo,
		})
	}

	return out, nil
}

// nativeDelta is the owner's SOL balance change with the fee added back when
// the owner paid it, so the fee shows only on its own line-item.
func (c *BalanceDeltaClassifier) nativeDelta(body *domain.TransactionBody, owner string, feePaid bool) float64 {
	idx := -1
	for i, key := range body.AccountKeys {
		if key == owner {
			idx = i
			break
		}
	}
	if idx < 0 || idx >= len(body.PreBalances) || idx >= len(body.PostBalances) {
		return 0
	}
	delta := body.PostBalances[idx] - body.PreBalances[idx]
	if feePaid {
		delta += int64(body.Fee)
	}
	return float64(delta) / lamportsPerSol
}

type tokenDelta struct {
	mint   string
	amount float64
}

// tokenDeltas aggregates post-minus-pre token balances across every account
// the owner controls in this transaction, one entry per mint, sorted for
// deterministic output.
func (c *BalanceDeltaClassifier) tokenDeltas(body *domain.TransactionBody, owner string) []tokenDelta {
	byMint := make(map[string]float64)
	for _, b := range body.PostTokenBalances {
		if b.Owner == owner {
			byMint[b.Mint] += b.Amount
		}
	}
	for _, b := range body.PreTokenBalances {
		if b.Owner == owner {
			byMint[b.Mint] -= b.Amount
		}
	}

	mints := make([]string, 0, len(byMint))
	for mint, amount := range byMint {
		if amount != 0 {
			mints = append(mints, mint)
		}
	}
	sort.Strings(mints)

	out := make([]tokenDelta, 0, len(mints))
	for _, mint := range mints {
		out = append(out, tokenDelta{mint: mint, amount: byMint[mint]})
	}
	return out
}

func direction(amount float64) string {
	if amount >= 0 {
		return "Received"
	}
	return "Sent"
}
