package service

import (
	"sort"
	"strings"

	"github.com/debookshq/statement-engine/internal/core/domain"
)

// ApplyFilters projects the full record set into the display records for the
// given filter regime: failed transactions and fee line-items are dropped
// unless their toggles are on, and the free-text search matches
// case-insensitively against the description or the signature. The result is
// stable-sorted newest first. The function is pure and idempotent.
func ApplyFilters(records []domain.ClassifiedRecord, opts domain.FilterOptions) []domain.ClassifiedRecord {
	search := strings.ToLower(opts.Search)

	out := make([]domain.ClassifiedRecord, 0, len(records))
	for _, r := range records {
		if !opts.ShowFailed && !r.Success {
			continue
		}
		if !opts.ShowFees && r.IsFeeLineItem() {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(r.Description), search) &&
			!strings.Contains(strings.ToLower(r.Signature), search) {
			continue
		}
		out = append(out, r)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}
