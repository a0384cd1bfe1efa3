package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// FeeDescriptionPrefix marks synthetic fee line-item records. A record whose
// description starts with this prefix represents only the network fee deduction,
// not a substantive transfer.
const FeeDescriptionPrefix = "Txn"

// DateRange is a calendar range between two midnight-aligned UTC instants.
// Immutable once a retrieval begins. Membership is strict on both ends; the
// bounds themselves come from the locator's looser bracket.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// NewDateRange validates and builds a DateRange.
func NewDateRange(start, end time.Time) (DateRange, error) {
	if !start.Before(end) {
		return DateRange{}, fmt.Errorf("%w: start %s is not before end %s",
			ErrInvalidRange, start.Format("2006-01-02"), end.Format("2006-01-02"))
	}
	return DateRange{Start: start.UTC(), End: end.UTC()}, nil
}

// Contains reports whether ts lies strictly inside (Start, End).
func (r DateRange) Contains(ts time.Time) bool {
	return ts.After(r.Start) && ts.Before(r.End)
}

// SignatureBracket holds the two transaction signatures delimiting a calendar
// range on the ledger's slot axis. An empty field means the bound could not be
// resolved.
type SignatureBracket struct {
	Lower string // first signature at or just below the range start
	Upper string // first signature at or just above the range end
}

// Complete reports whether both bounds were resolved.
func (b SignatureBracket) Complete() bool {
	return b.Lower != "" && b.Upper != ""
}

// SignatureInfo is one harvested transaction identifier with its block time.
type SignatureInfo struct {
	Signature string
	Slot      uint64
	BlockTime time.Time
}

// TokenAccount is a token sub-account owned by the primary account.
type TokenAccount struct {
	Address string
	Mint    string
}

// AccountSet is the primary account plus every token sub-account owned by it
// at harvest time. Fixed for the duration of one retrieval.
type AccountSet struct {
	Owner    string
	Accounts []string
}

// NewAccountSet builds the harvest set with the owner first.
func NewAccountSet(owner string, tokenAccounts []TokenAccount) AccountSet {
	accounts := make([]string, 0, len(tokenAccounts)+1)
	accounts = append(accounts, owner)
	for _, ta := range tokenAccounts {
		accounts = append(accounts, ta.Address)
	}
	return AccountSet{Owner: owner, Accounts: accounts}
}

// TokenBalanceEntry is one pre/post token balance from a transaction's meta.
type TokenBalanceEntry struct {
	AccountIndex int
	Mint         string
	Owner        string
	Amount       float64
}

// TransactionBody is a parsed transaction as returned by the ledger RPC.
type TransactionBody struct {
	Signature         string
	Slot              uint64
	BlockTime         time.Time
	Success           bool
	Fee               uint64 // lamports
	FeePayer          string
	AccountKeys       []string
	PreBalances       []int64 // lamports, indexed like AccountKeys
	PostBalances      []int64
	PreTokenBalances  []TokenBalanceEntry
	PostTokenBalances []TokenBalanceEntry
}

// ClassifiedRecord is one human-readable statement line produced by a
// Classifier. UsdAmount stays invalid until price enrichment runs; an explicit
// zero means the token has no known price series.
type ClassifiedRecord struct {
	Signature   string              `json:"signature"`
	Timestamp   time.Time           `json:"timestamp"`
	Description string              `json:"description"`
	Success     bool                `json:"success"`
	Amount      float64             `json:"amount"`
	Mint        string              `json:"mint,omitempty"`
	TokenName   string              `json:"token_name"`
	LogoURI     string              `json:"logo_uri,omitempty"`
	UsdAmount   decimal.NullDecimal `json:"usd_amount,omitempty"`
}

// IsFeeLineItem reports whether the record is a synthetic fee deduction.
func (r ClassifiedRecord) IsFeeLineItem() bool {
	return strings.HasPrefix(r.Description, FeeDescriptionPrefix)
}

// TokenInfo is one entry from the token metadata source.
type TokenInfo struct {
	Address     string
	Name        string
	Symbol      string
	LogoURI     string
	CoinGeckoID string // price series id; empty means no historical pricing
}

// FilterOptions selects which classified records appear in the display set.
type FilterOptions struct {
	ShowFees   bool
	ShowFailed bool
	Search     string
}

// SignatureQuery bounds one page of a signature listing.
type SignatureQuery struct {
	Limit  int
	Before string
	Until  string
}

// ProgressEvent is one step of a retrieval reported to the caller.
type ProgressEvent struct {
	Stage   string `json:"stage"`
	Percent int    `json:"percent"`
	Message string `json:"message"`
}

// DisplaySet is a filtered, newest-first projection of the full record set,
// paginated by PageSize and CurrentPage.
type DisplaySet struct {
	Records     []ClassifiedRecord
	PageSize    int
	CurrentPage int
}

// NewDisplaySet builds a display set, preserving the previous page when it is
// still in range and resetting to the first page otherwise.
func NewDisplaySet(records []ClassifiedRecord, pageSize, currentPage int) DisplaySet {
	if pageSize < 1 {
		pageSize = 1
	}
	d := DisplaySet{Records: records, PageSize: pageSize, CurrentPage: currentPage}
	d.clamp()
	return d
}

// TotalPages returns ceil(len(Records) / PageSize), zero when empty.
func (d *DisplaySet) TotalPages() int {
	if len(d.Records) == 0 || d.PageSize < 1 {
		return 0
	}
	return (len(d.Records) + d.PageSize - 1) / d.PageSize
}

// SetPageSize changes the page size and re-clamps the current page.
func (d *DisplaySet) SetPageSize(n int) {
	if n < 1 {
		n = 1
	}
	d.PageSize = n
	d.clamp()
}

// SetPage moves to the requested page, clamping to the valid range.
func (d *DisplaySet) SetPage(p int) {
	d.CurrentPage = p
	d.clamp()
}

// Page returns the records on the current page.
func (d *DisplaySet) Page() []ClassifiedRecord {
	if len(d.Records) == 0 {
		return nil
	}
	lo := (d.CurrentPage - 1) * d.PageSize
	if lo >= len(d.Records) {
		return nil
	}
	hi := lo + d.PageSize
	if hi > len(d.Records) {
		hi = len(d.Records)
	}
	return d.Records[lo:hi]
}

func (d *DisplaySet) clamp() {
	tp := d.TotalPages()
	if tp == 0 {
		d.CurrentPage = 1
		return
	}
	if d.CurrentPage < 1 || d.CurrentPage > tp {
		d.CurrentPage = 1
	}
}
