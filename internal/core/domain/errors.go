package domain

import "errors"

var (
	// ErrBracketNotFound means the date range could not be resolved to a
	// signature bracket. Fatal to the retrieval session.
	ErrBracketNotFound = errors.New("could not resolve date range to a signature bracket")

	// ErrInvalidRange means the submitted calendar range is not start < end.
	ErrInvalidRange = errors.New("invalid date range")

	// ErrRateLimited is returned by a price source on HTTP 429. It is not a
	// failure; callers back off and retry.
	ErrRateLimited = errors.New("price source rate limited")

	// ErrPriceSourceUnavailable means the enrichment data source could not be
	// loaded at all. Fatal to enrichment only; conversion reverts to off.
	ErrPriceSourceUnavailable = errors.New("price source unavailable")

	// ErrSessionReplaced means a newer retrieval superseded this session
	// before it completed. Its results are discarded, not merged.
	ErrSessionReplaced = errors.New("retrieval session replaced")
)
