package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/debookshq/statement-engine/internal/core/domain"
)

const defaultPageSize = 10

// Retrieval stages reported over the progress channel.
const (
	StageLocating    = "locating"
	StageHarvesting  = "harvesting"
	StageFetching    = "fetching"
	StageClassifying = "classifying"
	StagePricing     = "pricing"
	StageDone        = "done"
)

// EngineOptions tunes the retrieval pipeline.
type EngineOptions struct {
	FloorSlot        uint64        // lowest queryable slot; zero selects the default
	RateLimitBackoff time.Duration // price-source 429 backoff; zero selects the default
}

// Engine builds and owns retrieval sessions. At most one session is current;
// submitting a new one supersedes the previous, whose in-flight results are
// refused at merge time.
type Engine struct {
	rpc        domain.LedgerRPC
	tokens     domain.TokenListSource
	classifier domain.Classifier
	enricher   *PriceEnricher
	log        *zap.Logger
	opts       EngineOptions

	mu      sync.RWMutex
	current *Session
}

// NewEngine wires the pipeline components.
func NewEngine(
	rpc domain.LedgerRPC,
	tokens domain.TokenListSource,
	classifier domain.Classifier,
	prices domain.HistoricalPriceSource,
	cache domain.PriceCache,
	log *zap.Logger,
	opts EngineOptions,
) *Engine {
	return &Engine{
		rpc:        rpc,
		tokens:     tokens,
		classifier: classifier,
		enricher:   NewPriceEnricher(tokens, prices, cache, log, opts.RateLimitBackoff),
		log:        log,
		opts:       opts,
	}
}

// Session is one retrieval for an (account, date range) submission. All of
// its state is scoped to the submission and replaced wholesale by the next
// one; only the price cache outlives it.
type Session struct {
	ID      string
	Account string
	Range   domain.DateRange

	engine   *Engine
	progress chan domain.ProgressEvent
	done     chan struct{}

	mu         sync.RWMutex
	records    []domain.ClassifiedRecord
	filters    domain.FilterOptions
	display    domain.DisplaySet
	conversion bool
	err        error
}

// Submit starts a new retrieval session, superseding any current one. The
// previous session's outstanding work is allowed to complete but its results
// are not merged.
func (e *Engine) Submit(ctx context.Context, account string, rng domain.DateRange) (*Session, error) {
	if account == "" {
		return nil, fmt.Errorf("account is required")
	}
	if !rng.Start.Before(rng.End) {
		return nil, domain.ErrInvalidRange
	}

	s := &Session{
		ID:       uuid.NewString(),
		Account:  account,
		Range:    rng,
		engine:   e,
		progress: make(chan domain.ProgressEvent, 64),
		done:     make(chan struct{}),
		display:  domain.NewDisplaySet(nil, defaultPageSize, 1),
	}

	e.mu.Lock()
	e.current = s
	e.mu.Unlock()

	// Token list mappings are refreshed once per session.
	e.enricher.Reset()

	e.log.Info("retrieval session started",
		zap.String("session", s.ID),
		zap.String("account", account),
		zap.Time("start", rng.Start),
		zap.Time("end", rng.End))

	go s.run(ctx)
	return s, nil
}

// Current returns the active session, or nil.
func (e *Engine) Current() *Session {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.current
}

func (e *Engine) isCurrent(s *Session) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.current == s
}

// run executes the pipeline: locate -> harvest -> fetch -> classify.
func (s *Session) run(ctx context.Context) {
	defer close(s.done)
	defer close(s.progress)

	e := s.engine

	s.emit(StageLocating, 0, "optimizing retrieval...")
	locator := NewRangeLocator(e.rpc, e.log, e.opts.FloorSlot)
	locator.OnProgress = func(msg string) { s.emit(StageLocating, 0, msg) }
	bracket, err := locator.Locate(ctx, s.Range)
	if err != nil {
		s.finish(ctx, nil, err)
		return
	}

	tokenAccounts, err := e.rpc.TokenSubAccounts(ctx, s.Account)
	if err != nil {
		// Harvest degrades to the primary account alone.
		e.log.Warn("token sub-account listing failed", zap.String("account", s.Account), zap.Error(err))
	}
	set := domain.NewAccountSet(s.Account, tokenAccounts)

	s.emit(StageHarvesting, 0, "pre-fetch...")
	harvester := NewHarvester(e.rpc, e.log)
	harvester.OnProgress = func(done, total int) {
		s.emit(StageHarvesting, percent(done, total), fmt.Sprintf("pre-fetch... %d%%", percent(done, total)))
	}
	sigs, err := harvester.Harvest(ctx, set, bracket, s.Range)
	if err != nil {
		s.finish(ctx, nil, err)
		return
	}

	ids := make([]string, len(sigs))
	for i, sig := range sigs {
		ids[i] = sig.Signature
	}

	s.emit(StageFetching, 0, "fetching data...")
	fetcher := NewBodyFetcher(e.rpc, e.log)
	fetcher.OnProgress = func(done, total int) {
		s.emit(StageFetching, percent(done, total), fmt.Sprintf("fetching data... %d%%", percent(done, total)))
	}
	bodies, err := fetcher.Resolve(ctx, ids)
	if err != nil {
		s.finish(ctx, nil, err)
		return
	}

	s.emit(StageClassifying, 0, "analyzing...")
	tokens := s.tokenIndex(ctx)
	var records []domain.ClassifiedRecord
	for _, body := range bodies {
		recs, err := e.classifier.Classify(body, s.Account, tokens)
		if err != nil {
			// Per-record failure: logged and dropped, never fatal.
			e.log.Warn("classification failed, dropping record", zap.Error(err))
			continue
		}
		records = append(records, recs...)
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp.After(records[j].Timestamp)
	})

	s.finish(ctx, records, nil)
}

// finish merges the pipeline result into the session, unless a newer
// submission superseded it in the meantime.
func (s *Session) finish(ctx context.Context, records []domain.ClassifiedRecord, err error) {
	if !s.engine.isCurrent(s) {
		s.mu.Lock()
		s.err = domain.ErrSessionReplaced
		s.mu.Unlock()
		s.engine.log.Info("discarding results of superseded session", zap.String("session", s.ID))
		return
	}

	s.mu.Lock()
	s.err = err
	s.records = records
	s.recomputeLocked()
	convert := err == nil && s.conversion
	s.mu.Unlock()

	if convert {
		// The record set changed while conversion was active; re-enter
		// enrichment.
		s.emit(StagePricing, 0, "converting to USD...")
		if convErr := s.applyConversion(ctx); convErr != nil {
			s.engine.log.Warn("conversion failed after retrieval", zap.Error(convErr))
		}
	}

	s.emit(StageDone, 100, "done")
	s.engine.log.Info("retrieval session finished",
		zap.String("session", s.ID),
		zap.Int("records", len(records)),
		zap.Error(err))
}

// Progress returns the event stream for this session. The channel closes when
// the retrieval finishes.
func (s *Session) Progress() <-chan domain.ProgressEvent { return s.progress }

// Wait blocks until the retrieval pipeline has finished.
func (s *Session) Wait() { <-s.done }

// Done returns a channel closed when the retrieval pipeline has finished.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err reports the terminal failure, if any. domain.ErrBracketNotFound is the
// dedicated could-not-resolve-date-range signal; an empty record set with a
// nil error means no activity in the period.
func (s *Session) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// Records returns a copy of the full classified record set.
func (s *Session) Records() []domain.ClassifiedRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.ClassifiedRecord, len(s.records))
	copy(out, s.records)
	return out
}

// Display returns the current filtered, paginated view.
func (s *Session) Display() domain.DisplaySet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.display
}

// Filters returns the active filter options.
func (s *Session) Filters() domain.FilterOptions {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filters
}

// ConversionEnabled reports whether USD conversion is active.
func (s *Session) ConversionEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conversion
}

// SetFilters replaces the filter options and recomputes the display set.
func (s *Session) SetFilters(opts domain.FilterOptions) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filters = opts
	s.recomputeLocked()
}

// SetPageSize changes the page size, clamping the current page.
func (s *Session) SetPageSize(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.display.SetPageSize(n)
}

// SetPage moves the current page, clamping to the valid range.
func (s *Session) SetPage(p int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.display.SetPage(p)
}

// SetConversionEnabled toggles USD conversion. Toggling on enriches the
// current record set; a wholesale enrichment failure turns conversion back
// off and is surfaced as a single error. Toggling off keeps previously
// computed values.
func (s *Session) SetConversionEnabled(ctx context.Context, enabled bool) error {
	if !enabled {
		s.mu.Lock()
		s.conversion = false
		s.mu.Unlock()
		return nil
	}

	s.mu.Lock()
	s.conversion = true
	empty := len(s.records) == 0
	s.mu.Unlock()
	if empty {
		return nil
	}
	return s.applyConversion(ctx)
}

// applyConversion enriches a snapshot of the records and merges the result if
// this session is still current and conversion is still on.
func (s *Session) applyConversion(ctx context.Context) error {
	s.mu.RLock()
	snapshot := make([]domain.ClassifiedRecord, len(s.records))
	copy(snapshot, s.records)
	s.mu.RUnlock()

	enriched, err := s.engine.enricher.Enrich(ctx, snapshot)
	if err != nil {
		s.mu.Lock()
		s.conversion = false
		s.mu.Unlock()
		return err
	}

	if !s.engine.isCurrent(s) {
		return domain.ErrSessionReplaced
	}

	s.mu.Lock()
	if s.conversion {
		s.records = enriched
		s.recomputeLocked()
	}
	s.mu.Unlock()
	return nil
}

// tokenIndex loads the token list for classification, degrading to an empty
// index when the source is unavailable.
func (s *Session) tokenIndex(ctx context.Context) map[string]domain.TokenInfo {
	tokens, err := s.engine.tokens.List(ctx)
	if err != nil {
		s.engine.log.Warn("token list unavailable, classifying without metadata", zap.Error(err))
		return map[string]domain.TokenInfo{}
	}
	index := make(map[string]domain.TokenInfo, len(tokens))
	for _, t := range tokens {
		index[t.Address] = t
	}
	return index
}

func (s *Session) recomputeLocked() {
	filtered := ApplyFilters(s.records, s.filters)
	pageSize := s.display.PageSize
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	s.display = domain.NewDisplaySet(filtered, pageSize, s.display.CurrentPage)
}

func (s *Session) emit(stage string, pct int, msg string) {
	ev := domain.ProgressEvent{Stage: stage, Percent: pct, Message: msg}
	select {
	case s.progress <- ev:
	default:
		// A slow consumer drops events rather than stalling the pipeline.
	}
}

func percent(done, total int) int {
	if total <= 0 {
		return 0
	}
	pct := done * 100 / total
	if pct > 100 {
		pct = 100
	}
	return pct
}
