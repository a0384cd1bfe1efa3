package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/debookshq/statement-engine/internal/core/domain"
)

func pipelineRPC(t *testing.T, owner string) *fakeRPC {
	t.Helper()
	genesis := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	ledger := newLinearLedger(genesis, 12_744_000)
	rpc := ledger.rpc()

	inside := time.Date(2021, 2, 10, 12, 0, 0, 0, time.UTC)
	rpc.idsFor = func(_ context.Context, _ string, _ domain.SignatureQuery) ([]domain.SignatureInfo, error) {
		return []domain.SignatureInfo{{Signature: "sig-1", BlockTime: inside}}, nil
	}
	rpc.bodies = func(_ context.Context, ids []string, _ int) ([]*domain.TransactionBody, error) {
		out := make([]*domain.TransactionBody, len(ids))
		for i, id := range ids {
			out[i] = &domain.TransactionBody{
				Signature:    id,
				BlockTime:    inside,
				Success:      true,
				Fee:          5000,
				FeePayer:     owner,
				AccountKeys:  []string{owner},
				PreBalances:  []int64{2_000_000_000},
				PostBalances: []int64{2_500_005_000},
			}
		}
		return out, nil
	}
	rpc.subs = func(_ context.Context, _ string) ([]domain.TokenAccount, error) {
		return []domain.TokenAccount{{Address: "TokenAcct", Mint: usdcMint}}, nil
	}
	return rpc
}

func newTestEngine(rpc domain.LedgerRPC, prices domain.HistoricalPriceSource) *Engine {
	tokens := &fakeTokenList{tokens: []domain.TokenInfo{solToken}}
	if prices == nil {
		prices = &fakePrices{fn: func(string, time.Time) (decimal.Decimal, error) {
			return decimal.NewFromInt(40), nil
		}}
	}
	return NewEngine(rpc, tokens, NewClassifier(), prices, mapCache{}, zap.NewNop(), EngineOptions{
		FloorSlot:        1000,
		RateLimitBackoff: time.Millisecond,
	})
}

func TestSessionPipeline(t *testing.T) {
	rpc := pipelineRPC(t, testOwner)
	engine := newTestEngine(rpc, nil)

	sess, err := engine.Submit(context.Background(), testOwner, mustRange(t, "2021-02-10", "2021-02-11"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	var stages []string
	for ev := range sess.Progress() {
		if len(stages) == 0 || stages[len(stages)-1] != ev.Stage {
			stages = append(stages, ev.Stage)
		}
	}
	sess.Wait()

	if err := sess.Err(); err != nil {
		t.Fatalf("session error: %v", err)
	}
	records := sess.Records()
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2 (fee + received): %+v", len(records), records)
	}

	if stages[0] != StageLocating || stages[len(stages)-1] != StageDone {
		t.Errorf("stage sequence = %v", stages)
	}

	// Default filters hide the fee line.
	if got := len(sess.Display().Records); got != 1 {
		t.Errorf("display has %d records, want 1", got)
	}
	sess.SetFilters(domain.FilterOptions{ShowFees: true})
	if got := len(sess.Display().Records); got != 2 {
		t.Errorf("display with fees has %d records, want 2", got)
	}
}

func TestSessionConversionToggle(t *testing.T) {
	lookups := 0
	prices := &fakePrices{fn: func(string, time.Time) (decimal.Decimal, error) {
		lookups++
		return decimal.NewFromInt(40), nil
	}}
	engine := newTestEngine(pipelineRPC(t, testOwner), prices)

	sess, err := engine.Submit(context.Background(), testOwner, mustRange(t, "2021-02-10", "2021-02-11"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	sess.Wait()

	if err := sess.SetConversionEnabled(context.Background(), true); err != nil {
		t.Fatalf("SetConversionEnabled: %v", err)
	}
	for _, r := range sess.Records() {
		if !r.UsdAmount.Valid {
			t.Errorf("record %q unpriced after enabling conversion", r.Description)
		}
	}
	if lookups == 0 {
		t.Fatal("price source never queried")
	}

	// Toggling off keeps the computed values.
	if err := sess.SetConversionEnabled(context.Background(), false); err != nil {
		t.Fatal(err)
	}
	if sess.ConversionEnabled() {
		t.Error("conversion still reported on")
	}
	for _, r := range sess.Records() {
		if !r.UsdAmount.Valid {
			t.Error("computed USD value lost after toggling off")
		}
	}
}

func TestSessionConversionFailureRevertsOff(t *testing.T) {
	engine := newTestEngine(pipelineRPC(t, testOwner), nil)
	sess, err := engine.Submit(context.Background(), testOwner, mustRange(t, "2021-02-10", "2021-02-11"))
	if err != nil {
		t.Fatal(err)
	}
	sess.Wait()

	// Break the token list before enabling conversion.
	engine.enricher.Reset()
	engine.enricher.tokens = &fakeTokenList{err: errors.New("utl down")}

	err = sess.SetConversionEnabled(context.Background(), true)
	if !errors.Is(err, domain.ErrPriceSourceUnavailable) {
		t.Fatalf("expected ErrPriceSourceUnavailable, got %v", err)
	}
	if sess.ConversionEnabled() {
		t.Error("conversion left on after wholesale failure")
	}
}

func TestSessionSuperseded(t *testing.T) {
	rpc := pipelineRPC(t, testOwner)
	gate := make(chan struct{})
	var calls atomic.Int64
	inner := rpc.latest
	rpc.latest = func(ctx context.Context) (uint64, error) {
		if calls.Add(1) == 1 {
			<-gate
		}
		return inner(ctx)
	}

	engine := newTestEngine(rpc, nil)
	rng := mustRange(t, "2021-02-10", "2021-02-11")

	first, err := engine.Submit(context.Background(), testOwner, rng)
	if err != nil {
		t.Fatal(err)
	}
	// Make sure the first pipeline is parked at the gate before submitting
	// the replacement.
	for calls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	second, err := engine.Submit(context.Background(), testOwner, rng)
	if err != nil {
		t.Fatal(err)
	}
	second.Wait()
	if err := second.Err(); err != nil {
		t.Fatalf("second session failed: %v", err)
	}

	close(gate)
	first.Wait()

	if err := first.Err(); !errors.Is(err, domain.ErrSessionReplaced) {
		t.Fatalf("first session error = %v, want ErrSessionReplaced", err)
	}
	if len(first.Records()) != 0 {
		t.Error("superseded session merged its records")
	}
	if engine.Current() != second {
		t.Error("engine no longer points at the second session")
	}
}

func TestSessionBracketNotFound(t *testing.T) {
	genesis := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	ledger := newLinearLedger(genesis, 12_744_000)
	floor := ledger.slotFor(time.Date(2021, 2, 1, 0, 0, 0, 0, time.UTC))

	tokens := &fakeTokenList{tokens: []domain.TokenInfo{solToken}}
	prices := &fakePrices{fn: func(string, time.Time) (decimal.Decimal, error) {
		return decimal.Zero, nil
	}}
	engine := NewEngine(ledger.rpc(), tokens, NewClassifier(), prices, mapCache{}, zap.NewNop(),
		EngineOptions{FloorSlot: floor})

	sess, err := engine.Submit(context.Background(), testOwner, mustRange(t, "2021-01-05", "2021-01-06"))
	if err != nil {
		t.Fatal(err)
	}
	sess.Wait()

	if err := sess.Err(); !errors.Is(err, domain.ErrBracketNotFound) {
		t.Fatalf("session error = %v, want ErrBracketNotFound", err)
	}
	if len(sess.Display().Records) != 0 {
		t.Error("failed session still produced display records")
	}
}

func TestSubmitValidation(t *testing.T) {
	engine := newTestEngine(&fakeRPC{}, nil)
	if _, err := engine.Submit(context.Background(), "", mustRange(t, "2021-02-10", "2021-02-11")); err == nil {
		t.Error("empty account accepted")
	}
	bad := domain.DateRange{
		Start: time.Date(2021, 2, 11, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2021, 2, 10, 0, 0, 0, 0, time.UTC),
	}
	if _, err := engine.Submit(context.Background(), testOwner, bad); !errors.Is(err, domain.ErrInvalidRange) {
		t.Errorf("inverted range error = %v, want ErrInvalidRange", err)
	}
}
