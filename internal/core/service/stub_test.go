package service

import (
	"context"
	"fmt"
	"time"

	"github.com/debookshq/statement-engine/internal/core/domain"
)

// fakeRPC implements domain.LedgerRPC with overridable function fields.
type fakeRPC struct {
	latest func(ctx context.Context) (uint64, error)
	tsAt   func(ctx context.Context, slot uint64) (time.Time, error)
	idsAt  func(ctx context.Context, slot uint64) ([]string, error)
	idsFor func(ctx context.Context, account string, q domain.SignatureQuery) ([]domain.SignatureInfo, error)
	bodies func(ctx context.Context, ids []string, maxVersion int) ([]*domain.TransactionBody, error)
	subs   func(ctx context.Context, owner string) ([]domain.TokenAccount, error)
}

func (f *fakeRPC) LatestPosition(ctx context.Context) (uint64, error) {
	if f.latest == nil {
		return 0, fmt.Errorf("latest not stubbed")
	}
	return f.latest(ctx)
}

func (f *fakeRPC) TimestampAt(ctx context.Context, slot uint64) (time.Time, error) {
	if f.tsAt == nil {
		return time.Time{}, fmt.Errorf("tsAt not stubbed")
	}
	return f.tsAt(ctx, slot)
}

func (f *fakeRPC) IdentifiersAt(ctx context.Context, slot uint64) ([]string, error) {
	if f.idsAt == nil {
		return []string{fmt.Sprintf("sig-at-%d", slot)}, nil
	}
	return f.idsAt(ctx, slot)
}

func (f *fakeRPC) IdentifiersForAccount(ctx context.Context, account string, q domain.SignatureQuery) ([]domain.SignatureInfo, error) {
	if f.idsFor == nil {
		return nil, nil
	}
	return f.idsFor(ctx, account, q)
}

func (f *fakeRPC) Bodies(ctx context.Context, ids []string, maxVersion int) ([]*domain.TransactionBody, error) {
	if f.bodies == nil {
		return nil, fmt.Errorf("bodies not stubbed")
	}
	return f.bodies(ctx, ids, maxVersion)
}

func (f *fakeRPC) TokenSubAccounts(ctx context.Context, owner string) ([]domain.TokenAccount, error) {
	if f.subs == nil {
		return nil, nil
	}
	return f.subs(ctx, owner)
}

// linearLedger maps slots to block times at a fixed cadence, the shape the
// locator's interpolation assumes.
type linearLedger struct {
	genesis time.Time
	slotDur time.Duration
	tip     uint64
	missing map[uint64]bool
	probes  int
}

func newLinearLedger(genesis time.Time, tip uint64) *linearLedger {
	return &linearLedger{
		genesis: genesis,
		slotDur: 400 * time.Millisecond,
		tip:     tip,
		missing: map[uint64]bool{},
	}
}

func (l *linearLedger) rpc() *fakeRPC {
	return &fakeRPC{
		latest: func(context.Context) (uint64, error) { return l.tip, nil },
		tsAt: func(_ context.Context, slot uint64) (time.Time, error) {
			l.probes++
			if l.missing[slot] {
				return time.Time{}, fmt.Errorf("no block time at slot %d", slot)
			}
			return l.timeAt(slot), nil
		},
	}
}

func (l *linearLedger) timeAt(slot uint64) time.Time {
	return l.genesis.Add(time.Duration(slot) * l.slotDur)
}

// slotFor inverts timeAt for test assertions.
func (l *linearLedger) slotFor(ts time.Time) uint64 {
	return uint64(ts.Sub(l.genesis) / l.slotDur)
}
