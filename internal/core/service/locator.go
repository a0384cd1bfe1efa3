package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/debookshq/statement-engine/internal/core/domain"
)

const (
	// coarseProbeStep is the backward slot step per 24h of remaining time
	// distance while the probe is more than a day away from the target.
	coarseProbeStep = 100_000
	// fineProbeStep is the fixed slot step used inside the last 24h, small
	// enough to avoid overshoot thrash.
	fineProbeStep = 25_000
	// maxProbesPerBound caps the locate loop for one boundary.
	maxProbesPerBound = 250
	// startTolerance is the accepted band below the range start. Slight
	// overshoot here is corrected by the harvester's exact date filter.
	startTolerance = 8 * time.Hour
	// timestampRetryShift is how far a probe moves when a slot has no
	// committed block time.
	timestampRetryShift = 50
	timestampRetryMax   = 5
	identifierRetryMax  = 5

	// DefaultFloorSlot is the lowest queryable slot on mainnet RPC providers
	// that prune early history. Never probed below.
	DefaultFloorSlot = 38_669_748
)

// RangeLocator converts a calendar date range into a signature bracket on the
// ledger's slot axis via iterative interpolation search.
type RangeLocator struct {
	rpc       domain.LedgerRPC
	log       *zap.Logger
	floorSlot uint64

	// OnProgress, when set, receives loading-text style status updates.
	OnProgress func(message string)
}

// NewRangeLocator builds a locator. A zero floorSlot selects DefaultFloorSlot.
func NewRangeLocator(rpc domain.LedgerRPC, log *zap.Logger, floorSlot uint64) *RangeLocator {
	if floorSlot == 0 {
		floorSlot = DefaultFloorSlot
	}
	return &RangeLocator{rpc: rpc, log: log, floorSlot: floorSlot}
}

// Locate resolves rng to a signature bracket. It fails with
// domain.ErrBracketNotFound when either bound cannot be resolved within the
// probe iteration budget.
func (l *RangeLocator) Locate(ctx context.Context, rng domain.DateRange) (domain.SignatureBracket, error) {
	l.report("optimizing retrieval...")

	tip, err := l.rpc.LatestPosition(ctx)
	if err != nil {
		return domain.SignatureBracket{}, fmt.Errorf("latest position: %w", err)
	}
	tipSlot, tipTime, err := l.timestampNear(ctx, tip)
	if err != nil {
		return domain.SignatureBracket{}, fmt.Errorf("%w: tip has no committed time: %v", domain.ErrBracketNotFound, err)
	}

	l.report("optimizing retrieval 1/2...")
	endSlot, endTime, err := l.seekEnd(ctx, tipSlot, tipTime, rng.End)
	if err != nil {
		return domain.SignatureBracket{}, fmt.Errorf("end bound: %w", err)
	}
	upper, err := l.firstIdentifier(ctx, endSlot)
	if err != nil {
		return domain.SignatureBracket{}, fmt.Errorf("end bound: %w", err)
	}
	l.log.Debug("located end bound",
		zap.Uint64("slot", endSlot),
		zap.Time("block_time", endTime),
		zap.String("signature", upper))

	l.report("optimizing retrieval 2/2...")
	startSlot, startTime, err := l.seekStart(ctx, endSlot, endTime, rng.Start)
	if err != nil {
		return domain.SignatureBracket{}, fmt.Errorf("start bound: %w", err)
	}
	lower, err := l.firstIdentifier(ctx, startSlot)
	if err != nil {
		return domain.SignatureBracket{}, fmt.Errorf("start bound: %w", err)
	}
	l.log.Debug("located start bound",
		zap.Uint64("slot", startSlot),
		zap.Time("block_time", startTime),
		zap.String("signature", lower))

	return domain.SignatureBracket{Lower: lower, Upper: upper}, nil
}

// seekEnd walks the probe backward from the tip until its block time crosses
// the range end, correcting forward on overshoot. The accepted position is the
// first probe whose time is at or after the target; the harvester's exclusive
// upper cursor and exact filter handle the boundary itself.
func (l *RangeLocator) seekEnd(ctx context.Context, slot uint64, ts time.Time, target time.Time) (uint64, time.Time, error) {
	probes := 0
	for ts.After(target) {
		if err := l.spend(&probes); err != nil {
			return 0, time.Time{}, err
		}
		slot = l.clampFloor(slot, backwardStep(ts.Sub(target)))

		var err error
		slot, ts, err = l.timestampNear(ctx, slot)
		if err != nil {
			return 0, time.Time{}, fmt.Errorf("%w: %v", domain.ErrBracketNotFound, err)
		}

		if ts.Before(target) {
			// Overshot: mirror the step logic forward until the probe's time
			// is back at or after the target.
			for ts.Before(target) {
				if err := l.spend(&probes); err != nil {
					return 0, time.Time{}, err
				}
				slot += backwardStep(target.Sub(ts))
				slot, ts, err = l.timestampNear(ctx, slot)
				if err != nil {
					return 0, time.Time{}, fmt.Errorf("%w: %v", domain.ErrBracketNotFound, err)
				}
			}
			return slot, ts, nil
		}

		if slot == l.floorSlot && ts.After(target) {
			// The whole queryable ledger starts after the requested end.
			return 0, time.Time{}, fmt.Errorf("%w: range ends before first queryable slot %d", domain.ErrBracketNotFound, l.floorSlot)
		}
	}
	return slot, ts, nil
}

// seekStart walks backward from the end bound until the probe's time falls
// inside the (start - tolerance, start] band. Overshoot past the band is
// corrected forward; the floor slot is accepted as-is when reached.
func (l *RangeLocator) seekStart(ctx context.Context, slot uint64, ts time.Time, target time.Time) (uint64, time.Time, error) {
	probes := 0
	for ts.After(target) {
		if err := l.spend(&probes); err != nil {
			return 0, time.Time{}, err
		}

		d := ts.Sub(target)
		var step uint64
		if d > 24*time.Hour {
			// The start bound approaches from further away; double the coarse
			// step to converge in fewer probes.
			step = 2 * scaledStep(d)
		} else {
			step = fineProbeStep
		}
		slot = l.clampFloor(slot, step)

		var err error
		slot, ts, err = l.timestampNear(ctx, slot)
		if err != nil {
			return 0, time.Time{}, fmt.Errorf("%w: %v", domain.ErrBracketNotFound, err)
		}

		if behind := target.Sub(ts); behind >= startTolerance {
			// Overshot beyond the tolerance band; walk forward back into it.
			for target.Sub(ts) > startTolerance {
				if err := l.spend(&probes); err != nil {
					return 0, time.Time{}, err
				}
				behind = target.Sub(ts)
				var fwd uint64
				if behind > 48*time.Hour {
					fwd = scaledStep(behind)
				} else {
					fwd = fineProbeStep
				}
				slot += fwd
				slot, ts, err = l.timestampNear(ctx, slot)
				if err != nil {
					return 0, time.Time{}, fmt.Errorf("%w: %v", domain.ErrBracketNotFound, err)
				}
			}
		}

		if slot == l.floorSlot {
			// Found-at-floor: the range starts before the first queryable
			// slot; the harvester's exact filter bounds the low side.
			return slot, ts, nil
		}
	}
	return slot, ts, nil
}

// timestampNear fetches the block time at slot, retrying deterministically
// nearby when the slot has no committed time. Returns the slot that answered.
func (l *RangeLocator) timestampNear(ctx context.Context, slot uint64) (uint64, time.Time, error) {
	var lastErr error
	for attempt := 0; attempt < timestampRetryMax; attempt++ {
		probe := slot + uint64(attempt)*timestampRetryShift
		if attempt > 0 && probe < l.floorSlot {
			probe = l.floorSlot
		}
		ts, err := l.rpc.TimestampAt(ctx, probe)
		if err == nil {
			return probe, ts, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return 0, time.Time{}, ctx.Err()
		}
	}
	return 0, time.Time{}, fmt.Errorf("no block time near slot %d: %v", slot, lastErr)
}

// firstIdentifier reads the first signature recorded at slot, probing forward
// past skipped slots.
func (l *RangeLocator) firstIdentifier(ctx context.Context, slot uint64) (string, error) {
	var lastErr error
	for attempt := 0; attempt < identifierRetryMax; attempt++ {
		ids, err := l.rpc.IdentifiersAt(ctx, slot+uint64(attempt))
		if err == nil && len(ids) > 0 {
			return ids[0], nil
		}
		if err != nil {
			lastErr = err
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
	}
	return "", fmt.Errorf("%w: no signatures near slot %d: %v", domain.ErrBracketNotFound, slot, lastErr)
}

func (l *RangeLocator) spend(probes *int) error {
	*probes++
	if *probes > maxProbesPerBound {
		return fmt.Errorf("%w: probe budget of %d exhausted", domain.ErrBracketNotFound, maxProbesPerBound)
	}
	return nil
}

func (l *RangeLocator) clampFloor(slot, step uint64) uint64 {
	if slot <= l.floorSlot+step {
		return l.floorSlot
	}
	return slot - step
}

func (l *RangeLocator) report(msg string) {
	if l.OnProgress != nil {
		l.OnProgress(msg)
	}
}

// backwardStep picks the slot step for a remaining time distance: coarse and
// proportional beyond 24h, fixed fine inside it.
func backwardStep(d time.Duration) uint64 {
	if d > 24*time.Hour {
		return scaledStep(d)
	}
	return fineProbeStep
}

// scaledStep is coarseProbeStep slots per 24h of distance.
func scaledStep(d time.Duration) uint64 {
	return uint64(float64(coarseProbeStep) * d.Hours() / 24)
}
