package engine

import (
	"sort"

	"github.com/google/uuid"
	"lukechampine.com/uint128"

	"github.com/wnt/binledger/internal/binmath"
	"github.com/wnt/binledger/internal/metrics"
)

// AccruePosition settles the position's fee entitlement against the
// current fee-growth accumulators and checkpoints them. The returned
// amounts are only what accrued since the last settlement: calling twice
// with no intervening swap yields zero the second time.
func (p *Pool) AccruePosition(id uuid.UUID) (feeX, feeY uint128.Uint128, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.checkMutable(); err != nil {
		return uint128.Zero, uint128.Zero, err
	}
	pos, err := p.openPositionByID(id)
	if err != nil {
		return uint128.Zero, uint128.Zero, err
	}

	next := pos.clone()
	fX, fY, err := p.settleFees(next)
	if err != nil {
		return uint128.Zero, uint128.Zero, err
	}
	p.positions[id] = next
	p.dirty = true

	metrics.RecordFeeSettlement("accrue")
	return fX, fY, nil
}

// CollectFees accrues and then drains the position's pending fee balance.
// Moving the tokens themselves is the caller's concern; the engine only
// tracks entitlement.
func (p *Pool) CollectFees(id uuid.UUID) (feeX, feeY uint128.Uint128, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.checkMutable(); err != nil {
		return uint128.Zero, uint128.Zero, err
	}
	pos, err := p.openPositionByID(id)
	if err != nil {
		return uint128.Zero, uint128.Zero, err
	}

	next := pos.clone()
	if _, _, err := p.settleFees(next); err != nil {
		return uint128.Zero, uint128.Zero, err
	}
	fX, fY := next.PendingFeeX, next.PendingFeeY
	next.PendingFeeX, next.PendingFeeY = uint128.Zero, uint128.Zero
	p.positions[id] = next
	p.dirty = true

	metrics.RecordFeeSettlement("collect")
	p.logger.Debug().
		Str("position", id.String()).
		Str("fee_x", fX.String()).
		Str("fee_y", fY.String()).
		Msg("Fees collected")

	return fX, fY, nil
}

// settleFees runs the checkpoint pattern over every bin the position
// holds shares in: newly accrued = (feeGrowth - feeDebt) * shares, then
// feeDebt advances to the current growth. Cost is O(range width), never
// O(positions).
func (p *Pool) settleFees(pos *Position) (feeX, feeY uint128.Uint128, err error) {
	ids := make([]int32, 0, len(pos.Shares))
	for id := range pos.Shares {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	accX, accY := uint128.Zero, uint128.Zero
	for _, id := range ids {
		shares := pos.Shares[id]
		if shares.IsZero() {
			continue
		}
		b := p.store.Get(id)
		if b == nil {
			// Shares held against a bin that no longer exists.
			return uint128.Zero, uint128.Zero, ErrStateCorruption
		}

		deltaX, err := binmath.Sub(b.FeeGrowthX, pos.FeeDebtX[id])
		if err != nil {
			// Fee growth is monotone; a checkpoint ahead of it means
			// the ledger is broken.
			return uint128.Zero, uint128.Zero, ErrStateCorruption
		}
		deltaY, err := binmath.Sub(b.FeeGrowthY, pos.FeeDebtY[id])
		if err != nil {
			return uint128.Zero, uint128.Zero, ErrStateCorruption
		}

		if !deltaX.IsZero() {
			fee, err := binmath.MulShr(deltaX, shares, binmath.ScaleOffset, binmath.RoundingDown)
			if err != nil {
				return uint128.Zero, uint128.Zero, mapMathErr(err)
			}
			accX, err = binmath.Add(accX, fee)
			if err != nil {
				return uint128.Zero, uint128.Zero, mapMathErr(err)
			}
		}
		if !deltaY.IsZero() {
			fee, err := binmath.MulShr(deltaY, shares, binmath.ScaleOffset, binmath.RoundingDown)
			if err != nil {
				return uint128.Zero, uint128.Zero, mapMathErr(err)
			}
			accY, err = binmath.Add(accY, fee)
			if err != nil {
				return uint128.Zero, uint128.Zero, mapMathErr(err)
			}
		}

		pos.FeeDebtX[id] = b.FeeGrowthX
		pos.FeeDebtY[id] = b.FeeGrowthY
	}

	pos.PendingFeeX, err = binmath.Add(pos.PendingFeeX, accX)
	if err != nil {
		return uint128.Zero, uint128.Zero, mapMathErr(err)
	}
	pos.PendingFeeY, err = binmath.Add(pos.PendingFeeY, accY)
	if err != nil {
		return uint128.Zero, uint128.Zero, mapMathErr(err)
	}
	return accX, accY, nil
}
