package engine

import (
	"math/big"

	"github.com/google/uuid"
	"lukechampine.com/uint128"

	"github.com/wnt/binledger/internal/binmath"
	"github.com/wnt/binledger/internal/metrics"
)

// MaxBinsPerPosition caps a position's range width.
const MaxBinsPerPosition = 1400

// OpenPosition creates a position over [lower, upper] and deposits
// amountX/amountY across it. Bins strictly below the active bin take only
// token Y, bins strictly above take only token X, and the active bin
// takes a mix weighted by its current composition. The supplied amounts
// must match that split within the pool's tolerance.
func (p *Pool) OpenPosition(owner string, lower, upper int32, amountX, amountY uint128.Uint128) (PositionView, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.checkMutable(); err != nil {
		return PositionView{}, err
	}
	if err := validateRange(lower, upper); err != nil {
		return PositionView{}, err
	}
	if amountX.IsZero() && amountY.IsZero() {
		return PositionView{}, ErrZeroAmount
	}

	st := p.newStaging()
	pos := newPosition(owner, lower, upper)
	if err := p.deposit(st, pos, amountX, amountY); err != nil {
		metrics.RecordLiquidityOp("open", "failed")
		return PositionView{}, err
	}
	if err := st.commit(); err != nil {
		p.halt(err)
		return PositionView{}, ErrStateCorruption
	}
	p.positions[pos.ID] = pos

	metrics.RecordLiquidityOp("open", "success")
	metrics.PositionsOpen.Inc()
	p.logger.Debug().
		Str("position", pos.ID.String()).
		Str("owner", owner).
		Int32("lower_bin", lower).
		Int32("upper_bin", upper).
		Msg("Position opened")

	return p.positionView(pos), nil
}

// IncreasePosition deposits additional liquidity into an existing
// position, proportionally across its range. Fees settle first so the new
// shares cannot claim previously earned fees.
func (p *Pool) IncreasePosition(id uuid.UUID, amountX, amountY uint128.Uint128) (PositionView, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.checkMutable(); err != nil {
		return PositionView{}, err
	}
	pos, err := p.openPositionByID(id)
	if err != nil {
		return PositionView{}, err
	}
	if amountX.IsZero() && amountY.IsZero() {
		return PositionView{}, ErrZeroAmount
	}

	next := pos.clone()
	if _, _, err := p.settleFees(next); err != nil {
		return PositionView{}, err
	}

	st := p.newStaging()
	if err := p.deposit(st, next, amountX, amountY); err != nil {
		metrics.RecordLiquidityOp("increase", "failed")
		return PositionView{}, err
	}
	if err := st.commit(); err != nil {
		p.halt(err)
		return PositionView{}, ErrStateCorruption
	}
	next.Status = PositionStatusOpen
	p.positions[id] = next

	metrics.RecordLiquidityOp("increase", "success")
	return p.positionView(next), nil
}

// DecreasePosition burns fractionBps (1..10000) of the position's shares
// in every bin and returns the withdrawn token amounts. Fee settlement
// runs before the burn so entitlement is computed against the shares that
// earned it.
func (p *Pool) DecreasePosition(id uuid.UUID, fractionBps uint32) (amountX, amountY uint128.Uint128, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.checkMutable(); err != nil {
		return uint128.Zero, uint128.Zero, err
	}
	pos, err := p.openPositionByID(id)
	if err != nil {
		return uint128.Zero, uint128.Zero, err
	}
	if fractionBps == 0 || fractionBps > binmath.BasisPointMax {
		return uint128.Zero, uint128.Zero, ErrInvalidRange
	}

	next := pos.clone()
	if _, _, err := p.settleFees(next); err != nil {
		return uint128.Zero, uint128.Zero, err
	}

	st := p.newStaging()
	outX, outY, err := p.withdraw(st, next, fractionBps)
	if err != nil {
		metrics.RecordLiquidityOp("decrease", "failed")
		return uint128.Zero, uint128.Zero, err
	}
	if err := st.commit(); err != nil {
		p.halt(err)
		return uint128.Zero, uint128.Zero, ErrStateCorruption
	}
	next.Status = PositionStatusPartiallyWithdrawn
	p.positions[id] = next

	metrics.RecordLiquidityOp("decrease", "success")
	return outX, outY, nil
}

// ClosePosition withdraws all remaining shares, collects outstanding
// fees, and destroys the position. Closed positions never reopen.
func (p *Pool) ClosePosition(id uuid.UUID) (amountX, amountY, feeX, feeY uint128.Uint128, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	zero := uint128.Zero
	if err := p.checkMutable(); err != nil {
		return zero, zero, zero, zero, err
	}
	pos, err := p.openPositionByID(id)
	if err != nil {
		return zero, zero, zero, zero, err
	}

	next := pos.clone()
	if _, _, err := p.settleFees(next); err != nil {
		return zero, zero, zero, zero, err
	}

	st := p.newStaging()
	outX, outY, err := p.withdraw(st, next, binmath.BasisPointMax)
	if err != nil {
		metrics.RecordLiquidityOp("close", "failed")
		return zero, zero, zero, zero, err
	}
	if next.hasShares() {
		// A full burn must leave nothing behind.
		p.halt(ErrStateCorruption)
		return zero, zero, zero, zero, ErrStateCorruption
	}
	if err := st.commit(); err != nil {
		p.halt(err)
		return zero, zero, zero, zero, ErrStateCorruption
	}

	fX, fY := next.PendingFeeX, next.PendingFeeY
	next.PendingFeeX, next.PendingFeeY = zero, zero
	next.Status = PositionStatusClosed
	delete(p.positions, id)

	metrics.RecordLiquidityOp("close", "success")
	metrics.PositionsOpen.Dec()
	p.logger.Debug().
		Str("position", id.String()).
		Str("amount_x", outX.String()).
		Str("amount_y", outY.String()).
		Msg("Position closed")

	return outX, outY, fX, fY, nil
}

func (p *Pool) openPositionByID(id uuid.UUID) (*Position, error) {
	pos, ok := p.positions[id]
	if !ok {
		return nil, ErrPositionNotFound
	}
	if pos.Status == PositionStatusClosed {
		return nil, ErrPositionClosed
	}
	return pos, nil
}

func validateRange(lower, upper int32) error {
	if lower > upper {
		return ErrInvalidRange
	}
	if lower < binmath.MinBinID || upper > binmath.MaxBinID {
		return ErrInvalidRange
	}
	if int64(upper)-int64(lower)+1 > MaxBinsPerPosition {
		return ErrInvalidRange
	}
	return nil
}

// depositPlan is the per-bin allocation of one deposit.
type depositPlan struct {
	perBinX map[int32]uint128.Uint128
	perBinY map[int32]uint128.Uint128
}

// deposit splits the amounts across the position's range, validates them
// against the required composition, and mints shares into the staged
// bins. pos is mutated; the caller commits the staging on success.
func (p *Pool) deposit(st *staging, pos *Position, amountX, amountY uint128.Uint128) error {
	plan, err := p.planDeposit(st, pos.LowerBinID, pos.UpperBinID, amountX, amountY)
	if err != nil {
		return err
	}

	for id := pos.LowerBinID; ; id++ {
		dx := plan.perBinX[id]
		dy := plan.perBinY[id]
		if !dx.IsZero() || !dy.IsZero() {
			if err := p.mintShares(st, pos, id, dx, dy); err != nil {
				return err
			}
		}
		if id == pos.UpperBinID {
			break
		}
	}
	return nil
}

// planDeposit computes the per-bin allocation. Each bin in range receives
// an equal slice of value; the active bin's slice is split between the
// tokens by its current composition (half and half when it is empty).
func (p *Pool) planDeposit(st *staging, lower, upper int32, amountX, amountY uint128.Uint128) (depositPlan, error) {
	active := st.activeBinID

	var nBelow, nAbove int64
	if lower < active {
		top := active - 1
		if upper < top {
			top = upper
		}
		nBelow = int64(top) - int64(lower) + 1
	}
	if upper > active {
		bottom := active + 1
		if lower > bottom {
			bottom = lower
		}
		nAbove = int64(upper) - int64(bottom) + 1
	}
	hasActive := lower <= active && active <= upper

	wX, wY, err := p.activeWeights(st, hasActive)
	if err != nil {
		return depositPlan{}, err
	}

	// Weighted bin counts per side, in Q64.64.
	denomX := new(big.Int).Lsh(big.NewInt(nAbove), binmath.ScaleOffset)
	denomX.Add(denomX, wX.Big())
	denomY := new(big.Int).Lsh(big.NewInt(nBelow), binmath.ScaleOffset)
	denomY.Add(denomY, wY.Big())

	if denomX.Sign() == 0 && !amountX.IsZero() {
		return depositPlan{}, ErrAmountMismatch
	}
	if denomY.Sign() == 0 && !amountY.IsZero() {
		return depositPlan{}, ErrAmountMismatch
	}
	if denomX.Sign() > 0 && denomY.Sign() > 0 {
		if err := p.checkSplit(active, amountX, amountY, denomX, denomY); err != nil {
			return depositPlan{}, err
		}
	}

	plan := depositPlan{
		perBinX: make(map[int32]uint128.Uint128),
		perBinY: make(map[int32]uint128.Uint128),
	}

	if !amountX.IsZero() {
		perBin, err := perBinAmount(amountX, denomX)
		if err != nil {
			return depositPlan{}, err
		}
		assigned := uint128.Zero
		for i := int64(0); i < nAbove; i++ {
			plan.perBinX[int32(int64(upper)-i)] = perBin
			assigned = assigned.Add(perBin)
		}
		rest := amountX.Sub(assigned)
		if !rest.IsZero() {
			// Remainder goes to the active bin when it takes X,
			// otherwise as dust to the X bin nearest the price.
			if hasActive && !wX.IsZero() {
				plan.perBinX[active] = rest
			} else if nAbove > 0 {
				first := active + 1
				if lower > first {
					first = lower
				}
				plan.perBinX[first] = plan.perBinX[first].Add(rest)
			}
		}
	}

	if !amountY.IsZero() {
		perBin, err := perBinAmount(amountY, denomY)
		if err != nil {
			return depositPlan{}, err
		}
		assigned := uint128.Zero
		for i := int64(0); i < nBelow; i++ {
			plan.perBinY[int32(int64(lower)+i)] = perBin
			assigned = assigned.Add(perBin)
		}
		rest := amountY.Sub(assigned)
		if !rest.IsZero() {
			if hasActive && !wY.IsZero() {
				plan.perBinY[active] = rest
			} else if nBelow > 0 {
				last := active - 1
				if upper < last {
					last = upper
				}
				plan.perBinY[last] = plan.perBinY[last].Add(rest)
			}
		}
	}

	return plan, nil
}

// activeWeights returns the active bin's X and Y value fractions in
// Q64.64. An empty active bin splits half and half.
func (p *Pool) activeWeights(st *staging, hasActive bool) (wX, wY uint128.Uint128, err error) {
	if !hasActive {
		return uint128.Zero, uint128.Zero, nil
	}
	half := uint128.From64(1).Lsh(binmath.ScaleOffset - 1)
	ab := st.bin(st.activeBinID)
	if ab.ReserveX.IsZero() && ab.ReserveY.IsZero() {
		return half, half, nil
	}
	price, err := p.priceOf(st.activeBinID)
	if err != nil {
		return uint128.Zero, uint128.Zero, err
	}
	valX, err := binmath.MulShr(ab.ReserveX, price, binmath.ScaleOffset, binmath.RoundingDown)
	if err != nil {
		return uint128.Zero, uint128.Zero, mapMathErr(err)
	}
	total, err := binmath.Add(valX, ab.ReserveY)
	if err != nil {
		return uint128.Zero, uint128.Zero, mapMathErr(err)
	}
	if total.IsZero() {
		return half, half, nil
	}
	wX, err = binmath.ShlDiv(valX, total, binmath.ScaleOffset, binmath.RoundingDown)
	if err != nil {
		return uint128.Zero, uint128.Zero, mapMathErr(err)
	}
	wY = binmath.One().Sub(wX)
	return wX, wY, nil
}

// checkSplit verifies the supplied amounts against the per-bin value
// split, cross-multiplied to stay in integers:
//
//	valueX(amountX) / denomX  ~=  amountY / denomY
//
// within the pool's tolerance.
func (p *Pool) checkSplit(active int32, amountX, amountY uint128.Uint128, denomX, denomY *big.Int) error {
	price, err := p.priceOf(active)
	if err != nil {
		return err
	}
	valX, err := binmath.MulShr(amountX, price, binmath.ScaleOffset, binmath.RoundingDown)
	if err != nil {
		return mapMathErr(err)
	}

	lhs := new(big.Int).Mul(valX.Big(), denomY)
	rhs := new(big.Int).Mul(amountY.Big(), denomX)

	diff := new(big.Int).Sub(lhs, rhs)
	diff.Abs(diff)

	limit := new(big.Int).Add(lhs, rhs)
	limit.Mul(limit, big.NewInt(int64(p.params.AmountToleranceBps)))
	limit.Quo(limit, big.NewInt(2*binmath.BasisPointMax))

	if diff.Cmp(limit) > 0 {
		return ErrAmountMismatch
	}
	return nil
}

// perBinAmount is the token amount for one full-weight bin:
// amount * 2^64 / weightedBinCount, rounded down.
func perBinAmount(amount uint128.Uint128, denom *big.Int) (uint128.Uint128, error) {
	num := new(big.Int).Lsh(amount.Big(), binmath.ScaleOffset)
	num.Quo(num, denom)
	v, err := binmath.FromBig(num)
	if err != nil {
		return uint128.Zero, mapMathErr(err)
	}
	return v, nil
}

// mintShares deposits (dx, dy) into one staged bin and mints the
// position's proportional share of it. An empty bin mints one share per
// unit of Y-denominated value; a funded bin mints pro rata against its
// current value, rounded down.
func (p *Pool) mintShares(st *staging, pos *Position, id int32, dx, dy uint128.Uint128) error {
	b := st.bin(id)
	price, err := p.priceOf(id)
	if err != nil {
		return err
	}

	depositValue, err := valueInY(dx, dy, price)
	if err != nil {
		return err
	}
	if depositValue.IsZero() {
		// Too small to be worth any shares; minting nothing would
		// silently donate the tokens to the bin.
		return ErrAmountMismatch
	}

	var minted uint128.Uint128
	if b.TotalShares.IsZero() {
		minted = depositValue
	} else {
		binValue, err := valueInY(b.ReserveX, b.ReserveY, price)
		if err != nil {
			return err
		}
		if binValue.IsZero() {
			return ErrStateCorruption
		}
		minted, err = binmath.MulDiv(b.TotalShares, depositValue, binValue, binmath.RoundingDown)
		if err != nil {
			return mapMathErr(err)
		}
	}
	if minted.IsZero() {
		return ErrAmountMismatch
	}

	b.ReserveX, err = binmath.Add(b.ReserveX, dx)
	if err != nil {
		return mapMathErr(err)
	}
	b.ReserveY, err = binmath.Add(b.ReserveY, dy)
	if err != nil {
		return mapMathErr(err)
	}
	b.TotalShares, err = binmath.Add(b.TotalShares, minted)
	if err != nil {
		return mapMathErr(err)
	}

	prior := pos.Shares[id]
	if prior.IsZero() {
		// First touch of this bin: checkpoint fee growth so the new
		// shares start with zero entitlement.
		pos.FeeDebtX[id] = b.FeeGrowthX
		pos.FeeDebtY[id] = b.FeeGrowthY
	}
	total, err := binmath.Add(prior, minted)
	if err != nil {
		return mapMathErr(err)
	}
	pos.Shares[id] = total
	return nil
}

// valueInY prices a pair of token amounts in Y units at the given bin
// price, rounded down.
func valueInY(dx, dy, price uint128.Uint128) (uint128.Uint128, error) {
	valX, err := binmath.MulShr(dx, price, binmath.ScaleOffset, binmath.RoundingDown)
	if err != nil {
		return uint128.Zero, mapMathErr(err)
	}
	v, err := binmath.Add(valX, dy)
	if err != nil {
		return uint128.Zero, mapMathErr(err)
	}
	return v, nil
}

// withdraw burns fractionBps of the position's shares bin by bin and
// returns the withdrawn amounts. pos is mutated in place.
func (p *Pool) withdraw(st *staging, pos *Position, fractionBps uint32) (outX, outY uint128.Uint128, err error) {
	frac := uint128.From64(uint64(fractionBps))
	denom := uint128.From64(binmath.BasisPointMax)

	outX, outY = uint128.Zero, uint128.Zero
	for id := pos.LowerBinID; ; id++ {
		shares := pos.Shares[id]
		if shares.IsZero() {
			if id == pos.UpperBinID {
				break
			}
			continue
		}

		burn, err := binmath.MulDiv(shares, frac, denom, binmath.RoundingDown)
		if err != nil {
			return uint128.Zero, uint128.Zero, mapMathErr(err)
		}
		if !burn.IsZero() {
			b := st.bin(id)
			if burn.Cmp(b.TotalShares) > 0 {
				return uint128.Zero, uint128.Zero, ErrStateCorruption
			}

			dx, err := binmath.MulDiv(b.ReserveX, burn, b.TotalShares, binmath.RoundingDown)
			if err != nil {
				return uint128.Zero, uint128.Zero, mapMathErr(err)
			}
			dy, err := binmath.MulDiv(b.ReserveY, burn, b.TotalShares, binmath.RoundingDown)
			if err != nil {
				return uint128.Zero, uint128.Zero, mapMathErr(err)
			}

			b.ReserveX, err = binmath.Sub(b.ReserveX, dx)
			if err != nil {
				return uint128.Zero, uint128.Zero, ErrStateCorruption
			}
			b.ReserveY, err = binmath.Sub(b.ReserveY, dy)
			if err != nil {
				return uint128.Zero, uint128.Zero, ErrStateCorruption
			}
			b.TotalShares = b.TotalShares.Sub(burn)

			remaining := shares.Sub(burn)
			if remaining.IsZero() {
				delete(pos.Shares, id)
				delete(pos.FeeDebtX, id)
				delete(pos.FeeDebtY, id)
			} else {
				pos.Shares[id] = remaining
			}

			outX, err = binmath.Add(outX, dx)
			if err != nil {
				return uint128.Zero, uint128.Zero, mapMathErr(err)
			}
			outY, err = binmath.Add(outY, dy)
			if err != nil {
				return uint128.Zero, uint128.Zero, mapMathErr(err)
			}
		}

		if id == pos.UpperBinID {
			break
		}
	}
	return outX, outY, nil
}
