package engine

import (
	"errors"

	"lukechampine.com/uint128"

	"github.com/wnt/binledger/internal/binmath"
	"github.com/wnt/binledger/internal/metrics"
)

// SwapParams describes one trade. SwapForY means token X is sold for
// token Y, which walks the ledger toward lower bin ids; the reverse walks
// upward.
type SwapParams struct {
	AmountIn         uint128.Uint128
	SwapForY         bool
	MinAmountOut     uint128.Uint128
	AllowPartialFill bool
}

// SwapResult reports the executed trade. RemainingIn is non-zero only for
// partial fills.
type SwapResult struct {
	AmountIn    uint128.Uint128
	AmountOut   uint128.Uint128
	RemainingIn uint128.Uint128

	// FeeX/FeeY is the fee taken, denominated in the input token.
	FeeX uint128.Uint128
	FeeY uint128.Uint128

	StartBinID  int32
	EndBinID    int32
	BinsTouched int
}

// Swap executes a trade by walking bins outward from the active bin, one
// id at a time and strictly in price order. The fee is taken on input and
// folded into the touched bin's fee-growth accumulator; reserves only
// ever hold net amounts. All mutations stage first and commit atomically,
// so any failure leaves the pool untouched.
func (p *Pool) Swap(params SwapParams) (SwapResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.checkMutable(); err != nil {
		return SwapResult{}, err
	}
	if params.AmountIn.IsZero() {
		return SwapResult{}, ErrZeroAmount
	}

	st := p.newStaging()
	res := SwapResult{
		AmountIn:   params.AmountIn,
		StartBinID: st.activeBinID,
	}

	remaining := params.AmountIn
	out := uint128.Zero
	feeTotal := uint128.Zero

	id := st.activeBinID
	steps := 0
	for !remaining.IsZero() {
		if id < binmath.MinBinID || id > binmath.MaxBinID {
			break
		}
		if steps >= p.params.MaxBinsPerSwap {
			break
		}
		steps++
		st.activeBinID = id

		b := st.bin(id)
		counter := b.ReserveY
		if !params.SwapForY {
			counter = b.ReserveX
		}
		if counter.IsZero() {
			// Depleted or never-touched bin: step through it, never skip.
			id = p.nextBin(id, params.SwapForY)
			continue
		}

		price, err := p.priceOf(id)
		if err != nil {
			return SwapResult{}, p.failSwap(err)
		}

		maxIn, err := maxAmountIn(counter, price, params.SwapForY)
		if err != nil {
			return SwapResult{}, p.failSwap(mapMathErr(err))
		}
		maxFee, err := p.feeOnNet(maxIn)
		if err != nil {
			return SwapResult{}, p.failSwap(mapMathErr(err))
		}
		capacity, err := binmath.Add(maxIn, maxFee)
		if err != nil {
			return SwapResult{}, p.failSwap(mapMathErr(err))
		}

		if remaining.Cmp(capacity) > 0 {
			// Fully drain this bin's counter-reserve and move on.
			if err := p.consume(b, maxIn, counter, maxFee, params.SwapForY); err != nil {
				return SwapResult{}, p.failSwap(err)
			}
			out, err = binmath.Add(out, counter)
			if err != nil {
				return SwapResult{}, p.failSwap(mapMathErr(err))
			}
			feeTotal, err = binmath.Add(feeTotal, maxFee)
			if err != nil {
				return SwapResult{}, p.failSwap(mapMathErr(err))
			}
			remaining = remaining.Sub(capacity)
			res.BinsTouched++

			id = p.nextBin(id, params.SwapForY)
			st.activeBinID = id
			continue
		}

		// The bin absorbs everything that is left.
		fee, err := p.feeOnGross(remaining)
		if err != nil {
			return SwapResult{}, p.failSwap(mapMathErr(err))
		}
		net := remaining.Sub(fee)
		o, err := amountOut(net, price, params.SwapForY)
		if err != nil {
			return SwapResult{}, p.failSwap(mapMathErr(err))
		}
		if o.Cmp(counter) > 0 {
			o = counter
		}
		if err := p.consume(b, net, o, fee, params.SwapForY); err != nil {
			return SwapResult{}, p.failSwap(err)
		}
		out, err = binmath.Add(out, o)
		if err != nil {
			return SwapResult{}, p.failSwap(mapMathErr(err))
		}
		feeTotal, err = binmath.Add(feeTotal, fee)
		if err != nil {
			return SwapResult{}, p.failSwap(mapMathErr(err))
		}
		remaining = uint128.Zero
		res.BinsTouched++
	}

	if !remaining.IsZero() && !params.AllowPartialFill {
		metrics.RecordSwap("insufficient_liquidity")
		return SwapResult{}, ErrInsufficientLiquidity
	}
	if out.Cmp(params.MinAmountOut) < 0 {
		metrics.RecordSwap("slippage_exceeded")
		return SwapResult{}, ErrSlippageExceeded
	}

	if err := st.commit(); err != nil {
		p.halt(err)
		metrics.RecordSwap("corruption")
		return SwapResult{}, ErrStateCorruption
	}

	res.AmountOut = out
	res.RemainingIn = remaining
	res.EndBinID = p.activeBinID
	if params.SwapForY {
		res.FeeX = feeTotal
	} else {
		res.FeeY = feeTotal
	}

	metrics.RecordSwap("success")
	metrics.ObserveBinsTouched(res.BinsTouched)
	p.logger.Debug().
		Bool("swap_for_y", params.SwapForY).
		Str("amount_in", params.AmountIn.String()).
		Str("amount_out", out.String()).
		Str("remaining_in", remaining.String()).
		Int32("start_bin", res.StartBinID).
		Int32("end_bin", res.EndBinID).
		Int("bins_touched", res.BinsTouched).
		Msg("Swap executed")

	return res, nil
}

// failSwap records the failed outcome so every swap error shows up in
// the swap counter, then passes the error through.
func (p *Pool) failSwap(err error) error {
	switch {
	case errors.Is(err, ErrOverflow):
		metrics.RecordSwap("overflow")
	case errors.Is(err, ErrStateCorruption):
		metrics.RecordSwap("corruption")
	default:
		metrics.RecordSwap("failed")
	}
	return err
}

// nextBin advances the walk one id in the trade direction. Selling X
// pushes price down, selling Y pushes it up.
func (p *Pool) nextBin(id int32, swapForY bool) int32 {
	if swapForY {
		return id - 1
	}
	return id + 1
}

// consume applies one bin's fill to the staged bin: net input into the
// input-side reserve, output out of the counter-side reserve, fee folded
// into the fee-growth accumulator for the bin's current shares.
func (p *Pool) consume(b *Bin, net, out, fee uint128.Uint128, swapForY bool) error {
	var err error
	if swapForY {
		b.ReserveX, err = binmath.Add(b.ReserveX, net)
		if err != nil {
			return mapMathErr(err)
		}
		b.ReserveY, err = binmath.Sub(b.ReserveY, out)
		if err != nil {
			// Output exceeding the reserve means the ledger lied.
			return ErrStateCorruption
		}
	} else {
		b.ReserveY, err = binmath.Add(b.ReserveY, net)
		if err != nil {
			return mapMathErr(err)
		}
		b.ReserveX, err = binmath.Sub(b.ReserveX, out)
		if err != nil {
			return ErrStateCorruption
		}
	}
	if fee.IsZero() {
		return nil
	}
	if b.TotalShares.IsZero() {
		return ErrStateCorruption
	}
	// Fee growth is fee-per-share in Q64.64, rounded down so accrued
	// claims can never exceed the fees actually taken.
	delta, err := binmath.ShlDiv(fee, b.TotalShares, binmath.ScaleOffset, binmath.RoundingDown)
	if err != nil {
		return mapMathErr(err)
	}
	if swapForY {
		b.FeeGrowthX, err = binmath.Add(b.FeeGrowthX, delta)
	} else {
		b.FeeGrowthY, err = binmath.Add(b.FeeGrowthY, delta)
	}
	return mapMathErr(err)
}

// feeOnGross computes the fee contained in a fee-inclusive input amount,
// rounded up in the pool's favor.
func (p *Pool) feeOnGross(amount uint128.Uint128) (uint128.Uint128, error) {
	return binmath.MulDiv(amount, uint128.From64(uint64(p.feeRateBps)), uint128.From64(binmath.BasisPointMax), binmath.RoundingUp)
}

// feeOnNet computes the fee owed on top of a net amount, rounded up.
func (p *Pool) feeOnNet(net uint128.Uint128) (uint128.Uint128, error) {
	return binmath.MulDiv(net, uint128.From64(uint64(p.feeRateBps)), uint128.From64(uint64(binmath.BasisPointMax-p.feeRateBps)), binmath.RoundingUp)
}

// maxAmountIn is the input needed to drain the counter-reserve at the bin
// price, rounded up.
func maxAmountIn(counter, price uint128.Uint128, swapForY bool) (uint128.Uint128, error) {
	if swapForY {
		return binmath.ShlDiv(counter, price, binmath.ScaleOffset, binmath.RoundingUp)
	}
	return binmath.MulShr(counter, price, binmath.ScaleOffset, binmath.RoundingUp)
}

// amountOut converts a net input at the bin price, rounded down in the
// pool's favor.
func amountOut(net, price uint128.Uint128, swapForY bool) (uint128.Uint128, error) {
	if swapForY {
		return binmath.MulShr(net, price, binmath.ScaleOffset, binmath.RoundingDown)
	}
	return binmath.ShlDiv(net, price, binmath.ScaleOffset, binmath.RoundingDown)
}
