package engine

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"lukechampine.com/uint128"

	"github.com/wnt/binledger/internal/binmath"
	"github.com/wnt/binledger/internal/metrics"
)

// Params configures a pool at creation time.
type Params struct {
	// BinStep is the price increment per bin, in basis points.
	BinStep uint16

	// FeeRateBps is the swap fee taken on input, in basis points.
	FeeRateBps uint16

	// MaxBinsPerSwap bounds a single swap's bin walk, defending against
	// a stale active-bin pointer sending the walk across the whole id
	// space.
	MaxBinsPerSwap int

	// AmountToleranceBps is the allowed deviation between deposit
	// amounts and the per-bin split the active bin requires. Zero means
	// the amounts must match the split exactly.
	AmountToleranceBps uint16
}

const DefaultMaxBinsPerSwap = 256

// Pool is one bin ledger: a sparse bin store, the positions staked into
// it, and the active-bin pointer. All mutating operations on a pool are
// serialized behind its mutex; distinct pools are fully independent.
type Pool struct {
	mu sync.Mutex

	key         string
	binStep     uint16
	feeRateBps  uint16
	activeBinID int32
	params      Params

	store     *Store
	positions map[uuid.UUID]*Position

	halted bool
	dirty  bool

	logger zerolog.Logger
}

// NewPool creates an empty pool with the active bin at activeBinID.
func NewPool(key string, params Params, activeBinID int32, logger zerolog.Logger) (*Pool, error) {
	if params.BinStep == 0 {
		return nil, fmt.Errorf("pool %s: %w", key, binmath.ErrZeroBinStep)
	}
	if params.FeeRateBps >= binmath.BasisPointMax {
		return nil, fmt.Errorf("pool %s: fee rate %d bps out of range", key, params.FeeRateBps)
	}
	if activeBinID < binmath.MinBinID || activeBinID > binmath.MaxBinID {
		return nil, fmt.Errorf("pool %s: %w", key, ErrInvalidRange)
	}
	if params.AmountToleranceBps >= binmath.BasisPointMax {
		return nil, fmt.Errorf("pool %s: amount tolerance %d bps out of range", key, params.AmountToleranceBps)
	}
	if params.MaxBinsPerSwap <= 0 {
		params.MaxBinsPerSwap = DefaultMaxBinsPerSwap
	}
	return &Pool{
		key:         key,
		binStep:     params.BinStep,
		feeRateBps:  params.FeeRateBps,
		activeBinID: activeBinID,
		params:      params,
		store:       NewStore(),
		positions:   make(map[uuid.UUID]*Position),
		logger:      logger.With().Str("component", "pool").Str("pool", key).Logger(),
	}, nil
}

// Key returns the pool's external identifier.
func (p *Pool) Key() string {
	return p.key
}

// Halted reports whether the pool has rejected mutation after a state
// corruption.
func (p *Pool) Halted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.halted
}

// Dirty reports whether the pool has uncheckpointed changes, and clears
// the flag when reset is true.
func (p *Pool) Dirty(reset bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	d := p.dirty
	if reset {
		p.dirty = false
	}
	return d
}

// MarkDirty flags the pool as having uncheckpointed changes again, as
// when a checkpoint consumed the flag but failed to persist.
func (p *Pool) MarkDirty() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dirty = true
}

// checkMutable gates every mutating entry point. Callers hold the lock.
func (p *Pool) checkMutable() error {
	if p.halted {
		return ErrPoolHalted
	}
	return nil
}

// halt permanently disables mutation after an invariant failure. The bin
// ledger can no longer be trusted, so there is no way back.
func (p *Pool) halt(err error) {
	p.halted = true
	metrics.PoolsHalted.Inc()
	p.logger.Error().Err(err).Msg("Pool halted after invariant failure")
}

// priceOf returns the Q64.64 price of a bin in this pool.
func (p *Pool) priceOf(binID int32) (uint128.Uint128, error) {
	v, err := binmath.PriceFromID(binID, p.binStep)
	if err != nil {
		return uint128.Zero, mapMathErr(err)
	}
	return v, nil
}

// mapMathErr translates binmath failures into the engine taxonomy.
func mapMathErr(err error) error {
	switch err {
	case nil:
		return nil
	case binmath.ErrOverflow, binmath.ErrDivideByZero:
		return ErrOverflow
	case binmath.ErrBinIDOutOfRange, binmath.ErrPriceOutOfRange:
		return ErrInvalidRange
	default:
		return err
	}
}
