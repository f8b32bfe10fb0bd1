package engine

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"lukechampine.com/uint128"

	"github.com/wnt/binledger/internal/binmath"
)

// BinView is a read-only snapshot of one bin for analytics callers.
type BinView struct {
	BinID       int32
	ReserveX    uint128.Uint128
	ReserveY    uint128.Uint128
	TotalShares uint128.Uint128
	FeeGrowthX  uint128.Uint128
	FeeGrowthY  uint128.Uint128
	Price       decimal.Decimal
}

// PositionView is a read-only snapshot of a position.
type PositionView struct {
	ID          uuid.UUID
	Owner       string
	LowerBinID  int32
	UpperBinID  int32
	Status      PositionStatus
	Shares      map[int32]uint128.Uint128
	PendingFeeX uint128.Uint128
	PendingFeeY uint128.Uint128
}

// PoolInfo is a read-only snapshot of the pool's top-level fields.
type PoolInfo struct {
	Key         string
	BinStep     uint16
	FeeRateBps  uint16
	ActiveBinID int32
	ActivePrice decimal.Decimal
	BinCount    int
	Positions   int
	Halted      bool
}

// GetBin returns a snapshot of the bin at binID. Absent bins read as
// empty.
func (p *Pool) GetBin(binID int32) (BinView, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.binView(binID)
}

// GetActiveBin returns a snapshot of the bin straddling the market price.
func (p *Pool) GetActiveBin() (BinView, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.binView(p.activeBinID)
}

// GetPosition returns a snapshot of a position.
func (p *Pool) GetPosition(id uuid.UUID) (PositionView, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pos, ok := p.positions[id]
	if !ok {
		return PositionView{}, ErrPositionNotFound
	}
	return p.positionView(pos), nil
}

// Info returns the pool's top-level snapshot.
func (p *Pool) Info() PoolInfo {
	p.mu.Lock()
	defer p.mu.Unlock()

	info := PoolInfo{
		Key:         p.key,
		BinStep:     p.binStep,
		FeeRateBps:  p.feeRateBps,
		ActiveBinID: p.activeBinID,
		BinCount:    p.store.Len(),
		Positions:   len(p.positions),
		Halted:      p.halted,
	}
	if price, err := binmath.PriceFromID(p.activeBinID, p.binStep); err == nil {
		info.ActivePrice = binmath.PriceToDecimal(price)
	}
	return info
}

func (p *Pool) binView(binID int32) (BinView, error) {
	price, err := p.priceOf(binID)
	if err != nil {
		return BinView{}, err
	}
	v := BinView{
		BinID: binID,
		Price: binmath.PriceToDecimal(price),
	}
	if b := p.store.Get(binID); b != nil {
		v.ReserveX = b.ReserveX
		v.ReserveY = b.ReserveY
		v.TotalShares = b.TotalShares
		v.FeeGrowthX = b.FeeGrowthX
		v.FeeGrowthY = b.FeeGrowthY
	}
	return v, nil
}

func (p *Pool) positionView(pos *Position) PositionView {
	shares := make(map[int32]uint128.Uint128, len(pos.Shares))
	for id, s := range pos.Shares {
		shares[id] = s
	}
	return PositionView{
		ID:          pos.ID,
		Owner:       pos.Owner,
		LowerBinID:  pos.LowerBinID,
		UpperBinID:  pos.UpperBinID,
		Status:      pos.Status,
		Shares:      shares,
		PendingFeeX: pos.PendingFeeX,
		PendingFeeY: pos.PendingFeeY,
	}
}
