package engine

import (
	"github.com/google/uuid"
	"lukechampine.com/uint128"
)

// PositionStatus tracks the position lifecycle. There is no transition
// out of closed; a new position must be created instead.
type PositionStatus string

const (
	PositionStatusOpen               PositionStatus = "open"
	PositionStatusPartiallyWithdrawn PositionStatus = "partially_withdrawn"
	PositionStatusClosed             PositionStatus = "closed"
)

// Position is a liquidity provider's stake across a contiguous bin range.
// It references bins by id and never holds reserves itself; all token
// custody lives in the bin store.
type Position struct {
	ID         uuid.UUID
	Owner      string
	LowerBinID int32
	UpperBinID int32
	Status     PositionStatus

	// Shares held per bin. Bins without an entry hold zero shares.
	Shares map[int32]uint128.Uint128

	// FeeDebtX/Y are the fee-growth checkpoints recorded at the last
	// settlement, one per bin. Newly accrued fees are
	// (feeGrowth - feeDebt) * shares.
	FeeDebtX map[int32]uint128.Uint128
	FeeDebtY map[int32]uint128.Uint128

	// PendingFeeX/Y accumulate accrued but uncollected fees.
	PendingFeeX uint128.Uint128
	PendingFeeY uint128.Uint128
}

func newPosition(owner string, lower, upper int32) *Position {
	return &Position{
		ID:         uuid.New(),
		Owner:      owner,
		LowerBinID: lower,
		UpperBinID: upper,
		Status:     PositionStatusOpen,
		Shares:     make(map[int32]uint128.Uint128),
		FeeDebtX:   make(map[int32]uint128.Uint128),
		FeeDebtY:   make(map[int32]uint128.Uint128),
	}
}

func (pos *Position) clone() *Position {
	c := *pos
	c.Shares = make(map[int32]uint128.Uint128, len(pos.Shares))
	for id, s := range pos.Shares {
		c.Shares[id] = s
	}
	c.FeeDebtX = make(map[int32]uint128.Uint128, len(pos.FeeDebtX))
	for id, d := range pos.FeeDebtX {
		c.FeeDebtX[id] = d
	}
	c.FeeDebtY = make(map[int32]uint128.Uint128, len(pos.FeeDebtY))
	for id, d := range pos.FeeDebtY {
		c.FeeDebtY[id] = d
	}
	return &c
}

// hasShares reports whether the position still holds shares in any bin.
func (pos *Position) hasShares() bool {
	for _, s := range pos.Shares {
		if !s.IsZero() {
			return true
		}
	}
	return false
}
