package engine

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"lukechampine.com/uint128"

	"github.com/wnt/binledger/internal/binmath"
)

// Snapshot is the full serializable state of one pool: the top-level
// fields plus one record per non-empty bin and one per position. A pool
// reloads from a snapshot alone.
type Snapshot struct {
	Key         string
	BinStep     uint16
	FeeRateBps  uint16
	ActiveBinID int32
	Params      Params
	Bins        []BinSnapshot
	Positions   []PositionSnapshot
}

// BinSnapshot is one persisted bin record.
type BinSnapshot struct {
	BinID       int32
	ReserveX    uint128.Uint128
	ReserveY    uint128.Uint128
	TotalShares uint128.Uint128
	FeeGrowthX  uint128.Uint128
	FeeGrowthY  uint128.Uint128
}

// PositionSnapshot is one persisted position record.
type PositionSnapshot struct {
	ID          uuid.UUID
	Owner       string
	LowerBinID  int32
	UpperBinID  int32
	Status      PositionStatus
	Shares      map[int32]uint128.Uint128
	FeeDebtX    map[int32]uint128.Uint128
	FeeDebtY    map[int32]uint128.Uint128
	PendingFeeX uint128.Uint128
	PendingFeeY uint128.Uint128
}

// Snapshot captures the pool's current state for checkpointing.
func (p *Pool) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	snap := Snapshot{
		Key:         p.key,
		BinStep:     p.binStep,
		FeeRateBps:  p.feeRateBps,
		ActiveBinID: p.activeBinID,
		Params:      p.params,
	}

	for _, id := range p.store.IDs() {
		b := p.store.Get(id)
		snap.Bins = append(snap.Bins, BinSnapshot{
			BinID:       id,
			ReserveX:    b.ReserveX,
			ReserveY:    b.ReserveY,
			TotalShares: b.TotalShares,
			FeeGrowthX:  b.FeeGrowthX,
			FeeGrowthY:  b.FeeGrowthY,
		})
	}

	for _, pos := range p.positions {
		ps := PositionSnapshot{
			ID:          pos.ID,
			Owner:       pos.Owner,
			LowerBinID:  pos.LowerBinID,
			UpperBinID:  pos.UpperBinID,
			Status:      pos.Status,
			Shares:      make(map[int32]uint128.Uint128, len(pos.Shares)),
			FeeDebtX:    make(map[int32]uint128.Uint128, len(pos.FeeDebtX)),
			FeeDebtY:    make(map[int32]uint128.Uint128, len(pos.FeeDebtY)),
			PendingFeeX: pos.PendingFeeX,
			PendingFeeY: pos.PendingFeeY,
		}
		for id, s := range pos.Shares {
			ps.Shares[id] = s
		}
		for id, d := range pos.FeeDebtX {
			ps.FeeDebtX[id] = d
		}
		for id, d := range pos.FeeDebtY {
			ps.FeeDebtY[id] = d
		}
		snap.Positions = append(snap.Positions, ps)
	}

	return snap
}

// RestorePool rebuilds a pool from a snapshot, re-validating every bin on
// the way in.
func RestorePool(snap Snapshot, logger zerolog.Logger) (*Pool, error) {
	params := snap.Params
	params.BinStep = snap.BinStep
	params.FeeRateBps = snap.FeeRateBps

	p, err := NewPool(snap.Key, params, snap.ActiveBinID, logger)
	if err != nil {
		return nil, err
	}

	for _, bs := range snap.Bins {
		if bs.BinID < binmath.MinBinID || bs.BinID > binmath.MaxBinID {
			return nil, fmt.Errorf("pool %s: bin %d: %w", snap.Key, bs.BinID, ErrInvalidRange)
		}
		b := &Bin{
			ReserveX:    bs.ReserveX,
			ReserveY:    bs.ReserveY,
			TotalShares: bs.TotalShares,
			FeeGrowthX:  bs.FeeGrowthX,
			FeeGrowthY:  bs.FeeGrowthY,
		}
		if err := p.store.apply(bs.BinID, b); err != nil {
			return nil, fmt.Errorf("pool %s: bin %d: %w", snap.Key, bs.BinID, err)
		}
	}

	for _, ps := range snap.Positions {
		if ps.LowerBinID > ps.UpperBinID {
			return nil, fmt.Errorf("pool %s: position %s: %w", snap.Key, ps.ID, ErrInvalidRange)
		}
		pos := &Position{
			ID:          ps.ID,
			Owner:       ps.Owner,
			LowerBinID:  ps.LowerBinID,
			UpperBinID:  ps.UpperBinID,
			Status:      ps.Status,
			Shares:      make(map[int32]uint128.Uint128, len(ps.Shares)),
			FeeDebtX:    make(map[int32]uint128.Uint128, len(ps.FeeDebtX)),
			FeeDebtY:    make(map[int32]uint128.Uint128, len(ps.FeeDebtY)),
			PendingFeeX: ps.PendingFeeX,
			PendingFeeY: ps.PendingFeeY,
		}
		for id, s := range ps.Shares {
			pos.Shares[id] = s
		}
		for id, d := range ps.FeeDebtX {
			pos.FeeDebtX[id] = d
		}
		for id, d := range ps.FeeDebtY {
			pos.FeeDebtY[id] = d
		}
		p.positions[pos.ID] = pos
	}

	return p, nil
}
