package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strconv"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"lukechampine.com/uint128"

	"github.com/wnt/binledger/internal/binmath"
	"github.com/wnt/binledger/internal/engine"
	"github.com/wnt/binledger/internal/metrics"
	"github.com/wnt/binledger/internal/models"
)

// SavePool checkpoints one pool: the pool row is upserted and the bin and
// position rows are replaced wholesale inside a transaction, so a crash
// mid-checkpoint never leaves a torn snapshot.
func SavePool(db *gorm.DB, snap engine.Snapshot) error {
	err := db.Transaction(func(tx *gorm.DB) error {
		record := models.PoolRecord{
			Key:                snap.Key,
			BinStep:            snap.BinStep,
			FeeRateBps:         snap.FeeRateBps,
			ActiveBinID:        snap.ActiveBinID,
			MaxBinsPerSwap:     snap.Params.MaxBinsPerSwap,
			AmountToleranceBps: snap.Params.AmountToleranceBps,
			Status:             "active",
		}
		if price, perr := binmath.PriceFromID(snap.ActiveBinID, snap.BinStep); perr == nil {
			record.ActivePrice = binmath.PriceToDecimal(price).InexactFloat64()
		}

		var existing models.PoolRecord
		res := tx.Where("key = ?", snap.Key).First(&existing)
		switch {
		case res.Error == nil:
			record.ID = existing.ID
			record.CreatedAt = existing.CreatedAt
			if err := tx.Save(&record).Error; err != nil {
				return fmt.Errorf("failed to update pool record: %w", err)
			}
		case errors.Is(res.Error, gorm.ErrRecordNotFound):
			if err := tx.Create(&record).Error; err != nil {
				return fmt.Errorf("failed to create pool record: %w", err)
			}
		default:
			return fmt.Errorf("failed to look up pool record: %w", res.Error)
		}

		if err := tx.Where("pool_id = ?", record.ID).Unscoped().Delete(&models.BinRecord{}).Error; err != nil {
			return fmt.Errorf("failed to clear bin records: %w", err)
		}
		if err := tx.Where("pool_id = ?", record.ID).Unscoped().Delete(&models.PositionRecord{}).Error; err != nil {
			return fmt.Errorf("failed to clear position records: %w", err)
		}

		for _, bs := range snap.Bins {
			row := models.BinRecord{
				PoolID:      record.ID,
				BinID:       bs.BinID,
				ReserveX:    bs.ReserveX.String(),
				ReserveY:    bs.ReserveY.String(),
				TotalShares: bs.TotalShares.String(),
				FeeGrowthX:  bs.FeeGrowthX.String(),
				FeeGrowthY:  bs.FeeGrowthY.String(),
			}
			if price, perr := binmath.PriceFromID(bs.BinID, snap.BinStep); perr == nil {
				row.Price = binmath.PriceToDecimal(price).InexactFloat64()
			}
			if err := tx.Create(&row).Error; err != nil {
				return fmt.Errorf("failed to write bin %d: %w", bs.BinID, err)
			}
		}

		for _, ps := range snap.Positions {
			shares, err := encodeBinMap(ps.Shares)
			if err != nil {
				return fmt.Errorf("failed to encode shares for %s: %w", ps.ID, err)
			}
			debtX, err := encodeBinMap(ps.FeeDebtX)
			if err != nil {
				return fmt.Errorf("failed to encode fee debt for %s: %w", ps.ID, err)
			}
			debtY, err := encodeBinMap(ps.FeeDebtY)
			if err != nil {
				return fmt.Errorf("failed to encode fee debt for %s: %w", ps.ID, err)
			}
			row := models.PositionRecord{
				PoolID:      record.ID,
				PositionID:  ps.ID.String(),
				Owner:       ps.Owner,
				LowerBinID:  ps.LowerBinID,
				UpperBinID:  ps.UpperBinID,
				Status:      string(ps.Status),
				Shares:      shares,
				FeeDebtX:    debtX,
				FeeDebtY:    debtY,
				PendingFeeX: ps.PendingFeeX.String(),
				PendingFeeY: ps.PendingFeeY.String(),
			}
			if err := tx.Create(&row).Error; err != nil {
				return fmt.Errorf("failed to write position %s: %w", ps.ID, err)
			}
		}

		return nil
	})

	if err != nil {
		metrics.RecordCheckpoint("save", "failed")
		return err
	}
	metrics.RecordCheckpoint("save", "success")
	return nil
}

// LoadPool reconstructs a pool purely from its persisted rows.
func LoadPool(db *gorm.DB, key string, logger zerolog.Logger) (*engine.Pool, error) {
	var record models.PoolRecord
	if err := db.Where("key = ?", key).First(&record).Error; err != nil {
		metrics.RecordCheckpoint("load", "failed")
		return nil, fmt.Errorf("failed to load pool %s: %w", key, err)
	}

	var binRows []models.BinRecord
	if err := db.Where("pool_id = ?", record.ID).Find(&binRows).Error; err != nil {
		metrics.RecordCheckpoint("load", "failed")
		return nil, fmt.Errorf("failed to load bins for %s: %w", key, err)
	}
	var posRows []models.PositionRecord
	if err := db.Where("pool_id = ?", record.ID).Find(&posRows).Error; err != nil {
		metrics.RecordCheckpoint("load", "failed")
		return nil, fmt.Errorf("failed to load positions for %s: %w", key, err)
	}

	snap := engine.Snapshot{
		Key:         record.Key,
		BinStep:     record.BinStep,
		FeeRateBps:  record.FeeRateBps,
		ActiveBinID: record.ActiveBinID,
		Params: engine.Params{
			BinStep:            record.BinStep,
			FeeRateBps:         record.FeeRateBps,
			MaxBinsPerSwap:     record.MaxBinsPerSwap,
			AmountToleranceBps: record.AmountToleranceBps,
		},
	}

	for _, row := range binRows {
		bs := engine.BinSnapshot{BinID: row.BinID}
		var err error
		if bs.ReserveX, err = parseU128(row.ReserveX); err != nil {
			return nil, fmt.Errorf("pool %s bin %d reserve_x: %w", key, row.BinID, err)
		}
		if bs.ReserveY, err = parseU128(row.ReserveY); err != nil {
			return nil, fmt.Errorf("pool %s bin %d reserve_y: %w", key, row.BinID, err)
		}
		if bs.TotalShares, err = parseU128(row.TotalShares); err != nil {
			return nil, fmt.Errorf("pool %s bin %d total_shares: %w", key, row.BinID, err)
		}
		if bs.FeeGrowthX, err = parseU128(row.FeeGrowthX); err != nil {
			return nil, fmt.Errorf("pool %s bin %d fee_growth_x: %w", key, row.BinID, err)
		}
		if bs.FeeGrowthY, err = parseU128(row.FeeGrowthY); err != nil {
			return nil, fmt.Errorf("pool %s bin %d fee_growth_y: %w", key, row.BinID, err)
		}
		snap.Bins = append(snap.Bins, bs)
	}

	for _, row := range posRows {
		id, err := uuid.Parse(row.PositionID)
		if err != nil {
			return nil, fmt.Errorf("pool %s position %s: %w", key, row.PositionID, err)
		}
		ps := engine.PositionSnapshot{
			ID:         id,
			Owner:      row.Owner,
			LowerBinID: row.LowerBinID,
			UpperBinID: row.UpperBinID,
			Status:     engine.PositionStatus(row.Status),
		}
		if ps.Shares, err = decodeBinMap(row.Shares); err != nil {
			return nil, fmt.Errorf("pool %s position %s shares: %w", key, row.PositionID, err)
		}
		if ps.FeeDebtX, err = decodeBinMap(row.FeeDebtX); err != nil {
			return nil, fmt.Errorf("pool %s position %s fee_debt_x: %w", key, row.PositionID, err)
		}
		if ps.FeeDebtY, err = decodeBinMap(row.FeeDebtY); err != nil {
			return nil, fmt.Errorf("pool %s position %s fee_debt_y: %w", key, row.PositionID, err)
		}
		if ps.PendingFeeX, err = parseU128(row.PendingFeeX); err != nil {
			return nil, fmt.Errorf("pool %s position %s pending_fee_x: %w", key, row.PositionID, err)
		}
		if ps.PendingFeeY, err = parseU128(row.PendingFeeY); err != nil {
			return nil, fmt.Errorf("pool %s position %s pending_fee_y: %w", key, row.PositionID, err)
		}
		snap.Positions = append(snap.Positions, ps)
	}

	pool, err := engine.RestorePool(snap, logger)
	if err != nil {
		metrics.RecordCheckpoint("load", "failed")
		return nil, err
	}
	metrics.RecordCheckpoint("load", "success")
	return pool, nil
}

// ListPoolKeys returns the keys of every persisted pool.
func ListPoolKeys(db *gorm.DB) ([]string, error) {
	var keys []string
	if err := db.Model(&models.PoolRecord{}).Pluck("key", &keys).Error; err != nil {
		return nil, fmt.Errorf("failed to list pools: %w", err)
	}
	return keys, nil
}

// encodeBinMap serializes a bin id to u128 map as JSON with string keys
// and decimal-string values.
func encodeBinMap(m map[int32]uint128.Uint128) (string, error) {
	out := make(map[string]string, len(m))
	for id, v := range m {
		out[strconv.FormatInt(int64(id), 10)] = v.String()
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func decodeBinMap(raw string) (map[int32]uint128.Uint128, error) {
	out := make(map[int32]uint128.Uint128)
	if raw == "" {
		return out, nil
	}
	var in map[string]string
	if err := json.Unmarshal([]byte(raw), &in); err != nil {
		return nil, err
	}
	for k, v := range in {
		id, err := strconv.ParseInt(k, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid bin id %q: %w", k, err)
		}
		u, err := parseU128(v)
		if err != nil {
			return nil, fmt.Errorf("invalid value for bin %s: %w", k, err)
		}
		out[int32(id)] = u
	}
	return out, nil
}

// parseU128 parses a non-negative decimal string into a Uint128.
func parseU128(s string) (uint128.Uint128, error) {
	if s == "" {
		return uint128.Zero, nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return uint128.Zero, fmt.Errorf("invalid u128 %q", s)
	}
	u, err := binmath.FromBig(v)
	if err != nil {
		return uint128.Zero, fmt.Errorf("u128 %q out of range: %w", s, err)
	}
	return u, nil
}
