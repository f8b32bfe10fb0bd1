package models

import (
	"gorm.io/gorm"
)

// PoolRecord is the persisted top-level state of one pool. Together with
// its bin and position rows it is sufficient to reload the pool.
type PoolRecord struct {
	gorm.Model
	Key                string `gorm:"size:64;uniqueIndex;not null"`
	BinStep            uint16 `gorm:"not null"`
	FeeRateBps         uint16 `gorm:"not null"`
	ActiveBinID        int32  `gorm:"not null"`
	MaxBinsPerSwap     int
	AmountToleranceBps uint16
	Status             string `gorm:"size:20;default:'active'"`

	// USD-agnostic display price of the active bin
	ActivePrice float64

	// Relationships
	Bins      []BinRecord      `gorm:"foreignKey:PoolID"`
	Positions []PositionRecord `gorm:"foreignKey:PoolID"`
}

// BinRecord is one persisted non-empty bin. Reserves, shares and fee
// growth are u128 values stored as decimal strings; zero-share bins are
// never written.
type BinRecord struct {
	gorm.Model
	PoolID      uint   `gorm:"not null;uniqueIndex:idx_bin_records_pool_bin,priority:1"`
	BinID       int32  `gorm:"not null;uniqueIndex:idx_bin_records_pool_bin,priority:2"`
	ReserveX    string `gorm:"size:48;not null"`
	ReserveY    string `gorm:"size:48;not null"`
	TotalShares string `gorm:"size:48;not null"`
	FeeGrowthX  string `gorm:"size:48;not null"`
	FeeGrowthY  string `gorm:"size:48;not null"`

	// Display price for analytics queries
	Price float64 `gorm:"index"`
}

// PositionRecord is one persisted liquidity position. Per-bin shares and
// fee-debt checkpoints are JSONB maps of bin id to u128 decimal string.
type PositionRecord struct {
	gorm.Model
	PoolID     uint   `gorm:"index;not null"`
	PositionID string `gorm:"size:36;uniqueIndex;not null"`
	Owner      string `gorm:"size:64;index"`
	LowerBinID int32
	UpperBinID int32
	Status     string `gorm:"size:20;default:'open'"`

	Shares   string `gorm:"type:jsonb"`
	FeeDebtX string `gorm:"type:jsonb"`
	FeeDebtY string `gorm:"type:jsonb"`

	PendingFeeX string `gorm:"size:48"`
	PendingFeeY string `gorm:"size:48"`
}
