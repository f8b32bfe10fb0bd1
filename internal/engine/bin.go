package engine

import (
	"sort"

	"lukechampine.com/uint128"
)

// Bin is a single price bucket: reserves of both tokens, the liquidity
// shares issued against them, and the cumulative fee-per-share
// accumulators used for lazy fee settlement.
type Bin struct {
	ReserveX    uint128.Uint128
	ReserveY    uint128.Uint128
	TotalShares uint128.Uint128

	// FeeGrowthX/Y are Q64.64 fees-per-share and only ever increase.
	FeeGrowthX uint128.Uint128
	FeeGrowthY uint128.Uint128
}

// IsEmpty reports whether the bin holds no reserves and no shares.
func (b *Bin) IsEmpty() bool {
	return b.ReserveX.IsZero() && b.ReserveY.IsZero() && b.TotalShares.IsZero()
}

func (b *Bin) clone() *Bin {
	c := *b
	return &c
}

// checkInvariants enforces the shares-implies-reserves rule: a bin with
// no shares holds no reserves, and reserves always have backing shares.
func (b *Bin) checkInvariants() error {
	if b.TotalShares.IsZero() && !(b.ReserveX.IsZero() && b.ReserveY.IsZero()) {
		return ErrStateCorruption
	}
	if !b.TotalShares.IsZero() && b.ReserveX.IsZero() && b.ReserveY.IsZero() {
		return ErrStateCorruption
	}
	return nil
}

// Store is the sparse bin map. An absent id is an empty bin. All reserve
// and share mutation flows through apply, which is the single choke point
// for invariant checks.
type Store struct {
	bins map[int32]*Bin
}

func NewStore() *Store {
	return &Store{bins: make(map[int32]*Bin)}
}

// Get returns the bin for id, or nil if the bin is empty. Callers must
// treat the result as read-only.
func (s *Store) Get(id int32) *Bin {
	return s.bins[id]
}

// Len returns the number of materialized bins.
func (s *Store) Len() int {
	return len(s.bins)
}

// IDs returns the materialized bin ids in ascending price order.
func (s *Store) IDs() []int32 {
	ids := make([]int32, 0, len(s.bins))
	for id := range s.bins {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// apply replaces the bin at id with next after validating its invariants.
// Fee accumulators may never move backwards.
func (s *Store) apply(id int32, next *Bin) error {
	if err := next.checkInvariants(); err != nil {
		return err
	}
	if prev, ok := s.bins[id]; ok {
		if next.FeeGrowthX.Cmp(prev.FeeGrowthX) < 0 || next.FeeGrowthY.Cmp(prev.FeeGrowthY) < 0 {
			return ErrStateCorruption
		}
	}
	s.bins[id] = next
	return nil
}

// RemoveIfEmpty garbage-collects a bin whose shares have dropped to zero,
// keeping the map bounded no matter how far price has wandered.
func (s *Store) RemoveIfEmpty(id int32) {
	if b, ok := s.bins[id]; ok && b.TotalShares.IsZero() {
		delete(s.bins, id)
	}
}
