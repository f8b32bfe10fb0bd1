package engine

// staging is the copy-on-write scratch area for one mutating operation.
// Touched bins are cloned into the overlay and the active-bin move is
// held back until commit, so a failed operation leaves the pool exactly
// as it was.
type staging struct {
	pool        *Pool
	bins        map[int32]*Bin
	activeBinID int32
}

func (p *Pool) newStaging() *staging {
	return &staging{
		pool:        p,
		bins:        make(map[int32]*Bin),
		activeBinID: p.activeBinID,
	}
}

// bin returns the staged copy for id, cloning it from the store on first
// touch. Absent ids materialize as empty bins in the overlay only; commit
// garbage-collects any that stay empty.
func (st *staging) bin(id int32) *Bin {
	if b, ok := st.bins[id]; ok {
		return b
	}
	var b *Bin
	if live := st.pool.store.Get(id); live != nil {
		b = live.clone()
	} else {
		b = &Bin{}
	}
	st.bins[id] = b
	return b
}

// commit validates every staged bin and then writes the whole overlay.
// Validation runs first so a corrupt overlay never partially applies.
func (st *staging) commit() error {
	for id, b := range st.bins {
		if err := b.checkInvariants(); err != nil {
			return err
		}
		if prev := st.pool.store.Get(id); prev != nil {
			if b.FeeGrowthX.Cmp(prev.FeeGrowthX) < 0 || b.FeeGrowthY.Cmp(prev.FeeGrowthY) < 0 {
				return ErrStateCorruption
			}
		}
	}
	for id, b := range st.bins {
		if b.IsEmpty() && st.pool.store.Get(id) == nil {
			continue
		}
		if err := st.pool.store.apply(id, b); err != nil {
			// Unreachable after the validation pass, but a failed apply
			// here still means the ledger is not trustworthy.
			return err
		}
		st.pool.store.RemoveIfEmpty(id)
	}
	st.pool.activeBinID = st.activeBinID
	st.pool.dirty = true
	return nil
}
