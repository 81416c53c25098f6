package balances

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/puzpuzpuz/xsync/v4"
)

// Cache holds one Snapshot per chain ID.
//
// Stored snapshots are never mutated: Merge builds a new one under Compute, so
// readers always see a complete map.
type Cache struct {
	chains *xsync.Map[uint64, *Snapshot]
}

func NewCache() *Cache {
	return &Cache{chains: xsync.NewMap[uint64, *Snapshot]()}
}

// Merge folds records into the snapshot of chainID and bumps its nonce by one.
// The snapshot starts over (empty, nonce 0) when owner differs from the stored owner.
func (c *Cache) Merge(chainID uint64, owner common.Address, records Balances) Snapshot {
	merged, _ := c.chains.Compute(chainID, func(old *Snapshot, loaded bool) (*Snapshot, xsync.ComputeOp) {
		next := &Snapshot{Owner: owner}
		if loaded && old.Owner == owner {
			next.Nonce = old.Nonce
			next.Balances = old.Balances.Clone()
		} else {
			next.Balances = make(Balances, len(records))
		}

		for addr, rec := range records {
			if prev, ok := next.Balances[addr]; ok {
				next.Balances[addr] = prev.Merge(rec)
				continue
			}
			next.Balances[addr] = rec
		}
		next.Nonce++
		return next, xsync.UpdateOp
	})
	return merged.clone()
}

// ResetOwner empties every snapshot that belongs to another owner.
func (c *Cache) ResetOwner(owner common.Address) {
	var stale []uint64
	c.chains.Range(func(chainID uint64, s *Snapshot) bool {
		if s.Owner != owner {
			stale = append(stale, chainID)
		}
		return true
	})

	for _, chainID := range stale {
		c.chains.Compute(chainID, func(old *Snapshot, loaded bool) (*Snapshot, xsync.ComputeOp) {
			if loaded && old.Owner == owner {
				return old, xsync.CancelOp
			}
			return &Snapshot{Owner: owner, Balances: Balances{}}, xsync.UpdateOp
		})
	}
}

// Get returns a copy of the snapshot of chainID.
func (c *Cache) Get(chainID uint64) (Snapshot, bool) {
	s, ok := c.chains.Load(chainID)
	if !ok {
		return Snapshot{}, false
	}
	return s.clone(), true
}

// Balances returns a copy of the balances of chainID, empty when unknown.
func (c *Cache) Balances(chainID uint64) Balances {
	s, ok := c.chains.Load(chainID)
	if !ok {
		return Balances{}
	}
	return s.Balances.Clone()
}

// All returns a copy of every chain's balances.
func (c *Cache) All() map[uint64]Balances {
	out := make(map[uint64]Balances, c.chains.Size())
	c.chains.Range(func(chainID uint64, s *Snapshot) bool {
		out[chainID] = s.Balances.Clone()
		return true
	})
	return out
}
