package balances

import (
	"math/big"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_Merge(t *testing.T) {
	c := NewCache()

	snap := c.Merge(1, owner, Balances{tokenA: NewRecord(Token{Address: tokenA}, ether(1))})
	assert.Equal(t, uint64(1), snap.Nonce)
	assert.Equal(t, owner, snap.Owner)

	snap = c.Merge(1, owner, Balances{tokenB: NewRecord(Token{Address: tokenB}, ether(2))})
	assert.Equal(t, uint64(2), snap.Nonce)
	require.Len(t, snap.Balances, 2, "keys absent from the batch are kept")

	snap = c.Merge(1, owner, Balances{tokenA: NewRecord(Token{Address: tokenA}, ether(5))})
	assert.Equal(t, 5.0, snap.Balances[tokenA].Normalized)
	assert.Equal(t, 2.0, snap.Balances[tokenB].Normalized)
}

func TestCache_MergeNewOwnerStartsOver(t *testing.T) {
	c := NewCache()
	c.Merge(1, owner, Balances{tokenA: NewRecord(Token{Address: tokenA}, ether(1))})
	c.Merge(1, owner, Balances{tokenA: NewRecord(Token{Address: tokenA}, ether(1))})

	snap := c.Merge(1, other, Balances{tokenB: NewRecord(Token{Address: tokenB}, ether(2))})
	assert.Equal(t, uint64(1), snap.Nonce)
	assert.Equal(t, other, snap.Owner)
	assert.NotContains(t, snap.Balances, tokenA)
}

func TestCache_ResetOwner(t *testing.T) {
	c := NewCache()
	c.Merge(1, owner, Balances{tokenA: NewRecord(Token{Address: tokenA}, ether(1))})
	c.Merge(10, owner, Balances{tokenA: NewRecord(Token{Address: tokenA}, ether(1))})

	c.ResetOwner(other)

	for _, chainID := range []uint64{1, 10} {
		snap, ok := c.Get(chainID)
		require.True(t, ok)
		assert.Equal(t, uint64(0), snap.Nonce)
		assert.Equal(t, other, snap.Owner)
		assert.Empty(t, snap.Balances)
	}

	// Same owner is a no-op.
	c.Merge(1, other, Balances{tokenA: NewRecord(Token{Address: tokenA}, ether(1))})
	c.ResetOwner(other)
	snap, _ := c.Get(1)
	assert.Equal(t, uint64(1), snap.Nonce)
}

func TestCache_CopiesAreIsolated(t *testing.T) {
	c := NewCache()
	c.Merge(1, owner, Balances{tokenA: NewRecord(Token{Address: tokenA}, ether(1))})

	got := c.Balances(1)
	delete(got, tokenA)
	all := c.All()
	all[1][tokenB] = Record{}

	assert.Len(t, c.Balances(1), 1)
	assert.Empty(t, c.Balances(42))
}

func TestCache_ConcurrentMerges(t *testing.T) {
	c := NewCache()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c.Merge(1, owner, Balances{tokenA: NewRecord(Token{Address: tokenA}, big.NewInt(int64(i)))})
			_ = c.All()
		}(i)
	}
	wg.Wait()

	snap, ok := c.Get(1)
	require.True(t, ok)
	assert.Equal(t, uint64(50), snap.Nonce)
}
