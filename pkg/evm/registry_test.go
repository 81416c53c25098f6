package evm_test

import (
	"context"
	"math/big"
	"testing"

	"github.com/canopy-network/balancex/pkg/evm"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubReader struct{ closed bool }

func (s *stubReader) BalancesOf(context.Context, common.Address, []evm.Call) ([]*big.Int, error) {
	return nil, nil
}

func (s *stubReader) Close() { s.closed = true }

func TestRegistry(t *testing.T) {
	reg := evm.NewRegistry()
	primary, fallback := &stubReader{}, &stubReader{}
	reg.Register(evm.Endpoint{ChainID: 10, Name: "optimism", Primary: primary})
	reg.Register(evm.Endpoint{ChainID: 1, Name: "ethereum", Primary: primary, Fallback: fallback})

	assert.Equal(t, []uint64{1, 10}, reg.Chains())

	r, ok := reg.Primary(1)
	require.True(t, ok)
	assert.Same(t, primary, r)

	r, ok = reg.Fallback(1)
	require.True(t, ok)
	assert.Same(t, fallback, r)

	_, ok = reg.Fallback(10)
	assert.False(t, ok)
	_, ok = reg.Primary(56)
	assert.False(t, ok)

	reg.Close()
	assert.True(t, primary.closed)
	assert.True(t, fallback.closed)
}

func TestHTTPFactory(t *testing.T) {
	node := newFakeNode(t)
	srv := node.start(t)

	f := evm.NewHTTPFactory(evm.Opts{RPS: 100, Burst: 10})
	r, err := f.NewReader(context.Background(), srv.URL)
	require.NoError(t, err)
	got, err := r.BalancesOf(context.Background(), owner, []evm.Call{{Native: true}})
	require.NoError(t, err)
	assert.Equal(t, int64(0), got[0].Int64())
}
