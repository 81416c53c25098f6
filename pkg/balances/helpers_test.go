package balances

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/canopy-network/balancex/pkg/evm"
	"github.com/ethereum/go-ethereum/common"
)

var (
	owner   = common.HexToAddress("0x1111111111111111111111111111111111111111")
	other   = common.HexToAddress("0x2222222222222222222222222222222222222222")
	tokenA  = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	tokenB  = common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")
	errNode = errors.New("node unavailable")
)

// fakeReader serves balances from memory and records every batch it receives.
type fakeReader struct {
	mu       sync.Mutex
	native   *big.Int
	tokens   map[common.Address]*big.Int
	err      error
	panics   int
	batches  [][]evm.Call
	owners   []common.Address
	released chan struct{}
}

func newFakeReader() *fakeReader {
	return &fakeReader{native: new(big.Int), tokens: map[common.Address]*big.Int{}}
}

func (f *fakeReader) BalancesOf(ctx context.Context, owner common.Address, calls []evm.Call) ([]*big.Int, error) {
	f.mu.Lock()
	f.batches = append(f.batches, calls)
	f.owners = append(f.owners, owner)
	release := f.released
	if f.panics > 0 {
		f.panics--
		f.mu.Unlock()
		panic("reader exploded")
	}
	err := f.err
	f.mu.Unlock()

	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*big.Int, len(calls))
	for i, c := range calls {
		switch {
		case c.Native:
			out[i] = new(big.Int).Set(f.native)
		case f.tokens[c.Contract] != nil:
			out[i] = new(big.Int).Set(f.tokens[c.Contract])
		default:
			out[i] = new(big.Int)
		}
	}
	return out, nil
}

func (f *fakeReader) batchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

func (f *fakeReader) batch(i int) []evm.Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.batches[i]
}

// hold blocks every following batch until the returned channel is closed.
func (f *fakeReader) hold() chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = make(chan struct{})
	return f.released
}

func (f *fakeReader) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// failingOn fails every batch that reads bad.
type failingOn struct {
	next evm.Reader
	bad  common.Address
}

func (f failingOn) BalancesOf(ctx context.Context, owner common.Address, calls []evm.Call) ([]*big.Int, error) {
	for _, c := range calls {
		if c.Contract == f.bad {
			return nil, errNode
		}
	}
	return f.next.BalancesOf(ctx, owner, calls)
}

func resolverFor(r evm.Reader) FallbackResolver {
	return func(uint64) (evm.Reader, bool) { return r, true }
}

// memPublisher collects published events.
type memPublisher struct {
	mu       sync.Mutex
	channels []string
	events   []Event
}

func (p *memPublisher) Publish(_ context.Context, channel string, message interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.channels = append(p.channels, channel)
	p.events = append(p.events, message.(Event))
}

func (p *memPublisher) all() ([]string, []Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.channels...), append([]Event(nil), p.events...)
}

func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000_000_000_000_000))
}
