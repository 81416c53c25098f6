package balances

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/canopy-network/balancex/pkg/evm"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

var errNoProvider = errors.New("no provider")

// FallbackResolver returns the reader tried once when a whole batch fails on
// the primary provider.
type FallbackResolver func(chainID uint64) (evm.Reader, bool)

type fetcher struct {
	logger    *zap.Logger
	fallbacks FallbackResolver
	chunkSize int
}

// chunk splits tokens into consecutive slices of at most size elements.
func chunk(tokens []Token, size int) [][]Token {
	if size <= 0 {
		size = DefaultChunkSize
	}
	out := make([][]Token, 0, (len(tokens)+size-1)/size)
	for start := 0; start < len(tokens); start += size {
		end := min(start+size, len(tokens))
		out = append(out, tokens[start:end])
	}
	return out
}

// calls maps tokens to batch calls, native sentinel first-class.
func calls(tokens []Token) []evm.Call {
	out := make([]evm.Call, len(tokens))
	for i, t := range tokens {
		if t.IsNative() {
			out[i] = evm.Call{Native: true}
			continue
		}
		out[i] = evm.Call{Contract: t.Address}
	}
	return out
}

func read(ctx context.Context, r evm.Reader, owner common.Address, batch []evm.Call) ([]*big.Int, error) {
	if r == nil {
		return nil, errNoProvider
	}
	raws, err := r.BalancesOf(ctx, owner, batch)
	if err != nil {
		return nil, err
	}
	if len(raws) != len(batch) {
		return nil, fmt.Errorf("batch returned %d results for %d calls", len(raws), len(batch))
	}
	return raws, nil
}

// fetchChunk reads one batch. When the primary fails the fallback is tried
// exactly once; without a fallback the chunk is empty and carries no error.
func (f *fetcher) fetchChunk(ctx context.Context, chainID uint64, primary evm.Reader, owner common.Address, tokens []Token) (Balances, error) {
	batch := calls(tokens)
	raws, err := read(ctx, primary, owner, batch)
	if err != nil {
		var fallback evm.Reader
		ok := false
		if f.fallbacks != nil {
			fallback, ok = f.fallbacks(chainID)
		}
		if !ok || fallback == nil {
			f.logger.Error("Balance batch failed and no fallback is configured",
				zap.Uint64("chain_id", chainID),
				zap.Int("tokens", len(tokens)),
				zap.Error(err))
			return Balances{}, nil
		}

		f.logger.Warn("Balance batch failed on primary provider, trying fallback",
			zap.Uint64("chain_id", chainID),
			zap.Int("tokens", len(tokens)),
			zap.Error(err))
		raws, err = read(ctx, fallback, owner, batch)
		if err != nil {
			return Balances{}, fmt.Errorf("fallback batch on chain %d: %w", chainID, err)
		}
	}

	out := make(Balances, len(tokens))
	for i, t := range tokens {
		out[t.Address] = NewRecord(t, raws[i])
	}
	return out, nil
}

// fetchAll runs every chunk in sequence and aggregates the results. Later
// chunks overwrite earlier ones on collision. The returned error is the one
// of the last chunk, so a failure followed by a success reports nil.
func (f *fetcher) fetchAll(ctx context.Context, chainID uint64, primary evm.Reader, owner common.Address, tokens []Token) (Balances, error) {
	out := make(Balances, len(tokens))
	var lastErr error
	for _, part := range chunk(tokens, f.chunkSize) {
		records, err := f.fetchChunk(ctx, chainID, primary, owner, part)
		lastErr = err
		if err != nil {
			f.logger.Error("Balance chunk failed", zap.Uint64("chain_id", chainID), zap.Error(err))
			continue
		}
		for addr, rec := range records {
			out[addr] = rec
		}
	}
	return out, lastErr
}
