package evm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

var ErrChainMismatch = errors.New("chain id mismatch")

// ChainIDReader is implemented by Client.
type ChainIDReader interface {
	URL() string
	ChainID(ctx context.Context) (uint64, error)
}

// ValidateChainID checks that the endpoints serve the expected chain.
// All endpoints are queried in parallel, each with a 5s timeout.
//
// Edge cases handled:
// - Partial failures: OK if at least 1 endpoint succeeds
// - Mismatches: FAIL if any endpoint serves another chain
func ValidateChainID(ctx context.Context, expected uint64, clients []ChainIDReader, logger *zap.Logger) error {
	if len(clients) == 0 {
		return ErrNoEndpoints
	}

	type result struct {
		endpoint string
		chainID  uint64
		err      error
	}

	results := make(chan result, len(clients))
	for _, cl := range clients {
		go func(cl ChainIDReader) {
			timeoutCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()

			id, err := cl.ChainID(timeoutCtx)
			results <- result{endpoint: cl.URL(), chainID: id, err: err}
		}(cl)
	}

	var errs []error
	ok := 0
	for i := 0; i < len(clients); i++ {
		res := <-results
		if res.err != nil {
			logger.Warn("RPC endpoint failed during chain ID validation",
				zap.String("endpoint", res.endpoint),
				zap.Error(res.err),
			)
			errs = append(errs, fmt.Errorf("%s: %w", res.endpoint, res.err))
			continue
		}
		if res.chainID != expected {
			return fmt.Errorf("%w: endpoint %s serves chain %d, expected %d", ErrChainMismatch, res.endpoint, res.chainID, expected)
		}
		ok++
	}

	if ok == 0 {
		return fmt.Errorf("all RPC endpoints failed: %w", errors.Join(errs...))
	}

	logger.Info("Chain ID validation successful",
		zap.Uint64("chain_id", expected),
		zap.Int("successful_endpoints", ok),
		zap.Int("failed_endpoints", len(errs)),
	)
	return nil
}
