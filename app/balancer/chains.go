package balancer

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/canopy-network/balancex/pkg/config"
	"github.com/canopy-network/balancex/pkg/evm"
	"github.com/canopy-network/balancex/pkg/retry"
	"go.uber.org/zap"
)

// BuildRegistry dials the endpoints of every configured chain and checks they
// serve the configured chain ID. A chain whose endpoints are all unreachable is
// still registered (fetches will surface the failure); a chain served by the
// wrong network is a configuration error.
func BuildRegistry(ctx context.Context, chains []config.Chain, factory evm.Factory, policy retry.Policy, logger *zap.Logger) (*evm.Registry, error) {
	registry := evm.NewRegistry()

	for _, c := range chains {
		urls := endpointURLs(c.RPC, c.Fallback)
		if len(urls) == 0 {
			return nil, fmt.Errorf("chain %d: %w", c.ID, evm.ErrNoEndpoints)
		}

		endpoint := evm.Endpoint{ChainID: c.ID, Name: c.Name}
		readers := make([]evm.Reader, 0, len(urls))
		for _, url := range urls {
			r, err := factory.NewReader(ctx, url)
			if err != nil {
				closeReaders(readers)
				registry.Close()
				return nil, fmt.Errorf("chain %d: %w", c.ID, err)
			}
			readers = append(readers, r)
		}
		endpoint.Primary = readers[0]
		if len(readers) > 1 {
			endpoint.Fallback = readers[1]
		}

		var probes []evm.ChainIDReader
		for _, r := range readers {
			if p, ok := r.(evm.ChainIDReader); ok {
				probes = append(probes, p)
			}
		}

		if len(probes) > 0 {
			err := retry.Do(ctx, policy, logger, fmt.Sprintf("validate chain %d", c.ID), func(ctx context.Context) error {
				err := evm.ValidateChainID(ctx, c.ID, probes, logger)
				if errors.Is(err, evm.ErrChainMismatch) {
					return retry.Permanent(err)
				}
				return err
			})
			if errors.Is(err, evm.ErrChainMismatch) {
				closeReaders(readers)
				registry.Close()
				return nil, fmt.Errorf("chain %d (%s): %w", c.ID, c.Name, err)
			}
			if err != nil {
				logger.Warn("Chain endpoints unreachable at startup, registering anyway",
					zap.Uint64("chain_id", c.ID),
					zap.Strings("endpoints", urls),
					zap.Error(err))
			}
		}

		registry.Register(endpoint)
		logger.Info("Chain registered",
			zap.Uint64("chain_id", c.ID),
			zap.String("name", c.Name),
			zap.Bool("fallback", endpoint.Fallback != nil))
	}

	return registry, nil
}

func closeReaders(readers []evm.Reader) {
	for _, r := range readers {
		if c, ok := r.(interface{ Close() }); ok {
			c.Close()
		}
	}
}

// endpointURLs returns the primary and fallback URLs in order, without blanks
// or a fallback that only differs from the primary by a trailing slash.
func endpointURLs(primary, fallback string) []string {
	var urls []string
	for _, u := range []string{primary, fallback} {
		u = strings.TrimRight(strings.TrimSpace(u), "/")
		if u != "" && !slices.Contains(urls, u) {
			urls = append(urls, u)
		}
	}
	return urls
}
