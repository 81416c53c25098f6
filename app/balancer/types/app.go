package types

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/canopy-network/balancex/pkg/balances"
	"github.com/canopy-network/balancex/pkg/config"
	"github.com/canopy-network/balancex/pkg/evm"
	"github.com/canopy-network/balancex/pkg/redis"
	"github.com/ethereum/go-ethereum/common"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

var ErrUnknownChain = errors.New("unknown chain")

// EventStream keeps the most recent balance events for clients that reconnect.
const EventStream = "balances:events"

type User struct {
	Username string `json:"username"`
	Hash     []byte `json:"hash"`
	Role     string `json:"role"`
}

type App struct {
	Config   *config.Config
	Manager  *balances.Manager
	Registry *evm.Registry
	// RedisClient is nil when real-time events are disabled.
	RedisClient *redis.Client
	// Cron triggers the periodic full refresh.
	Cron *cron.Cron
	// Zap Logger
	Logger *zap.Logger
	// Server represents the HTTP server instance used to handle incoming client requests and manage HTTP routes.
	Server *http.Server
}

// ApplyWallet points the manager at owner on chainID, using the registered
// primary endpoint of the active chain as provider. The configured token list
// of that chain, if any, becomes the current list.
func (a *App) ApplyWallet(owner common.Address, chainID uint64, active bool) error {
	activeChain := balances.ActiveChainID(a.Config.FixedChainID, chainID)
	provider, ok := a.Registry.Primary(activeChain)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownChain, activeChain)
	}

	a.Manager.SetWallet(balances.Wallet{
		Address:  owner,
		Active:   active,
		ChainID:  chainID,
		Provider: provider,
	})

	if configured, ok := a.Config.Tokens[activeChain]; ok {
		tokens, err := ConfiguredTokens(configured)
		if err != nil {
			return err
		}
		a.Manager.SetTokens(tokens)
	}

	a.Logger.Info("Wallet applied",
		zap.String("owner", owner.Hex()),
		zap.Uint64("chain_id", activeChain),
		zap.Bool("active", active))
	return nil
}

// ConfiguredTokens converts config tokens into balance tokens.
func ConfiguredTokens(in []config.Token) ([]balances.Token, error) {
	out := make([]balances.Token, 0, len(in))
	for i, t := range in {
		if !common.IsHexAddress(t.Address) {
			return nil, fmt.Errorf("tokens[%d]: invalid address %q", i, t.Address)
		}
		out = append(out, balances.Token{
			Address:  common.HexToAddress(t.Address),
			Decimals: t.Decimals,
			Symbol:   t.Symbol,
			Force:    t.Force,
		})
	}
	return out, nil
}

// Start starts the application and blocks until ctx is done.
func (a *App) Start(ctx context.Context) {
	if a.Cron != nil {
		a.Cron.Start()
		a.Logger.Info("Refresh cron started", zap.String("spec", a.Config.RefreshCron))
	}
	go func() {
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.Error("HTTP server stopped", zap.Error(err))
		}
	}()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = a.Server.Shutdown(shutdownCtx)

	if a.Cron != nil {
		<-a.Cron.Stop().Done()
	}
	a.Manager.Close()
	a.Registry.Close()

	if a.RedisClient != nil {
		if err := a.RedisClient.Close(); err != nil {
			a.Logger.Error("Failed to close redis connection", zap.Error(err))
		}
	}

	time.Sleep(200 * time.Millisecond)
	a.Logger.Info("さようなら!")
}
