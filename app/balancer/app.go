package balancer

import (
	"context"

	"github.com/canopy-network/balancex/app/balancer/types"
	"github.com/canopy-network/balancex/pkg/balances"
	"github.com/canopy-network/balancex/pkg/config"
	"github.com/canopy-network/balancex/pkg/evm"
	"github.com/canopy-network/balancex/pkg/logging"
	"github.com/canopy-network/balancex/pkg/redis"
	"github.com/canopy-network/balancex/pkg/retry"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// Initialize initializes the application.
func Initialize(ctx context.Context) *types.App {
	logger, err := logging.New()
	if err != nil {
		// nothing else to do here, we'll just log to stderr'
		panic(err)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Unable to load configuration", zap.Error(err))
	}

	factory := evm.NewHTTPFactory(evm.Opts{
		Timeout: cfg.RPCTimeout,
		RPS:     cfg.RPCRPS,
		Burst:   cfg.RPCBurst,
	})
	registry, err := BuildRegistry(ctx, cfg.Chains, factory, retry.Startup(), logger)
	if err != nil {
		logger.Fatal("Unable to initialize chain endpoints", zap.Error(err))
	}

	// Redis fans balance events out to websocket clients (optional)
	var redisClient *redis.Client
	if cfg.RedisEnabled {
		err = retry.Do(ctx, retry.Startup(), logger, "connect redis", func(ctx context.Context) error {
			var connErr error
			redisClient, connErr = redis.NewClient(ctx, redis.OptionsFromEnv(), logger)
			return connErr
		})
		if err != nil {
			logger.Warn("Failed to initialize Redis client - real-time balance events will be disabled",
				zap.Error(err))
			redisClient = nil
		}
	} else {
		logger.Info("Redis disabled - real-time balance events will not be available")
	}

	opts := balances.Options{
		Logger:        logger.Named("balances"),
		Fallbacks:     registry.Fallback,
		ChainID:       cfg.FixedChainID,
		DisableWorker: !cfg.UseWorker,
		DiscardStale:  cfg.DiscardStale,
		Hooks: balances.Hooks{
			OnLoadStart: func() { logger.Debug("Balance load started") },
			OnLoadDone:  func() { logger.Debug("Balance load done") },
		},
	}
	if redisClient != nil {
		opts.Publisher = NewEventPublisher(redisClient)
	}

	app := &types.App{
		Config:      cfg,
		Manager:     balances.NewManager(opts),
		Registry:    registry,
		RedisClient: redisClient,
		Logger:      logger,
	}

	if cfg.Wallet.Address != "" {
		if !common.IsHexAddress(cfg.Wallet.Address) {
			logger.Fatal("Invalid wallet address in configuration", zap.String("address", cfg.Wallet.Address))
		}
		if err := app.ApplyWallet(common.HexToAddress(cfg.Wallet.Address), cfg.Wallet.ChainID, true); err != nil {
			logger.Fatal("Unable to apply configured wallet", zap.Error(err))
		}
	}

	if err := SetupScheduler(ctx, app); err != nil {
		logger.Fatal("Unable to schedule balance refresh", zap.Error(err))
	}

	return app
}
