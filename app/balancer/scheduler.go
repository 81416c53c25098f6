package balancer

import (
	"context"

	"github.com/canopy-network/balancex/app/balancer/types"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	sugar *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.sugar.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.sugar.Errorw(msg, append(keysAndValues, "error", err)...)
}

// SetupScheduler registers the periodic full refresh on app.Cron. Each run is
// bounded by RefreshTimeout. An empty REFRESH_CRON disables it.
func SetupScheduler(ctx context.Context, app *types.App) error {
	spec := app.Config.RefreshCron
	if spec == "" {
		app.Logger.Info("Balance refresh cron disabled")
		return nil
	}

	logger := cronLogger{sugar: app.Logger.Named("cron").Sugar()}
	// Seconds field, optional
	app.Cron = cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(logger), cron.Recover(logger)))

	_, err := app.Cron.AddFunc(spec, func() {
		rctx, cancel := context.WithTimeout(ctx, app.Config.RefreshTimeout)
		defer cancel()

		data := app.Manager.Update(rctx)
		app.Logger.Debug("Scheduled balance refresh done",
			zap.Int("balances", len(data)),
			zap.Uint64("nonce", app.Manager.Nonce()),
			zap.String("status", string(app.Manager.Status())))
	})
	return err
}
