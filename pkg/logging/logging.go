package logging

import (
	"fmt"
	"time"

	"github.com/canopy-network/balancex/pkg/utils"
	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options selects the verbosity and output format of the process logger.
type Options struct {
	Level    string // debug|info|warn|error
	Encoding string // json|console
	// SentryDSN, when set, reports every error entry to Sentry.
	SentryDSN   string
	Environment string
}

// FromEnv reads LOG_LEVEL, LOG_ENCODING, SENTRY_DSN and ENVIRONMENT.
func FromEnv() Options {
	return Options{
		Level:       utils.Env("LOG_LEVEL", "debug"),
		Encoding:    utils.Env("LOG_ENCODING", "json"),
		SentryDSN:   utils.Env("SENTRY_DSN", ""),
		Environment: utils.Env("ENVIRONMENT", "development"),
	}
}

// New builds the process logger from the environment.
func New() (*zap.Logger, error) {
	return FromEnv().Build()
}

// Build returns a logger writing to stdout. Unknown levels fall back to info.
func (o Options) Build() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(o.Level)
	if err != nil || level > zapcore.ErrorLevel {
		level = zapcore.InfoLevel
	}

	var cfg zap.Config
	switch o.Encoding {
	case "", "json":
		cfg = zap.NewProductionConfig()
	case "console":
		cfg = zap.NewProductionConfig()
		cfg.Encoding = "console"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	default:
		return nil, fmt.Errorf("unknown log encoding %q", o.Encoding)
	}

	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.Development = level == zapcore.DebugLevel
	cfg.OutputPaths = []string{"stdout"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	var opts []zap.Option
	if o.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: o.SentryDSN, Environment: o.Environment}); err != nil {
			return nil, fmt.Errorf("init sentry: %w", err)
		}
		opts = append(opts, zap.Hooks(reportToSentry))
	}
	return cfg.Build(opts...)
}

func reportToSentry(e zapcore.Entry) error {
	if e.Level < zapcore.ErrorLevel {
		return nil
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(sentry.LevelError)
		if e.LoggerName != "" {
			scope.SetTag("logger", e.LoggerName)
		}
		sentry.CaptureMessage(e.Message)
	})
	return nil
}

// Sync flushes the logger and any pending Sentry reports.
func Sync(l *zap.Logger) {
	_ = l.Sync()
	sentry.Flush(2 * time.Second)
}
