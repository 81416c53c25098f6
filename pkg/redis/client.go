package redis

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/canopy-network/balancex/pkg/utils"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultStreamMaxLen caps the event log stream.
const DefaultStreamMaxLen = 10000

// Options configures the connection and the event log.
type Options struct {
	Addr     string
	Password string
	DB       int
	// StreamMaxLen trims streams approximately; 0 keeps everything.
	StreamMaxLen int64
}

// OptionsFromEnv reads REDIS_HOST, REDIS_PORT, REDIS_PASSWORD, REDIS_DB and
// REDIS_STREAM_MAXLEN.
func OptionsFromEnv() Options {
	return Options{
		Addr:         net.JoinHostPort(utils.Env("REDIS_HOST", "localhost"), utils.Env("REDIS_PORT", "6379")),
		Password:     utils.Env("REDIS_PASSWORD", ""),
		DB:           utils.EnvInt("REDIS_DB", 0),
		StreamMaxLen: utils.EnvInt64("REDIS_STREAM_MAXLEN", DefaultStreamMaxLen),
	}
}

// Client fans balance events out over Pub/Sub and keeps a short replayable
// log of them in a stream.
type Client struct {
	rdb    *redis.Client
	logger *zap.Logger
	opts   Options
}

// NewClient connects and pings. The connection is closed again when the ping fails.
func NewClient(ctx context.Context, opts Options, logger *zap.Logger) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", opts.Addr, err)
	}

	logger.Info("Connected to Redis",
		zap.String("addr", opts.Addr),
		zap.Int("db", opts.DB),
		zap.Int64("streamMaxLen", opts.StreamMaxLen))

	return &Client{rdb: rdb, logger: logger, opts: opts}, nil
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

func (c *Client) Health(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Publish never fails: a redis outage must not stall reconciliation, so
// errors are only logged.
func (c *Client) Publish(ctx context.Context, channel string, message interface{}) {
	if err := c.rdb.Publish(ctx, channel, message).Err(); err != nil {
		c.logger.Warn("Failed to publish Redis message",
			zap.String("channel", channel),
			zap.Error(err))
	}
}

// PSubscribe subscribes to channel patterns. The caller closes the PubSub.
func (c *Client) PSubscribe(ctx context.Context, patterns ...string) *redis.PubSub {
	c.logger.Debug("Subscribing to Redis patterns", zap.Strings("patterns", patterns))
	return c.rdb.PSubscribe(ctx, patterns...)
}

// Append adds an entry to stream and returns its ID, or "" when the write
// failed (logged, like Publish).
func (c *Client) Append(ctx context.Context, stream string, values map[string]interface{}) string {
	args := &redis.XAddArgs{Stream: stream, Values: values}
	if c.opts.StreamMaxLen > 0 {
		args.MaxLen = c.opts.StreamMaxLen
		args.Approx = true
	}

	id, err := c.rdb.XAdd(ctx, args).Result()
	if err != nil {
		c.logger.Warn("Failed to append to Redis stream",
			zap.String("stream", stream),
			zap.Error(err))
		return ""
	}
	return id
}

// Since returns at most count entries of stream strictly after the entry ID
// after, oldest first. An empty after reads from the beginning.
func (c *Client) Since(ctx context.Context, stream, after string, count int64) ([]redis.XMessage, error) {
	start := "-"
	if after != "" {
		start = "(" + after
	}
	return c.rdb.XRangeN(ctx, stream, start, "+", count).Result()
}

// Len returns the number of entries kept in stream.
func (c *Client) Len(ctx context.Context, stream string) (int64, error) {
	return c.rdb.XLen(ctx, stream).Result()
}
