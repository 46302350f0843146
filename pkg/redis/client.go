package redis

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

type Config struct {
	Host     string
	Port     int
	Password string
	DB       int
	// DialTimeout bounds the initial ping as well. Zero means 5s.
	DialTimeout time.Duration
}

func (c Config) addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Client is the connection the folio lock runs on.
type Client struct {
	rdb    redis.UniversalClient
	logger ectologger.Logger
}

// NewClient connects and pings. A server that does not answer is an error so
// startup can retry.
func NewClient(ctx context.Context, cfg Config, logger ectologger.Logger) (*Client, error) {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:        cfg.addr(),
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})

	client := &Client{rdb: rdb, logger: logger}
	pingCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrapf(err, "connect to redis at %s", cfg.addr())
	}

	logger.WithContext(ctx).WithField("addr", cfg.addr()).Info("Connected to Redis")
	return client, nil
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping satisfies the health check signature.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}
