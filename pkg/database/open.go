package database

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

type Config struct {
	Driver          string
	Host            string
	Port            string
	User            string
	Password        string
	Name            string
	SSLMode         string
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

func (c Config) DSN() (string, error) {
	switch c.Driver {
	case DriverPostgres:
		sslMode := c.SSLMode
		if sslMode == "" {
			sslMode = "disable"
		}
		return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.User, c.Password, c.Name, sslMode), nil
	case DriverSQLite:
		return SQLiteDSN(c.Path), nil
	default:
		return "", fmt.Errorf("unsupported database driver %q", c.Driver)
	}
}

// SQLiteDSN builds a modernc sqlite DSN with a busy timeout and
// sqlite-native timestamp encoding.
func SQLiteDSN(path string) string {
	q := url.Values{}
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "foreign_keys(1)")
	q.Set("_time_format", "sqlite")
	return "file:" + path + "?" + q.Encode()
}

func Open(ctx context.Context, cfg Config, logger ectologger.Logger) (DB, error) {
	dialect, err := DialectFor(cfg.Driver)
	if err != nil {
		return nil, err
	}
	dsn, err := cfg.DSN()
	if err != nil {
		return nil, err
	}

	conn, err := sqlx.Open(cfg.Driver, dsn)
	if err != nil {
		logger.WithContext(ctx).WithError(err).Errorf("failed to open %s database", cfg.Driver)
		return nil, fmt.Errorf("failed to open %s database: %w", cfg.Driver, err)
	}
	if cfg.MaxOpenConns > 0 {
		conn.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		conn.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		conn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	return NewDatabaseInstance(conn, dialect, logger), nil
}
