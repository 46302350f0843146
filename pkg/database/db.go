package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/jmoiron/sqlx"
)

// Querier is the statement surface shared by DB and Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	QueryxContext(ctx context.Context, query string, args ...any) (*sqlx.Rows, error)
	QueryRowxContext(ctx context.Context, query string, args ...any) *sqlx.Row
}

type DB interface {
	Querier
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
	Close() error
	DriverName() string
	PingContext(ctx context.Context) error
	SetConnMaxIdleTime(d time.Duration)
	SetConnMaxLifetime(d time.Duration)
	SetMaxIdleConns(n int)
	SetMaxOpenConns(n int)
	Stats() sql.DBStats
	GetTx(ctx context.Context, opts *sql.TxOptions) (context.Context, Tx, error)
	Dialect() Dialect
	Raw() *sql.DB
}

type DatabaseInstance struct {
	*sqlx.DB
	logger  ectologger.Logger
	dialect Dialect
}

func NewDatabaseInstance(db *sqlx.DB, dialect Dialect, logger ectologger.Logger) DB {
	return &DatabaseInstance{
		DB:      db,
		logger:  logger,
		dialect: dialect,
	}
}

func (db *DatabaseInstance) GetTx(ctx context.Context, opts *sql.TxOptions) (context.Context, Tx, error) {
	return GetTx(ctx, db.logger, db, opts)
}

func (db *DatabaseInstance) Dialect() Dialect {
	return db.dialect
}

func (db *DatabaseInstance) Raw() *sql.DB {
	return db.DB.DB
}

// Conn returns the transaction carried by ctx when one is open, otherwise db.
func Conn(ctx context.Context, db DB) Querier {
	if tx, ok := ctx.Value(txKey).(*Transaction); ok && tx.IsOpen() {
		return tx
	}
	return db
}
