// Package postgres keeps the notification journal in PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrConnectionClosed is returned by every call made after Close.
	ErrConnectionClosed = errors.New("postgres: connection pool is closed")

	// ErrMigrationFailed wraps the failure of a single journal migration.
	ErrMigrationFailed = errors.New("postgres: migration failed")

	// ErrPoolSaturated is reported by the health check when every pooled
	// connection is checked out.
	ErrPoolSaturated = errors.New("postgres: connection pool saturated")
)

// ══════════════════════════════════════════════════════════════════════════════
// CONNECTION POOL
// ══════════════════════════════════════════════════════════════════════════════

// Config describes where the journal database lives and how large its pool
// may grow.
type Config struct {
	// URL is a full connection string and wins over the discrete fields.
	URL      string
	Host     string
	Port     int
	Database string
	User     string
	Password string
	SSLMode  string

	// MaxConns caps the pool. The journal writes one row per notification,
	// so a handful is plenty.
	MaxConns        int32
	MaxConnLifetime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultConfig returns a local database named after the service.
func DefaultConfig() Config {
	return Config{
		Host:            "localhost",
		Port:            5432,
		Database:        "classeviva",
		User:            "postgres",
		SSLMode:         "disable",
		MaxConns:        4,
		MaxConnLifetime: time.Hour,
		ConnectTimeout:  10 * time.Second,
	}
}

// DSN renders the keyword/value connection string pgx expects.
func (c Config) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s connect_timeout=%d",
		c.Host, c.Port, c.Database, c.User, c.Password, c.SSLMode, int(c.ConnectTimeout.Seconds()))
}

func (c Config) poolConfig() (*pgxpool.Config, error) {
	pc, err := pgxpool.ParseConfig(c.DSN())
	if err != nil {
		return nil, fmt.Errorf("postgres: parse connection string: %w", err)
	}
	if c.MaxConns > 0 {
		pc.MaxConns = c.MaxConns
	}
	if c.MaxConnLifetime > 0 {
		pc.MaxConnLifetime = c.MaxConnLifetime
	}
	return pc, nil
}

// Connection is the pool shared by the journal and its migrator.
type Connection struct {
	pool   *pgxpool.Pool
	closed atomic.Bool
}

// NewConnection opens the pool and fails fast when the database is not
// reachable.
func NewConnection(ctx context.Context, cfg Config) (*Connection, error) {
	pc, err := cfg.poolConfig()
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("postgres: open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &Connection{pool: pool}, nil
}

// Close releases the pool. Later calls are no-ops.
func (c *Connection) Close() {
	if c.closed.CompareAndSwap(false, true) {
		c.pool.Close()
	}
}

// Ping reports whether the database answers.
func (c *Connection) Ping(ctx context.Context) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}
	return c.pool.Ping(ctx)
}

// ─────────────────────────────────────────────────────────────────────────────
// Health
// ─────────────────────────────────────────────────────────────────────────────

// PoolHealth is one observation of the pool, taken by Health.
type PoolHealth struct {
	PingErr       error
	PingLatency   time.Duration
	TotalConns    int32
	AcquiredConns int32
	MaxConns      int32
}

// Err folds the observation into the single error a health check reports.
func (h PoolHealth) Err() error {
	if h.PingErr != nil {
		return fmt.Errorf("postgres: ping: %w", h.PingErr)
	}
	if h.MaxConns > 0 && h.AcquiredConns >= h.MaxConns {
		return fmt.Errorf("%w: %d of %d connections in use", ErrPoolSaturated, h.AcquiredConns, h.MaxConns)
	}
	return nil
}

// Health pings the database and samples the pool counters.
func (c *Connection) Health(ctx context.Context) (PoolHealth, error) {
	if c.closed.Load() {
		return PoolHealth{}, ErrConnectionClosed
	}

	start := time.Now()
	h := PoolHealth{PingErr: c.pool.Ping(ctx), PingLatency: time.Since(start)}

	stat := c.pool.Stat()
	h.TotalConns = stat.TotalConns()
	h.AcquiredConns = stat.AcquiredConns()
	h.MaxConns = stat.MaxConns()
	return h, nil
}

// Check is Health shaped as a health check: nil while the pool answers and
// has a free connection.
func (c *Connection) Check(ctx context.Context) error {
	h, err := c.Health(ctx)
	if err != nil {
		return err
	}
	return h.Err()
}

// ─────────────────────────────────────────────────────────────────────────────
// Queries
// ─────────────────────────────────────────────────────────────────────────────

// Querier is the slice of the pool the journal writes and reads through.
// pgx.Tx satisfies it too.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

// Exec runs a statement that returns no rows.
func (c *Connection) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	if c.closed.Load() {
		return pgconn.CommandTag{}, ErrConnectionClosed
	}
	return c.pool.Exec(ctx, sql, args...)
}

// Query runs a statement and hands back its rows.
func (c *Connection) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	if c.closed.Load() {
		return nil, ErrConnectionClosed
	}
	return c.pool.Query(ctx, sql, args...)
}

// inTx runs fn in a read-committed transaction, committing only when fn
// succeeds.
func (c *Connection) inTx(ctx context.Context, fn func(pgx.Tx) error) (err error) {
	if c.closed.Load() {
		return ErrConnectionClosed
	}
	tx, err := c.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATIONS
// ══════════════════════════════════════════════════════════════════════════════

// Migration is one forward-only schema step.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// Migrations lists the journal schema in the order it is applied.
func Migrations() []Migration {
	return []Migration{
		{Version: 1, Name: "create_notification_journal", SQL: migration001},
	}
}

const migrationsTable = "journal_schema_versions"

// Migrator brings the journal schema up to the latest version.
type Migrator struct {
	conn       *Connection
	migrations []Migration
}

// NewMigrator returns a migrator over the built-in journal migrations.
func NewMigrator(conn *Connection) *Migrator {
	return &Migrator{conn: conn, migrations: Migrations()}
}

// Migrate applies every migration not yet recorded, each in its own
// transaction together with its version row.
func (m *Migrator) Migrate(ctx context.Context) error {
	if _, err := m.conn.Exec(ctx, `CREATE TABLE IF NOT EXISTS `+migrationsTable+` (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`); err != nil {
		return fmt.Errorf("%w: version table: %v", ErrMigrationFailed, err)
	}

	applied, err := m.applied(ctx)
	if err != nil {
		return err
	}

	for _, mig := range pending(m.migrations, applied) {
		err := m.conn.inTx(ctx, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, mig.SQL); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, `INSERT INTO `+migrationsTable+` (version, name) VALUES ($1, $2)`, mig.Version, mig.Name)
			return err
		})
		if err != nil {
			return fmt.Errorf("%w: %03d_%s: %v", ErrMigrationFailed, mig.Version, mig.Name, err)
		}
	}
	return nil
}

func (m *Migrator) applied(ctx context.Context) (map[int]bool, error) {
	rows, err := m.conn.Query(ctx, `SELECT version FROM `+migrationsTable)
	if err != nil {
		return nil, fmt.Errorf("%w: read versions: %v", ErrMigrationFailed, err)
	}
	versions, err := pgx.CollectRows(rows, pgx.RowTo[int])
	if err != nil {
		return nil, fmt.Errorf("%w: read versions: %v", ErrMigrationFailed, err)
	}

	applied := make(map[int]bool, len(versions))
	for _, v := range versions {
		applied[v] = true
	}
	return applied, nil
}

// pending keeps the migrations whose version is not in applied, in order.
func pending(all []Migration, applied map[int]bool) []Migration {
	var out []Migration
	for _, mig := range all {
		if !applied[mig.Version] {
			out = append(out, mig)
		}
	}
	return out
}
