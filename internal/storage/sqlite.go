package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// DB wraps a sql.DB connection to the agent database.
type DB struct {
	db     *sql.DB
	driver string
}

// NewDB opens (or creates) a SQLite database at path and runs schema migrations.
func NewDB(path string) (*DB, error) {
	return Open(DriverSQLite, path)
}

// Open connects to the database selected by driver and runs schema migrations.
// For sqlite the dsn is a file path; for postgres it is a connection URL.
func Open(driver, dsn string) (*DB, error) {
	var sqlDB *sql.DB
	var err error
	switch driver {
	case DriverSQLite, "":
		driver = DriverSQLite
		sqlDB, err = sql.Open("sqlite", dsn+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	case DriverPostgres:
		sqlDB, err = sql.Open("pgx", dsn)
	default:
		return nil, fmt.Errorf("unknown database driver: %s", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	d := &DB{db: sqlDB, driver: driver}
	if err := d.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return d, nil
}

// Close closes the underlying database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// Driver reports which driver the database was opened with.
func (d *DB) Driver() string {
	return d.driver
}

// schema is written in the subset of SQL shared by SQLite and PostgreSQL.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS agents (
    id TEXT PRIMARY KEY,
    repo_url TEXT NOT NULL,
    branch_name TEXT NOT NULL,
    branch_hash TEXT NOT NULL UNIQUE,
    agent_address TEXT,
    status TEXT NOT NULL DEFAULT 'deploying',
    pid BIGINT,
    created_at BIGINT NOT NULL,
    updated_at BIGINT NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS secrets (
    id TEXT PRIMARY KEY,
    agent_id TEXT NOT NULL REFERENCES agents(id) ON DELETE CASCADE,
    key TEXT NOT NULL,
    encrypted_value TEXT NOT NULL,
    created_at BIGINT NOT NULL,
    updated_at BIGINT NOT NULL,
    UNIQUE (agent_id, key)
)`,
	`CREATE TABLE IF NOT EXISTS metrics (
    id TEXT PRIMARY KEY,
    agent_id TEXT NOT NULL REFERENCES agents(id) ON DELETE CASCADE,
    decision TEXT NOT NULL,
    price DOUBLE PRECISION,
    timestamp BIGINT NOT NULL,
    trade_executed INTEGER NOT NULL DEFAULT 0,
    trade_tx_hash TEXT,
    trade_amount DOUBLE PRECISION
)`,
	`CREATE INDEX IF NOT EXISTS idx_agents_branch_hash ON agents(branch_hash)`,
	`CREATE INDEX IF NOT EXISTS idx_agents_repo_url ON agents(repo_url)`,
	`CREATE INDEX IF NOT EXISTS idx_secrets_agent_id ON secrets(agent_id)`,
	`CREATE INDEX IF NOT EXISTS idx_metrics_agent_id ON metrics(agent_id)`,
	`CREATE INDEX IF NOT EXISTS idx_metrics_timestamp ON metrics(agent_id, timestamp)`,
}

// migrate creates all required tables if they do not already exist.
func (d *DB) migrate() error {
	for _, stmt := range schema {
		if _, err := d.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// rebind rewrites ? placeholders into $n for drivers that need it.
func (d *DB) rebind(query string) string {
	if d.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (d *DB) exec(query string, args ...any) (sql.Result, error) {
	return d.db.Exec(d.rebind(query), args...)
}

func (d *DB) query(query string, args ...any) (*sql.Rows, error) {
	return d.db.Query(d.rebind(query), args...)
}

func (d *DB) queryRow(query string, args ...any) *sql.Row {
	return d.db.QueryRow(d.rebind(query), args...)
}

// boolToInt converts a bool to an integer (0 or 1) for storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func nullInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}
