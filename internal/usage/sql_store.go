package usage

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

// Database drivers supported by SQLStore.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

const createUsageTable = `CREATE TABLE IF NOT EXISTS usage_records (
	id TEXT PRIMARY KEY,
	task_type TEXT NOT NULL,
	model_id TEXT NOT NULL,
	tier TEXT NOT NULL,
	input_tokens BIGINT NOT NULL,
	output_tokens BIGINT NOT NULL,
	cost_usd DOUBLE PRECISION NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
)`

// SQLConfig holds connection pool settings for SQLStore.
type SQLConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultSQLConfig returns default configuration.
func DefaultSQLConfig() SQLConfig {
	return SQLConfig{
		MaxOpenConns:    5,
		MaxIdleConns:    2,
		ConnMaxLifetime: 5 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

// SQLStore persists usage records to Postgres, CockroachDB or SQLite.
type SQLStore struct {
	db     *sql.DB
	driver string
}

// NewSQLStore wraps an open database using the given driver's dialect.
func NewSQLStore(db *sql.DB, driver string) *SQLStore {
	return &SQLStore{db: db, driver: driver}
}

// DriverFor picks the driver for a DSN. sqlite:// and file: DSNs and
// paths ending in .db or .sqlite use SQLite; everything else is Postgres.
// The returned source is what sql.Open expects.
func DriverFor(dsn string) (driver, source string) {
	switch {
	case strings.HasPrefix(dsn, "sqlite://"):
		return DriverSQLite, strings.TrimPrefix(dsn, "sqlite://")
	case strings.HasPrefix(dsn, "file:"),
		strings.HasSuffix(dsn, ".db"),
		strings.HasSuffix(dsn, ".sqlite"):
		return DriverSQLite, dsn
	default:
		return DriverPostgres, dsn
	}
}

// OpenSQLStore connects to dsn and creates the usage table if needed.
func OpenSQLStore(ctx context.Context, dsn string, config SQLConfig) (*SQLStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("usage: dsn is required")
	}
	driver, source := DriverFor(dsn)
	db, err := sql.Open(driver, source)
	if err != nil {
		return nil, fmt.Errorf("usage: open database: %w", err)
	}
	if driver == DriverSQLite {
		// One connection keeps :memory: databases shared and writes serialized.
		config.MaxOpenConns = 1
		config.MaxIdleConns = 1
	}
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	connectTimeout := config.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 10 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("usage: ping database: %w", err)
	}

	store := NewSQLStore(db, driver)
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// EnsureSchema creates the usage table if it does not exist.
func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createUsageTable); err != nil {
		return fmt.Errorf("usage: create table: %w", err)
	}
	return nil
}

// Save inserts a record.
func (s *SQLStore) Save(ctx context.Context, r Record) error {
	_, err := s.db.ExecContext(ctx,
		s.rebind(`INSERT INTO usage_records (id, task_type, model_id, tier, input_tokens, output_tokens, cost_usd, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		r.ID, r.TaskType, r.ModelID, string(r.Tier), r.InputTokens, r.OutputTokens, r.CostUSD, r.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("usage: insert record: %w", err)
	}
	return nil
}

// TotalsByModel aggregates persisted usage per model since the given time.
func (s *SQLStore) TotalsByModel(ctx context.Context, since time.Time) (map[string]Usage, error) {
	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT model_id, COUNT(*), SUM(input_tokens), SUM(output_tokens), SUM(cost_usd)
		FROM usage_records WHERE created_at >= ? GROUP BY model_id`),
		since.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("usage: query totals: %w", err)
	}
	defer rows.Close()

	result := make(map[string]Usage)
	for rows.Next() {
		var model string
		var u Usage
		if err := rows.Scan(&model, &u.Requests, &u.InputTokens, &u.OutputTokens, &u.CostUSD); err != nil {
			return nil, fmt.Errorf("usage: scan totals: %w", err)
		}
		result[model] = u
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("usage: iterate totals: %w", err)
	}
	return result, nil
}

// rebind rewrites ? placeholders to $n for Postgres.
func (s *SQLStore) rebind(query string) string {
	if s.driver == DriverSQLite {
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

// Close releases database resources.
func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
