package telemetry

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/louloulin/agentmem/internal/retrieval"

	_ "modernc.org/sqlite" // pure Go driver
)

// DBFile is the telemetry database name inside the data directory.
const DBFile = "telemetry.db"

// DateFormat is the day key used for daily aggregates.
const DateFormat = "2006-01-02"

// MaxZeroResultQueries bounds the persisted zero-result buffer.
const MaxZeroResultQueries = 100

// MetricsDelta is what accumulated between two flushes.
type MetricsDelta struct {
	Date        string
	QueryTypes  map[retrieval.QueryType]int64
	Latencies   map[LatencyBucket]int64
	Terms       map[string]int64
	ZeroResults []QueryEvent
}

// MetricsStore persists query telemetry.
type MetricsStore interface {
	// SaveDelta adds delta to the stored aggregates atomically.
	SaveDelta(delta MetricsDelta) error

	// QueryTypeCounts sums per-type counts over an inclusive date range.
	QueryTypeCounts(from, to string) (map[retrieval.QueryType]int64, error)

	// LatencyCounts sums latency buckets over an inclusive date range.
	LatencyCounts(from, to string) (map[LatencyBucket]int64, error)

	TopTerms(limit int) ([]TermCount, error)

	// ZeroResultQueries returns recent zero-result queries, newest first.
	ZeroResultQueries(limit int) ([]string, error)

	Close() error
}

// SQLiteMetricsStore implements MetricsStore using SQLite.
type SQLiteMetricsStore struct {
	db    *sql.DB
	owned bool
}

var _ MetricsStore = (*SQLiteMetricsStore)(nil)

// NewSQLiteMetricsStore wraps a database the caller owns, creating the
// telemetry tables if needed. Close leaves db open.
func NewSQLiteMetricsStore(db *sql.DB) (*SQLiteMetricsStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if err := InitTelemetrySchema(db); err != nil {
		return nil, err
	}
	return &SQLiteMetricsStore{db: db}, nil
}

// OpenSQLiteMetricsStore opens (or creates) a dedicated telemetry database.
func OpenSQLiteMetricsStore(path string) (*SQLiteMetricsStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create telemetry directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open telemetry database: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode = WAL", "PRAGMA busy_timeout = 5000"} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	s, err := NewSQLiteMetricsStore(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// InitTelemetrySchema creates the telemetry tables if they don't exist.
func InitTelemetrySchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS query_type_stats (
		date TEXT NOT NULL,
		query_type TEXT NOT NULL,
		count INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (date, query_type)
	);

	CREATE TABLE IF NOT EXISTS query_terms (
		term TEXT PRIMARY KEY,
		count INTEGER NOT NULL DEFAULT 1,
		last_seen TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_query_terms_count ON query_terms(count DESC);

	-- circular buffer, trimmed to the newest entries on every write
	CREATE TABLE IF NOT EXISTS zero_result_queries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		query TEXT NOT NULL,
		query_type TEXT NOT NULL DEFAULT '',
		threshold REAL NOT NULL DEFAULT 0,
		timestamp TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS query_latency_stats (
		date TEXT NOT NULL,
		bucket TEXT NOT NULL,
		count INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (date, bucket)
	);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("create telemetry schema: %w", err)
	}
	return nil
}

// SaveDelta upserts every part of delta in one transaction.
func (s *SQLiteMetricsStore) SaveDelta(delta MetricsDelta) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for qt, count := range delta.QueryTypes {
		if _, err := tx.Exec(`
			INSERT INTO query_type_stats (date, query_type, count) VALUES (?, ?, ?)
			ON CONFLICT(date, query_type) DO UPDATE SET count = count + excluded.count
		`, delta.Date, string(qt), count); err != nil {
			return fmt.Errorf("upsert query type count: %w", err)
		}
	}

	for bucket, count := range delta.Latencies {
		if _, err := tx.Exec(`
			INSERT INTO query_latency_stats (date, bucket, count) VALUES (?, ?, ?)
			ON CONFLICT(date, bucket) DO UPDATE SET count = count + excluded.count
		`, delta.Date, string(bucket), count); err != nil {
			return fmt.Errorf("upsert latency count: %w", err)
		}
	}

	for term, count := range delta.Terms {
		if _, err := tx.Exec(`
			INSERT INTO query_terms (term, count, last_seen) VALUES (?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(term) DO UPDATE SET
				count = count + excluded.count,
				last_seen = CURRENT_TIMESTAMP
		`, term, count); err != nil {
			return fmt.Errorf("upsert term count: %w", err)
		}
	}

	if len(delta.ZeroResults) > 0 {
		for _, e := range delta.ZeroResults {
			if _, err := tx.Exec(`
				INSERT INTO zero_result_queries (query, query_type, threshold, timestamp)
				VALUES (?, ?, ?, ?)
			`, e.Query, string(e.QueryType), e.Threshold, e.Timestamp); err != nil {
				return fmt.Errorf("insert zero-result query: %w", err)
			}
		}
		if _, err := tx.Exec(`
			DELETE FROM zero_result_queries
			WHERE id NOT IN (SELECT id FROM zero_result_queries ORDER BY id DESC LIMIT ?)
		`, MaxZeroResultQueries); err != nil {
			return fmt.Errorf("trim zero-result queries: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *SQLiteMetricsStore) QueryTypeCounts(from, to string) (map[retrieval.QueryType]int64, error) {
	rows, err := s.db.Query(`
		SELECT query_type, SUM(count) FROM query_type_stats
		WHERE date >= ? AND date <= ?
		GROUP BY query_type
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("query type counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[retrieval.QueryType]int64)
	for rows.Next() {
		var qt string
		var count int64
		if err := rows.Scan(&qt, &count); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		counts[retrieval.QueryType(qt)] = count
	}
	return counts, rows.Err()
}

func (s *SQLiteMetricsStore) LatencyCounts(from, to string) (map[LatencyBucket]int64, error) {
	rows, err := s.db.Query(`
		SELECT bucket, SUM(count) FROM query_latency_stats
		WHERE date >= ? AND date <= ?
		GROUP BY bucket
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("query latency counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[LatencyBucket]int64)
	for rows.Next() {
		var bucket string
		var count int64
		if err := rows.Scan(&bucket, &count); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		counts[LatencyBucket(bucket)] = count
	}
	return counts, rows.Err()
}

// TopTerms returns the most queried terms, ties broken alphabetically.
func (s *SQLiteMetricsStore) TopTerms(limit int) ([]TermCount, error) {
	rows, err := s.db.Query(`
		SELECT term, count FROM query_terms
		ORDER BY count DESC, term ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query top terms: %w", err)
	}
	defer rows.Close()

	var terms []TermCount
	for rows.Next() {
		var tc TermCount
		if err := rows.Scan(&tc.Term, &tc.Count); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		terms = append(terms, tc)
	}
	return terms, rows.Err()
}

func (s *SQLiteMetricsStore) ZeroResultQueries(limit int) ([]string, error) {
	rows, err := s.db.Query(`
		SELECT query FROM zero_result_queries
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query zero-result queries: %w", err)
	}
	defer rows.Close()

	var queries []string
	for rows.Next() {
		var q string
		if err := rows.Scan(&q); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		queries = append(queries, q)
	}
	return queries, rows.Err()
}

// Close closes the database if this store opened it.
func (s *SQLiteMetricsStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}
