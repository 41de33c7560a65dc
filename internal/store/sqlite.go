package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/louloulin/agentmem/internal/errors"
	"github.com/louloulin/agentmem/internal/retrieval"

	_ "modernc.org/sqlite" // pure Go driver
)

// SQLiteStore is the system of record for memories. It also answers exact
// matches and FTS5 BM25 queries, so it can stand in as the lexical searcher
// when no Bleve index is configured.
type SQLiteStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	logger *slog.Logger
	closed bool
}

var (
	_ retrieval.ExactMatcher    = (*SQLiteStore)(nil)
	_ retrieval.LexicalSearcher = (*SQLiteStore)(nil)
)

// validateSQLiteIntegrity reports corruption in an existing database file.
// A missing file is fine: it will be created.
func validateSQLiteIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("cannot open for validation: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}
	return nil
}

// NewSQLiteStore opens (or creates) the memory database at path. An empty
// path opens an in-memory database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, errors.New(errors.ErrCodeDataDir, "cannot create data directory", err)
		}
		if err := validateSQLiteIntegrity(path); err != nil {
			return nil, errors.New(errors.ErrCodeCorruptIndex, "memory database is corrupted", err).
				WithDetail("path", path).
				WithSuggestion("Restore the database from a backup or remove it to start fresh")
		}
		dsn = path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.StorageError("failed to open database", err)
	}

	// One connection serializes writers and keeps :memory: databases shared.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, errors.StorageError("failed to set pragma", err)
		}
	}

	s := &SQLiteStore{db: db, path: path, logger: slog.Default()}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, errors.StorageError("failed to initialize schema", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS memories (
		id         TEXT PRIMARY KEY,
		content    TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		metadata   TEXT NOT NULL DEFAULT '{}'
	);

	CREATE INDEX IF NOT EXISTS idx_memories_content ON memories(content COLLATE NOCASE);

	-- content holds Tokenize output, joined by spaces
	CREATE VIRTUAL TABLE IF NOT EXISTS memories_fts USING fts5(
		memory_id UNINDEXED,
		content,
		tokenize='unicode61'
	);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`
	_, err := s.db.Exec(schema)
	return err
}

// SaveMemories inserts or replaces memories and their FTS rows in one
// transaction. A zero CreatedAt is set to now.
func (s *SQLiteStore) SaveMemories(ctx context.Context, memories []*Memory) error {
	if len(memories) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	upsert, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO memories(id, content, created_at, metadata) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare memory statement: %w", err)
	}
	defer upsert.Close()

	// FTS5 tables don't support REPLACE.
	ftsDelete, err := tx.PrepareContext(ctx, `DELETE FROM memories_fts WHERE memory_id = ?`)
	if err != nil {
		return fmt.Errorf("prepare fts delete: %w", err)
	}
	defer ftsDelete.Close()

	ftsInsert, err := tx.PrepareContext(ctx, `INSERT INTO memories_fts(memory_id, content) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare fts insert: %w", err)
	}
	defer ftsInsert.Close()

	for _, m := range memories {
		if m.ID == "" {
			return errors.ValidationError("memory id is required", nil)
		}
		if m.CreatedAt.IsZero() {
			m.CreatedAt = time.Now().UTC()
		}
		meta, err := json.Marshal(m.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata for %s: %w", m.ID, err)
		}
		if m.Metadata == nil {
			meta = []byte("{}")
		}

		if _, err := upsert.ExecContext(ctx, m.ID, m.Content, m.CreatedAt.UnixNano(), string(meta)); err != nil {
			return fmt.Errorf("save memory %s: %w", m.ID, err)
		}
		if _, err := ftsDelete.ExecContext(ctx, m.ID); err != nil {
			return fmt.Errorf("delete fts row %s: %w", m.ID, err)
		}
		if _, err := ftsInsert.ExecContext(ctx, m.ID, strings.Join(Tokenize(m.Content), " ")); err != nil {
			return fmt.Errorf("index memory %s: %w", m.ID, err)
		}
	}

	return tx.Commit()
}

// GetMemory returns the memory with id, or an ERR_206 error.
func (s *SQLiteStore) GetMemory(ctx context.Context, id string) (*Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT id, content, created_at, metadata FROM memories WHERE id = ?`, id)
	m, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return nil, errors.New(errors.ErrCodeMemoryMissing, "memory not found", nil).WithDetail("id", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get memory %s: %w", id, err)
	}
	return m, nil
}

// GetMemories returns the memories with the given ids keyed by id. Unknown
// ids are skipped.
func (s *SQLiteStore) GetMemories(ctx context.Context, ids []string) (map[string]*Memory, error) {
	out := make(map[string]*Memory, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	placeholders, args := inClause(ids)
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT id, content, created_at, metadata FROM memories WHERE id IN (%s)`, placeholders),
		args...)
	if err != nil {
		return nil, fmt.Errorf("get memories: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		out[m.ID] = m
	}
	return out, rows.Err()
}

// DeleteMemories removes memories and their FTS rows. Unknown ids are ignored.
func (s *SQLiteStore) DeleteMemories(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	placeholders, args := inClause(ids)
	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM memories WHERE id IN (%s)", placeholders), args...); err != nil {
		return fmt.Errorf("delete memories: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM memories_fts WHERE memory_id IN (%s)", placeholders), args...); err != nil {
		return fmt.Errorf("delete fts rows: %w", err)
	}
	return tx.Commit()
}

// ListMemories returns memories newest first, up to limit.
func (s *SQLiteStore) ListMemories(ctx context.Context, limit int) ([]*Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, content, created_at, metadata FROM memories ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	defer rows.Close()

	var out []*Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Count returns the number of stored memories.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ErrClosed
	}

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count memories: %w", err)
	}
	return n, nil
}

// MatchExact returns the memory whose id equals query, followed by memories
// whose content equals query ignoring case. Every hit scores 1.0.
func (s *SQLiteStore) MatchExact(ctx context.Context, query string, limit int) ([]retrieval.SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	query = strings.TrimSpace(query)
	if query == "" || limit <= 0 {
		return []retrieval.SearchResult{}, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, content, created_at, metadata FROM memories
		WHERE id = ? OR content = ? COLLATE NOCASE
		ORDER BY CASE WHEN id = ? THEN 0 ELSE 1 END, created_at DESC
		LIMIT ?`, query, query, query, limit)
	if err != nil {
		return nil, fmt.Errorf("exact match: %w", err)
	}
	defer rows.Close()

	results := []retrieval.SearchResult{}
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		results = append(results, m.Result(1.0))
	}
	return results, rows.Err()
}

// SetLogger replaces the logger. A nil logger is ignored.
func (s *SQLiteStore) SetLogger(l *slog.Logger) {
	if l != nil {
		s.logger = l
	}
}

// isFTSQueryError reports whether FTS5 refused the MATCH expression itself.
func isFTSQueryError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "fts5:") || strings.Contains(msg, "syntax error")
}

// Search ranks memories with FTS5 BM25. Any query term may match.
func (s *SQLiteStore) Search(ctx context.Context, query string, limit int) ([]retrieval.SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	tokens := Tokenize(query)
	if len(tokens) == 0 || limit <= 0 {
		return []retrieval.SearchResult{}, nil
	}
	quoted := make([]string, len(tokens))
	for i, t := range tokens {
		quoted[i] = `"` + t + `"`
	}

	// bm25() is negative; lower is better.
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.content, bm25(memories_fts) AS score
		FROM memories_fts f
		JOIN memories m ON m.id = f.memory_id
		WHERE memories_fts MATCH ?
		ORDER BY score
		LIMIT ?`, strings.Join(quoted, " OR "), limit)
	if err != nil {
		if isFTSQueryError(err) {
			s.logger.Debug("fts_query_rejected", slog.String("query", query), slog.String("error", err.Error()))
			return []retrieval.SearchResult{}, nil
		}
		return nil, fmt.Errorf("fts search: %w", err)
	}
	defer rows.Close()

	results := []retrieval.SearchResult{}
	for rows.Next() {
		var r retrieval.SearchResult
		var score float64
		if err := rows.Scan(&r.ID, &r.Content, &score); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		r.Score = -score
		results = append(results, r)
	}
	return results, rows.Err()
}

// Checkpoint flushes the WAL into the main database file.
func (s *SQLiteStore) Checkpoint() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	_, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return err
}

// Close checkpoints and closes the database. It is idempotent.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemory(row rowScanner) (*Memory, error) {
	var m Memory
	var created int64
	var meta string
	if err := row.Scan(&m.ID, &m.Content, &created, &meta); err != nil {
		return nil, err
	}
	m.CreatedAt = time.Unix(0, created).UTC()
	if meta != "" && meta != "{}" && meta != "null" {
		if err := json.Unmarshal([]byte(meta), &m.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return &m, nil
}

func inClause(ids []string) (string, []any) {
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	return strings.Join(placeholders, ","), args
}
