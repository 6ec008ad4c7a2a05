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

	"github.com/snowtrail/snowtrail/internal/errors"
	"github.com/snowtrail/snowtrail/internal/payload"
	"github.com/snowtrail/snowtrail/pkg/types"

	_ "github.com/mattn/go-sqlite3"
)

// sqliteDeleteChunk keeps DELETE statements under SQLite's host parameter limit.
const sqliteDeleteChunk = 500

// SQLiteStore keeps pending events in a single SQLite table.
type SQLiteStore struct {
	*capacityGuard

	db     *sql.DB
	dbPath string
	logger *slog.Logger
	mu     sync.Mutex
	count  int64

	insertStmt *sql.Stmt
	countStmt  *sql.Stmt
	rangeStmt  *sql.Stmt
}

// NewSQLiteStore opens (or creates) the events database at dbPath.
func NewSQLiteStore(dbPath string, capacity int, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dbPath == "" {
		return nil, errors.NewConfigError(errors.CodeInvalidConfig, "sqlite store requires a path")
	}
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, errors.NewStoreError(errors.CodeStoreIO, "failed to create store directory", err)
		}
	}

	// Single writer with WAL journaling
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, errors.NewStoreError(errors.CodeStoreIO, "failed to open database", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{
		capacityGuard: newCapacityGuard(capacity, logger),
		db:            db,
		dbPath:        dbPath,
		logger:        logger,
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, errors.NewStoreError(errors.CodeStoreIO, "failed to initialize schema", err)
	}
	if err := s.prepare(); err != nil {
		db.Close()
		return nil, errors.NewStoreError(errors.CodeStoreIO, "failed to prepare statements", err)
	}
	if err := s.countStmt.QueryRow().Scan(&s.count); err != nil {
		s.Close()
		return nil, errors.NewStoreError(errors.CodeStoreIO, "failed to count events", err)
	}

	logger.Debug("opened sqlite event store", "path", dbPath, "pending", s.count)
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			payload TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`)
	return err
}

func (s *SQLiteStore) prepare() error {
	var err error
	if s.insertStmt, err = s.db.Prepare(`INSERT INTO events (payload, created_at) VALUES (?, ?)`); err != nil {
		return err
	}
	if s.countStmt, err = s.db.Prepare(`SELECT COUNT(*) FROM events`); err != nil {
		return err
	}
	if s.rangeStmt, err = s.db.Prepare(`SELECT id, payload FROM events ORDER BY id ASC LIMIT ?`); err != nil {
		return err
	}
	return nil
}

func (s *SQLiteStore) Add(ctx context.Context, p *payload.Payload) (types.RowID, error) {
	data, err := p.MarshalJSON()
	if err != nil {
		return "", errors.NewStoreError(errors.CodeEncodeFailed, "failed to encode payload", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.admit(s.count); err != nil {
		return "", err
	}

	res, err := s.insertStmt.ExecContext(ctx, string(data), time.Now().UnixMilli())
	if err != nil {
		return "", errors.NewStoreError(errors.CodeStoreIO, "failed to insert event", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return "", errors.NewStoreError(errors.CodeStoreIO, "failed to read row id", err)
	}
	s.count++
	return types.RowIDFromUint(uint64(id)), nil
}

func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	if err := s.countStmt.QueryRowContext(ctx).Scan(&n); err != nil {
		return 0, errors.NewStoreError(errors.CodeStoreIO, "failed to count events", err)
	}
	s.count = n
	return n, nil
}

func (s *SQLiteStore) Range(ctx context.Context, limit int) ([]Row, error) {
	if limit <= 0 {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.rangeStmt.QueryContext(ctx, limit)
	if err != nil {
		return nil, errors.NewStoreError(errors.CodeStoreIO, "failed to query events", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var (
			id   int64
			body string
		)
		if err := rows.Scan(&id, &body); err != nil {
			return nil, errors.NewStoreError(errors.CodeStoreIO, "failed to scan event", err)
		}
		p := payload.New()
		if err := json.Unmarshal([]byte(body), p); err != nil {
			s.logger.Warn("skipping undecodable event row", "id", id, "error", err)
			continue
		}
		out = append(out, Row{ID: types.RowIDFromUint(uint64(id)), Payload: p})
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStoreError(errors.CodeStoreIO, "failed to iterate events", err)
	}
	return out, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, ids []types.RowID) error {
	args := make([]interface{}, 0, len(ids))
	for _, id := range ids {
		n, ok := id.Uint()
		if !ok {
			continue
		}
		args = append(args, int64(n))
	}
	if len(args) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for start := 0; start < len(args); start += sqliteDeleteChunk {
		end := start + sqliteDeleteChunk
		if end > len(args) {
			end = len(args)
		}
		chunk := args[start:end]
		query := fmt.Sprintf(`DELETE FROM events WHERE id IN (%s)`,
			strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ","))

		res, err := s.db.ExecContext(ctx, query, chunk...)
		if err != nil {
			return errors.NewStoreError(errors.CodeStoreIO, "failed to delete events", err)
		}
		if n, err := res.RowsAffected(); err == nil {
			s.count -= n
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, stmt := range []*sql.Stmt{s.insertStmt, s.countStmt, s.rangeStmt} {
		if stmt != nil {
			stmt.Close()
		}
	}
	return s.db.Close()
}
