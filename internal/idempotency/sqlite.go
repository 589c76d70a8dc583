package idempotency

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists idempotency entries so replay survives a bridge
// restart. The UI transaction itself is never retried across restarts; only
// the finished response body is replayable.
type SQLiteStore struct {
	db  *sql.DB
	ttl time.Duration
}

// NewSQLite opens (or creates) the store at dbPath.
func NewSQLite(dbPath string, ttl time.Duration) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create idempotency directory: %w", err)
	}

	// WAL keeps readers from blocking the write path.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open idempotency database: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping idempotency database: %w", err)
	}

	s := &SQLiteStore{db: db, ttl: ttl}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize idempotency schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS idempotency (
		idem_key TEXT NOT NULL,
		fingerprint TEXT NOT NULL,
		status INTEGER NOT NULL,
		body BLOB NOT NULL,
		stored_at INTEGER NOT NULL,
		PRIMARY KEY (idem_key, fingerprint)
	);
	CREATE INDEX IF NOT EXISTS idx_idempotency_stored ON idempotency(stored_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, key, fingerprint string) (*CachedResponse, error) {
	query := `SELECT status, body, stored_at FROM idempotency WHERE idem_key = ? AND fingerprint = ?`
	row := s.db.QueryRowContext(ctx, query, key, fingerprint)

	var resp CachedResponse
	var storedAt int64
	err := row.Scan(&resp.Status, &resp.Body, &storedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan idempotency row: %w", err)
	}
	resp.StoredAt = time.Unix(storedAt, 0)
	if time.Since(resp.StoredAt) > s.ttl {
		return nil, nil
	}
	return &resp, nil
}

// Put implements Store. SQLITE_BUSY conflicts are retried with exponential
// backoff; the writer can race the purge sweeper.
func (s *SQLiteStore) Put(ctx context.Context, key, fingerprint string, resp CachedResponse) error {
	if resp.StoredAt.IsZero() {
		resp.StoredAt = time.Now()
	}
	query := `
	INSERT INTO idempotency (idem_key, fingerprint, status, body, stored_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(idem_key, fingerprint) DO UPDATE SET
		status = excluded.status,
		body = excluded.body,
		stored_at = excluded.stored_at`

	const maxRetries = 3
	baseDelay := 100 * time.Millisecond
	var err error
	for i := 0; i < maxRetries; i++ {
		_, err = s.db.ExecContext(ctx, query, key, fingerprint, resp.Status, resp.Body, resp.StoredAt.Unix())
		if err == nil {
			return nil
		}
		if !isBusy(err) || i == maxRetries-1 {
			break
		}
		delay := baseDelay * time.Duration(1<<i)
		slog.Debug("idempotency put hit SQLITE_BUSY, retrying", "attempt", i+1, "delay", delay)
		time.Sleep(delay)
	}
	return fmt.Errorf("store idempotency entry: %w", err)
}

// Purge implements Store.
func (s *SQLiteStore) Purge(ctx context.Context) (int64, error) {
	threshold := time.Now().Add(-s.ttl).Unix()
	res, err := s.db.ExecContext(ctx, `DELETE FROM idempotency WHERE stored_at < ?`, threshold)
	if err != nil {
		return 0, fmt.Errorf("purge idempotency entries: %w", err)
	}
	return res.RowsAffected()
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close idempotency database: %w", err)
	}
	return nil
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// StartSweeper runs a background goroutine that periodically purges expired
// entries until ctx ends.
func StartSweeper(ctx context.Context, store Store, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if removed, err := store.Purge(ctx); err != nil {
					slog.Error("idempotency sweep failed", "error", err)
				} else if removed > 0 {
					slog.Info("idempotency sweep removed expired entries", "count", removed)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}
