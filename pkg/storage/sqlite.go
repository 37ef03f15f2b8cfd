package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/rs/zerolog"
	sqlite "modernc.org/sqlite"

	"github.com/Makr91/zoneweaver-api-sub005/pkg/log"
)

const (
	// insertBatchSize bounds multi-row INSERT statements.
	insertBatchSize = 100

	// Busy-retry policy for transient SQLITE_BUSY/SQLITE_LOCKED failures.
	busyBaseBackoff  = 100 * time.Millisecond
	busyMaxAttempts  = 5
	busyBackoffNum   = 3
	busyBackoffDenom = 2
)

// SQLStore implements Store on a single SQLite database file. WAL mode
// keeps readers off the writer's back; the busy-retry wrapper absorbs the
// rest. Pure-Go driver, so the agent cross-compiles for illumos without
// cgo.
type SQLStore struct {
	db     *sql.DB
	logger zerolog.Logger
}

var _ Store = (*SQLStore)(nil)

// Open opens (creating if necessary) the database at path and applies the
// connection pragmas. Run Migrate before first use.
func Open(path string, busyTimeoutMS int) (*SQLStore, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is empty")
	}
	if busyTimeoutMS <= 0 {
		busyTimeoutMS = 5000
	}

	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?cache=shared&mode=rwc", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		fmt.Sprintf("PRAGMA busy_timeout=%d", busyTimeoutMS),
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %s: %w", p, err)
		}
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)

	return &SQLStore{
		db:     db,
		logger: log.WithComponent("storage"),
	}, nil
}

// Close closes the underlying database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// retry runs op, retrying transient busy/locked failures with exponential
// backoff and a small jitter. Anything else surfaces immediately.
func (s *SQLStore) retry(ctx context.Context, op func() error) error {
	backoff := busyBaseBackoff
	for attempt := 1; ; attempt++ {
		err := op()
		if err == nil || !isBusy(err) || attempt >= busyMaxAttempts {
			return err
		}
		jitter := time.Duration(rand.Int63n(int64(backoff)/4 + 1))
		s.logger.Debug().Int("attempt", attempt).Dur("backoff", backoff).Msg("database busy, retrying")
		select {
		case <-time.After(backoff + jitter):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff = backoff * busyBackoffNum / busyBackoffDenom
	}
}

// isBusy reports whether err is a transient SQLITE_BUSY or SQLITE_LOCKED.
func isBusy(err error) bool {
	var serr *sqlite.Error
	if errors.As(err, &serr) {
		switch serr.Code() & 0xff {
		case 5, 6: // SQLITE_BUSY, SQLITE_LOCKED
			return true
		}
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

// isUniqueViolation reports whether err is a UNIQUE constraint failure.
func isUniqueViolation(err error) bool {
	var serr *sqlite.Error
	if errors.As(err, &serr) {
		return serr.Code()&0xff == 19 // SQLITE_CONSTRAINT
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// withTx runs fn inside a transaction, rolling back on error.
func (s *SQLStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return s.retry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit transaction: %w", err)
		}
		return nil
	})
}

// utc normalizes a timestamp before it is bound to a statement. Text
// ordering of the stored form is only chronological when every row uses
// the same offset.
func utc(t time.Time) time.Time {
	return t.UTC()
}

// nullTime converts an optional timestamp for binding.
func nullTime(t *time.Time) sql.NullTime {
	if t == nil || t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: utc(*t), Valid: true}
}

// timePtr converts a scanned nullable timestamp back.
func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

// nullStr binds "" as NULL.
func nullStr(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}

// nullFloat binds a nil derived metric as NULL.
func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

// floatPtr converts a scanned nullable REAL back.
func floatPtr(nf sql.NullFloat64) *float64 {
	if !nf.Valid {
		return nil
	}
	v := nf.Float64
	return &v
}

// nullInt binds a nil derived counter delta as NULL.
func nullInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

// intPtr converts a scanned nullable INTEGER back.
func intPtr(ni sql.NullInt64) *int64 {
	if !ni.Valid {
		return nil
	}
	v := ni.Int64
	return &v
}

// placeholders returns "?, ?, ..." for n parameters.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

// bulkInsert writes rows in batches of insertBatchSize inside one
// transaction per batch.
func (s *SQLStore) bulkInsert(ctx context.Context, table string, cols []string, rows [][]interface{}) error {
	if len(rows) == 0 {
		return nil
	}
	rowPart := "(" + placeholders(len(cols)) + ")"
	for start := 0; start < len(rows); start += insertBatchSize {
		end := start + insertBatchSize
		if end > len(rows) {
			end = len(rows)
		}
		batch := rows[start:end]

		parts := make([]string, len(batch))
		args := make([]interface{}, 0, len(batch)*len(cols))
		for i, row := range batch {
			parts[i] = rowPart
			args = append(args, row...)
		}
		query := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s",
			table, strings.Join(cols, ", "), strings.Join(parts, ", "))

		err := s.retry(ctx, func() error {
			_, err := s.db.ExecContext(ctx, query, args...)
			return err
		})
		if err != nil {
			return fmt.Errorf("failed to bulk insert into %s: %w", table, err)
		}
	}
	return nil
}

// replaceSnapshot atomically swaps the per-host rows of a current-state
// table for a fresh snapshot.
func (s *SQLStore) replaceSnapshot(ctx context.Context, table, host string, cols []string, rows [][]interface{}) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE host = ?", table), host); err != nil {
			return fmt.Errorf("failed to clear %s snapshot: %w", table, err)
		}
		if len(rows) == 0 {
			return nil
		}
		rowPart := "(" + placeholders(len(cols)) + ")"
		for start := 0; start < len(rows); start += insertBatchSize {
			end := start + insertBatchSize
			if end > len(rows) {
				end = len(rows)
			}
			batch := rows[start:end]

			parts := make([]string, len(batch))
			args := make([]interface{}, 0, len(batch)*len(cols))
			for i, row := range batch {
				parts[i] = rowPart
				args = append(args, row...)
			}
			query := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s",
				table, strings.Join(cols, ", "), strings.Join(parts, ", "))
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return fmt.Errorf("failed to write %s snapshot: %w", table, err)
			}
		}
		return nil
	})
}
