package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Makr91/zoneweaver-api-sub005/pkg/types"
)

// Console, terminal and VNC session records. The PTY registry itself is
// process-local; these rows carry what must survive a restart: identity,
// pid for liveness checks, and the persisted output tail.

func scanConsoleSession(row interface{ Scan(...interface{}) error }) (*types.ConsoleSession, error) {
	var (
		cs     types.ConsoleSession
		pid    sql.NullInt64
		buffer sql.NullString
	)
	err := row.Scan(&cs.ID, &cs.ZoneName, &pid, &cs.Status,
		&cs.CreatedAt, &cs.LastAccessed, &cs.LastActivity, &buffer)
	if err != nil {
		return nil, err
	}
	cs.PID = int(pid.Int64)
	cs.SessionBuffer = buffer.String
	cs.CreatedAt = cs.CreatedAt.UTC()
	cs.LastAccessed = cs.LastAccessed.UTC()
	cs.LastActivity = cs.LastActivity.UTC()
	return &cs, nil
}

// CreateConsoleSession records a new console attachment. The partial unique
// index on (zone_name, status != closed) enforces one active session per
// zone; a collision surfaces as ErrConflict.
func (s *SQLStore) CreateConsoleSession(ctx context.Context, cs *types.ConsoleSession) error {
	now := utc(time.Now())
	if cs.CreatedAt.IsZero() {
		cs.CreatedAt = now
	}
	if cs.LastAccessed.IsZero() {
		cs.LastAccessed = now
	}
	if cs.LastActivity.IsZero() {
		cs.LastActivity = now
	}
	if cs.Status == "" {
		cs.Status = types.SessionConnecting
	}
	return s.retry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `INSERT INTO zlogin_sessions
				(id, zone_name, pid, status, created_at, last_accessed, last_activity, session_buffer)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			cs.ID, cs.ZoneName, nullPID(cs.PID), string(cs.Status),
			utc(cs.CreatedAt), utc(cs.LastAccessed), utc(cs.LastActivity), nullStr(cs.SessionBuffer))
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: zone %s already has an active console session", ErrConflict, cs.ZoneName)
			}
			return fmt.Errorf("failed to create console session: %w", err)
		}
		return nil
	})
}

// GetConsoleSession loads one console session by id.
func (s *SQLStore) GetConsoleSession(ctx context.Context, id string) (*types.ConsoleSession, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, zone_name, pid, status, created_at,
			last_accessed, last_activity, session_buffer
		FROM zlogin_sessions WHERE id = ?`, id)
	cs, err := scanConsoleSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: console session %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load console session %s: %w", id, err)
	}
	return cs, nil
}

// GetActiveConsoleSession finds the connecting/active session for a zone.
func (s *SQLStore) GetActiveConsoleSession(ctx context.Context, zoneName string) (*types.ConsoleSession, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, zone_name, pid, status, created_at,
			last_accessed, last_activity, session_buffer
		FROM zlogin_sessions WHERE zone_name = ? AND status != 'closed'`, zoneName)
	cs, err := scanConsoleSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no active console session for zone %s", ErrNotFound, zoneName)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load console session for %s: %w", zoneName, err)
	}
	return cs, nil
}

// ListConsoleSessions returns sessions, optionally including closed ones.
func (s *SQLStore) ListConsoleSessions(ctx context.Context, includeClosed bool) ([]*types.ConsoleSession, error) {
	query := `SELECT id, zone_name, pid, status, created_at, last_accessed, last_activity, session_buffer
		FROM zlogin_sessions`
	if !includeClosed {
		query += " WHERE status != 'closed'"
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list console sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*types.ConsoleSession
	for rows.Next() {
		cs, err := scanConsoleSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan console session: %w", err)
		}
		sessions = append(sessions, cs)
	}
	return sessions, rows.Err()
}

// UpdateConsoleSession moves a session between connecting/active/closed and
// records the PTY pid once known.
func (s *SQLStore) UpdateConsoleSession(ctx context.Context, id string, status types.SessionStatus, pid int) error {
	return s.retry(ctx, func() error {
		res, err := s.db.ExecContext(ctx,
			"UPDATE zlogin_sessions SET status = ?, pid = ?, last_accessed = ? WHERE id = ?",
			string(status), nullPID(pid), utc(time.Now()), id)
		if err != nil {
			return fmt.Errorf("failed to update console session %s: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: console session %s", ErrNotFound, id)
		}
		return nil
	})
}

// TouchConsoleSession refreshes the access/activity timestamps. Zero values
// leave the respective column unchanged.
func (s *SQLStore) TouchConsoleSession(ctx context.Context, id string, accessed, activity time.Time) error {
	return s.retry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `UPDATE zlogin_sessions SET
				last_accessed = COALESCE(?, last_accessed),
				last_activity = COALESCE(?, last_activity)
			WHERE id = ?`,
			nullTime(optionalTime(accessed)), nullTime(optionalTime(activity)), id)
		if err != nil {
			return fmt.Errorf("failed to touch console session %s: %w", id, err)
		}
		return nil
	})
}

// SaveConsoleBuffer persists the recent output tail for replay across
// restarts.
func (s *SQLStore) SaveConsoleBuffer(ctx context.Context, id, buffer string) error {
	return s.retry(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			"UPDATE zlogin_sessions SET session_buffer = ?, last_activity = ? WHERE id = ?",
			buffer, utc(time.Now()), id)
		if err != nil {
			return fmt.Errorf("failed to save console buffer %s: %w", id, err)
		}
		return nil
	})
}

// CloseConsoleSession marks a session closed. Closing an already-closed
// session is a no-op.
func (s *SQLStore) CloseConsoleSession(ctx context.Context, id string) error {
	return s.retry(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			"UPDATE zlogin_sessions SET status = 'closed', last_accessed = ? WHERE id = ?",
			utc(time.Now()), id)
		if err != nil {
			return fmt.Errorf("failed to close console session %s: %w", id, err)
		}
		return nil
	})
}

func scanTerminalSession(row interface{ Scan(...interface{}) error }) (*types.TerminalSession, error) {
	var (
		ts     types.TerminalSession
		pid    sql.NullInt64
		buffer sql.NullString
	)
	err := row.Scan(&ts.ID, &ts.Command, &pid, &ts.Status,
		&ts.CreatedAt, &ts.LastAccessed, &buffer)
	if err != nil {
		return nil, err
	}
	ts.PID = int(pid.Int64)
	ts.SessionBuffer = buffer.String
	ts.CreatedAt = ts.CreatedAt.UTC()
	ts.LastAccessed = ts.LastAccessed.UTC()
	return &ts, nil
}

// CreateTerminalSession records a new host shell session.
func (s *SQLStore) CreateTerminalSession(ctx context.Context, ts *types.TerminalSession) error {
	now := utc(time.Now())
	if ts.CreatedAt.IsZero() {
		ts.CreatedAt = now
	}
	if ts.LastAccessed.IsZero() {
		ts.LastAccessed = now
	}
	if ts.Status == "" {
		ts.Status = types.SessionConnecting
	}
	return s.retry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `INSERT INTO terminal_sessions
				(id, command, pid, status, created_at, last_accessed, session_buffer)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			ts.ID, ts.Command, nullPID(ts.PID), string(ts.Status),
			utc(ts.CreatedAt), utc(ts.LastAccessed), nullStr(ts.SessionBuffer))
		if err != nil {
			return fmt.Errorf("failed to create terminal session: %w", err)
		}
		return nil
	})
}

// GetTerminalSession loads one terminal session by id.
func (s *SQLStore) GetTerminalSession(ctx context.Context, id string) (*types.TerminalSession, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, command, pid, status, created_at,
			last_accessed, session_buffer
		FROM terminal_sessions WHERE id = ?`, id)
	ts, err := scanTerminalSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: terminal session %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load terminal session %s: %w", id, err)
	}
	return ts, nil
}

// ListTerminalSessions returns host shell sessions.
func (s *SQLStore) ListTerminalSessions(ctx context.Context, includeClosed bool) ([]*types.TerminalSession, error) {
	query := "SELECT id, command, pid, status, created_at, last_accessed, session_buffer FROM terminal_sessions"
	if !includeClosed {
		query += " WHERE status != 'closed'"
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list terminal sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*types.TerminalSession
	for rows.Next() {
		ts, err := scanTerminalSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan terminal session: %w", err)
		}
		sessions = append(sessions, ts)
	}
	return sessions, rows.Err()
}

// UpdateTerminalSession moves a terminal session between states.
func (s *SQLStore) UpdateTerminalSession(ctx context.Context, id string, status types.SessionStatus, pid int) error {
	return s.retry(ctx, func() error {
		res, err := s.db.ExecContext(ctx,
			"UPDATE terminal_sessions SET status = ?, pid = ?, last_accessed = ? WHERE id = ?",
			string(status), nullPID(pid), utc(time.Now()), id)
		if err != nil {
			return fmt.Errorf("failed to update terminal session %s: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: terminal session %s", ErrNotFound, id)
		}
		return nil
	})
}

// TouchTerminalSession refreshes the access timestamp.
func (s *SQLStore) TouchTerminalSession(ctx context.Context, id string, accessed time.Time) error {
	return s.retry(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			"UPDATE terminal_sessions SET last_accessed = ? WHERE id = ?", utc(accessed), id)
		if err != nil {
			return fmt.Errorf("failed to touch terminal session %s: %w", id, err)
		}
		return nil
	})
}

// SaveTerminalBuffer persists the recent output tail.
func (s *SQLStore) SaveTerminalBuffer(ctx context.Context, id, buffer string) error {
	return s.retry(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			"UPDATE terminal_sessions SET session_buffer = ? WHERE id = ?", buffer, id)
		if err != nil {
			return fmt.Errorf("failed to save terminal buffer %s: %w", id, err)
		}
		return nil
	})
}

// CloseTerminalSession marks a terminal session closed.
func (s *SQLStore) CloseTerminalSession(ctx context.Context, id string) error {
	return s.retry(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			"UPDATE terminal_sessions SET status = 'closed', last_accessed = ? WHERE id = ?",
			utc(time.Now()), id)
		if err != nil {
			return fmt.Errorf("failed to close terminal session %s: %w", id, err)
		}
		return nil
	})
}

func scanVNCSession(row interface{ Scan(...interface{}) error }) (*types.VNCSession, error) {
	var (
		vs  types.VNCSession
		pid sql.NullInt64
	)
	err := row.Scan(&vs.ID, &vs.ZoneName, &vs.WSPort, &pid, &vs.Status,
		&vs.CreatedAt, &vs.LastAccessed)
	if err != nil {
		return nil, err
	}
	vs.PID = int(pid.Int64)
	vs.CreatedAt = vs.CreatedAt.UTC()
	vs.LastAccessed = vs.LastAccessed.UTC()
	return &vs, nil
}

// CreateVNCSession records a framebuffer proxy for a zone. The partial
// unique index enforces one active proxy per zone.
func (s *SQLStore) CreateVNCSession(ctx context.Context, vs *types.VNCSession) error {
	now := utc(time.Now())
	if vs.CreatedAt.IsZero() {
		vs.CreatedAt = now
	}
	if vs.LastAccessed.IsZero() {
		vs.LastAccessed = now
	}
	if vs.Status == "" {
		vs.Status = types.SessionConnecting
	}
	return s.retry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `INSERT INTO vnc_sessions
				(id, zone_name, ws_port, pid, status, created_at, last_accessed)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			vs.ID, vs.ZoneName, vs.WSPort, nullPID(vs.PID), string(vs.Status),
			utc(vs.CreatedAt), utc(vs.LastAccessed))
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: zone %s already has an active VNC session", ErrConflict, vs.ZoneName)
			}
			return fmt.Errorf("failed to create VNC session: %w", err)
		}
		return nil
	})
}

// GetVNCSession loads one VNC session by id.
func (s *SQLStore) GetVNCSession(ctx context.Context, id string) (*types.VNCSession, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, zone_name, ws_port, pid, status, created_at, last_accessed FROM vnc_sessions WHERE id = ?", id)
	vs, err := scanVNCSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: VNC session %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load VNC session %s: %w", id, err)
	}
	return vs, nil
}

// GetActiveVNCSessionByZone finds the live proxy for a zone.
func (s *SQLStore) GetActiveVNCSessionByZone(ctx context.Context, zoneName string) (*types.VNCSession, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, zone_name, ws_port, pid, status, created_at, last_accessed FROM vnc_sessions WHERE zone_name = ? AND status != 'closed'",
		zoneName)
	vs, err := scanVNCSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no active VNC session for zone %s", ErrNotFound, zoneName)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load VNC session for %s: %w", zoneName, err)
	}
	return vs, nil
}

// ListVNCSessions returns VNC proxy records.
func (s *SQLStore) ListVNCSessions(ctx context.Context, includeClosed bool) ([]*types.VNCSession, error) {
	query := "SELECT id, zone_name, ws_port, pid, status, created_at, last_accessed FROM vnc_sessions"
	if !includeClosed {
		query += " WHERE status != 'closed'"
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list VNC sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*types.VNCSession
	for rows.Next() {
		vs, err := scanVNCSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan VNC session: %w", err)
		}
		sessions = append(sessions, vs)
	}
	return sessions, rows.Err()
}

// UpdateVNCSession moves a VNC session between states.
func (s *SQLStore) UpdateVNCSession(ctx context.Context, id string, status types.SessionStatus, pid int) error {
	return s.retry(ctx, func() error {
		res, err := s.db.ExecContext(ctx,
			"UPDATE vnc_sessions SET status = ?, pid = ?, last_accessed = ? WHERE id = ?",
			string(status), nullPID(pid), utc(time.Now()), id)
		if err != nil {
			return fmt.Errorf("failed to update VNC session %s: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: VNC session %s", ErrNotFound, id)
		}
		return nil
	})
}

// CloseVNCSession marks a VNC session closed.
func (s *SQLStore) CloseVNCSession(ctx context.Context, id string) error {
	return s.retry(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			"UPDATE vnc_sessions SET status = 'closed', last_accessed = ? WHERE id = ?",
			utc(time.Now()), id)
		if err != nil {
			return fmt.Errorf("failed to close VNC session %s: %w", id, err)
		}
		return nil
	})
}

// UsedVNCPorts lists the WebSocket ports of non-closed proxies, for port
// allocation.
func (s *SQLStore) UsedVNCPorts(ctx context.Context) ([]int, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT ws_port FROM vnc_sessions WHERE status != 'closed'")
	if err != nil {
		return nil, fmt.Errorf("failed to list used VNC ports: %w", err)
	}
	defer rows.Close()

	var ports []int
	for rows.Next() {
		var p int
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("failed to scan VNC port: %w", err)
		}
		ports = append(ports, p)
	}
	return ports, rows.Err()
}

// nullPID binds pid 0 (not yet known) as NULL.
func nullPID(pid int) sql.NullInt64 {
	if pid <= 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(pid), Valid: true}
}

// optionalTime converts a zero time to nil for COALESCE-style updates.
func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
