package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// cleanup is a one-off data repair. Unlike schema statements these are not
// idempotent by construction, so each runs exactly once, gated by a marker
// row in schema_cleanups.
type cleanup struct {
	marker string
	stmts  []string
}

var cleanups = []cleanup{
	{
		// Early network collectors stored dladm header lines as interface
		// rows when a utility ignored the parseable flag.
		marker: "purge_network_interface_headers",
		stmts: []string{
			`DELETE FROM network_interfaces WHERE link IN ('LINK', 'CLASS', 'STATE', 'MTU', 'OVER')`,
			`DELETE FROM network_usage WHERE link IN ('LINK', 'CLASS', 'STATE', 'IPACKETS', 'RBYTES')`,
		},
	},
}

// Migrate brings the database up to the in-code schema. It is safe to run
// on every startup: tables are created if missing, known tables gain any
// missing columns, duplicate rows are removed ahead of unique indexes, and
// recorded nullability corrections rebuild through a shadow table once.
// Columns are never dropped and never retyped.
//
// The returned slice describes the actions taken (or, with dryRun, the
// actions that would be taken).
func (s *SQLStore) Migrate(ctx context.Context, dryRun bool) ([]string, error) {
	var applied []string

	exec := func(stmt string) error {
		applied = append(applied, stmt)
		if dryRun {
			return nil
		}
		return s.retry(ctx, func() error {
			_, err := s.db.ExecContext(ctx, stmt)
			return err
		})
	}

	// The marker table carries the cleanup and rebuild bookkeeping, so it
	// is created before anything consults it.
	boot := schemaTable("schema_cleanups")
	if err := exec(boot.createSQL("")); err != nil {
		return applied, fmt.Errorf("failed to create schema_cleanups: %w", err)
	}

	for _, t := range schema {
		if t.name == "schema_cleanups" {
			continue
		}
		exists, err := s.tableExists(ctx, t.name)
		if err != nil {
			return applied, err
		}
		if !exists {
			if err := exec(t.createSQL("")); err != nil {
				return applied, fmt.Errorf("failed to create table %s: %w", t.name, err)
			}
		} else {
			// Additive column evolution only.
			existing, err := s.tableColumns(ctx, t.name)
			if err != nil {
				return applied, err
			}
			for _, c := range t.columns {
				if _, ok := existing[c.name]; ok {
					continue
				}
				stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", t.name, c.name, c.ddl)
				if err := exec(stmt); err != nil {
					return applied, fmt.Errorf("failed to add column %s.%s: %w", t.name, c.name, err)
				}
			}
		}
	}

	// Nullability corrections copy data through a shadow table and rename.
	// Each runs once; the marker makes re-runs a no-op even if the rebuilt
	// table later drifts.
	for _, rb := range rebuilds {
		done, err := s.cleanupApplied(ctx, rb.marker)
		if err != nil {
			return applied, err
		}
		if done {
			continue
		}
		needed, err := s.rebuildNeeded(ctx, rb)
		if err != nil {
			return applied, err
		}
		if needed {
			stmts, err := s.rebuildStatements(rb)
			if err != nil {
				return applied, err
			}
			for _, stmt := range stmts {
				if err := exec(stmt); err != nil {
					return applied, fmt.Errorf("failed to rebuild %s: %w", rb.table, err)
				}
			}
		}
		if !dryRun {
			if err := s.markCleanupApplied(ctx, rb.marker); err != nil {
				return applied, err
			}
		}
	}

	// Dedupe before unique indexes: CREATE UNIQUE INDEX on a table that
	// accumulated duplicates before the index existed would fail outright.
	for _, t := range schema {
		for _, d := range t.dedupes {
			if err := exec(d); err != nil {
				return applied, fmt.Errorf("failed to dedupe %s: %w", t.name, err)
			}
		}
		for _, idx := range t.indexes {
			if err := exec(idx); err != nil {
				return applied, fmt.Errorf("failed to create index on %s: %w", t.name, err)
			}
		}
	}

	// One-off data cleanups, gated by marker rows.
	for _, c := range cleanups {
		done, err := s.cleanupApplied(ctx, c.marker)
		if err != nil {
			return applied, err
		}
		if done {
			continue
		}
		for _, stmt := range c.stmts {
			if err := exec(stmt); err != nil {
				return applied, fmt.Errorf("failed to run cleanup %s: %w", c.marker, err)
			}
		}
		if !dryRun {
			if err := s.markCleanupApplied(ctx, c.marker); err != nil {
				return applied, err
			}
		}
	}

	if !dryRun {
		s.logger.Info().Int("statements", len(applied)).Msg("schema migration complete")
	}
	return applied, nil
}

func (s *SQLStore) tableExists(ctx context.Context, name string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", name).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check table %s: %w", name, err)
	}
	return n > 0, nil
}

// columnInfo is one PRAGMA table_info row.
type columnInfo struct {
	name    string
	typ     string
	notnull bool
}

func (s *SQLStore) tableColumns(ctx context.Context, name string) (map[string]columnInfo, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", name))
	if err != nil {
		return nil, fmt.Errorf("failed to inspect table %s: %w", name, err)
	}
	defer rows.Close()

	cols := make(map[string]columnInfo)
	for rows.Next() {
		var (
			cid     int
			colName string
			typ     string
			notnull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &colName, &typ, &notnull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("failed to scan table_info for %s: %w", name, err)
		}
		cols[colName] = columnInfo{name: colName, typ: typ, notnull: notnull != 0}
	}
	return cols, rows.Err()
}

// rebuildNeeded checks whether the live column's nullability already matches
// the desired state.
func (s *SQLStore) rebuildNeeded(ctx context.Context, rb rebuild) (bool, error) {
	exists, err := s.tableExists(ctx, rb.table)
	if err != nil || !exists {
		return false, err
	}
	cols, err := s.tableColumns(ctx, rb.table)
	if err != nil {
		return false, err
	}
	c, ok := cols[rb.column]
	if !ok {
		return false, nil
	}
	return c.notnull != rb.notnull, nil
}

// rebuildStatements renders the shadow-table dance: create the canonical
// shape under a scratch name, copy rows across with NULLs coalesced to the
// column default, then swap names. Runs inside the caller's statement loop
// so a dry run can report it verbatim.
func (s *SQLStore) rebuildStatements(rb rebuild) ([]string, error) {
	spec := schemaTable(rb.table)
	if spec == nil {
		return nil, fmt.Errorf("no schema entry for rebuild table %s", rb.table)
	}
	shadow := rb.table + "_rebuild"
	names := spec.columnNames()

	selects := make([]string, len(names))
	for i, n := range names {
		if n == rb.column && rb.notnull {
			selects[i] = fmt.Sprintf("COALESCE(%s, '')", n)
		} else {
			selects[i] = n
		}
	}

	return []string{
		fmt.Sprintf("DROP TABLE IF EXISTS %s", shadow),
		spec.createSQL(shadow),
		fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s",
			shadow, strings.Join(names, ", "), strings.Join(selects, ", "), rb.table),
		fmt.Sprintf("DROP TABLE %s", rb.table),
		fmt.Sprintf("ALTER TABLE %s RENAME TO %s", shadow, rb.table),
	}, nil
}

func (s *SQLStore) cleanupApplied(ctx context.Context, marker string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM schema_cleanups WHERE name = ?", marker).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check cleanup marker %s: %w", marker, err)
	}
	return n > 0, nil
}

func (s *SQLStore) markCleanupApplied(ctx context.Context, marker string) error {
	return s.retry(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			"INSERT OR IGNORE INTO schema_cleanups (name, applied_at) VALUES (?, ?)",
			marker, utc(time.Now()))
		return err
	})
}
