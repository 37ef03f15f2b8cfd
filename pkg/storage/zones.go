package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Makr91/zoneweaver-api-sub005/pkg/types"
)

const zoneColumns = `name, zone_id, host, brand, status, zonepath, configuration,
	is_orphaned, auto_discovered, last_seen, created_at, updated_at`

func scanZone(row interface{ Scan(...interface{}) error }) (*types.Zone, error) {
	var (
		z        types.Zone
		zoneID   sql.NullString
		brand    sql.NullString
		zonepath sql.NullString
		confDoc  sql.NullString
		lastSeen sql.NullTime
	)
	err := row.Scan(&z.Name, &zoneID, &z.Host, &brand, &z.Status, &zonepath,
		&confDoc, &z.IsOrphaned, &z.AutoDiscovered, &lastSeen, &z.CreatedAt, &z.UpdatedAt)
	if err != nil {
		return nil, err
	}
	z.ZoneID = zoneID.String
	z.Brand = brand.String
	z.Zonepath = zonepath.String
	z.Configuration = confDoc.String
	if lastSeen.Valid {
		z.LastSeen = lastSeen.Time.UTC()
	}
	z.CreatedAt = z.CreatedAt.UTC()
	z.UpdatedAt = z.UpdatedAt.UTC()
	return &z, nil
}

// UpsertZone writes a zone record, creating it on first sight. The
// configuration document is only overwritten when the incoming record
// carries one, so discovery refreshes never clobber stored provisioning
// metadata.
func (s *SQLStore) UpsertZone(ctx context.Context, z *types.Zone) error {
	if !types.ValidZoneName(z.Name) {
		return fmt.Errorf("%w: invalid zone name %q", ErrValidation, z.Name)
	}
	now := utc(time.Now())
	if z.LastSeen.IsZero() {
		z.LastSeen = now
	}
	return s.retry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `INSERT INTO zones
				(name, zone_id, host, brand, status, zonepath, configuration,
				 is_orphaned, auto_discovered, last_seen, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(name) DO UPDATE SET
				zone_id = excluded.zone_id,
				host = excluded.host,
				brand = excluded.brand,
				status = excluded.status,
				zonepath = excluded.zonepath,
				configuration = COALESCE(NULLIF(excluded.configuration, ''), zones.configuration),
				is_orphaned = excluded.is_orphaned,
				last_seen = excluded.last_seen,
				updated_at = excluded.updated_at`,
			z.Name, nullStr(z.ZoneID), z.Host, nullStr(z.Brand), string(z.Status),
			nullStr(z.Zonepath), nullStr(z.Configuration),
			z.IsOrphaned, z.AutoDiscovered, utc(z.LastSeen), now, now)
		if err != nil {
			return fmt.Errorf("failed to upsert zone %s: %w", z.Name, err)
		}
		return nil
	})
}

// GetZone loads one zone by name.
func (s *SQLStore) GetZone(ctx context.Context, name string) (*types.Zone, error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM zones WHERE name = ?", zoneColumns), name)
	z, err := scanZone(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: zone %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load zone %s: %w", name, err)
	}
	return z, nil
}

// ListZones returns all zone records ordered by name.
func (s *SQLStore) ListZones(ctx context.Context) ([]*types.Zone, error) {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT %s FROM zones ORDER BY name ASC", zoneColumns))
	if err != nil {
		return nil, fmt.Errorf("failed to list zones: %w", err)
	}
	defer rows.Close()

	var zones []*types.Zone
	for rows.Next() {
		z, err := scanZone(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan zone: %w", err)
		}
		zones = append(zones, z)
	}
	return zones, rows.Err()
}

// DeleteZone removes a zone record.
func (s *SQLStore) DeleteZone(ctx context.Context, name string) error {
	return s.retry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, "DELETE FROM zones WHERE name = ?", name)
		if err != nil {
			return fmt.Errorf("failed to delete zone %s: %w", name, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: zone %s", ErrNotFound, name)
		}
		return nil
	})
}

// SetZoneConfiguration replaces a zone's configuration document without
// touching its observed state. Provisioning metadata edits flow through
// here; no task is queued.
func (s *SQLStore) SetZoneConfiguration(ctx context.Context, name, doc string) error {
	return s.retry(ctx, func() error {
		res, err := s.db.ExecContext(ctx,
			"UPDATE zones SET configuration = ?, updated_at = ? WHERE name = ?",
			doc, utc(time.Now()), name)
		if err != nil {
			return fmt.Errorf("failed to update zone %s configuration: %w", name, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: zone %s", ErrNotFound, name)
		}
		return nil
	})
}

// MarkZonesOrphaned flags records the host no longer reports and clears the
// flag on records it does. seen lists the zone names present in the latest
// zoneadm inventory. Returns the number of newly orphaned records.
func (s *SQLStore) MarkZonesOrphaned(ctx context.Context, host string, seen []string) (int64, error) {
	var orphaned int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		orphaned = 0
		now := utc(time.Now())

		args := make([]interface{}, 0, len(seen)+2)
		args = append(args, now, host)
		query := "UPDATE zones SET is_orphaned = 1, updated_at = ? WHERE host = ? AND is_orphaned = 0"
		if len(seen) > 0 {
			query += fmt.Sprintf(" AND name NOT IN (%s)", placeholders(len(seen)))
			for _, n := range seen {
				args = append(args, n)
			}
		}
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to mark orphaned zones: %w", err)
		}
		orphaned, _ = res.RowsAffected()

		if len(seen) > 0 {
			args = args[:0]
			args = append(args, now, now, host)
			query = fmt.Sprintf(
				"UPDATE zones SET is_orphaned = 0, last_seen = ?, updated_at = ? WHERE host = ? AND name IN (%s)",
				placeholders(len(seen)))
			for _, n := range seen {
				args = append(args, n)
			}
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return fmt.Errorf("failed to refresh seen zones: %w", err)
			}
		}
		return nil
	})
	return orphaned, err
}
