package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Makr91/zoneweaver-api-sub005/pkg/types"
)

// host_info is one row per host carrying scan bookkeeping and collector
// health. Every writer upserts so the first collector to run creates the
// row.

func (s *SQLStore) ensureHostRow(ctx context.Context, host string) error {
	if host == "" {
		return fmt.Errorf("%w: host is required", ErrValidation)
	}
	return s.retry(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			"INSERT INTO host_info (host, updated_at) VALUES (?, ?) ON CONFLICT(host) DO NOTHING",
			host, utc(time.Now()))
		if err != nil {
			return fmt.Errorf("failed to ensure host_info row: %w", err)
		}
		return nil
	})
}

// GetHostInfo loads the host record.
func (s *SQLStore) GetHostInfo(ctx context.Context, host string) (*types.HostInfo, error) {
	row := s.db.QueryRowContext(ctx, `SELECT host, hostname, platform, cpu_count,
			total_memory_bytes, network_accounting_enabled,
			last_network_config_scan, last_network_usage_scan, last_cpu_scan,
			last_memory_scan, last_storage_scan, last_arc_scan, last_pci_scan,
			collector_errors, disabled_collectors, last_error_message, updated_at
		FROM host_info WHERE host = ?`, host)

	var (
		hi                                      types.HostInfo
		hostname, platform                      sql.NullString
		cpuCount, totalMem                      sql.NullInt64
		acct                                    int
		netCfg, netUse, cpu, mem, sto, arc, pci sql.NullTime
		collErrors, disabled, lastErr           sql.NullString
	)
	err := row.Scan(&hi.Host, &hostname, &platform, &cpuCount, &totalMem, &acct,
		&netCfg, &netUse, &cpu, &mem, &sto, &arc, &pci,
		&collErrors, &disabled, &lastErr, &hi.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: host %s", ErrNotFound, host)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load host info: %w", err)
	}

	hi.Hostname = hostname.String
	hi.Platform = platform.String
	hi.CPUCount = int(cpuCount.Int64)
	hi.TotalMemoryBytes = totalMem.Int64
	hi.NetworkAccountingEnabled = acct != 0
	hi.LastNetworkConfigScan = timePtr(netCfg)
	hi.LastNetworkUsageScan = timePtr(netUse)
	hi.LastCPUScan = timePtr(cpu)
	hi.LastMemoryScan = timePtr(mem)
	hi.LastStorageScan = timePtr(sto)
	hi.LastARCScan = timePtr(arc)
	hi.LastPCIScan = timePtr(pci)
	hi.LastErrorMessage = lastErr.String
	hi.UpdatedAt = hi.UpdatedAt.UTC()

	if collErrors.Valid && collErrors.String != "" {
		if err := json.Unmarshal([]byte(collErrors.String), &hi.CollectorErrors); err != nil {
			return nil, fmt.Errorf("host %s has corrupt collector_errors: %w", host, err)
		}
	}
	if disabled.Valid && disabled.String != "" {
		if err := json.Unmarshal([]byte(disabled.String), &hi.DisabledCollectors); err != nil {
			return nil, fmt.Errorf("host %s has corrupt disabled_collectors: %w", host, err)
		}
	}
	return &hi, nil
}

// TouchHostScan stamps one scan-timestamp column. The column name comes from
// the ScanColumn enum, never from request input.
func (s *SQLStore) TouchHostScan(ctx context.Context, host string, column ScanColumn, at time.Time) error {
	if err := s.ensureHostRow(ctx, host); err != nil {
		return err
	}
	return s.retry(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			fmt.Sprintf("UPDATE host_info SET %s = ?, updated_at = ? WHERE host = ?", string(column)),
			utc(at), utc(time.Now()), host)
		if err != nil {
			return fmt.Errorf("failed to touch %s: %w", column, err)
		}
		return nil
	})
}

// SetHostCapacity records identity and capacity facts discovered at startup.
func (s *SQLStore) SetHostCapacity(ctx context.Context, host, hostname, platform string, cpuCount int, totalMemoryBytes int64) error {
	if err := s.ensureHostRow(ctx, host); err != nil {
		return err
	}
	return s.retry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `UPDATE host_info SET
				hostname = ?, platform = ?, cpu_count = ?, total_memory_bytes = ?, updated_at = ?
			WHERE host = ?`,
			nullStr(hostname), nullStr(platform), cpuCount, totalMemoryBytes, utc(time.Now()), host)
		if err != nil {
			return fmt.Errorf("failed to set host capacity: %w", err)
		}
		return nil
	})
}

// SetNetworkAccounting records whether extended link accounting is active.
func (s *SQLStore) SetNetworkAccounting(ctx context.Context, host string, enabled bool) error {
	if err := s.ensureHostRow(ctx, host); err != nil {
		return err
	}
	v := 0
	if enabled {
		v = 1
	}
	return s.retry(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			"UPDATE host_info SET network_accounting_enabled = ?, updated_at = ? WHERE host = ?",
			v, utc(time.Now()), host)
		if err != nil {
			return fmt.Errorf("failed to set network accounting flag: %w", err)
		}
		return nil
	})
}

// SetCollectorHealth persists the error counters and the disabled set after
// a collection cycle.
func (s *SQLStore) SetCollectorHealth(ctx context.Context, host string, errCounts map[string]int, disabled []string, lastError string) error {
	if err := s.ensureHostRow(ctx, host); err != nil {
		return err
	}
	counts, err := json.Marshal(errCounts)
	if err != nil {
		return fmt.Errorf("failed to encode collector errors: %w", err)
	}
	dis, err := json.Marshal(disabled)
	if err != nil {
		return fmt.Errorf("failed to encode disabled collectors: %w", err)
	}
	return s.retry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `UPDATE host_info SET
				collector_errors = ?, disabled_collectors = ?, last_error_message = ?, updated_at = ?
			WHERE host = ?`,
			string(counts), string(dis), nullStr(lastError), utc(time.Now()), host)
		if err != nil {
			return fmt.Errorf("failed to set collector health: %w", err)
		}
		return nil
	})
}
