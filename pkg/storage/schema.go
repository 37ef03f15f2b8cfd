package storage

import (
	"fmt"
	"strings"
)

// The in-code schema. Migrate derives everything from these specs: CREATE
// TABLE for missing tables, ALTER TABLE ADD COLUMN for missing columns,
// dedupe statements ahead of unique indexes, and shadow-table rebuilds for
// nullability corrections.
//
// Evolution rules: columns are only ever added, never dropped or retyped.
// A NOT NULL column that might be added to an existing deployment must
// carry a constant DEFAULT, or ALTER TABLE will refuse it.

type column struct {
	name string
	ddl  string
}

type table struct {
	name    string
	columns []column
	extras  []string // table-level constraint clauses
	dedupes []string // run before unique index creation
	indexes []string // CREATE ... INDEX IF NOT EXISTS statements
}

// createSQL renders the canonical CREATE TABLE statement. The optional
// name override supports shadow-table rebuilds.
func (t *table) createSQL(name string) string {
	if name == "" {
		name = t.name
	}
	defs := make([]string, 0, len(t.columns)+len(t.extras))
	for _, c := range t.columns {
		defs = append(defs, fmt.Sprintf("%s %s", c.name, c.ddl))
	}
	defs = append(defs, t.extras...)
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", name, strings.Join(defs, ",\n\t"))
}

func (t *table) columnNames() []string {
	names := make([]string, len(t.columns))
	for i, c := range t.columns {
		names[i] = c.name
	}
	return names
}

// rebuild names a nullability correction applied through a shadow table.
// Once applied it is recorded in schema_cleanups and never re-run.
type rebuild struct {
	marker  string
	table   string
	column  string
	notnull bool // desired state
}

var rebuilds = []rebuild{
	// Early deployments created zones with a nullable host column.
	{marker: "zones_host_not_null", table: "zones", column: "host", notnull: true},
}

// retentionTables are the time-series tables swept by the retention loop,
// in sweep order.
var retentionTables = []string{
	"network_usage",
	"cpu_stats",
	"memory_stats",
	"disk_io_stats",
	"pool_io_stats",
	"arc_stats",
}

var schema = []*table{
	{
		name: "schema_cleanups",
		columns: []column{
			{"name", "TEXT PRIMARY KEY"},
			{"applied_at", "TIMESTAMP NOT NULL"},
		},
	},
	{
		name: "tasks",
		columns: []column{
			{"id", "TEXT PRIMARY KEY"},
			{"zone_name", "TEXT NOT NULL"},
			{"operation", "TEXT NOT NULL"},
			{"priority", "INTEGER NOT NULL DEFAULT 60"},
			{"status", "TEXT NOT NULL DEFAULT 'pending'"},
			{"depends_on", "TEXT"},
			{"parent_task_id", "TEXT"},
			{"metadata", "TEXT"},
			{"created_by", "TEXT NOT NULL DEFAULT ''"},
			{"error_message", "TEXT"},
			{"attempts", "INTEGER NOT NULL DEFAULT 0"},
			{"created_at", "TIMESTAMP NOT NULL"},
			{"started_at", "TIMESTAMP"},
			{"completed_at", "TIMESTAMP"},
		},
		indexes: []string{
			"CREATE INDEX IF NOT EXISTS idx_tasks_claim ON tasks (status, priority, created_at)",
			"CREATE INDEX IF NOT EXISTS idx_tasks_zone ON tasks (zone_name)",
			"CREATE INDEX IF NOT EXISTS idx_tasks_depends ON tasks (depends_on)",
			"CREATE INDEX IF NOT EXISTS idx_tasks_parent ON tasks (parent_task_id)",
		},
	},
	{
		name: "zones",
		columns: []column{
			{"name", "TEXT PRIMARY KEY"},
			{"zone_id", "TEXT"},
			{"host", "TEXT NOT NULL DEFAULT ''"},
			{"brand", "TEXT"},
			{"status", "TEXT NOT NULL DEFAULT 'unknown'"},
			{"zonepath", "TEXT"},
			{"configuration", "TEXT"},
			{"is_orphaned", "INTEGER NOT NULL DEFAULT 0"},
			{"auto_discovered", "INTEGER NOT NULL DEFAULT 0"},
			{"last_seen", "TIMESTAMP"},
			{"created_at", "TIMESTAMP NOT NULL"},
			{"updated_at", "TIMESTAMP NOT NULL"},
		},
		indexes: []string{
			"CREATE INDEX IF NOT EXISTS idx_zones_host ON zones (host)",
		},
	},
	{
		name: "zlogin_sessions",
		columns: []column{
			{"id", "TEXT PRIMARY KEY"},
			{"zone_name", "TEXT NOT NULL"},
			{"pid", "INTEGER"},
			{"status", "TEXT NOT NULL DEFAULT 'connecting'"},
			{"created_at", "TIMESTAMP NOT NULL"},
			{"last_accessed", "TIMESTAMP NOT NULL"},
			{"last_activity", "TIMESTAMP NOT NULL"},
			{"session_buffer", "TEXT"},
		},
		dedupes: []string{
			// One active session per zone: close all but the newest.
			`UPDATE zlogin_sessions SET status = 'closed'
			 WHERE status != 'closed' AND rowid NOT IN (
				SELECT MAX(rowid) FROM zlogin_sessions WHERE status != 'closed' GROUP BY zone_name)`,
		},
		indexes: []string{
			"CREATE UNIQUE INDEX IF NOT EXISTS idx_zlogin_one_active ON zlogin_sessions (zone_name) WHERE status != 'closed'",
			"CREATE INDEX IF NOT EXISTS idx_zlogin_zone ON zlogin_sessions (zone_name)",
		},
	},
	{
		name: "terminal_sessions",
		columns: []column{
			{"id", "TEXT PRIMARY KEY"},
			{"command", "TEXT NOT NULL DEFAULT ''"},
			{"pid", "INTEGER"},
			{"status", "TEXT NOT NULL DEFAULT 'connecting'"},
			{"created_at", "TIMESTAMP NOT NULL"},
			{"last_accessed", "TIMESTAMP NOT NULL"},
			{"session_buffer", "TEXT"},
		},
	},
	{
		name: "vnc_sessions",
		columns: []column{
			{"id", "TEXT PRIMARY KEY"},
			{"zone_name", "TEXT NOT NULL"},
			{"ws_port", "INTEGER NOT NULL"},
			{"pid", "INTEGER"},
			{"status", "TEXT NOT NULL DEFAULT 'connecting'"},
			{"created_at", "TIMESTAMP NOT NULL"},
			{"last_accessed", "TIMESTAMP NOT NULL"},
		},
		dedupes: []string{
			`UPDATE vnc_sessions SET status = 'closed'
			 WHERE status != 'closed' AND rowid NOT IN (
				SELECT MAX(rowid) FROM vnc_sessions WHERE status != 'closed' GROUP BY zone_name)`,
		},
		indexes: []string{
			"CREATE UNIQUE INDEX IF NOT EXISTS idx_vnc_one_active ON vnc_sessions (zone_name) WHERE status != 'closed'",
		},
	},
	{
		name: "provisioning_profiles",
		columns: []column{
			{"id", "TEXT PRIMARY KEY"},
			{"name", "TEXT NOT NULL"},
			{"description", "TEXT"},
			{"document", "TEXT NOT NULL DEFAULT '{}'"},
			{"created_at", "TIMESTAMP NOT NULL"},
			{"updated_at", "TIMESTAMP NOT NULL"},
		},
		dedupes: []string{
			"DELETE FROM provisioning_profiles WHERE rowid NOT IN (SELECT MAX(rowid) FROM provisioning_profiles GROUP BY name)",
		},
		indexes: []string{
			"CREATE UNIQUE INDEX IF NOT EXISTS idx_profiles_name ON provisioning_profiles (name)",
		},
	},
	{
		name: "recipes",
		columns: []column{
			{"id", "TEXT PRIMARY KEY"},
			{"name", "TEXT NOT NULL"},
			{"description", "TEXT"},
			{"steps", "TEXT NOT NULL DEFAULT '[]'"},
			{"created_at", "TIMESTAMP NOT NULL"},
			{"updated_at", "TIMESTAMP NOT NULL"},
		},
		dedupes: []string{
			"DELETE FROM recipes WHERE rowid NOT IN (SELECT MAX(rowid) FROM recipes GROUP BY name)",
		},
		indexes: []string{
			"CREATE UNIQUE INDEX IF NOT EXISTS idx_recipes_name ON recipes (name)",
		},
	},
	{
		name: "host_info",
		columns: []column{
			{"host", "TEXT PRIMARY KEY"},
			{"hostname", "TEXT"},
			{"platform", "TEXT"},
			{"cpu_count", "INTEGER"},
			{"total_memory_bytes", "INTEGER"},
			{"network_accounting_enabled", "INTEGER NOT NULL DEFAULT 0"},
			{"last_network_config_scan", "TIMESTAMP"},
			{"last_network_usage_scan", "TIMESTAMP"},
			{"last_cpu_scan", "TIMESTAMP"},
			{"last_memory_scan", "TIMESTAMP"},
			{"last_storage_scan", "TIMESTAMP"},
			{"last_arc_scan", "TIMESTAMP"},
			{"last_pci_scan", "TIMESTAMP"},
			{"collector_errors", "TEXT"},
			{"disabled_collectors", "TEXT"},
			{"last_error_message", "TEXT"},
			{"updated_at", "TIMESTAMP NOT NULL"},
		},
	},
	{
		name: "network_interfaces",
		columns: []column{
			{"host", "TEXT NOT NULL"},
			{"link", "TEXT NOT NULL"},
			{"class", "TEXT"},
			{"over_link", "TEXT"},
			{"state", "TEXT"},
			{"mtu", "INTEGER"},
			{"speed_mbps", "INTEGER"},
			{"duplex", "TEXT"},
			{"macaddress", "TEXT"},
			{"macaddrtype", "TEXT"},
			{"vid", "INTEGER"},
			{"zone", "TEXT"},
			{"media", "TEXT"},
			{"device", "TEXT"},
			{"scan_timestamp", "TIMESTAMP NOT NULL"},
		},
		dedupes: []string{
			"DELETE FROM network_interfaces WHERE rowid NOT IN (SELECT MAX(rowid) FROM network_interfaces GROUP BY host, link)",
		},
		indexes: []string{
			"CREATE UNIQUE INDEX IF NOT EXISTS idx_netif_host_link ON network_interfaces (host, link)",
			"CREATE INDEX IF NOT EXISTS idx_netif_host_scan ON network_interfaces (host, scan_timestamp)",
		},
	},
	{
		name: "network_usage",
		columns: []column{
			{"host", "TEXT NOT NULL"},
			{"link", "TEXT NOT NULL"},
			{"ipackets", "INTEGER NOT NULL DEFAULT 0"},
			{"rbytes", "INTEGER NOT NULL DEFAULT 0"},
			{"ierrors", "INTEGER NOT NULL DEFAULT 0"},
			{"opackets", "INTEGER NOT NULL DEFAULT 0"},
			{"obytes", "INTEGER NOT NULL DEFAULT 0"},
			{"oerrors", "INTEGER NOT NULL DEFAULT 0"},
			{"rbytes_delta", "INTEGER"},
			{"obytes_delta", "INTEGER"},
			{"time_delta_seconds", "REAL"},
			{"rx_bps", "REAL"},
			{"tx_bps", "REAL"},
			{"rx_mbps", "REAL"},
			{"tx_mbps", "REAL"},
			{"rx_utilization_pct", "REAL"},
			{"tx_utilization_pct", "REAL"},
			{"scan_timestamp", "TIMESTAMP NOT NULL"},
		},
		indexes: []string{
			"CREATE INDEX IF NOT EXISTS idx_netusage_host_scan ON network_usage (host, scan_timestamp)",
			"CREATE INDEX IF NOT EXISTS idx_netusage_link_scan ON network_usage (host, link, scan_timestamp)",
		},
	},
	{
		name: "ip_addresses",
		columns: []column{
			{"host", "TEXT NOT NULL"},
			{"addrobj", "TEXT NOT NULL"},
			{"interface", "TEXT"},
			{"type", "TEXT"},
			{"state", "TEXT"},
			{"addr", "TEXT"},
			{"scan_timestamp", "TIMESTAMP NOT NULL"},
		},
		dedupes: []string{
			"DELETE FROM ip_addresses WHERE rowid NOT IN (SELECT MAX(rowid) FROM ip_addresses GROUP BY host, addrobj)",
		},
		indexes: []string{
			"CREATE UNIQUE INDEX IF NOT EXISTS idx_ipaddr_host_addrobj ON ip_addresses (host, addrobj)",
			"CREATE INDEX IF NOT EXISTS idx_ipaddr_host_scan ON ip_addresses (host, scan_timestamp)",
		},
	},
	{
		name: "routing_table",
		columns: []column{
			{"host", "TEXT NOT NULL"},
			{"destination", "TEXT NOT NULL"},
			{"gateway", "TEXT NOT NULL"},
			{"flags", "TEXT"},
			{"interface", "TEXT NOT NULL DEFAULT ''"},
			{"ref", "INTEGER"},
			{"use_count", "INTEGER"},
			{"scan_timestamp", "TIMESTAMP NOT NULL"},
		},
		dedupes: []string{
			"DELETE FROM routing_table WHERE rowid NOT IN (SELECT MAX(rowid) FROM routing_table GROUP BY host, destination, gateway, interface)",
		},
		indexes: []string{
			"CREATE UNIQUE INDEX IF NOT EXISTS idx_routes_key ON routing_table (host, destination, gateway, interface)",
			"CREATE INDEX IF NOT EXISTS idx_routes_host_scan ON routing_table (host, scan_timestamp)",
		},
	},
	{
		name: "cpu_stats",
		columns: []column{
			{"host", "TEXT NOT NULL"},
			{"cpu_id", "INTEGER NOT NULL"},
			{"user_ticks", "INTEGER NOT NULL DEFAULT 0"},
			{"kernel_ticks", "INTEGER NOT NULL DEFAULT 0"},
			{"idle_ticks", "INTEGER NOT NULL DEFAULT 0"},
			{"user_pct", "REAL"},
			{"kernel_pct", "REAL"},
			{"idle_pct", "REAL"},
			{"utilization_pct", "REAL"},
			{"scan_timestamp", "TIMESTAMP NOT NULL"},
		},
		indexes: []string{
			"CREATE INDEX IF NOT EXISTS idx_cpu_host_scan ON cpu_stats (host, scan_timestamp)",
			"CREATE INDEX IF NOT EXISTS idx_cpu_core_scan ON cpu_stats (host, cpu_id, scan_timestamp)",
		},
	},
	{
		name: "memory_stats",
		columns: []column{
			{"host", "TEXT NOT NULL"},
			{"physmem_bytes", "INTEGER NOT NULL DEFAULT 0"},
			{"freemem_bytes", "INTEGER NOT NULL DEFAULT 0"},
			{"availrmem_bytes", "INTEGER NOT NULL DEFAULT 0"},
			{"pages_total", "INTEGER NOT NULL DEFAULT 0"},
			{"pages_free", "INTEGER NOT NULL DEFAULT 0"},
			{"pages_locked", "INTEGER NOT NULL DEFAULT 0"},
			{"used_pct", "REAL"},
			{"scan_timestamp", "TIMESTAMP NOT NULL"},
		},
		indexes: []string{
			"CREATE INDEX IF NOT EXISTS idx_memory_host_scan ON memory_stats (host, scan_timestamp)",
		},
	},
	{
		name: "swap_areas",
		columns: []column{
			{"host", "TEXT NOT NULL"},
			{"swapfile", "TEXT NOT NULL"},
			{"dev", "TEXT"},
			{"swaplo_blocks", "INTEGER NOT NULL DEFAULT 0"},
			{"blocks", "INTEGER NOT NULL DEFAULT 0"},
			{"free_blocks", "INTEGER NOT NULL DEFAULT 0"},
			{"used_pct", "REAL"},
			{"scan_timestamp", "TIMESTAMP NOT NULL"},
		},
		dedupes: []string{
			"DELETE FROM swap_areas WHERE rowid NOT IN (SELECT MAX(rowid) FROM swap_areas GROUP BY host, swapfile)",
		},
		indexes: []string{
			"CREATE UNIQUE INDEX IF NOT EXISTS idx_swap_host_file ON swap_areas (host, swapfile)",
			"CREATE INDEX IF NOT EXISTS idx_swap_host_scan ON swap_areas (host, scan_timestamp)",
		},
	},
	{
		name: "disks",
		columns: []column{
			{"host", "TEXT NOT NULL"},
			{"device", "TEXT NOT NULL"},
			{"type", "TEXT"},
			{"vendor", "TEXT"},
			{"product", "TEXT"},
			{"size_bytes", "INTEGER"},
			{"removable", "INTEGER NOT NULL DEFAULT 0"},
			{"ssd", "INTEGER NOT NULL DEFAULT 0"},
			{"scan_timestamp", "TIMESTAMP NOT NULL"},
		},
		dedupes: []string{
			"DELETE FROM disks WHERE rowid NOT IN (SELECT MAX(rowid) FROM disks GROUP BY host, device)",
		},
		indexes: []string{
			"CREATE UNIQUE INDEX IF NOT EXISTS idx_disks_host_device ON disks (host, device)",
			"CREATE INDEX IF NOT EXISTS idx_disks_host_scan ON disks (host, scan_timestamp)",
		},
	},
	{
		name: "disk_io_stats",
		columns: []column{
			{"host", "TEXT NOT NULL"},
			{"device", "TEXT NOT NULL"},
			{"reads", "INTEGER NOT NULL DEFAULT 0"},
			{"writes", "INTEGER NOT NULL DEFAULT 0"},
			{"nread_bytes", "INTEGER NOT NULL DEFAULT 0"},
			{"nwritten_bytes", "INTEGER NOT NULL DEFAULT 0"},
			{"reads_delta", "INTEGER"},
			{"writes_delta", "INTEGER"},
			{"read_bps", "REAL"},
			{"write_bps", "REAL"},
			{"rps", "REAL"},
			{"wps", "REAL"},
			{"scan_timestamp", "TIMESTAMP NOT NULL"},
		},
		indexes: []string{
			"CREATE INDEX IF NOT EXISTS idx_diskio_host_scan ON disk_io_stats (host, scan_timestamp)",
			"CREATE INDEX IF NOT EXISTS idx_diskio_device_scan ON disk_io_stats (host, device, scan_timestamp)",
		},
	},
	{
		name: "pool_io_stats",
		columns: []column{
			{"host", "TEXT NOT NULL"},
			{"pool", "TEXT NOT NULL"},
			{"alloc_bytes", "INTEGER NOT NULL DEFAULT 0"},
			{"free_bytes", "INTEGER NOT NULL DEFAULT 0"},
			{"read_ops", "INTEGER NOT NULL DEFAULT 0"},
			{"write_ops", "INTEGER NOT NULL DEFAULT 0"},
			{"read_bandwidth_bytes", "INTEGER NOT NULL DEFAULT 0"},
			{"write_bandwidth_bytes", "INTEGER NOT NULL DEFAULT 0"},
			{"capacity_pct", "REAL"},
			{"fragmentation_pct", "REAL"},
			{"health", "TEXT"},
			{"scan_timestamp", "TIMESTAMP NOT NULL"},
		},
		indexes: []string{
			"CREATE INDEX IF NOT EXISTS idx_poolio_host_scan ON pool_io_stats (host, scan_timestamp)",
			"CREATE INDEX IF NOT EXISTS idx_poolio_pool_scan ON pool_io_stats (host, pool, scan_timestamp)",
		},
	},
	{
		name: "arc_stats",
		columns: []column{
			{"host", "TEXT NOT NULL"},
			{"size_bytes", "INTEGER NOT NULL DEFAULT 0"},
			{"target_bytes", "INTEGER NOT NULL DEFAULT 0"},
			{"min_bytes", "INTEGER NOT NULL DEFAULT 0"},
			{"max_bytes", "INTEGER NOT NULL DEFAULT 0"},
			{"hits", "INTEGER NOT NULL DEFAULT 0"},
			{"misses", "INTEGER NOT NULL DEFAULT 0"},
			{"demand_data_hits", "INTEGER NOT NULL DEFAULT 0"},
			{"demand_data_misses", "INTEGER NOT NULL DEFAULT 0"},
			{"prefetch_data_hits", "INTEGER NOT NULL DEFAULT 0"},
			{"mru_hits", "INTEGER NOT NULL DEFAULT 0"},
			{"mfu_hits", "INTEGER NOT NULL DEFAULT 0"},
			{"compressed_size_bytes", "INTEGER NOT NULL DEFAULT 0"},
			{"uncompressed_size_bytes", "INTEGER NOT NULL DEFAULT 0"},
			{"l2_hits", "INTEGER NOT NULL DEFAULT 0"},
			{"l2_misses", "INTEGER NOT NULL DEFAULT 0"},
			{"l2_size_bytes", "INTEGER NOT NULL DEFAULT 0"},
			{"memory_throttle_count", "INTEGER NOT NULL DEFAULT 0"},
			{"hit_rate_pct", "REAL"},
			{"scan_timestamp", "TIMESTAMP NOT NULL"},
		},
		indexes: []string{
			"CREATE INDEX IF NOT EXISTS idx_arc_host_scan ON arc_stats (host, scan_timestamp)",
		},
	},
	{
		name: "zfs_datasets",
		columns: []column{
			{"host", "TEXT NOT NULL"},
			{"name", "TEXT NOT NULL"},
			{"pool", "TEXT"},
			{"type", "TEXT"},
			{"used_bytes", "INTEGER NOT NULL DEFAULT 0"},
			{"available_bytes", "INTEGER NOT NULL DEFAULT 0"},
			{"referenced_bytes", "INTEGER NOT NULL DEFAULT 0"},
			{"quota_bytes", "INTEGER"},
			{"reservation_bytes", "INTEGER"},
			{"mountpoint", "TEXT"},
			{"compression", "TEXT"},
			{"compressratio", "REAL"},
			{"scan_timestamp", "TIMESTAMP NOT NULL"},
		},
		dedupes: []string{
			"DELETE FROM zfs_datasets WHERE rowid NOT IN (SELECT MAX(rowid) FROM zfs_datasets GROUP BY host, name)",
		},
		indexes: []string{
			"CREATE UNIQUE INDEX IF NOT EXISTS idx_datasets_host_name ON zfs_datasets (host, name)",
			"CREATE INDEX IF NOT EXISTS idx_datasets_host_scan ON zfs_datasets (host, scan_timestamp)",
		},
	},
	{
		name: "pci_devices",
		columns: []column{
			{"host", "TEXT NOT NULL"},
			{"path", "TEXT NOT NULL"},
			{"driver", "TEXT"},
			{"instance", "INTEGER"},
			{"vendor_id", "TEXT"},
			{"device_id", "TEXT"},
			{"vendor_name", "TEXT"},
			{"device_name", "TEXT"},
			{"class", "TEXT"},
			{"scan_timestamp", "TIMESTAMP NOT NULL"},
		},
		dedupes: []string{
			"DELETE FROM pci_devices WHERE rowid NOT IN (SELECT MAX(rowid) FROM pci_devices GROUP BY host, path)",
		},
		indexes: []string{
			"CREATE UNIQUE INDEX IF NOT EXISTS idx_pci_host_path ON pci_devices (host, path)",
			"CREATE INDEX IF NOT EXISTS idx_pci_host_scan ON pci_devices (host, scan_timestamp)",
		},
	},
}

// schemaTable looks a table spec up by name.
func schemaTable(name string) *table {
	for _, t := range schema {
		if t.name == name {
			return t
		}
	}
	return nil
}
