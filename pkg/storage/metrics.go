package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Makr91/zoneweaver-api-sub005/pkg/types"
)

// Metric persistence. Time-series tables (network_usage, cpu_stats,
// memory_stats, disk_io_stats, pool_io_stats, arc_stats) accumulate samples
// and are swept by retention; current-state tables are replaced per host on
// every scan.

// boolInt stores a flag as 0/1.
func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var networkUsageCols = []string{
	"host", "link", "ipackets", "rbytes", "ierrors", "opackets", "obytes", "oerrors",
	"rbytes_delta", "obytes_delta", "time_delta_seconds",
	"rx_bps", "tx_bps", "rx_mbps", "tx_mbps", "rx_utilization_pct", "tx_utilization_pct",
	"scan_timestamp",
}

// InsertNetworkUsage appends link counter samples.
func (s *SQLStore) InsertNetworkUsage(ctx context.Context, rows []types.NetworkUsage) error {
	vals := make([][]interface{}, len(rows))
	for i, r := range rows {
		vals[i] = []interface{}{
			r.Host, r.Link, r.IPackets, r.RBytes, r.IErrors, r.OPackets, r.OBytes, r.OErrors,
			nullInt(r.RBytesDelta), nullInt(r.OBytesDelta), nullFloat(r.TimeDeltaSec),
			nullFloat(r.RxBps), nullFloat(r.TxBps), nullFloat(r.RxMbps), nullFloat(r.TxMbps),
			nullFloat(r.RxUtilization), nullFloat(r.TxUtilization),
			utc(r.ScanTimestamp),
		}
	}
	return s.bulkInsert(ctx, "network_usage", networkUsageCols, vals)
}

var cpuStatCols = []string{
	"host", "cpu_id", "user_ticks", "kernel_ticks", "idle_ticks",
	"user_pct", "kernel_pct", "idle_pct", "utilization_pct", "scan_timestamp",
}

// InsertCPUStats appends per-core tick samples.
func (s *SQLStore) InsertCPUStats(ctx context.Context, rows []types.CPUStat) error {
	vals := make([][]interface{}, len(rows))
	for i, r := range rows {
		vals[i] = []interface{}{
			r.Host, r.CPUID, r.UserTicks, r.KernelTicks, r.IdleTicks,
			nullFloat(r.UserPct), nullFloat(r.KernelPct), nullFloat(r.IdlePct),
			nullFloat(r.UtilizationPct), utc(r.ScanTimestamp),
		}
	}
	return s.bulkInsert(ctx, "cpu_stats", cpuStatCols, vals)
}

var memoryStatCols = []string{
	"host", "physmem_bytes", "freemem_bytes", "availrmem_bytes",
	"pages_total", "pages_free", "pages_locked", "used_pct", "scan_timestamp",
}

// InsertMemoryStats appends memory samples.
func (s *SQLStore) InsertMemoryStats(ctx context.Context, rows []types.MemoryStat) error {
	vals := make([][]interface{}, len(rows))
	for i, r := range rows {
		vals[i] = []interface{}{
			r.Host, r.PhysMemBytes, r.FreeMemBytes, r.AvailRMemBytes,
			r.PagesTotal, r.PagesFree, r.PagesLocked, nullFloat(r.UsedPct), utc(r.ScanTimestamp),
		}
	}
	return s.bulkInsert(ctx, "memory_stats", memoryStatCols, vals)
}

var diskIOStatCols = []string{
	"host", "device", "reads", "writes", "nread_bytes", "nwritten_bytes",
	"reads_delta", "writes_delta", "read_bps", "write_bps", "rps", "wps", "scan_timestamp",
}

// InsertDiskIOStats appends per-device I/O samples.
func (s *SQLStore) InsertDiskIOStats(ctx context.Context, rows []types.DiskIOStat) error {
	vals := make([][]interface{}, len(rows))
	for i, r := range rows {
		vals[i] = []interface{}{
			r.Host, r.Device, r.Reads, r.Writes, r.NReadBytes, r.NWrittenBytes,
			nullInt(r.ReadsDelta), nullInt(r.WritesDelta),
			nullFloat(r.ReadBps), nullFloat(r.WriteBps),
			nullFloat(r.ReadsPerSec), nullFloat(r.WritesPerSec), utc(r.ScanTimestamp),
		}
	}
	return s.bulkInsert(ctx, "disk_io_stats", diskIOStatCols, vals)
}

var poolIOStatCols = []string{
	"host", "pool", "alloc_bytes", "free_bytes", "read_ops", "write_ops",
	"read_bandwidth_bytes", "write_bandwidth_bytes",
	"capacity_pct", "fragmentation_pct", "health", "scan_timestamp",
}

// InsertPoolIOStats appends per-pool samples.
func (s *SQLStore) InsertPoolIOStats(ctx context.Context, rows []types.PoolIOStat) error {
	vals := make([][]interface{}, len(rows))
	for i, r := range rows {
		vals[i] = []interface{}{
			r.Host, r.Pool, r.AllocBytes, r.FreeBytes, r.ReadOps, r.WriteOps,
			r.ReadBandwidth, r.WriteBandwidth,
			nullFloat(r.CapacityPct), nullFloat(r.FragmentationPct),
			nullStr(r.Health), utc(r.ScanTimestamp),
		}
	}
	return s.bulkInsert(ctx, "pool_io_stats", poolIOStatCols, vals)
}

var arcStatCols = []string{
	"host", "size_bytes", "target_bytes", "min_bytes", "max_bytes",
	"hits", "misses", "demand_data_hits", "demand_data_misses", "prefetch_data_hits",
	"mru_hits", "mfu_hits", "compressed_size_bytes", "uncompressed_size_bytes",
	"l2_hits", "l2_misses", "l2_size_bytes", "memory_throttle_count",
	"hit_rate_pct", "scan_timestamp",
}

// InsertARCStats appends ARC samples.
func (s *SQLStore) InsertARCStats(ctx context.Context, rows []types.ARCStat) error {
	vals := make([][]interface{}, len(rows))
	for i, r := range rows {
		vals[i] = []interface{}{
			r.Host, r.SizeBytes, r.TargetBytes, r.MinBytes, r.MaxBytes,
			r.Hits, r.Misses, r.DemandDataHits, r.DemandDataMisses, r.PrefetchDataHits,
			r.MRUHits, r.MFUHits, r.CompressedSize, r.UncompressedSize,
			r.L2Hits, r.L2Misses, r.L2SizeBytes, r.MemoryThrottleCount,
			nullFloat(r.HitRatePct), utc(r.ScanTimestamp),
		}
	}
	return s.bulkInsert(ctx, "arc_stats", arcStatCols, vals)
}

var networkInterfaceCols = []string{
	"host", "link", "class", "over_link", "state", "mtu", "speed_mbps", "duplex",
	"macaddress", "macaddrtype", "vid", "zone", "media", "device", "scan_timestamp",
}

// ReplaceNetworkInterfaces swaps the datalink snapshot for a host.
func (s *SQLStore) ReplaceNetworkInterfaces(ctx context.Context, host string, rows []types.NetworkInterface) error {
	vals := make([][]interface{}, len(rows))
	for i, r := range rows {
		vals[i] = []interface{}{
			host, r.Link, nullStr(r.Class), nullStr(r.Over), nullStr(r.State),
			r.MTU, r.SpeedMbps, nullStr(r.Duplex),
			nullStr(r.MACAddress), nullStr(r.MACAddrType), r.VID,
			nullStr(r.Zone), nullStr(r.Media), nullStr(r.Device), utc(r.ScanTimestamp),
		}
	}
	return s.replaceSnapshot(ctx, "network_interfaces", host, networkInterfaceCols, vals)
}

var ipAddressCols = []string{
	"host", "addrobj", "interface", "type", "state", "addr", "scan_timestamp",
}

// ReplaceIPAddresses swaps the address snapshot for a host.
func (s *SQLStore) ReplaceIPAddresses(ctx context.Context, host string, rows []types.IPAddress) error {
	vals := make([][]interface{}, len(rows))
	for i, r := range rows {
		vals[i] = []interface{}{
			host, r.AddrObj, nullStr(r.Interface), nullStr(r.Type),
			nullStr(r.State), nullStr(r.Addr), utc(r.ScanTimestamp),
		}
	}
	return s.replaceSnapshot(ctx, "ip_addresses", host, ipAddressCols, vals)
}

var routeCols = []string{
	"host", "destination", "gateway", "flags", "interface", "ref", "use_count", "scan_timestamp",
}

// ReplaceRoutes swaps the routing-table snapshot for a host.
func (s *SQLStore) ReplaceRoutes(ctx context.Context, host string, rows []types.Route) error {
	vals := make([][]interface{}, len(rows))
	for i, r := range rows {
		vals[i] = []interface{}{
			host, r.Destination, r.Gateway, nullStr(r.Flags),
			r.Interface, r.Ref, r.Use, utc(r.ScanTimestamp),
		}
	}
	return s.replaceSnapshot(ctx, "routing_table", host, routeCols, vals)
}

var swapAreaCols = []string{
	"host", "swapfile", "dev", "swaplo_blocks", "blocks", "free_blocks", "used_pct", "scan_timestamp",
}

// ReplaceSwapAreas swaps the swap-device snapshot for a host.
func (s *SQLStore) ReplaceSwapAreas(ctx context.Context, host string, rows []types.SwapArea) error {
	vals := make([][]interface{}, len(rows))
	for i, r := range rows {
		vals[i] = []interface{}{
			host, r.Swapfile, nullStr(r.Dev), r.SwapLoBlocks, r.Blocks, r.FreeBlocks,
			nullFloat(r.UsedPct), utc(r.ScanTimestamp),
		}
	}
	return s.replaceSnapshot(ctx, "swap_areas", host, swapAreaCols, vals)
}

var diskCols = []string{
	"host", "device", "type", "vendor", "product", "size_bytes", "removable", "ssd", "scan_timestamp",
}

// ReplaceDisks swaps the disk inventory snapshot for a host.
func (s *SQLStore) ReplaceDisks(ctx context.Context, host string, rows []types.Disk) error {
	vals := make([][]interface{}, len(rows))
	for i, r := range rows {
		vals[i] = []interface{}{
			host, r.Device, nullStr(r.Type), nullStr(r.Vendor), nullStr(r.Product),
			r.SizeBytes, boolInt(r.Removable), boolInt(r.SSD), utc(r.ScanTimestamp),
		}
	}
	return s.replaceSnapshot(ctx, "disks", host, diskCols, vals)
}

var zfsDatasetCols = []string{
	"host", "name", "pool", "type", "used_bytes", "available_bytes", "referenced_bytes",
	"quota_bytes", "reservation_bytes", "mountpoint", "compression", "compressratio", "scan_timestamp",
}

// ReplaceZFSDatasets swaps the dataset snapshot for a host.
func (s *SQLStore) ReplaceZFSDatasets(ctx context.Context, host string, rows []types.ZFSDataset) error {
	vals := make([][]interface{}, len(rows))
	for i, r := range rows {
		vals[i] = []interface{}{
			host, r.Name, nullStr(r.Pool), nullStr(r.Type),
			r.UsedBytes, r.AvailableBytes, r.ReferencedBytes,
			r.QuotaBytes, r.ReservationBytes,
			nullStr(r.Mountpoint), nullStr(r.Compression),
			nullFloat(r.CompressRatio), utc(r.ScanTimestamp),
		}
	}
	return s.replaceSnapshot(ctx, "zfs_datasets", host, zfsDatasetCols, vals)
}

var pciDeviceCols = []string{
	"host", "path", "driver", "instance", "vendor_id", "device_id",
	"vendor_name", "device_name", "class", "scan_timestamp",
}

// ReplacePCIDevices swaps the PCI inventory snapshot for a host.
func (s *SQLStore) ReplacePCIDevices(ctx context.Context, host string, rows []types.PCIDevice) error {
	vals := make([][]interface{}, len(rows))
	for i, r := range rows {
		vals[i] = []interface{}{
			host, r.Path, nullStr(r.Driver), r.Instance,
			nullStr(r.VendorID), nullStr(r.DeviceID),
			nullStr(r.VendorName), nullStr(r.DeviceName),
			nullStr(r.Class), utc(r.ScanTimestamp),
		}
	}
	return s.replaceSnapshot(ctx, "pci_devices", host, pciDeviceCols, vals)
}

// ListNetworkInterfaces returns the latest datalink snapshot.
func (s *SQLStore) ListNetworkInterfaces(ctx context.Context, host string) ([]types.NetworkInterface, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT host, link, class, over_link, state, mtu,
			speed_mbps, duplex, macaddress, macaddrtype, vid, zone, media, device, scan_timestamp
		FROM network_interfaces WHERE host = ? ORDER BY link`, host)
	if err != nil {
		return nil, fmt.Errorf("failed to list network interfaces: %w", err)
	}
	defer rows.Close()

	var out []types.NetworkInterface
	for rows.Next() {
		var (
			r                                                       types.NetworkInterface
			class, over, state, duplex, mac, macType, zone, media   sql.NullString
			device                                                  sql.NullString
			mtu, speed, vid                                         sql.NullInt64
		)
		err := rows.Scan(&r.Host, &r.Link, &class, &over, &state, &mtu, &speed,
			&duplex, &mac, &macType, &vid, &zone, &media, &device, &r.ScanTimestamp)
		if err != nil {
			return nil, fmt.Errorf("failed to scan network interface: %w", err)
		}
		r.Class = class.String
		r.Over = over.String
		r.State = state.String
		r.MTU = mtu.Int64
		r.SpeedMbps = speed.Int64
		r.Duplex = duplex.String
		r.MACAddress = mac.String
		r.MACAddrType = macType.String
		r.VID = vid.Int64
		r.Zone = zone.String
		r.Media = media.String
		r.Device = device.String
		r.ScanTimestamp = r.ScanTimestamp.UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListIPAddresses returns the latest address snapshot.
func (s *SQLStore) ListIPAddresses(ctx context.Context, host string) ([]types.IPAddress, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT host, addrobj, interface, type, state, addr, scan_timestamp
		FROM ip_addresses WHERE host = ? ORDER BY addrobj`, host)
	if err != nil {
		return nil, fmt.Errorf("failed to list ip addresses: %w", err)
	}
	defer rows.Close()

	var out []types.IPAddress
	for rows.Next() {
		var (
			r                            types.IPAddress
			iface, typ, state, addr      sql.NullString
		)
		if err := rows.Scan(&r.Host, &r.AddrObj, &iface, &typ, &state, &addr, &r.ScanTimestamp); err != nil {
			return nil, fmt.Errorf("failed to scan ip address: %w", err)
		}
		r.Interface = iface.String
		r.Type = typ.String
		r.State = state.String
		r.Addr = addr.String
		r.ScanTimestamp = r.ScanTimestamp.UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListRoutes returns the latest routing-table snapshot.
func (s *SQLStore) ListRoutes(ctx context.Context, host string) ([]types.Route, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT host, destination, gateway, flags, interface,
			ref, use_count, scan_timestamp
		FROM routing_table WHERE host = ? ORDER BY destination, gateway`, host)
	if err != nil {
		return nil, fmt.Errorf("failed to list routes: %w", err)
	}
	defer rows.Close()

	var out []types.Route
	for rows.Next() {
		var (
			r        types.Route
			flags    sql.NullString
			ref, use sql.NullInt64
		)
		if err := rows.Scan(&r.Host, &r.Destination, &r.Gateway, &flags, &r.Interface, &ref, &use, &r.ScanTimestamp); err != nil {
			return nil, fmt.Errorf("failed to scan route: %w", err)
		}
		r.Flags = flags.String
		r.Ref = ref.Int64
		r.Use = use.Int64
		r.ScanTimestamp = r.ScanTimestamp.UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListSwapAreas returns the latest swap-device snapshot.
func (s *SQLStore) ListSwapAreas(ctx context.Context, host string) ([]types.SwapArea, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT host, swapfile, dev, swaplo_blocks, blocks,
			free_blocks, used_pct, scan_timestamp
		FROM swap_areas WHERE host = ? ORDER BY swapfile`, host)
	if err != nil {
		return nil, fmt.Errorf("failed to list swap areas: %w", err)
	}
	defer rows.Close()

	var out []types.SwapArea
	for rows.Next() {
		var (
			r    types.SwapArea
			dev  sql.NullString
			used sql.NullFloat64
		)
		if err := rows.Scan(&r.Host, &r.Swapfile, &dev, &r.SwapLoBlocks, &r.Blocks, &r.FreeBlocks, &used, &r.ScanTimestamp); err != nil {
			return nil, fmt.Errorf("failed to scan swap area: %w", err)
		}
		r.Dev = dev.String
		r.UsedPct = floatPtr(used)
		r.ScanTimestamp = r.ScanTimestamp.UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListDisks returns the latest disk inventory snapshot.
func (s *SQLStore) ListDisks(ctx context.Context, host string) ([]types.Disk, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT host, device, type, vendor, product,
			size_bytes, removable, ssd, scan_timestamp
		FROM disks WHERE host = ? ORDER BY device`, host)
	if err != nil {
		return nil, fmt.Errorf("failed to list disks: %w", err)
	}
	defer rows.Close()

	var out []types.Disk
	for rows.Next() {
		var (
			r                    types.Disk
			typ, vendor, product sql.NullString
			size                 sql.NullInt64
			removable, ssd       int
		)
		if err := rows.Scan(&r.Host, &r.Device, &typ, &vendor, &product, &size, &removable, &ssd, &r.ScanTimestamp); err != nil {
			return nil, fmt.Errorf("failed to scan disk: %w", err)
		}
		r.Type = typ.String
		r.Vendor = vendor.String
		r.Product = product.String
		r.SizeBytes = size.Int64
		r.Removable = removable != 0
		r.SSD = ssd != 0
		r.ScanTimestamp = r.ScanTimestamp.UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListZFSDatasets returns the latest dataset snapshot.
func (s *SQLStore) ListZFSDatasets(ctx context.Context, host string) ([]types.ZFSDataset, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT host, name, pool, type, used_bytes,
			available_bytes, referenced_bytes, quota_bytes, reservation_bytes,
			mountpoint, compression, compressratio, scan_timestamp
		FROM zfs_datasets WHERE host = ? ORDER BY name`, host)
	if err != nil {
		return nil, fmt.Errorf("failed to list zfs datasets: %w", err)
	}
	defer rows.Close()

	var out []types.ZFSDataset
	for rows.Next() {
		var (
			r                        types.ZFSDataset
			pool, typ, mount, compr  sql.NullString
			quota, reservation       sql.NullInt64
			ratio                    sql.NullFloat64
		)
		err := rows.Scan(&r.Host, &r.Name, &pool, &typ, &r.UsedBytes, &r.AvailableBytes,
			&r.ReferencedBytes, &quota, &reservation, &mount, &compr, &ratio, &r.ScanTimestamp)
		if err != nil {
			return nil, fmt.Errorf("failed to scan zfs dataset: %w", err)
		}
		r.Pool = pool.String
		r.Type = typ.String
		r.QuotaBytes = quota.Int64
		r.ReservationBytes = reservation.Int64
		r.Mountpoint = mount.String
		r.Compression = compr.String
		r.CompressRatio = floatPtr(ratio)
		r.ScanTimestamp = r.ScanTimestamp.UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListPCIDevices returns the latest PCI inventory snapshot.
func (s *SQLStore) ListPCIDevices(ctx context.Context, host string) ([]types.PCIDevice, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT host, path, driver, instance, vendor_id,
			device_id, vendor_name, device_name, class, scan_timestamp
		FROM pci_devices WHERE host = ? ORDER BY path`, host)
	if err != nil {
		return nil, fmt.Errorf("failed to list pci devices: %w", err)
	}
	defer rows.Close()

	var out []types.PCIDevice
	for rows.Next() {
		var (
			r                                             types.PCIDevice
			driver, vid, did, vname, dname, class         sql.NullString
			instance                                      sql.NullInt64
		)
		err := rows.Scan(&r.Host, &r.Path, &driver, &instance, &vid, &did, &vname, &dname, &class, &r.ScanTimestamp)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pci device: %w", err)
		}
		r.Driver = driver.String
		r.Instance = instance.Int64
		r.VendorID = vid.String
		r.DeviceID = did.String
		r.VendorName = vname.String
		r.DeviceName = dname.String
		r.Class = class.String
		r.ScanTimestamp = r.ScanTimestamp.UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// sinceClause appends the since/limit parts shared by the time-series reads.
// Samples come back oldest first so charts can consume them directly.
func sinceClause(limit int) string {
	q := " AND scan_timestamp >= ? ORDER BY scan_timestamp ASC"
	if limit > 0 {
		q += " LIMIT ?"
	}
	return q
}

func sinceArgs(args []interface{}, since time.Time, limit int) []interface{} {
	args = append(args, utc(since))
	if limit > 0 {
		args = append(args, limit)
	}
	return args
}

// ListNetworkUsageSince returns link samples at or after since, oldest
// first. An empty link matches all links.
func (s *SQLStore) ListNetworkUsageSince(ctx context.Context, host, link string, since time.Time, limit int) ([]types.NetworkUsage, error) {
	query := `SELECT host, link, ipackets, rbytes, ierrors, opackets, obytes, oerrors,
			rbytes_delta, obytes_delta, time_delta_seconds,
			rx_bps, tx_bps, rx_mbps, tx_mbps, rx_utilization_pct, tx_utilization_pct,
			scan_timestamp
		FROM network_usage WHERE host = ?`
	args := []interface{}{host}
	if link != "" {
		query += " AND link = ?"
		args = append(args, link)
	}
	query += sinceClause(limit)
	args = sinceArgs(args, since, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list network usage: %w", err)
	}
	defer rows.Close()

	var out []types.NetworkUsage
	for rows.Next() {
		var (
			r                                types.NetworkUsage
			rbd, obd                         sql.NullInt64
			td, rxb, txb, rxm, txm, rxu, txu sql.NullFloat64
		)
		err := rows.Scan(&r.Host, &r.Link, &r.IPackets, &r.RBytes, &r.IErrors,
			&r.OPackets, &r.OBytes, &r.OErrors,
			&rbd, &obd, &td, &rxb, &txb, &rxm, &txm, &rxu, &txu, &r.ScanTimestamp)
		if err != nil {
			return nil, fmt.Errorf("failed to scan network usage: %w", err)
		}
		r.RBytesDelta = intPtr(rbd)
		r.OBytesDelta = intPtr(obd)
		r.TimeDeltaSec = floatPtr(td)
		r.RxBps = floatPtr(rxb)
		r.TxBps = floatPtr(txb)
		r.RxMbps = floatPtr(rxm)
		r.TxMbps = floatPtr(txm)
		r.RxUtilization = floatPtr(rxu)
		r.TxUtilization = floatPtr(txu)
		r.ScanTimestamp = r.ScanTimestamp.UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListCPUStatsSince returns per-core samples at or after since.
func (s *SQLStore) ListCPUStatsSince(ctx context.Context, host string, since time.Time, limit int) ([]types.CPUStat, error) {
	query := `SELECT host, cpu_id, user_ticks, kernel_ticks, idle_ticks,
			user_pct, kernel_pct, idle_pct, utilization_pct, scan_timestamp
		FROM cpu_stats WHERE host = ?` + sinceClause(limit)
	args := sinceArgs([]interface{}{host}, since, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list cpu stats: %w", err)
	}
	defer rows.Close()

	var out []types.CPUStat
	for rows.Next() {
		var (
			r                  types.CPUStat
			up, kp, ip, utilp  sql.NullFloat64
		)
		err := rows.Scan(&r.Host, &r.CPUID, &r.UserTicks, &r.KernelTicks, &r.IdleTicks,
			&up, &kp, &ip, &utilp, &r.ScanTimestamp)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cpu stat: %w", err)
		}
		r.UserPct = floatPtr(up)
		r.KernelPct = floatPtr(kp)
		r.IdlePct = floatPtr(ip)
		r.UtilizationPct = floatPtr(utilp)
		r.ScanTimestamp = r.ScanTimestamp.UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListMemoryStatsSince returns memory samples at or after since.
func (s *SQLStore) ListMemoryStatsSince(ctx context.Context, host string, since time.Time, limit int) ([]types.MemoryStat, error) {
	query := `SELECT host, physmem_bytes, freemem_bytes, availrmem_bytes,
			pages_total, pages_free, pages_locked, used_pct, scan_timestamp
		FROM memory_stats WHERE host = ?` + sinceClause(limit)
	args := sinceArgs([]interface{}{host}, since, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list memory stats: %w", err)
	}
	defer rows.Close()

	var out []types.MemoryStat
	for rows.Next() {
		var (
			r    types.MemoryStat
			used sql.NullFloat64
		)
		err := rows.Scan(&r.Host, &r.PhysMemBytes, &r.FreeMemBytes, &r.AvailRMemBytes,
			&r.PagesTotal, &r.PagesFree, &r.PagesLocked, &used, &r.ScanTimestamp)
		if err != nil {
			return nil, fmt.Errorf("failed to scan memory stat: %w", err)
		}
		r.UsedPct = floatPtr(used)
		r.ScanTimestamp = r.ScanTimestamp.UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListDiskIOStatsSince returns device I/O samples at or after since.
func (s *SQLStore) ListDiskIOStatsSince(ctx context.Context, host string, since time.Time, limit int) ([]types.DiskIOStat, error) {
	query := `SELECT host, device, reads, writes, nread_bytes, nwritten_bytes,
			reads_delta, writes_delta, read_bps, write_bps, rps, wps, scan_timestamp
		FROM disk_io_stats WHERE host = ?` + sinceClause(limit)
	args := sinceArgs([]interface{}{host}, since, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list disk io stats: %w", err)
	}
	defer rows.Close()

	var out []types.DiskIOStat
	for rows.Next() {
		var (
			r                  types.DiskIOStat
			rd, wd             sql.NullInt64
			rb, wb, rps, wps   sql.NullFloat64
		)
		err := rows.Scan(&r.Host, &r.Device, &r.Reads, &r.Writes, &r.NReadBytes, &r.NWrittenBytes,
			&rd, &wd, &rb, &wb, &rps, &wps, &r.ScanTimestamp)
		if err != nil {
			return nil, fmt.Errorf("failed to scan disk io stat: %w", err)
		}
		r.ReadsDelta = intPtr(rd)
		r.WritesDelta = intPtr(wd)
		r.ReadBps = floatPtr(rb)
		r.WriteBps = floatPtr(wb)
		r.ReadsPerSec = floatPtr(rps)
		r.WritesPerSec = floatPtr(wps)
		r.ScanTimestamp = r.ScanTimestamp.UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListPoolIOStatsSince returns pool samples at or after since.
func (s *SQLStore) ListPoolIOStatsSince(ctx context.Context, host string, since time.Time, limit int) ([]types.PoolIOStat, error) {
	query := `SELECT host, pool, alloc_bytes, free_bytes, read_ops, write_ops,
			read_bandwidth_bytes, write_bandwidth_bytes,
			capacity_pct, fragmentation_pct, health, scan_timestamp
		FROM pool_io_stats WHERE host = ?` + sinceClause(limit)
	args := sinceArgs([]interface{}{host}, since, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list pool io stats: %w", err)
	}
	defer rows.Close()

	var out []types.PoolIOStat
	for rows.Next() {
		var (
			r             types.PoolIOStat
			capPct, frag  sql.NullFloat64
			health        sql.NullString
		)
		err := rows.Scan(&r.Host, &r.Pool, &r.AllocBytes, &r.FreeBytes, &r.ReadOps, &r.WriteOps,
			&r.ReadBandwidth, &r.WriteBandwidth, &capPct, &frag, &health, &r.ScanTimestamp)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pool io stat: %w", err)
		}
		r.CapacityPct = floatPtr(capPct)
		r.FragmentationPct = floatPtr(frag)
		r.Health = health.String
		r.ScanTimestamp = r.ScanTimestamp.UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListARCStatsSince returns ARC samples at or after since.
func (s *SQLStore) ListARCStatsSince(ctx context.Context, host string, since time.Time, limit int) ([]types.ARCStat, error) {
	query := `SELECT host, size_bytes, target_bytes, min_bytes, max_bytes,
			hits, misses, demand_data_hits, demand_data_misses, prefetch_data_hits,
			mru_hits, mfu_hits, compressed_size_bytes, uncompressed_size_bytes,
			l2_hits, l2_misses, l2_size_bytes, memory_throttle_count,
			hit_rate_pct, scan_timestamp
		FROM arc_stats WHERE host = ?` + sinceClause(limit)
	args := sinceArgs([]interface{}{host}, since, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list arc stats: %w", err)
	}
	defer rows.Close()

	var out []types.ARCStat
	for rows.Next() {
		var (
			r       types.ARCStat
			hitRate sql.NullFloat64
		)
		err := rows.Scan(&r.Host, &r.SizeBytes, &r.TargetBytes, &r.MinBytes, &r.MaxBytes,
			&r.Hits, &r.Misses, &r.DemandDataHits, &r.DemandDataMisses, &r.PrefetchDataHits,
			&r.MRUHits, &r.MFUHits, &r.CompressedSize, &r.UncompressedSize,
			&r.L2Hits, &r.L2Misses, &r.L2SizeBytes, &r.MemoryThrottleCount,
			&hitRate, &r.ScanTimestamp)
		if err != nil {
			return nil, fmt.Errorf("failed to scan arc stat: %w", err)
		}
		r.HitRatePct = floatPtr(hitRate)
		r.ScanTimestamp = r.ScanTimestamp.UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// RetentionTables lists the time-series tables in sweep order.
func (s *SQLStore) RetentionTables() []string {
	out := make([]string, len(retentionTables))
	copy(out, retentionTables)
	return out
}

// DeleteMetricRowsBefore removes samples older than cutoff from one
// time-series table. The table name must come from RetentionTables.
func (s *SQLStore) DeleteMetricRowsBefore(ctx context.Context, table string, cutoff time.Time) (int64, error) {
	known := false
	for _, t := range retentionTables {
		if t == table {
			known = true
			break
		}
	}
	if !known {
		return 0, fmt.Errorf("%w: %s is not a retention table", ErrValidation, table)
	}

	var deleted int64
	err := s.retry(ctx, func() error {
		res, err := s.db.ExecContext(ctx,
			fmt.Sprintf("DELETE FROM %s WHERE scan_timestamp < ?", table), utc(cutoff))
		if err != nil {
			return fmt.Errorf("failed to sweep %s: %w", table, err)
		}
		deleted, _ = res.RowsAffected()
		return nil
	})
	return deleted, err
}
