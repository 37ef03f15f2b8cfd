package types

import (
	"time"
)

// Metric row types, one per collector table. Time-series rows are immutable
// samples keyed by (host, scan_timestamp, entity key); current-state rows
// are replaced atomically per host on every collection.
//
// Derived bandwidth and utilization fields are pointers: nil means the value
// could not be computed for this sample (no previous sample, non-positive
// time delta, or unknown link speed) and is stored as NULL.

// NetworkInterface is a current-state row describing one datalink.
type NetworkInterface struct {
	Host          string    `json:"host"`
	Link          string    `json:"link"`
	Class         string    `json:"class"`
	Over          string    `json:"over,omitempty"`
	State         string    `json:"state"`
	MTU           int64     `json:"mtu,omitempty"`
	SpeedMbps     int64     `json:"speed_mbps,omitempty"`
	Duplex        string    `json:"duplex,omitempty"`
	MACAddress    string    `json:"macaddress,omitempty"`
	MACAddrType   string    `json:"macaddrtype,omitempty"`
	VID           int64     `json:"vid,omitempty"`
	Zone          string    `json:"zone,omitempty"`
	Media         string    `json:"media,omitempty"`
	Device        string    `json:"device,omitempty"`
	ScanTimestamp time.Time `json:"scan_timestamp"`
}

// NetworkUsage is a time-series row of link counters plus derived rates.
type NetworkUsage struct {
	Host          string    `json:"host"`
	Link          string    `json:"link"`
	IPackets      int64     `json:"ipackets"`
	RBytes        int64     `json:"rbytes"`
	IErrors       int64     `json:"ierrors"`
	OPackets      int64     `json:"opackets"`
	OBytes        int64     `json:"obytes"`
	OErrors       int64     `json:"oerrors"`
	RBytesDelta   *int64    `json:"rbytes_delta,omitempty"`
	OBytesDelta   *int64    `json:"obytes_delta,omitempty"`
	TimeDeltaSec  *float64  `json:"time_delta_seconds,omitempty"`
	RxBps         *float64  `json:"rx_bps,omitempty"`
	TxBps         *float64  `json:"tx_bps,omitempty"`
	RxMbps        *float64  `json:"rx_mbps,omitempty"`
	TxMbps        *float64  `json:"tx_mbps,omitempty"`
	RxUtilization *float64  `json:"rx_utilization_pct,omitempty"`
	TxUtilization *float64  `json:"tx_utilization_pct,omitempty"`
	ScanTimestamp time.Time `json:"scan_timestamp"`
}

// IPAddress is a current-state row from ipadm show-addr.
type IPAddress struct {
	Host          string    `json:"host"`
	AddrObj       string    `json:"addrobj"`
	Interface     string    `json:"interface"`
	Type          string    `json:"type"`
	State         string    `json:"state"`
	Addr          string    `json:"addr"`
	ScanTimestamp time.Time `json:"scan_timestamp"`
}

// Route is a current-state row of the host routing table.
type Route struct {
	Host          string    `json:"host"`
	Destination   string    `json:"destination"`
	Gateway       string    `json:"gateway"`
	Flags         string    `json:"flags"`
	Interface     string    `json:"interface,omitempty"`
	Ref           int64     `json:"ref,omitempty"`
	Use           int64     `json:"use,omitempty"`
	ScanTimestamp time.Time `json:"scan_timestamp"`
}

// CPUStat is a time-series row of per-core cumulative tick counters plus
// derived per-interval percentages.
type CPUStat struct {
	Host           string    `json:"host"`
	CPUID          int       `json:"cpu_id"`
	UserTicks      int64     `json:"user_ticks"`
	KernelTicks    int64     `json:"kernel_ticks"`
	IdleTicks      int64     `json:"idle_ticks"`
	UserPct        *float64  `json:"user_pct,omitempty"`
	KernelPct      *float64  `json:"kernel_pct,omitempty"`
	IdlePct        *float64  `json:"idle_pct,omitempty"`
	UtilizationPct *float64  `json:"utilization_pct,omitempty"`
	ScanTimestamp  time.Time `json:"scan_timestamp"`
}

// MemoryStat is a time-series row of system memory pages converted to bytes.
type MemoryStat struct {
	Host           string    `json:"host"`
	PhysMemBytes   int64     `json:"physmem_bytes"`
	FreeMemBytes   int64     `json:"freemem_bytes"`
	AvailRMemBytes int64     `json:"availrmem_bytes"`
	PagesTotal     int64     `json:"pages_total"`
	PagesFree      int64     `json:"pages_free"`
	PagesLocked    int64     `json:"pages_locked"`
	UsedPct        *float64  `json:"used_pct,omitempty"`
	ScanTimestamp  time.Time `json:"scan_timestamp"`
}

// SwapArea is a current-state row per swap device, unique by (host, swapfile).
type SwapArea struct {
	Host          string    `json:"host"`
	Swapfile      string    `json:"swapfile"`
	Dev           string    `json:"dev,omitempty"`
	SwapLoBlocks  int64     `json:"swaplo_blocks"`
	Blocks        int64     `json:"blocks"`
	FreeBlocks    int64     `json:"free_blocks"`
	UsedPct       *float64  `json:"used_pct,omitempty"`
	ScanTimestamp time.Time `json:"scan_timestamp"`
}

// Disk is a current-state inventory row from diskinfo.
type Disk struct {
	Host          string    `json:"host"`
	Device        string    `json:"device"`
	Type          string    `json:"type,omitempty"`
	Vendor        string    `json:"vendor,omitempty"`
	Product       string    `json:"product,omitempty"`
	SizeBytes     int64     `json:"size_bytes,omitempty"`
	Removable     bool      `json:"removable"`
	SSD           bool      `json:"ssd"`
	ScanTimestamp time.Time `json:"scan_timestamp"`
}

// DiskIOStat is a time-series row of per-device cumulative I/O counters
// plus derived rates.
type DiskIOStat struct {
	Host          string    `json:"host"`
	Device        string    `json:"device"`
	Reads         int64     `json:"reads"`
	Writes        int64     `json:"writes"`
	NReadBytes    int64     `json:"nread_bytes"`
	NWrittenBytes int64     `json:"nwritten_bytes"`
	ReadsDelta    *int64    `json:"reads_delta,omitempty"`
	WritesDelta   *int64    `json:"writes_delta,omitempty"`
	ReadBps       *float64  `json:"read_bps,omitempty"`
	WriteBps      *float64  `json:"write_bps,omitempty"`
	ReadsPerSec   *float64  `json:"rps,omitempty"`
	WritesPerSec  *float64  `json:"wps,omitempty"`
	ScanTimestamp time.Time `json:"scan_timestamp"`
}

// PoolIOStat is a time-series row per ZFS pool.
type PoolIOStat struct {
	Host             string    `json:"host"`
	Pool             string    `json:"pool"`
	AllocBytes       int64     `json:"alloc_bytes"`
	FreeBytes        int64     `json:"free_bytes"`
	ReadOps          int64     `json:"read_ops"`
	WriteOps         int64     `json:"write_ops"`
	ReadBandwidth    int64     `json:"read_bandwidth_bytes"`
	WriteBandwidth   int64     `json:"write_bandwidth_bytes"`
	CapacityPct      *float64  `json:"capacity_pct,omitempty"`
	FragmentationPct *float64  `json:"fragmentation_pct,omitempty"`
	Health           string    `json:"health,omitempty"`
	ScanTimestamp    time.Time `json:"scan_timestamp"`
}

// ARCStat is a time-series row of ZFS ARC counters.
type ARCStat struct {
	Host                string    `json:"host"`
	SizeBytes           int64     `json:"size_bytes"`
	TargetBytes         int64     `json:"target_bytes"`
	MinBytes            int64     `json:"min_bytes"`
	MaxBytes            int64     `json:"max_bytes"`
	Hits                int64     `json:"hits"`
	Misses              int64     `json:"misses"`
	DemandDataHits      int64     `json:"demand_data_hits"`
	DemandDataMisses    int64     `json:"demand_data_misses"`
	PrefetchDataHits    int64     `json:"prefetch_data_hits"`
	MRUHits             int64     `json:"mru_hits"`
	MFUHits             int64     `json:"mfu_hits"`
	CompressedSize      int64     `json:"compressed_size_bytes"`
	UncompressedSize    int64     `json:"uncompressed_size_bytes"`
	L2Hits              int64     `json:"l2_hits"`
	L2Misses            int64     `json:"l2_misses"`
	L2SizeBytes         int64     `json:"l2_size_bytes"`
	MemoryThrottleCount int64     `json:"memory_throttle_count"`
	HitRatePct          *float64  `json:"hit_rate_pct,omitempty"`
	ScanTimestamp       time.Time `json:"scan_timestamp"`
}

// ZFSDataset is a current-state row per dataset.
type ZFSDataset struct {
	Host             string    `json:"host"`
	Name             string    `json:"name"`
	Pool             string    `json:"pool"`
	Type             string    `json:"type"`
	UsedBytes        int64     `json:"used_bytes"`
	AvailableBytes   int64     `json:"available_bytes"`
	ReferencedBytes  int64     `json:"referenced_bytes"`
	QuotaBytes       int64     `json:"quota_bytes,omitempty"`
	ReservationBytes int64     `json:"reservation_bytes,omitempty"`
	Mountpoint       string    `json:"mountpoint,omitempty"`
	Compression      string    `json:"compression,omitempty"`
	CompressRatio    *float64  `json:"compressratio,omitempty"`
	ScanTimestamp    time.Time `json:"scan_timestamp"`
}

// PCIDevice is a current-state inventory row.
type PCIDevice struct {
	Host          string    `json:"host"`
	Path          string    `json:"path"`
	Driver        string    `json:"driver,omitempty"`
	Instance      int64     `json:"instance,omitempty"`
	VendorID      string    `json:"vendor_id,omitempty"`
	DeviceID      string    `json:"device_id,omitempty"`
	VendorName    string    `json:"vendor_name,omitempty"`
	DeviceName    string    `json:"device_name,omitempty"`
	Class         string    `json:"class,omitempty"`
	ScanTimestamp time.Time `json:"scan_timestamp"`
}

// HostInfo is the single per-host record of scan bookkeeping, capacity
// counters and collector health. CollectorErrors counts consecutive
// failures per collector name; a name in DisabledCollectors has crossed
// the failure threshold and stopped running.
type HostInfo struct {
	Host                     string         `json:"host"`
	Hostname                 string         `json:"hostname,omitempty"`
	Platform                 string         `json:"platform,omitempty"`
	CPUCount                 int            `json:"cpu_count,omitempty"`
	TotalMemoryBytes         int64          `json:"total_memory_bytes,omitempty"`
	NetworkAccountingEnabled bool           `json:"network_accounting_enabled"`
	LastNetworkConfigScan    *time.Time     `json:"last_network_config_scan,omitempty"`
	LastNetworkUsageScan     *time.Time     `json:"last_network_usage_scan,omitempty"`
	LastCPUScan              *time.Time     `json:"last_cpu_scan,omitempty"`
	LastMemoryScan           *time.Time     `json:"last_memory_scan,omitempty"`
	LastStorageScan          *time.Time     `json:"last_storage_scan,omitempty"`
	LastARCScan              *time.Time     `json:"last_arc_scan,omitempty"`
	LastPCIScan              *time.Time     `json:"last_pci_scan,omitempty"`
	CollectorErrors          map[string]int `json:"collector_errors,omitempty"`
	DisabledCollectors       []string       `json:"disabled_collectors,omitempty"`
	LastErrorMessage         string         `json:"last_error_message,omitempty"`
	UpdatedAt                time.Time      `json:"updated_at"`
}
