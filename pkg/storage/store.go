package storage

import (
	"context"
	"errors"
	"time"

	"github.com/Makr91/zoneweaver-api-sub005/pkg/types"
)

// Sentinel errors. Callers classify store failures with errors.Is; the API
// layer maps them onto HTTP status codes.
var (
	// ErrNotFound marks lookups for entities that do not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict marks duplicate inserts and concurrent-mutation failures.
	ErrConflict = errors.New("conflict")
	// ErrValidation marks rejected inputs; nothing was written.
	ErrValidation = errors.New("validation failed")
)

// TaskFilter narrows ListTasks. Zero values mean "any".
type TaskFilter struct {
	ZoneName  string
	Statuses  []types.TaskStatus
	Operation types.Operation
	ParentID  string
	Limit     int
}

// Store is the single durable state of the agent. All cross-component
// coordination routes through it: task rows, zone records, session records
// and metric samples.
type Store interface {
	// Tasks
	InsertTask(ctx context.Context, t *types.Task) (*types.Task, bool, error)
	InsertTaskChain(ctx context.Context, tasks []*types.Task) ([]*types.Task, error)
	GetTask(ctx context.Context, id string) (*types.Task, error)
	ListTasks(ctx context.Context, f TaskFilter) ([]*types.Task, error)
	ListTaskChildren(ctx context.Context, parentID string) ([]*types.Task, error)
	ClaimNextTask(ctx context.Context) (*types.Task, error)
	MarkTaskCompleted(ctx context.Context, id string) error
	MarkTaskFailed(ctx context.Context, id, errorMessage string) error
	RequeueTask(ctx context.Context, id, errorMessage string) error
	CancelTask(ctx context.Context, id string) (*types.Task, error)
	CascadeCancellations(ctx context.Context) (int64, error)
	FinalizeAggregateParents(ctx context.Context) (int64, error)
	ResetRunningTasks(ctx context.Context) (int64, error)
	PruneTasks(ctx context.Context, olderThan time.Time) (int64, error)
	CountTasksByStatus(ctx context.Context) (map[types.TaskStatus]int64, error)

	// Zones
	UpsertZone(ctx context.Context, z *types.Zone) error
	GetZone(ctx context.Context, name string) (*types.Zone, error)
	ListZones(ctx context.Context) ([]*types.Zone, error)
	DeleteZone(ctx context.Context, name string) error
	SetZoneConfiguration(ctx context.Context, name, doc string) error
	MarkZonesOrphaned(ctx context.Context, host string, seen []string) (int64, error)

	// Console sessions (zlogin -C)
	CreateConsoleSession(ctx context.Context, s *types.ConsoleSession) error
	GetConsoleSession(ctx context.Context, id string) (*types.ConsoleSession, error)
	GetActiveConsoleSession(ctx context.Context, zoneName string) (*types.ConsoleSession, error)
	ListConsoleSessions(ctx context.Context, includeClosed bool) ([]*types.ConsoleSession, error)
	UpdateConsoleSession(ctx context.Context, id string, status types.SessionStatus, pid int) error
	TouchConsoleSession(ctx context.Context, id string, accessed, activity time.Time) error
	SaveConsoleBuffer(ctx context.Context, id, buffer string) error
	CloseConsoleSession(ctx context.Context, id string) error

	// Terminal sessions (host shell)
	CreateTerminalSession(ctx context.Context, s *types.TerminalSession) error
	GetTerminalSession(ctx context.Context, id string) (*types.TerminalSession, error)
	ListTerminalSessions(ctx context.Context, includeClosed bool) ([]*types.TerminalSession, error)
	UpdateTerminalSession(ctx context.Context, id string, status types.SessionStatus, pid int) error
	TouchTerminalSession(ctx context.Context, id string, accessed time.Time) error
	SaveTerminalBuffer(ctx context.Context, id, buffer string) error
	CloseTerminalSession(ctx context.Context, id string) error

	// VNC sessions
	CreateVNCSession(ctx context.Context, s *types.VNCSession) error
	GetVNCSession(ctx context.Context, id string) (*types.VNCSession, error)
	GetActiveVNCSessionByZone(ctx context.Context, zoneName string) (*types.VNCSession, error)
	ListVNCSessions(ctx context.Context, includeClosed bool) ([]*types.VNCSession, error)
	UpdateVNCSession(ctx context.Context, id string, status types.SessionStatus, pid int) error
	CloseVNCSession(ctx context.Context, id string) error
	UsedVNCPorts(ctx context.Context) ([]int, error)

	// Provisioning profiles and recipes
	CreateProfile(ctx context.Context, p *types.ProvisioningProfile) error
	GetProfile(ctx context.Context, id string) (*types.ProvisioningProfile, error)
	ListProfiles(ctx context.Context) ([]*types.ProvisioningProfile, error)
	UpdateProfile(ctx context.Context, p *types.ProvisioningProfile) error
	DeleteProfile(ctx context.Context, id string) error
	CreateRecipe(ctx context.Context, r *types.Recipe) error
	GetRecipe(ctx context.Context, id string) (*types.Recipe, error)
	ListRecipes(ctx context.Context) ([]*types.Recipe, error)
	UpdateRecipe(ctx context.Context, r *types.Recipe) error
	DeleteRecipe(ctx context.Context, id string) error

	// Host info
	GetHostInfo(ctx context.Context, host string) (*types.HostInfo, error)
	TouchHostScan(ctx context.Context, host string, column ScanColumn, at time.Time) error
	SetHostCapacity(ctx context.Context, host, hostname, platform string, cpuCount int, totalMemoryBytes int64) error
	SetNetworkAccounting(ctx context.Context, host string, enabled bool) error
	SetCollectorHealth(ctx context.Context, host string, errors map[string]int, disabled []string, lastError string) error

	// Metric writes. Time-series tables take bulk inserts; current-state
	// tables replace the whole per-host snapshot atomically.
	InsertNetworkUsage(ctx context.Context, rows []types.NetworkUsage) error
	InsertCPUStats(ctx context.Context, rows []types.CPUStat) error
	InsertMemoryStats(ctx context.Context, rows []types.MemoryStat) error
	InsertDiskIOStats(ctx context.Context, rows []types.DiskIOStat) error
	InsertPoolIOStats(ctx context.Context, rows []types.PoolIOStat) error
	InsertARCStats(ctx context.Context, rows []types.ARCStat) error
	ReplaceNetworkInterfaces(ctx context.Context, host string, rows []types.NetworkInterface) error
	ReplaceIPAddresses(ctx context.Context, host string, rows []types.IPAddress) error
	ReplaceRoutes(ctx context.Context, host string, rows []types.Route) error
	ReplaceSwapAreas(ctx context.Context, host string, rows []types.SwapArea) error
	ReplaceDisks(ctx context.Context, host string, rows []types.Disk) error
	ReplaceZFSDatasets(ctx context.Context, host string, rows []types.ZFSDataset) error
	ReplacePCIDevices(ctx context.Context, host string, rows []types.PCIDevice) error

	// Metric reads
	ListNetworkInterfaces(ctx context.Context, host string) ([]types.NetworkInterface, error)
	ListIPAddresses(ctx context.Context, host string) ([]types.IPAddress, error)
	ListRoutes(ctx context.Context, host string) ([]types.Route, error)
	ListSwapAreas(ctx context.Context, host string) ([]types.SwapArea, error)
	ListDisks(ctx context.Context, host string) ([]types.Disk, error)
	ListZFSDatasets(ctx context.Context, host string) ([]types.ZFSDataset, error)
	ListPCIDevices(ctx context.Context, host string) ([]types.PCIDevice, error)
	ListNetworkUsageSince(ctx context.Context, host, link string, since time.Time, limit int) ([]types.NetworkUsage, error)
	ListCPUStatsSince(ctx context.Context, host string, since time.Time, limit int) ([]types.CPUStat, error)
	ListMemoryStatsSince(ctx context.Context, host string, since time.Time, limit int) ([]types.MemoryStat, error)
	ListDiskIOStatsSince(ctx context.Context, host string, since time.Time, limit int) ([]types.DiskIOStat, error)
	ListPoolIOStatsSince(ctx context.Context, host string, since time.Time, limit int) ([]types.PoolIOStat, error)
	ListARCStatsSince(ctx context.Context, host string, since time.Time, limit int) ([]types.ARCStat, error)

	// Retention
	RetentionTables() []string
	DeleteMetricRowsBefore(ctx context.Context, table string, cutoff time.Time) (int64, error)

	// Lifecycle
	Migrate(ctx context.Context, dryRun bool) ([]string, error)
	Close() error
}

// ScanColumn names a host_info scan-timestamp column updated by collectors.
type ScanColumn string

const (
	ScanNetworkConfig ScanColumn = "last_network_config_scan"
	ScanNetworkUsage  ScanColumn = "last_network_usage_scan"
	ScanCPU           ScanColumn = "last_cpu_scan"
	ScanMemory        ScanColumn = "last_memory_scan"
	ScanStorage       ScanColumn = "last_storage_scan"
	ScanARC           ScanColumn = "last_arc_scan"
	ScanPCI           ScanColumn = "last_pci_scan"
)
