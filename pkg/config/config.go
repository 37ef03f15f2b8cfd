package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the agent's full configuration tree. Every field has a working
// default so an empty file (or no file at all) yields a runnable agent.
type Config struct {
	Host       HostConfig       `yaml:"host"`
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Log        LogConfig        `yaml:"log"`
	TaskEngine TaskEngineConfig `yaml:"task_engine"`
	Collectors CollectorsConfig `yaml:"collectors"`
	Retention  RetentionConfig  `yaml:"retention"`
	Console    ConsoleConfig    `yaml:"console"`
	VNC        VNCConfig        `yaml:"vnc"`
	Provision  ProvisionConfig  `yaml:"provisioning"`
}

// HostConfig identifies this host in the data model. Name defaults to
// os.Hostname at load time.
type HostConfig struct {
	Name string `yaml:"name"`
}

// ServerConfig controls the HTTP/WebSocket listener.
type ServerConfig struct {
	BindAddress            string `yaml:"bind_address"`
	ReadTimeoutSeconds     int    `yaml:"read_timeout_seconds"`
	ShutdownTimeoutSeconds int    `yaml:"shutdown_timeout_seconds"`
}

// DatabaseConfig controls the SQLite store.
type DatabaseConfig struct {
	Path          string `yaml:"path"`
	BusyTimeoutMS int    `yaml:"busy_timeout_ms"`
}

// LogConfig controls structured logging output.
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// TaskEngineConfig controls the worker pool and retry policy.
type TaskEngineConfig struct {
	Workers             int `yaml:"workers"`
	PollIntervalSeconds int `yaml:"poll_interval_seconds"`
	MaxAttempts         int `yaml:"max_attempts"`
	RetryBackoffSeconds int `yaml:"retry_backoff_seconds"`
}

// CollectorsConfig controls the metric collection loops. Intervals are in
// seconds; a collector listed in Disabled never runs. ErrorThreshold is the
// number of consecutive failures after which a collector disables itself
// until the agent restarts or the threshold is cleared via the API.
type CollectorsConfig struct {
	NetworkConfigIntervalSeconds int      `yaml:"network_config_interval_seconds"`
	NetworkUsageIntervalSeconds  int      `yaml:"network_usage_interval_seconds"`
	CPUIntervalSeconds           int      `yaml:"cpu_interval_seconds"`
	MemoryIntervalSeconds        int      `yaml:"memory_interval_seconds"`
	StorageIntervalSeconds       int      `yaml:"storage_interval_seconds"`
	DiskIOIntervalSeconds        int      `yaml:"disk_io_interval_seconds"`
	ARCIntervalSeconds           int      `yaml:"arc_interval_seconds"`
	PCIIntervalSeconds           int      `yaml:"pci_interval_seconds"`
	ZoneIntervalSeconds          int      `yaml:"zone_interval_seconds"`
	CommandTimeoutSeconds        int      `yaml:"command_timeout_seconds"`
	ErrorThreshold               int      `yaml:"error_threshold"`
	Disabled                     []string `yaml:"disabled,omitempty"`
}

// RetentionConfig controls how long time-series samples and finished tasks
// are kept, in days, and how often the sweeper runs. TasksDays zero keeps
// terminal tasks forever, for audit.
type RetentionConfig struct {
	NetworkUsageDays   int `yaml:"network_usage_days"`
	CPUDays            int `yaml:"cpu_days"`
	MemoryDays         int `yaml:"memory_days"`
	DiskIODays         int `yaml:"disk_io_days"`
	PoolIODays         int `yaml:"pool_io_days"`
	ARCDays            int `yaml:"arc_days"`
	TasksDays          int `yaml:"tasks_days"`
	SweepIntervalHours int `yaml:"sweep_interval_hours"`
}

// ConsoleConfig controls console and terminal session behavior.
type ConsoleConfig struct {
	SubscriberQueueDepth   int `yaml:"subscriber_queue_depth"`
	ReplayBufferBytes      int `yaml:"replay_buffer_bytes"`
	SessionBufferLines     int `yaml:"session_buffer_lines"`
	IdleTimeoutMinutes     int `yaml:"idle_timeout_minutes"`
	CleanupIntervalSeconds int `yaml:"cleanup_interval_seconds"`
}

// VNCConfig bounds the WebSocket port range handed to VNC proxies.
type VNCConfig struct {
	PortMin int `yaml:"port_min"`
	PortMax int `yaml:"port_max"`
}

// ProvisionConfig controls the provisioning pipeline.
type ProvisionConfig struct {
	ArtifactDir               string `yaml:"artifact_dir"`
	DatasetBase               string `yaml:"dataset_base"`
	SSHTimeoutSeconds         int    `yaml:"ssh_timeout_seconds"`
	SSHProbeIntervalSeconds   int    `yaml:"ssh_probe_interval_seconds"`
	SyncTimeoutSeconds        int    `yaml:"sync_timeout_seconds"`
	ProvisionerTimeoutSeconds int    `yaml:"provisioner_timeout_seconds"`
	RecipeStepTimeoutSeconds  int    `yaml:"recipe_step_timeout_seconds"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			BindAddress:            ":8080",
			ReadTimeoutSeconds:     30,
			ShutdownTimeoutSeconds: 15,
		},
		Database: DatabaseConfig{
			Path:          "/var/lib/zoneweaver/zoneweaver.db",
			BusyTimeoutMS: 5000,
		},
		Log: LogConfig{
			Level: "info",
			JSON:  false,
		},
		TaskEngine: TaskEngineConfig{
			Workers:             4,
			PollIntervalSeconds: 2,
			MaxAttempts:         3,
			RetryBackoffSeconds: 10,
		},
		Collectors: CollectorsConfig{
			NetworkConfigIntervalSeconds: 300,
			NetworkUsageIntervalSeconds:  30,
			CPUIntervalSeconds:           30,
			MemoryIntervalSeconds:        60,
			StorageIntervalSeconds:       300,
			DiskIOIntervalSeconds:        30,
			ARCIntervalSeconds:           60,
			PCIIntervalSeconds:           3600,
			ZoneIntervalSeconds:          60,
			CommandTimeoutSeconds:        30,
			ErrorThreshold:               10,
		},
		Retention: RetentionConfig{
			NetworkUsageDays:   7,
			CPUDays:            7,
			MemoryDays:         7,
			DiskIODays:         7,
			PoolIODays:         7,
			ARCDays:            7,
			TasksDays:          0,
			SweepIntervalHours: 6,
		},
		Console: ConsoleConfig{
			SubscriberQueueDepth:   64,
			ReplayBufferBytes:      8192,
			SessionBufferLines:     1000,
			IdleTimeoutMinutes:     30,
			CleanupIntervalSeconds: 60,
		},
		VNC: VNCConfig{
			PortMin: 5900,
			PortMax: 5999,
		},
		Provision: ProvisionConfig{
			ArtifactDir:               "/var/lib/zoneweaver/artifacts",
			DatasetBase:               "rpool/zones",
			SSHTimeoutSeconds:         300,
			SSHProbeIntervalSeconds:   5,
			SyncTimeoutSeconds:        600,
			ProvisionerTimeoutSeconds: 1800,
			RecipeStepTimeoutSeconds:  30,
		},
	}
}

// Load reads a YAML configuration file over the defaults. An empty path
// returns the defaults; a path that does not exist is an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}
	if cfg.Host.Name == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve hostname: %w", err)
		}
		cfg.Host.Name = hostname
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the agent cannot run with.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path must be set")
	}
	if c.TaskEngine.Workers < 1 {
		return fmt.Errorf("task_engine.workers must be at least 1")
	}
	if c.TaskEngine.MaxAttempts < 1 {
		return fmt.Errorf("task_engine.max_attempts must be at least 1")
	}
	if c.TaskEngine.PollIntervalSeconds < 1 {
		return fmt.Errorf("task_engine.poll_interval_seconds must be at least 1")
	}
	intervals := map[string]int{
		"collectors.network_config_interval_seconds": c.Collectors.NetworkConfigIntervalSeconds,
		"collectors.network_usage_interval_seconds":  c.Collectors.NetworkUsageIntervalSeconds,
		"collectors.cpu_interval_seconds":            c.Collectors.CPUIntervalSeconds,
		"collectors.memory_interval_seconds":         c.Collectors.MemoryIntervalSeconds,
		"collectors.storage_interval_seconds":        c.Collectors.StorageIntervalSeconds,
		"collectors.disk_io_interval_seconds":        c.Collectors.DiskIOIntervalSeconds,
		"collectors.arc_interval_seconds":            c.Collectors.ARCIntervalSeconds,
		"collectors.pci_interval_seconds":            c.Collectors.PCIIntervalSeconds,
		"collectors.zone_interval_seconds":           c.Collectors.ZoneIntervalSeconds,
	}
	for name, v := range intervals {
		if v < 1 {
			return fmt.Errorf("%s must be at least 1", name)
		}
	}
	if c.Collectors.ErrorThreshold < 1 {
		return fmt.Errorf("collectors.error_threshold must be at least 1")
	}
	retained := map[string]int{
		"retention.network_usage_days": c.Retention.NetworkUsageDays,
		"retention.cpu_days":           c.Retention.CPUDays,
		"retention.memory_days":        c.Retention.MemoryDays,
		"retention.disk_io_days":       c.Retention.DiskIODays,
		"retention.pool_io_days":       c.Retention.PoolIODays,
		"retention.arc_days":           c.Retention.ARCDays,
	}
	for name, v := range retained {
		if v < 1 {
			return fmt.Errorf("%s must be at least 1", name)
		}
	}
	if c.Retention.TasksDays < 0 {
		return fmt.Errorf("retention.tasks_days must not be negative")
	}
	if c.Console.SubscriberQueueDepth < 1 {
		return fmt.Errorf("console.subscriber_queue_depth must be at least 1")
	}
	if c.Console.ReplayBufferBytes < 1 {
		return fmt.Errorf("console.replay_buffer_bytes must be at least 1")
	}
	if c.VNC.PortMin < 1 || c.VNC.PortMax < c.VNC.PortMin {
		return fmt.Errorf("vnc port range %d-%d is invalid", c.VNC.PortMin, c.VNC.PortMax)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	return nil
}

// CollectorEnabled reports whether a collector name appears in the
// Disabled list.
func (c *CollectorsConfig) CollectorEnabled(name string) bool {
	for _, d := range c.Disabled {
		if d == name {
			return false
		}
	}
	return true
}

// CommandTimeout returns the host utility execution timeout.
func (c *CollectorsConfig) CommandTimeout() time.Duration {
	if c.CommandTimeoutSeconds < 1 {
		return 30 * time.Second
	}
	return time.Duration(c.CommandTimeoutSeconds) * time.Second
}
