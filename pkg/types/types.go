package types

import (
	"time"
)

// HostScope is the zone_name used by tasks that target the host itself
// rather than a particular zone (VNIC, package, user and group operations).
const HostScope = "system"

// TaskStatus represents the lifecycle state of a task
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// Terminal reports whether the status is a terminal state
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

// TaskPriority orders runnable tasks. Higher weight dispatches first;
// creation time breaks ties within a level.
type TaskPriority string

const (
	PriorityCritical TaskPriority = "critical"
	PriorityHigh     TaskPriority = "high"
	PriorityNormal   TaskPriority = "normal"
	PriorityMedium   TaskPriority = "medium"
	PriorityLow      TaskPriority = "low"
)

// Weight maps a priority level to its numeric dispatch weight.
// Unknown levels sort with normal.
func (p TaskPriority) Weight() int {
	switch p {
	case PriorityCritical:
		return 100
	case PriorityHigh:
		return 80
	case PriorityNormal:
		return 60
	case PriorityMedium:
		return 40
	case PriorityLow:
		return 20
	}
	return 60
}

// PriorityFromWeight is the inverse of Weight, used when loading task rows.
func PriorityFromWeight(w int) TaskPriority {
	switch {
	case w >= 100:
		return PriorityCritical
	case w >= 80:
		return PriorityHigh
	case w >= 60:
		return PriorityNormal
	case w >= 40:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// ValidPriority reports whether p names a known priority level.
func ValidPriority(p TaskPriority) bool {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityNormal, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// Operation identifies the handler a task is bound to
type Operation string

const (
	OpStart                   Operation = "start"
	OpStop                    Operation = "stop"
	OpDelete                  Operation = "delete"
	OpZoneCreate              Operation = "zone_create"
	OpZoneModify              Operation = "zone_modify"
	OpZoneProvisioningExtract Operation = "zone_provisioning_extract"
	OpZoneSetup               Operation = "zone_setup"
	OpZoneWaitSSH             Operation = "zone_wait_ssh"
	OpZoneSync                Operation = "zone_sync"
	OpZoneSyncParent          Operation = "zone_sync_parent"
	OpZoneProvision           Operation = "zone_provision"
	OpZoneProvisionParent     Operation = "zone_provision_parent"
	OpZoneProvisionOrch       Operation = "zone_provision_orchestration"
	OpCreateVNIC              Operation = "create_vnic"
	OpDeleteVNIC              Operation = "delete_vnic"
	OpSetVNICProperties       Operation = "set_vnic_properties"
	OpPkgInstall              Operation = "pkg_install"
	OpPkgUninstall            Operation = "pkg_uninstall"
	OpUserCreate              Operation = "user_create"
	OpUserModify              Operation = "user_modify"
	OpUserDelete              Operation = "user_delete"
	OpUserSetPassword         Operation = "user_set_password"
	OpUserLock                Operation = "user_lock"
	OpUserUnlock              Operation = "user_unlock"
	OpGroupCreate             Operation = "group_create"
	OpGroupModify             Operation = "group_modify"
	OpGroupDelete             Operation = "group_delete"
	OpRoleCreate              Operation = "role_create"
	OpRoleModify              Operation = "role_modify"
	OpRoleDelete              Operation = "role_delete"
)

// mutexOperations are operations whose concurrent execution against the
// same zone would corrupt host state. A duplicate insert while one is
// pending or running returns the existing task instead of queueing another.
var mutexOperations = map[Operation]bool{
	OpStart:                   true,
	OpStop:                    true,
	OpDelete:                  true,
	OpZoneCreate:              true,
	OpZoneModify:              true,
	OpZoneProvisioningExtract: true,
	OpZoneSetup:               true,
	OpZoneSync:                true,
	OpZoneProvision:           true,
}

// MutexOperation reports whether op belongs to the per-zone mutex set.
func MutexOperation(op Operation) bool {
	return mutexOperations[op]
}

// MutexOperations returns the mutex set, for building queries.
func MutexOperations() []Operation {
	ops := make([]Operation, 0, len(mutexOperations))
	for op := range mutexOperations {
		ops = append(ops, op)
	}
	return ops
}

// aggregateOperations have no handler: they are created in status running
// and finalized from the aggregate of their children's terminal statuses.
var aggregateOperations = map[Operation]bool{
	OpZoneSyncParent:      true,
	OpZoneProvisionParent: true,
	OpZoneProvisionOrch:   true,
}

// AggregateOperation reports whether op is a parent/orchestration operation.
func AggregateOperation(op Operation) bool {
	return aggregateOperations[op]
}

// AggregateOperations returns the aggregate set, for building queries.
func AggregateOperations() []Operation {
	ops := make([]Operation, 0, len(aggregateOperations))
	for op := range aggregateOperations {
		ops = append(ops, op)
	}
	return ops
}

var knownOperations = map[Operation]bool{
	OpStart: true, OpStop: true, OpDelete: true,
	OpZoneCreate: true, OpZoneModify: true,
	OpZoneProvisioningExtract: true, OpZoneSetup: true, OpZoneWaitSSH: true,
	OpZoneSync: true, OpZoneSyncParent: true,
	OpZoneProvision: true, OpZoneProvisionParent: true, OpZoneProvisionOrch: true,
	OpCreateVNIC: true, OpDeleteVNIC: true, OpSetVNICProperties: true,
	OpPkgInstall: true, OpPkgUninstall: true,
	OpUserCreate: true, OpUserModify: true, OpUserDelete: true,
	OpUserSetPassword: true, OpUserLock: true, OpUserUnlock: true,
	OpGroupCreate: true, OpGroupModify: true, OpGroupDelete: true,
	OpRoleCreate: true, OpRoleModify: true, OpRoleDelete: true,
}

// KnownOperation reports whether op is part of the task vocabulary.
func KnownOperation(op Operation) bool {
	return knownOperations[op]
}

// Task is a unit of work queued against the host or a zone.
// Metadata is the operation-specific payload, serialized as JSON; it is
// validated once at insert time against the operation's metadata schema.
type Task struct {
	ID           string       `json:"id"`
	ZoneName     string       `json:"zone_name"`
	Operation    Operation    `json:"operation"`
	Priority     TaskPriority `json:"priority"`
	Status       TaskStatus   `json:"status"`
	DependsOn    string       `json:"depends_on,omitempty"`
	ParentTaskID string       `json:"parent_task_id,omitempty"`
	Metadata     string       `json:"metadata,omitempty"`
	CreatedBy    string       `json:"created_by"`
	ErrorMessage string       `json:"error_message,omitempty"`
	Attempts     int          `json:"attempts"`
	CreatedAt    time.Time    `json:"created_at"`
	StartedAt    *time.Time   `json:"started_at,omitempty"`
	CompletedAt  *time.Time   `json:"completed_at,omitempty"`
}

// ZoneStatus mirrors the last observed zoneadm state
type ZoneStatus string

const (
	ZoneStatusConfigured   ZoneStatus = "configured"
	ZoneStatusInstalled    ZoneStatus = "installed"
	ZoneStatusReady        ZoneStatus = "ready"
	ZoneStatusRunning      ZoneStatus = "running"
	ZoneStatusShuttingDown ZoneStatus = "shutting_down"
	ZoneStatusDown         ZoneStatus = "down"
	ZoneStatusIncomplete   ZoneStatus = "incomplete"
	ZoneStatusUnknown      ZoneStatus = "unknown"
)

// Zone is the agent's record of a zone on this host. Configuration is the
// opaque structured document that carries provisioning metadata; it is the
// source of truth for the provisioning orchestrator.
type Zone struct {
	Name           string     `json:"name"`
	ZoneID         string     `json:"zone_id"` // zoneadm UUID
	Host           string     `json:"host"`
	Brand          string     `json:"brand"`
	Status         ZoneStatus `json:"status"`
	Zonepath       string     `json:"zonepath,omitempty"`
	Configuration  string     `json:"configuration,omitempty"`
	IsOrphaned     bool       `json:"is_orphaned"`
	AutoDiscovered bool       `json:"auto_discovered"`
	LastSeen       time.Time  `json:"last_seen"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// SessionStatus is shared by console, terminal and VNC session records
type SessionStatus string

const (
	SessionConnecting SessionStatus = "connecting"
	SessionActive     SessionStatus = "active"
	SessionClosed     SessionStatus = "closed"
)

// ConsoleSession tracks a zlogin -C console PTY for a zone. At most one
// session per zone may be active. SessionBuffer persists the recent output
// tail across agent restarts.
type ConsoleSession struct {
	ID            string        `json:"id"`
	ZoneName      string        `json:"zone_name"`
	PID           int           `json:"pid,omitempty"`
	Status        SessionStatus `json:"status"`
	CreatedAt     time.Time     `json:"created_at"`
	LastAccessed  time.Time     `json:"last_accessed"`
	LastActivity  time.Time     `json:"last_activity"`
	SessionBuffer string        `json:"-"`
}

// TerminalSession tracks a host shell PTY. Unlike console sessions these
// are keyed only by id; several host terminals may be active at once.
type TerminalSession struct {
	ID            string        `json:"id"`
	Command       string        `json:"command"`
	PID           int           `json:"pid,omitempty"`
	Status        SessionStatus `json:"status"`
	CreatedAt     time.Time     `json:"created_at"`
	LastAccessed  time.Time     `json:"last_accessed"`
	SessionBuffer string        `json:"-"`
}

// VNCSession tracks a framebuffer proxy for a bhyve zone
type VNCSession struct {
	ID           string        `json:"id"`
	ZoneName     string        `json:"zone_name"`
	WSPort       int           `json:"ws_port"`
	PID          int           `json:"pid,omitempty"`
	Status       SessionStatus `json:"status"`
	CreatedAt    time.Time     `json:"created_at"`
	LastAccessed time.Time     `json:"last_accessed"`
}

// ProvisioningProfile is a named, reusable provisioning document with the
// same schema as ZoneConfiguration.Provisioning.
type ProvisioningProfile struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Document    string    `json:"document"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// RecipeStep is one console interaction: optionally wait for Expect to
// appear in the output, then type Send followed by a newline.
type RecipeStep struct {
	Expect         string `json:"expect,omitempty"`
	Send           string `json:"send"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

// Recipe is a named console automation script run via zlogin before SSH
// is available.
type Recipe struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Steps       []RecipeStep `json:"steps"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}
