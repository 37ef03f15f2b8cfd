/*
Package types defines the core data structures used throughout the agent.

This package contains all fundamental types that represent the agent's domain
model, including tasks, zones, console and terminal sessions, provisioning
profiles, recipes, and the metric rows produced by the host collectors. These
types are used by all other packages for state management, API payloads, and
orchestration logic.

# Architecture

The types package is the foundation of the agent's data model. It defines:

  - Task lifecycle (statuses, priorities, operations, metadata)
  - Zone identity and configuration documents
  - Interactive session records (console, terminal, VNC)
  - Provisioning artifacts (profiles, recipes, recipe steps)
  - Metric row shapes, one per collector table

All types are plain structs with JSON tags so that the same shape serves the
store, the task queue metadata column, and the HTTP API. Validation helpers
live next to the types they validate.

# Core Types

Task execution:

  - Task: one unit of queued work against a zone or the host
  - TaskStatus: pending, running, completed, failed, cancelled
  - TaskPriority: critical, high, normal, medium, low (ordered by Weight)
  - Operation: the task vocabulary; MutexOperation and AggregateOperation
    classify entries for deduplication and parent rollup

Zones:

  - Zone: current state of a zone as last observed on the host
  - ZoneStatus: zoneadm states plus "unknown" for unparseable output
  - ZoneConfiguration: the declarative document a zone is created from,
    including networks, provisioning settings, and credentials

Sessions:

  - ConsoleSession: a zlogin -C console attachment
  - TerminalSession: a host shell session
  - VNCSession: a VNC proxy endpoint for a running zone

Provisioning:

  - ProvisioningProfile: named artifact + recipe + credential bundle
  - Recipe and RecipeStep: expect/send console automation scripts

Metrics:

  - NetworkInterface, NetworkUsage, IPAddress, Route
  - CPUStat, MemoryStat, SwapArea
  - Disk, DiskIOStat, PoolIOStat, ARCStat, ZFSDataset, PCIDevice
  - HostInfo: per-host scan bookkeeping and collector health

Derived metric fields (deltas, rates, utilization percentages) are pointers;
nil marks a value that could not be computed for that sample and is persisted
as NULL rather than zero.

# Usage

Creating a task:

	task := &types.Task{
		ID:        uuid.New().String(),
		ZoneName:  "web01",
		Operation: types.OpStart,
		Priority:  types.PriorityHigh,
		Status:    types.TaskStatusPending,
		CreatedBy: "api",
		CreatedAt: time.Now().UTC(),
	}

Decoding operation metadata:

	var meta types.WaitSSHMetadata
	if err := types.DecodeMetadata(task.Metadata, &meta); err != nil {
		return err
	}

Resolving the address a provisioner should dial:

	ip := cfg.TargetIP()
	if ip == "" {
		return fmt.Errorf("configuration has no resolvable target address")
	}
	addr := net.JoinHostPort(ip, strconv.Itoa(cfg.SSHPort()))
*/
package types
