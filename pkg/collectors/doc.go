// Package collectors samples host state on fixed intervals and writes the
// results to the store: datalink configuration and usage counters, IP
// addresses and routes, per-core CPU ticks, memory pages, swap areas, disk
// inventory and I/O counters, pool I/O, ZFS datasets, ARC counters and PCI
// inventory.
//
// Each collector runs in its own goroutine. Time-series tables get bulk
// inserts with derived deltas and rates computed against the previous
// in-memory sample; current-state tables are replaced wholesale on every
// cycle. A collector that fails enough cycles in a row disables itself and
// records the failure on the host record, where operators can see it.
package collectors
