// Package taskengine executes queued tasks against the host.
//
// One dispatcher claims runnable tasks from the store in priority/FIFO
// order and hands them to a bounded worker pool. A task is runnable when it
// is pending, its dependency (if any) has completed, and no mutex-set task
// with the same zone and operation is already running; the claim itself is
// a single transactional pending-to-running transition, so two workers can
// never pick up the same row.
//
// Handlers signal failures as terminal or retryable (see Retryable).
// Retryable failures requeue the task with a growing backoff until the
// attempt budget is spent; terminal failures record the error and let the
// housekeeping pass cancel dependents transitively and settle aggregate
// parents. On shutdown, in-flight tasks keep their running status and are
// requeued by the boot-time recovery sweep.
package taskengine
