package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Makr91/zoneweaver-api-sub005/pkg/types"
)

const taskColumns = `id, zone_name, operation, priority, status, depends_on,
	parent_task_id, metadata, created_by, error_message, attempts,
	created_at, started_at, completed_at`

// scanTask reads one task row. Works for both *sql.Row and *sql.Rows.
func scanTask(row interface{ Scan(...interface{}) error }) (*types.Task, error) {
	var (
		t         types.Task
		weight    int
		dependsOn sql.NullString
		parentID  sql.NullString
		metadata  sql.NullString
		errMsg    sql.NullString
		started   sql.NullTime
		completed sql.NullTime
	)
	err := row.Scan(&t.ID, &t.ZoneName, &t.Operation, &weight, &t.Status,
		&dependsOn, &parentID, &metadata, &t.CreatedBy, &errMsg, &t.Attempts,
		&t.CreatedAt, &started, &completed)
	if err != nil {
		return nil, err
	}
	t.Priority = types.PriorityFromWeight(weight)
	t.DependsOn = dependsOn.String
	t.ParentTaskID = parentID.String
	t.Metadata = metadata.String
	t.ErrorMessage = errMsg.String
	t.CreatedAt = t.CreatedAt.UTC()
	t.StartedAt = timePtr(started)
	t.CompletedAt = timePtr(completed)
	return &t, nil
}

// validateTask rejects a task before anything is written.
func validateTask(t *types.Task) error {
	if !types.ValidZoneName(t.ZoneName) && t.ZoneName != types.HostScope {
		return fmt.Errorf("%w: invalid zone name %q", ErrValidation, t.ZoneName)
	}
	if !types.KnownOperation(t.Operation) {
		return fmt.Errorf("%w: unknown operation %q", ErrValidation, t.Operation)
	}
	if t.Priority == "" {
		t.Priority = types.PriorityNormal
	}
	if !types.ValidPriority(t.Priority) {
		return fmt.Errorf("%w: unknown priority %q", ErrValidation, t.Priority)
	}
	if t.Metadata != "" {
		if err := types.ValidateTaskMetadata(t.Operation, t.Metadata); err != nil {
			return fmt.Errorf("%w: %v", ErrValidation, err)
		}
	}
	return nil
}

// InsertTask queues one task. For mutex-set operations a task with the same
// (zone_name, operation) already pending or running is returned instead of
// inserting a duplicate; the second return reports that case. The task's
// dependency chain is walked inside the same transaction so a cycle can
// never become visible.
func (s *SQLStore) InsertTask(ctx context.Context, t *types.Task) (*types.Task, bool, error) {
	created, err := s.insertTasks(ctx, []*types.Task{t})
	if err != nil {
		return nil, false, err
	}
	return created[0].Task, created[0].existing, nil
}

// InsertTaskChain inserts a provisioning chain atomically. Aggregate parents
// are created in status running; everything else starts pending. If any
// mutex-set member collides with an existing pending/running task the whole
// chain is rejected with ErrConflict and nothing is inserted.
func (s *SQLStore) InsertTaskChain(ctx context.Context, tasks []*types.Task) ([]*types.Task, error) {
	if len(tasks) == 0 {
		return nil, fmt.Errorf("%w: empty task chain", ErrValidation)
	}
	created, err := s.insertTasks(ctx, tasks)
	if err != nil {
		return nil, err
	}
	out := make([]*types.Task, len(created))
	for i, c := range created {
		if c.existing {
			return nil, fmt.Errorf("%w: task %s for zone %s already queued as %s",
				ErrConflict, c.Operation, c.ZoneName, c.ID)
		}
		out[i] = c.Task
	}
	return out, nil
}

// insertedTask annotates an insert result with whether dedup returned an
// already-queued row instead of writing a new one.
type insertedTask struct {
	*types.Task
	existing bool
}

func (s *SQLStore) insertTasks(ctx context.Context, tasks []*types.Task) ([]insertedTask, error) {
	now := utc(time.Now())
	prepared := make([]*types.Task, 0, len(tasks))
	chainIDs := make(map[string]*types.Task, len(tasks))
	for _, t := range tasks {
		if err := validateTask(t); err != nil {
			return nil, err
		}
		c := *t
		if c.ID == "" {
			c.ID = uuid.New().String()
		}
		if c.CreatedAt.IsZero() {
			c.CreatedAt = now
		} else {
			c.CreatedAt = utc(c.CreatedAt)
		}
		if c.Status == "" {
			if types.AggregateOperation(c.Operation) {
				c.Status = types.TaskStatusRunning
				started := c.CreatedAt
				c.StartedAt = &started
			} else {
				c.Status = types.TaskStatusPending
			}
		}
		if _, dup := chainIDs[c.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate task id %s in chain", ErrValidation, c.ID)
		}
		chainIDs[c.ID] = &c
		prepared = append(prepared, &c)
	}

	results := make([]insertedTask, len(prepared))
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for i, t := range prepared {
			if err := s.checkDependencyGraph(ctx, tx, t, chainIDs); err != nil {
				return err
			}

			// Dedup applies only to tasks without a dependency: chained
			// members are serialized behind their predecessor, so two
			// zone_sync rows in one chain never run concurrently.
			if types.MutexOperation(t.Operation) && t.DependsOn == "" {
				existing, err := s.findActiveDuplicate(ctx, tx, t.ZoneName, t.Operation)
				if err != nil {
					return err
				}
				if existing != nil {
					results[i] = insertedTask{Task: existing, existing: true}
					if len(prepared) > 1 {
						// Chain inserts refuse dedup hits; surface through
						// InsertTaskChain after rollback.
						return errChainDuplicate{existing: existing}
					}
					return nil
				}
			}

			_, err := tx.ExecContext(ctx, `INSERT INTO tasks
				(id, zone_name, operation, priority, status, depends_on, parent_task_id,
				 metadata, created_by, error_message, attempts, created_at, started_at, completed_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				t.ID, t.ZoneName, string(t.Operation), t.Priority.Weight(), string(t.Status),
				nullStr(t.DependsOn), nullStr(t.ParentTaskID), nullStr(t.Metadata),
				t.CreatedBy, nullStr(t.ErrorMessage), t.Attempts,
				t.CreatedAt, nullTime(t.StartedAt), nullTime(t.CompletedAt))
			if err != nil {
				if isUniqueViolation(err) {
					return fmt.Errorf("%w: task %s already exists", ErrConflict, t.ID)
				}
				return fmt.Errorf("failed to insert task: %w", err)
			}
			results[i] = insertedTask{Task: t}
		}
		return nil
	})
	if err != nil {
		var dup errChainDuplicate
		if errors.As(err, &dup) {
			return []insertedTask{{Task: dup.existing, existing: true}}, nil
		}
		return nil, err
	}
	return results, nil
}

// errChainDuplicate aborts a chain transaction when dedup finds an already
// queued mutex-set task.
type errChainDuplicate struct {
	existing *types.Task
}

func (e errChainDuplicate) Error() string {
	return fmt.Sprintf("duplicate active task %s", e.existing.ID)
}

// findActiveDuplicate looks for a pending/running task with the same
// (zone_name, operation).
func (s *SQLStore) findActiveDuplicate(ctx context.Context, tx *sql.Tx, zone string, op types.Operation) (*types.Task, error) {
	row := tx.QueryRowContext(ctx, fmt.Sprintf(`SELECT %s FROM tasks
		WHERE zone_name = ? AND operation = ? AND status IN ('pending', 'running')
		ORDER BY created_at ASC LIMIT 1`, taskColumns), zone, string(op))
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to check duplicate task: %w", err)
	}
	return t, nil
}

// checkDependencyGraph walks depends_on links from t through both the
// pending chain and the stored tasks, rejecting unknown references and
// cycles. Walk length is bounded by the visited set.
func (s *SQLStore) checkDependencyGraph(ctx context.Context, tx *sql.Tx, t *types.Task, chain map[string]*types.Task) error {
	if t.DependsOn == "" {
		return nil
	}
	visited := map[string]bool{t.ID: true}
	next := t.DependsOn
	for next != "" {
		if visited[next] {
			return fmt.Errorf("%w: task %s dependency chain contains a cycle through %s",
				ErrValidation, t.ID, next)
		}
		visited[next] = true

		if dep, ok := chain[next]; ok {
			next = dep.DependsOn
			continue
		}
		var dependsOn sql.NullString
		err := tx.QueryRowContext(ctx, "SELECT depends_on FROM tasks WHERE id = ?", next).Scan(&dependsOn)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: task %s depends on unknown task %s", ErrValidation, t.ID, next)
		}
		if err != nil {
			return fmt.Errorf("failed to walk dependency chain: %w", err)
		}
		next = dependsOn.String
	}
	return nil
}

// GetTask loads one task by id.
func (s *SQLStore) GetTask(ctx context.Context, id string) (*types.Task, error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM tasks WHERE id = ?", taskColumns), id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: task %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load task %s: %w", id, err)
	}
	return t, nil
}

// ListTasks returns tasks matching the filter, newest first.
func (s *SQLStore) ListTasks(ctx context.Context, f TaskFilter) ([]*types.Task, error) {
	var (
		where []string
		args  []interface{}
	)
	if f.ZoneName != "" {
		where = append(where, "zone_name = ?")
		args = append(args, f.ZoneName)
	}
	if f.Operation != "" {
		where = append(where, "operation = ?")
		args = append(args, string(f.Operation))
	}
	if f.ParentID != "" {
		where = append(where, "parent_task_id = ?")
		args = append(args, f.ParentID)
	}
	if len(f.Statuses) > 0 {
		where = append(where, fmt.Sprintf("status IN (%s)", placeholders(len(f.Statuses))))
		for _, st := range f.Statuses {
			args = append(args, string(st))
		}
	}
	query := fmt.Sprintf("SELECT %s FROM tasks", taskColumns)
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, rowid DESC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*types.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// ListTaskChildren returns the direct children of an aggregate parent in
// creation order.
func (s *SQLStore) ListTaskChildren(ctx context.Context, parentID string) ([]*types.Task, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		"SELECT %s FROM tasks WHERE parent_task_id = ? ORDER BY created_at ASC, rowid ASC",
		taskColumns), parentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list children of %s: %w", parentID, err)
	}
	defer rows.Close()

	var tasks []*types.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// mutexOpList renders the mutex set for an IN clause.
func mutexOpList() string {
	ops := types.MutexOperations()
	quoted := make([]string, len(ops))
	for i, op := range ops {
		quoted[i] = "'" + string(op) + "'"
	}
	return strings.Join(quoted, ", ")
}

// ClaimNextTask atomically moves the best runnable task from pending to
// running and returns it. Returns (nil, nil) when nothing is runnable.
//
// Runnable means: pending, dependency (if any) completed, and no running
// task with the same (zone_name, operation) for mutex-set operations.
// Selection is by priority weight, then FIFO within a priority.
func (s *SQLStore) ClaimNextTask(ctx context.Context) (*types.Task, error) {
	var claimed *types.Task
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		claimed = nil
		query := fmt.Sprintf(`SELECT %s FROM tasks t
			WHERE t.status = 'pending'
			  AND (t.depends_on IS NULL OR EXISTS (
					SELECT 1 FROM tasks d WHERE d.id = t.depends_on AND d.status = 'completed'))
			  AND NOT (t.operation IN (%s) AND EXISTS (
					SELECT 1 FROM tasks r
					WHERE r.zone_name = t.zone_name AND r.operation = t.operation
					  AND r.status = 'running'))
			ORDER BY t.priority DESC, t.created_at ASC, t.rowid ASC
			LIMIT 1`, taskColumns, mutexOpList())

		t, err := scanTask(tx.QueryRowContext(ctx, query))
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to select runnable task: %w", err)
		}

		now := utc(time.Now())
		res, err := tx.ExecContext(ctx,
			"UPDATE tasks SET status = 'running', started_at = ? WHERE id = ? AND status = 'pending'",
			now, t.ID)
		if err != nil {
			return fmt.Errorf("failed to claim task %s: %w", t.ID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			// Raced with a status change; the next dispatch pass retries.
			return nil
		}
		t.Status = types.TaskStatusRunning
		t.StartedAt = &now
		claimed = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// updateTaskStatus applies a guarded status transition.
func (s *SQLStore) updateTaskStatus(ctx context.Context, id string, from, to types.TaskStatus, set string, args ...interface{}) error {
	query := fmt.Sprintf("UPDATE tasks SET status = ?%s WHERE id = ? AND status = ?", set)
	bound := append([]interface{}{string(to)}, args...)
	bound = append(bound, id, string(from))

	return s.retry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, query, bound...)
		if err != nil {
			return fmt.Errorf("failed to update task %s: %w", id, err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			cur, err := s.GetTask(ctx, id)
			if err != nil {
				return err
			}
			return fmt.Errorf("%w: task %s is %s, expected %s", ErrConflict, id, cur.Status, from)
		}
		return nil
	})
}

// MarkTaskCompleted finishes a running task.
func (s *SQLStore) MarkTaskCompleted(ctx context.Context, id string) error {
	return s.updateTaskStatus(ctx, id, types.TaskStatusRunning, types.TaskStatusCompleted,
		", completed_at = ?, error_message = NULL", utc(time.Now()))
}

// MarkTaskFailed finishes a running task with a terminal error.
func (s *SQLStore) MarkTaskFailed(ctx context.Context, id, errorMessage string) error {
	return s.updateTaskStatus(ctx, id, types.TaskStatusRunning, types.TaskStatusFailed,
		", completed_at = ?, error_message = ?", utc(time.Now()), errorMessage)
}

// RequeueTask returns a running task to pending for a retry, bumping the
// attempt counter and recording the error that caused it.
func (s *SQLStore) RequeueTask(ctx context.Context, id, errorMessage string) error {
	return s.updateTaskStatus(ctx, id, types.TaskStatusRunning, types.TaskStatusPending,
		", started_at = NULL, attempts = attempts + 1, error_message = ?", errorMessage)
}

// CancelTask cancels a pending task and returns the updated row. Running
// tasks cannot be cancelled here; the engine owns cooperative cancellation.
func (s *SQLStore) CancelTask(ctx context.Context, id string) (*types.Task, error) {
	err := s.updateTaskStatus(ctx, id, types.TaskStatusPending, types.TaskStatusCancelled,
		", completed_at = ?, error_message = ?", utc(time.Now()), "cancelled by request")
	if err != nil {
		return nil, err
	}
	return s.GetTask(ctx, id)
}

// CascadeCancellations cancels every pending task whose dependency has
// failed or been cancelled, repeating until the transitive closure settles.
// Returns the number of tasks cancelled.
func (s *SQLStore) CascadeCancellations(ctx context.Context) (int64, error) {
	var total int64
	for {
		var n int64
		err := s.retry(ctx, func() error {
			res, err := s.db.ExecContext(ctx, `UPDATE tasks SET
					status = 'cancelled',
					completed_at = ?,
					error_message = 'dependency ' || depends_on || ' did not complete'
				WHERE status = 'pending'
				  AND depends_on IN (SELECT id FROM tasks WHERE status IN ('failed', 'cancelled'))`,
				utc(time.Now()))
			if err != nil {
				return fmt.Errorf("failed to cascade cancellations: %w", err)
			}
			n, _ = res.RowsAffected()
			return nil
		})
		if err != nil {
			return total, err
		}
		total += n
		if n == 0 {
			return total, nil
		}
	}
}

// FinalizeAggregateParents settles running aggregate parents whose children
// have all reached a terminal status: failed if any child failed, cancelled
// if any child was cancelled, completed otherwise. Multi-level hierarchies
// settle over successive calls. Returns the number of parents finalized.
func (s *SQLStore) FinalizeAggregateParents(ctx context.Context) (int64, error) {
	ops := types.AggregateOperations()
	quoted := make([]string, len(ops))
	for i, op := range ops {
		quoted[i] = "'" + string(op) + "'"
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT p.id,
			COUNT(c.id),
			COALESCE(SUM(c.status IN ('pending', 'running')), 0),
			COALESCE(SUM(c.status = 'failed'), 0),
			COALESCE(SUM(c.status = 'cancelled'), 0)
		FROM tasks p LEFT JOIN tasks c ON c.parent_task_id = p.id
		WHERE p.status = 'running' AND p.operation IN (%s)
		GROUP BY p.id`, strings.Join(quoted, ", ")))
	if err != nil {
		return 0, fmt.Errorf("failed to inspect aggregate parents: %w", err)
	}
	defer rows.Close()

	type verdict struct {
		id       string
		status   types.TaskStatus
		failed   int64
		children int64
	}
	var verdicts []verdict
	for rows.Next() {
		var (
			id                                 string
			children, active, failed, cancels int64
		)
		if err := rows.Scan(&id, &children, &active, &failed, &cancels); err != nil {
			return 0, fmt.Errorf("failed to scan aggregate parent: %w", err)
		}
		if children == 0 || active > 0 {
			continue
		}
		v := verdict{id: id, status: types.TaskStatusCompleted, failed: failed, children: children}
		switch {
		case failed > 0:
			v.status = types.TaskStatusFailed
		case cancels > 0:
			v.status = types.TaskStatusCancelled
		}
		verdicts = append(verdicts, v)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	var finalized int64
	for _, v := range verdicts {
		var msg interface{}
		if v.status == types.TaskStatusFailed {
			msg = fmt.Sprintf("%d of %d child tasks failed", v.failed, v.children)
		} else if v.status == types.TaskStatusCancelled {
			msg = "child tasks were cancelled"
		}
		err := s.retry(ctx, func() error {
			res, err := s.db.ExecContext(ctx,
				"UPDATE tasks SET status = ?, completed_at = ?, error_message = ? WHERE id = ? AND status = 'running'",
				string(v.status), utc(time.Now()), msg, v.id)
			if err != nil {
				return fmt.Errorf("failed to finalize parent %s: %w", v.id, err)
			}
			if n, _ := res.RowsAffected(); n > 0 {
				finalized++
			}
			return nil
		})
		if err != nil {
			return finalized, err
		}
	}
	return finalized, nil
}

// ResetRunningTasks returns tasks left running by a previous process to
// pending. Aggregate parents keep running; the finalizer settles them.
// Called once at startup, before workers exist.
func (s *SQLStore) ResetRunningTasks(ctx context.Context) (int64, error) {
	ops := types.AggregateOperations()
	quoted := make([]string, len(ops))
	for i, op := range ops {
		quoted[i] = "'" + string(op) + "'"
	}
	var n int64
	err := s.retry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, fmt.Sprintf(
			`UPDATE tasks SET status = 'pending', started_at = NULL
			 WHERE status = 'running' AND operation NOT IN (%s)`, strings.Join(quoted, ", ")))
		if err != nil {
			return fmt.Errorf("failed to reset running tasks: %w", err)
		}
		n, _ = res.RowsAffected()
		return nil
	})
	return n, err
}

// PruneTasks deletes terminal tasks that completed before the cutoff.
func (s *SQLStore) PruneTasks(ctx context.Context, olderThan time.Time) (int64, error) {
	var n int64
	err := s.retry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM tasks
			WHERE status IN ('completed', 'failed', 'cancelled') AND completed_at < ?`,
			utc(olderThan))
		if err != nil {
			return fmt.Errorf("failed to prune tasks: %w", err)
		}
		n, _ = res.RowsAffected()
		return nil
	})
	return n, err
}

// CountTasksByStatus reports queue composition for /stats and telemetry.
func (s *SQLStore) CountTasksByStatus(ctx context.Context) (map[types.TaskStatus]int64, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM tasks GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("failed to count tasks: %w", err)
	}
	defer rows.Close()

	counts := make(map[types.TaskStatus]int64)
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan task count: %w", err)
		}
		counts[types.TaskStatus(status)] = n
	}
	return counts, rows.Err()
}
