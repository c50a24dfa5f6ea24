package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/atelierhq/task-calendar-sync/internal/domain"
)

// UpsertTask replaces the cached snapshot and assignee roster for one task.
// The portal pushes task state here before triggering a sync; the cache is
// what makes the sync-task endpoint self-contained.
func (s *Store) UpsertTask(ctx context.Context, task domain.TaskSnapshot, assignees []domain.Assignee) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("upsert task: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var dueAt sql.NullInt64
	if task.DueAt != nil {
		dueAt = sql.NullInt64{Int64: toMillis(*task.DueAt), Valid: true}
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO tasks (task_id, title, description, due_at, status, priority, link, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (task_id) DO UPDATE SET
    title = excluded.title,
    description = excluded.description,
    due_at = excluded.due_at,
    status = excluded.status,
    priority = excluded.priority,
    link = excluded.link,
    updated_at = excluded.updated_at`,
		task.ID, task.Title, task.Description, dueAt, task.Status, task.Priority, task.Link,
		toMillis(time.Now()),
	); err != nil {
		return fmt.Errorf("upsert task: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM task_assignees WHERE task_id = ?", task.ID); err != nil {
		return fmt.Errorf("replace assignees: %w", err)
	}
	for _, a := range assignees {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO task_assignees (task_id, assignee_id, email) VALUES (?, ?, ?)",
			task.ID, a.ID, a.Email,
		); err != nil {
			return fmt.Errorf("insert assignee: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("upsert task: %w", err)
	}
	return nil
}

// DeleteTask drops the cached snapshot and roster. Mappings are left to the
// orchestrator's deletion path, which needs them to find the remote events.
func (s *Store) DeleteTask(ctx context.Context, taskID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM task_assignees WHERE task_id = ?", taskID); err != nil {
		return fmt.Errorf("delete assignees: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM tasks WHERE task_id = ?", taskID); err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return tx.Commit()
}

// Snapshot returns the cached task state. Missing tasks yield ErrNotFound.
func (s *Store) Snapshot(ctx context.Context, taskID string) (domain.TaskSnapshot, error) {
	var task domain.TaskSnapshot
	var dueAt sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
SELECT task_id, title, description, due_at, status, priority, link
FROM tasks WHERE task_id = ?`,
		taskID,
	).Scan(&task.ID, &task.Title, &task.Description, &dueAt, &task.Status, &task.Priority, &task.Link)
	if err == sql.ErrNoRows {
		return domain.TaskSnapshot{}, fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}
	if err != nil {
		return domain.TaskSnapshot{}, fmt.Errorf("get task: %w", err)
	}
	if dueAt.Valid {
		due := fromMillis(dueAt.Int64)
		task.DueAt = &due
	}
	return task, nil
}

// Assignees lists the cached roster for a task. A task with no roster rows
// returns an empty slice, which the orchestrator treats as nothing to sync.
func (s *Store) Assignees(ctx context.Context, taskID string) ([]domain.Assignee, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT assignee_id, email FROM task_assignees WHERE task_id = ? ORDER BY assignee_id",
		taskID,
	)
	if err != nil {
		return nil, fmt.Errorf("list assignees: %w", err)
	}
	defer rows.Close()

	var out []domain.Assignee
	for rows.Next() {
		var a domain.Assignee
		if err := rows.Scan(&a.ID, &a.Email); err != nil {
			return nil, fmt.Errorf("scan assignee: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list assignees: %w", err)
	}
	return out, nil
}
