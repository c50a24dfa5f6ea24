package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/atelierhq/task-calendar-sync/internal/domain"
)

// ErrNotFound is returned when no row exists for the requested key.
var ErrNotFound = errors.New("store: not found")

// DefaultCalendarID is the provider's primary calendar, used when a mapping
// is written without an explicit calendar.
const DefaultCalendarID = "primary"

// GetMapping returns the mapping for one (task, assignee) pair.
func (s *Store) GetMapping(ctx context.Context, taskID, assigneeID string) (domain.Mapping, error) {
	var m domain.Mapping
	var updatedAt int64
	err := s.db.QueryRowContext(ctx, `
SELECT task_id, assignee_id, event_id, calendar_id, updated_at
FROM mappings WHERE task_id = ? AND assignee_id = ?`,
		taskID, assigneeID,
	).Scan(&m.TaskID, &m.AssigneeID, &m.EventID, &m.CalendarID, &updatedAt)
	if err == sql.ErrNoRows {
		return domain.Mapping{}, ErrNotFound
	}
	if err != nil {
		return domain.Mapping{}, fmt.Errorf("get mapping: %w", err)
	}
	m.UpdatedAt = fromMillis(updatedAt)
	return m, nil
}

// PutMapping inserts or replaces the mapping for a (task, assignee) pair.
// Last write wins; the composite primary key guarantees at most one row per
// pair, which is what makes the orchestrator's sync idempotent.
func (s *Store) PutMapping(ctx context.Context, taskID, assigneeID, eventID, calendarID string) error {
	if calendarID == "" {
		calendarID = DefaultCalendarID
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO mappings (task_id, assignee_id, event_id, calendar_id, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (task_id, assignee_id) DO UPDATE SET
    event_id = excluded.event_id,
    calendar_id = excluded.calendar_id,
    updated_at = excluded.updated_at`,
		taskID, assigneeID, eventID, calendarID, toMillis(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("put mapping: %w", err)
	}
	return nil
}

// RemoveMapping deletes the mapping for a (task, assignee) pair. Removing a
// missing row is not an error.
func (s *Store) RemoveMapping(ctx context.Context, taskID, assigneeID string) error {
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM mappings WHERE task_id = ? AND assignee_id = ?",
		taskID, assigneeID,
	); err != nil {
		return fmt.Errorf("remove mapping: %w", err)
	}
	return nil
}

// MappingsForTask lists every mapping for a task, used by the deletion path
// to fan out over assignees that still have remote events.
func (s *Store) MappingsForTask(ctx context.Context, taskID string) ([]domain.Mapping, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT task_id, assignee_id, event_id, calendar_id, updated_at
FROM mappings WHERE task_id = ? ORDER BY assignee_id`,
		taskID,
	)
	if err != nil {
		return nil, fmt.Errorf("list mappings: %w", err)
	}
	defer rows.Close()

	var out []domain.Mapping
	for rows.Next() {
		var m domain.Mapping
		var updatedAt int64
		if err := rows.Scan(&m.TaskID, &m.AssigneeID, &m.EventID, &m.CalendarID, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan mapping: %w", err)
		}
		m.UpdatedAt = fromMillis(updatedAt)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list mappings: %w", err)
	}
	return out, nil
}
