package syncer

import (
	"fmt"
	"strings"
	"time"

	"github.com/atelierhq/task-calendar-sync/internal/domain"
	"github.com/atelierhq/task-calendar-sync/internal/schedule"
)

// buildPayload renders the calendar event for an eligible task: the task
// title, the description plus a human-readable footer, and the event window
// around the due instant. The payload is identical for every assignee.
func buildPayload(task domain.TaskSnapshot, duration time.Duration) domain.EventPayload {
	start, end := schedule.EventWindow(task.DueAt.UTC(), duration)

	var b strings.Builder
	if task.Description != "" {
		b.WriteString(task.Description)
		b.WriteString("\n\n")
	}
	b.WriteString(fmt.Sprintf("Status: %s\n", task.Status))
	b.WriteString(fmt.Sprintf("Priority: %s\n", task.Priority))
	if task.Link != "" {
		b.WriteString(fmt.Sprintf("Link: %s\n", task.Link))
	}

	return domain.EventPayload{
		Title:       task.Title,
		Description: b.String(),
		Start:       start,
		End:         end,
	}
}
