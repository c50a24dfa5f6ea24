package domain

import "time"

// TaskSnapshot is the read-only view of a task the sync core needs.
// It is decoupled from the portal's persistence schema on purpose: the
// orchestrator never sees the full task record.
type TaskSnapshot struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	DueAt       *time.Time `json:"due_at,omitempty"`
	Status      string     `json:"status"`
	Priority    string     `json:"priority"`
	Link        string     `json:"link,omitempty"`
}

// Eligible reports whether the task can be mirrored into a calendar.
// Tasks without a due instant are never synced.
func (t TaskSnapshot) Eligible() bool {
	return t.DueAt != nil && !t.DueAt.IsZero()
}

// Assignee identifies one person a task event is created for. ID may be a
// canonical account id or a team-roster id; Email is used to resolve the
// canonical identity when it is not.
type Assignee struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Event is a snapshot of an external calendar event.
type Event struct {
	ID          string    `json:"id"`
	CalendarID  string    `json:"calendar_id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
}

// EventPayload is what the sync core asks the provider to write.
type EventPayload struct {
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
}

// Mapping links a (task, assignee) pair to the external event mirroring it.
// At most one mapping exists per pair; that invariant is what makes the
// orchestrator's upsert idempotent.
type Mapping struct {
	TaskID     string    `json:"task_id"`
	AssigneeID string    `json:"assignee_id"`
	EventID    string    `json:"event_id"`
	CalendarID string    `json:"calendar_id"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Credential is one live token record per canonical account id.
type Credential struct {
	AccountID    string    `json:"account_id"`
	AccessToken  string    `json:"-"`
	RefreshToken string    `json:"-"`
	Expiry       time.Time `json:"expiry"`
	Scope        string    `json:"scope,omitempty"`
}
