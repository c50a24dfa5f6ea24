// Package provider is the thin capability surface over the external
// calendar. Each client is scoped to one account's primary calendar.
package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/atelierhq/task-calendar-sync/internal/credentials"
	"github.com/atelierhq/task-calendar-sync/internal/domain"
)

// ErrNotFound reports that the remote event no longer exists. Callers treat
// it as "already consistent" on delete and as "recreate" on update; it is
// never surfaced as a failure.
var ErrNotFound = errors.New("event not found")

type NotFoundError struct {
	EventID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("event %q not found", e.EventID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// CallError wraps any other provider failure: network errors, 5xx, 429.
// Safe to retry later.
type CallError struct {
	Op  string
	Err error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("calendar %s: %v", e.Op, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

// Client exposes exactly the four event operations the sync core needs.
// Get exists for the self-test harness; the orchestrator's normal path never
// reads events back.
type Client interface {
	Create(ctx context.Context, payload domain.EventPayload) (string, error)
	Update(ctx context.Context, eventID string, payload domain.EventPayload) error
	Delete(ctx context.Context, eventID string) error
	Get(ctx context.Context, eventID string) (domain.Event, error)
}

// Factory builds a Client bound to one account's credential.
type Factory interface {
	ForAccount(ctx context.Context, handle credentials.Handle) (Client, error)
}
