// Package syncer mirrors a task's scheduling state into the external
// calendar, one event per assignee, without creating duplicates and without
// letting one assignee's failure block the others.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/atelierhq/task-calendar-sync/internal/credentials"
	"github.com/atelierhq/task-calendar-sync/internal/domain"
	"github.com/atelierhq/task-calendar-sync/internal/gate"
	"github.com/atelierhq/task-calendar-sync/internal/provider"
	"github.com/atelierhq/task-calendar-sync/internal/schedule"
	"github.com/atelierhq/task-calendar-sync/internal/store"
)

// TaskSource is the narrow contract to the surrounding task-management
// system: a read-only snapshot and the current assignee list. The sync core
// never sees the full task schema.
type TaskSource interface {
	Snapshot(ctx context.Context, taskID string) (domain.TaskSnapshot, error)
	Assignees(ctx context.Context, taskID string) ([]domain.Assignee, error)
}

// MappingStore persists (task, assignee) → external event links.
type MappingStore interface {
	GetMapping(ctx context.Context, taskID, assigneeID string) (domain.Mapping, error)
	PutMapping(ctx context.Context, taskID, assigneeID, eventID, calendarID string) error
	RemoveMapping(ctx context.Context, taskID, assigneeID string) error
	MappingsForTask(ctx context.Context, taskID string) ([]domain.Mapping, error)
}

// CredentialResolver maps a person identifier to a usable credential handle.
type CredentialResolver interface {
	Resolve(ctx context.Context, personID string) (credentials.Handle, error)
}

// Orchestrator drives the sync state machine.
type Orchestrator struct {
	source   TaskSource
	gate     gate.Gate
	resolver CredentialResolver
	clients  provider.Factory
	store    MappingStore
	log      *slog.Logger
	duration time.Duration

	keys keyedMutex
}

type Options struct {
	Source   TaskSource
	Gate     gate.Gate
	Resolver CredentialResolver
	Clients  provider.Factory
	Store    MappingStore
	Logger   *slog.Logger

	// EventDuration is the fixed event window length; zero means
	// schedule.DefaultEventDuration.
	EventDuration time.Duration
}

func New(opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	g := opts.Gate
	if g == nil {
		g = gate.NewSwitch()
	}
	return &Orchestrator{
		source:   opts.Source,
		gate:     g,
		resolver: opts.Resolver,
		clients:  opts.Clients,
		store:    opts.Store,
		log:      logger,
		duration: opts.EventDuration,
	}
}

// SyncTask brings the calendar state for a task in line with its current
// snapshot and assignee set. One result per assignee; assignee branches run
// concurrently and fail independently. The returned error covers only
// whole-task problems (unknown task, malformed scheduling data); it is
// still best-effort for the caller, which logs it and never rolls back the
// triggering mutation.
func (o *Orchestrator) SyncTask(ctx context.Context, taskID string) ([]Result, error) {
	assignees, err := o.source.Assignees(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("list assignees for %s: %w", taskID, err)
	}

	// Kill switch short-circuits before any snapshot, mapping, or provider
	// work.
	if !o.gate.Enabled() {
		results := make([]Result, len(assignees))
		for i, a := range assignees {
			results[i] = skippedResult(a.ID, SkipDisabled)
		}
		return results, nil
	}

	task, err := o.source.Snapshot(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("snapshot task %s: %w", taskID, err)
	}

	if !task.Eligible() || len(assignees) == 0 {
		// A task that lost its due date sheds its events; stale mappings
		// would otherwise leave orphaned entries on calendars.
		o.removeStale(ctx, taskID)
		results := make([]Result, len(assignees))
		for i, a := range assignees {
			results[i] = skippedResult(a.ID, SkipNotEligible)
		}
		return results, nil
	}

	payload := buildPayload(task, o.duration)

	results := make([]Result, len(assignees))
	var wg sync.WaitGroup
	for i, assignee := range assignees {
		wg.Add(1)
		go func(i int, assignee domain.Assignee) {
			defer wg.Done()
			results[i] = o.syncAssignee(ctx, taskID, assignee, payload)
		}(i, assignee)
	}
	wg.Wait()

	for _, r := range results {
		if r.Status == StatusFailed {
			o.log.Warn("assignee sync failed",
				"task_id", taskID, "assignee_id", r.AssigneeID, "error", r.Err)
		}
	}
	return results, nil
}

func (o *Orchestrator) syncAssignee(ctx context.Context, taskID string, assignee domain.Assignee, payload domain.EventPayload) Result {
	unlock := o.keys.lock(taskID + "\x00" + assignee.ID)
	defer unlock()

	handle, err := o.resolver.Resolve(ctx, assignee.ID)
	if err != nil {
		return failedResult(assignee.ID, err)
	}
	client, err := o.clients.ForAccount(ctx, handle)
	if err != nil {
		return failedResult(assignee.ID, err)
	}

	mapping, err := o.store.GetMapping(ctx, taskID, assignee.ID)
	switch {
	case err == nil:
		updateErr := client.Update(ctx, mapping.EventID, payload)
		if updateErr == nil {
			// Resync in place; refresh the last-synced timestamp.
			if putErr := o.store.PutMapping(ctx, taskID, assignee.ID, mapping.EventID, mapping.CalendarID); putErr != nil {
				return failedResult(assignee.ID, putErr)
			}
			return okResult(assignee.ID, mapping.EventID)
		}
		if !errors.Is(updateErr, provider.ErrNotFound) {
			return failedResult(assignee.ID, updateErr)
		}
		// Remote event vanished outside the system: fall through to
		// creation and replace the mapping.
	case !errors.Is(err, store.ErrNotFound):
		return failedResult(assignee.ID, err)
	}

	eventID, err := client.Create(ctx, payload)
	if err != nil {
		return failedResult(assignee.ID, err)
	}
	if err := o.store.PutMapping(ctx, taskID, assignee.ID, eventID, ""); err != nil {
		return failedResult(assignee.ID, err)
	}
	return okResult(assignee.ID, eventID)
}

// UnsyncAssignment removes the calendar event for one (task, assignee)
// pair. A missing mapping is already-consistent success. The mapping row is
// removed even when the remote delete fails with something other than
// not-found: retrying a dead event forever causes more harm than a stray
// calendar entry, so availability wins over strict consistency here.
func (o *Orchestrator) UnsyncAssignment(ctx context.Context, taskID, assigneeID string) (bool, error) {
	// Disabled gate is a system-wide no-op for deletions too: neither the
	// provider nor the mapping table is touched.
	if !o.gate.Enabled() {
		return false, nil
	}

	unlock := o.keys.lock(taskID + "\x00" + assigneeID)
	defer unlock()

	mapping, err := o.store.GetMapping(ctx, taskID, assigneeID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if delErr := o.deleteRemote(ctx, assigneeID, mapping); delErr != nil {
		o.log.Warn("remote event delete failed; removing mapping anyway",
			"task_id", taskID, "assignee_id", assigneeID,
			"event_id", mapping.EventID, "error", delErr)
	}

	if err := o.store.RemoveMapping(ctx, taskID, assigneeID); err != nil {
		return false, err
	}
	return true, nil
}

func (o *Orchestrator) deleteRemote(ctx context.Context, assigneeID string, mapping domain.Mapping) error {
	handle, err := o.resolver.Resolve(ctx, assigneeID)
	if err != nil {
		return err
	}
	client, err := o.clients.ForAccount(ctx, handle)
	if err != nil {
		return err
	}
	err = client.Delete(ctx, mapping.EventID)
	if err != nil && !errors.Is(err, provider.ErrNotFound) {
		return err
	}
	return nil
}

// removeStale drops every mapping a task still holds. Used when the task
// stops being calendar-eligible.
func (o *Orchestrator) removeStale(ctx context.Context, taskID string) {
	mappings, err := o.store.MappingsForTask(ctx, taskID)
	if err != nil {
		o.log.Warn("list mappings for stale cleanup failed", "task_id", taskID, "error", err)
		return
	}
	for _, m := range mappings {
		if _, err := o.UnsyncAssignment(ctx, taskID, m.AssigneeID); err != nil {
			o.log.Warn("stale mapping cleanup failed",
				"task_id", taskID, "assignee_id", m.AssigneeID, "error", err)
		}
	}
}

// Hooks below are the entry points for the surrounding CRUD layer. They run
// synchronously within the mutation's request path and are best-effort:
// outcomes are logged, never returned, so a sync problem can never fail or
// roll back the task mutation that triggered it.

func (o *Orchestrator) OnTaskChanged(ctx context.Context, taskID string) {
	results, err := o.SyncTask(ctx, taskID)
	o.logOutcome("task changed", taskID, results, err)
}

func (o *Orchestrator) OnTaskDeleted(ctx context.Context, taskID string) {
	mappings, err := o.store.MappingsForTask(ctx, taskID)
	if err != nil {
		o.log.Error("task delete sync failed", "task_id", taskID, "error", err)
		return
	}
	for _, m := range mappings {
		if _, err := o.UnsyncAssignment(ctx, taskID, m.AssigneeID); err != nil {
			o.log.Error("task delete unsync failed",
				"task_id", taskID, "assignee_id", m.AssigneeID, "error", err)
		}
	}
}

func (o *Orchestrator) OnAssigneeAdded(ctx context.Context, taskID, assigneeID string) {
	// Resyncing the whole task is idempotent; existing assignees get an
	// update, the new one gets a create.
	results, err := o.SyncTask(ctx, taskID)
	for _, r := range results {
		if r.AssigneeID == assigneeID && r.Status == StatusFailed {
			o.log.Warn("new assignee sync failed",
				"task_id", taskID, "assignee_id", assigneeID, "error", r.Err)
		}
	}
	o.logOutcome("assignee added", taskID, results, err)
}

func (o *Orchestrator) OnAssigneeRemoved(ctx context.Context, taskID, assigneeID string) {
	if _, err := o.UnsyncAssignment(ctx, taskID, assigneeID); err != nil {
		o.log.Error("assignee unsync failed",
			"task_id", taskID, "assignee_id", assigneeID, "error", err)
	}
}

// IsEnabled reports the current gate state.
func (o *Orchestrator) IsEnabled() bool { return o.gate.Enabled() }

// SetEnabled toggles the process-wide sync gate.
func (o *Orchestrator) SetEnabled(enabled bool) { o.gate.SetEnabled(enabled) }

// EventDuration returns the configured event window length.
func (o *Orchestrator) EventDuration() time.Duration {
	if o.duration <= 0 {
		return schedule.DefaultEventDuration
	}
	return o.duration
}

func (o *Orchestrator) logOutcome(trigger, taskID string, results []Result, err error) {
	if err != nil {
		o.log.Error("sync failed", "trigger", trigger, "task_id", taskID, "error", err)
		return
	}
	var ok, skipped, failed int
	for _, r := range results {
		switch r.Status {
		case StatusOK:
			ok++
		case StatusSkipped:
			skipped++
		case StatusFailed:
			failed++
		}
	}
	o.log.Info("sync finished", "trigger", trigger, "task_id", taskID,
		"ok", ok, "skipped", skipped, "failed", failed)
}
