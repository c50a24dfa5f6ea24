// Package selftest exercises the sync pipeline end-to-end against a
// throwaway task: create, idempotent resync, and teardown. It consumes the
// orchestrator exactly the way the portal's CRUD layer does and is not part
// of the core contract.
package selftest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/atelierhq/task-calendar-sync/internal/domain"
	"github.com/atelierhq/task-calendar-sync/internal/gate"
	"github.com/atelierhq/task-calendar-sync/internal/provider"
	"github.com/atelierhq/task-calendar-sync/internal/syncer"
)

// Deps are the live collaborators the harness borrows from the running
// application. The harness builds its own orchestrator around them so the
// throwaway task never touches the portal's task source.
type Deps struct {
	Gate     gate.Gate
	Resolver syncer.CredentialResolver
	Clients  provider.Factory
	Store    syncer.MappingStore
	Logger   *slog.Logger

	// AccountID is the canonical account the throwaway events are created
	// for; it must have live credentials.
	AccountID string
}

type Step struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

type Report struct {
	TaskID string `json:"task_id"`
	Steps  []Step `json:"steps"`
}

func (r Report) Passed() bool {
	for _, s := range r.Steps {
		if !s.OK {
			return false
		}
	}
	return len(r.Steps) > 0
}

// throwawaySource serves exactly one synthetic task.
type throwawaySource struct {
	task     domain.TaskSnapshot
	assignee domain.Assignee
}

func (s *throwawaySource) Snapshot(_ context.Context, taskID string) (domain.TaskSnapshot, error) {
	if taskID != s.task.ID {
		return domain.TaskSnapshot{}, fmt.Errorf("unknown task %s", taskID)
	}
	return s.task, nil
}

func (s *throwawaySource) Assignees(_ context.Context, taskID string) ([]domain.Assignee, error) {
	if taskID != s.task.ID {
		return nil, fmt.Errorf("unknown task %s", taskID)
	}
	return []domain.Assignee{s.assignee}, nil
}

// Run drives the full create → resync → delete cycle and reports each step.
// It stops at the first failed step; later steps are not attempted.
func Run(ctx context.Context, deps Deps) Report {
	due := time.Now().Add(time.Hour).Truncate(time.Minute).UTC()
	source := &throwawaySource{
		task: domain.TaskSnapshot{
			ID:          "selftest-" + uuid.NewString(),
			Title:       "Calendar sync self-test",
			Description: "Safe to delete; created by the sync self-test.",
			DueAt:       &due,
			Status:      "selftest",
			Priority:    "low",
		},
		assignee: domain.Assignee{ID: deps.AccountID},
	}
	orch := syncer.New(syncer.Options{
		Source:   source,
		Gate:     deps.Gate,
		Resolver: deps.Resolver,
		Clients:  deps.Clients,
		Store:    deps.Store,
		Logger:   deps.Logger,
	})

	report := Report{TaskID: source.task.ID}
	fail := func(name string, err error) Report {
		report.Steps = append(report.Steps, Step{Name: name, Detail: err.Error()})
		return report
	}
	pass := func(name, detail string) {
		report.Steps = append(report.Steps, Step{Name: name, OK: true, Detail: detail})
	}

	// Create.
	results, err := orch.SyncTask(ctx, source.task.ID)
	if err != nil {
		return fail("create", err)
	}
	if len(results) != 1 || results[0].Status != syncer.StatusOK {
		return fail("create", resultErr(results))
	}
	eventID := results[0].EventID
	pass("create", "event "+eventID)

	// Read back through the provider.
	client, err := clientFor(ctx, deps)
	if err != nil {
		return fail("verify", err)
	}
	event, err := client.Get(ctx, eventID)
	if err != nil {
		return fail("verify", err)
	}
	if event.Title != source.task.Title {
		return fail("verify", fmt.Errorf("remote title %q", event.Title))
	}
	pass("verify", "")

	// Resync must update in place, not duplicate.
	source.task.Title = "Calendar sync self-test (updated)"
	results, err = orch.SyncTask(ctx, source.task.ID)
	if err != nil {
		return fail("resync", err)
	}
	if len(results) != 1 || results[0].Status != syncer.StatusOK {
		return fail("resync", resultErr(results))
	}
	if results[0].EventID != eventID {
		return fail("resync", fmt.Errorf("event id changed: %s -> %s", eventID, results[0].EventID))
	}
	pass("resync", "")

	// Teardown.
	removed, err := orch.UnsyncAssignment(ctx, source.task.ID, deps.AccountID)
	if err != nil {
		return fail("teardown", err)
	}
	if !removed {
		return fail("teardown", fmt.Errorf("mapping was not removed"))
	}
	if _, err := client.Get(ctx, eventID); !errors.Is(err, provider.ErrNotFound) {
		return fail("teardown", fmt.Errorf("remote event still present (err=%v)", err))
	}
	pass("teardown", "")

	return report
}

func clientFor(ctx context.Context, deps Deps) (provider.Client, error) {
	handle, err := deps.Resolver.Resolve(ctx, deps.AccountID)
	if err != nil {
		return nil, err
	}
	return deps.Clients.ForAccount(ctx, handle)
}

func resultErr(results []syncer.Result) error {
	for _, r := range results {
		if r.Err != nil {
			return r.Err
		}
	}
	return fmt.Errorf("unexpected results: %+v", results)
}
