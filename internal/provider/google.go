package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/atelierhq/task-calendar-sync/internal/credentials"
	"github.com/atelierhq/task-calendar-sync/internal/domain"
)

const defaultCallTimeout = 15 * time.Second

// GoogleFactory builds Google Calendar clients from credential handles.
type GoogleFactory struct {
	// Timeout bounds each provider call so a hung request surfaces as a
	// CallError instead of stalling the fan-out.
	Timeout time.Duration
}

func (f GoogleFactory) ForAccount(ctx context.Context, handle credentials.Handle) (Client, error) {
	srv, err := calendar.NewService(ctx, option.WithTokenSource(handle.TokenSource(ctx)))
	if err != nil {
		return nil, fmt.Errorf("build calendar service for %s: %w", handle.Redacted(), err)
	}
	return NewGoogleClient(srv, f.Timeout), nil
}

// NewGoogleClient wraps an already-built calendar service. Split from the
// factory so tests can point the service at a local server.
func NewGoogleClient(srv *calendar.Service, timeout time.Duration) Client {
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	return &googleClient{srv: srv, calendarID: "primary", timeout: timeout}
}

type googleClient struct {
	srv        *calendar.Service
	calendarID string
	timeout    time.Duration
}

func (c *googleClient) Create(ctx context.Context, payload domain.EventPayload) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	created, err := c.srv.Events.Insert(c.calendarID, toGoogleEvent(payload)).Context(ctx).Do()
	if err != nil {
		return "", mapGoogleError("create", "", err)
	}
	return created.Id, nil
}

func (c *googleClient) Update(ctx context.Context, eventID string, payload domain.EventPayload) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	_, err := c.srv.Events.Update(c.calendarID, eventID, toGoogleEvent(payload)).Context(ctx).Do()
	if err != nil {
		return mapGoogleError("update", eventID, err)
	}
	return nil
}

func (c *googleClient) Delete(ctx context.Context, eventID string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	err := c.srv.Events.Delete(c.calendarID, eventID).Context(ctx).Do()
	if err != nil {
		mapped := mapGoogleError("delete", eventID, err)
		// Deleting an already-deleted event is success.
		if errors.Is(mapped, ErrNotFound) {
			return nil
		}
		return mapped
	}
	return nil
}

func (c *googleClient) Get(ctx context.Context, eventID string) (domain.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	item, err := c.srv.Events.Get(c.calendarID, eventID).Context(ctx).Do()
	if err != nil {
		return domain.Event{}, mapGoogleError("get", eventID, err)
	}
	out := domain.Event{
		ID:          item.Id,
		CalendarID:  c.calendarID,
		Title:       item.Summary,
		Description: item.Description,
	}
	if item.Start != nil {
		out.Start, _ = time.Parse(time.RFC3339, item.Start.DateTime)
	}
	if item.End != nil {
		out.End, _ = time.Parse(time.RFC3339, item.End.DateTime)
	}
	return out, nil
}

func toGoogleEvent(payload domain.EventPayload) *calendar.Event {
	return &calendar.Event{
		Summary:     payload.Title,
		Description: payload.Description,
		Start: &calendar.EventDateTime{
			DateTime: payload.Start.UTC().Format(time.RFC3339),
			TimeZone: "UTC",
		},
		End: &calendar.EventDateTime{
			DateTime: payload.End.UTC().Format(time.RFC3339),
			TimeZone: "UTC",
		},
	}
}

// mapGoogleError translates googleapi responses into the core taxonomy.
// Google reports deleted events with 404 and, for cancelled ones, 410.
func mapGoogleError(op, eventID string, err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		if apiErr.Code == http.StatusNotFound || apiErr.Code == http.StatusGone {
			return &NotFoundError{EventID: eventID}
		}
	}
	return &CallError{Op: op, Err: err}
}
