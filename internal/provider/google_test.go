package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/atelierhq/task-calendar-sync/internal/domain"
)

func testClient(t *testing.T, handler http.Handler) Client {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	srv, err := calendar.NewService(context.Background(),
		option.WithEndpoint(ts.URL),
		option.WithHTTPClient(ts.Client()),
	)
	if err != nil {
		t.Fatalf("build service: %v", err)
	}
	return NewGoogleClient(srv, time.Second)
}

func TestGoogleClientCreate(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || !strings.Contains(r.URL.Path, "calendars/primary/events") {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var in calendar.Event
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if in.Summary != "Ship release" {
			t.Errorf("summary %q", in.Summary)
		}
		if in.Start == nil || in.Start.DateTime != "2025-03-10T21:30:00Z" {
			t.Errorf("start %+v", in.Start)
		}
		in.Id = "ev-created"
		_ = json.NewEncoder(w).Encode(in)
	}))

	start := time.Date(2025, 3, 10, 21, 30, 0, 0, time.UTC)
	id, err := c.Create(context.Background(), domain.EventPayload{
		Title: "Ship release",
		Start: start,
		End:   start.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if id != "ev-created" {
		t.Fatalf("event id %q", id)
	}
}

func TestGoogleClientDeleteNotFoundIsSuccess(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"code":404,"message":"Not Found"}}`, http.StatusNotFound)
	}))

	if err := c.Delete(context.Background(), "ev-gone"); err != nil {
		t.Fatalf("delete of missing event should succeed, got %v", err)
	}
}

func TestGoogleClientUpdateNotFound(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"code":404,"message":"Not Found"}}`, http.StatusNotFound)
	}))

	err := c.Update(context.Background(), "ev-gone", domain.EventPayload{Title: "x"})
	if err == nil {
		t.Fatal("expected error")
	}
	var nfErr *NotFoundError
	if !errors.As(err, &nfErr) {
		t.Fatalf("expected *NotFoundError, got %v", err)
	}
}
