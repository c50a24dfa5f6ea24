package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/atelierhq/task-calendar-sync/internal/domain"
	"github.com/atelierhq/task-calendar-sync/internal/security"
	"github.com/atelierhq/task-calendar-sync/internal/selftest"
	"github.com/atelierhq/task-calendar-sync/internal/syncer"
)

type fakeSyncer struct {
	enabled    bool
	results    []syncer.Result
	syncErr    error
	removed    bool
	unsyncErr  error
	lastTaskID string

	deletedTaskID string
}

func (f *fakeSyncer) SyncTask(_ context.Context, taskID string) ([]syncer.Result, error) {
	f.lastTaskID = taskID
	return f.results, f.syncErr
}

func (f *fakeSyncer) UnsyncAssignment(context.Context, string, string) (bool, error) {
	return f.removed, f.unsyncErr
}

func (f *fakeSyncer) OnTaskDeleted(_ context.Context, taskID string) { f.deletedTaskID = taskID }

func (f *fakeSyncer) IsEnabled() bool         { return f.enabled }
func (f *fakeSyncer) SetEnabled(enabled bool) { f.enabled = enabled }

type fakeTaskStore struct {
	task      domain.TaskSnapshot
	assignees []domain.Assignee
	deleted   string
	upsertErr error
}

func (f *fakeTaskStore) UpsertTask(_ context.Context, task domain.TaskSnapshot, assignees []domain.Assignee) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.task, f.assignees = task, assignees
	return nil
}

func (f *fakeTaskStore) DeleteTask(_ context.Context, taskID string) error {
	f.deleted = taskID
	return nil
}

type fakeEnroller struct {
	accountID string
	email     string
	token     *oauth2.Token
	links     map[string]string
	err       error
}

func (f *fakeEnroller) Enroll(_ context.Context, accountID, email string, token *oauth2.Token, _ string) error {
	f.accountID, f.email, f.token = accountID, email, token
	return f.err
}

func (f *fakeEnroller) LinkRoster(_ context.Context, rosterID, email string) error {
	if f.links == nil {
		f.links = map[string]string{}
	}
	f.links[rosterID] = email
	return nil
}

func newTestServer(t *testing.T, opts Options) *httptest.Server {
	t.Helper()
	s := New(opts)
	ts := httptest.NewServer(s.httpSrv.Handler)
	t.Cleanup(ts.Close)
	return ts
}

func TestHealthBypassesAuth(t *testing.T) {
	ts := newTestServer(t, Options{
		Syncer: &fakeSyncer{enabled: true},
		Auth:   security.BearerAuth{Enabled: true, Token: "t"},
	})

	res, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d", res.StatusCode)
	}
	var body map[string]any
	_ = json.NewDecoder(res.Body).Decode(&body)
	if body["sync_enabled"] != true {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestAuthRequiredOnV1(t *testing.T) {
	ts := newTestServer(t, Options{
		Syncer: &fakeSyncer{},
		Auth:   security.BearerAuth{Enabled: true, Token: "t"},
	})

	res, _ := http.Get(ts.URL + "/v1/sync/enabled")
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", res.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/v1/sync/enabled", nil)
	req.Header.Set("Authorization", "Bearer t")
	res, _ = http.DefaultClient.Do(req)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 got %d", res.StatusCode)
	}
}

func TestSyncTask(t *testing.T) {
	fs := &fakeSyncer{results: []syncer.Result{
		{AssigneeID: "alice", Status: syncer.StatusOK, EventID: "ev-1"},
		{AssigneeID: "bob", Status: syncer.StatusFailed, Err: errors.New("no credentials")},
	}}
	ts := newTestServer(t, Options{Syncer: fs})

	res, _ := http.Post(ts.URL+"/v1/sync/task", "application/json",
		bytes.NewBufferString(`{"task_id":"task-7"}`))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 got %d", res.StatusCode)
	}
	if fs.lastTaskID != "task-7" {
		t.Fatalf("task id not forwarded: %q", fs.lastTaskID)
	}
	var body struct {
		Results []struct {
			AssigneeID string `json:"assignee_id"`
			Status     string `json:"status"`
			Error      string `json:"error"`
		} `json:"results"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if len(body.Results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(body.Results))
	}
	if body.Results[1].Error != "no credentials" {
		t.Fatalf("failure message lost: %+v", body.Results[1])
	}

	res, _ = http.Post(ts.URL+"/v1/sync/task", "application/json", bytes.NewBufferString(`{}`))
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing task_id, got %d", res.StatusCode)
	}

	res, _ = http.Post(ts.URL+"/v1/sync/task", "application/json", bytes.NewBufferString(`{`))
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad json, got %d", res.StatusCode)
	}

	fs.syncErr = errors.New("source down")
	res, _ = http.Post(ts.URL+"/v1/sync/task", "application/json",
		bytes.NewBufferString(`{"task_id":"task-7"}`))
	if res.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected 502 got %d", res.StatusCode)
	}
}

func TestTaskPush(t *testing.T) {
	fs := &fakeSyncer{results: []syncer.Result{{AssigneeID: "alice", Status: syncer.StatusOK, EventID: "ev-1"}}}
	ft := &fakeTaskStore{}
	ts := newTestServer(t, Options{Syncer: fs, Tasks: ft})

	body := `{
		"id": "task-9", "title": "Review deck",
		"due_date": "2025-03-10", "due_time": "2:30 PM", "timezone": "America/Vancouver",
		"status": "open", "priority": "high",
		"assignees": [{"id": "alice", "email": "alice@example.com"}]
	}`
	req, _ := http.NewRequest(http.MethodPut, ts.URL+"/v1/tasks", bytes.NewBufferString(body))
	res, _ := http.DefaultClient.Do(req)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 got %d", res.StatusCode)
	}
	if ft.task.ID != "task-9" || len(ft.assignees) != 1 {
		t.Fatalf("task not stored: %+v", ft.task)
	}
	want := time.Date(2025, 3, 10, 21, 30, 0, 0, time.UTC)
	if ft.task.DueAt == nil || !ft.task.DueAt.Equal(want) {
		t.Fatalf("due instant not normalized: %v", ft.task.DueAt)
	}
	if fs.lastTaskID != "task-9" {
		t.Fatal("sync not triggered after push")
	}

	req, _ = http.NewRequest(http.MethodPut, ts.URL+"/v1/tasks",
		bytes.NewBufferString(`{"id":"task-9","title":"x","due_date":"not-a-date"}`))
	res, _ = http.DefaultClient.Do(req)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad date, got %d", res.StatusCode)
	}

	req, _ = http.NewRequest(http.MethodPut, ts.URL+"/v1/tasks", bytes.NewBufferString(`{"title":"x"}`))
	res, _ = http.DefaultClient.Do(req)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing id, got %d", res.StatusCode)
	}
}

func TestTaskDelete(t *testing.T) {
	fs := &fakeSyncer{}
	ft := &fakeTaskStore{}
	ts := newTestServer(t, Options{Syncer: fs, Tasks: ft})

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/v1/tasks?task_id=task-9", nil)
	res, _ := http.DefaultClient.Do(req)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 got %d", res.StatusCode)
	}
	if fs.deletedTaskID != "task-9" {
		t.Fatal("deletion hook not fired")
	}
	if ft.deleted != "task-9" {
		t.Fatal("cached task not removed")
	}

	req, _ = http.NewRequest(http.MethodDelete, ts.URL+"/v1/tasks", nil)
	res, _ = http.DefaultClient.Do(req)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", res.StatusCode)
	}
}

func TestUnsyncAssignment(t *testing.T) {
	fs := &fakeSyncer{removed: true}
	ts := newTestServer(t, Options{Syncer: fs})

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/v1/sync/assignment",
		bytes.NewBufferString(`{"task_id":"t1","assignee_id":"alice"}`))
	res, _ := http.DefaultClient.Do(req)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 got %d", res.StatusCode)
	}
	var body map[string]bool
	_ = json.NewDecoder(res.Body).Decode(&body)
	if !body["removed"] {
		t.Fatalf("expected removed=true: %v", body)
	}

	res, _ = http.Post(ts.URL+"/v1/sync/assignment", "application/json",
		bytes.NewBufferString(`{"task_id":"t1","assignee_id":"alice"}`))
	if res.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 got %d", res.StatusCode)
	}

	req, _ = http.NewRequest(http.MethodDelete, ts.URL+"/v1/sync/assignment",
		bytes.NewBufferString(`{"task_id":"t1"}`))
	res, _ = http.DefaultClient.Do(req)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", res.StatusCode)
	}
}

func TestEnabledToggle(t *testing.T) {
	fs := &fakeSyncer{enabled: true}
	ts := newTestServer(t, Options{Syncer: fs})

	req, _ := http.NewRequest(http.MethodPut, ts.URL+"/v1/sync/enabled",
		bytes.NewBufferString(`{"enabled":false}`))
	res, _ := http.DefaultClient.Do(req)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 got %d", res.StatusCode)
	}
	if fs.enabled {
		t.Fatal("gate not disabled")
	}

	res, _ = http.Get(ts.URL + "/v1/sync/enabled")
	var body map[string]bool
	_ = json.NewDecoder(res.Body).Decode(&body)
	if body["enabled"] {
		t.Fatalf("expected enabled=false: %v", body)
	}
}

func TestEnroll(t *testing.T) {
	fe := &fakeEnroller{}
	ts := newTestServer(t, Options{Syncer: &fakeSyncer{}, Enroller: fe})

	expiry := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	res, _ := http.Post(ts.URL+"/v1/accounts", "application/json",
		bytes.NewBufferString(`{"account_id":"acct-1","email":"alice@example.com","access_token":"at","refresh_token":"rt","expiry":"`+expiry+`","scope":"calendar"}`))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 got %d", res.StatusCode)
	}
	if fe.accountID != "acct-1" || fe.email != "alice@example.com" {
		t.Fatalf("enroll args not forwarded: %+v", fe)
	}
	if fe.token.RefreshToken != "rt" || fe.token.Expiry.IsZero() {
		t.Fatalf("token not forwarded: %+v", fe.token)
	}

	res, _ = http.Post(ts.URL+"/v1/accounts", "application/json",
		bytes.NewBufferString(`{"account_id":"acct-1"}`))
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing token, got %d", res.StatusCode)
	}

	res, _ = http.Post(ts.URL+"/v1/accounts", "application/json",
		bytes.NewBufferString(`{"account_id":"acct-1","access_token":"at","expiry":"yesterday"}`))
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad expiry, got %d", res.StatusCode)
	}
}

func TestEnrollRosterLinks(t *testing.T) {
	fe := &fakeEnroller{}
	ts := newTestServer(t, Options{Syncer: &fakeSyncer{}, Enroller: fe})

	res, _ := http.Post(ts.URL+"/v1/accounts", "application/json",
		bytes.NewBufferString(`{"account_id":"acct-1","email":"alice@example.com","access_token":"at","roster_ids":["roster-9","roster-12"]}`))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 got %d", res.StatusCode)
	}
	if len(fe.links) != 2 || fe.links["roster-9"] != "alice@example.com" {
		t.Fatalf("roster links not recorded: %v", fe.links)
	}

	res, _ = http.Post(ts.URL+"/v1/accounts", "application/json",
		bytes.NewBufferString(`{"account_id":"acct-1","access_token":"at","roster_ids":["roster-9"]}`))
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for roster ids without email, got %d", res.StatusCode)
	}
}

func TestSelfTestEndpoint(t *testing.T) {
	report := selftest.Report{TaskID: "probe", Steps: []selftest.Step{{Name: "create event", OK: true}}}
	ts := newTestServer(t, Options{
		Syncer:   &fakeSyncer{},
		SelfTest: func(context.Context) selftest.Report { return report },
	})

	res, _ := http.Post(ts.URL+"/v1/selftest", "application/json", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 got %d", res.StatusCode)
	}
	var got selftest.Report
	if err := json.NewDecoder(res.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.TaskID != "probe" || len(got.Steps) != 1 {
		t.Fatalf("unexpected report: %+v", got)
	}

	ts2 := newTestServer(t, Options{Syncer: &fakeSyncer{}})
	res, _ = http.Post(ts2.URL+"/v1/selftest", "application/json", nil)
	if res.StatusCode != http.StatusNotImplemented {
		t.Fatalf("expected 501 got %d", res.StatusCode)
	}
}

func TestServeValidation(t *testing.T) {
	s := New(Options{Syncer: &fakeSyncer{}})
	if err := s.ServeTCP(context.Background(), ""); err == nil {
		t.Fatal("expected bind error")
	}
	if err := s.ServeUnix(context.Background(), ""); err == nil {
		t.Fatal("expected unix path error")
	}
}

func TestServeTCPAndUnixLifecycle(t *testing.T) {
	s := New(Options{Syncer: &fakeSyncer{}})
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()
	if err := s.ServeTCP(ctx, "127.0.0.1:0"); err != nil && !errors.Is(err, http.ErrServerClosed) {
		t.Fatalf("ServeTCP err=%v", err)
	}

	s = New(Options{Syncer: &fakeSyncer{}})
	ctx, cancel = context.WithCancel(context.Background())
	sock := t.TempDir() + "/sync.sock"
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()
	if err := s.ServeUnix(ctx, sock); err != nil && !errors.Is(err, http.ErrServerClosed) {
		t.Fatalf("ServeUnix err=%v", err)
	}
}
