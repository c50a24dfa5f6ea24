package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"golang.org/x/oauth2"

	"github.com/atelierhq/task-calendar-sync/internal/domain"
	"github.com/atelierhq/task-calendar-sync/internal/schedule"
	"github.com/atelierhq/task-calendar-sync/internal/security"
	"github.com/atelierhq/task-calendar-sync/internal/selftest"
	"github.com/atelierhq/task-calendar-sync/internal/store"
	"github.com/atelierhq/task-calendar-sync/internal/syncer"
)

// Syncer is the slice of the orchestrator the admin API drives.
type Syncer interface {
	SyncTask(ctx context.Context, taskID string) ([]syncer.Result, error)
	UnsyncAssignment(ctx context.Context, taskID, assigneeID string) (bool, error)
	OnTaskDeleted(ctx context.Context, taskID string)
	IsEnabled() bool
	SetEnabled(enabled bool)
}

// TaskStore caches the task snapshots the portal pushes.
type TaskStore interface {
	UpsertTask(ctx context.Context, task domain.TaskSnapshot, assignees []domain.Assignee) error
	DeleteTask(ctx context.Context, taskID string) error
}

// Enroller stores Google credentials for an account and the roster links
// that let assignee roster ids resolve to it.
type Enroller interface {
	Enroll(ctx context.Context, accountID, email string, token *oauth2.Token, scope string) error
	LinkRoster(ctx context.Context, rosterID, email string) error
}

type Server struct {
	sync     Syncer
	tasks    TaskStore
	enroller Enroller
	selfTest func(context.Context) selftest.Report
	auth     security.BearerAuth
	log      *slog.Logger
	httpSrv  *http.Server
}

type Options struct {
	Syncer   Syncer
	Tasks    TaskStore
	Enroller Enroller
	SelfTest func(context.Context) selftest.Report
	Auth     security.BearerAuth
	Logger   *slog.Logger
}

func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		sync:     opts.Syncer,
		tasks:    opts.Tasks,
		enroller: opts.Enroller,
		selfTest: opts.SelfTest,
		auth:     opts.Auth,
		log:      logger,
	}

	v1 := http.NewServeMux()
	v1.HandleFunc("/v1/tasks", s.handleTasks)
	v1.HandleFunc("/v1/sync/task", s.handleSyncTask)
	v1.HandleFunc("/v1/sync/assignment", s.handleUnsync)
	v1.HandleFunc("/v1/sync/enabled", s.handleEnabled)
	v1.HandleFunc("/v1/accounts", s.handleEnroll)
	v1.HandleFunc("/v1/selftest", s.handleSelfTest)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/v1/", s.auth.Wrap(v1))

	s.httpSrv = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	return s
}

func (s *Server) ServeTCP(ctx context.Context, bind string) error {
	if bind == "" {
		return errors.New("bind required")
	}
	ln, err := net.Listen("tcp", bind)
	if err != nil {
		return err
	}
	go s.shutdownOnContext(ctx)
	return s.httpSrv.Serve(ln)
}

func (s *Server) ServeUnix(ctx context.Context, path string) error {
	if path == "" {
		return errors.New("socket path required")
	}
	_ = os.Remove(path)
	ln, err := net.Listen("unix", path)
	if err != nil {
		return err
	}
	if err := os.Chmod(path, 0o600); err != nil {
		return err
	}
	go s.shutdownOnContext(ctx)
	return s.httpSrv.Serve(ln)
}

func (s *Server) shutdownOnContext(ctx context.Context) {
	<-ctx.Done()
	timeout, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_ = s.httpSrv.Shutdown(timeout)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "sync_enabled": s.sync.IsEnabled()})
}

type syncTaskRequest struct {
	TaskID string `json:"task_id"`
}

func (s *Server) handleSyncTask(w http.ResponseWriter, r *http.Request) {
	var payload syncTaskRequest
	if !decodePost(w, r, &payload) {
		return
	}
	if payload.TaskID == "" {
		writeErr(w, http.StatusBadRequest, "task_id required")
		return
	}
	results, err := s.sync.SyncTask(r.Context(), payload.TaskID)
	if err != nil {
		writeSyncErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"task_id": payload.TaskID, "results": viewResults(results)})
}

func writeSyncErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, schedule.ErrInvalidInput):
		writeErr(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNotFound):
		writeErr(w, http.StatusNotFound, err.Error())
	default:
		writeErr(w, http.StatusBadGateway, err.Error())
	}
}

// taskRequest is the portal's push format. The due instant arrives as the
// user's wall-clock fields and is normalized server side.
type taskRequest struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	DueDate     string `json:"due_date"`
	DueTime     string `json:"due_time"`
	Timezone    string `json:"timezone"`
	Status      string `json:"status"`
	Priority    string `json:"priority"`
	Link        string `json:"link"`
	Assignees   []struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	} `json:"assignees"`
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPut:
		s.handlePutTask(w, r)
	case http.MethodDelete:
		s.handleDeleteTask(w, r)
	default:
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handlePutTask(w http.ResponseWriter, r *http.Request) {
	var payload taskRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	if payload.ID == "" || payload.Title == "" {
		writeErr(w, http.StatusBadRequest, "id and title required")
		return
	}
	dueAt, err := schedule.DueInstant(payload.DueDate, payload.DueTime, payload.Timezone)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	task := domain.TaskSnapshot{
		ID:          payload.ID,
		Title:       payload.Title,
		Description: payload.Description,
		DueAt:       dueAt,
		Status:      payload.Status,
		Priority:    payload.Priority,
		Link:        payload.Link,
	}
	assignees := make([]domain.Assignee, len(payload.Assignees))
	for i, a := range payload.Assignees {
		assignees[i] = domain.Assignee{ID: a.ID, Email: a.Email}
	}
	if err := s.tasks.UpsertTask(r.Context(), task, assignees); err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	results, err := s.sync.SyncTask(r.Context(), payload.ID)
	if err != nil {
		writeSyncErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"task_id": payload.ID, "results": viewResults(results)})
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	taskID := r.URL.Query().Get("task_id")
	if taskID == "" {
		writeErr(w, http.StatusBadRequest, "task_id required")
		return
	}
	// Remote events first; the deletion fan-out walks the stored mappings.
	s.sync.OnTaskDeleted(r.Context(), taskID)
	if err := s.tasks.DeleteTask(r.Context(), taskID); err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"task_id": taskID})
}

// resultView is the wire form of one assignee's sync outcome. "status" is
// always one of "ok", "skipped", or "failed"; "event_id" accompanies ok,
// "reason" ("disabled" or "not-eligible") accompanies skipped, and "error"
// carries the failure message that Result deliberately keeps out of its own
// JSON form.
type resultView struct {
	syncer.Result
	Error string `json:"error,omitempty"`
}

func viewResults(results []syncer.Result) []resultView {
	views := make([]resultView, len(results))
	for i, res := range results {
		views[i] = resultView{Result: res}
		if res.Err != nil {
			views[i].Error = res.Err.Error()
		}
	}
	return views
}

type unsyncRequest struct {
	TaskID     string `json:"task_id"`
	AssigneeID string `json:"assignee_id"`
}

func (s *Server) handleUnsync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var payload unsyncRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	if payload.TaskID == "" || payload.AssigneeID == "" {
		writeErr(w, http.StatusBadRequest, "task_id and assignee_id required")
		return
	}
	removed, err := s.sync.UnsyncAssignment(r.Context(), payload.TaskID, payload.AssigneeID)
	if err != nil {
		writeErr(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": removed})
}

type enabledRequest struct {
	Enabled bool `json:"enabled"`
}

func (s *Server) handleEnabled(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]bool{"enabled": s.sync.IsEnabled()})
	case http.MethodPut:
		var payload enabledRequest
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			writeErr(w, http.StatusBadRequest, "invalid json")
			return
		}
		s.sync.SetEnabled(payload.Enabled)
		s.log.Info("sync gate toggled", "enabled", payload.Enabled)
		writeJSON(w, http.StatusOK, map[string]bool{"enabled": s.sync.IsEnabled()})
	default:
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

type enrollRequest struct {
	AccountID    string   `json:"account_id"`
	Email        string   `json:"email"`
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
	Expiry       string   `json:"expiry"`
	Scope        string   `json:"scope"`
	RosterIDs    []string `json:"roster_ids"`
}

func (s *Server) handleEnroll(w http.ResponseWriter, r *http.Request) {
	var payload enrollRequest
	if !decodePost(w, r, &payload) {
		return
	}
	if payload.AccountID == "" || payload.AccessToken == "" {
		writeErr(w, http.StatusBadRequest, "account_id and access_token required")
		return
	}
	if len(payload.RosterIDs) > 0 && payload.Email == "" {
		writeErr(w, http.StatusBadRequest, "email required to link roster ids")
		return
	}
	token := &oauth2.Token{AccessToken: payload.AccessToken, RefreshToken: payload.RefreshToken}
	if payload.Expiry != "" {
		expiry, err := time.Parse(time.RFC3339, payload.Expiry)
		if err != nil {
			writeErr(w, http.StatusBadRequest, "invalid expiry")
			return
		}
		token.Expiry = expiry
	}
	if err := s.enroller.Enroll(r.Context(), payload.AccountID, payload.Email, token, payload.Scope); err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	for _, rosterID := range payload.RosterIDs {
		if err := s.enroller.LinkRoster(r.Context(), rosterID, payload.Email); err != nil {
			writeErr(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	s.log.Info("account enrolled",
		"account_id", payload.AccountID, "roster_links", len(payload.RosterIDs))
	writeJSON(w, http.StatusOK, map[string]string{"account_id": payload.AccountID})
}

func (s *Server) handleSelfTest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.selfTest == nil {
		writeErr(w, http.StatusNotImplemented, "self-test not configured")
		return
	}
	report := s.selfTest(r.Context())
	writeJSON(w, http.StatusOK, report)
}

func decodePost(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
