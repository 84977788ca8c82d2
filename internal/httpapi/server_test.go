package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kestrelrun/cua-agent/internal/messages"
	"github.com/kestrelrun/cua-agent/internal/tasks"
	"github.com/kestrelrun/cua-agent/pkg/models"
)

type recordingSubmitter struct {
	submitted []*models.Task
	cancelled []string
	takenOver []string
	resumed   []string
}

func (r *recordingSubmitter) Submit(task *models.Task) { r.submitted = append(r.submitted, task) }

func (r *recordingSubmitter) Cancel(ctx context.Context, taskID string) error {
	r.cancelled = append(r.cancelled, taskID)
	return nil
}

func (r *recordingSubmitter) Takeover(ctx context.Context, taskID string) error {
	r.takenOver = append(r.takenOver, taskID)
	return nil
}

func (r *recordingSubmitter) Resume(ctx context.Context, taskID string) error {
	r.resumed = append(r.resumed, taskID)
	return nil
}

type fakeModelLister struct{ models []models.ModelInfo }

func (f *fakeModelLister) ListModels(ctx context.Context) ([]models.ModelInfo, error) {
	return f.models, nil
}

func newTestServer(t *testing.T) (*Server, *TokenService, *recordingSubmitter) {
	t.Helper()
	tokens := NewTokenService("test-secret", time.Hour)
	submitter := &recordingSubmitter{}
	srv := New(Config{
		TaskStore:    tasks.NewMemoryStore(),
		MessageStore: messages.NewMemoryStore(),
		Tokens:       tokens,
		Scheduler:    submitter,
		Models:       &fakeModelLister{models: []models.ModelInfo{{Name: "claude-test"}}},
	})
	return srv, tokens, submitter
}

func authedRequest(t *testing.T, tokens *TokenService, method, path, body string) *http.Request {
	t.Helper()
	token, err := tokens.Issue("user-1")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func TestHealthzRequiresNoAuth(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestCreateTaskRejectsMissingAuth(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/tasks", bytes.NewBufferString(`{"description":"x"}`))
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestCreateTaskSubmitsImmediateTask(t *testing.T) {
	srv, tokens, submitter := newTestServer(t)
	rec := httptest.NewRecorder()
	req := authedRequest(t, tokens, http.MethodPost, "/tasks", `{"description":"open firefox"}`)
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var task models.Task
	if err := json.Unmarshal(rec.Body.Bytes(), &task); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if task.ID == "" {
		t.Fatalf("expected task to have an ID assigned")
	}
	if len(submitter.submitted) != 1 {
		t.Fatalf("expected task submitted to scheduler, got %d submissions", len(submitter.submitted))
	}
}

func TestGetTaskNotFound(t *testing.T) {
	srv, tokens, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	req := authedRequest(t, tokens, http.MethodGet, "/tasks/does-not-exist", "")
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestAppendAndListMessages(t *testing.T) {
	srv, tokens, _ := newTestServer(t)

	createRec := httptest.NewRecorder()
	srv.ServeHTTP(createRec, authedRequest(t, tokens, http.MethodPost, "/tasks", `{"description":"task"}`))
	var task models.Task
	if err := json.Unmarshal(createRec.Body.Bytes(), &task); err != nil {
		t.Fatalf("unmarshal created task: %v", err)
	}

	appendRec := httptest.NewRecorder()
	srv.ServeHTTP(appendRec, authedRequest(t, tokens, http.MethodPost, "/tasks/"+task.ID+"/messages", `{"text":"hello"}`))
	if appendRec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", appendRec.Code, appendRec.Body.String())
	}

	listRec := httptest.NewRecorder()
	srv.ServeHTTP(listRec, authedRequest(t, tokens, http.MethodGet, "/tasks/"+task.ID+"/messages", ""))
	var history []*models.Message
	if err := json.Unmarshal(listRec.Body.Bytes(), &history); err != nil {
		t.Fatalf("unmarshal history: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected 1 message, got %d", len(history))
	}
}

func createTestTask(t *testing.T, srv *Server, tokens *TokenService) models.Task {
	t.Helper()
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, authedRequest(t, tokens, http.MethodPost, "/tasks", `{"description":"task"}`))
	var task models.Task
	if err := json.Unmarshal(rec.Body.Bytes(), &task); err != nil {
		t.Fatalf("unmarshal created task: %v", err)
	}
	return task
}

func TestUpdateTaskRejectsIllegalTransition(t *testing.T) {
	srv, tokens, _ := newTestServer(t)
	task := createTestTask(t, srv, tokens)

	// PENDING -> COMPLETED is not a legal transition (spec.md §8 scenario 4).
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, authedRequest(t, tokens, http.MethodPatch, "/tasks/"+task.ID, `{"status":"COMPLETED"}`))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestUpdateTaskAppliesLegalTransition(t *testing.T) {
	srv, tokens, _ := newTestServer(t)
	task := createTestTask(t, srv, tokens)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, authedRequest(t, tokens, http.MethodPatch, "/tasks/"+task.ID, `{"status":"RUNNING"}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var updated models.Task
	if err := json.Unmarshal(rec.Body.Bytes(), &updated); err != nil {
		t.Fatalf("unmarshal updated task: %v", err)
	}
	if updated.Status != models.TaskRunning {
		t.Fatalf("expected status RUNNING, got %s", updated.Status)
	}
}

func TestDeleteTaskRemovesIt(t *testing.T) {
	srv, tokens, _ := newTestServer(t)
	task := createTestTask(t, srv, tokens)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, authedRequest(t, tokens, http.MethodDelete, "/tasks/"+task.ID, ""))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body.String())
	}

	getRec := httptest.NewRecorder()
	srv.ServeHTTP(getRec, authedRequest(t, tokens, http.MethodGet, "/tasks/"+task.ID, ""))
	if getRec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", getRec.Code)
	}
}

func TestCancelTaskDelegatesToScheduler(t *testing.T) {
	srv, tokens, submitter := newTestServer(t)
	task := createTestTask(t, srv, tokens)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, authedRequest(t, tokens, http.MethodPost, "/tasks/"+task.ID+"/cancel", ""))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(submitter.cancelled) != 1 || submitter.cancelled[0] != task.ID {
		t.Fatalf("expected scheduler.Cancel called with %s, got %v", task.ID, submitter.cancelled)
	}
}

func TestTakeoverTaskDelegatesToScheduler(t *testing.T) {
	srv, tokens, submitter := newTestServer(t)
	task := createTestTask(t, srv, tokens)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, authedRequest(t, tokens, http.MethodPost, "/tasks/"+task.ID+"/takeover", ""))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(submitter.takenOver) != 1 || submitter.takenOver[0] != task.ID {
		t.Fatalf("expected scheduler.Takeover called with %s, got %v", task.ID, submitter.takenOver)
	}
}

func TestResumeTaskDelegatesToScheduler(t *testing.T) {
	srv, tokens, submitter := newTestServer(t)
	task := createTestTask(t, srv, tokens)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, authedRequest(t, tokens, http.MethodPost, "/tasks/"+task.ID+"/resume", ""))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(submitter.resumed) != 1 || submitter.resumed[0] != task.ID {
		t.Fatalf("expected scheduler.Resume called with %s, got %v", task.ID, submitter.resumed)
	}
}

func TestListModelsReturnsRouterCatalog(t *testing.T) {
	srv, tokens, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, authedRequest(t, tokens, http.MethodGet, "/tasks/models", ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var list []models.ModelInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("unmarshal models: %v", err)
	}
	if len(list) != 1 || list[0].Name != "claude-test" {
		t.Fatalf("expected the router's model catalog, got %v", list)
	}
}

func TestListTasksReturnsTotalCount(t *testing.T) {
	srv, tokens, _ := newTestServer(t)
	createTestTask(t, srv, tokens)
	createTestTask(t, srv, tokens)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, authedRequest(t, tokens, http.MethodGet, "/tasks", ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp listTasksResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal list response: %v", err)
	}
	if resp.Total != 2 {
		t.Fatalf("expected total 2, got %d", resp.Total)
	}
	if len(resp.Tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(resp.Tasks))
	}
}
