package gateway_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hugo-lorenzo-mato/quorum-ai/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-ai/internal/eventbus"
	"github.com/hugo-lorenzo-mato/quorum-ai/internal/gateway"
	"github.com/hugo-lorenzo-mato/quorum-ai/internal/store"
	"github.com/hugo-lorenzo-mato/quorum-ai/internal/testutil"
)

// stubTasks is a minimal gateway.TaskController double, so these tests
// exercise routing/translation rather than the real Scheduler.
type stubTasks struct {
	chatErr    error
	chatCalled bool
	cancelErr  error
	mergeErr   error
	retryErr   error
}

func (s *stubTasks) ProjectTasks(context.Context, core.ProjectID) (*store.TaskStore, error) {
	return nil, core.ErrNotFound("PROJECT_NOT_FOUND", "no such project")
}
func (s *stubTasks) CreateTask(context.Context, core.ProjectID, string, int, bool, core.TaskID) (*core.Task, error) {
	return nil, core.ErrNotFound("PROJECT_NOT_FOUND", "no such project")
}
func (s *stubTasks) ApprovePlan(context.Context, core.ProjectID, core.TaskID, map[string]string) (*core.Task, error) {
	return nil, core.ErrNotFound("TASK_NOT_FOUND", "no such task")
}
func (s *stubTasks) RejectPlan(context.Context, core.ProjectID, core.TaskID, string) (*core.Task, error) {
	return nil, core.ErrNotFound("TASK_NOT_FOUND", "no such task")
}
func (s *stubTasks) Chat(_ context.Context, _ core.ProjectID, _ core.TaskID, _ string) error {
	s.chatCalled = true
	return s.chatErr
}
func (s *stubTasks) Cancel(context.Context, core.ProjectID, core.TaskID) error { return s.cancelErr }
func (s *stubTasks) Merge(context.Context, core.ProjectID, core.TaskID, bool) error { return s.mergeErr }
func (s *stubTasks) Retry(context.Context, core.ProjectID, core.TaskID) error { return s.retryErr }
func (s *stubTasks) Workers() []*core.Worker                                 { return nil }
func (s *stubTasks) HandleCallback(context.Context, core.WorkerID, core.TaskID, string, string, string, string) error {
	return nil
}

func newTestServer(t *testing.T, tasks gateway.TaskController) *gateway.Server {
	t.Helper()
	registry, err := store.NewProjectRegistry(testutil.TempDir(t))
	testutil.AssertNoError(t, err)
	bus := eventbus.New(16, 16)
	t.Cleanup(bus.Close)
	cfg := gateway.DefaultConfig()
	cfg.DataDir = testutil.TempDir(t)
	return gateway.New(cfg, registry, tasks, bus, nil)
}

func TestHandleChatTask_ForwardsMessageAndReturnsNoContent(t *testing.T) {
	stub := &stubTasks{}
	srv := newTestServer(t, stub)

	body, _ := json.Marshal(map[string]string{"message": "use a faster approach"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/projects/proj-1/tasks/t-1/chat", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, req)

	testutil.AssertEqual(t, rr.Code, http.StatusNoContent)
	testutil.AssertTrue(t, stub.chatCalled, "expected Chat to be invoked")
}

func TestHandleChatTask_PlanServiceUnavailableBecomesConflict(t *testing.T) {
	stub := &stubTasks{chatErr: core.ErrValidation("PLAN_SERVICE_UNAVAILABLE", "no plan service is configured")}
	srv := newTestServer(t, stub)

	body, _ := json.Marshal(map[string]string{"message": "hi"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/projects/proj-1/tasks/t-1/chat", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, req)

	testutil.AssertEqual(t, rr.Code, http.StatusBadRequest)

	var resp map[string]string
	testutil.AssertNoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	testutil.AssertEqual(t, resp["error"], "PLAN_SERVICE_UNAVAILABLE")
}

func TestHandleChatTask_InvalidBodyIsRejected(t *testing.T) {
	stub := &stubTasks{}
	srv := newTestServer(t, stub)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/projects/proj-1/tasks/t-1/chat", bytes.NewReader([]byte("not json")))
	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, req)

	testutil.AssertEqual(t, rr.Code, http.StatusBadRequest)
	testutil.AssertFalse(t, stub.chatCalled, "Chat must not run against an undecodable body")
}

func TestHandleCancelTask_NoContentOnSuccess(t *testing.T) {
	srv := newTestServer(t, &stubTasks{})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/projects/proj-1/tasks/t-1/cancel", nil)
	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, req)
	testutil.AssertEqual(t, rr.Code, http.StatusNoContent)
}

func TestHandleMergeTask_ConflictMapsTo409(t *testing.T) {
	stub := &stubTasks{mergeErr: core.ErrConflict("TASK_NOT_MERGE_PENDING", "not ready")}
	srv := newTestServer(t, stub)

	body, _ := json.Marshal(map[string]bool{"squash": true})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/projects/proj-1/tasks/t-1/merge", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, req)

	testutil.AssertEqual(t, rr.Code, http.StatusConflict)
}

func TestHandleHealth(t *testing.T) {
	srv := newTestServer(t, &stubTasks{})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, req)
	testutil.AssertEqual(t, rr.Code, http.StatusOK)
}
