package planservice_test

import (
	"context"
	"testing"
	"time"

	"github.com/hugo-lorenzo-mato/quorum-ai/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-ai/internal/eventbus"
	"github.com/hugo-lorenzo-mato/quorum-ai/internal/planservice"
	"github.com/hugo-lorenzo-mato/quorum-ai/internal/store"
	"github.com/hugo-lorenzo-mato/quorum-ai/internal/testutil"
)

// stubTaskStores implements planservice.TaskStores over a single
// *store.TaskStore, mirroring how *scheduler.Scheduler hands out the one
// cached store per project.
type stubTaskStores struct {
	tasks *store.TaskStore
}

func (s *stubTaskStores) ProjectTasks(_ context.Context, _ core.ProjectID) (*store.TaskStore, error) {
	return s.tasks, nil
}

func newPlanPendingTask(t *testing.T) (*store.TaskStore, *core.Task) {
	t.Helper()
	tasks, err := store.NewTaskStore(t.TempDir(), "proj-1")
	testutil.AssertNoError(t, err)
	task, err := tasks.Create("add a widget", 1, true, "")
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, task.Status, core.TaskPlanPending)
	return tasks, task
}

func TestService_Generate_PersistsPlanAndQuestions(t *testing.T) {
	tasks, task := newPlanPendingTask(t)
	agent := testutil.NewMockAgent("claude").WithResponse(
		`{"plan": "1. do it", "questions": [{"question": "which widget?", "default": "blue"}]}`,
	)
	bus := eventbus.New(16, 16)
	defer bus.Close()
	ch := bus.Subscribe(eventbus.PlanTopic("proj-1", string(task.ID)))

	svc := planservice.New(agent, &stubTaskStores{tasks}, bus, nil)
	err := svc.Generate(context.Background(), "proj-1", task.ID)
	testutil.AssertNoError(t, err)

	got, err := tasks.Get(task.ID)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, got.Plan, "1. do it")
	testutil.AssertLen(t, got.PlanQAs, 1)
	testutil.AssertEqual(t, got.PlanQAs[0].Question, "which widget?")
	testutil.AssertLen(t, got.PlanMessages, 1)

	select {
	case ev := <-ch:
		msg, ok := ev.(planservice.MessageEvent)
		testutil.AssertTrue(t, ok, "expected a planservice.MessageEvent")
		testutil.AssertEqual(t, msg.Role, "assistant")
		testutil.AssertEqual(t, msg.Content, "1. do it")
	case <-time.After(time.Second):
		t.Fatal("expected a plan message to be published")
	}
}

func TestService_Generate_AgentErrorLeavesTaskInPlanPending(t *testing.T) {
	tasks, task := newPlanPendingTask(t)
	agent := testutil.NewMockAgent("claude").WithError(testutil.ErrTest)
	svc := planservice.New(agent, &stubTaskStores{tasks}, nil, nil)

	err := svc.Generate(context.Background(), "proj-1", task.ID)
	testutil.AssertNoError(t, err)

	got, err := tasks.Get(task.ID)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, got.Status, core.TaskPlanPending)
	testutil.AssertEqual(t, got.Plan, "")
}

func TestService_Generate_NonJSONFallsBackToRawOutputAsPlan(t *testing.T) {
	tasks, task := newPlanPendingTask(t)
	agent := testutil.NewMockAgent("claude").WithResponse("just do the thing, no JSON here")
	svc := planservice.New(agent, &stubTaskStores{tasks}, nil, nil)

	testutil.AssertNoError(t, svc.Generate(context.Background(), "proj-1", task.ID))

	got, err := tasks.Get(task.ID)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, got.Plan, "just do the thing, no JSON here")
	testutil.AssertLen(t, got.PlanQAs, 0)
}

func TestService_Plan_ReturnsPersistedPlan(t *testing.T) {
	tasks, task := newPlanPendingTask(t)
	_, err := tasks.Mutate(context.Background(), task.ID, func(t *core.Task) error {
		t.Plan = "an existing plan"
		return nil
	})
	testutil.AssertNoError(t, err)

	svc := planservice.New(testutil.NewMockAgent("claude"), &stubTaskStores{tasks}, nil, nil)
	plan, ok := svc.Plan(context.Background(), "proj-1", task.ID)
	testutil.AssertTrue(t, ok, "expected a plan to be found")
	testutil.AssertEqual(t, plan, "an existing plan")
}

func TestService_Plan_FalseWhenNoPlanYet(t *testing.T) {
	tasks, task := newPlanPendingTask(t)
	svc := planservice.New(testutil.NewMockAgent("claude"), &stubTaskStores{tasks}, nil, nil)
	_, ok := svc.Plan(context.Background(), "proj-1", task.ID)
	testutil.AssertFalse(t, ok, "no plan has been generated yet")
}

func TestService_Chat_RefinesPlanAndRecordsBothTurns(t *testing.T) {
	tasks, task := newPlanPendingTask(t)
	_, err := tasks.Mutate(context.Background(), task.ID, func(t *core.Task) error {
		t.Plan = "1. do it"
		return nil
	})
	testutil.AssertNoError(t, err)

	agent := testutil.NewMockAgent("claude").WithResponse(`{"plan": "1. do it better", "questions": []}`)
	bus := eventbus.New(16, 16)
	defer bus.Close()
	ch := bus.Subscribe(eventbus.PlanTopic("proj-1", string(task.ID)))

	svc := planservice.New(agent, &stubTaskStores{tasks}, bus, nil)
	testutil.AssertNoError(t, svc.Chat(context.Background(), "proj-1", task.ID, "use a faster approach"))

	got, err := tasks.Get(task.ID)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, got.Plan, "1. do it better")
	testutil.AssertLen(t, got.PlanMessages, 2)
	testutil.AssertEqual(t, got.PlanMessages[0].Role, "user")
	testutil.AssertEqual(t, got.PlanMessages[1].Role, "assistant")

	for i := 0; i < 2; i++ {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatal("expected both the user and assistant turns to be published")
		}
	}
}

func TestService_Chat_AgentErrorIsReturned(t *testing.T) {
	tasks, task := newPlanPendingTask(t)
	agent := testutil.NewMockAgent("claude").WithError(testutil.ErrTest)
	svc := planservice.New(agent, &stubTaskStores{tasks}, nil, nil)

	err := svc.Chat(context.Background(), "proj-1", task.ID, "hello")
	testutil.AssertError(t, err)
}
