// Package planservice implements the Plan Service (spec §4.8): for a task
// submitted with plan_mode, it runs an in-process, short-lived agent
// conversation that produces a step-by-step plan and a set of multiple-choice
// clarification questions, streams the exchange to the task's plan topic,
// and persists the result for later approval. Grounded on the teacher's
// internal/service/workflow.Planner family (planner.go, planner_multiagent.go):
// the same "build a prompt, call agent.Execute with a timeout, parse the
// result" shape, generalized from the teacher's multi-task DAG planning down
// to one task's plan-then-approve conversation.
package planservice

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hugo-lorenzo-mato/quorum-ai/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-ai/internal/eventbus"
	"github.com/hugo-lorenzo-mato/quorum-ai/internal/logging"
	"github.com/hugo-lorenzo-mato/quorum-ai/internal/store"
)

// GenerateTimeout is the agent plan call's cap (spec §4.13: "Agent plan
// calls have a 5-minute cap; exceeding it returns an empty plan and leaves
// the task in plan_pending for user retry").
const GenerateTimeout = 5 * time.Minute

// TaskStores gives the Plan Service access to the same cached per-project
// task store the Scheduler uses, so both sides observe one another's writes
// instead of drifting across two independently-loaded copies of tasks.json.
// *scheduler.Scheduler satisfies this.
type TaskStores interface {
	ProjectTasks(ctx context.Context, projectID core.ProjectID) (*store.TaskStore, error)
}

// MessageEvent carries one turn of a plan-refinement conversation on a
// task's "plan:<pid>:<tid>" topic.
type MessageEvent struct {
	eventbus.BaseEvent
	TaskID  core.TaskID `json:"task_id"`
	Role    string      `json:"role"`
	Content string      `json:"content"`
}

const messageEventType = "plan_message"

// planResponse is the structured shape the planning prompt asks the agent
// to return.
type planResponse struct {
	Plan      string        `json:"plan"`
	Questions []questionDTO `json:"questions"`
}

type questionDTO struct {
	Question string `json:"question"`
	Default  string `json:"default"`
}

// Service runs planning and refinement conversations for plan_mode tasks.
type Service struct {
	agent  core.Agent
	tasks  TaskStores
	bus    *eventbus.Bus
	logger *logging.Logger
}

// New constructs a Plan Service.
func New(agent core.Agent, tasks TaskStores, bus *eventbus.Bus, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Service{agent: agent, tasks: tasks, bus: bus, logger: logger}
}

// Plan implements scheduler.PlanProvider: it returns the approved plan text
// already persisted on the task, if any.
func (s *Service) Plan(ctx context.Context, projectID core.ProjectID, taskID core.TaskID) (string, bool) {
	tasks, err := s.tasks.ProjectTasks(ctx, projectID)
	if err != nil {
		return "", false
	}
	task, err := tasks.Get(taskID)
	if err != nil || task.Plan == "" {
		return "", false
	}
	return task.Plan, true
}

// Generate runs the planning conversation for a newly created plan_mode
// task (spec §4.8 steps 1-4): the task is already in plan_pending (the
// store put it there at creation), so this only asks the agent for a plan
// and clarification questions, streams the assistant turn, and persists
// the result.
func (s *Service) Generate(ctx context.Context, projectID core.ProjectID, taskID core.TaskID) error {
	tasks, err := s.tasks.ProjectTasks(ctx, projectID)
	if err != nil {
		return err
	}
	task, err := tasks.Get(taskID)
	if err != nil {
		return err
	}

	genCtx, cancel := context.WithTimeout(ctx, GenerateTimeout)
	defer cancel()

	result, err := s.agent.Execute(genCtx, core.ExecuteOptions{
		Prompt:       task.Description,
		SystemPrompt: planningSystemPrompt,
		Format:       core.OutputFormatJSON,
		Timeout:      GenerateTimeout,
	})
	if err != nil {
		s.logger.Error("planservice: generate failed, leaving task in plan_pending", "task_id", string(taskID), "error", err)
		return nil
	}

	plan, questions := parsePlanResponse(result)
	if plan == "" {
		s.logger.Warn("planservice: agent returned an empty plan", "task_id", string(taskID))
		return nil
	}

	s.publish(projectID, taskID, "assistant", plan)

	_, err = tasks.Mutate(ctx, taskID, func(t *core.Task) error {
		t.Plan = plan
		t.PlanQAs = questions
		t.PlanMessages = append(t.PlanMessages, core.PlanMessage{
			Role:      "assistant",
			Content:   plan,
			Timestamp: time.Now(),
		})
		return nil
	})
	return err
}

// Chat appends a user turn to the plan conversation and triggers a
// follow-up agent response streamed to the same topic (spec §4.8 step 7).
func (s *Service) Chat(ctx context.Context, projectID core.ProjectID, taskID core.TaskID, message string) error {
	tasks, err := s.tasks.ProjectTasks(ctx, projectID)
	if err != nil {
		return err
	}
	task, err := tasks.Mutate(ctx, taskID, func(t *core.Task) error {
		t.PlanMessages = append(t.PlanMessages, core.PlanMessage{
			Role:      "user",
			Content:   message,
			Timestamp: time.Now(),
		})
		return nil
	})
	if err != nil {
		return err
	}
	s.publish(projectID, taskID, "user", message)

	genCtx, cancel := context.WithTimeout(ctx, GenerateTimeout)
	defer cancel()

	result, err := s.agent.Execute(genCtx, core.ExecuteOptions{
		Prompt:       refinementPrompt(task, message),
		SystemPrompt: planningSystemPrompt,
		Format:       core.OutputFormatJSON,
		Timeout:      GenerateTimeout,
	})
	if err != nil {
		return fmt.Errorf("plan refinement call: %w", err)
	}

	plan, questions := parsePlanResponse(result)
	if plan == "" {
		return nil
	}
	s.publish(projectID, taskID, "assistant", plan)

	_, err = tasks.Mutate(ctx, taskID, func(t *core.Task) error {
		t.Plan = plan
		if len(questions) > 0 {
			t.PlanQAs = questions
		}
		t.PlanMessages = append(t.PlanMessages, core.PlanMessage{
			Role:      "assistant",
			Content:   plan,
			Timestamp: time.Now(),
		})
		return nil
	})
	return err
}

func (s *Service) publish(projectID core.ProjectID, taskID core.TaskID, role, content string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(MessageEvent{
		BaseEvent: eventbus.NewBaseEvent(messageEventType, eventbus.PlanTopic(string(projectID), string(taskID))),
		TaskID:    taskID,
		Role:      role,
		Content:   content,
	})
}

const planningSystemPrompt = `You are planning a coding task before any code is written.
Respond with a single JSON object: {"plan": "<step-by-step plan as markdown>",
"questions": [{"question": "<clarifying question>", "default": "<sensible default answer>"}]}.
Keep the plan concrete and the question list short; omit questions that have an obvious answer.`

func refinementPrompt(task *core.Task, userMessage string) string {
	var b strings.Builder
	b.WriteString("Original task:\n")
	b.WriteString(task.Description)
	b.WriteString("\n\nCurrent plan:\n")
	b.WriteString(task.Plan)
	b.WriteString("\n\nUser feedback:\n")
	b.WriteString(userMessage)
	b.WriteString("\n\nRevise the plan (and questions, if needed) accordingly.")
	return b.String()
}

// parsePlanResponse extracts plan text and clarification questions from the
// agent's JSON reply, falling back to the raw output as the plan if the
// agent didn't return valid JSON (some CLIs wrap JSON in prose despite the
// system prompt).
func parsePlanResponse(result *core.ExecuteResult) (string, []core.PlanQA) {
	var resp planResponse
	raw := result.Output
	if len(result.Parsed) > 0 {
		if b, err := json.Marshal(result.Parsed); err == nil {
			raw = string(b)
		}
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &resp); err != nil || resp.Plan == "" {
		return strings.TrimSpace(result.Output), nil
	}
	qas := make([]core.PlanQA, 0, len(resp.Questions))
	for _, q := range resp.Questions {
		qas = append(qas, core.PlanQA{Question: q.Question, Default: q.Default})
	}
	return resp.Plan, qas
}
