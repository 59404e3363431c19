package core

import "time"

// AppendPlanMessage records one turn of the plan-refinement conversation,
// in order, on the task itself (spec §3: Plan Message is an ordered
// sequence scoped to its task, not a standalone entity).
func (t *Task) AppendPlanMessage(role, content string) PlanMessage {
	msg := PlanMessage{Role: role, Content: content, Timestamp: time.Now()}
	t.PlanMessages = append(t.PlanMessages, msg)
	return msg
}

// SetPlan records the agent's current plan text, replacing any prior draft.
func (t *Task) SetPlan(plan string) {
	t.Plan = plan
}

// SetPlanQAs records the clarification questions raised for the plan,
// discarding any previous round's answers.
func (t *Task) SetPlanQAs(questions []PlanQA) {
	t.PlanQAs = questions
}

// PlanPromptContext is what the Scheduler hands the agent at claim time:
// the approved plan only, never the back-and-forth transcript (Design
// Notes open question #1).
type PlanPromptContext struct {
	Description string
	Plan        string
	Answers     map[string]string
}

// BuildPlanPromptContext assembles the claim-time prompt context for a
// plan-approved task.
func (t *Task) BuildPlanPromptContext() PlanPromptContext {
	answers := make(map[string]string, len(t.PlanQAs))
	for _, qa := range t.PlanQAs {
		a := qa.Answer
		if a == "" {
			a = qa.Default
		}
		answers[qa.Question] = a
	}
	return PlanPromptContext{
		Description: t.Description,
		Plan:        t.Plan,
		Answers:     answers,
	}
}
