package coordination

import (
	"context"
	"fmt"
	"strings"

	"agentlink/internal/domain"
	"agentlink/internal/infra/jsonout"
)

// defaultWorkerRoles are assigned, in order, to workers without a role.
var defaultWorkerRoles = []string{"researcher", "analyst", "writer"}

var planSchema = jsonout.MustCompile(`{
  "type": "object",
  "required": ["subtasks"],
  "properties": {
    "subtasks": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["task"],
        "properties": {
          "worker": {"type": "string"},
          "task": {"type": "string", "minLength": 1}
        }
      }
    }
  }
}`)

// Plan is the manager's decomposition of a task.
type Plan struct {
	Subtasks []Subtask `json:"subtasks"`
}

// Subtask is one worker assignment.
type Subtask struct {
	Worker string `json:"worker,omitempty"`
	Task   string `json:"task"`
}

// ParsePlan decodes the manager's reply. ok is false when the reply is not a
// valid JSON plan.
func ParsePlan(reply string) (Plan, bool) {
	var p Plan
	if err := planSchema.Decode(reply, &p); err != nil {
		return Plan{}, false
	}
	return p, true
}

// assignments maps the plan onto workers by position. Workers without a
// subtask (or every worker when there is no plan) get the whole task.
func assignments(task string, plan Plan, ok bool, workers int) []string {
	out := make([]string, workers)
	for i := range out {
		out[i] = task
		if ok && i < len(plan.Subtasks) {
			out[i] = strings.TrimSpace(plan.Subtasks[i].Task)
		}
	}
	return out
}

// hierarchical runs [manager, worker...]: the manager plans, workers run in
// order with all prior outputs as context, and the manager synthesizes.
func (e *Engine) hierarchical(ctx context.Context, st *runState, req Request) error {
	manager := roleOr(req.Participants[0], "manager")
	workers := make([]domain.AgentRef, len(req.Participants)-1)
	for i, w := range req.Participants[1:] {
		def := "worker"
		if i < len(defaultWorkerRoles) {
			def = defaultWorkerRoles[i]
		}
		workers[i] = roleOr(w, def)
	}

	planReply, err := st.invoke(ctx, call{name: "plan", ref: manager, prompt: planPrompt(req.Task, workers)})
	if err != nil {
		return err
	}
	plan, ok := ParsePlan(planReply)
	planContext := ""
	if !ok {
		e.logger.Debug("manager plan is not JSON, giving every worker the whole task", "run_id", st.run.ID)
		planContext = planReply
	}
	subtasks := assignments(req.Task, plan, ok, len(workers))

	var work []argument
	for i, w := range workers {
		out, err := st.invoke(ctx, call{
			name:   fmt.Sprintf("work_%d_%s", i+1, stepSlug(w.Role)),
			ref:    w,
			prompt: workerPrompt(req.Task, subtasks[i], planContext, work),
		})
		if err != nil {
			return err
		}
		work = append(work, argument{label: w.String(), text: out})
	}

	final, err := st.invoke(ctx, call{name: "synthesis", ref: manager, prompt: synthesisPrompt(req.Task, planReply, work)})
	if err != nil {
		return err
	}
	st.setFinal(final)
	return nil
}

// stepSlug makes a free-text role safe for use in a step name.
func stepSlug(role string) string {
	f := strings.Fields(strings.ToLower(role))
	if len(f) == 0 {
		return "worker"
	}
	return strings.Join(f, "_")
}
