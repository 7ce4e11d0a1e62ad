package definitions

import (
	"fmt"
	"time"
)

// Validate checks the structural integrity of a step/connection graph.
// It runs before any create or update commits, so stored definitions are
// always executable: indices resolve, types are known, every step is
// reachable from step 0, and branch routing has somewhere to go.
func Validate(steps []Step, connections []Connection) error {
	if len(steps) == 0 {
		return invalidGraph("definition requires at least one step")
	}

	for i := range steps {
		if err := validateStep(i, &steps[i], len(steps)); err != nil {
			return err
		}
	}

	seen := make(map[connectorKey]bool, len(connections))
	for _, c := range connections {
		if c.SourceStep < 0 || c.SourceStep >= len(steps) {
			return invalidGraph("connection source step %d does not exist", c.SourceStep)
		}
		if c.TargetStep < 0 || c.TargetStep >= len(steps) {
			return invalidGraph("connection target step %d does not exist", c.TargetStep)
		}

		key := connectorKey{c.SourceStep, normalizeConnector(c.SourceConnector)}
		if seen[key] {
			return invalidGraph(
				"step %d declares duplicate outgoing connector %q",
				c.SourceStep, key.connector,
			)
		}
		seen[key] = true
	}

	if orphan, ok := findOrphan(steps, connections); ok {
		return invalidGraph("step %d (%s) is unreachable from step 0", orphan, steps[orphan].Name)
	}

	return nil
}

type connectorKey struct {
	step      int
	connector string
}

func normalizeConnector(connector string) string {
	if connector == "" {
		return DefaultConnector
	}
	return connector
}

func validateStep(index int, step *Step, stepCount int) error {
	if step.Index != index {
		return invalidGraph("step %d declares index %d; indices must be positional", index, step.Index)
	}
	if step.Name == "" {
		return invalidGraph("step %d requires a name", index)
	}
	if !step.Type.Valid() {
		return invalidGraph("step %d has unknown type %q", index, step.Type)
	}

	if step.AssignedTo != nil && !step.AssignedTo.Kind.Valid() {
		return invalidGraph("step %d has unknown assignee kind %q", index, step.AssignedTo.Kind)
	}

	switch step.Type {
	case StepApproval:
		if step.AssignedTo == nil {
			return invalidGraph("approval step %d requires an assignee", index)
		}
	case StepCondition:
		if len(step.Conditions) == 0 {
			return invalidGraph("condition step %d requires at least one condition", index)
		}
	case StepScript:
		if step.Script == "" {
			return invalidGraph("script step %d requires a script name", index)
		}
	case StepForm:
		if len(step.Form) == 0 {
			return invalidGraph("form step %d requires at least one field", index)
		}
	}

	names := make(map[string]bool, len(step.Form))
	for _, field := range step.Form {
		if field.Name == "" {
			return invalidGraph("step %d declares a form field without a name", index)
		}
		if !field.Type.Valid() {
			return invalidGraph("step %d field %q has unknown type %q", index, field.Name, field.Type)
		}
		if field.Type == FieldSelect && len(field.Options) == 0 {
			return invalidGraph("step %d select field %q requires options", index, field.Name)
		}
		if names[field.Name] {
			return invalidGraph("step %d declares duplicate form field %q", index, field.Name)
		}
		names[field.Name] = true
	}

	for _, cond := range step.Conditions {
		if !cond.Operator.Valid() {
			return invalidGraph("step %d condition on %q has unknown operator %q", index, cond.Field, cond.Operator)
		}
		if cond.Field == "" {
			return invalidGraph("step %d declares a condition without a field", index)
		}
		if cond.TargetStep < 0 || cond.TargetStep >= stepCount {
			return invalidGraph("step %d condition targets missing step %d", index, cond.TargetStep)
		}
	}

	if step.Timeout != nil {
		if !step.Timeout.Action.Valid() {
			return invalidGraph("step %d timeout has unknown action %q", index, step.Timeout.Action)
		}
		d, err := time.ParseDuration(step.Timeout.Duration)
		if err != nil || d <= 0 {
			return invalidGraph("step %d timeout duration %q is invalid", index, step.Timeout.Duration)
		}
		if step.Timeout.Action == TimeoutNotify && step.Timeout.NotifyUser == "" {
			return invalidGraph("step %d notify timeout requires notify_user", index)
		}
		if step.Timeout.Action == TimeoutAutoApprove || step.Timeout.Action == TimeoutAutoReject {
			if step.Type != StepApproval {
				return invalidGraph(
					"step %d declares %s timeout on non-approval step",
					index, step.Timeout.Action,
				)
			}
		}
	}

	return nil
}

// findOrphan walks the graph from step 0 across connections and condition
// targets. Any step not visited is an orphan.
func findOrphan(steps []Step, connections []Connection) (int, bool) {
	reachable := make([]bool, len(steps))
	queue := []int{0}
	reachable[0] = true

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		visit := func(target int) {
			if target >= 0 && target < len(steps) && !reachable[target] {
				reachable[target] = true
				queue = append(queue, target)
			}
		}

		for _, c := range connections {
			if c.SourceStep == current {
				visit(c.TargetStep)
			}
		}
		for _, cond := range steps[current].Conditions {
			visit(cond.TargetStep)
		}
	}

	for i, ok := range reachable {
		if !ok {
			return i, true
		}
	}
	return 0, false
}

// describeGraph summarizes a graph for logging.
func describeGraph(steps []Step, connections []Connection) string {
	return fmt.Sprintf("%d steps, %d connections", len(steps), len(connections))
}
