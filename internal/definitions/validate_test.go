package definitions_test

import (
	"errors"
	"testing"

	"github.com/JaimeStill/cascade/internal/conditions"
	"github.com/JaimeStill/cascade/internal/definitions"
)

func approvalGraph() ([]definitions.Step, []definitions.Connection) {
	steps := []definitions.Step{
		{Index: 0, Name: "Upload Contract", Type: definitions.StepUpload},
		{Index: 1, Name: "Capture Details", Type: definitions.StepForm, Form: []definitions.FormField{
			{Name: "amount", Type: definitions.FieldNumber, Required: true},
		}},
		{Index: 2, Name: "Manager Approval", Type: definitions.StepApproval, AssignedTo: &definitions.Assignee{
			Kind: definitions.AssignRole, Value: "manager",
		}},
		{Index: 3, Name: "Archive", Type: definitions.StepArchive},
		{Index: 4, Name: "Rejection Notice", Type: definitions.StepNotification, AssignedTo: &definitions.Assignee{
			Kind: definitions.AssignUser, Value: "submitter",
		}},
	}
	connections := []definitions.Connection{
		{SourceStep: 0, TargetStep: 1},
		{SourceStep: 1, TargetStep: 2},
		{SourceStep: 2, SourceConnector: "approved", TargetStep: 3},
		{SourceStep: 2, SourceConnector: "rejected", TargetStep: 4},
	}
	return steps, connections
}

func TestValidate(t *testing.T) {
	t.Run("valid approval graph", func(t *testing.T) {
		steps, connections := approvalGraph()
		if err := definitions.Validate(steps, connections); err != nil {
			t.Fatalf("Validate returned %v, want nil", err)
		}
	})

	t.Run("empty steps", func(t *testing.T) {
		err := definitions.Validate(nil, nil)
		if !errors.Is(err, definitions.ErrInvalidGraph) {
			t.Errorf("Validate = %v, want ErrInvalidGraph", err)
		}
	})

	t.Run("connection source out of range", func(t *testing.T) {
		steps, connections := approvalGraph()
		connections = append(connections, definitions.Connection{SourceStep: 9, TargetStep: 0})
		if err := definitions.Validate(steps, connections); !errors.Is(err, definitions.ErrInvalidGraph) {
			t.Errorf("Validate = %v, want ErrInvalidGraph", err)
		}
	})

	t.Run("connection target out of range", func(t *testing.T) {
		steps, connections := approvalGraph()
		connections[0].TargetStep = 42
		if err := definitions.Validate(steps, connections); !errors.Is(err, definitions.ErrInvalidGraph) {
			t.Errorf("Validate = %v, want ErrInvalidGraph", err)
		}
	})

	t.Run("unreachable step", func(t *testing.T) {
		steps, connections := approvalGraph()
		// Drop the rejected edge so step 4 is orphaned.
		connections = connections[:3]
		if err := definitions.Validate(steps, connections); !errors.Is(err, definitions.ErrInvalidGraph) {
			t.Errorf("Validate = %v, want ErrInvalidGraph", err)
		}
	})

	t.Run("duplicate outgoing connector", func(t *testing.T) {
		steps, connections := approvalGraph()
		connections = append(connections, definitions.Connection{
			SourceStep: 2, SourceConnector: "approved", TargetStep: 4,
		})
		if err := definitions.Validate(steps, connections); !errors.Is(err, definitions.ErrInvalidGraph) {
			t.Errorf("Validate = %v, want ErrInvalidGraph", err)
		}
	})

	t.Run("empty and default connectors collide", func(t *testing.T) {
		steps := []definitions.Step{
			{Index: 0, Name: "A", Type: definitions.StepUpload},
			{Index: 1, Name: "B", Type: definitions.StepArchive},
		}
		connections := []definitions.Connection{
			{SourceStep: 0, TargetStep: 1},
			{SourceStep: 0, SourceConnector: "default", TargetStep: 1},
		}
		if err := definitions.Validate(steps, connections); !errors.Is(err, definitions.ErrInvalidGraph) {
			t.Errorf("Validate = %v, want ErrInvalidGraph", err)
		}
	})

	t.Run("non-positional step index", func(t *testing.T) {
		steps, connections := approvalGraph()
		steps[1].Index = 7
		if err := definitions.Validate(steps, connections); !errors.Is(err, definitions.ErrInvalidGraph) {
			t.Errorf("Validate = %v, want ErrInvalidGraph", err)
		}
	})

	t.Run("unknown step type", func(t *testing.T) {
		steps, connections := approvalGraph()
		steps[0].Type = "webhook"
		if err := definitions.Validate(steps, connections); !errors.Is(err, definitions.ErrInvalidGraph) {
			t.Errorf("Validate = %v, want ErrInvalidGraph", err)
		}
	})

	t.Run("approval without assignee", func(t *testing.T) {
		steps, connections := approvalGraph()
		steps[2].AssignedTo = nil
		if err := definitions.Validate(steps, connections); !errors.Is(err, definitions.ErrInvalidGraph) {
			t.Errorf("Validate = %v, want ErrInvalidGraph", err)
		}
	})

	t.Run("script step without script name", func(t *testing.T) {
		steps := []definitions.Step{
			{Index: 0, Name: "Run", Type: definitions.StepScript},
		}
		if err := definitions.Validate(steps, nil); !errors.Is(err, definitions.ErrInvalidGraph) {
			t.Errorf("Validate = %v, want ErrInvalidGraph", err)
		}
	})

	t.Run("condition step without conditions", func(t *testing.T) {
		steps := []definitions.Step{
			{Index: 0, Name: "Branch", Type: definitions.StepCondition},
		}
		if err := definitions.Validate(steps, nil); !errors.Is(err, definitions.ErrInvalidGraph) {
			t.Errorf("Validate = %v, want ErrInvalidGraph", err)
		}
	})

	t.Run("condition targets missing step", func(t *testing.T) {
		steps := []definitions.Step{
			{Index: 0, Name: "Branch", Type: definitions.StepCondition, Conditions: []conditions.Condition{
				{Field: "amount", Operator: conditions.GreaterThan, Value: 100, TargetStep: 5},
			}},
		}
		if err := definitions.Validate(steps, nil); !errors.Is(err, definitions.ErrInvalidGraph) {
			t.Errorf("Validate = %v, want ErrInvalidGraph", err)
		}
	})

	t.Run("condition with unknown operator", func(t *testing.T) {
		steps := []definitions.Step{
			{Index: 0, Name: "Start", Type: definitions.StepUpload},
			{Index: 1, Name: "Branch", Type: definitions.StepCondition, Conditions: []conditions.Condition{
				{Field: "amount", Operator: "matches", Value: 100, TargetStep: 0},
			}},
		}
		connections := []definitions.Connection{{SourceStep: 0, TargetStep: 1}}
		if err := definitions.Validate(steps, connections); !errors.Is(err, definitions.ErrInvalidGraph) {
			t.Errorf("Validate = %v, want ErrInvalidGraph", err)
		}
	})

	t.Run("invalid timeout duration", func(t *testing.T) {
		steps, connections := approvalGraph()
		steps[2].Timeout = &definitions.Timeout{Duration: "soon", Action: definitions.TimeoutAutoReject}
		if err := definitions.Validate(steps, connections); !errors.Is(err, definitions.ErrInvalidGraph) {
			t.Errorf("Validate = %v, want ErrInvalidGraph", err)
		}
	})

	t.Run("auto_approve timeout on non-approval step", func(t *testing.T) {
		steps, connections := approvalGraph()
		steps[0].Timeout = &definitions.Timeout{Duration: "24h", Action: definitions.TimeoutAutoApprove}
		if err := definitions.Validate(steps, connections); !errors.Is(err, definitions.ErrInvalidGraph) {
			t.Errorf("Validate = %v, want ErrInvalidGraph", err)
		}
	})

	t.Run("notify timeout requires target", func(t *testing.T) {
		steps, connections := approvalGraph()
		steps[2].Timeout = &definitions.Timeout{Duration: "24h", Action: definitions.TimeoutNotify}
		if err := definitions.Validate(steps, connections); !errors.Is(err, definitions.ErrInvalidGraph) {
			t.Errorf("Validate = %v, want ErrInvalidGraph", err)
		}
	})

	t.Run("valid auto_reject timeout", func(t *testing.T) {
		steps, connections := approvalGraph()
		steps[2].Timeout = &definitions.Timeout{Duration: "24h", Action: definitions.TimeoutAutoReject}
		if err := definitions.Validate(steps, connections); err != nil {
			t.Errorf("Validate = %v, want nil", err)
		}
	})

	t.Run("select field requires options", func(t *testing.T) {
		steps, connections := approvalGraph()
		steps[1].Form = append(steps[1].Form, definitions.FormField{
			Name: "category", Type: definitions.FieldSelect,
		})
		if err := definitions.Validate(steps, connections); !errors.Is(err, definitions.ErrInvalidGraph) {
			t.Errorf("Validate = %v, want ErrInvalidGraph", err)
		}
	})

	t.Run("duplicate form field names", func(t *testing.T) {
		steps, connections := approvalGraph()
		steps[1].Form = append(steps[1].Form, definitions.FormField{
			Name: "amount", Type: definitions.FieldText,
		})
		if err := definitions.Validate(steps, connections); !errors.Is(err, definitions.ErrInvalidGraph) {
			t.Errorf("Validate = %v, want ErrInvalidGraph", err)
		}
	})
}
