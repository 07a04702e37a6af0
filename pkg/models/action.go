package models

import "github.com/google/uuid"

// ActionResult is what an action handler hands back to the engine.
// Success is a pointer so "not stated" is distinguishable from an explicit
// failure: a result without the flag counts as a success.
type ActionResult struct {
	Success *bool          `json:"success,omitempty"`
	Values  map[string]any `json:"values,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
	Text    string         `json:"text,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// Succeeded reports whether the result counts as successful.
func (r *ActionResult) Succeeded() bool {
	return r.Success == nil || *r.Success
}

// BoolPtr returns a pointer to b, for filling optional flags.
func BoolPtr(b bool) *bool {
	return &b
}

// StepStatus is the lifecycle state of one planned action step.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
)

// ActionStep is one entry in an ActionPlan.
type ActionStep struct {
	Action string        `json:"action"`
	Status StepStatus    `json:"status"`
	Result *ActionResult `json:"result,omitempty"`
	Error  string        `json:"error,omitempty"`
}

// ActionPlan is the execution ledger for a multi-action turn. CurrentStep
// always equals the number of non-pending steps plus one while a step is
// executing, clamped to TotalSteps.
type ActionPlan struct {
	RunID       uuid.UUID     `json:"runId"`
	TotalSteps  int           `json:"totalSteps"`
	CurrentStep int           `json:"currentStep"`
	Steps       []*ActionStep `json:"steps"`
	Thought     string        `json:"thought,omitempty"`
	StartTime   int64         `json:"startTime"`
}

// Snapshot returns a deep copy safe to hand to handlers; mutating the
// copy cannot corrupt the engine's ledger.
func (p *ActionPlan) Snapshot() *ActionPlan {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Steps = make([]*ActionStep, len(p.Steps))
	for i, s := range p.Steps {
		sc := *s
		cp.Steps[i] = &sc
	}
	return &cp
}

/// WorkingMemoryEntry is one bounded history slot: which action produced
// which result, and when.
type WorkingMemoryEntry struct {
	ActionName string        `json:"actionName"`
	Result     *ActionResult `json:"result"`
	Timestamp  int64         `json:"timestamp"`
}
