package models

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActionResultSucceeded(t *testing.T) {
	assert.True(t, (&ActionResult{Text: "hi"}).Succeeded(), "unset flag defaults to success")
	assert.True(t, (&ActionResult{Success: BoolPtr(true)}).Succeeded())
	assert.False(t, (&ActionResult{Success: BoolPtr(false)}).Succeeded())
}

func TestActionPlanSnapshot(t *testing.T) {
	plan := &ActionPlan{
		RunID:       uuid.New(),
		TotalSteps:  2,
		CurrentStep: 1,
		Steps: []*ActionStep{
			{Action: "FETCH", Status: StepCompleted, Result: &ActionResult{Text: "ok"}},
			{Action: "POST", Status: StepPending},
		},
		Thought: "do both",
	}

	snap := plan.Snapshot()
	require.NotNil(t, snap)

	// Mutating the snapshot must not touch the original ledger.
	snap.Steps[1].Status = StepFailed
	snap.Steps[1].Error = "boom"
	snap.CurrentStep = 2

	assert.Equal(t, StepPending, plan.Steps[1].Status)
	assert.Empty(t, plan.Steps[1].Error)
	assert.Equal(t, 1, plan.CurrentStep)
	assert.Equal(t, plan.RunID, snap.RunID)

	var nilPlan *ActionPlan
	assert.Nil(t, nilPlan.Snapshot())
}

func TestStateWorkingMemory(t *testing.T) {
	s := NewState()
	wm := s.WorkingMemory()
	wm["k"] = WorkingMemoryEntry{ActionName: "REPLY", Timestamp: 1}

	// Same map on re-access, and visible through Data.
	again := s.WorkingMemory()
	assert.Len(t, again, 1)
	assert.Equal(t, "REPLY", again["k"].ActionName)

	var zero State
	assert.NotNil(t, zero.WorkingMemory(), "lazily initialises Data")
}

func TestTaskHasTag(t *testing.T) {
	task := &Task{Tags: []string{TagQueue, TagRepeat}}
	assert.True(t, task.HasTag(TagQueue))
	assert.True(t, task.HasTag(TagRepeat))
	assert.False(t, task.HasTag("other"))
}
