package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/codeready-toolchain/murmur/pkg/ids"
	"github.com/codeready-toolchain/murmur/pkg/models"
	"github.com/codeready-toolchain/murmur/pkg/plugin"
)

// ProcessActions executes the actions declared across the response
// memories, strictly in declaration order. Multi-action turns run under
// an ActionPlan ledger; each step composes fresh state, dispatches the
// resolved handler, accumulates the result, feeds the bounded working
// memory, and persists one ACTION_RESULT memory plus one audit log.
// Handler failures become failed steps and the turn continues, unless the
// error is critical, which aborts after persisting.
func (rt *AgentRuntime) ProcessActions(ctx context.Context, m *models.Memory, responses []*models.Memory, state *models.State, cb plugin.Callback) error {
	var allActions []string
	for _, r := range responses {
		allActions = append(allActions, r.Content.Actions...)
	}
	if len(allActions) == 0 {
		return nil
	}

	ctx, runID := rt.StartRun(ctx)
	_ = rt.EmitEvent(ctx, []string{models.EventRunStarted}, map[string]any{
		"runId":   runID.String(),
		"actions": allActions,
	})

	var plan *models.ActionPlan
	if len(allActions) > 1 {
		plan = newActionPlan(runID, allActions, responses[0].Content.Thought)
	}

	turn := &actionTurn{
		runID:   runID,
		plan:    plan,
		working: workingMemoryFrom(state),
	}

	stepIndex := 0
	for _, r := range responses {
		for _, declared := range r.Content.Actions {
			abort, err := rt.runActionStep(ctx, m, r, responses, declared, stepIndex, turn, cb)
			if abort {
				rt.cacheActionResults(m, turn)
				return err
			}
			stepIndex++
		}
	}

	rt.cacheActionResults(m, turn)
	return nil
}

// actionTurn is the mutable per-turn ledger the step loop threads through.
type actionTurn struct {
	runID   uuid.UUID
	plan    *models.ActionPlan
	results []*models.ActionResult
	working map[string]models.WorkingMemoryEntry
}

func newActionPlan(runID uuid.UUID, actions []string, thought string) *models.ActionPlan {
	if thought == "" {
		thought = fmt.Sprintf("Executing %d actions: %s", len(actions), strings.Join(actions, ", "))
	}
	steps := make([]*models.ActionStep, len(actions))
	for i, a := range actions {
		steps[i] = &models.ActionStep{Action: a, Status: models.StepPending}
	}
	return &models.ActionPlan{
		RunID:       runID,
		TotalSteps:  len(actions),
		CurrentStep: 1,
		Steps:       steps,
		Thought:     thought,
		StartTime:   nowMillis(),
	}
}

func workingMemoryFrom(state *models.State) map[string]models.WorkingMemoryEntry {
	if state != nil {
		if wm, ok := state.Data["workingMemory"].(map[string]models.WorkingMemoryEntry); ok {
			return wm
		}
	}
	return make(map[string]models.WorkingMemoryEntry)
}

// runActionStep executes one declared action. The returned abort flag is
// set only for critical errors; every other failure is recorded and the
// turn continues.
func (rt *AgentRuntime) runActionStep(ctx context.Context, m, response *models.Memory, responses []*models.Memory, declared string, stepIndex int, turn *actionTurn, cb plugin.Callback) (bool, error) {
	// The cached state for m.ID carries the previous step's injected
	// ledger, which is what ACTION_STATE renders from.
	state, err := rt.ComposeState(ctx, m, []string{"RECENT_MESSAGES", "ACTION_STATE"}, true, false)
	if err != nil {
		return true, err
	}
	state.Data["actionResults"] = turn.results
	state.Data["workingMemory"] = turn.working
	if turn.plan != nil {
		state.Data["actionPlan"] = turn.plan.Snapshot()
	}

	action := rt.resolveAction(declared)
	if action == nil {
		rt.logger.Warn("action not found", "action", declared)
		errMsg := fmt.Sprintf("action %s not found", declared)
		turn.markStepFailed(stepIndex, errMsg)
		rt.persistActionResult(ctx, m, actionOutcome{
			declared: declared, name: declared, status: models.StepFailed,
			errText: errMsg, stepIndex: stepIndex, turn: turn,
		})
		return false, nil
	}

	scope := &actionScope{ActionName: action.Name, ActionID: ids.New()}
	stepCtx := withActionScope(ctx, scope)
	opts := &plugin.ActionOptions{
		Context: &plugin.ActionContext{PreviousResults: turn.results},
		Plan:    turn.plan.Snapshot(),
	}

	_ = rt.EmitEvent(ctx, []string{models.EventActionStarted}, map[string]any{
		"actionName": action.Name,
		"actionId":   scope.ActionID.String(),
		"runId":      turn.runID.String(),
	})

	result, handlerErr := action.Handler(stepCtx, rt, m, state, opts, cb, responses)
	if handlerErr != nil {
		rt.logger.Error("action handler failed", "action", action.Name, "error", handlerErr)
		errResult := &models.ActionResult{
			Success: models.BoolPtr(false),
			Data: map[string]any{
				"actionName": action.Name,
				"error":      handlerErr.Error(),
			},
			Error: handlerErr.Error(),
		}
		turn.results = append(turn.results, errResult)
		turn.markStepFailed(stepIndex, handlerErr.Error())
		rt.persistActionResult(ctx, m, actionOutcome{
			declared: declared, name: action.Name, actionID: scope.ActionID,
			status: models.StepFailed, errText: handlerErr.Error(),
			stepIndex: stepIndex, turn: turn,
		})
		rt.logActionStep(ctx, m, action.Name, scope, state, responses, errResult, turn)
		if plugin.IsCritical(handlerErr) {
			rt.logger.Error("critical action error, aborting run", "action", action.Name)
			return true, handlerErr
		}
		return false, nil
	}

	if result == nil {
		// Legacy handlers return nothing; the plan step still records a
		// marker result (a completed step always carries one), but the
		// accumulated results stay free of synthetic entries.
		turn.markStepCompleted(stepIndex, &models.ActionResult{
			Success: models.BoolPtr(true),
			Data: map[string]any{
				"actionName": action.Name,
				"legacy":     true,
			},
		})
		rt.persistActionResult(ctx, m, actionOutcome{
			declared: declared, name: action.Name, actionID: scope.ActionID,
			status: models.StepCompleted, legacy: true,
			stepIndex: stepIndex, turn: turn,
		})
		rt.logActionStep(ctx, m, action.Name, scope, state, responses, nil, turn)
		return false, nil
	}

	if result.Data == nil {
		result.Data = map[string]any{}
	}
	if _, ok := result.Data["actionName"]; !ok {
		result.Data["actionName"] = action.Name
	}
	turn.results = append(turn.results, result)

	for k, v := range result.Values {
		state.Values[k] = v
	}
	state.Data["actionResults"] = turn.results

	turn.addWorkingMemory(declared, action.Name, result, rt.maxWorking)
	turn.markStepCompleted(stepIndex, result)
	if turn.plan != nil {
		state.Data["actionPlan"] = turn.plan.Snapshot()
	}

	_ = rt.EmitEvent(ctx, []string{models.EventActionCompleted}, map[string]any{
		"actionName": action.Name,
		"actionId":   scope.ActionID.String(),
		"runId":      turn.runID.String(),
		"success":    result.Succeeded(),
	})

	rt.persistActionResult(ctx, m, actionOutcome{
		declared: declared, name: action.Name, actionID: scope.ActionID,
		status: models.StepCompleted, result: result,
		stepIndex: stepIndex, turn: turn,
	})
	rt.logActionStep(ctx, m, action.Name, scope, state, responses, result, turn)
	return false, nil
}

func (t *actionTurn) markStepFailed(i int, errMsg string) {
	if t.plan == nil || i >= len(t.plan.Steps) {
		return
	}
	t.plan.Steps[i].Status = models.StepFailed
	t.plan.Steps[i].Error = errMsg
	t.syncCurrentStep()
}

func (t *actionTurn) markStepCompleted(i int, result *models.ActionResult) {
	if t.plan == nil || i >= len(t.plan.Steps) {
		return
	}
	t.plan.Steps[i].Status = models.StepCompleted
	t.plan.Steps[i].Result = result
	t.syncCurrentStep()
}

// syncCurrentStep keeps CurrentStep equal to the number of non-pending
// steps, clamped to TotalSteps.
func (t *actionTurn) syncCurrentStep() {
	done := 0
	for _, s := range t.plan.Steps {
		if s.Status != models.StepPending {
			done++
		}
	}
	t.plan.CurrentStep = done
}

// addWorkingMemory inserts the step's result under a fresh key and
// enforces the size bound: when over, keep exactly max newest entries by
// timestamp.
func (t *actionTurn) addWorkingMemory(declared, actionName string, result *models.ActionResult, max int) {
	key := fmt.Sprintf("action_%s_%s", declared, ids.NewString())
	t.working[key] = models.WorkingMemoryEntry{
		ActionName: actionName,
		Result:     result,
		Timestamp:  nowMillis(),
	}
	if len(t.working) <= max {
		return
	}
	type keyed struct {
		key   string
		entry models.WorkingMemoryEntry
	}
	entries := make([]keyed, 0, len(t.working))
	for k, e := range t.working {
		entries = append(entries, keyed{k, e})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].entry.Timestamp > entries[j].entry.Timestamp
	})
	for _, drop := range entries[max:] {
		delete(t.working, drop.key)
	}
}

// actionOutcome carries everything persistActionResult needs for one step.
type actionOutcome struct {
	declared  string
	name      string
	actionID  uuid.UUID
	status    models.StepStatus
	result    *models.ActionResult
	legacy    bool
	errText   string
	stepIndex int
	turn      *actionTurn
}

// persistActionResult writes the step's ACTION_RESULT memory in the
// documented content format.
func (rt *AgentRuntime) persistActionResult(ctx context.Context, m *models.Memory, out actionOutcome) {
	text := fmt.Sprintf("Executed action: %s", out.name)
	source := "action"
	if out.result != nil && out.result.Text != "" {
		text = out.result.Text
	}
	if out.status == models.StepFailed {
		source = "auto"
	}

	extra := map[string]any{
		"actionName":   out.name,
		"actionStatus": string(out.status),
		"runId":        out.turn.runID.String(),
	}
	switch {
	case out.errText != "":
		extra["error"] = out.errText
	case out.legacy:
		extra["legacy"] = true
	case out.result != nil:
		extra["actionResult"] = out.result
	}
	if out.turn.plan != nil {
		extra["planStep"] = fmt.Sprintf("%d/%d", out.turn.plan.CurrentStep, out.turn.plan.TotalSteps)
		extra["planThought"] = out.turn.plan.Thought
	}

	metadata := &models.MemoryMetadata{
		Type:       models.MemoryTypeActionResult,
		ActionName: out.name,
		RunID:      out.turn.runID,
		ActionID:   out.actionID,
		Error:      out.errText,
	}
	if out.turn.plan != nil {
		metadata.TotalSteps = out.turn.plan.TotalSteps
		metadata.CurrentStep = out.turn.plan.CurrentStep
	}

	memory := &models.Memory{
		EntityID: rt.agentID,
		RoomID:   m.RoomID,
		WorldID:  m.WorldID,
		Content: models.Content{
			Text:   text,
			Source: source,
			Type:   "action_result",
			Extra:  extra,
		},
		Metadata: metadata,
	}
	if _, err := rt.CreateMemory(ctx, memory, models.TableMessages, false); err != nil {
		rt.logger.Error("failed to persist action result", "action", out.name, "error", err)
	}
}

// logActionStep writes the step's audit log, including every prompt the
// action's model calls produced.
func (rt *AgentRuntime) logActionStep(ctx context.Context, m *models.Memory, actionName string, scope *actionScope, state *models.State, responses []*models.Memory, result *models.ActionResult, turn *actionTurn) {
	prompts := scope.snapshotPrompts()
	body := map[string]any{
		"action":      actionName,
		"actionId":    scope.ActionID.String(),
		"message":     m,
		"state":       state,
		"responses":   responses,
		"result":      result,
		"prompts":     prompts,
		"promptCount": len(prompts),
		"runId":       turn.runID.String(),
	}
	if turn.plan != nil {
		body["planStep"] = fmt.Sprintf("%d/%d", turn.plan.CurrentStep, turn.plan.TotalSteps)
	}
	if err := rt.Log(ctx, &models.LogEntry{
		EntityID: rt.agentID,
		RoomID:   m.RoomID,
		Type:     "action",
		Body:     body,
	}); err != nil {
		rt.logger.Error("failed to persist action log", "action", actionName, "error", err)
	}
}

// cacheActionResults leaves the turn's outcome in the state cache for
// evaluators and later providers.
func (rt *AgentRuntime) cacheActionResults(m *models.Memory, turn *actionTurn) {
	if m == nil || m.ID == uuid.Nil {
		return
	}
	text := ""
	if raw, err := json.Marshal(turn.results); err == nil {
		text = string(raw)
	}
	state := &models.State{
		Values: map[string]any{"actionResults": turn.results},
		Data: map[string]any{
			"actionResults": turn.results,
			"actionPlan":    turn.plan.Snapshot(),
		},
		Text: text,
	}
	rt.stateCache.Add(m.ID.String()+"_action_results", state)
}

// normalizeActionName lowercases and strips underscores so declared names
// match registered ones across naming conventions.
func normalizeActionName(name string) string {
	return strings.ReplaceAll(strings.ToLower(name), "_", "")
}

// resolveAction maps a declared action name to a registered action:
// exact name, then name substring either direction, then exact simile,
// then simile substring either direction.
func (rt *AgentRuntime) resolveAction(declared string) *plugin.Action {
	rt.mu.RLock()
	actions := make([]*plugin.Action, len(rt.actions))
	copy(actions, rt.actions)
	rt.mu.RUnlock()

	want := normalizeActionName(declared)

	for _, a := range actions {
		if normalizeActionName(a.Name) == want {
			rt.logger.Debug("Action found (exact match): " + a.Name)
			return a
		}
	}
	for _, a := range actions {
		have := normalizeActionName(a.Name)
		if strings.Contains(have, want) || strings.Contains(want, have) {
			rt.logger.Debug("Action found (substring match): " + a.Name)
			return a
		}
	}
	for _, a := range actions {
		for _, simile := range a.Similes {
			if normalizeActionName(simile) == want {
				rt.logger.Debug("Action found in similes (exact match): " + a.Name)
				return a
			}
		}
	}
	for _, a := range actions {
		for _, simile := range a.Similes {
			have := normalizeActionName(simile)
			if strings.Contains(have, want) || strings.Contains(want, have) {
				rt.logger.Debug("Action found in similes (substring match): " + a.Name)
				return a
			}
		}
	}
	return nil
}
