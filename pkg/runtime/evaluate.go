package runtime

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/codeready-toolchain/murmur/pkg/models"
	"github.com/codeready-toolchain/murmur/pkg/plugin"
)

// Evaluate runs the post-turn reflection phase. Evaluators with AlwaysRun
// unset are skipped when the agent did not respond. The remaining
// evaluators validate concurrently; those that accept run their handlers
// concurrently. Handler failures are logged and do not affect siblings.
// Returns the evaluators that ran, in registration order.
func (rt *AgentRuntime) Evaluate(ctx context.Context, m *models.Memory, state *models.State, didRespond bool, cb plugin.Callback, responses []*models.Memory) ([]*plugin.Evaluator, error) {
	candidates := make([]*plugin.Evaluator, 0)
	for _, e := range rt.Evaluators() {
		if !e.AlwaysRun && !didRespond {
			continue
		}
		candidates = append(candidates, e)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	accepted := make([]bool, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	for i, e := range candidates {
		g.Go(func() error {
			if e.Validate == nil {
				accepted[i] = true
				return nil
			}
			ok, err := e.Validate(gctx, rt, m, state)
			if err != nil {
				rt.logger.Warn("evaluator validation failed", "evaluator", e.Name, "error", err)
				return nil
			}
			accepted[i] = ok
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var selected []*plugin.Evaluator
	for i, e := range candidates {
		if accepted[i] {
			selected = append(selected, e)
		}
	}

	runID := rt.CurrentRunID(ctx)
	var wg sync.WaitGroup
	for _, e := range selected {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = rt.EmitEvent(ctx, []string{models.EventEvaluatorStarted}, map[string]any{
				"evaluator": e.Name,
				"runId":     runID.String(),
			})
			if err := e.Handler(ctx, rt, m, state, cb, responses); err != nil {
				rt.logger.Error("evaluator handler failed", "evaluator", e.Name, "error", err)
				return
			}
			if err := rt.Log(ctx, &models.LogEntry{
				EntityID: rt.agentID,
				RoomID:   m.RoomID,
				Type:     "evaluator",
				Body: map[string]any{
					"evaluator":  e.Name,
					"messageId":  m.ID.String(),
					"didRespond": didRespond,
					"runId":      runID.String(),
				},
			}); err != nil {
				rt.logger.Error("failed to persist evaluator log", "evaluator", e.Name, "error", err)
			}
			_ = rt.EmitEvent(ctx, []string{models.EventEvaluatorCompleted}, map[string]any{
				"evaluator": e.Name,
				"runId":     runID.String(),
			})
		}()
	}
	wg.Wait()

	return selected, nil
}
