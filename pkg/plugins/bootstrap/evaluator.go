package bootstrap

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/codeready-toolchain/murmur/pkg/ids"
	"github.com/codeready-toolchain/murmur/pkg/models"
	"github.com/codeready-toolchain/murmur/pkg/plugin"
)

const defaultReflectionInterval = 5

// reflectionEvaluator periodically distils the conversation into a fact
// memory. It only considers turns the agent responded to, and within those
// only every Nth message of the room.
func reflectionEvaluator() *plugin.Evaluator {
	return &plugin.Evaluator{
		Name:        "REFLECTION",
		Description: "Summarise recent conversation into stored facts",
		Validate: func(ctx context.Context, rt plugin.Runtime, m *models.Memory, state *models.State) (bool, error) {
			interval := reflectionInterval(rt)
			count, err := rt.CountMemories(ctx, m.RoomID, false, models.TableMessages)
			if err != nil {
				return false, fmt.Errorf("count room messages: %w", err)
			}
			return count > 0 && count%interval == 0, nil
		},
		Handler: func(ctx context.Context, rt plugin.Runtime, m *models.Memory, state *models.State, cb plugin.Callback, responses []*models.Memory) error {
			out, err := rt.UseModel(ctx, models.ModelTextSmall, models.TextParams{
				Prompt: reflectionPrompt(m, state),
			})
			if err != nil {
				return fmt.Errorf("summarise conversation: %w", err)
			}
			summary, ok := out.(string)
			if !ok || strings.TrimSpace(summary) == "" {
				return nil
			}
			_, err = rt.CreateMemory(ctx, &models.Memory{
				ID:       ids.New(),
				EntityID: rt.AgentID(),
				RoomID:   m.RoomID,
				Content: models.Content{
					Text:   strings.TrimSpace(summary),
					Source: "reflection",
					Type:   "fact",
				},
				Metadata: &models.MemoryMetadata{Type: models.MemoryTypeFact},
			}, models.TableFacts, true)
			if err != nil {
				return fmt.Errorf("store reflection fact: %w", err)
			}
			return nil
		},
	}
}

func reflectionPrompt(m *models.Memory, state *models.State) string {
	var b strings.Builder
	if state != nil && state.Text != "" {
		b.WriteString(state.Text)
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "Latest message: %s\n", m.Content.Text)
	b.WriteString("Summarise the new facts learned from this conversation in one short paragraph.")
	return b.String()
}

func reflectionInterval(rt plugin.Runtime) int {
	switch v := rt.GetSetting("REFLECTION_INTERVAL").(type) {
	case string:
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	case int:
		if v > 0 {
			return v
		}
	case float64:
		if v > 0 {
			return int(v)
		}
	}
	return defaultReflectionInterval
}
