package bootstrap

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/codeready-toolchain/murmur/pkg/models"
	"github.com/codeready-toolchain/murmur/pkg/plugin"
	"github.com/codeready-toolchain/murmur/pkg/store"
)

const defaultRecentMessagesCount = 10

// characterProvider supplies the agent's identity early in composition so
// later providers and prompts can refer to it.
func characterProvider() *plugin.Provider {
	return &plugin.Provider{
		Name:        "CHARACTER",
		Description: "Agent name, bio, system prompt and topics",
		Position:    -10,
		Get: func(ctx context.Context, rt plugin.Runtime, m *models.Memory, state *models.State) (*models.ProviderResult, error) {
			ch := rt.Character()
			var b strings.Builder
			fmt.Fprintf(&b, "# About %s\n", ch.Name)
			if len(ch.Bio) > 0 {
				b.WriteString(strings.Join(ch.Bio, "\n"))
				b.WriteString("\n")
			}
			if len(ch.Topics) > 0 {
				fmt.Fprintf(&b, "Topics of interest: %s\n", strings.Join(ch.Topics, ", "))
			}
			return &models.ProviderResult{
				Text: strings.TrimRight(b.String(), "\n"),
				Values: map[string]any{
					"agentName": ch.Name,
					"bio":       strings.Join(ch.Bio, " "),
				},
				Data: map[string]any{"system": ch.System},
			}, nil
		},
	}
}

// timeProvider anchors the turn in wall-clock time.
func timeProvider() *plugin.Provider {
	return &plugin.Provider{
		Name:        "TIME",
		Description: "Current UTC date and time",
		Position:    -5,
		Get: func(ctx context.Context, rt plugin.Runtime, m *models.Memory, state *models.State) (*models.ProviderResult, error) {
			now := time.Now().UTC()
			return &models.ProviderResult{
				Text:   "The current date and time is " + now.Format(time.RFC1123),
				Values: map[string]any{"time": now.Format(time.RFC3339)},
			}, nil
		},
	}
}

// recentMessagesProvider renders the last N messages of the room in
// chronological order, attributing each line to its author's entity name.
func recentMessagesProvider() *plugin.Provider {
	return &plugin.Provider{
		Name:        "RECENT_MESSAGES",
		Description: "Recent conversation history for the room",
		Position:    100,
		Get: func(ctx context.Context, rt plugin.Runtime, m *models.Memory, state *models.State) (*models.ProviderResult, error) {
			count := recentMessagesCount(rt)
			memories, err := rt.GetMemories(ctx, store.MemoryQuery{
				TableName: models.TableMessages,
				RoomID:    m.RoomID,
				Count:     count,
			})
			if err != nil {
				return nil, fmt.Errorf("load recent messages: %w", err)
			}
			names := entityNames(ctx, rt, m.RoomID)

			// Store order is newest-first; the transcript reads oldest-first.
			var b strings.Builder
			for i := len(memories) - 1; i >= 0; i-- {
				mem := memories[i]
				if mem.Content.Text == "" {
					continue
				}
				fmt.Fprintf(&b, "%s: %s\n", names.lookup(mem.EntityID), mem.Content.Text)
			}
			text := strings.TrimRight(b.String(), "\n")
			if text != "" {
				text = "# Recent messages\n" + text
			}
			return &models.ProviderResult{
				Text:   text,
				Values: map[string]any{"recentMessagesCount": len(memories)},
				Data:   map[string]any{"recentMessages": memories},
			}, nil
		},
	}
}

// actionStateProvider exposes the engine's per-turn ledger to multi-step
// actions. Private: it only composes when the engine asks for it by name.
func actionStateProvider() *plugin.Provider {
	return &plugin.Provider{
		Name:        "ACTION_STATE",
		Description: "Accumulated action results and working memory for the current run",
		Position:    150,
		Private:     true,
		Get: func(ctx context.Context, rt plugin.Runtime, m *models.Memory, state *models.State) (*models.ProviderResult, error) {
			// The composer hands providers the prior state; on a cold
			// composition there is none and there is nothing to report.
			if state == nil || state.Data == nil {
				return &models.ProviderResult{}, nil
			}
			var b strings.Builder
			if plan, ok := state.Data["actionPlan"].(*models.ActionPlan); ok && plan != nil {
				fmt.Fprintf(&b, "# Action plan (step %d of %d)\n%s\n", plan.CurrentStep, plan.TotalSteps, plan.Thought)
			}
			if results, ok := state.Data["actionResults"].([]*models.ActionResult); ok && len(results) > 0 {
				b.WriteString("# Previous action results\n")
				for _, r := range results {
					name, _ := r.Data["actionName"].(string)
					status := "completed"
					if !r.Succeeded() {
						status = "failed"
					}
					fmt.Fprintf(&b, "- %s (%s): %s\n", name, status, r.Text)
				}
			}
			if wm, ok := state.Data["workingMemory"].(map[string]models.WorkingMemoryEntry); ok && len(wm) > 0 {
				fmt.Fprintf(&b, "# Working memory\n%d entries\n", len(wm))
			}
			return &models.ProviderResult{
				Text: strings.TrimRight(b.String(), "\n"),
			}, nil
		},
	}
}

func recentMessagesCount(rt plugin.Runtime) int {
	switch v := rt.GetSetting("RECENT_MESSAGES_COUNT").(type) {
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
	case json.Number:
		if n, err := v.Int64(); err == nil && n > 0 {
			return int(n)
		}
	}
	return defaultRecentMessagesCount
}

// nameIndex maps entity IDs to display names for transcript rendering.
type nameIndex map[uuid.UUID]string

func entityNames(ctx context.Context, rt plugin.Runtime, roomID uuid.UUID) nameIndex {
	idx := make(nameIndex)
	entities, err := rt.GetEntitiesForRoom(ctx, roomID, false)
	if err != nil {
		return idx
	}
	for _, e := range entities {
		if len(e.Names) > 0 {
			idx[e.ID] = e.Names[0]
		}
	}
	return idx
}

func (n nameIndex) lookup(id uuid.UUID) string {
	if name, ok := n[id]; ok {
		return name
	}
	return "Unknown"
}
