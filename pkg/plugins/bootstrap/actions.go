package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"github.com/codeready-toolchain/murmur/pkg/models"
	"github.com/codeready-toolchain/murmur/pkg/plugin"
)

// replyAction generates the agent's answer for the current turn: it asks
// the large text model for a reply grounded in the composed state and
// delivers it through the turn callback.
func replyAction() *plugin.Action {
	return &plugin.Action{
		Name:        "REPLY",
		Similes:     []string{"RESPOND", "ANSWER", "SAY"},
		Description: "Generate and send a conversational reply to the current message",
		Validate: func(ctx context.Context, rt plugin.Runtime, m *models.Memory, state *models.State) (bool, error) {
			return true, nil
		},
		Handler: func(ctx context.Context, rt plugin.Runtime, m *models.Memory, state *models.State, opts *plugin.ActionOptions, cb plugin.Callback, responses []*models.Memory) (*models.ActionResult, error) {
			out, err := rt.UseModel(ctx, models.ModelTextLarge, models.TextParams{
				Prompt: replyPrompt(rt, m, state),
				System: rt.Character().System,
			})
			if err != nil {
				return nil, fmt.Errorf("generate reply: %w", err)
			}
			text, ok := out.(string)
			if !ok {
				return nil, fmt.Errorf("unexpected reply model output %T", out)
			}
			text = strings.TrimSpace(text)

			if cb != nil {
				if _, err := cb(ctx, models.Content{
					Text:      text,
					Source:    m.Content.Source,
					InReplyTo: m.ID.String(),
					Actions:   []string{"REPLY"},
				}); err != nil {
					return nil, fmt.Errorf("deliver reply: %w", err)
				}
			}

			return &models.ActionResult{
				Text:   text,
				Values: map[string]any{"lastReply": text},
			}, nil
		},
	}
}

func replyPrompt(rt plugin.Runtime, m *models.Memory, state *models.State) string {
	var b strings.Builder
	if state != nil && state.Text != "" {
		b.WriteString(state.Text)
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "New message: %s\n", m.Content.Text)
	fmt.Fprintf(&b, "Write %s's reply. Respond with the reply text only.", rt.Character().Name)
	return b.String()
}

// ignoreAction deliberately does nothing. It returns the legacy nil result
// so the engine records the step without accumulating anything.
func ignoreAction() *plugin.Action {
	return &plugin.Action{
		Name:        "IGNORE",
		Similes:     []string{"STOP_TALKING", "DO_NOTHING"},
		Description: "Ignore the current message and produce no reply",
		Validate: func(ctx context.Context, rt plugin.Runtime, m *models.Memory, state *models.State) (bool, error) {
			return true, nil
		},
		Handler: func(ctx context.Context, rt plugin.Runtime, m *models.Memory, state *models.State, opts *plugin.ActionOptions, cb plugin.Callback, responses []*models.Memory) (*models.ActionResult, error) {
			return nil, nil
		},
	}
}

// sendMessageAction routes content to an arbitrary registered transport.
// The target comes from the message content's "target" object.
func sendMessageAction() *plugin.Action {
	return &plugin.Action{
		Name:        "SEND_MESSAGE",
		Similes:     []string{"FORWARD_MESSAGE", "RELAY"},
		Description: "Send a message to a target room, entity or channel on a connected transport",
		Validate: func(ctx context.Context, rt plugin.Runtime, m *models.Memory, state *models.State) (bool, error) {
			return targetFromContent(m.Content) != nil, nil
		},
		Handler: func(ctx context.Context, rt plugin.Runtime, m *models.Memory, state *models.State, opts *plugin.ActionOptions, cb plugin.Callback, responses []*models.Memory) (*models.ActionResult, error) {
			target := targetFromContent(m.Content)
			if target == nil {
				return nil, fmt.Errorf("message content carries no target")
			}
			content := models.Content{Text: m.Content.Text, Source: target.Source}
			if err := rt.SendMessageToTarget(ctx, target, content); err != nil {
				return nil, fmt.Errorf("send to %s: %w", target.Source, err)
			}
			return &models.ActionResult{
				Text: fmt.Sprintf("Sent message to %s", target.Source),
				Data: map[string]any{"target": target.Source},
			}, nil
		},
	}
}

// targetFromContent reads the extra "target" object off a message, if any.
func targetFromContent(c models.Content) *models.TargetInfo {
	raw, ok := c.Extra["target"].(map[string]any)
	if !ok {
		return nil
	}
	source, _ := raw["source"].(string)
	if source == "" {
		return nil
	}
	target := &models.TargetInfo{Source: source}
	if ch, ok := raw["channelId"].(string); ok {
		target.ChannelID = ch
	}
	if th, ok := raw["threadId"].(string); ok {
		target.ThreadID = th
	}
	return target
}
