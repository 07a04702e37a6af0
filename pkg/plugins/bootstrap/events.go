package bootstrap

import (
	"context"
	"fmt"

	"github.com/codeready-toolchain/murmur/pkg/ids"
	"github.com/codeready-toolchain/murmur/pkg/models"
	"github.com/codeready-toolchain/murmur/pkg/plugin"
)

// Payload keys the MESSAGE_RECEIVED emitter (the API server or an
// embedding caller) supplies.
const (
	PayloadMessage  = "message"
	PayloadCallback = "callback"
)

// onMessageReceived is the reference turn pipeline: persist the inbound
// message, compose state, run the REPLY action, then evaluate.
func (b *bootstrap) onMessageReceived(ctx context.Context, payload map[string]any) error {
	rt := b.runtime()
	if rt == nil {
		return fmt.Errorf("bootstrap plugin not initialised")
	}
	m, ok := payload[PayloadMessage].(*models.Memory)
	if !ok {
		return fmt.Errorf("message payload carries no message")
	}
	cb, _ := payload[PayloadCallback].(plugin.Callback)

	if _, err := rt.CreateMemory(ctx, m, models.TableMessages, false); err != nil {
		return fmt.Errorf("persist inbound message: %w", err)
	}

	state, err := rt.ComposeState(ctx, m, nil, false, false)
	if err != nil {
		return fmt.Errorf("compose state: %w", err)
	}

	response := &models.Memory{
		ID:       ids.New(),
		EntityID: rt.AgentID(),
		AgentID:  rt.AgentID(),
		RoomID:   m.RoomID,
		Content: models.Content{
			Source:    m.Content.Source,
			InReplyTo: m.ID.String(),
			Actions:   []string{"REPLY"},
		},
	}
	responses := []*models.Memory{response}

	if err := rt.ProcessActions(ctx, m, responses, state, cb); err != nil {
		return fmt.Errorf("process actions: %w", err)
	}
	if _, err := rt.Evaluate(ctx, m, state, true, cb, responses); err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}
	return nil
}

// onControlMessage records input-control changes requested for a room.
func (b *bootstrap) onControlMessage(ctx context.Context, payload map[string]any) error {
	rt := b.runtime()
	if rt == nil {
		return nil
	}
	rt.Logger().Info("input control changed",
		"roomId", payload["roomId"],
		"action", payload["action"],
		"target", payload["target"])
	return nil
}
