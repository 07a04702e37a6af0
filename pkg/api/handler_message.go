package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	echo "github.com/labstack/echo/v5"
	"github.com/google/uuid"

	"github.com/codeready-toolchain/murmur/pkg/ids"
	"github.com/codeready-toolchain/murmur/pkg/models"
	"github.com/codeready-toolchain/murmur/pkg/plugin"
	"github.com/codeready-toolchain/murmur/pkg/plugins/bootstrap"
	"github.com/codeready-toolchain/murmur/pkg/store"
)

// sendMessageHandler handles POST /api/v1/messages.
// Ensures the sender and room exist, persists nothing itself (the
// MESSAGE_RECEIVED pipeline owns persistence), and returns 202 with the
// run ID attributing the asynchronous turn.
func (s *Server) sendMessageHandler(c *echo.Context) error {
	var req SendMessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Text) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "text field is required")
	}

	source := req.Source
	if source == "" {
		source = "api"
	}
	channelType := models.ChannelType(req.ChannelType)
	if channelType == "" {
		channelType = models.ChannelDM
	}

	entityName := req.EntityName
	if entityName == "" {
		entityName = "User"
	}
	entityID, err := parseOptionalID("entityId", req.EntityID)
	if err != nil {
		return err
	}
	if entityID == uuid.Nil {
		entityID = ids.Deterministic(source, "entity", entityName)
	}
	roomID, err := parseOptionalID("roomId", req.RoomID)
	if err != nil {
		return err
	}
	if roomID == uuid.Nil {
		roomID = ids.Deterministic(source, "room", entityID.String())
	}
	worldID, err := parseOptionalID("worldId", req.WorldID)
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	if err := s.ensureConnection(ctx, entityID, entityName, roomID, worldID, source, channelType); err != nil {
		return s.mapRuntimeError(err)
	}

	m := &models.Memory{
		ID:       ids.New(),
		EntityID: entityID,
		RoomID:   roomID,
		WorldID:  worldID,
		Content: models.Content{
			Text:        req.Text,
			Source:      source,
			ChannelType: string(channelType),
		},
	}

	// The turn outlives the request; detach from its cancellation.
	runCtx, runID := s.rt.StartRun(context.WithoutCancel(ctx))
	go s.processMessage(runCtx, m)

	return c.JSON(http.StatusAccepted, &MessageResponse{
		RunID:     runID.String(),
		MessageID: m.ID.String(),
		RoomID:    roomID.String(),
		Status:    "accepted",
	})
}

// processMessage dispatches the turn pipeline. The callback persists each
// delivered reply so it enters the room transcript.
func (s *Server) processMessage(ctx context.Context, m *models.Memory) {
	cb := plugin.Callback(func(ctx context.Context, content models.Content) ([]*models.Memory, error) {
		response := &models.Memory{
			ID:       ids.New(),
			EntityID: s.rt.AgentID(),
			AgentID:  s.rt.AgentID(),
			RoomID:   m.RoomID,
			WorldID:  m.WorldID,
			Content:  content,
		}
		if _, err := s.rt.CreateMemory(ctx, response, models.TableMessages, false); err != nil {
			return nil, err
		}
		return []*models.Memory{response}, nil
	})

	err := s.rt.EmitEvent(ctx, []string{models.EventMessageReceived}, map[string]any{
		bootstrap.PayloadMessage:  m,
		bootstrap.PayloadCallback: cb,
	})
	if err != nil {
		s.logger.Error("message processing failed", "messageId", m.ID, "error", err)
	}
}

// ensureConnection makes sure the sender entity and the room exist and
// that both the sender and the agent participate in the room. Safe to
// call on every message.
func (s *Server) ensureConnection(ctx context.Context, entityID uuid.UUID, entityName string, roomID, worldID uuid.UUID, source string, channelType models.ChannelType) error {
	entities, err := s.rt.GetEntitiesByIDs(ctx, []uuid.UUID{entityID})
	if err != nil {
		return err
	}
	if len(entities) == 0 {
		_, err = s.rt.CreateEntities(ctx, []*models.Entity{{ID: entityID, Names: []string{entityName}}})
		if err != nil && !errors.Is(err, store.ErrDuplicateKey) {
			return err
		}
	}

	rooms, err := s.rt.GetRoomsByIDs(ctx, []uuid.UUID{roomID})
	if err != nil {
		return err
	}
	if len(rooms) == 0 {
		_, err = s.rt.CreateRooms(ctx, []*models.Room{{
			ID:      roomID,
			WorldID: worldID,
			Source:  source,
			Type:    channelType,
		}})
		if err != nil && !errors.Is(err, store.ErrDuplicateKey) {
			return err
		}
	}

	_, err = s.rt.AddParticipantsRoom(ctx, []uuid.UUID{entityID, s.rt.AgentID()}, roomID)
	return err
}

// controlHandler handles POST /api/v1/control.
func (s *Server) controlHandler(c *echo.Context) error {
	var req ControlRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.RoomID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "roomId field is required")
	}
	roomID, err := ids.Parse(req.RoomID)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid roomId")
	}

	msg := &models.ControlMessage{RoomID: roomID, Action: req.Action, Target: req.Target}
	if err := s.rt.SendControlMessage(c.Request().Context(), msg); err != nil {
		return s.mapRuntimeError(err)
	}
	return c.JSON(http.StatusOK, &ControlResponse{Status: "sent"})
}

func parseOptionalID(field, value string) (uuid.UUID, error) {
	if value == "" {
		return uuid.Nil, nil
	}
	id, err := ids.Parse(value)
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid %s", field))
	}
	return id, nil
}
