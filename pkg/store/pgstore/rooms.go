package pgstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/codeready-toolchain/murmur/pkg/models"
	"github.com/codeready-toolchain/murmur/pkg/store"
)

// --- Worlds ---

func (s *Store) CreateWorld(ctx context.Context, world *models.World) (uuid.UUID, error) {
	pool, err := s.db()
	if err != nil {
		return uuid.Nil, err
	}
	metadata, err := marshalMap(world.Metadata)
	if err != nil {
		return uuid.Nil, store.NewIOError("create world", err)
	}
	id := world.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	_, err = pool.Exec(ctx, `
		INSERT INTO worlds (id, agent_id, name, server_id, metadata)
		VALUES ($1, $2, $3, $4, $5)`,
		id, world.AgentID, world.Name, world.ServerID, metadata)
	if err != nil {
		if isUniqueViolation(err) {
			return uuid.Nil, fmt.Errorf("create world %s: %w", id, store.ErrDuplicateKey)
		}
		return uuid.Nil, store.NewIOError("create world", err)
	}
	return id, nil
}

func (s *Store) GetWorld(ctx context.Context, id uuid.UUID) (*models.World, error) {
	pool, err := s.db()
	if err != nil {
		return nil, err
	}
	row := pool.QueryRow(ctx, `
		SELECT id, agent_id, name, server_id, metadata FROM worlds WHERE id = $1`, id)
	world, err := scanWorld(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, store.NewIOError("get world", err)
	}
	return world, nil
}

func (s *Store) UpdateWorld(ctx context.Context, world *models.World) error {
	pool, err := s.db()
	if err != nil {
		return err
	}
	metadata, err := marshalMap(world.Metadata)
	if err != nil {
		return store.NewIOError("update world", err)
	}
	tag, err := pool.Exec(ctx, `
		UPDATE worlds SET agent_id = $2, name = $3, server_id = $4, metadata = $5
		WHERE id = $1`,
		world.ID, world.AgentID, world.Name, world.ServerID, metadata)
	if err != nil {
		return store.NewIOError("update world", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update world %s: %w", world.ID, store.ErrNotFound)
	}
	return nil
}

func (s *Store) RemoveWorld(ctx context.Context, id uuid.UUID) error {
	pool, err := s.db()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, `DELETE FROM worlds WHERE id = $1`, id); err != nil {
		return store.NewIOError("remove world", err)
	}
	return nil
}

func (s *Store) GetAllWorlds(ctx context.Context) ([]*models.World, error) {
	pool, err := s.db()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, `SELECT id, agent_id, name, server_id, metadata FROM worlds`)
	if err != nil {
		return nil, store.NewIOError("get worlds", err)
	}
	defer rows.Close()

	out := make([]*models.World, 0)
	for rows.Next() {
		world, err := scanWorld(rows)
		if err != nil {
			return nil, store.NewIOError("get worlds", err)
		}
		out = append(out, world)
	}
	return out, rows.Err()
}

func scanWorld(row pgx.Row) (*models.World, error) {
	var w models.World
	var metadata []byte
	if err := row.Scan(&w.ID, &w.AgentID, &w.Name, &w.ServerID, &metadata); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(metadata, &w.Metadata); err != nil {
		return nil, err
	}
	return &w, nil
}

// --- Rooms ---

const roomColumns = `id, name, agent_id, world_id, source, type, channel_id, server_id, metadata`

func (s *Store) CreateRooms(ctx context.Context, rooms []*models.Room) ([]uuid.UUID, error) {
	pool, err := s.db()
	if err != nil {
		return nil, err
	}
	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, store.NewIOError("create rooms", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ids := make([]uuid.UUID, 0, len(rooms))
	for _, room := range rooms {
		metadata, err := marshalMap(room.Metadata)
		if err != nil {
			return nil, store.NewIOError("create rooms", err)
		}
		id := room.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO rooms (id, name, agent_id, world_id, source, type, channel_id, server_id, metadata)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			id, room.Name, room.AgentID, room.WorldID, room.Source,
			string(room.Type), room.ChannelID, room.ServerID, metadata)
		if err != nil {
			if isUniqueViolation(err) {
				return nil, fmt.Errorf("create room %s: %w", id, store.ErrDuplicateKey)
			}
			return nil, store.NewIOError("create rooms", err)
		}
		ids = append(ids, id)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, store.NewIOError("create rooms", err)
	}
	return ids, nil
}

func (s *Store) GetRoomsByIDs(ctx context.Context, ids []uuid.UUID) ([]*models.Room, error) {
	return s.queryRooms(ctx, `WHERE id = ANY($1)`, ids)
}

func (s *Store) GetRoomsByWorld(ctx context.Context, worldID uuid.UUID) ([]*models.Room, error) {
	return s.queryRooms(ctx, `WHERE world_id = $1`, worldID)
}

func (s *Store) UpdateRoom(ctx context.Context, room *models.Room) error {
	pool, err := s.db()
	if err != nil {
		return err
	}
	metadata, err := marshalMap(room.Metadata)
	if err != nil {
		return store.NewIOError("update room", err)
	}
	tag, err := pool.Exec(ctx, `
		UPDATE rooms
		SET name = $2, agent_id = $3, world_id = $4, source = $5, type = $6,
		    channel_id = $7, server_id = $8, metadata = $9
		WHERE id = $1`,
		room.ID, room.Name, room.AgentID, room.WorldID, room.Source,
		string(room.Type), room.ChannelID, room.ServerID, metadata)
	if err != nil {
		return store.NewIOError("update room", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update room %s: %w", room.ID, store.ErrNotFound)
	}
	return nil
}

func (s *Store) DeleteRoom(ctx context.Context, id uuid.UUID) error {
	pool, err := s.db()
	if err != nil {
		return err
	}
	tx, err := pool.Begin(ctx)
	if err != nil {
		return store.NewIOError("delete room", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM participants WHERE room_id = $1`, id); err != nil {
		return store.NewIOError("delete room", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM rooms WHERE id = $1`, id); err != nil {
		return store.NewIOError("delete room", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return store.NewIOError("delete room", err)
	}
	return nil
}

func (s *Store) DeleteRoomsByWorldID(ctx context.Context, worldID uuid.UUID) error {
	pool, err := s.db()
	if err != nil {
		return err
	}
	tx, err := pool.Begin(ctx)
	if err != nil {
		return store.NewIOError("delete rooms by world", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
		DELETE FROM participants
		WHERE room_id IN (SELECT id FROM rooms WHERE world_id = $1)`, worldID); err != nil {
		return store.NewIOError("delete rooms by world", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM rooms WHERE world_id = $1`, worldID); err != nil {
		return store.NewIOError("delete rooms by world", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return store.NewIOError("delete rooms by world", err)
	}
	return nil
}

func (s *Store) queryRooms(ctx context.Context, where string, args ...any) ([]*models.Room, error) {
	pool, err := s.db()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, `SELECT `+roomColumns+` FROM rooms `+where, args...)
	if err != nil {
		return nil, store.NewIOError("query rooms", err)
	}
	defer rows.Close()

	out := make([]*models.Room, 0)
	for rows.Next() {
		var r models.Room
		var roomType string
		var metadata []byte
		if err := rows.Scan(&r.ID, &r.Name, &r.AgentID, &r.WorldID, &r.Source,
			&roomType, &r.ChannelID, &r.ServerID, &metadata); err != nil {
			return nil, store.NewIOError("query rooms", err)
		}
		r.Type = models.ChannelType(roomType)
		if err := unmarshalJSON(metadata, &r.Metadata); err != nil {
			return nil, store.NewIOError("query rooms", err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// --- Participants ---

func (s *Store) AddParticipantsRoom(ctx context.Context, entityIDs []uuid.UUID, roomID uuid.UUID) (bool, error) {
	pool, err := s.db()
	if err != nil {
		return false, err
	}
	tx, err := pool.Begin(ctx)
	if err != nil {
		return false, store.NewIOError("add participants", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, entityID := range entityIDs {
		_, err := tx.Exec(ctx, `
			INSERT INTO participants (id, entity_id, room_id)
			VALUES ($1, $2, $3)
			ON CONFLICT (entity_id, room_id) DO NOTHING`,
			uuid.New(), entityID, roomID)
		if err != nil {
			return false, store.NewIOError("add participants", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return false, store.NewIOError("add participants", err)
	}
	return true, nil
}

func (s *Store) RemoveParticipant(ctx context.Context, entityID, roomID uuid.UUID) (bool, error) {
	pool, err := s.db()
	if err != nil {
		return false, err
	}
	tag, err := pool.Exec(ctx, `
		DELETE FROM participants WHERE entity_id = $1 AND room_id = $2`,
		entityID, roomID)
	if err != nil {
		return false, store.NewIOError("remove participant", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) GetParticipantsForRoom(ctx context.Context, roomID uuid.UUID) ([]uuid.UUID, error) {
	return s.queryUUIDs(ctx, `SELECT entity_id FROM participants WHERE room_id = $1`, roomID)
}

func (s *Store) GetParticipantsForEntity(ctx context.Context, entityID uuid.UUID) ([]*models.Participant, error) {
	pool, err := s.db()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, `
		SELECT id, entity_id, room_id, state FROM participants WHERE entity_id = $1`, entityID)
	if err != nil {
		return nil, store.NewIOError("get participants", err)
	}
	defer rows.Close()

	var out []*models.Participant
	for rows.Next() {
		var p models.Participant
		var state string
		if err := rows.Scan(&p.ID, &p.EntityID, &p.RoomID, &state); err != nil {
			return nil, store.NewIOError("get participants", err)
		}
		p.State = models.ParticipantUserState(state)
		out = append(out, &p)
	}
	return out, rows.Err()
}

func (s *Store) GetRoomsForParticipant(ctx context.Context, entityID uuid.UUID) ([]uuid.UUID, error) {
	return s.queryUUIDs(ctx, `SELECT room_id FROM participants WHERE entity_id = $1`, entityID)
}

func (s *Store) GetRoomsForParticipants(ctx context.Context, entityIDs []uuid.UUID) ([]uuid.UUID, error) {
	return s.queryUUIDs(ctx, `
		SELECT DISTINCT room_id FROM participants WHERE entity_id = ANY($1)`, entityIDs)
}

func (s *Store) GetParticipantUserState(ctx context.Context, roomID, entityID uuid.UUID) (models.ParticipantUserState, error) {
	pool, err := s.db()
	if err != nil {
		return "", err
	}
	var state string
	err = pool.QueryRow(ctx, `
		SELECT state FROM participants WHERE room_id = $1 AND entity_id = $2`,
		roomID, entityID).Scan(&state)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", store.NewIOError("get participant state", err)
	}
	return models.ParticipantUserState(state), nil
}

func (s *Store) SetParticipantUserState(ctx context.Context, roomID, entityID uuid.UUID, state models.ParticipantUserState) error {
	pool, err := s.db()
	if err != nil {
		return err
	}
	tag, err := pool.Exec(ctx, `
		UPDATE participants SET state = $3 WHERE room_id = $1 AND entity_id = $2`,
		roomID, entityID, string(state))
	if err != nil {
		return store.NewIOError("set participant state", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("set participant state: entity %s in room %s: %w", entityID, roomID, store.ErrNotFound)
	}
	return nil
}

func (s *Store) queryUUIDs(ctx context.Context, query string, args ...any) ([]uuid.UUID, error) {
	pool, err := s.db()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return nil, store.NewIOError("query ids", err)
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, store.NewIOError("query ids", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
