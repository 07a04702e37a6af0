package memstore

import (
	"context"
	"fmt"
	"maps"

	"github.com/google/uuid"

	"github.com/codeready-toolchain/murmur/pkg/models"
	"github.com/codeready-toolchain/murmur/pkg/store"
)

// --- Worlds ---

func (s *Store) CreateWorld(ctx context.Context, world *models.World) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *world
	if cp.ID == uuid.Nil {
		cp.ID = uuid.New()
	}
	if _, exists := s.worlds[cp.ID]; exists {
		return uuid.Nil, fmt.Errorf("create world %s: %w", cp.ID, store.ErrDuplicateKey)
	}
	cp.Metadata = maps.Clone(world.Metadata)
	s.worlds[cp.ID] = &cp
	return cp.ID, nil
}

func (s *Store) GetWorld(ctx context.Context, id uuid.UUID) (*models.World, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	world, ok := s.worlds[id]
	if !ok {
		return nil, nil
	}
	cp := *world
	cp.Metadata = maps.Clone(world.Metadata)
	return &cp, nil
}

func (s *Store) UpdateWorld(ctx context.Context, world *models.World) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.worlds[world.ID]; !ok {
		return fmt.Errorf("update world %s: %w", world.ID, store.ErrNotFound)
	}
	cp := *world
	cp.Metadata = maps.Clone(world.Metadata)
	s.worlds[cp.ID] = &cp
	return nil
}

func (s *Store) RemoveWorld(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.worlds, id)
	return nil
}

func (s *Store) GetAllWorlds(ctx context.Context) ([]*models.World, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.World, 0, len(s.worlds))
	for _, world := range s.worlds {
		cp := *world
		cp.Metadata = maps.Clone(world.Metadata)
		out = append(out, &cp)
	}
	return out, nil
}

// --- Rooms ---

func (s *Store) CreateRooms(ctx context.Context, rooms []*models.Room) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]uuid.UUID, 0, len(rooms))
	for _, room := range rooms {
		cp := *room
		if cp.ID == uuid.Nil {
			cp.ID = uuid.New()
		}
		if _, exists := s.rooms[cp.ID]; exists {
			return nil, fmt.Errorf("create room %s: %w", cp.ID, store.ErrDuplicateKey)
		}
		cp.Metadata = maps.Clone(room.Metadata)
		s.rooms[cp.ID] = &cp
		ids = append(ids, cp.ID)
	}
	return ids, nil
}

func (s *Store) GetRoomsByIDs(ctx context.Context, ids []uuid.UUID) ([]*models.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Room, 0, len(ids))
	for _, id := range ids {
		if room, ok := s.rooms[id]; ok {
			cp := *room
			cp.Metadata = maps.Clone(room.Metadata)
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *Store) GetRoomsByWorld(ctx context.Context, worldID uuid.UUID) ([]*models.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Room
	for _, room := range s.rooms {
		if room.WorldID == worldID {
			cp := *room
			cp.Metadata = maps.Clone(room.Metadata)
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *Store) UpdateRoom(ctx context.Context, room *models.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[room.ID]; !ok {
		return fmt.Errorf("update room %s: %w", room.ID, store.ErrNotFound)
	}
	cp := *room
	cp.Metadata = maps.Clone(room.Metadata)
	s.rooms[cp.ID] = &cp
	return nil
}

func (s *Store) DeleteRoom(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, id)
	s.removeParticipantsLocked(func(p *models.Participant) bool { return p.RoomID == id })
	return nil
}

func (s *Store) DeleteRoomsByWorldID(ctx context.Context, worldID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, room := range s.rooms {
		if room.WorldID == worldID {
			delete(s.rooms, id)
			s.removeParticipantsLocked(func(p *models.Participant) bool { return p.RoomID == id })
		}
	}
	return nil
}

// --- Participants ---

func (s *Store) AddParticipantsRoom(ctx context.Context, entityIDs []uuid.UUID, roomID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entityID := range entityIDs {
		if s.findParticipantLocked(entityID, roomID) != nil {
			continue
		}
		s.participants = append(s.participants, &models.Participant{
			ID:       uuid.New(),
			EntityID: entityID,
			RoomID:   roomID,
		})
	}
	return true, nil
}

func (s *Store) RemoveParticipant(ctx context.Context, entityID, roomID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	before := len(s.participants)
	s.removeParticipantsLocked(func(p *models.Participant) bool {
		return p.EntityID == entityID && p.RoomID == roomID
	})
	return len(s.participants) < before, nil
}

func (s *Store) GetParticipantsForRoom(ctx context.Context, roomID uuid.UUID) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []uuid.UUID
	for _, p := range s.participants {
		if p.RoomID == roomID {
			out = append(out, p.EntityID)
		}
	}
	return out, nil
}

func (s *Store) GetParticipantsForEntity(ctx context.Context, entityID uuid.UUID) ([]*models.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Participant
	for _, p := range s.participants {
		if p.EntityID == entityID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *Store) GetRoomsForParticipant(ctx context.Context, entityID uuid.UUID) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []uuid.UUID
	for _, p := range s.participants {
		if p.EntityID == entityID {
			out = append(out, p.RoomID)
		}
	}
	return out, nil
}

func (s *Store) GetRoomsForParticipants(ctx context.Context, entityIDs []uuid.UUID) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[uuid.UUID]struct{})
	var out []uuid.UUID
	for _, p := range s.participants {
		for _, entityID := range entityIDs {
			if p.EntityID != entityID {
				continue
			}
			if _, dup := seen[p.RoomID]; dup {
				continue
			}
			seen[p.RoomID] = struct{}{}
			out = append(out, p.RoomID)
		}
	}
	return out, nil
}

func (s *Store) GetParticipantUserState(ctx context.Context, roomID, entityID uuid.UUID) (models.ParticipantUserState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p := s.findParticipantLocked(entityID, roomID); p != nil {
		return p.State, nil
	}
	return "", nil
}

func (s *Store) SetParticipantUserState(ctx context.Context, roomID, entityID uuid.UUID, state models.ParticipantUserState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.findParticipantLocked(entityID, roomID)
	if p == nil {
		return fmt.Errorf("set participant state: entity %s in room %s: %w", entityID, roomID, store.ErrNotFound)
	}
	p.State = state
	return nil
}

func (s *Store) findParticipantLocked(entityID, roomID uuid.UUID) *models.Participant {
	for _, p := range s.participants {
		if p.EntityID == entityID && p.RoomID == roomID {
			return p
		}
	}
	return nil
}

func (s *Store) removeParticipantsLocked(drop func(*models.Participant) bool) {
	kept := s.participants[:0]
	for _, p := range s.participants {
		if !drop(p) {
			kept = append(kept, p)
		}
	}
	s.participants = kept
}
