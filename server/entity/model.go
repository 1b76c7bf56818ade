// Package entity is the process-wide registry of live users and rooms. Every mutation is
// written through to the Store first and only then applied in memory, so a failed write
// leaves the cached entity untouched.
package entity

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/wiggin77/matrix-appservice-bridge/server/logging"
	"github.com/wiggin77/matrix-appservice-bridge/server/store"
)

// indexer keeps the matrix id lookup in step after a room's matrix id changes.
type indexer interface {
	reindexRoom(room *Room, oldMatrixID, newMatrixID string)
}

// Model caches one instance per user and room id.
type Model struct {
	store  store.Store
	logger logging.Logger

	// mu guards the maps only; entity fields are guarded by each entity's own lock.
	mu              sync.Mutex
	users           map[string]*User
	rooms           map[string]*Room
	roomsByMatrixID map[string]*Room

	// createMu serializes the check-then-insert of the create paths.
	createMu sync.Mutex
}

// New creates an empty registry backed by s.
func New(s store.Store, logger logging.Logger) *Model {
	return &Model{
		store:           s,
		logger:          logger,
		users:           make(map[string]*User),
		rooms:           make(map[string]*Room),
		roomsByMatrixID: make(map[string]*Room),
	}
}

// Users

func (m *Model) cachedUser(id string) *User {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.users[id]
}

// cacheUser inserts u unless another instance won a concurrent load, in which case
// that instance is returned.
func (m *Model) cacheUser(u *User) *User {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.users[u.id]; ok {
		return existing
	}
	m.users[u.id] = u
	return u
}

// ResolveUser returns the live user for id, loading it from the Store on a cache miss.
// When the user does not exist it is created with kind if create is set; otherwise
// store.ErrNotFound is returned.
func (m *Model) ResolveUser(ctx context.Context, id string, kind store.UserKind, create bool) (*User, error) {
	if u := m.cachedUser(id); u != nil {
		return u, nil
	}

	rec, err := m.store.GetUser(ctx, id)
	if err == nil {
		return m.cacheUser(newUser(m.store, rec)), nil
	}
	if !errors.Is(err, store.ErrNotFound) || !create {
		return nil, err
	}

	u, err := m.CreateUser(ctx, id, kind, nil)
	if errors.Is(err, store.ErrAlreadyExists) {
		// Lost a race with another creator.
		return m.ResolveUser(ctx, id, kind, false)
	}
	return u, err
}

// CreateUser persists a new user and caches it. It fails with store.ErrAlreadyExists
// when the id is taken.
func (m *Model) CreateUser(ctx context.Context, id string, kind store.UserKind, extras map[string]any) (*User, error) {
	m.createMu.Lock()
	defer m.createMu.Unlock()

	if m.cachedUser(id) != nil {
		return nil, errors.Wrapf(store.ErrAlreadyExists, "user %s", id)
	}
	exists, err := m.store.UserExists(ctx, id)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, errors.Wrapf(store.ErrAlreadyExists, "user %s", id)
	}

	normalized, err := store.NormalizeExtras(extras)
	if err != nil {
		return nil, store.Wrap(err, "create user")
	}
	rec := &store.User{ID: id, Kind: kind, Extras: normalized}
	if err := m.store.PutUser(ctx, rec); err != nil {
		return nil, err
	}

	m.logger.LogDebug("Created user", "user_id", id, "kind", kind.String())
	return m.cacheUser(newUser(m.store, rec)), nil
}

// DeleteUser removes the user from the Store and then from the cache.
func (m *Model) DeleteUser(ctx context.Context, id string) error {
	if err := m.store.DeleteUser(ctx, id); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.users, id)
	m.mu.Unlock()
	return nil
}

// Rooms

func (m *Model) cachedRoom(id string) *Room {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rooms[id]
}

func (m *Model) cachedRoomByMatrixID(matrixID string) *Room {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.roomsByMatrixID[matrixID]
}

func (m *Model) cacheRoom(r *Room) *Room {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.rooms[r.id]; ok {
		return existing
	}
	m.rooms[r.id] = r
	if mxid := r.MatrixID(); mxid != "" {
		m.roomsByMatrixID[mxid] = r
	}
	return r
}

func (m *Model) reindexRoom(r *Room, oldMatrixID, newMatrixID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rooms[r.id] != r {
		return
	}
	if oldMatrixID != "" && m.roomsByMatrixID[oldMatrixID] == r {
		delete(m.roomsByMatrixID, oldMatrixID)
	}
	if newMatrixID != "" {
		m.roomsByMatrixID[newMatrixID] = r
	}
}

// ResolveRoom returns the live room for id, loading it from the Store on a cache miss.
func (m *Model) ResolveRoom(ctx context.Context, id string) (*Room, error) {
	if r := m.cachedRoom(id); r != nil {
		return r, nil
	}
	rec, err := m.store.GetRoom(ctx, id)
	if err != nil {
		return nil, err
	}
	return m.cacheRoom(newRoom(m.store, m, rec)), nil
}

// ResolveRoomByMatrixID returns the live room mapped to matrixID.
func (m *Model) ResolveRoomByMatrixID(ctx context.Context, matrixID string) (*Room, error) {
	if r := m.cachedRoomByMatrixID(matrixID); r != nil {
		return r, nil
	}
	rec, err := m.store.GetRoomByMatrixID(ctx, matrixID)
	if err != nil {
		return nil, err
	}
	return m.cacheRoom(newRoom(m.store, m, rec)), nil
}

// CreateRoom persists a new room and caches it. It fails with store.ErrAlreadyExists when
// the id is taken and with store.ErrMatrixIDInUse when another room owns matrixID.
func (m *Model) CreateRoom(ctx context.Context, id, matrixID string, kind store.RoomKind, extras map[string]any) (*Room, error) {
	m.createMu.Lock()
	defer m.createMu.Unlock()

	if m.cachedRoom(id) != nil {
		return nil, errors.Wrapf(store.ErrAlreadyExists, "room %s", id)
	}
	exists, err := m.store.RoomExists(ctx, id)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, errors.Wrapf(store.ErrAlreadyExists, "room %s", id)
	}

	normalized, err := store.NormalizeExtras(extras)
	if err != nil {
		return nil, store.Wrap(err, "create room")
	}
	rec := &store.Room{ID: id, MatrixID: matrixID, Kind: kind, Extras: normalized}
	if err := m.store.PutRoom(ctx, rec); err != nil {
		return nil, err
	}

	m.logger.LogDebug("Created room", "room_id", id, "matrix_id", matrixID, "kind", kind.String())
	return m.cacheRoom(newRoom(m.store, m, rec)), nil
}

// DeleteRoom removes the room from the Store and then from the cache.
func (m *Model) DeleteRoom(ctx context.Context, id string) error {
	if err := m.store.DeleteRoom(ctx, id); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rooms[id]; ok {
		delete(m.rooms, id)
		for mxid, indexed := range m.roomsByMatrixID {
			if indexed == r {
				delete(m.roomsByMatrixID, mxid)
			}
		}
	}
	return nil
}
