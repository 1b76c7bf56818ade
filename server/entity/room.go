package entity

import (
	"context"
	"sync"

	"github.com/wiggin77/matrix-appservice-bridge/server/store"
)

// Room is the live instance of a bridged room.
type Room struct {
	store store.Store
	index indexer

	mu       sync.RWMutex
	id       string
	matrixID string
	kind     store.RoomKind
	extras   map[string]any
}

func newRoom(s store.Store, index indexer, rec *store.Room) *Room {
	return &Room{
		store:    s,
		index:    index,
		id:       rec.ID,
		matrixID: rec.MatrixID,
		kind:     rec.Kind,
		extras:   store.CloneExtras(rec.Extras),
	}
}

// ID is immutable.
func (r *Room) ID() string { return r.id }

func (r *Room) Kind() store.RoomKind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.kind
}

func (r *Room) MatrixID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.matrixID
}

// Extra returns a copy of the value stored under key.
func (r *Room) Extra(key string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.extras[key]
	return store.CloneValue(v), ok
}

// Extras returns a copy of all extras.
func (r *Room) Extras() map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return store.CloneExtras(r.extras)
}

func (r *Room) snapshot() *store.Room {
	return &store.Room{ID: r.id, MatrixID: r.matrixID, Kind: r.kind, Extras: r.extras}
}

// SetMatrixID moves the room to matrixID; an empty matrixID unmaps it.
func (r *Room) SetMatrixID(ctx context.Context, matrixID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.store.SetRoomMatrixID(ctx, r.snapshot(), matrixID); err != nil {
		return store.Wrap(err, "set room matrix id")
	}
	old := r.matrixID
	r.matrixID = matrixID
	if r.index != nil {
		r.index.reindexRoom(r, old, matrixID)
	}
	return nil
}

// SetExtra persists key=value and then applies it.
func (r *Room) SetExtra(ctx context.Context, key string, value any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	next, err := store.WithExtra(r.extras, key, value)
	if err != nil {
		return store.Wrap(err, "set room extra")
	}
	if err := r.store.SetRoomExtra(ctx, r.snapshot(), key, value); err != nil {
		return store.Wrap(err, "set room extra")
	}
	r.extras = next
	return nil
}

// RemoveExtra persists the removal of key and then applies it.
func (r *Room) RemoveExtra(ctx context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.store.RemoveRoomExtra(ctx, r.snapshot(), key); err != nil {
		return store.Wrap(err, "remove room extra")
	}
	r.extras = store.WithoutExtra(r.extras, key)
	return nil
}
