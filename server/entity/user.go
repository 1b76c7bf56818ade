package entity

import (
	"context"
	"sync"

	"github.com/wiggin77/matrix-appservice-bridge/server/store"
)

// User is the live instance of a bridged user.
type User struct {
	store store.Store

	mu     sync.RWMutex
	id     string
	kind   store.UserKind
	extras map[string]any
}

func newUser(s store.Store, rec *store.User) *User {
	return &User{store: s, id: rec.ID, kind: rec.Kind, extras: store.CloneExtras(rec.Extras)}
}

// ID is immutable.
func (u *User) ID() string { return u.id }

func (u *User) Kind() store.UserKind {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.kind
}

// Extra returns a copy of the value stored under key.
func (u *User) Extra(key string) (any, bool) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	v, ok := u.extras[key]
	return store.CloneValue(v), ok
}

// Extras returns a copy of all extras.
func (u *User) Extras() map[string]any {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return store.CloneExtras(u.extras)
}

func (u *User) snapshot() *store.User {
	return &store.User{ID: u.id, Kind: u.kind, Extras: u.extras}
}

// SetExtra persists key=value and then applies it.
func (u *User) SetExtra(ctx context.Context, key string, value any) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	next, err := store.WithExtra(u.extras, key, value)
	if err != nil {
		return store.Wrap(err, "set user extra")
	}
	if err := u.store.SetUserExtra(ctx, u.snapshot(), key, value); err != nil {
		return store.Wrap(err, "set user extra")
	}
	u.extras = next
	return nil
}

// RemoveExtra persists the removal of key and then applies it.
func (u *User) RemoveExtra(ctx context.Context, key string) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if err := u.store.RemoveUserExtra(ctx, u.snapshot(), key); err != nil {
		return store.Wrap(err, "remove user extra")
	}
	u.extras = store.WithoutExtra(u.extras, key)
	return nil
}
