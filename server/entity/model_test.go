package entity

import (
	"context"
	"sync"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/syndtr/goleveldb/leveldb/storage"

	"github.com/wiggin77/matrix-appservice-bridge/server/logging"
	"github.com/wiggin77/matrix-appservice-bridge/server/store"
	"github.com/wiggin77/matrix-appservice-bridge/server/store/leveldb"
	"github.com/wiggin77/matrix-appservice-bridge/server/store/mocks"
)

func newTestModel(t *testing.T) (*Model, store.Store) {
	t.Helper()
	s, err := leveldb.OpenStorage(storage.NewMemStorage(), leveldb.Options{}, logging.NewTestLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return New(s, logging.NewTestLogger(t)), s
}

func TestResolveUser(t *testing.T) {
	ctx := context.Background()
	m, s := newTestModel(t)

	_, err := m.ResolveUser(ctx, "@ghost:example.org", store.MatrixUser, false)
	assert.ErrorIs(t, err, store.ErrNotFound)

	u, err := m.ResolveUser(ctx, "@ghost:example.org", store.MatrixUser, true)
	require.NoError(t, err)
	assert.Equal(t, "@ghost:example.org", u.ID())

	again, err := m.ResolveUser(ctx, "@ghost:example.org", store.MatrixUser, false)
	require.NoError(t, err)
	assert.Same(t, u, again, "resolve must return the cached instance")

	ok, err := s.UserExists(ctx, "@ghost:example.org")
	require.NoError(t, err)
	assert.True(t, ok)

	// Loaded from the Store on a cold cache.
	require.NoError(t, s.PutUser(ctx, &store.User{ID: "remote-7", Kind: store.RemoteUser, Extras: map[string]any{"nick": "r7"}}))
	loaded, err := m.ResolveUser(ctx, "remote-7", store.MatrixUser, false)
	require.NoError(t, err)
	assert.Equal(t, store.RemoteUser, loaded.Kind())
	v, ok := loaded.Extra("nick")
	assert.True(t, ok)
	assert.Equal(t, "r7", v)
}

func TestResolveUserConcurrentCreate(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestModel(t)

	const n = 16
	users := make([]*User, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			u, err := m.ResolveUser(ctx, "@race:example.org", store.MatrixUser, true)
			assert.NoError(t, err)
			users[i] = u
		}(i)
	}
	wg.Wait()

	for _, u := range users {
		assert.Same(t, users[0], u)
	}
}

func TestCreateUserAlreadyExists(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestModel(t)

	_, err := m.CreateUser(ctx, "u", store.RemoteUser, map[string]any{"a": 1})
	require.NoError(t, err)

	_, err = m.CreateUser(ctx, "u", store.RemoteUser, nil)
	assert.ErrorIs(t, err, store.ErrAlreadyExists)
}

func TestUserExtras(t *testing.T) {
	ctx := context.Background()
	m, s := newTestModel(t)

	u, err := m.CreateUser(ctx, "u", store.RemoteUser, nil)
	require.NoError(t, err)

	require.NoError(t, u.SetExtra(ctx, "avatar", "mxc://example.org/abc"))
	require.NoError(t, u.SetExtra(ctx, "count", 2))

	rec, err := s.GetUser(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"avatar": "mxc://example.org/abc", "count": int64(2)}, rec.Extras)
	assert.Equal(t, rec.Extras, u.Extras())

	require.NoError(t, u.RemoveExtra(ctx, "avatar"))
	_, ok := u.Extra("avatar")
	assert.False(t, ok)

	rec, err = s.GetUser(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"count": int64(2)}, rec.Extras)

	// The returned map is a copy.
	u.Extras()["count"] = "changed"
	v, _ := u.Extra("count")
	assert.Equal(t, int64(2), v)
}

func TestRoomLifecycle(t *testing.T) {
	ctx := context.Background()
	m, s := newTestModel(t)

	r, err := m.CreateRoom(ctx, "chan-1", "!one:example.org", store.RemoteRoom, map[string]any{"topic": "t"})
	require.NoError(t, err)

	_, err = m.CreateRoom(ctx, "chan-1", "", store.RemoteRoom, nil)
	assert.ErrorIs(t, err, store.ErrAlreadyExists)

	byMatrix, err := m.ResolveRoomByMatrixID(ctx, "!one:example.org")
	require.NoError(t, err)
	assert.Same(t, r, byMatrix)

	require.NoError(t, r.SetMatrixID(ctx, "!two:example.org"))
	assert.Equal(t, "!two:example.org", r.MatrixID())

	byMatrix, err = m.ResolveRoomByMatrixID(ctx, "!two:example.org")
	require.NoError(t, err)
	assert.Same(t, r, byMatrix)

	_, err = m.ResolveRoomByMatrixID(ctx, "!one:example.org")
	assert.ErrorIs(t, err, store.ErrNotFound)

	rec, err := s.GetRoomByMatrixID(ctx, "!two:example.org")
	require.NoError(t, err)
	assert.Equal(t, "chan-1", rec.ID)

	require.NoError(t, m.DeleteRoom(ctx, "chan-1"))
	_, err = m.ResolveRoom(ctx, "chan-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = m.ResolveRoomByMatrixID(ctx, "!two:example.org")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRoomMatrixIDConflictKeepsState(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestModel(t)

	_, err := m.CreateRoom(ctx, "a", "!taken:example.org", store.RemoteRoom, nil)
	require.NoError(t, err)
	b, err := m.CreateRoom(ctx, "b", "!b:example.org", store.RemoteRoom, nil)
	require.NoError(t, err)

	err = b.SetMatrixID(ctx, "!taken:example.org")
	assert.ErrorIs(t, err, store.ErrMatrixIDInUse)
	assert.Equal(t, "!b:example.org", b.MatrixID())

	owner, err := m.ResolveRoomByMatrixID(ctx, "!taken:example.org")
	require.NoError(t, err)
	assert.Equal(t, "a", owner.ID())
}

func TestRoomRollbackOnStorageFailure(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockStore := mocks.NewMockStore(ctrl)
	m := New(mockStore, logging.NewTestLogger(t))

	mockStore.EXPECT().RoomExists(gomock.Any(), "chan-1").Return(false, nil)
	mockStore.EXPECT().PutRoom(gomock.Any(), gomock.Any()).Return(nil)
	r, err := m.CreateRoom(ctx, "chan-1", "!old:example.org", store.RemoteRoom, map[string]any{"k": "v"})
	require.NoError(t, err)

	diskFull := errors.New("disk full")
	mockStore.EXPECT().SetRoomMatrixID(gomock.Any(), gomock.Any(), "!new:example.org").Return(diskFull)
	mockStore.EXPECT().SetRoomExtra(gomock.Any(), gomock.Any(), "k", "changed").Return(diskFull)
	mockStore.EXPECT().RemoveRoomExtra(gomock.Any(), gomock.Any(), "k").Return(diskFull)

	err = r.SetMatrixID(ctx, "!new:example.org")
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrStorage)
	assert.ErrorIs(t, err, diskFull)
	assert.Equal(t, "!old:example.org", r.MatrixID())

	assert.ErrorIs(t, r.SetExtra(ctx, "k", "changed"), store.ErrStorage)
	assert.ErrorIs(t, r.RemoveExtra(ctx, "k"), store.ErrStorage)
	assert.Equal(t, map[string]any{"k": "v"}, r.Extras())

	// No mapping for the new id was published.
	mockStore.EXPECT().GetRoomByMatrixID(gomock.Any(), "!new:example.org").Return(nil, store.ErrNotFound)
	_, err = m.ResolveRoomByMatrixID(ctx, "!new:example.org")
	assert.ErrorIs(t, err, store.ErrNotFound)

	same, err := m.ResolveRoomByMatrixID(ctx, "!old:example.org")
	require.NoError(t, err)
	assert.Same(t, r, same)
}

func TestUserRollbackOnStorageFailure(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockStore := mocks.NewMockStore(ctrl)
	m := New(mockStore, logging.NewTestLogger(t))

	mockStore.EXPECT().GetUser(gomock.Any(), "u").Return(&store.User{ID: "u", Kind: store.RemoteUser, Extras: map[string]any{}}, nil)
	u, err := m.ResolveUser(ctx, "u", store.RemoteUser, false)
	require.NoError(t, err)

	mockStore.EXPECT().SetUserExtra(gomock.Any(), gomock.Any(), "k", "v").Return(errors.New("boom"))
	err = u.SetExtra(ctx, "k", "v")
	assert.ErrorIs(t, err, store.ErrStorage)
	assert.Empty(t, u.Extras())
}
