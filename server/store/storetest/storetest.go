// Package storetest holds the behavioural suite every Store backend must pass.
package storetest

import (
	"context"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wiggin77/matrix-appservice-bridge/server/store"
)

// OpenFunc returns a fresh, empty store. The suite closes it.
type OpenFunc func(t *testing.T) store.Store

// Run exercises the full Store contract against the backend returned by open.
func Run(t *testing.T, open OpenFunc) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"UserRoundTrip", testUserRoundTrip},
		{"UserExtras", testUserExtras},
		{"MissingRecords", testMissingRecords},
		{"RoomRoundTrip", testRoomRoundTrip},
		{"RoomMatrixIDMoves", testRoomMatrixIDMoves},
		{"RoomMatrixIDInUse", testRoomMatrixIDInUse},
		{"RoomDeleteClearsIndex", testRoomDeleteClearsIndex},
		{"RoomExtras", testRoomExtras},
		{"ArgumentsNotModified", testArgumentsNotModified},
		{"ExtraData", testExtraData},
		{"DeletesAreIdempotent", testDeletesAreIdempotent},
		{"ConcurrentWrites", testConcurrentWrites},
		{"ClosedStore", testClosedStore},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := open(t)
			t.Cleanup(func() { _ = s.Close() })
			tt.fn(t, s)
		})
	}
}

func testUserRoundTrip(t *testing.T, s store.Store) {
	ctx := context.Background()

	user := &store.User{ID: "@alice:example.org", Kind: store.MatrixUser, Extras: map[string]any{
		"displayName": "Alice",
		"count":       3,
		"tags":        []any{"a", "b"},
		"avatarHash":  []byte{1, 2},
		"nested":      map[string]any{"raw": []byte{3}, "ratio": 0.5},
	}}
	require.NoError(t, s.PutUser(ctx, user))

	ok, err := s.UserExists(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)
	assert.Equal(t, store.MatrixUser, got.Kind)
	assert.Equal(t, "Alice", got.Extras["displayName"])
	assert.Equal(t, int64(3), got.Extras["count"])
	assert.Equal(t, []any{"a", "b"}, got.Extras["tags"])
	assert.Equal(t, []byte{1, 2}, got.Extras["avatarHash"])
	assert.Equal(t, map[string]any{"raw": []byte{3}, "ratio": 0.5}, got.Extras["nested"])

	remote := &store.User{ID: "remote-1", Kind: store.RemoteUser}
	require.NoError(t, s.PutUser(ctx, remote))
	got, err = s.GetUser(ctx, remote.ID)
	require.NoError(t, err)
	assert.Equal(t, store.RemoteUser, got.Kind)
	assert.NotNil(t, got.Extras)
	assert.Empty(t, got.Extras)
}

func testUserExtras(t *testing.T, s store.Store) {
	ctx := context.Background()

	user := &store.User{ID: "u1", Kind: store.RemoteUser, Extras: map[string]any{"keep": true}}
	require.NoError(t, s.PutUser(ctx, user))

	require.NoError(t, s.SetUserExtra(ctx, user, "nick", "bob"))
	got, err := s.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"keep": true, "nick": "bob"}, got.Extras)

	require.NoError(t, s.RemoveUserExtra(ctx, got, "keep"))
	got, err = s.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"nick": "bob"}, got.Extras)

	err = s.SetUserExtra(ctx, got, "", "x")
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrStorage)

	err = s.SetUserExtra(ctx, got, "big", uint64(math.MaxUint64))
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrStorage)
	got, err = s.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"nick": "bob"}, got.Extras)
}

func testMissingRecords(t *testing.T, s store.Store) {
	ctx := context.Background()

	ok, err := s.UserExists(ctx, "nobody")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.GetUser(ctx, "nobody")
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = s.GetRoom(ctx, "nowhere")
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = s.GetRoomByMatrixID(ctx, "!nowhere:example.org")
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = s.GetExtra(ctx, "nothing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testRoomRoundTrip(t *testing.T, s store.Store) {
	ctx := context.Background()

	room := &store.Room{ID: "chan-1", MatrixID: "!abc:example.org", Extras: map[string]any{"topic": "hello"}}
	require.NoError(t, s.PutRoom(ctx, room))

	ok, err := s.RoomExists(ctx, "chan-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.RoomExistsByMatrixID(ctx, "!abc:example.org")
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.GetRoom(ctx, "chan-1")
	require.NoError(t, err)
	assert.Equal(t, "!abc:example.org", got.MatrixID)
	assert.Equal(t, store.RemoteRoom, got.Kind)
	assert.Equal(t, "hello", got.Extras["topic"])

	byMatrix, err := s.GetRoomByMatrixID(ctx, "!abc:example.org")
	require.NoError(t, err)
	assert.Equal(t, got, byMatrix)

	matrixRoom := &store.Room{ID: "!def:example.org", MatrixID: "!def:example.org", Kind: store.MatrixRoom}
	require.NoError(t, s.PutRoom(ctx, matrixRoom))
	got, err = s.GetRoomByMatrixID(ctx, "!def:example.org")
	require.NoError(t, err)
	assert.Equal(t, store.MatrixRoom, got.Kind)

	unmapped := &store.Room{ID: "chan-2"}
	require.NoError(t, s.PutRoom(ctx, unmapped))
	got, err = s.GetRoom(ctx, "chan-2")
	require.NoError(t, err)
	assert.Empty(t, got.MatrixID)
}

func testRoomMatrixIDMoves(t *testing.T, s store.Store) {
	ctx := context.Background()

	room := &store.Room{ID: "chan-1", MatrixID: "!old:example.org"}
	require.NoError(t, s.PutRoom(ctx, room))
	require.NoError(t, s.SetRoomMatrixID(ctx, room, "!new:example.org"))

	ok, err := s.RoomExistsByMatrixID(ctx, "!old:example.org")
	require.NoError(t, err)
	assert.False(t, ok, "old mapping should be gone")

	got, err := s.GetRoomByMatrixID(ctx, "!new:example.org")
	require.NoError(t, err)
	assert.Equal(t, "chan-1", got.ID)

	// Clearing the matrix id drops the mapping entirely.
	require.NoError(t, s.SetRoomMatrixID(ctx, got, ""))
	ok, err = s.RoomExistsByMatrixID(ctx, "!new:example.org")
	require.NoError(t, err)
	assert.False(t, ok)
}

func testRoomMatrixIDInUse(t *testing.T, s store.Store) {
	ctx := context.Background()

	require.NoError(t, s.PutRoom(ctx, &store.Room{ID: "a", MatrixID: "!shared:example.org"}))

	err := s.PutRoom(ctx, &store.Room{ID: "b", MatrixID: "!shared:example.org"})
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrMatrixIDInUse)
	assert.ErrorIs(t, err, store.ErrStorage)

	ok, err := s.RoomExists(ctx, "b")
	require.NoError(t, err)
	assert.False(t, ok, "failed write must not persist the record")

	b := &store.Room{ID: "b"}
	require.NoError(t, s.PutRoom(ctx, b))
	err = s.SetRoomMatrixID(ctx, b, "!shared:example.org")
	assert.ErrorIs(t, err, store.ErrMatrixIDInUse)

	owner, err := s.GetRoomByMatrixID(ctx, "!shared:example.org")
	require.NoError(t, err)
	assert.Equal(t, "a", owner.ID)

	// Rewriting the owner with its own matrix id is fine.
	require.NoError(t, s.PutRoom(ctx, &store.Room{ID: "a", MatrixID: "!shared:example.org", Extras: map[string]any{"v": 2}}))
}

func testRoomDeleteClearsIndex(t *testing.T, s store.Store) {
	ctx := context.Background()

	require.NoError(t, s.PutRoom(ctx, &store.Room{ID: "gone", MatrixID: "!gone:example.org"}))
	require.NoError(t, s.DeleteRoom(ctx, "gone"))

	ok, err := s.RoomExists(ctx, "gone")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.RoomExistsByMatrixID(ctx, "!gone:example.org")
	require.NoError(t, err)
	assert.False(t, ok)

	// The matrix id is free for another room afterwards.
	require.NoError(t, s.PutRoom(ctx, &store.Room{ID: "next", MatrixID: "!gone:example.org"}))
}

func testRoomExtras(t *testing.T, s store.Store) {
	ctx := context.Background()

	room := &store.Room{ID: "r", MatrixID: "!r:example.org", Kind: store.MatrixRoom}
	require.NoError(t, s.PutRoom(ctx, room))
	require.NoError(t, s.SetRoomExtra(ctx, room, "primaryAlias", "#r:example.org"))

	got, err := s.GetRoomByMatrixID(ctx, "!r:example.org")
	require.NoError(t, err)
	assert.Equal(t, "#r:example.org", got.Extras["primaryAlias"])
	assert.Equal(t, store.MatrixRoom, got.Kind)

	require.NoError(t, s.SetRoomExtra(ctx, got, "nested", map[string]any{"n": 1, "list": []int{1, 2}}))
	got, err = s.GetRoom(ctx, "r")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"n": int64(1), "list": []any{int64(1), int64(2)}}, got.Extras["nested"])

	require.NoError(t, s.RemoveRoomExtra(ctx, got, "primaryAlias"))
	got, err = s.GetRoom(ctx, "r")
	require.NoError(t, err)
	_, ok := got.Extras["primaryAlias"]
	assert.False(t, ok)
	assert.Equal(t, "!r:example.org", got.MatrixID, "removing an extra keeps the mapping")
}

func testArgumentsNotModified(t *testing.T, s store.Store) {
	ctx := context.Background()

	room := &store.Room{ID: "r", MatrixID: "!r:example.org", Extras: map[string]any{"a": "1"}}
	require.NoError(t, s.PutRoom(ctx, room))

	require.NoError(t, s.SetRoomExtra(ctx, room, "b", "2"))
	require.NoError(t, s.SetRoomMatrixID(ctx, room, "!other:example.org"))
	assert.Equal(t, map[string]any{"a": "1"}, room.Extras)
	assert.Equal(t, "!r:example.org", room.MatrixID)

	user := &store.User{ID: "u", Extras: map[string]any{"a": "1"}}
	require.NoError(t, s.PutUser(ctx, user))
	require.NoError(t, s.SetUserExtra(ctx, user, "b", "2"))
	require.NoError(t, s.RemoveUserExtra(ctx, user, "a"))
	assert.Equal(t, map[string]any{"a": "1"}, user.Extras)
}

func testExtraData(t *testing.T, s store.Store) {
	ctx := context.Background()

	require.NoError(t, s.PutExtra(ctx, "cursor", "s123"))
	v, err := s.GetExtra(ctx, "cursor")
	require.NoError(t, err)
	assert.Equal(t, "s123", v)

	require.NoError(t, s.PutExtra(ctx, "settings", map[string]any{"enabled": true, "limit": 5}))
	v, err = s.GetExtra(ctx, "settings")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"enabled": true, "limit": int64(5)}, v)

	require.NoError(t, s.PutExtra(ctx, "token", []byte{0, 255, 7}))
	v, err = s.GetExtra(ctx, "token")
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 255, 7}, v)

	require.NoError(t, s.DeleteExtra(ctx, "cursor"))
	_, err = s.GetExtra(ctx, "cursor")
	assert.ErrorIs(t, err, store.ErrNotFound)

	// Extra keys live in their own namespace.
	require.NoError(t, s.PutExtra(ctx, "u", "not a user"))
	ok, err := s.UserExists(ctx, "u")
	require.NoError(t, err)
	assert.False(t, ok)
}

func testDeletesAreIdempotent(t *testing.T, s store.Store) {
	ctx := context.Background()

	assert.NoError(t, s.DeleteUser(ctx, "missing"))
	assert.NoError(t, s.DeleteRoom(ctx, "missing"))
	assert.NoError(t, s.DeleteExtra(ctx, "missing"))

	require.NoError(t, s.PutUser(ctx, &store.User{ID: "u"}))
	require.NoError(t, s.DeleteUser(ctx, "u"))
	require.NoError(t, s.DeleteUser(ctx, "u"))
}

func testConcurrentWrites(t *testing.T, s store.Store) {
	ctx := context.Background()

	// Several rooms race for one matrix id; exactly one wins.
	const racers = 8
	var wg sync.WaitGroup
	errs := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.PutRoom(ctx, &store.Room{ID: string(rune('a' + i)), MatrixID: "!contested:example.org"})
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
			continue
		}
		assert.ErrorIs(t, err, store.ErrMatrixIDInUse)
	}
	assert.Equal(t, 1, winners)

	owner, err := s.GetRoomByMatrixID(ctx, "!contested:example.org")
	require.NoError(t, err)
	assert.Equal(t, "!contested:example.org", owner.MatrixID)
}

func testClosedStore(t *testing.T, s store.Store) {
	ctx := context.Background()

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	err := s.PutUser(ctx, &store.User{ID: "late"})
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrClosed)
	assert.ErrorIs(t, err, store.ErrStorage)

	_, err = s.GetRoom(ctx, "late")
	assert.ErrorIs(t, err, store.ErrClosed)
}
