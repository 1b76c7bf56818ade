package appservice

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"maunium.net/go/mautrix/id"

	"github.com/wiggin77/matrix-appservice-bridge/server/entity"
	"github.com/wiggin77/matrix-appservice-bridge/server/eventbus"
	"github.com/wiggin77/matrix-appservice-bridge/server/logging"
	"github.com/wiggin77/matrix-appservice-bridge/server/scheduler"
	"github.com/wiggin77/matrix-appservice-bridge/server/store"
	"github.com/wiggin77/matrix-appservice-bridge/server/store/leveldb"
)

type testHooks struct {
	rooms map[id.RoomAlias]*CreateRoomRequest
	users map[id.UserID]*CreateUserRequest
}

func (h *testHooks) OnRoomAliasQueried(_ context.Context, alias id.RoomAlias) *CreateRoomRequest {
	return h.rooms[alias]
}

func (h *testHooks) OnUserAliasQueried(_ context.Context, userID id.UserID) *CreateUserRequest {
	return h.users[userID]
}

// collector forwards every event of the given kinds to a channel.
type collector struct {
	kinds  []eventbus.Kind
	events chan eventbus.Event
}

func newCollector(kinds ...eventbus.Kind) *collector {
	return &collector{kinds: kinds, events: make(chan eventbus.Event, 32)}
}

func (c *collector) Bindings() map[eventbus.Kind]eventbus.HandlerFunc {
	b := make(map[eventbus.Kind]eventbus.HandlerFunc, len(c.kinds))
	for _, k := range c.kinds {
		b[k] = func(evt eventbus.Event) error {
			c.events <- evt
			return nil
		}
	}
	return b
}

func (c *collector) next(t *testing.T) eventbus.Event {
	t.Helper()
	select {
	case evt := <-c.events:
		return evt
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func (c *collector) none(t *testing.T) {
	t.Helper()
	select {
	case evt := <-c.events:
		t.Fatalf("unexpected event %#v", evt)
	case <-time.After(100 * time.Millisecond):
	}
}

type testEnv struct {
	store    store.Store
	entities *entity.Model
	bus      *eventbus.Bus
	adapter  *Adapter
	hooks    *testHooks
}

// newTestEnv wires an adapter to a real bus and an in-memory store with the internal
// handler registered.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := logging.NewTestLogger(t)

	s, err := leveldb.OpenStorage(storage.NewMemStorage(), leveldb.Options{}, logger)
	require.NoError(t, err)

	pool := scheduler.NewPool(2, logger)
	bus := eventbus.New(pool, logger)
	entities := entity.New(s, logger)
	hooks := &testHooks{
		rooms: map[id.RoomAlias]*CreateRoomRequest{},
		users: map[id.UserID]*CreateUserRequest{},
	}

	bus.Register(NewInternalHandler(entities, bus, logger))

	t.Cleanup(func() {
		_ = pool.Shutdown(context.Background())
		_ = s.Close()
	})

	return &testEnv{
		store:    s,
		entities: entities,
		bus:      bus,
		adapter:  New(bus, hooks, logger),
		hooks:    hooks,
	}
}
