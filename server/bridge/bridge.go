// Package bridge owns the lifecycle of a concrete bridge: it loads configuration, opens the
// store, wires the runtime components together and tears them down in order.
package bridge

import (
	"context"

	"maunium.net/go/mautrix/id"

	"github.com/wiggin77/matrix-appservice-bridge/server/appservice"
)

// Bridge is implemented by a concrete bridge. Embed Base to pick up no-op defaults.
type Bridge interface {
	// OnStart runs once every component is ready and before the listener accepts requests.
	OnStart(ctx context.Context, c *Controller) error
	// OnStop runs last, after the store is closed.
	OnStop(ctx context.Context) error

	appservice.Hooks
}

// Base declines every query and does nothing on start and stop.
type Base struct{}

func (Base) OnStart(context.Context, *Controller) error { return nil }

func (Base) OnStop(context.Context) error { return nil }

func (Base) OnRoomAliasQueried(context.Context, id.RoomAlias) *appservice.CreateRoomRequest {
	return nil
}

func (Base) OnUserAliasQueried(context.Context, id.UserID) *appservice.CreateUserRequest {
	return nil
}
