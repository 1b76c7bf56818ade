// Package appservice translates homeserver application-service callbacks into bus events
// and provisioning decisions.
package appservice

import (
	"context"
	"encoding/json"

	"maunium.net/go/mautrix/id"

	"github.com/wiggin77/matrix-appservice-bridge/server/eventbus"
	"github.com/wiggin77/matrix-appservice-bridge/server/logging"
	"github.com/wiggin77/matrix-appservice-bridge/server/matrix"
)

// CreateRoomRequest describes the room to create for a queried alias.
type CreateRoomRequest = matrix.CreateRoomRequest

// CreateUserRequest describes the ghost to provision for a queried user id.
type CreateUserRequest struct {
	DisplayName string
	AvatarURL   id.ContentURIString
}

// Hooks are the provisioning decisions a concrete bridge makes. A nil result declines.
type Hooks interface {
	OnRoomAliasQueried(ctx context.Context, alias id.RoomAlias) *CreateRoomRequest
	OnUserAliasQueried(ctx context.Context, userID id.UserID) *CreateUserRequest
}

// Publisher is the part of the event bus the adapter needs.
type Publisher interface {
	Publish(evt eventbus.Event)
	PublishAsync(evt eventbus.Event) error
}

// Adapter is called by the HTTP listener.
type Adapter struct {
	bus    Publisher
	hooks  Hooks
	logger logging.Logger
}

// New creates an adapter. hooks may be nil, in which case every query is declined.
func New(bus Publisher, hooks Hooks, logger logging.Logger) *Adapter {
	return &Adapter{bus: bus, hooks: hooks, logger: logger}
}

// OnMatrixEvent publishes the event, untouched, as a RawMatrixEvent.
func (a *Adapter) OnMatrixEvent(raw json.RawMessage) error {
	return a.bus.PublishAsync(eventbus.RawMatrixEvent{Event: raw})
}

// OnRoomAliasQueried asks the bridge whether alias should be created.
func (a *Adapter) OnRoomAliasQueried(ctx context.Context, alias id.RoomAlias) *CreateRoomRequest {
	if a.hooks == nil {
		return nil
	}
	req := a.hooks.OnRoomAliasQueried(ctx, alias)
	a.logger.LogDebug("Room alias queried", "alias", alias.String(), "provision", req != nil)
	return req
}

// OnRoomAliasCreated is called once the room for a provisioned alias exists.
func (a *Adapter) OnRoomAliasCreated(alias id.RoomAlias, roomID id.RoomID) error {
	a.logger.LogInfo("Bridged room created", "alias", alias.String(), "room_id", roomID.String())
	return a.bus.PublishAsync(eventbus.BridgedRoomCreated{Alias: alias, RoomID: roomID})
}

// OnUserAliasQueried asks the bridge whether userID should be provisioned.
func (a *Adapter) OnUserAliasQueried(ctx context.Context, userID id.UserID) *CreateUserRequest {
	if a.hooks == nil {
		return nil
	}
	req := a.hooks.OnUserAliasQueried(ctx, userID)
	a.logger.LogDebug("User queried", "user_id", userID.String(), "provision", req != nil)
	return req
}

// OnUserProvisioned is called once a queried ghost has been registered.
func (a *Adapter) OnUserProvisioned(localpart string) error {
	a.logger.LogInfo("Bridged user provisioned", "localpart", localpart)
	return a.bus.PublishAsync(eventbus.BridgedUserProvisioned{Localpart: localpart})
}
