package appservice

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/wiggin77/matrix-appservice-bridge/server/entity"
	"github.com/wiggin77/matrix-appservice-bridge/server/eventbus"
	"github.com/wiggin77/matrix-appservice-bridge/server/logging"
	"github.com/wiggin77/matrix-appservice-bridge/server/store"
)

// PrimaryAliasKey is the room extra holding the room's main alias.
const PrimaryAliasKey = "primaryAlias"

// InternalHandler keeps the room registry in step with provisioned and renamed rooms, and
// turns canonical alias and typing events into typed events.
type InternalHandler struct {
	entities *entity.Model
	bus      Publisher
	logger   logging.Logger
}

// NewInternalHandler creates the handler. Register it on the same bus it publishes to.
func NewInternalHandler(entities *entity.Model, bus Publisher, logger logging.Logger) *InternalHandler {
	return &InternalHandler{entities: entities, bus: bus, logger: logger}
}

func (h *InternalHandler) Name() string { return "appservice.internal" }

func (h *InternalHandler) Bindings() map[eventbus.Kind]eventbus.HandlerFunc {
	return map[eventbus.Kind]eventbus.HandlerFunc{
		eventbus.KindBridgedRoomCreated:        eventbus.Bind(h.onBridgedRoomCreated),
		eventbus.KindCanonicalRoomAliasChanged: eventbus.Bind(h.onCanonicalAliasChanged),
		eventbus.KindRawMatrixEvent:            eventbus.Bind(h.onRawMatrixEvent),
	}
}

// onBridgedRoomCreated records the new room keyed by its Matrix id.
func (h *InternalHandler) onBridgedRoomCreated(evt eventbus.BridgedRoomCreated) error {
	ctx := context.Background()
	roomID := evt.RoomID.String()

	_, err := h.entities.CreateRoom(ctx, roomID, roomID, store.MatrixRoom, map[string]any{
		PrimaryAliasKey: evt.Alias.String(),
	})
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrAlreadyExists) {
		return errors.Wrapf(err, "failed to record bridged room %s", roomID)
	}

	room, err := h.entities.ResolveRoom(ctx, roomID)
	if err != nil {
		return errors.Wrapf(err, "failed to resolve bridged room %s", roomID)
	}
	return room.SetExtra(ctx, PrimaryAliasKey, evt.Alias.String())
}

// onCanonicalAliasChanged updates the primary alias of a known room. An empty alias
// clears it.
func (h *InternalHandler) onCanonicalAliasChanged(evt eventbus.CanonicalRoomAliasChanged) error {
	ctx := context.Background()

	room, err := h.entities.ResolveRoomByMatrixID(ctx, evt.RoomID.String())
	if errors.Is(err, store.ErrNotFound) {
		h.logger.LogDebug("Ignoring alias change for unknown room", "room_id", evt.RoomID.String())
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "failed to resolve room %s", evt.RoomID)
	}

	if evt.Alias == "" {
		return room.RemoveExtra(ctx, PrimaryAliasKey)
	}
	return room.SetExtra(ctx, PrimaryAliasKey, evt.Alias.String())
}

// onRawMatrixEvent synthesizes typed events from the raw events the framework understands.
func (h *InternalHandler) onRawMatrixEvent(raw eventbus.RawMatrixEvent) error {
	evt, err := raw.Decode()
	if err != nil {
		return err
	}

	switch evt.Type.Type {
	case event.StateCanonicalAlias.Type:
		if evt.StateKey == nil || *evt.StateKey != "" {
			return nil
		}
		var content event.CanonicalAliasEventContent
		if err := decodeContent(evt, &content); err != nil {
			return err
		}
		h.bus.Publish(eventbus.CanonicalRoomAliasChanged{RoomID: evt.RoomID, Alias: content.Alias})

	case event.EphemeralEventTyping.Type:
		var content event.TypingEventContent
		if err := decodeContent(evt, &content); err != nil {
			return err
		}
		userIDs := content.UserIDs
		if userIDs == nil {
			userIDs = []id.UserID{}
		}
		h.bus.Publish(eventbus.UserTyping{RoomID: evt.RoomID, UserIDs: userIDs})
	}
	return nil
}

func decodeContent(evt *event.Event, v any) error {
	if len(evt.Content.VeryRaw) == 0 {
		return nil
	}
	return errors.Wrapf(json.Unmarshal(evt.Content.VeryRaw, v), "failed to decode %s content", evt.Type.Type)
}
