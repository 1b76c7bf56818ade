package eventbus

import (
	"encoding/json"

	"github.com/pkg/errors"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// Event kinds published by the framework.
const (
	KindRawMatrixEvent            Kind = "RawMatrixEvent"
	KindBridgedRoomCreated        Kind = "BridgedRoomCreated"
	KindBridgedUserProvisioned    Kind = "BridgedUserProvisioned"
	KindCanonicalRoomAliasChanged Kind = "CanonicalRoomAliasChanged"
	KindMatrixUserRegistered      Kind = "MatrixUserRegistered"
	KindUserTyping                Kind = "UserTyping"
)

// RawMatrixEvent is an inbound Matrix event exactly as the homeserver delivered it.
type RawMatrixEvent struct {
	Event json.RawMessage
}

func (RawMatrixEvent) Kind() Kind { return KindRawMatrixEvent }

// Decode parses the payload. State and ephemeral content is left unparsed until
// evt.Content.ParseRaw is called.
func (e RawMatrixEvent) Decode() (*event.Event, error) {
	var evt event.Event
	if err := json.Unmarshal(e.Event, &evt); err != nil {
		return nil, errors.Wrap(err, "failed to decode matrix event")
	}
	return &evt, nil
}

// BridgedRoomCreated follows a successful room creation triggered by an alias query.
type BridgedRoomCreated struct {
	Alias  id.RoomAlias
	RoomID id.RoomID
}

func (BridgedRoomCreated) Kind() Kind { return KindBridgedRoomCreated }

// BridgedUserProvisioned follows a successful ghost provisioning triggered by a user query.
type BridgedUserProvisioned struct {
	Localpart string
}

func (BridgedUserProvisioned) Kind() Kind { return KindBridgedUserProvisioned }

// CanonicalRoomAliasChanged reports a new m.room.canonical_alias for a room.
type CanonicalRoomAliasChanged struct {
	RoomID id.RoomID
	Alias  id.RoomAlias
}

func (CanonicalRoomAliasChanged) Kind() Kind { return KindCanonicalRoomAliasChanged }

// MatrixUserRegistered is published the first time this process registers a ghost.
type MatrixUserRegistered struct {
	UserID id.UserID
}

func (MatrixUserRegistered) Kind() Kind { return KindMatrixUserRegistered }

// UserTyping carries the full set of users typing in a room.
type UserTyping struct {
	RoomID  id.RoomID
	UserIDs []id.UserID
}

func (UserTyping) Kind() Kind { return KindUserTyping }
