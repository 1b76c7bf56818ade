package matrix

import (
	"context"
	"net/http"

	"go.mau.fi/util/ptr"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// DefaultPowerLevels is the power level content the server applies to a new room absent
// an override.
func DefaultPowerLevels() *event.PowerLevelsEventContent {
	return &event.PowerLevelsEventContent{
		Users:           map[id.UserID]int{},
		Events:          map[string]int{},
		UsersDefault:    0,
		EventsDefault:   0,
		StateDefaultPtr: ptr.Ptr(50),
		InvitePtr:       ptr.Ptr(0),
		KickPtr:         ptr.Ptr(50),
		BanPtr:          ptr.Ptr(50),
		RedactPtr:       ptr.Ptr(50),
	}
}

func (u *UserClient) GetPowerLevels(ctx context.Context, roomID id.RoomID) (*event.PowerLevelsEventContent, error) {
	var pl event.PowerLevelsEventContent
	if err := u.getJSON(ctx, "get power levels", &pl, "rooms", roomID.String(), "state", event.StatePowerLevels.Type); err != nil {
		return nil, err
	}
	return &pl, nil
}

func (u *UserClient) SetPowerLevels(ctx context.Context, roomID id.RoomID, pl *event.PowerLevelsEventContent) (*Result, error) {
	return u.send(ctx, "set power levels", http.MethodPut, pl, "rooms", roomID.String(), "state", event.StatePowerLevels.Type)
}

// SetUserPowerLevel reads the room's power levels, sets level for userID and writes them
// back.
func (u *UserClient) SetUserPowerLevel(ctx context.Context, roomID id.RoomID, userID id.UserID, level int) (*Result, error) {
	pl, err := u.GetPowerLevels(ctx, roomID)
	if err != nil {
		return nil, err
	}
	pl.SetUserLevel(userID, level)
	return u.SetPowerLevels(ctx, roomID, pl)
}
