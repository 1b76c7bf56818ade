package matrix

import (
	"context"
	"net/http"
	"sync"

	"github.com/pkg/errors"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// UserClient issues requests as one user. For any user but the sender the first request
// registers the ghost.
type UserClient struct {
	client    *Client
	userID    id.UserID
	localpart string
	isSender  bool

	regMu      sync.Mutex
	registered bool
}

func newUserClient(c *Client, userID id.UserID) *UserClient {
	localpart, _, _ := userID.Parse()
	return &UserClient{
		client:    c,
		userID:    userID,
		localpart: localpart,
		isSender:  userID == c.senderID,
	}
}

// UserID is the user this client acts as.
func (u *UserClient) UserID() id.UserID { return u.userID }

// EnsureRegistered registers the ghost once per process. A failure is not remembered,
// so the next call tries again.
func (u *UserClient) EnsureRegistered(ctx context.Context) error {
	if u.isSender {
		return nil
	}

	u.regMu.Lock()
	defer u.regMu.Unlock()
	if u.registered {
		return nil
	}

	if u.localpart == "" {
		return errors.Errorf("invalid user id %q", u.userID)
	}
	if err := u.client.RegisterGhost(ctx, u.localpart); err != nil {
		return err
	}
	u.registered = true

	if u.client.onGhostRegistered != nil {
		u.client.onGhostRegistered(u.userID)
	}
	return nil
}

// RegisterGhost registers localpart through the appservice registration flow.
// M_USER_IN_USE counts as success; M_EXCLUSIVE yields *UserExclusiveError.
func (c *Client) RegisterGhost(ctx context.Context, localpart string) error {
	req, err := jsonRequest("register ghost", http.MethodPost, c.clientURL(c.senderID, nil, "register"), map[string]string{
		"type":     "m.login.application_service",
		"username": localpart,
	})
	if err != nil {
		return err
	}

	res, err := c.do(ctx, req)
	if err != nil {
		return err
	}
	if res.OK {
		c.logger.LogDebug("Registered ghost user", "localpart", localpart)
		return nil
	}

	if res.Error != nil {
		switch res.Error.ErrCode {
		case mautrix.MUserInUse.ErrCode:
			c.logger.LogDebug("Ghost user already registered", "localpart", localpart)
			return nil
		case mautrix.MExclusive.ErrCode:
			return &UserExclusiveError{Localpart: localpart, Err: res.Error}
		}
	}
	return &NetworkError{Op: "register ghost", Err: res.Err()}
}

// send performs a masqueraded JSON request after making sure the ghost exists.
func (u *UserClient) send(ctx context.Context, op, method string, payload any, segments ...string) (*Result, error) {
	if err := u.EnsureRegistered(ctx); err != nil {
		return nil, err
	}
	req, err := jsonRequest(op, method, u.client.clientURL(u.userID, nil, segments...), payload)
	if err != nil {
		return nil, err
	}
	return u.client.do(ctx, req)
}

func (u *UserClient) getJSON(ctx context.Context, op string, v any, segments ...string) error {
	if err := u.EnsureRegistered(ctx); err != nil {
		return err
	}
	return u.client.getJSON(ctx, op, u.client.clientURL(u.userID, nil, segments...), v)
}

// SetTyping sets the typing notification. The timeout is sent even when typing is false.
func (u *UserClient) SetTyping(ctx context.Context, roomID id.RoomID, typing bool, timeoutMs int) (*Result, error) {
	return u.send(ctx, "set typing", http.MethodPut, map[string]any{
		"typing":  typing,
		"timeout": timeoutMs,
	}, "rooms", roomID.String(), "typing", u.userID.String())
}

// Presence is the presence record of a user.
type Presence struct {
	Presence        event.Presence `json:"presence"`
	StatusMsg       string         `json:"status_msg,omitempty"`
	LastActiveAgo   int64          `json:"last_active_ago,omitempty"`
	CurrentlyActive bool           `json:"currently_active,omitempty"`
}

func (u *UserClient) SetPresence(ctx context.Context, presence event.Presence, statusMsg string) (*Result, error) {
	return u.send(ctx, "set presence", http.MethodPut, map[string]any{
		"presence":   presence,
		"status_msg": statusMsg,
	}, "presence", u.userID.String(), "status")
}

func (u *UserClient) GetPresence(ctx context.Context) (*Presence, error) {
	var p Presence
	if err := u.getJSON(ctx, "get presence", &p, "presence", u.userID.String(), "status"); err != nil {
		return nil, err
	}
	return &p, nil
}

func (u *UserClient) SetDisplayName(ctx context.Context, name string) (*Result, error) {
	return u.send(ctx, "set display name", http.MethodPut, map[string]string{
		"displayname": name,
	}, "profile", u.userID.String(), "displayname")
}

func (u *UserClient) SetAvatar(ctx context.Context, avatarURL id.ContentURIString) (*Result, error) {
	return u.send(ctx, "set avatar", http.MethodPut, map[string]string{
		"avatar_url": string(avatarURL),
	}, "profile", u.userID.String(), "avatar_url")
}

func (u *UserClient) GetDisplayName(ctx context.Context) (string, error) {
	var resp struct {
		DisplayName string `json:"displayname"`
	}
	if err := u.getJSON(ctx, "get display name", &resp, "profile", u.userID.String(), "displayname"); err != nil {
		return "", err
	}
	return resp.DisplayName, nil
}

func (u *UserClient) GetAvatar(ctx context.Context) (id.ContentURIString, error) {
	var resp struct {
		AvatarURL id.ContentURIString `json:"avatar_url"`
	}
	if err := u.getJSON(ctx, "get avatar", &resp, "profile", u.userID.String(), "avatar_url"); err != nil {
		return "", err
	}
	return resp.AvatarURL, nil
}

// SendMessage sends an m.room.message with a fresh transaction id. The id is fixed before
// the first attempt so a rate-limited retry reuses it.
func (u *UserClient) SendMessage(ctx context.Context, roomID id.RoomID, content any) (*Result, error) {
	if err := u.client.limiter.waitMessage(ctx); err != nil {
		return nil, errors.Wrap(err, "failed to wait for message rate limit")
	}
	return u.send(ctx, "send message", http.MethodPut, content,
		"rooms", roomID.String(), "send", event.EventMessage.Type, u.client.NewTxnID())
}

func (u *UserClient) Invite(ctx context.Context, roomID id.RoomID, userID id.UserID) (*Result, error) {
	if err := u.client.limiter.waitInvite(ctx); err != nil {
		return nil, errors.Wrap(err, "failed to wait for invite rate limit")
	}
	return u.send(ctx, "invite", http.MethodPost, map[string]string{
		"user_id": userID.String(),
	}, "rooms", roomID.String(), "invite")
}

// JoinRoom joins by room id or alias.
func (u *UserClient) JoinRoom(ctx context.Context, roomIDOrAlias string) (*Result, error) {
	return u.send(ctx, "join room", http.MethodPost, struct{}{}, "join", roomIDOrAlias)
}

func (u *UserClient) LeaveRoom(ctx context.Context, roomID id.RoomID) (*Result, error) {
	return u.send(ctx, "leave room", http.MethodPost, struct{}{}, "rooms", roomID.String(), "leave")
}

func (u *UserClient) Kick(ctx context.Context, roomID id.RoomID, userID id.UserID, reason string) (*Result, error) {
	return u.send(ctx, "kick", http.MethodPost, map[string]string{
		"user_id": userID.String(),
		"reason":  reason,
	}, "rooms", roomID.String(), "kick")
}

func (u *UserClient) Ban(ctx context.Context, roomID id.RoomID, userID id.UserID, reason string) (*Result, error) {
	return u.send(ctx, "ban", http.MethodPost, map[string]string{
		"user_id": userID.String(),
		"reason":  reason,
	}, "rooms", roomID.String(), "ban")
}

// Member is one entry of a joined_members response.
type Member struct {
	DisplayName string              `json:"display_name,omitempty"`
	AvatarURL   id.ContentURIString `json:"avatar_url,omitempty"`
}

func (u *UserClient) GetRoomMembers(ctx context.Context, roomID id.RoomID) (map[id.UserID]Member, error) {
	var resp struct {
		Joined map[id.UserID]Member `json:"joined"`
	}
	if err := u.getJSON(ctx, "get room members", &resp, "rooms", roomID.String(), "joined_members"); err != nil {
		return nil, err
	}
	if resp.Joined == nil {
		resp.Joined = map[id.UserID]Member{}
	}
	return resp.Joined, nil
}

func (u *UserClient) CreateRoomAlias(ctx context.Context, alias id.RoomAlias, roomID id.RoomID) (*Result, error) {
	return u.send(ctx, "create room alias", http.MethodPut, map[string]string{
		"room_id": roomID.String(),
	}, "directory", "room", alias.String())
}

// AliasResolution is the directory entry of an alias.
type AliasResolution struct {
	RoomID  id.RoomID `json:"room_id"`
	Servers []string  `json:"servers,omitempty"`
}

func (u *UserClient) ResolveAlias(ctx context.Context, alias id.RoomAlias) (*AliasResolution, error) {
	var resp AliasResolution
	if err := u.getJSON(ctx, "resolve alias", &resp, "directory", "room", alias.String()); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (u *UserClient) DeleteAlias(ctx context.Context, alias id.RoomAlias) (*Result, error) {
	return u.send(ctx, "delete alias", http.MethodDelete, nil, "directory", "room", alias.String())
}

// CreateRoomRequest is the body of a createRoom call.
type CreateRoomRequest struct {
	RoomAliasName   string                         `json:"room_alias_name,omitempty"`
	Name            string                         `json:"name,omitempty"`
	Topic           string                         `json:"topic,omitempty"`
	Preset          string                         `json:"preset,omitempty"`
	Visibility      string                         `json:"visibility,omitempty"`
	Invite          []id.UserID                    `json:"invite,omitempty"`
	InitialState    []*event.Event                 `json:"initial_state,omitempty"`
	CreationContent map[string]any                 `json:"creation_content,omitempty"`
	PowerLevels     *event.PowerLevelsEventContent `json:"power_level_content_override,omitempty"`
	IsDirect        bool                           `json:"is_direct,omitempty"`
}

// CreateRoom creates a room and returns its id.
func (u *UserClient) CreateRoom(ctx context.Context, req *CreateRoomRequest) (id.RoomID, error) {
	if err := u.client.limiter.waitRoom(ctx); err != nil {
		return "", errors.Wrap(err, "failed to wait for room creation rate limit")
	}
	res, err := u.send(ctx, "create room", http.MethodPost, req, "createRoom")
	if err != nil {
		return "", err
	}
	if err := res.Err(); err != nil {
		return "", err
	}
	var resp struct {
		RoomID id.RoomID `json:"room_id"`
	}
	if err := res.Decode(&resp); err != nil {
		return "", err
	}
	return resp.RoomID, nil
}
