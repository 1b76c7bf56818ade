// Package store defines the persistence contract shared by the ordered-prefix and document
// backends: two entity namespaces (users, rooms) plus a free-form extra-data namespace.
package store

import "context"

// UserKind distinguishes Matrix-side users from remote-side users.
type UserKind uint8

const (
	// MatrixUser is a user that lives on the Matrix side
	MatrixUser UserKind = iota
	// RemoteUser is a user that lives on the bridged remote side
	RemoteUser
)

func (k UserKind) String() string {
	switch k {
	case MatrixUser:
		return "matrix"
	case RemoteUser:
		return "remote"
	default:
		return "unknown"
	}
}

// RoomKind records which side a room's primary id comes from.
type RoomKind uint8

const (
	// RemoteRoom is keyed by a remote-side id; this is the default
	RemoteRoom RoomKind = iota
	// MatrixRoom is keyed by its own Matrix room id
	MatrixRoom
)

func (k RoomKind) String() string {
	switch k {
	case RemoteRoom:
		return "remote"
	case MatrixRoom:
		return "matrix"
	default:
		return "unknown"
	}
}

// User is the persisted form of a bridged user.
type User struct {
	ID     string
	Kind   UserKind
	Extras map[string]any
}

// Clone returns a deep copy of the record.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	return &User{ID: u.ID, Kind: u.Kind, Extras: CloneExtras(u.Extras)}
}

// Room is the persisted form of a bridged room. MatrixID is the secondary key and is
// empty when the room has no Matrix counterpart yet.
type Room struct {
	ID       string
	MatrixID string
	Kind     RoomKind
	Extras   map[string]any
}

// Clone returns a deep copy of the record.
func (r *Room) Clone() *Room {
	if r == nil {
		return nil
	}
	return &Room{ID: r.ID, MatrixID: r.MatrixID, Kind: r.Kind, Extras: CloneExtras(r.Extras)}
}

// Store is the contract every backend satisfies. All methods block until the backend has
// committed or failed. A failed write leaves persisted state unchanged. Methods that take
// a record never modify it; callers apply the change to their own copy on success.
//
//go:generate mockgen -destination=mocks/mock_store.go -package=mocks github.com/wiggin77/matrix-appservice-bridge/server/store Store
type Store interface {
	UserExists(ctx context.Context, id string) (bool, error)
	PutUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	DeleteUser(ctx context.Context, id string) error

	RoomExists(ctx context.Context, id string) (bool, error)
	RoomExistsByMatrixID(ctx context.Context, matrixID string) (bool, error)
	PutRoom(ctx context.Context, room *Room) error
	GetRoom(ctx context.Context, id string) (*Room, error)
	GetRoomByMatrixID(ctx context.Context, matrixID string) (*Room, error)
	DeleteRoom(ctx context.Context, id string) error

	SetRoomMatrixID(ctx context.Context, room *Room, matrixID string) error
	SetRoomExtra(ctx context.Context, room *Room, key string, value any) error
	RemoveRoomExtra(ctx context.Context, room *Room, key string) error
	SetUserExtra(ctx context.Context, user *User, key string, value any) error
	RemoveUserExtra(ctx context.Context, user *User, key string) error

	PutExtra(ctx context.Context, key string, value any) error
	GetExtra(ctx context.Context, key string) (any, error)
	DeleteExtra(ctx context.Context, key string) error

	Close() error
}
