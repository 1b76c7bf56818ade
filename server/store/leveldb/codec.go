package leveldb

import (
	"bytes"

	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/wiggin77/matrix-appservice-bridge/server/store"
)

// Records are msgpack maps so fields can be added without breaking older values.

type userRecord struct {
	Kind   uint8          `msgpack:"kind"`
	ID     string         `msgpack:"id"`
	Extras map[string]any `msgpack:"extras"`
}

type roomRecord struct {
	ID       string         `msgpack:"id"`
	MatrixID string         `msgpack:"matrixId,omitempty"`
	Extras   map[string]any `msgpack:"extras"`
	Kind     uint8          `msgpack:"kind,omitempty"`
}

func encode(v any) ([]byte, error) {
	return msgpack.Marshal(v)
}

// decode keeps msgpack bin as []byte. Integers come back at their encoded width, so
// callers widen values again with store.NormalizeValue.
func decode(data []byte, v any) error {
	return msgpack.NewDecoder(bytes.NewReader(data)).Decode(v)
}

func decodeExtras(extras map[string]any) (map[string]any, error) {
	n, err := store.NormalizeExtras(extras)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode extras")
	}
	return n, nil
}

func encodeUser(u *store.User) ([]byte, error) {
	return encode(&userRecord{Kind: uint8(u.Kind), ID: u.ID, Extras: u.Extras})
}

func decodeUser(data []byte) (*store.User, error) {
	var rec userRecord
	if err := decode(data, &rec); err != nil {
		return nil, err
	}
	extras, err := decodeExtras(rec.Extras)
	if err != nil {
		return nil, err
	}
	return &store.User{ID: rec.ID, Kind: store.UserKind(rec.Kind), Extras: extras}, nil
}

func encodeRoom(r *store.Room) ([]byte, error) {
	return encode(&roomRecord{ID: r.ID, MatrixID: r.MatrixID, Extras: r.Extras, Kind: uint8(r.Kind)})
}

func decodeRoom(data []byte) (*store.Room, error) {
	var rec roomRecord
	if err := decode(data, &rec); err != nil {
		return nil, err
	}
	extras, err := decodeExtras(rec.Extras)
	if err != nil {
		return nil, err
	}
	return &store.Room{ID: rec.ID, MatrixID: rec.MatrixID, Kind: store.RoomKind(rec.Kind), Extras: extras}, nil
}

func encodeValue(v any) ([]byte, error) {
	return encode(v)
}

func decodeValue(data []byte) (any, error) {
	var v any
	if err := decode(data, &v); err != nil {
		return nil, err
	}
	n, err := store.NormalizeValue(v)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode value")
	}
	return n, nil
}
