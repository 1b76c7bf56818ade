package leveldb

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Key layout of the ordered-prefix store. Every key is a namespace tag, an optional
// sub-tag, a big-endian u16 length and the UTF-8 id.

const (
	// CurrentSchemaVersion is the version byte stored under the magic key
	CurrentSchemaVersion byte = 2

	// TagUser prefixes user records
	TagUser byte = 0
	// TagRoom prefixes both room sub-namespaces
	TagRoom byte = 1
	// TagExtra prefixes free-form extra data
	TagExtra byte = 2

	// SubTagRoomData marks room primary records (id -> record)
	SubTagRoomData byte = 10
	// SubTagRoomMapping marks reverse index entries (matrix id -> primary key)
	SubTagRoomMapping byte = 11

	maxIDLength = 0xFFFF
)

// MagicKey holds the schema version. It sorts after every data key.
var MagicKey = []byte{0xDB, 0xFE}

var (
	userPrefix        = []byte{TagUser}
	roomDataPrefix    = []byte{TagRoom, SubTagRoomData}
	roomMappingPrefix = []byte{TagRoom, SubTagRoomMapping}
	extraPrefix       = []byte{TagExtra}
)

func buildKey(prefix []byte, id string) ([]byte, error) {
	if len(id) > maxIDLength {
		return nil, errors.Errorf("id of %d bytes exceeds the %d byte key limit", len(id), maxIDLength)
	}
	key := make([]byte, 0, len(prefix)+2+len(id))
	key = append(key, prefix...)
	key = binary.BigEndian.AppendUint16(key, uint16(len(id)))
	key = append(key, id...)
	return key, nil
}

// UserKey builds the key of a user record
func UserKey(id string) ([]byte, error) {
	return buildKey(userPrefix, id)
}

// RoomKey builds the primary key of a room record
func RoomKey(id string) ([]byte, error) {
	return buildKey(roomDataPrefix, id)
}

// RoomMappingKey builds the reverse index key for a Matrix room id
func RoomMappingKey(matrixID string) ([]byte, error) {
	return buildKey(roomMappingPrefix, matrixID)
}

// ExtraKey builds the key of an extra-data entry
func ExtraKey(key string) ([]byte, error) {
	return buildKey(extraPrefix, key)
}

// parseKey extracts the id from a key built with prefix.
func parseKey(prefix, key []byte) (string, error) {
	if len(key) < len(prefix)+2 {
		return "", errors.Errorf("key of %d bytes is too short", len(key))
	}
	n := int(binary.BigEndian.Uint16(key[len(prefix):]))
	body := key[len(prefix)+2:]
	if len(body) != n {
		return "", errors.Errorf("key length prefix %d does not match %d id bytes", n, len(body))
	}
	return string(body), nil
}
