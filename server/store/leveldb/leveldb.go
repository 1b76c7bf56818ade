// Package leveldb implements the ordered-prefix Store backend on goleveldb.
package leveldb

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"

	"github.com/wiggin77/matrix-appservice-bridge/server/logging"
	"github.com/wiggin77/matrix-appservice-bridge/server/store"
)

// Options configures the database. CacheSizeMB is the block cache size in megabytes.
type Options struct {
	CacheSizeMB int
	Compression bool
}

func (o Options) levelOptions() *opt.Options {
	lo := &opt.Options{
		Compression: opt.NoCompression,
	}
	if o.Compression {
		lo.Compression = opt.SnappyCompression
	}
	if o.CacheSizeMB > 0 {
		lo.BlockCacheCapacity = o.CacheSizeMB * opt.MiB
	}
	return lo
}

// Store is the ordered-prefix backend. Reads are lock-free; room writes, which touch the
// reverse index, are serialized by writeMu and committed as one atomic batch.
type Store struct {
	db      *leveldb.DB
	logger  logging.Logger
	writeMu sync.Mutex
	closed  atomic.Bool
}

var _ store.Store = (*Store)(nil)

// Open opens or creates the database in dir.
func Open(dir string, opts Options, logger logging.Logger) (*Store, error) {
	db, err := leveldb.OpenFile(dir, opts.levelOptions())
	if err != nil {
		return nil, store.Wrap(err, "open database")
	}
	return initialize(db, logger)
}

// OpenStorage opens the database on an arbitrary goleveldb storage, e.g.
// storage.NewMemStorage() in tests.
func OpenStorage(stor storage.Storage, opts Options, logger logging.Logger) (*Store, error) {
	db, err := leveldb.Open(stor, opts.levelOptions())
	if err != nil {
		return nil, store.Wrap(err, "open database")
	}
	return initialize(db, logger)
}

func initialize(db *leveldb.DB, logger logging.Logger) (*Store, error) {
	s := &Store{db: db, logger: logger}

	if err := s.checkSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.scrubRoomIndex(); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "failed to check room reverse index")
	}
	return s, nil
}

// checkSchema writes the magic version on a fresh database and refuses to continue on
// a version mismatch without touching anything else.
func (s *Store) checkSchema() error {
	val, err := s.db.Get(MagicKey, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		if err := s.db.Put(MagicKey, []byte{CurrentSchemaVersion}, nil); err != nil {
			return store.Wrap(err, "write schema version")
		}
		s.logger.LogInfo("Initialized database schema", "version", CurrentSchemaVersion)
		return nil
	}
	if err != nil {
		return store.Wrap(err, "read schema version")
	}

	var found byte
	if len(val) > 0 {
		found = val[0]
	}
	if len(val) != 1 || found != CurrentSchemaVersion {
		return &store.SchemaMismatchError{Found: found, Expected: CurrentSchemaVersion}
	}

	s.logger.LogDebug("Database schema is up to date", "version", found)
	return nil
}

func (s *Store) guard(ctx context.Context, op string) error {
	if s.closed.Load() {
		return store.Wrap(store.ErrClosed, op)
	}
	return store.Wrap(ctx.Err(), op)
}

func (s *Store) has(ctx context.Context, op string, key []byte, keyErr error) (bool, error) {
	if err := s.guard(ctx, op); err != nil {
		return false, err
	}
	if keyErr != nil {
		return false, store.Wrap(keyErr, op)
	}
	ok, err := s.db.Has(key, nil)
	return ok, store.Wrap(err, op)
}

func (s *Store) get(key []byte, op string) ([]byte, error) {
	data, err := s.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, store.ErrNotFound
	}
	return data, store.Wrap(err, op)
}

// Users

func (s *Store) UserExists(ctx context.Context, id string) (bool, error) {
	key, err := UserKey(id)
	return s.has(ctx, "check user", key, err)
}

func (s *Store) PutUser(ctx context.Context, user *store.User) error {
	const op = "put user"
	if err := s.guard(ctx, op); err != nil {
		return err
	}
	extras, err := store.NormalizeExtras(user.Extras)
	if err != nil {
		return store.Wrap(err, op)
	}
	return s.writeUser(&store.User{ID: user.ID, Kind: user.Kind, Extras: extras}, op)
}

func (s *Store) writeUser(user *store.User, op string) error {
	key, err := UserKey(user.ID)
	if err != nil {
		return store.Wrap(err, op)
	}
	data, err := encodeUser(user)
	if err != nil {
		return store.Wrap(err, op)
	}
	return store.Wrap(s.db.Put(key, data, nil), op)
}

func (s *Store) GetUser(ctx context.Context, id string) (*store.User, error) {
	const op = "get user"
	if err := s.guard(ctx, op); err != nil {
		return nil, err
	}
	key, err := UserKey(id)
	if err != nil {
		return nil, store.Wrap(err, op)
	}
	data, err := s.get(key, op)
	if err != nil {
		return nil, err
	}
	user, err := decodeUser(data)
	return user, store.Wrap(err, op)
}

func (s *Store) DeleteUser(ctx context.Context, id string) error {
	const op = "delete user"
	if err := s.guard(ctx, op); err != nil {
		return err
	}
	key, err := UserKey(id)
	if err != nil {
		return store.Wrap(err, op)
	}
	return store.Wrap(s.db.Delete(key, nil), op)
}

func (s *Store) SetUserExtra(ctx context.Context, user *store.User, key string, value any) error {
	const op = "set user extra"
	if err := s.guard(ctx, op); err != nil {
		return err
	}
	extras, err := store.WithExtra(user.Extras, key, value)
	if err != nil {
		return store.Wrap(err, op)
	}
	return s.writeUser(&store.User{ID: user.ID, Kind: user.Kind, Extras: extras}, op)
}

func (s *Store) RemoveUserExtra(ctx context.Context, user *store.User, key string) error {
	const op = "remove user extra"
	if err := s.guard(ctx, op); err != nil {
		return err
	}
	return s.writeUser(&store.User{ID: user.ID, Kind: user.Kind, Extras: store.WithoutExtra(user.Extras, key)}, op)
}

// Rooms

func (s *Store) RoomExists(ctx context.Context, id string) (bool, error) {
	key, err := RoomKey(id)
	return s.has(ctx, "check room", key, err)
}

func (s *Store) RoomExistsByMatrixID(ctx context.Context, matrixID string) (bool, error) {
	key, err := RoomMappingKey(matrixID)
	return s.has(ctx, "check room mapping", key, err)
}

func (s *Store) PutRoom(ctx context.Context, room *store.Room) error {
	const op = "put room"
	if err := s.guard(ctx, op); err != nil {
		return err
	}
	extras, err := store.NormalizeExtras(room.Extras)
	if err != nil {
		return store.Wrap(err, op)
	}
	next := room.Clone()
	next.Extras = extras
	return s.writeRoom(next, op)
}

// writeRoom stores the record and moves its reverse index entry in one batch.
func (s *Store) writeRoom(room *store.Room, op string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	primary, err := RoomKey(room.ID)
	if err != nil {
		return store.Wrap(err, op)
	}

	batch := new(leveldb.Batch)

	prev, err := s.loadRoom(primary, op)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	if prev != nil && prev.MatrixID != "" && prev.MatrixID != room.MatrixID {
		oldKey, keyErr := RoomMappingKey(prev.MatrixID)
		if keyErr != nil {
			return store.Wrap(keyErr, op)
		}
		batch.Delete(oldKey)
	}

	if room.MatrixID != "" {
		mappingKey, keyErr := RoomMappingKey(room.MatrixID)
		if keyErr != nil {
			return store.Wrap(keyErr, op)
		}
		owner, getErr := s.db.Get(mappingKey, nil)
		switch {
		case getErr == nil && !bytes.Equal(owner, primary):
			return store.Wrap(store.ErrMatrixIDInUse, op)
		case getErr != nil && !errors.Is(getErr, leveldb.ErrNotFound):
			return store.Wrap(getErr, op)
		}
		batch.Put(mappingKey, primary)
	}

	data, err := encodeRoom(room)
	if err != nil {
		return store.Wrap(err, op)
	}
	batch.Put(primary, data)

	return store.Wrap(s.db.Write(batch, nil), op)
}

func (s *Store) loadRoom(primary []byte, op string) (*store.Room, error) {
	data, err := s.get(primary, op)
	if err != nil {
		return nil, err
	}
	room, err := decodeRoom(data)
	return room, store.Wrap(err, op)
}

func (s *Store) GetRoom(ctx context.Context, id string) (*store.Room, error) {
	const op = "get room"
	if err := s.guard(ctx, op); err != nil {
		return nil, err
	}
	primary, err := RoomKey(id)
	if err != nil {
		return nil, store.Wrap(err, op)
	}
	return s.loadRoom(primary, op)
}

func (s *Store) GetRoomByMatrixID(ctx context.Context, matrixID string) (*store.Room, error) {
	const op = "get room by matrix id"
	if err := s.guard(ctx, op); err != nil {
		return nil, err
	}
	mappingKey, err := RoomMappingKey(matrixID)
	if err != nil {
		return nil, store.Wrap(err, op)
	}
	primary, err := s.get(mappingKey, op)
	if err != nil {
		return nil, err
	}
	return s.loadRoom(primary, op)
}

func (s *Store) DeleteRoom(ctx context.Context, id string) error {
	const op = "delete room"
	if err := s.guard(ctx, op); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	primary, err := RoomKey(id)
	if err != nil {
		return store.Wrap(err, op)
	}
	prev, err := s.loadRoom(primary, op)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	batch := new(leveldb.Batch)
	batch.Delete(primary)
	if prev.MatrixID != "" {
		mappingKey, keyErr := RoomMappingKey(prev.MatrixID)
		if keyErr != nil {
			return store.Wrap(keyErr, op)
		}
		owner, getErr := s.db.Get(mappingKey, nil)
		if getErr == nil && bytes.Equal(owner, primary) {
			batch.Delete(mappingKey)
		}
	}
	return store.Wrap(s.db.Write(batch, nil), op)
}

func (s *Store) SetRoomMatrixID(ctx context.Context, room *store.Room, matrixID string) error {
	const op = "set room matrix id"
	if err := s.guard(ctx, op); err != nil {
		return err
	}
	next := room.Clone()
	next.MatrixID = matrixID
	return s.writeRoom(next, op)
}

func (s *Store) SetRoomExtra(ctx context.Context, room *store.Room, key string, value any) error {
	const op = "set room extra"
	if err := s.guard(ctx, op); err != nil {
		return err
	}
	extras, err := store.WithExtra(room.Extras, key, value)
	if err != nil {
		return store.Wrap(err, op)
	}
	next := room.Clone()
	next.Extras = extras
	return s.writeRoom(next, op)
}

func (s *Store) RemoveRoomExtra(ctx context.Context, room *store.Room, key string) error {
	const op = "remove room extra"
	if err := s.guard(ctx, op); err != nil {
		return err
	}
	next := room.Clone()
	next.Extras = store.WithoutExtra(room.Extras, key)
	return s.writeRoom(next, op)
}

// Extra data

func (s *Store) PutExtra(ctx context.Context, key string, value any) error {
	const op = "put extra"
	if err := s.guard(ctx, op); err != nil {
		return err
	}
	k, err := ExtraKey(key)
	if err != nil {
		return store.Wrap(err, op)
	}
	normalized, err := store.NormalizeValue(value)
	if err != nil {
		return store.Wrap(err, op)
	}
	data, err := encodeValue(normalized)
	if err != nil {
		return store.Wrap(err, op)
	}
	return store.Wrap(s.db.Put(k, data, nil), op)
}

func (s *Store) GetExtra(ctx context.Context, key string) (any, error) {
	const op = "get extra"
	if err := s.guard(ctx, op); err != nil {
		return nil, err
	}
	k, err := ExtraKey(key)
	if err != nil {
		return nil, store.Wrap(err, op)
	}
	data, err := s.get(k, op)
	if err != nil {
		return nil, err
	}
	v, err := decodeValue(data)
	return v, store.Wrap(err, op)
}

func (s *Store) DeleteExtra(ctx context.Context, key string) error {
	const op = "delete extra"
	if err := s.guard(ctx, op); err != nil {
		return err
	}
	k, err := ExtraKey(key)
	if err != nil {
		return store.Wrap(err, op)
	}
	return store.Wrap(s.db.Delete(k, nil), op)
}

// Close releases the database. Further calls fail with store.ErrClosed.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return store.Wrap(s.db.Close(), "close database")
}
