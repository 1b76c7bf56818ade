// Package mongo implements the document Store backend. Users and rooms are split into one
// collection per kind; the kind of a record is implied by the collection it lives in.
package mongo

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/wiggin77/matrix-appservice-bridge/server/logging"
	"github.com/wiggin77/matrix-appservice-bridge/server/store"
)

// Collection names.
const (
	CollectionMatrixUsers = "matrixUsers"
	CollectionRemoteUsers = "remoteUsers"
	CollectionMatrixRooms = "matrixRooms"
	CollectionRemoteRooms = "remoteRooms"
	CollectionExtraData   = "extraData"
)

const disconnectTimeout = 10 * time.Second

type document struct {
	ID       string `bson:"id"`
	MatrixID string `bson:"matrixId,omitempty"`
	Extras   bson.M `bson:"extras"`
}

type extraDocument struct {
	ID    string `bson:"id"`
	Value any    `bson:"value"`
}

// Store is the document backend.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	logger logging.Logger

	users map[store.UserKind]*mongo.Collection
	rooms map[store.RoomKind]*mongo.Collection
	extra *mongo.Collection

	// Serializes room writes so the cross-collection matrix id check and the write
	// happen as one step within this process.
	writeMu sync.Mutex
	closed  atomic.Bool
}

var _ store.Store = (*Store)(nil)

// Open connects to url, verifies the connection and ensures the indexes of database exist.
func Open(ctx context.Context, url, database string, logger logging.Logger) (*Store, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(url))
	if err != nil {
		return nil, store.Wrap(errors.Wrap(err, "failed to connect to MongoDB"), "open database")
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, store.Wrap(errors.Wrap(err, "failed to ping MongoDB"), "open database")
	}

	db := client.Database(database)
	s := &Store{
		client: client,
		db:     db,
		logger: logger,
		users: map[store.UserKind]*mongo.Collection{
			store.MatrixUser: db.Collection(CollectionMatrixUsers),
			store.RemoteUser: db.Collection(CollectionRemoteUsers),
		},
		rooms: map[store.RoomKind]*mongo.Collection{
			store.MatrixRoom: db.Collection(CollectionMatrixRooms),
			store.RemoteRoom: db.Collection(CollectionRemoteRooms),
		},
		extra: db.Collection(CollectionExtraData),
	}

	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, store.Wrap(err, "create indexes")
	}

	logger.LogInfo("Connected to MongoDB", "database", database)
	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	byID := mongo.IndexModel{
		Keys:    bson.D{{Key: "id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	byMatrixID := mongo.IndexModel{
		Keys:    bson.D{{Key: "matrixId", Value: 1}},
		Options: options.Index().SetUnique(true).SetSparse(true),
	}

	collections := map[string][]mongo.IndexModel{
		CollectionMatrixUsers: {byID},
		CollectionRemoteUsers: {byID},
		CollectionMatrixRooms: {byID, byMatrixID},
		CollectionRemoteRooms: {byID, byMatrixID},
		CollectionExtraData:   {byID},
	}
	for name, indexes := range collections {
		if _, err := s.db.Collection(name).Indexes().CreateMany(ctx, indexes); err != nil {
			return errors.Wrapf(err, "failed to create indexes on %s", name)
		}
	}
	return nil
}

func (s *Store) guard(ctx context.Context, op string) error {
	if s.closed.Load() {
		return store.Wrap(store.ErrClosed, op)
	}
	return store.Wrap(ctx.Err(), op)
}

func byID(id string) bson.D {
	return bson.D{{Key: "id", Value: id}}
}

func (s *Store) findOne(ctx context.Context, coll *mongo.Collection, filter bson.D) (*document, error) {
	var doc document
	err := coll.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (s *Store) exists(ctx context.Context, op string, colls []*mongo.Collection, filter bson.D) (bool, error) {
	if err := s.guard(ctx, op); err != nil {
		return false, err
	}
	for _, coll := range colls {
		n, err := coll.CountDocuments(ctx, filter, options.Count().SetLimit(1))
		if err != nil {
			return false, store.Wrap(err, op)
		}
		if n > 0 {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) userCollections() []*mongo.Collection {
	return []*mongo.Collection{s.users[store.MatrixUser], s.users[store.RemoteUser]}
}

func (s *Store) roomCollections() []*mongo.Collection {
	return []*mongo.Collection{s.rooms[store.RemoteRoom], s.rooms[store.MatrixRoom]}
}

// Users

func (s *Store) UserExists(ctx context.Context, id string) (bool, error) {
	return s.exists(ctx, "check user", s.userCollections(), byID(id))
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
	return s.writeUser(ctx, user.ID, user.Kind, extras, op)
}

func (s *Store) writeUser(ctx context.Context, id string, kind store.UserKind, extras map[string]any, op string) error {
	coll, ok := s.users[kind]
	if !ok {
		return store.Wrap(errors.Errorf("unknown user kind %d", kind), op)
	}
	var others []*mongo.Collection
	for other, otherColl := range s.users {
		if other != kind {
			others = append(others, otherColl)
		}
	}
	return store.Wrap(s.replaceExclusive(ctx, coll, others, &document{ID: id, Extras: extras}), op)
}

type displaced struct {
	coll *mongo.Collection
	doc  *document
}

// replaceExclusive upserts doc into coll after taking its id out of every other collection.
// Documents taken out are put back when the upsert fails, so a kind change either fully
// happens or leaves the record where it was.
func (s *Store) replaceExclusive(ctx context.Context, coll *mongo.Collection, others []*mongo.Collection, doc *document) error {
	var moved []displaced
	for _, other := range others {
		var old document
		err := other.FindOneAndDelete(ctx, byID(doc.ID)).Decode(&old)
		if errors.Is(err, mongo.ErrNoDocuments) {
			continue
		}
		if err != nil {
			s.restore(moved)
			return err
		}
		moved = append(moved, displaced{coll: other, doc: &old})
	}

	if _, err := coll.ReplaceOne(ctx, byID(doc.ID), doc, options.Replace().SetUpsert(true)); err != nil {
		s.restore(moved)
		return err
	}
	return nil
}

// restore puts displaced documents back. It does not use the caller's context, which may
// be the reason the write failed.
func (s *Store) restore(moved []displaced) {
	for _, m := range moved {
		ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
		_, err := m.coll.InsertOne(ctx, m.doc)
		cancel()
		if err != nil {
			s.logger.LogError("Failed to restore document after a failed write", "collection", m.coll.Name(), "id", m.doc.ID, "error", err)
		}
	}
}

func (s *Store) GetUser(ctx context.Context, id string) (*store.User, error) {
	const op = "get user"
	if err := s.guard(ctx, op); err != nil {
		return nil, err
	}
	for kind, coll := range s.users {
		doc, err := s.findOne(ctx, coll, byID(id))
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, store.Wrap(err, op)
		}
		extras, err := fromDocument(doc.Extras)
		if err != nil {
			return nil, store.Wrap(err, op)
		}
		return &store.User{ID: doc.ID, Kind: kind, Extras: extras}, nil
	}
	return nil, store.ErrNotFound
}

func (s *Store) DeleteUser(ctx context.Context, id string) error {
	const op = "delete user"
	if err := s.guard(ctx, op); err != nil {
		return err
	}
	for _, coll := range s.userCollections() {
		if _, err := coll.DeleteOne(ctx, byID(id)); err != nil {
			return store.Wrap(err, op)
		}
	}
	return nil
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
	return s.writeUser(ctx, user.ID, user.Kind, extras, op)
}

func (s *Store) RemoveUserExtra(ctx context.Context, user *store.User, key string) error {
	const op = "remove user extra"
	if err := s.guard(ctx, op); err != nil {
		return err
	}
	return s.writeUser(ctx, user.ID, user.Kind, store.WithoutExtra(user.Extras, key), op)
}

// Rooms

func (s *Store) RoomExists(ctx context.Context, id string) (bool, error) {
	return s.exists(ctx, "check room", s.roomCollections(), byID(id))
}

func (s *Store) RoomExistsByMatrixID(ctx context.Context, matrixID string) (bool, error) {
	return s.exists(ctx, "check room mapping", s.roomCollections(), bson.D{{Key: "matrixId", Value: matrixID}})
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
	return s.writeRoom(ctx, next, op)
}

func (s *Store) writeRoom(ctx context.Context, room *store.Room, op string) error {
	coll, ok := s.rooms[room.Kind]
	if !ok {
		return store.Wrap(errors.Errorf("unknown room kind %d", room.Kind), op)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if room.MatrixID != "" {
		filter := bson.D{
			{Key: "matrixId", Value: room.MatrixID},
			{Key: "id", Value: bson.D{{Key: "$ne", Value: room.ID}}},
		}
		for _, c := range s.roomCollections() {
			_, err := s.findOne(ctx, c, filter)
			if err == nil {
				return store.Wrap(store.ErrMatrixIDInUse, op)
			}
			if !errors.Is(err, store.ErrNotFound) {
				return store.Wrap(err, op)
			}
		}
	}

	var others []*mongo.Collection
	for kind, other := range s.rooms {
		if kind != room.Kind {
			others = append(others, other)
		}
	}
	err := s.replaceExclusive(ctx, coll, others, &document{ID: room.ID, MatrixID: room.MatrixID, Extras: room.Extras})
	if mongo.IsDuplicateKeyError(err) {
		return store.Wrap(store.ErrMatrixIDInUse, op)
	}
	return store.Wrap(err, op)
}

func (s *Store) findRoom(ctx context.Context, filter bson.D, op string) (*store.Room, error) {
	if err := s.guard(ctx, op); err != nil {
		return nil, err
	}
	for kind, coll := range s.rooms {
		doc, err := s.findOne(ctx, coll, filter)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, store.Wrap(err, op)
		}
		extras, err := fromDocument(doc.Extras)
		if err != nil {
			return nil, store.Wrap(err, op)
		}
		return &store.Room{ID: doc.ID, MatrixID: doc.MatrixID, Kind: kind, Extras: extras}, nil
	}
	return nil, store.ErrNotFound
}

func (s *Store) GetRoom(ctx context.Context, id string) (*store.Room, error) {
	return s.findRoom(ctx, byID(id), "get room")
}

func (s *Store) GetRoomByMatrixID(ctx context.Context, matrixID string) (*store.Room, error) {
	return s.findRoom(ctx, bson.D{{Key: "matrixId", Value: matrixID}}, "get room by matrix id")
}

func (s *Store) DeleteRoom(ctx context.Context, id string) error {
	const op = "delete room"
	if err := s.guard(ctx, op); err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	for _, coll := range s.roomCollections() {
		if _, err := coll.DeleteOne(ctx, byID(id)); err != nil {
			return store.Wrap(err, op)
		}
	}
	return nil
}

func (s *Store) SetRoomMatrixID(ctx context.Context, room *store.Room, matrixID string) error {
	const op = "set room matrix id"
	if err := s.guard(ctx, op); err != nil {
		return err
	}
	next := room.Clone()
	next.MatrixID = matrixID
	return s.writeRoom(ctx, next, op)
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
	return s.writeRoom(ctx, next, op)
}

func (s *Store) RemoveRoomExtra(ctx context.Context, room *store.Room, key string) error {
	const op = "remove room extra"
	if err := s.guard(ctx, op); err != nil {
		return err
	}
	next := room.Clone()
	next.Extras = store.WithoutExtra(room.Extras, key)
	return s.writeRoom(ctx, next, op)
}

// Extra data

func (s *Store) PutExtra(ctx context.Context, key string, value any) error {
	const op = "put extra"
	if err := s.guard(ctx, op); err != nil {
		return err
	}
	normalized, err := store.NormalizeValue(value)
	if err != nil {
		return store.Wrap(err, op)
	}
	doc := &extraDocument{ID: key, Value: normalized}
	_, err = s.extra.ReplaceOne(ctx, byID(key), doc, options.Replace().SetUpsert(true))
	return store.Wrap(err, op)
}

func (s *Store) GetExtra(ctx context.Context, key string) (any, error) {
	const op = "get extra"
	if err := s.guard(ctx, op); err != nil {
		return nil, err
	}
	var doc extraDocument
	err := s.extra.FindOne(ctx, byID(key)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, store.Wrap(err, op)
	}
	v, err := fromBSON(doc.Value)
	return v, store.Wrap(err, op)
}

func (s *Store) DeleteExtra(ctx context.Context, key string) error {
	const op = "delete extra"
	if err := s.guard(ctx, op); err != nil {
		return err
	}
	_, err := s.extra.DeleteOne(ctx, byID(key))
	return store.Wrap(err, op)
}

// Close disconnects from the server. Further calls fail with store.ErrClosed.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
	defer cancel()
	return store.Wrap(s.client.Disconnect(ctx), "close database")
}
