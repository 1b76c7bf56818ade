package leveldb

import (
	"bytes"

	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// ScrubBatchSize is the number of index repairs committed per write batch.
const ScrubBatchSize = 1000

// scrubRoomIndex reconciles the room reverse index with the primary records. Missing
// mappings are recreated and mappings that point at a deleted room or a room whose matrix
// id has since changed are removed.
func (s *Store) scrubRoomIndex() error {
	seen := make(map[string]struct{})
	created, err := s.restoreMappings(seen)
	if err != nil {
		return errors.Wrap(err, "failed to restore room mappings")
	}

	removed, err := s.removeDanglingMappings(seen)
	if err != nil {
		return errors.Wrap(err, "failed to remove dangling room mappings")
	}

	if created > 0 || removed > 0 {
		s.logger.LogInfo("Repaired room reverse index", "created", created, "removed", removed)
	} else {
		s.logger.LogDebug("Room reverse index is consistent", "rooms_with_matrix_id", len(seen))
	}
	return nil
}

type batchWriter struct {
	db      *leveldb.DB
	batch   *leveldb.Batch
	written int
}

func (w *batchWriter) flush() error {
	if w.batch.Len() == 0 {
		return nil
	}
	if err := w.db.Write(w.batch, nil); err != nil {
		return err
	}
	w.written += w.batch.Len()
	w.batch.Reset()
	return nil
}

func (w *batchWriter) add(fn func(b *leveldb.Batch)) error {
	fn(w.batch)
	if w.batch.Len() >= ScrubBatchSize {
		return w.flush()
	}
	return nil
}

func (s *Store) restoreMappings(seen map[string]struct{}) (int, error) {
	w := &batchWriter{db: s.db, batch: new(leveldb.Batch)}

	iter := s.db.NewIterator(util.BytesPrefix(roomDataPrefix), nil)
	defer iter.Release()

	for iter.Next() {
		room, err := decodeRoom(iter.Value())
		if err != nil {
			s.logger.LogWarn("Skipping undecodable room record during index check", "key", iter.Key(), "error", err)
			continue
		}
		if room.MatrixID == "" {
			continue
		}

		mappingKey, err := RoomMappingKey(room.MatrixID)
		if err != nil {
			s.logger.LogWarn("Skipping room with invalid matrix id", "room_id", room.ID, "error", err)
			continue
		}
		if _, dup := seen[room.MatrixID]; dup {
			s.logger.LogWarn("Matrix id claimed by more than one room", "matrix_id", room.MatrixID, "room_id", room.ID)
			continue
		}
		seen[room.MatrixID] = struct{}{}

		owner, err := s.db.Get(mappingKey, nil)
		if err == nil && bytes.Equal(owner, iter.Key()) {
			continue
		}
		if err != nil && !errors.Is(err, leveldb.ErrNotFound) {
			return w.written, err
		}

		primary := append([]byte(nil), iter.Key()...)
		if err := w.add(func(b *leveldb.Batch) { b.Put(mappingKey, primary) }); err != nil {
			return w.written, err
		}
		s.logger.LogDebug("Restored room mapping", "room_id", room.ID, "matrix_id", room.MatrixID)
	}
	if err := iter.Error(); err != nil {
		return w.written, err
	}

	err := w.flush()
	return w.written, err
}

func (s *Store) removeDanglingMappings(seen map[string]struct{}) (int, error) {
	w := &batchWriter{db: s.db, batch: new(leveldb.Batch)}

	iter := s.db.NewIterator(util.BytesPrefix(roomMappingPrefix), nil)
	defer iter.Release()

	for iter.Next() {
		matrixID, err := parseKey(roomMappingPrefix, iter.Key())
		if err == nil {
			if _, ok := seen[matrixID]; ok {
				continue
			}
		}

		key := append([]byte(nil), iter.Key()...)
		if err := w.add(func(b *leveldb.Batch) { b.Delete(key) }); err != nil {
			return w.written, err
		}
		s.logger.LogDebug("Removed dangling room mapping", "matrix_id", matrixID)
	}
	if err := iter.Error(); err != nil {
		return w.written, err
	}

	err := w.flush()
	return w.written, err
}
