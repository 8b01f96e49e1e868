package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	badgerCurrentKey = "snapshot/current"
	badgerChunkSize  = 4 << 20
)

// BadgerStore implements ArtifactStore on BadgerDB. Artifacts are written
// under a version prefix first; the current-version key is set in a final
// transaction, which is the commit point.
type BadgerStore struct {
	db     *badger.DB
	owned  bool
	logger *logrus.Entry
}

// NewBadgerStore wraps an open database. The caller keeps ownership of db.
func NewBadgerStore(db *badger.DB, logger *logrus.Entry) *BadgerStore {
	if logger == nil {
		logger = logrus.WithField("component", "badger_store")
	}
	return &BadgerStore{db: db, logger: logger}
}

// OpenBadgerStore opens (or creates) a database in dir. Close releases it.
func OpenBadgerStore(dir string, logger *logrus.Entry) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger at %s: %w", dir, err)
	}
	s := NewBadgerStore(db, logger)
	s.owned = true
	return s, nil
}

func versionPrefix(version string) []byte {
	return []byte("snapshot/" + version + "/")
}

func versionKey(version, name string) []byte {
	return append(versionPrefix(version), name...)
}

func chunkKey(version string, n int) []byte {
	return versionKey(version, fmt.Sprintf("matrix/%08d", n))
}

// Save stores a snapshot and commits it.
func (s *BadgerStore) Save(ctx context.Context, snap *Snapshot) error {
	if snap == nil || snap.Matrix == nil {
		return fmt.Errorf("snapshot and matrix are required")
	}
	if snap.Matrix.Size() != len(snap.Items) {
		return fmt.Errorf("matrix has %d rows for %d items", snap.Matrix.Size(), len(snap.Items))
	}
	if snap.Version == "" {
		snap.Version = uuid.NewString()
	}
	if snap.BuiltAt.IsZero() {
		snap.BuiltAt = time.Now().UTC()
	}

	items, err := json.Marshal(snap.Items)
	if err != nil {
		return fmt.Errorf("failed to marshal items: %w", err)
	}
	vocab, err := json.Marshal(snap.Vocabulary)
	if err != nil {
		return fmt.Errorf("failed to marshal vocabulary: %w", err)
	}
	meta, err := json.Marshal(newManifest(snap))
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	var matrix bytes.Buffer
	if err := EncodeMatrix(&matrix, snap.Matrix); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	sets := map[string][]byte{
		string(versionKey(snap.Version, "items")):      items,
		string(versionKey(snap.Version, "vocabulary")): vocab,
		string(versionKey(snap.Version, "manifest")):   meta,
	}
	for k, v := range sets {
		if err := wb.Set([]byte(k), v); err != nil {
			return fmt.Errorf("failed to stage %s: %w", k, err)
		}
	}
	data := matrix.Bytes()
	for n := 0; len(data) > 0; n++ {
		size := min(badgerChunkSize, len(data))
		if err := wb.Set(chunkKey(snap.Version, n), data[:size]); err != nil {
			return fmt.Errorf("failed to stage matrix chunk %d: %w", n, err)
		}
		data = data[size:]
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("failed to write snapshot %s: %w", snap.Version, err)
	}

	previous, err := s.currentVersion()
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(badgerCurrentKey), []byte(snap.Version))
	}); err != nil {
		return fmt.Errorf("failed to commit snapshot %s: %w", snap.Version, err)
	}

	if previous != "" && previous != snap.Version {
		if err := s.db.DropPrefix(versionPrefix(previous)); err != nil {
			s.logger.WithError(err).WithField("version", previous).Warn("Failed to drop previous snapshot")
		}
	}
	return nil
}

// Load reads the committed snapshot.
func (s *BadgerStore) Load(ctx context.Context) (*Snapshot, error) {
	var snap *Snapshot
	err := s.db.View(func(txn *badger.Txn) error {
		version, err := getString(txn, []byte(badgerCurrentKey))
		if err != nil {
			return err
		}

		var m manifest
		if err := getJSON(txn, versionKey(version, "manifest"), &m); err != nil {
			return err
		}
		snap = &Snapshot{Version: m.Version, BuiltAt: m.BuiltAt}
		if err := getJSON(txn, versionKey(version, "items"), &snap.Items); err != nil {
			return err
		}
		if err := getJSON(txn, versionKey(version, "vocabulary"), &snap.Vocabulary); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		var matrix bytes.Buffer
		opts := badger.DefaultIteratorOptions
		opts.Prefix = versionKey(version, "matrix/")
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := it.Item().Value(func(val []byte) error {
				_, err := matrix.Write(val)
				return err
			}); err != nil {
				return err
			}
		}
		if matrix.Len() == 0 {
			return fmt.Errorf("%w: matrix missing for %s", ErrNotFound, version)
		}

		snap.Matrix, err = DecodeMatrix(&matrix)
		if err != nil {
			return err
		}
		return checkManifest(m, snap)
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// Close releases the database when this store opened it.
func (s *BadgerStore) Close() error {
	if s.owned {
		return s.db.Close()
	}
	return nil
}

func (s *BadgerStore) currentVersion() (string, error) {
	var version string
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		version, err = getString(txn, []byte(badgerCurrentKey))
		return err
	})
	return version, err
}

func getString(txn *badger.Txn, key []byte) (string, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return "", err
	}
	return string(val), nil
}

func getJSON(txn *badger.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("%w: %s missing", ErrNotFound, key)
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		if err := json.Unmarshal(val, v); err != nil {
			return fmt.Errorf("failed to unmarshal %s: %w", key, err)
		}
		return nil
	})
}
