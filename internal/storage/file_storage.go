package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	currentFile    = "CURRENT"
	snapshotsDir   = "snapshots"
	manifestFile   = "manifest.json"
	itemsFile      = "items.json"
	vocabularyFile = "vocabulary.json"
	matrixFile     = "similarity.bin"
)

// FileStore implements ArtifactStore on the local file system. Each snapshot
// lives in its own directory; the CURRENT file names the committed one and is
// replaced atomically, so readers never observe a half-written snapshot.
type FileStore struct {
	baseDir string
	logger  *logrus.Entry
	mu      sync.RWMutex
}

// NewFileStore creates a new file-based snapshot store
func NewFileStore(baseDir string, logger *logrus.Entry) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Join(baseDir, snapshotsDir), 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	if logger == nil {
		logger = logrus.WithField("component", "file_store")
	}
	return &FileStore{
		baseDir: baseDir,
		logger:  logger,
	}, nil
}

// Save writes every artifact into a staging directory, moves it into place and
// then flips CURRENT. Any failure before the flip leaves the previous snapshot
// committed.
func (s *FileStore) Save(ctx context.Context, snap *Snapshot) error {
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

	s.mu.Lock()
	defer s.mu.Unlock()

	staging, err := os.MkdirTemp(s.baseDir, ".staging-")
	if err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(staging)

	if err := writeJSON(filepath.Join(staging, itemsFile), snap.Items); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(staging, vocabularyFile), snap.Vocabulary); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := writeFileSync(filepath.Join(staging, matrixFile), func(f *os.File) error {
		return EncodeMatrix(f, snap.Matrix)
	}); err != nil {
		return err
	}
	// manifest last: its presence marks a complete snapshot directory
	if err := writeJSON(filepath.Join(staging, manifestFile), newManifest(snap)); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	final := filepath.Join(s.baseDir, snapshotsDir, snap.Version)
	if err := os.Rename(staging, final); err != nil {
		return fmt.Errorf("failed to move snapshot into place: %w", err)
	}

	pointer := filepath.Join(s.baseDir, currentFile)
	if err := writeFileSync(pointer+".tmp", func(f *os.File) error {
		_, err := f.WriteString(snap.Version + "\n")
		return err
	}); err != nil {
		return err
	}
	if err := os.Rename(pointer+".tmp", pointer); err != nil {
		return fmt.Errorf("failed to commit snapshot pointer: %w", err)
	}

	s.prune(snap.Version)
	return nil
}

// Load reads the committed snapshot.
func (s *FileStore) Load(ctx context.Context) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	raw, err := os.ReadFile(filepath.Join(s.baseDir, currentFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot pointer: %w", err)
	}
	version := strings.TrimSpace(string(raw))
	dir := filepath.Join(s.baseDir, snapshotsDir, version)

	var m manifest
	if err := readJSON(filepath.Join(dir, manifestFile), &m); err != nil {
		return nil, err
	}
	snap := &Snapshot{Version: m.Version, BuiltAt: m.BuiltAt}
	if err := readJSON(filepath.Join(dir, itemsFile), &snap.Items); err != nil {
		return nil, err
	}
	if err := readJSON(filepath.Join(dir, vocabularyFile), &snap.Vocabulary); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(filepath.Join(dir, matrixFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s missing", ErrNotFound, matrixFile)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open matrix: %w", err)
	}
	defer f.Close()

	snap.Matrix, err = DecodeMatrix(f)
	if err != nil {
		return nil, err
	}
	if err := checkManifest(m, snap); err != nil {
		return nil, err
	}
	return snap, nil
}

// Close is a no-op for file storage
func (s *FileStore) Close() error {
	return nil
}

// prune removes snapshot directories other than keep. Failures are logged only.
func (s *FileStore) prune(keep string) {
	entries, err := os.ReadDir(filepath.Join(s.baseDir, snapshotsDir))
	if err != nil {
		s.logger.WithError(err).Warn("Failed to list snapshots for pruning")
		return
	}
	for _, e := range entries {
		if e.Name() == keep {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.baseDir, snapshotsDir, e.Name())); err != nil {
			s.logger.WithError(err).WithField("version", e.Name()).Warn("Failed to prune snapshot")
		}
	}
}

func checkManifest(m manifest, snap *Snapshot) error {
	if m.Items != len(snap.Items) || m.Items != snap.Matrix.Size() {
		return fmt.Errorf("snapshot %s is inconsistent: manifest %d items, table %d, matrix %d",
			m.Version, m.Items, len(snap.Items), snap.Matrix.Size())
	}
	if m.Vocabulary != len(snap.Vocabulary) {
		return fmt.Errorf("snapshot %s is inconsistent: manifest %d terms, found %d",
			m.Version, m.Vocabulary, len(snap.Vocabulary))
	}
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}
	return writeFileSync(path, func(f *os.File) error {
		_, err := f.Write(data)
		return err
	})
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s missing", ErrNotFound, filepath.Base(path))
	}
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", filepath.Base(path), err)
	}
	return nil
}

func writeFileSync(path string, write func(f *os.File) error) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Base(path), err)
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("failed to sync %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}
