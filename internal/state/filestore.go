package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
)

// FileStore persists snapshots as a single JSON document, written via
// temp file + rename so readers never see a half-written snapshot.
type FileStore struct {
	path string
}

// NewFileStore builds a store over the given snapshot path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load reads the current snapshot. A missing file is a fresh
// deployment and loads as the version-0 snapshot.
func (s *FileStore) Load(ctx context.Context) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}

	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Empty(), nil
		}
		return Snapshot{}, fmt.Errorf("read snapshot %s: %w", s.path, err)
	}

	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("%w: decode %s: %v", ErrCorrupt, s.path, err)
	}
	if snap.Version < 1 {
		return Snapshot{}, fmt.Errorf("%w: %s has version %d", ErrCorrupt, s.path, snap.Version)
	}
	return snap, nil
}

// Save writes a snapshot whose version must be exactly one above the
// stored version. The version check re-reads the file so a concurrent
// writer since our Load is detected rather than overwritten.
func (s *FileStore) Save(ctx context.Context, snap Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	current, err := s.Load(ctx)
	if err != nil {
		return err
	}
	if snap.Version != current.Version+1 {
		return fmt.Errorf("%w: saving %d over %d", ErrVersionMismatch, snap.Version, current.Version)
	}

	payload, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".snapshot-*.json")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp snapshot: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}

	log.Debug().Int("version", snap.Version).Str("path", s.path).Msg("snapshot saved")
	return nil
}
