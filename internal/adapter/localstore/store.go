// Package localstore keeps assets, zone boundaries and reduction fixtures on
// the local filesystem so a block can be processed without the remote
// compute backend.
package localstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/couchcryptid/drought-severity-etl/internal/asset"
	"github.com/google/uuid"
	"github.com/paulmach/orb/geojson"
)

const (
	assetExt    = ".geojson"
	privatePerm = 0o600
	publicPerm  = 0o644
)

// Store implements asset.Sink with one GeoJSON file per asset. Exports are
// written synchronously; their job handles resolve on the first poll.
type Store struct {
	dir    string
	logger *slog.Logger

	mu   sync.Mutex
	jobs map[asset.JobHandle]asset.JobStatus
}

// NewStore creates a store rooted at dir. Asset paths are resolved relative to it.
func NewStore(dir string, logger *slog.Logger) *Store {
	return &Store{
		dir:    dir,
		logger: logger,
		jobs:   make(map[asset.JobHandle]asset.JobStatus),
	}
}

// File returns the filesystem path backing an asset.
func (s *Store) File(path string) string {
	return filepath.Join(s.dir, filepath.FromSlash(strings.Trim(path, "/"))) + assetExt
}

func (s *Store) Exists(_ context.Context, path string) (bool, error) {
	_, err := os.Stat(s.File(path))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("stat asset %s: %w", path, err)
	}
}

// Export writes fc to path. A write failure is reported through the job
// status rather than the returned error, as a remote store would.
func (s *Store) Export(ctx context.Context, fc *geojson.FeatureCollection, description, path string) (asset.JobHandle, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := fc.MarshalJSON()
	if err != nil {
		return "", fmt.Errorf("encode export %s: %w", description, err)
	}

	h := asset.JobHandle(uuid.NewString())
	status := asset.JobStatus{Status: asset.StatusSucceeded}
	if err := writeAtomic(s.File(path), data); err != nil {
		status = asset.JobStatus{Status: asset.StatusFailed, Message: err.Error()}
	}

	s.mu.Lock()
	s.jobs[h] = status
	s.mu.Unlock()

	s.logger.Debug("asset exported", "description", description, "path", path, "job", h, "status", status.Status)
	return h, nil
}

func (s *Store) JobStatus(_ context.Context, h asset.JobHandle) (asset.JobStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.jobs[h]
	if !ok {
		return asset.JobStatus{}, fmt.Errorf("unknown job %s", h)
	}
	return st, nil
}

// MakePublic makes the asset file world-readable.
func (s *Store) MakePublic(_ context.Context, path string) error {
	if err := os.Chmod(s.File(path), publicPerm); err != nil {
		return fmt.Errorf("publish asset %s: %w", path, err)
	}
	return nil
}

func (s *Store) Read(_ context.Context, path string) (*geojson.FeatureCollection, error) {
	data, err := os.ReadFile(s.File(path))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, asset.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read asset %s: %w", path, err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("decode asset %s: %w", path, err)
	}
	return fc, nil
}

// writeAtomic writes data to a temp file in the target directory and renames
// it into place, so readers never observe a partial asset.
func writeAtomic(file string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
		return fmt.Errorf("create asset directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(file), filepath.Base(file)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Chmod(privatePerm); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), file); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
