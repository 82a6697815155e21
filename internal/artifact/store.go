// Package artifact keeps generated export bytes on local disk. The
// artifactRef recorded on jobs and history rows is the bare file name
// inside the configured directory.
package artifact

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/clinicore/report-exporter/internal/errors"
	"github.com/clinicore/report-exporter/internal/model"
)

type Store struct {
	dir string
}

func NewStore(dir string) (*Store, error) {
	if dir == "" {
		return nil, errors.Internal("artifact directory is empty",
			errors.WithID("artifact.store.new.dir"))
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Internal("cannot create artifact directory",
			errors.WithID("artifact.store.new.mkdir"), errors.WithCause(err))
	}
	return &Store{dir: dir}, nil
}

// Save writes the artifact and returns its ref and size.
func (s *Store) Save(jobID string, format model.Format, data []byte) (string, int64, error) {
	ref := fmt.Sprintf("%s%s", jobID, format.Ext())
	if err := os.WriteFile(filepath.Join(s.dir, ref), data, 0o644); err != nil {
		return "", 0, errors.Internal("artifact write failed",
			errors.WithID("artifact.store.save.write"), errors.WithCause(err))
	}
	return ref, int64(len(data)), nil
}

// Open loads the bytes for a previously saved ref.
func (s *Store) Open(ref string) ([]byte, error) {
	path, err := s.resolve(ref)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NotFound("artifact not found: "+ref,
				errors.WithID("artifact.store.open.not_found"))
		}
		return nil, errors.Internal("artifact read failed",
			errors.WithID("artifact.store.open.read"), errors.WithCause(err))
	}
	return data, nil
}

// Remove deletes an artifact; missing files are not an error so retention
// purges stay idempotent.
func (s *Store) Remove(ref string) error {
	path, err := s.resolve(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Internal("artifact remove failed",
			errors.WithID("artifact.store.remove"), errors.WithCause(err))
	}
	return nil
}

// resolve rejects refs that would escape the artifact directory.
func (s *Store) resolve(ref string) (string, error) {
	if ref == "" || strings.Contains(ref, "/") || strings.Contains(ref, "..") {
		return "", errors.Validation("invalid artifact ref: "+ref,
			errors.WithID("artifact.store.resolve.ref"))
	}
	return filepath.Join(s.dir, ref), nil
}
