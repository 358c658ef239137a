package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"parking-service/internal/domain/parking"
)

type Kind string

const (
	KindSnapshot Kind = "snapshots"
	KindClip     Kind = "clips"
)

// FileStore keeps snapshots and clips on local disk. Refs are slash-separated paths relative to root.
type FileStore struct {
	root string
}

func NewFileStore(root string) (*FileStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &FileStore{root: abs}, nil
}

// Save writes data under kind/YYYY/MM/DD and returns its ref.
func (s *FileStore) Save(kind Kind, ext string, at time.Time, data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("%w: nothing to store", parking.ErrValidation)
	}
	ext = strings.TrimPrefix(ext, ".")
	ref := fmt.Sprintf("%s/%s/%s.%s", kind, at.UTC().Format("2006/01/02"), uuid.NewString(), ext)

	full := filepath.Join(s.root, filepath.FromSlash(ref))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("create storage dir: %w", err)
	}
	tmp := full + ".part"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", ref, err)
	}
	if err := os.Rename(tmp, full); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("commit %s: %w", ref, err)
	}
	return ref, nil
}

// Path resolves a ref to a file on disk. Refs escaping the root are rejected.
func (s *FileStore) Path(ref string) (string, error) {
	if ref == "" {
		return "", fmt.Errorf("%w: empty media reference", parking.ErrNotFound)
	}
	full := filepath.Join(s.root, filepath.FromSlash(ref))
	rel, err := filepath.Rel(s.root, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: invalid media reference", parking.ErrValidation)
	}
	if _, err := os.Stat(full); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: media %s", parking.ErrNotFound, ref)
		}
		return "", err
	}
	return full, nil
}

func (s *FileStore) Read(ref string) ([]byte, error) {
	full, err := s.Path(ref)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(full)
}
