package uploads

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/go-faster/errors"
)

// FSStore keeps uploads as plain files under a root directory.
type FSStore struct {
	root string
}

// NewFSStore returns a store rooted at root, creating the directory if needed.
func NewFSStore(root string) (*FSStore, error) {
	if root == "" {
		root = "./uploads"
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create upload directory")
	}
	return &FSStore{root: root}, nil
}

func (s *FSStore) Driver() Driver { return DriverFilesystem }

// Root is the directory files are stored in.
func (s *FSStore) Root() string { return s.root }

func (s *FSStore) path(name string) (string, error) {
	clean, err := sanitizeName(name)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, clean), nil
}

func (s *FSStore) Put(ctx context.Context, name string, r io.Reader) error {
	path, err := s.path(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "failed to create upload directory")
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return errors.Wrapf(ErrExists, "%s", name)
		}
		return errors.Wrap(err, "failed to create upload file")
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(path)
		return errors.Wrap(err, "failed to write upload file")
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return errors.Wrap(err, "failed to close upload file")
	}
	return nil
}

func (s *FSStore) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	path, err := s.path(name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, errors.Wrapf(ErrNotFound, "%s", name)
		}
		return nil, errors.Wrap(err, "failed to open upload file")
	}
	return f, nil
}
