// Package uploads stores the files submitted with batch jobs.
package uploads

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/go-faster/errors"
)

// Driver names an upload store backend.
type Driver string

const (
	DriverFilesystem Driver = "fs"
	DriverS3         Driver = "s3"
)

var (
	// ErrNotFound is returned by Open when no file is stored under the name.
	ErrNotFound = errors.New("upload not found")
	// ErrExists is returned by Put when the name is already taken.
	ErrExists = errors.New("upload already exists")
)

// Store reads and writes uploaded batch files by their stored name.
type Store interface {
	Driver() Driver
	Put(ctx context.Context, name string, r io.Reader) error
	Open(ctx context.Context, name string) (io.ReadCloser, error)
}

// Config selects and configures the backend.
type Config struct {
	Driver    Driver
	Root      string
	Bucket    string
	Region    string
	Endpoint  string
	Prefix    string
	PathStyle bool
}

// Open constructs the store named by cfg.Driver. An empty driver means fs.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", DriverFilesystem:
		return NewFSStore(cfg.Root)
	case DriverS3:
		return NewS3Store(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown upload driver %q", cfg.Driver)
	}
}

// WithDirectory points a filesystem store at dir. Other backends ignore the
// override and are returned unchanged.
func WithDirectory(store Store, dir string) (Store, error) {
	fsStore, ok := store.(*FSStore)
	if !ok || dir == "" || dir == fsStore.root {
		return store, nil
	}
	return NewFSStore(dir)
}

// sanitizeName rejects names that could escape the store root.
func sanitizeName(name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", errors.New("empty upload name")
	}
	if strings.Contains(name, "..") {
		return "", errors.Errorf("invalid upload name %q", name)
	}
	if strings.HasPrefix(name, "/") || filepath.IsAbs(name) {
		return "", errors.Errorf("invalid absolute upload name %q", name)
	}
	return filepath.ToSlash(filepath.Clean(name)), nil
}
