package filestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
)

// Store is the interface every backend satisfies.
type Store interface {
	Save(ctx context.Context, name string, r io.Reader) (string, error)
	Open(ctx context.Context, ref string) (io.ReadCloser, error)
}

// Router saves to one backend and opens references by their scheme.
type Router struct {
	save     Store
	backends map[string]Store
}

// NewRouter returns a router that saves new files to the backend registered
// under saveScheme.
func NewRouter(saveScheme string, backends map[string]Store) (*Router, error) {
	save, ok := backends[saveScheme]
	if !ok || save == nil {
		return nil, fmt.Errorf("%w: no backend for %q", ErrUnsupported, saveScheme)
	}
	return &Router{save: save, backends: backends}, nil
}

// Save implements core.FileStore.
func (r *Router) Save(ctx context.Context, name string, data io.Reader) (string, error) {
	return r.save.Save(ctx, name, data)
}

// Open implements core.FileStore.
func (r *Router) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	parsed, err := ParseRef(ref)
	if err != nil {
		return nil, err
	}
	backend, ok := r.backends[parsed.Scheme]
	if !ok || backend == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, parsed.Scheme)
	}
	return backend.Open(ctx, ref)
}

// IsClientError reports whether err was caused by a bad reference rather
// than a storage failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidRef) || errors.Is(err, ErrUnsupported) || errors.Is(err, ErrNotFound)
}

func lowerExt(name string) string {
	return strings.ToLower(path.Ext(name))
}
