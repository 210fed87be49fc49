package filestore

import (
	"context"
	"fmt"
	"strings"
)

// Config selects and configures the backends of a Router.
type Config struct {
	// Backend receives new uploads: local or s3.
	Backend   string
	LocalRoot string
	// S3 is used when Endpoint and Bucket are set.
	S3 S3Options
}

// New builds a router with the local backend and, when configured, the S3
// backend. References of either scheme can be opened whichever backend
// receives new uploads. The bucket is created if missing.
func New(ctx context.Context, cfg Config) (*Router, error) {
	local, err := NewLocalStore(cfg.LocalRoot)
	if err != nil {
		return nil, err
	}
	backends := map[string]Store{SchemeLocal: local}

	if cfg.S3.Endpoint != "" && cfg.S3.Bucket != "" {
		s3, err := NewS3Store(cfg.S3)
		if err != nil {
			return nil, err
		}
		if err := s3.EnsureBucket(ctx); err != nil {
			return nil, fmt.Errorf("ensure bucket %s: %w", cfg.S3.Bucket, err)
		}
		backends[SchemeS3] = s3
	}

	scheme := strings.ToLower(strings.TrimSpace(cfg.Backend))
	if scheme == "" {
		scheme = SchemeLocal
	}
	return NewRouter(scheme, backends)
}
