// Package filestore stages uploaded pricelists and resolves the file
// references handed to ingestion jobs.
//
// Two reference forms are understood:
//
//	local:2026/10/18/<id>-prices.csv   relative to the local root
//	s3://bucket/key                    object storage (MinIO or S3)
//
// A bare relative path is treated as local.
package filestore

import (
	"errors"
	"fmt"
	"path"
	"strings"
)

// Ref schemes.
const (
	SchemeLocal = "local"
	SchemeS3    = "s3"
)

var (
	ErrInvalidRef  = errors.New("invalid file reference")
	ErrUnsupported = errors.New("unsupported file reference scheme")
	ErrNotFound    = errors.New("file not found")
)

// Ref is a parsed file reference.
type Ref struct {
	Scheme string
	Bucket string // s3 only
	Key    string
}

func (r Ref) String() string {
	if r.Scheme == SchemeS3 {
		return "s3://" + r.Bucket + "/" + r.Key
	}
	return SchemeLocal + ":" + r.Key
}

// ParseRef splits a reference into scheme, bucket, and a cleaned key. Keys
// that are absolute or climb out of their root are rejected.
func ParseRef(ref string) (Ref, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return Ref{}, fmt.Errorf("%w: empty", ErrInvalidRef)
	}

	var r Ref
	switch {
	case strings.HasPrefix(ref, "s3://"):
		rest := strings.TrimPrefix(ref, "s3://")
		bucket, key, ok := strings.Cut(rest, "/")
		if !ok || bucket == "" || key == "" {
			return Ref{}, fmt.Errorf("%w: %q needs s3://bucket/key", ErrInvalidRef, ref)
		}
		r = Ref{Scheme: SchemeS3, Bucket: bucket, Key: key}
	case strings.HasPrefix(ref, SchemeLocal+":"):
		r = Ref{Scheme: SchemeLocal, Key: strings.TrimPrefix(ref, SchemeLocal+":")}
	case strings.Contains(ref, "://"):
		scheme, _, _ := strings.Cut(ref, "://")
		return Ref{}, fmt.Errorf("%w: %s", ErrUnsupported, scheme)
	default:
		r = Ref{Scheme: SchemeLocal, Key: ref}
	}

	key, err := cleanKey(r.Key)
	if err != nil {
		return Ref{}, fmt.Errorf("%w: %q: %v", ErrInvalidRef, ref, err)
	}
	r.Key = key
	return r, nil
}

func cleanKey(key string) (string, error) {
	key = strings.ReplaceAll(key, "\\", "/")
	if key == "" {
		return "", errors.New("empty key")
	}
	if strings.HasPrefix(key, "/") {
		return "", errors.New("absolute path")
	}
	cleaned := path.Clean(key)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", errors.New("path escapes root")
	}
	return cleaned, nil
}

// objectName builds a collision-free key for a stored upload:
// <prefix>/<yyyy>/<mm>/<dd>/<id>-<sanitized name>.
func objectName(prefix, id, name, date string) string {
	base := sanitizeName(name)
	key := path.Join(date, id+"-"+base)
	if prefix != "" {
		key = path.Join(prefix, key)
	}
	return key
}

// sanitizeName keeps letters, digits, dot, dash, and underscore from the
// final path element of name.
func sanitizeName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(name)
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := strings.Trim(b.String(), ".")
	if out == "" {
		return "upload"
	}
	return out
}
