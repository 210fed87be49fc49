package filestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Options configures the object store client.
type S3Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
	Bucket    string
	Prefix    string
}

// S3Store keeps files in a MinIO or S3 bucket.
type S3Store struct {
	client *minio.Client
	bucket string
	prefix string
	region string
	now    func() time.Time
}

// NewS3Store creates a client. No request is made until first use.
func NewS3Store(opts S3Options) (*S3Store, error) {
	if opts.Endpoint == "" || opts.Bucket == "" {
		return nil, errors.New("s3 endpoint and bucket are required")
	}
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}
	return &S3Store{
		client: client,
		bucket: opts.Bucket,
		prefix: opts.Prefix,
		region: opts.Region,
		now:    time.Now,
	}, nil
}

// EnsureBucket creates the upload bucket if it does not exist.
func (s *S3Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
			return fmt.Errorf("make bucket %s: %w", s.bucket, err)
		}
	}
	return nil
}

// Save streams r into the bucket and returns its s3:// reference.
func (s *S3Store) Save(ctx context.Context, name string, r io.Reader) (string, error) {
	key := objectName(s.prefix, uuid.NewString(), name, s.now().UTC().Format("2006/01/02"))
	_, err := s.client.PutObject(ctx, s.bucket, key, r, -1, minio.PutObjectOptions{
		ContentType: contentType(name),
	})
	if err != nil {
		return "", fmt.Errorf("upload object: %w", err)
	}
	return Ref{Scheme: SchemeS3, Bucket: s.bucket, Key: key}.String(), nil
}

// Open fetches an s3:// reference. Any bucket reachable with the configured
// credentials can be read.
func (s *S3Store) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	r, err := ParseRef(ref)
	if err != nil {
		return nil, err
	}
	if r.Scheme != SchemeS3 {
		return nil, fmt.Errorf("%w: %s on s3 store", ErrUnsupported, r.Scheme)
	}

	obj, err := s.client.GetObject(ctx, r.Bucket, r.Key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object: %w", err)
	}
	// GetObject is lazy; Stat surfaces a missing key before the pipeline reads.
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
		}
		return nil, fmt.Errorf("stat object: %w", err)
	}
	return obj, nil
}

func contentType(name string) string {
	switch ext := lowerExt(name); ext {
	case ".csv":
		return "text/csv"
	case ".tsv", ".txt":
		return "text/plain"
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "application/octet-stream"
	}
}
