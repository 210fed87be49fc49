package filestore

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRef(t *testing.T) {
	tests := []struct {
		ref     string
		want    Ref
		wantErr error
	}{
		{ref: "s3://prices/acme/list.csv", want: Ref{Scheme: SchemeS3, Bucket: "prices", Key: "acme/list.csv"}},
		{ref: "local:2026/10/18/a-list.csv", want: Ref{Scheme: SchemeLocal, Key: "2026/10/18/a-list.csv"}},
		{ref: "incoming/list.csv", want: Ref{Scheme: SchemeLocal, Key: "incoming/list.csv"}},
		{ref: "incoming/./x/../list.csv", want: Ref{Scheme: SchemeLocal, Key: "incoming/list.csv"}},
		{ref: "", wantErr: ErrInvalidRef},
		{ref: "s3://bucket-only", wantErr: ErrInvalidRef},
		{ref: "s3:///key", wantErr: ErrInvalidRef},
		{ref: "../etc/passwd", wantErr: ErrInvalidRef},
		{ref: "local:a/../../etc/passwd", wantErr: ErrInvalidRef},
		{ref: "/etc/passwd", wantErr: ErrInvalidRef},
		{ref: "ftp://host/file.csv", wantErr: ErrUnsupported},
	}

	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			got, err := ParseRef(tt.ref)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRefString(t *testing.T) {
	assert.Equal(t, "s3://b/k.csv", Ref{Scheme: SchemeS3, Bucket: "b", Key: "k.csv"}.String())
	assert.Equal(t, "local:a/k.csv", Ref{Scheme: SchemeLocal, Key: "a/k.csv"}.String())
}

func TestSanitizeName(t *testing.T) {
	assert.Equal(t, "price_list_2026.csv", sanitizeName("price list 2026.csv"))
	assert.Equal(t, "passwd", sanitizeName("../../etc/passwd"))
	assert.Equal(t, "list.xlsx", sanitizeName(`C:\Users\me\list.xlsx`))
	assert.Equal(t, "upload", sanitizeName(".."))
	assert.Equal(t, "upload", sanitizeName(""))
}

func TestLocalStore_SaveOpen(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	store.now = func() time.Time { return time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC) }

	ref, err := store.Save(context.Background(), "acme prices.csv", strings.NewReader("SKU,Cost\nA-1,9.99\n"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(ref, "local:2026/10/18/"), ref)
	assert.True(t, strings.HasSuffix(ref, "-acme_prices.csv"), ref)

	rc, err := store.Open(context.Background(), ref)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "SKU,Cost\nA-1,9.99\n", string(data))
}

func TestLocalStore_OpenErrors(t *testing.T) {
	root := t.TempDir()
	store, err := NewLocalStore(filepath.Join(root, "uploads"))
	require.NoError(t, err)
	ctx := context.Background()

	_, err = store.Open(ctx, "local:missing.csv")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.Open(ctx, "local:../secret.csv")
	assert.ErrorIs(t, err, ErrInvalidRef)

	_, err = store.Open(ctx, "s3://bucket/key.csv")
	assert.ErrorIs(t, err, ErrUnsupported)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = store.Save(cancelled, "x.csv", strings.NewReader("x"))
	assert.ErrorIs(t, err, context.Canceled)
}

type stubStore struct {
	saved  []string
	opened []string
}

func (s *stubStore) Save(_ context.Context, name string, _ io.Reader) (string, error) {
	s.saved = append(s.saved, name)
	return "s3://stub/" + name, nil
}

func (s *stubStore) Open(_ context.Context, ref string) (io.ReadCloser, error) {
	s.opened = append(s.opened, ref)
	return io.NopCloser(bytes.NewReader([]byte("stub"))), nil
}

func TestRouter(t *testing.T) {
	local, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	remote := &stubStore{}

	router, err := NewRouter(SchemeS3, map[string]Store{
		SchemeLocal: local,
		SchemeS3:    remote,
	})
	require.NoError(t, err)
	ctx := context.Background()

	ref, err := router.Save(ctx, "list.csv", strings.NewReader("data"))
	require.NoError(t, err)
	assert.Equal(t, "s3://stub/list.csv", ref)
	assert.Equal(t, []string{"list.csv"}, remote.saved)

	rc, err := router.Open(ctx, "s3://bucket/list.csv")
	require.NoError(t, err)
	rc.Close()
	assert.Equal(t, []string{"s3://bucket/list.csv"}, remote.opened)

	_, err = router.Open(ctx, "local:nothing.csv")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.True(t, IsClientError(err))

	_, err = NewRouter("gcs", map[string]Store{SchemeLocal: local})
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestNewS3Store_Validation(t *testing.T) {
	_, err := NewS3Store(S3Options{Bucket: "prices"})
	assert.Error(t, err)

	store, err := NewS3Store(S3Options{Endpoint: "localhost:9000", Bucket: "prices", Prefix: "uploads"})
	require.NoError(t, err)
	assert.Equal(t, "prices", store.bucket)
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "text/csv", contentType("a.CSV"))
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", contentType("a.xlsx"))
	assert.Equal(t, "application/octet-stream", contentType("a.bin"))
}

func TestNew_LocalOnly(t *testing.T) {
	ctx := context.Background()
	router, err := New(ctx, Config{LocalRoot: t.TempDir()})
	require.NoError(t, err)

	ref, err := router.Save(ctx, "prices.csv", strings.NewReader("SKU,Cost\n"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(ref, "local:"))

	_, err = router.Open(ctx, "s3://prices/list.csv")
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestNew_S3BackendNeedsEndpoint(t *testing.T) {
	_, err := New(context.Background(), Config{Backend: "s3", LocalRoot: t.TempDir()})
	assert.ErrorIs(t, err, ErrUnsupported)
}
