package blob

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatjpcsguy/printtrack/internal/domain"
)

func TestModelPath(t *testing.T) {
	assert.Equal(t, "projects/proj-1/stl/BRACKET_1700000000000.stl", ModelPath("proj-1", "BRACKET", 1700000000000))
}

func TestContentType(t *testing.T) {
	assert.Equal(t, STLContentType, ContentType("part.stl", []byte("solid part\nendsolid part\n")))
	assert.Equal(t, STLContentType, ContentType("part.STL", []byte{0x00, 0x01, 0x02, 0x03}))
	assert.Equal(t, "image/png", ContentType("part.stl", []byte("\x89PNG\r\n\x1a\n0000")))
	assert.True(t, strings.HasPrefix(ContentType("notes.txt", []byte("hello")), "text/plain"))
}

func TestCleanPath(t *testing.T) {
	got, err := cleanPath("projects/a/../b/x.stl")
	require.NoError(t, err)
	assert.Equal(t, "projects/b/x.stl", got)

	for _, bad := range []string{"", "../escape.stl", "/abs/path.stl"} {
		_, err := cleanPath(bad)
		require.ErrorIs(t, err, domain.ErrValidation, bad)
	}
}

func TestLocalStore_UploadAndURL(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStore(dir)
	require.NoError(t, err)
	ctx := context.Background()

	u, err := store.Upload(ctx, "projects/p/stl/A_1.stl", []byte("solid a"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(u, "file://"))

	data, err := os.ReadFile(filepath.Join(dir, "projects", "p", "stl", "A_1.stl"))
	require.NoError(t, err)
	assert.Equal(t, "solid a", string(data))

	again, err := store.URL(ctx, "projects/p/stl/A_1.stl")
	require.NoError(t, err)
	assert.Equal(t, u, again)

	_, err = store.URL(ctx, "projects/p/stl/missing.stl")
	require.ErrorIs(t, err, domain.ErrObjectNotFound)

	_, err = store.Upload(ctx, "../outside.stl", []byte("x"))
	require.ErrorIs(t, err, domain.ErrUploadFailed)
}

func TestLocalStore_Delete(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStore(dir)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = store.Upload(ctx, "projects/p/stl/A_1.stl", []byte("solid a"))
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, "projects/p/stl/A_1.stl"))
	_, err = os.Stat(filepath.Join(dir, "projects", "p", "stl", "A_1.stl"))
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, store.Delete(ctx, "projects/p/stl/A_1.stl"), "deleting twice is fine")
	require.ErrorIs(t, store.Delete(ctx, "../outside.stl"), domain.ErrValidation)
}

func TestLocalStore_CancelledContext(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = store.Upload(ctx, "a.stl", []byte("x"))
	require.ErrorIs(t, err, domain.ErrUploadFailed)
	require.ErrorIs(t, err, context.Canceled)
}

type mockS3 struct {
	PutObjectFunc    func(context.Context, *s3.PutObjectInput, ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObjectFunc   func(context.Context, *s3.HeadObjectInput, ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObjectFunc func(context.Context, *s3.DeleteObjectInput, ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

func (m *mockS3) PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.PutObjectFunc != nil {
		return m.PutObjectFunc(ctx, in, opts...)
	}
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3) HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if m.HeadObjectFunc != nil {
		return m.HeadObjectFunc(ctx, in, opts...)
	}
	return &s3.HeadObjectOutput{}, nil
}

func (m *mockS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	if m.DeleteObjectFunc != nil {
		return m.DeleteObjectFunc(ctx, in, opts...)
	}
	return &s3.DeleteObjectOutput{}, nil
}

type mockPresigner struct {
	expires time.Duration
}

func (m *mockPresigner) PresignGetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	var po s3.PresignOptions
	for _, opt := range opts {
		opt(&po)
	}
	m.expires = po.Expires
	return &v4.PresignedHTTPRequest{URL: "https://example.test/" + *in.Bucket + "/" + *in.Key + "?signed"}, nil
}

func TestS3Store_Upload(t *testing.T) {
	var (
		gotKey, gotType string
		gotBody         []byte
	)
	client := &mockS3{
		PutObjectFunc: func(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
			gotKey = *in.Key
			gotType = *in.ContentType
			gotBody, _ = io.ReadAll(in.Body)
			assert.Equal(t, "models", *in.Bucket)
			return &s3.PutObjectOutput{}, nil
		},
	}
	presigner := &mockPresigner{}
	store := NewS3StoreWithClient(client, presigner, S3Config{Bucket: "models", Prefix: "/printtrack/"})

	u, err := store.Upload(context.Background(), "projects/p/stl/A_1.stl", []byte("solid a"))
	require.NoError(t, err)
	assert.Equal(t, "printtrack/projects/p/stl/A_1.stl", gotKey)
	assert.Equal(t, STLContentType, gotType)
	assert.Equal(t, "solid a", string(gotBody))
	assert.Equal(t, "https://example.test/models/printtrack/projects/p/stl/A_1.stl?signed", u)
	assert.Equal(t, DefaultURLExpiry, presigner.expires)
}

func TestS3Store_UploadFailure(t *testing.T) {
	client := &mockS3{
		PutObjectFunc: func(context.Context, *s3.PutObjectInput, ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
			return nil, errors.New("connection reset")
		},
	}
	store := NewS3StoreWithClient(client, &mockPresigner{}, S3Config{Bucket: "models"})

	_, err := store.Upload(context.Background(), "a.stl", []byte("x"))
	require.ErrorIs(t, err, domain.ErrUploadFailed)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestS3Store_URL(t *testing.T) {
	missing := &mockS3{
		HeadObjectFunc: func(context.Context, *s3.HeadObjectInput, ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
			return nil, &types.NotFound{}
		},
	}
	store := NewS3StoreWithClient(missing, &mockPresigner{}, S3Config{Bucket: "models", URLExpiry: time.Hour})
	_, err := store.URL(context.Background(), "a.stl")
	require.ErrorIs(t, err, domain.ErrObjectNotFound)

	presigner := &mockPresigner{}
	store = NewS3StoreWithClient(&mockS3{}, presigner, S3Config{Bucket: "models", URLExpiry: time.Hour})
	u, err := store.URL(context.Background(), "a.stl")
	require.NoError(t, err)
	assert.Equal(t, "https://example.test/models/a.stl?signed", u)
	assert.Equal(t, time.Hour, presigner.expires)

	failing := &mockS3{
		HeadObjectFunc: func(context.Context, *s3.HeadObjectInput, ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
			return nil, errors.New("AccessDenied")
		},
	}
	store = NewS3StoreWithClient(failing, &mockPresigner{}, S3Config{Bucket: "models"})
	_, err = store.URL(context.Background(), "a.stl")
	require.Error(t, err)
	assert.False(t, errors.Is(err, domain.ErrObjectNotFound))
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, isNotFound(&types.NoSuchKey{}))
	assert.True(t, isNotFound(errors.New("operation error S3: HeadObject, StatusCode: 404, NotFound")))
	assert.False(t, isNotFound(errors.New("timeout")))
}

func TestS3Store_Delete(t *testing.T) {
	var gotKey string
	client := &mockS3{
		DeleteObjectFunc: func(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
			gotKey = *in.Key
			return &s3.DeleteObjectOutput{}, nil
		},
	}
	store := NewS3StoreWithClient(client, &mockPresigner{}, S3Config{Bucket: "models", Prefix: "printtrack"})
	require.NoError(t, store.Delete(context.Background(), "projects/p/stl/A_1.stl"))
	assert.Equal(t, "printtrack/projects/p/stl/A_1.stl", gotKey)

	missing := &mockS3{
		DeleteObjectFunc: func(context.Context, *s3.DeleteObjectInput, ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
			return nil, &types.NoSuchKey{}
		},
	}
	store = NewS3StoreWithClient(missing, &mockPresigner{}, S3Config{Bucket: "models"})
	require.NoError(t, store.Delete(context.Background(), "a.stl"))

	failing := &mockS3{
		DeleteObjectFunc: func(context.Context, *s3.DeleteObjectInput, ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
			return nil, errors.New("AccessDenied")
		},
	}
	store = NewS3StoreWithClient(failing, &mockPresigner{}, S3Config{Bucket: "models"})
	err := store.Delete(context.Background(), "a.stl")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AccessDenied")
}
