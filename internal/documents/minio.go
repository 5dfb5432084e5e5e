package documents

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/odyssey-erp/p2p/internal/shared"
)

// objectAPI is the part of *minio.Client used by ObjectStore.
type objectAPI interface {
	PutObject(ctx context.Context, bucket, object string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	GetObject(ctx context.Context, bucket, object string, opts minio.GetObjectOptions) (*minio.Object, error)
	StatObject(ctx context.Context, bucket, object string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
	RemoveObject(ctx context.Context, bucket, object string, opts minio.RemoveObjectOptions) error
}

// MinioConfig locates the bucket holding PR attachments.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// ObjectStore keeps documents in an S3 compatible bucket.
type ObjectStore struct {
	api     objectAPI
	bucket  string
	maxSize int64
}

// NewObjectStore connects to MinIO and creates the bucket when missing.
func NewObjectStore(ctx context.Context, cfg MinioConfig, maxSize int64) (*ObjectStore, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, errors.New("documents: minio endpoint and bucket required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("documents: minio client: %w", err)
	}
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("documents: bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("documents: make bucket %s: %w", cfg.Bucket, err)
		}
	}
	return newObjectStore(client, cfg.Bucket, maxSize), nil
}

func newObjectStore(api objectAPI, bucket string, maxSize int64) *ObjectStore {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &ObjectStore{api: api, bucket: bucket, maxSize: maxSize}
}

// Put uploads r under a fresh key.
func (s *ObjectStore) Put(ctx context.Context, name string, r io.Reader) (Object, error) {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "" || name == "." || name == "/" {
		return Object{}, shared.NewValidationError("name", "required")
	}
	ext := filepath.Ext(name)
	key := uuid.NewString() + ext
	contentType := mime.TypeByExtension(ext)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	info, err := s.api.PutObject(ctx, s.bucket, key, io.LimitReader(r, s.maxSize+1), -1, minio.PutObjectOptions{
		ContentType:  contentType,
		UserMetadata: map[string]string{"filename": name},
	})
	if err != nil {
		return Object{}, fmt.Errorf("documents: upload: %w: %v", shared.ErrDependencyFailure, err)
	}
	if info.Size > s.maxSize {
		_ = s.api.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
		return Object{}, shared.NewValidationError("file", fmt.Sprintf("exceeds %d bytes", s.maxSize))
	}
	return Object{Key: key, Name: name, Size: info.Size}, nil
}

// Open streams the object stored under key.
func (s *ObjectStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if _, err := uuid.Parse(strings.TrimSuffix(key, filepath.Ext(key))); err != nil {
		return nil, shared.NewValidationError("key", "malformed")
	}
	if _, err := s.api.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{}); err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, fmt.Errorf("documents: %s: %w", key, shared.ErrNotFound)
		}
		return nil, fmt.Errorf("documents: stat: %w: %v", shared.ErrDependencyFailure, err)
	}
	obj, err := s.api.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("documents: get: %w: %v", shared.ErrDependencyFailure, err)
	}
	return obj, nil
}

// Delete removes the object; S3 treats a missing key as success.
func (s *ObjectStore) Delete(ctx context.Context, key string) error {
	if err := s.api.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("documents: delete: %w: %v", shared.ErrDependencyFailure, err)
	}
	return nil
}
