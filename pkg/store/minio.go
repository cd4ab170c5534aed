package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioConfig configures the object-storage backend.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Secure    bool
	Bucket    string
	// Prefix is prepended to every object key, so one bucket can serve
	// several deployments.
	Prefix string
}

// MinioStore keeps each namespace under "<prefix>/<ns>/<key>" in a bucket.
type MinioStore struct {
	client *minio.Client
	cfg    MinioConfig
}

// NewMinioStore connects to the endpoint and ensures the bucket exists.
func NewMinioStore(ctx context.Context, cfg MinioConfig) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("minio connect %q: %w", cfg.Endpoint, err)
	}
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("minio bucket %q: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("minio make bucket %q: %w", cfg.Bucket, err)
		}
	}
	return &MinioStore{client: client, cfg: cfg}, nil
}

func (s *MinioStore) key(ns, key string) string {
	if s.cfg.Prefix != "" {
		return s.cfg.Prefix + "/" + ns + "/" + key
	}
	return ns + "/" + key
}

func (s *MinioStore) Get(ctx context.Context, ns, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.cfg.Bucket, s.key(ns, key), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("minio get %s/%s: %w", ns, key, err)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		var resp minio.ErrorResponse
		if errors.As(err, &resp) && resp.Code == "NoSuchKey" {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("minio get %s/%s: %w", ns, key, err)
	}
	return data, nil
}

func (s *MinioStore) Set(ctx context.Context, ns, key string, value []byte) error {
	_, err := s.client.PutObject(ctx, s.cfg.Bucket, s.key(ns, key),
		bytes.NewReader(value), int64(len(value)),
		minio.PutObjectOptions{ContentType: "application/octet-stream"})
	if err != nil {
		return fmt.Errorf("minio set %s/%s: %w", ns, key, err)
	}
	return nil
}

func (s *MinioStore) Remove(ctx context.Context, ns, key string) error {
	err := s.client.RemoveObject(ctx, s.cfg.Bucket, s.key(ns, key), minio.RemoveObjectOptions{})
	if err != nil {
		return fmt.Errorf("minio remove %s/%s: %w", ns, key, err)
	}
	return nil
}

func (s *MinioStore) Keys(ctx context.Context, ns string) ([]string, error) {
	prefix := s.key(ns, "")
	var keys []string
	for obj := range s.client.ListObjects(ctx, s.cfg.Bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return keys, fmt.Errorf("minio list %s: %w", ns, obj.Err)
		}
		keys = append(keys, strings.TrimPrefix(obj.Key, prefix))
	}
	return keys, nil
}
