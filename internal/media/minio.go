// Package media stores uploaded assets (book covers, chapter illustrations)
// in an S3-compatible object store.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"librioo/api/internal/util"
)

var allowedContentTypes = map[string]string{
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"image/webp":      ".webp",
	"application/pdf": ".pdf",
}

var ErrUnsupportedType = errors.New("media: unsupported content type")

type Store struct {
	client  *minio.Client
	bucket  string
	baseURL string
}

// NewStore connects to the object store and ensures the bucket exists.
func NewStore(ctx context.Context, endpoint, accessKey, secretKey, bucket, baseURL string, useSSL bool) (*Store, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("make bucket: %w", err)
		}
	}

	return &Store{client: client, bucket: bucket, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Upload stores the body under a fresh key in the given namespace
// ("covers", "chapters") and returns the public URL.
func (s *Store) Upload(ctx context.Context, namespace string, body io.Reader, size int64, contentType string) (string, error) {
	ext, ok := allowedContentTypes[contentType]
	if !ok {
		return "", ErrUnsupportedType
	}

	key := path.Join(namespace, util.NewID("")+ext)
	if _, err := s.client.PutObject(ctx, s.bucket, key, body, size, minio.PutObjectOptions{
		ContentType: contentType,
	}); err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return s.baseURL + "/" + key, nil
}

// KeyFromURL maps a public asset URL back to its object key. Returns false
// for URLs outside this store.
func (s *Store) KeyFromURL(url string) (string, bool) {
	key, ok := strings.CutPrefix(url, s.baseURL+"/")
	if !ok || key == "" || strings.Contains(key, "..") {
		return "", false
	}
	return key, true
}

// Open returns a reader for a stored object along with its content type.
func (s *Store) Open(ctx context.Context, key string) (io.ReadCloser, string, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, "", fmt.Errorf("get object: %w", err)
	}
	stat, err := obj.Stat()
	if err != nil {
		_ = obj.Close()
		return nil, "", fmt.Errorf("stat object: %w", err)
	}
	return obj, stat.ContentType, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove object: %w", err)
	}
	return nil
}
