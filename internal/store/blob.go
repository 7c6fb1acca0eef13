package store

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// BlobStore is the content-addressed object store collaborator from
// spec.md §1, implemented here with MinIO exactly as the teacher's
// service/oss.go does — Put/Get/Delete/Stat instead of the teacher's
// upload-only helpers, since the Artifact Store Adapter needs all four.
type BlobStore struct {
	client *minio.Client
	bucket string
	log    *zap.Logger
}

// NewBlobStore connects to MinIO and ensures the configured bucket
// exists, mirroring InitMinIO + the bucket-exists check duplicated across
// the teacher's oss.go upload helpers.
func NewBlobStore(endpoint, accessKey, secretKey, bucket string, useSSL bool, log *zap.Logger) (*BlobStore, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("bucket exists check: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("make bucket: %w", err)
		}
	}
	return &BlobStore{client: client, bucket: bucket, log: log}, nil
}

// Put uploads size bytes from r under key, returning the final size.
func (b *BlobStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (int64, error) {
	info, err := b.client.PutObject(ctx, b.bucket, key, r, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return 0, fmt.Errorf("put %s: %w", key, err)
	}
	return info.Size, nil
}

// Get opens a reader for key. Caller must Close it.
func (b *BlobStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := b.client.GetObject(ctx, b.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return obj, nil
}

// Delete removes key. Deleting a key that does not exist is not an error
// — the reaper and cancellation cleanup both rely on that idempotence.
func (b *BlobStore) Delete(ctx context.Context, key string) error {
	if err := b.client.RemoveObject(ctx, b.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// Stat returns the size of an existing blob.
func (b *BlobStore) Stat(ctx context.Context, key string) (int64, error) {
	info, err := b.client.StatObject(ctx, b.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", key, err)
	}
	return info.Size, nil
}

// PresignedURL returns a time-limited public URL for key, used by
// JobService.Get to surface the output artifact's URL — the same
// PresignedGetObject call the teacher's oss.go uses.
func (b *BlobStore) PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	u, err := b.client.PresignedGetObject(ctx, b.bucket, key, expiry, nil)
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return u.String(), nil
}
