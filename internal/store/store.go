package store

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("object not found")

// Gateway is the object-storage access interface. All storage operations go
// through here. Implementations must be safe for concurrent use.
type Gateway interface {
	PutObject(ctx context.Context, bucket, key string, body []byte, contentType string) error
	GetObject(ctx context.Context, bucket, key string) ([]byte, error)
	ListObjects(ctx context.Context, bucket, prefix string) ([]string, error)
	DeleteObject(ctx context.Context, bucket, key string) error
	DeleteObjects(ctx context.Context, bucket string, keys []string) error
	BucketExists(ctx context.Context, bucket string) (bool, error)
	CreateBucket(ctx context.Context, name string) error
	PresignUpload(ctx context.Context, bucket, key, contentType string, ttl time.Duration) (string, error)
}
