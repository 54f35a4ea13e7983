package store_test

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/calebsch/vqhub/internal/config"
	"github.com/calebsch/vqhub/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcminio "github.com/testcontainers/testcontainers-go/modules/minio"
)

// setupGateway spins up a MinIO container and returns a connected S3Gateway
// with a pre-created test bucket.
func setupGateway(t *testing.T) *store.S3Gateway {
	t.Helper()
	ctx := context.Background()

	minioContainer, err := tcminio.Run(ctx, "minio/minio:RELEASE.2024-01-16T16-07-38Z")
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, minioContainer.Terminate(ctx)) })

	endpoint, err := minioContainer.ConnectionString(ctx)
	require.NoError(t, err)

	gw, err := store.NewS3Gateway(ctx, config.StorageConfig{
		Endpoint:        "http://" + endpoint,
		Region:          "us-east-1",
		AccessKeyID:     minioContainer.Username,
		SecretAccessKey: minioContainer.Password,
		UsePathStyle:    true,
	})
	require.NoError(t, err)

	require.NoError(t, gw.CreateBucket(ctx, "vqhub-test"))
	return gw
}

func TestS3Gateway_PutGetRoundtrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	gw := setupGateway(t)
	ctx := context.Background()

	body := []byte(`{"status":"queued"}`)
	require.NoError(t, gw.PutObject(ctx, "vqhub-test", "jobs/abc.json", body, "application/json"))

	got, err := gw.GetObject(ctx, "vqhub-test", "jobs/abc.json")
	require.NoError(t, err)
	assert.Equal(t, body, got)
}

func TestS3Gateway_GetMissingObject(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	gw := setupGateway(t)

	_, err := gw.GetObject(context.Background(), "vqhub-test", "jobs/nope.json")
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrNotFound), "expected ErrNotFound, got %v", err)
}

func TestS3Gateway_PutOverwrites(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	gw := setupGateway(t)
	ctx := context.Background()

	require.NoError(t, gw.PutObject(ctx, "vqhub-test", "jobs/x.json", []byte("one"), "application/json"))
	require.NoError(t, gw.PutObject(ctx, "vqhub-test", "jobs/x.json", []byte("two"), "application/json"))

	got, err := gw.GetObject(ctx, "vqhub-test", "jobs/x.json")
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), got)
}

func TestS3Gateway_ListObjectsByPrefix(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	gw := setupGateway(t)
	ctx := context.Background()

	require.NoError(t, gw.PutObject(ctx, "vqhub-test", "jobs/a.json", []byte("{}"), "application/json"))
	require.NoError(t, gw.PutObject(ctx, "vqhub-test", "jobs/b.json", []byte("{}"), "application/json"))
	require.NoError(t, gw.PutObject(ctx, "vqhub-test", "videos/c.mp4", []byte("x"), "video/mp4"))

	keys, err := gw.ListObjects(ctx, "vqhub-test", "jobs/")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"jobs/a.json", "jobs/b.json"}, keys)
}

func TestS3Gateway_DeleteObject(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	gw := setupGateway(t)
	ctx := context.Background()

	require.NoError(t, gw.PutObject(ctx, "vqhub-test", "jobs/del.json", []byte("{}"), "application/json"))
	require.NoError(t, gw.DeleteObject(ctx, "vqhub-test", "jobs/del.json"))

	_, err := gw.GetObject(ctx, "vqhub-test", "jobs/del.json")
	assert.True(t, errors.Is(err, store.ErrNotFound))

	// Deleting an already-missing object is not an error.
	assert.NoError(t, gw.DeleteObject(ctx, "vqhub-test", "jobs/del.json"))
}

func TestS3Gateway_DeleteObjects(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	gw := setupGateway(t)
	ctx := context.Background()

	require.NoError(t, gw.PutObject(ctx, "vqhub-test", "jobs/1.json", []byte("{}"), "application/json"))
	require.NoError(t, gw.PutObject(ctx, "vqhub-test", "jobs/2.json", []byte("{}"), "application/json"))

	require.NoError(t, gw.DeleteObjects(ctx, "vqhub-test", []string{"jobs/1.json", "jobs/2.json"}))

	keys, err := gw.ListObjects(ctx, "vqhub-test", "jobs/")
	require.NoError(t, err)
	assert.Empty(t, keys)

	// Empty key slice is a no-op.
	assert.NoError(t, gw.DeleteObjects(ctx, "vqhub-test", nil))
}

func TestS3Gateway_BucketExists(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	gw := setupGateway(t)
	ctx := context.Background()

	exists, err := gw.BucketExists(ctx, "vqhub-test")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = gw.BucketExists(ctx, "no-such-bucket")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestS3Gateway_CreateBucketIdempotent(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	gw := setupGateway(t)

	// Bucket already exists from setup; creating again must not fail.
	assert.NoError(t, gw.CreateBucket(context.Background(), "vqhub-test"))
}

func TestS3Gateway_PresignUpload(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	gw := setupGateway(t)
	ctx := context.Background()

	url, err := gw.PresignUpload(ctx, "vqhub-test", "videos/up.mp4", "video/mp4", 5*time.Minute)
	require.NoError(t, err)
	require.True(t, strings.Contains(url, "videos/up.mp4"), "URL should reference the key: %s", url)

	// The presigned URL must accept an unauthenticated PUT.
	req, err := http.NewRequest(http.MethodPut, url, strings.NewReader("fake video bytes"))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "video/mp4")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	got, err := gw.GetObject(ctx, "vqhub-test", "videos/up.mp4")
	require.NoError(t, err)
	assert.Equal(t, []byte("fake video bytes"), got)
}
