//go:build integration

package s3

import (
	"bytes"
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/ledgerlens/ledgerlens/internal/storage"
)

func TestArchiveLifecycleAgainstMinIO(t *testing.T) {
	endpoint := envOr("LEDGERLENS_TEST_S3_ENDPOINT", "")
	if endpoint == "" {
		t.Skip("LEDGERLENS_TEST_S3_ENDPOINT is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	store, err := New(ctx, Config{
		Endpoint:         endpoint,
		Region:           envOr("LEDGERLENS_TEST_S3_REGION", "us-east-1"),
		Bucket:           envOr("LEDGERLENS_TEST_S3_BUCKET", "ledgerlens-it"),
		AccessKeyID:      envOr("LEDGERLENS_TEST_S3_ACCESS_KEY", "minio"),
		SecretAccessKey:  envOr("LEDGERLENS_TEST_S3_SECRET_KEY", "miniostorage"),
		Prefix:           "integration-tests",
		AutoCreateBucket: true,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := store.Ping(ctx); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}

	through := time.Now().UTC()
	key, err := storage.BuildArchivePath("feedback", through, 1)
	if err != nil {
		t.Fatalf("BuildArchivePath() error = %v", err)
	}
	payload := []byte("ledgerlens-integration")
	if _, err := store.Put(ctx, key, bytes.NewReader(payload), int64(len(payload)), storage.PutOptions{
		ContentType: "application/vnd.apache.parquet",
		Metadata:    map[string]string{"records": "1"},
	}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	if !listed(t, ctx, store, key) {
		t.Fatalf("List() missing %q", key)
	}
	if err := store.Delete(ctx, key); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if listed(t, ctx, store, key) {
		t.Fatalf("List() still has %q after delete", key)
	}
	if err := store.Delete(ctx, key); err != nil {
		t.Fatalf("second Delete() error = %v", err)
	}
}

func listed(t *testing.T, ctx context.Context, store *Store, key string) bool {
	t.Helper()
	objects, err := store.List(ctx, "feedback/")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	for _, obj := range objects {
		if obj.Key == key {
			return true
		}
	}
	return false
}

func envOr(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}
