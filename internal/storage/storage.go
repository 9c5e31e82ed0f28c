// Package storage abstracts the bucket that holds feedback archives.
package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

var ErrObjectNotFound = errors.New("object not found")

type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
}

// PutOptions.Metadata is stored as user metadata next to the object.
type PutOptions struct {
	ContentType string
	Metadata    map[string]string
}

// ObjectStore is what archiving needs: uploads, listings to recover the
// watermark and find expired archives, and deletes. Keys are relative to the
// store's configured prefix.
type ObjectStore interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, opts PutOptions) (ObjectInfo, error)
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	// Delete of a missing key succeeds.
	Delete(ctx context.Context, key string) error
}

// Pinger is implemented by stores that can confirm their bucket is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}
