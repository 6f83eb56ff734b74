// Package objectstore removes reclaimed blobs from the backing object store.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

const (
	// DriverMemory keeps blobs in process memory.
	DriverMemory = "memory"
	// DriverS3 talks to an S3-compatible bucket.
	DriverS3 = "s3"
)

var (
	// ErrUnknownDriver indicates an unsupported object store driver.
	ErrUnknownDriver = errors.New("objectstore: unknown driver")
	// ErrInvalidBlobID indicates an empty network file identifier.
	ErrInvalidBlobID = errors.New("objectstore: invalid blob id")
)

// BlobDeleter removes a blob by its network file identifier. Deleting a blob
// that no longer exists succeeds.
type BlobDeleter interface {
	DeleteBlob(ctx context.Context, networkFileID string) error
}

// Config selects and configures a BlobDeleter.
type Config struct {
	Driver          string
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	KeyPrefix       string
}

// New builds the BlobDeleter named by cfg.Driver.
func New(ctx context.Context, cfg Config) (BlobDeleter, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", DriverMemory:
		return NewMemoryStore(), nil
	case DriverS3:
		return NewS3Store(ctx, cfg)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownDriver, cfg.Driver)
	}
}

func objectKey(prefix, networkFileID string) (string, error) {
	id := strings.TrimSpace(networkFileID)
	if id == "" {
		return "", ErrInvalidBlobID
	}
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return id, nil
	}
	return prefix + "/" + id, nil
}
