// Package storage abstracts the snapshot storage backends. Exported parquet
// snapshots are handed to a Store; the backend is selected by configuration.
package storage

import (
	"context"
	"fmt"
	"io"

	config "github.com/rookline/chessync/internal/config"
	"github.com/rookline/chessync/internal/storage/gcs"
	"github.com/rookline/chessync/internal/storage/local"
)

// Store defines the operations a snapshot storage backend supports.
type Store interface {
	// Upload writes data under objectName.
	// contentType is the MIME type of the data.
	Upload(ctx context.Context, objectName string, data io.Reader, contentType string) error

	// Download opens the object for reading. The returned ReadCloser must be
	// closed by the caller.
	Download(ctx context.Context, objectName string) (io.ReadCloser, error)

	// List calls fn for every object name under prefix. Returning an error
	// from fn stops the listing.
	List(ctx context.Context, prefix string, fn func(objectName string) error) error

	// Delete removes the object.
	Delete(ctx context.Context, objectName string) error

	// Close releases backend resources.
	Close() error
}

// NewStore creates the Store selected by the storage configuration.
func NewStore(ctx context.Context, cfg *config.StorageConfig) (Store, error) {
	switch cfg.Provider {
	case "local", "":
		return local.NewAdapter(cfg.Directory, cfg.Prefix)
	case "gcs":
		return gcs.NewAdapter(ctx, cfg.Bucket, cfg.Prefix)
	default:
		return nil, fmt.Errorf("unsupported storage provider: %s", cfg.Provider)
	}
}

var (
	_ Store = (*local.Adapter)(nil)
	_ Store = (*gcs.Adapter)(nil)
)
