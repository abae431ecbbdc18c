// Package gcs implements snapshot storage on Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"

	gcstorage "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	logger "github.com/rookline/chessync/internal/support/logger"
)

// Adapter stores objects in a GCS bucket under an optional key prefix.
type Adapter struct {
	client *gcstorage.Client
	bucket string
	prefix string
}

// NewAdapter creates an Adapter for the given bucket. Credentials come from
// the ambient environment; STORAGE_EMULATOR_HOST switches the client to an
// emulator endpoint for local development.
func NewAdapter(ctx context.Context, bucket, prefix string) (*Adapter, error) {
	if bucket == "" {
		return nil, fmt.Errorf("gcs storage: bucket must be configured")
	}
	var opts []option.ClientOption
	if host := os.Getenv("STORAGE_EMULATOR_HOST"); host != "" {
		opts = append(opts, option.WithEndpoint("http://"+host), option.WithoutAuthentication())
	}
	client, err := gcstorage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcs storage: failed to create client: %w", err)
	}
	return &Adapter{client: client, bucket: bucket, prefix: prefix}, nil
}

// objectKey prepends the configured prefix to an object name.
func (a *Adapter) objectKey(objectName string) string {
	if a.prefix == "" {
		return objectName
	}
	return path.Join(a.prefix, objectName)
}

// Upload writes data to the object, replacing any previous content.
func (a *Adapter) Upload(ctx context.Context, objectName string, data io.Reader, contentType string) error {
	key := a.objectKey(objectName)
	w := a.client.Bucket(a.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := io.Copy(w, data); err != nil {
		w.Close()
		return fmt.Errorf("failed to write gs://%s/%s: %w", a.bucket, key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finalize gs://%s/%s: %w", a.bucket, key, err)
	}
	logger.Debugf("Stored object at gs://%s/%s.", a.bucket, key)
	return nil
}

// Download opens the object for reading.
func (a *Adapter) Download(ctx context.Context, objectName string) (io.ReadCloser, error) {
	key := a.objectKey(objectName)
	r, err := a.client.Bucket(a.bucket).Object(key).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open gs://%s/%s: %w", a.bucket, key, err)
	}
	return r, nil
}

// List calls fn for every object under prefix, names relative to the
// configured key prefix.
func (a *Adapter) List(ctx context.Context, prefix string, fn func(objectName string) error) error {
	key := a.objectKey(prefix)
	it := a.client.Bucket(a.bucket).Objects(ctx, &gcstorage.Query{Prefix: key})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to list gs://%s/%s: %w", a.bucket, key, err)
		}
		name := attrs.Name
		if a.prefix != "" {
			name = name[len(a.prefix):]
			for len(name) > 0 && name[0] == '/' {
				name = name[1:]
			}
		}
		if err := fn(name); err != nil {
			return err
		}
	}
}

// Delete removes the object. Deleting an absent object is not an error.
func (a *Adapter) Delete(ctx context.Context, objectName string) error {
	key := a.objectKey(objectName)
	err := a.client.Bucket(a.bucket).Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, gcstorage.ErrObjectNotExist) {
		return fmt.Errorf("failed to delete gs://%s/%s: %w", a.bucket, key, err)
	}
	return nil
}

// Close releases the underlying client.
func (a *Adapter) Close() error {
	return a.client.Close()
}
