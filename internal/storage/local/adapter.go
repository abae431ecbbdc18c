// Package local implements snapshot storage on the local file system.
package local

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	logger "github.com/rookline/chessync/internal/support/logger"
)

// Adapter stores objects as files under a base directory.
type Adapter struct {
	baseDir string
	prefix  string
}

// NewAdapter creates an Adapter rooted at baseDir, creating the directory
// when it does not exist yet.
func NewAdapter(baseDir, prefix string) (*Adapter, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("local storage: directory must be configured")
	}
	info, err := os.Stat(baseDir)
	switch {
	case os.IsNotExist(err):
		if err := os.MkdirAll(baseDir, 0755); err != nil {
			return nil, fmt.Errorf("local storage: failed to create directory '%s': %w", baseDir, err)
		}
	case err != nil:
		return nil, fmt.Errorf("local storage: failed to stat directory '%s': %w", baseDir, err)
	case !info.IsDir():
		return nil, fmt.Errorf("local storage: '%s' is not a directory", baseDir)
	}
	return &Adapter{baseDir: baseDir, prefix: prefix}, nil
}

// resolvePath joins the base directory, prefix and object name, rejecting
// names that would escape the base directory.
func (a *Adapter) resolvePath(objectName string) (string, error) {
	full := filepath.Join(a.baseDir, a.prefix, objectName)
	base, err := filepath.Abs(a.baseDir)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(full)
	if err != nil {
		return "", err
	}
	if abs != base && !strings.HasPrefix(abs, base+string(os.PathSeparator)) {
		return "", fmt.Errorf("object name '%s' escapes the storage directory", objectName)
	}
	return full, nil
}

// Upload writes data to a file under the base directory. The contentType is
// ignored; the file system has no use for it.
func (a *Adapter) Upload(ctx context.Context, objectName string, data io.Reader, contentType string) error {
	fullPath, err := a.resolvePath(objectName)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return fmt.Errorf("failed to create directory for '%s': %w", fullPath, err)
	}
	file, err := os.Create(fullPath)
	if err != nil {
		return fmt.Errorf("failed to create file '%s': %w", fullPath, err)
	}
	defer file.Close()
	if _, err := io.Copy(file, data); err != nil {
		return fmt.Errorf("failed to write '%s': %w", fullPath, err)
	}
	logger.Debugf("Stored object locally at '%s'.", fullPath)
	return nil
}

// Download opens the object file for reading.
func (a *Adapter) Download(ctx context.Context, objectName string) (io.ReadCloser, error) {
	fullPath, err := a.resolvePath(objectName)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open '%s': %w", fullPath, err)
	}
	return file, nil
}

// List walks the base directory and calls fn with the name, relative to the
// configured prefix, of every object under prefix.
func (a *Adapter) List(ctx context.Context, prefix string, fn func(objectName string) error) error {
	root := filepath.Join(a.baseDir, a.prefix)
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return nil
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if prefix != "" && !strings.HasPrefix(rel, prefix) {
			return nil
		}
		return fn(rel)
	})
}

// Delete removes the object file. Deleting an absent object is not an error.
func (a *Adapter) Delete(ctx context.Context, objectName string) error {
	fullPath, err := a.resolvePath(objectName)
	if err != nil {
		return err
	}
	if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete '%s': %w", fullPath, err)
	}
	return nil
}

// Close does nothing; the adapter holds no resources.
func (a *Adapter) Close() error {
	return nil
}
