// Package storage keeps the bytes of managed images.
//
// Records in the store reference images by filename; a FileStore maps that
// filename to the actual bytes on local disk or in an S3 bucket.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"
)

// ErrInvalidName is returned for names that are not a single path element.
var ErrInvalidName = errors.New("storage: invalid file name")

// FileStore holds managed image bytes keyed by filename.
// Implementations must be safe for concurrent use.
type FileStore interface {
	// Save stores r under name, replacing any previous content.
	Save(ctx context.Context, name string, r io.Reader) error
	// Open returns the content of name. Missing names yield an error
	// wrapping os.ErrNotExist.
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	// Delete removes name. Deleting a missing name is not an error.
	Delete(ctx context.Context, name string) error
	Exists(ctx context.Context, name string) (bool, error)
	// Location describes where name is kept, e.g. an absolute path or an
	// s3:// URI. It is recorded as the image's storage path.
	Location(name string) string
}

// ValidateName rejects empty names, separators and dot segments so a
// filename can never escape the store root.
func ValidateName(name string) error {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || path.Base(name) != name {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// ContentType guesses the MIME type from the file extension.
func ContentType(name string) string {
	if ct := mime.TypeByExtension(strings.ToLower(path.Ext(name))); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
