// Package store abstracts the remote object store that watched files are
// mirrored into, and provides the S3 implementation.
package store

import (
	"context"
	"io"
	"time"
)

// ObjectInfo is an immutable snapshot of a remote object at observation time.
type ObjectInfo struct {
	Key          string
	ETag         string
	Size         int64
	LastModified time.Time
}

// PutOptions carries optional attributes attached to an uploaded object.
type PutOptions struct {
	// Size is the content length when known. The upload works without it.
	Size int64

	// Tagging is a URL-encoded tag set ("st_size=42&st_mtime=...").
	Tagging string
}

// Store is the remote side of the mirror. Implementations wrap their
// failures in TransientError or PermanentError so callers can decide
// between retrying and giving up.
type Store interface {
	// Put streams src into key, replacing any existing object.
	Put(ctx context.Context, key string, src io.Reader, opts PutOptions) (*ObjectInfo, error)

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// List returns all objects whose key starts with prefix.
	List(ctx context.Context, prefix string) ([]*ObjectInfo, error)

	// Head fetches metadata for key. ok is false when the key does not exist.
	Head(ctx context.Context, key string) (info *ObjectInfo, ok bool, err error)
}
