// Package archive keeps copies of payloads the emitter gave up on, so that
// oversize events dropped from the delivery queue can still be inspected or
// replayed by hand.
package archive

import (
	"context"

	"github.com/snowtrail/snowtrail/internal/errors"
)

// Common errors for archive operations.
var (
	ErrObjectNotFound = errors.New(errors.ErrCategoryArchive, errors.CodeObjectNotFound, "object not found")
)

// ObjectStorage abstracts the object store holding archived payloads.
// Implementations include S3 and the local filesystem.
type ObjectStorage interface {
	// Put writes data under key, replacing any existing object.
	Put(ctx context.Context, key string, data []byte) error

	// Get returns the object stored under key.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes an object. Missing objects are not an error.
	Delete(ctx context.Context, key string) error

	// List returns all keys under the given prefix in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)
}
