// Package archive ships closed redo log segments to durable secondary
// storage so the circular log file can be reused without losing the
// ability to replay history. Segments are compressed and checksummed;
// backends cover the local file system, process memory and S3-compatible
// object stores.
package archive

import (
	"context"
	"io"
	"os"
)

// ErrNotFound is returned when an archived segment does not exist.
//
// Implementations should return an error that satisfies
// `errors.Is(err, ErrNotFound)`. The default maps to `os.ErrNotExist`.
var ErrNotFound = os.ErrNotExist

// Store is an abstraction over the archive backend.
type Store interface {
	// Put writes a segment object atomically under the given name.
	Put(ctx context.Context, name string, data []byte) error

	// Open opens a segment object for reading.
	Open(ctx context.Context, name string) (Blob, error)

	// Delete removes a segment object. Deleting a missing object is not
	// an error.
	Delete(ctx context.Context, name string) error

	// List returns all object names with the given prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Blob is a read-only handle to one archived segment object.
type Blob interface {
	io.Closer

	// ReadAt reads len(p) bytes starting at offset off.
	ReadAt(ctx context.Context, p []byte, off int64) (int, error)

	// Size returns the size of the object in bytes.
	Size() int64
}

// readAll reads a whole blob into memory.
func readAll(ctx context.Context, b Blob) ([]byte, error) {
	buf := make([]byte, b.Size())
	n, err := b.ReadAt(ctx, buf, 0)
	if err != nil && err != io.EOF {
		return nil, err
	}
	return buf[:n], nil
}
