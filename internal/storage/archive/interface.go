// Package archive stores flushed batch files on a local disk or an S3-compatible
// object store.
package archive

import (
	"context"
	"fmt"

	"github.com/newthinker/tickflow/internal/core"
)

// Storage is a flat key/value file store. A Write is atomic: readers observe either
// the whole file or nothing.
type Storage interface {
	// Write stores data at the given path, replacing any previous content
	Write(ctx context.Context, path string, data []byte) error

	// Read retrieves data from the given path
	Read(ctx context.Context, path string) ([]byte, error)

	// List returns all paths under the prefix
	List(ctx context.Context, prefix string) ([]string, error)

	// Delete removes the data at the given path
	Delete(ctx context.Context, path string) error

	// Exists checks if data exists at the given path
	Exists(ctx context.Context, path string) (bool, error)
}

// Backend types accepted by Open.
const (
	TypeLocalFS = "localfs"
	TypeS3      = "s3"
)

// Open builds the storage backend named by typ.
func Open(typ, path string, s3cfg S3Config) (Storage, error) {
	switch typ {
	case TypeLocalFS, "":
		return NewLocalFS(path)
	case TypeS3:
		return NewS3(s3cfg)
	default:
		return nil, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("unknown storage type %q", typ))
	}
}
