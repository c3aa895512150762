package cache

import (
	"context"
	"fmt"
	"path/filepath"

	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("scrapepipe/cache")

// Store is a durable key/blob mapping keyed by a request fingerprint.
// Get reports a miss as (nil, false, nil); a miss is not an error.
// Put overwrites any previous value for key.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
	Close() error
}

// StorageError is returned when a store cannot be opened, read, or written.
// It is fatal for a run: replay cannot work without its store.
type StorageError struct {
	Op   string // "open", "get", "put", "close"
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("cache %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("cache %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Path returns the store file used for a pipeline's replay session:
// <dir>/<pipelineName>.store.
func Path(dir, pipelineName string) string {
	return filepath.Join(dir, pipelineName+".store")
}
