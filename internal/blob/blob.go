// Package blob stores submission source and program output by key.
package blob

import (
	"context"
	"errors"
	"path"
)

// ErrNotFound is returned by Get for unknown keys.
var ErrNotFound = errors.New("blob not found")

// Store is a key/value store for opaque byte content.
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// SourceKey is where a submission's source lives. ext includes the dot.
func SourceKey(id, ext string) string {
	return path.Join("submissions", id+ext)
}

// OutputKey is where a submission's program output lives.
func OutputKey(id string) string {
	return path.Join("outputs", id+".txt")
}
