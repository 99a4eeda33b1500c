// Package backing defines the read-only repository content providers that
// feed the shared object store, and the process-wide registry that shares one
// provider instance per (type, source) pair across mounts.
package backing

import (
	"context"
	"errors"
)

// ObjectID identifies a piece of repository content. The format is owned by
// the store type that produced it; the control plane treats it as opaque.
type ObjectID string

var (
	// ErrUnsupportedType is returned for an unrecognized repository type tag.
	ErrUnsupportedType = errors.New("unsupported backing store type")

	// ErrObjectNotFound is returned when a store has no content for an ID.
	ErrObjectNotFound = errors.New("object not found in backing store")
)

// Store is a read-only provider of repository content, selected by a type
// tag (repository format) and a source identifier (location).
//
// A Store may hold expensive local state (clone data, open connections);
// instances are shared across every mount of the same repository and live
// for the remainder of the process.
type Store interface {
	// Type returns the repository type tag this store was created for.
	Type() string

	// Source returns the canonical source identifier.
	Source() string

	// Get retrieves the content for id, or ErrObjectNotFound.
	Get(ctx context.Context, id ObjectID) ([]byte, error)
}
