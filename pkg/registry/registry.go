// Package registry defines the storage contracts the resolver consumes.
//
// Package metadata (declared dependencies, version history) and package
// payloads live in separate stores, mirroring how the registry persists them:
// a document store keyed by (name, version) and an object store of release
// bytes. Implementations live in subpackages:
//
//   - memory: in-process maps for tests and fixtures
//   - file: a directory of TOML package indexes and payload files
//   - mongo: MongoDB package documents
//   - redis: Redis payload blobs
//
// Stores report a missing package or release with [ErrNotFound] and mark
// transient failures with [Retryable]. [WithRetry] wraps a store so that only
// transient failures are retried.
package registry

import (
	"context"
	"errors"
	"maps"
	"slices"
)

// RootVersion is the sentinel version under which a package's version
// history is recorded.
const RootVersion = "0.0.0"

// Sentinel errors for store operations.
var (
	// ErrNotFound is returned when a package or release does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnavailable is returned for transient store failures (timeouts,
	// connection errors, server selection failures).
	ErrUnavailable = errors.New("store unavailable")
)

// Record is the immutable metadata of one published release.
type Record struct {
	Name         string            `json:"name"`
	Version      string            `json:"version"`
	Dependencies map[string]string `json:"dependencies"` // dependency name -> range
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.Dependencies = maps.Clone(r.Dependencies)
	if c.Dependencies == nil {
		c.Dependencies = map[string]string{}
	}
	return &c
}

// DependencyNames returns the declared dependency names in sorted order.
func (r *Record) DependencyNames() []string {
	return slices.Sorted(maps.Keys(r.Dependencies))
}

// MetadataProvider serves package documents.
type MetadataProvider interface {
	// Get returns the record of name at an exact version.
	Get(ctx context.Context, name, version string) (*Record, error)
	// VersionHistory returns every published version of name in publish
	// order, oldest first.
	VersionHistory(ctx context.Context, name string) ([]string, error)
}

// PayloadProvider serves release bytes.
type PayloadProvider interface {
	// Get returns the stored payload of name at an exact version.
	Get(ctx context.Context, name, version string) ([]byte, error)
}

// Publisher is implemented by stores that accept new releases. Publishing
// appends version to the package's history; republishing an existing
// version is rejected.
type Publisher interface {
	Publish(ctx context.Context, rec *Record, payload []byte) error
}

// ErrVersionExists is returned by [Publisher.Publish] for a duplicate release.
var ErrVersionExists = errors.New("version already published")

// PayloadWriter is implemented by payload stores that accept new blobs.
type PayloadWriter interface {
	Put(ctx context.Context, name, version string, data []byte) error
}

// SplitPublisher publishes to a metadata store and a separate payload store.
// The payload is written first so that a visible release always has bytes.
// A payload that already exists is left in place and does not fail the
// publish.
type SplitPublisher struct {
	Meta     Publisher
	Payloads PayloadWriter
}

// Publish stores payload, then rec.
func (p SplitPublisher) Publish(ctx context.Context, rec *Record, payload []byte) error {
	if err := p.Payloads.Put(ctx, rec.Name, rec.Version, payload); err != nil && !errors.Is(err, ErrVersionExists) {
		return err
	}
	return p.Meta.Publish(ctx, rec, nil)
}

// RetryableError wraps an error to indicate it should trigger a retry.
type RetryableError struct{ Err error }

func (e *RetryableError) Error() string { return e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// Retryable wraps err as a transient failure. A nil err stays nil.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// IsRetryable reports whether err was wrapped with [Retryable].
func IsRetryable(err error) bool {
	return errors.As(err, new(*RetryableError))
}
