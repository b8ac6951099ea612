// Package memory provides an in-process registry store.
//
// A Store serves both package metadata and payloads from maps guarded by a
// single RWMutex. It is intended for tests and local fixtures: call counters
// expose how often each release was read, and FailNext injects transient
// failures to exercise retry paths.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/matzehuels/luam/pkg/registry"
)

type key struct{ name, version string }

// Store is a thread-safe in-memory metadata and payload store.
type Store struct {
	mu       sync.RWMutex
	records  map[key]*registry.Record
	payloads map[key][]byte
	history  map[string][]string

	gets     map[key]int
	fails    int
	failWith error
}

// New creates an empty store.
func New() *Store {
	return &Store{
		records:  make(map[key]*registry.Record),
		payloads: make(map[key][]byte),
		history:  make(map[string][]string),
		gets:     make(map[key]int),
	}
}

// Publish records a new release and appends it to the package history.
func (s *Store) Publish(ctx context.Context, rec *registry.Record, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key{rec.Name, rec.Version}
	if _, ok := s.records[k]; ok {
		return fmt.Errorf("%w: %s@%s", registry.ErrVersionExists, rec.Name, rec.Version)
	}
	s.records[k] = rec.Clone()
	s.payloads[k] = slices.Clone(payload)
	s.history[rec.Name] = append(s.history[rec.Name], rec.Version)
	return nil
}

// MustPublish is Publish for fixtures; it panics on error.
func (s *Store) MustPublish(name, version string, deps map[string]string, payload []byte) {
	rec := &registry.Record{Name: name, Version: version, Dependencies: deps}
	if err := s.Publish(context.Background(), rec, payload); err != nil {
		panic(err)
	}
}

// SetHistory replaces a package's history without touching records. It lets
// tests describe histories whose entries have no stored release.
func (s *Store) SetHistory(name string, versions ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history[name] = slices.Clone(versions)
}

// FailNext makes the next n store calls fail with a retryable error.
func (s *Store) FailNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fails = n
	s.failWith = registry.Retryable(registry.ErrUnavailable)
}

// FailAlways makes every subsequent store call fail with err.
func (s *Store) FailAlways(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fails = -1
	s.failWith = err
}

// Gets returns how many times the payload of name@version was read.
func (s *Store) Gets(name, version string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gets[key{name, version}]
}

func (s *Store) injected() error {
	switch {
	case s.fails < 0:
		return s.failWith
	case s.fails > 0:
		s.fails--
		return s.failWith
	}
	return nil
}

// Get returns the record of name@version.
func (s *Store) Get(ctx context.Context, name, version string) (*registry.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected(); err != nil {
		return nil, err
	}
	rec, ok := s.records[key{name, version}]
	if !ok {
		return nil, fmt.Errorf("%w: %s@%s", registry.ErrNotFound, name, version)
	}
	return rec.Clone(), nil
}

// VersionHistory returns the publish-ordered versions of name.
func (s *Store) VersionHistory(ctx context.Context, name string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected(); err != nil {
		return nil, err
	}
	h, ok := s.history[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", registry.ErrNotFound, name)
	}
	return slices.Clone(h), nil
}

// Payloads returns a view of the store serving release bytes.
func (s *Store) Payloads() registry.PayloadProvider { return payloadView{s} }

type payloadView struct{ s *Store }

func (p payloadView) Get(ctx context.Context, name, version string) ([]byte, error) {
	s := p.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected(); err != nil {
		return nil, err
	}
	k := key{name, version}
	data, ok := s.payloads[k]
	if !ok {
		return nil, fmt.Errorf("%w: payload %s@%s", registry.ErrNotFound, name, version)
	}
	s.gets[k]++
	return slices.Clone(data), nil
}

var (
	_ registry.MetadataProvider = (*Store)(nil)
	_ registry.Publisher        = (*Store)(nil)
	_ registry.PayloadProvider  = payloadView{}
)
