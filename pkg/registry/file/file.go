// Package file implements a registry backed by a directory tree.
//
// Each package owns a subdirectory holding an index.toml and one payload file
// per release:
//
//	<dir>/<name>/index.toml
//	<dir>/<name>/<name>-<version>.pkg
//
// The index lists the version history in publish order and the declared
// dependencies of every release:
//
//	versions = ["1.0.0", "1.1.0"]
//
//	[releases."1.1.0".dependencies]
//	b = "^1.0.0"
package file

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"

	"github.com/matzehuels/luam/pkg/errors"
	"github.com/matzehuels/luam/pkg/registry"
)

const indexFile = "index.toml"

// Store serves metadata and payloads from a directory.
type Store struct {
	dir string
	mu  sync.Mutex // serializes Publish
}

// New creates a store rooted at dir, creating it if needed.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create registry dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the store's root directory.
func (s *Store) Dir() string { return s.dir }

type index struct {
	Versions []string           `toml:"versions"`
	Releases map[string]release `toml:"releases"`
}

type release struct {
	Dependencies map[string]string `toml:"dependencies"`
}

func (s *Store) readIndex(name string) (*index, error) {
	if err := errors.ValidatePackageName(name); err != nil {
		return nil, fmt.Errorf("%w: %s", registry.ErrNotFound, name)
	}
	path := filepath.Join(s.dir, name, indexFile)
	var idx index
	if _, err := toml.DecodeFile(path, &idx); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", registry.ErrNotFound, name)
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return &idx, nil
}

// Get returns the record of name@version.
func (s *Store) Get(ctx context.Context, name, version string) (*registry.Record, error) {
	idx, err := s.readIndex(name)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(idx.Versions, version) {
		return nil, fmt.Errorf("%w: %s@%s", registry.ErrNotFound, name, version)
	}
	rec := &registry.Record{Name: name, Version: version, Dependencies: idx.Releases[version].Dependencies}
	return rec.Clone(), nil
}

// VersionHistory returns the versions listed in name's index.
func (s *Store) VersionHistory(ctx context.Context, name string) ([]string, error) {
	idx, err := s.readIndex(name)
	if err != nil {
		return nil, err
	}
	return slices.Clone(idx.Versions), nil
}

// Packages returns the names of every package with an index, sorted.
func (s *Store) Packages() ([]string, error) {
	var names []string
	err := filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || d.Name() != indexFile {
			return nil
		}
		rel, err := filepath.Rel(s.dir, filepath.Dir(path))
		if err != nil {
			return err
		}
		if rel != "." {
			names = append(names, filepath.ToSlash(rel))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.Sort(names)
	return names, nil
}

// Payloads returns a view of the store serving release bytes.
func (s *Store) Payloads() registry.PayloadProvider { return payloadView{s} }

func (s *Store) payloadPath(name, version string) string {
	return filepath.Join(s.dir, name, filepath.Base(name)+"-"+version+".pkg")
}

type payloadView struct{ s *Store }

func (p payloadView) Get(ctx context.Context, name, version string) ([]byte, error) {
	if errors.ValidatePackageName(name) != nil || strings.ContainsAny(version, `/\`) {
		return nil, fmt.Errorf("%w: payload %s@%s", registry.ErrNotFound, name, version)
	}
	data, err := os.ReadFile(p.s.payloadPath(name, version))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: payload %s@%s", registry.ErrNotFound, name, version)
	}
	return data, err
}

// Publish writes the payload, then appends the release to the index.
func (s *Store) Publish(ctx context.Context, rec *registry.Record, payload []byte) error {
	if err := errors.ValidatePackageName(rec.Name); err != nil {
		return err
	}
	if rec.Version == "" || strings.ContainsAny(rec.Version, `/\`) {
		return errors.New(errors.ErrCodeRequestMalformed, "invalid version %q", rec.Version)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, err := s.readIndex(rec.Name)
	switch {
	case stderrors.Is(err, registry.ErrNotFound):
		idx = &index{}
	case err != nil:
		return err
	}
	if slices.Contains(idx.Versions, rec.Version) {
		return fmt.Errorf("%w: %s@%s", registry.ErrVersionExists, rec.Name, rec.Version)
	}
	if idx.Releases == nil {
		idx.Releases = make(map[string]release)
	}
	idx.Versions = append(idx.Versions, rec.Version)
	idx.Releases[rec.Version] = release{Dependencies: rec.Clone().Dependencies}

	pkgDir := filepath.Join(s.dir, rec.Name)
	if err := os.MkdirAll(pkgDir, 0755); err != nil {
		return err
	}
	if err := os.WriteFile(s.payloadPath(rec.Name, rec.Version), payload, 0644); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(idx); err != nil {
		return fmt.Errorf("encode index: %w", err)
	}
	tmp := filepath.Join(pkgDir, indexFile+".tmp")
	if err := os.WriteFile(tmp, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("write index: %w", err)
	}
	return os.Rename(tmp, filepath.Join(pkgDir, indexFile))
}

var (
	_ registry.MetadataProvider = (*Store)(nil)
	_ registry.Publisher        = (*Store)(nil)
	_ registry.PayloadProvider  = payloadView{}
)
