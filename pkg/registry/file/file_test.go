package file

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/matzehuels/luam/pkg/registry"
)

func TestPublishAndRead(t *testing.T) {
	ctx := context.Background()
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	rec := &registry.Record{Name: "lpeg", Version: "1.0.0", Dependencies: map[string]string{"lua": ">=5.1.0"}}
	if err := s.Publish(ctx, rec, []byte("v1")); err != nil {
		t.Fatalf("Publish() error: %v", err)
	}
	if err := s.Publish(ctx, &registry.Record{Name: "lpeg", Version: "1.1.0"}, []byte("v11")); err != nil {
		t.Fatalf("Publish() error: %v", err)
	}

	history, err := s.VersionHistory(ctx, "lpeg")
	if err != nil {
		t.Fatalf("VersionHistory() error: %v", err)
	}
	if !slices.Equal(history, []string{"1.0.0", "1.1.0"}) {
		t.Errorf("history = %v", history)
	}

	got, err := s.Get(ctx, "lpeg", "1.0.0")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.Dependencies["lua"] != ">=5.1.0" {
		t.Errorf("Dependencies = %v", got.Dependencies)
	}

	leaf, _ := s.Get(ctx, "lpeg", "1.1.0")
	if leaf.Dependencies == nil || len(leaf.Dependencies) != 0 {
		t.Errorf("leaf Dependencies = %v, want empty map", leaf.Dependencies)
	}

	data, err := s.Payloads().Get(ctx, "lpeg", "1.1.0")
	if err != nil || string(data) != "v11" {
		t.Errorf("payload = %q, %v", data, err)
	}

	if _, err := os.Stat(filepath.Join(s.Dir(), "lpeg", "lpeg-1.0.0.pkg")); err != nil {
		t.Errorf("payload file missing: %v", err)
	}
}

func TestPublishDuplicate(t *testing.T) {
	ctx := context.Background()
	s, _ := New(t.TempDir())
	rec := &registry.Record{Name: "a", Version: "1.0.0"}
	if err := s.Publish(ctx, rec, nil); err != nil {
		t.Fatal(err)
	}
	if err := s.Publish(ctx, rec, nil); !errors.Is(err, registry.ErrVersionExists) {
		t.Errorf("second Publish() error = %v", err)
	}
}

func TestReadHandWrittenIndex(t *testing.T) {
	dir := t.TempDir()
	pkg := filepath.Join(dir, "b")
	if err := os.MkdirAll(pkg, 0755); err != nil {
		t.Fatal(err)
	}
	index := `versions = ["1.0.0", "2.0.0", "1.5.0"]

[releases."1.0.0"]

[releases."2.0.0".dependencies]
c = "^1.0.0"

[releases."1.5.0".dependencies]
c = "~1.2.0"
`
	if err := os.WriteFile(filepath.Join(pkg, "index.toml"), []byte(index), 0644); err != nil {
		t.Fatal(err)
	}

	s, _ := New(dir)
	history, err := s.VersionHistory(context.Background(), "b")
	if err != nil {
		t.Fatalf("VersionHistory() error: %v", err)
	}
	if !slices.Equal(history, []string{"1.0.0", "2.0.0", "1.5.0"}) {
		t.Errorf("history = %v", history)
	}
	rec, err := s.Get(context.Background(), "b", "1.5.0")
	if err != nil || rec.Dependencies["c"] != "~1.2.0" {
		t.Errorf("Get() = %+v, %v", rec, err)
	}
}

func TestNotFound(t *testing.T) {
	ctx := context.Background()
	s, _ := New(t.TempDir())
	_ = s.Publish(ctx, &registry.Record{Name: "a", Version: "1.0.0"}, nil)

	tests := []struct {
		name string
		fn   func() error
	}{
		{"unknown package", func() error { _, err := s.Get(ctx, "zzz", "1.0.0"); return err }},
		{"unknown version", func() error { _, err := s.Get(ctx, "a", "9.9.9"); return err }},
		{"unknown history", func() error { _, err := s.VersionHistory(ctx, "zzz"); return err }},
		{"unknown payload", func() error { _, err := s.Payloads().Get(ctx, "a", "9.9.9"); return err }},
		{"traversal name", func() error { _, err := s.Get(ctx, "../a", "1.0.0"); return err }},
		{"traversal version", func() error { _, err := s.Payloads().Get(ctx, "a", "../../x"); return err }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.fn(); !errors.Is(err, registry.ErrNotFound) {
				t.Errorf("error = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestPackages(t *testing.T) {
	ctx := context.Background()
	s, _ := New(t.TempDir())
	for _, name := range []string{"zlib", "lpeg", "org/tool"} {
		if err := s.Publish(ctx, &registry.Record{Name: name, Version: "1.0.0"}, []byte(name)); err != nil {
			t.Fatalf("Publish(%s) error: %v", name, err)
		}
	}

	names, err := s.Packages()
	if err != nil {
		t.Fatalf("Packages() error: %v", err)
	}
	if !slices.Equal(names, []string{"lpeg", "org/tool", "zlib"}) {
		t.Errorf("Packages() = %v", names)
	}

	data, err := s.Payloads().Get(ctx, "org/tool", "1.0.0")
	if err != nil || string(data) != "org/tool" {
		t.Errorf("nested payload = %q, %v", data, err)
	}
}
