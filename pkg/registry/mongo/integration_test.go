//go:build integration

package mongo

import (
	"context"
	"errors"
	"os"
	"slices"
	"testing"

	"github.com/google/uuid"

	"github.com/matzehuels/luam/pkg/registry"
)

func connectTest(t *testing.T) *Store {
	t.Helper()
	uri := os.Getenv("LUAM_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("LUAM_TEST_MONGO_URI not set")
	}
	ctx := context.Background()
	s, err := Connect(ctx, Options{URI: uri, Database: "luam_test", Collection: "packages_" + uuid.NewString()[:8]})
	if err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	t.Cleanup(func() {
		_ = s.coll.Drop(context.Background())
		_ = s.Close(context.Background())
	})
	return s
}

func TestIntegrationPublishAndRead(t *testing.T) {
	s := connectTest(t)
	ctx := context.Background()

	if err := s.Publish(ctx, &registry.Record{Name: "a", Version: "1.0.0", Dependencies: map[string]string{"b": "^1.0.0"}}, nil); err != nil {
		t.Fatalf("Publish() error: %v", err)
	}
	if err := s.Publish(ctx, &registry.Record{Name: "a", Version: "1.1.0"}, nil); err != nil {
		t.Fatalf("Publish() error: %v", err)
	}

	history, err := s.VersionHistory(ctx, "a")
	if err != nil || !slices.Equal(history, []string{"1.0.0", "1.1.0"}) {
		t.Errorf("VersionHistory() = %v, %v", history, err)
	}
	rec, err := s.Get(ctx, "a", "1.0.0")
	if err != nil || rec.Dependencies["b"] != "^1.0.0" {
		t.Errorf("Get() = %+v, %v", rec, err)
	}

	err = s.Publish(ctx, &registry.Record{Name: "a", Version: "1.0.0"}, nil)
	if !errors.Is(err, registry.ErrVersionExists) {
		t.Errorf("duplicate Publish() error = %v", err)
	}
}

func TestIntegrationPublishCompletesMissingHistory(t *testing.T) {
	s := connectTest(t)
	ctx := context.Background()

	if err := s.Publish(ctx, &registry.Record{Name: "a", Version: "1.0.0"}, nil); err != nil {
		t.Fatalf("Publish() error: %v", err)
	}
	// A release document whose history update never happened.
	if _, err := s.coll.InsertOne(ctx, document{Name: "a", Version: "1.1.0"}); err != nil {
		t.Fatalf("InsertOne() error: %v", err)
	}

	if err := s.Publish(ctx, &registry.Record{Name: "a", Version: "1.1.0"}, nil); err != nil {
		t.Fatalf("Publish() of half-written release error: %v", err)
	}
	history, err := s.VersionHistory(ctx, "a")
	if err != nil || !slices.Equal(history, []string{"1.0.0", "1.1.0"}) {
		t.Errorf("VersionHistory() = %v, %v", history, err)
	}

	err = s.Publish(ctx, &registry.Record{Name: "a", Version: "1.1.0"}, nil)
	if !errors.Is(err, registry.ErrVersionExists) {
		t.Errorf("repeated Publish() error = %v", err)
	}
}

func TestIntegrationNotFound(t *testing.T) {
	s := connectTest(t)
	ctx := context.Background()

	if _, err := s.Get(ctx, "nope", "1.0.0"); !errors.Is(err, registry.ErrNotFound) {
		t.Errorf("Get() error = %v", err)
	}
	if _, err := s.VersionHistory(ctx, "nope"); !errors.Is(err, registry.ErrNotFound) {
		t.Errorf("VersionHistory() error = %v", err)
	}
}
