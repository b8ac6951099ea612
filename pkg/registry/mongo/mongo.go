// Package mongo implements the metadata provider on MongoDB.
//
// Every release is one document keyed by package_name and package_version.
// A sentinel document per package, stored under [registry.RootVersion],
// carries the version history:
//
//	{package_name: "lpeg", package_version: "0.0.0", versions: ["1.0.0", "1.1.0"]}
//	{package_name: "lpeg", package_version: "1.1.0", dependencies: {"lua": ">=5.1.0"}}
//
// Payloads are not stored here; see the redis package.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/x/mongo/driver/topology"

	"github.com/matzehuels/luam/pkg/registry"
)

// Default connection settings.
const (
	DefaultDatabase   = "luam"
	DefaultCollection = "packages"
	connectTimeout    = 10 * time.Second
)

// Options configures the connection.
type Options struct {
	URI        string // Connection string
	Database   string // Database name (default: "luam")
	Collection string // Collection name (default: "packages")
}

// WithDefaults returns a copy of Options with zero values replaced by defaults.
func (o Options) WithDefaults() Options {
	opts := o
	if opts.Database == "" {
		opts.Database = DefaultDatabase
	}
	if opts.Collection == "" {
		opts.Collection = DefaultCollection
	}
	return opts
}

// Store reads and writes package documents.
type Store struct {
	client *mongo.Client
	coll   *mongo.Collection
}

type document struct {
	Name         string            `bson:"package_name"`
	Version      string            `bson:"package_version"`
	Dependencies map[string]string `bson:"dependencies,omitempty"`
	Versions     []string          `bson:"versions,omitempty"`
}

// Connect dials the server, verifies it with a ping and ensures the
// (package_name, package_version) unique index exists.
func Connect(ctx context.Context, opts Options) (*Store, error) {
	opts = opts.WithDefaults()
	if opts.URI == "" {
		return nil, errors.New("mongo: empty connection uri")
	}

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(opts.URI))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", classify(ctx, err))
	}

	s := &Store{client: client, coll: client.Database(opts.Database).Collection(opts.Collection)}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "package_name", Value: 1}, {Key: "package_version", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("mongo create index: %w", classify(ctx, err))
	}
	return nil
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Ping checks that the primary is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return classify(ctx, s.client.Ping(ctx, readpref.Primary()))
}

func (s *Store) find(ctx context.Context, name, version string) (*document, error) {
	var doc document
	filter := bson.D{{Key: "package_name", Value: name}, {Key: "package_version", Value: version}}
	if err := s.coll.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: %s@%s", registry.ErrNotFound, name, version)
		}
		return nil, classify(ctx, err)
	}
	return &doc, nil
}

// Get returns the record of name@version.
func (s *Store) Get(ctx context.Context, name, version string) (*registry.Record, error) {
	if version == registry.RootVersion {
		return nil, fmt.Errorf("%w: %s@%s", registry.ErrNotFound, name, version)
	}
	doc, err := s.find(ctx, name, version)
	if err != nil {
		return nil, err
	}
	rec := &registry.Record{Name: doc.Name, Version: doc.Version, Dependencies: doc.Dependencies}
	return rec.Clone(), nil
}

// VersionHistory returns the versions recorded on name's sentinel document.
func (s *Store) VersionHistory(ctx context.Context, name string) ([]string, error) {
	doc, err := s.find(ctx, name, registry.RootVersion)
	if err != nil {
		return nil, err
	}
	return doc.Versions, nil
}

// Publish inserts the release document and adds its version to the
// sentinel's history. The payload argument is ignored; payloads live in a
// separate store (see [registry.SplitPublisher]).
//
// The history update is idempotent, so publishing a release whose document
// exists but whose version never reached the history completes the earlier
// publish instead of failing. Only a release present in both is reported as
// [registry.ErrVersionExists].
func (s *Store) Publish(ctx context.Context, rec *registry.Record, _ []byte) error {
	if rec.Version == registry.RootVersion {
		return fmt.Errorf("mongo: version %s is reserved", registry.RootVersion)
	}
	doc := document{Name: rec.Name, Version: rec.Version, Dependencies: rec.Clone().Dependencies}
	inserted := true
	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		if !mongo.IsDuplicateKeyError(err) {
			return classify(ctx, err)
		}
		inserted = false
	}

	added, err := s.appendHistory(ctx, rec.Name, rec.Version)
	if err != nil {
		return err
	}
	return publishOutcome(rec, inserted, added)
}

// appendHistory adds version to name's history unless it is already listed.
// It reports whether the history changed.
func (s *Store) appendHistory(ctx context.Context, name, version string) (bool, error) {
	filter := bson.D{{Key: "package_name", Value: name}, {Key: "package_version", Value: registry.RootVersion}}
	update := bson.D{{Key: "$addToSet", Value: bson.D{{Key: "versions", Value: version}}}}
	res, err := s.coll.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		return false, classify(ctx, err)
	}
	return res.ModifiedCount > 0 || res.UpsertedCount > 0, nil
}

// publishOutcome reports a duplicate only when neither the release document
// nor the history was written.
func publishOutcome(rec *registry.Record, inserted, added bool) error {
	if !inserted && !added {
		return fmt.Errorf("%w: %s@%s", registry.ErrVersionExists, rec.Name, rec.Version)
	}
	return nil
}

// classify marks transient driver failures as retryable. Once ctx has ended
// the error is returned unchanged so the caller can tell cancellation from
// an outage.
func classify(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return err
	}
	var sse topology.ServerSelectionError
	var netErr net.Error
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) || errors.As(err, &sse) || errors.As(err, &netErr) {
		return registry.Retryable(fmt.Errorf("%w: %w", registry.ErrUnavailable, err))
	}
	return err
}

var (
	_ registry.MetadataProvider = (*Store)(nil)
	_ registry.Publisher        = (*Store)(nil)
)
