// Package redis implements the payload store on Redis.
//
// Each release's bytes are one string value under
// <prefix>payload:<name>:<version>. Values are written once and never
// overwritten.
package redis

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/matzehuels/luam/pkg/registry"
)

// DefaultPrefix namespaces every key written by the store.
const DefaultPrefix = "luam:"

// Options configures the client.
type Options struct {
	Addr     string // host:port
	Password string
	DB       int
	Prefix   string // Key prefix (default: "luam:")
}

// WithDefaults returns a copy of Options with zero values replaced by defaults.
func (o Options) WithDefaults() Options {
	opts := o
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	return opts
}

// Store serves payloads from Redis.
type Store struct {
	client redis.UniversalClient
	prefix string
}

// New creates a store on an existing client.
func New(client redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{client: client, prefix: prefix}
}

// Connect creates a client from opts and verifies it with PING.
func Connect(ctx context.Context, opts Options) (*Store, error) {
	opts = opts.WithDefaults()
	if opts.Addr == "" {
		return nil, errors.New("redis: empty address")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", classify(ctx, err))
	}
	return New(client, opts.Prefix), nil
}

// Key returns the key holding name@version.
func (s *Store) Key(name, version string) string {
	return s.prefix + "payload:" + name + ":" + version
}

// Get returns the payload of name@version.
func (s *Store) Get(ctx context.Context, name, version string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.Key(name, version)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: payload %s@%s", registry.ErrNotFound, name, version)
	}
	if err != nil {
		return nil, classify(ctx, err)
	}
	return data, nil
}

// Put stores the payload of name@version unless one already exists.
func (s *Store) Put(ctx context.Context, name, version string, data []byte) error {
	ok, err := s.client.SetNX(ctx, s.Key(name, version), data, 0).Result()
	if err != nil {
		return classify(ctx, err)
	}
	if !ok {
		return fmt.Errorf("%w: payload %s@%s", registry.ErrVersionExists, name, version)
	}
	return nil
}

// Ping checks that the server is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return classify(ctx, s.client.Ping(ctx).Err())
}

// Close releases the client.
func (s *Store) Close() error {
	return s.client.Close()
}

// classify marks connection failures as retryable. Errors caused by ctx
// ending and server replies such as WRONGTYPE are returned unchanged. A
// network timeout while ctx is still live is a connection failure.
func classify(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, redis.ErrClosed) || isLoading(err) {
		return registry.Retryable(fmt.Errorf("%w: %w", registry.ErrUnavailable, err))
	}
	return err
}

// isLoading reports replies sent while the server is still loading its
// dataset or failing over.
func isLoading(err error) bool {
	var re redis.Error
	if !errors.As(err, &re) {
		return false
	}
	for _, p := range []string{"LOADING", "MASTERDOWN", "TRYAGAIN", "READONLY"} {
		if strings.HasPrefix(re.Error(), p) {
			return true
		}
	}
	return false
}

var (
	_ registry.PayloadProvider = (*Store)(nil)
	_ registry.PayloadWriter   = (*Store)(nil)
)
