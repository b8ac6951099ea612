package mongo

import (
	"context"
	"errors"
	"net"
	"os"
	"testing"

	"go.mongodb.org/mongo-driver/mongo"

	"github.com/matzehuels/luam/pkg/registry"
)

func TestOptionsWithDefaults(t *testing.T) {
	opts := Options{URI: "mongodb://localhost"}.WithDefaults()
	if opts.Database != DefaultDatabase || opts.Collection != DefaultCollection {
		t.Errorf("WithDefaults() = %+v", opts)
	}

	custom := Options{Database: "db", Collection: "c"}.WithDefaults()
	if custom.Database != "db" || custom.Collection != "c" {
		t.Errorf("WithDefaults() overrode explicit values: %+v", custom)
	}
}

func TestClassify(t *testing.T) {
	plain := errors.New("boom")
	network := mongo.CommandError{Message: "reset", Labels: []string{"NetworkError"}}
	ioTimeout := &net.OpError{Op: "dial", Net: "tcp", Err: os.ErrDeadlineExceeded}

	live := context.Background()
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name      string
		ctx       context.Context
		err       error
		retryable bool
	}{
		{"nil", live, nil, false},
		{"plain", live, plain, false},
		{"cancelled", cancelled, context.Canceled, false},
		{"network", live, network, true},
		{"io timeout", live, ioTimeout, true},
		{"io timeout after cancel", cancelled, ioTimeout, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify(tt.ctx, tt.err)
			if registry.IsRetryable(got) != tt.retryable {
				t.Errorf("IsRetryable(classify(%v)) = %v, want %v", tt.err, !tt.retryable, tt.retryable)
			}
			if tt.retryable && !errors.Is(got, registry.ErrUnavailable) {
				t.Errorf("classify(%v) does not wrap ErrUnavailable", tt.err)
			}
		})
	}
}

func TestPublishOutcome(t *testing.T) {
	rec := &registry.Record{Name: "a", Version: "1.0.0"}
	tests := []struct {
		name            string
		inserted, added bool
		exists          bool
	}{
		{"new release", true, true, false},
		{"history missing version", false, true, false},
		{"history already listed", true, false, false},
		{"already published", false, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := publishOutcome(rec, tt.inserted, tt.added)
			if got := errors.Is(err, registry.ErrVersionExists); got != tt.exists {
				t.Errorf("publishOutcome() = %v, want exists %v", err, tt.exists)
			}
		})
	}
}

func TestConnectRequiresURI(t *testing.T) {
	if _, err := Connect(context.Background(), Options{}); err == nil {
		t.Error("Connect() with empty URI should fail")
	}
}
