package cli

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/luam/pkg/api"
	"github.com/matzehuels/luam/pkg/config"
	"github.com/matzehuels/luam/pkg/install"
	"github.com/matzehuels/luam/pkg/registry"
	"github.com/matzehuels/luam/pkg/registry/file"
	"github.com/matzehuels/luam/pkg/registry/memory"
	"github.com/matzehuels/luam/pkg/registry/mongo"
	"github.com/matzehuels/luam/pkg/registry/redis"
)

// stores bundles the backends selected by [config.StoreConfig].
type stores struct {
	meta      registry.MetadataProvider
	payloads  registry.PayloadProvider
	publisher registry.Publisher
	checks    map[string]api.HealthCheck
	close     func()
}

// openStores connects the configured backends. The caller must call close.
func openStores(ctx context.Context, cfg config.Config, logger *log.Logger) (*stores, error) {
	switch cfg.Store.Kind {
	case config.StoreMemory:
		s := memory.New()
		return &stores{meta: s, payloads: s.Payloads(), publisher: s, close: func() {}}, nil

	case config.StoreFile:
		s, err := file.New(cfg.Store.Dir)
		if err != nil {
			return nil, err
		}
		logger.Debug("using file store", "dir", cfg.Store.Dir)
		return &stores{meta: s, payloads: s.Payloads(), publisher: s, close: func() {}}, nil

	case config.StoreMongo:
		m, err := mongo.Connect(ctx, cfg.MongoOptions())
		if err != nil {
			return nil, err
		}
		r, err := redis.Connect(ctx, cfg.RedisOptions())
		if err != nil {
			_ = m.Close(context.Background())
			return nil, err
		}
		logger.Debug("using mongo store", "database", cfg.Mongo.Database, "redis", cfg.Redis.Addr)
		return &stores{
			meta:      m,
			payloads:  r,
			publisher: registry.SplitPublisher{Meta: m, Payloads: r},
			checks: map[string]api.HealthCheck{
				"mongo": m.Ping,
				"redis": r.Ping,
			},
			close: func() {
				if err := r.Close(); err != nil {
					logger.Warn("closing redis", "err", err)
				}
				if err := m.Close(context.Background()); err != nil {
					logger.Warn("closing mongo", "err", err)
				}
			},
		}, nil
	}
	return nil, fmt.Errorf("unknown store kind %q", cfg.Store.Kind)
}

// builder creates a resolver over s using the resolver settings of cfg.
func (s *stores) builder(cfg config.Config, logger *log.Logger) *install.Builder {
	opts := cfg.InstallOptions()
	opts.Logger = logger
	return install.NewBuilder(s.meta, s.payloads, opts)
}
