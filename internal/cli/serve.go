package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/matzehuels/luam/pkg/api"
	"github.com/matzehuels/luam/pkg/buildinfo"
	"github.com/matzehuels/luam/pkg/registry/file"
)

type serveOpts struct {
	addr string
	seed string
}

func (c *CLI) serveCommand() *cobra.Command {
	var opts serveOpts

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Run the registry HTTP API:

  POST /packages/install   X-PackageName, X-PackageVersion, JSON preinstalled body
  GET  /packages/<name>    full closure, version from X-PackageVersion or ?version=
  GET  /healthz            liveness and store reachability

The server stops gracefully on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runServe(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.addr, "addr", "", "listen address (overrides server.addr)")
	cmd.Flags().StringVar(&opts.seed, "seed", "", "publish a directory registry into the store before serving")
	return cmd
}

func (c *CLI) runServe(ctx context.Context, opts serveOpts) error {
	logger := loggerFromContext(ctx)
	cfg := c.cfg
	if opts.addr != "" {
		cfg.Server.Addr = opts.addr
	}

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.close()

	if opts.seed != "" {
		src, err := file.New(opts.seed)
		if err != nil {
			return err
		}
		stats, err := publishAll(ctx, src, st.publisher, logger)
		if err != nil {
			return err
		}
		logger.Info("seeded store", "dir", opts.seed, "published", stats.published, "skipped", stats.skipped)
	}

	logger.Info("starting luam", append(buildinfo.Fields(), "store", cfg.Store.Kind)...)
	srv := api.New(st.builder(cfg, logger), api.Options{Logger: logger, Checks: st.checks})
	return srv.Serve(ctx, api.ServeOptions{
		Addr:         cfg.Server.Addr,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout),
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout),
	})
}
