package cli

import (
	"context"
	stderrors "errors"
	"fmt"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/matzehuels/luam/pkg/config"
	"github.com/matzehuels/luam/pkg/registry"
	"github.com/matzehuels/luam/pkg/registry/file"
)

func (c *CLI) publishCommand() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "publish <dir>",
		Short: "Publish a directory registry into the configured store",
		Long: `Publish every release found in a directory registry into the configured
store, in each package's publish order. Releases the store already has are
skipped, so the command can be re-run after adding versions.

The directory layout is the file store's: <dir>/<name>/index.toml plus one
<name>-<version>.pkg payload per release.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runPublish(cmd.Context(), args[0], dryRun)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "list releases without publishing")
	return cmd
}

func (c *CLI) runPublish(ctx context.Context, dir string, dryRun bool) error {
	logger := loggerFromContext(ctx)

	if c.cfg.Store.Kind == config.StoreFile && samePath(dir, c.cfg.Store.Dir) {
		return fmt.Errorf("source %s is the configured store", dir)
	}
	src, err := file.New(dir)
	if err != nil {
		return err
	}
	st, err := openStores(ctx, c.cfg, logger)
	if err != nil {
		return err
	}
	defer st.close()

	prog := newProgress(logger)
	var dst registry.Publisher = st.publisher
	if dryRun {
		dst = nil
	}
	stats, err := publishAll(ctx, src, dst, logger)
	if err != nil {
		return err
	}
	prog.done(fmt.Sprintf("Published %d releases, skipped %d", stats.published, stats.skipped))
	printSuccess("%d published, %d already present", stats.published, stats.skipped)
	return nil
}

func samePath(a, b string) bool {
	ea, err1 := filepath.Abs(a)
	eb, err2 := filepath.Abs(b)
	return err1 == nil && err2 == nil && ea == eb
}

type publishStats struct {
	published int
	skipped   int
}

// publishAll copies every release of src into dst in publish order. A nil
// dst only lists what would be published.
func publishAll(ctx context.Context, src *file.Store, dst registry.Publisher, logger *log.Logger) (publishStats, error) {
	var stats publishStats

	names, err := src.Packages()
	if err != nil {
		return stats, err
	}
	for _, name := range names {
		history, err := src.VersionHistory(ctx, name)
		if err != nil {
			return stats, err
		}
		for _, v := range history {
			if err := ctx.Err(); err != nil {
				return stats, err
			}
			rec, err := src.Get(ctx, name, v)
			if err != nil {
				return stats, err
			}
			payload, err := src.Payloads().Get(ctx, name, v)
			if err != nil {
				return stats, fmt.Errorf("%s@%s: %w", name, v, err)
			}

			if dst == nil {
				printInfo("%s@%s (%d dependencies, %d bytes)", name, v, len(rec.Dependencies), len(payload))
				stats.published++
				continue
			}
			err = dst.Publish(ctx, rec, payload)
			switch {
			case stderrors.Is(err, registry.ErrVersionExists):
				logger.Debug("already published", "package", name, "version", v)
				stats.skipped++
			case err != nil:
				return stats, fmt.Errorf("publish %s@%s: %w", name, v, err)
			default:
				logger.Debug("published", "package", name, "version", v, "bytes", len(payload))
				stats.published++
			}
		}
	}
	return stats, nil
}
