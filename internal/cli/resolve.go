package cli

import (
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/matzehuels/luam/pkg/config"
	"github.com/matzehuels/luam/pkg/errors"
	"github.com/matzehuels/luam/pkg/graph"
	"github.com/matzehuels/luam/pkg/install"
)

type resolveOpts struct {
	preinstalled []string
	json         bool
	dot          string
	svg          string
	timeout      time.Duration
	concurrency  int
}

func (c *CLI) resolveCommand() *cobra.Command {
	var opts resolveOpts

	cmd := &cobra.Command{
		Use:   "resolve <name>[@version|@range]",
		Short: "Resolve the dependency closure of a package",
		Long: `Resolve the dependency closure of a package against the configured store.

Without a version the newest release is used. A range selects the most
recently published release that satisfies it.`,
		Example: `  luam resolve lpeg
  luam resolve lpeg@^1.0.0 --preinstalled lua=5.1.5,5.4.6
  luam resolve app@2.1.0 --json > closure.json
  luam resolve app --svg deps.svg`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runResolve(cmd, args[0], opts)
		},
	}

	cmd.Flags().StringArrayVarP(&opts.preinstalled, "preinstalled", "p", nil, "already installed versions as name=v1,v2 (repeatable)")
	cmd.Flags().BoolVar(&opts.json, "json", false, "print the resolution set as JSON")
	cmd.Flags().StringVar(&opts.dot, "dot", "", "write the dependency graph as Graphviz DOT to `file`")
	cmd.Flags().StringVar(&opts.svg, "svg", "", "render the dependency graph as SVG to `file`")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "session deadline (overrides resolver.timeout)")
	cmd.Flags().IntVar(&opts.concurrency, "concurrency", 0, "parallel store calls (overrides resolver.concurrency)")

	return cmd
}

// parseTarget splits name@spec. A leading @ belongs to the name.
func parseTarget(arg string) (name, spec string) {
	if i := strings.LastIndex(arg, "@"); i > 0 {
		return arg[:i], arg[i+1:]
	}
	return arg, ""
}

func (c *CLI) runResolve(cmd *cobra.Command, target string, opts resolveOpts) error {
	ctx := cmd.Context()
	logger := loggerFromContext(ctx)

	name, spec := parseTarget(target)
	pre, ok := install.ParsePreinstalled(opts.preinstalled)
	if !ok {
		return errors.New(errors.ErrCodeRequestMalformed, "--preinstalled expects name=v1,v2")
	}

	cfg := c.cfg
	if opts.timeout > 0 {
		cfg.Resolver.Timeout = config.Duration(opts.timeout)
	}
	if opts.concurrency > 0 {
		cfg.Resolver.Concurrency = opts.concurrency
	}

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.close()

	var spinner *Spinner
	if !opts.json && !c.verbose {
		spinner = newSpinner(ctx, fmt.Sprintf("Resolving %s...", target))
		spinner.Start()
	}
	res, err := st.builder(cfg, logger).Resolve(ctx, install.Request{Name: name, Version: spec, Preinstalled: pre})
	if spinner != nil {
		spinner.Stop()
	}
	if err != nil {
		return err
	}

	if opts.json {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(res.Set); err != nil {
			return err
		}
	} else {
		printResult(res)
	}

	return writeGraphs(cmd, res, opts, !opts.json)
}

func printResult(res *install.Result) {
	printSuccess("Resolved %s: %s in %s",
		StyleTitle.Render(res.Root.String()),
		StyleNumber.Render(fmt.Sprintf("%d releases", res.Set.Len())),
		res.Duration.Round(time.Millisecond))

	for _, n := range res.Set.Nodes() {
		printInfo("%s %s", StyleValue.Render(n.Name), StyleDim.Render(n.Version))
		for _, dep := range sortedKeys(n.ProvidedDependencyVersions) {
			v := n.ProvidedDependencyVersions[dep]
			line := fmt.Sprintf("%s %s %s@%s", dep, n.Dependencies[dep], iconArrow, v)
			if _, ok := res.Set.Node(dep, v); !ok {
				line += " " + stylePreinstalled.Render("(preinstalled)")
			}
			printDetail("%s", line)
		}
	}
	for _, name := range sortedKeys(res.Set) {
		if vs := res.Set.Versions(name); len(vs) > 1 {
			printWarning("%s resolved to %d versions: %s", name, len(vs), strings.Join(vs, ", "))
		}
	}
}

func writeGraphs(cmd *cobra.Command, res *install.Result, opts resolveOpts, announce bool) error {
	if opts.dot == "" && opts.svg == "" {
		return nil
	}
	dot := graph.ToDOT(graph.FromResult(res), graph.Options{RangeLabels: true})

	if opts.dot != "" {
		if err := os.WriteFile(opts.dot, []byte(dot), 0644); err != nil {
			return fmt.Errorf("write %s: %w", opts.dot, err)
		}
		if announce {
			printFile(opts.dot)
		}
	}
	if opts.svg != "" {
		svg, err := graph.RenderSVG(cmd.Context(), dot)
		if err != nil {
			return err
		}
		if err := os.WriteFile(opts.svg, svg, 0644); err != nil {
			return fmt.Errorf("write %s: %w", opts.svg, err)
		}
		if announce {
			printFile(opts.svg)
		}
	}
	return nil
}

func sortedKeys[M ~map[string]V, V any](m M) []string {
	return slices.Sorted(maps.Keys(m))
}
