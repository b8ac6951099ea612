// Package install resolves the full set of releases needed to install a
// package.
//
// # Overview
//
// A [Builder] turns a [Request] (root name, version or range, and the
// caller's preinstalled versions) into a [Set]: every release in the
// dependency closure that the caller does not already have, each with its
// payload, declared dependency ranges and the concrete version chosen for
// every declared dependency.
//
// # Traversal
//
// Dependencies are walked breadth-first, one level at a time. For each
// dependency edge the builder checks, in order:
//
//  1. the preinstalled versions of the dependency
//  2. versions already placed in the set, including ones scheduled earlier in
//     the same level
//  3. the dependency's published history, newest first
//
// The first two short-circuit without any fetch. Only the third schedules a
// new release. Store calls within a level run concurrently; every decision
// and every insertion happens on the session goroutine in sorted order, so
// the result does not depend on which fetch finishes first.
//
// # Provenance
//
// Once the set is complete, a second pass assigns ProvidedDependencyVersions
// for every node from the preinstalled versions (first match in caller order)
// or the set (highest matching version). The resulting graph is then checked
// for cycles.
//
// # Failure
//
// Any error aborts the whole session and no partial set is returned.
package install

import (
	"context"
	stderrors "errors"
	"maps"
	"slices"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/matzehuels/luam/pkg/errors"
	"github.com/matzehuels/luam/pkg/observability"
	"github.com/matzehuels/luam/pkg/registry"
	"github.com/matzehuels/luam/pkg/version"
)

// Builder resolves dependency closures against a metadata and a payload
// store. A Builder holds no per-session state and is safe for concurrent use.
type Builder struct {
	meta     registry.MetadataProvider
	payloads registry.PayloadProvider
	opts     Options
}

// NewBuilder creates a Builder. Both stores are wrapped so that transient
// failures are retried under opts.Retry.
func NewBuilder(meta registry.MetadataProvider, payloads registry.PayloadProvider, opts Options) *Builder {
	opts = opts.WithDefaults()
	return &Builder{
		meta:     registry.WithRetry(meta, opts.Retry),
		payloads: registry.PayloadWithRetry(payloads, opts.Retry),
		opts:     opts,
	}
}

// Resolve runs one resolution session.
func (b *Builder) Resolve(ctx context.Context, req Request) (*Result, error) {
	if err := errors.ValidatePackageName(req.Name); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, b.opts.Timeout)
	defer cancel()

	s := &session{
		b:      b,
		ctx:    ctx,
		pre:    req.Preinstalled,
		set:    make(Set),
		logger: b.opts.Logger.With("session", uuid.NewString()[:8]),
	}

	start := time.Now()
	observability.Resolve().OnResolveStart(ctx, req.Name, req.Version)
	s.logger.Debug("resolving", "package", req.Name, "version", req.Version, "preinstalled", len(req.Preinstalled))

	root, err := s.run(req)
	if err != nil {
		err = s.classifyContext(err)
		observability.Resolve().OnResolveComplete(ctx, req.Name, 0, time.Since(start), err)
		return nil, err
	}

	res := &Result{
		Root:     root,
		Set:      s.set,
		Fetched:  s.set.Len(),
		Duration: time.Since(start),
	}
	observability.Resolve().OnResolveComplete(ctx, req.Name, res.Fetched, res.Duration, nil)
	s.logger.Info("resolved", "package", root.String(), "nodes", res.Fetched, "duration", res.Duration.Round(time.Millisecond))
	return res, nil
}

type session struct {
	b      *Builder
	ctx    context.Context
	pre    map[string][]string
	set    Set
	logger *log.Logger
}

// edge is one declared dependency of a node in the set.
type edge struct {
	from Key
	name string
	rng  *version.Range
}

func (s *session) run(req Request) (Key, error) {
	root, err := s.selectRoot(req.Name, req.Version)
	if err != nil {
		return Key{}, err
	}

	nodes, err := s.fetch([]Key{root})
	if err != nil {
		return Key{}, err
	}
	frontier, err := s.insert(nodes)
	if err != nil {
		return Key{}, err
	}

	for len(frontier) > 0 {
		keys, err := s.schedule(frontier)
		if err != nil {
			return Key{}, err
		}
		nodes, err := s.fetch(keys)
		if err != nil {
			return Key{}, err
		}
		if frontier, err = s.insert(nodes); err != nil {
			return Key{}, err
		}
	}

	if err := assignProvenance(s.set, s.pre); err != nil {
		return Key{}, err
	}
	if err := checkCycles(s.set); err != nil {
		return Key{}, err
	}
	s.warnMultiVersion()
	return root, nil
}

// selectRoot resolves the requested version field to a concrete version.
// The root is always fetched, even if the caller has it preinstalled.
func (s *session) selectRoot(name, spec string) (Key, error) {
	if version.IsExact(spec) {
		return Key{name, spec}, nil
	}
	history, err := s.b.meta.VersionHistory(s.ctx, name)
	if err != nil {
		if stderrors.Is(err, registry.ErrNotFound) {
			return Key{}, errors.Wrap(errors.ErrCodePackageNotFound, err, "package %s not found", name)
		}
		return Key{}, storeError(s.ctx, err, "version history of %s", name)
	}
	v, err := version.SelectRoot(name, history, spec)
	if err != nil {
		return Key{}, err
	}
	return Key{name, v}, nil
}

// satisfied reports whether e is covered by a preinstalled or resolved version.
func (s *session) satisfied(e edge) bool {
	if pre := s.pre[e.name]; len(pre) > 0 && e.rng.Any(pre) {
		return true
	}
	return e.rng.Any(s.set.Versions(e.name))
}

// schedule picks the releases to fetch for one level of edges. Histories
// are fetched concurrently; selection runs in edge order so that an edge
// sees releases scheduled by the edges before it.
func (s *session) schedule(frontier []edge) ([]Key, error) {
	var pending []edge
	var names []string
	seen := make(map[string]bool)
	for _, e := range frontier {
		if s.satisfied(e) {
			continue
		}
		pending = append(pending, e)
		if !seen[e.name] {
			seen[e.name] = true
			names = append(names, e.name)
		}
	}
	if len(pending) == 0 {
		return nil, nil
	}

	histories, err := s.histories(names)
	if err != nil {
		return nil, err
	}

	var keys []Key
	scheduled := make(map[string][]string)
	for _, e := range pending {
		if s.satisfied(e) || e.rng.Any(scheduled[e.name]) {
			continue
		}
		history, ok := histories[e.name]
		if !ok {
			return nil, errors.Unsatisfiable(e.from.String(), e.name, e.rng.String())
		}
		v, ok := e.rng.MostRecent(history)
		if !ok {
			return nil, errors.Unsatisfiable(e.from.String(), e.name, e.rng.String())
		}
		scheduled[e.name] = append(scheduled[e.name], v)
		keys = append(keys, Key{e.name, v})
	}
	return keys, nil
}

// histories fetches the version history of each name. Packages that do not
// exist are absent from the returned map.
func (s *session) histories(names []string) (map[string][]string, error) {
	results := make([][]string, len(names))
	found := make([]bool, len(names))

	g, ctx := errgroup.WithContext(s.ctx)
	g.SetLimit(s.b.opts.Concurrency)
	for i, name := range names {
		g.Go(func() error {
			h, err := s.b.meta.VersionHistory(ctx, name)
			if stderrors.Is(err, registry.ErrNotFound) {
				return nil
			}
			if err != nil {
				return storeError(ctx, err, "version history of %s", name)
			}
			results[i], found[i] = h, true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string][]string, len(names))
	for i, name := range names {
		if found[i] {
			out[name] = results[i]
		}
	}
	return out, nil
}

// fetch retrieves metadata and payload for each key concurrently. The
// returned nodes are in key order.
func (s *session) fetch(keys []Key) ([]*Node, error) {
	nodes := make([]*Node, len(keys))

	g, ctx := errgroup.WithContext(s.ctx)
	g.SetLimit(s.b.opts.Concurrency)
	for i, k := range keys {
		g.Go(func() error {
			n, err := s.fetchOne(ctx, k)
			if err != nil {
				return err
			}
			nodes[i] = n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return nodes, nil
}

func (s *session) fetchOne(ctx context.Context, k Key) (n *Node, err error) {
	start := time.Now()
	defer func() {
		observability.Resolve().OnFetch(ctx, k.Name, k.Version, time.Since(start), err)
	}()

	rec, err := s.b.meta.Get(ctx, k.Name, k.Version)
	if err != nil {
		if stderrors.Is(err, registry.ErrNotFound) {
			return nil, s.missingRelease(ctx, k, err)
		}
		return nil, storeError(ctx, err, "metadata of %s", k)
	}
	payload, err := s.b.payloads.Get(ctx, k.Name, k.Version)
	if err != nil {
		if stderrors.Is(err, registry.ErrNotFound) {
			return nil, errors.Wrap(errors.ErrCodeVersionNotFound, err, "payload of %s not found", k)
		}
		return nil, storeError(ctx, err, "payload of %s", k)
	}

	s.logger.Debug("fetched", "package", k.String(), "dependencies", len(rec.Dependencies), "bytes", len(payload))
	return &Node{
		Name:                       k.Name,
		Version:                    k.Version,
		Payload:                    payload,
		Dependencies:               rec.Clone().Dependencies,
		ProvidedDependencyVersions: make(map[string]string),
	}, nil
}

// missingRelease distinguishes an unknown package from an unknown release.
func (s *session) missingRelease(ctx context.Context, k Key, cause error) error {
	if _, err := s.b.meta.VersionHistory(ctx, k.Name); stderrors.Is(err, registry.ErrNotFound) {
		return errors.Wrap(errors.ErrCodePackageNotFound, cause, "package %s not found", k.Name)
	}
	return errors.Wrap(errors.ErrCodeVersionNotFound, cause, "version %s of %s not found", k.Version, k.Name)
}

// insert adds fetched nodes to the set and returns their outgoing edges in
// node order, then dependency name order. Every range is parsed here, before
// anything is fetched for the edge.
func (s *session) insert(nodes []*Node) ([]edge, error) {
	var next []edge
	for _, n := range nodes {
		if !s.set.Add(n) {
			continue
		}
		from := n.Key()
		for _, name := range slices.Sorted(maps.Keys(n.Dependencies)) {
			rng, err := version.ParseRange(n.Dependencies[name])
			if err != nil {
				return nil, errors.Wrap(errors.ErrCodeMalformedRange, err, "%s declares %s with invalid range %q", from, name, n.Dependencies[name])
			}
			next = append(next, edge{from: from, name: name, rng: rng})
		}
	}
	return next, nil
}

func (s *session) warnMultiVersion() {
	for name, byVersion := range s.set {
		if len(byVersion) > 1 {
			s.logger.Warn("multiple versions resolved", "package", name, "versions", s.set.Versions(name))
		}
	}
}

// classifyContext maps an expired session deadline to TIMEOUT. Store
// timeouts that happen while the session is live are left to storeError.
func (s *session) classifyContext(err error) error {
	if !stderrors.Is(s.ctx.Err(), context.DeadlineExceeded) || errors.Is(err, errors.ErrCodeTimeout) {
		return err
	}
	return errors.Wrap(errors.ErrCodeTimeout, err, "resolution deadline of %s exceeded", s.b.opts.Timeout)
}

// storeError classifies a failed store call that was not a not-found. Once
// ctx has ended the error is returned as is for classifyContext.
func storeError(ctx context.Context, err error, format string, args ...any) error {
	switch {
	case ctx.Err() != nil:
		return err
	case registry.IsRetryable(err), stderrors.Is(err, registry.ErrUnavailable):
		return errors.Wrap(errors.ErrCodeStorageUnavailable, err, format, args...)
	default:
		return errors.Wrap(errors.ErrCodeInternal, err, format, args...)
	}
}
