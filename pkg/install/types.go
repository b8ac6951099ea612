package install

import (
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/luam/pkg/registry"
	"github.com/matzehuels/luam/pkg/version"
)

const (
	DefaultTimeout     = 30 * time.Second // Default session deadline
	DefaultConcurrency = 8                // Default parallel store calls per level
)

// Options configures a resolution session.
type Options struct {
	Timeout     time.Duration        // Overall session deadline (default: 30s)
	Concurrency int                  // Maximum concurrent store calls (default: 8)
	Retry       registry.RetryPolicy // Backoff for transient store failures
	Logger      *log.Logger          // Progress logger (default: log.Default())
}

// WithDefaults returns a copy of Options with zero values replaced by defaults.
func (o Options) WithDefaults() Options {
	opts := o
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	opts.Retry = opts.Retry.WithDefaults()
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return opts
}

// Request asks for the dependency closure of one package.
type Request struct {
	Name         string              // Root package name
	Version      string              // Exact version, range, or empty for the newest release
	Preinstalled map[string][]string // Versions the caller already has, per package
}

// Key identifies one release.
type Key struct {
	Name    string
	Version string
}

// String formats the key as name@version.
func (k Key) String() string { return k.Name + "@" + k.Version }

// Node is one fetched release in a resolution set.
type Node struct {
	Name    string `json:"-"`
	Version string `json:"-"`

	Payload      []byte            `json:"payload"`
	Dependencies map[string]string `json:"dependencies"`

	// ProvidedDependencyVersions records, for each declared dependency, the
	// concrete version that satisfies it: preinstalled or resolved.
	ProvidedDependencyVersions map[string]string `json:"providedDependencyVersions"`
}

// Key returns the node's identity.
func (n *Node) Key() Key { return Key{n.Name, n.Version} }

// Set maps package name to version to node. One name may hold several
// versions when dependents require ranges no single release satisfies.
type Set map[string]map[string]*Node

// Add inserts n unless a node with the same key exists. It reports whether
// n was inserted.
func (s Set) Add(n *Node) bool {
	byVersion, ok := s[n.Name]
	if !ok {
		byVersion = make(map[string]*Node)
		s[n.Name] = byVersion
	}
	if _, dup := byVersion[n.Version]; dup {
		return false
	}
	byVersion[n.Version] = n
	return true
}

// Node looks up name@version.
func (s Set) Node(name, v string) (*Node, bool) {
	n, ok := s[name][v]
	return n, ok
}

// Versions returns the resolved versions of name in ascending precedence.
func (s Set) Versions(name string) []string {
	vs := slices.Collect(maps.Keys(s[name]))
	version.Sort(vs)
	return vs
}

// Len returns the number of nodes.
func (s Set) Len() int {
	n := 0
	for _, byVersion := range s {
		n += len(byVersion)
	}
	return n
}

// Nodes returns every node ordered by name, then version precedence.
func (s Set) Nodes() []*Node {
	out := make([]*Node, 0, s.Len())
	for _, name := range slices.Sorted(maps.Keys(s)) {
		for _, v := range s.Versions(name) {
			out = append(out, s[name][v])
		}
	}
	return out
}

// Result is the outcome of a successful session.
type Result struct {
	Root     Key
	Set      Set
	Fetched  int
	Duration time.Duration
}

// ParsePreinstalled parses "name=v1,v2" pairs as accepted on the command
// line into a preinstalled map.
func ParsePreinstalled(pairs []string) (map[string][]string, bool) {
	out := make(map[string][]string, len(pairs))
	for _, p := range pairs {
		name, list, ok := strings.Cut(p, "=")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, false
		}
		for v := range strings.SplitSeq(list, ",") {
			if v = strings.TrimSpace(v); v != "" {
				out[strings.TrimSpace(name)] = append(out[strings.TrimSpace(name)], v)
			}
		}
	}
	return out, true
}
