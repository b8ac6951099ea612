// Package graph exports a resolution set as a node-link graph.
//
// Every release in the set becomes a node identified by name@version, and
// every provenance entry becomes an edge labelled with the declared range.
// Dependencies satisfied by the caller's preinstalled versions are kept as
// nodes flagged Preinstalled so the exported graph is closed.
//
// The graph can be written as JSON ([WriteJSON]), as Graphviz DOT ([ToDOT])
// or rendered to SVG ([RenderSVG]).
package graph

import (
	"cmp"
	"encoding/json"
	"io"
	"maps"
	"slices"

	"github.com/matzehuels/luam/pkg/install"
)

// Node is one release.
type Node struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Version      string `json:"version"`
	Root         bool   `json:"root,omitempty"`
	Preinstalled bool   `json:"preinstalled,omitempty"`
}

// Edge is one resolved dependency.
type Edge struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Range string `json:"range"`
}

// Graph is the node-link form of a resolution.
type Graph struct {
	Root  string `json:"root"`
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// FromResult builds the graph of res. Nodes are ordered by name then version
// precedence, with preinstalled nodes after the set's; edges follow their
// source node, then dependency name.
func FromResult(res *install.Result) *Graph {
	g := &Graph{Root: res.Root.String()}
	extra := make(map[install.Key]bool)

	for _, n := range res.Set.Nodes() {
		k := n.Key()
		g.Nodes = append(g.Nodes, Node{ID: k.String(), Name: k.Name, Version: k.Version, Root: k == res.Root})
		for _, dep := range slices.Sorted(maps.Keys(n.ProvidedDependencyVersions)) {
			to := install.Key{Name: dep, Version: n.ProvidedDependencyVersions[dep]}
			if _, ok := res.Set.Node(to.Name, to.Version); !ok {
				extra[to] = true
			}
			g.Edges = append(g.Edges, Edge{From: k.String(), To: to.String(), Range: n.Dependencies[dep]})
		}
	}

	keys := slices.SortedFunc(maps.Keys(extra), func(a, b install.Key) int {
		if c := cmp.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return cmp.Compare(a.Version, b.Version)
	})
	for _, k := range keys {
		g.Nodes = append(g.Nodes, Node{ID: k.String(), Name: k.Name, Version: k.Version, Preinstalled: true})
	}
	return g
}

// WriteJSON writes g as indented JSON.
func (g *Graph) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(g)
}
