package install

import (
	"maps"
	"slices"

	"github.com/matzehuels/luam/pkg/errors"
	"github.com/matzehuels/luam/pkg/version"
)

// assignProvenance fills ProvidedDependencyVersions for every node of a
// completed set. A preinstalled version wins over a resolved one; among
// preinstalled versions the caller's order decides, among resolved ones the
// highest precedence does.
func assignProvenance(set Set, pre map[string][]string) error {
	for _, n := range set.Nodes() {
		provided := make(map[string]string, len(n.Dependencies))
		for _, name := range slices.Sorted(maps.Keys(n.Dependencies)) {
			raw := n.Dependencies[name]
			rng, err := version.ParseRange(raw)
			if err != nil {
				return err
			}
			if v, ok := rng.First(pre[name]); ok {
				provided[name] = v
				continue
			}
			resolved := set.Versions(name)
			slices.Reverse(resolved)
			v, ok := rng.First(resolved)
			if !ok {
				return errors.Unsatisfiable(n.Key().String(), name, raw)
			}
			provided[name] = v
		}
		n.ProvidedDependencyVersions = provided
	}
	return nil
}

// dependsOn returns the keys of the set nodes that n's provenance points at,
// in dependency name order. Edges satisfied by preinstalled versions are
// excluded unless the same version is also in the set.
func dependsOn(set Set, n *Node) []Key {
	var out []Key
	for _, name := range slices.Sorted(maps.Keys(n.ProvidedDependencyVersions)) {
		v := n.ProvidedDependencyVersions[name]
		if _, ok := set.Node(name, v); ok {
			out = append(out, Key{name, v})
		}
	}
	return out
}

// dfsFrame is one entry of the explicit cycle-search stack.
type dfsFrame struct {
	key  Key
	next []Key // children not yet visited
}

// checkCycles reports the first cycle in the provenance graph using a
// white/gray/black depth-first search. The walk keeps its own stack so deep
// chains cannot exhaust the goroutine stack.
func checkCycles(set Set) error {
	const (
		white = iota
		gray
		black
	)

	color := make(map[Key]int, set.Len())
	for _, root := range set.Nodes() {
		if color[root.Key()] != white {
			continue
		}
		color[root.Key()] = gray
		stack := []dfsFrame{{key: root.Key(), next: dependsOn(set, root)}}

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			if len(top.next) == 0 {
				color[top.key] = black
				stack = stack[:len(stack)-1]
				continue
			}
			k := top.next[0]
			top.next = top.next[1:]

			switch color[k] {
			case gray:
				return errors.Cyclic(cyclePath(stack, k))
			case white:
				color[k] = gray
				n, _ := set.Node(k.Name, k.Version)
				stack = append(stack, dfsFrame{key: k, next: dependsOn(set, n)})
			}
		}
	}
	return nil
}

// cyclePath renders the stack suffix starting at k, closed by k again.
func cyclePath(stack []dfsFrame, k Key) []string {
	var path []string
	for i := len(stack) - 1; i >= 0; i-- {
		path = append(path, stack[i].key.String())
		if stack[i].key == k {
			break
		}
	}
	slices.Reverse(path)
	return append(path, k.String())
}
