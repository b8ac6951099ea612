package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/matzehuels/luam/pkg/install"
)

func testResult() *install.Result {
	set := make(install.Set)
	set.Add(&install.Node{
		Name: "app", Version: "1.0.0",
		Dependencies:               map[string]string{"lib": "^1.0.0", "lua": ">=5.1.0"},
		ProvidedDependencyVersions: map[string]string{"lib": "1.2.0", "lua": "5.4.6"},
	})
	set.Add(&install.Node{
		Name: "lib", Version: "1.2.0",
		Dependencies:               map[string]string{"lua": "~5.4.0"},
		ProvidedDependencyVersions: map[string]string{"lua": "5.4.6"},
	})
	return &install.Result{Root: install.Key{Name: "app", Version: "1.0.0"}, Set: set}
}

func TestFromResult(t *testing.T) {
	g := FromResult(testResult())

	if g.Root != "app@1.0.0" {
		t.Errorf("Root = %s", g.Root)
	}
	var ids []string
	for _, n := range g.Nodes {
		ids = append(ids, n.ID)
	}
	if strings.Join(ids, ",") != "app@1.0.0,lib@1.2.0,lua@5.4.6" {
		t.Errorf("nodes = %v", ids)
	}
	if !g.Nodes[0].Root || g.Nodes[1].Root {
		t.Error("root flag misplaced")
	}
	if !g.Nodes[2].Preinstalled {
		t.Error("lua should be marked preinstalled")
	}
	if len(g.Edges) != 3 {
		t.Fatalf("edges = %v", g.Edges)
	}
	if e := g.Edges[0]; e.From != "app@1.0.0" || e.To != "lib@1.2.0" || e.Range != "^1.0.0" {
		t.Errorf("first edge = %+v", e)
	}
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := FromResult(testResult()).WriteJSON(&buf); err != nil {
		t.Fatalf("WriteJSON() error: %v", err)
	}
	var back Graph
	if err := json.Unmarshal(buf.Bytes(), &back); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(back.Nodes) != 3 || back.Root != "app@1.0.0" {
		t.Errorf("decoded = %+v", back)
	}
}

func TestToDOT(t *testing.T) {
	g := FromResult(testResult())

	dot := ToDOT(g, Options{})
	for _, want := range []string{
		"digraph G {",
		`"app@1.0.0" -> "lib@1.2.0";`,
		"penwidth=2",
		"dashed",
	} {
		if !strings.Contains(dot, want) {
			t.Errorf("DOT missing %q:\n%s", want, dot)
		}
	}

	labelled := ToDOT(g, Options{RangeLabels: true})
	if !strings.Contains(labelled, `label="~5.4.0"`) {
		t.Errorf("range label missing:\n%s", labelled)
	}
}

func TestRenderSVG(t *testing.T) {
	if testing.Short() {
		t.Skip("graphviz rendering is slow")
	}
	svg, err := RenderSVG(context.Background(), ToDOT(FromResult(testResult()), Options{}))
	if err != nil {
		t.Fatalf("RenderSVG() error: %v", err)
	}
	if !bytes.Contains(svg, []byte("<svg")) {
		t.Error("output is not SVG")
	}
}
