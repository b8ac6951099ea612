package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/luam/pkg/install"
	"github.com/matzehuels/luam/pkg/registry"
	"github.com/matzehuels/luam/pkg/registry/file"
)

// seedRegistry writes a small directory registry and returns its path.
func seedRegistry(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	s, err := file.New(dir)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	for _, rec := range []*registry.Record{
		{Name: "app", Version: "1.0.0", Dependencies: map[string]string{"lib": "^1.0.0", "lua": ">=5.1.0"}},
		{Name: "lib", Version: "1.0.0"},
		{Name: "lib", Version: "1.3.0", Dependencies: map[string]string{"lua": "~5.4.0"}},
		{Name: "lua", Version: "5.4.6"},
	} {
		if err := s.Publish(ctx, rec, []byte(rec.Name+"-"+rec.Version)); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

// run executes the CLI with a config pointing at storeDir and returns
// stdout of the command.
func run(t *testing.T, storeDir string, args ...string) (string, error) {
	t.Helper()
	cfgPath := filepath.Join(t.TempDir(), "config.toml")
	body := "[store]\nkind = \"file\"\ndir = " + strconvQuote(storeDir) + "\n"
	if err := os.WriteFile(cfgPath, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}

	prev := stdout
	stdout = io.Discard
	t.Cleanup(func() { stdout = prev })

	c := New(io.Discard, log.InfoLevel)
	root := c.RootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(append([]string{"--config", cfgPath}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func strconvQuote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func TestResolveJSON(t *testing.T) {
	dir := seedRegistry(t)

	out, err := run(t, dir, "resolve", "app", "--json", "--preinstalled", "lua=5.1.0,5.4.6")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	var set map[string]map[string]install.Node
	if err := json.Unmarshal([]byte(out), &set); err != nil {
		t.Fatalf("invalid JSON %q: %v", out, err)
	}
	if _, ok := set["lua"]; ok {
		t.Error("preinstalled lua was returned")
	}
	lib, ok := set["lib"]["1.3.0"]
	if !ok {
		t.Fatalf("set = %v", set)
	}
	if lib.ProvidedDependencyVersions["lua"] != "5.4.6" {
		t.Errorf("lib provenance = %v", lib.ProvidedDependencyVersions)
	}
	if set["app"]["1.0.0"].ProvidedDependencyVersions["lua"] != "5.1.0" {
		t.Errorf("app provenance = %v", set["app"]["1.0.0"].ProvidedDependencyVersions)
	}
}

func TestResolveRange(t *testing.T) {
	dir := seedRegistry(t)

	out, err := run(t, dir, "resolve", "lib@~1.0.0", "--json")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !strings.Contains(out, `"1.0.0"`) || strings.Contains(out, `"1.3.0"`) {
		t.Errorf("output = %s", out)
	}
}

func TestResolveWritesDOT(t *testing.T) {
	dir := seedRegistry(t)
	dot := filepath.Join(t.TempDir(), "deps.dot")

	if _, err := run(t, dir, "resolve", "app", "--dot", dot); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	data, err := os.ReadFile(dot)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"app@1.0.0" -> "lib@1.3.0"`) {
		t.Errorf("DOT = %s", data)
	}
}

func TestResolveErrors(t *testing.T) {
	dir := seedRegistry(t)

	if _, err := run(t, dir, "resolve", "missing"); err == nil || !strings.Contains(err.Error(), "PACKAGE_NOT_FOUND") {
		t.Errorf("missing package error = %v", err)
	}
	if _, err := run(t, dir, "resolve", "app", "--preinstalled", "novalue"); err == nil {
		t.Error("malformed --preinstalled accepted")
	}
}

func TestPublish(t *testing.T) {
	src := seedRegistry(t)
	dst := t.TempDir()

	if _, err := run(t, dst, "publish", src); err != nil {
		t.Fatalf("publish: %v", err)
	}
	s, _ := file.New(dst)
	history, err := s.VersionHistory(context.Background(), "lib")
	if err != nil || strings.Join(history, ",") != "1.0.0,1.3.0" {
		t.Errorf("published history = %v, %v", history, err)
	}

	// Re-running skips everything.
	if _, err := run(t, dst, "publish", src); err != nil {
		t.Fatalf("second publish: %v", err)
	}

	if _, err := run(t, src, "publish", src); err == nil {
		t.Error("publishing a store into itself should fail")
	}
}

func TestPublishDryRun(t *testing.T) {
	src := seedRegistry(t)
	dst := t.TempDir()

	if _, err := run(t, dst, "publish", "--dry-run", src); err != nil {
		t.Fatalf("publish: %v", err)
	}
	s, _ := file.New(dst)
	if names, _ := s.Packages(); len(names) != 0 {
		t.Errorf("dry run published %v", names)
	}
}

func TestConfigCommand(t *testing.T) {
	dir := t.TempDir()
	out, err := run(t, dir, "config")
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	if !strings.Contains(out, `kind = "file"`) || !strings.Contains(out, "[resolver]") {
		t.Errorf("config output:\n%s", out)
	}
}

func TestParseTarget(t *testing.T) {
	tests := []struct {
		arg, name, spec string
	}{
		{"lpeg", "lpeg", ""},
		{"lpeg@1.0.0", "lpeg", "1.0.0"},
		{"lpeg@^1.0", "lpeg", "^1.0"},
		{"@scope/pkg", "@scope/pkg", ""},
		{"@scope/pkg@2.x", "@scope/pkg", "2.x"},
	}
	for _, tt := range tests {
		name, spec := parseTarget(tt.arg)
		if name != tt.name || spec != tt.spec {
			t.Errorf("parseTarget(%q) = %q, %q", tt.arg, name, spec)
		}
	}
}

func TestVersionFlag(t *testing.T) {
	c := New(io.Discard, log.InfoLevel)
	root := c.RootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"--version"})
	if err := root.Execute(); err != nil {
		t.Fatalf("--version: %v", err)
	}
	if !strings.HasPrefix(out.String(), "luam ") {
		t.Errorf("--version output = %q", out.String())
	}
}
