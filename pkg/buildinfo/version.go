// Package buildinfo carries version information stamped in at link time:
//
//	go build -ldflags "-X github.com/matzehuels/luam/pkg/buildinfo.Version=v0.3.0 \
//	    -X github.com/matzehuels/luam/pkg/buildinfo.Commit=$(git rev-parse --short HEAD) \
//	    -X github.com/matzehuels/luam/pkg/buildinfo.Date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
package buildinfo

import (
	"fmt"
	"runtime/debug"
)

var (
	Version = "dev"     // semantic version, e.g. "v0.3.0"
	Commit  = "none"    // git commit SHA
	Date    = "unknown" // build timestamp
)

func init() {
	if Version != "dev" {
		return
	}
	// go install builds carry the module version even without ldflags.
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		Version = info.Main.Version
	}
}

// Template returns the --version template for cobra.
func Template() string {
	return fmt.Sprintf("{{.Name}} %s\ncommit: %s\nbuilt: %s\n", Version, Commit, Date)
}

// Fields returns the build information as logger key-value pairs.
func Fields() []any {
	return []any{"version", Version, "commit", Commit, "built", Date}
}
