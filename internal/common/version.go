// Package common holds configuration, logging and build metadata shared by
// the realperf binaries.
package common

import (
	"fmt"
	"runtime/debug"
)

// Set at build time with -ldflags "-X github.com/bobmcallan/realperf/internal/common.Version=...".
var (
	Version   = "dev"
	Build     = "unknown"
	GitCommit = "unknown"
)

// BuildInfo describes the running binary.
type BuildInfo struct {
	Version   string `json:"version"`
	Build     string `json:"build"`
	Commit    string `json:"commit"`
	GoVersion string `json:"go_version,omitempty"`
}

func (b BuildInfo) String() string {
	return fmt.Sprintf("%s (build: %s, commit: %s)", b.Version, b.Build, b.Commit)
}

// CurrentBuild returns the binary's build metadata. Values not injected
// through ldflags fall back to the module version and VCS stamp the
// toolchain embeds.
func CurrentBuild() BuildInfo {
	info := BuildInfo{Version: Version, Build: Build, Commit: GitCommit}
	if bi, ok := debug.ReadBuildInfo(); ok {
		info = info.withEmbedded(bi)
	}
	return info
}

func (b BuildInfo) withEmbedded(bi *debug.BuildInfo) BuildInfo {
	b.GoVersion = bi.GoVersion
	if b.Version == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		b.Version = bi.Main.Version
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if b.Commit == "unknown" && len(s.Value) >= 7 {
				b.Commit = s.Value[:7]
			}
		case "vcs.time":
			if b.Build == "unknown" {
				b.Build = s.Value
			}
		}
	}
	return b
}
