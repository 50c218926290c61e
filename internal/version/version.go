// Package version exposes the build metadata of the randouyin binary.
//
// The variables are overridden at link time:
//
//	go build -ldflags "-X github.com/jmylchreest/randouyin/internal/version.Version=0.3.0 ..."
package version

import (
	"fmt"
	"runtime"
	"strings"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	Dirty     = "false"
	BuildDate = "unknown"
)

// Info is the structured form served by the web layer.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Dirty     bool   `json:"dirty"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// Get returns the build metadata.
func Get() Info {
	return Info{
		Version:   Version,
		Commit:    Commit,
		Dirty:     Dirty == "true",
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// String returns the version, suffixed with -dirty for modified trees.
func String() string {
	if Dirty == "true" {
		return Version + "-dirty"
	}
	return Version
}

// Full returns the multi-line form printed by `randouyin version`.
func Full() string {
	i := Get()
	var sb strings.Builder
	fmt.Fprintf(&sb, "randouyin %s\n", String())
	fmt.Fprintf(&sb, "  commit:  %s\n", i.Commit)
	fmt.Fprintf(&sb, "  built:   %s\n", i.BuildDate)
	fmt.Fprintf(&sb, "  go:      %s (%s)", i.GoVersion, i.Platform)
	return sb.String()
}
