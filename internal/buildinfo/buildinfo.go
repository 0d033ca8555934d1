// Package buildinfo reports which fleetroute build is serving. Stamps set
// with -ldflags -X win; otherwise the module's embedded VCS settings fill in.
package buildinfo

import (
	"runtime"
	"runtime/debug"
)

var (
	Version = "dev"
	Commit  = ""
	BuiltAt = ""
)

// Build describes the running binary, served under "build" by /debug/vars.
type Build struct {
	Service   string `json:"service"`
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	BuiltAt   string `json:"built_at,omitempty"`
	Modified  bool   `json:"modified,omitempty"`
	GoVersion string `json:"go"`
}

var readBuildInfo = debug.ReadBuildInfo

func Current() Build {
	b := Build{Service: "fleetroute", Version: Version, Commit: Commit, BuiltAt: BuiltAt, GoVersion: runtime.Version()}
	bi, ok := readBuildInfo()
	if !ok {
		return b
	}
	if b.Version == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		b.Version = bi.Main.Version
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if b.Commit == "" {
				b.Commit = s.Value
			}
		case "vcs.time":
			if b.BuiltAt == "" {
				b.BuiltAt = s.Value
			}
		case "vcs.modified":
			b.Modified = s.Value == "true"
		}
	}
	return b
}
