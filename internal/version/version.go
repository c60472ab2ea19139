package version

import (
	"fmt"
	"runtime/debug"
)

// Set at build time via -ldflags "-X github.com/opentalon/metisctl/internal/version.Version=...".
// Binaries built with go install fall back to the module build info.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

const product = "metisctl"

type Info struct {
	Version string
	Commit  string
	Date    string
}

func Get() Info {
	info := Info{
		Version: Version,
		Commit:  Commit,
		Date:    Date,
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		info = info.withBuildInfo(bi)
	}
	return info
}

// withBuildInfo fills fields still at their defaults from the module
// version and VCS stamps of the running binary.
func (i Info) withBuildInfo(bi *debug.BuildInfo) Info {
	if i.Version == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		i.Version = bi.Main.Version
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if i.Commit == "none" && s.Value != "" {
				i.Commit = s.Value
				if len(i.Commit) > 7 {
					i.Commit = i.Commit[:7]
				}
			}
		case "vcs.time":
			if i.Date == "unknown" && s.Value != "" {
				i.Date = s.Value
			}
		}
	}
	return i
}

func (i Info) String() string {
	return fmt.Sprintf("%s %s (commit: %s, built: %s)", product, i.Version, i.Commit, i.Date)
}

// UserAgent is the product token sent to the gateway, e.g. "metisctl/v1.2.0".
func (i Info) UserAgent() string {
	return product + "/" + i.Version
}
