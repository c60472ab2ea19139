package version

import (
	"runtime/debug"
	"strings"
	"testing"
)

func TestGetPrefersLinkerValues(t *testing.T) {
	oldVersion, oldCommit, oldDate := Version, Commit, Date
	t.Cleanup(func() { Version, Commit, Date = oldVersion, oldCommit, oldDate })

	Version, Commit, Date = "v0.9.0", "abc1234", "2026-02-02T00:00:00Z"
	want := Info{Version: "v0.9.0", Commit: "abc1234", Date: "2026-02-02T00:00:00Z"}
	if got := Get(); got != want {
		t.Errorf("Get() = %+v, want %+v", got, want)
	}
}

func TestInfoString(t *testing.T) {
	tests := []struct {
		name string
		info Info
		want string
	}{
		{
			name: "defaults",
			info: Info{Version: "dev", Commit: "none", Date: "unknown"},
			want: "metisctl dev (commit: none, built: unknown)",
		},
		{
			name: "release",
			info: Info{Version: "v1.0.0", Commit: "abc1234", Date: "2026-01-01T00:00:00Z"},
			want: "metisctl v1.0.0 (commit: abc1234, built: 2026-01-01T00:00:00Z)",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.info.String()
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestUserAgent(t *testing.T) {
	info := Info{Version: "v0.3.1"}
	if got := info.UserAgent(); got != "metisctl/v0.3.1" {
		t.Errorf("UserAgent() = %q, want metisctl/v0.3.1", got)
	}
	if !strings.HasPrefix(Get().UserAgent(), "metisctl/") {
		t.Errorf("default UserAgent() = %q", Get().UserAgent())
	}
}

func TestWithBuildInfo(t *testing.T) {
	bi := &debug.BuildInfo{
		Main: debug.Module{Path: "github.com/opentalon/metisctl", Version: "v1.4.0"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "0123456789abcdef"},
			{Key: "vcs.time", Value: "2026-03-01T10:00:00Z"},
		},
	}
	got := Info{Version: "dev", Commit: "none", Date: "unknown"}.withBuildInfo(bi)
	want := Info{Version: "v1.4.0", Commit: "0123456", Date: "2026-03-01T10:00:00Z"}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}

	stamped := Info{Version: "v2.0.0", Commit: "feedbee", Date: "2026-01-01"}
	if got := stamped.withBuildInfo(bi); got != stamped {
		t.Errorf("ldflags values must win, got %+v", got)
	}

	devel := &debug.BuildInfo{Main: debug.Module{Version: "(devel)"}}
	if got := (Info{Version: "dev"}).withBuildInfo(devel); got.Version != "dev" {
		t.Errorf("devel build version = %q", got.Version)
	}
}
