package buildinfo

import (
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/assert"
)

func stubBuildInfo(t *testing.T, bi *debug.BuildInfo) {
	t.Helper()
	prev := readBuildInfo
	readBuildInfo = func() (*debug.BuildInfo, bool) { return bi, bi != nil }
	t.Cleanup(func() { readBuildInfo = prev })
}

func TestCurrentFallsBackToVCSSettings(t *testing.T) {
	stubBuildInfo(t, &debug.BuildInfo{
		Main: debug.Module{Path: "fleetroute", Version: "v1.4.0"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "abc123"},
			{Key: "vcs.time", Value: "2026-02-01T10:00:00Z"},
			{Key: "vcs.modified", Value: "true"},
		},
	})

	b := Current()
	assert.Equal(t, "fleetroute", b.Service)
	assert.Equal(t, "v1.4.0", b.Version)
	assert.Equal(t, "abc123", b.Commit)
	assert.Equal(t, "2026-02-01T10:00:00Z", b.BuiltAt)
	assert.True(t, b.Modified)
	assert.NotEmpty(t, b.GoVersion)
}

func TestCurrentPrefersLinkerStamps(t *testing.T) {
	Version, Commit = "v2.0.0", "deadbeef"
	t.Cleanup(func() { Version, Commit = "dev", "" })
	stubBuildInfo(t, &debug.BuildInfo{
		Main:     debug.Module{Version: "(devel)"},
		Settings: []debug.BuildSetting{{Key: "vcs.revision", Value: "abc123"}},
	})

	b := Current()
	assert.Equal(t, "v2.0.0", b.Version)
	assert.Equal(t, "deadbeef", b.Commit)
	assert.False(t, b.Modified)
}

func TestCurrentWithoutBuildInfo(t *testing.T) {
	stubBuildInfo(t, nil)
	b := Current()
	assert.Equal(t, "dev", b.Version)
	assert.Empty(t, b.Commit)
}
