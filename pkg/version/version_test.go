package version

import (
	"encoding/json"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withBuildInfo(t *testing.T, version, commit, buildTime string) {
	t.Helper()
	oldVersion, oldCommit, oldBuildTime := Version, GitCommit, BuildTime
	Version, GitCommit, BuildTime = version, commit, buildTime
	t.Cleanup(func() {
		Version, GitCommit, BuildTime = oldVersion, oldCommit, oldBuildTime
	})
}

func TestGet_Defaults(t *testing.T) {
	info := Get()
	assert.Equal(t, Version, info.Version)
	assert.Equal(t, runtime.Version(), info.GoVersion)
}

func TestGet_LinkerOverrides(t *testing.T) {
	withBuildInfo(t, "0.4.2", "9f1c2d3", "2026-10-18T09:00:00Z")

	info := Get()
	assert.Equal(t, "0.4.2", info.Version)
	assert.Equal(t, "9f1c2d3", info.GitCommit)
	assert.Equal(t, "2026-10-18T09:00:00Z", info.BuildTime)
	assert.Equal(t,
		"Version: 0.4.2, GitCommit: 9f1c2d3, BuildTime: 2026-10-18T09:00:00Z, GoVersion: "+runtime.Version(),
		info.String())
}

func TestInfo_JSON(t *testing.T) {
	info := Info{Version: "0.4.2", GitCommit: "9f1c2d3", BuildTime: "2026-10-18T09:00:00Z", GoVersion: "go1.25.1"}

	out, err := info.JSON()
	require.NoError(t, err)
	assert.Equal(t, `{
  "version": "0.4.2",
  "gitCommit": "9f1c2d3",
  "buildTime": "2026-10-18T09:00:00Z",
  "goVersion": "go1.25.1"
}`, out)

	var decoded Info
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, info, decoded)
}
