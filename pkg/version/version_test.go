package version

import (
	"encoding/json"
	"runtime"
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve_FillsUnsetFieldsFromBuildInfo(t *testing.T) {
	// Given: a go install build with VCS stamping
	bi := &debug.BuildInfo{
		Main: debug.Module{Version: "v0.4.1"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "0123456789abcdef0123"},
			{Key: "vcs.time", Value: "2026-03-01T10:00:00Z"},
			{Key: "vcs.modified", Value: "true"},
		},
	}

	// When: resolving without ldflags
	info := resolve(bi)

	// Then: the module version and revision are used
	assert.Equal(t, "v0.4.1", info.Version)
	assert.Equal(t, "0123456789ab", info.Commit)
	assert.Equal(t, "2026-03-01T10:00:00Z", info.Date)
	assert.True(t, info.Modified)
	assert.Equal(t, runtime.Version(), info.GoVersion)
}

func TestResolve_LdflagsWin(t *testing.T) {
	// Given: values injected at link time
	oldV, oldC, oldD := Version, Commit, Date
	Version, Commit, Date = "1.2.3", "abc1234", "2026-01-01"
	t.Cleanup(func() { Version, Commit, Date = oldV, oldC, oldD })

	// When: build info disagrees
	info := resolve(&debug.BuildInfo{
		Main:     debug.Module{Version: "v9.9.9"},
		Settings: []debug.BuildSetting{{Key: "vcs.revision", Value: "ffffffff"}},
	})

	// Then: the injected values are kept
	assert.Equal(t, "1.2.3", info.Version)
	assert.Equal(t, "abc1234", info.Commit)
	assert.Equal(t, "2026-01-01", info.Date)
}

func TestResolve_DevelBuild(t *testing.T) {
	info := resolve(&debug.BuildInfo{Main: debug.Module{Version: "(devel)"}})
	assert.Equal(t, Version, info.Version)

	info = resolve(nil)
	assert.Equal(t, runtime.GOOS, info.OS)
	assert.Equal(t, runtime.GOARCH, info.Arch)
}

func TestString_ReturnsFormattedString(t *testing.T) {
	info := GetInfo()
	str := String()

	assert.Contains(t, str, "amanmem "+info.Version)
	assert.Contains(t, str, "commit: "+info.Commit)
	assert.Contains(t, str, "go: "+runtime.Version())
}

func TestShort_ReturnsVersion(t *testing.T) {
	assert.Equal(t, GetInfo().Version, Short())
}

func TestGetInfo_IsJSONSerializable(t *testing.T) {
	// Given: the build info
	info := GetInfo()

	// When: serializing it
	data, err := json.Marshal(info)
	require.NoError(t, err)

	// Then: fields use snake_case keys
	var parsed map[string]any
	require.NoError(t, json.Unmarshal(data, &parsed))
	assert.Equal(t, info.Version, parsed["version"])
	assert.Equal(t, info.Commit, parsed["commit"])
	assert.Equal(t, runtime.Version(), parsed["go_version"])
}
