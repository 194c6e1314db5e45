package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amanmem/internal/config"
	"github.com/Aman-CERP/amanmem/internal/profiling"
	"github.com/Aman-CERP/amanmem/internal/search"
	"github.com/Aman-CERP/amanmem/internal/state"
	"github.com/Aman-CERP/amanmem/internal/vector"
)

// testEnv is an isolated config, data directory and transcript root.
type testEnv struct {
	root   string
	config string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "xdg"))

	root := filepath.Join(dir, "transcripts")
	require.NoError(t, os.MkdirAll(root, 0o755))

	cfg := config.NewConfig()
	cfg.Paths.Sources = []string{root}
	cfg.Paths.DataDir = filepath.Join(dir, "data")
	cfg.State.Locker = "memory"
	cfg.Telemetry.Enabled = false
	path := filepath.Join(dir, "amanmem.yaml")
	require.NoError(t, cfg.WriteYAML(path))

	t.Cleanup(func() {
		configPath = ""
		debugMode = false
		loaded = nil
		profiles = profiling.Paths{}
	})
	return &testEnv{root: root, config: path}
}

func (e *testEnv) transcript(t *testing.T, project, name string, texts ...string) string {
	t.Helper()
	path := filepath.Join(e.root, project, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))

	var b strings.Builder
	base := time.Now().Add(-time.Hour).UTC()
	for i, text := range texts {
		fmt.Fprintf(&b, `{"type":"user","timestamp":%q,"message":{"role":"user","content":%q}}`+"\n",
			base.Add(time.Duration(i)*time.Minute).Format(time.RFC3339), text)
	}
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
	return path
}

func (e *testEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", e.config}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestImportThenSearch(t *testing.T) {
	// Given: one transcript in project alpha
	env := newTestEnv(t)
	env.transcript(t, "alpha", "session.jsonl", "how do we rotate the lease file")

	// When: importing and then searching for its text
	out, err := env.run(t, "import")
	require.NoError(t, err)
	assert.Contains(t, out, "Imported 1 files")

	out, err = env.run(t, "search", "--json", "how do we rotate the lease file")
	require.NoError(t, err)

	// Then: the chunk comes back from the project's collection
	var resp search.Response
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "alpha", resp.Results[0].Project)
	assert.Contains(t, resp.Results[0].Snippet, "rotate the lease file")
	assert.Equal(t, config.ModeLocal, resp.Mode)
}

func TestImportAndSearch_WhileVectorStoreHeldOpen(t *testing.T) {
	// Given: another process, such as a running watch, holds the vector store
	env := newTestEnv(t)
	env.transcript(t, "alpha", "session.jsonl", "sharing the vector store between processes")
	held, err := vector.OpenLocal(filepath.Join(filepath.Dir(env.config), "data", "vectors"))
	require.NoError(t, err)
	defer func() { _ = held.Close() }()

	// When: import and search run alongside it
	_, err = env.run(t, "import")
	require.NoError(t, err)
	out, err := env.run(t, "search", "--json", "sharing the vector store")
	require.NoError(t, err)

	// Then: both succeed and the holder sees the imported collection
	var resp search.Response
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.NotEmpty(t, resp.Results)

	infos, err := held.Collections(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, infos)
	assert.Positive(t, infos[0].Points)
}

func TestImport_SecondRunSkipsUnchangedFiles(t *testing.T) {
	env := newTestEnv(t)
	env.transcript(t, "alpha", "session.jsonl", "hello")

	_, err := env.run(t, "import", "--json")
	require.NoError(t, err)
	out, err := env.run(t, "import", "--json")
	require.NoError(t, err)

	var report struct {
		Files int `json:"files"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Zero(t, report.Files)
}

func TestStatus_JSON(t *testing.T) {
	// Given: an imported transcript
	env := newTestEnv(t)
	env.transcript(t, "alpha", "session.jsonl", "hello")
	_, err := env.run(t, "import")
	require.NoError(t, err)

	// When: asking for status as JSON
	out, err := env.run(t, "status", "--json")
	require.NoError(t, err)

	// Then: the summary reports the completed file
	var st search.Status
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, 1, st.Summary.TotalFiles)
	assert.Equal(t, 1, st.Summary.Completed)
	assert.Equal(t, state.PhaseComplete, st.Summary.Phase)
}

func TestNoteThenSearch(t *testing.T) {
	env := newTestEnv(t)

	out, err := env.run(t, "note", "--project", "alpha", "--tag", "decision", "badger", "holds", "the", "points")
	require.NoError(t, err)
	assert.Contains(t, out, "Stored note")

	out, err = env.run(t, "search", "--json", "--project", "alpha", "badger holds the points")
	require.NoError(t, err)

	var resp search.Response
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Results, 1)
	assert.Equal(t, []string{"decision"}, resp.Results[0].Tags)
}

func TestSearch_RejectsBadDetail(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.run(t, "search", "--detail", "verbose", "anything")

	assert.Error(t, err)
}

func TestCleanup_RejectsNothingWhenFresh(t *testing.T) {
	// Given: a freshly imported transcript
	env := newTestEnv(t)
	env.transcript(t, "alpha", "session.jsonl", "hello")
	_, err := env.run(t, "import")
	require.NoError(t, err)

	// When: cleaning up records older than a day
	out, err := env.run(t, "cleanup", "--older-than-days", "1")

	// Then: nothing is removed
	require.NoError(t, err)
	assert.Contains(t, out, "Removed 0 records")
}

func TestVersionCmd_Short(t *testing.T) {
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version", "--short"})

	require.NoError(t, cmd.Execute())
	assert.NotEmpty(t, strings.TrimSpace(out.String()))
}

func TestProfileFlags_WriteHeapProfile(t *testing.T) {
	// Given: an environment and a heap profile path
	env := newTestEnv(t)
	heap := filepath.Join(t.TempDir(), "heap.prof")

	// When: running a command with --profile-mem
	_, err := env.run(t, "status", "--profile-mem", heap)
	require.NoError(t, err)

	// Then: the profile was written after the command finished
	info, err := os.Stat(heap)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestDoctor_JSON(t *testing.T) {
	env := newTestEnv(t)

	out, err := env.run(t, "doctor", "--json")

	require.NoError(t, err)
	var results []struct {
		Name   string `json:"name"`
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.NotEmpty(t, results)
	assert.Equal(t, "config", results[0].Name)
	assert.Equal(t, "pass", results[0].Status)
}

func TestConfigInit_WritesUserConfigOnce(t *testing.T) {
	// Given: an isolated XDG config home
	env := newTestEnv(t)

	// When: running config init twice
	out, err := env.run(t, "config", "init")
	require.NoError(t, err)
	assert.Contains(t, out, "Created user configuration")
	out, err = env.run(t, "config", "init")

	// Then: the file exists and the second run leaves it alone
	require.NoError(t, err)
	assert.Contains(t, out, "already exists")
	assert.FileExists(t, config.GetUserConfigPath())
}

func TestConfigShow_JSON(t *testing.T) {
	env := newTestEnv(t)

	out, err := env.run(t, "config", "show", "--json")

	require.NoError(t, err)
	var cfg config.Config
	require.NoError(t, json.Unmarshal([]byte(out), &cfg))
	assert.Equal(t, "memory", cfg.State.Locker)
}
