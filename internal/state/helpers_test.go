package state

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amanmem/internal/logging"
)

// newTestStore opens a file-locked store in a temp dir whose only allowed
// root is a "logs" subdirectory.
func newTestStore(t *testing.T, opts ...Option) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	logs := filepath.Join(dir, "logs")
	require.NoError(t, os.MkdirAll(logs, 0o755))

	base := []Option{
		WithAllowedRoots(logs),
		WithLockTimeout(2 * time.Second),
		WithLogger(logging.Discard()),
	}
	s, err := Open(context.Background(), filepath.Join(dir, "data", "state.json"), append(base, opts...)...)
	require.NoError(t, err)
	return s, logs
}

func touch(t *testing.T, path string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("{}\n"), 0o644))
	return path
}
