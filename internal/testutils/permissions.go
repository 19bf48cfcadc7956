package testutils

import (
	"os"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

// MakeReadOnly removes the write permissions of path until the end of the test.
//
// The test is skipped where permission bits are not enforced: on Windows, or when running as root.
func MakeReadOnly(t *testing.T, path string) {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Skip("File permissions are not enforced on Windows")
	}
	if os.Getuid() == 0 {
		t.Skip("File permissions are not enforced for root")
	}

	info, err := os.Stat(path)
	require.NoError(t, err, "Setup: failed to stat %s", path)
	perm := info.Mode().Perm()

	require.NoError(t, os.Chmod(path, perm&^0222), "Setup: failed to make %s read-only", path)
	t.Cleanup(func() { _ = os.Chmod(path, perm) })
}
