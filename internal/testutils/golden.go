package testutils

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// UpdateGoldenEnv is the environment variable which, when set to a non-empty value, rewrites golden files.
const UpdateGoldenEnv = "TESTS_UPDATE_GOLDEN"

// GoldenPath returns the golden file path of the current test, under testdata/golden.
func GoldenPath(t *testing.T) string {
	t.Helper()

	name := strings.ReplaceAll(t.Name(), " ", "_")
	return filepath.Join("testdata", "golden", filepath.FromSlash(name))
}

// LoadWithUpdateFromGoldenYAML returns the content of the golden file of the current test, decoded as T.
// When UpdateGoldenEnv is set, got is first written as the new golden content.
func LoadWithUpdateFromGoldenYAML[T any](t *testing.T, got T) T {
	t.Helper()

	path := GoldenPath(t)
	if os.Getenv(UpdateGoldenEnv) != "" {
		data, err := yaml.Marshal(got)
		require.NoError(t, err, "Cannot marshal golden content")
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0750), "Cannot create golden directory")
		require.NoError(t, os.WriteFile(path, data, 0600), "Cannot write golden file")
	}

	data, err := os.ReadFile(path)
	require.NoError(t, err, "Cannot read golden file %s", path)

	var want T
	require.NoError(t, yaml.Unmarshal(data, &want), "Cannot decode golden file %s", path)
	return want
}
