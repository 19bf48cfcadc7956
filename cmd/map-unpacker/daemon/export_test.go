package daemon

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type (
	AppConfig = appConfig
)

// Config returns the configuration of the app.
func (a *App) Config() AppConfig {
	return a.config
}

// NewForTests creates a new App instance for testing purposes.
// The app watches a temporary input directory and writes to a temporary output directory, without delaying deletions.
// Both directories are returned.
func NewForTests(t *testing.T, conf string, args ...string) (app *App, inputDir, outputDir string) {
	t.Helper()

	inputDir = filepath.Join(t.TempDir(), "map_bundles")
	outputDir = filepath.Join(t.TempDir(), "map_data")

	argsWithConf := []string{
		"--config", GenerateTestConfig(t, conf),
		"--input-dir", inputDir,
		"--output-dir", outputDir,
		"--settle-delay", "10ms",
		"--delete-delay", "0s",
		"--retry-delay", "1ms",
	}
	argsWithConf = append(argsWithConf, args...)

	a, err := New()
	require.NoError(t, err, "Setup: failed to create app")
	a.cmd.SetArgs(argsWithConf)
	return a, inputDir, outputDir
}

// GenerateTestConfig writes conf to a temporary config file for testing.
func GenerateTestConfig(t *testing.T, conf string) string {
	t.Helper()

	if conf == "" {
		conf = "verbose: 2\n"
	}

	confPath := filepath.Join(t.TempDir(), "testconfig.yaml")
	require.NoError(t, os.WriteFile(confPath, []byte(conf), 0600), "Setup: failed to write config for tests")

	return confPath
}

// SetArgs set some arguments on root command for tests.
func (a *App) SetArgs(args ...string) {
	a.cmd.SetArgs(args)
}

// SetSilenceUsage set the SilenceUsage flag on root command for tests.
func (a *App) SetSilenceUsage(silence bool) {
	a.cmd.SilenceUsage = silence
}

// Service is the unpacker run by the daemon.
type Service = service

// SetServiceBuilder replaces the function creating the unpacker run by the daemon.
func (a *App) SetServiceBuilder(f func(ctx context.Context) (Service, error)) {
	a.newDaemon = f
}
