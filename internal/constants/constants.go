// Package constants is responsible for defining the constants used in the application.
// It also provides utility functions to get the default configuration path.
package constants

import (
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

const (
	// CmdName is the name of the command line tool.
	CmdName = "map-unpacker"

	// DefaultAppFolder is the name of the default root folder.
	DefaultAppFolder = "map-unpacker"

	// DefaultLogLevel is the default log level selected without any verbosity flags.
	DefaultLogLevel = slog.LevelInfo

	// DefaultInputDir is the directory watched for map bundles when none is configured.
	DefaultInputDir = "map_bundles"

	// DefaultOutputDir is the directory map records are written to when none is configured.
	DefaultOutputDir = "map_data"

	// DefaultReferencesMarker is the text opening the references block of a map bundle.
	// It is the last top-level field before the payload we never need.
	DefaultReferencesMarker = `"references": {`

	// DefaultDeleteDelay is the warm-up delay before the delete queue starts removing bundles.
	DefaultDeleteDelay = 30 * time.Second

	// DefaultRetryDelay is the delay before a failed deletion is queued again.
	DefaultRetryDelay = time.Second

	// RecordExtension is the extension of the map record files.
	RecordExtension = ".json"

	// ErrorArtifactPrefix is prepended to the map id for raw text dumps of bundles that failed to parse.
	ErrorArtifactPrefix = "error_"

	// ErrorArtifactExtension is the extension of the raw text dumps.
	ErrorArtifactExtension = ".txt"
)

// Version is the version of the executable, set at build time.
var Version = "Dev"

type options struct {
	baseDir func() (string, error)
}

type option func(*options)

// GetDefaultConfigPath is the default path to the configuration directory.
func GetDefaultConfigPath(opts ...option) string {
	o := options{baseDir: os.UserConfigDir}
	for _, opt := range opts {
		opt(&o)
	}

	base := getBaseDir(o.baseDir)
	if base == "" {
		return ""
	}
	return filepath.Join(base, DefaultAppFolder)
}

// getBaseDir is a helper function to handle the case where the baseDir function returns an error, and instead return an empty string.
func getBaseDir(baseDirFunc func() (string, error)) string {
	dir, err := baseDirFunc()
	if err != nil {
		return ""
	}
	return dir
}
