package fileutils_test

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/ubuntu/map-unpacker/internal/fileutils"
)

func TestAtomicWrite(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		data            []byte
		fileExists      bool
		fileExistsPerms os.FileMode
		invalidDir      bool

		wantError bool
	}{
		"Empty file":          {data: []byte{}},
		"Non-empty file":      {data: []byte("data")},
		"Override file":       {data: []byte("data"), fileExistsPerms: 0600, fileExists: true},
		"Override empty file": {data: []byte{}, fileExistsPerms: 0600, fileExists: true},

		"Override read-only file": {data: []byte("data"), fileExistsPerms: 0400, fileExists: true, wantError: runtime.GOOS == "windows"},
		"Invalid Dir":             {data: []byte("data"), invalidDir: true, wantError: true},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			oldFile := []byte("Old File!")
			tempDir := t.TempDir()
			path := filepath.Join(tempDir, "file")
			if tc.invalidDir {
				path = filepath.Join(path, "fake_dir")
			}

			if tc.fileExists {
				err := os.WriteFile(path, oldFile, tc.fileExistsPerms)
				require.NoError(t, err, "Setup: WriteFile should not return an error")
				t.Cleanup(func() { _ = os.Chmod(path, 0600) })
			}

			err := fileutils.AtomicWrite(path, tc.data)
			if tc.wantError {
				require.Error(t, err, "AtomicWrite should return an error")

				if !tc.fileExists {
					return
				}
				data, err := os.ReadFile(path)
				require.NoError(t, err, "ReadFile should not return an error")
				require.Equal(t, oldFile, data, "AtomicWrite should not overwrite the file")
				return
			}
			require.NoError(t, err, "AtomicWrite should not return an error")

			data, err := os.ReadFile(path)
			require.NoError(t, err, "ReadFile should not return an error")
			require.Equal(t, tc.data, data, "AtomicWrite should write the data to the file")

			entries, err := os.ReadDir(filepath.Dir(path))
			require.NoError(t, err, "ReadDir should not return an error")
			require.Len(t, entries, 1, "AtomicWrite should not leave temporary files behind")
		})
	}
}

func TestRemoveFile(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		noFile      bool
		nonEmptyDir bool

		wantErr bool
	}{
		"Removes existing file":     {},
		"Missing file is not error": {noFile: true},

		"Error on non-empty directory": {nonEmptyDir: true, wantErr: true},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			path := filepath.Join(t.TempDir(), "12345.json")
			switch {
			case tc.nonEmptyDir:
				require.NoError(t, os.MkdirAll(filepath.Join(path, "child"), 0750), "Setup: failed to create directory")
			case !tc.noFile:
				require.NoError(t, os.WriteFile(path, []byte("{}"), 0600), "Setup: failed to create file")
			}

			err := fileutils.RemoveFile(path)
			if tc.wantErr {
				require.Error(t, err, "RemoveFile should return an error")
				require.DirExists(t, path, "RemoveFile should leave the directory in place")
				return
			}
			require.NoError(t, err, "RemoveFile should not return an error")
			require.NoFileExists(t, path, "RemoveFile should remove the file")
		})
	}
}
