package watcher_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ubuntu/map-unpacker/internal/watcher"
)

func TestNew(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		dir  string
		opts []watcher.Options

		wantErr bool
	}{
		"Default options": {dir: "dir"},
		"Custom options":  {dir: "dir", opts: []watcher.Options{watcher.WithSettleDelay(0), watcher.WithInitialScan(false)}},

		"Error on empty directory":      {wantErr: true},
		"Error on negative settle time": {dir: "dir", opts: []watcher.Options{watcher.WithSettleDelay(-time.Second)}, wantErr: true},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			w, err := watcher.New(tc.dir, tc.opts...)
			if tc.wantErr {
				require.Error(t, err, "New should return an error")
				return
			}
			require.NoError(t, err, "New should not return an error")
			assert.Equal(t, tc.dir, w.Dir(), "New should keep the directory")
		})
	}
}

func TestWatch(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		existing    []string
		initialScan bool
		create      []string
		createDirs  []string

		want []string
	}{
		"New file is reported": {
			create: []string{"12345.json"},
			want:   []string{"12345.json"},
		},
		"Several new files are reported": {
			create: []string{"1.json", "2.json", ".hidden.json"},
			want:   []string{"1.json", "2.json", ".hidden.json"},
		},
		"Existing files are reported with initial scan": {
			existing:    []string{"1.json", "2.json"},
			initialScan: true,
			create:      []string{"3.json"},
			want:        []string{"1.json", "2.json", "3.json"},
		},
		"Existing files are ignored without initial scan": {
			existing: []string{"1.json"},
			create:   []string{"3.json"},
			want:     []string{"3.json"},
		},
		"Directories are not reported": {
			createDirs: []string{"sub"},
			create:     []string{"3.json"},
			want:       []string{"3.json"},
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			dir := t.TempDir()
			for _, f := range tc.existing {
				require.NoError(t, os.WriteFile(filepath.Join(dir, f), []byte("{}"), 0600), "Setup: failed to create existing file")
			}

			w, err := watcher.New(dir, watcher.WithSettleDelay(50*time.Millisecond), watcher.WithInitialScan(tc.initialScan))
			require.NoError(t, err, "Setup: New should not return an error")

			ctx, cancel := context.WithCancel(t.Context())
			defer cancel()
			added, errs, err := w.Watch(ctx)
			require.NoError(t, err, "Watch should not return an error")

			for _, d := range tc.createDirs {
				require.NoError(t, os.Mkdir(filepath.Join(dir, d), 0750), "Setup: failed to create directory")
			}
			for _, f := range tc.create {
				require.NoError(t, os.WriteFile(filepath.Join(dir, f), []byte("{}"), 0600), "Setup: failed to create file")
			}

			got := make(map[string]struct{})
			timeout := time.After(5 * time.Second)
			for len(got) < len(tc.want) {
				select {
				case p := <-added:
					got[filepath.Base(p)] = struct{}{}
				case err := <-errs:
					require.Fail(t, "Unexpected watcher error", "%v", err)
				case <-timeout:
					require.Fail(t, "Timeout waiting for files", "got %v, want %v", got, tc.want)
				}
			}

			// Nothing else should be reported.
			select {
			case p := <-added:
				_, ok := got[filepath.Base(p)]
				assert.True(t, ok, "Unexpected file reported: %s", p)
			case <-time.After(200 * time.Millisecond):
			}

			var gotNames []string
			for n := range got {
				gotNames = append(gotNames, n)
			}
			assert.ElementsMatch(t, tc.want, gotNames, "Watch reported unexpected files")
		})
	}
}

func TestWatchWaitsForWritesToSettle(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	w, err := watcher.New(dir, watcher.WithSettleDelay(300*time.Millisecond))
	require.NoError(t, err, "Setup: New should not return an error")

	added, _, err := w.Watch(t.Context())
	require.NoError(t, err, "Watch should not return an error")

	type report struct {
		path string
		at   time.Time
	}
	reports := make(chan report, 10)
	go func() {
		for p := range added {
			reports <- report{path: p, at: time.Now()}
		}
	}()

	path := filepath.Join(dir, "12345.json")
	f, err := os.Create(path)
	require.NoError(t, err, "Setup: failed to create file")
	defer f.Close()

	for range 5 {
		_, err := f.WriteString("{}\n")
		require.NoError(t, err, "Setup: failed to write file")
		time.Sleep(100 * time.Millisecond)
	}
	lastWrite := time.Now()

	select {
	case r := <-reports:
		assert.Equal(t, path, r.path, "Watch reported an unexpected file")
		assert.True(t, r.at.After(lastWrite), "File should only be reported once writes stopped")
	case <-time.After(5 * time.Second):
		require.Fail(t, "Timeout waiting for file")
	}
}

func TestWatchRemovedFileIsNotReported(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	w, err := watcher.New(dir, watcher.WithSettleDelay(200*time.Millisecond))
	require.NoError(t, err, "Setup: New should not return an error")

	added, _, err := w.Watch(t.Context())
	require.NoError(t, err, "Watch should not return an error")

	path := filepath.Join(dir, "1.json")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0600), "Setup: failed to create file")
	require.NoError(t, os.Remove(path), "Setup: failed to remove file")

	select {
	case p := <-added:
		require.Fail(t, "Removed file should not be reported", "got %s", p)
	case <-time.After(500 * time.Millisecond):
	}
}

func TestWatchStopsWithContext(t *testing.T) {
	t.Parallel()

	w, err := watcher.New(t.TempDir())
	require.NoError(t, err, "Setup: New should not return an error")

	ctx, cancel := context.WithCancel(t.Context())
	added, errs, err := w.Watch(ctx)
	require.NoError(t, err, "Watch should not return an error")

	cancel()
	select {
	case _, ok := <-added:
		assert.False(t, ok, "Added channel should be closed")
	case <-time.After(5 * time.Second):
		require.Fail(t, "Added channel was not closed")
	}
	_, ok := <-errs
	assert.False(t, ok, "Errors channel should be closed without error")
}

func TestWatchErrors(t *testing.T) {
	t.Parallel()

	w, err := watcher.New(filepath.Join(t.TempDir(), "missing"))
	require.NoError(t, err, "Setup: New should not return an error")

	_, _, err = w.Watch(t.Context())
	require.Error(t, err, "Watch should fail on a missing directory")
}
