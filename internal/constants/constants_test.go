package constants_test

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/ubuntu/map-unpacker/internal/constants"
)

func TestGetDefaultConfigPath(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		baseDir func() (string, error)

		want string
	}{
		"Base dir is used": {
			baseDir: func() (string, error) { return filepath.Join("abc", "def"), nil },
			want:    filepath.Join("abc", "def", constants.DefaultAppFolder),
		},
		"Error returns empty path": {
			baseDir: func() (string, error) { return "", fmt.Errorf("error") },
			want:    "",
		},
		"Error with partial value returns empty path": {
			baseDir: func() (string, error) { return "abc", fmt.Errorf("error") },
			want:    "",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			got := constants.GetDefaultConfigPath(constants.WithBaseDir(tc.baseDir))
			assert.Equal(t, tc.want, got, "GetDefaultConfigPath returned an unexpected path")
		})
	}
}
