// Package output persists map records and error artifacts in the output directory.
package output

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/ubuntu/decorate"
	"github.com/ubuntu/map-unpacker/internal/constants"
	"github.com/ubuntu/map-unpacker/internal/fileutils"
	"github.com/ubuntu/map-unpacker/internal/projection"
)

// indent is the indentation of written records.
const indent = "   "

// Writer writes records to a directory.
type Writer struct {
	dir string
}

// New returns a writer for dir, creating the directory if needed.
func New(dir string) (*Writer, error) {
	if dir == "" {
		return nil, fmt.Errorf("output directory must be set")
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %v", err)
	}

	return &Writer{dir: dir}, nil
}

// Dir returns the output directory.
func (w Writer) Dir() string {
	return w.dir
}

// RecordPath returns the path of the record for mapID.
func (w Writer) RecordPath(mapID int64) string {
	return filepath.Join(w.dir, strconv.FormatInt(mapID, 10)+constants.RecordExtension)
}

// ErrorPath returns the path of the error artifact for mapID.
func (w Writer) ErrorPath(mapID int64) string {
	return filepath.Join(w.dir, constants.ErrorArtifactPrefix+strconv.FormatInt(mapID, 10)+constants.ErrorArtifactExtension)
}

// Write replaces the record file of rec.MapID with rec.
// When it returns nil, the record is on disk.
func (w Writer) Write(rec projection.Record) (err error) {
	defer decorate.OnError(&err, "could not write record %d", rec.MapID)

	data, err := json.MarshalIndent(rec, "", indent)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %v", err)
	}

	return fileutils.AtomicWrite(w.RecordPath(rec.MapID), data)
}

// WriteError saves raw, the text which could not be parsed for mapID, for manual review.
func (w Writer) WriteError(mapID int64, raw string) (err error) {
	defer decorate.OnError(&err, "could not write error artifact for %d", mapID)

	return fileutils.AtomicWrite(w.ErrorPath(mapID), []byte(raw))
}
