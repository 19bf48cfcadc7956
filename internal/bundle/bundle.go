// Package bundle reads map bundles written by the upstream unpacker.
//
// Bundles end with a references block which can be orders of magnitude larger than the map data
// we need. Instead of decoding the whole document, the reader stops at the line opening that
// block and closes the JSON object itself. This relies on the upstream field ordering: the
// references block must be the last top-level field.
package bundle

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	stdunicode "unicode"
	"unicode/utf8"

	"github.com/ubuntu/decorate"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// tripleQuotesRE matches the over-escaped quotes some upstream versions emit.
var tripleQuotesRE = regexp.MustCompile(`"{3,}`)

// TruncateAtMarker reads r line by line and returns the concatenated lines, without their line
// endings, up to the first line containing marker.
//
// When the marker is found, that line and everything after it are discarded, the accumulated text
// is stripped of trailing whitespace, its last character (the comma ending the previous field) is
// dropped and a closing brace is appended. The rest of r is never read.
// When the marker is never found, the whole content is returned as is.
func TruncateAtMarker(r io.Reader, marker string) (s string, err error) {
	defer decorate.OnError(&err, "could not read bundle")

	if marker == "" {
		return "", errors.New("empty marker")
	}

	// Lines are unbounded: minified bundles hold the whole document on a single line.
	br := bufio.NewReader(NewDecoder(r))

	var b strings.Builder
	for {
		line, err := br.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("reading lines: %w", err)
		}
		line = strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r")

		if strings.Contains(line, marker) {
			data := strings.TrimRightFunc(b.String(), stdunicode.IsSpace)
			_, size := utf8.DecodeLastRuneInString(data)
			return data[:len(data)-size] + "}", nil
		}
		b.WriteString(line)

		if err != nil {
			return b.String(), nil
		}
	}
}

// RepairQuotes collapses runs of three or more double quotes into two.
func RepairQuotes(s string) string {
	return tripleQuotesRE.ReplaceAllLiteralString(s, `""`)
}

// NewDecoder returns a reader decoding r to UTF-8.
// A leading UTF-8 BOM is dropped and UTF-16 content with a BOM is converted.
func NewDecoder(r io.Reader) io.Reader {
	return transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder()))
}
