// Package projection selects the fields of a map bundle which are persisted as a map record.
//
// The selection is an ordered allow-list of rules. Values are copied verbatim from the bundle:
// nested structures are neither validated nor rewritten.
package projection

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	// MapIDKey is the key of the map identifier in a record. It is always the first key.
	MapIDKey = "mapId"

	// MapDataKey is the top-level bundle field holding the map data.
	MapDataKey = "mapData"
)

var (
	// ErrMalformed is returned when the bundle text is not a JSON object.
	ErrMalformed = errors.New("malformed map bundle")

	// ErrNoMapData is returned when the bundle has no map data object.
	ErrNoMapData = errors.New("map bundle has no mapData object")
)

// Path is a list of keys leading to a value from the root of a bundle.
// In configuration files it is written with dots, like "mapData.cellsData".
type Path []string

// String returns the dotted form of the path.
func (p Path) String() string {
	return strings.Join(p, ".")
}

// Transform converts a source value before it is stored.
// It returns false when the value should be left out of the record.
type Transform func(json.RawMessage) (json.RawMessage, bool, error)

// Rule maps a value of the bundle to a key of the record.
type Rule struct {
	Key       string    `mapstructure:"key"`
	Source    Path      `mapstructure:"source"`
	Transform Transform `mapstructure:"transform"`
}

// Document is a parsed map bundle. Values are kept undecoded.
type Document map[string]json.RawMessage

// ParseDocument parses the text produced by the bundle reader.
func ParseDocument(data []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: document is null", ErrMalformed)
	}
	return doc, nil
}

// Lookup returns the value at path.
// It returns false if any element of the path is missing or is not an object.
func (d Document) Lookup(path Path) (json.RawMessage, bool) {
	if len(path) == 0 {
		return nil, false
	}

	obj := d
	for i, key := range path {
		v, ok := obj[key]
		if !ok {
			return nil, false
		}
		if i == len(path)-1 {
			return v, true
		}

		var next map[string]json.RawMessage
		if err := json.Unmarshal(v, &next); err != nil || next == nil {
			return nil, false
		}
		obj = next
	}

	return nil, false
}

// Field is a key and its raw JSON value.
type Field struct {
	Key   string
	Value json.RawMessage
}

// Record is a projected map record.
type Record struct {
	MapID  int64
	Fields []Field
}

// MarshalJSON encodes the record as an object, map id first, then the fields in rule order.
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"` + MapIDKey + `":`)
	buf.WriteString(strconv.FormatInt(r.MapID, 10))

	for _, f := range r.Fields {
		k, err := json.Marshal(f.Key)
		if err != nil {
			return nil, err
		}
		if !json.Valid(f.Value) {
			return nil, fmt.Errorf("invalid JSON value for %q", f.Key)
		}
		buf.WriteByte(',')
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(f.Value)
	}
	buf.WriteByte('}')

	return buf.Bytes(), nil
}

// Projector builds records from documents.
type Projector struct {
	rules []Rule
}

// New returns a projector applying rules in order.
// When no rules are given, DefaultRules are used.
func New(rules []Rule) (*Projector, error) {
	if len(rules) == 0 {
		rules = DefaultRules()
	}

	seen := make(map[string]struct{}, len(rules))
	for i, r := range rules {
		if r.Key == "" {
			return nil, fmt.Errorf("rule %d has no key", i)
		}
		if r.Key == MapIDKey {
			return nil, fmt.Errorf("rule %d: %q is reserved", i, MapIDKey)
		}
		if _, ok := seen[r.Key]; ok {
			return nil, fmt.Errorf("rule %d: duplicate key %q", i, r.Key)
		}
		if len(r.Source) == 0 {
			return nil, fmt.Errorf("rule %q has no source", r.Key)
		}
		seen[r.Key] = struct{}{}
	}

	return &Projector{rules: rules}, nil
}

// Project returns the record for mapID holding the allow-listed values of doc.
// Values missing from doc are left out of the record.
func (p Projector) Project(doc Document, mapID int64) (Record, error) {
	raw, ok := doc[MapDataKey]
	if !ok {
		return Record{}, ErrNoMapData
	}
	var mapData Document
	if err := json.Unmarshal(raw, &mapData); err != nil || mapData == nil {
		return Record{}, ErrNoMapData
	}

	rec := Record{MapID: mapID}
	for _, r := range p.rules {
		var v json.RawMessage
		var ok bool
		// Map data is decoded once, other paths are resolved from the document root.
		if len(r.Source) > 1 && r.Source[0] == MapDataKey {
			v, ok = mapData.Lookup(r.Source[1:])
		} else {
			v, ok = doc.Lookup(r.Source)
		}
		if !ok {
			continue
		}
		if r.Transform != nil {
			var err error
			v, ok, err = r.Transform(v)
			if err != nil {
				return Record{}, fmt.Errorf("transform of %q failed: %v", r.Key, err)
			}
			if !ok {
				continue
			}
		}
		rec.Fields = append(rec.Fields, Field{Key: r.Key, Value: v})
	}

	return rec, nil
}
