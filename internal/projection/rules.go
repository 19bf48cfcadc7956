package projection

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-viper/mapstructure/v2"
)

// defaultFields are the map data fields persisted in a record, in output order.
var defaultFields = []string{
	"topNeighbourId",
	"bottomNeighbourId",
	"leftNeighbourId",
	"rightNeighbourId",
	"backgroundColor",
	"backgroundElements",
	"foregroundElements",
	"sortableElements",
	"animatedElements",
	"refractionElements",
	"interactiveElements",
	"boundingBoxes",
	"backgroundMaterialData",
	"foregroundMaterialData",
	"sortableMaterialData",
	"cellsData",
	"localizedSounds",
}

// transforms are the transforms which can be named in configuration files.
var transforms = map[string]Transform{
	"value": Value,
}

// DefaultRules returns the allow-list used when none is configured.
func DefaultRules() []Rule {
	rules := make([]Rule, 0, len(defaultFields))
	for _, f := range defaultFields {
		r := Rule{Key: f, Source: Path{MapDataKey, f}}
		if f == "backgroundColor" {
			r.Transform = Value
		}
		rules = append(rules, r)
	}
	return rules
}

// Value unwraps {"value": x} into x.
// Anything which is not an object with a value key is left out.
func Value(raw json.RawMessage) (json.RawMessage, bool, error) {
	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal(raw, &wrapper); err != nil {
		return nil, false, nil
	}
	v, ok := wrapper["value"]
	return v, ok, nil
}

// DecodeHook returns the mapstructure hook decoding rule paths and transform names from configuration.
func DecodeHook() mapstructure.DecodeHookFunc {
	pathType := reflect.TypeOf(Path{})
	transformType := reflect.TypeOf(Transform(nil))

	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if from.Kind() != reflect.String {
			return data, nil
		}
		s, _ := data.(string)

		switch to {
		case pathType:
			if s == "" {
				return Path(nil), nil
			}
			return Path(strings.Split(s, ".")), nil
		case transformType:
			if s == "" {
				return Transform(nil), nil
			}
			t, ok := transforms[s]
			if !ok {
				return nil, fmt.Errorf("unknown transform %q", s)
			}
			return t, nil
		}
		return data, nil
	}
}
