package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

type fileFormat string

const (
	formatJSON fileFormat = "json"
	formatYAML fileFormat = "yaml"
)

func formatOf(name string) fileFormat {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		return formatYAML
	default:
		return formatJSON
	}
}

// toJSON returns data as JSON so both formats go through the same strict
// decoder. An empty YAML document becomes "{}".
func toJSON(name string, data []byte) ([]byte, fileFormat, error) {
	f := formatOf(name)
	if f == formatJSON {
		return data, f, nil
	}
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, f, fmt.Errorf("yaml: %w", err)
	}
	if doc == nil {
		return []byte("{}"), f, nil
	}
	out, err := json.Marshal(stringKeys(doc))
	if err != nil {
		return nil, f, fmt.Errorf("yaml to json: %w", err)
	}
	return out, f, nil
}

// stringKeys rewrites non-string YAML map keys (e.g. `9600: x`) so the tree
// is JSON-encodable.
func stringKeys(v any) any {
	switch x := v.(type) {
	case map[string]any:
		for k, e := range x {
			x[k] = stringKeys(e)
		}
		return x
	case map[any]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[fmt.Sprint(k)] = stringKeys(e)
		}
		return out
	case []any:
		for i, e := range x {
			x[i] = stringKeys(e)
		}
		return x
	}
	return v
}
