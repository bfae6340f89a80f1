package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// decodeStrict decodes a JSON or YAML document into Config, rejecting
// unknown keys and trailing documents. YAML is first turned into JSON so
// both formats share the json tags and the same strictness.
func decodeStrict(path string, b []byte) (*Config, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		jb, err := yamlToJSON(b)
		if err != nil {
			return nil, err
		}
		b = jb
	}

	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("trailing data after config document")
	}
	return &cfg, nil
}

func yamlToJSON(b []byte) ([]byte, error) {
	var doc any
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("yaml: %w", err)
	}
	if doc == nil {
		// An empty file decodes to nothing; let Validate report it.
		return []byte("{}"), nil
	}
	v, err := stringKeys(doc, "")
	if err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

// stringKeys rewrites YAML maps so encoding/json can marshal them. Keys must
// be scalars; at names the position for error messages.
func stringKeys(v any, at string) (any, error) {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			c, err := stringKeys(child, at+"."+k)
			if err != nil {
				return nil, err
			}
			t[k] = c
		}
		return t, nil
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, child := range t {
			switch k.(type) {
			case map[string]any, map[any]any, []any:
				return nil, fmt.Errorf("yaml: non-scalar key under %q", strings.TrimPrefix(at, "."))
			}
			key := fmt.Sprint(k)
			c, err := stringKeys(child, at+"."+key)
			if err != nil {
				return nil, err
			}
			out[key] = c
		}
		return out, nil
	case []any:
		for i := range t {
			c, err := stringKeys(t[i], fmt.Sprintf("%s[%d]", at, i))
			if err != nil {
				return nil, err
			}
			t[i] = c
		}
		return t, nil
	default:
		return v, nil
	}
}
