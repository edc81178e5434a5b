package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/invopop/jsonschema"
	"gopkg.in/yaml.v3"
)

//go:embed schema.json
var embeddedSchema []byte

// VerifyAgainstEmbeddedSchema checks raw YAML config against the embedded JSON schema
// and reports keys the schema doesn't know about, usually typos
func VerifyAgainstEmbeddedSchema(data []byte) error {
	var schema jsonschema.Schema
	if err := json.Unmarshal(embeddedSchema, &schema); err != nil {
		return fmt.Errorf("parse embedded schema: %w", err)
	}

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	if doc == nil {
		return nil
	}

	v := schemaWalker{defs: schema.Definitions}
	v.walk(&schema, doc, "")
	if len(v.unknown) == 0 {
		return nil
	}
	sort.Strings(v.unknown)
	return fmt.Errorf("unknown keys: %s", strings.Join(v.unknown, ", "))
}

// GenerateSchema generates a JSON schema for the Config struct
func GenerateSchema() (*jsonschema.Schema, error) {
	return jsonschema.Reflect(&Config{}), nil
}

type schemaWalker struct {
	defs    jsonschema.Definitions
	unknown []string
}

func (w *schemaWalker) walk(s *jsonschema.Schema, value any, path string) {
	s = w.resolve(s)
	if s == nil {
		return
	}

	switch val := value.(type) {
	case map[string]any:
		for key, child := range val {
			childPath := key
			if path != "" {
				childPath = path + "." + key
			}
			if s.Properties != nil {
				if prop, ok := s.Properties.Get(key); ok {
					w.walk(prop, child, childPath)
					continue
				}
			}
			if s.AdditionalProperties == nil {
				continue
			}
			if isFalseSchema(s.AdditionalProperties) {
				w.unknown = append(w.unknown, childPath)
				continue
			}
			w.walk(s.AdditionalProperties, child, childPath)
		}
	case []any:
		if s.Items == nil {
			return
		}
		for i, child := range val {
			w.walk(s.Items, child, fmt.Sprintf("%s[%d]", path, i))
		}
	}
}

// resolve follows local $defs references
func (w *schemaWalker) resolve(s *jsonschema.Schema) *jsonschema.Schema {
	for range 8 { // bounded, refs may be cyclic
		if s == nil || s.Ref == "" {
			return s
		}
		name, ok := strings.CutPrefix(s.Ref, "#/$defs/")
		if !ok {
			return nil
		}
		s = w.defs[name]
	}
	return nil
}

func isFalseSchema(s *jsonschema.Schema) bool {
	b, err := json.Marshal(s)
	if err != nil {
		return false
	}
	return string(b) == "false"
}
