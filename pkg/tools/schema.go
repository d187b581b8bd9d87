package tools

import (
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// schema wraps a compiled JSON Schema for argument validation.
type schema struct {
	compiled *jsonschema.Schema
}

// compileSchema compiles a schema document once so dispatch-time validation
// is a pure in-memory check.
func compileSchema(toolName string, doc map[string]any) (*schema, error) {
	resource := toolName + ".schema.json"

	c := jsonschema.NewCompiler()
	if err := c.AddResource(resource, normalizeSchemaDoc(doc)); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}
	compiled, err := c.Compile(resource)
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}
	return &schema{compiled: compiled}, nil
}

// validate checks decoded arguments against the compiled schema.
func (s *schema) validate(args map[string]any) error {
	if s == nil || s.compiled == nil {
		return nil
	}
	// Validate expects the decoded JSON shape; a nil map is the same as {},
	// and Go-typed literals from in-process callers are normalized first.
	var payload any = map[string]any{}
	if args != nil {
		payload = normalizeSchemaDoc(args)
	}
	return s.compiled.Validate(payload)
}

// normalizeSchemaDoc rewrites Go-typed schema literals into the decoded-JSON
// shapes the compiler expects (e.g. []string slices become []any).
func normalizeSchemaDoc(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalizeSchemaDoc(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalizeSchemaDoc(val)
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = val
		}
		return out
	case int:
		return float64(t)
	default:
		return v
	}
}
