package plugin

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ParamType is the declared JSON type of a parameter.
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeInteger ParamType = "integer"
	TypeNumber  ParamType = "number"
	TypeBoolean ParamType = "boolean"
	TypeObject  ParamType = "object"
	TypeArray   ParamType = "array"
)

// Param declares one named, typed parameter of a plugin function.
type Param struct {
	Name        string    `json:"name" yaml:"name"`
	Type        ParamType `json:"type" yaml:"type"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	Required    bool      `json:"required" yaml:"required"`
	Default     any       `json:"default,omitempty" yaml:"default,omitempty"`
}

// Schema is the ordered parameter list of a function.
type Schema []Param

// JSONSchema renders the schema as a JSON Schema object, used for LLM tool definitions.
func (s Schema) JSONSchema() map[string]any {
	props := make(map[string]any, len(s))
	required := make([]string, 0, len(s))
	for _, p := range s {
		prop := map[string]any{"type": string(p.Type)}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		if p.Default != nil {
			prop["default"] = p.Default
		}
		props[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	out := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		out["required"] = required
	}
	return out
}

// Args holds validated, coerced arguments keyed by parameter name.
type Args map[string]any

// Has reports whether name has a non-nil value.
func (a Args) Has(name string) bool {
	v, ok := a[name]
	return ok && v != nil
}

func (a Args) String(name string) string {
	s, _ := a[name].(string)
	return s
}

func (a Args) Float(name string) float64 {
	f, _ := a[name].(float64)
	return f
}

func (a Args) Int(name string) int {
	i, _ := a[name].(int64)
	return int(i)
}

func (a Args) Bool(name string) bool {
	b, _ := a[name].(bool)
	return b
}

// Validate checks raw against the schema, coerces values, applies defaults and
// returns the resulting Args. Parameters not declared in the schema are dropped.
func (s Schema) Validate(raw map[string]any) (Args, error) {
	args := make(Args, len(s))
	var missing []string
	for _, p := range s {
		v, ok := raw[p.Name]
		if !ok || v == nil {
			if p.Required {
				missing = append(missing, p.Name)
				continue
			}
			if p.Default != nil {
				dv, err := coerce(p, p.Default)
				if err != nil {
					return nil, err
				}
				args[p.Name] = dv
			}
			continue
		}
		cv, err := coerce(p, v)
		if err != nil {
			return nil, err
		}
		args[p.Name] = cv
	}
	if len(missing) > 0 {
		return nil, invalidf("missing required parameter(s): %s", strings.Join(missing, ", "))
	}
	return args, nil
}

func coerce(p Param, v any) (any, error) {
	switch p.Type {
	case TypeString:
		switch t := v.(type) {
		case string:
			return t, nil
		case float64, int, int64, bool, json.Number:
			return fmt.Sprint(t), nil
		}
	case TypeNumber:
		if f, ok := toFloat(v); ok {
			return f, nil
		}
	case TypeInteger:
		if f, ok := toFloat(v); ok {
			if f != math.Trunc(f) || math.IsInf(f, 0) {
				return nil, invalidf("parameter %q must be an integer, got %v", p.Name, v)
			}
			if f < math.MinInt64 || f >= math.MaxInt64 {
				return nil, invalidf("parameter %q is out of range, got %v", p.Name, v)
			}
			return int64(f), nil
		}
	case TypeBoolean:
		switch t := v.(type) {
		case bool:
			return t, nil
		case string:
			if b, err := strconv.ParseBool(strings.TrimSpace(t)); err == nil {
				return b, nil
			}
		}
	case TypeObject:
		if m, ok := v.(map[string]any); ok {
			return m, nil
		}
	case TypeArray:
		if a, ok := v.([]any); ok {
			return a, nil
		}
	default:
		return nil, invalidf("parameter %q has unsupported type %q", p.Name, p.Type)
	}
	return nil, invalidf("parameter %q must be of type %s, got %T", p.Name, p.Type, v)
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, !math.IsNaN(t)
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil && !math.IsNaN(f)
	}
	return 0, false
}
