package spec

import (
	"fmt"

	v2alpha1 "gitlab.prplanit.com/precisionplanit/mysql-operator/api/v2alpha1"
	"gitlab.prplanit.com/precisionplanit/mysql-operator/common"
)

// section is a view over one mapping of a raw document, carrying the field
// path used in error messages.
type section struct {
	doc    map[string]any
	prefix string
}

func newSection(doc map[string]any, prefix string) section {
	if doc == nil {
		doc = map[string]any{}
	}
	return section{doc: doc, prefix: prefix}
}

func (s section) path(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + "." + key
}

func (s section) has(key string) bool {
	v, ok := s.doc[key]
	return ok && v != nil
}

func (s section) missing(key string) error {
	return common.NewSpecError("missing required field %s", s.path(key))
}

func (s section) wrongType(key, want string) error {
	return common.NewSpecError("%s expected to be a %s but is %s", s.path(key), want, typeName(s.doc[key]))
}

func (s section) requiredString(key string) (string, error) {
	if !s.has(key) {
		return "", s.missing(key)
	}
	v, err := s.optionalString(key, "")
	if err != nil {
		return "", err
	}
	if v == "" {
		return "", s.missing(key)
	}
	return v, nil
}

func (s section) optionalString(key, def string) (string, error) {
	if !s.has(key) {
		return def, nil
	}
	v, ok := s.doc[key].(string)
	if !ok {
		return "", s.wrongType(key, "string")
	}
	return v, nil
}

func (s section) optionalInt(key string, def int64) (int64, error) {
	if !s.has(key) {
		return def, nil
	}
	n, ok := v2alpha1.AsInt64(s.doc[key])
	if !ok {
		return 0, s.wrongType(key, "integer")
	}
	return n, nil
}

func (s section) optionalBool(key string, def bool) (bool, error) {
	if !s.has(key) {
		return def, nil
	}
	v, ok := s.doc[key].(bool)
	if !ok {
		return false, s.wrongType(key, "boolean")
	}
	return v, nil
}

// optionalDict returns the nested mapping at key, nil when absent.
func (s section) optionalDict(key string) (map[string]any, error) {
	if !s.has(key) {
		return nil, nil
	}
	v, ok := s.doc[key].(map[string]any)
	if !ok {
		return nil, s.wrongType(key, "dict")
	}
	return v, nil
}

func (s section) requiredDict(key string) (map[string]any, error) {
	if !s.has(key) {
		return nil, s.missing(key)
	}
	return s.optionalDict(key)
}

func (s section) optionalList(key string) ([]any, error) {
	if !s.has(key) {
		return nil, nil
	}
	v, ok := s.doc[key].([]any)
	if !ok {
		return nil, s.wrongType(key, "list")
	}
	return v, nil
}

// child returns the section for a nested mapping.
func (s section) child(key string, doc map[string]any) section {
	return newSection(doc, s.path(key))
}

func typeName(v any) string {
	switch v.(type) {
	case string:
		return "string"
	case bool:
		return "boolean"
	case int, int32, int64, float64:
		return "number"
	case map[string]any:
		return "dict"
	case []any:
		return "list"
	case nil:
		return "null"
	}
	return fmt.Sprintf("%T", v)
}

// copyDocument deep copies a decoded document without requiring it to hold
// only JSON-native number types.
func copyDocument(doc map[string]any) map[string]any {
	if doc == nil {
		return nil
	}
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return copyDocument(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = copyValue(e)
		}
		return out
	}
	return v
}
