package config

import (
	"fmt"
	"maps"
	"reflect"
	"slices"
	"strconv"
	"strings"
)

// schema maps every settable dot-separated key to the Go type of its field.
var schema = keyTypes(reflect.TypeOf(Config{}), "", map[string]reflect.Type{})

func keyTypes(t reflect.Type, prefix string, out map[string]reflect.Type) map[string]reflect.Type {
	for i := range t.NumField() {
		f := t.Field(i)
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			continue
		}
		if prefix != "" {
			name = prefix + "." + name
		}
		if f.Type.Kind() == reflect.Struct {
			keyTypes(f.Type, name, out)
			continue
		}
		out[name] = f.Type
	}
	return out
}

// Keys returns every key accepted by SetValue, sorted.
func Keys() []string {
	return slices.Sorted(maps.Keys(schema))
}

// KeyType names the type stored under key, or "" for unknown keys.
func KeyType(key string) string {
	t, ok := schema[key]
	if !ok {
		return ""
	}
	return t.String()
}

var secretKeys = map[string]bool{
	"llm.groq_api_key":   true,
	"llm.openai_api_key": true,
	"llm.gemini_api_key": true,
	"trino.token":        true,
	"telegram.token":     true,
}

// IsSecretKey reports whether key holds a credential.
func IsSecretKey(key string) bool {
	return secretKeys[key]
}

// ParseValue converts the command-line form of a value to what the config
// file stores under key. Strings are kept verbatim; allowed chat lists are
// comma-separated ids, with or without brackets.
func ParseValue(key, value string) (any, error) {
	t, ok := schema[key]
	if !ok {
		return nil, fmt.Errorf("unknown config key: %s", key)
	}
	switch t.Kind() {
	case reflect.String:
		return value, nil
	case reflect.Int, reflect.Int64:
		n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%s expects an integer, got %q", key, value)
		}
		return n, nil
	case reflect.Bool:
		b, err := strconv.ParseBool(strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("%s expects true or false, got %q", key, value)
		}
		return b, nil
	case reflect.Slice:
		if t.Elem().Kind() != reflect.Int64 {
			break
		}
		ids := []int64{}
		for part := range strings.SplitSeq(strings.Trim(value, "[] "), ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			id, err := strconv.ParseInt(part, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%s expects a list of ids, got %q", key, value)
			}
			ids = append(ids, id)
		}
		return ids, nil
	}
	return nil, fmt.Errorf("%s: cannot set values of type %s", key, t)
}

// Flatten turns nested sections into dot-separated keys, so
// {"llm": {"provider": "groq"}} becomes {"llm.provider": "groq"}. Arrays are
// kept whole.
func Flatten(m map[string]any) map[string]any {
	out := make(map[string]any)
	var walk func(prefix string, section map[string]any)
	walk = func(prefix string, section map[string]any) {
		for k, v := range section {
			if prefix != "" {
				k = prefix + "." + k
			}
			if child, ok := v.(map[string]any); ok {
				walk(k, child)
				continue
			}
			out[k] = v
		}
	}
	walk("", m)
	return out
}

// Unflatten rebuilds the sections of a Flatten result.
func Unflatten(flat map[string]any) map[string]any {
	out := make(map[string]any)
	for key, v := range flat {
		section, leaf := out, key
		for {
			head, rest, nested := strings.Cut(leaf, ".")
			if !nested {
				break
			}
			next, ok := section[head].(map[string]any)
			if !ok {
				next = make(map[string]any)
				section[head] = next
			}
			section, leaf = next, rest
		}
		section[leaf] = v
	}
	return out
}

// MaskSecrets returns a copy of flat with non-empty credentials shown as
// "***" followed by their last four characters.
func MaskSecrets(flat map[string]any) map[string]any {
	out := maps.Clone(flat)
	for k := range secretKeys {
		if s, ok := out[k].(string); ok && s != "" {
			out[k] = "***" + s[max(0, len(s)-4):]
		}
	}
	return out
}
