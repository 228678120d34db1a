// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"encoding/gob"
	"fmt"
	"maps"
	"reflect"
	"slices"
	"strings"
	"time"
)

func init() {
	// Property values travel through gob-encoded snapshots as interfaces.
	gob.Register(time.Time{})
	gob.Register([]any{})
	gob.Register(map[string]any{})
}

// Properties is the typed attribute map of a node.
//
// Values are restricted to string, int64, float64, bool, time.Time (dates),
// []any (lists) and map[string]any (objects), recursively. NormalizeProperties
// converts common Go types into this set.
type Properties map[string]any

// String returns a string property.
func (p Properties) String(key string) (string, bool) {
	s, ok := p[key].(string)
	return s, ok
}

// Bool returns a bool property. The strings "true" and "false" are accepted.
func (p Properties) Bool(key string) (bool, bool) {
	switch v := p[key].(type) {
	case bool:
		return v, true
	case string:
		switch strings.ToLower(v) {
		case "true":
			return true, true
		case "false":
			return false, true
		}
	}
	return false, false
}

// Time returns a date property. RFC 3339 strings are accepted.
func (p Properties) Time(key string) (time.Time, bool) {
	switch v := p[key].(type) {
	case time.Time:
		return v, true
	case string:
		t, err := time.Parse(time.RFC3339, v)
		return t, err == nil
	}
	return time.Time{}, false
}

// Strings returns a list property as strings, skipping non-string items.
// A plain string property is returned as a one-element list.
func (p Properties) Strings(key string) []string {
	switch v := p[key].(type) {
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return []string{v}
	}
	return nil
}

// Clone returns a deep copy.
func (p Properties) Clone() Properties {
	if p == nil {
		return nil
	}
	out := make(Properties, len(p))
	for k, v := range p {
		out[k] = cloneValue(v)
	}
	return out
}

// Equal reports whether two property maps hold the same values.
func (p Properties) Equal(o Properties) bool {
	if len(p) != len(o) {
		return false
	}
	return reflect.DeepEqual(map[string]any(p), map[string]any(o))
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = cloneValue(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, item := range x {
			out[k] = cloneValue(item)
		}
		return out
	}
	return v
}

// NormalizeProperties converts props into the supported value set.
//
// Description:
//
//	Integers of any width become int64, float32 becomes float64, typed
//	slices become []any and string-keyed maps become map[string]any. The
//	input map is not modified.
//
// Outputs:
//   - Properties: A new normalized map. Nil input yields an empty map.
//   - error: ValidationError naming the first unsupported key.
func NormalizeProperties(props map[string]any) (Properties, error) {
	out := make(Properties, len(props))
	for k, v := range props {
		nv, err := normalizeValue(v)
		if err != nil {
			return nil, invalid("properties."+k, "", err.Error())
		}
		out[k] = nv
	}
	return out, nil
}

func normalizeValue(v any) (any, error) {
	switch x := v.(type) {
	case string, bool, int64, float64, time.Time:
		return x, nil
	case int:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case uint:
		return int64(x), nil
	case uint8:
		return int64(x), nil
	case uint16:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case float32:
		return float64(x), nil
	case []string:
		out := make([]any, len(x))
		for i, s := range x {
			out[i] = s
		}
		return out, nil
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			nv, err := normalizeValue(item)
			if err != nil {
				return nil, err
			}
			out[i] = nv
		}
		return out, nil
	case map[string]string:
		out := make(map[string]any, len(x))
		for k, s := range x {
			out[k] = s
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(x))
		for _, k := range slices.Sorted(maps.Keys(x)) {
			nv, err := normalizeValue(x[k])
			if err != nil {
				return nil, err
			}
			out[k] = nv
		}
		return out, nil
	case Properties:
		return normalizeValue(map[string]any(x))
	case nil:
		return nil, fmt.Errorf("nil value")
	}
	return nil, fmt.Errorf("unsupported value type %T", v)
}
