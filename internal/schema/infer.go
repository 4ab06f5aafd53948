// Package schema infers a structural JSON schema from a set of sample
// values decoded from JSON bodies.
package schema

import (
	"encoding/json"
	"sort"

	"github.com/dgnsrekt/apiscope/internal/types"
)

// Enum bounds: a string gets an enum only when its distinct-value count
// falls inside [MinEnum, MaxEnum].
const (
	MinEnum = 2
	MaxEnum = 10
)

// maxDepth bounds recursion on adversarial nesting. Anything deeper is
// described by its type alone.
const maxDepth = 64

// Infer returns the schema describing samples, or nil for an empty set.
// The first non-null sample anchors the top-level type.
func Infer(samples []any) *types.Schema {
	return infer(samples, 0)
}

func infer(samples []any, depth int) *types.Schema {
	if len(samples) == 0 {
		return nil
	}
	anchor := types.SchemaNull
	for _, s := range samples {
		if k := kindOf(s); k != types.SchemaNull {
			anchor = k
			break
		}
	}

	matching := make([]any, 0, len(samples))
	for _, s := range samples {
		if kindOf(s) == anchor {
			matching = append(matching, s)
		}
	}

	switch anchor {
	case types.SchemaObject:
		if depth >= maxDepth {
			return &types.Schema{Type: types.SchemaObject}
		}
		return inferObject(matching, depth)
	case types.SchemaArray:
		if depth >= maxDepth {
			return &types.Schema{Type: types.SchemaArray}
		}
		return inferArray(matching, depth)
	case types.SchemaString:
		return inferString(matching)
	default:
		return &types.Schema{Type: anchor}
	}
}

func inferObject(samples []any, depth int) *types.Schema {
	var order []string
	values := map[string][]any{}
	seen := map[string]int{}
	for _, s := range samples {
		obj := s.(map[string]any)
		for k, v := range obj {
			if _, ok := values[k]; !ok {
				order = append(order, k)
			}
			values[k] = append(values[k], v)
			seen[k]++
		}
	}

	out := &types.Schema{Type: types.SchemaObject, Properties: map[string]*types.Schema{}}
	for _, k := range order {
		out.Properties[k] = inferField(values[k], depth+1)
		if seen[k] == len(samples) {
			out.Required = append(out.Required, k)
		}
	}
	sort.Strings(out.Required)
	return out
}

// inferField infers one property across samples. Values of differing
// kinds are unified, which collapses them to string.
func inferField(values []any, depth int) *types.Schema {
	kinds := map[string]struct{}{}
	for _, v := range values {
		if k := kindOf(v); k != types.SchemaNull {
			kinds[k] = struct{}{}
		}
	}
	if len(kinds) <= 1 {
		return infer(values, depth)
	}
	parts := make([]*types.Schema, 0, len(values))
	for _, v := range values {
		parts = append(parts, infer([]any{v}, depth))
	}
	return Unify(parts...)
}

func inferArray(samples []any, depth int) *types.Schema {
	var items []*types.Schema
	for _, s := range samples {
		for _, el := range s.([]any) {
			items = append(items, infer([]any{el}, depth+1))
		}
	}
	return &types.Schema{Type: types.SchemaArray, Items: Unify(items...)}
}

func inferString(samples []any) *types.Schema {
	var distinct []string
	seen := map[string]struct{}{}
	for _, s := range samples {
		v := s.(string)
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		distinct = append(distinct, v)
		if len(distinct) > MaxEnum {
			break
		}
	}
	out := &types.Schema{Type: types.SchemaString}
	if len(distinct) >= MinEnum && len(distinct) <= MaxEnum {
		out.Enum = distinct
	}
	return out
}

func kindOf(v any) string {
	switch v.(type) {
	case nil:
		return types.SchemaNull
	case map[string]any:
		return types.SchemaObject
	case []any:
		return types.SchemaArray
	case string:
		return types.SchemaString
	case bool:
		return types.SchemaBoolean
	case float64, float32, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64, json.Number:
		return types.SchemaNumber
	default:
		return types.SchemaString
	}
}
