package schema

import (
	"sort"

	"github.com/dgnsrekt/apiscope/internal/types"
)

// Unify merges schemas into one. Nil inputs are ignored and null schemas
// give way to any non-null schema. Inputs sharing one type merge
// recursively; any type conflict collapses to string.
func Unify(schemas ...*types.Schema) *types.Schema {
	var nonNull []*types.Schema
	var sawNull bool
	for _, s := range schemas {
		switch {
		case s == nil:
		case s.Type == types.SchemaNull:
			sawNull = true
		default:
			nonNull = append(nonNull, s)
		}
	}
	if len(nonNull) == 0 {
		if sawNull {
			return &types.Schema{Type: types.SchemaNull}
		}
		return nil
	}

	kind := nonNull[0].Type
	for _, s := range nonNull[1:] {
		if s.Type != kind {
			return &types.Schema{Type: types.SchemaString}
		}
	}

	switch kind {
	case types.SchemaObject:
		return unifyObjects(nonNull)
	case types.SchemaArray:
		items := make([]*types.Schema, 0, len(nonNull))
		for _, s := range nonNull {
			items = append(items, s.Items)
		}
		return &types.Schema{Type: types.SchemaArray, Items: Unify(items...)}
	case types.SchemaString:
		return unifyStrings(nonNull)
	default:
		return &types.Schema{Type: kind}
	}
}

func unifyObjects(schemas []*types.Schema) *types.Schema {
	props := map[string][]*types.Schema{}
	requiredCount := map[string]int{}
	for _, s := range schemas {
		for k, p := range s.Properties {
			props[k] = append(props[k], p)
		}
		for _, r := range s.Required {
			requiredCount[r]++
		}
	}
	out := &types.Schema{Type: types.SchemaObject, Properties: make(map[string]*types.Schema, len(props))}
	for k, ps := range props {
		out.Properties[k] = Unify(ps...)
		if requiredCount[k] == len(schemas) {
			out.Required = append(out.Required, k)
		}
	}
	sort.Strings(out.Required)
	return out
}

// unifyStrings unions the enums of its inputs. A plain string input means
// the values are unbounded, so the result has no enum.
func unifyStrings(schemas []*types.Schema) *types.Schema {
	out := &types.Schema{Type: types.SchemaString}
	seen := map[string]struct{}{}
	var values []string
	for _, s := range schemas {
		if len(s.Enum) == 0 && len(schemas) > 1 {
			return out
		}
		for _, v := range s.Enum {
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			values = append(values, v)
		}
	}
	if len(values) >= MinEnum && len(values) <= MaxEnum {
		out.Enum = values
	}
	return out
}
