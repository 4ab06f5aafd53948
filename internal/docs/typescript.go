package docs

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/dgnsrekt/apiscope/internal/pattern"
	"github.com/dgnsrekt/apiscope/internal/types"
)

var (
	nonIdent  = regexp.MustCompile(`[^A-Za-z0-9]+`)
	plainProp = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)
)

// InterfaceName derives a type identifier from a pattern, for example
// "/api/v1/users/:id" becomes "ApiV1UsersById". WebSocket endpoints get a
// "Ws" prefix so they never collide with an HTTP endpoint on the same path.
func InterfaceName(p, protocol string) string {
	var b strings.Builder
	if protocol == types.ProtocolWebSocket {
		b.WriteString("Ws")
	}
	for _, seg := range pattern.Segments(p) {
		if pattern.IsParam(seg) {
			b.WriteString("ById")
			continue
		}
		for _, part := range nonIdent.Split(seg, -1) {
			b.WriteString(capitalize(part))
		}
	}
	name := b.String()
	if name == "" || name == "Ws" {
		name += "Root"
	}
	if unicode.IsDigit(rune(name[0])) {
		name = "T" + name
	}
	return name
}

// TypeName names the declarations of one endpoint: the method, then the
// path's InterfaceName, as in "GetUsersById" or "PostUsers". WebSocket
// endpoints keep the bare "Ws" name.
func TypeName(ep *types.DiscoveredEndpoint) string {
	name := InterfaceName(ep.Path, ep.Protocol)
	if ep.Protocol == types.ProtocolWebSocket || ep.Method == "" {
		return name
	}
	return capitalize(strings.ToLower(ep.Method)) + name
}

func capitalize(s string) string {
	if s == "" {
		return ""
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// TypeScript renders one interface per request schema and per status-coded
// response schema. Non-object schemas become type aliases.
func TypeScript(endpoints []*types.DiscoveredEndpoint) string {
	var b strings.Builder
	b.WriteString("// Generated from captured traffic.\n")
	for _, ep := range endpoints {
		base := TypeName(ep)
		if ep.RequestSchema != nil {
			writeDecl(&b, base+"Request", ep, "request body", ep.RequestSchema)
		}
		for _, status := range sortedStatuses(ep.ResponseSchemas) {
			writeDecl(&b, base+"Response"+status, ep, status+" response", ep.ResponseSchemas[status])
		}
	}
	return b.String()
}

func writeDecl(b *strings.Builder, name string, ep *types.DiscoveredEndpoint, what string, s *types.Schema) {
	fmt.Fprintf(b, "\n/** %s: %s */\n", ep.Pattern, what)
	if s.Type == types.SchemaObject && len(s.Properties) > 0 {
		fmt.Fprintf(b, "export interface %s %s\n", name, objectType(s, 0))
		return
	}
	fmt.Fprintf(b, "export type %s = %s;\n", name, tsType(s, 0))
}

func tsType(s *types.Schema, depth int) string {
	if s == nil {
		return "unknown"
	}
	switch s.Type {
	case types.SchemaObject:
		return objectType(s, depth)
	case types.SchemaArray:
		item := tsType(s.Items, depth)
		if s.Items == nil {
			item = "unknown"
		}
		if strings.ContainsAny(item, " |") {
			return "Array<" + item + ">"
		}
		return item + "[]"
	case types.SchemaString:
		if len(s.Enum) > 0 {
			quoted := make([]string, len(s.Enum))
			for i, v := range s.Enum {
				quoted[i] = fmt.Sprintf("%q", v)
			}
			return strings.Join(quoted, " | ")
		}
		return "string"
	case types.SchemaNumber:
		return "number"
	case types.SchemaBoolean:
		return "boolean"
	case types.SchemaNull:
		return "null"
	}
	return "unknown"
}

func objectType(s *types.Schema, depth int) string {
	if len(s.Properties) == 0 {
		return "Record<string, unknown>"
	}
	required := make(map[string]bool, len(s.Required))
	for _, r := range s.Required {
		required[r] = true
	}
	keys := make([]string, 0, len(s.Properties))
	for k := range s.Properties {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	indent := strings.Repeat("  ", depth+1)
	var b strings.Builder
	b.WriteString("{\n")
	for _, k := range keys {
		name := k
		if !plainProp.MatchString(k) {
			name = fmt.Sprintf("%q", k)
		}
		opt := "?"
		if required[k] {
			opt = ""
		}
		fmt.Fprintf(&b, "%s%s%s: %s;\n", indent, name, opt, tsType(s.Properties[k], depth+1))
	}
	b.WriteString(strings.Repeat("  ", depth))
	b.WriteString("}")
	return b.String()
}
