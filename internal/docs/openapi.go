package docs

import (
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
	"gopkg.in/yaml.v3"

	"github.com/dgnsrekt/apiscope/internal/headers"
	"github.com/dgnsrekt/apiscope/internal/pattern"
	"github.com/dgnsrekt/apiscope/internal/types"
	"github.com/dgnsrekt/apiscope/internal/variation"
)

// OpenAPIVersion is the document version emitted.
const OpenAPIVersion = "3.1.0"

// Document is the subset of OpenAPI 3.1 the generator fills in.
type Document struct {
	OpenAPI    string              `json:"openapi" yaml:"openapi"`
	Info       Info                `json:"info" yaml:"info"`
	Servers    []Server            `json:"servers,omitempty" yaml:"servers,omitempty"`
	Paths      map[string]PathItem `json:"paths" yaml:"paths"`
	Components *Components         `json:"components,omitempty" yaml:"components,omitempty"`
}

type Info struct {
	Title       string `json:"title" yaml:"title"`
	Version     string `json:"version" yaml:"version"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

type Server struct {
	URL string `json:"url" yaml:"url"`
}

// PathItem maps a lower-case HTTP method to its operation.
type PathItem map[string]*Operation

type Operation struct {
	OperationID string                `json:"operationId" yaml:"operationId"`
	Summary     string                `json:"summary,omitempty" yaml:"summary,omitempty"`
	Description string                `json:"description,omitempty" yaml:"description,omitempty"`
	Tags        []string              `json:"tags,omitempty" yaml:"tags,omitempty"`
	Parameters  []Parameter           `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	RequestBody *RequestBody          `json:"requestBody,omitempty" yaml:"requestBody,omitempty"`
	Responses   map[string]Response   `json:"responses" yaml:"responses"`
	Security    []map[string][]string `json:"security,omitempty" yaml:"security,omitempty"`
}

type Parameter struct {
	Name     string        `json:"name" yaml:"name"`
	In       string        `json:"in" yaml:"in"`
	Required bool          `json:"required" yaml:"required"`
	Schema   *types.Schema `json:"schema" yaml:"schema"`
}

type RequestBody struct {
	Required bool                 `json:"required" yaml:"required"`
	Content  map[string]MediaType `json:"content" yaml:"content"`
}

type Response struct {
	Description string               `json:"description" yaml:"description"`
	Content     map[string]MediaType `json:"content,omitempty" yaml:"content,omitempty"`
}

type MediaType struct {
	Schema Ref `json:"schema" yaml:"schema"`
}

// Ref points at a component schema.
type Ref struct {
	Ref string `json:"'$ref'" yaml:"$ref"`
}

type Components struct {
	Schemas         map[string]*types.Schema  `json:"schemas,omitempty" yaml:"schemas,omitempty"`
	SecuritySchemes map[string]SecurityScheme `json:"securitySchemes,omitempty" yaml:"securitySchemes,omitempty"`
}

type SecurityScheme struct {
	Type   string `json:"type" yaml:"type"`
	Scheme string `json:"scheme,omitempty" yaml:"scheme,omitempty"`
	In     string `json:"in,omitempty" yaml:"in,omitempty"`
	Name   string `json:"name,omitempty" yaml:"name,omitempty"`
}

const jsonMedia = "application/json"

// OpenAPI builds the document for a proxy's endpoints. WebSocket endpoints
// appear as GET operations answering 101 unless an HTTP endpoint already
// claims the same path and method.
func OpenAPI(proxy *types.Proxy, endpoints []*types.DiscoveredEndpoint, version string) *Document {
	doc := &Document{
		OpenAPI: OpenAPIVersion,
		Info: Info{
			Title:       title(proxy),
			Version:     version,
			Description: "Generated from traffic captured through proxy " + proxy.ID + ".",
		},
		Paths: make(map[string]PathItem),
	}
	if proxy.DestinationURL != "" {
		doc.Servers = []Server{{URL: strings.TrimRight(proxy.DestinationURL, "/")}}
	}
	comps := &Components{
		Schemas:         make(map[string]*types.Schema),
		SecuritySchemes: make(map[string]SecurityScheme),
	}

	ordered := append([]*types.DiscoveredEndpoint(nil), endpoints...)
	sort.SliceStable(ordered, func(i, j int) bool {
		// HTTP endpoints claim their operations first.
		return ordered[i].Protocol == types.ProtocolHTTP && ordered[j].Protocol != types.ProtocolHTTP
	})

	for _, ep := range ordered {
		method := ep.Method
		if ep.Protocol == types.ProtocolWebSocket || method == "" {
			method = http.MethodGet
		}
		key := strings.ToLower(method)
		path, params := openAPIPath(ep.Path)
		item, ok := doc.Paths[path]
		if !ok {
			item = make(PathItem)
			doc.Paths[path] = item
		}
		if _, taken := item[key]; taken {
			continue
		}
		base := TypeName(ep)

		var reqRef string
		if ep.RequestSchema != nil {
			reqRef = base + "Request"
			comps.Schemas[reqRef] = ep.RequestSchema
		}
		responses := make(map[string]Response)
		for _, status := range sortedStatuses(ep.ResponseSchemas) {
			name := base + "Response" + status
			comps.Schemas[name] = ep.ResponseSchemas[status]
			responses[status] = Response{
				Description: statusText(status),
				Content:     map[string]MediaType{jsonMedia: {Schema: Ref{Ref: componentRef(name)}}},
			}
		}

		if ep.Protocol == types.ProtocolWebSocket {
			responses = map[string]Response{"101": {Description: "Switching Protocols"}}
		}
		if len(responses) == 0 {
			responses["default"] = Response{Description: "Observed response without a JSON body"}
		}

		var security []map[string][]string
		if ep.AuthRequired {
			name, scheme := securityScheme(ep.AuthType)
			comps.SecuritySchemes[name] = scheme
			security = []map[string][]string{{name: {}}}
		}

		op := &Operation{
			OperationID: lowerFirst(base),
			Summary:     method + " " + ep.Path,
			Description: ep.Description,
			Tags:        []string{tag(ep.Path)},
			Parameters:  params,
			Responses:   responses,
			Security:    security,
		}
		if reqRef != "" && carriesBody(method) {
			op.RequestBody = &RequestBody{
				Required: true,
				Content:  map[string]MediaType{jsonMedia: {Schema: Ref{Ref: componentRef(reqRef)}}},
			}
		}
		item[key] = op
	}

	if len(comps.Schemas) > 0 || len(comps.SecuritySchemes) > 0 {
		if len(comps.Schemas) == 0 {
			comps.Schemas = nil
		}
		if len(comps.SecuritySchemes) == 0 {
			comps.SecuritySchemes = nil
		}
		doc.Components = comps
	}
	return doc
}

// JSON renders the document as indented JSON with sorted map keys.
func (d *Document) JSON() ([]byte, error) {
	return json.Marshal(d, json.Deterministic(true), jsontext.WithIndent("  "))
}

// YAML renders the document as YAML.
func (d *Document) YAML() ([]byte, error) {
	return yaml.Marshal(d)
}

// ParseDocument decodes a stored JSON document.
func ParseDocument(data []byte) (*Document, error) {
	var d Document
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// openAPIPath turns "/users/:id" into "/users/{users_id}" and returns the
// matching path parameters.
func openAPIPath(p string) (string, []Parameter) {
	segs := pattern.Segments(p)
	if len(segs) == 0 {
		return "/", nil
	}
	var params []Parameter
	used := make(map[string]int)
	out := make([]string, len(segs))
	for i, seg := range segs {
		out[i] = seg
		if !pattern.IsParam(seg) {
			continue
		}
		name := variation.ParamName(segs, i)
		used[name]++
		if n := used[name]; n > 1 {
			name = name + "_" + strconv.Itoa(n)
		}
		out[i] = "{" + name + "}"
		params = append(params, Parameter{
			Name:     name,
			In:       "path",
			Required: true,
			Schema:   &types.Schema{Type: types.SchemaString},
		})
	}
	return "/" + strings.Join(out, "/"), params
}

func securityScheme(authType string) (string, SecurityScheme) {
	switch authType {
	case headers.SchemeBearer:
		return "bearerAuth", SecurityScheme{Type: "http", Scheme: "bearer"}
	case headers.SchemeBasic:
		return "basicAuth", SecurityScheme{Type: "http", Scheme: "basic"}
	}
	return "authorizationHeader", SecurityScheme{Type: "apiKey", In: "header", Name: "Authorization"}
}

func componentRef(name string) string {
	return "#/components/schemas/" + name
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

func tag(p string) string {
	for _, seg := range pattern.Segments(p) {
		if !pattern.IsParam(seg) {
			return seg
		}
	}
	return "root"
}

func title(proxy *types.Proxy) string {
	if proxy.Name != "" {
		return proxy.Name + " API"
	}
	return "Proxy " + proxy.ID + " API"
}

func statusText(status string) string {
	code, _ := strconv.Atoi(status)
	if t := http.StatusText(code); t != "" {
		return t
	}
	return "Observed response"
}

func carriesBody(method string) bool {
	switch strings.ToUpper(method) {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	}
	return false
}

func sortedStatuses(m map[string]*types.Schema) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
