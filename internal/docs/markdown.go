package docs

import (
	"bytes"
	_ "embed"
	"fmt"
	"text/template"
	"time"

	"github.com/Masterminds/sprig/v3"
	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"

	"github.com/dgnsrekt/apiscope/internal/types"
)

//go:embed api.md.tmpl
var markdownTemplate string

var markdownTmpl = template.Must(template.New("api.md").Funcs(markdownFuncs()).Parse(markdownTemplate))

func markdownFuncs() template.FuncMap {
	funcs := sprig.TxtFuncMap()
	funcs["schemaJSON"] = schemaJSON
	funcs["statuses"] = sortedStatuses
	return funcs
}

func schemaJSON(s *types.Schema) string {
	out, err := json.Marshal(s, json.Deterministic(true), jsontext.WithIndent("  "))
	if err != nil {
		return fmt.Sprintf("/* %v */", err)
	}
	return string(out)
}

type markdownData struct {
	Title       string
	Destination string
	Version     int
	GeneratedAt time.Time
	Endpoints   []*types.DiscoveredEndpoint
}

// Markdown renders one section per endpoint: title, methods, an auth line
// when required, and the request and response schemas as code blocks.
func Markdown(proxy *types.Proxy, endpoints []*types.DiscoveredEndpoint, version int, at time.Time) (string, error) {
	var buf bytes.Buffer
	err := markdownTmpl.Execute(&buf, markdownData{
		Title:       title(proxy),
		Destination: proxy.DestinationURL,
		Version:     version,
		GeneratedAt: at.UTC(),
		Endpoints:   endpoints,
	})
	if err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return buf.String(), nil
}
