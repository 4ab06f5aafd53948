// Package variation groups the concrete values observed for one endpoint
// pattern: path parameters, query parameters, and request payloads.
package variation

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"

	"github.com/dgnsrekt/apiscope/internal/pattern"
	"github.com/dgnsrekt/apiscope/internal/types"
)

// ValueCount is one distinct observed value with its frequency.
type ValueCount struct {
	Value      string `json:"value"`
	Count      int    `json:"count"`
	ExampleURL string `json:"example_url"`
}

// Parameter lists the observed values of one named parameter, most
// frequent first.
type Parameter struct {
	Name     string       `json:"name"`
	Position int          `json:"position,omitempty"`
	Values   []ValueCount `json:"values"`
}

// Report is the full variation breakdown of a pattern.
type Report struct {
	Pattern     string       `json:"pattern"`
	URLParams   []Parameter  `json:"url_params"`
	QueryParams []Parameter  `json:"query_params"`
	Payloads    []ValueCount `json:"payloads"`
}

// Group computes variations for calls sharing key, which may be a bare
// normalized path or a "METHOD path" grouping key.
func Group(key string, calls []*types.CapturedCall) Report {
	_, path := pattern.Split(key)
	return Report{
		Pattern:     key,
		URLParams:   URLParams(path, calls),
		QueryParams: QueryParams(calls),
		Payloads:    Payloads(calls),
	}
}

// URLParams aligns each call's path against the pattern segment by
// segment and tallies the values found at placeholder positions. Calls
// whose path does not align are skipped.
func URLParams(path string, calls []*types.CapturedCall) []Parameter {
	segs := pattern.Segments(path)
	var positions []int
	names := map[int]string{}
	for i, s := range segs {
		if !pattern.IsParam(s) {
			continue
		}
		positions = append(positions, i)
		names[i] = ParamName(segs, i)
	}
	if len(positions) == 0 {
		return nil
	}

	tallies := make(map[int]*tally, len(positions))
	for _, p := range positions {
		tallies[p] = newTally()
	}
	for _, c := range calls {
		if c == nil {
			continue
		}
		u, err := url.Parse(c.URL)
		if err != nil {
			continue
		}
		concrete := pattern.Segments(u.Path)
		if len(concrete) != len(segs) {
			continue
		}
		for _, p := range positions {
			tallies[p].add(concrete[p], c.URL)
		}
	}

	out := make([]Parameter, 0, len(positions))
	for _, p := range positions {
		out = append(out, Parameter{Name: names[p], Position: p, Values: tallies[p].sorted()})
	}
	return out
}

// ParamName names a placeholder after the static segment before it.
func ParamName(segs []string, i int) string {
	for j := i - 1; j >= 0; j-- {
		if !pattern.IsParam(segs[j]) {
			return segs[j] + "_id"
		}
	}
	return fmt.Sprintf("param%d", i)
}

// QueryParams tallies query parameter values by name.
func QueryParams(calls []*types.CapturedCall) []Parameter {
	tallies := map[string]*tally{}
	for _, c := range calls {
		if c == nil {
			continue
		}
		for k, v := range queryOf(c) {
			t, ok := tallies[k]
			if !ok {
				t = newTally()
				tallies[k] = t
			}
			t.add(v, c.URL)
		}
	}
	names := make([]string, 0, len(tallies))
	for k := range tallies {
		names = append(names, k)
	}
	sort.Strings(names)

	out := make([]Parameter, 0, len(names))
	for _, k := range names {
		out = append(out, Parameter{Name: k, Values: tallies[k].sorted()})
	}
	return out
}

func queryOf(c *types.CapturedCall) map[string]string {
	if c.QueryParams != nil {
		return c.QueryParams
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return nil
	}
	q := u.Query()
	if len(q) == 0 {
		return nil
	}
	out := make(map[string]string, len(q))
	for k, vs := range q {
		out[k] = strings.Join(vs, ",")
	}
	return out
}

// Payloads groups request bodies of POST, PUT, and PATCH calls. Parsed
// JSON is canonicalized so key order does not split groups.
func Payloads(calls []*types.CapturedCall) []ValueCount {
	t := newTally()
	for _, c := range calls {
		if c == nil || !carriesBody(c.Method) {
			continue
		}
		if p := payloadOf(c); p != "" {
			t.add(p, c.URL)
		}
	}
	return t.sorted()
}

func carriesBody(method string) bool {
	switch strings.ToUpper(method) {
	case "POST", "PUT", "PATCH":
		return true
	}
	return false
}

func payloadOf(c *types.CapturedCall) string {
	if c.Request.JSON != nil {
		if s, ok := canonicalJSON(c.Request.JSON); ok {
			return s
		}
	}
	raw := strings.TrimSpace(c.Request.Body)
	if raw == "" {
		return ""
	}
	v := jsontext.Value(raw)
	if v.IsValid() {
		if err := v.Canonicalize(); err == nil {
			return string(v)
		}
	}
	return raw
}

// Canonical returns the RFC 8785 form of a decoded JSON value.
func Canonical(v any) (string, bool) {
	return canonicalJSON(v)
}

func canonicalJSON(v any) (string, bool) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", false
	}
	val := jsontext.Value(b)
	if err := val.Canonicalize(); err != nil {
		return "", false
	}
	return string(val), true
}

type tally struct {
	counts  map[string]int
	example map[string]string
	order   []string
}

func newTally() *tally {
	return &tally{counts: map[string]int{}, example: map[string]string{}}
}

func (t *tally) add(value, exampleURL string) {
	if _, ok := t.counts[value]; !ok {
		t.order = append(t.order, value)
		t.example[value] = exampleURL
	}
	t.counts[value]++
}

// sorted returns values by count descending, ties in first-seen order.
func (t *tally) sorted() []ValueCount {
	out := make([]ValueCount, 0, len(t.order))
	for _, v := range t.order {
		out = append(out, ValueCount{Value: v, Count: t.counts[v], ExampleURL: t.example[v]})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	return out
}
