package rewrite

import (
	"regexp"
	"strings"
)

var (
	fetchLiteral  = regexp.MustCompile("fetch\\(\\s*(['\"`])([^'\"`]+)(['\"`])")
	xhrOpen       = regexp.MustCompile("\\.open\\(\\s*(['\"])([A-Za-z]+)(['\"])\\s*,\\s*(['\"`])([^'\"`]+)(['\"`])")
	socketLiteral = regexp.MustCompile("(['\"`])(wss?://[^'\"`\\s]+)(['\"`])")
)

// Script rewrites string literals passed to fetch and XMLHttpRequest.open,
// and ws:// or wss:// literals, inside inline JavaScript. Template literals
// with substitutions are left alone.
func (r *Rewriter) Script(js string) string {
	out := fetchLiteral.ReplaceAllStringFunc(js, func(m string) string {
		sub := fetchLiteral.FindStringSubmatch(m)
		if !literal(sub[1], sub[2], sub[3]) {
			return m
		}
		return "fetch(" + sub[1] + r.URL(sub[2]) + sub[3]
	})
	out = xhrOpen.ReplaceAllStringFunc(out, func(m string) string {
		sub := xhrOpen.FindStringSubmatch(m)
		if sub[1] != sub[3] || !literal(sub[4], sub[5], sub[6]) {
			return m
		}
		return ".open(" + sub[1] + sub[2] + sub[3] + ", " + sub[4] + r.URL(sub[5]) + sub[6]
	})
	return socketLiteral.ReplaceAllStringFunc(out, func(m string) string {
		sub := socketLiteral.FindStringSubmatch(m)
		if !literal(sub[1], sub[2], sub[3]) {
			return m
		}
		return sub[1] + r.Socket(sub[2]) + sub[3]
	})
}

func literal(open, body, close string) bool {
	if open != close {
		return false
	}
	return open != "`" || !strings.Contains(body, "${")
}
