package rewrite

import (
	"regexp"
	"strings"
)

var (
	cssURL    = regexp.MustCompile(`(?i)url\(\s*(['"]?)([^'")]*)(['"]?)\s*\)`)
	cssImport = regexp.MustCompile(`(?i)@import\s+(['"])([^'"]+)(['"])`)
)

// CSS rewrites url(...) references and string @import targets.
func (r *Rewriter) CSS(css string) string {
	if !strings.Contains(css, "url(") && !strings.Contains(strings.ToLower(css), "@import") {
		return css
	}
	out := cssURL.ReplaceAllStringFunc(css, func(m string) string {
		sub := cssURL.FindStringSubmatch(m)
		if sub[1] != sub[3] {
			return m
		}
		rewritten := r.URL(sub[2])
		if rewritten == sub[2] {
			return m
		}
		return "url(" + sub[1] + rewritten + sub[3] + ")"
	})
	return cssImport.ReplaceAllStringFunc(out, func(m string) string {
		sub := cssImport.FindStringSubmatch(m)
		if sub[1] != sub[3] {
			return m
		}
		return "@import " + sub[1] + r.URL(sub[2]) + sub[3]
	})
}
