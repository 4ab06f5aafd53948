package rewrite

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var urlAttrs = []struct {
	selector string
	attr     string
}{
	{"a[href]", "href"},
	{"link[href]", "href"},
	{"area[href]", "href"},
	{"img[src]", "src"},
	{"script[src]", "src"},
	{"iframe[src]", "src"},
	{"frame[src]", "src"},
	{"source[src]", "src"},
	{"video[src]", "src"},
	{"audio[src]", "src"},
	{"track[src]", "src"},
	{"embed[src]", "src"},
	{"input[src]", "src"},
	{"video[poster]", "poster"},
	{"object[data]", "data"},
	{"form[action]", "action"},
	{"button[formaction]", "formaction"},
}

var refreshURL = regexp.MustCompile(`(?i)^(\s*\d+\s*;\s*url\s*=\s*)(['"]?)(.*?)(['"]?)\s*$`)

// HTML rewrites one document. The result carries a <base> tag pointing at
// the proxy prefix followed by the interceptor script, both at the top of
// <head>. Existing <base> tags and Content-Security-Policy meta tags are
// removed.
func (r *Rewriter) HTML(body []byte) ([]byte, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	for _, ua := range urlAttrs {
		doc.Find(ua.selector).Each(func(_ int, s *goquery.Selection) {
			if v, ok := s.Attr(ua.attr); ok {
				s.SetAttr(ua.attr, r.URL(v))
			}
		})
	}
	doc.Find("img[srcset], source[srcset]").Each(func(_ int, s *goquery.Selection) {
		if v, ok := s.Attr("srcset"); ok {
			s.SetAttr("srcset", r.srcset(v))
		}
	})
	doc.Find("[style]").Each(func(_ int, s *goquery.Selection) {
		if v, ok := s.Attr("style"); ok {
			s.SetAttr("style", r.CSS(v))
		}
	})
	doc.Find("style").Each(func(_ int, s *goquery.Selection) {
		css := s.Text()
		if out := r.CSS(css); out != css {
			setRawText(s, out)
		}
	})
	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		if _, ok := s.Attr("src"); ok || !isJavaScript(s.AttrOr("type", "")) {
			return
		}
		js := s.Text()
		if out := r.Script(js); out != js {
			setRawText(s, out)
		}
	})
	doc.Find("meta[http-equiv]").Each(func(_ int, s *goquery.Selection) {
		switch strings.ToLower(s.AttrOr("http-equiv", "")) {
		case "content-security-policy", "content-security-policy-report-only":
			s.Remove()
		case "refresh":
			if v, ok := s.Attr("content"); ok {
				s.SetAttr("content", r.refresh(v))
			}
		}
	})
	doc.Find("base").Remove()

	script, err := r.Interceptor()
	if err != nil {
		return nil, err
	}
	head := doc.Find("head").First()
	if head.Length() == 0 {
		// html.Parse always synthesizes <head>; this only guards fragments.
		return nil, fmt.Errorf("document has no head element")
	}
	base := &html.Node{
		Type:     html.ElementNode,
		DataAtom: atom.Base,
		Data:     "base",
		Attr:     []html.Attribute{{Key: "href", Val: r.prefix + "/"}},
	}
	inject := &html.Node{
		Type:     html.ElementNode,
		DataAtom: atom.Script,
		Data:     "script",
		Attr:     []html.Attribute{{Key: "data-apiscope", Val: "interceptor"}},
	}
	inject.AppendChild(&html.Node{Type: html.TextNode, Data: script})
	head.PrependNodes(base, inject)

	var buf bytes.Buffer
	if err := goquery.Render(&buf, doc.Selection); err != nil {
		return nil, fmt.Errorf("render html: %w", err)
	}
	return buf.Bytes(), nil
}

// setRawText replaces the children of script and style elements with one
// unescaped text node. Selection.SetText escapes, which corrupts raw text
// elements.
func setRawText(s *goquery.Selection, text string) {
	s.Empty()
	s.AppendNodes(&html.Node{Type: html.TextNode, Data: text})
}

func (r *Rewriter) srcset(v string) string {
	parts := strings.Split(v, ",")
	for i, p := range parts {
		fields := strings.Fields(p)
		if len(fields) == 0 {
			continue
		}
		fields[0] = r.URL(fields[0])
		parts[i] = strings.Join(fields, " ")
	}
	return strings.Join(parts, ", ")
}

func (r *Rewriter) refresh(v string) string {
	m := refreshURL.FindStringSubmatch(v)
	if m == nil {
		return v
	}
	return m[1] + m[2] + r.URL(m[3]) + m[4]
}

func isJavaScript(typ string) bool {
	switch strings.ToLower(strings.TrimSpace(typ)) {
	case "", "text/javascript", "application/javascript", "module", "text/ecmascript", "application/ecmascript":
		return true
	}
	return false
}
