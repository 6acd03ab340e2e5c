// Package excerpt pulls titles, links and linking context out of HTML
// documents.
package excerpt

import (
	"fmt"
	"html"
	"io"
	"regexp"
	"strings"

	xhtml "golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/net/html/charset"

	"github.com/WhileEndless/go-pingback/pkg/constants"
)

var (
	chunkRe   = regexp.MustCompile(`(?i)\n\n|<(?:p|div|h\d)[^>]*>`)
	tagRe     = regexp.MustCompile(`(?s)<!--.*?-->|<[^>]*>`)
	contextRe = regexp.MustCompile(fmt.Sprintf(`(?:^|\b)(.{0,%d})\x00(.{0,%d})(?:\b|$)`,
		constants.ExcerptWindow, constants.ExcerptWindow))
)

// Excerpt is what Extract found. HasTitle and HasBody report whether the
// matching field was found at all.
type Excerpt struct {
	Title    string
	Body     string
	HasTitle bool
	HasBody  bool
}

// Extract finds the document title and the text surrounding the first link
// to targetURL. Only the first constants.MaxExcerptSource bytes of doc are
// considered.
func Extract(doc, targetURL string) Excerpt {
	if len(doc) > constants.MaxExcerptSource {
		doc = doc[:constants.MaxExcerptSource]
	}

	var ex Excerpt
	ex.Title, ex.HasTitle = Title(strings.NewReader(doc))

	linkRe := linkPattern(targetURL)
	for _, chunk := range chunkRe.Split(doc, -1) {
		loc := linkRe.FindStringSubmatchIndex(chunk)
		if loc == nil {
			continue
		}
		before := strings.ReplaceAll(StripTags(chunk[:loc[0]]), "\x00", "")
		after := strings.ReplaceAll(StripTags(chunk[loc[1]:]), "\x00", "")
		m := contextRe.FindStringSubmatch(before + "\x00" + after)
		if m == nil {
			continue
		}

		linkText := StripTags(chunk[loc[2]:loc[3]])
		if r := []rune(linkText); len(r) > constants.LinkTextLimit {
			linkText = string(r[:constants.LinkTextLimit]) + " …"
		}
		words := strings.Fields(m[1])
		words = append(words, linkText)
		words = append(words, strings.Fields(m[2])...)
		ex.Body = "[…] " + strings.Join(words, " ") + " […]"
		ex.HasBody = true
		break
	}
	return ex
}

// linkPattern matches an anchor whose quoted href is target, literally or
// with HTML escaping. Group 1 is the link text.
func linkPattern(target string) *regexp.Regexp {
	alts := regexp.QuoteMeta(target)
	if esc := html.EscapeString(target); esc != target {
		alts += "|" + regexp.QuoteMeta(esc)
	}
	return regexp.MustCompile(`(?is)<a[^>]+?["']\s*(?:` + alts + `)\s*["'][^>]*>(.*?)</a>`)
}

// StripTags removes markup and comments, unescapes entities and collapses
// runs of whitespace.
func StripTags(s string) string {
	s = tagRe.ReplaceAllString(s, "")
	return strings.Join(strings.Fields(html.UnescapeString(s)), " ")
}

// Title returns the stripped text of the first <title> element. A blank
// title counts as missing.
func Title(r io.Reader) (string, bool) {
	z := xhtml.NewTokenizer(r)
	for {
		switch z.Next() {
		case xhtml.ErrorToken:
			return "", false
		case xhtml.StartTagToken:
			name, _ := z.TagName()
			if atom.Lookup(name) != atom.Title {
				continue
			}
			var b strings.Builder
			for {
				tt := z.Next()
				if tt == xhtml.ErrorToken || tt == xhtml.EndTagToken {
					break
				}
				if tt == xhtml.TextToken {
					b.Write(z.Text())
				}
			}
			title := strings.Join(strings.Fields(b.String()), " ")
			return title, title != ""
		}
	}
}

// Links returns the distinct href values of all <a> elements in document
// order.
func Links(r io.Reader) []string {
	var (
		links []string
		seen  = make(map[string]bool)
	)
	z := xhtml.NewTokenizer(r)
	for {
		switch z.Next() {
		case xhtml.ErrorToken:
			return links
		case xhtml.StartTagToken, xhtml.SelfClosingTagToken:
			t := z.Token()
			if t.DataAtom != atom.A {
				continue
			}
			href := strings.TrimSpace(attr(t, "href"))
			if href != "" && !seen[href] {
				seen[href] = true
				links = append(links, href)
			}
		}
	}
}

// PingbackLink finds the first <link rel="pingback" href="..."> and returns
// its href. The tokenizer stops as soon as the tag is found, so r is only
// read as far as needed.
func PingbackLink(r io.Reader) (string, bool) {
	z := xhtml.NewTokenizer(r)
	for {
		switch z.Next() {
		case xhtml.ErrorToken:
			return "", false
		case xhtml.StartTagToken, xhtml.SelfClosingTagToken:
			t := z.Token()
			if t.DataAtom != atom.Link {
				continue
			}
			if !hasToken(attr(t, "rel"), "pingback") {
				continue
			}
			if href := strings.TrimSpace(attr(t, "href")); href != "" {
				return href, true
			}
		}
	}
}

// DecodeHTML reads r and converts it to UTF-8, using the charset from
// contentType or sniffing the document when none is declared.
func DecodeHTML(r io.Reader, contentType string) (string, error) {
	cr, err := charset.NewReader(r, contentType)
	if err != nil {
		return "", fmt.Errorf("detect charset: %w", err)
	}
	b, err := io.ReadAll(cr)
	return string(b), err
}

func attr(t xhtml.Token, name string) string {
	for _, a := range t.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

func hasToken(list, want string) bool {
	for _, f := range strings.Fields(list) {
		if strings.EqualFold(f, want) {
			return true
		}
	}
	return false
}
