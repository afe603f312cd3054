// Package render acquires quiz pages: a lightweight static fetch first,
// escalating to a headless browser when the page needs script execution.
package render

import (
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// Page is a rendered quiz page.
type Page struct {
	URL     string
	HTML    string
	Text    string
	Links   []Link
	Dynamic bool
}

// Link is a discovered anchor: its resolved target plus the visible text,
// since pages often label a data file only in the anchor text.
type Link struct {
	URL  string
	Text string
}

// Origin returns the scheme://host of the page URL, or "" when unparseable.
func (p *Page) Origin() string {
	u, err := url.Parse(p.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

// skippedTags are elements whose text never renders.
var skippedTags = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"head":     true,
	"meta":     true,
	"link":     true,
	"template": true,
}

// VisibleText extracts the rendered text of an HTML document, skipping
// non-visible elements and collapsing whitespace.
func VisibleText(rawHTML string) string {
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return normalizeSpace(rawHTML)
	}

	var sb strings.Builder
	var traverse func(*html.Node)
	traverse = func(n *html.Node) {
		if n.Type == html.ElementNode && skippedTags[n.Data] {
			return
		}
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteString(" ")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			traverse(c)
		}
	}
	traverse(doc)

	return normalizeSpace(sb.String())
}

// Links returns all anchor targets resolved against the page URL, each
// paired with its visible anchor text. Unparseable or non-http targets are
// skipped.
func Links(rawHTML, pageURL string) []Link {
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return nil
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}

	var links []Link
	var traverse func(*html.Node)
	traverse = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, attr := range n.Attr {
				if attr.Key != "href" {
					continue
				}
				ref, err := url.Parse(strings.TrimSpace(attr.Val))
				if err != nil {
					continue
				}
				resolved := base.ResolveReference(ref)
				if resolved.Scheme == "http" || resolved.Scheme == "https" {
					links = append(links, Link{
						URL:  resolved.String(),
						Text: anchorText(n),
					})
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			traverse(c)
		}
	}
	traverse(doc)

	return links
}

// anchorText collects the text nodes under an anchor element.
func anchorText(n *html.Node) string {
	var sb strings.Builder
	var collect func(*html.Node)
	collect = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteString(" ")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			collect(c)
		}
	}
	collect(n)
	return normalizeSpace(sb.String())
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
