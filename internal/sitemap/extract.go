package sitemap

import (
	"net/url"
	"strings"

	"golang.org/x/net/html"

	"linkval"
)

// extractLinks walks a parsed HTML page and yields one linkval.Link
// per distinct resolved URL among the <a href>, <link href>,
// <img src>, and <script src> found, with relative URLs resolved
// against pageURL; repeats of a URL already seen are dropped. pageURL is recorded as each
// extracted link's SourceFile, since that is the only source-location
// this sitemap-only collaborator can attribute.
func extractLinks(body []byte, pageURL string) ([]linkval.Link, error) {
	doc, err := html.Parse(strings.NewReader(string(body)))
	if err != nil {
		return nil, err
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, err
	}

	var links []linkval.Link
	seen := make(map[string]bool)

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			raw := ""
			switch n.Data {
			case "a":
				raw = attr(n, "href")
			case "link":
				raw = attr(n, "href")
			case "img":
				raw = attr(n, "src")
			case "script":
				raw = attr(n, "src")
			}
			if raw != "" && !isSkippable(raw) {
				if resolved, err := base.Parse(raw); err == nil {
					abs := resolved.String()
					if !seen[abs] {
						seen[abs] = true
						links = append(links, linkval.NewLink(raw, abs, pageURL, 0))
					}
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return links, nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return strings.TrimSpace(a.Val)
		}
	}
	return ""
}

func isSkippable(raw string) bool {
	return strings.HasPrefix(raw, "javascript:") ||
		strings.HasPrefix(raw, "mailto:") ||
		strings.HasPrefix(raw, "tel:") ||
		raw == "#"
}
