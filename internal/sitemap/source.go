package sitemap

import (
	"bufio"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"linkval"
	"linkval/internal/httpfetch"
)

// urlSet is the root element of a sitemap file.
type urlSet struct {
	XMLName xml.Name  `xml:"urlset"`
	URLs    []siteURL `xml:"url"`
}

type siteURL struct {
	Loc string `xml:"loc"`
}

// sitemapIndex is the root element of a sitemap index file, which
// references other sitemaps rather than listing pages directly.
type sitemapIndex struct {
	XMLName  xml.Name      `xml:"sitemapindex"`
	Sitemaps []sitemapLink `xml:"sitemap"`
}

type sitemapLink struct {
	Loc string `xml:"loc"`
}

// Source discovers a site's sitemap, resolves it to a list of page
// URLs, and exposes a linkval.LinkSource that fetches each page in
// turn and extracts its outbound links.
type Source struct {
	httpClient linkval.HttpClient
	pages      []string
}

// Discover sniffs robots.txt and a handful of common paths under
// baseURL to locate the site's sitemap(s), parses every one found
// (recursing into sitemap indexes), and returns a Source ready to be
// turned into a linkval.LinkSource via Links.
func Discover(ctx context.Context, baseURL string) (*Source, error) {
	return newSource(ctx, httpfetch.NewClient(15*time.Second), baseURL, true)
}

// FromSitemapLocation parses the sitemap (or sitemap index) found
// directly at location - a URL or a local file path - without first
// sniffing robots.txt or common paths. Use this when the caller
// already knows exactly where the sitemap lives.
func FromSitemapLocation(ctx context.Context, location string) (*Source, error) {
	return newSource(ctx, httpfetch.NewClient(15*time.Second), location, false)
}

func newSource(ctx context.Context, client linkval.HttpClient, target string, sniff bool) (*Source, error) {
	src := &Source{httpClient: client}

	sitemaps := []string{target}
	if sniff {
		found, err := src.locateSitemaps(ctx, target)
		if err != nil {
			return nil, err
		}
		sitemaps = found
	}

	seen := make(map[string]bool)
	for _, sm := range sitemaps {
		urls, err := src.resolveSitemap(ctx, sm)
		if err != nil {
			return nil, fmt.Errorf("sitemap: parsing %s: %w", sm, err)
		}
		for _, u := range urls {
			if !seen[u] {
				seen[u] = true
				src.pages = append(src.pages, u)
			}
		}
	}

	return src, nil
}

// locateSitemaps normalizes baseURL to its scheme and host, then
// looks for a Sitemap: directive in robots.txt and, failing that,
// probes a handful of conventional sitemap paths.
func (s *Source) locateSitemaps(ctx context.Context, baseURL string) ([]string, error) {
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		baseURL = "https://" + baseURL
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	baseURL = fmt.Sprintf("%s://%s", parsed.Scheme, parsed.Host)

	if sitemaps, err := s.sitemapsFromRobotsTxt(ctx, baseURL); err == nil && len(sitemaps) > 0 {
		return sitemaps, nil
	}

	commonPaths := []string{
		"/sitemap.xml",
		"/sitemap_index.xml",
		"/sitemap/sitemap.xml",
		"/sitemap/index.xml",
	}
	for _, path := range commonPaths {
		candidate := baseURL + path
		if s.urlExists(ctx, candidate) {
			return []string{candidate}, nil
		}
	}

	return nil, fmt.Errorf("no sitemap found at %s", baseURL)
}

// sitemapsFromRobotsTxt fetches robots.txt and returns every URL
// named in a "Sitemap:" directive, in file order.
func (s *Source) sitemapsFromRobotsTxt(ctx context.Context, baseURL string) ([]string, error) {
	resp, err := s.httpClient.Do(ctx, http.MethodGet, baseURL+"/robots.txt", nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("robots.txt returned status %d", resp.StatusCode)
	}

	var sitemaps []string
	scanner := bufio.NewScanner(bytes.NewReader(resp.Body))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(strings.ToLower(line), "sitemap:") {
			if _, rest, ok := strings.Cut(line, ":"); ok {
				sitemaps = append(sitemaps, strings.TrimSpace(rest))
			}
		}
	}
	return sitemaps, scanner.Err()
}

// urlExists reports whether uri responds 200 OK, preferring a HEAD
// request and falling back to GET for servers that reject HEAD.
func (s *Source) urlExists(ctx context.Context, uri string) bool {
	resp, err := s.httpClient.Do(ctx, http.MethodHead, uri, nil)
	if err != nil {
		return false
	}
	if resp.StatusCode == http.StatusMethodNotAllowed {
		resp, err = s.httpClient.Do(ctx, http.MethodGet, uri, nil)
		if err != nil {
			return false
		}
	}
	return resp.StatusCode == http.StatusOK
}

// resolveSitemap fetches (or reads, for a local path) the sitemap at
// location and returns every page URL it lists, recursing into
// sitemap index entries. A sitemap index entry that fails to parse is
// skipped rather than aborting the whole discovery, since one broken
// child sitemap shouldn't hide every page listed by its siblings.
func (s *Source) resolveSitemap(ctx context.Context, location string) ([]string, error) {
	content, err := s.readSitemapContent(ctx, location)
	if err != nil {
		return nil, err
	}

	var index sitemapIndex
	if err := xml.Unmarshal(content, &index); err == nil && len(index.Sitemaps) > 0 {
		var pages []string
		for _, child := range index.Sitemaps {
			urls, err := s.resolveSitemap(ctx, child.Loc)
			if err != nil {
				fmt.Fprintf(os.Stderr, "sitemap: skipping %s: %v\n", child.Loc, err)
				continue
			}
			pages = append(pages, urls...)
		}
		return pages, nil
	}

	var set urlSet
	if err := xml.Unmarshal(content, &set); err != nil {
		return nil, fmt.Errorf("parsing sitemap XML: %w", err)
	}
	var pages []string
	for _, u := range set.URLs {
		if u.Loc != "" {
			pages = append(pages, u.Loc)
		}
	}
	return pages, nil
}

func (s *Source) readSitemapContent(ctx context.Context, location string) ([]byte, error) {
	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		resp, err := s.httpClient.Do(ctx, http.MethodGet, location, nil)
		if err != nil {
			return nil, fmt.Errorf("fetching sitemap: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("sitemap returned status %d", resp.StatusCode)
		}
		return resp.Body, nil
	}
	content, err := os.ReadFile(location)
	if err != nil {
		return nil, fmt.Errorf("opening sitemap file: %w", err)
	}
	return content, nil
}

// Pages returns the resolved list of page URLs found in the sitemap,
// in sitemap order.
func (s *Source) Pages() []string {
	out := make([]string, len(s.pages))
	copy(out, s.pages)
	return out
}

// Links returns a linkval.LinkSource that fetches every discovered
// page and yields the links extracted from it. Fetch errors for one
// page do not abort the sequence; they are skipped.
func (s *Source) Links() linkval.LinkSource {
	return func(yield func(linkval.Link) bool) {
		for _, page := range s.pages {
			body, err := s.fetch(page)
			if err != nil {
				continue
			}
			links, err := extractLinks(body, page)
			if err != nil {
				continue
			}
			for _, l := range links {
				if !yield(l) {
					return
				}
			}
		}
	}
}

func (s *Source) fetch(pageURL string) ([]byte, error) {
	resp, err := s.httpClient.Do(context.Background(), http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sitemap: page %s returned status %d", pageURL, resp.StatusCode)
	}
	return resp.Body, nil
}

// Resolver is the Source's linkval.ResourceResolver: it classifies a
// link as AsciiDoc source by its resolved URI's extension (the
// minimal rule available without access to the original source tree)
// and has no independent view of on-disk paths, since it never saw
// anything but the rendered site.
type Resolver struct{}

// IsAsciiDocSource implements linkval.ResourceResolver.
func (Resolver) IsAsciiDocSource(link linkval.Link) bool {
	return strings.HasSuffix(link.ResolvedURI, ".adoc") || strings.HasSuffix(link.ResolvedURI, ".asciidoc")
}

// SourcePath implements linkval.ResourceResolver. A sitemap-only
// resolver has no on-disk source tree to map back to, so it returns
// resolvedURI itself unchanged.
func (Resolver) SourcePath(resolvedURI string) string {
	return resolvedURI
}
