package crawl

import (
	"bufio"
	"context"
	"encoding/xml"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const sitemapFetchTimeout = 5 * time.Second

var errNotOK = errors.New("unexpected status")

type sitemapURLSet struct {
	URLs []struct {
		Loc string `xml:"loc"`
	} `xml:"url"`
}

type sitemapIndex struct {
	Sitemaps []struct {
		Loc string `xml:"loc"`
	} `xml:"sitemap"`
}

// DiscoverSitemapURLs returns page URLs the site advertises through its
// sitemap. Sitemap locations come from robots.txt Sitemap lines, with
// the conventional /sitemap.xml as fallback; index files are followed
// one level deep. Missing or malformed sitemaps yield nothing.
func DiscoverSitemapURLs(ctx context.Context, client *http.Client, rawURL string, limit int) []string {
	base, err := url.Parse(rawURL)
	if err != nil || base.Host == "" {
		return nil
	}
	if limit <= 0 {
		limit = 50
	}

	locations := sitemapLocations(ctx, client, base)

	var out []string
	seen := make(map[string]bool)
	for _, loc := range locations {
		if len(out) >= limit {
			break
		}
		body, err := fetchSitemap(ctx, client, loc)
		if err != nil {
			continue
		}

		// An index file points at further sitemaps; a urlset is final.
		var idx sitemapIndex
		if xml.Unmarshal(body, &idx) == nil && len(idx.Sitemaps) > 0 {
			for _, sm := range idx.Sitemaps {
				if len(out) >= limit {
					break
				}
				child, err := fetchSitemap(ctx, client, sm.Loc)
				if err != nil {
					continue
				}
				out = appendSitemapURLs(out, seen, child, limit)
			}
			continue
		}
		out = appendSitemapURLs(out, seen, body, limit)
	}
	return out
}

func appendSitemapURLs(out []string, seen map[string]bool, body []byte, limit int) []string {
	var us sitemapURLSet
	if err := xml.Unmarshal(body, &us); err != nil {
		return out
	}
	for _, entry := range us.URLs {
		if len(out) >= limit {
			break
		}
		norm := NormalizeURL(strings.TrimSpace(entry.Loc))
		if norm == "" || seen[norm] {
			continue
		}
		seen[norm] = true
		out = append(out, norm)
	}
	return out
}

// sitemapLocations reads robots.txt for Sitemap directives and always
// includes /sitemap.xml as the conventional fallback.
func sitemapLocations(ctx context.Context, client *http.Client, base *url.URL) []string {
	fallback := (&url.URL{Scheme: base.Scheme, Host: base.Host, Path: "/sitemap.xml"}).String()

	robotsURL := (&url.URL{Scheme: base.Scheme, Host: base.Host, Path: "/robots.txt"}).String()
	body, err := fetchSitemap(ctx, client, robotsURL)
	if err != nil {
		return []string{fallback}
	}

	var locations []string
	scanner := bufio.NewScanner(strings.NewReader(string(body)))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if len(line) < 8 || !strings.EqualFold(line[:8], "sitemap:") {
			continue
		}
		if loc := strings.TrimSpace(line[8:]); loc != "" {
			locations = append(locations, loc)
		}
	}
	if len(locations) == 0 {
		locations = append(locations, fallback)
	}
	return locations
}

func fetchSitemap(ctx context.Context, client *http.Client, rawURL string) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, sitemapFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errNotOK
	}
	return io.ReadAll(io.LimitReader(resp.Body, 5<<20))
}
