package crawl

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sync"

	"github.com/temoto/robotstxt"
)

// RobotsGate fetches and caches robots.txt per host and answers
// whether a URL may be crawled. Fetch failures allow everything, which
// matches how permissive crawlers treat missing robots files.
type RobotsGate struct {
	mu        sync.Mutex
	client    *http.Client
	userAgent string
	byHost    map[string]*robotstxt.RobotsData
}

func NewRobotsGate(client *http.Client, userAgent string) *RobotsGate {
	if client == nil {
		client = http.DefaultClient
	}
	return &RobotsGate{
		client:    client,
		userAgent: userAgent,
		byHost:    make(map[string]*robotstxt.RobotsData),
	}
}

// Allowed reports whether the user agent may fetch the URL.
func (g *RobotsGate) Allowed(ctx context.Context, raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return true
	}

	data := g.robotsFor(ctx, u)
	if data == nil {
		return true
	}
	return data.FindGroup(g.userAgent).Test(u.Path)
}

func (g *RobotsGate) robotsFor(ctx context.Context, u *url.URL) *robotstxt.RobotsData {
	g.mu.Lock()
	if data, ok := g.byHost[u.Host]; ok {
		g.mu.Unlock()
		return data
	}
	g.mu.Unlock()

	robotsURL := &url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/robots.txt"}
	var data *robotstxt.RobotsData

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL.String(), nil)
	if err == nil {
		if g.userAgent != "" {
			req.Header.Set("User-Agent", g.userAgent)
		}
		if resp, err := g.client.Do(req); err == nil {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512*1024))
			resp.Body.Close()
			if parsed, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body); err == nil {
				data = parsed
			}
		}
	}

	g.mu.Lock()
	g.byHost[u.Host] = data
	g.mu.Unlock()
	return data
}
