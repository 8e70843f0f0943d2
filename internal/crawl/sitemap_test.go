package crawl

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestDiscoverSitemapURLsFromRobots(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/robots.txt":
			fmt.Fprintf(w, "User-agent: *\nDisallow: /private\nSitemap: %s/custom-map.xml\n", srv.URL)
		case "/custom-map.xml":
			fmt.Fprintf(w, `<?xml version="1.0"?>
<urlset><url><loc>%s/a</loc></url><url><loc>%s/b</loc></url><url><loc>%s/a</loc></url></urlset>`,
				srv.URL, srv.URL, srv.URL)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	urls := DiscoverSitemapURLs(context.Background(), srv.Client(), srv.URL+"/", 10)
	if len(urls) != 2 {
		t.Fatalf("urls = %v", urls)
	}
	if urls[0] != NormalizeURL(srv.URL+"/a") || urls[1] != NormalizeURL(srv.URL+"/b") {
		t.Fatalf("urls = %v", urls)
	}
}

func TestDiscoverSitemapURLsFollowsIndex(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/sitemap.xml":
			fmt.Fprintf(w, `<?xml version="1.0"?>
<sitemapindex><sitemap><loc>%s/pages.xml</loc></sitemap></sitemapindex>`, srv.URL)
		case "/pages.xml":
			fmt.Fprintf(w, `<?xml version="1.0"?>
<urlset><url><loc>%s/p1</loc></url><url><loc>%s/p2</loc></url><url><loc>%s/p3</loc></url></urlset>`,
				srv.URL, srv.URL, srv.URL)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	urls := DiscoverSitemapURLs(context.Background(), srv.Client(), srv.URL+"/", 2)
	if len(urls) != 2 {
		t.Fatalf("limit not honored: %v", urls)
	}
}

func TestDiscoverSitemapURLsMissing(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	if urls := DiscoverSitemapURLs(context.Background(), srv.Client(), srv.URL+"/", 10); len(urls) != 0 {
		t.Fatalf("urls = %v", urls)
	}
}
