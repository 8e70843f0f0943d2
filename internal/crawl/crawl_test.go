package crawl

import (
	"net/url"
	"strings"
	"testing"
)

func TestNormalizeURLIdempotent(t *testing.T) {
	cases := []string{
		"HTTPS://Example.COM:443/Products/?utm_source=x&b=2&a=1#top",
		"http://example.com:80/page/",
		"https://example.com/path?fbclid=abc&year=2023",
		"https://example.com/",
	}
	for _, raw := range cases {
		once := NormalizeURL(raw)
		twice := NormalizeURL(once)
		if once != twice {
			t.Fatalf("normalize not idempotent for %q: %q vs %q", raw, once, twice)
		}
	}
}

func TestNormalizeURLCanonical(t *testing.T) {
	got := NormalizeURL("HTTPS://Example.COM:443/Products/?utm_source=x&b=2&a=1#top")
	want := "https://example.com/Products?a=1&b=2"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}

	if got := NormalizeURL("http://example.com:80/page/"); got != "http://example.com/page" {
		t.Fatalf("default port not stripped: %q", got)
	}
	if got := NormalizeURL("https://example.com/path?fbclid=abc"); got != "https://example.com/path" {
		t.Fatalf("tracking param survived: %q", got)
	}
}

func TestDetectorCountsVariantsOnce(t *testing.T) {
	d := NewDetector()
	if !d.Add("https://example.com/page?b=2&a=1") {
		t.Fatal("first add should be new")
	}
	if d.Add("https://EXAMPLE.com/page/?a=1&b=2#frag") {
		t.Fatal("variant of same URL should be a duplicate")
	}
	if d.Count() != 1 {
		t.Fatalf("count = %d, want 1", d.Count())
	}
	if d.Duplicates() != 1 {
		t.Fatalf("duplicates = %d, want 1", d.Duplicates())
	}
	if !d.Seen("https://example.com/page?a=1&b=2") {
		t.Fatal("normalized URL should be seen")
	}
}

func TestQueuePriorityThenInsertionOrder(t *testing.T) {
	q := NewQueue()
	q.Enqueue(Page{URL: "https://a.test/low", Priority: 1})
	q.Enqueue(Page{URL: "https://a.test/high", Priority: 10})
	q.Enqueue(Page{URL: "https://a.test/mid1", Priority: 5})
	q.Enqueue(Page{URL: "https://a.test/mid2", Priority: 5})

	want := []string{
		"https://a.test/high",
		"https://a.test/mid1",
		"https://a.test/mid2",
		"https://a.test/low",
	}
	for i, w := range want {
		p, ok := q.Dequeue()
		if !ok {
			t.Fatalf("queue drained early at %d", i)
		}
		if p.URL != w {
			t.Fatalf("pop %d = %q, want %q", i, p.URL, w)
		}
	}
	if !q.IsEmpty() {
		t.Fatal("queue should be empty")
	}
}

func TestQueueHasURL(t *testing.T) {
	q := NewQueue()
	q.Enqueue(Page{URL: "https://a.test/x"})
	if !q.HasURL("https://a.test/x") {
		t.Fatal("queued URL not reported")
	}
	q.Dequeue()
	if q.HasURL("https://a.test/x") {
		t.Fatal("dequeued URL still reported")
	}
}

func TestDiscoverLinks(t *testing.T) {
	html := `<html><body>
		<a href="/products">Products</a>
		<a href="https://other.test/page">External</a>
		<a href="#section">Anchor</a>
		<a href="mailto:x@example.com">Mail</a>
		<a href="/products">Products again</a>
	</body></html>`

	links := DiscoverLinks(html, "https://example.com/", nil)
	if len(links) != 2 {
		t.Fatalf("got %d links, want 2: %+v", len(links), links)
	}
	if links[0].URL != "https://example.com/products" || links[0].Text != "Products" {
		t.Fatalf("unexpected first link: %+v", links[0])
	}
	if links[1].URL != "https://other.test/page" {
		t.Fatalf("unexpected second link: %+v", links[1])
	}
}

func TestFilterLinks(t *testing.T) {
	visited := NewDetector()
	visited.Add("https://example.com/seen")

	links := []DiscoveredLink{
		{URL: "https://example.com/seen"},
		{URL: "https://example.com/fresh"},
		{URL: "https://external.test/page"},
		{URL: "https://allowed.test/page"},
		{URL: "https://example.com/admin/panel"},
		{URL: "https://example.com/current"},
	}
	cfg := Config{
		AllowedDomains:  []string{"allowed.test"},
		BlockedPatterns: []string{`^/admin`},
	}

	got := FilterLinks(links, cfg, visited, "https://example.com/current")
	want := []string{"https://example.com/fresh", "https://allowed.test/page"}
	if len(got) != len(want) {
		t.Fatalf("got %d links, want %d: %+v", len(got), len(want), got)
	}
	for i, w := range want {
		if got[i].URL != w {
			t.Fatalf("link %d = %q, want %q", i, got[i].URL, w)
		}
	}
}

func TestFilterLinksExternalAllowed(t *testing.T) {
	links := []DiscoveredLink{{URL: "https://external.test/page"}}
	cfg := Config{FollowExternalLinks: true}
	got := FilterLinks(links, cfg, nil, "https://example.com/")
	if len(got) != 1 {
		t.Fatalf("external link should pass when following externals: %+v", got)
	}
}

func TestPrioritizeLinks(t *testing.T) {
	links := []DiscoveredLink{
		{URL: "https://example.com/a/b", Text: "deep page"},
		{URL: "https://example.com/pricing", Text: "Pricing details"},
		{URL: "https://example.com/list?page=2", Text: "next"},
	}

	got := PrioritizeLinks(links, "find pricing information")
	if got[0].URL != "https://example.com/pricing" {
		t.Fatalf("keyword link should rank first, got %q", got[0].URL)
	}
	if got[len(got)-1].URL != "https://example.com/list?page=2" {
		t.Fatalf("pagination link should rank last, got %q", got[len(got)-1].URL)
	}
}

func TestSynthesizeEndpoints(t *testing.T) {
	base, _ := url.Parse("https://example.com/products")
	got := SynthesizeEndpoints(base, AjaxTrigger{Attr: "data-year", Value: "2023"})
	want := []string{
		"/products?year=2023",
		"/products?ajax=true&year=2023",
		"/api/products?year=2023",
	}
	if len(got) != len(want) {
		t.Fatalf("got %d endpoints, want %d: %v", len(got), len(want), got)
	}
	for i, w := range want {
		if got[i] != w {
			t.Fatalf("endpoint %d = %q, want %q", i, got[i], w)
		}
	}

	if got := SynthesizeEndpoints(base, AjaxTrigger{Attr: "data-year", Value: "latest"}); got != nil {
		t.Fatalf("non-numeric trigger should synthesize nothing: %v", got)
	}
}

func TestDiscoverAjaxEndpoints(t *testing.T) {
	scripts := []string{
		`fetch('/api/data?year=2023').then(r => r.json())`,
		`$.get("/legacy/load", cb)`,
	}
	triggers := []AjaxTrigger{{Attr: "data-page", Value: "2"}}

	got := DiscoverAjaxEndpoints("https://example.com/reports", scripts, triggers)
	wantContains := []string{
		"https://example.com/api/data?year=2023",
		"https://example.com/legacy/load",
		"https://example.com/reports?page=2",
	}
	for _, w := range wantContains {
		found := false
		for _, g := range got {
			if g == w {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("missing endpoint %q in %v", w, got)
		}
	}
}

func TestDiscoverFrameURLs(t *testing.T) {
	html := `<iframe src="/embed/widget"></iframe><frame src="https://other.test/f"></frame><iframe src="about:blank"></iframe>`
	got := DiscoverFrameURLs(html, "https://example.com/page")
	if len(got) != 2 {
		t.Fatalf("got %d frames, want 2: %v", len(got), got)
	}
	if got[0] != "https://example.com/embed/widget" {
		t.Fatalf("unexpected frame URL %q", got[0])
	}
}

func TestStatsSummary(t *testing.T) {
	s := NewStats()
	s.RecordVisit(0, 100)
	s.RecordVisit(1, 300)
	s.RecordFailure()
	s.RecordDuplicate()
	s.RecordLinks(7)
	s.RecordAjaxFetch()

	sum := s.Summarize()
	if sum.PagesVisited != 2 || sum.PagesFailed != 1 {
		t.Fatalf("visited=%d failed=%d", sum.PagesVisited, sum.PagesFailed)
	}
	if sum.SuccessRate < 0.66 || sum.SuccessRate > 0.67 {
		t.Fatalf("success rate = %f", sum.SuccessRate)
	}
	if sum.DepthReached != 1 {
		t.Fatalf("depth reached = %d", sum.DepthReached)
	}
	if sum.AveragePageTime != 200 {
		t.Fatalf("average page time = %v", sum.AveragePageTime)
	}
	if sum.LinksDiscovered != 7 || sum.AjaxFetched != 1 || sum.Duplicates != 1 {
		t.Fatalf("counters wrong: %+v", sum)
	}
}

func TestTaskKeywords(t *testing.T) {
	got := taskKeywords("Find the Pricing, plans!")
	joined := strings.Join(got, " ")
	if !strings.Contains(joined, "pricing") || !strings.Contains(joined, "plans") {
		t.Fatalf("keywords = %v", got)
	}
	if strings.Contains(joined, "the") {
		t.Fatalf("short word kept: %v", got)
	}
}
