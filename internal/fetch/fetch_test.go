package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"

	"prowler/internal/config"
	"prowler/internal/crawl"
	"prowler/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestHTTPFetcher() *HTTPFetcher {
	return NewHTTPFetcher(config.ScraperConfig{HTTPTimeoutMs: 5000}, nil, "", nil, discardLogger())
}

func filler(n int) string {
	return strings.Repeat("Quarterly results and production data for every division. ", n)
}

func TestHTTPFetcherAugmentsWithAjax(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		if year := r.URL.Query().Get("year"); year != "" {
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprintf(w, `{"data": [{"year": %s, "revenue": 1200}]}`, year)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprintf(w, `<!DOCTYPE html><html><head><title>Reports</title></head><body>
			<p>%s</p>
			<a href="#" data-year="2015">2015</a>
			<a href="#" data-year="2014">2014</a>
		</body></html>`, filler(5))
	}))
	defer srv.Close()

	res, err := newTestHTTPFetcher().Fetch(context.Background(), srv.URL+"/reports", uuid.New(), model.JobOptions{}, model.NopEmitter{})
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if res == nil {
		t.Fatal("expected a result")
	}
	if res.RequestCount < 3 {
		t.Fatalf("request count = %d, want >= 3", res.RequestCount)
	}
	if !strings.Contains(res.Text, "--- AJAX:") {
		t.Fatalf("text missing ajax sentinel:\n%s", res.Text)
	}
	if !strings.Contains(res.Text, "revenue") {
		t.Fatal("ajax json records not appended")
	}
	if got := int(requests.Load()); got < 3 {
		t.Fatalf("server saw %d requests, want >= 3", got)
	}
}

func TestHTTPFetcherRejectsNonHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"ok": true}`)
	}))
	defer srv.Close()

	res, err := newTestHTTPFetcher().Fetch(context.Background(), srv.URL, uuid.New(), model.JobOptions{}, model.NopEmitter{})
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if res != nil {
		t.Fatal("non-html response should soft-fail")
	}
}

func TestHTTPFetcherRejectsThinContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>tiny</body></html>`)
	}))
	defer srv.Close()

	res, err := newTestHTTPFetcher().Fetch(context.Background(), srv.URL, uuid.New(), model.JobOptions{}, model.NopEmitter{})
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if res != nil {
		t.Fatal("thin content should soft-fail so the cascade advances")
	}
}

func TestHTTPFetcherInvalidURL(t *testing.T) {
	if _, err := newTestHTTPFetcher().Fetch(context.Background(), "::bad::", uuid.New(), model.JobOptions{}, model.NopEmitter{}); err == nil {
		t.Fatal("expected an error for an unparseable url")
	}
}

func TestHTTPFetcherPullsFramesAndDetailLinks(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		switch r.URL.Path {
		case "/":
			fmt.Fprintf(w, `<html><body><p>%s</p><iframe src="/widget"></iframe></body></html>`, filler(5))
		case "/widget":
			fmt.Fprint(w, `<html><body><p>Widget overview text.</p><a class="btn" href="/widget/specs">Learn more</a></body></html>`)
		case "/widget/specs":
			fmt.Fprint(w, `<html><body><p>Full specification sheet contents.</p></body></html>`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	res, err := newTestHTTPFetcher().Fetch(context.Background(), srv.URL+"/", uuid.New(), model.JobOptions{}, model.NopEmitter{})
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if res == nil {
		t.Fatal("expected a result")
	}
	if !strings.Contains(res.Text, "--- FRAME:") || !strings.Contains(res.Text, "Widget overview text.") {
		t.Fatalf("frame content missing:\n%s", res.Text)
	}
	if !strings.Contains(res.Text, "--- DETAIL:") || !strings.Contains(res.Text, "Full specification sheet contents.") {
		t.Fatalf("detail page content missing:\n%s", res.Text)
	}
}

func TestDiscoverAjaxTriggers(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(`
		<html><body>
			<a href="#" data-year="2015">2015</a>
			<button data-page="3">next</button>
			<span data-id="abc">not numeric</span>
			<a href="#">42</a>
			<a href="#">click here for details</a>
		</body></html>`))
	if err != nil {
		t.Fatal(err)
	}

	triggers := discoverAjaxTriggers(doc)
	if len(triggers) != 3 {
		t.Fatalf("got %d triggers, want 3: %+v", len(triggers), triggers)
	}
}

func TestSynthesizeFromTriggersCapped(t *testing.T) {
	base, _ := url.Parse("https://example.com/reports")
	var triggers []crawl.AjaxTrigger
	for year := 2010; year < 2020; year++ {
		triggers = append(triggers, crawl.AjaxTrigger{Attr: "data-year", Value: fmt.Sprint(year)})
	}
	endpoints := synthesizeFromTriggers(base, triggers)
	if len(endpoints) != maxAjaxEndpoints {
		t.Fatalf("got %d endpoints, want cap %d", len(endpoints), maxAjaxEndpoints)
	}
}

func TestExtractJSONRecords(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{`{"data": [{"a": 1}]}`, "\"a\": 1"},
		{`{"results": [{"b": 2}]}`, "\"b\": 2"},
		{`[{"c": 3}]`, "\"c\": 3"},
		{`{"other": true}`, "\"other\": true"},
		{`not json at all`, ""},
	}
	for _, tc := range cases {
		got := extractJSONRecords(tc.in)
		if tc.want == "" {
			if got != "" {
				t.Fatalf("extractJSONRecords(%q) = %q, want empty", tc.in, got)
			}
			continue
		}
		if !strings.Contains(got, tc.want) {
			t.Fatalf("extractJSONRecords(%q) = %q, want substring %q", tc.in, got, tc.want)
		}
	}
}

func TestReaderFetcherParsesMarkdown(t *testing.T) {
	body := "# Annual Report\n\nThe company grew revenue by forty percent across all divisions during the year.\n\n" +
		"## Details\n\nMore detail text follows here."
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, body)
	}))
	defer srv.Close()

	f := NewReaderFetcher(config.ScraperConfig{ReaderBaseURL: srv.URL, ReaderTimeoutMs: 5000}, discardLogger())
	res, err := f.Fetch(context.Background(), "https://example.com/report", uuid.New(), model.JobOptions{}, model.NopEmitter{})
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if res == nil {
		t.Fatal("expected a result")
	}
	if res.PageTitle != "Annual Report" {
		t.Fatalf("title = %q", res.PageTitle)
	}
	if !strings.HasPrefix(res.PageDescription, "The company grew") {
		t.Fatalf("description = %q", res.PageDescription)
	}
	if strings.Contains(res.Text, "#") {
		t.Fatalf("text should be stripped of markdown: %q", res.Text)
	}
	if res.RequestCount != 1 {
		t.Fatalf("request count = %d", res.RequestCount)
	}
}

func TestReaderFetcherRejections(t *testing.T) {
	cases := map[string]string{
		"short":   "too short",
		"errored": "Error: could not render the page. " + filler(3),
		"failed":  "Failed to load target. " + filler(3),
	}
	for name, body := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, body)
		}))
		f := NewReaderFetcher(config.ScraperConfig{ReaderBaseURL: srv.URL}, discardLogger())
		res, err := f.Fetch(context.Background(), "https://example.com", uuid.New(), model.JobOptions{}, model.NopEmitter{})
		srv.Close()
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", name, err)
		}
		if res != nil {
			t.Fatalf("%s: expected soft failure", name)
		}
	}
}

func TestReaderFetcherWithoutEndpoint(t *testing.T) {
	f := NewReaderFetcher(config.ScraperConfig{}, discardLogger())
	if f.Available() {
		t.Fatal("reader should be unavailable without a base url")
	}
	res, err := f.Fetch(context.Background(), "https://example.com", uuid.New(), model.JobOptions{}, model.NopEmitter{})
	if err != nil || res != nil {
		t.Fatalf("unconfigured reader should soft-fail, got res=%v err=%v", res, err)
	}
}

func TestMarkdownSummary(t *testing.T) {
	title, desc := markdownSummary("intro line\n\n# The Title\n\nBody paragraph.")
	if title != "The Title" {
		t.Fatalf("title = %q", title)
	}
	if desc != "intro line" {
		t.Fatalf("description = %q", desc)
	}
}

func TestStripMarkdown(t *testing.T) {
	in := "# Heading\n\nSome **bold** and a [link](https://example.com) plus ![img](https://example.com/x.png)."
	out := stripMarkdown(in)
	for _, banned := range []string{"#", "**", "](", "!["} {
		if strings.Contains(out, banned) {
			t.Fatalf("stripMarkdown left %q in %q", banned, out)
		}
	}
	if !strings.Contains(out, "link") {
		t.Fatalf("link text should survive: %q", out)
	}
}

func TestParseIndices(t *testing.T) {
	cases := []struct {
		reply string
		n     int
		max   int
		want  []int
	}{
		{"[0, 2, 1]", 5, 10, []int{0, 2, 1}},
		{"Click these: [1, 1, 9]", 5, 10, []int{1}},
		{"[0,1,2,3]", 5, 2, []int{0, 1}},
		{"no array here", 5, 10, nil},
		{"[]", 5, 10, nil},
	}
	for _, tc := range cases {
		got := parseIndices(tc.reply, tc.n, tc.max)
		if len(got) != len(tc.want) {
			t.Fatalf("parseIndices(%q) = %v, want %v", tc.reply, got, tc.want)
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Fatalf("parseIndices(%q) = %v, want %v", tc.reply, got, tc.want)
			}
		}
	}
}

func TestTextDiff(t *testing.T) {
	if diff := textDiff("a\nb", "a\nb"); diff != "" {
		t.Fatalf("identical text should diff empty, got %q", diff)
	}
	if diff := textDiff("a\nb", "a\nb\nnew row"); diff != "new row" {
		t.Fatalf("suffix diff = %q", diff)
	}
	if diff := textDiff("a\nb", "b\nc\na"); diff != "c" {
		t.Fatalf("line diff = %q", diff)
	}
}

func TestCaptureWorthy(t *testing.T) {
	if !captureWorthy("application/json; charset=utf-8", "https://example.com/x") {
		t.Fatal("json content type should be captured")
	}
	if !captureWorthy("text/html", "https://example.com/api/items") {
		t.Fatal("api url should be captured")
	}
	if captureWorthy("text/html", "https://example.com/about") {
		t.Fatal("plain page should not be captured")
	}
}

func TestAppendSectionAndTooSmall(t *testing.T) {
	res := &model.FetchResult{HTML: "<html></html>", Text: "short"}
	appendSection(res, "AJAX: /x", "payload")
	if !strings.Contains(res.Text, "--- AJAX: /x ---") {
		t.Fatalf("text = %q", res.Text)
	}
	if !strings.Contains(res.HTML, "<!-- AJAX: /x") {
		t.Fatalf("html = %q", res.HTML)
	}
	if !tooSmall(res) {
		t.Fatal("still below both floors")
	}
	res.Text = filler(3)
	if tooSmall(res) {
		t.Fatal("text above floor should pass")
	}
}

func TestFingerprintApply(t *testing.T) {
	req, _ := http.NewRequest(http.MethodGet, "https://example.com", nil)
	fp := RandomFingerprint()
	fp.Apply(req)
	if req.Header.Get("User-Agent") == "" {
		t.Fatal("user agent not set")
	}
	if req.Header.Get("Accept-Language") == "" {
		t.Fatal("accept-language not set")
	}
}

func TestMemorySink(t *testing.T) {
	sink := NewMemorySink()
	id := uuid.New()
	ref, err := sink.Save(id, "shot.jpg", []byte{0xff, 0xd8})
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}
	data, ok := sink.Get(ref)
	if !ok || len(data) != 2 {
		t.Fatalf("get(%q) = %v, %v", ref, data, ok)
	}
}
