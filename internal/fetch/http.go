package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"prowler/internal/breaker"
	"prowler/internal/config"
	"prowler/internal/crawl"
	"prowler/internal/model"
	"prowler/internal/proxy"
)

const (
	maxAjaxEndpoints = 10
	maxDetailLinks   = 15
	ajaxTimeout      = 3 * time.Second
	frameTimeout     = 5 * time.Second
	detailTimeout    = 3 * time.Second
)

// HTTPFetcher is the fastest tier: a plain GET with rotating browser
// fingerprints, followed by AJAX endpoint synthesis and frame
// extraction to pull in content the initial response only references.
type HTTPFetcher struct {
	client   *http.Client
	timeout  time.Duration
	rotate   bool
	agent    string
	pool     *proxy.Pool
	strategy proxy.Strategy
	breakers *breaker.Registry
	logger   *slog.Logger
}

func NewHTTPFetcher(cfg config.ScraperConfig, pool *proxy.Pool, strategy proxy.Strategy, breakers *breaker.Registry, logger *slog.Logger) *HTTPFetcher {
	timeout := time.Duration(cfg.HTTPTimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPFetcher{
		client:   &http.Client{Timeout: timeout},
		timeout:  timeout,
		rotate:   cfg.RotateUserAgents,
		agent:    cfg.UserAgent,
		pool:     pool,
		strategy: strategy,
		breakers: breakers,
		logger:   logger,
	}
}

func (f *HTTPFetcher) Name() string { return "http" }

func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string, jobID uuid.UUID, opts model.JobOptions, emit model.ProgressEmitter) (*model.FetchResult, error) {
	target, err := url.Parse(rawURL)
	if err != nil || target.Host == "" {
		return nil, fmt.Errorf("%w: %q", model.ErrInvalidURL, rawURL)
	}

	client, proxyID := f.pickClient(opts)
	fp := f.fingerprint()

	var requests requestCounter
	page, err := f.getPage(ctx, client, &requests, target.String(), f.timeout, fp)
	if proxyID != 0 {
		if err != nil {
			f.pool.MarkFailure(proxyID)
		} else {
			f.pool.MarkSuccess(proxyID, page.elapsed)
		}
	}
	if err != nil {
		return nil, err
	}
	if !looksLikeHTML(page.body) {
		f.logger.Debug("http tier: response is not html", "url", rawURL, "contentType", page.contentType)
		return nil, nil
	}

	content, err := parsePage(page.body, page.finalURL)
	if err != nil {
		return nil, nil
	}

	res := &model.FetchResult{
		HTML:            page.body,
		Markdown:        content.Markdown,
		Text:            content.Text,
		FinalURL:        page.finalURL,
		StatusCode:      page.status,
		ContentType:     page.contentType,
		PageTitle:       content.Title,
		PageDescription: content.Description,
	}

	emitAction(emit, model.ActionEvent{
		JobID: jobID, Type: model.ActionNavigation,
		Message:   "fetched " + page.finalURL,
		Details:   map[string]any{"statusCode": page.status, "bytes": len(page.body)},
		Timestamp: time.Now(),
	})

	f.augmentWithAjax(ctx, client, &requests, res, content.doc, fp, jobID, emit)
	f.augmentWithFrames(ctx, client, &requests, res, fp)

	res.RequestCount = requests.total()
	if tooSmall(res) {
		return nil, nil
	}
	return res, nil
}

// fingerprint honors the configured fixed user agent unless rotation
// is enabled.
func (f *HTTPFetcher) fingerprint() Fingerprint {
	if f.rotate || f.agent == "" {
		return RandomFingerprint()
	}
	fp := fingerprints[0]
	fp.UserAgent = f.agent
	return fp
}

// pickClient returns the proxied client when the job asked for one and
// a healthy proxy is available, else the shared direct client.
func (f *HTTPFetcher) pickClient(opts model.JobOptions) (*http.Client, uint32) {
	if !opts.UseProxy || f.pool == nil || f.pool.Size() == 0 {
		return f.client, 0
	}
	p, err := f.pool.GetNext(f.strategy)
	if err != nil {
		f.logger.Warn("proxy requested but none available", "error", err)
		return f.client, 0
	}
	proxyURL, err := url.Parse(p.URL)
	if err != nil {
		return f.client, 0
	}
	f.pool.MarkUsed(p.ID)
	return &http.Client{
		Timeout:   f.timeout,
		Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)},
	}, p.ID
}

type fetchedPage struct {
	body        string
	status      int
	finalURL    string
	contentType string
	elapsed     time.Duration
}

type requestCounter struct {
	mu sync.Mutex
	n  int
}

func (c *requestCounter) inc() {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func (c *requestCounter) total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

// getPage performs one GET behind the per-host circuit breaker.
func (f *HTTPFetcher) getPage(ctx context.Context, client *http.Client, requests *requestCounter, rawURL string, timeout time.Duration, fp Fingerprint) (*fetchedPage, error) {
	var page *fetchedPage
	call := func(ctx context.Context) error {
		reqCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
		if err != nil {
			return err
		}
		fp.Apply(req)

		requests.inc()
		start := time.Now()
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
		if err != nil {
			return err
		}
		page = &fetchedPage{
			body:        string(body),
			status:      resp.StatusCode,
			finalURL:    resp.Request.URL.String(),
			contentType: resp.Header.Get("Content-Type"),
			elapsed:     time.Since(start),
		}
		if resp.StatusCode >= 500 {
			return fmt.Errorf("upstream status %d", resp.StatusCode)
		}
		return nil
	}

	if f.breakers != nil {
		if u, err := url.Parse(rawURL); err == nil {
			if err := f.breakers.Get(u.Host).Execute(ctx, call); err != nil {
				return nil, err
			}
			return page, nil
		}
	}
	if err := call(ctx); err != nil {
		return nil, err
	}
	return page, nil
}

// augmentWithAjax synthesizes candidate endpoints from data-attribute
// triggers, fetches them in parallel, and appends whatever decodes.
func (f *HTTPFetcher) augmentWithAjax(ctx context.Context, client *http.Client, requests *requestCounter, res *model.FetchResult, doc *goquery.Document, fp Fingerprint, jobID uuid.UUID, emit model.ProgressEmitter) {
	base, err := url.Parse(res.FinalURL)
	if err != nil {
		return
	}

	endpoints := synthesizeFromTriggers(base, discoverAjaxTriggers(doc))
	if len(endpoints) == 0 {
		return
	}

	type ajaxHit struct {
		url  string
		text string
	}
	hits := make(chan ajaxHit, len(endpoints))

	g, gctx := errgroup.WithContext(ctx)
	for _, ep := range endpoints {
		g.Go(func() error {
			page, err := f.getPage(gctx, client, requests, ep, ajaxTimeout, fp)
			if err != nil || page.status >= 400 {
				return nil
			}
			text := extractJSONRecords(page.body)
			if text == "" {
				frag := page.body
				if !looksLikeHTML(frag) {
					frag = "<html><body>" + frag + "</body></html>"
				}
				if parsed, err := parsePage(frag, ep); err == nil {
					text = parsed.Text
				}
			}
			if text != "" {
				hits <- ajaxHit{url: ep, text: text}
			}
			return nil
		})
	}
	_ = g.Wait()
	close(hits)

	count := 0
	for hit := range hits {
		appendSection(res, "AJAX: "+hit.url, hit.text)
		count++
	}
	if count > 0 {
		emitAction(emit, model.ActionEvent{
			JobID: jobID, Type: model.ActionExtraction,
			Message:   fmt.Sprintf("captured %d ajax endpoints", count),
			Timestamp: time.Now(),
		})
	}
}

// discoverAjaxTriggers inspects the DOM for numeric data attributes and
// bare numeric anchors, the conventional shapes of client-side loaders.
func discoverAjaxTriggers(doc *goquery.Document) []crawl.AjaxTrigger {
	var triggers []crawl.AjaxTrigger
	for _, attr := range []string{"data-year", "data-id", "data-page"} {
		doc.Find("[" + attr + "]").Each(func(_ int, sel *goquery.Selection) {
			val := strings.TrimSpace(sel.AttrOr(attr, ""))
			if val == "" || !isNumeric(val) {
				return
			}
			triggers = append(triggers, crawl.AjaxTrigger{
				Attr:  attr,
				Value: val,
				Text:  strings.TrimSpace(sel.Text()),
			})
		})
	}
	doc.Find(`a[href="#"]`).Each(func(_ int, sel *goquery.Selection) {
		text := strings.TrimSpace(sel.Text())
		if len(text) == 0 || len(text) > 6 || !isNumeric(text) {
			return
		}
		for _, attr := range []string{"data-year", "data-id", "data-page"} {
			if _, ok := sel.Attr(attr); ok {
				return // already collected above
			}
		}
		triggers = append(triggers, crawl.AjaxTrigger{Text: text})
	})
	return triggers
}

func synthesizeFromTriggers(base *url.URL, triggers []crawl.AjaxTrigger) []string {
	seen := make(map[string]bool)
	var out []string
	for _, trig := range triggers {
		for _, ep := range crawl.SynthesizeEndpoints(base, trig) {
			resolved, err := base.Parse(ep)
			if err != nil {
				continue
			}
			s := resolved.String()
			if seen[s] {
				continue
			}
			seen[s] = true
			out = append(out, s)
			if len(out) >= maxAjaxEndpoints {
				return out
			}
		}
	}
	return out
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// extractJSONRecords decodes a JSON body and renders the record list
// found at the root or under the conventional data/results/items keys.
// Returns "" when the body is not JSON.
func extractJSONRecords(body string) string {
	var root any
	if err := json.Unmarshal([]byte(body), &root); err != nil {
		return ""
	}

	var records any
	switch v := root.(type) {
	case []any:
		records = v
	case map[string]any:
		for _, key := range []string{"data", "results", "items"} {
			if inner, ok := v[key]; ok {
				records = inner
				break
			}
		}
		if records == nil {
			records = v
		}
	default:
		return fmt.Sprintf("%v", v)
	}

	pretty, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return ""
	}
	return string(pretty)
}

var detailLinkPattern = regexp.MustCompile(`(?i)learn|more|detail|view|→|>>`)

// augmentWithFrames fetches iframe/frame documents and the detail pages
// they link to, appending their text to the result.
func (f *HTTPFetcher) augmentWithFrames(ctx context.Context, client *http.Client, requests *requestCounter, res *model.FetchResult, fp Fingerprint) {
	frameURLs := crawl.DiscoverFrameURLs(res.HTML, res.FinalURL)
	for _, frameURL := range frameURLs {
		if ctx.Err() != nil {
			return
		}
		page, err := f.getPage(ctx, client, requests, frameURL, frameTimeout, fp)
		if err != nil || page.status >= 400 {
			continue
		}
		content, err := parsePage(page.body, frameURL)
		if err != nil {
			continue
		}
		appendSection(res, "FRAME: "+frameURL, content.Text)

		for _, detail := range detailLinks(content.doc, frameURL) {
			if ctx.Err() != nil {
				return
			}
			detailPage, err := f.getPage(ctx, client, requests, detail, detailTimeout, fp)
			if err != nil || detailPage.status >= 400 {
				continue
			}
			if detailContent, err := parsePage(detailPage.body, detail); err == nil {
				appendSection(res, "DETAIL: "+detail, detailContent.Text)
			}
		}
	}
}

// detailLinks picks anchors that look like drill-down targets.
func detailLinks(doc *goquery.Document, base string) []string {
	baseURL, err := url.Parse(base)
	if err != nil {
		return nil
	}

	seen := make(map[string]bool)
	var out []string
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		if len(out) >= maxDetailLinks {
			return
		}
		text := strings.TrimSpace(sel.Text())
		class := sel.AttrOr("class", "")
		if !detailLinkPattern.MatchString(text) && !strings.Contains(strings.ToLower(class), "btn") {
			return
		}
		href := strings.TrimSpace(sel.AttrOr("href", ""))
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}
		u, err := baseURL.Parse(href)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return
		}
		s := u.String()
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	})
	return out
}
