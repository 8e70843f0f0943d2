package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"prowler/internal/config"
	"prowler/internal/crawl"
	"prowler/internal/llm"
	"prowler/internal/model"
)

const agentPageTimeout = 5 * time.Second

// AgentFetcher crawls a site breadth-first under the guidance of the
// LLM: it follows links the model deems relevant to the task, probes
// synthesized AJAX endpoints, and assembles a composite result across
// every visited page.
type AgentFetcher struct {
	cfg    config.AgentConfig
	client *http.Client
	llm    llm.Client
	robots *crawl.RobotsGate
	logger *slog.Logger
}

func NewAgentFetcher(cfg config.AgentConfig, scraperCfg config.ScraperConfig, client llm.Client, logger *slog.Logger) *AgentFetcher {
	httpClient := &http.Client{Timeout: agentPageTimeout}
	return &AgentFetcher{
		cfg:    cfg,
		client: httpClient,
		llm:    client,
		robots: crawl.NewRobotsGate(httpClient, scraperCfg.UserAgent),
		logger: logger,
	}
}

func (f *AgentFetcher) Name() string { return "agent" }

func (f *AgentFetcher) Fetch(ctx context.Context, rawURL string, jobID uuid.UUID, opts model.JobOptions, emit model.ProgressEmitter) (*model.FetchResult, error) {
	return f.FetchTask(ctx, rawURL, "", jobID, opts, emit)
}

// agentGuidance is the JSON verdict the model returns per page.
type agentGuidance struct {
	HasRelevantData bool     `json:"hasRelevantData"`
	ExtractedData   []string `json:"extractedData"`
	LinksToFollow   []int    `json:"linksToFollow"`
	Summary         string   `json:"summary"`
}

// visitedPage is one page's contribution to the composite result.
type visitedPage struct {
	url   string
	title string
	html  string
	text  string
}

func (f *AgentFetcher) FetchTask(ctx context.Context, rawURL, task string, jobID uuid.UUID, opts model.JobOptions, emit model.ProgressEmitter) (*model.FetchResult, error) {
	start := crawl.NormalizeURL(rawURL)
	if start == "" {
		return nil, fmt.Errorf("%w: %q", model.ErrInvalidURL, rawURL)
	}

	cfg := f.crawlConfig()
	detector := crawl.NewDetector()
	queue := crawl.NewQueue()
	stats := crawl.NewStats()
	limiter := f.politeness()

	queue.Enqueue(crawl.Page{URL: start, Depth: 0, DiscoveredAt: time.Now(), Status: crawl.PagePending})

	var (
		pages         []visitedPage
		extracted     []string
		summaries     []string
		ajaxRemaining = cfg.MaxAjaxEndpoints
		requests      int
	)

	for !queue.IsEmpty() && len(pages) < cfg.MaxPages {
		if ctx.Err() != nil {
			break
		}
		page, ok := queue.Dequeue()
		if !ok {
			break
		}
		if page.Depth > cfg.MaxDepth {
			stats.RecordSkip()
			continue
		}
		if !detector.Add(page.URL) {
			stats.RecordDuplicate()
			continue
		}
		if cfg.RespectRobots && !f.robots.Allowed(ctx, page.URL) {
			stats.RecordSkip()
			continue
		}
		if err := limiter.Wait(ctx); err != nil {
			break
		}

		pageStart := time.Now()
		body, finalURL, err := f.get(ctx, page.URL, agentPageTimeout)
		requests++
		if err != nil {
			stats.RecordFailure()
			f.logger.Debug("agent page fetch failed", "url", page.URL, "error", err)
			continue
		}
		stats.RecordVisit(page.Depth, time.Since(pageStart))

		emitAction(emit, model.ActionEvent{
			JobID: jobID, Type: model.ActionNavigation,
			Message:   fmt.Sprintf("visited %s (depth %d)", page.URL, page.Depth),
			Timestamp: time.Now(),
		})

		content, err := parsePage(body, finalURL)
		if err != nil {
			stats.RecordFailure()
			continue
		}
		pages = append(pages, visitedPage{url: page.URL, title: content.Title, html: body, text: content.Text})

		scripts, triggers := collectScriptsAndTriggers(content.doc)

		links := crawl.DiscoverLinks(body, finalURL, detector)
		links = crawl.FilterLinks(links, cfg, detector, finalURL)
		links = crawl.PrioritizeLinks(links, task)
		stats.RecordLinks(len(links))
		for i, link := range links {
			if queue.HasURL(link.URL) {
				continue
			}
			queue.Enqueue(crawl.Page{
				URL:          link.URL,
				Depth:        page.Depth + 1,
				ParentURL:    page.URL,
				Priority:     len(links) - i,
				DiscoveredAt: time.Now(),
				Status:       crawl.PagePending,
			})
		}

		if ajaxRemaining > 0 {
			endpoints := crawl.DiscoverAjaxEndpoints(finalURL, scripts, triggers)
			if len(endpoints) > ajaxRemaining {
				endpoints = endpoints[:ajaxRemaining]
			}
			ajaxRemaining -= len(endpoints)
			for _, ep := range endpoints {
				if ctx.Err() != nil {
					break
				}
				ajaxBody, _, err := f.get(ctx, ep, ajaxTimeout)
				requests++
				if err != nil {
					continue
				}
				stats.RecordAjaxFetch()
				text := extractJSONRecords(ajaxBody)
				if text == "" {
					frag := ajaxBody
					if !looksLikeHTML(frag) {
						frag = "<html><body>" + frag + "</body></html>"
					}
					if parsed, perr := parsePage(frag, ep); perr == nil {
						text = parsed.Text
					}
				}
				if text != "" {
					last := &pages[len(pages)-1]
					last.text += "\n\n--- AJAX: " + ep + " ---\n" + text
					extracted = append(extracted, "AJAX data from "+ep)
				}
			}
		}

		if page.Depth == 0 {
			f.enqueueSitemapPages(ctx, queue, detector, finalURL, cfg)
		}

		for _, frameURL := range crawl.DiscoverFrameURLs(body, finalURL) {
			norm := crawl.NormalizeURL(frameURL)
			if norm == "" || detector.Seen(norm) || queue.HasURL(norm) {
				continue
			}
			queue.Enqueue(crawl.Page{
				URL:          norm,
				Depth:        page.Depth + 1,
				ParentURL:    page.URL,
				DiscoveredAt: time.Now(),
				Status:       crawl.PagePending,
			})
		}

		if (len(extracted) == 0 || page.Depth == 0) && task != "" && f.llm != nil && f.llm.IsAvailable() {
			guidance := f.askGuidance(ctx, task, content.Text, links, triggers)
			if guidance != nil {
				if guidance.HasRelevantData {
					extracted = append(extracted, guidance.ExtractedData...)
				}
				if guidance.Summary != "" {
					summaries = append(summaries, guidance.Summary)
				}
				for _, idx := range guidance.LinksToFollow {
					if idx < 0 || idx >= len(links) {
						continue
					}
					target := links[idx]
					if queue.HasURL(target.URL) || detector.Seen(target.URL) {
						continue
					}
					queue.Enqueue(crawl.Page{
						URL:          target.URL,
						Depth:        page.Depth + 1,
						ParentURL:    page.URL,
						Priority:     100, // model-chosen links jump the queue
						DiscoveredAt: time.Now(),
						Status:       crawl.PagePending,
					})
				}
				emitAction(emit, model.ActionEvent{
					JobID: jobID, Type: model.ActionAnalysis,
					Message:   fmt.Sprintf("model guidance: relevant=%v, follow %d links", guidance.HasRelevantData, len(guidance.LinksToFollow)),
					Timestamp: time.Now(),
				})
			}
		}
	}

	if len(pages) == 0 {
		return nil, nil
	}

	res := f.composite(pages, extracted, summaries, stats.Summarize(), task)
	res.RequestCount = requests
	if tooSmall(res) {
		return nil, nil
	}
	return res, nil
}

func (f *AgentFetcher) crawlConfig() crawl.Config {
	cfg := crawl.Config{
		MaxPages:             f.cfg.MaxPages,
		MaxDepth:             f.cfg.MaxDepth,
		MaxAjaxEndpoints:     f.cfg.MaxAjaxEndpoints,
		FollowExternalLinks:  f.cfg.FollowExternalLinks,
		DelayBetweenRequests: f.cfg.DelayBetweenRequestsMs,
		RespectRobots:        f.cfg.RespectRobots,
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 10
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = 2
	}
	if cfg.MaxAjaxEndpoints <= 0 {
		cfg.MaxAjaxEndpoints = 10
	}
	return cfg
}

// enqueueSitemapPages seeds the queue with URLs the site advertises in
// its sitemap so shallow crawls still reach pages the start page never
// links to. Sitemap entries wait behind discovered links.
func (f *AgentFetcher) enqueueSitemapPages(ctx context.Context, queue *crawl.Queue, detector *crawl.Detector, baseURL string, cfg crawl.Config) {
	urls := crawl.DiscoverSitemapURLs(ctx, f.client, baseURL, cfg.MaxPages*2)
	if len(urls) == 0 {
		return
	}

	links := make([]crawl.DiscoveredLink, 0, len(urls))
	for _, u := range urls {
		links = append(links, crawl.DiscoveredLink{URL: u})
	}
	for _, link := range crawl.FilterLinks(links, cfg, detector, baseURL) {
		if queue.HasURL(link.URL) {
			continue
		}
		queue.Enqueue(crawl.Page{
			URL:          link.URL,
			Depth:        1,
			ParentURL:    baseURL,
			DiscoveredAt: time.Now(),
			Status:       crawl.PagePending,
		})
	}
}

func (f *AgentFetcher) politeness() *rate.Limiter {
	delay := time.Duration(f.cfg.DelayBetweenRequestsMs) * time.Millisecond
	if delay <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(delay), 1)
}

func (f *AgentFetcher) get(ctx context.Context, rawURL string, timeout time.Duration) (body, finalURL string, err error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", "", err
	}
	RandomFingerprint().Apply(req)

	resp, err := f.client.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", "", fmt.Errorf("status %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return "", "", err
	}
	return string(raw), resp.Request.URL.String(), nil
}

// collectScriptsAndTriggers gathers inline script bodies and elements
// whose short text plus attributes suggest a client-side data load.
func collectScriptsAndTriggers(doc *goquery.Document) ([]string, []crawl.AjaxTrigger) {
	var scripts []string
	doc.Find("script").Each(func(_ int, sel *goquery.Selection) {
		if body := sel.Text(); strings.TrimSpace(body) != "" {
			scripts = append(scripts, body)
		}
	})

	triggers := discoverAjaxTriggers(doc)
	doc.Find("[onclick]").Each(func(_ int, sel *goquery.Selection) {
		text := strings.TrimSpace(sel.Text())
		if text == "" || len(text) > 6 || !isNumeric(text) {
			return
		}
		triggers = append(triggers, crawl.AjaxTrigger{Text: text})
	})
	return scripts, triggers
}

func (f *AgentFetcher) askGuidance(ctx context.Context, task, pageText string, links []crawl.DiscoveredLink, triggers []crawl.AjaxTrigger) *agentGuidance {
	if len(pageText) > 3000 {
		pageText = pageText[:3000]
	}

	var sb strings.Builder
	sb.WriteString("You are guiding a web crawler. Task: ")
	sb.WriteString(task)
	sb.WriteString("\n\nCurrent page text:\n")
	sb.WriteString(pageText)
	if len(links) > 0 {
		sb.WriteString("\n\nUnvisited links:\n")
		for i, link := range links {
			if i >= 20 {
				break
			}
			fmt.Fprintf(&sb, "%d. %s (%s)\n", i, link.URL, link.Text)
		}
	}
	if len(triggers) > 0 {
		sb.WriteString("\nDetected AJAX triggers: ")
		for i, trig := range triggers {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(trig.Text)
		}
		sb.WriteString("\n")
	}
	sb.WriteString(`
Respond with JSON only:
{"hasRelevantData": bool, "extractedData": ["fact", ...], "linksToFollow": [indices], "summary": "one sentence"}`)

	reply, err := f.llm.Chat(ctx, []model.ChatMessage{{Role: "user", Content: sb.String()}})
	if err != nil {
		f.logger.Debug("agent guidance call failed", "error", err)
		return nil
	}

	startIdx := strings.Index(reply, "{")
	endIdx := strings.LastIndex(reply, "}")
	if startIdx == -1 || endIdx <= startIdx {
		return nil
	}
	var guidance agentGuidance
	if err := json.Unmarshal([]byte(reply[startIdx:endIdx+1]), &guidance); err != nil {
		return nil
	}
	return &guidance
}

// composite assembles the multi-page crawl into one FetchResult. The
// html keeps per-page delimiters; the markdown is a crawl report.
func (f *AgentFetcher) composite(pages []visitedPage, extracted, summaries []string, summary crawl.Summary, task string) *model.FetchResult {
	var htmlSB, textSB strings.Builder
	for _, p := range pages {
		fmt.Fprintf(&htmlSB, "<!-- PAGE %s -->\n%s\n", p.url, p.html)
		fmt.Fprintf(&textSB, "=== %s ===\n%s\n\n", p.url, p.text)
	}

	var md strings.Builder
	md.WriteString("# Crawl Report\n\n")
	if task != "" {
		md.WriteString("Task: " + task + "\n\n")
	}
	md.WriteString("## Statistics\n\n")
	fmt.Fprintf(&md, "- Pages visited: %d\n", summary.PagesVisited)
	fmt.Fprintf(&md, "- Pages failed: %d\n", summary.PagesFailed)
	fmt.Fprintf(&md, "- Duplicates skipped: %d\n", summary.Duplicates)
	fmt.Fprintf(&md, "- Links discovered: %d\n", summary.LinksDiscovered)
	fmt.Fprintf(&md, "- AJAX endpoints fetched: %d\n", summary.AjaxFetched)
	fmt.Fprintf(&md, "- Depth reached: %d\n", summary.DepthReached)
	fmt.Fprintf(&md, "- Success rate: %.0f%%\n", summary.SuccessRate*100)

	md.WriteString("\n## Pages\n\n")
	for _, p := range pages {
		title := p.title
		if title == "" {
			title = p.url
		}
		fmt.Fprintf(&md, "- [%s](%s)\n", title, p.url)
	}

	if len(extracted) > 0 {
		md.WriteString("\n## Extracted\n\n")
		for _, item := range extracted {
			md.WriteString("- " + item + "\n")
		}
	}
	if len(summaries) > 0 {
		md.WriteString("\n## Summary\n\n")
		for _, s := range summaries {
			md.WriteString(s + "\n")
		}
	}

	first := pages[0]
	return &model.FetchResult{
		HTML:       htmlSB.String(),
		Markdown:   md.String(),
		Text:       strings.TrimSpace(textSB.String()),
		FinalURL:   first.url,
		StatusCode: 200,
		PageTitle:  first.title,
	}
}
