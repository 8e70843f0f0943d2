package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/google/uuid"

	"prowler/internal/config"
	"prowler/internal/llm"
	"prowler/internal/model"
)

const (
	maxClicks      = 10
	fallbackClicks = 5
	clickSettle    = 1500 * time.Millisecond
)

// stealthJS neutralizes the most common automation probes before any
// page script runs.
const stealthJS = `
Object.defineProperty(navigator, 'webdriver', { get: () => undefined });
Object.defineProperty(navigator, 'plugins', { get: () => [1, 2, 3, 4, 5] });
Object.defineProperty(navigator, 'languages', { get: () => ['en-US', 'en'] });
window.chrome = window.chrome || { runtime: {} };
`

// discoverClickablesJS collects elements that plausibly load data when
// activated: bare anchors, buttons, and tab-like controls. Each gets a
// synthetic index attribute so Go can address it later.
const discoverClickablesJS = `() => {
	const seen = new Set();
	const out = [];
	const yearish = /^(19|20)\d{2}$/;
	const shortDigits = /^\d{1,6}$/;
	const add = (el) => {
		if (seen.has(el) || out.length >= 50) return;
		seen.add(el);
		const text = (el.textContent || el.value || '').trim().slice(0, 80);
		if (!text) return;
		const idx = out.length;
		el.setAttribute('data-agent-idx', String(idx));
		const trigger = yearish.test(text) || shortDigits.test(text) ||
			text.toLowerCase().includes('view') ||
			el.hasAttribute('data-year') || el.hasAttribute('data-id') || el.hasAttribute('data-page');
		out.push({
			selector: '[data-agent-idx="' + idx + '"]',
			text: text,
			tag: el.tagName.toLowerCase(),
			likelyDataTrigger: !!trigger,
		});
	};
	document.querySelectorAll('a[href="#"], a[href=""], a:not([href])').forEach(add);
	document.querySelectorAll('button, [role="button"], [onclick], [data-year], [data-id], [data-page]').forEach(add);
	document.querySelectorAll('[role="tab"], .tab, .nav-link').forEach(add);
	return JSON.stringify(out);
}`

// clickCandidate mirrors the objects produced by discoverClickablesJS.
type clickCandidate struct {
	Selector          string `json:"selector"`
	Text              string `json:"text"`
	Tag               string `json:"tag"`
	LikelyDataTrigger bool   `json:"likelyDataTrigger"`
}

// capturedResponse is one JSON/ajax network response observed while
// interacting with the page.
type capturedResponse struct {
	URL    string `json:"url"`
	Method string `json:"method"`
	Body   string `json:"body"`
}

// SmartFetcher drives a stealth browser session guided by the LLM: it
// discovers clickable data triggers, asks the model which ones serve
// the task, clicks them, and harvests both the revealed text and the
// AJAX responses the clicks provoke.
type SmartFetcher struct {
	browserURL string
	timeout    time.Duration
	client     llm.Client
	logger     *slog.Logger
}

func NewSmartFetcher(cfg config.ScraperConfig, client llm.Client, logger *slog.Logger) *SmartFetcher {
	timeout := time.Duration(cfg.BrowserTimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &SmartFetcher{
		browserURL: cfg.BrowserURL,
		timeout:    timeout,
		client:     client,
		logger:     logger,
	}
}

func (f *SmartFetcher) Name() string { return "smart" }

func (f *SmartFetcher) Fetch(ctx context.Context, rawURL string, jobID uuid.UUID, opts model.JobOptions, emit model.ProgressEmitter) (*model.FetchResult, error) {
	return f.FetchTask(ctx, rawURL, "", jobID, opts, emit)
}

func (f *SmartFetcher) FetchTask(ctx context.Context, rawURL, task string, jobID uuid.UUID, opts model.JobOptions, emit model.ProgressEmitter) (*model.FetchResult, error) {
	browser, err := connectBrowser(ctx, f.browserURL, map[string]string{
		"disable-blink-features": "AutomationControlled",
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrUnavailable, err)
	}
	defer func() { _ = browser.Close() }()

	// The capture router below owns request interception, so the
	// generic resource blocking stays off for this tier.
	pageOpts := opts
	pageOpts.BlockResources = false
	page, err := preparePage(browser, rawURL, pageOpts, f.timeout)
	if err != nil {
		return nil, nil
	}
	defer func() { _ = page.Close() }()

	if _, err := page.EvalOnNewDocument(stealthJS); err != nil {
		return nil, nil
	}

	var (
		capturedMu sync.Mutex
		captured   []capturedResponse
	)
	router := page.HijackRequests()
	if err := router.Add("*", "", func(hctx *rod.Hijack) {
		if err := hctx.LoadResponse(http.DefaultClient, true); err != nil {
			return
		}
		contentType := hctx.Response.Headers().Get("Content-Type")
		reqURL := hctx.Request.URL().String()
		if captureWorthy(contentType, reqURL) {
			capturedMu.Lock()
			captured = append(captured, capturedResponse{
				URL:    reqURL,
				Method: hctx.Request.Method(),
				Body:   hctx.Response.Body(),
			})
			capturedMu.Unlock()
		}
	}); err != nil {
		return nil, nil
	}
	go router.Run()
	defer func() { _ = router.Stop() }()

	if err := navigate(page, rawURL); err != nil {
		f.logger.Debug("smart tier navigation failed", "url", rawURL, "error", err)
		return nil, nil
	}

	baseText := pageText(page)
	candidates := f.discoverClickables(page)

	emitAction(emit, model.ActionEvent{
		JobID: jobID, Type: model.ActionObservation,
		Message:   fmt.Sprintf("found %d clickable candidates", len(candidates)),
		Timestamp: time.Now(),
	})

	indices := f.chooseClicks(ctx, task, baseText, candidates)
	collected := baseText
	for _, idx := range indices {
		if ctx.Err() != nil {
			break
		}
		cand := candidates[idx]
		el, err := page.Element(cand.Selector)
		if err != nil {
			continue
		}
		if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
			continue
		}
		emitAction(emit, model.ActionEvent{
			JobID: jobID, Type: model.ActionClick,
			Message:   "clicked " + cand.Text,
			Details:   map[string]any{"selector": cand.Selector},
			Timestamp: time.Now(),
		})
		time.Sleep(clickSettle)

		next := pageText(page)
		if diff := textDiff(collected, next); diff != "" {
			collected += "\n\n--- After clicking \"" + cand.Text + "\" ---\n" + diff
		}
	}

	htmlStr, err := page.HTML()
	if err != nil {
		return nil, nil
	}
	content, err := parsePage(htmlStr, rawURL)
	if err != nil {
		return nil, nil
	}

	info, err := page.Info()
	finalURL := rawURL
	if err == nil {
		finalURL = info.URL
	}

	res := &model.FetchResult{
		HTML:            htmlStr,
		Markdown:        content.Markdown,
		Text:            collected,
		FinalURL:        finalURL,
		StatusCode:      200,
		PageTitle:       content.Title,
		PageDescription: content.Description,
		RequestCount:    1 + len(indices),
	}

	capturedMu.Lock()
	for _, c := range captured {
		body := c.Body
		if pretty := extractJSONRecords(body); pretty != "" {
			body = pretty
		}
		appendSection(res, "CAPTURED "+c.Method+" "+c.URL, body)
	}
	capturedMu.Unlock()

	if tooSmall(res) {
		return nil, nil
	}
	return res, nil
}

// captureWorthy matches responses the interaction loop should record.
func captureWorthy(contentType, url string) bool {
	if strings.Contains(contentType, "json") {
		return true
	}
	lower := strings.ToLower(url)
	return strings.Contains(lower, "ajax") || strings.Contains(lower, "api")
}

func (f *SmartFetcher) discoverClickables(page *rod.Page) []clickCandidate {
	obj, err := page.Eval(discoverClickablesJS)
	if err != nil {
		return nil
	}
	var candidates []clickCandidate
	if err := json.Unmarshal([]byte(obj.Value.Str()), &candidates); err != nil {
		return nil
	}
	return candidates
}

// chooseClicks asks the LLM which candidates serve the task. Without a
// usable answer it falls back to the first few likely data triggers.
func (f *SmartFetcher) chooseClicks(ctx context.Context, task, preview string, candidates []clickCandidate) []int {
	if len(candidates) == 0 {
		return nil
	}
	if f.client != nil && f.client.IsAvailable() {
		if indices := f.askModel(ctx, task, preview, candidates); indices != nil {
			return indices
		}
	}
	var out []int
	for i, cand := range candidates {
		if cand.LikelyDataTrigger {
			out = append(out, i)
			if len(out) >= fallbackClicks {
				break
			}
		}
	}
	return out
}

func (f *SmartFetcher) askModel(ctx context.Context, task, preview string, candidates []clickCandidate) []int {
	if len(preview) > 1500 {
		preview = preview[:1500]
	}
	var sb strings.Builder
	sb.WriteString("A web page may hide data behind clickable elements. Decide which to click.\n")
	if task != "" {
		sb.WriteString("User task: " + task + "\n")
	}
	sb.WriteString("\nPage text preview:\n")
	sb.WriteString(preview)
	sb.WriteString("\n\nClickable elements:\n")
	for i, cand := range candidates {
		fmt.Fprintf(&sb, "%d. <%s> %q (dataTrigger=%v)\n", i, cand.Tag, cand.Text, cand.LikelyDataTrigger)
	}
	sb.WriteString("\nRespond with a JSON array of element indices to click, most useful first, at most 10. Example: [0, 3, 7]")

	reply, err := f.client.Chat(ctx, []model.ChatMessage{{Role: "user", Content: sb.String()}})
	if err != nil {
		f.logger.Debug("smart tier llm unavailable", "error", err)
		return nil
	}
	return parseIndices(reply, len(candidates), maxClicks)
}

// parseIndices extracts a JSON integer array from an LLM reply,
// dropping out-of-range and duplicate values.
func parseIndices(reply string, n, max int) []int {
	start := strings.Index(reply, "[")
	end := strings.LastIndex(reply, "]")
	if start == -1 || end <= start {
		return nil
	}
	var raw []int
	if err := json.Unmarshal([]byte(reply[start:end+1]), &raw); err != nil {
		return nil
	}
	seen := make(map[int]bool)
	var out []int
	for _, idx := range raw {
		if idx < 0 || idx >= n || seen[idx] {
			continue
		}
		seen[idx] = true
		out = append(out, idx)
		if len(out) >= max {
			break
		}
	}
	return out
}

// textDiff returns the part of next that old does not already contain.
func textDiff(old, next string) string {
	if next == old {
		return ""
	}
	if strings.HasPrefix(next, old) {
		return strings.TrimSpace(next[len(old):])
	}
	// Fall back to line-level comparison when content shifted.
	known := make(map[string]bool)
	for _, line := range strings.Split(old, "\n") {
		known[strings.TrimSpace(line)] = true
	}
	var fresh []string
	for _, line := range strings.Split(next, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed != "" && !known[trimmed] {
			fresh = append(fresh, trimmed)
		}
	}
	return strings.Join(fresh, "\n")
}

func pageText(page *rod.Page) string {
	el, err := page.Element("body")
	if err != nil {
		return ""
	}
	text, err := el.Text()
	if err != nil {
		return ""
	}
	return collapseText(text)
}
