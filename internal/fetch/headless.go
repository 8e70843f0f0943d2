package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"regexp"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/google/uuid"

	"prowler/internal/config"
	"prowler/internal/model"
)

var blockedResourceTypes = map[proto.NetworkResourceType]bool{
	proto.NetworkResourceTypeImage:      true,
	proto.NetworkResourceTypeFont:       true,
	proto.NetworkResourceTypeMedia:      true,
	proto.NetworkResourceTypeStylesheet: true,
}

var trackerPattern = regexp.MustCompile(`(?i)google-analytics|googletagmanager|doubleclick|facebook\.net|hotjar|segment\.io|mixpanel|adservice|criteo|taboola`)

// SitePreset tunes the headless tier for hosts that need extra settling
// time or a specific element before their content is real.
type SitePreset struct {
	WaitSelector string
	ExtraWait    time.Duration
}

var sitePresets = map[string]SitePreset{
	"amazon.":   {WaitSelector: "#productTitle", ExtraWait: 2 * time.Second},
	"linkedin.": {ExtraWait: 3 * time.Second},
}

func presetFor(host string) (SitePreset, bool) {
	host = strings.ToLower(host)
	for key, preset := range sitePresets {
		if strings.Contains(host, key) {
			return preset, true
		}
	}
	return SitePreset{}, false
}

// HeadlessFetcher renders pages in a real browser. It is the last tier
// of the automatic cascade, reserved for pages the cheaper tiers could
// not fill in.
type HeadlessFetcher struct {
	browserURL string
	timeout    time.Duration
	sink       BlobSink
	logger     *slog.Logger
}

func NewHeadlessFetcher(cfg config.ScraperConfig, sink BlobSink, logger *slog.Logger) *HeadlessFetcher {
	timeout := time.Duration(cfg.BrowserTimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HeadlessFetcher{
		browserURL: cfg.BrowserURL,
		timeout:    timeout,
		sink:       sink,
		logger:     logger,
	}
}

func (f *HeadlessFetcher) Name() string { return "headless" }

// connect attaches to the configured remote browser or launches a
// local one with a single profile and no sandbox.
func connectBrowser(ctx context.Context, browserURL string, extraFlags map[string]string) (*rod.Browser, error) {
	if browserURL == "" {
		l := launcher.New().
			Headless(true).
			Set("no-sandbox").
			Set("disable-dev-shm-usage").
			Set("disable-gpu")
		for k, v := range extraFlags {
			l = l.Set(flags.Flag(k), v)
		}
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("launch browser: %w", err)
		}
		browserURL = u
	}
	browser := rod.New().ControlURL(browserURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	return browser, nil
}

func (f *HeadlessFetcher) Fetch(ctx context.Context, rawURL string, jobID uuid.UUID, opts model.JobOptions, emit model.ProgressEmitter) (*model.FetchResult, error) {
	browser, err := connectBrowser(ctx, f.browserURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrUnavailable, err)
	}
	defer func() { _ = browser.Close() }()

	page, err := preparePage(browser, rawURL, opts, f.timeout)
	if err != nil {
		f.logger.Debug("headless tier failed", "url", rawURL, "error", err)
		return nil, nil
	}
	defer func() { _ = page.Close() }()

	if err := navigate(page, rawURL); err != nil {
		f.logger.Debug("headless navigation failed", "url", rawURL, "error", err)
		return nil, nil
	}

	info, err := page.Info()
	finalURL := rawURL
	if err == nil {
		finalURL = info.URL
	}
	if preset, ok := presetFor(finalURL); ok {
		if preset.WaitSelector != "" {
			_, _ = page.Timeout(5 * time.Second).Element(preset.WaitSelector)
		}
		time.Sleep(preset.ExtraWait)
	}

	htmlStr, err := page.HTML()
	if err != nil {
		return nil, nil
	}

	content, err := parsePage(htmlStr, finalURL)
	if err != nil {
		return nil, nil
	}

	res := &model.FetchResult{
		HTML:            htmlStr,
		Markdown:        content.Markdown,
		Text:            content.Text,
		FinalURL:        finalURL,
		StatusCode:      200,
		PageTitle:       content.Title,
		PageDescription: content.Description,
		RequestCount:    1,
	}

	inlineFrames(page, res)

	if opts.Screenshots && f.sink != nil {
		if ref, err := f.screenshot(page, jobID); err == nil {
			res.Screenshots = append(res.Screenshots, ref)
		}
	}

	emitAction(emit, model.ActionEvent{
		JobID: jobID, Type: model.ActionNavigation,
		Message:   "rendered " + finalURL,
		Details:   map[string]any{"bytes": len(htmlStr)},
		Timestamp: time.Now(),
	})

	if tooSmall(res) {
		return nil, nil
	}
	return res, nil
}

// preparePage creates a tab with a random fingerprint, jittered
// viewport, resource blocking, and the job's cookies.
func preparePage(browser *rod.Browser, rawURL string, opts model.JobOptions, timeout time.Duration) (*rod.Page, error) {
	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, err
	}
	page = page.Timeout(timeout)

	fp := RandomFingerprint()
	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
		UserAgent:      fp.UserAgent,
		AcceptLanguage: fp.AcceptLanguage,
	}); err != nil {
		return nil, err
	}

	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             1920 + rand.Intn(101) - 50,
		Height:            1080 + rand.Intn(61) - 30,
		DeviceScaleFactor: 1,
	}); err != nil {
		return nil, err
	}

	if len(opts.Cookies) > 0 {
		cookies := make([]*proto.NetworkCookieParam, 0, len(opts.Cookies))
		for name, value := range opts.Cookies {
			cookies = append(cookies, &proto.NetworkCookieParam{Name: name, Value: value, URL: rawURL})
		}
		if err := page.SetCookies(cookies); err != nil {
			return nil, err
		}
	}

	if opts.BlockResources {
		router := page.HijackRequests()
		err := router.Add("*", "", func(hctx *rod.Hijack) {
			if blockedResourceTypes[hctx.Request.Type()] || trackerPattern.MatchString(hctx.Request.URL().String()) {
				hctx.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
				return
			}
			hctx.ContinueRequest(&proto.FetchContinueRequest{})
		})
		if err != nil {
			return nil, err
		}
		go router.Run()
	}

	return page, nil
}

// navigate waits for domcontentloaded plus a short grace period; JS
// frameworks usually hydrate within it.
func navigate(page *rod.Page, rawURL string) error {
	wait := page.WaitEvent(&proto.PageDomContentEventFired{})
	if err := page.Navigate(rawURL); err != nil {
		return err
	}
	wait()
	time.Sleep(time.Second)
	return nil
}

// inlineFrames appends the html and text of every attached frame.
func inlineFrames(page *rod.Page, res *model.FetchResult) {
	els, err := page.Elements("iframe, frame")
	if err != nil {
		return
	}
	for _, el := range els {
		src, _ := el.Attribute("src")
		if src == nil || *src == "" || strings.HasPrefix(*src, "about:") {
			continue
		}
		framePage, err := el.Frame()
		if err != nil {
			continue
		}
		framePage = framePage.Timeout(frameTimeout)
		_ = framePage.WaitLoad()
		frameHTML, err := framePage.HTML()
		if err != nil {
			continue
		}
		if content, err := parsePage(frameHTML, *src); err == nil {
			appendSection(res, "FRAME: "+*src, content.Text)
		}
	}
}

func (f *HeadlessFetcher) screenshot(page *rod.Page, jobID uuid.UUID) (string, error) {
	quality := 80
	data, err := page.Screenshot(false, &proto.PageCaptureScreenshot{
		Format:  proto.PageCaptureScreenshotFormatJpeg,
		Quality: &quality,
	})
	if err != nil {
		return "", err
	}
	return f.sink.Save(jobID, fmt.Sprintf("page-%d.jpg", time.Now().UnixMilli()), data)
}
