package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"prowler/internal/config"
	"prowler/internal/model"
)

// ReaderFetcher delegates rendering to a reader API that returns a
// markdown digest of the target page. It is the middle tier: slower
// than plain HTTP but much cheaper than a browser.
type ReaderFetcher struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

func NewReaderFetcher(cfg config.ScraperConfig, logger *slog.Logger) *ReaderFetcher {
	timeout := time.Duration(cfg.ReaderTimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &ReaderFetcher{
		baseURL: strings.TrimRight(cfg.ReaderBaseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

func (f *ReaderFetcher) Name() string { return "reader" }

// Available reports whether a reader endpoint is configured at all.
func (f *ReaderFetcher) Available() bool { return f.baseURL != "" }

func (f *ReaderFetcher) Fetch(ctx context.Context, rawURL string, jobID uuid.UUID, opts model.JobOptions, emit model.ProgressEmitter) (*model.FetchResult, error) {
	if f.baseURL == "" {
		return nil, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+"/"+rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", model.ErrInvalidURL, rawURL)
	}
	req.Header.Set("Accept", "text/plain, text/markdown")

	resp, err := f.client.Do(req)
	if err != nil {
		f.logger.Debug("reader tier failed", "url", rawURL, "error", err)
		return nil, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, nil
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, nil
	}

	markdown := strings.TrimSpace(string(raw))
	if len(markdown) < minTextLength || strings.Contains(markdown, "Error:") || strings.Contains(markdown, "Failed to") {
		return nil, nil
	}

	title, description := markdownSummary(markdown)

	emitAction(emit, model.ActionEvent{
		JobID: jobID, Type: model.ActionNavigation,
		Message:   "reader rendered " + rawURL,
		Details:   map[string]any{"bytes": len(markdown)},
		Timestamp: time.Now(),
	})

	return &model.FetchResult{
		HTML:            "",
		Markdown:        markdown,
		Text:            stripMarkdown(markdown),
		FinalURL:        rawURL,
		StatusCode:      resp.StatusCode,
		ContentType:     resp.Header.Get("Content-Type"),
		PageTitle:       title,
		PageDescription: description,
		RequestCount:    1,
	}, nil
}

// markdownSummary derives a title from the first heading and a
// description from the first plain paragraph.
func markdownSummary(markdown string) (title, description string) {
	for _, line := range strings.Split(markdown, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			if title == "" {
				title = strings.TrimSpace(strings.TrimLeft(line, "# "))
			}
			continue
		}
		if description == "" {
			description = line
		}
		if title != "" && description != "" {
			break
		}
	}
	return title, description
}

var (
	mdHeading  = regexp.MustCompile(`(?m)^#{1,6}\s*`)
	mdLink     = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	mdImage    = regexp.MustCompile(`!\[[^\]]*\]\([^)]*\)`)
	mdEmphasis = regexp.MustCompile(`(\*\*|__|\*|_|~~|` + "`" + `)`)
)

// stripMarkdown removes decoration so the text payload reads as prose.
func stripMarkdown(markdown string) string {
	out := mdImage.ReplaceAllString(markdown, "")
	out = mdLink.ReplaceAllString(out, "$1")
	out = mdHeading.ReplaceAllString(out, "")
	out = mdEmphasis.ReplaceAllString(out, "")
	return collapseText(out)
}
