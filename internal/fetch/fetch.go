// Package fetch implements the fetcher tiers: plain HTTP, Reader API,
// headless browser, AI-guided interactive, and the multi-page agent
// crawler. Every tier satisfies the same contract; a (nil, nil) return
// means "no useful content, try the next tier".
package fetch

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"prowler/internal/model"
)

// Fetcher is one tier of the scrape cascade.
type Fetcher interface {
	Name() string
	Fetch(ctx context.Context, url string, jobID uuid.UUID, opts model.JobOptions, emit model.ProgressEmitter) (*model.FetchResult, error)
}

// TaskFetcher is implemented by tiers whose behaviour depends on the
// job's task description (smart clicking, agent crawling). The
// orchestrator prefers this entry point when a task is present.
type TaskFetcher interface {
	Fetcher
	FetchTask(ctx context.Context, url, task string, jobID uuid.UUID, opts model.JobOptions, emit model.ProgressEmitter) (*model.FetchResult, error)
}

const (
	// minTextLength is the floor below which a tier rejects its own
	// output and yields to the next one.
	minTextLength = 100
	// minHTMLLength is the matching floor for raw HTML size.
	minHTMLLength = 500
)

// tooSmall reports whether a fetched payload is below both rejection
// floors.
func tooSmall(res *model.FetchResult) bool {
	if res == nil {
		return true
	}
	return len(strings.TrimSpace(res.Text)) < minTextLength && len(res.HTML) < minHTMLLength
}

func emitAction(emit model.ProgressEmitter, ev model.ActionEvent) {
	if emit != nil {
		emit.EmitAction(ev)
	}
}
