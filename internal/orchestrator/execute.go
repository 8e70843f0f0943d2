package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"prowler/internal/extract"
	"prowler/internal/fetch"
	"prowler/internal/metrics"
	"prowler/internal/model"
	"prowler/internal/validator"
)

// htmlFloor mirrors the fetch tiers' minimum HTML size so the cascade
// gate and the tiers agree on what counts as empty.
const htmlFloor = 500

// runJob executes a job with retries and finalizes its status. It is
// the only writer of terminal states besides CancelJob.
func (s *Service) runJob(ctx context.Context, job *model.Job) {
	s.sleep(s.jitter())

	maxRetries := s.cfg.Worker.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	backoffBase := time.Duration(s.cfg.Worker.RetryBackoffBaseMs) * time.Millisecond
	if backoffBase <= 0 {
		backoffBase = time.Second
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			s.sleep(backoffBase << (attempt - 1))
			job.Metadata.Retries = attempt
			s.emitProgress(job, fmt.Sprintf("retrying (attempt %d/%d)", attempt+1, maxRetries), 5)
		}
		if ctx.Err() != nil {
			lastErr = ctx.Err()
			break
		}

		lastErr = s.attempt(ctx, job)
		if lastErr == nil {
			return
		}
		if errors.Is(lastErr, context.Canceled) ||
			errors.Is(lastErr, model.ErrIllegalTransition) ||
			errors.Is(lastErr, model.ErrInvalidURL) {
			break
		}
		s.logger.Warn("scrape attempt failed",
			"job_id", job.ID, "attempt", attempt+1, "error", lastErr)
	}

	s.finalize(ctx, job, lastErr)
}

// finalize stamps the terminal state, taking care not to clobber a
// cancellation that raced in through CancelJob.
func (s *Service) finalize(ctx context.Context, job *model.Job, runErr error) {
	stored, err := s.repo.Get(context.WithoutCancel(ctx), job.ID)
	if err == nil && stored.Status.Terminal() {
		return
	}

	if errors.Is(runErr, context.Canceled) || ctx.Err() != nil {
		job.Status = model.StatusCancelled
	} else {
		job.Status = model.StatusFailed
		job.ErrorMessage = runErr.Error()
	}
	now := time.Now().UTC()
	job.CompletedAt = &now
	if err := s.repo.Update(context.WithoutCancel(ctx), job); err != nil {
		s.logger.Error("finalize job", "job_id", job.ID, "error", err)
		return
	}
	s.emitProgress(job, string(job.Status), 100)
}

// transition moves the job to next and persists it. Re-entering the
// current status is a no-op so retries can call it freely.
func (s *Service) transition(ctx context.Context, job *model.Job, next model.Status) error {
	if job.Status == next {
		return nil
	}
	if !job.Status.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", model.ErrIllegalTransition, job.Status, next)
	}
	job.Status = next
	now := time.Now().UTC()
	switch next {
	case model.StatusRunning:
		job.StartedAt = &now
	case model.StatusCompleted, model.StatusFailed, model.StatusCancelled:
		job.CompletedAt = &now
	}
	return s.repo.Update(ctx, job)
}

func cacheKey(job *model.Job) string {
	return fmt.Sprintf("scrape:%s:%s:default", job.URL, job.ScraperType)
}

// attempt is a single end-to-end execution: cache, cascade,
// validation, extraction, persistence.
func (s *Service) attempt(ctx context.Context, job *model.Job) error {
	if err := s.transition(ctx, job, model.StatusRunning); err != nil {
		return err
	}
	s.emitProgress(job, "scraping "+job.URL, 10)
	start := time.Now()

	if timeout := time.Duration(s.cfg.Scraper.ScrapeTimeoutMs) * time.Millisecond; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	res, usedTier, fromCache, err := s.resolveContent(ctx, job)
	if err != nil {
		return err
	}
	if res == nil || (len(res.Text) < 100 && len(res.HTML) < htmlFloor) {
		return fmt.Errorf("%w: all tiers exhausted for %s", model.ErrEmptyContent, job.URL)
	}

	job.HTML = res.HTML
	job.Markdown = res.Markdown
	job.Text = res.Text
	job.Screenshots = res.Screenshots
	job.Metadata.FinalURL = res.FinalURL
	job.Metadata.StatusCode = res.StatusCode
	job.Metadata.ContentType = res.ContentType
	job.Metadata.PageTitle = res.PageTitle
	job.Metadata.RequestCount = res.RequestCount
	job.Metadata.Bytes = len(res.HTML) + len(res.Text)
	job.Metadata.ScraperUsed = usedTier
	job.Metadata.FromCache = fromCache

	if !fromCache && s.cache != nil {
		ttl := time.Duration(s.cfg.Cache.TTLSec) * time.Second
		if ttl <= 0 {
			ttl = time.Hour
		}
		if err := s.cache.Set(ctx, cacheKey(job), res, ttl); err != nil {
			s.logger.Debug("cache store failed", "job_id", job.ID, "error", err)
		}
	}

	s.emitProgress(job, "extracting entities", 80)
	s.extractEntities(ctx, job)

	job.Metadata.DurationMs = time.Since(start).Milliseconds()
	if err := s.transition(ctx, job, model.StatusCompleted); err != nil {
		return err
	}
	s.emitProgress(job, "completed via "+usedTier, 100)
	return nil
}

// resolveContent returns page content for the job, from cache when
// allowed, otherwise by running the tier cascade for its scraper type.
func (s *Service) resolveContent(ctx context.Context, job *model.Job) (*model.FetchResult, string, bool, error) {
	if s.cache != nil && !job.Options.ForceRefresh {
		var cached model.FetchResult
		if s.cache.GetJSON(ctx, cacheKey(job), &cached) {
			metrics.RecordCacheLookup("hit")
			s.emitProgress(job, "served from cache", 70)
			return &cached, "cache", true, nil
		}
		metrics.RecordCacheLookup("miss")
	}

	res, usedTier, err := s.cascade(ctx, job)
	if err != nil || res == nil {
		return res, usedTier, false, err
	}

	// A structurally fine page can still be an empty shell whose data
	// only loads on interaction; route those to the smart tier.
	if job.ScraperType == model.ScraperAuto && s.validator != nil {
		if escalated := s.escalate(ctx, job, res); escalated != nil {
			return escalated, "smart", false, nil
		}
	}
	return res, usedTier, false, nil
}

// cascade runs the tiers for the job's scraper type and returns the
// first result that clears the content gate.
func (s *Service) cascade(ctx context.Context, job *model.Job) (*model.FetchResult, string, error) {
	type tier struct {
		name string
		f    fetch.Fetcher
	}

	var order []tier
	switch job.ScraperType {
	case model.ScraperAuto:
		order = []tier{
			{"http", s.tiers.HTTP},
			{"reader", s.tiers.Reader},
			{"headless", s.tiers.Headless},
		}
	case model.ScraperHTTP, model.ScraperCheerio:
		order = []tier{{"http", s.tiers.HTTP}}
	case model.ScraperReader:
		order = []tier{{"reader", s.tiers.Reader}}
	case model.ScraperHeadless:
		order = []tier{{"headless", s.tiers.Headless}}
	case model.ScraperSmart:
		order = []tier{{"smart", s.tiers.Smart}}
	case model.ScraperAIAgent:
		order = []tier{{"ai_agent", s.tiers.Agent}}
	default:
		return nil, "", fmt.Errorf("%w: unknown scraper type %q", model.ErrInvalidInput, job.ScraperType)
	}

	var last *model.FetchResult
	var lastTier string
	for i, t := range order {
		if t.f == nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, "", err
		}
		s.emitProgress(job, "trying "+t.name+" tier", 20+i*20)

		tierStart := time.Now()
		res, err := s.fetchTier(ctx, t.f, job)
		elapsed := time.Since(tierStart).Milliseconds()
		if err != nil {
			metrics.RecordScrape(t.name, "error", elapsed)
			if len(order) == 1 {
				return nil, "", err
			}
			s.logger.Debug("tier errored, advancing", "job_id", job.ID, "tier", t.name, "error", err)
			continue
		}
		if res == nil {
			metrics.RecordScrape(t.name, "insufficient", elapsed)
			continue
		}
		if s.contentSufficient(res) {
			metrics.RecordScrape(t.name, "success", elapsed)
			return res, t.name, nil
		}
		metrics.RecordScrape(t.name, "insufficient", elapsed)
		last, lastTier = res, t.name
	}
	return last, lastTier, nil
}

// fetchTier prefers the task-aware entry point when the tier offers one
// and the job carries a task.
func (s *Service) fetchTier(ctx context.Context, f fetch.Fetcher, job *model.Job) (*model.FetchResult, error) {
	if tf, ok := f.(fetch.TaskFetcher); ok && job.TaskDescription != "" {
		return tf.FetchTask(ctx, job.URL, job.TaskDescription, job.ID, job.Options, s.emitter)
	}
	return f.Fetch(ctx, job.URL, job.ID, job.Options, s.emitter)
}

func (s *Service) contentSufficient(res *model.FetchResult) bool {
	minText := s.cfg.Scraper.MinContentLength
	if minText <= 0 {
		minText = 100
	}
	return len(res.Text) >= minText || len(res.HTML) >= htmlFloor
}

// escalate re-fetches through the smart tier when validation says the
// page needs interaction. Returns nil when the original result stands.
func (s *Service) escalate(ctx context.Context, job *model.Job, res *model.FetchResult) *model.FetchResult {
	if s.tiers.Smart == nil {
		return nil
	}
	v, err := s.validator.Validate(ctx, &validator.Context{
		HTML:            res.HTML,
		Text:            res.Text,
		Markdown:        res.Markdown,
		URL:             job.URL,
		TaskDescription: job.TaskDescription,
		PageTitle:       res.PageTitle,
		ContentType:     res.ContentType,
	})
	if err != nil || v == nil || !v.NeedsInteraction {
		return nil
	}

	s.emitProgress(job, "content needs interaction, escalating to smart tier", 60)
	smartRes, err := s.fetchTier(ctx, s.tiers.Smart, job)
	if err != nil || smartRes == nil || !s.contentSufficient(smartRes) {
		return nil
	}
	return smartRes
}

// extractEntities runs the strategy registry when the job has a task.
// Extraction failures degrade the job, they never fail it.
func (s *Service) extractEntities(ctx context.Context, job *model.Job) {
	if s.registry == nil || strings.TrimSpace(job.TaskDescription) == "" {
		return
	}

	result := s.registry.ExtractWithFallback(ctx, &extract.Context{
		HTML:            job.HTML,
		Markdown:        job.Markdown,
		Text:            job.Text,
		URL:             job.URL,
		TaskDescription: job.TaskDescription,
	}, s.cfg.Extraction.PreferredStrategyOrder)
	if result == nil {
		return
	}

	job.Entities = result.Entities
	if s.llm != nil {
		modelName, _ := result.Metadata["model"].(string)
		metrics.RecordLLMExtract(s.llm.ProviderName(), modelName, result.Success)
	}
	ai := &model.AIProcessing{
		Prompt:  job.TaskDescription,
		Success: result.Success,
		Error:   result.Error,
	}
	if name, ok := result.Metadata["model"].(string); ok {
		ai.Model = name
	}
	if summary, ok := result.Metadata["summary"].(string); ok {
		ai.Response = summary
	}
	job.AIProcessing = ai
}
