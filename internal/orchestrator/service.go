// Package orchestrator owns the job lifecycle: it persists jobs,
// schedules their execution on a bounded worker pool, drives the
// fetcher cascade, and emits progress events along the way.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"prowler/internal/cache"
	"prowler/internal/config"
	"prowler/internal/extract"
	"prowler/internal/fetch"
	"prowler/internal/llm"
	"prowler/internal/model"
	"prowler/internal/store"
	"prowler/internal/validator"
)

// reuseWindow is how recent a completed job must be for
// ScrapeAndAnswer to reuse it instead of scraping again.
const reuseWindow = 5 * time.Minute

// Tiers groups the fetcher implementations the orchestrator dispatches
// to. Any entry may be nil; missing tiers are skipped.
type Tiers struct {
	HTTP     fetch.Fetcher
	Reader   fetch.Fetcher
	Headless fetch.Fetcher
	Smart    fetch.Fetcher
	Agent    fetch.Fetcher
}

// Service is the scrape orchestrator.
type Service struct {
	cfg       *config.Config
	repo      store.Repository
	cache     *cache.Manager
	registry  *extract.Registry
	validator *validator.Validator
	llm       llm.Client
	tiers     Tiers
	emitter   model.ProgressEmitter
	logger    *slog.Logger

	sem chan struct{}
	wg  sync.WaitGroup

	mu      sync.Mutex
	cancels map[uuid.UUID]context.CancelFunc

	// injectable time hooks keep retry and jitter deterministic in tests
	sleep  func(time.Duration)
	jitter func() time.Duration
}

func New(cfg *config.Config, repo store.Repository, cacheMgr *cache.Manager, registry *extract.Registry, v *validator.Validator, client llm.Client, tiers Tiers, emitter model.ProgressEmitter, logger *slog.Logger) *Service {
	workers := cfg.Worker.MaxConcurrentScrapes
	if workers <= 0 {
		workers = 5
	}
	if emitter == nil {
		emitter = model.NopEmitter{}
	}
	return &Service{
		cfg:       cfg,
		repo:      repo,
		cache:     cacheMgr,
		registry:  registry,
		validator: v,
		llm:       client,
		tiers:     tiers,
		emitter:   emitter,
		logger:    logger,
		sem:       make(chan struct{}, workers),
		cancels:   make(map[uuid.UUID]context.CancelFunc),
		sleep:     time.Sleep,
		jitter: func() time.Duration {
			return time.Duration(100+rand.Intn(400)) * time.Millisecond
		},
	}
}

// CreateRequest carries everything needed to open a new job.
type CreateRequest struct {
	URL             string
	TaskDescription string
	ScraperType     model.ScraperType
	Options         model.JobOptions
	UserID          string
	SessionID       string
}

// CreateJob persists a queued job and kicks off async execution.
func (s *Service) CreateJob(ctx context.Context, req CreateRequest) (*model.Job, error) {
	u, err := url.Parse(req.URL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("%w: %q", model.ErrInvalidURL, req.URL)
	}

	scraperType := req.ScraperType
	if scraperType == "" {
		scraperType = model.ScraperAuto
	}

	job := &model.Job{
		ID:              uuid.New(),
		URL:             req.URL,
		TaskDescription: req.TaskDescription,
		Status:          model.StatusQueued,
		ScraperType:     scraperType,
		UserID:          req.UserID,
		SessionID:       req.SessionID,
		Options:         req.Options,
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.repo.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("persist job: %w", err)
	}

	s.emitProgress(job, "job queued", 0)
	s.startAsync(job)
	return job, nil
}

// startAsync runs the job on the worker pool. The job context is
// detached from the caller's so the work outlives the HTTP request.
func (s *Service) startAsync(job *model.Job) {
	jobCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancels[job.ID] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.cancels, job.ID)
			s.mu.Unlock()
			cancel()
		}()

		s.sem <- struct{}{}
		defer func() { <-s.sem }()

		s.runJob(jobCtx, job)
	}()
}

func (s *Service) GetJob(ctx context.Context, id uuid.UUID) (*model.Job, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) ListJobs(ctx context.Context, filter store.ListFilter) ([]*model.Job, int, error) {
	return s.repo.List(ctx, filter)
}

func (s *Service) DeleteJob(ctx context.Context, id uuid.UUID) error {
	return s.repo.Delete(ctx, id)
}

// CancelJob flips a queued or running job to cancelled. Cancelling an
// already-cancelled job is a no-op; cancelling a completed or failed
// one fails with ErrIllegalTransition.
func (s *Service) CancelJob(ctx context.Context, id uuid.UUID) (*model.Job, error) {
	job, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status == model.StatusCancelled {
		return job, nil
	}
	if !job.Status.CanTransition(model.StatusCancelled) {
		return job, fmt.Errorf("%w: %s -> %s", model.ErrIllegalTransition, job.Status, model.StatusCancelled)
	}

	job.Status = model.StatusCancelled
	now := time.Now().UTC()
	job.CompletedAt = &now
	if err := s.repo.Update(ctx, job); err != nil {
		return nil, err
	}
	s.emitProgress(job, "job cancelled", 100)

	s.mu.Lock()
	if cancel, ok := s.cancels[id]; ok {
		cancel()
	}
	s.mu.Unlock()
	return job, nil
}

// AnswerResult pairs the job that produced content with the model's
// answer to the user's question.
type AnswerResult struct {
	Job    *model.Job `json:"job"`
	Answer string     `json:"answer"`
}

var urlInInput = regexp.MustCompile(`https?://\S+`)

// extractURL pulls the first URL out of free-form input. Trailing
// prose punctuation sticks to the \S+ match ("see https://x.com/a.")
// and has to come off before the URL is fetched or used as a reuse
// key.
func extractURL(input string) string {
	return strings.TrimRight(urlInInput.FindString(input), ".,;:!?)]}\"'")
}

// ScrapeAndAnswer parses a URL and a question out of free-form input,
// reuses a recent completed job for the same URL when possible, and
// answers the question from the scraped content.
func (s *Service) ScrapeAndAnswer(ctx context.Context, input string, opts model.JobOptions, userID, sessionID string) (*AnswerResult, error) {
	target := extractURL(input)
	if target == "" {
		return nil, fmt.Errorf("%w: no url in input", model.ErrInvalidInput)
	}
	question := strings.TrimSpace(strings.Replace(input, target, "", 1))

	var job *model.Job
	if !opts.ForceRefresh {
		if recent, err := s.repo.FindRecentCompleted(ctx, target, sessionID, time.Now().UTC().Add(-reuseWindow)); err == nil {
			job = recent
		}
	}

	if job == nil {
		created, err := s.CreateJob(ctx, CreateRequest{
			URL:             target,
			TaskDescription: question,
			ScraperType:     model.ScraperAuto,
			Options:         opts,
			UserID:          userID,
			SessionID:       sessionID,
		})
		if err != nil {
			return nil, err
		}
		job, err = s.awaitJob(ctx, created.ID)
		if err != nil {
			return nil, err
		}
		if job.Status != model.StatusCompleted {
			return nil, fmt.Errorf("scrape failed: %s", job.ErrorMessage)
		}
	}

	if question == "" {
		return &AnswerResult{Job: job}, nil
	}
	answer, err := s.answerFrom(ctx, job, question)
	if err != nil {
		return nil, err
	}
	return &AnswerResult{Job: job, Answer: answer}, nil
}

// awaitJob polls until the job reaches a terminal state.
func (s *Service) awaitJob(ctx context.Context, id uuid.UUID) (*model.Job, error) {
	for {
		job, err := s.repo.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if job.Status.Terminal() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// ChatWithJob answers a follow-up question using the job's stored
// content as context and appends both turns to the chat history.
func (s *Service) ChatWithJob(ctx context.Context, id uuid.UUID, message string) (*model.Job, string, error) {
	job, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if job.Text == "" && job.Markdown == "" {
		return nil, "", model.ErrNoContent
	}
	if s.llm == nil || !s.llm.IsAvailable() {
		return nil, "", fmt.Errorf("%w: no llm provider configured", model.ErrUnavailable)
	}

	content := job.Text
	if content == "" {
		content = job.Markdown
	}
	if len(content) > 8000 {
		content = content[:8000]
	}

	messages := []model.ChatMessage{{
		Role:    "system",
		Content: "Answer questions about this scraped page (" + job.URL + "):\n\n" + content,
	}}
	messages = append(messages, job.ChatHistory...)
	messages = append(messages, model.ChatMessage{Role: "user", Content: message})

	reply, err := s.llm.Chat(ctx, messages)
	if err != nil {
		return nil, "", fmt.Errorf("chat: %w", err)
	}

	now := time.Now().UTC()
	job.ChatHistory = append(job.ChatHistory,
		model.ChatMessage{Role: "user", Content: message, Timestamp: now},
		model.ChatMessage{Role: "assistant", Content: reply, Timestamp: now},
	)
	if err := s.repo.Update(ctx, job); err != nil {
		return nil, "", err
	}
	return job, reply, nil
}

func (s *Service) answerFrom(ctx context.Context, job *model.Job, question string) (string, error) {
	_, reply, err := s.ChatWithJob(ctx, job.ID, question)
	return reply, err
}

// Shutdown waits for in-flight jobs to finish or the context to expire.
func (s *Service) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.mu.Lock()
		for _, cancel := range s.cancels {
			cancel()
		}
		s.mu.Unlock()
		return ctx.Err()
	}
}

func (s *Service) emitProgress(job *model.Job, message string, progress int) {
	s.emitter.EmitProgress(model.ProgressEvent{
		JobID:    job.ID,
		Status:   job.Status,
		Message:  message,
		Progress: progress,
	})
}
