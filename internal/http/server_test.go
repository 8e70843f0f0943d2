package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"prowler/internal/config"
	"prowler/internal/model"
	"prowler/internal/orchestrator"
	"prowler/internal/store"
)

type staticFetcher struct{}

func (staticFetcher) Name() string { return "http" }

func (staticFetcher) Fetch(ctx context.Context, url string, jobID uuid.UUID, opts model.JobOptions, emit model.ProgressEmitter) (*model.FetchResult, error) {
	return &model.FetchResult{
		HTML:         "<html><body>" + strings.Repeat("<p>content</p>", 60) + "</body></html>",
		Text:         strings.Repeat("annual report content ", 20),
		Markdown:     "# Annual Report",
		FinalURL:     url,
		StatusCode:   200,
		PageTitle:    "Annual Report",
		RequestCount: 1,
	}, nil
}

func newTestServer(t *testing.T, mutate func(cfg *config.Config)) *Server {
	t.Helper()
	cfg := &config.Config{}
	cfg.Worker = config.WorkerConfig{MaxConcurrentScrapes: 2, MaxRetries: 1, RetryBackoffBaseMs: 1}
	cfg.Scraper.MinContentLength = 100
	if mutate != nil {
		mutate(cfg)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := orchestrator.New(cfg, store.NewMemory(), nil, nil, nil, nil,
		orchestrator.Tiers{HTTP: staticFetcher{}}, nil, logger)
	return NewServer(cfg, svc, nil, nil, logger)
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, nil)
	resp := doJSON(t, s, http.MethodGet, "/healthz", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body := decode[map[string]any](t, resp)
	if body["status"] != "ok" {
		t.Fatalf("body = %v", body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, nil)
	resp := doJSON(t, s, http.MethodGet, "/metrics", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	raw, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(raw), "prowler_http_requests_total") {
		t.Fatalf("metrics body:\n%s", raw)
	}
}

func TestCreateAndGetJob(t *testing.T) {
	s := newTestServer(t, nil)

	resp := doJSON(t, s, http.MethodPost, "/v1/jobs", CreateJobRequest{URL: "https://example.com/report"})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	created := decode[JobResponse](t, resp)
	if created.Job == nil || created.Job.Status != model.StatusQueued {
		t.Fatalf("created = %+v", created)
	}

	// Poll until the worker finishes the job.
	deadline := time.Now().Add(3 * time.Second)
	for {
		resp = doJSON(t, s, http.MethodGet, "/v1/jobs/"+created.Job.ID.String(), nil)
		got := decode[JobResponse](t, resp)
		if got.Job.Status.Terminal() {
			if got.Job.Status != model.StatusCompleted {
				t.Fatalf("job ended %s: %s", got.Job.Status, got.Job.ErrorMessage)
			}
			if got.Job.Metadata.ScraperUsed != "http" {
				t.Fatalf("scraper used = %q", got.Job.Metadata.ScraperUsed)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("job stuck in %s", got.Job.Status)
		}
		time.Sleep(20 * time.Millisecond)
	}

	resp = doJSON(t, s, http.MethodGet, "/v1/jobs", nil)
	list := decode[JobListResponse](t, resp)
	if list.Total != 1 || len(list.Jobs) != 1 {
		t.Fatalf("list = %+v", list)
	}
}

func TestCreateJobValidation(t *testing.T) {
	s := newTestServer(t, nil)

	resp := doJSON(t, s, http.MethodPost, "/v1/jobs", CreateJobRequest{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing url status = %d", resp.StatusCode)
	}

	resp = doJSON(t, s, http.MethodPost, "/v1/jobs", CreateJobRequest{URL: "not-a-url"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad url status = %d", resp.StatusCode)
	}
	body := decode[ErrorResponse](t, resp)
	if body.Code != "INVALID_URL" {
		t.Fatalf("code = %q", body.Code)
	}
}

func TestGetJobErrors(t *testing.T) {
	s := newTestServer(t, nil)

	resp := doJSON(t, s, http.MethodGet, "/v1/jobs/not-a-uuid", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad id status = %d", resp.StatusCode)
	}

	resp = doJSON(t, s, http.MethodGet, "/v1/jobs/"+uuid.New().String(), nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown id status = %d", resp.StatusCode)
	}
	body := decode[ErrorResponse](t, resp)
	if body.Code != "JOB_NOT_FOUND" {
		t.Fatalf("code = %q", body.Code)
	}
}

func TestCancelUnknownJob(t *testing.T) {
	s := newTestServer(t, nil)
	resp := doJSON(t, s, http.MethodPost, "/v1/jobs/"+uuid.New().String()+"/cancel", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestChatRequiresMessage(t *testing.T) {
	s := newTestServer(t, nil)
	resp := doJSON(t, s, http.MethodPost, "/v1/jobs/"+uuid.New().String()+"/chat", ChatRequest{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestAnswerRequiresInput(t *testing.T) {
	s := newTestServer(t, nil)
	resp := doJSON(t, s, http.MethodPost, "/v1/answer", AnswerRequest{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	resp = doJSON(t, s, http.MethodPost, "/v1/answer", AnswerRequest{Input: "no url here"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body := decode[ErrorResponse](t, resp)
	if body.Code != "INVALID_INPUT" {
		t.Fatalf("code = %q", body.Code)
	}
}

func TestRateLimiting(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) {
		cfg.RateLimit = config.RateLimitConfig{Enabled: true, WindowMs: 60_000, MaxRequests: 2}
	})

	for i := 0; i < 2; i++ {
		resp := doJSON(t, s, http.MethodGet, "/v1/jobs", nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("request %d status = %d", i+1, resp.StatusCode)
		}
		resp.Body.Close()
	}

	resp := doJSON(t, s, http.MethodGet, "/v1/jobs", nil)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Fatal("missing Retry-After header")
	}
	if resp.Header.Get("RateLimit-Remaining") != "0" || resp.Header.Get("X-RateLimit-Remaining") != "0" {
		t.Fatalf("remaining headers = %q / %q",
			resp.Header.Get("RateLimit-Remaining"), resp.Header.Get("X-RateLimit-Remaining"))
	}
	resp.Body.Close()

	// The health endpoint sits outside the limited group.
	h := doJSON(t, s, http.MethodGet, "/healthz", nil)
	if h.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d", h.StatusCode)
	}
	h.Body.Close()
}
