package fetch

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"prowler/internal/config"
	"prowler/internal/llm"
	"prowler/internal/model"
)

type fakeLLM struct {
	reply string
	calls int
}

func (f *fakeLLM) IsAvailable() bool    { return true }
func (f *fakeLLM) ProviderName() string { return "fake" }

func (f *fakeLLM) ExtractData(context.Context, string, string, []string) (*llm.ExtractOutput, error) {
	return &llm.ExtractOutput{Success: true}, nil
}

func (f *fakeLLM) Chat(context.Context, []model.ChatMessage) (string, error) {
	f.calls++
	return f.reply, nil
}

func (f *fakeLLM) GenerateSummary(_ context.Context, content string, _ int) (string, error) {
	return content, nil
}

func agentTestSite(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		switch r.URL.Path {
		case "/":
			fmt.Fprintf(w, `<html><head><title>Home</title></head><body>
				<p>%s</p>
				<a href="/products">Products overview</a>
			</body></html>`, filler(4))
		case "/products":
			fmt.Fprintf(w, `<html><head><title>Products</title></head><body>
				<p>Product catalog: widget alpha, widget beta. %s</p>
			</body></html>`, filler(3))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestAgent(client llm.Client) *AgentFetcher {
	cfg := config.AgentConfig{MaxPages: 5, MaxDepth: 2, MaxAjaxEndpoints: 5}
	return NewAgentFetcher(cfg, config.ScraperConfig{}, client, discardLogger())
}

func TestAgentCrawlsLinkedPages(t *testing.T) {
	srv := agentTestSite(t)

	res, err := newTestAgent(nil).Fetch(context.Background(), srv.URL+"/", uuid.New(), model.JobOptions{}, model.NopEmitter{})
	if err != nil {
		t.Fatalf("crawl failed: %v", err)
	}
	if res == nil {
		t.Fatal("expected a composite result")
	}
	if strings.Count(res.HTML, "<!-- PAGE") != 2 {
		t.Fatalf("expected 2 page delimiters:\n%s", res.HTML)
	}
	if !strings.Contains(res.Text, "widget alpha") {
		t.Fatal("second page content missing from composite text")
	}
	if !strings.Contains(res.Markdown, "Pages visited: 2") {
		t.Fatalf("markdown report wrong:\n%s", res.Markdown)
	}
	if res.PageTitle != "Home" {
		t.Fatalf("title = %q", res.PageTitle)
	}
}

func TestAgentRespectsMaxPages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		// Every page links to two fresh ones, an unbounded tree.
		fmt.Fprintf(w, `<html><body><p>%s</p><a href="%sa">next a</a><a href="%sb">next b</a></body></html>`,
			filler(3), r.URL.Path, r.URL.Path)
	}))
	defer srv.Close()

	agent := NewAgentFetcher(config.AgentConfig{MaxPages: 3, MaxDepth: 5}, config.ScraperConfig{}, nil, discardLogger())
	res, err := agent.Fetch(context.Background(), srv.URL+"/", uuid.New(), model.JobOptions{}, model.NopEmitter{})
	if err != nil {
		t.Fatalf("crawl failed: %v", err)
	}
	if got := strings.Count(res.HTML, "<!-- PAGE"); got != 3 {
		t.Fatalf("visited %d pages, want 3", got)
	}
}

func TestAgentUsesModelGuidance(t *testing.T) {
	srv := agentTestSite(t)
	client := &fakeLLM{reply: `{"hasRelevantData": true, "extractedData": ["Widget alpha costs $40"], "linksToFollow": [], "summary": "Catalog lists two widgets."}`}

	res, err := newTestAgent(client).FetchTask(context.Background(), srv.URL+"/", "find widget prices", uuid.New(), model.JobOptions{}, model.NopEmitter{})
	if err != nil {
		t.Fatalf("crawl failed: %v", err)
	}
	if client.calls == 0 {
		t.Fatal("model was never consulted")
	}
	if !strings.Contains(res.Markdown, "Widget alpha costs $40") {
		t.Fatalf("extracted data missing from report:\n%s", res.Markdown)
	}
	if !strings.Contains(res.Markdown, "Catalog lists two widgets.") {
		t.Fatal("summary missing from report")
	}
	if !strings.Contains(res.Markdown, "Task: find widget prices") {
		t.Fatal("task missing from report")
	}
}

func TestAgentDeduplicatesPages(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			hits++
		}
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprintf(w, `<html><body><p>%s</p><a href="/">home</a><a href="/?utm_source=x">home again</a></body></html>`, filler(3))
	}))
	defer srv.Close()

	_, err := newTestAgent(nil).Fetch(context.Background(), srv.URL+"/", uuid.New(), model.JobOptions{}, model.NopEmitter{})
	if err != nil {
		t.Fatalf("crawl failed: %v", err)
	}
	if hits != 1 {
		t.Fatalf("root fetched %d times, want 1", hits)
	}
}
