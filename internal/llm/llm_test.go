package llm

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"prowler/internal/config"
	"prowler/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeProvider scripts per-model completion outcomes.
type fakeProvider struct {
	model      string
	models     []string
	limit      int
	listCalls  int
	replies    map[string][]any // per model: string reply or error, consumed in order
	lastPrompt string
}

func (f *fakeProvider) name() string         { return "fake" }
func (f *fakeProvider) defaultModel() string { return f.model }

func (f *fakeProvider) contentLimit() int {
	if f.limit == 0 {
		return 100_000
	}
	return f.limit
}

func (f *fakeProvider) listModels(context.Context) ([]string, error) {
	f.listCalls++
	return f.models, nil
}

func (f *fakeProvider) complete(_ context.Context, modelName, _ string, messages []model.ChatMessage) (string, error) {
	if len(messages) > 0 {
		f.lastPrompt = messages[len(messages)-1].Content
	}
	script := f.replies[modelName]
	if len(script) == 0 {
		return "", errors.New("no scripted reply for " + modelName)
	}
	next := script[0]
	f.replies[modelName] = script[1:]
	if err, ok := next.(error); ok {
		return "", err
	}
	return next.(string), nil
}

func newFakeClient(f *fakeProvider) (*client, *[]time.Duration) {
	c := newClient(f, discardLogger())
	var slept []time.Duration
	c.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return c, &slept
}

func TestRetryOnOverloaded(t *testing.T) {
	f := &fakeProvider{
		model: "m1",
		replies: map[string][]any{
			"m1": {
				&statusError{Provider: "fake", Code: 503},
				&statusError{Provider: "fake", Code: 503},
				"recovered",
			},
		},
	}
	c, slept := newFakeClient(f)

	reply, err := c.Chat(context.Background(), []model.ChatMessage{{Role: "user", Content: "hi"}})
	if err != nil {
		t.Fatalf("chat failed: %v", err)
	}
	if reply != "recovered" {
		t.Fatalf("reply = %q", reply)
	}
	if len(*slept) != 2 || (*slept)[0] != time.Second || (*slept)[1] != 2*time.Second {
		t.Fatalf("backoff delays = %v, want [1s 2s]", *slept)
	}
}

func TestRetryOnRateLimitUsesLongerBackoff(t *testing.T) {
	f := &fakeProvider{
		model: "m1",
		replies: map[string][]any{
			"m1": {
				&statusError{Provider: "fake", Code: 429},
				"recovered",
			},
		},
	}
	c, slept := newFakeClient(f)

	if _, err := c.Chat(context.Background(), []model.ChatMessage{{Role: "user", Content: "hi"}}); err != nil {
		t.Fatalf("chat failed: %v", err)
	}
	if len(*slept) != 1 || (*slept)[0] != 2*time.Second {
		t.Fatalf("backoff delays = %v, want [2s]", *slept)
	}
}

func TestRetryExhaustionSurfacesError(t *testing.T) {
	f := &fakeProvider{
		model: "m1",
		replies: map[string][]any{
			"m1": {
				&statusError{Provider: "fake", Code: 503},
				&statusError{Provider: "fake", Code: 503},
				&statusError{Provider: "fake", Code: 503},
			},
		},
	}
	c, _ := newFakeClient(f)

	_, err := c.Chat(context.Background(), []model.ChatMessage{{Role: "user", Content: "hi"}})
	var se *statusError
	if !errors.As(err, &se) || se.Code != 503 {
		t.Fatalf("expected 503 after exhausted retries, got %v", err)
	}
}

func TestMissingModelFallsThroughToNext(t *testing.T) {
	f := &fakeProvider{
		model:  "m1",
		models: []string{"m1", "m2"},
		replies: map[string][]any{
			"m1": {&statusError{Provider: "fake", Code: 404}},
			"m2": {"from m2"},
		},
	}
	c, _ := newFakeClient(f)

	reply, err := c.Chat(context.Background(), []model.ChatMessage{{Role: "user", Content: "hi"}})
	if err != nil {
		t.Fatalf("chat failed: %v", err)
	}
	if reply != "from m2" {
		t.Fatalf("reply = %q", reply)
	}
}

func TestModelDiscoveryCached(t *testing.T) {
	f := &fakeProvider{model: "m1", models: []string{"m1", "m2"}}
	c, _ := newFakeClient(f)

	ctx := context.Background()
	first := c.models(ctx)
	second := c.models(ctx)
	if f.listCalls != 1 {
		t.Fatalf("listModels called %d times, want 1", f.listCalls)
	}
	if len(first) != 2 || first[0] != "m1" || first[1] != "m2" {
		t.Fatalf("model order = %v", first)
	}
	if len(second) != len(first) {
		t.Fatalf("cached list differs: %v vs %v", second, first)
	}
}

func TestExtractDataNormalizesEntities(t *testing.T) {
	f := &fakeProvider{
		model: "m1",
		replies: map[string][]any{
			"m1": {"```json\n{\"summary\":\"s\",\"entities\":[" +
				"{\"type\":\"pricing\",\"data\":{\"amount\":40},\"confidence\":1.7}," +
				"{\"type\":\"weird\",\"data\":{\"x\":1},\"confidence\":-0.2}]}\n```"},
		},
	}
	c, _ := newFakeClient(f)

	out, err := c.ExtractData(context.Background(), "content", "task", nil)
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	if !out.Success || out.ModelName != "m1" || out.Summary != "s" {
		t.Fatalf("unexpected output: %+v", out)
	}
	if len(out.Entities) != 2 {
		t.Fatalf("got %d entities", len(out.Entities))
	}
	if out.Entities[0].Type != model.EntityPricing || out.Entities[0].Confidence != 1 {
		t.Fatalf("entity 0 not normalized: %+v", out.Entities[0])
	}
	if out.Entities[1].Type != model.EntityCustom || out.Entities[1].Confidence != 0 {
		t.Fatalf("entity 1 not normalized: %+v", out.Entities[1])
	}
}

func TestExtractDataTruncatesContent(t *testing.T) {
	f := &fakeProvider{
		model: "m1",
		limit: 50,
		replies: map[string][]any{
			"m1": {`{"summary":"s","entities":[]}`},
		},
	}
	c, _ := newFakeClient(f)

	long := strings.Repeat("x", 500)
	if _, err := c.ExtractData(context.Background(), long, "task", nil); err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	if strings.Contains(f.lastPrompt, strings.Repeat("x", 51)) {
		t.Fatal("content was not truncated to the provider limit")
	}
}

func TestGenerateSummaryCapsLength(t *testing.T) {
	f := &fakeProvider{
		model:   "m1",
		replies: map[string][]any{"m1": {strings.Repeat("word ", 100)}},
	}
	c, _ := newFakeClient(f)

	got, err := c.GenerateSummary(context.Background(), "content", 40)
	if err != nil {
		t.Fatalf("summary failed: %v", err)
	}
	if len(got) > 40 {
		t.Fatalf("summary length %d exceeds cap", len(got))
	}
}

func TestNewFromConfigWithoutKeysIsUnavailable(t *testing.T) {
	cfg := config.Default()
	c := NewFromConfig(cfg, discardLogger())
	if c.IsAvailable() {
		t.Fatal("client should be unavailable without API keys")
	}
	if _, err := c.Chat(context.Background(), nil); !errors.Is(err, model.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestNewFromConfigPicksConfiguredProvider(t *testing.T) {
	cfg := config.Default()
	cfg.LLM.DefaultProvider = "anthropic"
	cfg.LLM.Anthropic.APIKey = "k"
	cfg.LLM.Anthropic.Model = "claude-sonnet-4-5"

	c := NewFromConfig(cfg, discardLogger())
	if !c.IsAvailable() {
		t.Fatal("client should be available")
	}
	if c.ProviderName() != "anthropic" {
		t.Fatalf("provider = %q", c.ProviderName())
	}
}
