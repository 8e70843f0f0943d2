package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"prowler/internal/config"
	"prowler/internal/model"
)

const (
	maxAttemptsPerModel = 3
	modelCacheTTL       = time.Hour
)

// ExtractOutput is the structured result of an extraction call.
type ExtractOutput struct {
	Entities  []model.Entity `json:"entities"`
	Summary   string         `json:"summary,omitempty"`
	Success   bool           `json:"success"`
	Error     string         `json:"error,omitempty"`
	ModelName string         `json:"modelName,omitempty"`
}

// Client is the capability set the engine consumes.
type Client interface {
	IsAvailable() bool
	ProviderName() string
	ExtractData(ctx context.Context, content, task string, entityTypes []string) (*ExtractOutput, error)
	Chat(ctx context.Context, messages []model.ChatMessage) (string, error)
	GenerateSummary(ctx context.Context, content string, maxLen int) (string, error)
}

// statusError carries the upstream HTTP status so the retry policy can
// distinguish overload, rate limit, and missing model.
type statusError struct {
	Provider string
	Code     int
	Body     string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%s request failed with status %d", e.Provider, e.Code)
}

// provider is one upstream API. Completion and model listing are the
// only operations; everything else lives in the shared client.
type provider interface {
	name() string
	defaultModel() string
	contentLimit() int
	listModels(ctx context.Context) ([]string, error)
	complete(ctx context.Context, modelName, system string, messages []model.ChatMessage) (string, error)
}

// client wraps a provider with model discovery, preference-ordered
// fallback, and the retry policy.
type client struct {
	prov   provider
	logger *slog.Logger
	sleep  func(context.Context, time.Duration) error

	modelsMu   sync.Mutex
	modelCache []string
	modelsAt   time.Time
}

// NewFromConfig builds a client for the configured default provider,
// falling back to any other configured provider. Returns an unavailable
// client when no provider has an API key.
func NewFromConfig(cfg *config.Config, logger *slog.Logger) Client {
	if logger == nil {
		logger = slog.Default()
	}

	providers := map[string]provider{
		"openai":    newOpenAI(cfg.LLM.OpenAI),
		"anthropic": newAnthropic(cfg.LLM.Anthropic),
		"google":    newGoogle(cfg.LLM.Google),
	}

	order := []string{cfg.LLM.DefaultProvider, "google", "openai", "anthropic"}
	for _, name := range order {
		if p, ok := providers[name]; ok && p.defaultModel() != "" {
			logger.Info("llm provider selected", "provider", name)
			return newClient(p, logger)
		}
	}
	return &unavailable{}
}

func newClient(p provider, logger *slog.Logger) *client {
	return &client{
		prov:   p,
		logger: logger,
		sleep:  sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (c *client) IsAvailable() bool { return true }

func (c *client) ProviderName() string { return c.prov.name() }

// models returns the preference-ordered model list: the configured
// model first, then the provider's discovered models. The discovery
// result is cached.
func (c *client) models(ctx context.Context) []string {
	c.modelsMu.Lock()
	defer c.modelsMu.Unlock()

	if c.modelCache == nil || time.Since(c.modelsAt) > modelCacheTTL {
		discovered, err := c.prov.listModels(ctx)
		if err != nil {
			c.logger.Debug("model discovery failed", "provider", c.prov.name(), "error", err)
			discovered = nil
		}
		c.modelCache = discovered
		c.modelsAt = time.Now()
	}

	out := []string{c.prov.defaultModel()}
	for _, m := range c.modelCache {
		if m != c.prov.defaultModel() {
			out = append(out, m)
		}
	}
	return out
}

// completeWithFallback walks the model preference order. A missing
// model (404) moves to the next name; overload and rate limits retry in
// place; anything else propagates.
func (c *client) completeWithFallback(ctx context.Context, system string, messages []model.ChatMessage) (string, string, error) {
	var lastErr error
	for _, m := range c.models(ctx) {
		reply, err := c.completeWithRetry(ctx, m, system, messages)
		if err == nil {
			return reply, m, nil
		}
		var se *statusError
		if errors.As(err, &se) && se.Code == 404 {
			c.logger.Debug("model not found, trying next", "model", m)
			lastErr = err
			continue
		}
		return "", m, err
	}
	if lastErr == nil {
		lastErr = model.ErrUnavailable
	}
	return "", "", lastErr
}

func (c *client) completeWithRetry(ctx context.Context, modelName, system string, messages []model.ChatMessage) (string, error) {
	var lastErr error
	for attempt := 0; attempt < maxAttemptsPerModel; attempt++ {
		reply, err := c.prov.complete(ctx, modelName, system, messages)
		if err == nil {
			return reply, nil
		}
		lastErr = err

		var se *statusError
		if !errors.As(err, &se) {
			return "", err
		}
		var delay time.Duration
		switch se.Code {
		case 503:
			delay = time.Duration(1<<attempt) * time.Second
		case 429:
			delay = time.Duration(1<<attempt) * 2 * time.Second
		default:
			return "", err
		}
		if attempt == maxAttemptsPerModel-1 {
			break
		}
		c.logger.Debug("llm retry", "model", modelName, "status", se.Code, "delay", delay)
		if err := c.sleep(ctx, delay); err != nil {
			return "", err
		}
	}
	return "", lastErr
}

const extractSystemPrompt = "You are a JSON-only extractor. Respond with a single JSON object and no extra text."

func (c *client) ExtractData(ctx context.Context, content, task string, entityTypes []string) (*ExtractOutput, error) {
	if limit := c.prov.contentLimit(); len(content) > limit {
		content = content[:limit]
	}

	types := strings.Join(entityTypes, ", ")
	if types == "" {
		types = "company, person, product, article, contact, pricing, custom"
	}
	prompt := fmt.Sprintf(
		"Task: %s\n\nExtract the entities relevant to the task from the content below.\n"+
			"Allowed entity types: %s\n\n"+
			`Respond with JSON: {"summary": string, "entities": [{"type": string, "data": object, "confidence": number 0-1}]}`+
			"\n\nContent:\n%s", task, types, content)

	reply, modelName, err := c.completeWithFallback(ctx, extractSystemPrompt, []model.ChatMessage{{Role: "user", Content: prompt}})
	if err != nil {
		return &ExtractOutput{Success: false, Error: err.Error(), ModelName: modelName}, err
	}

	out, err := parseExtraction(reply)
	if err != nil {
		return &ExtractOutput{Success: false, Error: err.Error(), ModelName: modelName}, err
	}
	out.Success = true
	out.ModelName = modelName
	return out, nil
}

func (c *client) Chat(ctx context.Context, messages []model.ChatMessage) (string, error) {
	reply, _, err := c.completeWithFallback(ctx, "", messages)
	return reply, err
}

func (c *client) GenerateSummary(ctx context.Context, content string, maxLen int) (string, error) {
	if limit := c.prov.contentLimit(); len(content) > limit {
		content = content[:limit]
	}
	prompt := fmt.Sprintf("Summarize the following content in at most %d characters. Respond with the summary only.\n\n%s", maxLen, content)
	reply, _, err := c.completeWithFallback(ctx, "", []model.ChatMessage{{Role: "user", Content: prompt}})
	if err != nil {
		return "", err
	}
	reply = strings.TrimSpace(reply)
	if maxLen > 0 && len(reply) > maxLen {
		reply = reply[:maxLen]
	}
	return reply, nil
}

// rawExtraction is the wire shape the extraction prompt asks for.
type rawExtraction struct {
	Summary  string `json:"summary"`
	Entities []struct {
		Type       string         `json:"type"`
		Data       map[string]any `json:"data"`
		Confidence float64        `json:"confidence"`
	} `json:"entities"`
}

// parseExtraction parses the model reply defensively: code fences are
// stripped and the outermost JSON object is extracted before decoding.
// Entity types are normalized and confidences clamped.
func parseExtraction(reply string) (*ExtractOutput, error) {
	var raw rawExtraction
	if err := json.Unmarshal([]byte(jsonObjectIn(reply)), &raw); err != nil {
		return nil, fmt.Errorf("unparseable extraction reply: %w", err)
	}

	out := &ExtractOutput{Summary: raw.Summary}
	for _, e := range raw.Entities {
		data := e.Data
		if data == nil {
			data = map[string]any{}
		}
		out.Entities = append(out.Entities, model.Entity{
			Type:       model.NormalizeEntityType(e.Type),
			Data:       data,
			Confidence: model.ClampConfidence(e.Confidence),
			Source:     "llm",
		})
	}
	return out, nil
}

func jsonObjectIn(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}

// unavailable is the client used when no provider is configured.
type unavailable struct{}

func (unavailable) IsAvailable() bool    { return false }
func (unavailable) ProviderName() string { return "" }

func (unavailable) ExtractData(context.Context, string, string, []string) (*ExtractOutput, error) {
	return &ExtractOutput{Success: false, Error: "no llm provider configured"}, model.ErrUnavailable
}

func (unavailable) Chat(context.Context, []model.ChatMessage) (string, error) {
	return "", model.ErrUnavailable
}

func (unavailable) GenerateSummary(context.Context, string, int) (string, error) {
	return "", model.ErrUnavailable
}
