package extract

import (
	"context"

	"prowler/internal/llm"
)

// LLMStrategy delegates to the LLM client's extraction capability. The
// client handles model fallback, retries, and content truncation.
type LLMStrategy struct {
	client llm.Client
}

func NewLLMStrategy(client llm.Client) *LLMStrategy {
	return &LLMStrategy{client: client}
}

func (s *LLMStrategy) Name() string { return "llm-extraction" }
func (s *LLMStrategy) Type() string { return TypeLLM }

func (s *LLMStrategy) IsAvailable() bool {
	return s.client != nil && s.client.IsAvailable()
}

func (s *LLMStrategy) Extract(ctx context.Context, ec *Context) *Result {
	content := ec.Markdown
	if content == "" {
		content = ec.Text
	}
	if content == "" {
		return &Result{Success: false, Error: "no content to extract from"}
	}

	out, err := s.client.ExtractData(ctx, content, ec.TaskDescription, ec.EntityTypes)
	if err != nil {
		return &Result{Success: false, Error: err.Error(), Metadata: map[string]any{"model": out.ModelName}}
	}

	confidence := 0.0
	for _, e := range out.Entities {
		confidence += e.Confidence
	}
	if len(out.Entities) > 0 {
		confidence /= float64(len(out.Entities))
	}

	return &Result{
		Entities:   out.Entities,
		Success:    true,
		Confidence: confidence,
		Metadata: map[string]any{
			"model":   out.ModelName,
			"summary": out.Summary,
		},
	}
}
