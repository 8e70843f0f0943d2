package extract

import (
	"context"
	"encoding/json"

	"prowler/internal/model"
)

// Strategy type tags used for registry dispatch.
const (
	TypeLLM       = "llm"
	TypeRuleBased = "rule_based"
	TypeCosine    = "cosine_similarity"
	TypeCustom    = "custom"
)

// Context is the input handed to every strategy.
type Context struct {
	HTML            string   `json:"html,omitempty"`
	Markdown        string   `json:"markdown,omitempty"`
	Text            string   `json:"text,omitempty"`
	URL             string   `json:"url"`
	TaskDescription string   `json:"taskDescription,omitempty"`
	EntityTypes     []string `json:"entityTypes,omitempty"`
}

// Result is the output of one strategy run.
type Result struct {
	Entities        []model.Entity `json:"entities"`
	Success         bool           `json:"success"`
	Confidence      float64        `json:"confidence,omitempty"`
	Strategy        string         `json:"strategy"`
	ExecutionTimeMs int64          `json:"executionTimeMs"`
	Error           string         `json:"error,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// Strategy is one extraction capability.
type Strategy interface {
	Name() string
	Type() string
	IsAvailable() bool
	Extract(ctx context.Context, ec *Context) *Result
}

// entityKey canonicalizes an entity for duplicate removal. Map keys are
// sorted by encoding/json, so equal payloads produce equal keys.
func entityKey(e model.Entity) string {
	data, err := json.Marshal(e.Data)
	if err != nil {
		data = []byte("{}")
	}
	return string(e.Type) + ":" + string(data)
}

// DedupEntities removes duplicates, keeping the first occurrence.
func DedupEntities(entities []model.Entity) []model.Entity {
	seen := make(map[string]bool, len(entities))
	out := entities[:0:0]
	for _, e := range entities {
		k := entityKey(e)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, e)
	}
	return out
}
