package validator

// Context carries everything a validation strategy may inspect.
type Context struct {
	HTML            string `json:"html"`
	Text            string `json:"text"`
	Markdown        string `json:"markdown,omitempty"`
	URL             string `json:"url"`
	TaskDescription string `json:"taskDescription,omitempty"`
	PageTitle       string `json:"pageTitle,omitempty"`
	ContentType     string `json:"contentType,omitempty"`
}

// QualityScore breaks the overall score down by bin.
type QualityScore struct {
	Overall      float64 `json:"overall"`
	Completeness float64 `json:"completeness"`
	Relevance    float64 `json:"relevance"`
	Structure    float64 `json:"structure"`
	Quality      float64 `json:"quality"`
}

// Result is the outcome of one validation pass.
type Result struct {
	Sufficient       bool           `json:"sufficient"`
	Reason           string         `json:"reason"`
	NeedsInteraction bool           `json:"needsInteraction"`
	SuggestedActions []string       `json:"suggestedActions,omitempty"`
	QualityScore     QualityScore   `json:"qualityScore"`
	StrategyUsed     string         `json:"strategyUsed"`
	RulesChecked     []string       `json:"rulesChecked"`
	Metrics          map[string]any `json:"metrics,omitempty"`
	ExecutionTimeMs  int64          `json:"executionTimeMs"`
	FromCache        bool           `json:"fromCache,omitempty"`
}

// RuleResult is one rule's verdict.
type RuleResult struct {
	Passed bool    `json:"passed"`
	Score  float64 `json:"score"`
	Reason string  `json:"reason"`
}
