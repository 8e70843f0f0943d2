package validator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"prowler/internal/cache"
	"prowler/internal/config"
	"prowler/internal/model"
)

// Strategy names accepted in config and requests.
const (
	StrategyHeuristic = "heuristic"
	StrategyRuleBased = "rule_based"
	StrategyAI        = "ai"
	StrategyHybrid    = "hybrid"
)

const cacheTTL = time.Hour

// LLMClient is the slice of the LLM layer the AI strategy needs.
type LLMClient interface {
	IsAvailable() bool
	Chat(ctx context.Context, messages []model.ChatMessage) (string, error)
}

// Config tunes the validator.
type Config struct {
	Strategy     string
	MinScore     float64
	MinLength    int
	CacheEnabled bool
}

func ConfigFrom(c config.ValidationConfig) Config {
	return Config{
		Strategy:     c.Strategy,
		MinScore:     c.MinScore,
		MinLength:    c.MinLength,
		CacheEnabled: c.CacheEnabled,
	}
}

// Validator scores fetched content against the rule library.
type Validator struct {
	cfg    Config
	cache  *cache.Manager
	llm    LLMClient
	logger *slog.Logger
	rules  []rule
}

func New(cfg Config, cacheMgr *cache.Manager, llm LLMClient, logger *slog.Logger) *Validator {
	if cfg.Strategy == "" {
		cfg.Strategy = StrategyHybrid
	}
	if cfg.MinScore == 0 {
		cfg.MinScore = 0.5
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{cfg: cfg, cache: cacheMgr, llm: llm, logger: logger, rules: allRules()}
}

// Validate runs the configured strategy against the context.
func (v *Validator) Validate(ctx context.Context, vc *Context) (*Result, error) {
	return v.ValidateWith(ctx, vc, v.cfg.Strategy)
}

// ValidateWith runs a specific strategy, consulting the cache first.
func (v *Validator) ValidateWith(ctx context.Context, vc *Context, strategy string) (*Result, error) {
	start := time.Now()

	key := v.cacheKey(vc, strategy)
	if v.cfg.CacheEnabled && v.cache != nil {
		var cached Result
		if v.cache.GetJSON(ctx, key, &cached) {
			cached.FromCache = true
			return &cached, nil
		}
	}

	var (
		res *Result
		err error
	)
	switch strategy {
	case StrategyHeuristic:
		res = v.runRules(vc, StrategyHeuristic)
	case StrategyRuleBased:
		res = v.runRules(vc, StrategyRuleBased)
	case StrategyAI:
		res, err = v.runAI(ctx, vc)
	case StrategyHybrid:
		res, err = v.runHybrid(ctx, vc)
	default:
		return nil, fmt.Errorf("VALIDATION_FAILED: unknown strategy %q", strategy)
	}
	if err != nil {
		return nil, err
	}
	res.ExecutionTimeMs = time.Since(start).Milliseconds()

	if v.cfg.CacheEnabled && v.cache != nil {
		if err := v.cache.Set(ctx, key, res, cacheTTL); err != nil {
			v.logger.Debug("validation cache write failed", "error", err)
		}
	}
	return res, nil
}

func (v *Validator) cacheKey(vc *Context, strategy string) string {
	sum := sha256.Sum256([]byte(vc.HTML + ":" + vc.TaskDescription + ":" + vc.URL))
	return "validation:" + hex.EncodeToString(sum[:]) + ":" + strategy
}

// binFor maps a rule name to its scoring bin.
func binFor(name string) string {
	switch {
	case strings.Contains(name, "keyword") || strings.Contains(name, "title"):
		return "relevance"
	case strings.Contains(name, "length") || strings.Contains(name, "word-count") ||
		strings.Contains(name, "empty-content") || strings.Contains(name, "detection"):
		return "completeness"
	case strings.Contains(name, "noise") || strings.Contains(name, "density"):
		return "quality"
	default:
		return "structure"
	}
}

func (v *Validator) runRules(vc *Context, strategy string) *Result {
	e := newEvalContext(vc, v.cfg)

	var ran []checkedRule
	for _, r := range v.rules {
		if strategy == StrategyHeuristic && !heuristicRuleNames[r.name] {
			continue
		}
		if !r.applicable(e) {
			continue
		}
		ran = append(ran, checkedRule{rule: r, result: r.check(e)})
	}

	binScore := map[string]float64{}
	binWeight := map[string]float64{}
	dynamicFailedWeight := 0.0
	var names []string
	var failures []string

	for _, c := range ran {
		names = append(names, c.rule.name)
		bin := binFor(c.rule.name)
		binScore[bin] += c.rule.weight * c.result.Score
		binWeight[bin] += c.rule.weight
		if !c.result.Passed {
			failures = append(failures, c.rule.name+": "+c.result.Reason)
			if c.rule.category == categoryDynamic {
				dynamicFailedWeight += c.rule.weight
			}
		}
	}

	binAvg := func(bin string) float64 {
		if binWeight[bin] == 0 {
			return 0
		}
		return binScore[bin] / binWeight[bin]
	}
	qs := QualityScore{
		Completeness: binAvg("completeness"),
		Relevance:    binAvg("relevance"),
		Structure:    binAvg("structure"),
		Quality:      binAvg("quality"),
	}
	qs.Overall = 0.30*qs.Completeness + 0.25*qs.Relevance + 0.20*qs.Structure + 0.15*qs.Quality

	// A heavy dynamic-rule failure means the page needs rendering even
	// when static scoring stays above the floor.
	needsInteraction := qs.Overall < 0.4 || dynamicFailedWeight >= 0.4

	reason := "content passed validation"
	if len(failures) > 0 {
		sort.Strings(failures)
		reason = strings.Join(failures, "; ")
	}

	return &Result{
		Sufficient:       qs.Overall >= v.cfg.MinScore,
		Reason:           reason,
		NeedsInteraction: needsInteraction,
		SuggestedActions: suggestActions(ran),
		QualityScore:     qs,
		StrategyUsed:     strategy,
		RulesChecked:     names,
		Metrics: map[string]any{
			"htmlLength": e.htmlLen,
			"textLength": e.textLen,
			"wordCount":  len(e.words),
			"rulesRun":   len(ran),
		},
	}
}

type checkedRule struct {
	rule   rule
	result RuleResult
}

func suggestActions(ran []checkedRule) []string {
	seen := map[string]bool{}
	var out []string
	add := func(s string) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, c := range ran {
		if c.result.Passed {
			continue
		}
		switch c.rule.name {
		case "loading-placeholders", "empty-data-containers":
			add("Use browser to render dynamic content")
		case "ajax-indicators":
			add("Trigger AJAX requests by interacting with page controls")
		case "interactive-elements":
			add("Click interactive elements to reveal content")
		case "minimum-content-length", "minimum-word-count":
			add("Retry with a higher fetch tier")
		}
	}
	return out
}

type aiVerdict struct {
	Sufficient bool    `json:"sufficient"`
	Score      float64 `json:"score"`
	Reason     string  `json:"reason"`
}

func (v *Validator) runAI(ctx context.Context, vc *Context) (*Result, error) {
	if v.llm == nil || !v.llm.IsAvailable() {
		return nil, fmt.Errorf("VALIDATION_FAILED: no LLM provider available")
	}

	text := vc.Text
	if len(text) > 4000 {
		text = text[:4000]
	}
	prompt := fmt.Sprintf(
		"Judge whether the following page content is sufficient to complete the task.\n"+
			"Task: %s\nURL: %s\n\nContent:\n%s\n\n"+
			`Respond with JSON only: {"sufficient": bool, "score": number 0-1, "reason": string}`,
		vc.TaskDescription, vc.URL, text)

	reply, err := v.llm.Chat(ctx, []model.ChatMessage{{Role: "user", Content: prompt}})
	if err != nil {
		return nil, fmt.Errorf("VALIDATION_FAILED: %w", err)
	}

	var verdict aiVerdict
	if err := json.Unmarshal([]byte(extractJSONObject(reply)), &verdict); err != nil {
		return nil, fmt.Errorf("VALIDATION_FAILED: unparseable LLM verdict: %w", err)
	}
	verdict.Score = clamp01(verdict.Score)

	return &Result{
		Sufficient:       verdict.Sufficient,
		Reason:           verdict.Reason,
		NeedsInteraction: !verdict.Sufficient && verdict.Score < 0.4,
		QualityScore:     QualityScore{Overall: verdict.Score},
		StrategyUsed:     StrategyAI,
		Metrics:          map[string]any{"textLength": len(vc.Text)},
	}, nil
}

// runHybrid starts with the heuristic pass and brings in the AI verdict
// only when the heuristic lands near the decision boundary.
func (v *Validator) runHybrid(ctx context.Context, vc *Context) (*Result, error) {
	heuristic := v.runRules(vc, StrategyHeuristic)

	uncertain := heuristic.QualityScore.Overall > v.cfg.MinScore-0.15 &&
		heuristic.QualityScore.Overall < v.cfg.MinScore+0.15
	if !uncertain || v.llm == nil || !v.llm.IsAvailable() {
		heuristic.StrategyUsed = StrategyHybrid
		return heuristic, nil
	}

	ai, err := v.runAI(ctx, vc)
	if err != nil {
		v.logger.Debug("hybrid validation AI pass failed", "error", err)
		heuristic.StrategyUsed = StrategyHybrid
		return heuristic, nil
	}

	combined := 0.4*heuristic.QualityScore.Overall + 0.6*ai.QualityScore.Overall
	heuristic.QualityScore.Overall = combined
	heuristic.Sufficient = combined >= v.cfg.MinScore
	heuristic.NeedsInteraction = heuristic.NeedsInteraction || combined < 0.4
	if ai.Reason != "" {
		heuristic.Reason = ai.Reason
	}
	heuristic.StrategyUsed = StrategyHybrid
	return heuristic, nil
}

// extractJSONObject strips code fences and returns the outermost JSON
// object in the reply.
func extractJSONObject(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}
