package validator

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// rule categories; dynamic rules feed the interaction signal on top of
// their bin contribution.
const (
	categoryLength       = "length"
	categoryStructure    = "structure"
	categoryDynamic      = "dynamic"
	categoryQuality      = "quality"
	categoryRelevance    = "relevance"
	categoryCompleteness = "completeness"
)

type rule struct {
	name     string
	category string
	weight   float64
	check    func(e *evalContext) RuleResult
}

// evalContext is the shared state rules read; the document is parsed
// once per validation.
type evalContext struct {
	vc        *Context
	doc       *goquery.Document
	cfg       Config
	textLen   int
	htmlLen   int
	words     []string
	taskWords []string
}

func newEvalContext(vc *Context, cfg Config) *evalContext {
	e := &evalContext{
		vc:        vc,
		cfg:       cfg,
		textLen:   len(vc.Text),
		htmlLen:   len(vc.HTML),
		words:     strings.Fields(vc.Text),
		taskWords: significantWords(vc.TaskDescription),
	}
	if doc, err := goquery.NewDocumentFromReader(strings.NewReader(vc.HTML)); err == nil {
		e.doc = doc
	}
	return e
}

func significantWords(s string) []string {
	var out []string
	for _, w := range strings.Fields(strings.ToLower(s)) {
		w = strings.Trim(w, ".,;:!?\"'()[]")
		if len(w) > 3 {
			out = append(out, w)
		}
	}
	return out
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

var (
	ajaxIndicatorPattern = regexp.MustCompile(`(?i)data-load|XMLHttpRequest|fetch\s*\(|axios\.|\$\.(?:ajax|get|post)\s*\(`)
	loadingPattern       = regexp.MustCompile(`(?i)\bloading\b|please wait|click (?:here )?to (?:view|load)|select\s+(?:a|an|the)?\s*\w+\s+to\s+(?:load|view|see|display)|javascript is required|enable javascript|no data loaded`)
	placeholderPattern   = regexp.MustCompile(`(?i)lorem ipsum|coming soon|under construction|to be announced|content (?:is )?unavailable|nothing to (?:see|show) here`)
	truncationPattern    = regexp.MustCompile(`(?i)(?:\.\.\.|…)\s*$|read more\s*$|continue reading\s*$`)
	semanticTags         = []string{"article", "main", "section", "header", "footer", "nav", "aside"}
)

func allRules() []rule {
	return []rule{
		{"minimum-content-length", categoryLength, 0.30, checkMinimumContentLength},
		{"minimum-word-count", categoryLength, 0.20, checkMinimumWordCount},
		{"empty-content-ratio", categoryLength, 0.15, checkEmptyContentRatio},
		{"semantic-html-presence", categoryStructure, 0.20, checkSemanticHTMLPresence},
		{"main-content-presence", categoryStructure, 0.25, checkMainContentPresence},
		{"navigation-content-ratio", categoryStructure, 0.15, checkNavigationContentRatio},
		{"ajax-indicators", categoryDynamic, 0.30, checkAjaxIndicators},
		{"empty-data-containers", categoryDynamic, 0.25, checkEmptyDataContainers},
		{"loading-placeholders", categoryDynamic, 0.20, checkLoadingPlaceholders},
		{"interactive-elements", categoryDynamic, 0.15, checkInteractiveElements},
		{"noise-ratio", categoryQuality, 0.20, checkNoiseRatio},
		{"text-density", categoryQuality, 0.15, checkTextDensity},
		{"link-density", categoryQuality, 0.10, checkLinkDensity},
		{"keyword-matching", categoryRelevance, 0.30, checkKeywordMatching},
		{"title-relevance", categoryRelevance, 0.20, checkTitleRelevance},
		{"placeholder-detection", categoryCompleteness, 0.25, checkPlaceholderDetection},
		{"incomplete-table-detection", categoryCompleteness, 0.20, checkIncompleteTableDetection},
		{"truncated-content-detection", categoryCompleteness, 0.15, checkTruncatedContentDetection},
	}
}

// heuristicRuleNames is the fast subset the heuristic strategy runs.
var heuristicRuleNames = map[string]bool{
	"minimum-content-length": true,
	"minimum-word-count":     true,
	"main-content-presence":  true,
	"loading-placeholders":   true,
	"empty-data-containers":  true,
	"keyword-matching":       true,
}

// applicable reports whether the rule can be evaluated on this context.
// Relevance rules need a task description.
func (r rule) applicable(e *evalContext) bool {
	if r.category == categoryRelevance && len(e.taskWords) == 0 {
		return false
	}
	return true
}

func checkMinimumContentLength(e *evalContext) RuleResult {
	total := e.htmlLen + e.textLen
	passed := total >= e.cfg.MinLength
	score := 1.0
	if e.cfg.MinLength > 0 {
		score = clamp01(float64(total) / float64(e.cfg.MinLength))
	}
	return RuleResult{
		Passed: passed,
		Score:  score,
		Reason: fmt.Sprintf("content length %d (minimum %d)", total, e.cfg.MinLength),
	}
}

func checkMinimumWordCount(e *evalContext) RuleResult {
	const minWords = 20
	n := len(e.words)
	return RuleResult{
		Passed: n >= minWords,
		Score:  clamp01(float64(n) / minWords),
		Reason: fmt.Sprintf("%d words (minimum %d)", n, minWords),
	}
}

func checkEmptyContentRatio(e *evalContext) RuleResult {
	if e.doc == nil {
		return RuleResult{Passed: true, Score: 1, Reason: "no parseable document"}
	}
	total, empty := 0, 0
	e.doc.Find("body *").Each(func(_ int, sel *goquery.Selection) {
		if sel.Children().Length() > 0 {
			return
		}
		total++
		if strings.TrimSpace(sel.Text()) == "" {
			empty++
		}
	})
	if total == 0 {
		return RuleResult{Passed: false, Score: 0, Reason: "document has no leaf elements"}
	}
	ratio := float64(empty) / float64(total)
	return RuleResult{
		Passed: ratio < 0.5,
		Score:  clamp01(1 - ratio),
		Reason: fmt.Sprintf("%.0f%% of leaf elements are empty", ratio*100),
	}
}

func checkSemanticHTMLPresence(e *evalContext) RuleResult {
	if e.doc == nil {
		return RuleResult{Passed: false, Score: 0, Reason: "no parseable document"}
	}
	present := 0
	for _, tag := range semanticTags {
		if e.doc.Find(tag).Length() > 0 {
			present++
		}
	}
	fraction := float64(present) / float64(len(semanticTags))
	return RuleResult{
		Passed: fraction >= 0.30,
		Score:  clamp01(fraction / 0.30),
		Reason: fmt.Sprintf("%d of %d semantic elements present", present, len(semanticTags)),
	}
}

func checkMainContentPresence(e *evalContext) RuleResult {
	if e.doc == nil {
		return RuleResult{Passed: false, Score: 0, Reason: "no parseable document"}
	}
	found := e.doc.Find("main, article, [role=main], .main-content").Length()
	if found == 0 {
		return RuleResult{Passed: false, Score: 0, Reason: "no main content container"}
	}
	return RuleResult{Passed: true, Score: 1, Reason: "main content container present"}
}

func checkNavigationContentRatio(e *evalContext) RuleResult {
	if e.doc == nil || e.textLen == 0 {
		return RuleResult{Passed: true, Score: 1, Reason: "no text to compare"}
	}
	navLen := 0
	e.doc.Find("nav, header").Each(func(_ int, sel *goquery.Selection) {
		navLen += len(strings.TrimSpace(sel.Text()))
	})
	ratio := float64(navLen) / float64(e.textLen)
	return RuleResult{
		Passed: ratio < 0.40,
		Score:  clamp01(1 - ratio),
		Reason: fmt.Sprintf("navigation text is %.0f%% of content", ratio*100),
	}
}

func checkAjaxIndicators(e *evalContext) RuleResult {
	if m := ajaxIndicatorPattern.FindString(e.vc.HTML); m != "" {
		return RuleResult{Passed: false, Score: 0, Reason: "AJAX indicator found: " + m}
	}
	return RuleResult{Passed: true, Score: 1, Reason: "no AJAX indicators"}
}

func checkEmptyDataContainers(e *evalContext) RuleResult {
	if e.doc == nil {
		return RuleResult{Passed: true, Score: 1, Reason: "no parseable document"}
	}
	empty := 0
	e.doc.Find(`tbody, ul, ol, [class^=data], [class^=list]`).Each(func(_ int, sel *goquery.Selection) {
		if strings.TrimSpace(sel.Text()) == "" {
			empty++
		}
	})
	if empty > 0 {
		return RuleResult{Passed: false, Score: 0, Reason: fmt.Sprintf("%d empty data containers", empty)}
	}
	return RuleResult{Passed: true, Score: 1, Reason: "no empty data containers"}
}

func checkLoadingPlaceholders(e *evalContext) RuleResult {
	if m := loadingPattern.FindString(e.vc.Text); m != "" {
		return RuleResult{Passed: false, Score: 0, Reason: "loading placeholder found: " + strings.TrimSpace(m)}
	}
	return RuleResult{Passed: true, Score: 1, Reason: "no loading placeholders"}
}

func checkInteractiveElements(e *evalContext) RuleResult {
	if e.doc == nil {
		return RuleResult{Passed: true, Score: 1, Reason: "no parseable document"}
	}
	count := e.doc.Find(`button, input[type=button], input[type=submit], [onclick]`).Length()
	if count > 5 {
		return RuleResult{
			Passed: false,
			Score:  clamp01(5.0 / float64(count)),
			Reason: fmt.Sprintf("%d interactive elements", count),
		}
	}
	return RuleResult{Passed: true, Score: 1, Reason: fmt.Sprintf("%d interactive elements", count)}
}

func checkNoiseRatio(e *evalContext) RuleResult {
	if e.doc == nil || e.textLen == 0 {
		return RuleResult{Passed: true, Score: 1, Reason: "no text to compare"}
	}
	noise := 0
	e.doc.Find(`nav, header, footer, aside, [class^=sidebar], [class^=ad-], [class^=banner]`).Each(func(_ int, sel *goquery.Selection) {
		noise += len(strings.TrimSpace(sel.Text()))
	})
	ratio := float64(noise) / float64(e.textLen)
	return RuleResult{
		Passed: ratio < 0.50,
		Score:  clamp01(1 - ratio),
		Reason: fmt.Sprintf("noise text is %.0f%% of content", ratio*100),
	}
}

func checkTextDensity(e *evalContext) RuleResult {
	if e.htmlLen == 0 {
		return RuleResult{Passed: false, Score: 0, Reason: "empty document"}
	}
	density := float64(e.textLen) / float64(e.htmlLen)
	return RuleResult{
		Passed: density >= 0.10,
		Score:  clamp01(density / 0.10),
		Reason: fmt.Sprintf("text density %.0f%%", density*100),
	}
}

func checkLinkDensity(e *evalContext) RuleResult {
	if e.doc == nil || e.textLen == 0 {
		return RuleResult{Passed: false, Score: 0, Reason: "no text to compare"}
	}
	linkLen := 0
	e.doc.Find("a").Each(func(_ int, sel *goquery.Selection) {
		linkLen += len(strings.TrimSpace(sel.Text()))
	})
	ratio := float64(linkLen) / float64(e.textLen)
	if ratio < 0.05 || ratio > 0.30 {
		return RuleResult{Passed: false, Score: 0, Reason: fmt.Sprintf("link density %.0f%% outside 5-30%%", ratio*100)}
	}
	return RuleResult{Passed: true, Score: 1, Reason: fmt.Sprintf("link density %.0f%%", ratio*100)}
}

func checkKeywordMatching(e *evalContext) RuleResult {
	lowText := strings.ToLower(e.vc.Text)
	found := 0
	for _, w := range e.taskWords {
		if strings.Contains(lowText, w) {
			found++
		}
	}
	fraction := float64(found) / float64(len(e.taskWords))
	return RuleResult{
		Passed: fraction >= 0.30,
		Score:  clamp01(fraction / 0.30),
		Reason: fmt.Sprintf("%d of %d task words found", found, len(e.taskWords)),
	}
}

func checkTitleRelevance(e *evalContext) RuleResult {
	title := strings.ToLower(e.vc.PageTitle)
	if title == "" && e.doc != nil {
		title = strings.ToLower(strings.TrimSpace(e.doc.Find("title").First().Text()))
	}
	if title == "" {
		return RuleResult{Passed: false, Score: 0, Reason: "page has no title"}
	}
	found := 0
	for _, w := range e.taskWords {
		if strings.Contains(title, w) {
			found++
		}
	}
	fraction := float64(found) / float64(len(e.taskWords))
	return RuleResult{
		Passed: fraction >= 0.20,
		Score:  clamp01(fraction / 0.20),
		Reason: fmt.Sprintf("%d of %d task words in title", found, len(e.taskWords)),
	}
}

func checkPlaceholderDetection(e *evalContext) RuleResult {
	if m := placeholderPattern.FindString(e.vc.Text); m != "" {
		return RuleResult{Passed: false, Score: 0, Reason: "placeholder text found: " + strings.TrimSpace(m)}
	}
	return RuleResult{Passed: true, Score: 1, Reason: "no placeholder text"}
}

func checkIncompleteTableDetection(e *evalContext) RuleResult {
	if e.doc == nil {
		return RuleResult{Passed: true, Score: 1, Reason: "no parseable document"}
	}
	incomplete := 0
	e.doc.Find("table").Each(func(_ int, sel *goquery.Selection) {
		if sel.Find("tr").Length() > 0 && sel.Find("td, th").Length() == 0 {
			incomplete++
		}
	})
	if incomplete > 0 {
		return RuleResult{Passed: false, Score: 0, Reason: fmt.Sprintf("%d tables with rows but no cells", incomplete)}
	}
	return RuleResult{Passed: true, Score: 1, Reason: "tables are complete"}
}

func checkTruncatedContentDetection(e *evalContext) RuleResult {
	text := strings.TrimSpace(e.vc.Text)
	if truncationPattern.MatchString(text) {
		return RuleResult{Passed: false, Score: 0, Reason: "content appears truncated"}
	}
	return RuleResult{Passed: true, Score: 1, Reason: "no truncation markers"}
}
