package extract

import (
	"context"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"prowler/internal/model"
)

// Rule matches one value source in a document. The first of Selector
// and Regex present is applied; Attribute takes an attribute instead of
// element text; Transform names a post-processing step.
type Rule struct {
	Name       string           `json:"name"`
	EntityType model.EntityType `json:"entityType"`
	Selector   string           `json:"selector,omitempty"`
	Regex      string           `json:"regex,omitempty"`
	Attribute  string           `json:"attribute,omitempty"`
	Transform  string           `json:"transform,omitempty"`
	Confidence float64          `json:"confidence,omitempty"`
	Required   bool             `json:"required,omitempty"`
	Multiple   bool             `json:"multiple,omitempty"`
}

// RuleSet groups rules under a name; higher priority sets run first.
type RuleSet struct {
	Name     string `json:"name"`
	Priority int    `json:"priority"`
	Enabled  bool   `json:"enabled"`
	Rules    []Rule `json:"rules"`
}

// RuleBasedStrategy extracts entities with CSS selectors and regular
// expressions, no model calls involved.
type RuleBasedStrategy struct {
	mu         sync.RWMutex
	sets       []RuleSet
	confidence float64
	strict     bool
}

func NewRuleBasedStrategy(confidence float64, strict bool) *RuleBasedStrategy {
	if confidence == 0 {
		confidence = 0.7
	}
	return &RuleBasedStrategy{
		sets:       defaultRuleSets(),
		confidence: confidence,
		strict:     strict,
	}
}

func (s *RuleBasedStrategy) Name() string      { return "rule-based-extraction" }
func (s *RuleBasedStrategy) Type() string      { return TypeRuleBased }
func (s *RuleBasedStrategy) IsAvailable() bool { return true }

// AddRuleSet installs or replaces a named rule set.
func (s *RuleBasedStrategy) AddRuleSet(set RuleSet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.sets {
		if existing.Name == set.Name {
			s.sets[i] = set
			return
		}
	}
	s.sets = append(s.sets, set)
}

// RemoveRuleSet drops a named rule set.
func (s *RuleBasedStrategy) RemoveRuleSet(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.sets {
		if existing.Name == name {
			s.sets = append(s.sets[:i], s.sets[i+1:]...)
			return true
		}
	}
	return false
}

func (s *RuleBasedStrategy) Extract(_ context.Context, ec *Context) *Result {
	s.mu.RLock()
	sets := make([]RuleSet, len(s.sets))
	copy(sets, s.sets)
	s.mu.RUnlock()

	sort.SliceStable(sets, func(a, b int) bool { return sets[a].Priority > sets[b].Priority })

	var doc *goquery.Document
	if ec.HTML != "" {
		if d, err := goquery.NewDocumentFromReader(strings.NewReader(ec.HTML)); err == nil {
			doc = d
		}
	}

	wanted := map[model.EntityType]bool{}
	for _, t := range ec.EntityTypes {
		wanted[model.NormalizeEntityType(t)] = true
	}

	var entities []model.Entity
	var missingRequired []string

	for _, set := range sets {
		if !set.Enabled {
			continue
		}
		for _, rule := range set.Rules {
			if len(wanted) > 0 && !wanted[rule.EntityType] {
				continue
			}
			values := s.evaluate(rule, doc, ec)
			if len(values) == 0 {
				if rule.Required {
					missingRequired = append(missingRequired, rule.Name)
				}
				continue
			}
			if !rule.Multiple {
				values = values[:1]
			}
			conf := rule.Confidence
			if conf == 0 {
				conf = s.confidence
			}
			for _, v := range values {
				entities = append(entities, model.Entity{
					Type:       rule.EntityType,
					Data:       entityData(rule.EntityType, v),
					Confidence: model.ClampConfidence(conf),
					Source:     "rule:" + set.Name + "/" + rule.Name,
				})
			}
		}
	}

	if s.strict && len(missingRequired) > 0 {
		return &Result{
			Success: false,
			Error:   "required rules produced no values: " + strings.Join(missingRequired, ", "),
		}
	}
	if len(entities) == 0 {
		return &Result{Success: false, Error: "no rules matched"}
	}

	return &Result{
		Entities:   DedupEntities(entities),
		Success:    true,
		Confidence: s.confidence,
		Metadata:   map[string]any{"ruleSets": len(sets)},
	}
}

func (s *RuleBasedStrategy) evaluate(rule Rule, doc *goquery.Document, ec *Context) []string {
	var raw []string

	switch {
	case rule.Selector != "" && doc != nil:
		doc.Find(rule.Selector).Each(func(_ int, sel *goquery.Selection) {
			v := ""
			if rule.Attribute != "" {
				v = sel.AttrOr(rule.Attribute, "")
			} else {
				v = sel.Text()
			}
			raw = append(raw, v)
		})
	case rule.Regex != "":
		re, err := regexp.Compile(rule.Regex)
		if err != nil {
			return nil
		}
		source := ec.Text
		if source == "" {
			source = ec.HTML
		}
		for _, m := range re.FindAllStringSubmatch(source, -1) {
			if len(m) > 1 {
				raw = append(raw, m[1])
			} else {
				raw = append(raw, m[0])
			}
		}
	}

	var out []string
	seen := map[string]bool{}
	for _, v := range raw {
		v = applyTransform(rule.Transform, v)
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

var (
	emailShape   = regexp.MustCompile(`^[\w.+-]+@[\w-]+\.[\w.-]+$`)
	phoneShape   = regexp.MustCompile(`^\+?[\d\s().-]{7,}$`)
	numberChars  = regexp.MustCompile(`[-\d.,]+`)
	htmlTags     = regexp.MustCompile(`<[^>]*>`)
	phoneStrip   = regexp.MustCompile(`[^\d+]`)
	urlInText    = regexp.MustCompile(`https?://\S+`)
	emailInText  = regexp.MustCompile(`[\w.+-]+@[\w-]+\.[\w.-]+`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// applyTransform pipes a raw value through a named transform. Unknown
// names pass the value through unchanged.
func applyTransform(name, v string) string {
	switch name {
	case "", "none":
		return v
	case "trim":
		return strings.TrimSpace(v)
	case "lowercase":
		return strings.ToLower(strings.TrimSpace(v))
	case "parseNumber":
		m := numberChars.FindString(v)
		m = strings.ReplaceAll(m, ",", "")
		if _, err := strconv.ParseFloat(m, 64); err != nil {
			return ""
		}
		return m
	case "parseDate":
		for _, layout := range []string{"2006-01-02", "January 2, 2006", "Jan 2, 2006", "02/01/2006", "01/02/2006"} {
			if t, err := time.Parse(layout, strings.TrimSpace(v)); err == nil {
				return t.Format("2006-01-02")
			}
		}
		return ""
	case "parseEmail":
		return emailInText.FindString(v)
	case "parsePhone":
		stripped := phoneStrip.ReplaceAllString(v, "")
		if len(stripped) < 7 {
			return ""
		}
		return stripped
	case "parseUrl":
		return urlInText.FindString(v)
	case "extractDomain":
		u, err := url.Parse(strings.TrimSpace(v))
		if err != nil || u.Host == "" {
			return ""
		}
		return strings.TrimPrefix(u.Host, "www.")
	case "removeHtml":
		return whitespaceRe.ReplaceAllString(htmlTags.ReplaceAllString(v, " "), " ")
	default:
		return v
	}
}

// entityData shapes the payload by entity type. Contact values dispatch
// on whether they look like an email or a phone number.
func entityData(t model.EntityType, v string) map[string]any {
	switch t {
	case model.EntityContact:
		if emailShape.MatchString(v) {
			return map[string]any{"email": v}
		}
		if phoneShape.MatchString(v) {
			return map[string]any{"phone": v}
		}
		return map[string]any{"value": v}
	case model.EntityCompany:
		return map[string]any{"name": v}
	case model.EntityPerson:
		return map[string]any{"name": v}
	case model.EntityPricing:
		return map[string]any{"price": v}
	case model.EntityProduct:
		return map[string]any{"name": v}
	case model.EntityArticle:
		return map[string]any{"title": v}
	default:
		return map[string]any{"value": v}
	}
}

// defaultRuleSets cover the common structured signals: contact data,
// page metadata, and pricing.
func defaultRuleSets() []RuleSet {
	return []RuleSet{
		{
			Name:     "contact",
			Priority: 10,
			Enabled:  true,
			Rules: []Rule{
				{Name: "mailto-links", EntityType: model.EntityContact, Selector: `a[href^="mailto:"]`, Attribute: "href", Transform: "parseEmail", Multiple: true},
				{Name: "email-text", EntityType: model.EntityContact, Regex: `([\w.+-]+@[\w-]+\.[\w.-]+)`, Multiple: true},
				{Name: "tel-links", EntityType: model.EntityContact, Selector: `a[href^="tel:"]`, Attribute: "href", Transform: "parsePhone", Multiple: true},
			},
		},
		{
			Name:     "page-meta",
			Priority: 5,
			Enabled:  true,
			Rules: []Rule{
				{Name: "og-site-name", EntityType: model.EntityCompany, Selector: `meta[property="og:site_name"]`, Attribute: "content"},
				{Name: "article-title", EntityType: model.EntityArticle, Selector: `meta[property="og:title"]`, Attribute: "content"},
			},
		},
		{
			Name:     "pricing",
			Priority: 8,
			Enabled:  true,
			Rules: []Rule{
				{Name: "price-text", EntityType: model.EntityPricing, Regex: `([$€£¥₹]\s?\d[\d,]*(?:\.\d{1,2})?)`, Multiple: true},
				{Name: "itemprop-price", EntityType: model.EntityPricing, Selector: `[itemprop="price"]`, Attribute: "content", Multiple: true},
			},
		},
	}
}
