package extract

import (
	"context"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/kljensen/snowball"

	"prowler/internal/model"
)

// CosineStrategy scores content against the task with two-document
// TF-IDF cosine similarity and pattern-extracts entities from whatever
// passes the threshold.
type CosineStrategy struct {
	threshold        float64
	maxEntities      int
	minSegmentLength int
}

func NewCosineStrategy(threshold float64, maxEntities, minSegmentLength int) *CosineStrategy {
	if threshold == 0 {
		threshold = 0.3
	}
	if maxEntities == 0 {
		maxEntities = 50
	}
	return &CosineStrategy{threshold: threshold, maxEntities: maxEntities, minSegmentLength: minSegmentLength}
}

func (s *CosineStrategy) Name() string      { return "cosine-similarity-extraction" }
func (s *CosineStrategy) Type() string      { return TypeCosine }
func (s *CosineStrategy) IsAvailable() bool { return true }

func (s *CosineStrategy) Extract(_ context.Context, ec *Context) *Result {
	content := ec.Text
	if content == "" {
		content = ec.Markdown
	}
	if content == "" {
		return &Result{Success: false, Error: "no content to extract from"}
	}
	if ec.TaskDescription == "" {
		return &Result{Success: false, Error: "similarity extraction needs a task description"}
	}

	taskTokens := tokenize(ec.TaskDescription)
	overall := similarity(tokenize(content), taskTokens)

	source := content
	matchedSentences := 0
	if overall < s.threshold {
		var kept []string
		for _, sc := range s.scoreSentences(content, taskTokens) {
			if sc.score >= s.threshold {
				kept = append(kept, sc.sentence)
			}
			if len(kept) == 10 {
				break
			}
		}
		if len(kept) == 0 {
			return &Result{
				Success:  false,
				Error:    "content does not match the task",
				Metadata: map[string]any{"similarity": overall},
			}
		}
		matchedSentences = len(kept)
		source = strings.Join(kept, " ")
	}

	entities := patternExtract(source)
	entities = DedupEntities(entities)
	if len(entities) > s.maxEntities {
		entities = entities[:s.maxEntities]
	}
	if len(entities) == 0 {
		return &Result{
			Success:  false,
			Error:    "no entity patterns matched",
			Metadata: map[string]any{"similarity": overall},
		}
	}

	return &Result{
		Entities:   entities,
		Success:    true,
		Confidence: overall,
		Metadata: map[string]any{
			"similarity":       overall,
			"matchedSentences": matchedSentences,
		},
	}
}

type scoredSentence struct {
	sentence string
	score    float64
}

func (s *CosineStrategy) scoreSentences(content string, taskTokens []string) []scoredSentence {
	var out []scoredSentence
	for _, sentence := range sentenceSplit.Split(content, -1) {
		sentence = strings.TrimSpace(sentence)
		if len(sentence) < s.minSegmentLength {
			continue
		}
		out = append(out, scoredSentence{sentence: sentence, score: similarity(tokenize(sentence), taskTokens)})
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].score > out[b].score })
	return out
}

var (
	sentenceSplit = regexp.MustCompile(`[.!?\n]+`)
	wordSplit     = regexp.MustCompile(`[^a-zA-Z0-9]+`)
)

var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "but": true, "by": true, "for": true, "from": true, "has": true,
	"have": true, "in": true, "is": true, "it": true, "its": true, "of": true,
	"on": true, "or": true, "that": true, "the": true, "this": true, "to": true,
	"was": true, "were": true, "will": true, "with": true, "you": true, "your": true,
}

// tokenize lowercases, drops stopwords, and Porter-stems.
func tokenize(s string) []string {
	var out []string
	for _, w := range wordSplit.Split(strings.ToLower(s), -1) {
		if len(w) < 2 || stopwords[w] {
			continue
		}
		if stemmed, err := snowball.Stem(w, "english", false); err == nil && stemmed != "" {
			w = stemmed
		}
		out = append(out, w)
	}
	return out
}

// similarity is the cosine of the two token lists' TF-IDF vectors over
// their shared two-document corpus.
func similarity(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	tfA := termFreq(a)
	tfB := termFreq(b)

	vocab := map[string]bool{}
	for t := range tfA {
		vocab[t] = true
	}
	for t := range tfB {
		vocab[t] = true
	}

	var dot, normA, normB float64
	for t := range vocab {
		df := 0.0
		if tfA[t] > 0 {
			df++
		}
		if tfB[t] > 0 {
			df++
		}
		idf := 1 + math.Log(2.0/df)
		wa := tfA[t] * idf
		wb := tfB[t] * idf
		dot += wa * wb
		normA += wa * wa
		normB += wb * wb
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func termFreq(tokens []string) map[string]float64 {
	tf := make(map[string]float64, len(tokens))
	for _, t := range tokens {
		tf[t]++
	}
	for t := range tf {
		tf[t] /= float64(len(tokens))
	}
	return tf
}

var (
	emailPattern   = regexp.MustCompile(`[\w.+-]+@[\w-]+\.[A-Za-z]{2,}`)
	phonePattern   = regexp.MustCompile(`\+?\d[\d\s().-]{7,}\d`)
	urlPattern     = regexp.MustCompile(`https?://[^\s<>"')]+`)
	pricePattern   = regexp.MustCompile(`[$€£¥₹]\s?\d[\d,]*(?:\.\d{1,2})?|\b\d[\d,]*(?:\.\d{1,2})?\s?(?:USD|EUR|GBP|JPY|INR)\b`)
	datePattern    = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b|\b(?:January|February|March|April|May|June|July|August|September|October|November|December|Jan|Feb|Mar|Apr|Jun|Jul|Aug|Sep|Oct|Nov|Dec)\.? \d{1,2},? \d{4}\b|\b\d{1,2}/\d{1,2}/\d{2,4}\b`)
	companyPattern = regexp.MustCompile(`\b[A-Z][A-Za-z&-]+(?: [A-Z][A-Za-z&-]+)* (?:Inc|Ltd|LLC|Corp|Corporation|Company|GmbH|Co)\.?`)
)

// patternExtract pulls typed entities out of free text with the shared
// pattern library.
func patternExtract(text string) []model.Entity {
	var out []model.Entity
	add := func(t model.EntityType, key, v string, confidence float64) {
		out = append(out, model.Entity{
			Type:       t,
			Data:       map[string]any{key: strings.TrimSpace(v)},
			Confidence: confidence,
			Source:     "pattern",
		})
	}

	for _, m := range emailPattern.FindAllString(text, -1) {
		add(model.EntityContact, "email", m, 0.9)
	}
	for _, m := range phonePattern.FindAllString(text, -1) {
		add(model.EntityContact, "phone", m, 0.6)
	}
	for _, m := range urlPattern.FindAllString(text, -1) {
		add(model.EntityCustom, "url", m, 0.8)
	}
	for _, m := range pricePattern.FindAllString(text, -1) {
		add(model.EntityPricing, "price", m, 0.8)
	}
	for _, m := range datePattern.FindAllString(text, -1) {
		add(model.EntityCustom, "date", m, 0.7)
	}
	for _, m := range companyPattern.FindAllString(text, -1) {
		add(model.EntityCompany, "name", m, 0.5)
	}
	return out
}
