package extract

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"prowler/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeStrategy struct {
	typ       string
	available bool
	succeed   bool
	calls     int
}

func (f *fakeStrategy) Name() string      { return f.typ + "-fake" }
func (f *fakeStrategy) Type() string      { return f.typ }
func (f *fakeStrategy) IsAvailable() bool { return f.available }

func (f *fakeStrategy) Extract(context.Context, *Context) *Result {
	f.calls++
	if !f.succeed {
		return &Result{Success: false, Error: "scripted failure"}
	}
	return &Result{Success: true}
}

func TestFallbackShortCircuitsOnFirstSuccess(t *testing.T) {
	r := NewRegistry(testLogger())
	llmStrat := &fakeStrategy{typ: TypeLLM, available: false, succeed: true}
	ruleStrat := &fakeStrategy{typ: TypeRuleBased, available: true, succeed: true}
	cosStrat := &fakeStrategy{typ: TypeCosine, available: true, succeed: true}
	r.Register(llmStrat, true)
	r.Register(ruleStrat, false)
	r.Register(cosStrat, false)

	res := r.ExtractWithFallback(context.Background(), &Context{URL: "https://example.com"},
		[]string{TypeLLM, TypeRuleBased, TypeCosine})

	if !res.Success {
		t.Fatalf("fallback should succeed: %+v", res)
	}
	if res.Strategy != TypeRuleBased {
		t.Fatalf("strategy = %q, want %q", res.Strategy, TypeRuleBased)
	}
	if llmStrat.calls != 0 {
		t.Fatal("unavailable strategy should never run")
	}
	if cosStrat.calls != 0 {
		t.Fatal("success should short-circuit the chain before cosine")
	}
}

func TestFallbackTriesRemainingAvailable(t *testing.T) {
	r := NewRegistry(testLogger())
	ruleStrat := &fakeStrategy{typ: TypeRuleBased, available: true, succeed: false}
	cosStrat := &fakeStrategy{typ: TypeCosine, available: true, succeed: true}
	r.Register(ruleStrat, false)
	r.Register(cosStrat, false)

	res := r.ExtractWithFallback(context.Background(), &Context{URL: "https://example.com"},
		[]string{TypeRuleBased})
	if !res.Success || res.Strategy != TypeCosine {
		t.Fatalf("expected cosine to rescue the chain: %+v", res)
	}
}

func TestFallbackAllFail(t *testing.T) {
	r := NewRegistry(testLogger())
	r.Register(&fakeStrategy{typ: TypeRuleBased, available: true, succeed: false}, false)

	res := r.ExtractWithFallback(context.Background(), &Context{URL: "https://example.com"},
		[]string{TypeRuleBased})
	if res.Success {
		t.Fatal("all strategies failed, result should fail")
	}

	empty := NewRegistry(testLogger())
	res = empty.ExtractWithFallback(context.Background(), &Context{URL: "https://example.com"}, nil)
	if res.Success || res.Strategy != TypeCustom {
		t.Fatalf("empty registry should fail with custom strategy: %+v", res)
	}
}

func TestRegistryDefaultAndUnregister(t *testing.T) {
	r := NewRegistry(testLogger())
	first := &fakeStrategy{typ: TypeRuleBased, available: true, succeed: true}
	second := &fakeStrategy{typ: TypeCosine, available: true, succeed: true}
	r.Register(first, false)
	r.Register(second, false)

	if r.DefaultType() != TypeRuleBased {
		t.Fatalf("default = %q", r.DefaultType())
	}
	if !r.SetDefaultType(TypeCosine) {
		t.Fatal("set default to available strategy should succeed")
	}
	if r.SetDefaultType(TypeLLM) {
		t.Fatal("set default to unregistered strategy should fail")
	}
	if !r.Unregister(TypeCosine) {
		t.Fatal("unregister should succeed")
	}
	if r.DefaultType() != TypeRuleBased {
		t.Fatalf("default after unregister = %q", r.DefaultType())
	}
}

func TestSetDefaultRejectsUnavailable(t *testing.T) {
	r := NewRegistry(testLogger())
	r.Register(&fakeStrategy{typ: TypeRuleBased, available: true, succeed: true}, false)
	r.Register(&fakeStrategy{typ: TypeLLM, available: false, succeed: true}, false)

	if r.SetDefaultType(TypeLLM) {
		t.Fatal("unavailable strategy must not become default")
	}
}

func TestRegistryStats(t *testing.T) {
	r := NewRegistry(testLogger())
	r.Register(&fakeStrategy{typ: TypeRuleBased, available: true, succeed: false}, false)

	r.Extract(context.Background(), &Context{URL: "https://example.com"}, "")
	r.Extract(context.Background(), &Context{URL: "https://example.com"}, "")

	stats := r.GetStats()[TypeRuleBased]
	if stats.Runs != 2 || stats.Failures != 2 || stats.Successes != 0 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestDedupEntities(t *testing.T) {
	entities := []model.Entity{
		{Type: model.EntityContact, Data: map[string]any{"email": "a@b.co"}, Confidence: 0.9},
		{Type: model.EntityContact, Data: map[string]any{"email": "a@b.co"}, Confidence: 0.5},
		{Type: model.EntityPricing, Data: map[string]any{"price": "$5"}, Confidence: 0.8},
	}
	out := DedupEntities(entities)
	if len(out) != 2 {
		t.Fatalf("got %d entities, want 2", len(out))
	}
	if out[0].Confidence != 0.9 {
		t.Fatal("dedup should keep the first occurrence")
	}
}

func TestRuleBasedExtractsContacts(t *testing.T) {
	s := NewRuleBasedStrategy(0.7, false)
	ec := &Context{
		HTML: `<html><body>
			<a href="mailto:sales@example.com">Email us</a>
			<a href="tel:+1 (555) 123-4567">Call us</a>
		</body></html>`,
		Text: "Email us at sales@example.com",
		URL:  "https://example.com/contact",
	}

	res := s.Extract(context.Background(), ec)
	if !res.Success {
		t.Fatalf("extract failed: %s", res.Error)
	}

	var email, phone bool
	for _, e := range res.Entities {
		if e.Type != model.EntityContact {
			continue
		}
		if _, ok := e.Data["email"]; ok {
			email = true
		}
		if _, ok := e.Data["phone"]; ok {
			phone = true
		}
	}
	if !email || !phone {
		t.Fatalf("want email and phone contacts, got %+v", res.Entities)
	}
}

func TestRuleBasedEntityTypeFilter(t *testing.T) {
	s := NewRuleBasedStrategy(0.7, false)
	ec := &Context{
		HTML:        `<html><body><a href="mailto:x@y.co">mail</a><p>$19.99</p></body></html>`,
		Text:        "$19.99",
		URL:         "https://example.com",
		EntityTypes: []string{"pricing"},
	}

	res := s.Extract(context.Background(), ec)
	if !res.Success {
		t.Fatalf("extract failed: %s", res.Error)
	}
	for _, e := range res.Entities {
		if e.Type != model.EntityPricing {
			t.Fatalf("type filter leaked entity %+v", e)
		}
	}
}

func TestRuleBasedStrictModeRequiresValues(t *testing.T) {
	s := NewRuleBasedStrategy(0.7, true)
	s.AddRuleSet(RuleSet{
		Name:     "must-have",
		Priority: 99,
		Enabled:  true,
		Rules: []Rule{
			{Name: "required-heading", EntityType: model.EntityArticle, Selector: "h1.required", Required: true},
		},
	})

	res := s.Extract(context.Background(), &Context{
		HTML: `<html><body><p>nothing here</p></body></html>`,
		URL:  "https://example.com",
	})
	if res.Success {
		t.Fatal("strict mode should fail when a required rule matches nothing")
	}
}

func TestApplyTransforms(t *testing.T) {
	cases := []struct {
		transform string
		in        string
		want      string
	}{
		{"trim", "  x  ", "x"},
		{"lowercase", " ABC ", "abc"},
		{"parseNumber", "$1,234.50", "1234.50"},
		{"parseEmail", "mailto:a@b.co", "a@b.co"},
		{"parsePhone", "tel:+1 (555) 123-4567", "+15551234567"},
		{"parseUrl", "see https://example.com/x now", "https://example.com/x"},
		{"extractDomain", "https://www.example.com/page", "example.com"},
		{"parseDate", "2023-05-01", "2023-05-01"},
		{"parseDate", "January 2, 2023", "2023-01-02"},
	}
	for _, c := range cases {
		if got := applyTransform(c.transform, c.in); got != c.want {
			t.Fatalf("%s(%q) = %q, want %q", c.transform, c.in, got, c.want)
		}
	}
}

func TestCosineExtractsFromRelevantContent(t *testing.T) {
	s := NewCosineStrategy(0.3, 50, 20)
	ec := &Context{
		Text: "Pricing information for the premium plan. Contact sales@example.com for pricing. " +
			"The premium plan price is $49.99 per month.",
		URL:             "https://example.com/pricing",
		TaskDescription: "pricing information for the premium plan",
	}

	res := s.Extract(context.Background(), ec)
	if !res.Success {
		t.Fatalf("extract failed: %s", res.Error)
	}

	var email, price bool
	for _, e := range res.Entities {
		if e.Data["email"] == "sales@example.com" {
			email = true
		}
		if _, ok := e.Data["price"]; ok {
			price = true
		}
	}
	if !email || !price {
		t.Fatalf("want email and price entities, got %+v", res.Entities)
	}
}

func TestCosineRejectsUnrelatedContent(t *testing.T) {
	s := NewCosineStrategy(0.3, 50, 20)
	ec := &Context{
		Text:            "Bake the cake at medium heat. Whisk the eggs thoroughly before folding in flour.",
		URL:             "https://example.com/recipes",
		TaskDescription: "quantum entanglement research papers",
	}

	res := s.Extract(context.Background(), ec)
	if res.Success {
		t.Fatalf("unrelated content should fail: %+v", res)
	}
}

func TestCosineNeedsTask(t *testing.T) {
	s := NewCosineStrategy(0.3, 50, 20)
	res := s.Extract(context.Background(), &Context{Text: "some text", URL: "https://example.com"})
	if res.Success {
		t.Fatal("missing task should fail")
	}
}

func TestCosineCapsEntities(t *testing.T) {
	s := NewCosineStrategy(0.3, 3, 5)
	text := "emails: a@x.co b@x.co c@x.co d@x.co e@x.co"
	res := s.Extract(context.Background(), &Context{
		Text:            text,
		URL:             "https://example.com",
		TaskDescription: "emails a@x.co b@x.co",
	})
	if !res.Success {
		t.Fatalf("extract failed: %s", res.Error)
	}
	if len(res.Entities) > 3 {
		t.Fatalf("cap not applied: %d entities", len(res.Entities))
	}
}

func TestPatternExtractCurrencies(t *testing.T) {
	entities := patternExtract("Plans: $10, €20, £30, and 40 USD per seat.")
	prices := 0
	for _, e := range entities {
		if e.Type == model.EntityPricing {
			prices++
		}
	}
	if prices != 4 {
		t.Fatalf("got %d price entities, want 4: %+v", prices, entities)
	}
}
