package crawl

import (
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Config bounds one crawl.
type Config struct {
	MaxPages             int
	MaxDepth             int
	MaxAjaxEndpoints     int
	FollowExternalLinks  bool
	AllowedDomains       []string
	BlockedPatterns      []string
	DelayBetweenRequests int // milliseconds
	TimeoutMs            int
	RespectRobots        bool
}

// DiscoveredLink pairs a resolved URL with its anchor text.
type DiscoveredLink struct {
	URL  string
	Text string
}

var (
	ajaxURLPattern = regexp.MustCompile(`(?i)(?:fetch|axios\.\w+|XMLHttpRequest|\$\.(?:get|post|ajax))\s*\(\s*['"]([^'"]+)['"]`)
	paginationHint = regexp.MustCompile(`(?i)(?:^|[?&/])(?:page|p|offset|start)=?\d+`)
)

// DiscoverLinks extracts anchor hrefs from html, resolves them against
// base, and normalizes them. Visited URLs are skipped.
func DiscoverLinks(html, base string, visited *Detector) []DiscoveredLink {
	baseURL, err := url.Parse(base)
	if err != nil {
		return nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}

	seen := make(map[string]bool)
	var out []DiscoveredLink
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href := strings.TrimSpace(sel.AttrOr("href", ""))
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}
		u, err := baseURL.Parse(href)
		if err != nil {
			return
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return
		}
		norm := NormalizeURL(u.String())
		if seen[norm] {
			return
		}
		if visited != nil && visited.Seen(norm) {
			return
		}
		seen[norm] = true
		out = append(out, DiscoveredLink{URL: norm, Text: strings.TrimSpace(sel.Text())})
	})
	return out
}

// FilterLinks drops visited links, same-page anchors, externals (unless
// allowed), blocked paths, and non-web schemes.
func FilterLinks(links []DiscoveredLink, cfg Config, visited *Detector, current string) []DiscoveredLink {
	currentURL, err := url.Parse(current)
	if err != nil {
		return nil
	}

	blocked := make([]*regexp.Regexp, 0, len(cfg.BlockedPatterns))
	for _, p := range cfg.BlockedPatterns {
		if re, err := regexp.Compile(p); err == nil {
			blocked = append(blocked, re)
		}
	}

	var out []DiscoveredLink
	for _, l := range links {
		u, err := url.Parse(l.URL)
		if err != nil || u.Host == "" {
			continue
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			continue
		}
		if visited != nil && visited.Seen(l.URL) {
			continue
		}
		// Same page, different fragment/empty path difference.
		if sameDocument(u, currentURL) {
			continue
		}
		if !cfg.FollowExternalLinks && !domainAllowed(u.Hostname(), currentURL.Hostname(), cfg.AllowedDomains) {
			continue
		}
		blockedHit := false
		for _, re := range blocked {
			if re.MatchString(u.Path) {
				blockedHit = true
				break
			}
		}
		if blockedHit {
			continue
		}
		out = append(out, l)
	}
	return out
}

func sameDocument(a, b *url.URL) bool {
	return strings.EqualFold(a.Hostname(), b.Hostname()) &&
		strings.TrimSuffix(a.Path, "/") == strings.TrimSuffix(b.Path, "/") &&
		a.RawQuery == b.RawQuery
}

func domainAllowed(host, currentHost string, allowed []string) bool {
	if strings.EqualFold(host, currentHost) {
		return true
	}
	for _, d := range allowed {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" {
			continue
		}
		h := strings.ToLower(host)
		if h == d || strings.HasSuffix(h, "."+d) {
			return true
		}
	}
	return false
}

// PrioritizeLinks orders links by shallow paths, task keyword hits in
// the anchor text, and absence of pagination noise.
func PrioritizeLinks(links []DiscoveredLink, task string) []DiscoveredLink {
	keywords := taskKeywords(task)

	type scored struct {
		link  DiscoveredLink
		score int
		idx   int
	}
	items := make([]scored, len(links))
	for i, l := range links {
		s := 0
		if u, err := url.Parse(l.URL); err == nil {
			depth := len(strings.FieldsFunc(u.Path, func(r rune) bool { return r == '/' }))
			s += 10 - depth*2
		}
		lowText := strings.ToLower(l.Text)
		for _, kw := range keywords {
			if strings.Contains(lowText, kw) {
				s += 5
			}
			if strings.Contains(strings.ToLower(l.URL), kw) {
				s += 2
			}
		}
		if paginationHint.MatchString(l.URL) {
			s -= 5
		}
		items[i] = scored{link: l, score: s, idx: i}
	}

	sort.SliceStable(items, func(a, b int) bool { return items[a].score > items[b].score })

	out := make([]DiscoveredLink, len(items))
	for i, it := range items {
		out[i] = it.link
	}
	return out
}

func taskKeywords(task string) []string {
	var out []string
	for _, w := range strings.Fields(strings.ToLower(task)) {
		w = strings.Trim(w, ".,;:!?\"'()")
		if len(w) > 3 {
			out = append(out, w)
		}
	}
	return out
}

// AjaxTrigger is a DOM element that likely loads data when activated.
type AjaxTrigger struct {
	Selector string
	Text     string
	Attr     string
	Value    string
}

// DiscoverAjaxEndpoints combines fetch/XHR URLs scraped from inline
// scripts with synthetic endpoints derived from data-attribute
// triggers.
func DiscoverAjaxEndpoints(base string, scripts []string, triggers []AjaxTrigger) []string {
	baseURL, err := url.Parse(base)
	if err != nil {
		return nil
	}

	seen := make(map[string]bool)
	var out []string
	add := func(raw string) {
		u, err := baseURL.Parse(raw)
		if err != nil {
			return
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return
		}
		s := u.String()
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}

	for _, script := range scripts {
		for _, m := range ajaxURLPattern.FindAllStringSubmatch(script, -1) {
			add(m[1])
		}
	}

	for _, trig := range triggers {
		for _, synth := range SynthesizeEndpoints(baseURL, trig) {
			add(synth)
		}
	}
	return out
}

// SynthesizeEndpoints builds candidate AJAX URLs for a data trigger,
// following the conventional ?year=/?ajax= patterns dynamic sites use.
func SynthesizeEndpoints(base *url.URL, trig AjaxTrigger) []string {
	val := strings.TrimSpace(trig.Value)
	if val == "" {
		val = strings.TrimSpace(trig.Text)
	}
	if val == "" || !isDigits(val) {
		return nil
	}

	path := base.Path
	if path == "" {
		path = "/"
	}

	param := "id"
	switch trig.Attr {
	case "data-year":
		param = "year"
	case "data-page":
		param = "page"
	}

	return []string{
		path + "?" + param + "=" + val,
		path + "?ajax=true&" + param + "=" + val,
		"/api" + path + "?" + param + "=" + val,
	}
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// DiscoverFrameURLs resolves iframe and frame src attributes against
// the base URL.
func DiscoverFrameURLs(html, base string) []string {
	baseURL, err := url.Parse(base)
	if err != nil {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}

	seen := make(map[string]bool)
	var out []string
	doc.Find("iframe[src], frame[src]").Each(func(_ int, sel *goquery.Selection) {
		src := strings.TrimSpace(sel.AttrOr("src", ""))
		if src == "" || strings.HasPrefix(src, "about:") {
			return
		}
		u, err := baseURL.Parse(src)
		if err != nil {
			return
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return
		}
		s := u.String()
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	})
	return out
}
