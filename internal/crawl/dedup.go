package crawl

import (
	"net/url"
	"sort"
	"strings"
	"sync"
)

// trackingParams are query keys stripped during normalization so that
// campaign-tagged duplicates collapse onto one URL.
var trackingParams = map[string]bool{
	"fbclid":   true,
	"gclid":    true,
	"msclkid":  true,
	"ref":      true,
	"referrer": true,
}

// NormalizeURL canonicalizes a URL for deduplication: lowercase scheme
// and host, default ports stripped, fragment removed, tracking params
// removed, remaining query keys sorted, trailing slash trimmed.
// Normalization is idempotent.
func NormalizeURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return strings.TrimSpace(raw)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""

	if (u.Scheme == "http" && strings.HasSuffix(u.Host, ":80")) ||
		(u.Scheme == "https" && strings.HasSuffix(u.Host, ":443")) {
		u.Host = u.Host[:strings.LastIndex(u.Host, ":")]
	}

	if u.RawQuery != "" {
		q := u.Query()
		for key := range q {
			if trackingParams[strings.ToLower(key)] || strings.HasPrefix(strings.ToLower(key), "utm_") {
				q.Del(key)
			}
		}
		keys := make([]string, 0, len(q))
		for key := range q {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		var b strings.Builder
		for _, key := range keys {
			vals := q[key]
			sort.Strings(vals)
			for _, v := range vals {
				if b.Len() > 0 {
					b.WriteByte('&')
				}
				b.WriteString(url.QueryEscape(key))
				b.WriteByte('=')
				b.WriteString(url.QueryEscape(v))
			}
		}
		u.RawQuery = b.String()
	}

	if u.Path != "/" {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}
	out := u.String()
	if u.Path == "/" && u.RawQuery == "" {
		out = strings.TrimSuffix(out, "/")
	}
	return out
}

// Detector tracks which normalized URLs a crawl has already seen.
type Detector struct {
	mu   sync.Mutex
	seen map[string]bool
	dups int
}

func NewDetector() *Detector {
	return &Detector{seen: make(map[string]bool)}
}

// Add records the URL and reports whether it was new.
func (d *Detector) Add(raw string) bool {
	norm := NormalizeURL(raw)
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen[norm] {
		d.dups++
		return false
	}
	d.seen[norm] = true
	return true
}

// Seen reports whether the URL was added before, without recording it.
func (d *Detector) Seen(raw string) bool {
	norm := NormalizeURL(raw)
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seen[norm]
}

// Count returns the number of distinct URLs recorded.
func (d *Detector) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

// Duplicates returns how many Add calls hit an already-seen URL.
func (d *Detector) Duplicates() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dups
}
