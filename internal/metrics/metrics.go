package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Simple Prometheus-style metrics for the scrape engine.
// This is intentionally minimal and in-memory only.

var (
	mu             sync.RWMutex
	requestsTotal  = make(map[reqKey]int64)
	latencyMsSum   = make(map[latKey]int64)
	latencyMsCount = make(map[latKey]int64)

	scrapesTotal      = make(map[scrapeKey]int64)
	scrapeMsSum       = make(map[string]int64)
	scrapeMsCount     = make(map[string]int64)
	cacheLookupsTotal = make(map[string]int64)
	breakerStateTotal = make(map[breakerKey]int64)
	llmExtracts       = make(map[llmKey]int64)

	retentionJobsDeleted int64
)

type reqKey struct {
	Method string
	Path   string
	Status int
}

type latKey struct {
	Method string
	Path   string
}

type scrapeKey struct {
	Tier    string
	Outcome string
}

type breakerKey struct {
	Host  string
	State string
}

type llmKey struct {
	Provider string
	Model    string
	Success  string
}

// RecordRequest increments request counter and records latency.
func RecordRequest(method, path string, status int, latencyMs int64) {
	mu.Lock()
	defer mu.Unlock()

	rk := reqKey{Method: method, Path: path, Status: status}
	requestsTotal[rk]++

	lk := latKey{Method: method, Path: path}
	latencyMsSum[lk] += latencyMs
	latencyMsCount[lk]++
}

// RecordScrape counts one tier execution. Outcome is one of
// "success", "insufficient", "error".
func RecordScrape(tier, outcome string, durationMs int64) {
	mu.Lock()
	defer mu.Unlock()

	scrapesTotal[scrapeKey{Tier: tier, Outcome: outcome}]++
	scrapeMsSum[tier] += durationMs
	scrapeMsCount[tier]++
}

// RecordCacheLookup counts a cache read by result ("hit" or "miss").
func RecordCacheLookup(result string) {
	mu.Lock()
	defer mu.Unlock()
	cacheLookupsTotal[result]++
}

// RecordBreakerTransition counts a circuit breaker state change.
func RecordBreakerTransition(host, state string) {
	mu.Lock()
	defer mu.Unlock()
	breakerStateTotal[breakerKey{Host: host, State: state}]++
}

// RecordLLMExtract increments LLM extract counters.
func RecordLLMExtract(provider, model string, success bool) {
	mu.Lock()
	defer mu.Unlock()

	s := "false"
	if success {
		s = "true"
	}
	key := llmKey{Provider: provider, Model: model, Success: s}
	llmExtracts[key]++
}

// RecordRetentionJobs increments the counter of jobs deleted by TTL.
func RecordRetentionJobs(deleted int64) {
	if deleted <= 0 {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	retentionJobsDeleted += deleted
}

// Export returns Prometheus-style metrics text.
func Export() string {
	mu.RLock()
	defer mu.RUnlock()

	var b strings.Builder

	b.WriteString("# HELP prowler_http_requests_total Total HTTP requests\n")
	b.WriteString("# TYPE prowler_http_requests_total counter\n")

	// Sort keys for stable output
	var reqKeys []reqKey
	for k := range requestsTotal {
		reqKeys = append(reqKeys, k)
	}
	sort.Slice(reqKeys, func(i, j int) bool {
		if reqKeys[i].Method != reqKeys[j].Method {
			return reqKeys[i].Method < reqKeys[j].Method
		}
		if reqKeys[i].Path != reqKeys[j].Path {
			return reqKeys[i].Path < reqKeys[j].Path
		}
		return reqKeys[i].Status < reqKeys[j].Status
	})

	for _, k := range reqKeys {
		v := requestsTotal[k]
		fmt.Fprintf(&b, "prowler_http_requests_total{method=\"%s\",path=\"%s\",status=\"%d\"} %d\n",
			k.Method, k.Path, k.Status, v)
	}

	b.WriteString("# HELP prowler_http_request_duration_ms_sum Total request duration in milliseconds\n")
	b.WriteString("# TYPE prowler_http_request_duration_ms_sum counter\n")
	b.WriteString("# HELP prowler_http_request_duration_ms_count Request count for latency metric\n")
	b.WriteString("# TYPE prowler_http_request_duration_ms_count counter\n")

	var latKeys []latKey
	for k := range latencyMsSum {
		latKeys = append(latKeys, k)
	}
	sort.Slice(latKeys, func(i, j int) bool {
		if latKeys[i].Method != latKeys[j].Method {
			return latKeys[i].Method < latKeys[j].Method
		}
		return latKeys[i].Path < latKeys[j].Path
	})

	for _, k := range latKeys {
		fmt.Fprintf(&b, "prowler_http_request_duration_ms_sum{method=\"%s\",path=\"%s\"} %d\n",
			k.Method, k.Path, latencyMsSum[k])
		fmt.Fprintf(&b, "prowler_http_request_duration_ms_count{method=\"%s\",path=\"%s\"} %d\n",
			k.Method, k.Path, latencyMsCount[k])
	}

	// Scrape tier metrics
	b.WriteString("# HELP prowler_scrapes_total Total tier executions by outcome\n")
	b.WriteString("# TYPE prowler_scrapes_total counter\n")

	var scrapeKeys []scrapeKey
	for k := range scrapesTotal {
		scrapeKeys = append(scrapeKeys, k)
	}
	sort.Slice(scrapeKeys, func(i, j int) bool {
		if scrapeKeys[i].Tier != scrapeKeys[j].Tier {
			return scrapeKeys[i].Tier < scrapeKeys[j].Tier
		}
		return scrapeKeys[i].Outcome < scrapeKeys[j].Outcome
	})
	for _, k := range scrapeKeys {
		fmt.Fprintf(&b, "prowler_scrapes_total{tier=\"%s\",outcome=\"%s\"} %d\n",
			k.Tier, k.Outcome, scrapesTotal[k])
	}

	b.WriteString("# HELP prowler_scrape_duration_ms_sum Total scrape duration in milliseconds\n")
	b.WriteString("# TYPE prowler_scrape_duration_ms_sum counter\n")
	b.WriteString("# HELP prowler_scrape_duration_ms_count Scrape count for duration metric\n")
	b.WriteString("# TYPE prowler_scrape_duration_ms_count counter\n")

	var tiers []string
	for t := range scrapeMsSum {
		tiers = append(tiers, t)
	}
	sort.Strings(tiers)
	for _, t := range tiers {
		fmt.Fprintf(&b, "prowler_scrape_duration_ms_sum{tier=\"%s\"} %d\n", t, scrapeMsSum[t])
		fmt.Fprintf(&b, "prowler_scrape_duration_ms_count{tier=\"%s\"} %d\n", t, scrapeMsCount[t])
	}

	// Cache metrics
	b.WriteString("# HELP prowler_cache_lookups_total Cache lookups by result\n")
	b.WriteString("# TYPE prowler_cache_lookups_total counter\n")

	var results []string
	for r := range cacheLookupsTotal {
		results = append(results, r)
	}
	sort.Strings(results)
	for _, r := range results {
		fmt.Fprintf(&b, "prowler_cache_lookups_total{result=\"%s\"} %d\n", r, cacheLookupsTotal[r])
	}

	// Circuit breaker metrics
	b.WriteString("# HELP prowler_breaker_transitions_total Circuit breaker state transitions\n")
	b.WriteString("# TYPE prowler_breaker_transitions_total counter\n")

	var breakerKeys []breakerKey
	for k := range breakerStateTotal {
		breakerKeys = append(breakerKeys, k)
	}
	sort.Slice(breakerKeys, func(i, j int) bool {
		if breakerKeys[i].Host != breakerKeys[j].Host {
			return breakerKeys[i].Host < breakerKeys[j].Host
		}
		return breakerKeys[i].State < breakerKeys[j].State
	})
	for _, k := range breakerKeys {
		fmt.Fprintf(&b, "prowler_breaker_transitions_total{host=\"%s\",state=\"%s\"} %d\n",
			k.Host, k.State, breakerStateTotal[k])
	}

	// LLM extract metrics
	b.WriteString("# HELP prowler_llm_extract_requests_total Total LLM extract requests\n")
	b.WriteString("# TYPE prowler_llm_extract_requests_total counter\n")

	var llmKeys []llmKey
	for k := range llmExtracts {
		llmKeys = append(llmKeys, k)
	}
	sort.Slice(llmKeys, func(i, j int) bool {
		if llmKeys[i].Provider != llmKeys[j].Provider {
			return llmKeys[i].Provider < llmKeys[j].Provider
		}
		if llmKeys[i].Model != llmKeys[j].Model {
			return llmKeys[i].Model < llmKeys[j].Model
		}
		return llmKeys[i].Success < llmKeys[j].Success
	})

	for _, k := range llmKeys {
		fmt.Fprintf(&b, "prowler_llm_extract_requests_total{provider=\"%s\",model=\"%s\",success=\"%s\"} %d\n",
			k.Provider, k.Model, k.Success, llmExtracts[k])
	}

	// Retention metrics
	b.WriteString("# HELP prowler_retention_jobs_deleted_total Total jobs deleted by TTL\n")
	b.WriteString("# TYPE prowler_retention_jobs_deleted_total counter\n")
	fmt.Fprintf(&b, "prowler_retention_jobs_deleted_total %d\n", retentionJobsDeleted)

	return b.String()
}
