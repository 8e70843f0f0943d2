package metrics

import (
	"strings"
	"testing"
)

func TestRecordRequestAndExport(t *testing.T) {
	// Record a single request and ensure it appears in the export.
	RecordRequest("GET", "/v1/jobs", 200, 42)

	out := Export()
	if !strings.Contains(out, "prowler_http_requests_total{method=\"GET\",path=\"/v1/jobs\",status=\"200\"}") {
		t.Fatalf("expected HTTP request metric for GET /v1/jobs in export, got:\n%s", out)
	}
	if !strings.Contains(out, "prowler_http_request_duration_ms_sum") || !strings.Contains(out, "prowler_http_request_duration_ms_count") {
		t.Fatalf("expected latency metrics headers in export, got:\n%s", out)
	}
}

func TestRecordScrapeMetrics(t *testing.T) {
	RecordScrape("http", "insufficient", 120)
	RecordScrape("reader", "success", 340)

	out := Export()
	if !strings.Contains(out, "prowler_scrapes_total{tier=\"http\",outcome=\"insufficient\"}") {
		t.Fatalf("expected scrapes_total for http tier, got:\n%s", out)
	}
	if !strings.Contains(out, "prowler_scrapes_total{tier=\"reader\",outcome=\"success\"}") {
		t.Fatalf("expected scrapes_total for reader tier, got:\n%s", out)
	}
	if !strings.Contains(out, "prowler_scrape_duration_ms_sum{tier=\"reader\"}") {
		t.Fatalf("expected scrape duration for reader tier, got:\n%s", out)
	}
}

func TestRecordCacheAndBreakerMetrics(t *testing.T) {
	RecordCacheLookup("hit")
	RecordCacheLookup("miss")
	RecordBreakerTransition("example.com", "open")

	out := Export()
	if !strings.Contains(out, "prowler_cache_lookups_total{result=\"hit\"}") {
		t.Fatalf("expected cache hit metric, got:\n%s", out)
	}
	if !strings.Contains(out, "prowler_cache_lookups_total{result=\"miss\"}") {
		t.Fatalf("expected cache miss metric, got:\n%s", out)
	}
	if !strings.Contains(out, "prowler_breaker_transitions_total{host=\"example.com\",state=\"open\"}") {
		t.Fatalf("expected breaker transition metric, got:\n%s", out)
	}
}

func TestRecordLLMExtractMetrics(t *testing.T) {
	RecordLLMExtract("openai", "gpt-test", true)
	RecordLLMExtract("openai", "gpt-test", false)

	out := Export()
	if !strings.Contains(out, "prowler_llm_extract_requests_total{provider=\"openai\",model=\"gpt-test\",success=\"true\"}") {
		t.Fatalf("expected llm extract success metric, got:\n%s", out)
	}
	if !strings.Contains(out, "prowler_llm_extract_requests_total{provider=\"openai\",model=\"gpt-test\",success=\"false\"}") {
		t.Fatalf("expected llm extract failure metric, got:\n%s", out)
	}
}

func TestRecordRetentionJobs(t *testing.T) {
	RecordRetentionJobs(3)
	RecordRetentionJobs(0)

	out := Export()
	if !strings.Contains(out, "prowler_retention_jobs_deleted_total") {
		t.Fatalf("expected retention metric, got:\n%s", out)
	}
}
