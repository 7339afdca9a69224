package metrics

import (
	"strings"
	"testing"
)

func TestRecordRequestAndExport(t *testing.T) {
	RecordRequest("POST", "/v1/clip/url", 200, 42)

	out := Export()
	if !strings.Contains(out, "clipnote_http_requests_total{method=\"POST\",path=\"/v1/clip/url\",status=\"200\"}") {
		t.Fatalf("expected HTTP request metric for POST /v1/clip/url in export, got:\n%s", out)
	}
	if !strings.Contains(out, "clipnote_http_request_duration_ms_sum") || !strings.Contains(out, "clipnote_http_request_duration_ms_count") {
		t.Fatalf("expected latency metrics headers in export, got:\n%s", out)
	}
}

func TestRecordPipelineMetrics(t *testing.T) {
	RecordAICall("gemini", "gemini-2.5-flash", "overloaded")
	RecordAICall("gemini", "gemini-2.0-flash", "success")
	RecordFetch("youtube", "empty")
	RecordDegradation("interstitial")
	RecordQuota("exhausted")
	RecordBulkJob("completed")
	RecordRateLimited()

	out := Export()
	for _, want := range []string{
		"clipnote_ai_calls_total{provider=\"gemini\",model=\"gemini-2.5-flash\",outcome=\"overloaded\"} ",
		"clipnote_ai_calls_total{provider=\"gemini\",model=\"gemini-2.0-flash\",outcome=\"success\"} ",
		"clipnote_fetches_total{source=\"youtube\",outcome=\"empty\"} ",
		"clipnote_degradations_total{reason=\"interstitial\"} ",
		"clipnote_usage_decisions_total{outcome=\"exhausted\"} ",
		"clipnote_bulk_jobs_total{status=\"completed\"} ",
		"clipnote_rate_limited_total ",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in export, got:\n%s", want, out)
		}
	}
}

func TestRecordRetentionIgnoresZero(t *testing.T) {
	before := Export()
	RecordRetentionJobs(0)
	if Export() != before {
		t.Fatalf("expected zero deletions to leave export unchanged")
	}
	RecordRetentionJobs(3)
	if !strings.Contains(Export(), "clipnote_retention_jobs_deleted_total ") {
		t.Fatalf("expected retention metric in export")
	}
}
