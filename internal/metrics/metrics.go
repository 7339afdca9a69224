package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Prometheus-style counters kept in memory and rendered by Export.

var (
	mu             sync.RWMutex
	requestsTotal  = make(map[reqKey]int64)
	latencyMsSum   = make(map[latKey]int64)
	latencyMsCount = make(map[latKey]int64)

	aiCalls      = make(map[aiKey]int64)
	fetches      = make(map[fetchKey]int64)
	degradations = make(map[string]int64)
	quota        = make(map[string]int64)
	bulkJobs     = make(map[string]int64)

	rateLimited          int64
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

type aiKey struct {
	Provider string
	Model    string
	Outcome  string
}

type fetchKey struct {
	Source  string
	Outcome string
}

// RecordRequest increments request counter and records latency.
func RecordRequest(method, path string, status int, latencyMs int64) {
	mu.Lock()
	defer mu.Unlock()

	requestsTotal[reqKey{Method: method, Path: path, Status: status}]++

	lk := latKey{Method: method, Path: path}
	latencyMsSum[lk] += latencyMs
	latencyMsCount[lk]++
}

// RecordAICall counts one model invocation. outcome is success, overloaded
// or error.
func RecordAICall(provider, model, outcome string) {
	mu.Lock()
	defer mu.Unlock()
	aiCalls[aiKey{Provider: provider, Model: model, Outcome: outcome}]++
}

// RecordFetch counts one content fetch by source (html, youtube, instagram).
func RecordFetch(source, outcome string) {
	mu.Lock()
	defer mu.Unlock()
	fetches[fetchKey{Source: source, Outcome: outcome}]++
}

// RecordDegradation counts a clip that fell back to a plain memo.
func RecordDegradation(reason string) {
	mu.Lock()
	defer mu.Unlock()
	degradations[reason]++
}

// RecordQuota counts usage gate decisions (own_key, free_tier, exhausted,
// not_configured).
func RecordQuota(outcome string) {
	mu.Lock()
	defer mu.Unlock()
	quota[outcome]++
}

func RecordRateLimited() {
	mu.Lock()
	defer mu.Unlock()
	rateLimited++
}

// RecordBulkJob counts bulk clip jobs reaching a terminal status.
func RecordBulkJob(status string) {
	mu.Lock()
	defer mu.Unlock()
	bulkJobs[status]++
}

// RecordRetentionJobs increments the counter of bulk jobs deleted by TTL.
func RecordRetentionJobs(deleted int64) {
	if deleted <= 0 {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	retentionJobsDeleted += deleted
}

func header(b *strings.Builder, name, help string) {
	fmt.Fprintf(b, "# HELP %s %s\n", name, help)
	fmt.Fprintf(b, "# TYPE %s counter\n", name)
}

func writeLabelled(b *strings.Builder, name, label string, m map[string]int64) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(b, "%s{%s=\"%s\"} %d\n", name, label, k, m[k])
	}
}

// Export returns Prometheus-style metrics text.
func Export() string {
	mu.RLock()
	defer mu.RUnlock()

	var b strings.Builder

	header(&b, "clipnote_http_requests_total", "Total HTTP requests")
	reqKeys := make([]reqKey, 0, len(requestsTotal))
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
		fmt.Fprintf(&b, "clipnote_http_requests_total{method=\"%s\",path=\"%s\",status=\"%d\"} %d\n",
			k.Method, k.Path, k.Status, requestsTotal[k])
	}

	header(&b, "clipnote_http_request_duration_ms_sum", "Total request duration in milliseconds")
	header(&b, "clipnote_http_request_duration_ms_count", "Request count for latency metric")
	latKeys := make([]latKey, 0, len(latencyMsSum))
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
		fmt.Fprintf(&b, "clipnote_http_request_duration_ms_sum{method=\"%s\",path=\"%s\"} %d\n",
			k.Method, k.Path, latencyMsSum[k])
		fmt.Fprintf(&b, "clipnote_http_request_duration_ms_count{method=\"%s\",path=\"%s\"} %d\n",
			k.Method, k.Path, latencyMsCount[k])
	}

	header(&b, "clipnote_ai_calls_total", "Model invocations by provider, model and outcome")
	aiKeys := make([]aiKey, 0, len(aiCalls))
	for k := range aiCalls {
		aiKeys = append(aiKeys, k)
	}
	sort.Slice(aiKeys, func(i, j int) bool {
		if aiKeys[i].Provider != aiKeys[j].Provider {
			return aiKeys[i].Provider < aiKeys[j].Provider
		}
		if aiKeys[i].Model != aiKeys[j].Model {
			return aiKeys[i].Model < aiKeys[j].Model
		}
		return aiKeys[i].Outcome < aiKeys[j].Outcome
	})
	for _, k := range aiKeys {
		fmt.Fprintf(&b, "clipnote_ai_calls_total{provider=\"%s\",model=\"%s\",outcome=\"%s\"} %d\n",
			k.Provider, k.Model, k.Outcome, aiCalls[k])
	}

	header(&b, "clipnote_fetches_total", "Content fetches by source and outcome")
	fetchKeys := make([]fetchKey, 0, len(fetches))
	for k := range fetches {
		fetchKeys = append(fetchKeys, k)
	}
	sort.Slice(fetchKeys, func(i, j int) bool {
		if fetchKeys[i].Source != fetchKeys[j].Source {
			return fetchKeys[i].Source < fetchKeys[j].Source
		}
		return fetchKeys[i].Outcome < fetchKeys[j].Outcome
	})
	for _, k := range fetchKeys {
		fmt.Fprintf(&b, "clipnote_fetches_total{source=\"%s\",outcome=\"%s\"} %d\n",
			k.Source, k.Outcome, fetches[k])
	}

	header(&b, "clipnote_degradations_total", "Clips returned as plain memos, by reason")
	writeLabelled(&b, "clipnote_degradations_total", "reason", degradations)

	header(&b, "clipnote_usage_decisions_total", "Usage gate decisions by outcome")
	writeLabelled(&b, "clipnote_usage_decisions_total", "outcome", quota)

	header(&b, "clipnote_bulk_jobs_total", "Bulk clip jobs by terminal status")
	writeLabelled(&b, "clipnote_bulk_jobs_total", "status", bulkJobs)

	header(&b, "clipnote_rate_limited_total", "Requests rejected by the IP rate limiter")
	fmt.Fprintf(&b, "clipnote_rate_limited_total %d\n", rateLimited)

	header(&b, "clipnote_retention_jobs_deleted_total", "Bulk jobs deleted by TTL")
	fmt.Fprintf(&b, "clipnote_retention_jobs_deleted_total %d\n", retentionJobsDeleted)

	return b.String()
}
