// Package metrics keeps in-memory counters and renders them in the
// Prometheus text format.
package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

type jobKey struct {
	Language string
	Outcome  string
}

type reqKey struct {
	Method string
	Path   string
	Status int
}

type latKey struct {
	Method string
	Path   string
}

// Metrics is safe for concurrent use. The zero value is not usable, use New.
type Metrics struct {
	mu sync.RWMutex

	jobsTotal      map[jobKey]int64
	sandboxMsSum   map[string]int64
	sandboxMsCount map[string]int64
	acksTotal      int64
	ackFailures    int64
	submissions    map[string]int64
	requestsTotal  map[reqKey]int64
	latencyMsSum   map[latKey]int64
	latencyMsCount map[latKey]int64
}

func New() *Metrics {
	return &Metrics{
		jobsTotal:      make(map[jobKey]int64),
		sandboxMsSum:   make(map[string]int64),
		sandboxMsCount: make(map[string]int64),
		submissions:    make(map[string]int64),
		requestsTotal:  make(map[reqKey]int64),
		latencyMsSum:   make(map[latKey]int64),
		latencyMsCount: make(map[latKey]int64),
	}
}

// RecordJob counts a processed job. Outcome is a terminal status or a
// failure class such as "malformed".
func (m *Metrics) RecordJob(language, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobsTotal[jobKey{Language: language, Outcome: outcome}]++
}

// RecordSandbox records one sandbox invocation's wall time.
func (m *Metrics) RecordSandbox(language string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sandboxMsSum[language] += d.Milliseconds()
	m.sandboxMsCount[language]++
}

// RecordAck counts a queue delete attempt.
func (m *Metrics) RecordAck(ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acksTotal++
	if !ok {
		m.ackFailures++
	}
}

// RecordSubmission counts an accepted submission.
func (m *Metrics) RecordSubmission(language string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submissions[language]++
}

// RecordRequest increments request counter and records latency.
func (m *Metrics) RecordRequest(method, path string, status int, latencyMs int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requestsTotal[reqKey{Method: method, Path: path, Status: status}]++

	lk := latKey{Method: method, Path: path}
	m.latencyMsSum[lk] += latencyMs
	m.latencyMsCount[lk]++
}

// JobCount returns the counter for one language and outcome.
func (m *Metrics) JobCount(language, outcome string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.jobsTotal[jobKey{Language: language, Outcome: outcome}]
}

// Acks returns total and failed delete attempts.
func (m *Metrics) Acks() (total, failed int64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.acksTotal, m.ackFailures
}

func header(b *strings.Builder, name, help, typ string) {
	fmt.Fprintf(b, "# HELP %s %s\n", name, help)
	fmt.Fprintf(b, "# TYPE %s %s\n", name, typ)
}

func sortedStrings(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Export returns Prometheus-style metrics text.
func (m *Metrics) Export() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var b strings.Builder

	header(&b, "crucible_jobs_total", "Jobs processed by language and outcome", "counter")
	jobKeys := make([]jobKey, 0, len(m.jobsTotal))
	for k := range m.jobsTotal {
		jobKeys = append(jobKeys, k)
	}
	sort.Slice(jobKeys, func(i, j int) bool {
		if jobKeys[i].Language != jobKeys[j].Language {
			return jobKeys[i].Language < jobKeys[j].Language
		}
		return jobKeys[i].Outcome < jobKeys[j].Outcome
	})
	for _, k := range jobKeys {
		fmt.Fprintf(&b, "crucible_jobs_total{language=%q,outcome=%q} %d\n", k.Language, k.Outcome, m.jobsTotal[k])
	}

	header(&b, "crucible_sandbox_duration_ms_sum", "Total sandbox wall time in milliseconds", "counter")
	header(&b, "crucible_sandbox_duration_ms_count", "Sandbox invocations", "counter")
	for _, lang := range sortedStrings(m.sandboxMsSum) {
		fmt.Fprintf(&b, "crucible_sandbox_duration_ms_sum{language=%q} %d\n", lang, m.sandboxMsSum[lang])
		fmt.Fprintf(&b, "crucible_sandbox_duration_ms_count{language=%q} %d\n", lang, m.sandboxMsCount[lang])
	}

	header(&b, "crucible_queue_acks_total", "Queue delete attempts", "counter")
	fmt.Fprintf(&b, "crucible_queue_acks_total %d\n", m.acksTotal)
	header(&b, "crucible_queue_ack_failures_total", "Queue delete attempts that failed", "counter")
	fmt.Fprintf(&b, "crucible_queue_ack_failures_total %d\n", m.ackFailures)

	header(&b, "crucible_submissions_total", "Accepted submissions by language", "counter")
	for _, lang := range sortedStrings(m.submissions) {
		fmt.Fprintf(&b, "crucible_submissions_total{language=%q} %d\n", lang, m.submissions[lang])
	}

	header(&b, "crucible_http_requests_total", "Total HTTP requests", "counter")
	reqKeys := make([]reqKey, 0, len(m.requestsTotal))
	for k := range m.requestsTotal {
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
		fmt.Fprintf(&b, "crucible_http_requests_total{method=%q,path=%q,status=\"%d\"} %d\n",
			k.Method, k.Path, k.Status, m.requestsTotal[k])
	}

	header(&b, "crucible_http_request_duration_ms_sum", "Total request duration in milliseconds", "counter")
	header(&b, "crucible_http_request_duration_ms_count", "Request count for latency metric", "counter")
	latKeys := make([]latKey, 0, len(m.latencyMsSum))
	for k := range m.latencyMsSum {
		latKeys = append(latKeys, k)
	}
	sort.Slice(latKeys, func(i, j int) bool {
		if latKeys[i].Method != latKeys[j].Method {
			return latKeys[i].Method < latKeys[j].Method
		}
		return latKeys[i].Path < latKeys[j].Path
	})
	for _, k := range latKeys {
		fmt.Fprintf(&b, "crucible_http_request_duration_ms_sum{method=%q,path=%q} %d\n", k.Method, k.Path, m.latencyMsSum[k])
		fmt.Fprintf(&b, "crucible_http_request_duration_ms_count{method=%q,path=%q} %d\n", k.Method, k.Path, m.latencyMsCount[k])
	}

	return b.String()
}
