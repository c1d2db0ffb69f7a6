package metrics

import (
	"strings"
	"testing"
	"time"
)

func TestExport(t *testing.T) {
	m := New()
	m.RecordJob("python", "completed")
	m.RecordJob("python", "completed")
	m.RecordJob("java", "error")
	m.RecordSandbox("python", 1500*time.Millisecond)
	m.RecordAck(true)
	m.RecordAck(false)
	m.RecordSubmission("python")
	m.RecordRequest("GET", "/api/submissions/{id}", 200, 12)

	out := m.Export()
	for _, want := range []string{
		`crucible_jobs_total{language="python",outcome="completed"} 2`,
		`crucible_jobs_total{language="java",outcome="error"} 1`,
		`crucible_sandbox_duration_ms_sum{language="python"} 1500`,
		`crucible_sandbox_duration_ms_count{language="python"} 1`,
		`crucible_queue_acks_total 2`,
		`crucible_queue_ack_failures_total 1`,
		`crucible_submissions_total{language="python"} 1`,
		`crucible_http_requests_total{method="GET",path="/api/submissions/{id}",status="200"} 1`,
		`crucible_http_request_duration_ms_sum{method="GET",path="/api/submissions/{id}"} 12`,
		"# TYPE crucible_jobs_total counter",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("export missing %q\n%s", want, out)
		}
	}

	// java sorts before python
	if strings.Index(out, `language="java",outcome`) > strings.Index(out, `language="python",outcome`) {
		t.Error("job series should be sorted by language")
	}
}

func TestCounters(t *testing.T) {
	m := New()
	m.RecordJob("javascript", "malformed")
	if got := m.JobCount("javascript", "malformed"); got != 1 {
		t.Errorf("JobCount = %d", got)
	}
	m.RecordAck(false)
	if total, failed := m.Acks(); total != 1 || failed != 1 {
		t.Errorf("Acks = %d, %d", total, failed)
	}
}
