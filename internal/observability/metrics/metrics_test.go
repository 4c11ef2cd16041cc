package metrics

import (
	"strings"
	"testing"
)

func TestObserveCreditEntryExposesBalance(t *testing.T) {
	r := New()
	r.ObserveCreditEntry("debit", "user-1", 42)

	body := scrape(t, r)
	if !strings.Contains(body, `pulsebench_credit_ledger_entries_total{entry_type="debit"} 1`) {
		t.Fatalf("expected credit entry counter in output:\n%s", body)
	}
	if !strings.Contains(body, `pulsebench_credit_balance{user_id="user-1"} 42`) {
		t.Fatalf("expected credit balance gauge in output:\n%s", body)
	}
}

func TestJobLifecycleCounters(t *testing.T) {
	r := New()
	r.JobStarted("audit")
	r.JobCompleted("audit", 1.5)

	body := scrape(t, r)
	if !strings.Contains(body, `pulsebench_jobs_started_total{kind="audit"} 1`) {
		t.Fatalf("expected jobs_started counter:\n%s", body)
	}
	if !strings.Contains(body, `pulsebench_jobs_completed_total{kind="audit"} 1`) {
		t.Fatalf("expected jobs_completed counter:\n%s", body)
	}
	if !strings.Contains(body, `pulsebench_jobs_active{kind="audit"} 0`) {
		t.Fatalf("expected jobs_active gauge to return to 0:\n%s", body)
	}
}

func TestJobFailedDecrementsActiveGauge(t *testing.T) {
	r := New()
	r.JobStarted("media_download")
	r.JobFailed("media_download", "timeout")

	body := scrape(t, r)
	if !strings.Contains(body, `pulsebench_jobs_failed_total{kind="media_download",reason="timeout"} 1`) {
		t.Fatalf("expected jobs_failed counter:\n%s", body)
	}
	if !strings.Contains(body, `pulsebench_jobs_active{kind="media_download"} 0`) {
		t.Fatalf("expected active gauge back to 0 after failure:\n%s", body)
	}
}

func TestObserveExternalCallTracksFallbacks(t *testing.T) {
	r := New()
	r.ObserveExternalCall("llm", "fallback")
	r.ObserveExternalCall("llm", "ok")

	body := scrape(t, r)
	if !strings.Contains(body, `pulsebench_external_fallbacks_total{client="llm"} 1`) {
		t.Fatalf("expected exactly one fallback recorded:\n%s", body)
	}
	if !strings.Contains(body, `pulsebench_external_calls_total{client="llm",outcome="ok"} 1`) {
		t.Fatalf("expected ok outcome recorded:\n%s", body)
	}
}

func TestInsufficientCreditsCounter(t *testing.T) {
	r := New()
	r.ObserveInsufficientCredits("optimizer_variants")

	body := scrape(t, r)
	if !strings.Contains(body, `pulsebench_insufficient_credits_total{action="optimizer_variants"} 1`) {
		t.Fatalf("expected insufficient credits counter:\n%s", body)
	}
}
