// Copyright 2025 Certen Protocol

package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRegistry_ObserveAndScrape(t *testing.T) {
	r := New()
	r.ObserveBlockSealed()
	r.ObserveViolation("TIMEOUT_STALL")
	r.ObservePhaseTransition("COMMITTED", "ACTIVE")
	r.ObserveMonitorTick()
	r.ObserveAppendLatencySeconds(0.01)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	for _, want := range []string{
		"zt_blocks_sealed_total 1",
		`zt_violations_total{kind="TIMEOUT_STALL"} 1`,
		`zt_phase_transitions_total{from="COMMITTED",to="ACTIVE"} 1`,
		"zt_monitor_ticks_total 1",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected scrape output to contain %q, got:\n%s", want, body)
		}
	}
}

func TestRegistry_NilSafe(t *testing.T) {
	var r *Registry
	r.ObserveBlockSealed()
	r.ObserveViolation("DOUBLE_MOVE")
	r.ObservePhaseTransition("INIT", "COMMITTED")
	r.ObserveMonitorTick()
	r.ObserveAppendLatencySeconds(1.0)
}
