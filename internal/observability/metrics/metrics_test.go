package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if labelsMatch(m, labels) {
				if m.GetCounter() != nil {
					return m.GetCounter().GetValue()
				}
				return m.GetGauge().GetValue()
			}
		}
	}
	return 0
}

func labelsMatch(m *dto.Metric, want map[string]string) bool {
	got := map[string]string{}
	for _, lp := range m.GetLabel() {
		got[lp.GetName()] = lp.GetValue()
	}
	for k, v := range want {
		if got[k] != v {
			return false
		}
	}
	return true
}

func TestSchedulerMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewSchedulerMetrics(reg)
	m.ObserveSlotSearch("empty")
	m.ObserveSlotSearch("empty")
	m.ObserveValidation("rejected")
	m.ObserveSubmission("ok")
	m.ObserveBackend("slots", "ok", 0.2)
	m.ObserveCalendarRefresh("error")
	m.SetActiveWizards(4)
	m.AddStreamClients(2)
	m.AddStreamClients(-1)

	if got := counterValue(t, reg, "or_scheduler_availability_searches_total", map[string]string{"outcome": "empty"}); got != 2 {
		t.Fatalf("expected 2 empty searches, got %v", got)
	}
	if got := counterValue(t, reg, "or_scheduler_wizard_validations_total", map[string]string{"result": "rejected"}); got != 1 {
		t.Fatalf("expected 1 rejected validation, got %v", got)
	}
	if got := counterValue(t, reg, "or_scheduler_wizard_active_sessions", nil); got != 4 {
		t.Fatalf("expected 4 active wizards, got %v", got)
	}
	if got := counterValue(t, reg, "or_scheduler_calendar_stream_clients", nil); got != 1 {
		t.Fatalf("expected 1 stream client, got %v", got)
	}
}

func TestSchedulerMetricsNilSafe(t *testing.T) {
	var m *SchedulerMetrics
	m.ObserveBackend("slots", "ok", 0.1)
	m.ObserveSlotSearch("ok")
	m.ObserveValidation("ok")
	m.ObserveSubmission("error")
	m.ObserveCalendarRefresh("ok")
	m.SetActiveWizards(1)
	m.AddStreamClients(1)
}
