package deploy_test

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/TencentBlueKing/bkpaas/pkg/domain"
	"github.com/TencentBlueKing/bkpaas/pkg/domain/deploy"
)

// gather returns metric families of reg by name.
func gather(t *testing.T, reg *prometheus.Registry) map[string]*dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	ret := map[string]*dto.MetricFamily{}
	for _, f := range families {
		ret[f.GetName()] = f
	}
	return ret
}

func labelsOf(m *dto.Metric) map[string]string {
	ret := map[string]string{}
	for _, l := range m.GetLabel() {
		ret[l.GetName()] = l.GetValue()
	}
	return ret
}

func TestMetrics_Observe(t *testing.T) {
	reg := prometheus.NewRegistry()
	testee := deploy.NewMetrics(reg)

	begin := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	prepared := begin.Add(30 * time.Second)
	built := prepared.Add(2 * time.Minute)

	d := deployment(domain.PhaseRelease, built)
	d.Phases[0].StartTime, d.Phases[0].CompleteTime = &begin, &prepared
	d.Phases[1].StartTime, d.Phases[1].CompleteTime = &prepared, &built
	d.Phases[2].Status = domain.Failed
	d.Phases[2].CompleteTime = &built
	d.Status = domain.Failed
	d.ErrKind = deploy.KindPollingTimeout

	testee.Observe(d)

	pending := deployment(domain.PhaseBuild, begin)
	testee.Observe(pending)

	families := gather(t, reg)

	finished := families["bkpaas_deployments_finished_total"]
	if finished == nil || len(finished.GetMetric()) != 1 {
		t.Fatalf("bkpaas_deployments_finished_total: actual=%+v", finished)
	}
	m := finished.GetMetric()[0]
	if got := labelsOf(m); got["kind"] != "polling_timeout" || got["status"] != "failed" {
		t.Errorf("labels: actual=%v", got)
	}
	if got := m.GetCounter().GetValue(); got != 1 {
		t.Errorf("counter: actual=%v, expect=%v", got, 1)
	}

	phases := families["bkpaas_deploy_phase_duration_seconds"]
	if phases == nil {
		t.Fatal("bkpaas_deploy_phase_duration_seconds is missing")
	}
	seconds := map[string]float64{}
	for _, m := range phases.GetMetric() {
		l := labelsOf(m)
		seconds[l["phase"]+"/"+l["status"]] = m.GetHistogram().GetSampleSum()
	}
	expect := map[string]float64{
		"preparation/successful": 30,
		"build/successful":       120,
		"release/failed":         0,
	}
	if len(seconds) != len(expect) {
		t.Errorf("observed phases: actual=%v, expect=%v", seconds, expect)
	}
	for k, v := range expect {
		if got, ok := seconds[k]; !ok || got != v {
			t.Errorf("%s: actual=%v, expect=%v", k, got, v)
		}
	}
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var testee *deploy.Metrics
	d := deployment(domain.PhaseRelease, time.Now())
	d.Status = domain.Successful
	testee.Observe(d)
}
