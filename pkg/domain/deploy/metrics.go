package deploy

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/TencentBlueKing/bkpaas/pkg/domain"
)

// Metrics counts finished deployments and observes how long their phases took.
type Metrics struct {
	finished *prometheus.CounterVec
	phases   *prometheus.HistogramVec
}

// NewMetrics registers metrics to reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		finished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bkpaas",
			Name:      "deployments_finished_total",
			Help:      "Number of deployments finished, by failure kind and status",
		}, []string{"kind", "status"}),
		phases: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "bkpaas",
			Name:      "deploy_phase_duration_seconds",
			Help:      "Wall clock time of deploy phases, from the first pick to the end",
			Buckets:   prometheus.ExponentialBuckets(5, 2, 10),
		}, []string{"phase", "status"}),
	}
}

// Observe records a finished deployment. Deployments not finished yet are ignored.
func (m *Metrics) Observe(d domain.Deployment) {
	if m == nil || !d.Status.Terminal() {
		return
	}
	kind := d.ErrKind
	if kind == "" {
		kind = "none"
	}
	m.finished.WithLabelValues(kind, d.Status.String()).Inc()

	for _, p := range d.Phases {
		if !p.Status.Terminal() || p.StartTime == nil || p.CompleteTime == nil {
			continue
		}
		m.phases.WithLabelValues(p.Type.String(), p.Status.String()).
			Observe(p.CompleteTime.Sub(*p.StartTime).Seconds())
	}
}
