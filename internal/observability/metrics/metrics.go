package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "or_scheduler"

// SchedulerMetrics exposes counters/histograms for the booking workflow.
type SchedulerMetrics struct {
	backendRequests *prometheus.CounterVec
	backendLatency  *prometheus.HistogramVec
	slotSearches    *prometheus.CounterVec
	validations     *prometheus.CounterVec
	submissions     *prometheus.CounterVec
	calendarRefresh *prometheus.CounterVec
	activeWizards   prometheus.Gauge
	streamClients   prometheus.Gauge
}

func NewSchedulerMetrics(reg prometheus.Registerer) *SchedulerMetrics {
	m := &SchedulerMetrics{
		backendRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "requests_total",
			Help:      "Calls to the hospital scheduling backend",
		}, []string{"operation", "outcome"}),
		backendLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "request_duration_seconds",
			Help:      "Latency of hospital backend calls including retries",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		slotSearches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "availability",
			Name:      "searches_total",
			Help:      "Availability searches by outcome (ok, empty, error)",
		}, []string{"outcome"}),
		validations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "wizard",
			Name:      "validations_total",
			Help:      "Draft validations by result (ok, rejected, error)",
		}, []string{"result"}),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "wizard",
			Name:      "submissions_total",
			Help:      "Draft submissions by result (ok, duplicate, in_flight, error)",
		}, []string{"result"}),
		calendarRefresh: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "calendar",
			Name:      "refresh_total",
			Help:      "Calendar refreshes by outcome",
		}, []string{"outcome"}),
		activeWizards: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "wizard",
			Name:      "active_sessions",
			Help:      "Open wizard sessions held in memory",
		}),
		streamClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "calendar",
			Name:      "stream_clients",
			Help:      "Connected calendar stream subscribers",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.backendRequests, m.backendLatency, m.slotSearches, m.validations,
		m.submissions, m.calendarRefresh, m.activeWizards, m.streamClients)
	return m
}

func (m *SchedulerMetrics) ObserveBackend(operation, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.backendRequests.WithLabelValues(operation, outcome).Inc()
	m.backendLatency.WithLabelValues(operation).Observe(seconds)
}

func (m *SchedulerMetrics) ObserveSlotSearch(outcome string) {
	if m == nil {
		return
	}
	m.slotSearches.WithLabelValues(outcome).Inc()
}

func (m *SchedulerMetrics) ObserveValidation(result string) {
	if m == nil {
		return
	}
	m.validations.WithLabelValues(result).Inc()
}

func (m *SchedulerMetrics) ObserveSubmission(result string) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(result).Inc()
}

func (m *SchedulerMetrics) ObserveCalendarRefresh(outcome string) {
	if m == nil {
		return
	}
	m.calendarRefresh.WithLabelValues(outcome).Inc()
}

func (m *SchedulerMetrics) SetActiveWizards(n int) {
	if m == nil {
		return
	}
	m.activeWizards.Set(float64(n))
}

func (m *SchedulerMetrics) AddStreamClients(delta int) {
	if m == nil {
		return
	}
	m.streamClients.Add(float64(delta))
}
