package metrics

import "github.com/prometheus/client_golang/prometheus"

// OutreachMetrics exposes counters/histograms for outreach runs, inbound
// conversations and disposition fan-out.
type OutreachMetrics struct {
	touchesTotal       *prometheus.CounterVec
	quotaDenialsTotal  *prometheus.CounterVec
	inboundTotal       *prometheus.CounterVec
	siblingUpdates     *prometheus.CounterVec
	runDuration        *prometheus.HistogramVec
	generationDuration *prometheus.HistogramVec
}

func NewOutreachMetrics(reg prometheus.Registerer) *OutreachMetrics {
	m := &OutreachMetrics{
		touchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "propreach",
			Subsystem: "outreach",
			Name:      "touches_total",
			Help:      "Outreach touches by channel and result",
		}, []string{"channel", "result"}),
		quotaDenialsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "propreach",
			Subsystem: "outreach",
			Name:      "quota_denials_total",
			Help:      "Rate limiter denials by kind",
		}, []string{"kind"}),
		inboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "propreach",
			Subsystem: "conversation",
			Name:      "inbound_total",
			Help:      "Inbound messages by result",
		}, []string{"result"}),
		siblingUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "propreach",
			Subsystem: "disposition",
			Name:      "sibling_updates_total",
			Help:      "Sibling contact updates by outcome and status",
		}, []string{"outcome", "status"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "propreach",
			Subsystem: "outreach",
			Name:      "run_duration_seconds",
			Help:      "Duration of scheduled outreach runs",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 900},
		}, []string{"channel"}),
		generationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "propreach",
			Subsystem: "conversation",
			Name:      "generation_duration_seconds",
			Help:      "Latency of AI reply generation",
			Buckets:   prometheus.DefBuckets,
		}, []string{"state"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.touchesTotal, m.quotaDenialsTotal, m.inboundTotal, m.siblingUpdates, m.runDuration, m.generationDuration)
	return m
}

func (m *OutreachMetrics) ObserveTouch(channel, result string) {
	if m == nil {
		return
	}
	m.touchesTotal.WithLabelValues(channel, result).Inc()
}

func (m *OutreachMetrics) ObserveQuotaDenial(kind string) {
	if m == nil {
		return
	}
	m.quotaDenialsTotal.WithLabelValues(kind).Inc()
}

func (m *OutreachMetrics) ObserveInbound(result string) {
	if m == nil {
		return
	}
	m.inboundTotal.WithLabelValues(result).Inc()
}

func (m *OutreachMetrics) ObserveSiblingUpdate(outcome string, ok bool) {
	if m == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "error"
	}
	m.siblingUpdates.WithLabelValues(outcome, status).Inc()
}

func (m *OutreachMetrics) ObserveRun(channel string, seconds float64) {
	if m == nil {
		return
	}
	m.runDuration.WithLabelValues(channel).Observe(seconds)
}

func (m *OutreachMetrics) ObserveGeneration(state string, seconds float64) {
	if m == nil {
		return
	}
	m.generationDuration.WithLabelValues(state).Observe(seconds)
}
