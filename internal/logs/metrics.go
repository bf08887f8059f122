package logs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Fetch channels reported on the fetch error counter.
const (
	channelSeed = "seed"
	channelPoll = "poll"
	channelPush = "push"
)

// Metrics records stream controller activity. A nil *Metrics records nothing.
type Metrics struct {
	EntriesAppended   prometheus.Counter
	DuplicatesDropped prometheus.Counter
	StaleDiscarded    prometheus.Counter
	FetchErrors       *prometheus.CounterVec
	MappingErrors     prometheus.Counter
	ActiveSessions    prometheus.Gauge
	NarratedEntries   prometheus.Counter
}

// NewMetrics registers the controller metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		EntriesAppended: factory.NewCounter(prometheus.CounterOpts{
			Name: "deploylogs_entries_appended_total",
			Help: "Total number of log entries added to held sequences",
		}),
		DuplicatesDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "deploylogs_duplicates_dropped_total",
			Help: "Total number of entries ignored because their id was already held",
		}),
		StaleDiscarded: factory.NewCounter(prometheus.CounterOpts{
			Name: "deploylogs_stale_results_discarded_total",
			Help: "Total number of fetch results discarded after the session changed",
		}),
		FetchErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "deploylogs_fetch_errors_total",
			Help: "Total number of failed fetches by delivery channel",
		}, []string{"channel"}),
		MappingErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "deploylogs_mapping_errors_total",
			Help: "Total number of malformed rows skipped",
		}),
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "deploylogs_active_sessions",
			Help: "Number of stream sessions currently open",
		}),
		NarratedEntries: factory.NewCounter(prometheus.CounterOpts{
			Name: "deploylogs_narrated_entries_total",
			Help: "Total number of synthetic entries inserted by the narrator",
		}),
	}
}

func (m *Metrics) appended(n int) {
	if m != nil && n > 0 {
		m.EntriesAppended.Add(float64(n))
	}
}

func (m *Metrics) duplicate() {
	if m != nil {
		m.DuplicatesDropped.Inc()
	}
}

func (m *Metrics) stale() {
	if m != nil {
		m.StaleDiscarded.Inc()
	}
}

func (m *Metrics) fetchError(channel string) {
	if m != nil {
		m.FetchErrors.WithLabelValues(channel).Inc()
	}
}

func (m *Metrics) mappingError() {
	if m != nil {
		m.MappingErrors.Inc()
	}
}

func (m *Metrics) sessionOpened() {
	if m != nil {
		m.ActiveSessions.Inc()
	}
}

func (m *Metrics) sessionClosed() {
	if m != nil {
		m.ActiveSessions.Dec()
	}
}

func (m *Metrics) narrated() {
	if m != nil {
		m.NarratedEntries.Inc()
	}
}
