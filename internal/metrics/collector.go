package metrics

import "github.com/prometheus/client_golang/prometheus"

// SessionCollector reports the number of sessions in each connection state,
// read at scrape time.
type SessionCollector struct {
	count func() map[string]int
	desc  *prometheus.Desc
}

var _ prometheus.Collector = (*SessionCollector)(nil)

func NewSessionCollector(count func() map[string]int) *SessionCollector {
	return &SessionCollector{
		count: count,
		desc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "session", "count"),
			"Sessions held by the registry, by connection state.",
			[]string{"state"}, nil,
		),
	}
}

func (c *SessionCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

func (c *SessionCollector) Collect(ch chan<- prometheus.Metric) {
	for state, n := range c.count() {
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(n), state)
	}
}
