package api

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/psaab/nicqos/pkg/classify"
	"github.com/psaab/nicqos/pkg/profile"
	"github.com/psaab/nicqos/pkg/stats"
)

// nicqosCollector implements prometheus.Collector, reading the adapter
// statistics on each scrape.
type nicqosCollector struct {
	srv *Server

	// Packet counters
	packetsTotal      *prometheus.Desc
	bytesTotal        *prometheus.Desc
	highPriorityTotal *prometheus.Desc
	lowLatencyTotal   *prometheus.Desc
	classPackets      *prometheus.Desc
	prioritySent      *prometheus.Desc

	// Sampled gauges
	latencyMs     *prometheus.Desc
	bandwidthKbps *prometheus.Desc

	// Profile state
	profileGeneration *prometheus.Desc
	featureEnabled    *prometheus.Desc
	needsRestart      *prometheus.Desc
	restartsTotal     *prometheus.Desc
	registerDrops     *prometheus.Desc
}

func newCollector(srv *Server) *nicqosCollector {
	return &nicqosCollector{
		srv: srv,

		packetsTotal: prometheus.NewDesc(
			"nicqos_packets_total",
			"Total packets serviced.",
			[]string{"direction"}, nil,
		),
		bytesTotal: prometheus.NewDesc(
			"nicqos_bytes_total",
			"Total bytes serviced.",
			[]string{"direction"}, nil,
		),
		highPriorityTotal: prometheus.NewDesc(
			"nicqos_high_priority_packets_total",
			"Packets assigned the high or highest priority level. Always 0 for rx, which is accounted per class only.",
			[]string{"direction"}, nil,
		),
		lowLatencyTotal: prometheus.NewDesc(
			"nicqos_low_latency_packets_total",
			"Packets handled under latency reduction.",
			[]string{"direction"}, nil,
		),
		classPackets: prometheus.NewDesc(
			"nicqos_class_packets_total",
			"Classified packets per traffic class.",
			[]string{"class"}, nil,
		),
		prioritySent: prometheus.NewDesc(
			"nicqos_priority_packets_sent_total",
			"Transmitted packets per priority level.",
			[]string{"priority"}, nil,
		),
		latencyMs: prometheus.NewDesc(
			"nicqos_latency_milliseconds",
			"Probe round trip time.",
			[]string{"stat"}, nil,
		),
		bandwidthKbps: prometheus.NewDesc(
			"nicqos_bandwidth_kbps",
			"Sampled link throughput in kilobits per second.",
			[]string{"stat"}, nil,
		),
		profileGeneration: prometheus.NewDesc(
			"nicqos_profile_generation",
			"Generation of the published fast-path flags.",
			[]string{"profile"}, nil,
		),
		featureEnabled: prometheus.NewDesc(
			"nicqos_feature_enabled",
			"Whether a profile feature is enabled (1) or not (0).",
			[]string{"feature"}, nil,
		),
		needsRestart: prometheus.NewDesc(
			"nicqos_needs_restart",
			"1 when staged descriptor counts wait for an adapter restart.",
			nil, nil,
		),
		restartsTotal: prometheus.NewDesc(
			"nicqos_restarts_total",
			"Adapter restarts since start.",
			nil, nil,
		),
		registerDrops: prometheus.NewDesc(
			"nicqos_register_access_dropped_total",
			"Out-of-range register accesses that were ignored.",
			nil, nil,
		),
	}
}

func (c *nicqosCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.packetsTotal
	ch <- c.bytesTotal
	ch <- c.highPriorityTotal
	ch <- c.lowLatencyTotal
	ch <- c.classPackets
	ch <- c.prioritySent
	ch <- c.latencyMs
	ch <- c.bandwidthKbps
	ch <- c.profileGeneration
	ch <- c.featureEnabled
	ch <- c.needsRestart
	ch <- c.restartsTotal
	ch <- c.registerDrops
}

func (c *nicqosCollector) Collect(ch chan<- prometheus.Metric) {
	a := c.srv.adapter
	if a == nil {
		return
	}
	c.collectCounters(ch, a.PerformanceStats())
	c.collectProfile(ch, a.ActiveProfile())

	st := a.Status()
	ch <- prometheus.MustNewConstMetric(c.needsRestart, prometheus.GaugeValue, boolValue(st.NeedsRestart))
	ch <- prometheus.MustNewConstMetric(c.restartsTotal, prometheus.CounterValue, float64(st.Restarts))
	ch <- prometheus.MustNewConstMetric(c.profileGeneration, prometheus.GaugeValue, float64(st.Generation), st.Profile)
	ch <- prometheus.MustNewConstMetric(c.registerDrops, prometheus.CounterValue, float64(a.RegisterDrops()))
}

func (c *nicqosCollector) collectCounters(ch chan<- prometheus.Metric, s stats.Snapshot) {
	counter := func(d *prometheus.Desc, v uint64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
	}
	counter(c.packetsTotal, s.TotalPacketsSent, "tx")
	counter(c.packetsTotal, s.TotalPacketsReceived, "rx")
	counter(c.bytesTotal, s.BytesSent, "tx")
	counter(c.bytesTotal, s.BytesReceived, "rx")
	counter(c.highPriorityTotal, s.HighPriorityPacketsSent, "tx")
	counter(c.highPriorityTotal, s.HighPriorityPacketsReceived, "rx")
	counter(c.lowLatencyTotal, s.LowLatencyPacketsSent, "tx")
	counter(c.lowLatencyTotal, s.LowLatencyPacketsReceived, "rx")

	for _, cls := range classify.Classes() {
		counter(c.classPackets, s.ClassPackets[cls], cls.String())
	}
	for p := classify.PriorityLowest; p < classify.NumPriorities; p++ {
		counter(c.prioritySent, s.PrioritySent[p], p.String())
	}

	gauge := func(d *prometheus.Desc, g stats.Gauge) {
		if g.Samples == 0 {
			return
		}
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, g.Current, "current")
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, g.Average, "average")
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, g.Peak, "peak")
	}
	gauge(c.latencyMs, s.LatencyMs)
	gauge(c.bandwidthKbps, s.BandwidthKbps)
}

func (c *nicqosCollector) collectProfile(ch chan<- prometheus.Metric, p profile.GamingProfile) {
	for _, f := range profile.Features() {
		ch <- prometheus.MustNewConstMetric(c.featureEnabled, prometheus.GaugeValue,
			boolValue(p.Enabled(f)), f.String())
	}
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
