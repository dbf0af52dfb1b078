// Package metrics exports frame exchange state to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/zsiec/framexchange/internal/exchange"
	"github.com/zsiec/framexchange/internal/notify"
)

const namespace = "framexchange"

// Metrics holds the counters updated by frame consumers.
type Metrics struct {
	FramesConsumed *prometheus.CounterVec
	BytesConsumed  *prometheus.CounterVec
	FramesLogged   prometheus.Counter
}

// New creates the consumer metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		FramesConsumed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "consumer_frames_total",
			Help:      "Frames popped by in-process consumers",
		}, []string{"key", "kind"}),
		BytesConsumed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "consumer_bytes_total",
			Help:      "Payload bytes popped by in-process consumers",
		}, []string{"key"}),
		FramesLogged: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "framelog_frames_total",
			Help:      "Frames written to the capture log",
		}),
	}
}

// StatsSource is the registry view the collector reads.
type StatsSource interface {
	Stats() []exchange.BufferStats
}

// NotifySource is the bridge view the collector reads.
type NotifySource interface {
	Stats() notify.Stats
}

// Collector reads buffer and notification snapshots at scrape time, so
// freed buffers disappear from the output without bookkeeping.
type Collector struct {
	buffers StatsSource
	bridge  NotifySource

	live          *prometheus.Desc
	capacity      *prometheus.Desc
	slotBytes     *prometheus.Desc
	pushed        *prometheus.Desc
	popped        *prometheus.Desc
	oversize      *prometheus.Desc
	producerWaits *prometheus.Desc
	consumerWaits *prometheus.Desc
	lastTimestamp *prometheus.Desc

	notifyPosted  *prometheus.Desc
	notifySkipped *prometheus.Desc
	notifyFailed  *prometheus.Desc
	notifyTargets *prometheus.Desc
}

// NewCollector returns a collector over buffers and bridge. bridge may be nil.
func NewCollector(buffers StatsSource, bridge NotifySource) *Collector {
	key := []string{"key"}
	desc := func(name, help string, labels []string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, nil)
	}
	return &Collector{
		buffers: buffers,
		bridge:  bridge,

		live:          desc("buffer_live_frames", "Frames written and not yet popped", key),
		capacity:      desc("buffer_capacity_slots", "Slots allocated for the buffer", key),
		slotBytes:     desc("buffer_slot_payload_bytes", "Payload capacity of each slot", key),
		pushed:        desc("buffer_pushed_frames_total", "Successful pushes", key),
		popped:        desc("buffer_popped_frames_total", "Successful pops", key),
		oversize:      desc("buffer_oversize_rejects_total", "Pushes rejected for exceeding the slot size", key),
		producerWaits: desc("buffer_producer_waits_total", "Pushes that blocked on a full buffer", key),
		consumerWaits: desc("buffer_consumer_waits_total", "Pops that blocked on an empty buffer", key),
		lastTimestamp: desc("buffer_last_timestamp_microseconds", "Timestamp of the most recent push", key),

		notifyPosted:  desc("notify_posted_total", "Frame-ready notifications delivered", nil),
		notifySkipped: desc("notify_skipped_total", "Notifications skipped for a missing transport or target", nil),
		notifyFailed:  desc("notify_failed_total", "Notifications the transport rejected", nil),
		notifyTargets: desc("notify_targets", "Registered notification targets", nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.live, c.capacity, c.slotBytes, c.pushed, c.popped, c.oversize,
		c.producerWaits, c.consumerWaits, c.lastTimestamp,
		c.notifyPosted, c.notifySkipped, c.notifyFailed, c.notifyTargets,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	gauge, counter := prometheus.GaugeValue, prometheus.CounterValue
	for _, s := range c.buffers.Stats() {
		ch <- prometheus.MustNewConstMetric(c.live, gauge, float64(s.Live), s.Key)
		ch <- prometheus.MustNewConstMetric(c.capacity, gauge, float64(s.Capacity), s.Key)
		ch <- prometheus.MustNewConstMetric(c.slotBytes, gauge, float64(s.MaxFrameSize), s.Key)
		ch <- prometheus.MustNewConstMetric(c.pushed, counter, float64(s.Pushed), s.Key)
		ch <- prometheus.MustNewConstMetric(c.popped, counter, float64(s.Popped), s.Key)
		ch <- prometheus.MustNewConstMetric(c.oversize, counter, float64(s.Oversize), s.Key)
		ch <- prometheus.MustNewConstMetric(c.producerWaits, counter, float64(s.ProducerWaits), s.Key)
		ch <- prometheus.MustNewConstMetric(c.consumerWaits, counter, float64(s.ConsumerWaits), s.Key)
		ch <- prometheus.MustNewConstMetric(c.lastTimestamp, gauge, float64(s.LastTimestamp), s.Key)
	}

	if c.bridge == nil {
		return
	}
	n := c.bridge.Stats()
	ch <- prometheus.MustNewConstMetric(c.notifyPosted, counter, float64(n.Posted))
	ch <- prometheus.MustNewConstMetric(c.notifySkipped, counter, float64(n.Skipped))
	ch <- prometheus.MustNewConstMetric(c.notifyFailed, counter, float64(n.Failed))
	ch <- prometheus.MustNewConstMetric(c.notifyTargets, gauge, float64(n.Targets))
}
