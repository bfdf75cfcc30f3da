// Package metrics exposes internal/stats' allocator-wide counters as a
// Prometheus collector. Registration is opt-in: nothing in this package
// touches the default registry, so embedding ckgo never has global
// side effects on a process' metrics namespace.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nmxmxh/ckgo/internal/stats"
)

const namespace = "ckgo"

var sizeClassLabels = [9]string{"8", "16", "32", "48", "64", "80", "96", "112", "128"}

// Collector adapts a *stats.Counters into a prometheus.Collector. It holds
// no state of its own: every Collect call reads the atomics directly, so
// scraping never takes the allocator's lock.
type Collector struct {
	counters *stats.Counters

	bytesAllocated *prometheus.Desc
	bytesFreed     *prometheus.Desc
	liveBytes      *prometheus.Desc
	smallAllocs    *prometheus.Desc
	smallFrees     *prometheus.Desc
	largeAllocs    *prometheus.Desc
	largeFrees     *prometheus.Desc
	liveSlabs      *prometheus.Desc
	sliceLive      *prometheus.Desc
}

// NewCollector wraps counters for registration with a prometheus.Registerer.
func NewCollector(counters *stats.Counters) *Collector {
	return &Collector{
		counters: counters,
		bytesAllocated: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "bytes_allocated_total"),
			"Cumulative bytes handed out by malloc/calloc/realloc/aligned_alloc.",
			nil, nil,
		),
		bytesFreed: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "bytes_freed_total"),
			"Cumulative bytes returned via free/realloc.",
			nil, nil,
		),
		liveBytes: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "live_bytes"),
			"Bytes allocated minus bytes freed.",
			nil, nil,
		),
		smallAllocs: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "small_allocs_total"),
			"Allocations serviced by the small-slice allocator.",
			nil, nil,
		),
		smallFrees: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "small_frees_total"),
			"Frees serviced by the small-slice allocator.",
			nil, nil,
		),
		largeAllocs: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "large_allocs_total"),
			"Allocations serviced by the large allocator (Blocked or SingleAlloc).",
			nil, nil,
		),
		largeFrees: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "large_frees_total"),
			"Frees serviced by the large allocator.",
			nil, nil,
		),
		liveSlabs: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "live_slabs"),
			"Slabs currently owned by the slab manager, by type.",
			[]string{"type"}, nil,
		),
		sliceLive: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "small_slices_live"),
			"Outstanding small-allocator slices, by size class.",
			[]string{"size_class"}, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.bytesAllocated
	ch <- c.bytesFreed
	ch <- c.liveBytes
	ch <- c.smallAllocs
	ch <- c.smallFrees
	ch <- c.largeAllocs
	ch <- c.largeFrees
	ch <- c.liveSlabs
	ch <- c.sliceLive
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.counters

	ch <- prometheus.MustNewConstMetric(c.bytesAllocated, prometheus.CounterValue, float64(s.BytesAllocated.Load()))
	ch <- prometheus.MustNewConstMetric(c.bytesFreed, prometheus.CounterValue, float64(s.BytesFreed.Load()))
	ch <- prometheus.MustNewConstMetric(c.liveBytes, prometheus.GaugeValue, float64(s.LiveBytes()))
	ch <- prometheus.MustNewConstMetric(c.smallAllocs, prometheus.CounterValue, float64(s.SmallAllocs.Load()))
	ch <- prometheus.MustNewConstMetric(c.smallFrees, prometheus.CounterValue, float64(s.SmallFrees.Load()))
	ch <- prometheus.MustNewConstMetric(c.largeAllocs, prometheus.CounterValue, float64(s.LargeAllocs.Load()))
	ch <- prometheus.MustNewConstMetric(c.largeFrees, prometheus.CounterValue, float64(s.LargeFrees.Load()))

	ch <- prometheus.MustNewConstMetric(c.liveSlabs, prometheus.GaugeValue, float64(s.LiveSmallSlabs.Load()), "small")
	ch <- prometheus.MustNewConstMetric(c.liveSlabs, prometheus.GaugeValue, float64(s.LiveBlockedSlabs.Load()), "blocked")
	ch <- prometheus.MustNewConstMetric(c.liveSlabs, prometheus.GaugeValue, float64(s.LiveSingleSlabs.Load()), "single")

	for i, label := range sizeClassLabels {
		ch <- prometheus.MustNewConstMetric(c.sliceLive, prometheus.GaugeValue, float64(s.SliceLive[i].Load()), label)
	}
}

// statsSource is satisfied by *core.Core without importing internal/core,
// which would create an import cycle if core ever needed metrics types.
type statsSource interface {
	CounterSnapshot() *stats.Counters
}

// MustRegister registers src's counters with reg. It panics on a
// registration conflict, matching prometheus.MustRegister's own
// contract; callers that want graceful handling should construct a
// Collector directly and call reg.Register themselves.
func MustRegister(src statsSource, reg prometheus.Registerer) {
	reg.MustRegister(NewCollector(src.CounterSnapshot()))
}
