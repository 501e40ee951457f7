// Package metrics provides optional Prometheus instrumentation for dag and
// pra. A nil *Set disables collection entirely — every call site in dag and
// pra guards on it with a single nil check, so an uninstrumented Guard or
// Allocator pays nothing beyond that check.
//
// The metric naming convention (Namespace/Subsystem/Name, one Counter per
// lifecycle event, one Gauge per watermark) is grounded on
// buildbarn/bb-storage's partitioningBlockAllocator instrumentation, which
// wires Prometheus straight into an allocator/storage primitive the same
// way this package does.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "duraguard"

// Set bundles the collectors for one dag.Guard.
type Set struct {
	DurableLength prometheus.Gauge
	StagedLength  prometheus.Gauge
	PendingBlocks prometheus.Gauge
	FlushesTotal  prometheus.Counter
}

// NewSet constructs a Set. label distinguishes multiple guards registered
// against the same Prometheus registry (e.g. the guarded file's path).
func NewSet(label string) *Set {
	constLabels := prometheus.Labels{"guard": label}
	return &Set{
		DurableLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "dag",
			Name:        "durable_length_bytes",
			Help:        "Bytes of the target file confirmed durable by fdatasync.",
			ConstLabels: constLabels,
		}),
		StagedLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "dag",
			Name:        "staged_length_bytes",
			Help:        "Bytes currently mirrored in the staging ring but not yet confirmed durable.",
			ConstLabels: constLabels,
		}),
		PendingBlocks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "dag",
			Name:        "pending_flush_blocks",
			Help:        "BLOCK-sized chunks covered by the in-flight flush, 0 when idle.",
			ConstLabels: constLabels,
		}),
		FlushesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "dag",
			Name:        "flushes_total",
			Help:        "Number of fdatasync flush cycles completed.",
			ConstLabels: constLabels,
		}),
	}
}

// Collectors returns every metric in the Set for bulk registration, e.g.
// prometheus.MustRegister(set.Collectors()...).
func (s *Set) Collectors() []prometheus.Collector {
	return []prometheus.Collector{s.DurableLength, s.StagedLength, s.PendingBlocks, s.FlushesTotal}
}

// AllocatorSet bundles the collectors for one pra.Allocator.
type AllocatorSet struct {
	PagesTouched prometheus.Gauge
	SlotsFilled  prometheus.Counter
	SlotsFreed   prometheus.Counter
}

// NewAllocatorSet constructs an AllocatorSet for the allocator instance
// identified by label.
func NewAllocatorSet(label string) *AllocatorSet {
	constLabels := prometheus.Labels{"allocator": label}
	return &AllocatorSet{
		PagesTouched: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "pra",
			Name:        "pages_touched",
			Help:        "Number of pages with a live size-class descriptor.",
			ConstLabels: constLabels,
		}),
		SlotsFilled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "pra",
			Name:        "slots_filled_total",
			Help:        "Number of slots allocated from the backing allocator during Finish.",
			ConstLabels: constLabels,
		}),
		SlotsFreed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "pra",
			Name:        "slots_freed_total",
			Help:        "Number of slots freed back during Finish.",
			ConstLabels: constLabels,
		}),
	}
}

// Collectors returns every metric in the AllocatorSet for bulk registration.
func (s *AllocatorSet) Collectors() []prometheus.Collector {
	return []prometheus.Collector{s.PagesTouched, s.SlotsFilled, s.SlotsFreed}
}
