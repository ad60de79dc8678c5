package main

import (
	"github.com/grailbio/baindex"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// promSink folds shard metric deltas into the wrapped collector and mirrors
// the merged aggregates as prometheus metrics.  The counters include retried
// shard attempts and are diagnostic only, like the collector's sums.
type promSink struct {
	collector *baindex.MetricsCollector

	readsIndexed   prometheus.Counter
	noCoordReads   prometheus.Counter
	shardsStarted  prometheus.Counter
	shardsFinished prometheus.Counter
	shardTimeMax   prometheus.Gauge
	shardTimeMin   prometheus.Gauge
	shardReadsMax  prometheus.Gauge
	shardReadsMin  prometheus.Gauge
}

func newPromSink(collector *baindex.MetricsCollector) *promSink {
	return &promSink{
		collector: collector,
		readsIndexed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "baindex_reads_indexed_total",
			Help: "Records indexed across all shards, including retried attempts.",
		}),
		noCoordReads: promauto.NewCounter(prometheus.CounterOpts{
			Name: "baindex_no_coord_reads_total",
			Help: "No-coordinate records seen across all shards, including retried attempts.",
		}),
		shardsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "baindex_shards_started_total",
			Help: "Shard invocations started.",
		}),
		shardsFinished: promauto.NewCounter(prometheus.CounterOpts{
			Name: "baindex_shards_finished_total",
			Help: "Shard invocations finished successfully.",
		}),
		shardTimeMax: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "baindex_shard_seconds_max",
			Help: "Slowest finished shard, in seconds.",
		}),
		shardTimeMin: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "baindex_shard_seconds_min",
			Help: "Fastest finished shard, in seconds.",
		}),
		shardReadsMax: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "baindex_shard_reads_max",
			Help: "Most records indexed by one shard.",
		}),
		shardReadsMin: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "baindex_shard_reads_min",
			Help: "Fewest records indexed by one shard.",
		}),
	}
}

// Report implements baindex.MetricsSink.
func (s *promSink) Report(delta *baindex.Metrics) {
	s.collector.Report(delta)
	s.readsIndexed.Add(float64(delta.ReadsIndexed))
	s.noCoordReads.Add(float64(delta.NoCoordReads))
	s.shardsStarted.Add(float64(delta.ShardsStarted))
	s.shardsFinished.Add(float64(delta.ShardsFinished))

	m := s.collector.Snapshot()
	if m.ShardSeconds.N > 0 {
		s.shardTimeMax.Set(float64(m.ShardSeconds.Max))
		s.shardTimeMin.Set(float64(m.ShardSeconds.Min))
	}
	if m.ShardReads.N > 0 {
		s.shardReadsMax.Set(float64(m.ShardReads.Max))
		s.shardReadsMin.Set(float64(m.ShardReads.Min))
	}
}
