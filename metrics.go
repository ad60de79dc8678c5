// Copyright 2023 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package baindex

import "sync"

// Metrics is a delta or aggregate of the run-wide indexing counters.  Every
// field combines with a commutative, associative operation (sum, min, max),
// so deltas reported by parallel shard invocations merge to the same total
// in any order.
//
// The counters are diagnostic.  A shard that fails after reporting and is
// retried contributes to the sums twice; the authoritative no-coordinate
// total for the merged index is the summed side output of each shard's
// single successful completion, never ReadsIndexed/NoCoordReads here.
type Metrics struct {
	ReadsIndexed   int64
	NoCoordReads   int64
	ShardsStarted  int64
	ShardsFinished int64
	ShardSeconds   Extremum
	ShardReads     Extremum
}

// Extremum tracks the min and max of a series of samples.  The zero value is
// empty and acts as the identity under merge.
type Extremum struct {
	Min int64
	Max int64
	N   int64
}

func (e *Extremum) observe(v int64) {
	if e.N == 0 || v < e.Min {
		e.Min = v
	}
	if e.N == 0 || v > e.Max {
		e.Max = v
	}
	e.N++
}

func (e *Extremum) merge(other Extremum) {
	if other.N == 0 {
		return
	}
	if e.N == 0 {
		*e = other
		return
	}
	if other.Min < e.Min {
		e.Min = other.Min
	}
	if other.Max > e.Max {
		e.Max = other.Max
	}
	e.N += other.N
}

// Add merges other into m.
func (m *Metrics) Add(other *Metrics) {
	m.ReadsIndexed += other.ReadsIndexed
	m.NoCoordReads += other.NoCoordReads
	m.ShardsStarted += other.ShardsStarted
	m.ShardsFinished += other.ShardsFinished
	m.ShardSeconds.merge(other.ShardSeconds)
	m.ShardReads.merge(other.ShardReads)
}

// MetricsSink receives metric deltas from shard invocations.  The hosting
// framework owns the sink; implementations must fold deltas in with
// commutative, associative operations only, since shards report from many
// goroutines or workers in no particular order.
type MetricsSink interface {
	Report(delta *Metrics)
}

// MetricsCollector is an in-process MetricsSink that folds deltas into a
// running total under a mutex.
type MetricsCollector struct {
	mu    sync.Mutex
	total Metrics
}

// Report implements MetricsSink.
func (c *MetricsCollector) Report(delta *Metrics) {
	c.mu.Lock()
	c.total.Add(delta)
	c.mu.Unlock()
}

// Snapshot returns a copy of the merged totals.
func (c *MetricsCollector) Snapshot() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}
