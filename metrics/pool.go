// Copyright 2021 The httpcall Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/gogama/httpcall/conn"
)

// A StatsSource reports connection pool counters. *conn.Pool is one.
type StatsSource interface {
	Stats() conn.Stats
}

type poolCollector struct {
	src       StatsSource
	dialed    *prometheus.Desc
	reused    *prometheus.Desc
	released  *prometheus.Desc
	discarded *prometheus.Desc
	idle      *prometheus.Desc
}

// NewPoolCollector returns a collector reading src on every scrape.
// The pool label of each metric is set to name.
func NewPoolCollector(namespace, name string, src StatsSource) prometheus.Collector {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	labels := prometheus.Labels{"pool": name}
	desc := func(metric, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "pool", metric), help, nil, labels)
	}
	return &poolCollector{
		src:       src,
		dialed:    desc("connections_dialed_total", "Total number of connections dialed"),
		reused:    desc("connections_reused_total", "Total number of idle connections handed out again"),
		released:  desc("connections_released_total", "Total number of connections returned to the pool"),
		discarded: desc("connections_discarded_total", "Total number of connections closed instead of kept"),
		idle:      desc("connections_idle", "Number of idle connections currently kept"),
	}
}

func (c *poolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.dialed
	ch <- c.reused
	ch <- c.released
	ch <- c.discarded
	ch <- c.idle
}

func (c *poolCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.src.Stats()
	ch <- prometheus.MustNewConstMetric(c.dialed, prometheus.CounterValue, float64(s.Dialed))
	ch <- prometheus.MustNewConstMetric(c.reused, prometheus.CounterValue, float64(s.Reused))
	ch <- prometheus.MustNewConstMetric(c.released, prometheus.CounterValue, float64(s.Released))
	ch <- prometheus.MustNewConstMetric(c.discarded, prometheus.CounterValue, float64(s.Discarded))
	ch <- prometheus.MustNewConstMetric(c.idle, prometheus.GaugeValue, float64(s.Idle))
}
