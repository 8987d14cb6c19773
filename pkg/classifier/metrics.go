// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package classifier

import (
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/gomlx/sonograph/pkg/support/errkinds"
)

// Metrics collects classification counters and latencies.
//
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	inferences *prometheus.CounterVec
	failures   *prometheus.CounterVec
	latency    prometheus.Histogram
}

// NewMetrics creates the classification metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		inferences: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sonograph",
			Name:      "inferences_total",
			Help:      "Number of successful classifications, by predicted class.",
		}, []string{"class"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sonograph",
			Name:      "inference_failures_total",
			Help:      "Number of failed classifications, by kind of error.",
		}, []string{"kind"}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "sonograph",
			Name:      "inference_seconds",
			Help:      "Time to classify one image, from the grayscale grid to the class probabilities.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
	}
	for _, c := range []prometheus.Collector{m.inferences, m.failures, m.latency} {
		if err := reg.Register(c); err != nil {
			return nil, errors.Wrap(err, "failed to register classification metrics")
		}
	}
	return m, nil
}

func (m *Metrics) observeSuccess(class string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.inferences.WithLabelValues(class).Inc()
	m.latency.Observe(elapsed.Seconds())
}

func (m *Metrics) observeFailure(err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(errkinds.Name(err)).Inc()
	m.latency.Observe(elapsed.Seconds())
}
