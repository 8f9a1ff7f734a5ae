// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package bundler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type bundlerMetrics struct {
	active        prometheus.Gauge
	passes        prometheus.Counter
	bundles       *prometheus.CounterVec
	committedFees *prometheus.CounterVec
	skipped       *prometheus.CounterVec
}

func newBundlerMetrics(promRegistry prometheus.Registerer) *bundlerMetrics {
	promautoFactory := promauto.With(promRegistry)
	return &bundlerMetrics{
		active: promautoFactory.NewGauge(prometheus.GaugeOpts{
			Name: "strata_bundler_active",
			Help: "running bundlers",
		}),
		passes: promautoFactory.NewCounter(prometheus.CounterOpts{
			Name: "strata_bundler_passes_total",
			Help: "total bundling passes",
		}),
		bundles: promautoFactory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "strata_bundler_child_blocks_total",
				Help: "child block transactions broadcast by chain",
			},
			[]string{"chain"},
		),
		committedFees: promautoFactory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "strata_bundler_committed_fees_total",
				Help: "parent chain fees committed by chain",
			},
			[]string{"chain"},
		),
		skipped: promautoFactory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "strata_bundler_skipped_total",
				Help: "transactions or batches skipped by reason",
			},
			[]string{"reason"},
		),
	}
}
