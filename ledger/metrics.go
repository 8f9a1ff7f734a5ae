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

package ledger

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type stateMetrics struct {
	height              prometheus.Gauge
	blocksApplied       prometheus.Counter
	blocksRejected      prometheus.Counter
	transactionsApplied *prometheus.CounterVec
	phasingFinished     *prometheus.CounterVec
}

func (m *stateMetrics) init(promRegistry prometheus.Registerer) {
	promautoFactory := promauto.With(promRegistry)
	m.height = promautoFactory.NewGauge(prometheus.GaugeOpts{
		Name: "strata_ledger_height",
		Help: "height of the last applied parent block",
	})
	m.blocksApplied = promautoFactory.NewCounter(prometheus.CounterOpts{
		Name: "strata_ledger_blocks_applied_total",
		Help: "total parent blocks applied",
	})
	m.blocksRejected = promautoFactory.NewCounter(prometheus.CounterOpts{
		Name: "strata_ledger_blocks_rejected_total",
		Help: "total parent blocks that failed validation or application",
	})
	m.transactionsApplied = promautoFactory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strata_ledger_transactions_applied_total",
			Help: "confirmed transactions by chain",
		},
		[]string{"chain"},
	)
	m.phasingFinished = promautoFactory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strata_ledger_phasing_finished_total",
			Help: "phased transactions settled by result",
		},
		[]string{"result"},
	)
	m.height.Set(-1)
}
