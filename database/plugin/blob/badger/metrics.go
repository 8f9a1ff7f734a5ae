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

package badger

import "github.com/prometheus/client_golang/prometheus"

const badgerMetricNamePrefix = "strata_blob_"

type blobMetrics struct {
	readBytes  prometheus.Counter
	writeBytes prometheus.Counter
}

func (d *BlobStoreBadger) registerBlobMetrics() *blobMetrics {
	m := &blobMetrics{
		readBytes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: badgerMetricNamePrefix + "read_bytes_total",
				Help: "Total bytes read from the blob store",
			},
		),
		writeBytes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: badgerMetricNamePrefix + "write_bytes_total",
				Help: "Total bytes written to the blob store",
			},
		),
	}
	lsmSize := prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: badgerMetricNamePrefix + "lsm_bytes",
			Help: "Size of the badger LSM tree",
		},
		func() float64 {
			lsm, _ := d.db.Size()
			return float64(lsm)
		},
	)
	vlogSize := prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: badgerMetricNamePrefix + "vlog_bytes",
			Help: "Size of the badger value log",
		},
		func() float64 {
			_, vlog := d.db.Size()
			return float64(vlog)
		},
	)
	d.promRegistry.MustRegister(m.readBytes, m.writeBytes, lsmSize, vlogSize)
	return m
}

func (m *blobMetrics) read(n int) {
	if m != nil {
		m.readBytes.Add(float64(n))
	}
}

func (m *blobMetrics) write(n int) {
	if m != nil {
		m.writeBytes.Add(float64(n))
	}
}
