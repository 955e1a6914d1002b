/*
 * MIT License
 *
 * Copyright (c) 2020 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

package event

import (
	"github.com/prometheus/client_golang/prometheus"

	liberr "github.com/nabbar/goproxy/errors"
)

// Metrics is the optional --enable-metrics counter set; wrapping Bus.Publish
// keeps the counters accurate regardless of which Bus implementation is
// active.
type Metrics struct {
	published *prometheus.CounterVec
	dropped   prometheus.Counter
}

// NewMetrics registers the event counters against reg. Pass
// prometheus.DefaultRegisterer for the global registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "goproxy",
			Subsystem: "event",
			Name:      "published_total",
			Help:      "Total events published to the bus, by event name.",
		}, []string{"event_name"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "goproxy",
			Subsystem: "event",
			Name:      "publish_dropped_total",
			Help:      "Total publish attempts rejected by a full queue or a shut-down bus.",
		}),
	}
	reg.MustRegister(m.published, m.dropped)
	return m
}

// Wrap decorates a Bus so every Publish call increments the corresponding
// counter.
func (m *Metrics) Wrap(b Bus) Bus {
	return &meteredBus{Bus: b, metrics: m}
}

type meteredBus struct {
	Bus
	metrics *Metrics
}

func (b *meteredBus) Publish(requestID string, name Name, payload interface{}, publisherID string) liberr.Error {
	err := b.Bus.Publish(requestID, name, payload, publisherID)
	if err != nil {
		b.metrics.dropped.Inc()
		return err
	}
	b.metrics.published.WithLabelValues(string(name)).Inc()
	return nil
}
