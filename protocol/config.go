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

package protocol

import (
	"time"

	"github.com/nabbar/goproxy/certs"
	"github.com/nabbar/goproxy/event"
	"github.com/nabbar/goproxy/plugin"
)

// DefaultIdleTimeout resolves OQ-2: no idle-timeout value was specified by
// the distilled spec, so an inactive connection is reaped after 30s.
const DefaultIdleTimeout = 30 * time.Second

// DefaultRateLimit is applied per direction per connection when the
// operator does not configure one explicitly (effectively unlimited at
// typical proxy throughput, refilled every tick).
const DefaultRateLimit = 64 << 20

// Config is the immutable set of dependencies and policy a Handler needs;
// one Config is shared by every connection's Handler.
type Config struct {
	// InterceptTLS turns CONNECT requests into a MITM TLS handshake
	// instead of an opaque relay.
	InterceptTLS bool

	// Certs issues and caches the leaf certificates used for
	// interception; required when InterceptTLS is true.
	Certs *certs.Store

	// Plugins builds the per-connection plugin chain.
	Plugins []plugin.Factory

	// Bus is the optional event queue; nil disables publication.
	Bus event.Bus

	// IdleTimeout is how long a Handler may sit with no I/O before the
	// executor reaps it.
	IdleTimeout time.Duration

	// RateLimit is the leaky-bucket rate (bytes/sec) applied separately
	// to the client->upstream and upstream->client directions.
	RateLimit int

	// DialTimeout bounds the background upstream connect.
	DialTimeout time.Duration
}

func (c Config) idleTimeout() time.Duration {
	if c.IdleTimeout <= 0 {
		return DefaultIdleTimeout
	}
	return c.IdleTimeout
}

func (c Config) rateLimit() int {
	if c.RateLimit <= 0 {
		return DefaultRateLimit
	}
	return c.RateLimit
}

func (c Config) dialTimeout() time.Duration {
	if c.DialTimeout <= 0 {
		return 10 * time.Second
	}
	return c.DialTimeout
}
