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

package plugin

import (
	liberr "github.com/nabbar/goproxy/errors"
	"github.com/nabbar/goproxy/httpmsg"
	liblog "github.com/nabbar/goproxy/logger"
)

// Chain holds one connection's plugin instances, constructed fresh from the
// configured factories, invoked in configured order.
type Chain struct {
	plugins     []Plugin
	initialized []Plugin
}

// NewChain constructs one Plugin per factory, in order. Construction alone
// does not call Initialize; use Initialize for that (failures there still
// leave successfully-initialized plugins reachable for close-out).
func NewChain(factories []Factory) *Chain {
	c := &Chain{plugins: make([]Plugin, 0, len(factories))}
	for _, f := range factories {
		c.plugins = append(c.plugins, f())
	}
	return c
}

// Initialize calls Initialize on every plugin in order, tracking which ones
// succeeded so OnClientConnectionClose is only guaranteed for those.
func (c *Chain) Initialize() liberr.Error {
	for _, p := range c.plugins {
		if err := p.Initialize(); err != nil {
			liblog.WarnLevel.Logf("plugin initialize failed: %v", err)
			continue
		}
		c.initialized = append(c.initialized, p)
	}
	return nil
}

// BeforeUpstreamConnection runs the hook across the chain in order; the
// first plugin to return a non-Continue verdict short-circuits the rest.
func (c *Chain) BeforeUpstreamConnection(req *httpmsg.Message) (*httpmsg.Message, Verdict) {
	for _, p := range c.initialized {
		m, v := p.BeforeUpstreamConnection(req)
		if v != VerdictContinue {
			return m, v
		}
		req = m
	}
	return req, VerdictContinue
}

// HandleClientRequest is the analogous short-circuiting dispatch for the
// completed-request hook.
func (c *Chain) HandleClientRequest(req *httpmsg.Message) (*httpmsg.Message, Verdict) {
	for _, p := range c.initialized {
		m, v := p.HandleClientRequest(req)
		if v != VerdictContinue {
			return m, v
		}
		req = m
	}
	return req, VerdictContinue
}

// HandleClientData is the short-circuiting dispatch for raw client bytes.
func (c *Chain) HandleClientData(raw []byte) ([]byte, Verdict) {
	for _, p := range c.initialized {
		b, v := p.HandleClientData(raw)
		if v != VerdictContinue {
			return b, v
		}
		raw = b
	}
	return raw, VerdictContinue
}

// HandleUpstreamChunk has no short-circuit; every plugin gets to transform
// the chunk in turn.
func (c *Chain) HandleUpstreamChunk(chunk []byte) []byte {
	for _, p := range c.initialized {
		chunk = p.HandleUpstreamChunk(chunk)
	}
	return chunk
}

// OnResponseHeadersComplete notifies every initialized plugin; no
// short-circuit, no mutation.
func (c *Chain) OnResponseHeadersComplete(resp *httpmsg.Message) {
	for _, p := range c.initialized {
		p.OnResponseHeadersComplete(resp)
	}
}

func (c *Chain) OnResponseChunk(chunk []byte) {
	for _, p := range c.initialized {
		p.OnResponseChunk(chunk)
	}
}

func (c *Chain) OnResponseComplete() {
	for _, p := range c.initialized {
		p.OnResponseComplete()
	}
}

func (c *Chain) OnAccessLog(ctx AccessLog) {
	for _, p := range c.initialized {
		p.OnAccessLog(ctx)
	}
}

// OnClientConnectionClose is guaranteed to run once for every plugin that
// was successfully initialized, regardless of where the connection's state
// machine short-circuited.
func (c *Chain) OnClientConnectionClose() {
	for _, p := range c.initialized {
		p.OnClientConnectionClose()
	}
}

// Descriptors collects the extra fds every plugin wants polled.
func (c *Chain) Descriptors() []int {
	var out []int
	for _, p := range c.initialized {
		out = append(out, p.GetDescriptors()...)
	}
	return out
}

// WriteToDescriptors notifies every plugin of which of its own descriptors
// came back writable; the first error stops dispatch to the rest of the
// chain.
func (c *Chain) WriteToDescriptors(writables []int) liberr.Error {
	for _, p := range c.initialized {
		if err := p.WriteToDescriptors(writables); err != nil {
			return err
		}
	}
	return nil
}

// ReadFromDescriptors is the read-side analogue of WriteToDescriptors.
func (c *Chain) ReadFromDescriptors(readables []int) liberr.Error {
	for _, p := range c.initialized {
		if err := p.ReadFromDescriptors(readables); err != nil {
			return err
		}
	}
	return nil
}
