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

// Package plugin defines the capability set every proxy plugin implements
// and the ordered, short-circuiting chain that dispatches hooks to them.
package plugin

import (
	liberr "github.com/nabbar/goproxy/errors"
	"github.com/nabbar/goproxy/httpmsg"
)

// Verdict is what a hook decided to do with the message it was handed.
type Verdict uint8

const (
	// VerdictContinue passes the (possibly mutated) message on to the
	// next plugin / the engine.
	VerdictContinue Verdict = iota

	// VerdictRespond short-circuits with a synthetic response; the
	// engine jumps straight to writing it to the client.
	VerdictRespond

	// VerdictDrop short-circuits by closing the connection without a
	// response.
	VerdictDrop
)

// AccessLog is the context handed to OnAccessLog: one completed
// request/response cycle.
type AccessLog struct {
	ClientAddr string
	Request    *httpmsg.Message
	Response   *httpmsg.Message
}

// Plugin is the fixed capability set; every method is optional to override
// dispatch-by-presence is implemented by embedding Base, whose defaults are
// all no-ops / pass-through.
type Plugin interface {
	Initialize() liberr.Error

	// GetDescriptors returns extra fds the plugin wants the executor to
	// poll on its behalf.
	GetDescriptors() []int
	WriteToDescriptors(writables []int) liberr.Error
	ReadFromDescriptors(readables []int) liberr.Error

	BeforeUpstreamConnection(req *httpmsg.Message) (*httpmsg.Message, Verdict)
	HandleClientRequest(req *httpmsg.Message) (*httpmsg.Message, Verdict)
	HandleClientData(raw []byte) ([]byte, Verdict)
	HandleUpstreamChunk(chunk []byte) []byte

	OnResponseHeadersComplete(resp *httpmsg.Message)
	OnResponseChunk(chunk []byte)
	OnResponseComplete()

	OnAccessLog(ctx AccessLog)
	OnClientConnectionClose()
}

// Base is embedded by concrete plugins so they only need to override the
// hooks they care about.
type Base struct{}

func (Base) Initialize() liberr.Error                { return nil }
func (Base) GetDescriptors() []int                   { return nil }
func (Base) WriteToDescriptors(_ []int) liberr.Error  { return nil }
func (Base) ReadFromDescriptors(_ []int) liberr.Error { return nil }

func (Base) BeforeUpstreamConnection(req *httpmsg.Message) (*httpmsg.Message, Verdict) {
	return req, VerdictContinue
}

func (Base) HandleClientRequest(req *httpmsg.Message) (*httpmsg.Message, Verdict) {
	return req, VerdictContinue
}

func (Base) HandleClientData(raw []byte) ([]byte, Verdict) {
	return raw, VerdictContinue
}

func (Base) HandleUpstreamChunk(chunk []byte) []byte {
	return chunk
}

func (Base) OnResponseHeadersComplete(_ *httpmsg.Message) {}
func (Base) OnResponseChunk(_ []byte)                     {}
func (Base) OnResponseComplete()                          {}
func (Base) OnAccessLog(_ AccessLog)                      {}
func (Base) OnClientConnectionClose()                     {}

// Factory builds a fresh plugin instance per connection, per the
// "constructed fresh per connection" contract.
type Factory func() Plugin
