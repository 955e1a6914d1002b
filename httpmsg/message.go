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

// Package httpmsg implements an incremental HTTP/1.x request/response
// parser: a byte-fed state machine that tolerates partial reads, tracks
// header and chunked/content-length body framing, and can reserialize a
// parsed message deterministically.
package httpmsg

import "strings"

// Kind tags a Message as a request or a response.
type Kind uint8

const (
	Request Kind = iota
	Response
)

// State is the parser's position in the per-message state machine
// described by the HTTP protocol handler.
type State uint8

const (
	Initialized State = iota
	LineRcvd
	HeadersComplete
	RcvingBody
	Complete
)

func (s State) String() string {
	switch s {
	case Initialized:
		return "INITIALIZED"
	case LineRcvd:
		return "LINE_RCVD"
	case HeadersComplete:
		return "HEADERS_COMPLETE"
	case RcvingBody:
		return "RCVING_BODY"
	case Complete:
		return "COMPLETE"
	default:
		return "UNKNOWN"
	}
}

// Header is a single (name, value) pair, stored verbatim in arrival order.
// Lookups are case-insensitive; storage is not.
type Header struct {
	Name  string
	Value string
}

// Message is a parsed (or in-progress) HTTP request or response.
type Message struct {
	Kind Kind

	Method string
	URL    string

	Version string

	Code   int
	Reason string

	Headers []Header
	Body    []byte

	Chunked   bool
	KeepAlive bool

	state State
}

// State returns the message's current parser state.
func (m *Message) State() State {
	if m == nil {
		return Initialized
	}
	return m.state
}

// HasHeader reports whether name is present, case-insensitively.
func (m *Message) HasHeader(name string) bool {
	_, ok := m.Header(name)
	return ok
}

// Header returns the first value stored under name, case-insensitively.
func (m *Message) Header(name string) (string, bool) {
	for _, h := range m.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value, true
		}
	}
	return "", false
}

// HeaderAll returns every value stored under name, case-insensitively, in
// arrival order — duplicate headers (e.g. repeated Set-Cookie) are
// preserved rather than collapsed.
func (m *Message) HeaderAll(name string) []string {
	var out []string
	for _, h := range m.Headers {
		if strings.EqualFold(h.Name, name) {
			out = append(out, h.Value)
		}
	}
	return out
}

// SetHeader replaces every existing occurrence of name with a single
// header carrying value, preserving the position of the first occurrence
// (or appending if name wasn't present). Used by plugins that rewrite
// headers in place.
func (m *Message) SetHeader(name, value string) {
	for i := range m.Headers {
		if strings.EqualFold(m.Headers[i].Name, name) {
			m.Headers[i].Value = value
			m.removeHeaderAfter(name, i)
			return
		}
	}
	m.Headers = append(m.Headers, Header{Name: name, Value: value})
}

func (m *Message) removeHeaderAfter(name string, keep int) {
	out := m.Headers[:keep+1]
	for i := keep + 1; i < len(m.Headers); i++ {
		if !strings.EqualFold(m.Headers[i].Name, name) {
			out = append(out, m.Headers[i])
		}
	}
	m.Headers = out
}

// AddHeader appends a new header without touching any existing occurrence
// of the same name.
func (m *Message) AddHeader(name, value string) {
	m.Headers = append(m.Headers, Header{Name: name, Value: value})
}

// DelHeader removes every occurrence of name, case-insensitively.
func (m *Message) DelHeader(name string) {
	out := m.Headers[:0]
	for _, h := range m.Headers {
		if !strings.EqualFold(h.Name, name) {
			out = append(out, h)
		}
	}
	m.Headers = out
}

// IsChunked reports whether Transfer-Encoding: chunked framing applies.
// Per this module's fixed resolution of the simultaneous
// Content-Length/Transfer-Encoding ambiguity, chunked always wins.
func (m *Message) IsChunked() bool {
	v, ok := m.Header("Transfer-Encoding")
	return ok && strings.Contains(strings.ToLower(v), "chunked")
}

// ContentLength returns the parsed Content-Length header value, or -1 if
// absent or invalid.
func (m *Message) ContentLength() int {
	v, ok := m.Header("Content-Length")
	if !ok || v == "" {
		return -1
	}
	n := 0
	for _, c := range v {
		if c < '0' || c > '9' {
			return -1
		}
		n = n*10 + int(c-'0')
	}
	return n
}

// IsGzip reports whether the message body is framed as gzip-encoded.
func (m *Message) IsGzip() bool {
	v, ok := m.Header("Content-Encoding")
	return ok && strings.EqualFold(strings.TrimSpace(v), "gzip")
}
