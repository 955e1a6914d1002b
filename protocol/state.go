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

// Package protocol implements the central HTTP protocol handler Work: the
// per-connection state machine that drives request parsing, plugin
// dispatch, optional TLS interception, upstream relaying and response
// writing.
package protocol

// State is a connection's position in the protocol state machine.
type State uint8

const (
	ReadingRequest State = iota
	UpstreamConnecting
	TLSHandshake
	MITMReadingInner
	Relaying
	WritingResponse
	Closing
)

func (s State) String() string {
	switch s {
	case ReadingRequest:
		return "READING_REQUEST"
	case UpstreamConnecting:
		return "UPSTREAM_CONNECTING"
	case TLSHandshake:
		return "TLS_HANDSHAKE"
	case MITMReadingInner:
		return "MITM_READING_INNER"
	case Relaying:
		return "RELAYING"
	case WritingResponse:
		return "WRITING_RESPONSE"
	case Closing:
		return "CLOSING"
	}
	return "UNKNOWN"
}
