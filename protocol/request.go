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
	"strings"

	"github.com/nabbar/goproxy/event"
	"github.com/nabbar/goproxy/httpmsg"
	"github.com/nabbar/goproxy/plugin"
)

// onReadingRequest drives both READING_REQUEST and MITM_READING_INNER: the
// inner plaintext restarts the exact same request state machine once the
// client-side TLS handshake completes.
func (h *Handler) onReadingRequest(ready bool) bool {
	if !ready {
		return false
	}

	buf := make([]byte, 8192)
	n, err := gatedRead(h.client, h.c2uBucket, buf)
	if err != nil {
		return true
	}
	if n == 0 {
		return false
	}

	raw, verdict := h.chain.HandleClientData(buf[:n])
	if verdict != plugin.VerdictContinue {
		return true
	}

	if perr := h.reqParser.Feed(raw); perr != nil {
		h.respondSynthetic(syntheticResponse(400, "Bad Request"))
		return false
	}

	msg := h.reqParser.Message()

	// Feed always runs the state machine to its current fixed point before
	// returning, so a single Feed call can cross HeadersComplete and land
	// on Complete (or beyond) in one step; State() never regresses, so
	// checking ">=" here plus a one-shot flag catches that transition
	// instead of requiring Feed to pause exactly at HeadersComplete.
	if msg.State() >= httpmsg.HeadersComplete && !h.reqHeadersNotified {
		h.reqHeadersNotified = true

		m, v := h.chain.BeforeUpstreamConnection(msg)
		switch v {
		case plugin.VerdictDrop:
			return true
		case plugin.VerdictRespond:
			h.respondSynthetic(m)
			return false
		}
	}

	if msg.State() == httpmsg.Complete {
		m, v := h.chain.HandleClientRequest(msg)
		switch v {
		case plugin.VerdictDrop:
			return true
		case plugin.VerdictRespond:
			h.respondSynthetic(m)
			return false
		}
		h.publish(event.RequestComplete, nil)
		h.beginRequestDispatch(m)
	}

	return false
}

// beginRequestDispatch decides CONNECT-vs-plain and kicks off the upstream
// connection (fresh dial, or immediate reuse of a keep-alive upstream).
func (h *Handler) beginRequestDispatch(req *httpmsg.Message) {
	h.requestForUpstream = req

	if strings.EqualFold(req.Method, "CONNECT") {
		h.isConnect = true
		h.connectHost = req.URL
		h.dialAsync(h.connectHost)
		return
	}

	host := upstreamHostFromRequest(req)
	if host == "" {
		h.respondSynthetic(syntheticResponse(400, "Bad Request"))
		return
	}

	if h.upstream != nil && h.keepAlive && h.connectHost == host {
		h.c2uBuf = req.Build()
		h.c2uOff = 0
		h.respParser = httpmsg.NewParser(httpmsg.Response)
		h.structured = true
		h.state = Relaying
		return
	}

	if h.upstream != nil {
		_ = h.upstream.Close()
		h.upstream = nil
	}
	h.connectHost = host
	h.dialAsync(host)
}

// respondSynthetic queues a synthetic response (plugin-supplied or
// engine-generated) for delivery to the client and closes afterward, per
// the "synthetic response: state jumps to WRITING_RESPONSE" rule.
func (h *Handler) respondSynthetic(resp *httpmsg.Message) {
	h.lastResponse = resp
	h.pendingResponse = resp.Build()
	h.writeOff = 0
	h.afterWrite = Closing
	h.state = WritingResponse
}
