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
	"github.com/nabbar/goproxy/event"
	"github.com/nabbar/goproxy/httpmsg"
	"github.com/nabbar/goproxy/plugin"
)

// onRelaying dispatches to the opaque byte-shuttle (plain CONNECT tunnel,
// no interception) or the structured request/response relay, depending on
// h.structured.
func (h *Handler) onRelaying(rs, ws map[int]bool) bool {
	if !h.structured {
		return h.relayOpaque(rs, ws)
	}
	return h.relayStructured(rs, ws)
}

// relayOpaque shuttles raw bytes in both directions with no parsing, the
// un-intercepted CONNECT tunnel case.
func (h *Handler) relayOpaque(rs, ws map[int]bool) bool {
	if rs[h.clientFd] && len(h.c2uBuf)-h.c2uOff == 0 {
		buf := make([]byte, 8192)
		n, err := gatedRead(h.client, h.c2uBucket, buf)
		if err != nil {
			return true
		}
		if n > 0 {
			h.c2uBuf = buf[:n]
			h.c2uOff = 0
		}
	}
	if ws[h.upstreamFd] && len(h.c2uBuf)-h.c2uOff > 0 {
		n, err := gatedWrite(h.upstream, h.c2uBucket, h.c2uBuf[h.c2uOff:])
		if err != nil {
			return true
		}
		h.c2uOff += n
		if h.c2uOff == len(h.c2uBuf) {
			h.c2uBuf, h.c2uOff = nil, 0
		}
	}

	if rs[h.upstreamFd] && len(h.u2cBuf)-h.u2cOff == 0 {
		buf := make([]byte, 8192)
		n, err := gatedRead(h.upstream, h.u2cBucket, buf)
		if err != nil {
			return true
		}
		if n > 0 {
			h.u2cBuf = buf[:n]
			h.u2cOff = 0
		}
	}
	if ws[h.clientFd] && len(h.u2cBuf)-h.u2cOff > 0 {
		n, err := gatedWrite(h.client, h.u2cBucket, h.u2cBuf[h.u2cOff:])
		if err != nil {
			return true
		}
		h.u2cOff += n
		if h.u2cOff == len(h.u2cBuf) {
			h.u2cBuf, h.u2cOff = nil, 0
		}
	}

	return false
}

// relayStructured writes the already-built request to upstream, then
// incrementally parses the response, firing the per-chunk and
// headers/complete hooks as framing allows, flushing to the client as it
// goes.
func (h *Handler) relayStructured(rs, ws map[int]bool) bool {
	if ws[h.upstreamFd] && len(h.c2uBuf)-h.c2uOff > 0 {
		n, err := gatedWrite(h.upstream, h.c2uBucket, h.c2uBuf[h.c2uOff:])
		if err != nil {
			return true
		}
		h.c2uOff += n
	}

	if rs[h.upstreamFd] && len(h.c2uBuf)-h.c2uOff == 0 {
		buf := make([]byte, 8192)
		n, err := gatedRead(h.upstream, h.u2cBucket, buf)
		if err != nil {
			return true
		}
		if n > 0 {
			if perr := h.respParser.Feed(buf[:n]); perr != nil {
				return true
			}
			h.onResponseProgress()
		}
	}

	if ws[h.clientFd] && len(h.u2cBuf)-h.u2cOff > 0 {
		n, err := gatedWrite(h.client, h.u2cBucket, h.u2cBuf[h.u2cOff:])
		if err != nil {
			return true
		}
		h.u2cOff += n
		if h.u2cOff == len(h.u2cBuf) {
			h.u2cBuf, h.u2cOff = nil, 0
		}
	}

	resp := h.respParser.Message()
	if resp.State() == httpmsg.Complete && len(h.u2cBuf)-h.u2cOff == 0 {
		return h.finishResponse(resp)
	}

	return false
}

// onResponseProgress fires OnResponseHeadersComplete once headers land, and
// feeds every newly-arrived body byte through HandleUpstreamChunk before
// queuing it for delivery to the client.
func (h *Handler) onResponseProgress() {
	resp := h.respParser.Message()

	if resp.State() >= httpmsg.HeadersComplete && h.respBodyAt == 0 && !h.headersNotified {
		h.chain.OnResponseHeadersComplete(resp)
		h.publish(event.ResponseHeadersComplete, nil)
		h.headersNotified = true
	}

	if len(resp.Body) > h.respBodyAt {
		chunk := resp.Body[h.respBodyAt:]
		h.respBodyAt = len(resp.Body)

		chunk = h.chain.HandleUpstreamChunk(chunk)
		h.chain.OnResponseChunk(chunk)

		h.u2cBuf = append(h.u2cBuf[h.u2cOff:], chunk...)
		h.u2cOff = 0
	}
}

// finishResponse runs the completion hooks, decides keep-alive, and either
// resets for the next request on the same connection or tears it down.
func (h *Handler) finishResponse(resp *httpmsg.Message) bool {
	h.chain.OnResponseComplete()
	h.publish(event.ResponseComplete, nil)
	h.chain.OnAccessLog(plugin.AccessLog{
		ClientAddr: h.peerString(),
		Request:    h.requestForUpstream,
		Response:   resp,
	})

	h.keepAlive = decideKeepAlive(h.requestForUpstream, resp)
	h.lastResponse = resp
	h.headersNotified = false
	h.respBodyAt = 0

	if !h.keepAlive {
		return true
	}

	h.reqParser = httpmsg.NewParser(httpmsg.Request)
	h.reqHeadersNotified = false
	h.structured = false
	h.c2uBuf, h.c2uOff = nil, 0
	h.state = ReadingRequest
	return false
}

func (h *Handler) peerString() string {
	if h.peer == nil {
		return ""
	}
	return h.peer.String()
}

// onWritingResponse flushes h.pendingResponse starting at h.writeOff, then
// transitions to h.afterWrite (Relaying for a CONNECT 200, Closing for a
// synthetic error response).
func (h *Handler) onWritingResponse(ready bool) bool {
	if !ready {
		return false
	}

	n, err := gatedWrite(h.client, h.u2cBucket, h.pendingResponse[h.writeOff:])
	if err != nil {
		return true
	}
	h.writeOff += n

	if h.writeOff < len(h.pendingResponse) {
		return false
	}

	h.pendingResponse, h.writeOff = nil, 0

	if h.afterWrite == Closing {
		return true
	}

	h.state = h.afterWrite
	return false
}
